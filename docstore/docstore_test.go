package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"caesium/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// setupTestDB connects to a local MongoDB instance and returns a database
// with a cleanup function. Tests are skipped when no instance is reachable.
func setupTestDB(t *testing.T) (*mongo.Database, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err, "Failed to create MongoDB client")

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		t.Skipf("Skipping MongoDB test: %v", err)
		return nil, nil
	}

	dbName := "test_docstore_" + primitive.NewObjectID().Hex()
	db := client.Database(dbName)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	}

	return db, cleanup
}

func TestCollectionCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	coll := NewCollection(db, "things")

	// Create
	id, err := coll.Insert(ctx, Document{"name": "widget", "count": int64(1)})
	require.NoError(t, err, "Failed to insert document")
	require.Len(t, id, 24, "Insert should return a hex id")

	// Read
	doc, err := coll.FindByID(ctx, id)
	require.NoError(t, err, "Failed to find document")
	assert.Equal(t, id, doc["id"], "Document should carry its id in boundary form")
	assert.NotContains(t, doc, "_id")
	assert.Equal(t, "widget", doc["name"])

	// Replace
	res, err := coll.Update(ctx, id, Document{"name": "gadget"}, false)
	require.NoError(t, err, "Failed to update document")
	assert.Equal(t, int64(1), res.Matched)

	doc, err = coll.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "gadget", doc["name"])
	assert.NotContains(t, doc, "count", "Replace should drop fields absent from the new document")

	// Patch
	_, err = coll.Patch(ctx, id, Document{"count": int64(5)})
	require.NoError(t, err, "Failed to patch document")

	doc, err = coll.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "gadget", doc["name"], "Patch should keep unrelated fields")
	assert.Equal(t, int64(5), doc["count"])

	// Delete
	n, err := coll.Delete(ctx, id)
	require.NoError(t, err, "Failed to delete document")
	assert.Equal(t, int64(1), n)

	_, err = coll.FindByID(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound), "Expected ErrNotFound, got %v", err)
}

func TestCollectionMalformedID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	coll := NewCollection(db, "things")

	_, err := coll.FindByID(context.Background(), "short")
	assert.True(t, errors.Is(err, ErrMalformedID), "Expected ErrMalformedID, got %v", err)
}

func TestCollectionInsertAdoptsID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	coll := NewCollection(db, "things")

	want := primitive.NewObjectID().Hex()
	got, err := coll.Insert(ctx, Document{"id": want, "name": "keyed"})
	require.NoError(t, err)
	assert.Equal(t, want, got, "Insert should adopt the supplied identity")

	doc, err := coll.FindByID(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, "keyed", doc["name"])
}

func TestCollectionFindOrderingAndPaging(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	coll := NewCollection(db, "ordered")

	// Equal sort keys, so the _id tie-break decides the order.
	var ids []string
	for i := 0; i < 5; i++ {
		rank := int64(1)
		if i >= 3 {
			rank = 2
		}
		id, err := coll.Insert(ctx, Document{"rank": rank, "seq": int64(i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	docs, err := coll.Find(ctx, nil, "rank", 1, 0, 0)
	require.NoError(t, err, "Failed to query documents")
	require.Len(t, docs, 5)
	for i, doc := range docs {
		assert.Equal(t, ids[i], doc["id"], "Equal keys should come back in insertion order")
	}

	// Paging: page 1 with limit 2 skips the first two.
	page, err := coll.Find(ctx, nil, "rank", 1, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0]["id"])
	assert.Equal(t, ids[3], page[1]["id"])
}

func TestCollectionBulkSet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	coll := NewCollection(db, "bulk")

	var ids []interface{}
	for i := 0; i < 3; i++ {
		id, err := coll.Insert(ctx, Document{"seq": int64(i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	n, err := coll.BulkSet(ctx,
		Document{"id": bson.M{"$in": ids}},
		Document{"claimed": true})
	require.NoError(t, err, "Failed to bulk update")
	assert.Equal(t, int64(3), n)

	docs, err := coll.Find(ctx, Document{"claimed": true}, "", 1, 0, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestCollectionInsertIfAbsent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	coll := NewCollection(db, "guards")

	filter := Document{"master_id": primitive.NewObjectID().Hex()}
	doc := Document{"master_id": filter["master_id"], "state": "initial"}

	first, created, err := coll.InsertIfAbsent(ctx, filter, doc)
	require.NoError(t, err, "Failed first insert-if-absent")
	assert.True(t, created, "First call should insert")
	assert.Equal(t, "initial", first["state"])

	second, created, err := coll.InsertIfAbsent(ctx, filter, Document{"master_id": filter["master_id"], "state": "other"})
	require.NoError(t, err, "Failed second insert-if-absent")
	assert.False(t, created, "Second call should find the existing document")
	assert.Equal(t, first["id"], second["id"], "Both calls should resolve to the same document")
	assert.Equal(t, "initial", second["state"], "The existing document should win")
}

// failingValidator rejects every document.
type failingValidator struct{}

func (failingValidator) Validate(doc Document) error {
	return errors.New("schema says no")
}

func TestCollectionValidator(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	coll := NewCollection(db, "validated", WithValidator(failingValidator{}))

	_, err := coll.Insert(ctx, Document{"name": "nope"})
	require.Error(t, err, "Insert should be rejected by the validator")

	docs, err := coll.Find(ctx, nil, "", 1, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, docs, "A rejected document must not be persisted")
}

func TestCollectionCache(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	memCache := cache.NewMemoryCache[Document](nil)
	defer memCache.Close()

	coll := NewCollection(db, "cached", WithCache(memCache, time.Minute))

	id, err := coll.Insert(ctx, Document{"name": "hot"})
	require.NoError(t, err)

	// Prime the cache.
	_, err = coll.FindByID(ctx, id)
	require.NoError(t, err)

	cached, err := memCache.Get(ctx, "cached:"+id)
	require.NoError(t, err, "Read should populate the cache")
	assert.Equal(t, "hot", cached["name"])

	// A write invalidates it.
	_, err = coll.Patch(ctx, id, Document{"name": "stale"})
	require.NoError(t, err)

	_, err = memCache.Get(ctx, "cached:"+id)
	assert.True(t, errors.Is(err, cache.ErrCacheMiss), "Write should invalidate the cached copy")
}
