package docstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestToStorable(t *testing.T) {
	t.Run("AdoptsBoundaryID", func(t *testing.T) {
		oid := primitive.NewObjectID()
		doc := Document{"id": oid.Hex(), "name": "test"}

		storable, err := toStorable(doc)
		require.NoError(t, err, "Failed to convert document")

		assert.Equal(t, oid, storable["_id"], "Boundary id should become the native identifier")
		assert.NotContains(t, storable, "id", "Boundary id key should be dropped")
		assert.Equal(t, "test", storable["name"])

		// The input document is left untouched.
		assert.Contains(t, doc, "id")
		assert.NotContains(t, doc, "_id")
	})

	t.Run("CoercesStringNativeID", func(t *testing.T) {
		oid := primitive.NewObjectID()
		storable, err := toStorable(Document{"_id": oid.Hex()})
		require.NoError(t, err)
		assert.Equal(t, oid, storable["_id"])
	})

	t.Run("MalformedID", func(t *testing.T) {
		_, err := toStorable(Document{"id": "not-a-hex-id"})
		assert.True(t, errors.Is(err, ErrMalformedID), "Expected ErrMalformedID, got %v", err)
	})

	t.Run("NonStringID", func(t *testing.T) {
		_, err := toStorable(Document{"id": 42})
		assert.True(t, errors.Is(err, ErrMalformedID), "Expected ErrMalformedID, got %v", err)
	})
}

func TestFromStored(t *testing.T) {
	oid := primitive.NewObjectID()
	childOID := primitive.NewObjectID()
	now := time.Now().Truncate(time.Second)

	doc := fromStored(bson.M{
		"_id":     oid,
		"created": primitive.NewDateTimeFromTime(now),
		"ts":      primitive.Timestamp{T: 1700000000, I: 3},
		"nested": bson.M{
			"ref":  childOID,
			"when": primitive.NewDateTimeFromTime(now),
		},
		"list": bson.A{childOID, "plain"},
		"name": "test",
	})

	assert.Equal(t, oid.Hex(), doc["id"], "Native identifier should surface as hex id")
	assert.NotContains(t, doc, "_id")
	assert.Equal(t, now.Unix(), doc["created"], "Datetimes should flatten to epoch seconds")
	assert.Equal(t, int64(1700000000), doc["ts"], "Timestamps should flatten to their seconds field")
	assert.Equal(t, "test", doc["name"])

	nested, ok := doc["nested"].(bson.M)
	require.True(t, ok, "Nested maps should stay maps")
	assert.Equal(t, childOID.Hex(), nested["ref"], "Nested identifiers should flatten to hex")
	assert.Equal(t, now.Unix(), nested["when"])

	list, ok := doc["list"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, childOID.Hex(), list[0], "Identifiers inside arrays should flatten to hex")
	assert.Equal(t, "plain", list[1])
}

func TestFromStoredNil(t *testing.T) {
	assert.Nil(t, fromStored(nil))
}

func TestToFilter(t *testing.T) {
	oid := primitive.NewObjectID()

	t.Run("PlainID", func(t *testing.T) {
		filter := toFilter(Document{"id": oid.Hex(), "processed": false})
		assert.Equal(t, oid, filter["_id"])
		assert.Equal(t, false, filter["processed"])
		assert.NotContains(t, filter, "id")
	})

	t.Run("OperatorMap", func(t *testing.T) {
		other := primitive.NewObjectID()
		filter := toFilter(Document{"id": bson.M{"$in": []string{oid.Hex(), other.Hex()}}})

		in, ok := filter["_id"].(bson.M)
		require.True(t, ok)
		ids, ok := in["$in"].([]interface{})
		require.True(t, ok)
		assert.Equal(t, []interface{}{oid, other}, ids, "Hex ids inside $in should be coerced")
	})

	t.Run("UnparseableIDPassesThrough", func(t *testing.T) {
		filter := toFilter(Document{"id": "nope"})
		assert.Equal(t, "nope", filter["_id"], "A bad hex id should match nothing, not error")
	})

	t.Run("NilFilter", func(t *testing.T) {
		assert.Equal(t, bson.M{}, toFilter(nil))
	})
}

func TestDeepCopy(t *testing.T) {
	original := Document{
		"name":   "test",
		"nested": bson.M{"count": int64(3)},
		"list":   []interface{}{"a", "b"},
	}

	copied := DeepCopy(original)
	require.NotNil(t, copied)

	// Mutating the copy must not leak into the original.
	copied["name"] = "changed"
	copied["nested"].(bson.M)["count"] = int64(99)

	assert.Equal(t, "test", original["name"])
	assert.Equal(t, int64(3), original["nested"].(bson.M)["count"])
}
