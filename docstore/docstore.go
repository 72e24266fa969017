// Package docstore provides a thin, typed surface over MongoDB collections.
//
// At the package boundary identifiers are 24-character hex strings and
// documents are plain maps keyed by "id"; internally MongoDB's native
// ObjectID and "_id" are used. All conversions between the two forms happen
// here and nowhere else.
//
// A Collection can optionally validate documents against a caller-supplied
// schema before writes, and serve reads through a cache.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caesium/cache"
	"caesium/core"

	"github.com/jinzhu/copier"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Document is the boundary form of a stored document: native "_id" replaced
// by a hex "id", BSON temporal and identifier types flattened to primitives.
type Document = bson.M

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrMalformedID is returned when a hex identifier cannot be parsed.
	ErrMalformedID = errors.New("malformed document id")
)

// Validator checks a document against a caller-supplied schema before it is
// written. Implementations receive the boundary form of the document.
type Validator interface {
	Validate(doc Document) error
}

// UpdateResult reports the outcome of an update-style operation.
type UpdateResult struct {
	Matched    int64
	Modified   int64
	UpsertedID string
}

// Collection wraps a MongoDB collection with identifier and timestamp
// normalization, optional schema validation and an optional read-through
// cache.
type Collection struct {
	name      string
	coll      *mongo.Collection
	validator Validator
	cache     cache.Cache[Document]
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// Option configures a Collection.
type Option func(*Collection)

// WithValidator sets a schema validator applied before Insert and Update.
func WithValidator(v Validator) Option {
	return func(c *Collection) {
		c.validator = v
	}
}

// WithCache enables read-through caching of FindByID results.
func WithCache(cc cache.Cache[Document], ttl time.Duration) Option {
	return func(c *Collection) {
		c.cache = cc
		c.cacheTTL = ttl
	}
}

// WithLogger sets the logger for this collection.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collection) {
		c.logger = l
	}
}

// NewCollection creates a Collection over db's collection with the given name.
func NewCollection(db *mongo.Database, name string, opts ...Option) *Collection {
	c := &Collection{
		name:   name,
		coll:   db.Collection(name),
		logger: core.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Mongo returns the underlying MongoDB collection for operations not covered
// by this adapter.
func (c *Collection) Mongo() *mongo.Collection {
	return c.coll
}

// Insert writes a new document and returns its id as a hex string.
// If the document carries an "id" (and no "_id"), that identity is adopted.
func (c *Collection) Insert(ctx context.Context, doc Document) (string, error) {
	if c.validator != nil {
		if err := c.validator.Validate(doc); err != nil {
			return "", err
		}
	}

	storable, err := toStorable(doc)
	if err != nil {
		return "", err
	}
	if _, ok := storable["_id"]; !ok {
		storable["_id"] = primitive.NewObjectID()
	}

	res, err := c.coll.InsertOne(ctx, storable)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}

	c.invalidate(ctx, oid.Hex())
	return oid.Hex(), nil
}

// FindByID retrieves a document by its hex id.
func (c *Collection) FindByID(ctx context.Context, id string) (Document, error) {
	oid, err := oidFromHex(id)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if doc, err := c.cache.Get(ctx, c.cacheKey(id)); err == nil {
			return doc, nil
		}
	}

	var raw bson.M
	if err := c.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	doc := fromStored(raw)

	if c.cache != nil {
		if err := c.cache.Set(ctx, c.cacheKey(id), doc, c.cacheTTL); err != nil {
			c.logger.Error("Failed to cache document",
				zap.Error(err),
				zap.String("collection", c.name),
				zap.String("id", id))
		}
	}

	return doc, nil
}

// FindOne retrieves the first document matching the filter.
func (c *Collection) FindOne(ctx context.Context, filter Document) (Document, error) {
	var raw bson.M
	if err := c.coll.FindOne(ctx, toFilter(filter)).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	return fromStored(raw), nil
}

// Find retrieves documents matching the filter, ordered and paged.
// Direction is 1 for ascending, -1 for descending. When orderBy is set, "_id"
// is appended as a tie-break so equal keys come back in insertion order.
func (c *Collection) Find(ctx context.Context, filter Document, orderBy string, direction int, page, limit int64) ([]Document, error) {
	findOpts := options.Find()
	if orderBy != "" {
		sort := bson.D{{Key: orderBy, Value: direction}}
		if orderBy != "_id" {
			sort = append(sort, bson.E{Key: "_id", Value: direction})
		}
		findOpts.SetSort(sort)
	}
	if limit > 0 {
		findOpts.SetSkip(page * limit)
		findOpts.SetLimit(limit)
	}

	cursor, err := c.coll.Find(ctx, toFilter(filter), findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}

	docs := make([]Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, fromStored(raw))
	}
	return docs, nil
}

// Update replaces the whole document stored under the given hex id.
func (c *Collection) Update(ctx context.Context, id string, doc Document, upsert bool) (*UpdateResult, error) {
	if c.validator != nil {
		if err := c.validator.Validate(doc); err != nil {
			return nil, err
		}
	}

	oid, err := oidFromHex(id)
	if err != nil {
		return nil, err
	}

	storable, err := toStorable(doc)
	if err != nil {
		return nil, err
	}
	delete(storable, "_id")

	res, err := c.coll.ReplaceOne(ctx, bson.M{"_id": oid}, storable, options.Replace().SetUpsert(upsert))
	if err != nil {
		return nil, fmt.Errorf("failed to replace document: %w", err)
	}

	c.invalidate(ctx, id)
	return updateResult(res), nil
}

// Patch applies the given attributes as a $set under the hex id. Any "_id" or
// "id" keys in attrs are stripped first.
func (c *Collection) Patch(ctx context.Context, id string, attrs Document) (*UpdateResult, error) {
	oid, err := oidFromHex(id)
	if err != nil {
		return nil, err
	}

	storable, err := toStorable(attrs)
	if err != nil {
		return nil, err
	}
	delete(storable, "_id")

	res, err := c.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": storable})
	if err != nil {
		return nil, fmt.Errorf("failed to patch document: %w", err)
	}

	c.invalidate(ctx, id)
	return updateResult(res), nil
}

// Delete removes the document stored under the hex id and returns the number
// of documents removed.
func (c *Collection) Delete(ctx context.Context, id string) (int64, error) {
	oid, err := oidFromHex(id)
	if err != nil {
		return 0, err
	}

	res, err := c.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return 0, fmt.Errorf("failed to delete document: %w", err)
	}

	c.invalidate(ctx, id)
	return res.DeletedCount, nil
}

// DeleteMany removes every document matching the filter.
func (c *Collection) DeleteMany(ctx context.Context, filter Document) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, toFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	return res.DeletedCount, nil
}

// BulkSet applies the attributes as a $set to every document matching the
// filter and returns the matched count.
func (c *Collection) BulkSet(ctx context.Context, filter Document, attrs Document) (int64, error) {
	storable, err := toStorable(attrs)
	if err != nil {
		return 0, err
	}
	delete(storable, "_id")

	res, err := c.coll.UpdateMany(ctx, toFilter(filter), bson.M{"$set": storable})
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update documents: %w", err)
	}
	return res.MatchedCount, nil
}

// InsertIfAbsent atomically inserts the document unless some document already
// matches the filter, in which case the existing match is returned. The
// boolean reports whether an insert happened.
func (c *Collection) InsertIfAbsent(ctx context.Context, filter Document, doc Document) (Document, bool, error) {
	storable, err := toStorable(doc)
	if err != nil {
		return nil, false, err
	}

	oid, ok := storable["_id"].(primitive.ObjectID)
	if !ok {
		oid = primitive.NewObjectID()
		storable["_id"] = oid
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var raw bson.M
	err = c.coll.FindOneAndUpdate(ctx, toFilter(filter), bson.M{"$setOnInsert": storable}, opts).Decode(&raw)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert-if-absent: %w", err)
	}

	created := false
	if got, ok := raw["_id"].(primitive.ObjectID); ok && got == oid {
		created = true
	}

	return fromStored(raw), created, nil
}

func (c *Collection) cacheKey(id string) string {
	return c.name + ":" + id
}

// invalidate drops the cached copy after any write touching the document.
func (c *Collection) invalidate(ctx context.Context, id string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, c.cacheKey(id)); err != nil {
		c.logger.Warn("Failed to invalidate cached document",
			zap.Error(err),
			zap.String("collection", c.name),
			zap.String("id", id))
	}
}

func updateResult(res *mongo.UpdateResult) *UpdateResult {
	out := &UpdateResult{
		Matched:  res.MatchedCount,
		Modified: res.ModifiedCount,
	}
	if oid, ok := res.UpsertedID.(primitive.ObjectID); ok {
		out.UpsertedID = oid.Hex()
	}
	return out
}

// DeepCopy returns an owned copy of the document sharing no mutable state
// with the original.
func DeepCopy(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := Document{}
	if err := copier.CopyWithOption(&out, doc, copier.Option{DeepCopy: true}); err != nil {
		// Fall back to a BSON round-trip, which cannot fail for values that
		// came out of the store.
		raw, merr := bson.Marshal(doc)
		if merr != nil {
			return doc
		}
		var copied Document
		if merr := bson.Unmarshal(raw, &copied); merr != nil {
			return doc
		}
		return copied
	}
	return out
}
