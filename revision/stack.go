package revision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caesium/core"
	"caesium/docstore"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// PreviewCollection is the shared collection used for in-flight preview
// computation. Records in it live only for the duration of a Preview call.
const PreviewCollection = "previews"

// RevisionsSuffix is appended to a target collection's name to form its
// revision log collection.
const RevisionsSuffix = "_revisions"

// Stack manages the ordered revisions of one (collection, master id) pair.
//
// A stack owns no persistent state of its own: it is a view over the target
// collection, its revision log and the shared preview collection. The only
// transient state is the preview record created and deleted within Preview.
type Stack struct {
	collectionName string
	masterID       string

	target    *docstore.Collection
	revisions *docstore.Collection
	previews  *docstore.Collection

	logger                *zap.Logger
	lazyMigratedPublished bool
}

// StackOption configures a Stack.
type StackOption func(*stackConfig)

type stackConfig struct {
	schema                docstore.Validator
	cacheOpts             []docstore.Option
	logger                *zap.Logger
	lazyMigratedPublished bool
}

// WithSchema validates target documents against the given schema on writes.
func WithSchema(v docstore.Validator) StackOption {
	return func(c *stackConfig) {
		c.schema = v
	}
}

// WithTargetOptions forwards extra options to the target collection, such as
// a read-through cache.
func WithTargetOptions(opts ...docstore.Option) StackOption {
	return func(c *stackConfig) {
		c.cacheOpts = append(c.cacheOpts, opts...)
	}
}

// WithLogger sets the stack's logger.
func WithLogger(l *zap.Logger) StackOption {
	return func(c *stackConfig) {
		c.logger = l
	}
}

// WithLazyMigratedPublished sets the value stored under snapshot.published
// when a legacy document is migrated.
func WithLazyMigratedPublished(published bool) StackOption {
	return func(c *stackConfig) {
		c.lazyMigratedPublished = published
	}
}

// NewStack creates a stack over (collectionName, masterID). An empty masterID
// means the stack has no identity yet; the first insert push assigns one.
func NewStack(db *mongo.Database, collectionName, masterID string, opts ...StackOption) *Stack {
	cfg := &stackConfig{logger: core.GetLogger()}
	for _, opt := range opts {
		opt(cfg)
	}

	targetOpts := append([]docstore.Option{docstore.WithLogger(cfg.logger)}, cfg.cacheOpts...)
	if cfg.schema != nil {
		targetOpts = append(targetOpts, docstore.WithValidator(cfg.schema))
	}

	return &Stack{
		collectionName:        collectionName,
		masterID:              masterID,
		target:                docstore.NewCollection(db, collectionName, targetOpts...),
		revisions:             docstore.NewCollection(db, collectionName+RevisionsSuffix, docstore.WithLogger(cfg.logger)),
		previews:              docstore.NewCollection(db, PreviewCollection, docstore.WithLogger(cfg.logger)),
		logger:                cfg.logger,
		lazyMigratedPublished: cfg.lazyMigratedPublished,
	}
}

// MasterID returns the stack's master document id. After an insert push this
// is the generated identity the future document will be created under.
func (s *Stack) MasterID() string {
	return s.masterID
}

// Push schedules a mutation. A nil patch schedules a delete; a map patch
// schedules an update when the stack has a master id, otherwise an insert
// with a freshly generated one. Any other patch type fails with
// ErrRevisionActionNotValid. toa defaults to now when non-positive.
//
// The revision id is returned as a hex string.
func (s *Stack) Push(ctx context.Context, patch interface{}, toa int64, meta map[string]interface{}) (string, error) {
	if toa <= 0 {
		toa = time.Now().Unix()
	}
	meta = deepCopyMeta(meta)

	m, isMap := patchAsMap(patch)

	var action Action
	var stored map[string]interface{}

	switch {
	case patch == nil || (isMap && m == nil):
		action = ActionDelete

	case isMap && s.masterID != "":
		action = ActionUpdate
		stored = makePatchStorable(stripIdentity(deepCopyPatch(m)))

		// A document that predates revisioning gets its synthetic insert
		// revision just before this update's slot. The result is discarded;
		// only the failure matters.
		if _, _, err := s.lazyMigrate(ctx, nil, deepCopyMeta(meta), toa-1); err != nil {
			return "", err
		}

	case isMap:
		// Scheduled inserts have no identity yet; generate one and keep it on
		// the stack. The identity is never stored inside the patch payload.
		action = ActionInsert
		s.masterID = primitive.NewObjectID().Hex()
		stored = stripIdentity(deepCopyPatch(m))

	default:
		return "", ErrRevisionActionNotValid
	}

	rev := &Revision{
		TOA:        toa,
		Processed:  false,
		Collection: s.collectionName,
		MasterID:   s.masterID,
		Action:     action,
		Patch:      stored,
		Meta:       meta,
	}

	if err := rev.Validate(); err != nil {
		return "", err
	}

	id, err := s.revisions.Insert(ctx, rev.document())
	if err != nil {
		return "", fmt.Errorf("failed to persist revision: %w", err)
	}

	s.logger.Info("Revision pushed",
		zap.String("collection", s.collectionName),
		zap.String("master_id", s.masterID),
		zap.String("revision_id", id),
		zap.String("action", string(action)),
		zap.Int64("toa", toa))

	return id, nil
}

func patchAsMap(patch interface{}) (map[string]interface{}, bool) {
	switch p := patch.(type) {
	case map[string]interface{}:
		return p, true
	case bson.M:
		return map[string]interface{}(p), true
	default:
		return nil, false
	}
}

// List returns this master's revisions with processed == showHistory and
// toa <= the given toa (defaulting to now), ordered by ascending toa with
// ties broken by insertion order.
func (s *Stack) List(ctx context.Context, toa int64, showHistory bool) ([]*Revision, error) {
	if toa <= 0 {
		toa = time.Now().Unix()
	}

	docs, err := s.revisions.Find(ctx, docstore.Document{
		"master_id": s.masterID,
		"processed": showHistory,
		"toa":       bson.M{"$lte": toa},
	}, "toa", 1, 0, 0)
	if err != nil {
		return nil, err
	}

	return revisionsFromDocuments(docs)
}

// Peek returns the earliest due pending revision, or nil when there is none.
func (s *Stack) Peek(ctx context.Context) (*Revision, error) {
	revs, err := s.List(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, nil
	}
	return revs[0], nil
}

// applyStatus classifies the outcome of applying a revision to its target.
type applyStatus int

const (
	// applied means the target mutation succeeded.
	applied applyStatus = iota
	// appliedWithWarning means the target mutation failed but the revision is
	// still marked processed so the stack keeps draining. The failure is
	// logged and recorded under meta.apply_error.
	appliedWithWarning
)

type applyResult struct {
	status  applyStatus
	warning error
}

// Pop applies the earliest due pending revision to the master document,
// marks it processed with its after-image snapshot, and returns the updated
// revision. Returns (nil, nil) when nothing is due.
//
// Failures mutating the target are tolerated: the revision is still marked
// processed so one broken revision cannot block the stack. Failures updating
// the revision record itself are surfaced.
func (s *Stack) Pop(ctx context.Context) (*Revision, error) {
	revs, err := s.List(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, nil
	}
	rev := revs[0]

	res := s.apply(ctx, rev)
	if res.status == appliedWithWarning {
		s.logger.Error("Revision apply failed, marking processed anyway",
			zap.Error(res.warning),
			zap.String("collection", s.collectionName),
			zap.String("master_id", rev.MasterID),
			zap.String("revision_id", rev.ID),
			zap.String("action", string(rev.Action)))
		if rev.Meta == nil {
			rev.Meta = map[string]interface{}{}
		}
		rev.Meta["apply_error"] = res.warning.Error()
	}

	var snapshot docstore.Document
	if rev.Action != ActionDelete {
		snapshot, err = s.target.FindByID(ctx, rev.MasterID)
		if err != nil {
			if !errors.Is(err, docstore.ErrNotFound) {
				return nil, err
			}
			snapshot = nil
		}
	}

	upd, err := s.revisions.Patch(ctx, rev.ID, docstore.Document{
		"processed": true,
		"inProcess": false,
		"snapshot":  snapshot,
		"meta":      rev.Meta,
	})
	if err != nil {
		return nil, err
	}
	if upd.Matched == 0 {
		return nil, ErrRevisionUpdateFailed
	}

	doc, err := s.revisions.FindByID(ctx, rev.ID)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc)
}

func (s *Stack) apply(ctx context.Context, rev *Revision) applyResult {
	var warn error
	switch rev.Action {
	case ActionUpdate:
		warn = s.applyUpdate(ctx, rev)
	case ActionInsert:
		warn = s.applyInsert(ctx, rev)
	case ActionDelete:
		warn = s.applyDelete(ctx, rev)
	}
	if warn != nil {
		return applyResult{status: appliedWithWarning, warning: warn}
	}
	return applyResult{status: applied}
}

func (s *Stack) applyUpdate(ctx context.Context, rev *Revision) error {
	patch := makePatchApplicable(stripIdentity(deepCopyPatch(rev.Patch)))

	res, err := s.target.Patch(ctx, rev.MasterID, docstore.Document(patch))
	if err != nil {
		return err
	}
	if res.Matched == 0 {
		return ErrRevisionNotFound
	}
	return nil
}

func (s *Stack) applyInsert(ctx context.Context, rev *Revision) error {
	doc := docstore.Document(stripIdentity(deepCopyPatch(rev.Patch)))
	// The created document takes the identity the push predetermined.
	doc["id"] = rev.MasterID

	id, err := s.target.Insert(ctx, doc)
	if err != nil {
		return err
	}
	if id == "" {
		return ErrDocumentRevisionInsertFailed
	}
	return nil
}

func (s *Stack) applyDelete(ctx context.Context, rev *Revision) error {
	n, err := s.target.Delete(ctx, rev.MasterID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDocumentRevisionDeleteFailed
	}
	return nil
}

// Preview computes the master document state that would result from applying
// every pending revision up to and including the given one, without mutating
// the target or revision collections. Already-applied revisions return their
// stored snapshot as-is.
//
// The computed snapshot is attached to the returned revision in memory only;
// stored snapshots are materialized by Pop alone.
func (s *Stack) Preview(ctx context.Context, revisionID string) (*Revision, error) {
	doc, err := s.revisions.FindByID(ctx, revisionID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrRevisionNotFound
		}
		return nil, err
	}

	rev, err := FromDocument(doc)
	if err != nil {
		return nil, err
	}

	if rev.Snapshot != nil {
		return rev, nil
	}

	s.masterID = rev.MasterID

	if rev.Action == ActionDelete {
		return rev, nil
	}

	revs, err := s.List(ctx, rev.TOA, false)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, ErrNoRevisionsAvailable
	}

	base, err := s.previewBase(ctx, revs[0])
	if err != nil {
		return nil, err
	}

	previewID, err := s.previews.Insert(ctx, base)
	if err != nil {
		return nil, err
	}
	// The preview record must not outlive this call on any path.
	defer func() {
		if _, derr := s.previews.Delete(ctx, previewID); derr != nil {
			s.logger.Error("Failed to delete preview record",
				zap.Error(derr),
				zap.String("preview_id", previewID))
		}
	}()

	for _, r := range revs {
		patch := makePatchApplicable(stripIdentity(deepCopyPatch(r.Patch)))
		if len(patch) == 0 {
			continue
		}
		if _, err := s.previews.Patch(ctx, previewID, docstore.Document(patch)); err != nil {
			return nil, err
		}
	}

	snapshot, err := s.previews.FindByID(ctx, previewID)
	if err != nil {
		return nil, err
	}
	snapshot["id"] = rev.MasterID
	rev.Snapshot = snapshot

	return rev, nil
}

// previewBase establishes the document future patches are applied onto:
// the first revision's payload when the chain starts with an insert,
// otherwise the current live document.
func (s *Stack) previewBase(ctx context.Context, first *Revision) (docstore.Document, error) {
	if first.Action == ActionInsert {
		return docstore.Document(stripIdentity(deepCopyPatch(first.Patch))), nil
	}

	base, err := s.target.FindByID(ctx, s.masterID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrRevisionNotFound
		}
		return nil, err
	}
	return docstore.Document(stripIdentity(map[string]interface{}(base))), nil
}

// LazyMigrate reconciles a document that predates revisioning with the
// revision log: if the master has no revisions at all, a processed insert
// revision capturing its current state is created. The boolean reports
// whether a migration revision was created by this call.
func (s *Stack) LazyMigrate(ctx context.Context, meta map[string]interface{}) (*Revision, bool, error) {
	return s.lazyMigrate(ctx, nil, deepCopyMeta(meta), 0)
}

func (s *Stack) lazyMigrate(ctx context.Context, patch docstore.Document, meta map[string]interface{}, toa int64) (*Revision, bool, error) {
	existing, err := s.revisions.Find(ctx, docstore.Document{"master_id": s.masterID}, "", 0, 0, 1)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		rev, err := FromDocument(existing[0])
		return rev, false, err
	}

	if patch == nil {
		patch, err = s.target.FindByID(ctx, s.masterID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return nil, false, ErrRevisionNotFound
			}
			return nil, false, err
		}
	}

	if toa <= 0 {
		toa = time.Now().Unix()
	}

	meta["comment"] = MigratedComment

	owned := stripIdentity(map[string]interface{}(docstore.DeepCopy(patch)))

	snapshot := deepCopyPatch(owned)
	snapshot["id"] = s.masterID
	snapshot["published"] = s.lazyMigratedPublished

	rev := &Revision{
		TOA:        toa,
		Processed:  true,
		Collection: s.collectionName,
		MasterID:   s.masterID,
		Action:     ActionInsert,
		Patch:      makePatchStorable(owned),
		Snapshot:   snapshot,
		Meta:       meta,
	}
	if err := rev.Validate(); err != nil {
		return nil, false, err
	}

	// $setOnInsert behind a master_id filter keeps concurrent migrations of
	// the same master down to exactly one stored revision.
	doc, created, err := s.revisions.InsertIfAbsent(ctx, docstore.Document{"master_id": s.masterID}, rev.document())
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("Legacy document migrated into revision log",
			zap.String("collection", s.collectionName),
			zap.String("master_id", s.masterID))
	}

	migrated, err := FromDocument(doc)
	if err != nil {
		return nil, false, err
	}
	return migrated, created, nil
}
