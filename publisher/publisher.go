// Package publisher runs the periodic sweep that applies due revisions.
//
// Each sweep scans every configured collection's revision log for revisions
// whose time of action has passed, claims them in one bulk update, and drives
// each through its stack's Pop. The claim flag (inProcess) assumes a single
// active publisher instance; it keeps a slow sweep from picking the same
// revisions up twice, not two publishers from racing.
package publisher

import (
	"context"
	"time"

	"caesium/core"
	"caesium/docstore"
	"caesium/revision"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Options configures a Publisher.
type Options struct {
	// Collections are the target collection names to publish.
	Collections []string

	// Interval is the publish period for Run.
	Interval time.Duration

	// LazyMigratedPublished is forwarded to the stacks the publisher creates.
	LazyMigratedPublished bool

	// Logger defaults to the global logger.
	Logger *zap.Logger
}

// Publisher periodically selects due, unclaimed revisions and applies them.
type Publisher struct {
	db                    *mongo.Database
	collections           []string
	interval              time.Duration
	lazyMigratedPublished bool
	logger                *zap.Logger
}

// New creates a Publisher over the given database.
func New(db *mongo.Database, opts Options) *Publisher {
	logger := opts.Logger
	if logger == nil {
		logger = core.GetLogger()
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	return &Publisher{
		db:                    db,
		collections:           opts.Collections,
		interval:              interval,
		lazyMigratedPublished: opts.LazyMigratedPublished,
		logger:                logger,
	}
}

// Run publishes on the configured interval until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Publisher started",
		zap.Strings("collections", p.collections),
		zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Publisher stopped")
			return
		case <-ticker.C:
			if err := p.Publish(ctx); err != nil {
				p.logger.Error("Publish sweep failed", zap.Error(err))
			}
		}
	}
}

// Publish runs one sweep over every configured collection. A failing
// collection is logged and does not stop the sweep.
func (p *Publisher) Publish(ctx context.Context) error {
	for _, name := range p.collections {
		if err := p.publishForCollection(ctx, name); err != nil {
			p.logger.Error("Failed to publish collection",
				zap.Error(err),
				zap.String("collection", name))
		}
	}
	return ctx.Err()
}

// publishForCollection claims the due revisions of one collection and pops
// each through its stack.
func (p *Publisher) publishForCollection(ctx context.Context, name string) error {
	changes, err := p.claimPending(ctx, name)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	p.logger.Info("Revisions will be actioned",
		zap.Int("count", len(changes)),
		zap.String("collection", name))

	for _, change := range changes {
		logger := p.logger.With(
			zap.String("collection", change.Collection),
			zap.String("master_id", change.MasterID),
			zap.String("revision_id", change.ID),
			zap.String("action", string(change.Action)))

		stack := revision.NewStack(p.db, change.Collection, change.MasterID,
			revision.WithLogger(p.logger),
			revision.WithLazyMigratedPublished(p.lazyMigratedPublished))

		// Pop applies the earliest due revision for the master, so even when
		// several revisions of one master are claimed together they land in
		// toa order.
		popped, err := stack.Pop(ctx)
		if err != nil {
			logger.Error("Failed to apply revision", zap.Error(err))
			continue
		}
		if popped == nil {
			logger.Warn("Claimed revision no longer pending")
			continue
		}

		logger.Info("Revision applied", zap.Int64("toa", popped.TOA))
	}

	return nil
}

// claimPending finds due, unclaimed revisions and marks them in-process in a
// single bulk update.
func (p *Publisher) claimPending(ctx context.Context, name string) ([]*revision.Revision, error) {
	revisions := docstore.NewCollection(p.db, name+revision.RevisionsSuffix, docstore.WithLogger(p.logger))

	docs, err := revisions.Find(ctx, docstore.Document{
		"toa":       bson.M{"$lt": time.Now().Unix()},
		"processed": false,
		"inProcess": nil,
	}, "toa", 1, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	changes := make([]*revision.Revision, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		change, err := revision.FromDocument(doc)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
		ids = append(ids, change.ID)
	}

	if _, err := revisions.BulkSet(ctx,
		docstore.Document{"id": bson.M{"$in": ids}},
		docstore.Document{"inProcess": true},
	); err != nil {
		return nil, err
	}

	return changes, nil
}
