// Package server exposes the document store and revision stacks over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"caesium/cache"
	"caesium/config"
	"caesium/docstore"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Server is the HTTP surface.
type Server struct {
	cfg      *config.Config
	handler  *Handler
	docCache cache.Cache[docstore.Document]
	httpSrv  *http.Server
	logger   *zap.Logger
}

// New creates a Server, including the configured document cache backend.
func New(cfg *config.Config, db *mongo.Database, logger *zap.Logger) (*Server, error) {
	docCache, err := newDocCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	handler := NewHandler(cfg, db, docCache, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /documents/{collection}/{id}", handler.GetDocument)
	mux.HandleFunc("GET /documents/{collection}", handler.ListDocuments)
	mux.HandleFunc("POST /documents/{collection}", handler.CreateDocument)
	mux.HandleFunc("PUT /documents/{collection}/{id}", handler.UpdateDocument)
	mux.HandleFunc("DELETE /documents/{collection}/{id}", handler.DeleteDocument)

	mux.HandleFunc("GET /revisions/preview/{id}", handler.PreviewRevision)
	mux.HandleFunc("PUT /revisions/bulk", handler.BulkSchedule)
	mux.HandleFunc("DELETE /revisions/bulk/{bulk_id}", handler.DeleteBulk)
	mux.HandleFunc("GET /revisions/{master_id}", handler.ListRevisions)

	root := ApplyMiddleware(mux,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger))

	return &Server{
		cfg:      cfg,
		handler:  handler,
		docCache: docCache,
		httpSrv: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: root,
		},
		logger: logger,
	}, nil
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes the cache.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	if s.docCache != nil {
		if cerr := s.docCache.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// newDocCache builds the cache backend named by the configuration. "none"
// returns nil, which disables read-through caching.
func newDocCache(cfg *config.Config, logger *zap.Logger) (cache.Cache[docstore.Document], error) {
	switch cfg.Cache.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		opts := cache.DefaultOptions()
		opts.DefaultTTL = cfg.CacheTTL()
		return cache.NewMemoryCache[docstore.Document](opts), nil
	case "redis":
		opts := cache.DefaultRedisOptions()
		opts.DefaultTTL = cfg.CacheTTL()
		c, err := cache.NewRedisCache[docstore.Document](cfg.Cache.RedisAddr, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis cache: %w", err)
		}
		logger.Info("Redis document cache enabled", zap.String("addr", cfg.Cache.RedisAddr))
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}
