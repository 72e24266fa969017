package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"caesium/cache"
	"caesium/config"
	"caesium/docstore"
	"caesium/revision"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// TOAHeader carries the scheduled time of action (epoch seconds) on writes.
// Its presence routes the request through the revision stack instead of
// mutating the document directly.
const TOAHeader = "Caesium-TOA"

// Handler serves the document and revision endpoints.
type Handler struct {
	cfg      *config.Config
	db       *mongo.Database
	docCache cache.Cache[docstore.Document]
	logger   *zap.Logger
}

// NewHandler creates a Handler. docCache may be nil to disable read-through
// caching of target documents.
func NewHandler(cfg *config.Config, db *mongo.Database, docCache cache.Cache[docstore.Document], logger *zap.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		db:       db,
		docCache: docCache,
		logger:   logger,
	}
}

// collection builds the store adapter for a target collection.
func (h *Handler) collection(name string) *docstore.Collection {
	opts := []docstore.Option{docstore.WithLogger(h.logger)}
	if h.docCache != nil {
		opts = append(opts, docstore.WithCache(h.docCache, h.cfg.CacheTTL()))
	}
	return docstore.NewCollection(h.db, name, opts...)
}

// stack builds a revision stack for (collection, masterID).
func (h *Handler) stack(collectionName, masterID string) *revision.Stack {
	opts := []revision.StackOption{
		revision.WithLogger(h.logger),
		revision.WithLazyMigratedPublished(h.cfg.Scheduler.LazyMigratedPublishedByDefault),
	}
	if h.docCache != nil {
		opts = append(opts, revision.WithTargetOptions(docstore.WithCache(h.docCache, h.cfg.CacheTTL())))
	}
	return revision.NewStack(h.db, collectionName, masterID, opts...)
}

// meta assembles the revision metadata from the request: the comment header
// and the author from the session cookie, falling back to the configured
// anonymous user.
func (h *Handler) meta(r *http.Request) map[string]interface{} {
	author := h.cfg.AnonymousUser
	if c, err := r.Cookie(h.cfg.SessionCookie); err == nil && c.Value != "" {
		author = c.Value
	}
	return map[string]interface{}{
		"comment": r.Header.Get("comment"),
		"author":  author,
	}
}

// toa parses the Caesium-TOA header. Returns 0 when the header is absent.
func toa(r *http.Request) (int64, error) {
	raw := r.Header.Get(TOAHeader)
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s header: %q", TOAHeader, raw)
	}
	return val, nil
}

// GetDocument returns a document by id. The Id header selects an alternate
// lookup attribute.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	id := r.PathValue("id")
	coll := h.collection(name)

	var doc docstore.Document
	var err error
	if attr := r.Header.Get("Id"); attr != "" {
		doc, err = coll.FindOne(r.Context(), docstore.Document{attr: id})
	} else {
		doc, err = coll.FindByID(r.Context(), id)
	}

	if err != nil {
		h.writeStoreError(w, err, id)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// ListDocuments returns documents matching a filter assembled from the query
// string.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	coll := h.collection(name)

	query := r.URL.Query()
	filter := filterFromQuery(query, h.cfg.ReservedQueryStringParams)

	orderBy := query.Get("orderby")
	direction := 1
	if query.Get("direction") == "-1" {
		direction = -1
	}
	page := queryInt(query.Get("page"), 0)
	limit := queryInt(query.Get("limit"), 0)

	docs, err := coll.Find(r.Context(), filter, orderBy, direction, page, limit)
	if err != nil {
		h.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(docs),
		"results": docs,
	})
}

// CreateDocument creates a document, or schedules its creation when the
// Caesium-TOA header is present. Scheduled creates answer with the preview
// snapshot of the future document.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")

	var body interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON Body, check formatting. "+err.Error())
		return
	}

	at, err := toa(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if at > 0 {
		stack := h.stack(name, "")
		revisionID, err := stack.Push(r.Context(), body, at, h.meta(r))
		if err != nil {
			h.writeRevisionError(w, err)
			return
		}

		preview, err := stack.Preview(r.Context(), revisionID)
		if err != nil {
			h.writeRevisionError(w, err)
			return
		}

		w.Header().Set(TOAHeader, strconv.FormatInt(at, 10))
		writeJSON(w, http.StatusOK, preview.Snapshot)
		return
	}

	doc, ok := body.(map[string]interface{})
	if !ok {
		writeError(w, http.StatusBadRequest, "Request body must be a JSON object")
		return
	}

	coll := h.collection(name)
	id, err := coll.Insert(r.Context(), docstore.Document(doc))
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}

	created, err := coll.FindByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, id)
		return
	}

	writeJSON(w, http.StatusOK, created)
}

// UpdateDocument replaces a document, or schedules the update as a revision
// when the Caesium-TOA header is present.
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	id := r.PathValue("id")
	coll := h.collection(name)

	var body interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON Body, check formatting. "+err.Error())
		return
	}

	at, err := toa(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := coll.FindByID(r.Context(), id); err != nil {
		h.writeStoreError(w, err, id)
		return
	}

	if at > 0 {
		stack := h.stack(name, id)
		if _, err := stack.Push(r.Context(), body, at, h.meta(r)); err != nil {
			h.writeRevisionError(w, err)
			return
		}

		// Answer with the submitted object under the originating id so the
		// client does not have to infer it.
		response, _ := body.(map[string]interface{})
		if response == nil {
			response = map[string]interface{}{}
		}
		response["id"] = id

		w.Header().Set(TOAHeader, strconv.FormatInt(at, 10))
		writeJSON(w, http.StatusOK, response)
		return
	}

	doc, ok := body.(map[string]interface{})
	if !ok {
		writeError(w, http.StatusBadRequest, "Request body must be a JSON object")
		return
	}
	delete(doc, "_id")

	res, err := coll.Update(r.Context(), id, docstore.Document(doc), false)
	if err != nil {
		h.writeStoreError(w, err, id)
		return
	}
	if res.Matched == 0 {
		writeError(w, http.StatusNotFound, "Resource not found: "+id)
		return
	}

	updated, err := coll.FindByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, id)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteDocument removes a document immediately. Scheduled deletes go
// through a push with a null patch instead.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	id := r.PathValue("id")

	n, err := h.collection(name).Delete(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, id)
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "Resource not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Deleted object: " + id,
	})
}

// ListRevisions returns the pending revisions of a master document, oldest
// first. showHistory=true prepends the last `limit` processed revisions;
// addCurrent=true prepends only the most recent one. A master with no
// revision history at all is lazily migrated first.
func (h *Handler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	masterID := r.PathValue("master_id")

	name := r.Header.Get("collection")
	if name == "" {
		writeError(w, http.StatusBadRequest, "Missing a collection name header")
		return
	}

	query := r.URL.Query()
	limit := queryInt(query.Get("limit"), 2)
	addCurrent, _ := typedValue(query.Get("addCurrent")).(bool)
	showHistory, _ := typedValue(query.Get("showHistory")).(bool)

	revisions := h.collection(name + revision.RevisionsSuffix)

	pending, err := revisions.Find(r.Context(), docstore.Document{
		"master_id": masterID,
		"processed": false,
	}, "toa", 1, 0, 20)
	if err != nil {
		h.internalError(w, err)
		return
	}

	// A revisioned document with no history predates revisioning: create its
	// synthetic insert revision before serving the list.
	if len(pending) == 0 {
		if _, _, err := h.stack(name, masterID).LazyMigrate(r.Context(), h.meta(r)); err != nil {
			writeError(w, http.StatusInternalServerError,
				fmt.Sprintf("This object %s/%s didn't exist as a revision, we tried to create it but we failed... Sorry. Please check this object", name, masterID))
			return
		}
	}

	var processed []docstore.Document
	if showHistory || addCurrent {
		historyLimit := int64(1)
		if showHistory {
			historyLimit = limit
		}
		processed, err = revisions.Find(r.Context(), docstore.Document{
			"master_id": masterID,
			"processed": true,
		}, "toa", -1, 0, historyLimit)
		if err != nil {
			h.internalError(w, err)
			return
		}
	}

	results := pending
	if len(processed) > 0 {
		// Processed revisions were fetched newest-first; flip them and mark
		// the latest as current before prepending.
		for i, j := 0, len(processed)-1; i < j; i, j = i+1, j-1 {
			processed[i], processed[j] = processed[j], processed[i]
		}
		processed[len(processed)-1]["current"] = true
		results = append(processed, pending...)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

// PreviewRevision returns the revision with the document state that would
// result from applying everything up to and including it.
func (h *Handler) PreviewRevision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	name := r.Header.Get("collection")
	if name == "" {
		writeError(w, http.StatusBadRequest, "Missing a collection name for stack")
		return
	}

	rev, err := h.stack(name, "").Preview(r.Context(), id)
	if err != nil {
		h.writeRevisionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rev)
}

// BulkSchedule pushes one revision per id with a shared meta.bulk_id so the
// whole job can be deleted later by that id.
func (h *Handler) BulkSchedule(w http.ResponseWriter, r *http.Request) {
	name := r.Header.Get("collection")
	if name == "" {
		writeError(w, http.StatusBadRequest, "Missing a collection name header")
		return
	}

	at, err := toa(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if at == 0 {
		writeError(w, http.StatusBadRequest, TOAHeader+" header is required, none found")
		return
	}

	var body struct {
		IDs   []string               `json:"ids"`
		Patch map[string]interface{} `json:"patch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON Body, check formatting. "+err.Error())
		return
	}

	meta := h.meta(r)
	bulkID := strings.ReplaceAll(uuid.New().String(), "-", "")
	meta["bulk_id"] = bulkID

	for _, id := range body.IDs {
		stack := h.stack(name, id)
		if _, err := stack.Push(r.Context(), body.Patch, at, meta); err != nil {
			h.logger.Error("Failed to push bulk revision",
				zap.Error(err),
				zap.String("collection", name),
				zap.String("master_id", id),
				zap.String("bulk_id", bulkID))
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(body.IDs),
		"result": map[string]interface{}{
			"ids":     body.IDs,
			"toa":     at,
			"patch":   body.Patch,
			"bulk_id": bulkID,
		},
	})
}

// DeleteBulk removes every revision pushed under one bulk id.
func (h *Handler) DeleteBulk(w http.ResponseWriter, r *http.Request) {
	name := r.Header.Get("collection")
	if name == "" {
		writeError(w, http.StatusBadRequest, "Missing a collection name header")
		return
	}
	bulkID := r.PathValue("bulk_id")

	revisions := h.collection(name + revision.RevisionsSuffix)
	n, err := revisions.DeleteMany(r.Context(), docstore.Document{"meta.bulk_id": bulkID})
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.logger.Info("Deleted bulk revisions",
		zap.String("collection", name),
		zap.String("bulk_id", bulkID),
		zap.Int64("count", n))

	writeJSON(w, http.StatusOK, map[string]interface{}{"n": n})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, docstore.ErrMalformedID):
		writeError(w, http.StatusBadRequest, "Your ID is malformed: "+id)
	case errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "Resource not found")
	default:
		h.internalError(w, err)
	}
}

func (h *Handler) writeRevisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, revision.ErrRevisionActionNotValid),
		errors.Is(err, revision.ErrSchemaViolation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, revision.ErrRevisionNotFound),
		errors.Is(err, revision.ErrNoRevisionsAvailable):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, docstore.ErrMalformedID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.internalError(w, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.logger.Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Generic server error.  Out of luck...")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to do but note it.
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"message": message,
		"status":  status,
	})
}

func queryInt(raw string, fallback int64) int64 {
	if raw == "" {
		return fallback
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return val
}
