package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunobiangulo/docstruct"
	"github.com/brunobiangulo/docstruct/merger"
	"github.com/brunobiangulo/docstruct/parser"
)

// maxUploadSize bounds multipart bodies for POST /parse.
const maxUploadSize = 100 << 20

type handler struct {
	engine  docstruct.Engine
	metrics *metrics
}

func newHandler(e docstruct.Engine, m *metrics) *handler {
	return &handler{engine: e, metrics: m}
}

// routes builds the router. gatherer serves /metrics.
func (h *handler) routes(apiKey, corsOrigins string, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoveryMiddleware)
	r.Use(h.logMiddleware)
	r.Use(corsMiddleware(corsOrigins))
	r.Use(authMiddleware(apiKey))

	r.Get("/health", h.handleHealth)
	r.Get("/formats", h.handleFormats)
	r.Post("/parse", h.handleParse)
	r.Post("/merge", h.handleMerge)
	r.Post("/ingest", h.handleIngest)
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", h.handleListDocuments)
		r.Get("/{id}", h.handleGetDocument)
		r.Delete("/{id}", h.handleDeleteDocument)
	})
	r.Get("/merges/{id}", h.handleGetMerge)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// POST /parse
// Multipart upload with a "file" field.
func (h *handler) handleParse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart upload with 'file'")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	// Sanitise filename to prevent path traversal.
	name := filepath.Base(header.Filename)
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")

	start := time.Now()
	doc, err := h.engine.ParseBytes(r.Context(), data, name)
	h.metrics.parseDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())
	if err != nil {
		h.metrics.parses.WithLabelValues(format, "error").Inc()
		writeEngineError(w, "parse", err)
		return
	}
	h.metrics.parses.WithLabelValues(format, "ok").Inc()
	for _, warn := range doc.Warnings {
		h.metrics.parseWarnings.WithLabelValues(string(warn.Kind)).Inc()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"filename": name,
		"document": doc,
	})
}

type mergeRequest struct {
	Files   []merger.FileContent `json:"files"`
	Options *merger.Options      `json:"options,omitempty"`
	Mode    string               `json:"mode,omitempty"` // "" or "position"
}

// POST /merge
// JSON body with files and options; mode=position selects the position merge.
func (h *handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = r.URL.Query().Get("mode")
	}

	var res *merger.MergeResult
	switch mode {
	case "position":
		res = merger.MergeByPosition(req.Files)
	case "", "order":
		opts := merger.DefaultOptions()
		if req.Options != nil {
			opts = *req.Options
		}
		if err := opts.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res = merger.Merge(req.Files, opts)
		mode = "order"
	default:
		writeError(w, http.StatusBadRequest, "unknown mode "+strconv.Quote(mode))
		return
	}
	h.metrics.merges.WithLabelValues(mode).Inc()
	h.metrics.duplicates.Add(float64(res.Stats.DuplicatesRemoved))
	writeJSON(w, http.StatusOK, res)
}

// POST /ingest
// JSON body with server-side paths.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		Paths   []string        `json:"paths"`
		Options *merger.Options `json:"options,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request: expected JSON with 'paths'")
		return
	}
	var opts []docstruct.MergeOption
	if req.Options != nil {
		if err := req.Options.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts = append(opts, docstruct.WithMergeOptions(*req.Options))
	}

	res, err := h.engine.Ingest(ctx, req.Paths, opts...)
	if err != nil {
		writeEngineError(w, "ingest", err)
		return
	}
	for _, d := range res.Documents {
		if !d.Skipped {
			h.metrics.parses.WithLabelValues(d.Format, "ok").Inc()
		}
	}
	h.metrics.merges.WithLabelValues("order").Inc()
	h.metrics.duplicates.Add(float64(res.Merge.Stats.DuplicatesRemoved))
	writeJSON(w, http.StatusOK, res)
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeEngineError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GET /documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	doc, err := h.engine.GetDocument(r.Context(), id)
	if err != nil {
		writeEngineError(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeEngineError(w, "delete document", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /merges/{id}
func (h *handler) handleGetMerge(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.GetMerge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "get merge", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GET /formats
func (h *handler) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"extensions": h.engine.SupportedExtensions()})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEngineError maps facade sentinels to HTTP statuses.
func writeEngineError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, docstruct.ErrUnsupportedFormat),
		errors.Is(err, parser.ErrContainerCorrupt):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, docstruct.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, docstruct.ErrDocumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, docstruct.ErrIO), errors.Is(err, docstruct.ErrNoDocuments):
		status = http.StatusBadRequest
	case errors.Is(err, docstruct.ErrStoreDisabled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", "error", err)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
