// Package docstruct turns heterogeneous documents into a common structural
// representation, merges several of them into one document, and keeps the
// results in a SQLite store.
package docstruct

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/docstruct/merger"
	"github.com/brunobiangulo/docstruct/parser"
	"github.com/brunobiangulo/docstruct/store"
)

// Engine is the main entry point.
type Engine interface {
	// Parse reads and parses one file.
	Parse(ctx context.Context, path string) (*parser.ParsedDocument, error)

	// ParseBytes parses already-loaded content; path supplies the extension.
	ParseBytes(ctx context.Context, data []byte, path string) (*parser.ParsedDocument, error)

	// ParseAll parses paths concurrently. Per-file failures are reported in
	// FileResult.Err; the error return is only set when ctx ends.
	ParseAll(ctx context.Context, paths []string) ([]FileResult, error)

	// Merge combines the successful results into one document.
	Merge(docs []FileResult, opts ...MergeOption) *merger.MergeResult

	// MergeByPosition combines the successful results by (page, y).
	MergeByPosition(docs []FileResult) *merger.MergeResult

	// Ingest parses (skipping unchanged files), stores, merges and stores
	// the merge.
	Ingest(ctx context.Context, paths []string, opts ...MergeOption) (*IngestResult, error)

	// GetDocument loads a stored document with its elements.
	GetDocument(ctx context.Context, id int64) (*StoredDocument, error)

	// ListDocuments returns all stored documents, newest first.
	ListDocuments(ctx context.Context) ([]store.Document, error)

	// Delete removes a stored document and its elements.
	Delete(ctx context.Context, id int64) error

	// GetMerge loads a stored merge.
	GetMerge(ctx context.Context, id string) (*store.Merge, error)

	// SupportedExtensions lists the registered extensions.
	SupportedExtensions() []string

	// Store returns the underlying store, or nil when it is disabled.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// FileResult is the outcome of parsing one path.
type FileResult struct {
	Path     string                 `json:"path"`
	Document *parser.ParsedDocument `json:"document,omitempty"`
	Err      error                  `json:"-"`
}

// IngestedDocument reports what Ingest did with one path.
type IngestedDocument struct {
	ID       int64            `json:"id"`
	Path     string           `json:"path"`
	Format   string           `json:"format"`
	Skipped  bool             `json:"skipped"`
	Elements int              `json:"elements"`
	Warnings []parser.Warning `json:"warnings,omitempty"`
}

// StoredDocument is a stored row with its decoded parse result.
type StoredDocument struct {
	store.Document
	Parsed *parser.ParsedDocument `json:"parsed"`
}

// IngestResult is the outcome of an Ingest call.
type IngestResult struct {
	Documents []IngestedDocument  `json:"documents"`
	MergeID   string              `json:"merge_id"`
	Merge     *merger.MergeResult `json:"merge"`
}

// MergeOption adjusts the configured merge options for one call.
type MergeOption func(*merger.Options)

// WithOrderMode sets the file ordering mode.
func WithOrderMode(mode merger.OrderMode) MergeOption {
	return func(o *merger.Options) { o.OrderMode = mode }
}

// WithDeduplication enables deduplication at the given Jaccard threshold.
func WithDeduplication(threshold float64) MergeOption {
	return func(o *merger.Options) {
		o.DeduplicateContent = true
		o.DeduplicationThreshold = threshold
	}
}

// WithoutSeparators disables the per-file heading and text marker.
func WithoutSeparators() MergeOption {
	return func(o *merger.Options) { o.AddFileSeparators = false }
}

// WithMergeOptions replaces the options wholesale.
func WithMergeOptions(opts merger.Options) MergeOption {
	return func(o *merger.Options) { *o = opts }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg     Config
	store   *store.Store
	parsers *parser.Registry
}

// New creates an engine. The store is opened unless cfg.DisableStore is set.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}

	e := &engine{
		cfg:     cfg,
		parsers: parser.NewRegistryWithConfig(cfg.PDF),
	}
	if !cfg.DisableStore {
		s, err := store.New(cfg.resolveDBPath())
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		e.store = s
	}
	return e, nil
}

func (e *engine) Parse(ctx context.Context, path string) (*parser.ParsedDocument, error) {
	if e.cfg.MaxFileSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrIO, path, err)
		}
		if info.Size() > e.cfg.MaxFileSize {
			return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, path, info.Size(), e.cfg.MaxFileSize)
		}
	}
	return e.parsers.ParseFile(ctx, path)
}

func (e *engine) ParseBytes(ctx context.Context, data []byte, path string) (*parser.ParsedDocument, error) {
	if e.cfg.MaxFileSize > 0 && int64(len(data)) > e.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, path, len(data), e.cfg.MaxFileSize)
	}
	return e.parsers.ParseBytes(ctx, data, path)
}

func (e *engine) ParseAll(ctx context.Context, paths []string) ([]FileResult, error) {
	results := make([]FileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, p := range paths {
		g.Go(func() error {
			results[i].Path = p
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			doc, err := e.Parse(gctx, p)
			results[i].Document = doc
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (e *engine) mergeOptions(opts []MergeOption) merger.Options {
	o := e.cfg.Merge
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (e *engine) Merge(docs []FileResult, opts ...MergeOption) *merger.MergeResult {
	return merger.Merge(fileContents(docs), e.mergeOptions(opts))
}

func (e *engine) MergeByPosition(docs []FileResult) *merger.MergeResult {
	return merger.MergeByPosition(fileContents(docs))
}

// fileContents converts successful results to merge inputs, keeping the
// input position as the preserve-mode order.
func fileContents(docs []FileResult) []merger.FileContent {
	files := make([]merger.FileContent, 0, len(docs))
	for i, d := range docs {
		if d.Err != nil || d.Document == nil {
			continue
		}
		files = append(files, merger.FileContent{
			FileName: filepath.Base(d.Path),
			FilePath: d.Path,
			Text:     d.Document.Text,
			Elements: d.Document.Elements,
			Order:    i,
		})
	}
	return files
}

func (e *engine) Ingest(ctx context.Context, paths []string, opts ...MergeOption) (*IngestResult, error) {
	if e.store == nil {
		return nil, ErrStoreDisabled
	}
	if len(paths) == 0 {
		return nil, ErrNoDocuments
	}
	start := time.Now()

	abs := make([]string, len(paths))
	hashes := make([]string, len(paths))
	docs := make([]FileResult, len(paths))
	out := &IngestResult{Documents: make([]IngestedDocument, len(paths))}

	var pending []int
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving path: %w", err)
		}
		abs[i] = a
		hash, err := fileHash(a)
		if err != nil {
			return nil, fmt.Errorf("%w: hashing %s: %w", ErrIO, a, err)
		}
		hashes[i] = hash

		existing, err := e.store.GetDocumentByPath(ctx, a)
		if err == nil && existing.ContentHash == hash {
			doc, err := e.loadStored(ctx, existing)
			if err != nil {
				return nil, err
			}
			docs[i] = FileResult{Path: a, Document: doc}
			out.Documents[i] = IngestedDocument{
				ID: existing.ID, Path: a, Format: existing.Format, Skipped: true,
				Elements: len(doc.Elements), Warnings: doc.Warnings,
			}
			slog.Info("ingest: unchanged, skipping parse", "file", existing.Filename, "doc_id", existing.ID)
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) > 0 {
		toParse := make([]string, len(pending))
		for j, i := range pending {
			toParse[j] = abs[i]
		}
		parseStart := time.Now()
		parsed, err := e.ParseAll(ctx, toParse)
		if err != nil {
			return nil, err
		}
		slog.Info("ingest: parsing complete", "files", len(parsed),
			"elapsed", time.Since(parseStart).Round(time.Millisecond))

		for j, i := range pending {
			r := parsed[j]
			if r.Err != nil {
				return nil, fmt.Errorf("parsing %s: %w", r.Path, r.Err)
			}
			id, err := e.store.SaveParsed(ctx, abs[i], hashes[i], r.Document)
			if err != nil {
				return nil, fmt.Errorf("storing %s: %w", r.Path, err)
			}
			docs[i] = r
			out.Documents[i] = IngestedDocument{
				ID: id, Path: abs[i], Format: r.Document.Metadata.Format,
				Elements: len(r.Document.Elements), Warnings: r.Document.Warnings,
			}
			slog.Info("ingest: stored document", "file", filepath.Base(abs[i]), "doc_id", id,
				"elements", len(r.Document.Elements), "warnings", len(r.Document.Warnings))
		}
	}

	out.Merge = e.Merge(docs, opts...)
	id, err := e.store.SaveMerge(ctx, out.Merge)
	if err != nil {
		return nil, fmt.Errorf("storing merge: %w", err)
	}
	out.MergeID = id

	slog.Info("ingest: complete", "files", len(paths), "parsed", len(pending),
		"merge_id", id, "elements", out.Merge.Stats.TotalElements,
		"duplicates", out.Merge.Stats.DuplicatesRemoved,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

// loadStored rebuilds a ParsedDocument from its stored rows.
func (e *engine) loadStored(ctx context.Context, d *store.Document) (*parser.ParsedDocument, error) {
	els, err := e.store.GetElements(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("loading elements of %s: %w", d.Path, err)
	}
	meta, err := d.ParsedMetadata()
	if err != nil {
		return nil, fmt.Errorf("decoding metadata of %s: %w", d.Path, err)
	}
	warnings, err := d.ParsedWarnings()
	if err != nil {
		return nil, fmt.Errorf("decoding warnings of %s: %w", d.Path, err)
	}
	return &parser.ParsedDocument{Text: d.Text, Elements: els, Metadata: meta, Warnings: warnings}, nil
}

func (e *engine) GetDocument(ctx context.Context, id int64) (*StoredDocument, error) {
	if e.store == nil {
		return nil, ErrStoreDisabled
	}
	d, err := e.store.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
		}
		return nil, err
	}
	doc, err := e.loadStored(ctx, d)
	if err != nil {
		return nil, err
	}
	d.Metadata, d.Warnings = "", ""
	return &StoredDocument{Document: *d, Parsed: doc}, nil
}

func (e *engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	if e.store == nil {
		return nil, ErrStoreDisabled
	}
	return e.store.ListDocuments(ctx)
}

func (e *engine) Delete(ctx context.Context, id int64) error {
	if e.store == nil {
		return ErrStoreDisabled
	}
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
		}
		return err
	}
	return nil
}

func (e *engine) GetMerge(ctx context.Context, id string) (*store.Merge, error) {
	if e.store == nil {
		return nil, ErrStoreDisabled
	}
	m, err := e.store.GetMerge(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: merge %s", ErrDocumentNotFound, id)
	}
	return m, err
}

func (e *engine) SupportedExtensions() []string {
	return e.parsers.SupportedExtensions()
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine.
func (e *engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// fileHash computes the SHA-256 hash of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
