package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/docstruct/merger"
	"github.com/brunobiangulo/docstruct/parser"
)

// Document represents a row in the documents table. Metadata and Warnings
// hold the JSON encoding of the parser's values.
type Document struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	ContentHash string `json:"content_hash"`
	Language    string `json:"language,omitempty"`
	Text        string `json:"text,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
	Warnings    string `json:"warnings,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// DocumentFromParsed builds a row for a parse result of the file at path.
func DocumentFromParsed(path, contentHash string, doc *parser.ParsedDocument) (Document, error) {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return Document{}, fmt.Errorf("encoding metadata: %w", err)
	}
	warnings, err := json.Marshal(doc.Warnings)
	if err != nil {
		return Document{}, fmt.Errorf("encoding warnings: %w", err)
	}
	return Document{
		Path:        path,
		Filename:    filepath.Base(path),
		Format:      doc.Metadata.Format,
		ContentHash: contentHash,
		Language:    doc.Metadata.Extra["language"],
		Text:        doc.Text,
		Metadata:    string(meta),
		Warnings:    string(warnings),
	}, nil
}

// ParsedMetadata decodes the stored metadata column.
func (d *Document) ParsedMetadata() (parser.Metadata, error) {
	var m parser.Metadata
	if d.Metadata == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(d.Metadata), &m)
	return m, err
}

// ParsedWarnings decodes the stored warnings column.
func (d *Document) ParsedWarnings() ([]parser.Warning, error) {
	var w []parser.Warning
	if d.Warnings == "" || d.Warnings == "null" {
		return nil, nil
	}
	err := json.Unmarshal([]byte(d.Warnings), &w)
	return w, err
}

// Merge is a stored merge result.
type Merge struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Stats     merger.Stats     `json:"stats"`
	Elements  []parser.Element `json:"elements"`
	CreatedAt string           `json:"created_at"`
}

// ElementMatch is a search hit.
type ElementMatch struct {
	DocumentID int64          `json:"document_id"`
	Filename   string         `json:"filename"`
	Path       string         `json:"path"`
	Element    parser.Element `json:"element"`
}

// Store wraps the SQLite database for all docstruct persistence.
type Store struct {
	db  *sql.DB
	fts bool
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema. Full-text search is enabled when the SQLite
// build supports FTS5; otherwise searches fall back to LIKE.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if _, err := db.Exec(ftsSQL); err != nil {
		slog.Debug("store: full-text search unavailable", "error", err)
	} else {
		s.fts = true
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// FullText reports whether element search uses FTS5.
func (s *Store) FullText() bool {
	return s.fts
}

// --- Document operations ---

const documentColumns = `id, path, filename, format, content_hash, language, text,
	metadata, warnings, created_at, updated_at`

// UpsertDocument inserts or updates a document record. Returns the document ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, filename, format, content_hash, language, text, metadata, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			format = excluded.format,
			content_hash = excluded.content_hash,
			language = excluded.language,
			text = excluded.text,
			metadata = excluded.metadata,
			warnings = excluded.warnings,
			updated_at = CURRENT_TIMESTAMP
	`, doc.Path, doc.Filename, doc.Format, doc.ContentHash, doc.Language, doc.Text,
		nullIfEmpty(doc.Metadata), nullIfEmpty(doc.Warnings))
	if err != nil {
		return 0, err
	}

	// LastInsertId is unreliable after the UPDATE branch of an upsert.
	var id int64
	row := s.db.QueryRowContext(ctx, "SELECT id FROM documents WHERE path = ?", doc.Path)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetDocumentByPath retrieves a document by its file path.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE path = ?", path))
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
}

// ListDocuments returns all documents, newest first. The text column is
// left empty to keep listings small.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, filename, format, content_hash, language, '',
			metadata, warnings, created_at, updated_at
		FROM documents ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; its elements cascade.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM elements WHERE document_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// SaveParsed upserts the document row for a parse result and replaces its
// elements in one call. Returns the document ID.
func (s *Store) SaveParsed(ctx context.Context, path, contentHash string, doc *parser.ParsedDocument) (int64, error) {
	row, err := DocumentFromParsed(path, contentHash, doc)
	if err != nil {
		return 0, err
	}
	id, err := s.UpsertDocument(ctx, row)
	if err != nil {
		return 0, fmt.Errorf("upserting document: %w", err)
	}
	if err := s.ReplaceElements(ctx, id, doc.Elements); err != nil {
		return 0, fmt.Errorf("storing elements: %w", err)
	}
	return id, nil
}

// --- Element operations ---

// ReplaceElements deletes the document's elements and inserts els in order.
func (s *Store) ReplaceElements(ctx context.Context, docID int64, els []parser.Element) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM elements WHERE document_id = ?", docID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO elements (document_id, position, type, content, level, items,
				ordered, src, alt, page, x, y)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, e := range els {
			args, err := elementArgs(e)
			if err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
			if _, err := stmt.ExecContext(ctx, append([]any{docID, i}, args...)...); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetElements returns a document's elements in order. Order fields are
// the stored positions.
func (s *Store) GetElements(ctx context.Context, docID int64) ([]parser.Element, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, type, content, level, items, ordered, src, alt, page, x, y
		FROM elements WHERE document_id = ? ORDER BY position
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parser.Element
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SearchElements finds elements whose content or alt text matches query.
// With FTS5 the query uses FTS syntax and results are ranked; otherwise
// it is a case-insensitive substring match in document order.
func (s *Store) SearchElements(ctx context.Context, query string, limit int) ([]ElementMatch, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows *sql.Rows
	var err error
	if s.fts {
		rows, err = s.db.QueryContext(ctx, `
			SELECT d.id, d.filename, d.path,
				e.position, e.type, e.content, e.level, e.items, e.ordered, e.src, e.alt, e.page, e.x, e.y
			FROM elements_fts f
			JOIN elements e ON e.id = f.rowid
			JOIN documents d ON d.id = e.document_id
			WHERE elements_fts MATCH ?
			ORDER BY f.rank
			LIMIT ?
		`, query, limit)
	} else {
		like := "%" + strings.ToLower(query) + "%"
		rows, err = s.db.QueryContext(ctx, `
			SELECT d.id, d.filename, d.path,
				e.position, e.type, e.content, e.level, e.items, e.ordered, e.src, e.alt, e.page, e.x, e.y
			FROM elements e
			JOIN documents d ON d.id = e.document_id
			WHERE lower(e.content) LIKE ? OR lower(e.alt) LIKE ?
			ORDER BY d.id, e.position
			LIMIT ?
		`, like, like, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ElementMatch
	for rows.Next() {
		var m ElementMatch
		e, err := scanElement(rows, &m.DocumentID, &m.Filename, &m.Path)
		if err != nil {
			return nil, err
		}
		m.Element = e
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Merge operations ---

// SaveMerge stores a merge result under a fresh UUID and returns it.
func (s *Store) SaveMerge(ctx context.Context, res *merger.MergeResult) (string, error) {
	stats, err := json.Marshal(res.Stats)
	if err != nil {
		return "", fmt.Errorf("encoding stats: %w", err)
	}
	id := uuid.NewString()
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO merges (id, text, stats) VALUES (?, ?, ?)",
			id, res.Text, string(stats)); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO merge_elements (merge_id, position, type, content, level, items,
				ordered, src, alt, page, x, y)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, e := range res.Elements {
			args, err := elementArgs(e)
			if err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
			if _, err := stmt.ExecContext(ctx, append([]any{id, i}, args...)...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetMerge loads a stored merge with its elements.
func (s *Store) GetMerge(ctx context.Context, id string) (*Merge, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, sql.ErrNoRows
	}
	m := &Merge{ID: id}
	var stats string
	err := s.db.QueryRowContext(ctx,
		"SELECT text, stats, created_at FROM merges WHERE id = ?", id,
	).Scan(&m.Text, &stats, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stats), &m.Stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, type, content, level, items, ordered, src, alt, page, x, y
		FROM merge_elements WHERE merge_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		m.Elements = append(m.Elements, e)
	}
	return m, rows.Err()
}

// --- Stats ---

// DBStats holds counts of key database objects.
type DBStats struct {
	Documents int            `json:"documents"`
	Elements  int            `json:"elements"`
	Images    int            `json:"images"`
	Merges    int            `json:"merges"`
	Formats   map[string]int `json:"formats"`
}

// Stats returns object counts plus documents per format.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{Formats: make(map[string]int)}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM elements", &stats.Elements},
		{"SELECT COUNT(*) FROM elements WHERE type = 'image'", &stats.Images},
		{"SELECT COUNT(*) FROM merges", &stats.Merges},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT format, COUNT(*) FROM documents GROUP BY format")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var format string
		var n int
		if err := rows.Scan(&format, &n); err != nil {
			return nil, err
		}
		stats.Formats[format] = n
	}
	return stats, rows.Err()
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	d := &Document{}
	var metadata, warnings sql.NullString
	if err := row.Scan(&d.ID, &d.Path, &d.Filename, &d.Format, &d.ContentHash,
		&d.Language, &d.Text, &metadata, &warnings, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Metadata = metadata.String
	d.Warnings = warnings.String
	return d, nil
}

// elementArgs flattens e into the type..y columns.
func elementArgs(e parser.Element) ([]any, error) {
	var items any
	if len(e.Items) > 0 {
		b, err := json.Marshal(e.Items)
		if err != nil {
			return nil, err
		}
		items = string(b)
	}
	var page, x, y any
	if e.Position != nil {
		page, x, y = e.Position.Page, e.Position.X, e.Position.Y
	}
	return []any{string(e.Type), e.Content, e.Level, items, e.Ordered, e.Src, e.Alt, page, x, y}, nil
}

// scanElement reads the position..y columns, after any leading columns
// given in prefix.
func scanElement(row scanner, prefix ...any) (parser.Element, error) {
	var e parser.Element
	var typ string
	var items sql.NullString
	var page sql.NullInt64
	var x, y sql.NullFloat64
	dest := append(prefix, &e.Order, &typ, &e.Content, &e.Level, &items,
		&e.Ordered, &e.Src, &e.Alt, &page, &x, &y)
	if err := row.Scan(dest...); err != nil {
		return e, err
	}
	e.Type = parser.ElementType(typ)
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &e.Items); err != nil {
			return e, fmt.Errorf("decoding items: %w", err)
		}
	}
	if page.Valid {
		e.Position = &parser.Position{Page: int(page.Int64), X: x.Float64, Y: y.Float64}
	}
	return e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
