//go:build cgo

package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/brunobiangulo/docstruct/merger"
	"github.com/brunobiangulo/docstruct/parser"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := migrations[len(migrations)-1].version; v != want {
		t.Errorf("schema version = %d, want %d", v, want)
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	s, err := New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestReopenSkipsAppliedMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()

	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != len(migrations) {
		t.Errorf("schema_version rows = %d, want %d", n, len(migrations))
	}
}

// ---------------------------------------------------------------------------
// Document CRUD
// ---------------------------------------------------------------------------

func sampleParsed() *parser.ParsedDocument {
	els := []parser.Element{
		parser.Heading("Quarterly Report", 1),
		parser.Paragraph("Revenue grew in every region."),
		parser.List([]string{"north", "south"}, true),
		parser.Image("data:image/bmp;base64,Qk0=", "Figure 1 (page 2)", &parser.Position{Page: 2, X: 10.5, Y: 300}),
	}
	for i := range els {
		els[i].Order = i
	}
	return &parser.ParsedDocument{
		Text:     "Quarterly Report\n\nRevenue grew in every region.",
		Elements: els,
		Metadata: parser.Metadata{
			Title:    "Quarterly Report",
			Format:   "pdf",
			Pages:    2,
			Keywords: []string{"finance"},
			Extra:    map[string]string{"language": "en"},
		},
		Warnings: []parser.Warning{{Kind: parser.WarnImagesUnresolved, Message: "1 image", Item: -1}},
	}
}

func TestSaveParsedRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := sampleParsed()

	id, err := s.SaveParsed(ctx, "/docs/report.pdf", "hash1", doc)
	if err != nil {
		t.Fatalf("SaveParsed: %v", err)
	}

	got, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Filename != "report.pdf" || got.Format != "pdf" || got.Language != "en" || got.Text != doc.Text {
		t.Errorf("document = %+v", got)
	}
	meta, err := got.ParsedMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if meta.Title != "Quarterly Report" || meta.Pages != 2 || !reflect.DeepEqual(meta.Keywords, []string{"finance"}) {
		t.Errorf("metadata = %+v", meta)
	}
	warnings, err := got.ParsedWarnings()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(warnings, doc.Warnings) {
		t.Errorf("warnings = %+v", warnings)
	}

	els, err := s.GetElements(ctx, id)
	if err != nil {
		t.Fatalf("GetElements: %v", err)
	}
	if !reflect.DeepEqual(els, doc.Elements) {
		t.Errorf("elements = %+v\nwant %+v", els, doc.Elements)
	}
}

func TestUpsertDocumentUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertDocument(ctx, Document{Path: "/a.txt", Filename: "a.txt", Format: "txt", ContentHash: "h1"})
	if err != nil {
		t.Fatal(err)
	}
	// A second document makes the connection's last insert id differ.
	if _, err := s.UpsertDocument(ctx, Document{Path: "/b.txt", Filename: "b.txt", Format: "txt", ContentHash: "hb"}); err != nil {
		t.Fatal(err)
	}
	id2, err := s.UpsertDocument(ctx, Document{Path: "/a.txt", Filename: "a.txt", Format: "txt", ContentHash: "h2"})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("upsert changed id: %d -> %d", id1, id2)
	}
	got, err := s.GetDocumentByPath(ctx, "/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentHash != "h2" {
		t.Errorf("content hash = %q, want h2", got.ContentHash)
	}
}

func TestGetDocumentByPathNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetDocumentByPath(context.Background(), "/nonexistent"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, p := range []string{"/one.md", "/two.md", "/three.md"} {
		if _, err := s.UpsertDocument(ctx, Document{Path: p, Filename: filepath.Base(p), Format: "markdown", ContentHash: p, Text: "body"}); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	if docs[0].Path != "/three.md" {
		t.Errorf("first = %q, want newest", docs[0].Path)
	}
	for _, d := range docs {
		if d.Text != "" {
			t.Errorf("listing carries text for %s", d.Path)
		}
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.SaveParsed(ctx, "/del.pdf", "h", sampleParsed())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteDocument(ctx, id); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument(ctx, id); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("document still present: %v", err)
	}
	els, err := s.GetElements(ctx, id)
	if err != nil || len(els) != 0 {
		t.Errorf("elements left behind: %v %v", els, err)
	}
	if err := s.DeleteDocument(ctx, id); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("second delete err = %v, want sql.ErrNoRows", err)
	}
}

// ---------------------------------------------------------------------------
// Elements
// ---------------------------------------------------------------------------

func TestReplaceElements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.SaveParsed(ctx, "/r.pdf", "h", sampleParsed())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceElements(ctx, id, []parser.Element{parser.Code("x := 1")}); err != nil {
		t.Fatal(err)
	}
	els, err := s.GetElements(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 1 || els[0].Type != parser.ElementCode || els[0].Content != "x := 1" || els[0].Position != nil {
		t.Errorf("elements = %+v", els)
	}
}

func TestSearchElements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveParsed(ctx, "/docs/report.pdf", "h", sampleParsed()); err != nil {
		t.Fatal(err)
	}

	hits, err := s.SearchElements(ctx, "revenue", 10)
	if err != nil {
		t.Fatalf("SearchElements: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1: %+v", len(hits), hits)
	}
	if hits[0].Filename != "report.pdf" || hits[0].Element.Content != "Revenue grew in every region." {
		t.Errorf("hit = %+v", hits[0])
	}

	hits, err = s.SearchElements(ctx, "figure", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Element.Type != parser.ElementImage {
		t.Errorf("alt text search = %+v", hits)
	}
}

// ---------------------------------------------------------------------------
// Merges
// ---------------------------------------------------------------------------

func TestSaveAndGetMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := merger.Merge([]merger.FileContent{
		{FileName: "a.md", Text: "alpha", Elements: []parser.Element{parser.Paragraph("alpha")}},
		{FileName: "b.md", Text: "beta", Elements: []parser.Element{parser.Paragraph("beta")}, Order: 1},
	}, merger.DefaultOptions())

	id, err := s.SaveMerge(ctx, res)
	if err != nil {
		t.Fatalf("SaveMerge: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("merge id %q is not a uuid", id)
	}

	got, err := s.GetMerge(ctx, id)
	if err != nil {
		t.Fatalf("GetMerge: %v", err)
	}
	if got.Text != res.Text || !reflect.DeepEqual(got.Stats, res.Stats) {
		t.Errorf("merge = %+v, want text %q stats %+v", got, res.Text, res.Stats)
	}
	if !reflect.DeepEqual(got.Elements, res.Elements) {
		t.Errorf("elements = %+v\nwant %+v", got.Elements, res.Elements)
	}
}

func TestGetMergeNotFound(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		if _, err := s.GetMerge(context.Background(), id); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("GetMerge(%q) err = %v, want sql.ErrNoRows", id, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveParsed(ctx, "/s.pdf", "h", sampleParsed()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertDocument(ctx, Document{Path: "/n.txt", Filename: "n.txt", Format: "txt", ContentHash: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveMerge(ctx, &merger.MergeResult{Text: "t"}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := &DBStats{Documents: 2, Elements: 4, Images: 1, Merges: 1, Formats: map[string]int{"pdf": 1, "txt": 1}}
	if !reflect.DeepEqual(st, want) {
		t.Errorf("stats = %+v, want %+v", st, want)
	}
}
