//go:build cgo

package docstruct

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newStoreEngine(t *testing.T) Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "kb.db")
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestIngestStoresAndSkipsUnchanged(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"chapter_1.md": "# One\n\nThe first chapter body text.\n",
		"chapter_2.md": "# Two\n\nThe second chapter body text.\n",
	})
	paths := []string{filepath.Join(dir, "chapter_1.md"), filepath.Join(dir, "chapter_2.md")}
	e := newStoreEngine(t)
	ctx := context.Background()

	first, err := e.Ingest(ctx, paths)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(first.Documents) != 2 || first.Documents[0].Skipped || first.Documents[0].Elements != 2 {
		t.Fatalf("documents = %+v", first.Documents)
	}
	if first.Merge.Stats.TotalElements != 6 {
		t.Errorf("merged elements = %d, want 4 + 2 separators", first.Merge.Stats.TotalElements)
	}

	stored, err := e.GetMerge(ctx, first.MergeID)
	if err != nil {
		t.Fatalf("GetMerge: %v", err)
	}
	if stored.Text != first.Merge.Text || len(stored.Elements) != 6 {
		t.Errorf("stored merge = %+v", stored)
	}

	second, err := e.Ingest(ctx, paths)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	for _, d := range second.Documents {
		if !d.Skipped {
			t.Errorf("%s re-parsed although unchanged", d.Path)
		}
	}
	if second.Merge.Text != first.Merge.Text {
		t.Errorf("merge from stored documents differs:\n%q\n%q", second.Merge.Text, first.Merge.Text)
	}
	if second.MergeID == first.MergeID {
		t.Error("each ingest stores a new merge")
	}

	if err := os.WriteFile(paths[1], []byte("# Two\n\nRewritten.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	third, err := e.Ingest(ctx, paths)
	if err != nil {
		t.Fatal(err)
	}
	if !third.Documents[0].Skipped || third.Documents[1].Skipped {
		t.Errorf("skip flags = %v, %v", third.Documents[0].Skipped, third.Documents[1].Skipped)
	}
	if third.Documents[1].ID != first.Documents[1].ID {
		t.Error("changed document got a new id")
	}
}

func TestIngestDocumentLifecycle(t *testing.T) {
	dir := writeFiles(t, map[string]string{"note.txt": "Just a note."})
	e := newStoreEngine(t)
	ctx := context.Background()

	res, err := e.Ingest(ctx, []string{filepath.Join(dir, "note.txt")})
	if err != nil {
		t.Fatal(err)
	}
	id := res.Documents[0].ID

	doc, err := e.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Filename != "note.txt" || doc.Parsed.Text != "Just a note." || len(doc.Parsed.Elements) != 1 {
		t.Errorf("document = %+v parsed = %+v", doc.Document, doc.Parsed)
	}

	list, err := e.ListDocuments(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDocuments = %v, %v", list, err)
	}

	if err := e.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.GetDocument(ctx, id); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
	if err := e.Delete(ctx, id); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("second delete err = %v, want ErrDocumentNotFound", err)
	}
}

func TestIngestFailsOnUnparseableFile(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.docx": "not a zip"})
	e := newStoreEngine(t)
	if _, err := e.Ingest(context.Background(), []string{filepath.Join(dir, "bad.docx")}); !errors.Is(err, ErrContainerCorrupt) {
		t.Errorf("err = %v, want ErrContainerCorrupt", err)
	}
	if _, err := e.Ingest(context.Background(), nil); !errors.Is(err, ErrNoDocuments) {
		t.Errorf("err = %v, want ErrNoDocuments", err)
	}
}
