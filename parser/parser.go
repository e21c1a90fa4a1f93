package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrIO is returned when a file cannot be read.
	ErrIO = errors.New("parser: file unreadable")

	// ErrUnsupportedFormat is returned when no parser is registered for an extension.
	ErrUnsupportedFormat = errors.New("parser: unsupported document format")

	// ErrContainerCorrupt is returned when a ZIP/XML/PDF container cannot be read.
	ErrContainerCorrupt = errors.New("parser: container corrupt")
)

// Parser converts one document format into a ParsedDocument.
type Parser interface {
	// Parse reads the file at path and parses it.
	Parse(ctx context.Context, path string) (*ParsedDocument, error)

	// ParseBytes parses already-loaded content. path is only used to
	// derive the extension and a display name.
	ParseBytes(ctx context.Context, data []byte, path string) (*ParsedDocument, error)

	// Supports reports whether ext (with or without the leading dot) is handled.
	Supports(ext string) bool

	// SupportedExtensions lists the lower-cased extensions, leading dot included.
	SupportedExtensions() []string
}

// parseFile is the shared file-backed Parse: one stat, one read, then
// ParseBytes. FileSize comes from the stat.
func parseFile(ctx context.Context, p Parser, path string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, ioError(path, err)
	}
	if info.IsDir() {
		return nil, ioError(path, errors.New("is a directory"))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError(path, err)
	}
	doc, err := p.ParseBytes(ctx, data, path)
	if err != nil {
		return nil, err
	}
	doc.Metadata.FileSize = info.Size()
	return doc, nil
}

func ioError(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, path, err)
}

func corrupt(path, what string, err error) error {
	return fmt.Errorf("%w: %s: %s: %w", ErrContainerCorrupt, path, what, err)
}

// normalizeExt lower-cases ext and ensures a leading dot.
func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func supports(exts []string, ext string) bool {
	ext = normalizeExt(ext)
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// builder accumulates elements and warnings for one parse call.
type builder struct {
	doc     ParsedDocument
	textSet bool
}

func newBuilder(format string, size int) *builder {
	b := &builder{}
	b.doc.Metadata.Format = format
	b.doc.Metadata.FileSize = int64(size)
	return b
}

func (b *builder) add(els ...Element) {
	b.doc.Elements = append(b.doc.Elements, els...)
}

// addText appends a paragraph unless content is blank.
func (b *builder) addText(kind ElementType, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	switch kind {
	case ElementCode:
		b.add(Code(content))
	case ElementBlockquote:
		b.add(Blockquote(content))
	default:
		b.add(Paragraph(content))
	}
}

// setText fixes the plain text instead of deriving it from the elements.
func (b *builder) setText(s string) {
	b.doc.Text = s
	b.textSet = true
}

func (b *builder) warn(kind WarningKind, item int, format string, args ...any) {
	b.doc.Warnings = append(b.doc.Warnings, Warning{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Item:    item,
	})
}

// finish numbers the elements, derives the plain text when the producer
// did not set one, and flags empty output.
func (b *builder) finish() *ParsedDocument {
	for i := range b.doc.Elements {
		b.doc.Elements[i].Order = i
	}
	if !b.textSet {
		b.doc.Text = plainText(b.doc.Elements)
	}
	if strings.TrimSpace(b.doc.Text) == "" && len(b.doc.Elements) == 0 {
		b.warn(WarnContentEmpty, -1, "no content could be extracted")
	}
	doc := b.doc
	return &doc
}

// plainText joins the textual elements with blank lines. Images are skipped.
func plainText(els []Element) string {
	parts := make([]string, 0, len(els))
	for _, e := range els {
		if e.Type == ElementImage {
			continue
		}
		if t := strings.TrimSpace(e.Text()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// collapseSpace folds every whitespace run into one space and trims.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
