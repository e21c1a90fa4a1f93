package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Registry maps lower-cased extensions (leading dot included) to parsers.
// It is populated once at startup and only read afterwards, so lookups
// need no locking.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with every built-in parser registered.
func NewRegistry() *Registry {
	return NewRegistryWithConfig(DefaultPDFConfig())
}

// NewRegistryWithConfig is NewRegistry with explicit PDF reconstruction tunables.
func NewRegistryWithConfig(pdfCfg PDFConfig) *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{
		&TextParser{},
		&MarkdownParser{},
		&HTMLParser{},
		&DOCXParser{},
		&PPTXParser{},
		&XLSXParser{},
		&EPUBParser{},
		&ImageParser{},
		&LegacyParser{},
		NewPDFParser(pdfCfg),
	} {
		r.Register(p)
	}
	return r
}

// Register inserts p under each of its extensions. The last registration
// for an extension wins.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.SupportedExtensions() {
		r.parsers[normalizeExt(ext)] = p
	}
}

// Get returns the parser registered for ext.
func (r *Registry) Get(ext string) (Parser, error) {
	ext = normalizeExt(ext)
	p, ok := r.parsers[ext]
	if !ok || ext == "" {
		return nil, r.unsupported(ext)
	}
	return p, nil
}

// Supports reports whether a parser is registered for ext.
func (r *Registry) Supports(ext string) bool {
	_, ok := r.parsers[normalizeExt(ext)]
	return ok
}

// SupportedExtensions returns the registered extensions, sorted.
func (r *Registry) SupportedExtensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ParseFile dispatches on the extension of path.
func (r *Registry) ParseFile(ctx context.Context, path string) (*ParsedDocument, error) {
	p, err := r.Get(filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p.Parse(ctx, path)
}

// ParseBytes dispatches on the extension of path and parses data.
func (r *Registry) ParseBytes(ctx context.Context, data []byte, path string) (*ParsedDocument, error) {
	p, err := r.Get(filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p.ParseBytes(ctx, data, path)
}

func (r *Registry) unsupported(ext string) error {
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedFormat, ext,
		strings.Join(r.SupportedExtensions(), ", "))
}
