package parser

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// TextParser handles plain text files. Blank lines separate paragraphs.
type TextParser struct{}

func (p *TextParser) SupportedExtensions() []string { return []string{".txt"} }

func (p *TextParser) Supports(ext string) bool { return supports(p.SupportedExtensions(), ext) }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	return parseFile(ctx, p, path)
}

func (p *TextParser) ParseBytes(ctx context.Context, data []byte, path string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := newBuilder("txt", len(data))

	content, ok := decodeText(data)
	if !ok {
		b.warn(WarnEncodingUncertain, -1, "content is not valid UTF-8; decoded as Windows-1252")
	}
	content = normalizeNewlines(content)

	for _, para := range splitParagraphs(content) {
		b.addText(ElementParagraph, para)
	}
	b.setText(strings.TrimSpace(content))
	b.doc.Metadata.Title = firstLine(content)
	return b.finish(), nil
}

// decodeText strips a UTF-8 BOM and falls back to Windows-1252 when the
// bytes are not valid UTF-8. ok is false when the fallback was used.
func decodeText(data []byte) (string, bool) {
	s := strings.TrimPrefix(string(data), "\uFEFF")
	if utf8.ValidString(s) {
		return s, true
	}
	decoded, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		return strings.ToValidUTF8(s, "�"), false
	}
	return decoded, false
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// splitParagraphs splits on blank lines and folds inner line breaks.
func splitParagraphs(s string) []string {
	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}
	for _, line := range strings.Split(s, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			flush()
			continue
		}
		cur = append(cur, t)
	}
	flush()
	return out
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			if r := []rune(t); len(r) > 200 {
				t = string(r[:200])
			}
			return t
		}
	}
	return ""
}
