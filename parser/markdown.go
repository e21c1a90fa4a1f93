package parser

import (
	"context"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"
)

// MarkdownParser handles CommonMark-style documents: ATX and setext
// headings, fenced and indented code, blockquotes, lists, images and pipe
// tables. Inline markup and inline HTML are stripped.
type MarkdownParser struct{}

func (p *MarkdownParser) SupportedExtensions() []string { return []string{".md", ".markdown"} }

func (p *MarkdownParser) Supports(ext string) bool { return supports(p.SupportedExtensions(), ext) }

func (p *MarkdownParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	return parseFile(ctx, p, path)
}

func (p *MarkdownParser) ParseBytes(ctx context.Context, data []byte, path string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := newBuilder("markdown", len(data))
	content, ok := decodeText(data)
	if !ok {
		b.warn(WarnEncodingUncertain, -1, "content is not valid UTF-8; decoded as Windows-1252")
	}
	content = normalizeNewlines(content)

	body, fm := splitFrontMatter(content)
	fm.apply(&b.doc.Metadata)

	m := &mdScanner{b: b, strip: bluemonday.StrictPolicy()}
	for _, line := range strings.Split(body, "\n") {
		m.line(line)
	}
	m.flush()

	if b.doc.Metadata.Title == "" {
		b.doc.Metadata.Title = firstHeading(b.doc.Elements)
	}
	return b.finish(), nil
}

// ---------------------------------------------------------------------------
// Front matter
// ---------------------------------------------------------------------------

type frontMatter struct {
	Title       string    `yaml:"title"`
	Author      string    `yaml:"author"`
	Description string    `yaml:"description"`
	Tags        []string  `yaml:"tags"`
	Keywords    []string  `yaml:"keywords"`
	Date        time.Time `yaml:"date"`
	Lang        string    `yaml:"lang"`
}

// splitFrontMatter removes a leading YAML block delimited by --- lines.
// Unparseable front matter is left in the body.
func splitFrontMatter(s string) (string, frontMatter) {
	var fm frontMatter
	if !strings.HasPrefix(s, "---\n") {
		return s, fm
	}
	end := strings.Index(s[4:], "\n---")
	if end < 0 {
		return s, fm
	}
	block := s[4 : 4+end]
	rest := s[4+end+4:]
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return s, frontMatter{}
	}
	return strings.TrimPrefix(rest, "\n"), fm
}

func (fm frontMatter) apply(meta *Metadata) {
	meta.Title = strings.TrimSpace(fm.Title)
	meta.Author = strings.TrimSpace(fm.Author)
	meta.Subject = strings.TrimSpace(fm.Description)
	meta.Keywords = append(append([]string(nil), fm.Tags...), fm.Keywords...)
	if !fm.Date.IsZero() {
		meta.Created = fm.Date
	}
	meta.setExtra("language", canonicalLanguage(fm.Lang))
}

// ---------------------------------------------------------------------------
// Block scanner
// ---------------------------------------------------------------------------

var (
	atxHeading   = regexp.MustCompile(`^ {0,3}(#{1,6})(?:[ \t]+(.*?))?(?:[ \t]+#+)?[ \t]*$`)
	fenceOpen    = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})")
	setextUnder  = regexp.MustCompile(`^ {0,3}(=+|-+)[ \t]*$`)
	thematic     = regexp.MustCompile(`^ {0,3}([-*_])(?:[ \t]*([-*_])){2,}[ \t]*$`)
	bulletMarker = regexp.MustCompile(`^ {0,3}[-*+][ \t]+`)
	orderMarker  = regexp.MustCompile(`^ {0,3}\d{1,9}[.)][ \t]+`)
	tableDivider = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$`)

	imageRef   = regexp.MustCompile(`!\[([^\]]*)\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)
	linkRef    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	autoLink   = regexp.MustCompile(`<((?:https?|mailto):[^>]+)>`)
	inlineCode = regexp.MustCompile("`+([^`]*)`+")

	emphasis = []*regexp.Regexp{
		regexp.MustCompile(`\*\*(\S(?:.*?\S)?)\*\*`),
		regexp.MustCompile(`~~(\S(?:.*?\S)?)~~`),
		regexp.MustCompile(`\*(\S(?:.*?\S)?)\*`),
		regexp.MustCompile(`(^|[^\pL\pN])__?(\S(?:.*?\S)?)__?($|[^\pL\pN])`),
	}
)

type mdBlock int

const (
	mdNone mdBlock = iota
	mdParagraph
	mdQuote
	mdList
	mdFence
	mdIndented
	mdTable
)

type mdScanner struct {
	b     *builder
	strip *bluemonday.Policy

	block   mdBlock
	lines   []string
	fence   string
	items   []string
	ordered bool
	images  []Element
}

func (m *mdScanner) line(raw string) {
	if m.block == mdFence {
		if strings.HasPrefix(strings.TrimLeft(raw, " "), m.fence) {
			m.flush()
			return
		}
		m.lines = append(m.lines, raw)
		return
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if m.block == mdIndented {
			m.lines = append(m.lines, "")
			return
		}
		m.flush()
		return
	}

	if m.block == mdIndented {
		if code, ok := indentedCode(raw); ok {
			m.lines = append(m.lines, code)
			return
		}
		m.flush()
	}

	switch {
	case fenceOpen.MatchString(raw):
		m.flush()
		m.block = mdFence
		m.fence = fenceOpen.FindStringSubmatch(raw)[1]
		return
	case m.block == mdParagraph && setextUnder.MatchString(raw):
		level := 2
		if strings.HasPrefix(trimmed, "=") {
			level = 1
		}
		text := m.inline(strings.Join(m.lines, " "))
		m.lines = nil
		m.block = mdNone
		if text != "" {
			m.b.add(Heading(text, level))
		}
		m.emitImages()
		return
	case thematic.MatchString(raw):
		m.flush()
		return
	}

	if sm := atxHeading.FindStringSubmatch(raw); sm != nil {
		m.flush()
		if text := m.inline(sm[2]); text != "" {
			m.b.add(Heading(text, len(sm[1])))
		}
		m.emitImages()
		return
	}

	if strings.HasPrefix(trimmed, ">") {
		if m.block != mdQuote {
			m.flush()
			m.block = mdQuote
		}
		m.lines = append(m.lines, strings.TrimSpace(strings.TrimPrefix(trimmed, ">")))
		return
	}

	if loc := bulletMarker.FindStringIndex(raw); loc != nil && !thematic.MatchString(raw) {
		m.listItem(raw[loc[1]:], false)
		return
	}
	if loc := orderMarker.FindStringIndex(raw); loc != nil {
		m.listItem(raw[loc[1]:], true)
		return
	}
	if m.block == mdList && (strings.HasPrefix(raw, "  ") || strings.HasPrefix(raw, "\t")) {
		last := len(m.items) - 1
		m.items[last] += " " + trimmed
		return
	}

	if strings.HasPrefix(trimmed, "|") {
		if m.block != mdTable {
			m.flush()
			m.block = mdTable
		}
		if !tableDivider.MatchString(trimmed) {
			m.lines = append(m.lines, trimmed)
		}
		return
	}

	if m.block == mdNone {
		if code, ok := indentedCode(raw); ok {
			m.block = mdIndented
			m.lines = append(m.lines, code)
			return
		}
	}

	if m.block != mdParagraph {
		m.flush()
		m.block = mdParagraph
	}
	m.lines = append(m.lines, trimmed)
}

func (m *mdScanner) listItem(text string, ordered bool) {
	if m.block != mdList || m.ordered != ordered {
		m.flush()
		m.block = mdList
		m.ordered = ordered
	}
	m.items = append(m.items, strings.TrimSpace(text))
}

// flush emits the open block.
func (m *mdScanner) flush() {
	switch m.block {
	case mdParagraph:
		if text := m.inline(strings.Join(m.lines, " ")); text != "" {
			m.b.add(Paragraph(text))
		}
	case mdQuote:
		if text := m.inline(strings.Join(m.lines, " ")); text != "" {
			m.b.add(Blockquote(text))
		}
	case mdList:
		items := make([]string, 0, len(m.items))
		for _, it := range m.items {
			if t := m.inline(it); t != "" {
				items = append(items, t)
			}
		}
		if len(items) > 0 {
			m.b.add(List(items, m.ordered))
		}
	case mdFence, mdIndented:
		code := strings.Trim(strings.Join(m.lines, "\n"), "\n")
		if strings.TrimSpace(code) != "" {
			m.b.add(Code(code))
		}
	case mdTable:
		rows := make([]string, 0, len(m.lines))
		for _, l := range m.lines {
			rows = append(rows, m.inline(l))
		}
		if len(rows) > 0 {
			m.b.add(Paragraph(strings.Join(rows, "\n")))
		}
	}
	m.emitImages()
	m.block = mdNone
	m.lines = nil
	m.items = nil
	m.fence = ""
}

func (m *mdScanner) emitImages() {
	m.b.add(m.images...)
	m.images = nil
}

// inline strips inline markup from s. Image references are collected and
// emitted after the enclosing block.
func (m *mdScanner) inline(s string) string {
	s = imageRef.ReplaceAllStringFunc(s, func(ref string) string {
		sm := imageRef.FindStringSubmatch(ref)
		m.images = append(m.images, Image(sm[2], strings.TrimSpace(sm[1]), nil))
		return ""
	})
	s = linkRef.ReplaceAllString(s, "$1")
	s = autoLink.ReplaceAllString(s, "$1")
	s = inlineCode.ReplaceAllString(s, "$1")
	for _, re := range emphasis[:3] {
		s = re.ReplaceAllString(s, "$1")
	}
	s = emphasis[3].ReplaceAllString(s, "$1$2$3")
	s = html.UnescapeString(m.strip.Sanitize(s))
	return collapseSpace(s)
}

// indentedCode reports whether raw is indented by four spaces or a tab and
// returns it with that indent removed.
func indentedCode(raw string) (string, bool) {
	switch {
	case strings.HasPrefix(raw, "\t"):
		return raw[1:], true
	case strings.HasPrefix(raw, "    "):
		return raw[4:], true
	}
	return "", false
}
