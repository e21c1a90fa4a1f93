package parser

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/language"
)

// HTMLParser walks an HTML document into structural elements.
type HTMLParser struct{}

func (p *HTMLParser) SupportedExtensions() []string { return []string{".html", ".htm", ".xhtml"} }

func (p *HTMLParser) Supports(ext string) bool { return supports(p.SupportedExtensions(), ext) }

func (p *HTMLParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	return parseFile(ctx, p, path)
}

func (p *HTMLParser) ParseBytes(ctx context.Context, data []byte, path string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := newBuilder("html", len(data))

	decoded, certain := decodeHTML(data)
	if !certain {
		b.warn(WarnEncodingUncertain, -1, "no charset declared and content is not valid UTF-8")
	}
	doc, err := html.Parse(bytes.NewReader(decoded))
	if err != nil {
		return nil, corrupt(path, "parsing HTML", err)
	}

	htmlMetadata(doc, &b.doc.Metadata)
	w := &htmlWalker{b: b}
	w.walk(bodyOf(doc))
	w.flushInline()

	if b.doc.Metadata.Title == "" {
		b.doc.Metadata.Title = firstHeading(b.doc.Elements)
	}
	return b.finish(), nil
}

// decodeHTML converts data to UTF-8 using the BOM, a meta charset or a
// content sniff. certain is false only when a guess was made for bytes that
// are not valid UTF-8.
func decodeHTML(data []byte) ([]byte, bool) {
	enc, name, certain := charset.DetermineEncoding(data, "text/html")
	certain = certain || declaresCharset(data) || utf8.Valid(data)
	if name == "utf-8" {
		return data, certain
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return data, false
	}
	return out, certain
}

// declaresCharset reports whether the head of the document names a charset
// in a meta tag. DetermineEncoding never marks those as certain.
func declaresCharset(data []byte) bool {
	head := data[:min(len(data), 1024)]
	return bytes.Contains(bytes.ToLower(head), []byte("charset="))
}

// htmlWalker emits elements for block-level nodes and gathers loose inline
// text into paragraphs. resolve maps an img src to an element src; nil
// keeps the reference as written.
type htmlWalker struct {
	b       *builder
	resolve func(src string) (string, bool)
	inline  strings.Builder
}

func (w *htmlWalker) walk(n *html.Node) {
	if n == nil {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.node(c)
	}
}

func (w *htmlWalker) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.inline.WriteString(n.Data)
		return
	case html.ElementNode:
	default:
		return
	}
	if isHiddenNode(n) {
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
		return
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		w.flushInline()
		if text := collapseSpace(nodeText(n)); text != "" {
			level, _ := strconv.Atoi(n.Data[1:])
			w.b.add(Heading(text, level))
		}
	case atom.P:
		w.flushInline()
		w.walk(n)
		w.flushInline()
	case atom.Ul, atom.Ol:
		w.flushInline()
		if items := listItems(n); len(items) > 0 {
			w.b.add(List(items, n.DataAtom == atom.Ol))
		}
	case atom.Pre:
		w.flushInline()
		if text := strings.Trim(nodeText(n), "\n"); strings.TrimSpace(text) != "" {
			w.b.add(Code(text))
		}
	case atom.Blockquote:
		w.flushInline()
		if text := collapseSpace(nodeText(n)); text != "" {
			w.b.add(Blockquote(text))
		}
	case atom.Table:
		w.flushInline()
		if rows := tableRows(n); len(rows) > 0 {
			w.b.add(Paragraph(strings.Join(rows, "\n")))
		}
	case atom.Img:
		w.flushInline()
		w.image(attrOf(n, "src"), attrOf(n, "alt"))
	case atom.Image:
		w.flushInline()
		w.image(firstNonEmpty(attrOf(n, "href"), attrOf(n, "xlink:href")), "")
	case atom.Br:
		w.inline.WriteByte(' ')
	case atom.Hr:
		w.flushInline()
	default:
		if isBlockAtom(n.DataAtom) {
			w.flushInline()
			w.walk(n)
			w.flushInline()
			return
		}
		w.walk(n)
	}
}

func (w *htmlWalker) flushInline() {
	text := collapseSpace(w.inline.String())
	w.inline.Reset()
	if text != "" {
		w.b.add(Paragraph(text))
	}
}

func (w *htmlWalker) image(src, alt string) {
	src = strings.TrimSpace(src)
	if src == "" {
		return
	}
	if w.resolve != nil {
		uri, ok := w.resolve(src)
		if !ok {
			return
		}
		src = uri
	}
	w.b.add(Image(src, strings.TrimSpace(alt), nil))
}

func isBlockAtom(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.Section, atom.Article, atom.Main, atom.Aside, atom.Header,
		atom.Footer, atom.Nav, atom.Figure, atom.Figcaption, atom.Dl, atom.Dt, atom.Dd,
		atom.Li, atom.Body, atom.Html, atom.Address, atom.Details, atom.Summary, atom.Form:
		return true
	}
	return false
}

// nodeText returns the raw text under n, skipping scripts and styles.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			case atom.Br:
				sb.WriteByte('\n')
			}
			if isHiddenNode(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// listItems returns the text of each li. Nested lists are flattened after
// their parent item.
func listItems(list *html.Node) []string {
	var items []string
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		var own strings.Builder
		var nested []string
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Ul || c.DataAtom == atom.Ol) {
				nested = append(nested, listItems(c)...)
				continue
			}
			own.WriteString(nodeText(c))
		}
		if t := collapseSpace(own.String()); t != "" {
			items = append(items, t)
		}
		items = append(items, nested...)
	}
	return items
}

func tableRows(tbl *html.Node) []string {
	var rows []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					cells = append(cells, collapseSpace(nodeText(c)))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(tbl)
	return rows
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) || (a.Namespace != "" && strings.EqualFold(a.Namespace+":"+a.Key, key)) {
			return a.Val
		}
	}
	return ""
}

func isHiddenNode(n *html.Node) bool {
	if _, ok := findAttr(n, "hidden"); ok {
		return true
	}
	style := strings.ToLower(strings.ReplaceAll(attrOf(n, "style"), " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func findAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// findElement returns the first element with the given atom.
func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findElement(c, a); f != nil {
			return f
		}
	}
	return nil
}

func bodyOf(doc *html.Node) *html.Node {
	if body := findElement(doc, atom.Body); body != nil {
		return body
	}
	return doc
}

// htmlMetadata reads title, meta tags and the document language.
func htmlMetadata(doc *html.Node, meta *Metadata) {
	if t := findElement(doc, atom.Title); t != nil {
		meta.Title = collapseSpace(nodeText(t))
	}
	if root := findElement(doc, atom.Html); root != nil {
		meta.setExtra("language", canonicalLanguage(attrOf(root, "lang")))
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Meta {
			content := strings.TrimSpace(attrOf(n, "content"))
			switch strings.ToLower(attrOf(n, "name")) {
			case "author":
				meta.Author = content
			case "description":
				meta.Subject = content
			case "keywords":
				meta.Keywords = splitKeywords(content)
			case "generator":
				meta.setExtra("generator", content)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
}

// canonicalLanguage returns the BCP 47 form of a language tag, or "" when
// it does not parse.
func canonicalLanguage(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	tag, err := language.Parse(s)
	if err != nil {
		return ""
	}
	return tag.String()
}

func firstHeading(els []Element) string {
	for _, e := range els {
		if e.Type == ElementHeading {
			return e.Content
		}
	}
	return ""
}
