package parser

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
)

// PPTXParser reads slides in numeric order. Each slide opens with a
// level-2 heading taken from its title placeholder.
type PPTXParser struct{}

func (p *PPTXParser) SupportedExtensions() []string { return []string{".pptx"} }

func (p *PPTXParser) Supports(ext string) bool { return supports(p.SupportedExtensions(), ext) }

func (p *PPTXParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	return parseFile(ctx, p, path)
}

func (p *PPTXParser) ParseBytes(ctx context.Context, data []byte, name string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := openArchive(data, name)
	if err != nil {
		return nil, err
	}
	slides := slideParts(a)
	if len(slides) == 0 && !a.has("ppt/presentation.xml") {
		return nil, corrupt(name, "reading presentation", fmt.Errorf("no slides or presentation part"))
	}

	b := newBuilder("pptx", len(data))
	a.readProperties(&b.doc.Metadata)
	media := newMediaIndex(a)

	for _, s := range slides {
		raw, err := a.read(s.part)
		var root *xmlNode
		if err == nil {
			root, err = parseXMLNode(raw)
		}
		if err != nil {
			slog.Debug("pptx: slide failed", "slide", s.num, "error", err)
			b.warn(WarnItemFailed, s.num, "slide %d could not be parsed: %v", s.num, err)
			continue
		}
		sw := &slideWalker{b: b, media: media, part: s.part, rels: a.readRels(s.part)}
		sw.slide(root, s.num)
	}
	media.report(b)

	if b.doc.Metadata.Pages == 0 {
		b.doc.Metadata.Pages = len(slides)
	}
	return b.finish(), nil
}

type slidePart struct {
	num  int
	part string
}

// slideParts lists ppt/slides/slideN.xml members ordered by N.
func slideParts(a *archive) []slidePart {
	var out []slidePart
	for key := range a.files {
		dir, file := path.Split(key)
		if dir != "ppt/slides/" || !strings.HasPrefix(file, "slide") || !strings.HasSuffix(file, ".xml") {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(strings.TrimSuffix(strings.TrimPrefix(file, "slide"), ".xml"), "%d", &n); err == nil && n > 0 {
			out = append(out, slidePart{num: n, part: key})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].num < out[j].num })
	return out
}

type slideWalker struct {
	b     *builder
	media *mediaIndex
	part  string
	rels  map[string]string

	items   []string
	ordered bool
}

func (w *slideWalker) slide(root *xmlNode, num int) {
	tree := root.find("spTree")
	if tree == nil {
		w.b.add(Heading(fmt.Sprintf("Slide %d", num), 2))
		return
	}

	title := ""
	tree.walk(func(n *xmlNode) bool {
		if n.XMLName.Local == "sp" && isTitleShape(n) {
			title = collapseSpace(shapeText(n))
			return false
		}
		return true
	})
	if title == "" {
		title = fmt.Sprintf("Slide %d", num)
	}
	w.b.add(Heading(title, 2))

	w.shapes(tree)
	w.flush()
}

func (w *slideWalker) shapes(parent *xmlNode) {
	for i := range parent.Nodes {
		n := &parent.Nodes[i]
		switch n.XMLName.Local {
		case "sp":
			if isTitleShape(n) {
				continue
			}
			w.textBody(n)
		case "grpSp":
			w.shapes(n)
		case "pic":
			w.flush()
			if blip := n.find("blip"); blip != nil {
				alt := ""
				if pr := n.find("cNvPr"); pr != nil {
					alt = firstNonEmpty(pr.attr("descr"), pr.attr("title"))
				}
				if target, ok := w.rels[blip.attr("embed")]; ok {
					if uri, ok := w.media.dataURI(w.part, target); ok {
						w.b.add(Image(uri, alt, nil))
					}
				} else {
					w.media.unresolved++
				}
			}
		case "graphicFrame":
			w.flush()
			if tbl := n.find("tbl"); tbl != nil {
				w.table(tbl)
			}
		}
	}
}

// textBody emits the paragraphs of a shape. Bulleted or indented
// paragraphs, and every paragraph of a body placeholder, become list items
// unless bullets are switched off.
func (w *slideWalker) textBody(sp *xmlNode) {
	body := sp.child("txBody")
	if body == nil {
		return
	}
	inBody := placeholderType(sp) == "body" || (hasPlaceholder(sp) && placeholderType(sp) == "")
	for i := range body.Nodes {
		p := &body.Nodes[i]
		if p.XMLName.Local != "p" {
			continue
		}
		text := strings.TrimSpace(paragraphText(p))
		if text == "" {
			continue
		}
		bulleted, ordered := bulletStyle(p, inBody)
		if !bulleted {
			w.flush()
			w.b.add(Paragraph(text))
			continue
		}
		if len(w.items) > 0 && ordered != w.ordered {
			w.flush()
		}
		w.items = append(w.items, text)
		w.ordered = ordered
	}
	w.flush()
}

func (w *slideWalker) flush() {
	if len(w.items) > 0 {
		w.b.add(List(w.items, w.ordered))
		w.items = nil
	}
}

func (w *slideWalker) table(tbl *xmlNode) {
	var rows []string
	for i := range tbl.Nodes {
		tr := &tbl.Nodes[i]
		if tr.XMLName.Local != "tr" {
			continue
		}
		var cells []string
		for j := range tr.Nodes {
			if tr.Nodes[j].XMLName.Local == "tc" {
				cells = append(cells, collapseSpace(shapeText(&tr.Nodes[j])))
			}
		}
		rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
	}
	if len(rows) > 0 {
		w.b.add(Paragraph(strings.Join(rows, "\n")))
	}
}

func hasPlaceholder(sp *xmlNode) bool {
	return sp.find("ph") != nil
}

func placeholderType(sp *xmlNode) string {
	if ph := sp.find("ph"); ph != nil {
		return ph.attr("type")
	}
	return ""
}

func isTitleShape(sp *xmlNode) bool {
	t := placeholderType(sp)
	return t == "title" || t == "ctrTitle"
}

// bulletStyle decides whether a paragraph is a list item and whether it
// is numbered.
func bulletStyle(p *xmlNode, inBody bool) (bulleted, ordered bool) {
	ppr := p.child("pPr")
	if ppr != nil {
		switch {
		case ppr.child("buNone") != nil:
			return false, false
		case ppr.child("buAutoNum") != nil:
			return true, true
		case ppr.child("buChar") != nil:
			return true, false
		}
		if lvl := ppr.attr("lvl"); lvl != "" && lvl != "0" {
			return true, false
		}
	}
	return inBody, false
}

// paragraphText joins the runs, fields and breaks of a DrawingML paragraph.
func paragraphText(p *xmlNode) string {
	var sb strings.Builder
	for i := range p.Nodes {
		n := &p.Nodes[i]
		switch n.XMLName.Local {
		case "r", "fld":
			if t := n.child("t"); t != nil {
				sb.WriteString(t.Content)
			}
		case "br":
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// shapeText returns all paragraph text under n, one line per paragraph.
func shapeText(n *xmlNode) string {
	var lines []string
	n.walk(func(c *xmlNode) bool {
		if c.XMLName.Local == "p" {
			if t := strings.TrimSpace(paragraphText(c)); t != "" {
				lines = append(lines, t)
			}
			return false
		}
		return true
	})
	return strings.Join(lines, "\n")
}
