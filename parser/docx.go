package parser

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

const docxMainPart = "word/document.xml"

// DOCXParser streams the body of a WordprocessingML document in order.
type DOCXParser struct{}

func (p *DOCXParser) SupportedExtensions() []string { return []string{".docx"} }

func (p *DOCXParser) Supports(ext string) bool { return supports(p.SupportedExtensions(), ext) }

func (p *DOCXParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	return parseFile(ctx, p, path)
}

func (p *DOCXParser) ParseBytes(ctx context.Context, data []byte, path string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := openArchive(data, path)
	if err != nil {
		return nil, err
	}
	docXML, err := a.read(docxMainPart)
	if err != nil {
		return nil, corrupt(path, "reading document", err)
	}
	root, err := parseXMLNode(docXML)
	if err != nil {
		return nil, corrupt(path, "parsing document.xml", err)
	}
	body := root.child("body")
	if body == nil {
		return nil, corrupt(path, "parsing document.xml", fmt.Errorf("no body element"))
	}

	b := newBuilder("docx", len(data))
	a.readProperties(&b.doc.Metadata)

	w := &docxWalker{
		b:         b,
		rels:      a.readRels(docxMainPart),
		media:     newMediaIndex(a),
		styles:    readDocxStyles(a),
		numbering: readDocxNumbering(a),
	}
	w.blocks(body)
	w.flushList()
	w.media.report(b)

	if b.doc.Metadata.Title == "" {
		for _, e := range b.doc.Elements {
			if e.Type == ElementHeading {
				b.doc.Metadata.Title = e.Content
				break
			}
		}
	}
	return b.finish(), nil
}

// docxWalker turns body children into elements, merging consecutive
// numbered paragraphs into lists.
type docxWalker struct {
	b         *builder
	rels      map[string]string
	media     *mediaIndex
	styles    map[string]string
	numbering map[string]bool // numId -> ordered

	listItems   []string
	listOrdered bool
}

func (w *docxWalker) blocks(parent *xmlNode) {
	for i := range parent.Nodes {
		n := &parent.Nodes[i]
		switch n.XMLName.Local {
		case "p":
			w.paragraph(n)
		case "tbl":
			w.flushList()
			w.table(n)
		case "sdt":
			if c := n.child("sdtContent"); c != nil {
				w.blocks(c)
			}
		}
	}
}

func (w *docxWalker) paragraph(p *xmlNode) {
	text, images := w.runs(p)
	style := w.styleName(p)

	if numID, ok := w.listNumID(p, style); ok && strings.TrimSpace(text) != "" {
		ordered := w.numbering[numID]
		if strings.Contains(style, "listbullet") {
			ordered = false
		} else if strings.Contains(style, "listnumber") {
			ordered = true
		}
		if len(w.listItems) > 0 && ordered != w.listOrdered {
			w.flushList()
		}
		w.listItems = append(w.listItems, strings.TrimSpace(text))
		w.listOrdered = ordered
		w.b.add(images...)
		return
	}
	w.flushList()

	text = strings.TrimSpace(text)
	if text != "" {
		switch {
		case docxHeadingLevel(p, style) > 0:
			w.b.add(Heading(collapseSpace(text), docxHeadingLevel(p, style)))
		case strings.Contains(style, "quote"):
			w.b.add(Blockquote(text))
		case isCodeStyle(style):
			w.b.add(Code(text))
		default:
			w.b.add(Paragraph(text))
		}
	}
	w.b.add(images...)
}

func (w *docxWalker) flushList() {
	if len(w.listItems) == 0 {
		return
	}
	w.b.add(List(w.listItems, w.listOrdered))
	w.listItems = nil
}

// runs collects the visible text of a paragraph and the images it embeds.
func (w *docxWalker) runs(p *xmlNode) (string, []Element) {
	var sb strings.Builder
	var images []Element
	var alt string
	p.walk(func(n *xmlNode) bool {
		switch n.XMLName.Local {
		case "t", "delText":
			if n.XMLName.Local == "t" {
				sb.WriteString(n.Content)
			}
			return false
		case "tab":
			sb.WriteByte('\t')
		case "br", "cr":
			sb.WriteByte('\n')
		case "docPr":
			alt = firstNonEmpty(n.attr("descr"), n.attr("title"))
		case "blip":
			images = w.appendImage(images, n.attr("embed"), alt)
		case "imagedata":
			images = w.appendImage(images, n.attr("id"), n.attr("title"))
		case "del", "instrText":
			return false
		}
		return true
	})
	return sb.String(), images
}

func (w *docxWalker) appendImage(images []Element, rID, alt string) []Element {
	if rID == "" {
		return images
	}
	target, ok := w.rels[rID]
	if !ok {
		w.media.unresolved++
		slog.Debug("docx: image relationship missing", "rId", rID)
		return images
	}
	uri, ok := w.media.dataURI(docxMainPart, target)
	if !ok {
		slog.Debug("docx: image part not found", "target", target)
		return images
	}
	return append(images, Image(uri, alt, nil))
}

// table renders rows as pipe-delimited lines in one paragraph.
func (w *docxWalker) table(tbl *xmlNode) {
	var rows []string
	for i := range tbl.Nodes {
		tr := &tbl.Nodes[i]
		if tr.XMLName.Local != "tr" {
			continue
		}
		var cells []string
		for j := range tr.Nodes {
			tc := &tr.Nodes[j]
			if tc.XMLName.Local != "tc" {
				continue
			}
			var parts []string
			for k := range tc.Nodes {
				if tc.Nodes[k].XMLName.Local == "p" {
					if t, _ := w.runs(&tc.Nodes[k]); strings.TrimSpace(t) != "" {
						parts = append(parts, collapseSpace(t))
					}
				}
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		if len(cells) > 0 {
			rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
		}
	}
	if len(rows) > 0 {
		w.b.add(Paragraph(strings.Join(rows, "\n")))
	}
}

// styleName returns the paragraph style, resolved through styles.xml and
// normalized to lower case without spaces.
func (w *docxWalker) styleName(p *xmlNode) string {
	ppr := p.child("pPr")
	if ppr == nil {
		return ""
	}
	ps := ppr.child("pStyle")
	if ps == nil {
		return ""
	}
	id := ps.attr("val")
	if name, ok := w.styles[id]; ok {
		return name
	}
	return normalizeStyle(id)
}

// listNumID reports the numbering instance of a list paragraph. List styles
// without explicit numbering count as lists too.
func (w *docxWalker) listNumID(p *xmlNode, style string) (string, bool) {
	if ppr := p.child("pPr"); ppr != nil {
		if num := ppr.child("numPr"); num != nil {
			if id := num.child("numId"); id != nil && id.attr("val") != "0" {
				return id.attr("val"), true
			}
		}
	}
	if strings.HasPrefix(style, "listbullet") || strings.HasPrefix(style, "listnumber") {
		return "", true
	}
	return "", false
}

// docxHeadingLevel returns 1..6 for heading paragraphs and 0 otherwise.
func docxHeadingLevel(p *xmlNode, style string) int {
	switch {
	case style == "title":
		return 1
	case strings.HasPrefix(style, "heading"):
		n, err := strconv.Atoi(strings.TrimPrefix(style, "heading"))
		if err != nil || n < 1 {
			return 1
		}
		return min(n, 6)
	}
	if ppr := p.child("pPr"); ppr != nil {
		if ol := ppr.child("outlineLvl"); ol != nil {
			if n, err := strconv.Atoi(ol.attr("val")); err == nil && n < 9 {
				return min(n+1, 6)
			}
		}
	}
	return 0
}

func isCodeStyle(style string) bool {
	for _, s := range []string{"code", "preformatted", "sourcetext", "macrotext"} {
		if strings.Contains(style, s) {
			return true
		}
	}
	return false
}

func normalizeStyle(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", ""))
}

// readDocxStyles maps style IDs to normalized style names.
func readDocxStyles(a *archive) map[string]string {
	out := map[string]string{}
	data, err := a.read("word/styles.xml")
	if err != nil {
		return out
	}
	var styles struct {
		Styles []struct {
			ID   string `xml:"styleId,attr"`
			Name struct {
				Val string `xml:"val,attr"`
			} `xml:"name"`
		} `xml:"style"`
	}
	if err := xml.Unmarshal(data, &styles); err != nil {
		return out
	}
	for _, s := range styles.Styles {
		if s.Name.Val != "" {
			out[s.ID] = normalizeStyle(s.Name.Val)
		}
	}
	return out
}

// readDocxNumbering maps numId to whether its first level is ordered.
func readDocxNumbering(a *archive) map[string]bool {
	out := map[string]bool{}
	data, err := a.read("word/numbering.xml")
	if err != nil {
		return out
	}
	var numbering struct {
		Abstract []struct {
			ID     string `xml:"abstractNumId,attr"`
			Levels []struct {
				Ilvl   string `xml:"ilvl,attr"`
				NumFmt struct {
					Val string `xml:"val,attr"`
				} `xml:"numFmt"`
			} `xml:"lvl"`
		} `xml:"abstractNum"`
		Nums []struct {
			ID       string `xml:"numId,attr"`
			Abstract struct {
				Val string `xml:"val,attr"`
			} `xml:"abstractNumId"`
		} `xml:"num"`
	}
	if err := xml.Unmarshal(data, &numbering); err != nil {
		return out
	}
	ordered := make(map[string]bool, len(numbering.Abstract))
	for _, an := range numbering.Abstract {
		for _, lvl := range an.Levels {
			if lvl.Ilvl == "0" {
				ordered[an.ID] = lvl.NumFmt.Val != "bullet" && lvl.NumFmt.Val != "none"
			}
		}
	}
	for _, n := range numbering.Nums {
		out[n.ID] = ordered[n.Abstract.Val]
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
