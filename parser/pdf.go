package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// defaultPageHeight is US Letter, used when no MediaBox can be found.
const defaultPageHeight = 792.0

// PDFParser rebuilds paragraphs, headings, lists and figures from the
// positioned glyphs of a PDF.
type PDFParser struct {
	cfg PDFConfig
}

// NewPDFParser returns a PDF parser using cfg.
func NewPDFParser(cfg PDFConfig) *PDFParser {
	return &PDFParser{cfg: cfg}
}

func (p *PDFParser) SupportedExtensions() []string { return []string{".pdf"} }

func (p *PDFParser) Supports(ext string) bool { return supports(p.SupportedExtensions(), ext) }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	return parseFile(ctx, p, path)
}

func (p *PDFParser) ParseBytes(ctx context.Context, data []byte, path string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := p.cfg
	if cfg == (PDFConfig{}) {
		cfg = DefaultPDFConfig()
	}
	b := newBuilder("pdf", len(data))

	r, err := openPDF(data)
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			b.warn(WarnEncrypted, -1, "document is encrypted; content not extracted")
			return b.finish(), nil
		}
		return nil, corrupt(path, "opening PDF", err)
	}

	pdfMetadata(r, &b.doc.Metadata)

	var items []TextItem
	var images []ImageItem
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		height := pageHeight(page.V)

		pageItems, err := pageText(page, i, height)
		if err != nil {
			slog.Debug("pdf: page content failed", "page", i, "error", err)
			b.warn(WarnItemFailed, i, "page %d: text could not be extracted: %v", i, err)
		}
		items = append(items, pageItems...)
		images = append(images, pageImages(page, i, height, cfg.MaxImagePixels)...)
	}

	res := reconstruct(items, images, cfg)
	b.add(res.elements...)
	b.setText(res.text)

	if res.garbled {
		b.warn(WarnEncodingUncertain, -1, "text sample looks garbled; the document may use non-standard font encodings")
	}
	if res.unresolved > 0 {
		b.warn(WarnImagesUnresolved, -1, "%d of %d images could not be decoded", res.unresolved, res.unresolved+res.decodedCount)
	}
	if res.text == "" && len(items) == 0 {
		b.warn(WarnContentEmpty, -1, "no extractable text; the PDF may be scanned")
	}
	return b.finish(), nil
}

// openPDF wraps pdf.NewReader, which panics on some malformed xref tables.
func openPDF(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("malformed PDF: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// pageText extracts the page's glyphs and coalesces them into runs.
func pageText(page pdf.Page, pageNum int, height float64) (items []TextItem, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("content stream: %v", rec)
		}
	}()
	return coalesceGlyphs(page.Content().Text, pageNum, height), nil
}

// coalesceGlyphs merges consecutive glyphs sharing a baseline, font and size
// whose boxes touch into one TextItem. y is flipped to top-down using the
// page height, and the font size doubles as the item height.
func coalesceGlyphs(glyphs []pdf.Text, pageNum int, height float64) []TextItem {
	var out []TextItem
	var cur *TextItem
	var baseline float64
	var sb strings.Builder

	flush := func() {
		if cur != nil {
			cur.Text = sb.String()
			if strings.TrimSpace(cur.Text) != "" {
				out = append(out, *cur)
			}
			cur = nil
			sb.Reset()
		}
	}

	for _, g := range glyphs {
		if g.S == "" {
			continue
		}
		size := math.Abs(g.FontSize)
		if cur != nil {
			right := cur.X + cur.Width
			contiguous := math.Abs(g.Y-baseline) < 0.01 &&
				g.Font == cur.FontName &&
				math.Abs(size-cur.FontSize) < 0.01 &&
				math.Abs(g.X-right) <= 0.1*size
			if contiguous {
				sb.WriteString(g.S)
				cur.Width = g.X + g.W - cur.X
				continue
			}
			flush()
		}
		baseline = g.Y
		cur = &TextItem{
			Page:     pageNum,
			X:        g.X,
			Y:        height - g.Y - size,
			Width:    g.W,
			Height:   size,
			FontSize: size,
			FontName: g.Font,
		}
		sb.WriteString(g.S)
	}
	flush()
	return out
}

// pageHeight reads the MediaBox, walking up the page tree for the
// inherited value.
func pageHeight(v pdf.Value) float64 {
	for i := 0; i < 32 && !v.IsNull(); i++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			if h := box.Index(3).Float64() - box.Index(1).Float64(); h > 0 {
				return h
			}
		}
		v = v.Key("Parent")
	}
	return defaultPageHeight
}

// pdfMetadata fills meta from the trailer Info dictionary.
func pdfMetadata(r *pdf.Reader, meta *Metadata) {
	meta.Pages = r.NumPage()
	info := r.Trailer().Key("Info")
	if info.Kind() != pdf.Dict {
		return
	}
	meta.Title = strings.TrimSpace(info.Key("Title").Text())
	meta.Author = strings.TrimSpace(info.Key("Author").Text())
	meta.Subject = strings.TrimSpace(info.Key("Subject").Text())
	meta.Keywords = splitKeywords(info.Key("Keywords").Text())
	meta.setExtra("creator", strings.TrimSpace(info.Key("Creator").Text()))
	meta.setExtra("producer", strings.TrimSpace(info.Key("Producer").Text()))
	if t, ok := parsePDFDate(info.Key("CreationDate").Text()); ok {
		meta.Created = t
	}
	if t, ok := parsePDFDate(info.Key("ModDate").Text()); ok {
		meta.Modified = t
	}
}

// splitKeywords splits a comma or semicolon separated keyword string.
func splitKeywords(s string) []string {
	var out []string
	for _, kw := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// parsePDFDate parses "D:YYYYMMDDHHmmSSOHH'mm'" where every field after
// the year is optional.
func parsePDFDate(s string) (time.Time, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	n := 0
	for n < len(s) && n < 14 && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n < 4 || n%2 != 0 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102150405"[:n], s[:n])
	if err != nil {
		return time.Time{}, false
	}
	tz := strings.ReplaceAll(s[n:], "'", "")
	if len(tz) >= 3 && (tz[0] == '+' || tz[0] == '-') {
		hh, err1 := strconv.Atoi(tz[1:3])
		mm := 0
		var err2 error
		if len(tz) >= 5 {
			mm, err2 = strconv.Atoi(tz[3:5])
		}
		if err1 == nil && err2 == nil {
			offset := hh*3600 + mm*60
			if tz[0] == '-' {
				offset = -offset
			}
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0,
				time.FixedZone("", offset))
		}
	}
	return t, true
}
