package parser

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/brunobiangulo/docstruct/bitmap"
)

// PDFConfig holds the tunables of PDF structure reconstruction.
type PDFConfig struct {
	// ParagraphGapMultiplier scales the median item height into the
	// vertical distance between consecutive items that forces a paragraph
	// break.
	ParagraphGapMultiplier float64 `json:"paragraph_gap_multiplier" yaml:"paragraph_gap_multiplier"`
	// HeadingSizeMultiplier scales the median font size into the size
	// above which text is treated as a heading.
	HeadingSizeMultiplier float64 `json:"heading_size_multiplier" yaml:"heading_size_multiplier"`
	// WordSpaceThreshold scales the font size into the horizontal gap that
	// inserts a space between runs on one line.
	WordSpaceThreshold float64 `json:"word_space_threshold" yaml:"word_space_threshold"`
	// SameLineThreshold scales item heights into the vertical tolerance
	// for two runs to share a line.
	SameLineThreshold float64 `json:"same_line_threshold" yaml:"same_line_threshold"`

	// CharSpacingRatio is the share of single-character tokens above which
	// letter-spaced text is collapsed back into words.
	CharSpacingRatio float64 `json:"char_spacing_ratio" yaml:"char_spacing_ratio"`
	// GarbledSampleItems is how many leading text items feed the
	// garbled-encoding check.
	GarbledSampleItems int `json:"garbled_sample_items" yaml:"garbled_sample_items"`
	// MaxImagePixels caps width*height of an image decoded into a figure.
	MaxImagePixels int `json:"max_image_pixels" yaml:"max_image_pixels"`
}

// DefaultPDFConfig returns the reconstruction defaults.
func DefaultPDFConfig() PDFConfig {
	return PDFConfig{
		ParagraphGapMultiplier: 2.0,
		HeadingSizeMultiplier:  1.15,
		WordSpaceThreshold:     0.3,
		SameLineThreshold:      0.5,
		CharSpacingRatio:       0.4,
		GarbledSampleItems:     50,
		MaxImagePixels:         16 << 20,
	}
}

// Validate checks that every tunable is usable.
func (c PDFConfig) Validate() error {
	switch {
	case c.ParagraphGapMultiplier <= 0:
		return fmt.Errorf("paragraph_gap_multiplier must be positive")
	case c.HeadingSizeMultiplier <= 1:
		return fmt.Errorf("heading_size_multiplier must be greater than 1")
	case c.WordSpaceThreshold < 0:
		return fmt.Errorf("word_space_threshold must not be negative")
	case c.SameLineThreshold <= 0:
		return fmt.Errorf("same_line_threshold must be positive")
	case c.CharSpacingRatio <= 0 || c.CharSpacingRatio > 1:
		return fmt.Errorf("char_spacing_ratio must be in (0, 1]")
	case c.GarbledSampleItems < 1:
		return fmt.Errorf("garbled_sample_items must be at least 1")
	case c.MaxImagePixels < 1:
		return fmt.Errorf("max_image_pixels must be at least 1")
	}
	return nil
}

// TextItem is one positioned glyph run in top-down page coordinates.
type TextItem struct {
	Page     int
	X, Y     float64
	Width    float64
	Height   float64
	FontSize float64
	FontName string
	Text     string
}

// ImageItem is one placed image. Pixels holds Gray, RGB or RGBA samples
// when the image could be decoded; Err is set otherwise.
type ImageItem struct {
	Page          int
	X, Y          float64
	Width, Height float64
	Pixels        []byte
	PixelWidth    int
	PixelHeight   int
	Err           error
}

// ---------------------------------------------------------------------------
// Reading order
// ---------------------------------------------------------------------------

// sortReadingOrder returns items ordered by page, then line, then x. Items
// share a line when their tops differ by at most threshold times the larger
// of the two heights.
func sortReadingOrder(items []TextItem, threshold float64) []TextItem {
	s := make([]TextItem, len(items))
	copy(s, items)
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Page != s[j].Page {
			return s[i].Page < s[j].Page
		}
		if s[i].Y != s[j].Y {
			return s[i].Y < s[j].Y
		}
		return s[i].X < s[j].X
	})

	out := make([]TextItem, 0, len(s))
	for start := 0; start < len(s); {
		anchor := s[start]
		end := start + 1
		for end < len(s) && s[end].Page == anchor.Page &&
			math.Abs(s[end].Y-anchor.Y) <= threshold*math.Max(s[end].Height, anchor.Height) {
			end++
		}
		line := s[start:end]
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
		out = append(out, line...)
		start = end
	}
	return out
}

// ---------------------------------------------------------------------------
// Block scanner
// ---------------------------------------------------------------------------

type scanState int

const (
	stateClosed scanState = iota
	stateInParagraph
	stateInHeading
)

// block is a finished paragraph or heading before list detection.
type block struct {
	heading  bool
	level    int
	text     string
	page     int
	x, y     float64
	fontSize float64
}

// scanner groups sorted text items into blocks. Each item either extends
// the open block or closes it and opens a new one.
type scanner struct {
	cfg          PDFConfig
	medianSize   float64
	medianHeight float64

	state    scanState
	buf      strings.Builder
	cur      block
	prev     TextItem
	finished []block
}

func newScanner(cfg PDFConfig, items []TextItem) *scanner {
	sizes := make([]float64, 0, len(items))
	heights := make([]float64, 0, len(items))
	for _, it := range items {
		sizes = append(sizes, it.FontSize)
		heights = append(heights, it.Height)
	}
	s := &scanner{cfg: cfg, medianSize: median(sizes), medianHeight: median(heights)}
	if s.medianHeight <= 0 {
		s.medianHeight = s.medianSize
	}
	return s
}

func (s *scanner) isHeading(it TextItem) bool {
	return s.medianSize > 0 && it.FontSize > s.medianSize*s.cfg.HeadingSizeMultiplier
}

func (s *scanner) feed(it TextItem) {
	if strings.TrimSpace(it.Text) == "" && s.state == stateClosed {
		return
	}
	want := stateInParagraph
	if s.isHeading(it) {
		want = stateInHeading
	}
	if s.state != stateClosed && s.breaksBefore(it, want) {
		s.close()
	}
	if s.state == stateClosed {
		s.open(it, want)
	} else {
		s.extend(it)
	}
	s.prev = it
}

// breaksBefore reports whether it must start a new block.
func (s *scanner) breaksBefore(it TextItem, want scanState) bool {
	if it.Page != s.prev.Page {
		return true
	}
	if want != s.state {
		return true
	}
	return it.Y-s.prev.Y > s.cfg.ParagraphGapMultiplier*s.medianHeight
}

func (s *scanner) open(it TextItem, st scanState) {
	s.state = st
	s.buf.Reset()
	s.buf.WriteString(strings.TrimLeft(it.Text, " "))
	s.cur = block{
		heading:  st == stateInHeading,
		page:     it.Page,
		x:        it.X,
		y:        it.Y,
		fontSize: it.FontSize,
	}
}

func (s *scanner) extend(it TextItem) {
	if it.FontSize > s.cur.fontSize {
		s.cur.fontSize = it.FontSize
	}
	if it.X < s.cur.x {
		s.cur.x = it.X
	}
	acc := s.buf.String()
	endsSpace := strings.HasSuffix(acc, " ")
	startsSpace := strings.HasPrefix(it.Text, " ")

	if math.Abs(it.Y-s.prev.Y) < s.cfg.SameLineThreshold*s.medianHeight {
		gap := it.X - (s.prev.X + s.prev.Width)
		if gap > s.cfg.WordSpaceThreshold*it.FontSize && !endsSpace && !startsSpace {
			s.buf.WriteByte(' ')
		}
		s.buf.WriteString(it.Text)
		return
	}

	// Line wrap inside the block.
	trimmed := strings.TrimRight(acc, " ")
	if strings.HasSuffix(trimmed, "-") && len(trimmed) > 1 {
		s.buf.Reset()
		s.buf.WriteString(strings.TrimSuffix(trimmed, "-"))
		s.buf.WriteString(strings.TrimLeft(it.Text, " "))
		return
	}
	if !endsSpace && !startsSpace {
		s.buf.WriteByte(' ')
	}
	s.buf.WriteString(it.Text)
}

func (s *scanner) close() {
	if s.state == stateClosed {
		return
	}
	text := collapseSpace(repairCharSpacing(s.buf.String(), s.cfg.CharSpacingRatio))
	if text != "" {
		b := s.cur
		b.text = text
		if b.heading {
			b.level = headingLevel(b.fontSize / s.medianSize)
		}
		s.finished = append(s.finished, b)
	}
	s.state = stateClosed
	s.buf.Reset()
}

// scanBlocks runs the scanner over items already in reading order.
func scanBlocks(items []TextItem, cfg PDFConfig) []block {
	s := newScanner(cfg, items)
	for _, it := range items {
		s.feed(it)
	}
	s.close()
	return s.finished
}

// ---------------------------------------------------------------------------
// Assembly
// ---------------------------------------------------------------------------

// layoutResult is the reconstructed structure of one PDF.
type layoutResult struct {
	elements     []Element
	text         string
	garbled      bool
	unresolved   int
	decodedCount int
}

// reconstruct turns positioned text and image items into structural
// elements. items are in extraction order.
func reconstruct(items []TextItem, images []ImageItem, cfg PDFConfig) layoutResult {
	var res layoutResult
	res.garbled = looksGarbled(garbledSample(items, cfg.GarbledSampleItems))

	blocks := scanBlocks(sortReadingOrder(items, cfg.SameLineThreshold), cfg)

	prose := make([]string, 0, len(blocks))
	els := make([]Element, 0, len(blocks))
	for _, b := range blocks {
		pos := &Position{Page: b.page, X: b.x, Y: b.y}
		var e Element
		if b.heading {
			e = Heading(b.text, b.level)
		} else {
			e = Paragraph(b.text)
		}
		e.Position = pos
		els = append(els, e)
	}
	els = buildLists(els)
	for _, e := range els {
		if e.Type == ElementParagraph || e.Type == ElementHeading {
			prose = append(prose, e.Content)
		}
	}
	res.text = strings.Join(prose, "\n\n")

	figures, unresolved := figureElements(images)
	res.decodedCount = len(figures)
	res.unresolved = unresolved
	if len(figures) > 0 {
		els = append(els, Heading("Figures", 2))
		els = append(els, figures...)
	}
	if unresolved > 0 {
		els = append(els, Paragraph(unresolvedNote(unresolved)))
	}
	res.elements = els
	return res
}

// figureElements encodes decodable images as bitmap data URIs ordered by
// page then y, and counts the rest.
func figureElements(images []ImageItem) ([]Element, int) {
	ordered := make([]ImageItem, len(images))
	copy(ordered, images)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Page != ordered[j].Page {
			return ordered[i].Page < ordered[j].Page
		}
		return ordered[i].Y < ordered[j].Y
	})

	var out []Element
	unresolved := 0
	for _, img := range ordered {
		if img.Err != nil {
			unresolved++
			continue
		}
		bmp, err := bitmap.Encode(img.Pixels, img.PixelWidth, img.PixelHeight)
		if err != nil {
			unresolved++
			continue
		}
		alt := fmt.Sprintf("Figure %d (page %d)", len(out)+1, img.Page)
		out = append(out, Image(bitmap.DataURI(bmp), alt, &Position{Page: img.Page, X: img.X, Y: img.Y}))
	}
	return out, unresolved
}

func unresolvedNote(n int) string {
	if n == 1 {
		return "1 embedded image could not be decoded and was omitted."
	}
	return fmt.Sprintf("%d embedded images could not be decoded and were omitted.", n)
}
