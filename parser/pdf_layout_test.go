package parser

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

// line builds a single full-line text item at body size 12.
func line(page int, y float64, text string) TextItem {
	return TextItem{Page: page, X: 72, Y: y, Width: float64(len(text)) * 6, Height: 12, FontSize: 12, Text: text}
}

func sized(y, size float64, text string) TextItem {
	return TextItem{Page: 1, X: 72, Y: y, Width: float64(len(text)) * size / 2, Height: size, FontSize: size, Text: text}
}

func elementTypes(els []Element) []ElementType {
	out := make([]ElementType, len(els))
	for i, e := range els {
		out[i] = e.Type
	}
	return out
}

// ---------------------------------------------------------------------------
// Paragraph and heading detection
// ---------------------------------------------------------------------------

func TestReconstructSplitsParagraphsOnLargeGap(t *testing.T) {
	// A 14pt line pitch stays in one paragraph; a 36pt pitch (3x the
	// 12pt median height) starts the next one.
	items := []TextItem{
		line(1, 100, "The first paragraph starts here"),
		line(1, 114, "and continues on a second line."),
		line(1, 150, "The second paragraph stands alone."),
	}
	res := reconstruct(items, nil, DefaultPDFConfig())

	if got := elementTypes(res.elements); !reflect.DeepEqual(got, []ElementType{ElementParagraph, ElementParagraph}) {
		t.Fatalf("element types = %v, want two paragraphs", got)
	}
	if want := "The first paragraph starts here and continues on a second line."; res.elements[0].Content != want {
		t.Errorf("first paragraph = %q, want %q", res.elements[0].Content, want)
	}
	if res.elements[1].Content != "The second paragraph stands alone." {
		t.Errorf("second paragraph = %q", res.elements[1].Content)
	}
}

func TestReconstructHeadingLevels(t *testing.T) {
	tests := []struct {
		name      string
		size      float64
		wantType  ElementType
		wantLevel int
	}{
		{"double_size", 24, ElementHeading, 1},
		{"one_and_three_quarters", 21, ElementHeading, 2},
		{"one_and_a_half", 18, ElementHeading, 3},
		{"slightly_larger", 14, ElementHeading, 5},
		{"body_size", 12, ElementParagraph, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := []TextItem{
				sized(50, tt.size, "Introduction"),
				sized(100, 12, "Body text one."),
				sized(150, 12, "Body text two."),
				sized(200, 12, "Body text three."),
			}
			res := reconstruct(items, nil, DefaultPDFConfig())
			first := res.elements[0]
			if first.Type != tt.wantType {
				t.Fatalf("type = %s, want %s", first.Type, tt.wantType)
			}
			if first.Level != tt.wantLevel {
				t.Errorf("level = %d, want %d", first.Level, tt.wantLevel)
			}
			if first.Position == nil || first.Position.Page != 1 {
				t.Errorf("position = %+v, want page 1", first.Position)
			}
		})
	}
}

func TestReconstructParagraphPitch(t *testing.T) {
	tests := []struct {
		name string
		ys   []float64
		want int
	}{
		{"two_clusters_at_three_line_heights", []float64{100, 112, 148}, 2},
		{"body_leading_then_paragraph_spacing", []float64{100, 114.4, 128.8, 157.6, 172}, 2},
		{"pitch_at_threshold_stays_together", []float64{100, 124}, 1},
		{"uniform_leading", []float64{100, 114.4, 128.8, 143.2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var items []TextItem
			for _, y := range tt.ys {
				items = append(items, line(1, y, "body text"))
			}
			res := reconstruct(items, nil, DefaultPDFConfig())
			if len(res.elements) != tt.want {
				t.Errorf("got %d elements %v, want %d", len(res.elements), elementTypes(res.elements), tt.want)
			}
		})
	}
}

func TestReconstructHeadingBreaksParagraph(t *testing.T) {
	// No vertical gap at all: the font size change alone closes the heading.
	items := []TextItem{
		sized(50, 24, "Title"),
		sized(74, 12, "Body directly under the title."),
		sized(88, 12, "More body."),
	}
	res := reconstruct(items, nil, DefaultPDFConfig())
	if got := elementTypes(res.elements); !reflect.DeepEqual(got, []ElementType{ElementHeading, ElementParagraph}) {
		t.Fatalf("element types = %v", got)
	}
}

func TestReconstructPageChangeBreaksParagraph(t *testing.T) {
	items := []TextItem{
		line(1, 700, "End of page one"),
		line(2, 60, "start of page two"),
	}
	res := reconstruct(items, nil, DefaultPDFConfig())
	if len(res.elements) != 2 {
		t.Fatalf("got %d elements, want 2", len(res.elements))
	}
	if res.elements[1].Position.Page != 2 {
		t.Errorf("second element page = %d, want 2", res.elements[1].Position.Page)
	}
}

// ---------------------------------------------------------------------------
// Line assembly
// ---------------------------------------------------------------------------

func TestReconstructJoinsRunsOnOneLine(t *testing.T) {
	items := []TextItem{
		{Page: 1, X: 100, Y: 100, Width: 30, Height: 12, FontSize: 12, Text: "Hello"},
		{Page: 1, X: 135, Y: 100, Width: 30, Height: 12, FontSize: 12, Text: "world"},
		{Page: 1, X: 165, Y: 100, Width: 4, Height: 12, FontSize: 12, Text: "!"},
	}
	res := reconstruct(items, nil, DefaultPDFConfig())
	if len(res.elements) != 1 || res.elements[0].Content != "Hello world!" {
		t.Errorf("elements = %+v, want one paragraph %q", res.elements, "Hello world!")
	}
}

func TestReconstructRejoinsHyphenatedWrap(t *testing.T) {
	items := []TextItem{
		line(1, 100, "Structure recon-"),
		line(1, 114, "struction works."),
	}
	res := reconstruct(items, nil, DefaultPDFConfig())
	if len(res.elements) != 1 {
		t.Fatalf("got %d elements", len(res.elements))
	}
	if got := res.elements[0].Content; got != "Structure reconstruction works." {
		t.Errorf("content = %q", got)
	}
}

func TestReconstructRepairsCharSpacing(t *testing.T) {
	items := []TextItem{line(1, 100, "S p a c e d  o u t")}
	res := reconstruct(items, nil, DefaultPDFConfig())
	if got := res.elements[0].Content; got != "Spaced out" {
		t.Errorf("content = %q, want %q", got, "Spaced out")
	}
}

func TestSortReadingOrder(t *testing.T) {
	items := []TextItem{
		{Page: 2, X: 0, Y: 10, Height: 12, Text: "c"},
		{Page: 1, X: 50, Y: 100, Height: 12, Text: "b"},
		{Page: 1, X: 10, Y: 101, Height: 12, Text: "a"},
		{Page: 1, X: 10, Y: 140, Height: 12, Text: "d"},
	}
	got := sortReadingOrder(items, 0.5)
	var order []string
	for _, it := range got {
		order = append(order, it.Text)
	}
	// "a" sits 1pt lower than "b" but on the same visual line.
	if want := []string{"a", "b", "d", "c"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if items[0].Text != "c" {
		t.Error("sortReadingOrder modified its input")
	}
}

// ---------------------------------------------------------------------------
// Lists and figures
// ---------------------------------------------------------------------------

func TestReconstructBuildsLists(t *testing.T) {
	items := []TextItem{
		line(1, 100, "Fruit we stock:"),
		line(1, 150, "• apple"),
		line(1, 190, "• banana"),
		line(1, 240, "Nothing else."),
	}
	res := reconstruct(items, nil, DefaultPDFConfig())
	want := []ElementType{ElementParagraph, ElementList, ElementParagraph}
	if got := elementTypes(res.elements); !reflect.DeepEqual(got, want) {
		t.Fatalf("element types = %v, want %v", got, want)
	}
	list := res.elements[1]
	if list.Ordered || !reflect.DeepEqual(list.Items, []string{"apple", "banana"}) {
		t.Errorf("list = %+v", list)
	}
	if strings.Contains(res.text, "apple") {
		t.Errorf("text %q includes list items", res.text)
	}
	if res.text != "Fruit we stock:\n\nNothing else." {
		t.Errorf("text = %q", res.text)
	}
}

func TestReconstructFigures(t *testing.T) {
	rgb := make([]byte, 2*2*3)
	images := []ImageItem{
		{Page: 2, Y: 10, Pixels: rgb, PixelWidth: 2, PixelHeight: 2},
		{Page: 1, Y: 300, Pixels: rgb, PixelWidth: 2, PixelHeight: 2},
		{Page: 1, Y: 100, Err: errors.New("unsupported filter")},
		{Page: 1, Y: 50, Pixels: []byte{1, 2, 3}, PixelWidth: 4, PixelHeight: 4},
	}
	items := []TextItem{line(1, 100, "Caption text.")}
	res := reconstruct(items, images, DefaultPDFConfig())

	if res.decodedCount != 2 || res.unresolved != 2 {
		t.Fatalf("decoded = %d unresolved = %d, want 2 and 2", res.decodedCount, res.unresolved)
	}
	want := []ElementType{ElementParagraph, ElementHeading, ElementImage, ElementImage, ElementParagraph}
	if got := elementTypes(res.elements); !reflect.DeepEqual(got, want) {
		t.Fatalf("element types = %v, want %v", got, want)
	}
	if h := res.elements[1]; h.Content != "Figures" || h.Level != 2 {
		t.Errorf("figures heading = %+v", h)
	}
	first, second := res.elements[2], res.elements[3]
	if first.Alt != "Figure 1 (page 1)" || second.Alt != "Figure 2 (page 2)" {
		t.Errorf("alts = %q, %q", first.Alt, second.Alt)
	}
	if !strings.HasPrefix(first.Src, "data:image/bmp;base64,") {
		t.Errorf("src = %.40q", first.Src)
	}
	if note := res.elements[4].Content; note != "2 embedded images could not be decoded and were omitted." {
		t.Errorf("note = %q", note)
	}
	if res.text != "Caption text." {
		t.Errorf("text = %q, figures must not appear in text", res.text)
	}
}

func TestReconstructFailedImageUnresolved(t *testing.T) {
	images := []ImageItem{{Page: 1, PixelWidth: 2, PixelHeight: 2, Err: errUndecodable}}
	res := reconstruct(nil, images, DefaultPDFConfig())
	if res.unresolved != 1 || res.decodedCount != 0 {
		t.Fatalf("decoded = %d unresolved = %d", res.decodedCount, res.unresolved)
	}
	if len(res.elements) != 1 || res.elements[0].Content != "1 embedded image could not be decoded and was omitted." {
		t.Errorf("elements = %+v", res.elements)
	}
}

func TestPDFConfigValidate(t *testing.T) {
	if err := DefaultPDFConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	mutations := map[string]func(*PDFConfig){
		"gap":     func(c *PDFConfig) { c.ParagraphGapMultiplier = 0 },
		"heading": func(c *PDFConfig) { c.HeadingSizeMultiplier = 1 },
		"word":    func(c *PDFConfig) { c.WordSpaceThreshold = -1 },
		"line":    func(c *PDFConfig) { c.SameLineThreshold = 0 },
		"spacing": func(c *PDFConfig) { c.CharSpacingRatio = 1.5 },
		"sample":  func(c *PDFConfig) { c.GarbledSampleItems = 0 },
		"pixels":  func(c *PDFConfig) { c.MaxImagePixels = 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultPDFConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
