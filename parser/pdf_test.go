package parser

import (
	"context"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ledongthuc/pdf"
)

// ---------------------------------------------------------------------------
// Hand-built PDF fixtures
// ---------------------------------------------------------------------------

// buildPDF lays out numbered objects (1-based, in order) with a correct
// xref table. trailerExtra is spliced into the trailer dictionary.
func buildPDF(objects []string, trailerExtra string) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects)+1)
	for i, obj := range objects {
		offsets[i+1] = b.Len()
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(" 0 obj\n")
		b.WriteString(obj)
		b.WriteString("\nendobj\n")
	}

	xrefOffset := b.Len()
	b.WriteString("xref\n0 ")
	b.WriteString(strconv.Itoa(len(objects) + 1))
	b.WriteString("\n0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		b.WriteString(pdfPadOffset(off))
		b.WriteString(" 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size ")
	b.WriteString(strconv.Itoa(len(objects) + 1))
	b.WriteString(" /Root 1 0 R ")
	b.WriteString(trailerExtra)
	b.WriteString(" >>\nstartxref\n")
	b.WriteString(strconv.Itoa(xrefOffset))
	b.WriteString("\n%%EOF\n")
	return []byte(b.String())
}

func pdfPadOffset(n int) string {
	s := strconv.Itoa(n)
	return strings.Repeat("0", 10-len(s)) + s
}

func pdfStream(dict, data string) string {
	return "<< " + dict + " /Length " + strconv.Itoa(len(data)) + " >>\nstream\n" + data + "\nendstream"
}

// helvetica declares uniform 500-unit glyph widths so runs have extent.
var helvetica = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /FirstChar 32 /LastChar 126 /Widths [" +
	strings.TrimSpace(strings.Repeat("500 ", 95)) + "] >>"

// reportPDF is one Letter page with a 24pt title, a two-line paragraph, a
// second paragraph after a wide gap, one raw RGB image and one JPEG the
// parser cannot decode.
func reportPDF() []byte {
	content := strings.Join([]string{
		"BT /F1 24 Tf 72 700 Td (Quarterly Report) Tj ET",
		"BT /F1 12 Tf 72 640 Td (First body line of the) Tj",
		"0 -14 Td (opening paragraph.) Tj",
		"0 -46 Td (A second paragraph follows.) Tj ET",
		"q 20 0 0 20 100 500 cm /Im1 Do Q",
		"q 30 0 0 30 200 400 cm /Im2 Do Q",
	}, "\n")
	rgb := "\xff\x00\x00\x00\xff\x00\x00\x00\xff\xff\xff\xff"
	return buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> /XObject << /Im1 6 0 R /Im2 7 0 R >> >> >>",
		pdfStream("", content),
		helvetica,
		pdfStream("/Type /XObject /Subtype /Image /Width 2 /Height 2 /ColorSpace /DeviceRGB /BitsPerComponent 8", rgb),
		pdfStream("/Type /XObject /Subtype /Image /Width 8 /Height 8 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode", "\xff\xd8\xff\xe0garbage"),
		"<< /Title (Quarterly Report) /Author (Jane Roe) /Keywords (finance, q1; report) /Producer (hand) /CreationDate (D:20240102030405Z) >>",
	}, "/Info 8 0 R")
}

// ---------------------------------------------------------------------------
// End-to-end parsing
// ---------------------------------------------------------------------------

func TestPDFParserReconstructsStructure(t *testing.T) {
	doc, err := NewPDFParser(DefaultPDFConfig()).ParseBytes(context.Background(), reportPDF(), "report.pdf")
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	want := []ElementType{ElementHeading, ElementParagraph, ElementParagraph, ElementHeading, ElementImage, ElementParagraph}
	if got := elementTypes(doc.Elements); !reflect.DeepEqual(got, want) {
		t.Fatalf("element types = %v, want %v\nelements: %+v", got, want, doc.Elements)
	}

	title := doc.Elements[0]
	if title.Content != "Quarterly Report" || title.Level != 1 {
		t.Errorf("title = %+v, want level-1 heading", title)
	}
	if title.Position == nil || title.Position.Page != 1 || title.Position.X != 72 || title.Position.Y != 68 {
		t.Errorf("title position = %+v, want page 1 at (72, 68)", title.Position)
	}
	if got := doc.Elements[1].Content; got != "First body line of the opening paragraph." {
		t.Errorf("first paragraph = %q", got)
	}
	if got := doc.Elements[2].Content; got != "A second paragraph follows." {
		t.Errorf("second paragraph = %q", got)
	}

	fig := doc.Elements[4]
	if fig.Alt != "Figure 1 (page 1)" || !strings.HasPrefix(fig.Src, "data:image/bmp;base64,") {
		t.Errorf("figure = alt %q src %.30q", fig.Alt, fig.Src)
	}
	if fig.Position == nil || fig.Position.X != 100 || fig.Position.Y != 272 {
		t.Errorf("figure position = %+v, want (100, 272)", fig.Position)
	}
	if got := doc.Elements[5].Content; got != "1 embedded image could not be decoded and was omitted." {
		t.Errorf("note = %q", got)
	}

	wantText := "Quarterly Report\n\nFirst body line of the opening paragraph.\n\nA second paragraph follows."
	if doc.Text != wantText {
		t.Errorf("Text = %q, want %q", doc.Text, wantText)
	}
	if !doc.HasWarning(WarnImagesUnresolved) {
		t.Errorf("warnings = %v, want images_unresolved", doc.Warnings)
	}
	if doc.HasWarning(WarnEncodingUncertain) || doc.HasWarning(WarnContentEmpty) {
		t.Errorf("unexpected warnings: %v", doc.Warnings)
	}
	for i, e := range doc.Elements {
		if e.Order != i {
			t.Errorf("element %d has Order %d", i, e.Order)
		}
		if err := e.Validate(); err != nil {
			t.Errorf("element %d: %v", i, err)
		}
	}
}

func TestPDFParserMetadata(t *testing.T) {
	doc, err := NewRegistry().ParseBytes(context.Background(), reportPDF(), "report.pdf")
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	m := doc.Metadata
	if m.Title != "Quarterly Report" || m.Author != "Jane Roe" {
		t.Errorf("title/author = %q/%q", m.Title, m.Author)
	}
	if m.Pages != 1 || m.Format != "pdf" {
		t.Errorf("pages/format = %d/%q", m.Pages, m.Format)
	}
	if !reflect.DeepEqual(m.Keywords, []string{"finance", "q1", "report"}) {
		t.Errorf("keywords = %v", m.Keywords)
	}
	if want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC); !m.Created.Equal(want) {
		t.Errorf("created = %v, want %v", m.Created, want)
	}
	if m.Extra["producer"] != "hand" {
		t.Errorf("extra = %v", m.Extra)
	}
}

func TestPDFParserImageOnlyPage(t *testing.T) {
	data := buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Contents 4 0 R /Resources << /XObject << /Im1 5 0 R >> >> >>",
		pdfStream("", "q 50 0 0 50 10 10 cm /Im1 Do Q"),
		pdfStream("/Type /XObject /Subtype /Image /Width 4 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", "\x00\x40\x80\xff"),
	}, "")
	doc, err := NewPDFParser(PDFConfig{}).ParseBytes(context.Background(), data, "scan.pdf")
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if !doc.HasWarning(WarnContentEmpty) {
		t.Errorf("warnings = %v, want content_empty", doc.Warnings)
	}
	if got := elementTypes(doc.Elements); !reflect.DeepEqual(got, []ElementType{ElementHeading, ElementImage}) {
		t.Errorf("element types = %v", got)
	}
	if img := doc.Elements[1]; img.Position.Y != 140 {
		t.Errorf("image y = %v, want 140 on a 200pt page", img.Position.Y)
	}
}

func TestPDFParserImagePixelLimit(t *testing.T) {
	data := buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Contents 4 0 R /Resources << /XObject << /Im1 5 0 R >> >> >>",
		pdfStream("", "q 50 0 0 50 10 10 cm /Im1 Do Q"),
		pdfStream("/Type /XObject /Subtype /Image /Width 4 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", "\x00\x40\x80\xff"),
	}, "")
	cfg := DefaultPDFConfig()
	cfg.MaxImagePixels = 3
	doc, err := NewPDFParser(cfg).ParseBytes(context.Background(), data, "scan.pdf")
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if !doc.HasWarning(WarnImagesUnresolved) {
		t.Errorf("warnings = %v, want images_unresolved", doc.Warnings)
	}
	if got := elementTypes(doc.Elements); !reflect.DeepEqual(got, []ElementType{ElementParagraph}) {
		t.Errorf("element types = %v, want only the unresolved note", got)
	}
}

func TestPDFParserEncrypted(t *testing.T) {
	zeros := strings.Repeat("00", 32)
	data := buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
		"<< /Filter /Standard /V 1 /R 2 /O <" + zeros + "> /U <" + zeros + "> /P -4 >>",
	}, "/Encrypt 3 0 R /ID [<00112233445566778899aabbccddeeff> <00112233445566778899aabbccddeeff>]")

	doc, err := NewPDFParser(DefaultPDFConfig()).ParseBytes(context.Background(), data, "locked.pdf")
	if err != nil {
		t.Fatalf("encrypted PDF must not fail: %v", err)
	}
	if !doc.HasWarning(WarnEncrypted) {
		t.Errorf("warnings = %v, want encrypted", doc.Warnings)
	}
	if len(doc.Elements) != 0 {
		t.Errorf("got %d elements from an encrypted file", len(doc.Elements))
	}
}

func TestPDFParserTruncated(t *testing.T) {
	data := reportPDF()
	_, err := NewPDFParser(DefaultPDFConfig()).ParseBytes(context.Background(), data[:len(data)/2], "cut.pdf")
	if err == nil {
		t.Fatal("expected error for truncated PDF")
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestCoalesceGlyphs(t *testing.T) {
	glyphs := []pdf.Text{
		{Font: "Helvetica", FontSize: 12, X: 72, Y: 700, W: 6, S: "H"},
		{Font: "Helvetica", FontSize: 12, X: 78, Y: 700, W: 6, S: "i"},
		{Font: "Helvetica", FontSize: 12, X: 84.5, Y: 700, W: 3, S: "!"},
		// Same line, visible gap.
		{Font: "Helvetica", FontSize: 12, X: 120, Y: 700, W: 6, S: "x"},
		// Font change.
		{Font: "Helvetica-Bold", FontSize: 12, X: 126, Y: 700, W: 6, S: "B"},
		// Next line.
		{Font: "Helvetica", FontSize: 12, X: 72, Y: 686, W: 6, S: "n"},
		// Empty glyph ignored.
		{Font: "Helvetica", FontSize: 12, X: 78, Y: 686, W: 0, S: ""},
	}
	items := coalesceGlyphs(glyphs, 3, 792)

	var texts []string
	for _, it := range items {
		texts = append(texts, it.Text)
	}
	if want := []string{"Hi!", "x", "B", "n"}; !reflect.DeepEqual(texts, want) {
		t.Fatalf("runs = %v, want %v", texts, want)
	}
	first := items[0]
	if first.Page != 3 || first.X != 72 || first.Y != 80 || first.Width != 15.5 || first.Height != 12 {
		t.Errorf("first run = %+v", first)
	}
}

func TestParsePDFDate(t *testing.T) {
	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{"D:20240102030405Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), true},
		{"D:2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"20231231", time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), true},
		{"D:20240102030405+02'00'", time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC), true},
		{"D:20240102030405-05'30'", time.Date(2024, 1, 2, 8, 34, 5, 0, time.UTC), true},
		{"D:202", time.Time{}, false},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parsePDFDate(tt.in)
		if ok != tt.wantOK {
			t.Errorf("parsePDFDate(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("parsePDFDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMatrixPlacement(t *testing.T) {
	m := matrix{20, 0, 0, 20, 100, 500}.mul(identity)
	x, y, w, h := m.placement()
	if x != 100 || y != 500 || w != 20 || h != 20 {
		t.Errorf("placement = (%v, %v, %v, %v)", x, y, w, h)
	}

	// A vertical flip still yields a positive box.
	flipped := matrix{10, 0, 0, -10, 0, 50}
	if x, y, w, h := flipped.placement(); x != 0 || y != 40 || w != 10 || h != 10 {
		t.Errorf("flipped placement = (%v, %v, %v, %v)", x, y, w, h)
	}
}

func TestUnpackSamples(t *testing.T) {
	// 1-bit gray, 3 pixels wide: rows are byte aligned.
	got, err := unpackSamples([]byte{0b10100000, 0b01000000}, 3, 2, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{255, 0, 255, 0, 255, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("1-bit gray = %v, want %v", got, want)
	}

	cmyk, err := unpackSamples([]byte{0, 0, 0, 0, 255, 0, 0, 0}, 2, 1, 4, 8)
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{255, 255, 255, 0, 255, 255}; !reflect.DeepEqual(cmyk, want) {
		t.Errorf("cmyk = %v, want %v", cmyk, want)
	}

	if _, err := unpackSamples([]byte{1, 2}, 2, 2, 3, 8); err == nil {
		t.Error("expected error for short sample data")
	}
}
