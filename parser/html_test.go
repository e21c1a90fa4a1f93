package parser

import (
	"context"
	"reflect"
	"testing"
)

const sampleHTML = `<!DOCTYPE html>
<html lang="en-gb">
<head>
  <title>Sample Page</title>
  <meta name="author" content="Pat Example">
  <meta name="keywords" content="alpha, beta">
  <meta name="description" content="A page used in tests">
  <style>body { color: red; }</style>
</head>
<body>
<h1>Main Title</h1>
<p>Hello <b>bold</b>
   world.</p>
<ul><li>One</li><li>Two<ol><li>Two-A</li></ol></li></ul>
<pre>line1
  line2</pre>
<blockquote><p>Quoted text</p></blockquote>
<table><tr><th>A</th><th>B</th></tr><tr><td>1</td><td>2</td></tr></table>
<script>var x = 1;</script>
<div hidden>secret</div>
<div style="display: none">also secret</div>
<img src="pic.png" alt="A picture">
Loose text at end
</body>
</html>`

func TestHTMLStructure(t *testing.T) {
	doc, err := (&HTMLParser{}).ParseBytes(context.Background(), []byte(sampleHTML), "page.html")
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	want := []Element{
		Heading("Main Title", 1),
		Paragraph("Hello bold world."),
		List([]string{"One", "Two", "Two-A"}, false),
		Code("line1\n  line2"),
		Blockquote("Quoted text"),
		Paragraph("| A | B |\n| 1 | 2 |"),
		Image("pic.png", "A picture", nil),
		Paragraph("Loose text at end"),
	}
	if len(doc.Elements) != len(want) {
		t.Fatalf("got %d elements, want %d: %+v", len(doc.Elements), len(want), doc.Elements)
	}
	for i := range want {
		want[i].Order = i
		if !reflect.DeepEqual(doc.Elements[i], want[i]) {
			t.Errorf("element %d = %+v, want %+v", i, doc.Elements[i], want[i])
		}
	}

	m := doc.Metadata
	if m.Title != "Sample Page" || m.Author != "Pat Example" || m.Subject != "A page used in tests" {
		t.Errorf("metadata = %+v", m)
	}
	if !reflect.DeepEqual(m.Keywords, []string{"alpha", "beta"}) {
		t.Errorf("keywords = %v", m.Keywords)
	}
	if m.Extra["language"] != "en-GB" {
		t.Errorf("language = %q", m.Extra["language"])
	}
	if len(doc.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", doc.Warnings)
	}
}

func TestHTMLTitleFallsBackToHeading(t *testing.T) {
	doc, err := (&HTMLParser{}).ParseBytes(context.Background(), []byte(`<h2>Only Heading</h2><p>x</p>`), "frag.html")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata.Title != "Only Heading" {
		t.Errorf("title = %q", doc.Metadata.Title)
	}
	if doc.Elements[0].Level != 2 {
		t.Errorf("level = %d", doc.Elements[0].Level)
	}
}

func TestHTMLEncoding(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantText    string
		wantWarning bool
	}{
		{"utf8", "<p>café</p>", "café", false},
		{"undeclared_latin1", "<p>caf\xe9</p>", "café", true},
		{"declared_latin1", `<meta charset="windows-1252"><p>caf` + "\xe9" + `</p>`, "café", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := (&HTMLParser{}).ParseBytes(context.Background(), []byte(tt.data), "enc.html")
			if err != nil {
				t.Fatal(err)
			}
			if doc.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", doc.Text, tt.wantText)
			}
			if got := doc.HasWarning(WarnEncodingUncertain); got != tt.wantWarning {
				t.Errorf("encoding warning = %v, want %v", got, tt.wantWarning)
			}
		})
	}
}
