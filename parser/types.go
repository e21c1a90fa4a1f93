package parser

import (
	"fmt"
	"strings"
	"time"
)

// ElementType tags the variant carried by an Element.
type ElementType string

const (
	ElementParagraph  ElementType = "paragraph"
	ElementHeading    ElementType = "heading"
	ElementList       ElementType = "list"
	ElementImage      ElementType = "image"
	ElementCode       ElementType = "code"
	ElementBlockquote ElementType = "blockquote"
)

// Position is the top-left origin of an element in page coordinates.
// Page is 1-based and Y grows downward.
type Position struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Element is one unit of recovered document structure. Level is only
// meaningful on headings, Items/Ordered only on lists, Src/Alt only on
// images. Use the constructors to build well-formed values.
type Element struct {
	Type     ElementType `json:"type"`
	Content  string      `json:"content,omitempty"`
	Level    int         `json:"level,omitempty"`
	Items    []string    `json:"items,omitempty"`
	Ordered  bool        `json:"ordered,omitempty"`
	Src      string      `json:"src,omitempty"`
	Alt      string      `json:"alt,omitempty"`
	Position *Position   `json:"position,omitempty"`
	Order    int         `json:"order"`
}

// Paragraph builds a paragraph element.
func Paragraph(content string) Element {
	return Element{Type: ElementParagraph, Content: content}
}

// Heading builds a heading element; level is clamped to 1..6.
func Heading(content string, level int) Element {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return Element{Type: ElementHeading, Content: content, Level: level}
}

// List builds a list element.
func List(items []string, ordered bool) Element {
	return Element{Type: ElementList, Items: items, Ordered: ordered}
}

// Image builds an image element. pos may be nil.
func Image(src, alt string, pos *Position) Element {
	return Element{Type: ElementImage, Src: src, Alt: alt, Position: pos}
}

// Code builds a code block element.
func Code(content string) Element {
	return Element{Type: ElementCode, Content: content}
}

// Blockquote builds a blockquote element.
func Blockquote(content string) Element {
	return Element{Type: ElementBlockquote, Content: content}
}

// Validate reports a violation of the per-variant field rules.
func (e Element) Validate() error {
	switch e.Type {
	case ElementParagraph, ElementCode, ElementBlockquote:
		if e.Level != 0 || len(e.Items) > 0 || e.Src != "" {
			return fmt.Errorf("%s element carries fields of another variant", e.Type)
		}
	case ElementHeading:
		if e.Level < 1 || e.Level > 6 {
			return fmt.Errorf("heading level %d out of range", e.Level)
		}
		if len(e.Items) > 0 || e.Src != "" {
			return fmt.Errorf("heading element carries fields of another variant")
		}
	case ElementList:
		if e.Level != 0 || e.Src != "" {
			return fmt.Errorf("list element carries fields of another variant")
		}
	case ElementImage:
		if e.Src == "" {
			return fmt.Errorf("image element without src")
		}
		if e.Level != 0 || len(e.Items) > 0 {
			return fmt.Errorf("image element carries fields of another variant")
		}
	default:
		return fmt.Errorf("unknown element type %q", e.Type)
	}
	return nil
}

// Text returns the element's textual payload: content for text variants,
// newline-joined items for lists, alt text for images.
func (e Element) Text() string {
	switch e.Type {
	case ElementList:
		return strings.Join(e.Items, "\n")
	case ElementImage:
		return e.Alt
	default:
		return e.Content
	}
}

// Metadata holds the well-known document properties plus format extras.
type Metadata struct {
	Title    string            `json:"title,omitempty"`
	Author   string            `json:"author,omitempty"`
	Subject  string            `json:"subject,omitempty"`
	Keywords []string          `json:"keywords,omitempty"`
	Pages    int               `json:"pages,omitempty"`
	Created  time.Time         `json:"created,omitzero"`
	Modified time.Time         `json:"modified,omitzero"`
	FileSize int64             `json:"file_size,omitempty"`
	Format   string            `json:"format,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// setExtra records a format-specific property, skipping empty values.
func (m *Metadata) setExtra(key, value string) {
	if value == "" {
		return
	}
	if m.Extra == nil {
		m.Extra = make(map[string]string)
	}
	m.Extra[key] = value
}

// WarningKind classifies a non-fatal parse issue.
type WarningKind string

const (
	WarnContentEmpty        WarningKind = "content_empty"
	WarnEncodingUncertain   WarningKind = "encoding_uncertain"
	WarnImagesUnresolved    WarningKind = "images_unresolved"
	WarnLegacyFormatLimited WarningKind = "legacy_format_limited"
	WarnItemFailed          WarningKind = "item_failed"
	WarnEncrypted           WarningKind = "encrypted"
)

// Warning is a recoverable issue attached to a successful parse. Item is
// the index of the page, slide, chapter or image concerned, or -1.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
	Item    int         `json:"item"`
}

func (w Warning) String() string {
	if w.Item >= 0 {
		return fmt.Sprintf("%s (item %d): %s", w.Kind, w.Item, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// ParsedDocument is what a parser produces from one file.
type ParsedDocument struct {
	Text     string    `json:"text"`
	Elements []Element `json:"elements"`
	Metadata Metadata  `json:"metadata"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// HasWarning reports whether a warning of the given kind was recorded.
func (d *ParsedDocument) HasWarning(kind WarningKind) bool {
	for _, w := range d.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}
