package parser

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// headingLevel maps a font-size-to-body ratio onto heading levels 1..5.
func headingLevel(ratio float64) int {
	switch {
	case ratio >= 2.0:
		return 1
	case ratio >= 1.7:
		return 2
	case ratio >= 1.4:
		return 3
	case ratio >= 1.25:
		return 4
	default:
		return 5
	}
}

// median returns the middle value of vals (mean of the two middles for
// even counts). The input is not modified. Zero for an empty slice.
func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

// ---------------------------------------------------------------------------
// Character-spacing repair
// ---------------------------------------------------------------------------

// singleCharRatio returns the share of whitespace-delimited tokens that are
// one letter or digit.
func singleCharRatio(s string) float64 {
	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return 0
	}
	n := 0
	for _, tok := range tokens {
		if isSingleAlnum(tok) {
			n++
		}
	}
	return float64(n) / float64(len(tokens))
}

func isSingleAlnum(tok string) bool {
	r, size := utf8.DecodeRuneInString(tok)
	return size == len(tok) && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// repairCharSpacing rejoins text emitted one glyph per word ("H e l l o")
// once more than threshold of its tokens are single characters. Single
// characters separated by exactly one space are glued together; wider gaps
// and multi-character tokens keep a separating space. Text at or below the
// threshold is returned unchanged.
func repairCharSpacing(s string, threshold float64) string {
	if singleCharRatio(s) <= threshold {
		return s
	}

	type token struct {
		text   string
		narrow bool // preceded by exactly one space
	}
	var tokens []token
	rest := strings.TrimSpace(s)
	for rest != "" {
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			end = len(rest)
		}
		tokens = append(tokens, token{text: rest[:end]})
		rest = rest[end:]
		trimmed := strings.TrimLeftFunc(rest, unicode.IsSpace)
		gap := rest[:len(rest)-len(trimmed)]
		rest = trimmed
		if rest != "" {
			tokens = append(tokens, token{narrow: gap == " "})
		}
	}

	var b strings.Builder
	var prev string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.text == "" {
			// Separator: glue only between two single characters.
			next := tokens[i+1].text
			if !(tok.narrow && isSingleAlnum(prev) && isSingleAlnum(next)) {
				b.WriteByte(' ')
			}
			continue
		}
		b.WriteString(tok.text)
		prev = tok.text
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// List detection
// ---------------------------------------------------------------------------

type listStyle int

const (
	listNone listStyle = iota
	listBullet
	listNumbered
)

// bulletRunes is the fixed set of glyphs treated as list bullets.
// bulletRunes are dedicated bullet glyphs; the item text may follow them
// directly. spacedBulletRunes also occur in ordinary text and need
// whitespace after them.
const (
	bulletRunes       = "•◦▪▫●○■□‣⁃∙➢►✓"
	spacedBulletRunes = "·–-*"
)

var (
	numberedItem = regexp.MustCompile(`^\d+[.)]\s+`)
	letteredItem = regexp.MustCompile(`^[a-zA-Z][.)]\s+`)
)

// detectListItem classifies a paragraph as a list item and returns the item
// text with the marker removed. Numbering markers and the ambiguous bullets
// must be followed by whitespace.
func detectListItem(s string) (string, listStyle) {
	s = strings.TrimSpace(s)
	if s == "" {
		return s, listNone
	}
	r, size := utf8.DecodeRuneInString(s)
	rest := s[size:]
	switch {
	case strings.ContainsRune(bulletRunes, r):
		if item := strings.TrimSpace(rest); item != "" {
			return item, listBullet
		}
		return s, listNone
	case strings.ContainsRune(spacedBulletRunes, r):
		if r2, _ := utf8.DecodeRuneInString(rest); unicode.IsSpace(r2) {
			if item := strings.TrimSpace(rest); item != "" {
				return item, listBullet
			}
		}
		return s, listNone
	}
	for _, re := range []*regexp.Regexp{numberedItem, letteredItem} {
		if loc := re.FindStringIndex(s); loc != nil {
			if item := strings.TrimSpace(s[loc[1]:]); item != "" {
				return item, listNumbered
			}
		}
	}
	return s, listNone
}

// buildLists folds runs of list-item paragraphs into list elements. A style
// change or any non-item element closes the open list.
func buildLists(els []Element) []Element {
	out := make([]Element, 0, len(els))
	open := -1
	style := listNone
	for _, e := range els {
		if e.Type == ElementParagraph {
			if item, st := detectListItem(e.Content); st != listNone {
				if open >= 0 && st == style {
					out[open].Items = append(out[open].Items, item)
					continue
				}
				l := List([]string{item}, st == listNumbered)
				l.Position = e.Position
				out = append(out, l)
				open, style = len(out)-1, st
				continue
			}
		}
		open, style = -1, listNone
		out = append(out, e)
	}
	return out
}

// ---------------------------------------------------------------------------
// Garbled text
// ---------------------------------------------------------------------------

// looksGarbled reports whether a text sample suggests a non-standard font
// encoding: mostly non-ASCII or almost no whitespace. Samples of 50
// characters or fewer are never flagged.
func looksGarbled(sample string) bool {
	total := utf8.RuneCountInString(sample)
	if total <= 50 {
		return false
	}
	var nonASCII, space int
	for _, r := range sample {
		if r > unicode.MaxASCII {
			nonASCII++
		}
		if unicode.IsSpace(r) {
			space++
		}
	}
	return float64(nonASCII)/float64(total) > 0.20 || float64(space)/float64(total) < 0.05
}

// garbledSample joins the text of the first n items with single spaces.
func garbledSample(items []TextItem, n int) string {
	if n > len(items) {
		n = len(items)
	}
	parts := make([]string, 0, n)
	for _, it := range items[:n] {
		parts = append(parts, it.Text)
	}
	return strings.Join(parts, " ")
}
