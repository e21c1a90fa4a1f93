package parser

import (
	"context"
	"encoding/binary"
	"strings"
	"unicode"
	"unicode/utf16"
)

// minRunLength is the shortest printable run kept from a binary file.
const minRunLength = 4

// LegacyParser recovers printable text from pre-2007 binary Office files.
// Structure is not recovered and every result carries a
// legacy_format_limited warning.
type LegacyParser struct{}

func (p *LegacyParser) SupportedExtensions() []string { return []string{".doc", ".xls", ".ppt"} }

func (p *LegacyParser) Supports(ext string) bool { return supports(p.SupportedExtensions(), ext) }

func (p *LegacyParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	return parseFile(ctx, p, path)
}

func (p *LegacyParser) ParseBytes(ctx context.Context, data []byte, path string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := newBuilder(strings.TrimPrefix(normalizeExt(extOf(path)), "."), len(data))
	b.warn(WarnLegacyFormatLimited, -1, "binary Office format: only printable text runs were recovered")

	seen := make(map[string]bool)
	for _, run := range append(utf16Runs(data), asciiRuns(data)...) {
		run = collapseSpace(run)
		if len([]rune(run)) < minRunLength || !mostlyLetters(run) || seen[run] {
			continue
		}
		seen[run] = true
		b.add(Paragraph(run))
	}
	return b.finish(), nil
}

func extOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i:]
	}
	return ""
}

// asciiRuns returns maximal runs of printable single-byte characters.
func asciiRuns(data []byte) []string {
	var out []string
	start := -1
	for i := 0; i <= len(data); i++ {
		printable := i < len(data) && (data[i] >= 0x20 && data[i] < 0x7f || data[i] == '\t')
		if printable {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minRunLength {
			out = append(out, string(data[start:i]))
		}
		start = -1
	}
	return out
}

// maxLegacyUnit caps accepted UTF-16 units below the range that
// byte-shifted ASCII lands in, so misaligned reads do not yield text.
const maxLegacyUnit = 0x2000

// utf16Runs returns maximal runs of printable little-endian UTF-16 code
// units, the encoding Word and PowerPoint use for most text.
func utf16Runs(data []byte) []string {
	var out []string
	for offset := 0; offset < 2; offset++ {
		var units []uint16
		flush := func() {
			if len(units) >= minRunLength {
				out = append(out, string(utf16.Decode(units)))
			}
			units = units[:0]
		}
		for i := offset; i+1 < len(data); i += 2 {
			u := binary.LittleEndian.Uint16(data[i:])
			r := rune(u)
			if u >= 0x20 && u < maxLegacyUnit && u != 0x7f && unicode.IsPrint(r) {
				units = append(units, u)
				continue
			}
			flush()
		}
		flush()
	}
	return out
}

// mostlyLetters filters binary noise: at least half of the runes must be
// letters or spaces.
func mostlyLetters(s string) bool {
	var good, total int
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || r == ' ' {
			good++
		}
	}
	return total > 0 && good*2 >= total
}
