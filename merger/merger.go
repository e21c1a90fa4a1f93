// Package merger combines the structural streams of several parsed files
// into one document with ordering, separator and deduplication policy.
package merger

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/brunobiangulo/docstruct/parser"
)

// OrderMode selects how input files are sequenced before merging.
type OrderMode string

const (
	// OrderPreserve sorts by FileContent.Order; ties keep input order.
	OrderPreserve OrderMode = "preserve"
	// OrderAlphabetical sorts by file name using locale-aware collation.
	OrderAlphabetical OrderMode = "alphabetical"
	// OrderNatural is OrderAlphabetical with numeric runs compared by value.
	OrderNatural OrderMode = "natural"
)

// FileContent is one merge input. The merger never mutates it.
type FileContent struct {
	FileName string           `json:"file_name"`
	FilePath string           `json:"file_path,omitempty"`
	Text     string           `json:"text"`
	Elements []parser.Element `json:"elements,omitempty"`
	Order    int              `json:"order,omitempty"`
}

// Options controls a Merge call.
type Options struct {
	AddFileSeparators      bool      `json:"add_file_separators" yaml:"add_file_separators"`
	OrderMode              OrderMode `json:"order_mode" yaml:"order_mode"`
	DeduplicateContent     bool      `json:"deduplicate_content" yaml:"deduplicate_content"`
	DeduplicationThreshold float64   `json:"deduplication_threshold" yaml:"deduplication_threshold"`

	// Language is the BCP 47 tag used for collation. Empty means root order.
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}

// DefaultOptions returns separators on, preserve order, no deduplication
// and a 0.9 similarity threshold.
func DefaultOptions() Options {
	return Options{
		AddFileSeparators:      true,
		OrderMode:              OrderPreserve,
		DeduplicationThreshold: 0.9,
	}
}

// Validate reports an unknown order mode, an out-of-range threshold or an
// unparseable language tag.
func (o Options) Validate() error {
	switch o.OrderMode {
	case OrderPreserve, OrderAlphabetical, OrderNatural, "":
	default:
		return fmt.Errorf("merger: unknown order mode %q", o.OrderMode)
	}
	if o.DeduplicationThreshold < 0 || o.DeduplicationThreshold > 1 {
		return fmt.Errorf("merger: deduplication threshold %v outside [0,1]", o.DeduplicationThreshold)
	}
	if o.Language != "" {
		if _, err := language.Parse(o.Language); err != nil {
			return fmt.Errorf("merger: language %q: %w", o.Language, err)
		}
	}
	return nil
}

// Stats summarizes a merge.
type Stats struct {
	TotalFiles        int      `json:"total_files"`
	TotalElements     int      `json:"total_elements"`
	DuplicatesRemoved int      `json:"duplicates_removed"`
	FileOrder         []string `json:"file_order"`
}

// MergeResult is the combined document. Element orders run 0..n-1.
type MergeResult struct {
	Text     string           `json:"text"`
	Elements []parser.Element `json:"elements"`
	Stats    Stats            `json:"stats"`
}

// Merge sequences files per opts.OrderMode and concatenates their elements
// and text, optionally inserting per-file separators and dropping
// near-duplicate elements.
func Merge(files []FileContent, opts Options) *MergeResult {
	if opts.OrderMode == "" {
		opts.OrderMode = OrderPreserve
	}
	ordered := orderFiles(files, opts)
	separate := opts.AddFileSeparators && len(ordered) > 1

	res := &MergeResult{Stats: Stats{TotalFiles: len(ordered)}}
	var dd *deduper
	if opts.DeduplicateContent {
		dd = &deduper{threshold: opts.DeduplicationThreshold}
	}

	var text []string
	for _, f := range ordered {
		res.Stats.FileOrder = append(res.Stats.FileOrder, f.FileName)
		if separate {
			name := DisplayName(f.FileName)
			res.Elements = append(res.Elements, parser.Heading(name, 4))
			text = append(text, "--- "+name+" ---")
		}
		if t := strings.TrimSpace(f.Text); t != "" {
			text = append(text, f.Text)
		}
		for _, e := range f.Elements {
			if dd != nil && dd.duplicate(e) {
				res.Stats.DuplicatesRemoved++
				continue
			}
			res.Elements = append(res.Elements, copyElement(e))
		}
	}

	res.Text = strings.Join(text, "\n\n")
	renumber(res)
	slog.Debug("merger: merged", "files", res.Stats.TotalFiles,
		"elements", res.Stats.TotalElements, "duplicates", res.Stats.DuplicatesRemoved)
	return res
}

// MergeByPosition ignores file order and sorts every element of every file
// by (page, y). Elements without a position sort as page 1, y 0. There is
// no deduplication and no separators.
func MergeByPosition(files []FileContent) *MergeResult {
	res := &MergeResult{Stats: Stats{TotalFiles: len(files)}}
	for _, f := range files {
		res.Stats.FileOrder = append(res.Stats.FileOrder, f.FileName)
		for _, e := range f.Elements {
			res.Elements = append(res.Elements, copyElement(e))
		}
	}
	slices.SortStableFunc(res.Elements, func(a, b parser.Element) int {
		pa, ya := positionKey(a)
		pb, yb := positionKey(b)
		if pa != pb {
			return pa - pb
		}
		switch {
		case ya < yb:
			return -1
		case ya > yb:
			return 1
		}
		return 0
	})

	var text []string
	for _, e := range res.Elements {
		if e.Type == parser.ElementImage {
			continue
		}
		if t := strings.TrimSpace(e.Text()); t != "" {
			text = append(text, t)
		}
	}
	res.Text = strings.Join(text, "\n\n")
	renumber(res)
	return res
}

// DisplayName strips the extension and directories from name and turns
// underscores and hyphens into spaces.
func DisplayName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		base = name
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}

func orderFiles(files []FileContent, opts Options) []FileContent {
	out := slices.Clone(files)
	switch opts.OrderMode {
	case OrderAlphabetical, OrderNatural:
		tag := language.Und
		if opts.Language != "" {
			if t, err := language.Parse(opts.Language); err == nil {
				tag = t
			}
		}
		var c *collate.Collator
		if opts.OrderMode == OrderNatural {
			c = collate.New(tag, collate.Numeric)
		} else {
			c = collate.New(tag)
		}
		slices.SortStableFunc(out, func(a, b FileContent) int {
			return c.CompareString(a.FileName, b.FileName)
		})
	default:
		slices.SortStableFunc(out, func(a, b FileContent) int {
			return a.Order - b.Order
		})
	}
	return out
}

func positionKey(e parser.Element) (page int, y float64) {
	if e.Position == nil {
		return 1, 0
	}
	page = e.Position.Page
	if page == 0 {
		page = 1
	}
	return page, e.Position.Y
}

// copyElement detaches the slices and pointers of e from the input.
func copyElement(e parser.Element) parser.Element {
	e.Items = slices.Clone(e.Items)
	if e.Position != nil {
		p := *e.Position
		e.Position = &p
	}
	return e
}

func renumber(res *MergeResult) {
	for i := range res.Elements {
		res.Elements[i].Order = i
	}
	res.Stats.TotalElements = len(res.Elements)
}

// deduper remembers the word sets of accepted elements.
type deduper struct {
	threshold float64
	accepted  []map[string]struct{}
}

// duplicate reports whether e is similar enough to an accepted element to
// be dropped, and accepts it otherwise. Only elements with content are
// candidates, so images and lists always survive.
func (d *deduper) duplicate(e parser.Element) bool {
	if strings.TrimSpace(e.Content) == "" {
		return false
	}
	words := wordSet(e.Content)
	if len(words) == 0 {
		return false
	}
	for _, prev := range d.accepted {
		if Jaccard(words, prev) >= d.threshold {
			return true
		}
	}
	d.accepted = append(d.accepted, words)
	return false
}

// wordSet lower-cases s, splits on whitespace and keeps tokens longer than
// two runes.
func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		if utf8.RuneCountInString(w) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity is Jaccard over the normalized word sets of two strings.
func Similarity(a, b string) float64 {
	return Jaccard(wordSet(a), wordSet(b))
}
