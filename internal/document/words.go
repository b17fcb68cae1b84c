package document

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/a3tai/plngx-dissect/internal/layout"
)

// Default word merging tolerances, in points.
const (
	DefaultXTolerance = 6.0
	DefaultYTolerance = 3.0
)

// Glyph is one positioned character in top-left page coordinates.
type Glyph struct {
	layout.Rect
	Text string
}

// MergeWords groups glyphs into words. Glyphs whose tops lie within
// yTol of each other form a line; inside a line, sorted by x, a word ends
// at a whitespace glyph or where the horizontal gap exceeds xTol. Words
// are returned line by line, top to bottom and left to right.
func MergeWords(glyphs []Glyph, xTol, yTol float64) []layout.Fragment {
	if len(glyphs) == 0 {
		return nil
	}

	sorted := make([]Glyph, len(glyphs))
	copy(sorted, glyphs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })

	var words []layout.Fragment
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && sorted[i].Y-sorted[i-1].Y <= yTol {
			continue
		}
		words = append(words, lineWords(sorted[start:i], xTol)...)
		start = i
	}
	return words
}

func lineWords(line []Glyph, xTol float64) []layout.Fragment {
	sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })

	var (
		words []layout.Fragment
		cur   *wordBuilder
	)
	flush := func() {
		if cur != nil {
			words = append(words, cur.fragment())
			cur = nil
		}
	}
	for _, g := range line {
		if isBlank(g.Text) {
			flush()
			continue
		}
		if cur != nil && g.X > cur.rect.X2+xTol {
			flush()
		}
		if cur == nil {
			cur = &wordBuilder{rect: g.Rect}
		}
		cur.add(g)
	}
	flush()
	return words
}

type wordBuilder struct {
	rect layout.Rect
	text strings.Builder
}

func (w *wordBuilder) add(g Glyph) {
	w.rect.X = math.Min(w.rect.X, g.X)
	w.rect.Y = math.Min(w.rect.Y, g.Y)
	w.rect.X2 = math.Max(w.rect.X2, g.X2)
	w.rect.Y2 = math.Max(w.rect.Y2, g.Y2)
	w.text.WriteString(g.Text)
}

func (w *wordBuilder) fragment() layout.Fragment {
	return layout.Fragment{Rect: w.rect, Text: strings.TrimSpace(w.text.String())}
}

func isBlank(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}
