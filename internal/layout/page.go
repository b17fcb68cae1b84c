package layout

import (
	"encoding/json"
	"sort"
	"strings"
)

// Page holds the fragments of one page together with four index permutations
// sorted by x, y, x2 and y2. A Page is never mutated after NewPage.
type Page struct {
	number    int
	width     float64
	height    float64
	fragments []Fragment

	byX  []int
	byY  []int
	byX2 []int
	byY2 []int
}

// NewPage builds the index permutations for fragments. The slice is copied.
func NewPage(number int, width, height float64, fragments []Fragment) *Page {
	frags := make([]Fragment, len(fragments))
	copy(frags, fragments)

	p := &Page{
		number:    number,
		width:     width,
		height:    height,
		fragments: frags,
	}
	p.byX = p.sortedIndexes(func(f Fragment) float64 { return f.X })
	p.byY = p.sortedIndexes(func(f Fragment) float64 { return f.Y })
	p.byX2 = p.sortedIndexes(func(f Fragment) float64 { return f.X2 })
	p.byY2 = p.sortedIndexes(func(f Fragment) float64 { return f.Y2 })
	return p
}

func (p *Page) sortedIndexes(key func(Fragment) float64) []int {
	idx := make([]int, len(p.fragments))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return key(p.fragments[idx[a]]) < key(p.fragments[idx[b]])
	})
	return idx
}

// Number returns the zero-based page number.
func (p *Page) Number() int { return p.number }

// Width returns the page width in points.
func (p *Page) Width() float64 { return p.width }

// Height returns the page height in points.
func (p *Page) Height() float64 { return p.height }

// Fragments returns a copy of the page fragments in extraction order.
func (p *Page) Fragments() []Fragment {
	out := make([]Fragment, len(p.fragments))
	copy(out, p.fragments)
	return out
}

// FragmentsIn returns the fragments lying entirely inside r, in extraction order.
//
// Each of the four permutations is narrowed by binary search to the indexes
// satisfying one edge condition. The narrowest of the four ranges is then
// filtered by the remaining conditions, which is the same as intersecting all
// four index sets.
func (p *Page) FragmentsIn(r Rect) []Fragment {
	n := len(p.fragments)
	if n == 0 {
		return nil
	}

	xLo := sort.Search(n, func(i int) bool { return p.fragments[p.byX[i]].X >= r.X })
	yLo := sort.Search(n, func(i int) bool { return p.fragments[p.byY[i]].Y >= r.Y })
	x2Hi := sort.Search(n, func(i int) bool { return p.fragments[p.byX2[i]].X2 > r.X2 })
	y2Hi := sort.Search(n, func(i int) bool { return p.fragments[p.byY2[i]].Y2 > r.Y2 })

	candidates := [][]int{p.byX[xLo:], p.byY[yLo:], p.byX2[:x2Hi], p.byY2[:y2Hi]}
	smallest := candidates[0]
	for _, c := range candidates[1:] {
		if len(c) < len(smallest) {
			smallest = c
		}
	}
	if len(smallest) == 0 {
		return nil
	}

	hits := make([]int, 0, len(smallest))
	for _, i := range smallest {
		if r.Contains(p.fragments[i].Rect) {
			hits = append(hits, i)
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.Ints(hits)

	out := make([]Fragment, len(hits))
	for j, i := range hits {
		out[j] = p.fragments[i]
	}
	return out
}

// RegionLines groups the fragments inside r into reading lines.
func (p *Page) RegionLines(r Rect) [][]Fragment {
	return GroupLines(p.FragmentsIn(r))
}

// RegionTextLines returns the tokens inside r, lines top to bottom and
// tokens left to right.
func (p *Page) RegionTextLines(r Rect) [][]string {
	return LineTexts(p.RegionLines(r))
}

// RegionText joins the tokens of a line with a space and lines with a newline.
func (p *Page) RegionText(r Rect) string {
	lines := p.RegionTextLines(r)
	joined := make([]string, len(lines))
	for i, tokens := range lines {
		joined[i] = strings.Join(tokens, " ")
	}
	return strings.Join(joined, "\n")
}

// Bounds returns the full page rectangle.
func (p *Page) Bounds() Rect {
	return Rect{X: 0, Y: 0, X2: p.width, Y2: p.height}
}

type pageJSON struct {
	Number    int        `json:"page_nr"`
	Width     float64    `json:"width"`
	Height    float64    `json:"height"`
	Fragments []Fragment `json:"text_runs"`
}

// MarshalJSON encodes the page without its derived indexes.
func (p *Page) MarshalJSON() ([]byte, error) {
	frags := p.fragments
	if frags == nil {
		frags = []Fragment{}
	}
	return json.Marshal(pageJSON{Number: p.number, Width: p.width, Height: p.height, Fragments: frags})
}

// UnmarshalJSON decodes a page and rebuilds its indexes.
func (p *Page) UnmarshalJSON(data []byte) error {
	var raw pageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, f := range raw.Fragments {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	*p = *NewPage(raw.Number, raw.Width, raw.Height, raw.Fragments)
	return nil
}
