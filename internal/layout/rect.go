// Package layout reconstructs line structure from positioned text fragments
// and answers rectangular region queries over a page.
package layout

import (
	"errors"
	"fmt"
)

// ErrInvalidRect is returned when a rectangle has its far edge before its near edge.
var ErrInvalidRect = errors.New("invalid rectangle")

// Rect is an axis-aligned rectangle in page coordinates (points, origin top-left).
type Rect struct {
	X  float64 `json:"x" yaml:"x"`
	Y  float64 `json:"y" yaml:"y"`
	X2 float64 `json:"x2" yaml:"x2"`
	Y2 float64 `json:"y2" yaml:"y2"`
}

// NewRect creates a rectangle, rejecting x2 < x or y2 < y.
func NewRect(x, y, x2, y2 float64) (Rect, error) {
	r := Rect{X: x, Y: y, X2: x2, Y2: y2}
	if err := r.Validate(); err != nil {
		return Rect{}, err
	}
	return r, nil
}

// Validate checks the edge ordering invariant.
func (r Rect) Validate() error {
	if r.X2 < r.X || r.Y2 < r.Y {
		return fmt.Errorf("%w: (%g,%g)-(%g,%g)", ErrInvalidRect, r.X, r.Y, r.X2, r.Y2)
	}
	return nil
}

// Width returns x2 - x
func (r Rect) Width() float64 {
	return r.X2 - r.X
}

// Height returns y2 - y
func (r Rect) Height() float64 {
	return r.Y2 - r.Y
}

// Contains reports whether other lies entirely within r. Shared edges count as inside.
func (r Rect) Contains(other Rect) bool {
	return other.X >= r.X && other.Y >= r.Y && other.X2 <= r.X2 && other.Y2 <= r.Y2
}

// Overlaps reports whether r and other share any area or edge.
func (r Rect) Overlaps(other Rect) bool {
	return !(other.X > r.X2 || other.X2 < r.X || other.Y > r.Y2 || other.Y2 < r.Y)
}

// OverlapsVertically reports whether the vertical spans of r and other intersect.
func (r Rect) OverlapsVertically(other Rect) bool {
	return !(other.Y > r.Y2 || other.Y2 < r.Y)
}

// Fragment is one positioned run of text on a page.
type Fragment struct {
	Rect `yaml:",inline"`
	Text string `json:"text" yaml:"text"`
}

// NewFragment creates a fragment after validating its rectangle.
func NewFragment(text string, x, y, x2, y2 float64) (Fragment, error) {
	r, err := NewRect(x, y, x2, y2)
	if err != nil {
		return Fragment{}, fmt.Errorf("fragment %q: %w", text, err)
	}
	return Fragment{Rect: r, Text: text}, nil
}
