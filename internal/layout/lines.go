package layout

import (
	"cmp"
	"slices"
	"sort"
)

// DefaultTopInset is the fraction of a fragment's height skipped at its top
// edge when grouping lines, so that skewed scans do not chain adjacent lines.
const DefaultTopInset = 0.25

type eventKind int

const (
	eventStart eventKind = iota
	eventEnd
)

type lineEvent struct {
	at    float64
	kind  eventKind
	index int
}

// GroupLines partitions fragments into reading lines using DefaultTopInset.
func GroupLines(fragments []Fragment) [][]Fragment {
	return GroupLinesWithInset(fragments, DefaultTopInset)
}

// GroupLinesWithInset partitions fragments into lines, top to bottom, each
// ordered left to right. Fragments whose vertical spans overlap, directly or
// through a chain of overlapping fragments, share a line. The start of each
// span is moved down by inset*height before the sweep.
func GroupLinesWithInset(fragments []Fragment, inset float64) [][]Fragment {
	if len(fragments) == 0 {
		return [][]Fragment{}
	}

	events := make([]lineEvent, 0, 2*len(fragments))
	for i, f := range fragments {
		events = append(events,
			lineEvent{at: f.Y + f.Height()*inset, kind: eventStart, index: i},
			lineEvent{at: f.Y2, kind: eventEnd, index: i},
		)
	}

	// Starts sort before ends at the same coordinate, so a zero-height
	// fragment opens before it closes and depth never goes negative.
	slices.SortFunc(events, func(a, b lineEvent) int {
		if c := cmp.Compare(a.at, b.at); c != 0 {
			return c
		}
		if c := cmp.Compare(a.kind, b.kind); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})

	var (
		lines   [][]Fragment
		current []Fragment
		depth   int
	)
	for _, ev := range events {
		switch ev.kind {
		case eventStart:
			depth++
			current = insertByX(current, fragments[ev.index])
		case eventEnd:
			depth--
			if depth == 0 {
				lines = append(lines, current)
				current = nil
			}
		}
	}
	if len(current) > 0 {
		lines = append(lines, current)
	}
	return lines
}

// insertByX inserts f after any fragment with the same or smaller x.
func insertByX(line []Fragment, f Fragment) []Fragment {
	pos := sort.Search(len(line), func(i int) bool {
		return line[i].X > f.X
	})
	return slices.Insert(line, pos, f)
}

// LineTexts maps grouped lines to their token strings.
func LineTexts(lines [][]Fragment) [][]string {
	out := make([][]string, len(lines))
	for i, line := range lines {
		tokens := make([]string, len(line))
		for j, f := range line {
			tokens[j] = f.Text
		}
		out[i] = tokens
	}
	return out
}
