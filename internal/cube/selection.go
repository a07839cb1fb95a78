package cube

import (
	"fmt"
)

// AxisSelKind distinguishes the three concrete per-axis selection forms
// the dimension index produces.
type AxisSelKind uint8

const (
	// SelIndex selects a single position and drops the axis from the
	// result shape.
	SelIndex AxisSelKind = iota
	// SelRange selects the half-open contiguous range [Start, Stop).
	SelRange
	// SelList selects an explicit ordered list of positions.
	SelList
)

// AxisSel is one axis of a fully resolved selection.
type AxisSel struct {
	Kind      AxisSelKind
	Index     int   // SelIndex
	Start     int   // SelRange
	Stop      int   // SelRange
	Positions []int // SelList
}

// Index1 returns a single-position selection.
func Index1(i int) AxisSel { return AxisSel{Kind: SelIndex, Index: i} }

// Range returns a contiguous range selection over [start, stop).
func Range(start, stop int) AxisSel { return AxisSel{Kind: SelRange, Start: start, Stop: stop} }

// List returns an ordered position-list selection.
func List(positions []int) AxisSel { return AxisSel{Kind: SelList, Positions: positions} }

// Full returns a selection covering an entire axis of extent n.
func Full(n int) AxisSel { return Range(0, n) }

// Count returns the number of selected positions along the axis.
func (a AxisSel) Count() int {
	switch a.Kind {
	case SelIndex:
		return 1
	case SelRange:
		if a.Stop < a.Start {
			return 0
		}
		return a.Stop - a.Start
	case SelList:
		return len(a.Positions)
	default:
		return 0
	}
}

// Keeps reports whether the axis survives into the result shape.
func (a AxisSel) Keeps() bool { return a.Kind != SelIndex }

// Position returns the k-th selected position along the axis.
func (a AxisSel) Position(k int) int {
	switch a.Kind {
	case SelIndex:
		return a.Index
	case SelRange:
		return a.Start + k
	case SelList:
		return a.Positions[k]
	default:
		return 0
	}
}

// Bounds returns the smallest and one-past-largest selected positions.
func (a AxisSel) Bounds() (lo, hi int) {
	switch a.Kind {
	case SelIndex:
		return a.Index, a.Index + 1
	case SelRange:
		return a.Start, a.Stop
	case SelList:
		if len(a.Positions) == 0 {
			return 0, 0
		}
		lo, hi = a.Positions[0], a.Positions[0]+1
		for _, p := range a.Positions[1:] {
			if p < lo {
				lo = p
			}
			if p+1 > hi {
				hi = p + 1
			}
		}
		return lo, hi
	default:
		return 0, 0
	}
}

func (a AxisSel) String() string {
	switch a.Kind {
	case SelIndex:
		return fmt.Sprintf("%d", a.Index)
	case SelRange:
		return fmt.Sprintf("%d:%d", a.Start, a.Stop)
	case SelList:
		return fmt.Sprintf("%v", a.Positions)
	default:
		return "?"
	}
}

// Selection is a fully resolved selection, one AxisSel per cube dimension.
type Selection []AxisSel

// FullSelection selects every element of a shape.
func FullSelection(shape []int) Selection {
	sel := make(Selection, len(shape))
	for i, n := range shape {
		sel[i] = Full(n)
	}
	return sel
}

// ResultShape returns the shape of the data the selection yields: SelIndex
// axes are dropped, the others contribute their counts.
func (sel Selection) ResultShape() []int {
	shape := make([]int, 0, len(sel))
	for _, a := range sel {
		if a.Keeps() {
			shape = append(shape, a.Count())
		}
	}
	return shape
}

// BoxShape returns the per-axis counts without dropping index axes. This is
// the shape used for iteration; ResultShape is BoxShape with index axes
// squeezed out.
func (sel Selection) BoxShape() []int {
	shape := make([]int, len(sel))
	for i, a := range sel {
		shape[i] = a.Count()
	}
	return shape
}

// Validate checks every selected position against the cube shape.
func (sel Selection) Validate(shape []int) error {
	if len(sel) != len(shape) {
		return fmt.Errorf("selection has %d axes, cube has %d", len(sel), len(shape))
	}
	for axis, a := range sel {
		lo, hi := a.Bounds()
		if a.Count() == 0 {
			continue
		}
		if lo < 0 || hi > shape[axis] {
			return fmt.Errorf("axis %d: selection %s outside [0, %d)", axis, a, shape[axis])
		}
	}
	return nil
}
