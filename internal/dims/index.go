// Package dims implements the dimension index: the resolution layer that
// turns dimension names, coordinate labels, slice ranges, and ellipsis
// items into concrete positional selections.
package dims

import (
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

// ItemKind identifies one element of a raw index expression.
type ItemKind uint8

const (
	// ItemIndex is a single integer position.
	ItemIndex ItemKind = iota
	// ItemRange is a slice range with optional start/stop.
	ItemRange
	// ItemEllipsis expands to as many full-range selections as needed.
	ItemEllipsis
	// ItemAll selects the full axis.
	ItemAll
	// ItemLabel is a single coordinate label.
	ItemLabel
	// ItemLabelSet is an ordered set of coordinate labels.
	ItemLabelSet
)

// Item is one element of a raw, unresolved index expression as it arrives
// from a client.
type Item struct {
	Kind     ItemKind
	Index    int
	Start    *int // nil = 0
	Stop     *int // nil = axis extent
	Label    string
	Labels   []string
}

// Index resolves names and labels for one cube. It is immutable after
// construction; engines rebuild it when a resize or append changes shape.
type Index struct {
	shape      []int
	names      []string
	nameToAxis map[string]int
	labelToPos []map[string]int
}

// New builds a dimension index. names and labels may be nil; per-dimension
// label sets may individually be nil for unlabeled dimensions.
func New(shape []int, names []string, labels [][]string) *Index {
	ix := &Index{
		shape: cube.CloneInts(shape),
		names: names,
	}
	if names != nil {
		ix.nameToAxis = make(map[string]int, len(names))
		for i, n := range names {
			ix.nameToAxis[n] = i
		}
	}
	if labels != nil {
		ix.labelToPos = make([]map[string]int, len(labels))
		for d, ls := range labels {
			if ls == nil {
				continue
			}
			m := make(map[string]int, len(ls))
			for pos, l := range ls {
				m[l] = pos
			}
			ix.labelToPos[d] = m
		}
	}
	return ix
}

// NDim returns the number of dimensions.
func (ix *Index) NDim() int { return len(ix.shape) }

// AxisByName resolves a bare dimension name to its positional index, as
// used by reduction and iteration calls.
func (ix *Index) AxisByName(name string) (int, error) {
	if ix.nameToAxis != nil {
		if axis, ok := ix.nameToAxis[name]; ok {
			return axis, nil
		}
	}
	return 0, errors.Wrapf(errors.ErrNameNotFound, "dimension %q", name)
}

// Axis resolves an axis reference that is either a positional index or a
// dimension name.
func (ix *Index) Axis(ref any) (int, error) {
	switch v := ref.(type) {
	case int:
		if v < 0 || v >= len(ix.shape) {
			return 0, errors.NewIndex(v, v, len(ix.shape))
		}
		return v, nil
	case float64: // JSON numbers decode as float64
		return ix.Axis(int(v))
	case string:
		return ix.AxisByName(v)
	default:
		return 0, errors.Wrapf(errors.ErrInvalidRequest, "axis reference %T", ref)
	}
}

// labelPos resolves a coordinate label on one dimension.
func (ix *Index) labelPos(axis int, label string) (int, error) {
	if ix.labelToPos != nil && axis < len(ix.labelToPos) && ix.labelToPos[axis] != nil {
		if pos, ok := ix.labelToPos[axis][label]; ok {
			return pos, nil
		}
	}
	return 0, errors.Wrapf(errors.ErrNameNotFound,
		"label %q on dimension %d", label, axis)
}

// Resolve expands an index expression into a concrete selection, one
// AxisSel per dimension. Missing trailing items select the full axis;
// an ellipsis expands to the minimal number of full-range selections.
func (ix *Index) Resolve(expr []Item) (cube.Selection, error) {
	ndim := len(ix.shape)

	// Expand the ellipsis, if any. At most one is allowed.
	expanded := make([]Item, 0, ndim)
	sawEllipsis := false
	explicit := 0
	for _, it := range expr {
		if it.Kind == ItemEllipsis {
			if sawEllipsis {
				return nil, errors.Wrap(errors.ErrIndex, "more than one ellipsis")
			}
			sawEllipsis = true
			continue
		}
		explicit++
	}
	if explicit > ndim {
		return nil, errors.Wrapf(errors.ErrIndex,
			"index expression has %d items for %d dimensions", explicit, ndim)
	}
	for _, it := range expr {
		if it.Kind == ItemEllipsis {
			for i := 0; i < ndim-explicit; i++ {
				expanded = append(expanded, Item{Kind: ItemAll})
			}
			continue
		}
		expanded = append(expanded, it)
	}
	for len(expanded) < ndim {
		expanded = append(expanded, Item{Kind: ItemAll})
	}

	sel := make(cube.Selection, ndim)
	for axis, it := range expanded {
		resolved, err := ix.resolveItem(axis, it)
		if err != nil {
			return nil, err
		}
		sel[axis] = resolved
	}
	return sel, nil
}

func (ix *Index) resolveItem(axis int, it Item) (cube.AxisSel, error) {
	extent := ix.shape[axis]
	switch it.Kind {
	case ItemAll:
		return cube.Full(extent), nil

	case ItemIndex:
		pos := it.Index
		if pos < 0 {
			pos += extent
		}
		if pos < 0 || pos >= extent {
			return cube.AxisSel{}, errors.NewIndex(axis, it.Index, extent)
		}
		return cube.Index1(pos), nil

	case ItemRange:
		start, stop := 0, extent
		if it.Start != nil {
			start = *it.Start
			if start < 0 {
				start += extent
			}
		}
		if it.Stop != nil {
			stop = *it.Stop
			if stop < 0 {
				stop += extent
			}
		}
		if start < 0 || stop > extent || start > stop {
			return cube.AxisSel{}, errors.Wrapf(errors.ErrIndex,
				"axis %d: range %s outside [0, %d)", axis, cube.Range(start, stop), extent)
		}
		return cube.Range(start, stop), nil

	case ItemLabel:
		pos, err := ix.labelPos(axis, it.Label)
		if err != nil {
			return cube.AxisSel{}, err
		}
		return cube.Index1(pos), nil

	case ItemLabelSet:
		positions := make([]int, len(it.Labels))
		for i, l := range it.Labels {
			pos, err := ix.labelPos(axis, l)
			if err != nil {
				return cube.AxisSel{}, err
			}
			positions[i] = pos
		}
		return cube.List(positions), nil

	default:
		return cube.AxisSel{}, errors.Wrapf(errors.ErrInvalidRequest, "selection item kind %d", it.Kind)
	}
}
