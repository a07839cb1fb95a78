// Package sparse implements the sparse coordinate engine: a cube stored as
// a sorted set of (coordinate, value) entries. Positions without an entry
// hold the cube's fill value. Entries are kept in lexicographic coordinate
// order, so iteration order is deterministic.
package sparse

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/dims"
	"github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/logging"
)

type entry struct {
	coord []int
	val   float64
}

// compareCoord orders coordinates lexicographically.
func compareCoord(a, b []int) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Engine holds a sparse cube in memory, persisted as a Parquet entry file
// in the cube directory.
type Engine struct {
	mu       sync.RWMutex
	appendMu sync.Mutex
	meta     *cube.Meta
	cubeDir  string
	entries  []entry
	dirty    bool
	index    *dims.Index
	log      *slog.Logger
}

// Create initializes a sparse engine for a fresh cube directory.
func Create(cubeDir string, meta *cube.Meta) (*Engine, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		meta:    meta,
		cubeDir: cubeDir,
		index:   dims.New(meta.Shape, meta.DimNames, meta.CoordLabels),
		log:     logging.Component("sparse").With("cube", meta.Name),
	}
	if err := meta.Save(cubeDir); err != nil {
		return nil, errors.NewStorage(meta.Name, "", err)
	}
	return e, nil
}

// Open re-opens a persisted sparse cube, loading its entry file if present.
func Open(cubeDir string, meta *cube.Meta) (*Engine, error) {
	e := &Engine{
		meta:    meta,
		cubeDir: cubeDir,
		index:   dims.New(meta.Shape, meta.DimNames, meta.CoordLabels),
		log:     logging.Component("sparse").With("cube", meta.Name),
	}
	if err := e.load(); err != nil {
		return nil, errors.NewStorage(meta.Name, entryFileName, err)
	}
	return e, nil
}

// Meta returns a copy of the cube's metadata record.
func (e *Engine) Meta() *cube.Meta {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta.Clone()
}

// Shape returns the current logical shape.
func (e *Engine) Shape() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cube.CloneInts(e.meta.Shape)
}

// DType returns the element type.
func (e *Engine) DType() cube.DType { return e.meta.DType }

// FillValue returns the implicit value of absent coordinates.
func (e *Engine) FillValue() float64 { return e.meta.FillValue }

// Dims returns the dimension index for the current shape.
func (e *Engine) Dims() *dims.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// search returns the insertion position of coord and whether it is present.
// Caller holds at least a read lock.
func (e *Engine) search(coord []int) (int, bool) {
	i := sort.Search(len(e.entries), func(i int) bool {
		return compareCoord(e.entries[i].coord, coord) >= 0
	})
	return i, i < len(e.entries) && compareCoord(e.entries[i].coord, coord) == 0
}

// Get returns the value at a coordinate, or the fill value if no entry
// exists there.
func (e *Engine) Get(coord []int) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := cube.CheckBounds(coord, e.meta.Shape); err != nil {
		return 0, errors.Wrap(errors.ErrIndex, err.Error())
	}
	if i, ok := e.search(coord); ok {
		return e.entries[i].val, nil
	}
	return e.meta.FillValue, nil
}

// Set stores a value at a coordinate. Setting the fill value removes the
// entry, so the entry set never stores explicit fill values.
func (e *Engine) Set(coord []int, v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := cube.CheckBounds(coord, e.meta.Shape); err != nil {
		return errors.Wrap(errors.ErrIndex, err.Error())
	}
	e.setLocked(coord, v)
	return nil
}

// setLocked inserts, replaces, or prunes one entry. Caller holds the write
// lock and has bounds-checked coord.
func (e *Engine) setLocked(coord []int, v float64) {
	i, ok := e.search(coord)
	switch {
	case v == e.meta.FillValue && ok:
		e.entries = append(e.entries[:i], e.entries[i+1:]...)
	case v == e.meta.FillValue:
		return
	case ok:
		e.entries[i].val = v
	default:
		e.entries = append(e.entries, entry{})
		copy(e.entries[i+1:], e.entries[i:])
		e.entries[i] = entry{coord: cube.CloneInts(coord), val: v}
	}
	e.dirty = true
}

// CountNonzero reports the number of stored entries.
func (e *Engine) CountNonzero() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// Nonzero invokes fn for every stored entry in lexicographic coordinate
// order. The coord slice is reused across calls; copy it to retain it.
func (e *Engine) Nonzero(fn func(coord []int, v float64) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coord := make([]int, len(e.meta.Shape))
	for _, ent := range e.entries {
		copy(coord, ent.coord)
		if err := fn(coord, ent.val); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Selection read/write
// =============================================================================

// posInSel maps a cube position on one axis to its offset within the
// selection, if selected.
func posInSel(a cube.AxisSel, pos int) (int, bool) {
	switch a.Kind {
	case cube.SelIndex:
		if pos == a.Index {
			return 0, true
		}
	case cube.SelRange:
		if pos >= a.Start && pos < a.Stop {
			return pos - a.Start, true
		}
	case cube.SelList:
		for k, p := range a.Positions {
			if p == pos {
				return k, true
			}
		}
	}
	return 0, false
}

// Read materializes a resolved selection into a dense buffer of the
// cube's dtype. Index axes are squeezed out of the result shape.
func (e *Engine) Read(sel cube.Selection) (*cube.Buffer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := sel.Validate(e.meta.Shape); err != nil {
		return nil, errors.Wrap(errors.ErrIndex, err.Error())
	}

	box := sel.BoxShape()
	out := cube.NewBuffer(e.meta.DType, box)
	if e.meta.FillValue != 0 {
		out.Fill(e.meta.FillValue)
	}
	strides := cube.Strides(box)

	for _, ent := range e.entries {
		off := 0
		hit := true
		for d, a := range sel {
			k, ok := posInSel(a, ent.coord[d])
			if !ok {
				hit = false
				break
			}
			off += k * strides[d]
		}
		if hit {
			out.SetAt(off, ent.val)
		}
	}
	_ = out.Reshape(sel.ResultShape())
	return out, nil
}

// Write stores a buffer into a resolved selection, entry by entry. Fill
// values in the buffer prune any existing entries at those coordinates.
func (e *Engine) Write(sel cube.Selection, buf *cube.Buffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := sel.Validate(e.meta.Shape); err != nil {
		return errors.Wrap(errors.ErrIndex, err.Error())
	}
	if buf.DType() != e.meta.DType {
		return errors.Wrapf(errors.ErrDtypeMismatch,
			"cube %q is %s, buffer is %s", e.meta.Name, e.meta.DType, buf.DType())
	}
	box := sel.BoxShape()
	if buf.Len() != cube.ElemCount(box) {
		return errors.Wrapf(errors.ErrShapeMismatch,
			"selection needs %d elements, buffer has %d", cube.ElemCount(box), buf.Len())
	}
	if buf.Len() == 0 {
		return nil
	}

	ndim := len(sel)
	idx := make([]int, ndim)
	coord := make([]int, ndim)
	i := 0
	for {
		for d := range sel {
			coord[d] = sel[d].Position(idx[d])
		}
		e.setLocked(coord, buf.At(i))
		i++
		d := ndim - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < sel[d].Count() {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// =============================================================================
// Shape changes
// =============================================================================

// Append extends the cube along axis by the buffer's extent on that axis
// and writes the buffer into the new region. Existing entries keep their
// coordinates. Appends are serialized by appendMu so each one extends the
// shape the previous one left.
func (e *Engine) Append(axis int, buf *cube.Buffer) error {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	e.mu.RLock()
	shape := cube.CloneInts(e.meta.Shape)
	e.mu.RUnlock()

	ndim := len(shape)
	if axis < 0 {
		axis += ndim
	}
	if axis < 0 || axis >= ndim {
		return errors.Wrapf(errors.ErrAppendAxis, "axis %d out of range for %d dimensions", axis, ndim)
	}
	bshape := buf.Shape()
	if len(bshape) != ndim {
		return errors.Wrapf(errors.ErrAppendAxis,
			"appended block has %d dimensions, cube has %d", len(bshape), ndim)
	}
	for d := range shape {
		if d != axis && bshape[d] != shape[d] {
			return errors.Wrapf(errors.ErrAppendAxis,
				"extent mismatch on axis %d: cube has %d, block has %d", d, shape[d], bshape[d])
		}
	}
	if buf.DType() != e.meta.DType {
		return errors.Wrapf(errors.ErrDtypeMismatch,
			"cube %q is %s, block is %s", e.meta.Name, e.meta.DType, buf.DType())
	}

	oldN := shape[axis]
	newShape := cube.CloneInts(shape)
	newShape[axis] = oldN + bshape[axis]
	if err := e.resize(newShape); err != nil {
		return err
	}

	sel := make(cube.Selection, ndim)
	for d := range sel {
		if d == axis {
			sel[d] = cube.Range(oldN, newShape[axis])
		} else {
			sel[d] = cube.Full(newShape[d])
		}
	}
	return e.Write(sel, buf)
}

// Resize changes the logical shape. Shrinking drops entries beyond the new
// bounds, so re-growing reads fill values there.
func (e *Engine) Resize(newShape []int) error {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()
	return e.resize(newShape)
}

func (e *Engine) resize(newShape []int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(newShape) != len(e.meta.Shape) {
		return errors.Wrapf(errors.ErrShapeMismatch,
			"resize must keep %d dimensions, got %d", len(e.meta.Shape), len(newShape))
	}
	for _, n := range newShape {
		if n < 0 {
			return errors.Wrap(errors.ErrInvalidShape, "negative extent")
		}
	}

	kept := e.entries[:0]
	for _, ent := range e.entries {
		inRange := true
		for d, c := range ent.coord {
			if c >= newShape[d] {
				inRange = false
				break
			}
		}
		if inRange {
			kept = append(kept, ent)
		} else {
			e.dirty = true
		}
	}
	e.entries = kept
	e.meta.Shape = cube.CloneInts(newShape)
	e.index = dims.New(e.meta.Shape, e.meta.DimNames, e.meta.CoordLabels)
	if err := e.meta.Save(e.cubeDir); err != nil {
		return errors.NewStorage(e.meta.Name, "", err)
	}
	return nil
}

// =============================================================================
// Densify
// =============================================================================

// DenseBuffer materializes the whole cube as a dense buffer.
func (e *Engine) DenseBuffer() (*cube.Buffer, error) {
	return e.Read(cube.FullSelection(e.Shape()))
}

// LoadDense replaces the entry set with the non-fill elements of a dense
// buffer of the cube's full shape.
func (e *Engine) LoadDense(buf *cube.Buffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !cube.SameShape(buf.Shape(), e.meta.Shape) {
		return errors.NewShapeMismatch(buf.Shape(), e.meta.Shape)
	}
	e.entries = e.entries[:0]
	coord := make([]int, len(e.meta.Shape))
	for i := 0; i < buf.Len(); i++ {
		v := buf.At(i)
		if v == e.meta.FillValue {
			continue
		}
		cube.Unravel(i, e.meta.Shape, coord)
		e.entries = append(e.entries, entry{coord: cube.CloneInts(coord), val: v})
	}
	e.dirty = true
	return nil
}
