// Package dense implements the dense array engine: one logical row-major
// array presented over lazily allocated, individually persisted chunks.
//
// Chunk files store the truncated extent of their chunk (shorter at array
// boundaries). Appending along an axis re-lays-out only the chunks on the
// growing edge; interior chunk files are never touched or moved.
package dense

import (
	"log/slog"
	"sync"

	"github.com/TobiasJacob/cube-store/internal/chunkstore"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/dims"
	"github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/logging"
)

// Engine presents a single logical dense array over a chunk store.
//
// Shape-changing operations (append, resize) are serialized per engine;
// reads and writes lock individual chunks for the duration of the single
// chunk operation only, so a long traversal does not block writers on
// chunks it has already passed.
type Engine struct {
	mu       sync.RWMutex // guards meta (shape) and index
	appendMu sync.Mutex   // serializes append/resize per cube

	meta    *cube.Meta
	cubeDir string
	store   *chunkstore.Store
	index   *dims.Index
	log     *slog.Logger
}

// Create initializes a dense engine for a fresh cube directory. The meta
// record must already carry a valid chunk shape.
func Create(cubeDir string, meta *cube.Meta, cache *chunkstore.Cache, locks *chunkstore.LockTable) (*Engine, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if meta.ChunkShape == nil {
		meta.ChunkShape = cube.DefaultChunkShape(meta.Shape, meta.DType, 4<<20)
	}
	store, err := chunkstore.Open(meta.Name, cubeDir, cache, locks)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		meta:    meta,
		cubeDir: cubeDir,
		store:   store,
		index:   dims.New(meta.Shape, meta.DimNames, meta.CoordLabels),
		log:     logging.Component("dense").With("cube", meta.Name),
	}
	if err := meta.Save(cubeDir); err != nil {
		return nil, errors.NewStorage(meta.Name, "", err)
	}
	return e, nil
}

// Open re-opens a persisted dense cube.
func Open(cubeDir string, meta *cube.Meta, cache *chunkstore.Cache, locks *chunkstore.LockTable) (*Engine, error) {
	store, err := chunkstore.Open(meta.Name, cubeDir, cache, locks)
	if err != nil {
		return nil, err
	}
	return &Engine{
		meta:    meta,
		cubeDir: cubeDir,
		store:   store,
		index:   dims.New(meta.Shape, meta.DimNames, meta.CoordLabels),
		log:     logging.Component("dense").With("cube", meta.Name),
	}, nil
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

// ChunkShape returns the per-axis chunk extents.
func (e *Engine) ChunkShape() []int { return cube.CloneInts(e.meta.ChunkShape) }

// FillValue returns the implicit value of unwritten regions.
func (e *Engine) FillValue() float64 { return e.meta.FillValue }

// Dims returns the dimension index for the current shape.
func (e *Engine) Dims() *dims.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// Destroy removes all chunk data. The catalog removes the cube directory.
func (e *Engine) Destroy() error {
	return e.store.Destroy()
}

// =============================================================================
// Chunk geometry
// =============================================================================

// chunkExtents returns the truncated extents of chunk ci under shape.
func chunkExtents(ci chunkstore.Key, shape, chunkShape []int) []int {
	ext := make([]int, len(shape))
	for d := range shape {
		ext[d] = cube.ChunkExtent(d, ci[d], shape, chunkShape)
	}
	return ext
}

// axisRun groups the selected positions on one axis that fall into one
// chunk: the output offsets along the axis and the chunk-local positions.
type axisRun struct {
	ci     int
	outKs  []int
	locals []int
}

// axisRuns splits one axis selection into per-chunk runs, preserving the
// selection's output order within each run.
func axisRuns(sel cube.AxisSel, chunkExtent int) []axisRun {
	n := sel.Count()
	runs := make([]axisRun, 0, 4)
	byChunk := make(map[int]int) // ci -> index into runs
	for k := 0; k < n; k++ {
		pos := sel.Position(k)
		ci := pos / chunkExtent
		ri, ok := byChunk[ci]
		if !ok {
			ri = len(runs)
			runs = append(runs, axisRun{ci: ci})
			byChunk[ci] = ri
		}
		runs[ri].outKs = append(runs[ri].outKs, k)
		runs[ri].locals = append(runs[ri].locals, pos-ci*chunkExtent)
	}
	return runs
}

// =============================================================================
// Read
// =============================================================================

// Read materializes a resolved selection into a buffer. Index axes are
// squeezed out of the result shape. Chunks that were never written
// contribute the fill value without being allocated.
func (e *Engine) Read(sel cube.Selection) (*cube.Buffer, error) {
	e.mu.RLock()
	shape := cube.CloneInts(e.meta.Shape)
	chunkShape := cube.CloneInts(e.meta.ChunkShape)
	e.mu.RUnlock()

	if err := sel.Validate(shape); err != nil {
		return nil, errors.Wrap(errors.ErrIndex, err.Error())
	}

	box := sel.BoxShape()
	out := cube.NewBuffer(e.meta.DType, box)
	if e.meta.FillValue != 0 {
		out.Fill(e.meta.FillValue)
	}
	if out.Len() == 0 {
		_ = out.Reshape(sel.ResultShape())
		return out, nil
	}

	runs := make([][]axisRun, len(sel))
	for d := range sel {
		runs[d] = axisRuns(sel[d], chunkShape[d])
	}

	outStrides := cube.Strides(box)
	esize := e.meta.DType.Size()

	err := e.forEachChunk(runs, func(key chunkstore.Key, combo []axisRun) error {
		unlock := e.store.RLock(key)
		data, exists, err := e.store.Read(key)
		unlock()
		if err != nil {
			return err
		}
		if !exists {
			// Fill value content; out is pre-filled.
			return nil
		}
		ext := chunkExtents(key, shape, chunkShape)
		if len(data) != cube.ElemCount(ext)*esize {
			// Stale layout from an interrupted reshape; treat as unwritten.
			return nil
		}
		copyChunkElems(combo, data, out.Bytes(), cube.Strides(ext), outStrides, esize, true)
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = out.Reshape(sel.ResultShape())
	return out, nil
}

// =============================================================================
// Write
// =============================================================================

// Write stores a buffer into a resolved selection. The buffer's element
// count must match the selection; its dtype must match the cube's.
func (e *Engine) Write(sel cube.Selection, buf *cube.Buffer) error {
	e.mu.RLock()
	shape := cube.CloneInts(e.meta.Shape)
	chunkShape := cube.CloneInts(e.meta.ChunkShape)
	e.mu.RUnlock()

	if err := sel.Validate(shape); err != nil {
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

	runs := make([][]axisRun, len(sel))
	for d := range sel {
		runs[d] = axisRuns(sel[d], chunkShape[d])
	}

	inStrides := cube.Strides(box)
	esize := e.meta.DType.Size()

	return e.forEachChunk(runs, func(key chunkstore.Key, combo []axisRun) error {
		ext := chunkExtents(key, shape, chunkShape)
		locStrides := cube.Strides(ext)
		chunkBytes := cube.ElemCount(ext) * esize

		unlock := e.store.Lock(key)
		defer unlock()

		data, exists, err := e.store.Read(key)
		if err != nil {
			return err
		}
		var scratch []byte
		if exists {
			// Cached bytes are shared with readers; modify a copy.
			scratch = make([]byte, len(data))
			copy(scratch, data)
		} else {
			scratch = e.fillChunk(ext)
		}
		if len(scratch) != chunkBytes {
			// Stale layout from an interrupted reshape; start clean.
			scratch = e.fillChunk(ext)
		}

		copyChunkElems(combo, scratch, buf.Bytes(), locStrides, inStrides, esize, false)
		return e.store.Write(key, scratch)
	})
}

// fillChunk allocates a chunk buffer pre-filled with the fill value.
func (e *Engine) fillChunk(ext []int) []byte {
	b := cube.NewBuffer(e.meta.DType, ext)
	if e.meta.FillValue != 0 {
		b.Fill(e.meta.FillValue)
	}
	return b.Bytes()
}

// forEachChunk iterates the cartesian product of per-axis runs, invoking fn
// once per touched chunk.
func (e *Engine) forEachChunk(runs [][]axisRun, fn func(key chunkstore.Key, combo []axisRun) error) error {
	ndim := len(runs)
	if ndim == 0 {
		// 0-dimensional cube: single scalar chunk.
		return fn(chunkstore.Key{}, nil)
	}
	for d := range runs {
		if len(runs[d]) == 0 {
			return nil
		}
	}
	idx := make([]int, ndim)
	combo := make([]axisRun, ndim)
	key := make(chunkstore.Key, ndim)
	for {
		for d := 0; d < ndim; d++ {
			combo[d] = runs[d][idx[d]]
			key[d] = combo[d].ci
		}
		if err := fn(key, combo); err != nil {
			return err
		}
		// Advance the odometer, last axis fastest.
		d := ndim - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < len(runs[d]) {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// copyChunkElems copies the intersection of a selection with one chunk
// between the chunk buffer and the selection-shaped buffer.
// If toSel is true, bytes flow chunk -> sel; otherwise sel -> chunk.
func copyChunkElems(combo []axisRun, chunkData, selData []byte, chunkStrides, selStrides []int, esize int, toSel bool) {
	ndim := len(combo)
	if ndim == 0 {
		if toSel {
			copy(selData[:esize], chunkData[:esize])
		} else {
			copy(chunkData[:esize], selData[:esize])
		}
		return
	}
	idx := make([]int, ndim)
	for {
		locOff, selOff := 0, 0
		for d := 0; d < ndim; d++ {
			locOff += combo[d].locals[idx[d]] * chunkStrides[d]
			selOff += combo[d].outKs[idx[d]] * selStrides[d]
		}
		if toSel {
			copy(selData[selOff*esize:(selOff+1)*esize], chunkData[locOff*esize:(locOff+1)*esize])
		} else {
			copy(chunkData[locOff*esize:(locOff+1)*esize], selData[selOff*esize:(selOff+1)*esize])
		}
		d := ndim - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < len(combo[d].locals) {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}
