package dense

import (
	"github.com/TobiasJacob/cube-store/internal/chunkstore"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/dims"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

// =============================================================================
// Append
// =============================================================================

// Append extends the cube along axis by the buffer's extent on that axis
// and writes the buffer into the newly exposed region. All other extents
// of the buffer must match the cube. Existing chunk addresses never move;
// only the chunks on the growing edge are re-laid-out.
//
// Each chunk write is atomic, but an append spanning several chunks is not
// transactional: a failure partway leaves some new chunks written and the
// shape already extended.
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

	if err := e.reshapeTo(shape, newShape); err != nil {
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

// Resize changes the logical shape in place. Growing exposes fill-value
// regions; shrinking discards data beyond the new bounds, so a later
// re-grow reads fill values there rather than stale content.
func (e *Engine) Resize(newShape []int) error {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	e.mu.RLock()
	shape := cube.CloneInts(e.meta.Shape)
	e.mu.RUnlock()

	if len(newShape) != len(shape) {
		return errors.Wrapf(errors.ErrShapeMismatch,
			"resize must keep %d dimensions, got %d", len(shape), len(newShape))
	}
	for _, n := range newShape {
		if n < 0 {
			return errors.Wrap(errors.ErrInvalidShape, "negative extent")
		}
	}
	return e.reshapeTo(shape, cube.CloneInts(newShape))
}

// =============================================================================
// Edge re-layout
// =============================================================================

// reshapeTo transitions persisted chunks from oldShape to newShape, then
// commits the new shape to metadata. Interior chunks keep their layout;
// boundary chunks whose truncated extent changes are rewritten, and chunks
// falling entirely outside the new shape are deleted.
func (e *Engine) reshapeTo(oldShape, newShape []int) error {
	chunkShape := e.meta.ChunkShape
	keys, err := e.store.Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if len(key) != len(newShape) {
			continue
		}
		outside := false
		for d := range key {
			if key[d]*chunkShape[d] >= newShape[d] {
				outside = true
				break
			}
		}
		unlock := e.store.Lock(key)
		if outside {
			err = e.store.Delete(key)
			unlock()
			if err != nil {
				return err
			}
			continue
		}
		oldExt := chunkExtents(key, oldShape, chunkShape)
		newExt := chunkExtents(key, newShape, chunkShape)
		if cube.SameShape(oldExt, newExt) {
			unlock()
			continue
		}
		data, exists, rerr := e.store.Read(key)
		if rerr != nil {
			unlock()
			return rerr
		}
		if !exists {
			unlock()
			continue
		}
		relaid := e.relayoutChunk(data, oldExt, newExt)
		err = e.store.Write(key, relaid)
		unlock()
		if err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.meta.Shape = newShape
	e.index = dims.New(newShape, e.meta.DimNames, e.meta.CoordLabels)
	err = e.meta.Save(e.cubeDir)
	e.mu.Unlock()
	if err != nil {
		return errors.NewStorage(e.meta.Name, "", err)
	}
	e.log.Debug("reshaped cube", "from", oldShape, "to", newShape)
	return nil
}

// relayoutChunk rewrites a chunk buffer from one truncated extent to
// another. Positions present in both extents carry over; new positions
// take the fill value; dropped positions are discarded.
func (e *Engine) relayoutChunk(old []byte, oldExt, newExt []int) []byte {
	out := e.fillChunk(newExt)
	ndim := len(oldExt)
	esize := e.meta.DType.Size()
	if ndim == 0 {
		copy(out, old)
		return out
	}
	span := make([]int, ndim)
	for d := range span {
		span[d] = oldExt[d]
		if newExt[d] < span[d] {
			span[d] = newExt[d]
		}
		if span[d] == 0 {
			return out
		}
	}
	oldStrides := cube.Strides(oldExt)
	newStrides := cube.Strides(newExt)
	idx := make([]int, ndim)
	for {
		oldOff, newOff := 0, 0
		for d := 0; d < ndim; d++ {
			oldOff += idx[d] * oldStrides[d]
			newOff += idx[d] * newStrides[d]
		}
		copy(out[newOff*esize:(newOff+1)*esize], old[oldOff*esize:(oldOff+1)*esize])
		d := ndim - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < span[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return out
		}
	}
}

// Keys lists the chunk keys with persisted data, in no particular order.
func (e *Engine) Keys() ([]chunkstore.Key, error) {
	return e.store.Keys()
}

// AllocatedChunks reports how many chunks have been materialized on disk.
func (e *Engine) AllocatedChunks() (int, error) {
	keys, err := e.store.Keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
