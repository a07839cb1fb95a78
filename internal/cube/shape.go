package cube

import (
	"github.com/TobiasJacob/cube-store/internal/errors"
)

// ElemCount returns the number of elements in a shape. The empty shape
// (a scalar) has one element.
func ElemCount(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Strides returns the row-major element strides for a shape: the last axis
// varies fastest.
func Strides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// LinearIndex returns the row-major linear index of a coordinate.
func LinearIndex(coord, shape []int) int {
	idx := 0
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		idx += coord[i] * stride
		stride *= shape[i]
	}
	return idx
}

// Unravel writes the coordinate of linear index idx into coord.
func Unravel(idx int, shape, coord []int) {
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] > 0 {
			coord[i] = idx % shape[i]
			idx /= shape[i]
		} else {
			coord[i] = 0
		}
	}
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CloneInts returns a copy of an int slice.
func CloneInts(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}

// CheckBounds verifies that a coordinate lies within shape.
func CheckBounds(coord, shape []int) error {
	if len(coord) != len(shape) {
		return errors.Wrapf(errors.ErrIndex, "coordinate has %d dims, cube has %d", len(coord), len(shape))
	}
	for i, c := range coord {
		if c < 0 || c >= shape[i] {
			return errors.NewIndex(i, c, shape[i])
		}
	}
	return nil
}

// BroadcastShapes combines two shapes under the broadcasting rule: comparing
// trailing dimensions right to left, each pair must be equal or one of them
// must be 1; missing leading dimensions count as 1.
func BroadcastShapes(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		da, db := 1, 1
		if i < len(a) {
			da = a[len(a)-1-i]
		}
		if i < len(b) {
			db = b[len(b)-1-i]
		}
		switch {
		case da == db:
			out[n-1-i] = da
		case da == 1:
			out[n-1-i] = db
		case db == 1:
			out[n-1-i] = da
		default:
			return nil, errors.NewShapeMismatch(a, b)
		}
	}
	return out, nil
}

// BroadcastIndex maps a coordinate in the broadcast result shape to the
// linear index of the operand with the given (possibly smaller) shape.
// Axes of extent 1 in the operand are pinned to position 0.
func BroadcastIndex(outCoord []int, operandShape []int) int {
	idx := 0
	stride := 1
	off := len(outCoord) - len(operandShape)
	for i := len(operandShape) - 1; i >= 0; i-- {
		c := outCoord[off+i]
		if operandShape[i] == 1 {
			c = 0
		}
		idx += c * stride
		stride *= operandShape[i]
	}
	return idx
}

// DefaultChunkShape derives a chunk shape for a dense cube: trailing axes
// are kept whole and leading axes are split until one chunk fits within
// targetBytes. Every extent is at least 1.
func DefaultChunkShape(shape []int, dtype DType, targetBytes int) []int {
	if targetBytes <= 0 {
		targetBytes = 4 * 1024 * 1024
	}
	chunk := CloneInts(shape)
	for i := range chunk {
		if chunk[i] < 1 {
			chunk[i] = 1
		}
	}
	for axis := 0; axis < len(chunk); axis++ {
		size := ElemCount(chunk) * dtype.Size()
		if size <= targetBytes {
			break
		}
		// Shrink this axis as far as needed before moving on.
		rest := size / chunk[axis]
		want := targetBytes / rest
		if want < 1 {
			want = 1
		}
		chunk[axis] = want
	}
	return chunk
}

// ChunkCounts returns the number of chunks along each axis for a shape and
// chunk shape. A zero-extent axis still counts one (empty) chunk row.
func ChunkCounts(shape, chunkShape []int) []int {
	counts := make([]int, len(shape))
	for i := range shape {
		if shape[i] == 0 {
			counts[i] = 0
			continue
		}
		counts[i] = (shape[i] + chunkShape[i] - 1) / chunkShape[i]
	}
	return counts
}

// ChunkExtent returns the actual extent of chunk ci along one axis,
// truncated at the array boundary.
func ChunkExtent(axis, ci int, shape, chunkShape []int) int {
	start := ci * chunkShape[axis]
	end := start + chunkShape[axis]
	if end > shape[axis] {
		end = shape[axis]
	}
	if end < start {
		return 0
	}
	return end - start
}
