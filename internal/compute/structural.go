package compute

import (
	"sort"

	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

// =============================================================================
// Axis rearrangement
// =============================================================================

// Transpose permutes a buffer's axes. A nil permutation reverses them.
func Transpose(in *cube.Buffer, axes []int) (*cube.Buffer, error) {
	shape := in.Shape()
	ndim := len(shape)
	if axes == nil {
		axes = make([]int, ndim)
		for d := range axes {
			axes[d] = ndim - 1 - d
		}
	}
	if len(axes) != ndim {
		return nil, errors.Wrapf(errors.ErrIndex, "transpose needs %d axes, got %d", ndim, len(axes))
	}
	seen := make([]bool, ndim)
	outShape := make([]int, ndim)
	for d, a := range axes {
		if a < 0 {
			a += ndim
			axes[d] = a
		}
		if a < 0 || a >= ndim || seen[a] {
			return nil, errors.Wrapf(errors.ErrIndex, "invalid transpose permutation %v", axes)
		}
		seen[a] = true
		outShape[d] = shape[a]
	}

	out := cube.NewBuffer(in.DType(), outShape)
	inCoord := make([]int, ndim)
	outCoord := make([]int, ndim)
	for i := 0; i < out.Len(); i++ {
		cube.Unravel(i, outShape, outCoord)
		for d, a := range axes {
			inCoord[a] = outCoord[d]
		}
		out.SetAt(i, in.At(cube.LinearIndex(inCoord, shape)))
	}
	return out, nil
}

// SwapAxes exchanges two axes.
func SwapAxes(in *cube.Buffer, a, b int) (*cube.Buffer, error) {
	ndim := in.NDim()
	if a < 0 {
		a += ndim
	}
	if b < 0 {
		b += ndim
	}
	if a < 0 || a >= ndim || b < 0 || b >= ndim {
		return nil, errors.Wrapf(errors.ErrIndex, "swapaxes(%d, %d) out of range for %d dimensions", a, b, ndim)
	}
	axes := make([]int, ndim)
	for d := range axes {
		axes[d] = d
	}
	axes[a], axes[b] = axes[b], axes[a]
	return Transpose(in, axes)
}

// Reshape returns a view-equivalent buffer with a new shape. One extent may
// be -1 and is inferred from the element count.
func Reshape(in *cube.Buffer, shape []int) (*cube.Buffer, error) {
	shape = cube.CloneInts(shape)
	infer := -1
	known := 1
	for d, n := range shape {
		if n == -1 {
			if infer != -1 {
				return nil, errors.Wrap(errors.ErrInvalidShape, "more than one inferred extent")
			}
			infer = d
			continue
		}
		known *= n
	}
	if infer != -1 {
		if known == 0 || in.Len()%known != 0 {
			return nil, errors.NewShapeMismatch(in.Shape(), shape)
		}
		shape[infer] = in.Len() / known
	}
	out := in.Clone()
	if err := out.Reshape(shape); err != nil {
		return nil, err
	}
	return out, nil
}

// BroadcastTo materializes a buffer at a broadcast-compatible target shape.
func BroadcastTo(in *cube.Buffer, shape []int) (*cube.Buffer, error) {
	joined, err := cube.BroadcastShapes(in.Shape(), shape)
	if err != nil {
		return nil, err
	}
	if !cube.SameShape(joined, shape) {
		return nil, errors.NewShapeMismatch(in.Shape(), shape)
	}
	out := cube.NewBuffer(in.DType(), shape)
	coord := make([]int, len(shape))
	for i := 0; i < out.Len(); i++ {
		cube.Unravel(i, shape, coord)
		out.SetAt(i, in.At(cube.BroadcastIndex(coord, in.Shape())))
	}
	return out, nil
}

// Squeeze drops size-1 axes. With a non-nil axis list only those axes are
// dropped, and each must have extent 1.
func Squeeze(in *cube.Buffer, axes []int) (*cube.Buffer, error) {
	shape := in.Shape()
	drop := make([]bool, len(shape))
	if axes == nil {
		for d, n := range shape {
			drop[d] = n == 1
		}
	} else {
		for _, a := range axes {
			if a < 0 {
				a += len(shape)
			}
			if a < 0 || a >= len(shape) {
				return nil, errors.Wrapf(errors.ErrIndex, "squeeze axis %d out of range", a)
			}
			if shape[a] != 1 {
				return nil, errors.Wrapf(errors.ErrShapeMismatch, "cannot squeeze axis %d with extent %d", a, shape[a])
			}
			drop[a] = true
		}
	}
	outShape := make([]int, 0, len(shape))
	for d, n := range shape {
		if !drop[d] {
			outShape = append(outShape, n)
		}
	}
	out := in.Clone()
	if err := out.Reshape(outShape); err != nil {
		return nil, err
	}
	return out, nil
}

// Flip reverses element order along one axis.
func Flip(in *cube.Buffer, axis int) (*cube.Buffer, error) {
	shape := in.Shape()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, errors.Wrapf(errors.ErrIndex, "flip axis %d out of range for %d dimensions", axis, len(shape))
	}
	out := cube.NewBuffer(in.DType(), shape)
	coord := make([]int, len(shape))
	for i := 0; i < in.Len(); i++ {
		cube.Unravel(i, shape, coord)
		coord[axis] = shape[axis] - 1 - coord[axis]
		out.SetAt(cube.LinearIndex(coord, shape), in.At(i))
	}
	return out, nil
}

// =============================================================================
// Joining
// =============================================================================

// Concatenate joins buffers along an existing axis. All other extents and
// dtypes must agree up to promotion.
func Concatenate(bufs []*cube.Buffer, axis int) (*cube.Buffer, error) {
	if len(bufs) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "concatenate needs at least one operand")
	}
	first := bufs[0].Shape()
	ndim := len(first)
	if axis < 0 {
		axis += ndim
	}
	if axis < 0 || axis >= ndim {
		return nil, errors.Wrapf(errors.ErrIndex, "concatenate axis %d out of range for %d dimensions", axis, ndim)
	}
	outShape := cube.CloneInts(first)
	outType := bufs[0].DType()
	for _, b := range bufs[1:] {
		s := b.Shape()
		if len(s) != ndim {
			return nil, errors.NewShapeMismatch(first, s)
		}
		for d := range s {
			if d != axis && s[d] != first[d] {
				return nil, errors.NewShapeMismatch(first, s)
			}
		}
		outShape[axis] += s[axis]
		outType = cube.Promote(outType, b.DType())
	}

	out := cube.NewBuffer(outType, outShape)
	offset := 0
	coord := make([]int, ndim)
	for _, b := range bufs {
		s := b.Shape()
		for i := 0; i < b.Len(); i++ {
			cube.Unravel(i, s, coord)
			coord[axis] += offset
			out.SetAt(cube.LinearIndex(coord, outShape), b.At(i))
			coord[axis] -= offset
		}
		offset += s[axis]
	}
	return out, nil
}

// Stack joins buffers of identical shape along a new leading axis at the
// given position.
func Stack(bufs []*cube.Buffer, axis int) (*cube.Buffer, error) {
	if len(bufs) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "stack needs at least one operand")
	}
	first := bufs[0].Shape()
	ndim := len(first) + 1
	if axis < 0 {
		axis += ndim
	}
	if axis < 0 || axis >= ndim {
		return nil, errors.Wrapf(errors.ErrIndex, "stack axis %d out of range for %d dimensions", axis, ndim)
	}
	outType := bufs[0].DType()
	for _, b := range bufs[1:] {
		if !cube.SameShape(b.Shape(), first) {
			return nil, errors.NewShapeMismatch(first, b.Shape())
		}
		outType = cube.Promote(outType, b.DType())
	}

	expanded := make([]*cube.Buffer, len(bufs))
	newShape := make([]int, 0, ndim)
	newShape = append(newShape, first[:axis]...)
	newShape = append(newShape, 1)
	newShape = append(newShape, first[axis:]...)
	for i, b := range bufs {
		eb := b.Convert(outType)
		if err := eb.Reshape(newShape); err != nil {
			return nil, err
		}
		expanded[i] = eb
	}
	return Concatenate(expanded, axis)
}

// =============================================================================
// Ordering
// =============================================================================

// axisRows visits every 1-d lane along axis, passing the linear index of
// each lane element.
func axisRows(shape []int, axis int, fn func(idx []int)) {
	strides := cube.Strides(shape)
	coord := make([]int, len(shape))
	total := cube.ElemCount(shape)
	n := shape[axis]
	idx := make([]int, n)
	for i := 0; i < total; i++ {
		cube.Unravel(i, shape, coord)
		if coord[axis] != 0 {
			continue
		}
		for p := 0; p < n; p++ {
			idx[p] = i + p*strides[axis]
		}
		fn(idx)
	}
}

// Sort orders elements ascending along one axis.
func Sort(in *cube.Buffer, axis int) (*cube.Buffer, error) {
	shape := in.Shape()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, errors.Wrapf(errors.ErrIndex, "sort axis %d out of range for %d dimensions", axis, len(shape))
	}
	out := in.Clone()
	lane := make([]float64, shape[axis])
	axisRows(shape, axis, func(idx []int) {
		for p, li := range idx {
			lane[p] = in.At(li)
		}
		sort.Float64s(lane)
		for p, li := range idx {
			out.SetAt(li, lane[p])
		}
	})
	return out, nil
}

// Argsort returns the positions that would sort each lane along one axis.
// Equal elements keep their original relative order.
func Argsort(in *cube.Buffer, axis int) (*cube.Buffer, error) {
	shape := in.Shape()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, errors.Wrapf(errors.ErrIndex, "argsort axis %d out of range for %d dimensions", axis, len(shape))
	}
	out := cube.NewBuffer(cube.Int64, shape)
	n := shape[axis]
	order := make([]int, n)
	axisRows(shape, axis, func(idx []int) {
		for p := range order {
			order[p] = p
		}
		sort.SliceStable(order, func(a, b int) bool {
			return in.At(idx[order[a]]) < in.At(idx[order[b]])
		})
		for p, li := range idx {
			out.SetAt(li, float64(order[p]))
		}
	})
	return out, nil
}

// =============================================================================
// Set operations
// =============================================================================

// Unique returns the sorted distinct values of a buffer as a 1-d result.
func Unique(in *cube.Buffer) (*cube.Buffer, error) {
	vals := in.Floats()
	sort.Float64s(vals)
	uniq := vals[:0]
	for i, v := range vals {
		if i == 0 || v != vals[i-1] {
			uniq = append(uniq, v)
		}
	}
	return cube.FromFloats(in.DType(), []int{len(uniq)}, uniq)
}

// Union1d returns the sorted union of two buffers' values.
func Union1d(a, b *cube.Buffer) (*cube.Buffer, error) {
	joined := append(a.Floats(), b.Floats()...)
	tmp, err := cube.FromFloats(cube.Promote(a.DType(), b.DType()), []int{len(joined)}, joined)
	if err != nil {
		return nil, err
	}
	return Unique(tmp)
}

// Intersect1d returns the sorted values present in both buffers.
func Intersect1d(a, b *cube.Buffer) (*cube.Buffer, error) {
	inB := make(map[float64]bool)
	for _, v := range b.Floats() {
		inB[v] = true
	}
	var vals []float64
	for _, v := range a.Floats() {
		if inB[v] {
			vals = append(vals, v)
			delete(inB, v)
		}
	}
	sort.Float64s(vals)
	return cube.FromFloats(cube.Promote(a.DType(), b.DType()), []int{len(vals)}, vals)
}

// Setdiff1d returns the sorted values of a not present in b.
func Setdiff1d(a, b *cube.Buffer) (*cube.Buffer, error) {
	inB := make(map[float64]bool)
	for _, v := range b.Floats() {
		inB[v] = true
	}
	seen := make(map[float64]bool)
	var vals []float64
	for _, v := range a.Floats() {
		if !inB[v] && !seen[v] {
			vals = append(vals, v)
			seen[v] = true
		}
	}
	sort.Float64s(vals)
	return cube.FromFloats(a.DType(), []int{len(vals)}, vals)
}

// =============================================================================
// Discrete analysis
// =============================================================================

// Diff computes the first difference along an axis; the axis shrinks by one.
func Diff(in *cube.Buffer, axis int) (*cube.Buffer, error) {
	shape := in.Shape()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, errors.Wrapf(errors.ErrIndex, "diff axis %d out of range for %d dimensions", axis, len(shape))
	}
	if shape[axis] < 1 {
		return nil, errors.Wrap(errors.ErrShapeMismatch, "diff along an empty axis")
	}
	outShape := cube.CloneInts(shape)
	outShape[axis]--
	out := cube.NewBuffer(in.DType(), outShape)
	coord := make([]int, len(shape))
	next := make([]int, len(shape))
	for i := 0; i < out.Len(); i++ {
		cube.Unravel(i, outShape, coord)
		copy(next, coord)
		next[axis]++
		out.SetAt(i, in.At(cube.LinearIndex(next, shape))-in.At(cube.LinearIndex(coord, shape)))
	}
	return out, nil
}

// Histogram counts elements into equal-width bins over [lo, hi]. With auto
// bounds the data's min and max are used. Returns bin counts and edges.
func Histogram(in *cube.Buffer, bins int, lo, hi float64, autoRange bool) (*cube.Buffer, *cube.Buffer, error) {
	if bins < 1 {
		return nil, nil, errors.Wrap(errors.ErrInvalidRequest, "histogram needs at least one bin")
	}
	vals := in.Floats()
	if autoRange {
		if len(vals) == 0 {
			lo, hi = 0, 1
		} else {
			lo, hi = vals[0], vals[0]
			for _, v := range vals {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
		}
	}
	if hi <= lo {
		hi = lo + 1
	}
	counts := make([]float64, bins)
	width := (hi - lo) / float64(bins)
	for _, v := range vals {
		if v < lo || v > hi {
			continue
		}
		b := int((v - lo) / width)
		if b == bins { // hi is inclusive in the last bin
			b--
		}
		counts[b]++
	}
	edges := make([]float64, bins+1)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	countBuf, err := cube.FromFloats(cube.Int64, []int{bins}, counts)
	if err != nil {
		return nil, nil, err
	}
	edgeBuf, err := cube.FromFloats(cube.Float64, []int{bins + 1}, edges)
	if err != nil {
		return nil, nil, err
	}
	return countBuf, edgeBuf, nil
}

// Digitize returns, for each element, the index of the bin it falls into
// given monotonically increasing bin edges: bins[i-1] <= x < bins[i].
func Digitize(in *cube.Buffer, edges *cube.Buffer) (*cube.Buffer, error) {
	bins := edges.Floats()
	out := cube.NewBuffer(cube.Int64, in.Shape())
	for i := 0; i < in.Len(); i++ {
		v := in.At(i)
		// Left insertion point, then past exact matches: bins[k-1] <= v.
		k := sort.SearchFloat64s(bins, v)
		for k < len(bins) && bins[k] == v {
			k++
		}
		out.SetAt(i, float64(k))
	}
	return out, nil
}

// Searchsorted returns the insertion points that keep a sorted 1-d buffer
// sorted when the probe values are inserted (left side).
func Searchsorted(sorted, probes *cube.Buffer) (*cube.Buffer, error) {
	if sorted.NDim() != 1 {
		return nil, errors.Wrap(errors.ErrShapeMismatch, "searchsorted needs a 1-d haystack")
	}
	hay := sorted.Floats()
	out := cube.NewBuffer(cube.Int64, probes.Shape())
	for i := 0; i < probes.Len(); i++ {
		out.SetAt(i, float64(sort.SearchFloat64s(hay, probes.At(i))))
	}
	return out, nil
}
