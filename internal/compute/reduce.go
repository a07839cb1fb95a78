package compute

import (
	"math"

	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

// =============================================================================
// Accumulators
// =============================================================================

// Accum folds one reduction over a stream of elements. Partial accumulators
// from different chunks merge with the reduction's associative combine rule.
type Accum interface {
	// Fold absorbs one element. axisPos is the element's position along the
	// reduced axis, used by the arg reductions.
	Fold(v float64, axisPos int)
	// Merge absorbs another accumulator of the same kind.
	Merge(other Accum)
	// Result produces the reduced value.
	Result() float64
}

type sumAccum struct{ sum float64 }

func (a *sumAccum) Fold(v float64, _ int) { a.sum += v }
func (a *sumAccum) Merge(o Accum)         { a.sum += o.(*sumAccum).sum }
func (a *sumAccum) Result() float64       { return a.sum }

type prodAccum struct{ prod float64 }

func (a *prodAccum) Fold(v float64, _ int) { a.prod *= v }
func (a *prodAccum) Merge(o Accum)         { a.prod *= o.(*prodAccum).prod }
func (a *prodAccum) Result() float64       { return a.prod }

type countAccum struct{ n float64 }

func (a *countAccum) Fold(_ float64, _ int) { a.n++ }
func (a *countAccum) Merge(o Accum)         { a.n += o.(*countAccum).n }
func (a *countAccum) Result() float64       { return a.n }

type minAccum struct{ min float64 }

func (a *minAccum) Fold(v float64, _ int) {
	if v < a.min || math.IsNaN(v) {
		a.min = v
	}
}
func (a *minAccum) Merge(o Accum)   { a.Fold(o.(*minAccum).min, 0) }
func (a *minAccum) Result() float64 { return a.min }

type maxAccum struct{ max float64 }

func (a *maxAccum) Fold(v float64, _ int) {
	if v > a.max || math.IsNaN(v) {
		a.max = v
	}
}
func (a *maxAccum) Merge(o Accum)   { a.Fold(o.(*maxAccum).max, 0) }
func (a *maxAccum) Result() float64 { return a.max }

// momentAccum backs mean, var, and std with running sums.
type momentAccum struct {
	kind  string
	sum   float64
	sumsq float64
	n     int64
}

func (a *momentAccum) Fold(v float64, _ int) {
	a.sum += v
	a.sumsq += v * v
	a.n++
}

func (a *momentAccum) Merge(o Accum) {
	m := o.(*momentAccum)
	a.sum += m.sum
	a.sumsq += m.sumsq
	a.n += m.n
}

func (a *momentAccum) Result() float64 {
	if a.n == 0 {
		return math.NaN()
	}
	mean := a.sum / float64(a.n)
	switch a.kind {
	case "mean":
		return mean
	case "var":
		return a.sumsq/float64(a.n) - mean*mean
	default: // std
		v := a.sumsq/float64(a.n) - mean*mean
		if v < 0 {
			v = 0
		}
		return math.Sqrt(v)
	}
}

// argAccum tracks the position of the extreme value along the reduced axis.
// Ties resolve to the lowest position, matching first-hit semantics.
type argAccum struct {
	wantMax bool
	best    float64
	pos     int
	seen    bool
}

func (a *argAccum) Fold(v float64, axisPos int) {
	better := a.wantMax && v > a.best || !a.wantMax && v < a.best
	if !a.seen || better {
		a.best = v
		a.pos = axisPos
		a.seen = true
		return
	}
	if v == a.best && axisPos < a.pos {
		a.pos = axisPos
	}
}

func (a *argAccum) Merge(o Accum) {
	m := o.(*argAccum)
	if m.seen {
		a.Fold(m.best, m.pos)
	}
}

func (a *argAccum) Result() float64 { return float64(a.pos) }

// NewAccum returns a factory for the named reduction's accumulator,
// initialized to the reduction's identity element.
func NewAccum(op string) (func() Accum, error) {
	switch op {
	case "sum":
		return func() Accum { return &sumAccum{} }, nil
	case "prod":
		return func() Accum { return &prodAccum{prod: 1} }, nil
	case "count":
		return func() Accum { return &countAccum{} }, nil
	case "min":
		return func() Accum { return &minAccum{min: math.Inf(1)} }, nil
	case "max":
		return func() Accum { return &maxAccum{max: math.Inf(-1)} }, nil
	case "mean", "var", "std":
		kind := op
		return func() Accum { return &momentAccum{kind: kind} }, nil
	case "argmin":
		return func() Accum { return &argAccum{} }, nil
	case "argmax":
		return func() Accum { return &argAccum{wantMax: true} }, nil
	}
	return nil, errors.Wrapf(errors.ErrUnknownOp, "reduction %q", op)
}

// IsReduction reports whether name is a registered axis reduction.
func IsReduction(name string) bool {
	_, err := NewAccum(name)
	return err == nil
}

// IsCumulative reports whether name is a registered scan operation.
func IsCumulative(name string) bool {
	return name == "cumsum" || name == "cumprod"
}

// ReduceDType selects the result dtype of a reduction over an input dtype.
func ReduceDType(op string, in cube.DType) cube.DType {
	switch op {
	case "mean", "std", "var":
		return cube.Float64
	case "argmin", "argmax", "count":
		return cube.Int64
	}
	if in == cube.Bool {
		return cube.Int64
	}
	return in
}

// =============================================================================
// Buffer-level reduction
// =============================================================================

// Reduce reduces a buffer along one axis, or over all elements when axis is
// nil. The reduced axis is dropped from the result shape unless keepdims is
// set, in which case it stays with extent 1.
func Reduce(op string, in *cube.Buffer, axis *int, keepdims bool) (*cube.Buffer, error) {
	mk, err := NewAccum(op)
	if err != nil {
		return nil, err
	}
	outType := ReduceDType(op, in.DType())
	shape := in.Shape()

	if axis == nil {
		acc := mk()
		for i := 0; i < in.Len(); i++ {
			acc.Fold(in.At(i), i)
		}
		var outShape []int
		if keepdims {
			outShape = make([]int, len(shape))
			for d := range outShape {
				outShape[d] = 1
			}
		}
		out := cube.NewBuffer(outType, outShape)
		out.SetAt(0, acc.Result())
		return out, nil
	}

	ax := *axis
	if ax < 0 {
		ax += len(shape)
	}
	if ax < 0 || ax >= len(shape) {
		return nil, errors.Wrapf(errors.ErrIndex, "reduction axis %d out of range for %d dimensions", *axis, len(shape))
	}

	outShape := reducedShape(shape, ax, keepdims)
	out := cube.NewBuffer(outType, outShape)

	accs := make([]Accum, cube.ElemCount(outShape))
	for i := range accs {
		accs[i] = mk()
	}
	FoldBuffer(in, nil, ax, accs, outShape, keepdims)
	for i, acc := range accs {
		out.SetAt(i, acc.Result())
	}
	return out, nil
}

// reducedShape drops or squeezes the reduced axis.
func reducedShape(shape []int, axis int, keepdims bool) []int {
	out := make([]int, 0, len(shape))
	for d, n := range shape {
		if d == axis {
			if keepdims {
				out = append(out, 1)
			}
			continue
		}
		out = append(out, n)
	}
	return out
}

// FoldBuffer folds every element of a buffer into per-output accumulators.
// origin, when non-nil, offsets the buffer's coordinates within a larger
// cube; this is how chunk-sized pieces fold into one result grid. The
// accumulator slice is indexed by the row-major position in outShape.
func FoldBuffer(in *cube.Buffer, origin []int, axis int, accs []Accum, outShape []int, keepdims bool) {
	shape := in.Shape()
	coord := make([]int, len(shape))
	outCoord := make([]int, len(outShape))
	for i := 0; i < in.Len(); i++ {
		cube.Unravel(i, shape, coord)
		axisPos := coord[axis]
		if origin != nil {
			axisPos += origin[axis]
		}
		k := 0
		for d := range shape {
			if d == axis {
				if keepdims {
					outCoord[k] = 0
					k++
				}
				continue
			}
			p := coord[d]
			if origin != nil {
				p += origin[d]
			}
			outCoord[k] = p
			k++
		}
		accs[cube.LinearIndex(outCoord, outShape)].Fold(in.At(i), axisPos)
	}
}

// =============================================================================
// Cumulative scans
// =============================================================================

// Cumulative applies cumsum or cumprod along an axis. A nil axis scans the
// flattened buffer, producing a 1-d result.
func Cumulative(op string, in *cube.Buffer, axis *int) (*cube.Buffer, error) {
	var fn binaryFn
	var identity float64
	switch op {
	case "cumsum":
		fn, identity = binaryOps["add"], 0
	case "cumprod":
		fn, identity = binaryOps["multiply"], 1
	default:
		return nil, errors.Wrapf(errors.ErrUnknownOp, "cumulative op %q", op)
	}

	outType := in.DType()
	if outType == cube.Bool {
		outType = cube.Int64
	}

	if axis == nil {
		out := cube.NewBuffer(outType, []int{in.Len()})
		acc := identity
		for i := 0; i < in.Len(); i++ {
			acc = fn(acc, in.At(i))
			out.SetAt(i, acc)
		}
		return out, nil
	}

	shape := in.Shape()
	ax := *axis
	if ax < 0 {
		ax += len(shape)
	}
	if ax < 0 || ax >= len(shape) {
		return nil, errors.Wrapf(errors.ErrIndex, "scan axis %d out of range for %d dimensions", *axis, len(shape))
	}

	out := cube.NewBuffer(outType, shape)
	strides := cube.Strides(shape)
	coord := make([]int, len(shape))
	for i := 0; i < in.Len(); i++ {
		cube.Unravel(i, shape, coord)
		if coord[ax] != 0 {
			continue
		}
		acc := identity
		base := i
		for p := 0; p < shape[ax]; p++ {
			idx := base + p*strides[ax]
			acc = fn(acc, in.At(idx))
			out.SetAt(idx, acc)
		}
	}
	return out, nil
}
