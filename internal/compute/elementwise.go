// Package compute implements the operation executor: element-wise,
// broadcasting, reduction, structural, and linear-algebra operations over
// buffers and cubes. Shape and broadcasting logic is pure and independent
// of storage; the executor layers chunked evaluation on top.
package compute

import (
	"math"

	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

// Kwargs carries per-operation keyword arguments.
type Kwargs map[string]any

// Float fetches a numeric kwarg, accepting any numeric JSON decoding.
func (k Kwargs) Float(name string) (float64, bool) {
	v, ok := k[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Int fetches an integral kwarg.
func (k Kwargs) Int(name string) (int, bool) {
	f, ok := k.Float(name)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Bool fetches a boolean kwarg.
func (k Kwargs) Bool(name string) bool {
	v, ok := k[name]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// String fetches a string kwarg.
func (k Kwargs) String(name string) (string, bool) {
	v, ok := k[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// =============================================================================
// Unary operations
// =============================================================================

// unaryKind classifies how a unary op's result dtype is chosen.
type unaryKind int

const (
	unarySame  unaryKind = iota // keeps the input dtype
	unaryFloat                  // floats stay, integers widen to float64
	unaryBool                   // predicate, result is bool
)

type unaryOp struct {
	kind unaryKind
	fn   func(x float64) float64
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var unaryOps = map[string]unaryOp{
	"abs":      {unarySame, math.Abs},
	"negative": {unarySame, func(x float64) float64 { return -x }},
	"sign":     {unarySame, func(x float64) float64 {
		if x > 0 {
			return 1
		}
		if x < 0 {
			return -1
		}
		return 0
	}},
	"sqrt":     {unaryFloat, math.Sqrt},
	"exp":      {unaryFloat, math.Exp},
	"log":      {unaryFloat, math.Log},
	"log2":     {unaryFloat, math.Log2},
	"log10":    {unaryFloat, math.Log10},
	"log1p":    {unaryFloat, math.Log1p},
	"sin":      {unaryFloat, math.Sin},
	"cos":      {unaryFloat, math.Cos},
	"tan":      {unaryFloat, math.Tan},
	"arcsin":   {unaryFloat, math.Asin},
	"arccos":   {unaryFloat, math.Acos},
	"arctan":   {unaryFloat, math.Atan},
	"sinh":     {unaryFloat, math.Sinh},
	"cosh":     {unaryFloat, math.Cosh},
	"tanh":     {unaryFloat, math.Tanh},
	"floor":    {unarySame, math.Floor},
	"ceil":     {unarySame, math.Ceil},
	"round":    {unarySame, math.Round},
	"isnan":    {unaryBool, func(x float64) float64 { return b2f(math.IsNaN(x)) }},
	"isinf":    {unaryBool, func(x float64) float64 { return b2f(math.IsInf(x, 0)) }},
	"isfinite": {unaryBool, func(x float64) float64 { return b2f(!math.IsNaN(x) && !math.IsInf(x, 0)) }},
}

// IsUnary reports whether name is a registered unary element-wise op.
func IsUnary(name string) bool {
	if name == "clip" {
		return true
	}
	_, ok := unaryOps[name]
	return ok
}

// Unary applies a unary element-wise op to a buffer. "clip" takes min and
// max kwargs; absent bounds leave that side open.
func Unary(name string, in *cube.Buffer, kwargs Kwargs) (*cube.Buffer, error) {
	if name == "clip" {
		return clip(in, kwargs)
	}
	op, ok := unaryOps[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownOp, "unary op %q", name)
	}
	outType := in.DType()
	switch op.kind {
	case unaryFloat:
		if !outType.IsFloat() {
			outType = cube.Float64
		}
	case unaryBool:
		outType = cube.Bool
	}
	out := cube.NewBuffer(outType, in.Shape())
	for i := 0; i < in.Len(); i++ {
		out.SetAt(i, op.fn(in.At(i)))
	}
	return out, nil
}

func clip(in *cube.Buffer, kwargs Kwargs) (*cube.Buffer, error) {
	lo, hasLo := kwargs.Float("min")
	hi, hasHi := kwargs.Float("max")
	out := cube.NewBuffer(in.DType(), in.Shape())
	for i := 0; i < in.Len(); i++ {
		v := in.At(i)
		if hasLo && v < lo {
			v = lo
		}
		if hasHi && v > hi {
			v = hi
		}
		out.SetAt(i, v)
	}
	return out, nil
}

// UnaryPreservesFill reports whether f(fill) == fill, which lets the op run
// over a sparse cube's entries alone without densifying.
func UnaryPreservesFill(name string, fill float64, kwargs Kwargs) bool {
	if name == "clip" {
		out, err := clip(cube.NewScalar(cube.Float64, fill), kwargs)
		return err == nil && out.At(0) == fill
	}
	op, ok := unaryOps[name]
	if !ok {
		return false
	}
	return op.fn(fill) == fill
}

// =============================================================================
// Binary operations
// =============================================================================

type binaryFn func(a, b float64) float64

var binaryOps = map[string]binaryFn{
	"add":      func(a, b float64) float64 { return a + b },
	"subtract": func(a, b float64) float64 { return a - b },
	"multiply": func(a, b float64) float64 { return a * b },
	"divide":   func(a, b float64) float64 { return a / b },
	"power":    math.Pow,
}

// IsBinary reports whether name is a registered binary element-wise op.
func IsBinary(name string) bool {
	_, ok := binaryOps[name]
	return ok
}

// binaryDType selects the result dtype. True division always produces
// floats; everything else follows the promotion lattice.
func binaryDType(name string, a, b cube.DType) cube.DType {
	if name == "divide" {
		if a == cube.Float32 && b == cube.Float32 {
			return cube.Float32
		}
		return cube.Float64
	}
	return cube.Promote(a, b)
}

// Binary applies a binary element-wise op with broadcasting.
func Binary(name string, a, b *cube.Buffer) (*cube.Buffer, error) {
	fn, ok := binaryOps[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownOp, "binary op %q", name)
	}
	outShape, err := cube.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}
	out := cube.NewBuffer(binaryDType(name, a.DType(), b.DType()), outShape)

	coord := make([]int, len(outShape))
	for i := 0; i < out.Len(); i++ {
		cube.Unravel(i, outShape, coord)
		av := a.At(cube.BroadcastIndex(coord, a.Shape()))
		bv := b.At(cube.BroadcastIndex(coord, b.Shape()))
		out.SetAt(i, fn(av, bv))
	}
	return out, nil
}

// BinaryClosedUnderFill reports whether op(fill, fill) == fill, the
// condition for a sparse-sparse result to stay sparse.
func BinaryClosedUnderFill(name string, fill float64) bool {
	fn, ok := binaryOps[name]
	if !ok {
		return false
	}
	return fn(fill, fill) == fill
}
