package compute

import (
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

// Dot computes the vector inner product for 1-d operands and the matrix
// product for 2-d operands, mirroring numpy's dot for those ranks.
func Dot(a, b *cube.Buffer) (*cube.Buffer, error) {
	switch {
	case a.NDim() == 1 && b.NDim() == 1:
		if a.Shape()[0] != b.Shape()[0] {
			return nil, errors.NewShapeMismatch(a.Shape(), b.Shape())
		}
		sum := 0.0
		for i := 0; i < a.Len(); i++ {
			sum += a.At(i) * b.At(i)
		}
		out := cube.NewBuffer(cube.Promote(a.DType(), b.DType()), nil)
		out.SetAt(0, sum)
		return out, nil
	case a.NDim() == 2 && b.NDim() == 2:
		return MatMul(a, b)
	case a.NDim() == 2 && b.NDim() == 1:
		col := b.Clone()
		if err := col.Reshape([]int{b.Shape()[0], 1}); err != nil {
			return nil, err
		}
		out, err := MatMul(a, col)
		if err != nil {
			return nil, err
		}
		if err := out.Reshape([]int{a.Shape()[0]}); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, errors.Wrapf(errors.ErrShapeMismatch,
		"dot supports 1-d and 2-d operands, got %d-d and %d-d", a.NDim(), b.NDim())
}

// MatMul multiplies two 2-d buffers.
func MatMul(a, b *cube.Buffer) (*cube.Buffer, error) {
	if a.NDim() != 2 || b.NDim() != 2 {
		return nil, errors.Wrapf(errors.ErrShapeMismatch,
			"matmul needs 2-d operands, got %d-d and %d-d", a.NDim(), b.NDim())
	}
	m, k := a.Shape()[0], a.Shape()[1]
	k2, n := b.Shape()[0], b.Shape()[1]
	if k != k2 {
		return nil, errors.NewShapeMismatch(a.Shape(), b.Shape())
	}
	out := cube.NewBuffer(cube.Promote(a.DType(), b.DType()), []int{m, n})
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for p := 0; p < k; p++ {
				sum += a.At(i*k+p) * b.At(p*n+j)
			}
			out.SetAt(i*n+j, sum)
		}
	}
	return out, nil
}

// Cross computes the 3-d cross product of two vectors, or row-wise over the
// last axis of matching (n, 3) operands.
func Cross(a, b *cube.Buffer) (*cube.Buffer, error) {
	if !cube.SameShape(a.Shape(), b.Shape()) {
		return nil, errors.NewShapeMismatch(a.Shape(), b.Shape())
	}
	shape := a.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != 3 {
		return nil, errors.Wrap(errors.ErrShapeMismatch, "cross needs a trailing axis of extent 3")
	}
	out := cube.NewBuffer(cube.Promote(a.DType(), b.DType()), shape)
	rows := a.Len() / 3
	for r := 0; r < rows; r++ {
		o := r * 3
		a1, a2, a3 := a.At(o), a.At(o+1), a.At(o+2)
		b1, b2, b3 := b.At(o), b.At(o+1), b.At(o+2)
		out.SetAt(o, a2*b3-a3*b2)
		out.SetAt(o+1, a3*b1-a1*b3)
		out.SetAt(o+2, a1*b2-a2*b1)
	}
	return out, nil
}
