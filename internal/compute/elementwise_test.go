package compute

import (
	"math"
	"testing"

	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

func floats(t *testing.T, dtype cube.DType, shape []int, vals []float64) *cube.Buffer {
	t.Helper()
	b, err := cube.FromFloats(dtype, shape, vals)
	if err != nil {
		t.Fatalf("FromFloats: %v", err)
	}
	return b
}

func TestUnaryOps(t *testing.T) {
	in := floats(t, cube.Float64, []int{4}, []float64{-2, 0, 2.25, 9})

	tests := []struct {
		op   string
		want []float64
	}{
		{"abs", []float64{2, 0, 2.25, 9}},
		{"negative", []float64{2, 0, -2.25, -9}},
		{"sqrt", []float64{math.NaN(), 0, 1.5, 3}},
		{"sign", []float64{-1, 0, 1, 1}},
		{"floor", []float64{-2, 0, 2, 9}},
		{"ceil", []float64{-2, 0, 3, 9}},
	}
	for _, tt := range tests {
		out, err := Unary(tt.op, in, nil)
		if err != nil {
			t.Errorf("%s: %v", tt.op, err)
			continue
		}
		for i, w := range tt.want {
			got := out.At(i)
			if math.IsNaN(w) != math.IsNaN(got) || !math.IsNaN(w) && got != w {
				t.Errorf("%s element %d = %v, want %v", tt.op, i, got, w)
			}
		}
	}
}

func TestUnaryFloatWidensIntegers(t *testing.T) {
	in := floats(t, cube.Int32, []int{2}, []float64{4, 9})
	out, err := Unary("sqrt", in, nil)
	if err != nil {
		t.Fatalf("sqrt: %v", err)
	}
	if out.DType() != cube.Float64 {
		t.Errorf("sqrt on int32 produced %s, want float64", out.DType())
	}
}

func TestUnaryPredicates(t *testing.T) {
	in := floats(t, cube.Float64, []int{3}, []float64{1, math.NaN(), math.Inf(1)})
	out, err := Unary("isfinite", in, nil)
	if err != nil {
		t.Fatalf("isfinite: %v", err)
	}
	if out.DType() != cube.Bool {
		t.Errorf("isfinite produced %s, want bool", out.DType())
	}
	want := []float64{1, 0, 0}
	for i, w := range want {
		if out.At(i) != w {
			t.Errorf("isfinite element %d = %v, want %v", i, out.At(i), w)
		}
	}
}

func TestClip(t *testing.T) {
	in := floats(t, cube.Float64, []int{5}, []float64{-5, -1, 0, 1, 5})
	out, err := Unary("clip", in, Kwargs{"min": -1.0, "max": 2.0})
	if err != nil {
		t.Fatalf("clip: %v", err)
	}
	want := []float64{-1, -1, 0, 1, 2}
	for i, w := range want {
		if out.At(i) != w {
			t.Errorf("clip element %d = %v, want %v", i, out.At(i), w)
		}
	}
}

func TestUnaryUnknown(t *testing.T) {
	in := floats(t, cube.Float64, []int{1}, []float64{1})
	if _, err := Unary("frobnicate", in, nil); !errors.Is(err, errors.ErrUnknownOp) {
		t.Errorf("unknown op: got %v, want ErrUnknownOp", err)
	}
}

func TestBinaryBroadcast(t *testing.T) {
	// (5,1,3) + (4,3) broadcasts to (5,4,3).
	a := cube.NewBuffer(cube.Float64, []int{5, 1, 3})
	a.Fill(1)
	b := cube.NewBuffer(cube.Float64, []int{4, 3})
	b.Fill(2)

	out, err := Binary("add", a, b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !cube.SameShape(out.Shape(), []int{5, 4, 3}) {
		t.Fatalf("result shape = %v, want [5 4 3]", out.Shape())
	}
	for i := 0; i < out.Len(); i++ {
		if out.At(i) != 3 {
			t.Fatalf("element %d = %v, want 3", i, out.At(i))
		}
	}
}

func TestBinaryBroadcastIncompatible(t *testing.T) {
	// (5,2) + (3,) must fail: trailing 2 vs 3.
	a := cube.NewBuffer(cube.Float64, []int{5, 2})
	b := cube.NewBuffer(cube.Float64, []int{3})
	if _, err := Binary("add", a, b); !errors.Is(err, errors.ErrShapeMismatch) {
		t.Errorf("incompatible broadcast: got %v, want ErrShapeMismatch", err)
	}
}

func TestBinaryValues(t *testing.T) {
	a := floats(t, cube.Float64, []int{3}, []float64{6, 7, 8})
	b := floats(t, cube.Float64, []int{3}, []float64{2, 2, 2})

	tests := []struct {
		op   string
		want []float64
	}{
		{"add", []float64{8, 9, 10}},
		{"subtract", []float64{4, 5, 6}},
		{"multiply", []float64{12, 14, 16}},
		{"divide", []float64{3, 3.5, 4}},
		{"power", []float64{36, 49, 64}},
	}
	for _, tt := range tests {
		out, err := Binary(tt.op, a, b)
		if err != nil {
			t.Errorf("%s: %v", tt.op, err)
			continue
		}
		for i, w := range tt.want {
			if out.At(i) != w {
				t.Errorf("%s element %d = %v, want %v", tt.op, i, out.At(i), w)
			}
		}
	}
}

func TestDividePromotesToFloat(t *testing.T) {
	a := floats(t, cube.Int32, []int{2}, []float64{7, 8})
	b := floats(t, cube.Int32, []int{2}, []float64{2, 2})
	out, err := Binary("divide", a, b)
	if err != nil {
		t.Fatalf("divide: %v", err)
	}
	if out.DType() != cube.Float64 {
		t.Errorf("int/int division produced %s, want float64", out.DType())
	}
	if out.At(0) != 3.5 {
		t.Errorf("7/2 = %v, want 3.5", out.At(0))
	}
}

func TestPromotionLattice(t *testing.T) {
	a := floats(t, cube.Int32, []int{1}, []float64{1})
	b := floats(t, cube.Float32, []int{1}, []float64{1})
	out, err := Binary("add", a, b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if out.DType() != cube.Float64 {
		t.Errorf("int32+float32 = %s, want float64", out.DType())
	}
}

func TestFillClosedness(t *testing.T) {
	if !BinaryClosedUnderFill("add", 0) {
		t.Error("add is closed under fill 0")
	}
	if !BinaryClosedUnderFill("multiply", 0) {
		t.Error("multiply is closed under fill 0")
	}
	if BinaryClosedUnderFill("add", 1) {
		t.Error("add is not closed under fill 1")
	}
	if !UnaryPreservesFill("sqrt", 0, nil) {
		t.Error("sqrt preserves fill 0")
	}
	if UnaryPreservesFill("exp", 0, nil) {
		t.Error("exp does not preserve fill 0")
	}
}
