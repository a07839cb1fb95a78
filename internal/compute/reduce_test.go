package compute

import (
	"math"
	"testing"

	"github.com/TobiasJacob/cube-store/internal/cube"
)

func intp(i int) *int { return &i }

func TestReduceAllAxes(t *testing.T) {
	in := floats(t, cube.Float64, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})

	tests := []struct {
		op   string
		want float64
	}{
		{"sum", 21},
		{"prod", 720},
		{"count", 6},
		{"mean", 3.5},
		{"min", 1},
		{"max", 6},
		{"argmin", 0},
		{"argmax", 5},
	}
	for _, tt := range tests {
		out, err := Reduce(tt.op, in, nil, false)
		if err != nil {
			t.Errorf("%s: %v", tt.op, err)
			continue
		}
		if out.NDim() != 0 {
			t.Errorf("%s result is %d-d, want scalar", tt.op, out.NDim())
		}
		if out.At(0) != tt.want {
			t.Errorf("%s = %v, want %v", tt.op, out.At(0), tt.want)
		}
	}
}

func TestReduceAlongAxis(t *testing.T) {
	in := floats(t, cube.Float64, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})

	out, err := Reduce("sum", in, intp(0), false)
	if err != nil {
		t.Fatalf("sum axis 0: %v", err)
	}
	if !cube.SameShape(out.Shape(), []int{3}) {
		t.Fatalf("axis-0 sum shape = %v, want [3]", out.Shape())
	}
	for i, w := range []float64{5, 7, 9} {
		if out.At(i) != w {
			t.Errorf("axis-0 sum element %d = %v, want %v", i, out.At(i), w)
		}
	}

	out, err = Reduce("sum", in, intp(1), false)
	if err != nil {
		t.Fatalf("sum axis 1: %v", err)
	}
	for i, w := range []float64{6, 15} {
		if out.At(i) != w {
			t.Errorf("axis-1 sum element %d = %v, want %v", i, out.At(i), w)
		}
	}
}

func TestReduceKeepdims(t *testing.T) {
	in := floats(t, cube.Float64, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	out, err := Reduce("max", in, intp(1), true)
	if err != nil {
		t.Fatalf("max keepdims: %v", err)
	}
	if !cube.SameShape(out.Shape(), []int{2, 1}) {
		t.Errorf("keepdims shape = %v, want [2 1]", out.Shape())
	}
}

func TestReduceIdentities(t *testing.T) {
	// Reducing an empty buffer yields the identity element.
	empty := cube.NewBuffer(cube.Float64, []int{0})

	out, err := Reduce("sum", empty, nil, false)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if out.At(0) != 0 {
		t.Errorf("sum of empty = %v, want identity 0", out.At(0))
	}

	out, _ = Reduce("prod", empty, nil, false)
	if out.At(0) != 1 {
		t.Errorf("prod of empty = %v, want identity 1", out.At(0))
	}

	out, _ = Reduce("min", empty, nil, false)
	if !math.IsInf(out.At(0), 1) {
		t.Errorf("min of empty = %v, want +Inf", out.At(0))
	}

	out, _ = Reduce("max", empty, nil, false)
	if !math.IsInf(out.At(0), -1) {
		t.Errorf("max of empty = %v, want -Inf", out.At(0))
	}

	out, _ = Reduce("count", empty, nil, false)
	if out.At(0) != 0 {
		t.Errorf("count of empty = %v, want 0", out.At(0))
	}
}

func TestCountAlongAxis(t *testing.T) {
	in := floats(t, cube.Float64, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	out, err := Reduce("count", in, intp(1), false)
	if err != nil {
		t.Fatalf("count axis 1: %v", err)
	}
	if out.DType() != cube.Int64 {
		t.Errorf("count dtype = %v, want int64", out.DType())
	}
	for i := 0; i < 2; i++ {
		if out.At(i) != 3 {
			t.Errorf("count element %d = %v, want 3", i, out.At(i))
		}
	}
}

func TestVarStd(t *testing.T) {
	in := floats(t, cube.Float64, []int{4}, []float64{1, 2, 3, 4})
	out, err := Reduce("var", in, nil, false)
	if err != nil {
		t.Fatalf("var: %v", err)
	}
	if math.Abs(out.At(0)-1.25) > 1e-12 {
		t.Errorf("var = %v, want 1.25", out.At(0))
	}
	out, _ = Reduce("std", in, nil, false)
	if math.Abs(out.At(0)-math.Sqrt(1.25)) > 1e-12 {
		t.Errorf("std = %v, want sqrt(1.25)", out.At(0))
	}
}

func TestArgTieBreaksLow(t *testing.T) {
	in := floats(t, cube.Float64, []int{5}, []float64{3, 1, 1, 3, 3})
	out, err := Reduce("argmin", in, intp(0), false)
	if err != nil {
		t.Fatalf("argmin: %v", err)
	}
	if out.At(0) != 1 {
		t.Errorf("argmin = %v, want first minimum at 1", out.At(0))
	}
	out, _ = Reduce("argmax", in, intp(0), false)
	if out.At(0) != 0 {
		t.Errorf("argmax = %v, want first maximum at 0", out.At(0))
	}
}

func TestAccumMergeMatchesSequentialFold(t *testing.T) {
	// Splitting a stream across accumulators and merging must agree
	// with a single fold, for every reduction.
	vals := []float64{4, -1, 7, 2, 2, 9, -3, 5}
	for _, op := range []string{"sum", "prod", "count", "min", "max", "mean", "var", "std", "argmin", "argmax"} {
		mk, err := NewAccum(op)
		if err != nil {
			t.Fatalf("NewAccum(%s): %v", op, err)
		}
		whole := mk()
		for i, v := range vals {
			whole.Fold(v, i)
		}
		left, right := mk(), mk()
		for i, v := range vals[:4] {
			left.Fold(v, i)
		}
		for i, v := range vals[4:] {
			right.Fold(v, 4+i)
		}
		left.Merge(right)
		if a, b := whole.Result(), left.Result(); math.Abs(a-b) > 1e-12 {
			t.Errorf("%s: sequential %v != merged %v", op, a, b)
		}
	}
}

func TestCumsum(t *testing.T) {
	in := floats(t, cube.Float64, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})

	out, err := Cumulative("cumsum", in, intp(1))
	if err != nil {
		t.Fatalf("cumsum axis 1: %v", err)
	}
	for i, w := range []float64{1, 3, 6, 4, 9, 15} {
		if out.At(i) != w {
			t.Errorf("cumsum element %d = %v, want %v", i, out.At(i), w)
		}
	}

	out, err = Cumulative("cumsum", in, intp(0))
	if err != nil {
		t.Fatalf("cumsum axis 0: %v", err)
	}
	for i, w := range []float64{1, 2, 3, 5, 7, 9} {
		if out.At(i) != w {
			t.Errorf("cumsum axis-0 element %d = %v, want %v", i, out.At(i), w)
		}
	}

	// Nil axis scans the flattened buffer.
	out, err = Cumulative("cumsum", in, nil)
	if err != nil {
		t.Fatalf("cumsum flat: %v", err)
	}
	if !cube.SameShape(out.Shape(), []int{6}) {
		t.Fatalf("flat cumsum shape = %v, want [6]", out.Shape())
	}
	if out.At(5) != 21 {
		t.Errorf("flat cumsum last = %v, want 21", out.At(5))
	}
}

func TestCumprod(t *testing.T) {
	in := floats(t, cube.Float64, []int{4}, []float64{1, 2, 3, 4})
	out, err := Cumulative("cumprod", in, intp(0))
	if err != nil {
		t.Fatalf("cumprod: %v", err)
	}
	for i, w := range []float64{1, 2, 6, 24} {
		if out.At(i) != w {
			t.Errorf("cumprod element %d = %v, want %v", i, out.At(i), w)
		}
	}
}
