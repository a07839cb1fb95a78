package expr

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

func evalOn(t *testing.T, src string, vals []float64) *cube.Buffer {
	t.Helper()
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	x, err := cube.FromFloats(cube.Float64, []int{len(vals)}, vals)
	if err != nil {
		t.Fatalf("FromFloats: %v", err)
	}
	out, err := prog.Eval(context.Background(), x)
	if err != nil {
		t.Fatalf("Eval(%q): %v", src, err)
	}
	return out
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		in   []float64
		want []float64
	}{
		{"x + 1", []float64{1, 2}, []float64{2, 3}},
		{"2 * x - 3", []float64{1, 2}, []float64{-1, 1}},
		{"x / 4", []float64{8, 2}, []float64{2, 0.5}},
		{"-x", []float64{3, -2}, []float64{-3, 2}},
		{"x ^ 2", []float64{3, 4}, []float64{9, 16}},
		{"2 ^ x ^ 2", []float64{2}, []float64{16}}, // right-associative
		{"(x + 1) * (x - 1)", []float64{3}, []float64{8}},
		{"sqrt(x) + abs(-2)", []float64{9}, []float64{5}},
		{"clip(x, 0, 1)", []float64{-5, 0.5, 9}, []float64{0, 0.5, 1}},
		{"pow(x, 3)", []float64{2}, []float64{8}},
	}
	for _, tt := range tests {
		out := evalOn(t, tt.src, tt.in)
		for i, w := range tt.want {
			if math.Abs(out.At(i)-w) > 1e-12 {
				t.Errorf("%q element %d = %v, want %v", tt.src, i, out.At(i), w)
			}
		}
	}
}

func TestPrecedence(t *testing.T) {
	out := evalOn(t, "1 + 2 * 3 ^ 2", []float64{0})
	if out.At(0) != 19 {
		t.Errorf("1 + 2 * 3 ^ 2 = %v, want 19", out.At(0))
	}
}

func TestReductionCollapsesToScalar(t *testing.T) {
	out := evalOn(t, "sum(x) / 4", []float64{1, 2, 3, 4})
	if out.NDim() != 0 {
		t.Fatalf("sum(x)/4 is %d-d, want scalar", out.NDim())
	}
	if out.At(0) != 2.5 {
		t.Errorf("sum(x)/4 = %v, want 2.5", out.At(0))
	}

	out = evalOn(t, "max(x) - min(x)", []float64{3, 9, 1})
	if out.At(0) != 8 {
		t.Errorf("range = %v, want 8", out.At(0))
	}

	out = evalOn(t, "sum(x) / count(x)", []float64{1, 2, 3, 4})
	if out.At(0) != 2.5 {
		t.Errorf("sum/count = %v, want 2.5", out.At(0))
	}
}

func TestConstants(t *testing.T) {
	out := evalOn(t, "sin(pi / 2)", []float64{0})
	if math.Abs(out.At(0)-1) > 1e-12 {
		t.Errorf("sin(pi/2) = %v, want 1", out.At(0))
	}
}

func TestCompileRejectsUnknowns(t *testing.T) {
	// Disallowed identifiers and functions fail at compile time.
	for _, src := range []string{"y + 1", "open(x)", "exec(x)", "x; y"} {
		if _, err := Compile(src); err == nil {
			t.Errorf("Compile(%q) succeeded, want error", src)
		}
	}
	if _, err := Compile("syscall(x)"); !errors.Is(err, errors.ErrSandbox) {
		t.Errorf("disallowed function: got %v, want ErrSandbox", err)
	}
}

func TestCompileSyntaxErrors(t *testing.T) {
	for _, src := range []string{"", "x +", "(x", "x 1", "clip(x, 1)", "1..2"} {
		if _, err := Compile(src); err == nil {
			t.Errorf("Compile(%q) succeeded, want syntax error", src)
		}
	}
}

func TestDepthBound(t *testing.T) {
	deep := ""
	for i := 0; i < 200; i++ {
		deep += "("
	}
	deep += "x"
	for i := 0; i < 200; i++ {
		deep += ")"
	}
	if _, err := Compile(deep); !errors.Is(err, errors.ErrSandbox) {
		t.Errorf("deep nesting: got %v, want ErrSandbox", err)
	}
}

func TestTimeBudget(t *testing.T) {
	prog, err := Compile("sum(x) + 1")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	x, _ := cube.FromFloats(cube.Float64, []int{4}, []float64{1, 2, 3, 4})
	if _, err := prog.Eval(ctx, x); !errors.Is(err, errors.ErrSandboxTimeout) {
		t.Errorf("expired budget: got %v, want ErrSandboxTimeout", err)
	}
}

func TestEvalScalar(t *testing.T) {
	prog, err := Compile("2 + 3 * 4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	v, err := prog.EvalScalar(context.Background())
	if err != nil {
		t.Fatalf("EvalScalar: %v", err)
	}
	if v != 14 {
		t.Errorf("EvalScalar = %v, want 14", v)
	}
}
