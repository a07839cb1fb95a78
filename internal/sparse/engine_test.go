package sparse

import (
	"sync"
	"testing"

	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

func newTestEngine(t *testing.T, shape []int, fill float64) *Engine {
	t.Helper()
	meta := &cube.Meta{
		Name:      "test",
		Shape:     shape,
		DType:     cube.Float64,
		Sparse:    true,
		FillValue: fill,
	}
	e, err := Create(t.TempDir(), meta)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return e
}

func TestSetGetAndPrune(t *testing.T) {
	e := newTestEngine(t, []int{1000, 1000}, 0)

	if err := e.Set([]int{500, 500}, 3.5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := e.Get([]int{500, 500}); v != 3.5 {
		t.Errorf("Get(set coord) = %v, want 3.5", v)
	}
	if v, _ := e.Get([]int{0, 0}); v != 0 {
		t.Errorf("Get(unset coord) = %v, want fill 0", v)
	}
	if n := e.CountNonzero(); n != 1 {
		t.Errorf("CountNonzero = %d, want 1", n)
	}

	// Writing the fill value removes the entry.
	if err := e.Set([]int{500, 500}, 0); err != nil {
		t.Fatalf("Set fill: %v", err)
	}
	if n := e.CountNonzero(); n != 0 {
		t.Errorf("CountNonzero after prune = %d, want 0", n)
	}
}

func TestSetOutOfBounds(t *testing.T) {
	e := newTestEngine(t, []int{10, 10}, 0)
	if err := e.Set([]int{10, 0}, 1); !errors.Is(err, errors.ErrIndex) {
		t.Errorf("out-of-bounds Set: got %v, want ErrIndex", err)
	}
	if _, err := e.Get([]int{0, -11}); !errors.Is(err, errors.ErrIndex) {
		t.Errorf("out-of-bounds Get: got %v, want ErrIndex", err)
	}
}

func TestNonzeroDeterministicOrder(t *testing.T) {
	e := newTestEngine(t, []int{5, 5}, 0)
	// Insert out of order.
	coords := [][]int{{4, 1}, {0, 3}, {2, 2}, {0, 1}, {4, 0}}
	for i, c := range coords {
		if err := e.Set(c, float64(i+1)); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	var got [][]int
	err := e.Nonzero(func(coord []int, v float64) error {
		got = append(got, append([]int(nil), coord...))
		return nil
	})
	if err != nil {
		t.Fatalf("Nonzero: %v", err)
	}
	want := [][]int{{0, 1}, {0, 3}, {2, 2}, {4, 0}, {4, 1}}
	if len(got) != len(want) {
		t.Fatalf("Nonzero yielded %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i][0] != want[i][0] || got[i][1] != want[i][1] {
			t.Errorf("entry %d at %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReadSelection(t *testing.T) {
	e := newTestEngine(t, []int{4, 4}, 0)
	e.Set([]int{1, 1}, 5)
	e.Set([]int{1, 3}, 7)
	e.Set([]int{3, 3}, 9)

	out, err := e.Read(cube.Selection{cube.Range(1, 3), cube.List([]int{3, 1})})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []float64{7, 5, 0, 0}
	got := out.Floats()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWriteSelectionPrunes(t *testing.T) {
	e := newTestEngine(t, []int{3, 3}, 0)
	e.Set([]int{0, 0}, 1)
	e.Set([]int{0, 1}, 2)

	buf, _ := cube.FromFloats(cube.Float64, []int{1, 3}, []float64{0, 5, 0})
	if err := e.Write(cube.Selection{cube.Range(0, 1), cube.Full(3)}, buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n := e.CountNonzero(); n != 1 {
		t.Errorf("CountNonzero = %d, want 1", n)
	}
	if v, _ := e.Get([]int{0, 1}); v != 5 {
		t.Errorf("Get(0,1) = %v, want 5", v)
	}
}

func TestDenseRoundtrip(t *testing.T) {
	e := newTestEngine(t, []int{3, 4}, 0)
	vals := []float64{0, 1, 0, 2, 0, 0, 3, 0, 4, 0, 0, 5}
	buf, _ := cube.FromFloats(cube.Float64, []int{3, 4}, vals)
	if err := e.LoadDense(buf); err != nil {
		t.Fatalf("LoadDense: %v", err)
	}
	if n := e.CountNonzero(); n != 5 {
		t.Errorf("CountNonzero = %d, want 5", n)
	}
	out, err := e.DenseBuffer()
	if err != nil {
		t.Fatalf("DenseBuffer: %v", err)
	}
	if !out.Equal(buf) {
		t.Error("dense roundtrip differs from input")
	}
}

func TestAppendAndShrink(t *testing.T) {
	e := newTestEngine(t, []int{2, 3}, 0)
	e.Set([]int{1, 2}, 6)

	block, _ := cube.FromFloats(cube.Float64, []int{1, 3}, []float64{7, 0, 8})
	if err := e.Append(0, block); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := e.Shape(); got[0] != 3 {
		t.Fatalf("shape after append = %v, want [3 3]", got)
	}
	if v, _ := e.Get([]int{2, 0}); v != 7 {
		t.Errorf("Get(2,0) = %v, want 7", v)
	}
	if n := e.CountNonzero(); n != 3 {
		t.Errorf("CountNonzero = %d, want 3", n)
	}

	if err := e.Resize([]int{2, 3}); err != nil {
		t.Fatalf("Resize shrink: %v", err)
	}
	if err := e.Resize([]int{3, 3}); err != nil {
		t.Fatalf("Resize grow: %v", err)
	}
	if v, _ := e.Get([]int{2, 0}); v != 0 {
		t.Errorf("Get(2,0) after shrink+regrow = %v, want fill 0", v)
	}
}

func TestConcurrentAppends(t *testing.T) {
	e := newTestEngine(t, []int{1, 2}, 0)
	e.Set([]int{0, 0}, 1)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			block, _ := cube.FromFloats(cube.Float64, []int{1, 2}, []float64{v, v})
			errs <- e.Append(0, block)
		}(float64(i + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// Every append must land on the extent the previous one left.
	if got := e.Shape(); got[0] != 1+n {
		t.Fatalf("shape after %d appends = %v, want [%d 2]", n, got, 1+n)
	}
	if v, _ := e.Get([]int{0, 0}); v != 1 {
		t.Errorf("original row lost: Get(0,0) = %v, want 1", v)
	}
	if n := e.CountNonzero(); n != 1+2*8 {
		t.Errorf("CountNonzero = %d, want %d", n, 1+2*8)
	}
}

func TestNonzeroFillValue(t *testing.T) {
	e := newTestEngine(t, []int{4}, -1)
	e.Set([]int{1}, 0) // zero is a real entry when fill is -1
	e.Set([]int{2}, -1)
	if n := e.CountNonzero(); n != 1 {
		t.Errorf("CountNonzero = %d, want 1", n)
	}
	if v, _ := e.Get([]int{3}); v != -1 {
		t.Errorf("Get(unset) = %v, want fill -1", v)
	}
}

func TestFlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	meta := &cube.Meta{
		Name:   "persist",
		Shape:  []int{10, 10},
		DType:  cube.Float64,
		Sparse: true,
	}
	e, err := Create(dir, meta)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	e.Set([]int{3, 4}, 1.5)
	e.Set([]int{7, 1}, 2.5)
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	loaded, err := cube.LoadMeta(dir)
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	e2, err := Open(dir, loaded)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n := e2.CountNonzero(); n != 2 {
		t.Fatalf("reopened CountNonzero = %d, want 2", n)
	}
	if v, _ := e2.Get([]int{3, 4}); v != 1.5 {
		t.Errorf("reopened Get(3,4) = %v, want 1.5", v)
	}
	if v, _ := e2.Get([]int{7, 1}); v != 2.5 {
		t.Errorf("reopened Get(7,1) = %v, want 2.5", v)
	}
}
