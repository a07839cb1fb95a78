package iter

import (
	"context"
	"testing"
	"time"

	"github.com/TobiasJacob/cube-store/internal/catalog"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/expr"
)

func newTestCube(t *testing.T, meta *cube.Meta, vals []float64) catalog.Cube {
	t.Helper()
	cat, err := catalog.Open(t.TempDir(), catalog.Options{})
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	entry, err := cat.Create(meta)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if vals != nil {
		buf, _ := cube.FromFloats(meta.DType, meta.Shape, vals)
		if err := entry.Cube().Write(cube.FullSelection(meta.Shape), buf); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	return entry.Cube()
}

func collect(t *testing.T, it *Iterator) []*Item {
	t.Helper()
	var items []*Item
	for {
		item, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if item == nil {
			return items
		}
		items = append(items, item)
	}
}

func TestIterateRows(t *testing.T) {
	c := newTestCube(t, &cube.Meta{Name: "rows", Shape: []int{3, 2}, DType: cube.Float64},
		[]float64{1, 2, 3, 4, 5, 6})

	it, err := New(c, Options{ChunkSizes: []int{1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items := collect(t, it)
	if len(items) != 3 {
		t.Fatalf("yielded %d items, want 3", len(items))
	}
	for i, item := range items {
		if item.Coords[0] != i {
			t.Errorf("item %d starts at %v, want %d", i, item.Coords, i)
		}
		want := []float64{float64(2*i + 1), float64(2*i + 2)}
		got := item.Data.Floats()
		if got[0] != want[0] || got[1] != want[1] {
			t.Errorf("item %d data = %v, want %v", i, got, want)
		}
	}
}

func TestIterateDefaultFullExtent(t *testing.T) {
	c := newTestCube(t, &cube.Meta{Name: "full", Shape: []int{4, 2}, DType: cube.Float64},
		[]float64{1, 2, 3, 4, 5, 6, 7, 8})

	// An omitted chunk size covers the whole axis in one block.
	it, err := New(c, Options{Axes: []int{0}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items := collect(t, it)
	if len(items) != 1 {
		t.Fatalf("yielded %d items, want 1", len(items))
	}
	if items[0].Coords[0] != 0 || items[0].Data.Len() != 8 {
		t.Errorf("block starts at %v with %d elements, want 0 and 8",
			items[0].Coords, items[0].Data.Len())
	}
}

func TestIterateChunked(t *testing.T) {
	c := newTestCube(t, &cube.Meta{Name: "ch", Shape: []int{7}, DType: cube.Float64},
		[]float64{0, 1, 2, 3, 4, 5, 6})

	it, err := New(c, Options{Axes: []int{0}, ChunkSizes: []int{3}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items := collect(t, it)
	if len(items) != 3 {
		t.Fatalf("yielded %d items, want 3", len(items))
	}
	// The tail block is truncated to the remaining extent.
	if n := items[2].Data.Len(); n != 1 {
		t.Errorf("tail block has %d elements, want 1", n)
	}
	if items[2].Data.At(0) != 6 {
		t.Errorf("tail block = %v, want [6]", items[2].Data.Floats())
	}

	// Every element appears exactly once across blocks.
	total := 0
	sum := 0.0
	for _, item := range items {
		total += item.Data.Len()
		for _, v := range item.Data.Floats() {
			sum += v
		}
	}
	if total != 7 || sum != 21 {
		t.Errorf("blocks cover %d elements summing %v, want 7 and 21", total, sum)
	}
}

func TestIterateTwoAxes(t *testing.T) {
	c := newTestCube(t, &cube.Meta{Name: "two", Shape: []int{2, 2, 2}, DType: cube.Float64},
		[]float64{0, 1, 2, 3, 4, 5, 6, 7})

	it, err := New(c, Options{Axes: []int{0, 1}, ChunkSizes: []int{1, 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items := collect(t, it)
	if len(items) != 4 {
		t.Fatalf("yielded %d items, want 4", len(items))
	}
	// Lexicographic order of (axis0, axis1) starts.
	wantCoords := [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	for i, item := range items {
		if item.Coords[0] != wantCoords[i][0] || item.Coords[1] != wantCoords[i][1] {
			t.Errorf("item %d coords = %v, want %v", i, item.Coords, wantCoords[i])
		}
	}
}

func TestIterateLabels(t *testing.T) {
	c := newTestCube(t, &cube.Meta{
		Name:        "labeled",
		Shape:       []int{2, 2},
		DType:       cube.Float64,
		DimNames:    []string{"city", "metric"},
		CoordLabels: [][]string{{"City", "LA"}, nil},
	}, []float64{1, 2, 3, 4})

	it, err := New(c, Options{Axes: []int{0}, ChunkSizes: []int{1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items := collect(t, it)
	if items[0].Labels[0] != "City" || items[1].Labels[0] != "LA" {
		t.Errorf("labels = %q, %q, want City, LA", items[0].Labels[0], items[1].Labels[0])
	}
}

func TestIterateWithFunction(t *testing.T) {
	c := newTestCube(t, &cube.Meta{Name: "fn", Shape: []int{2, 3}, DType: cube.Float64},
		[]float64{1, 2, 3, 4, 5, 6})

	prog, err := expr.Compile("sum(x)")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	it, err := New(c, Options{Axes: []int{0}, ChunkSizes: []int{1}, Fn: prog})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items := collect(t, it)
	if len(items) != 2 {
		t.Fatalf("yielded %d items, want 2", len(items))
	}
	if items[0].Data.At(0) != 6 || items[1].Data.At(0) != 15 {
		t.Errorf("row sums = %v, %v, want 6, 15", items[0].Data.At(0), items[1].Data.At(0))
	}
}

func TestIterateFunctionTimeout(t *testing.T) {
	c := newTestCube(t, &cube.Meta{Name: "slow", Shape: []int{3}, DType: cube.Float64},
		[]float64{1, 2, 3})

	prog, err := expr.Compile("x + 1")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	// An already-expired budget fails each block. Without fail-fast the
	// error rides on the item and iteration continues.
	it, _ := New(c, Options{Axes: []int{0}, ChunkSizes: []int{1}, Fn: prog, FnBudget: -time.Second})
	items := collect(t, it)
	if len(items) != 3 {
		t.Fatalf("yielded %d items, want 3", len(items))
	}
	for i, item := range items {
		if !errors.Is(item.Err, errors.ErrSandboxTimeout) {
			t.Errorf("item %d error = %v, want ErrSandboxTimeout", i, item.Err)
		}
	}

	// Fail-fast aborts the traversal instead.
	it2, _ := New(c, Options{Axes: []int{0}, ChunkSizes: []int{1}, Fn: prog, FnBudget: -time.Second, FailFast: true})
	_, err = it2.Next(context.Background())
	if !errors.Is(err, errors.ErrSandboxTimeout) {
		t.Errorf("fail-fast error = %v, want ErrSandboxTimeout", err)
	}
	if item, _ := it2.Next(context.Background()); item != nil {
		t.Error("iterator yielded after fail-fast abort")
	}
}

func TestAppender(t *testing.T) {
	c := newTestCube(t, &cube.Meta{Name: "app", Shape: []int{0, 2}, DType: cube.Float64}, nil)

	ap, err := NewAppender(c, 0)
	if err != nil {
		t.Fatalf("NewAppender: %v", err)
	}
	for i := 0; i < 3; i++ {
		block, _ := cube.FromFloats(cube.Float64, []int{1, 2}, []float64{float64(2 * i), float64(2*i + 1)})
		if err := ap.Append(block); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if ap.Blocks() != 3 {
		t.Errorf("Blocks = %d, want 3", ap.Blocks())
	}
	if got := c.Shape(); got[0] != 3 {
		t.Fatalf("shape after appends = %v, want [3 2]", got)
	}
	out, err := c.Read(cube.FullSelection(c.Shape()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, w := range []float64{0, 1, 2, 3, 4, 5} {
		if out.At(i) != w {
			t.Errorf("element %d = %v, want %v", i, out.At(i), w)
		}
	}
}
