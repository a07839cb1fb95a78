package cube

import (
	"testing"
)

func TestLinearIndexRoundTrip(t *testing.T) {
	shape := []int{2, 3, 4}
	coord := make([]int, 3)
	for idx := 0; idx < ElemCount(shape); idx++ {
		Unravel(idx, shape, coord)
		if got := LinearIndex(coord, shape); got != idx {
			t.Fatalf("LinearIndex(Unravel(%d)) = %d", idx, got)
		}
	}
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []int
		want    []int
		wantErr bool
	}{
		{"equal", []int{2, 3}, []int{2, 3}, []int{2, 3}, false},
		{"scalar", []int{2, 3}, nil, []int{2, 3}, false},
		{"row", []int{2, 3}, []int{3}, []int{2, 3}, false},
		{"column", []int{2, 3}, []int{2, 1}, []int{2, 3}, false},
		{"both stretch", []int{2, 1}, []int{1, 3}, []int{2, 3}, false},
		{"mismatch", []int{2, 3}, []int{4}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BroadcastShapes: %v", err)
			}
			if !SameShape(got, tt.want) {
				t.Errorf("BroadcastShapes(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestBroadcastIndexPinsUnitAxes(t *testing.T) {
	// Column vector [2,1] broadcast into [2,3]: every column reads the
	// same element of its row.
	for _, coord := range [][]int{{0, 0}, {0, 2}, {1, 1}} {
		idx := BroadcastIndex(coord, []int{2, 1})
		if idx != coord[0] {
			t.Errorf("BroadcastIndex(%v, [2 1]) = %d, want %d", coord, idx, coord[0])
		}
	}
	// Trailing-aligned operand [3] ignores the leading output axis.
	if idx := BroadcastIndex([]int{1, 2}, []int{3}); idx != 2 {
		t.Errorf("BroadcastIndex([1 2], [3]) = %d, want 2", idx)
	}
}

func TestDefaultChunkShape(t *testing.T) {
	// Trailing axes stay whole; the leading axis splits to fit the target.
	shape := []int{1000, 100}
	chunk := DefaultChunkShape(shape, Float64, 80*100*8)
	if !SameShape(chunk, []int{80, 100}) {
		t.Errorf("chunk = %v, want [80 100]", chunk)
	}

	// A row bigger than the target still yields extent 1 on the lead axis.
	chunk = DefaultChunkShape([]int{10, 10}, Float64, 8)
	if chunk[0] != 1 {
		t.Errorf("chunk = %v, want lead extent 1", chunk)
	}
}

func TestChunkCounts(t *testing.T) {
	counts := ChunkCounts([]int{7, 4}, []int{3, 4})
	if !SameShape(counts, []int{3, 1}) {
		t.Errorf("ChunkCounts = %v, want [3 1]", counts)
	}
	if got := ChunkExtent(0, 2, []int{7, 4}, []int{3, 4}); got != 1 {
		t.Errorf("last chunk extent = %d, want 1", got)
	}
}

func TestSelectionShapes(t *testing.T) {
	sel := Selection{Index1(1), Range(0, 3), List([]int{0, 2})}
	if got := sel.ResultShape(); !SameShape(got, []int{3, 2}) {
		t.Errorf("ResultShape = %v, want [3 2]", got)
	}
	if got := sel.BoxShape(); !SameShape(got, []int{1, 3, 2}) {
		t.Errorf("BoxShape = %v, want [1 3 2]", got)
	}
	if err := sel.Validate([]int{2, 3, 4}); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := sel.Validate([]int{2, 2, 4}); err == nil {
		t.Error("Validate accepted range past extent")
	}
}

func TestBufferConvert(t *testing.T) {
	buf, err := FromFloats(Float64, []int{3}, []float64{1.5, -2, 3})
	if err != nil {
		t.Fatalf("FromFloats: %v", err)
	}
	i32 := buf.Convert(Int32)
	if i32.DType() != Int32 {
		t.Fatalf("dtype = %v", i32.DType())
	}
	want := []float64{1, -2, 3}
	for i, w := range want {
		if got := i32.At(i); got != w {
			t.Errorf("converted At(%d) = %g, want %g", i, got, w)
		}
	}
	if buf.At(0) != 1.5 {
		t.Error("Convert mutated the source buffer")
	}
}
