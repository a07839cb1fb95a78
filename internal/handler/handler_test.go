package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/TobiasJacob/cube-store/internal/catalog"
	"github.com/TobiasJacob/cube-store/internal/compute"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/wire"
)

type testEnv struct {
	h    *Handler
	sess *Session
	cli  *wire.Conn
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	cat, err := catalog.Open(t.TempDir(), catalog.Options{})
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	sm := NewSessionManager()
	h := New(cat, compute.NewExecutor(cat, 2, 0.01), nil, sm, time.Second)

	server, client := net.Pipe()
	sess := sm.CreateSession(server, wire.NewConn(server, 1<<20, 1<<24))
	cli := wire.NewConn(client, 1<<20, 1<<24)
	t.Cleanup(func() {
		sess.Close()
		client.Close()
		cat.Close()
	})
	return &testEnv{h: h, sess: sess, cli: cli}
}

// roundTrip dispatches a request and reads one response frame.
func (e *testEnv) roundTrip(t *testing.T, req *wire.Message) *wire.Message {
	t.Helper()
	go e.h.Handle(context.Background(), e.sess, req)
	resp, err := e.cli.Read()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp
}

func (e *testEnv) create(t *testing.T, info *wire.CubeInfo) {
	t.Helper()
	resp := e.roundTrip(t, &wire.Message{Header: &wire.Header{
		ID:      1,
		Command: wire.CmdCreate,
		Meta:    info,
	}})
	if resp.Header.Status != wire.StatusOK {
		t.Fatalf("CREATE failed: %s", resp.Header.Error)
	}
}

func TestCreateListDelete(t *testing.T) {
	e := newEnv(t)
	e.create(t, &wire.CubeInfo{Name: "a", Shape: []int{4}, DType: "float64"})
	e.create(t, &wire.CubeInfo{Name: "b", Shape: []int{2, 2}, DType: "int32"})

	resp := e.roundTrip(t, &wire.Message{Header: &wire.Header{ID: 3, Command: wire.CmdList}})
	if len(resp.Header.Cubes) != 2 {
		t.Fatalf("LIST returned %d cubes, want 2", len(resp.Header.Cubes))
	}
	if resp.Header.Cubes[0].Name != "a" || resp.Header.Cubes[1].Name != "b" {
		t.Errorf("LIST order = %q, %q", resp.Header.Cubes[0].Name, resp.Header.Cubes[1].Name)
	}

	resp = e.roundTrip(t, &wire.Message{Header: &wire.Header{ID: 4, Command: wire.CmdDelete, Cube: "a"}})
	if resp.Header.Status != wire.StatusOK {
		t.Fatalf("DELETE failed: %s", resp.Header.Error)
	}
	resp = e.roundTrip(t, &wire.Message{Header: &wire.Header{ID: 5, Command: wire.CmdInfo, Cube: "a"}})
	if resp.Header.Code != errors.CodeNotFound {
		t.Errorf("INFO after DELETE code = %d, want %d", resp.Header.Code, errors.CodeNotFound)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	e := newEnv(t)
	e.create(t, &wire.CubeInfo{
		Name:        "sales",
		Shape:       []int{2, 3},
		DType:       "float64",
		DimNames:    []string{"city", "product"},
		CoordLabels: [][]string{{"NY", "LA"}, nil},
	})

	data, _ := cube.FromFloats(cube.Float64, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	info, payload := wire.EncodeBuffer(data)
	resp := e.roundTrip(t, &wire.Message{
		Header:  &wire.Header{ID: 2, Command: wire.CmdSet, Cube: "sales", Buffer: info},
		Payload: payload,
	})
	if resp.Header.Status != wire.StatusOK {
		t.Fatalf("SET failed: %s", resp.Header.Error)
	}

	// Selecting the "LA" row by label matches selecting position 1.
	resp = e.roundTrip(t, &wire.Message{Header: &wire.Header{
		ID:      3,
		Command: wire.CmdGet,
		Cube:    "sales",
		Select:  []wire.IndexItem{{Kind: "label", Label: "LA"}, {Kind: "all"}},
	}})
	if resp.Header.Status != wire.StatusOK {
		t.Fatalf("GET failed: %s", resp.Header.Error)
	}
	row, err := resp.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	want := []float64{4, 5, 6}
	for i, w := range want {
		if row.At(i) != w {
			t.Errorf("LA row[%d] = %v, want %v", i, row.At(i), w)
		}
	}
}

func TestSliceCreatesCube(t *testing.T) {
	e := newEnv(t)
	e.create(t, &wire.CubeInfo{
		Name:        "temps",
		Shape:       []int{3, 2},
		DType:       "float64",
		DimNames:    []string{"day", "city"},
		CoordLabels: [][]string{nil, {"NY", "LA"}},
	})
	data, _ := cube.FromFloats(cube.Float64, []int{3, 2}, []float64{1, 2, 3, 4, 5, 6})
	info, payload := wire.EncodeBuffer(data)
	e.roundTrip(t, &wire.Message{
		Header:  &wire.Header{ID: 2, Command: wire.CmdSet, Cube: "temps", Buffer: info},
		Payload: payload,
	})

	start, stop := 1, 3
	resp := e.roundTrip(t, &wire.Message{Header: &wire.Header{
		ID:      3,
		Command: wire.CmdSlice,
		Cube:    "temps",
		Select:  []wire.IndexItem{{Kind: "range", Start: &start, Stop: &stop}, {Kind: "all"}},
		Meta:    &wire.CubeInfo{Name: "temps_tail"},
	}})
	if resp.Header.Status != wire.StatusOK {
		t.Fatalf("SLICE failed: %s", resp.Header.Error)
	}
	if resp.Header.Cube != "temps_tail" {
		t.Errorf("SLICE handle = %q", resp.Header.Cube)
	}
	got := resp.Header.Cubes[0]
	if !cube.SameShape(got.Shape, []int{2, 2}) {
		t.Errorf("slice shape = %v, want [2 2]", got.Shape)
	}
	if got.DimNames[0] != "day" || got.CoordLabels[1][1] != "LA" {
		t.Errorf("slice dims not carried: %v %v", got.DimNames, got.CoordLabels)
	}
}

func TestComputeScalar(t *testing.T) {
	e := newEnv(t)
	e.create(t, &wire.CubeInfo{Name: "v", Shape: []int{4}, DType: "float64"})
	data, _ := cube.FromFloats(cube.Float64, []int{4}, []float64{1, 2, 3, 4})
	info, payload := wire.EncodeBuffer(data)
	e.roundTrip(t, &wire.Message{
		Header:  &wire.Header{ID: 2, Command: wire.CmdSet, Cube: "v", Buffer: info},
		Payload: payload,
	})

	resp := e.roundTrip(t, &wire.Message{Header: &wire.Header{
		ID:       3,
		Command:  wire.CmdCompute,
		Op:       "sum",
		Operands: []wire.Operand{{Cube: "v"}},
	}})
	if resp.Header.Status != wire.StatusOK {
		t.Fatalf("COMPUTE failed: %s", resp.Header.Error)
	}
	if resp.Header.Scalar == nil || *resp.Header.Scalar != 10 {
		t.Errorf("sum scalar = %v, want 10", resp.Header.Scalar)
	}
}

func TestIterStream(t *testing.T) {
	e := newEnv(t)
	e.create(t, &wire.CubeInfo{Name: "s", Shape: []int{4, 2}, DType: "float64"})
	data, _ := cube.FromFloats(cube.Float64, []int{4, 2}, []float64{0, 1, 2, 3, 4, 5, 6, 7})
	info, payload := wire.EncodeBuffer(data)
	e.roundTrip(t, &wire.Message{
		Header:  &wire.Header{ID: 2, Command: wire.CmdSet, Cube: "s", Buffer: info},
		Payload: payload,
	})

	req := &wire.Message{Header: &wire.Header{
		ID:      3,
		Command: wire.CmdIter,
		Cube:    "s",
		Iter:    &wire.IterSpec{ChunkSizes: []int{2}},
	}}
	go e.h.Handle(context.Background(), e.sess, req)

	var blocks int
	for {
		frame, err := e.cli.Read()
		if err != nil {
			t.Fatalf("read stream frame: %v", err)
		}
		if !frame.Header.More {
			if frame.Header.Status != wire.StatusOK {
				t.Fatalf("stream ended with error: %s", frame.Header.Error)
			}
			break
		}
		blk, err := frame.DecodePayload()
		if err != nil {
			t.Fatalf("decode block: %v", err)
		}
		if blk.Len() != 4 {
			t.Errorf("block %d has %d elements, want 4", blocks, blk.Len())
		}
		if frame.Header.Coords[0] != blocks*2 {
			t.Errorf("block %d coords = %v", blocks, frame.Header.Coords)
		}
		blocks++
	}
	if blocks != 2 {
		t.Errorf("stream yielded %d blocks, want 2", blocks)
	}
}

func TestUnknownCommand(t *testing.T) {
	e := newEnv(t)
	resp := e.roundTrip(t, &wire.Message{Header: &wire.Header{ID: 1, Command: "EXPLODE"}})
	if resp.Header.Status != wire.StatusError || resp.Header.Code != errors.CodeInvalidRequest {
		t.Errorf("unknown command response = %+v", resp.Header)
	}
}
