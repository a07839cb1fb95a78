package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/dims"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	data, _ := cube.FromFloats(cube.Float64, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	info, payload := EncodeBuffer(data)
	req := &Message{
		Header: &Header{
			ID:      7,
			Command: CmdSet,
			Cube:    "temps",
			Buffer:  info,
		},
		Payload: payload,
	}
	if err := w.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(NewOK(7)); err != nil {
		t.Fatalf("Write ok: %v", err)
	}

	r := NewReader(&buf, 1<<20, 1<<24)
	got, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Header.ID != 7 || got.Header.Command != CmdSet || got.Header.Cube != "temps" {
		t.Errorf("header = %+v", got.Header)
	}
	decoded, err := got.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !decoded.Equal(data) {
		t.Errorf("payload round-trip changed the buffer")
	}

	ok, err := r.Read()
	if err != nil {
		t.Fatalf("Read ok: %v", err)
	}
	if ok.Header.Status != StatusOK || ok.Header.ID != 7 {
		t.Errorf("ok header = %+v", ok.Header)
	}
	if len(ok.Payload) != 0 {
		t.Errorf("ok frame carries %d payload bytes", len(ok.Payload))
	}

	if _, err := r.Read(); err != io.EOF {
		t.Errorf("after last frame Read returned %v, want io.EOF", err)
	}
}

func TestHeaderLimit(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Write(&Message{Header: &Header{ID: 1, Command: CmdPing}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReader(&buf, 4, 1<<20)
	if _, err := r.Read(); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("oversized header error = %v, want ErrInvalidRequest", err)
	}
}

func TestPayloadLimit(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	msg := &Message{
		Header:  &Header{ID: 1, Command: CmdSet},
		Payload: make([]byte, 256),
	}
	if err := w.Write(msg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReader(&buf, 1<<20, 64)
	if _, err := r.Read(); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("oversized payload error = %v, want ErrInvalidRequest", err)
	}
}

func TestErrorEnvelope(t *testing.T) {
	msg := NewErrorFromErr(3, errors.NewCubeNotFound("ghost"))
	if msg.Header.Status != StatusError {
		t.Errorf("status = %q, want error", msg.Header.Status)
	}
	if msg.Header.Code != errors.CodeNotFound {
		t.Errorf("code = %d, want %d", msg.Header.Code, errors.CodeNotFound)
	}
	if !errors.Is(errors.CodeToError(msg.Header.Code), errors.ErrCubeNotFound) {
		t.Errorf("code %d does not map back to ErrCubeNotFound", msg.Header.Code)
	}
}

func TestCubeInfoRoundTrip(t *testing.T) {
	meta := &cube.Meta{
		Name:        "sales",
		Shape:       []int{2, 3},
		DType:       cube.Int64,
		DimNames:    []string{"city", "product"},
		CoordLabels: [][]string{{"NY", "LA"}, nil},
		ChunkShape:  []int{2, 2},
		FillValue:   -1,
	}
	back, err := InfoFromMeta(meta).ToMeta()
	if err != nil {
		t.Fatalf("ToMeta: %v", err)
	}
	if back.Name != meta.Name || back.DType != meta.DType || back.FillValue != meta.FillValue {
		t.Errorf("round-trip meta = %+v", back)
	}
	if !cube.SameShape(back.Shape, meta.Shape) || !cube.SameShape(back.ChunkShape, meta.ChunkShape) {
		t.Errorf("round-trip shapes = %v %v", back.Shape, back.ChunkShape)
	}
	if back.CoordLabels[0][1] != "LA" {
		t.Errorf("round-trip labels = %v", back.CoordLabels)
	}
}

func TestSelectionItems(t *testing.T) {
	start, stop := 1, 3
	items, err := SelectionItems([]IndexItem{
		{Kind: "index", Index: 2},
		{Kind: "range", Start: &start, Stop: &stop},
		{Kind: "ellipsis"},
		{Kind: "label", Label: "LA"},
		{Kind: "labels", Labels: []string{"NY", "LA"}},
	})
	if err != nil {
		t.Fatalf("SelectionItems: %v", err)
	}
	wantKinds := []dims.ItemKind{dims.ItemIndex, dims.ItemRange, dims.ItemEllipsis, dims.ItemLabel, dims.ItemLabelSet}
	for i, k := range wantKinds {
		if items[i].Kind != k {
			t.Errorf("item %d kind = %d, want %d", i, items[i].Kind, k)
		}
	}

	if _, err := SelectionItems([]IndexItem{{Kind: "wildcard"}}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("unknown kind error = %v, want ErrInvalidRequest", err)
	}
}
