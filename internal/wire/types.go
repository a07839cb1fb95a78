package wire

import (
	"github.com/TobiasJacob/cube-store/internal/compute"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/dims"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

// =============================================================================
// Commands and statuses
// =============================================================================

const (
	CmdAuth    = "AUTH"
	CmdPing    = "PING"
	CmdCreate  = "CREATE"
	CmdDelete  = "DELETE"
	CmdList    = "LIST"
	CmdInfo    = "INFO"
	CmdGet     = "GET"
	CmdSet     = "SET"
	CmdAppend  = "APPEND"
	CmdSlice   = "SLICE"
	CmdCompute = "COMPUTE"
	CmdIter    = "ITER"
	CmdStats   = "STATS"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// =============================================================================
// Header
// =============================================================================

// Header is the JSON portion of a frame. Requests set Command; responses
// set Status. The remaining fields are populated per command, with bulk
// element data travelling separately as the frame's binary payload,
// described by Buffer.
type Header struct {
	ID      uint64 `json:"id"`
	Command string `json:"command,omitempty"`
	Status  string `json:"status,omitempty"`
	Code    int32  `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`

	// AUTH: the client presents Key; the server answers with Session.
	Key     string `json:"key,omitempty"`
	Session string `json:"session,omitempty"`

	// Cube addressing and description
	Cube   string      `json:"cube,omitempty"`
	Meta   *CubeInfo   `json:"meta,omitempty"`
	Select []IndexItem `json:"select,omitempty"`
	Axis   *AxisRef    `json:"axis,omitempty"`

	// Payload layout for frames carrying element data
	Buffer *BufferInfo `json:"buffer,omitempty"`

	// COMPUTE
	Op       string         `json:"op,omitempty"`
	Operands []Operand      `json:"operands,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`

	// ITER
	Iter *IterSpec `json:"iter,omitempty"`

	// Responses
	Cubes  []CubeInfo     `json:"cubes,omitempty"`
	Scalar *float64       `json:"scalar,omitempty"`
	Stats  map[string]any `json:"stats,omitempty"`

	// ITER stream frames: starting position and labels of the block, and
	// whether further frames follow.
	Coords []int    `json:"coords,omitempty"`
	Labels []string `json:"labels,omitempty"`
	More   bool     `json:"more,omitempty"`
}

// Message is one decoded frame: the header plus the raw binary payload.
type Message struct {
	Header  *Header
	Payload []byte
}

// DecodePayload interprets the payload under the header's buffer layout.
func (m *Message) DecodePayload() (*cube.Buffer, error) {
	if m.Header.Buffer == nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "frame carries no buffer layout")
	}
	return m.Header.Buffer.Decode(m.Payload)
}

// =============================================================================
// Cube metadata wire form
// =============================================================================

// CubeInfo is the wire form of a cube's metadata record.
type CubeInfo struct {
	Name        string     `json:"name"`
	Shape       []int      `json:"shape"`
	DType       string     `json:"dtype"`
	Sparse      bool       `json:"sparse,omitempty"`
	DimNames    []string   `json:"dim_names,omitempty"`
	CoordLabels [][]string `json:"coord_labels,omitempty"`
	ChunkShape  []int      `json:"chunk_shape,omitempty"`
	FillValue   float64    `json:"fill_value,omitempty"`
}

// InfoFromMeta converts a metadata record to its wire form.
func InfoFromMeta(m *cube.Meta) *CubeInfo {
	return &CubeInfo{
		Name:        m.Name,
		Shape:       cube.CloneInts(m.Shape),
		DType:       m.DType.String(),
		Sparse:      m.Sparse,
		DimNames:    m.DimNames,
		CoordLabels: m.CoordLabels,
		ChunkShape:  m.ChunkShape,
		FillValue:   m.FillValue,
	}
}

// ToMeta converts the wire form back to a metadata record.
func (ci *CubeInfo) ToMeta() (*cube.Meta, error) {
	dtype, err := cube.ParseDType(ci.DType)
	if err != nil {
		return nil, err
	}
	return &cube.Meta{
		Name:        ci.Name,
		Shape:       ci.Shape,
		DType:       dtype,
		Sparse:      ci.Sparse,
		DimNames:    ci.DimNames,
		CoordLabels: ci.CoordLabels,
		ChunkShape:  ci.ChunkShape,
		FillValue:   ci.FillValue,
	}, nil
}

// =============================================================================
// Buffer payload layout
// =============================================================================

// BufferInfo describes the shape and element type of a binary payload.
// The payload itself is the buffer's contiguous row-major element bytes.
type BufferInfo struct {
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// EncodeBuffer splits a buffer into its layout header and payload bytes.
func EncodeBuffer(b *cube.Buffer) (*BufferInfo, []byte) {
	return &BufferInfo{Shape: b.Shape(), DType: b.DType().String()}, b.Bytes()
}

// Decode reassembles a buffer from payload bytes.
func (bi *BufferInfo) Decode(payload []byte) (*cube.Buffer, error) {
	dtype, err := cube.ParseDType(bi.DType)
	if err != nil {
		return nil, err
	}
	return cube.NewBufferBytes(dtype, bi.Shape, payload)
}

// =============================================================================
// Selection wire form
// =============================================================================

// Selection item kinds.
const (
	KindIndex    = "index"
	KindRange    = "range"
	KindEllipsis = "ellipsis"
	KindAll      = "all"
	KindLabel    = "label"
	KindLabels   = "labels"
)

// IndexItem is the wire form of one element of an index expression.
type IndexItem struct {
	Kind   string   `json:"kind"`
	Index  int      `json:"index,omitempty"`
	Start  *int     `json:"start,omitempty"`
	Stop   *int     `json:"stop,omitempty"`
	Label  string   `json:"label,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

// ToDims converts the wire item to a dimension index item.
func (it IndexItem) ToDims() (dims.Item, error) {
	switch it.Kind {
	case KindIndex:
		return dims.Item{Kind: dims.ItemIndex, Index: it.Index}, nil
	case KindRange:
		return dims.Item{Kind: dims.ItemRange, Start: it.Start, Stop: it.Stop}, nil
	case KindEllipsis:
		return dims.Item{Kind: dims.ItemEllipsis}, nil
	case KindAll:
		return dims.Item{Kind: dims.ItemAll}, nil
	case KindLabel:
		return dims.Item{Kind: dims.ItemLabel, Label: it.Label}, nil
	case KindLabels:
		return dims.Item{Kind: dims.ItemLabelSet, Labels: it.Labels}, nil
	}
	return dims.Item{}, errors.Wrapf(errors.ErrInvalidRequest, "unknown selection item kind %q", it.Kind)
}

// SelectionItems converts a whole wire index expression.
func SelectionItems(items []IndexItem) ([]dims.Item, error) {
	out := make([]dims.Item, len(items))
	for i, it := range items {
		d, err := it.ToDims()
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// =============================================================================
// Axis references and operation arguments
// =============================================================================

// AxisRef addresses an axis by dimension name or by position.
type AxisRef struct {
	Name string `json:"name,omitempty"`
	Pos  *int   `json:"pos,omitempty"`
}

// Ref returns the form the dimension index resolves: a string name or an
// integer position.
func (a AxisRef) Ref() any {
	if a.Name != "" {
		return a.Name
	}
	if a.Pos != nil {
		return *a.Pos
	}
	return 0
}

// Operand is the wire form of a compute operand.
type Operand struct {
	Cube   string   `json:"cube,omitempty"`
	Scalar *float64 `json:"scalar,omitempty"`
}

// ToCompute converts wire operands to executor operands.
func ToCompute(ops []Operand) []compute.Operand {
	out := make([]compute.Operand, len(ops))
	for i, op := range ops {
		out[i] = compute.Operand{Cube: op.Cube, Scalar: op.Scalar}
	}
	return out
}

// IterSpec is the wire form of an ITER request. A zero or missing chunk
// size means the full extent of that axis in one block.
type IterSpec struct {
	Axes       []AxisRef `json:"axes,omitempty"`
	ChunkSizes []int     `json:"chunk_sizes,omitempty"`
	Fn         string    `json:"fn,omitempty"`
	BudgetMs   int       `json:"budget_ms,omitempty"`
	FailFast   bool      `json:"fail_fast,omitempty"`
}
