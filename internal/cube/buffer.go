package cube

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/TobiasJacob/cube-store/internal/errors"
)

// Buffer is a flat, row-major, typed value buffer with a logical shape.
// It is the unit of data exchange between the engines, the operation
// executor, and the wire protocol. Element bytes are little-endian, the
// same layout used for chunk files and bulk payloads.
type Buffer struct {
	dtype DType
	shape []int
	data  []byte
}

// NewBuffer allocates a zero-filled buffer.
func NewBuffer(dtype DType, shape []int) *Buffer {
	return &Buffer{
		dtype: dtype,
		shape: CloneInts(shape),
		data:  make([]byte, ElemCount(shape)*dtype.Size()),
	}
}

// NewBufferBytes wraps raw little-endian bytes. The byte length must match
// the shape and dtype exactly.
func NewBufferBytes(dtype DType, shape []int, data []byte) (*Buffer, error) {
	want := ElemCount(shape) * dtype.Size()
	if len(data) != want {
		return nil, errors.Wrapf(errors.ErrShapeMismatch,
			"payload is %d bytes, shape %v dtype %s needs %d", len(data), shape, dtype, want)
	}
	return &Buffer{dtype: dtype, shape: CloneInts(shape), data: data}, nil
}

// NewScalar returns a 0-dimensional buffer holding one value.
func NewScalar(dtype DType, v float64) *Buffer {
	b := NewBuffer(dtype, nil)
	b.SetAt(0, v)
	return b
}

// FromFloats builds a buffer of the given dtype from float64 values.
func FromFloats(dtype DType, shape []int, vals []float64) (*Buffer, error) {
	if len(vals) != ElemCount(shape) {
		return nil, errors.Wrapf(errors.ErrShapeMismatch,
			"%d values for shape %v", len(vals), shape)
	}
	b := NewBuffer(dtype, shape)
	for i, v := range vals {
		b.SetAt(i, v)
	}
	return b, nil
}

// DType returns the element type.
func (b *Buffer) DType() DType { return b.dtype }

// Shape returns the logical shape. Callers must not mutate it.
func (b *Buffer) Shape() []int { return b.shape }

// NDim returns the number of dimensions.
func (b *Buffer) NDim() int { return len(b.shape) }

// Len returns the number of elements.
func (b *Buffer) Len() int { return ElemCount(b.shape) }

// Bytes returns the underlying little-endian byte slice.
func (b *Buffer) Bytes() []byte { return b.data }

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return &Buffer{dtype: b.dtype, shape: CloneInts(b.shape), data: data}
}

// At returns element i as a float64. Integer values round-trip exactly up
// to 2^53; the engine's compute paths work in float64 throughout.
func (b *Buffer) At(i int) float64 {
	off := i * b.dtype.Size()
	switch b.dtype {
	case Bool:
		if b.data[off] != 0 {
			return 1
		}
		return 0
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b.data[off:])))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(b.data[off:])))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b.data[off:]))
	case Uint64:
		return float64(binary.LittleEndian.Uint64(b.data[off:]))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b.data[off:])))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b.data[off:]))
	default:
		return 0
	}
}

// SetAt stores a float64 as element i, truncating to the buffer's dtype.
func (b *Buffer) SetAt(i int, v float64) {
	off := i * b.dtype.Size()
	switch b.dtype {
	case Bool:
		if v != 0 {
			b.data[off] = 1
		} else {
			b.data[off] = 0
		}
	case Int32:
		binary.LittleEndian.PutUint32(b.data[off:], uint32(int32(v)))
	case Int64:
		binary.LittleEndian.PutUint64(b.data[off:], uint64(int64(v)))
	case Uint32:
		binary.LittleEndian.PutUint32(b.data[off:], uint32(v))
	case Uint64:
		binary.LittleEndian.PutUint64(b.data[off:], uint64(v))
	case Float32:
		binary.LittleEndian.PutUint32(b.data[off:], math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b.data[off:], math.Float64bits(v))
	}
}

// Fill sets every element to v.
func (b *Buffer) Fill(v float64) {
	if v == 0 {
		for i := range b.data {
			b.data[i] = 0
		}
		return
	}
	n := b.Len()
	for i := 0; i < n; i++ {
		b.SetAt(i, v)
	}
}

// Floats returns all elements as float64 values.
func (b *Buffer) Floats() []float64 {
	out := make([]float64, b.Len())
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// Reshape changes the logical shape in place. The element count must be
// preserved.
func (b *Buffer) Reshape(shape []int) error {
	if ElemCount(shape) != b.Len() {
		return errors.NewShapeMismatch(b.shape, shape)
	}
	b.shape = CloneInts(shape)
	return nil
}

// Convert returns a copy of the buffer with a different dtype. Values are
// converted through float64.
func (b *Buffer) Convert(dtype DType) *Buffer {
	if dtype == b.dtype {
		return b.Clone()
	}
	out := NewBuffer(dtype, b.shape)
	n := b.Len()
	for i := 0; i < n; i++ {
		out.SetAt(i, b.At(i))
	}
	return out
}

// Equal reports whether two buffers have identical dtype, shape, and bytes.
func (b *Buffer) Equal(other *Buffer) bool {
	if b.dtype != other.dtype || !SameShape(b.shape, other.shape) {
		return false
	}
	if len(b.data) != len(other.data) {
		return false
	}
	for i := range b.data {
		if b.data[i] != other.data[i] {
			return false
		}
	}
	return true
}

// String returns a short description for logging.
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(%s, shape=%v)", b.dtype, b.shape)
}
