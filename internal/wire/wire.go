// Package wire provides message framing for the cube-store protocol.
//
// A frame is a 4-byte little-endian header length, a JSON header, an
// 8-byte little-endian payload length, and the raw payload bytes. Headers
// carry commands and metadata; payloads carry bulk element data whose
// layout the header's buffer field describes. Splitting the two keeps
// chunk transfers free of per-element encoding cost.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/TobiasJacob/cube-store/internal/errors"
)

// Reader reads frames from an io.Reader. It is safe for concurrent use.
type Reader struct {
	r          *bufio.Reader
	mu         sync.Mutex
	maxHeader  int
	maxPayload int64
}

// NewReader creates a Reader enforcing the given frame limits.
func NewReader(r io.Reader, maxHeader int, maxPayload int64) *Reader {
	return &Reader{
		r:          bufio.NewReader(r),
		maxHeader:  maxHeader,
		maxPayload: maxPayload,
	}
}

// Read reads and decodes the next frame. A clean disconnect before the
// first byte surfaces as io.EOF.
func (r *Reader) Read() (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lenBuf [8]byte
	if _, err := io.ReadFull(r.r, lenBuf[:4]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read header length: %w", err)
	}
	headerLen := int(binary.LittleEndian.Uint32(lenBuf[:4]))
	if headerLen <= 0 || headerLen > r.maxHeader {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "header length %d exceeds limit %d", headerLen, r.maxHeader)
	}

	headerBuf := make([]byte, headerLen)
	if _, err := io.ReadFull(r.r, headerBuf); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header := &Header{}
	if err := json.Unmarshal(headerBuf, header); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "decode header: %v", err)
	}

	if _, err := io.ReadFull(r.r, lenBuf[:8]); err != nil {
		return nil, fmt.Errorf("read payload length: %w", err)
	}
	payloadLen := int64(binary.LittleEndian.Uint64(lenBuf[:8]))
	if payloadLen < 0 || payloadLen > r.maxPayload {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "payload length %d exceeds limit %d", payloadLen, r.maxPayload)
	}

	msg := &Message{Header: header}
	if payloadLen > 0 {
		msg.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r.r, msg.Payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return msg, nil
}

// Writer writes frames to an io.Writer. It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes and writes one frame. The whole frame is assembled first
// and written with a single call so concurrent writers never interleave.
func (w *Writer) Write(msg *Message) error {
	headerBuf, err := json.Marshal(msg.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	frame := make([]byte, 0, 4+len(headerBuf)+8+len(msg.Payload))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(headerBuf)))
	frame = append(frame, headerBuf...)
	frame = binary.LittleEndian.AppendUint64(frame, uint64(len(msg.Payload)))
	frame = append(frame, msg.Payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Conn combines Reader and Writer for bidirectional communication.
type Conn struct {
	*Reader
	*Writer
}

// NewConn creates a Conn from an io.ReadWriter (e.g., net.Conn).
func NewConn(rw io.ReadWriter, maxHeader int, maxPayload int64) *Conn {
	return &Conn{
		Reader: NewReader(rw, maxHeader, maxPayload),
		Writer: NewWriter(rw),
	}
}

// =============================================================================
// Response helpers
// =============================================================================

// NewOK creates a bare success response for the given request ID.
func NewOK(id uint64) *Message {
	return &Message{Header: &Header{ID: id, Status: StatusOK}}
}

// NewError creates an error response with the given code and message.
// Error codes should be from the errors package (errors.Code*).
func NewError(id uint64, code int32, msg string) *Message {
	return &Message{Header: &Header{
		ID:     id,
		Status: StatusError,
		Code:   code,
		Error:  msg,
	}}
}

// NewErrorFromErr creates an error response from a Go error, mapping it to
// its wire code via errors.ErrorToCode.
func NewErrorFromErr(id uint64, err error) *Message {
	return NewError(id, errors.ErrorToCode(err), err.Error())
}

// NewErrorf creates an error response with a formatted message.
func NewErrorf(id uint64, code int32, format string, args ...interface{}) *Message {
	return NewError(id, code, fmt.Sprintf(format, args...))
}
