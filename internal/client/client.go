// Package client provides a client for connecting to a cube-store server.
//
// The protocol is request/response on a single connection, so the client
// is synchronous: one request at a time, serialized by a mutex. ITER
// responses stream multiple frames; the stream is consumed inside the same
// critical section so frames never interleave with other requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TobiasJacob/cube-store/internal/cube"
	cserrors "github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/wire"
)

var (
	ErrClientClosed = errors.New("client is closed")
	ErrNotConnected = errors.New("not connected")
)

// Config holds client configuration.
type Config struct {
	Addr           string
	APIKey         string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxHeaderSize  int
	MaxPayloadSize int64
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           "localhost:9410",
		ConnectTimeout: 30 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxHeaderSize:  4 * 1024 * 1024,
		MaxPayloadSize: 256 * 1024 * 1024,
	}
}

// Client connects to a cube-store server.
type Client struct {
	cfg *Config

	mu        sync.Mutex
	conn      net.Conn
	wire      *wire.Conn
	sessionID string
	closed    bool

	requestID atomic.Uint64
}

// New creates a client. Call Connect before issuing requests.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{cfg: cfg}
}

// Connect dials the server and authenticates.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}
	w := wire.NewConn(conn, c.cfg.MaxHeaderSize, c.cfg.MaxPayloadSize)

	resp, err := c.exchange(conn, w, &wire.Message{Header: &wire.Header{
		ID:      c.requestID.Add(1),
		Command: wire.CmdAuth,
		Key:     c.cfg.APIKey,
	}})
	if err != nil {
		conn.Close()
		return err
	}
	if resp.Header.Status == wire.StatusError {
		conn.Close()
		return responseError(resp.Header)
	}

	c.conn = conn
	c.wire = w
	c.sessionID = resp.Header.Session
	return nil
}

// SessionID returns the server-assigned session ID.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Close closes the connection permanently.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.wire = nil
	return err
}

// exchange writes one request and reads one response on the given conn,
// applying the request timeout. Only transport failures are returned as
// errors; error frames come back as the response.
func (c *Client) exchange(conn net.Conn, w *wire.Conn, req *wire.Message) (*wire.Message, error) {
	if c.cfg.RequestTimeout > 0 {
		conn.SetDeadline(time.Now().Add(c.cfg.RequestTimeout))
		defer conn.SetDeadline(time.Time{})
	}
	if err := w.Write(req); err != nil {
		return nil, err
	}
	return w.Read()
}

// do runs one request/response cycle under the client lock. A transport
// failure closes the connection; a server error frame becomes a typed
// error and the connection stays usable.
func (c *Client) do(req *wire.Message) (*wire.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	req.Header.ID = c.requestID.Add(1)
	resp, err := c.exchange(c.conn, c.wire, req)
	if err != nil {
		c.conn.Close()
		c.conn = nil
		c.wire = nil
		return nil, err
	}
	if resp.Header.Status == wire.StatusError {
		return nil, responseError(resp.Header)
	}
	return resp, nil
}

// responseError converts an error frame into a typed error: the sentinel
// for the wire code, wrapped with the server's message.
func responseError(hdr *wire.Header) error {
	return fmt.Errorf("%s: %w", hdr.Error, cserrors.CodeToError(hdr.Code))
}

// =============================================================================
// Commands
// =============================================================================

// Ping checks connectivity.
func (c *Client) Ping() error {
	_, err := c.do(&wire.Message{Header: &wire.Header{Command: wire.CmdPing}})
	return err
}

// Create registers a new cube.
func (c *Client) Create(info *wire.CubeInfo) (*wire.CubeInfo, error) {
	resp, err := c.do(&wire.Message{Header: &wire.Header{Command: wire.CmdCreate, Meta: info}})
	if err != nil {
		return nil, err
	}
	return firstCube(resp), nil
}

// Delete removes a cube.
func (c *Client) Delete(name string) error {
	_, err := c.do(&wire.Message{Header: &wire.Header{Command: wire.CmdDelete, Cube: name}})
	return err
}

// List returns the metadata of every cube, sorted by name.
func (c *Client) List() ([]wire.CubeInfo, error) {
	resp, err := c.do(&wire.Message{Header: &wire.Header{Command: wire.CmdList}})
	if err != nil {
		return nil, err
	}
	return resp.Header.Cubes, nil
}

// Info returns one cube's metadata.
func (c *Client) Info(name string) (*wire.CubeInfo, error) {
	resp, err := c.do(&wire.Message{Header: &wire.Header{Command: wire.CmdInfo, Cube: name}})
	if err != nil {
		return nil, err
	}
	return firstCube(resp), nil
}

// Get reads a selection. A nil selection reads the whole cube.
func (c *Client) Get(name string, sel []wire.IndexItem) (*cube.Buffer, error) {
	resp, err := c.do(&wire.Message{Header: &wire.Header{
		Command: wire.CmdGet,
		Cube:    name,
		Select:  sel,
	}})
	if err != nil {
		return nil, err
	}
	return resp.DecodePayload()
}

// Set writes a buffer into a selection. A nil selection writes the whole
// cube.
func (c *Client) Set(name string, sel []wire.IndexItem, buf *cube.Buffer) error {
	info, payload := wire.EncodeBuffer(buf)
	_, err := c.do(&wire.Message{
		Header: &wire.Header{
			Command: wire.CmdSet,
			Cube:    name,
			Select:  sel,
			Buffer:  info,
		},
		Payload: payload,
	})
	return err
}

// Append extends a cube along an axis and returns the updated metadata.
func (c *Client) Append(name string, axis *wire.AxisRef, buf *cube.Buffer) (*wire.CubeInfo, error) {
	info, payload := wire.EncodeBuffer(buf)
	resp, err := c.do(&wire.Message{
		Header: &wire.Header{
			Command: wire.CmdAppend,
			Cube:    name,
			Axis:    axis,
			Buffer:  info,
		},
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}
	return firstCube(resp), nil
}

// Slice materializes a selection. When target is non-empty the result is
// stored server-side as a new cube and its metadata is returned; the
// buffer is nil in that case.
func (c *Client) Slice(name string, sel []wire.IndexItem, target string) (*cube.Buffer, *wire.CubeInfo, error) {
	hdr := &wire.Header{Command: wire.CmdSlice, Cube: name, Select: sel}
	if target != "" {
		hdr.Meta = &wire.CubeInfo{Name: target}
	}
	resp, err := c.do(&wire.Message{Header: hdr})
	if err != nil {
		return nil, nil, err
	}
	if target != "" {
		return nil, firstCube(resp), nil
	}
	buf, err := resp.DecodePayload()
	return buf, nil, err
}

// ComputeResult is a COMPUTE outcome: a stored cube or an inline buffer.
type ComputeResult struct {
	Cube   *wire.CubeInfo
	Buffer *cube.Buffer
	Scalar *float64
}

// Compute runs a server-side operation.
func (c *Client) Compute(op string, operands []wire.Operand, kwargs map[string]any) (*ComputeResult, error) {
	resp, err := c.do(&wire.Message{Header: &wire.Header{
		Command:  wire.CmdCompute,
		Op:       op,
		Operands: operands,
		Kwargs:   kwargs,
	}})
	if err != nil {
		return nil, err
	}
	res := &ComputeResult{Cube: firstCube(resp), Scalar: resp.Header.Scalar}
	if resp.Header.Buffer != nil {
		res.Buffer, err = resp.DecodePayload()
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// IterBlock is one streamed ITER block.
type IterBlock struct {
	Coords []int
	Labels []string
	Data   *cube.Buffer
	Err    error
}

// Iter streams blocks of a cube, invoking fn per block. Returning an error
// from fn stops consumption but the stream is still drained so the
// connection stays usable.
func (c *Client) Iter(name string, spec *wire.IterSpec, fn func(*IterBlock) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.conn == nil {
		return ErrNotConnected
	}

	req := &wire.Message{Header: &wire.Header{
		ID:      c.requestID.Add(1),
		Command: wire.CmdIter,
		Cube:    name,
		Iter:    spec,
	}}
	if err := c.wire.Write(req); err != nil {
		return err
	}

	var fnErr error
	for {
		frame, err := c.wire.Read()
		if err != nil {
			c.conn.Close()
			c.conn = nil
			c.wire = nil
			return err
		}
		if !frame.Header.More {
			if frame.Header.Status == wire.StatusError {
				return responseError(frame.Header)
			}
			return fnErr
		}
		if fnErr != nil {
			continue // draining
		}

		block := &IterBlock{Coords: frame.Header.Coords, Labels: frame.Header.Labels}
		if frame.Header.Status == wire.StatusError {
			block.Err = responseError(frame.Header)
		} else if block.Data, fnErr = frame.DecodePayload(); fnErr != nil {
			continue
		}
		fnErr = fn(block)
	}
}

// Stats returns server statistics.
func (c *Client) Stats() (map[string]any, error) {
	resp, err := c.do(&wire.Message{Header: &wire.Header{Command: wire.CmdStats}})
	if err != nil {
		return nil, err
	}
	return resp.Header.Stats, nil
}

func firstCube(resp *wire.Message) *wire.CubeInfo {
	if len(resp.Header.Cubes) == 0 {
		return nil
	}
	return &resp.Header.Cubes[0]
}
