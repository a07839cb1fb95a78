package handler

import (
	"context"
	"time"

	"github.com/TobiasJacob/cube-store/internal/catalog"
	"github.com/TobiasJacob/cube-store/internal/compute"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/expr"
	"github.com/TobiasJacob/cube-store/internal/iter"
	"github.com/TobiasJacob/cube-store/internal/metastore"
	"github.com/TobiasJacob/cube-store/internal/wire"
)

// Handler dispatches protocol commands onto the catalog, the operation
// executor, and the chunk iterator. One Handler serves all sessions.
type Handler struct {
	cat      *catalog.Catalog
	exec     *compute.Executor
	meta     *metastore.Store
	sessions *SessionManager
	budget   time.Duration
	started  time.Time
}

// New creates a handler. meta may be nil to disable the operation log;
// budget is the default sandbox time budget for ITER functions.
func New(cat *catalog.Catalog, exec *compute.Executor, meta *metastore.Store, sessions *SessionManager, budget time.Duration) *Handler {
	return &Handler{
		cat:      cat,
		exec:     exec,
		meta:     meta,
		sessions: sessions,
		budget:   budget,
		started:  time.Now(),
	}
}

// Handle processes one request frame and writes the response(s) to the
// session. Errors are converted to error frames; nothing is returned to
// the caller because the connection read loop has no use for them.
func (h *Handler) Handle(ctx context.Context, sess *Session, msg *wire.Message) {
	start := time.Now()
	hdr := msg.Header

	resp, err := h.dispatch(ctx, sess, msg)

	status := wire.StatusOK
	errMsg := ""
	if err != nil {
		status = wire.StatusError
		errMsg = err.Error()
		resp = wire.NewErrorFromErr(hdr.ID, err)
	}
	h.record(sess, hdr, status, errMsg, start, int64(len(msg.Payload)))

	if resp == nil {
		// Stream commands write their own frames.
		return
	}
	w := sess.Wire()
	if w == nil {
		return
	}
	if werr := w.Write(resp); werr != nil {
		log.Debug("response write failed", "session_id", sess.ID, "error", werr)
		sess.Close()
	}
}

func (h *Handler) dispatch(ctx context.Context, sess *Session, msg *wire.Message) (*wire.Message, error) {
	hdr := msg.Header
	switch hdr.Command {
	case wire.CmdPing:
		return wire.NewOK(hdr.ID), nil
	case wire.CmdCreate:
		return h.handleCreate(hdr)
	case wire.CmdDelete:
		return h.handleDelete(hdr)
	case wire.CmdList:
		return h.handleList(hdr)
	case wire.CmdInfo:
		return h.handleInfo(hdr)
	case wire.CmdGet:
		return h.handleGet(hdr)
	case wire.CmdSet:
		return h.handleSet(msg)
	case wire.CmdAppend:
		return h.handleAppend(msg)
	case wire.CmdSlice:
		return h.handleSlice(hdr)
	case wire.CmdCompute:
		return h.handleCompute(ctx, hdr)
	case wire.CmdIter:
		return h.handleIter(ctx, sess, hdr)
	case wire.CmdStats:
		return h.handleStats(ctx, hdr)
	case wire.CmdAuth:
		return nil, errors.Wrap(errors.ErrInvalidRequest, "already authenticated")
	}
	return nil, errors.Wrapf(errors.ErrUnknownCommand, "command %q", hdr.Command)
}

// record logs the operation to the metastore, if one is configured.
func (h *Handler) record(sess *Session, hdr *wire.Header, status, errMsg string, start time.Time, payloadBytes int64) {
	if h.meta == nil {
		return
	}
	err := h.meta.Record(&metastore.Op{
		Session:      sess.ID,
		Command:      hdr.Command,
		Cube:         hdr.Cube,
		Status:       status,
		Error:        errMsg,
		DurationMs:   time.Since(start).Milliseconds(),
		PayloadBytes: payloadBytes,
	})
	if err != nil {
		log.Warn("operation log write failed", "error", err)
	}
}

// =============================================================================
// Catalog commands
// =============================================================================

func (h *Handler) handleCreate(hdr *wire.Header) (*wire.Message, error) {
	if hdr.Meta == nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "CREATE requires cube metadata")
	}
	meta, err := hdr.Meta.ToMeta()
	if err != nil {
		return nil, err
	}
	entry, err := h.cat.Create(meta)
	if err != nil {
		return nil, err
	}
	resp := wire.NewOK(hdr.ID)
	resp.Header.Cube = entry.Name
	resp.Header.Cubes = []wire.CubeInfo{*wire.InfoFromMeta(entry.Cube().Meta())}
	return resp, nil
}

func (h *Handler) handleDelete(hdr *wire.Header) (*wire.Message, error) {
	if err := h.cat.Delete(hdr.Cube); err != nil {
		return nil, err
	}
	return wire.NewOK(hdr.ID), nil
}

func (h *Handler) handleList(hdr *wire.Header) (*wire.Message, error) {
	names := h.cat.List()
	infos := make([]wire.CubeInfo, 0, len(names))
	for _, name := range names {
		entry, err := h.cat.Get(name)
		if err != nil {
			// Deleted between List and Get; skip.
			continue
		}
		infos = append(infos, *wire.InfoFromMeta(entry.Cube().Meta()))
	}
	resp := wire.NewOK(hdr.ID)
	resp.Header.Cubes = infos
	return resp, nil
}

func (h *Handler) handleInfo(hdr *wire.Header) (*wire.Message, error) {
	entry, err := h.cat.Get(hdr.Cube)
	if err != nil {
		return nil, err
	}
	resp := wire.NewOK(hdr.ID)
	resp.Header.Cube = entry.Name
	resp.Header.Cubes = []wire.CubeInfo{*wire.InfoFromMeta(entry.Cube().Meta())}
	return resp, nil
}

// =============================================================================
// Data commands
// =============================================================================

// resolveSelection turns the request's index expression into a concrete
// selection. An absent expression selects everything.
func resolveSelection(c catalog.Cube, items []wire.IndexItem) (cube.Selection, error) {
	if items == nil {
		return cube.FullSelection(c.Shape()), nil
	}
	raw, err := wire.SelectionItems(items)
	if err != nil {
		return nil, err
	}
	return c.Dims().Resolve(raw)
}

func (h *Handler) handleGet(hdr *wire.Header) (*wire.Message, error) {
	entry, err := h.cat.Get(hdr.Cube)
	if err != nil {
		return nil, err
	}
	sel, err := resolveSelection(entry.Cube(), hdr.Select)
	if err != nil {
		return nil, err
	}
	buf, err := entry.Cube().Read(sel)
	if err != nil {
		return nil, err
	}
	return bufferResponse(hdr.ID, buf), nil
}

func (h *Handler) handleSet(msg *wire.Message) (*wire.Message, error) {
	hdr := msg.Header
	entry, err := h.cat.Get(hdr.Cube)
	if err != nil {
		return nil, err
	}
	sel, err := resolveSelection(entry.Cube(), hdr.Select)
	if err != nil {
		return nil, err
	}
	buf, err := msg.DecodePayload()
	if err != nil {
		return nil, err
	}
	if err := entry.Cube().Write(sel, buf); err != nil {
		return nil, err
	}
	return wire.NewOK(hdr.ID), nil
}

func (h *Handler) handleAppend(msg *wire.Message) (*wire.Message, error) {
	hdr := msg.Header
	entry, err := h.cat.Get(hdr.Cube)
	if err != nil {
		return nil, err
	}
	axis := 0
	if hdr.Axis != nil {
		axis, err = entry.Cube().Dims().Axis(hdr.Axis.Ref())
		if err != nil {
			return nil, err
		}
	}
	buf, err := msg.DecodePayload()
	if err != nil {
		return nil, err
	}
	if err := entry.Cube().Append(axis, buf); err != nil {
		return nil, err
	}
	resp := wire.NewOK(hdr.ID)
	resp.Header.Cubes = []wire.CubeInfo{*wire.InfoFromMeta(entry.Cube().Meta())}
	return resp, nil
}

// handleSlice reads a selection and either returns it materialized or, when
// the request names a target cube, stores it as a new catalog entry with
// the surviving dimension names and labels carried over.
func (h *Handler) handleSlice(hdr *wire.Header) (*wire.Message, error) {
	entry, err := h.cat.Get(hdr.Cube)
	if err != nil {
		return nil, err
	}
	src := entry.Cube()
	sel, err := resolveSelection(src, hdr.Select)
	if err != nil {
		return nil, err
	}
	buf, err := src.Read(sel)
	if err != nil {
		return nil, err
	}

	if hdr.Meta == nil || hdr.Meta.Name == "" {
		return bufferResponse(hdr.ID, buf), nil
	}

	meta := sliceMeta(src.Meta(), sel, hdr.Meta.Name)
	out, err := h.cat.Create(meta)
	if err != nil {
		return nil, err
	}
	if err := out.Cube().Write(cube.FullSelection(meta.Shape), buf); err != nil {
		h.cat.Delete(meta.Name)
		return nil, err
	}
	resp := wire.NewOK(hdr.ID)
	resp.Header.Cube = meta.Name
	resp.Header.Cubes = []wire.CubeInfo{*wire.InfoFromMeta(out.Cube().Meta())}
	return resp, nil
}

// sliceMeta builds the metadata record of a slice result: kept axes carry
// their dimension name and the subset of coordinate labels the selection
// picked.
func sliceMeta(src *cube.Meta, sel cube.Selection, name string) *cube.Meta {
	meta := &cube.Meta{
		Name:      name,
		Shape:     sel.ResultShape(),
		DType:     src.DType,
		FillValue: src.FillValue,
	}

	var names []string
	var labels [][]string
	hasLabels := false
	for d, ax := range sel {
		if !ax.Keeps() {
			continue
		}
		if src.DimNames != nil {
			names = append(names, src.DimNames[d])
		}
		var axLabels []string
		if src.CoordLabels != nil && d < len(src.CoordLabels) && src.CoordLabels[d] != nil {
			axLabels = make([]string, ax.Count())
			for k := range axLabels {
				axLabels[k] = src.CoordLabels[d][ax.Position(k)]
			}
			hasLabels = true
		}
		labels = append(labels, axLabels)
	}
	if names != nil {
		meta.DimNames = names
	}
	if hasLabels {
		meta.CoordLabels = labels
	}
	return meta
}

// bufferResponse packs a buffer into a payload frame. Scalar results also
// ride in the header for clients that never touch payloads.
func bufferResponse(id uint64, buf *cube.Buffer) *wire.Message {
	info, payload := wire.EncodeBuffer(buf)
	resp := wire.NewOK(id)
	resp.Header.Buffer = info
	resp.Payload = payload
	if buf.NDim() == 0 {
		v := buf.At(0)
		resp.Header.Scalar = &v
	}
	return resp
}

// =============================================================================
// Compute
// =============================================================================

func (h *Handler) handleCompute(ctx context.Context, hdr *wire.Header) (*wire.Message, error) {
	if hdr.Op == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "COMPUTE requires an op")
	}
	res, err := h.exec.Execute(ctx, compute.Request{
		Op:       hdr.Op,
		Operands: wire.ToCompute(hdr.Operands),
		Kwargs:   compute.Kwargs(hdr.Kwargs),
	})
	if err != nil {
		return nil, err
	}

	if res.Buffer != nil {
		return bufferResponse(hdr.ID, res.Buffer), nil
	}
	entry, err := h.cat.Get(res.Cube)
	if err != nil {
		return nil, err
	}
	resp := wire.NewOK(hdr.ID)
	resp.Header.Cube = res.Cube
	resp.Header.Cubes = []wire.CubeInfo{*wire.InfoFromMeta(entry.Cube().Meta())}
	return resp, nil
}

// =============================================================================
// Iteration
// =============================================================================

// handleIter streams one frame per yielded block, then a terminal frame
// with More unset. Per-block sandbox failures become error frames in the
// stream; in fail-fast mode the stream ends with the error instead.
func (h *Handler) handleIter(ctx context.Context, sess *Session, hdr *wire.Header) (*wire.Message, error) {
	entry, err := h.cat.Get(hdr.Cube)
	if err != nil {
		return nil, err
	}
	spec := hdr.Iter
	if spec == nil {
		spec = &wire.IterSpec{}
	}

	opts := iter.Options{
		ChunkSizes: spec.ChunkSizes,
		FailFast:   spec.FailFast,
	}
	for _, ref := range spec.Axes {
		ax, err := entry.Cube().Dims().Axis(ref.Ref())
		if err != nil {
			return nil, err
		}
		opts.Axes = append(opts.Axes, ax)
	}
	if spec.Fn != "" {
		prog, err := expr.Compile(spec.Fn)
		if err != nil {
			return nil, err
		}
		opts.Fn = prog
		opts.FnBudget = h.budget
		if spec.BudgetMs > 0 {
			opts.FnBudget = time.Duration(spec.BudgetMs) * time.Millisecond
		}
	}

	it, err := iter.New(entry.Cube(), opts)
	if err != nil {
		return nil, err
	}

	w := sess.Wire()
	if w == nil {
		return nil, errors.ErrClosed
	}
	for {
		item, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return wire.NewOK(hdr.ID), nil
		}

		var frame *wire.Message
		if item.Err != nil {
			frame = wire.NewErrorFromErr(hdr.ID, item.Err)
		} else {
			frame = bufferResponse(hdr.ID, item.Data)
		}
		frame.Header.Coords = item.Coords
		frame.Header.Labels = item.Labels
		frame.Header.More = true
		if err := w.Write(frame); err != nil {
			sess.Close()
			return nil, errors.ErrClosed
		}
	}
}

// =============================================================================
// Stats
// =============================================================================

func (h *Handler) handleStats(ctx context.Context, hdr *wire.Header) (*wire.Message, error) {
	used, capacity, hits, misses := h.cat.CacheStats()
	stats := map[string]any{
		"cubes":          h.cat.Len(),
		"sessions":       h.sessions.Count(),
		"uptime_sec":     int64(time.Since(h.started).Seconds()),
		"cache_used":     used,
		"cache_capacity": capacity,
		"cache_hits":     hits,
		"cache_misses":   misses,
	}

	if h.meta != nil {
		if counts, err := h.meta.CommandCounts(ctx); err == nil {
			byCmd := make(map[string]any, len(counts))
			for cmd, n := range counts {
				byCmd[cmd] = n
			}
			stats["ops"] = byCmd
		}
		if n, err := h.meta.ErrorCount(ctx); err == nil {
			stats["op_errors"] = n
		}
	}

	resp := wire.NewOK(hdr.ID)
	resp.Header.Stats = stats
	return resp, nil
}
