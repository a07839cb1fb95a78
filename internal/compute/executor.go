package compute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/TobiasJacob/cube-store/internal/catalog"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/logging"
)

// Operand names a stored cube or carries a literal scalar.
type Operand struct {
	Cube   string
	Scalar *float64
}

// Request is one COMPUTE invocation.
type Request struct {
	Op       string
	Operands []Operand
	Kwargs   Kwargs
}

// Result is either a handle to a newly created cube or an inline value.
// Exactly one of Cube and Buffer is set; scalar results come back as a
// 0-dimensional buffer.
type Result struct {
	Cube   string
	Buffer *cube.Buffer
}

// Executor evaluates operations against catalog cubes. Dense operands are
// processed chunk-by-chunk where the operation permits, with chunk work
// fanned out across a bounded worker group.
type Executor struct {
	cat      *catalog.Catalog
	workers  int
	accuracy float64
	seq      atomic.Uint64
	log      *slog.Logger
}

// NewExecutor builds an executor. workers bounds per-request chunk
// parallelism; accuracy is the relative accuracy of quantile sketches.
func NewExecutor(cat *catalog.Catalog, workers int, accuracy float64) *Executor {
	if workers < 1 {
		workers = 1
	}
	if accuracy <= 0 {
		accuracy = 0.01
	}
	return &Executor{
		cat:      cat,
		workers:  workers,
		accuracy: accuracy,
		log:      logging.Component("compute"),
	}
}

// operand is a resolved operand: a catalog entry or a literal buffer.
type operand struct {
	entry *catalog.Entry
	buf   *cube.Buffer
}

func (o operand) shape() []int {
	if o.entry != nil {
		return o.entry.Cube().Shape()
	}
	return o.buf.Shape()
}

func (o operand) dtype() cube.DType {
	if o.entry != nil {
		return o.entry.Cube().DType()
	}
	return o.buf.DType()
}

// materialize reads the operand's full content.
func (o operand) materialize() (*cube.Buffer, error) {
	if o.entry != nil {
		return o.entry.Cube().Read(cube.FullSelection(o.entry.Cube().Shape()))
	}
	return o.buf, nil
}

func (x *Executor) resolve(ops []Operand) ([]operand, error) {
	out := make([]operand, len(ops))
	for i, op := range ops {
		switch {
		case op.Cube != "":
			entry, err := x.cat.Get(op.Cube)
			if err != nil {
				return nil, err
			}
			out[i] = operand{entry: entry}
		case op.Scalar != nil:
			out[i] = operand{buf: cube.NewScalar(cube.Float64, *op.Scalar)}
		default:
			return nil, errors.Wrap(errors.ErrInvalidRequest, "operand names no cube and carries no scalar")
		}
	}
	return out, nil
}

// resultName picks the output cube name: the "out" kwarg if present,
// otherwise a generated handle.
func (x *Executor) resultName(op string, kwargs Kwargs) string {
	if name, ok := kwargs.String("out"); ok && name != "" {
		return name
	}
	return fmt.Sprintf("_%s_%d", op, x.seq.Add(1))
}

// axisArg resolves an "axis" kwarg, which may be a position or a dimension
// name, against the first operand. Returns nil when absent.
func axisArg(kwargs Kwargs, op operand) (*int, error) {
	v, ok := kwargs["axis"]
	if !ok || v == nil {
		return nil, nil
	}
	if op.entry != nil {
		ax, err := op.entry.Cube().Dims().Axis(v)
		if err != nil {
			return nil, err
		}
		return &ax, nil
	}
	switch n := v.(type) {
	case float64:
		ax := int(n)
		return &ax, nil
	case int:
		ax := n
		return &ax, nil
	}
	return nil, errors.Wrapf(errors.ErrInvalidRequest, "axis argument %v needs a named cube operand", v)
}

// =============================================================================
// Dispatch
// =============================================================================

// Execute runs one operation. Scalar-valued results come back inline;
// array-valued results are stored as a new catalog cube.
func (x *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	ops, err := x.resolve(req.Operands)
	if err != nil {
		return nil, err
	}

	switch {
	case IsUnary(req.Op):
		if len(ops) != 1 {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "%s takes one operand, got %d", req.Op, len(ops))
		}
		return x.execUnary(ctx, req, ops[0])
	case IsBinary(req.Op):
		if len(ops) != 2 {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "%s takes two operands, got %d", req.Op, len(ops))
		}
		return x.execBinary(ctx, req, ops[0], ops[1])
	case IsReduction(req.Op):
		if len(ops) != 1 {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "%s takes one operand, got %d", req.Op, len(ops))
		}
		return x.execReduce(ctx, req, ops[0])
	case IsCumulative(req.Op):
		if len(ops) != 1 {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "%s takes one operand, got %d", req.Op, len(ops))
		}
		return x.execCumulative(ctx, req, ops[0])
	case req.Op == "quantile":
		if len(ops) != 1 {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "quantile takes one operand, got %d", len(ops))
		}
		return x.execQuantile(ctx, req, ops[0])
	}
	return x.execStructural(ctx, req, ops)
}

// finish wraps an in-memory result buffer: 0-dimensional buffers return
// inline, everything else becomes a new cube carrying the given dimension
// metadata.
func (x *Executor) finish(op string, kwargs Kwargs, buf *cube.Buffer, names []string, labels [][]string) (*Result, error) {
	if buf.NDim() == 0 {
		return &Result{Buffer: buf}, nil
	}
	name := x.resultName(op, kwargs)
	entry, err := x.cat.Create(&cube.Meta{
		Name:        name,
		Shape:       buf.Shape(),
		DType:       buf.DType(),
		DimNames:    names,
		CoordLabels: labels,
	})
	if err != nil {
		return nil, err
	}
	if err := entry.Cube().Write(cube.FullSelection(buf.Shape()), buf); err != nil {
		x.cat.Delete(name)
		return nil, err
	}
	return &Result{Cube: name}, nil
}

// dimCarry extracts the dimension metadata of a cube operand, if any.
func dimCarry(op operand) (names []string, labels [][]string) {
	if op.entry == nil {
		return nil, nil
	}
	m := op.entry.Cube().Meta()
	return m.DimNames, m.CoordLabels
}

// =============================================================================
// Unary
// =============================================================================

func (x *Executor) execUnary(ctx context.Context, req Request, op operand) (*Result, error) {
	names, labels := dimCarry(op)

	// A sparse operand whose op maps the fill value to itself stays
	// sparse: only the stored entries are transformed.
	if op.entry != nil && op.entry.IsSparse() &&
		UnaryPreservesFill(req.Op, op.entry.Cube().FillValue(), req.Kwargs) {
		src := op.entry.Sparse
		meta := src.Meta()
		name := x.resultName(req.Op, req.Kwargs)
		out, err := x.cat.Create(&cube.Meta{
			Name:        name,
			Shape:       meta.Shape,
			DType:       meta.DType,
			Sparse:      true,
			DimNames:    names,
			CoordLabels: labels,
			FillValue:   meta.FillValue,
		})
		if err != nil {
			return nil, err
		}
		err = src.Nonzero(func(coord []int, v float64) error {
			scalar := cube.NewScalar(meta.DType, v)
			mapped, uerr := Unary(req.Op, scalar, req.Kwargs)
			if uerr != nil {
				return uerr
			}
			return out.Sparse.Set(coord, mapped.At(0))
		})
		if err != nil {
			x.cat.Delete(name)
			return nil, err
		}
		return &Result{Cube: name}, nil
	}

	// Dense path: probe the result dtype, create the result cube, then
	// transform chunk by chunk.
	if op.entry != nil && !op.entry.IsSparse() {
		probe, err := Unary(req.Op, cube.NewScalar(op.dtype(), 0), req.Kwargs)
		if err != nil {
			return nil, err
		}
		eng := op.entry.Dense
		name := x.resultName(req.Op, req.Kwargs)
		out, err := x.cat.Create(&cube.Meta{
			Name:        name,
			Shape:       eng.Shape(),
			DType:       probe.DType(),
			DimNames:    names,
			CoordLabels: labels,
			ChunkShape:  eng.ChunkShape(),
		})
		if err != nil {
			return nil, err
		}
		err = x.eachChunkSel(ctx, eng.Shape(), eng.ChunkShape(), func(sel cube.Selection, _ []int) error {
			in, rerr := eng.Read(sel)
			if rerr != nil {
				return rerr
			}
			mapped, merr := Unary(req.Op, in, req.Kwargs)
			if merr != nil {
				return merr
			}
			return out.Cube().Write(sel, mapped)
		})
		if err != nil {
			x.cat.Delete(name)
			return nil, err
		}
		return &Result{Cube: name}, nil
	}

	in, err := op.materialize()
	if err != nil {
		return nil, err
	}
	mapped, err := Unary(req.Op, in, req.Kwargs)
	if err != nil {
		return nil, err
	}
	return x.finish(req.Op, req.Kwargs, mapped, names, labels)
}

// =============================================================================
// Binary
// =============================================================================

func (x *Executor) execBinary(ctx context.Context, req Request, a, b operand) (*Result, error) {
	// Sparse-sparse with a fill-closed op and matching shapes stays
	// sparse, computed over the union (intersection for multiply) of
	// populated coordinates.
	if a.entry != nil && b.entry != nil && a.entry.IsSparse() && b.entry.IsSparse() &&
		cube.SameShape(a.shape(), b.shape()) &&
		a.entry.Cube().FillValue() == b.entry.Cube().FillValue() &&
		BinaryClosedUnderFill(req.Op, a.entry.Cube().FillValue()) {
		return x.execBinarySparse(req, a, b)
	}

	outShape, err := cube.BroadcastShapes(a.shape(), b.shape())
	if err != nil {
		return nil, err
	}
	names, labels := dimCarry(a)
	if len(b.shape()) > len(a.shape()) {
		names, labels = dimCarry(b)
	}

	// Chunked path when either operand is a dense cube; the result's
	// chunk grid drives the traversal and operand slices are read per
	// result chunk.
	var chunkShape []int
	if a.entry != nil && !a.entry.IsSparse() && cube.SameShape(a.shape(), outShape) {
		chunkShape = a.entry.Dense.ChunkShape()
	} else if b.entry != nil && !b.entry.IsSparse() && cube.SameShape(b.shape(), outShape) {
		chunkShape = b.entry.Dense.ChunkShape()
	}
	if chunkShape != nil {
		outType := binaryDType(req.Op, a.dtype(), b.dtype())
		name := x.resultName(req.Op, req.Kwargs)
		out, err := x.cat.Create(&cube.Meta{
			Name:        name,
			Shape:       outShape,
			DType:       outType,
			DimNames:    names,
			CoordLabels: labels,
			ChunkShape:  chunkShape,
		})
		if err != nil {
			return nil, err
		}
		err = x.eachChunkSel(ctx, outShape, chunkShape, func(sel cube.Selection, _ []int) error {
			av, rerr := readBroadcastSlice(a, sel, outShape)
			if rerr != nil {
				return rerr
			}
			bv, rerr := readBroadcastSlice(b, sel, outShape)
			if rerr != nil {
				return rerr
			}
			piece, berr := Binary(req.Op, av, bv)
			if berr != nil {
				return berr
			}
			return out.Cube().Write(sel, piece.Convert(outType))
		})
		if err != nil {
			x.cat.Delete(name)
			return nil, err
		}
		return &Result{Cube: name}, nil
	}

	av, err := a.materialize()
	if err != nil {
		return nil, err
	}
	bv, err := b.materialize()
	if err != nil {
		return nil, err
	}
	res, err := Binary(req.Op, av, bv)
	if err != nil {
		return nil, err
	}
	return x.finish(req.Op, req.Kwargs, res, names, labels)
}

func (x *Executor) execBinarySparse(req Request, a, b operand) (*Result, error) {
	sa, sb := a.entry.Sparse, b.entry.Sparse
	fill := sa.FillValue()
	fn := binaryOps[req.Op]
	names, labels := dimCarry(a)

	name := x.resultName(req.Op, req.Kwargs)
	out, err := x.cat.Create(&cube.Meta{
		Name:        name,
		Shape:       sa.Shape(),
		DType:       binaryDType(req.Op, a.dtype(), b.dtype()),
		Sparse:      true,
		DimNames:    names,
		CoordLabels: labels,
		FillValue:   fill,
	})
	if err != nil {
		return nil, err
	}

	intersection := req.Op == "multiply" && fill == 0

	err = sa.Nonzero(func(coord []int, av float64) error {
		bv, gerr := sb.Get(coord)
		if gerr != nil {
			return gerr
		}
		if intersection && bv == fill {
			return nil
		}
		return out.Sparse.Set(coord, fn(av, bv))
	})
	if err == nil && !intersection {
		err = sb.Nonzero(func(coord []int, bv float64) error {
			av, gerr := sa.Get(coord)
			if gerr != nil {
				return gerr
			}
			if av != fill {
				return nil // already handled from the a side
			}
			return out.Sparse.Set(coord, fn(av, bv))
		})
	}
	if err != nil {
		x.cat.Delete(name)
		return nil, err
	}
	return &Result{Cube: name}, nil
}

// readBroadcastSlice reads the part of an operand that broadcasts against
// one result-chunk selection.
func readBroadcastSlice(op operand, outSel cube.Selection, outShape []int) (*cube.Buffer, error) {
	shape := op.shape()
	offset := len(outShape) - len(shape)
	sel := make(cube.Selection, len(shape))
	for d := range shape {
		outAxis := d + offset
		if shape[d] == 1 {
			sel[d] = cube.Range(0, 1)
			continue
		}
		lo, hi := outSel[outAxis].Bounds()
		sel[d] = cube.Range(lo, hi)
	}
	if op.entry != nil {
		return op.entry.Cube().Read(sel)
	}
	if len(shape) == 0 {
		return op.buf.Clone(), nil
	}
	// Literal buffers are small; slice them in memory.
	return operandBufferSlice(op.buf, sel), nil
}

// operandBufferSlice extracts a range selection from an in-memory buffer.
func operandBufferSlice(buf *cube.Buffer, sel cube.Selection) *cube.Buffer {
	box := sel.BoxShape()
	out := cube.NewBuffer(buf.DType(), box)
	coord := make([]int, len(box))
	src := make([]int, len(box))
	for i := 0; i < out.Len(); i++ {
		cube.Unravel(i, box, coord)
		for d := range coord {
			src[d] = sel[d].Position(coord[d])
		}
		out.SetAt(i, buf.At(cube.LinearIndex(src, buf.Shape())))
	}
	return out
}

// =============================================================================
// Reductions
// =============================================================================

func (x *Executor) execReduce(ctx context.Context, req Request, op operand) (*Result, error) {
	axis, err := axisArg(req.Kwargs, op)
	if err != nil {
		return nil, err
	}
	keepdims := req.Kwargs.Bool("keepdims")

	// Chunked fold over a dense cube: per-chunk partial accumulators
	// merge into the result grid with the reduction's combine rule.
	if op.entry != nil && !op.entry.IsSparse() && axis != nil {
		return x.execReduceChunked(ctx, req, op, *axis, keepdims)
	}

	in, err := op.materialize()
	if err != nil {
		return nil, err
	}
	res, err := Reduce(req.Op, in, axis, keepdims)
	if err != nil {
		return nil, err
	}
	names, labels := reducedDimCarry(op, axis, keepdims)
	return x.finish(req.Op, req.Kwargs, res, names, labels)
}

// reducedDimCarry drops the reduced axis from carried dimension metadata.
func reducedDimCarry(op operand, axis *int, keepdims bool) ([]string, [][]string) {
	names, labels := dimCarry(op)
	if axis == nil || names == nil && labels == nil {
		return nil, nil
	}
	ax := *axis
	if ax < 0 {
		ax += len(op.shape())
	}
	var outNames []string
	var outLabels [][]string
	for d := range op.shape() {
		if d == ax && !keepdims {
			continue
		}
		if names != nil {
			outNames = append(outNames, names[d])
		}
		if labels != nil {
			if d == ax {
				outLabels = append(outLabels, nil)
			} else {
				outLabels = append(outLabels, labels[d])
			}
		}
	}
	return outNames, outLabels
}

func (x *Executor) execReduceChunked(ctx context.Context, req Request, op operand, axis int, keepdims bool) (*Result, error) {
	eng := op.entry.Dense
	shape := eng.Shape()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, errors.Wrapf(errors.ErrIndex, "reduction axis out of range for %d dimensions", len(shape))
	}

	mk, err := NewAccum(req.Op)
	if err != nil {
		return nil, err
	}
	outShape := reducedShape(shape, axis, keepdims)
	accs := make([]Accum, cube.ElemCount(outShape))
	for i := range accs {
		accs[i] = mk()
	}

	var mu sync.Mutex
	err = x.eachChunkSel(ctx, shape, eng.ChunkShape(), func(sel cube.Selection, origin []int) error {
		in, rerr := eng.Read(sel)
		if rerr != nil {
			return rerr
		}
		local := make([]Accum, len(accs))
		for i := range local {
			local[i] = mk()
		}
		FoldBuffer(in, origin, axis, local, outShape, keepdims)
		mu.Lock()
		for i := range accs {
			accs[i].Merge(local[i])
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := cube.NewBuffer(ReduceDType(req.Op, eng.DType()), outShape)
	for i, acc := range accs {
		out.SetAt(i, acc.Result())
	}
	ax := axis
	names, labels := reducedDimCarry(op, &ax, keepdims)
	return x.finish(req.Op, req.Kwargs, out, names, labels)
}

// =============================================================================
// Cumulative scans
// =============================================================================

func (x *Executor) execCumulative(ctx context.Context, req Request, op operand) (*Result, error) {
	axis, err := axisArg(req.Kwargs, op)
	if err != nil {
		return nil, err
	}

	// Dense cubes scan slab-by-slab: each slab spans the full scan axis
	// but only one chunk extent on every other axis.
	if op.entry != nil && !op.entry.IsSparse() && axis != nil {
		return x.execCumulativeSlabs(ctx, req, op, *axis)
	}

	in, err := op.materialize()
	if err != nil {
		return nil, err
	}
	res, err := Cumulative(req.Op, in, axis)
	if err != nil {
		return nil, err
	}
	var names []string
	var labels [][]string
	if axis != nil {
		names, labels = dimCarry(op)
	}
	return x.finish(req.Op, req.Kwargs, res, names, labels)
}

func (x *Executor) execCumulativeSlabs(ctx context.Context, req Request, op operand, axis int) (*Result, error) {
	eng := op.entry.Dense
	shape := eng.Shape()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, errors.Wrapf(errors.ErrIndex, "scan axis out of range for %d dimensions", len(shape))
	}

	slabShape := eng.ChunkShape()
	slabShape[axis] = shape[axis]

	outType := eng.DType()
	if outType == cube.Bool {
		outType = cube.Int64
	}
	names, labels := dimCarry(op)
	name := x.resultName(req.Op, req.Kwargs)
	out, err := x.cat.Create(&cube.Meta{
		Name:        name,
		Shape:       shape,
		DType:       outType,
		DimNames:    names,
		CoordLabels: labels,
		ChunkShape:  eng.ChunkShape(),
	})
	if err != nil {
		return nil, err
	}

	ax := axis
	err = x.eachChunkSel(ctx, shape, slabShape, func(sel cube.Selection, _ []int) error {
		in, rerr := eng.Read(sel)
		if rerr != nil {
			return rerr
		}
		scanned, serr := Cumulative(req.Op, in, &ax)
		if serr != nil {
			return serr
		}
		return out.Cube().Write(sel, scanned)
	})
	if err != nil {
		x.cat.Delete(name)
		return nil, err
	}
	return &Result{Cube: name}, nil
}

// =============================================================================
// Quantile
// =============================================================================

func (x *Executor) execQuantile(ctx context.Context, req Request, op operand) (*Result, error) {
	q, ok := req.Kwargs.Float("q")
	if !ok {
		return nil, errors.NewMissingField("q")
	}

	total, err := NewQuantileSketch(x.accuracy)
	if err != nil {
		return nil, err
	}

	if op.entry != nil && !op.entry.IsSparse() {
		eng := op.entry.Dense
		var mu sync.Mutex
		err = x.eachChunkSel(ctx, eng.Shape(), eng.ChunkShape(), func(sel cube.Selection, _ []int) error {
			in, rerr := eng.Read(sel)
			if rerr != nil {
				return rerr
			}
			part, qerr := NewQuantileSketch(x.accuracy)
			if qerr != nil {
				return qerr
			}
			part.AddBuffer(in)
			mu.Lock()
			defer mu.Unlock()
			return total.Merge(part)
		})
	} else {
		var in *cube.Buffer
		in, err = op.materialize()
		if err == nil {
			total.AddBuffer(in)
		}
	}
	if err != nil {
		return nil, err
	}

	v, err := total.Value(q)
	if err != nil {
		return nil, err
	}
	return &Result{Buffer: cube.NewScalar(cube.Float64, v)}, nil
}

// =============================================================================
// Structural dispatch
// =============================================================================

func (x *Executor) execStructural(ctx context.Context, req Request, ops []operand) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrTimeout, err.Error())
	}
	bufs := make([]*cube.Buffer, len(ops))
	for i, op := range ops {
		b, err := op.materialize()
		if err != nil {
			return nil, err
		}
		bufs[i] = b
	}
	need := func(n int) error {
		if len(bufs) != n {
			return errors.Wrapf(errors.ErrInvalidRequest, "%s takes %d operands, got %d", req.Op, n, len(bufs))
		}
		return nil
	}
	needAxis := func() (int, error) {
		ax, err := axisArg(req.Kwargs, ops[0])
		if err != nil {
			return 0, err
		}
		if ax == nil {
			return 0, nil
		}
		return *ax, nil
	}

	var res *cube.Buffer
	var err error
	switch req.Op {
	case "transpose":
		if err = need(1); err == nil {
			res, err = Transpose(bufs[0], intList(req.Kwargs, "axes"))
		}
	case "swapaxes":
		if err = need(1); err == nil {
			a, _ := req.Kwargs.Int("axis1")
			b, _ := req.Kwargs.Int("axis2")
			res, err = SwapAxes(bufs[0], a, b)
		}
	case "reshape":
		if err = need(1); err == nil {
			res, err = Reshape(bufs[0], intList(req.Kwargs, "shape"))
		}
	case "broadcast_to":
		if err = need(1); err == nil {
			res, err = BroadcastTo(bufs[0], intList(req.Kwargs, "shape"))
		}
	case "squeeze":
		if err = need(1); err == nil {
			res, err = Squeeze(bufs[0], intList(req.Kwargs, "axes"))
		}
	case "flip":
		if err = need(1); err == nil {
			var ax int
			ax, err = needAxis()
			if err == nil {
				res, err = Flip(bufs[0], ax)
			}
		}
	case "concatenate":
		var ax int
		ax, err = needAxis()
		if err == nil {
			res, err = Concatenate(bufs, ax)
		}
	case "stack":
		var ax int
		ax, err = needAxis()
		if err == nil {
			res, err = Stack(bufs, ax)
		}
	case "sort":
		if err = need(1); err == nil {
			var ax int
			ax, err = needAxis()
			if err == nil {
				res, err = Sort(bufs[0], ax)
			}
		}
	case "argsort":
		if err = need(1); err == nil {
			var ax int
			ax, err = needAxis()
			if err == nil {
				res, err = Argsort(bufs[0], ax)
			}
		}
	case "unique":
		if err = need(1); err == nil {
			res, err = Unique(bufs[0])
		}
	case "union1d":
		if err = need(2); err == nil {
			res, err = Union1d(bufs[0], bufs[1])
		}
	case "intersect1d":
		if err = need(2); err == nil {
			res, err = Intersect1d(bufs[0], bufs[1])
		}
	case "setdiff1d":
		if err = need(2); err == nil {
			res, err = Setdiff1d(bufs[0], bufs[1])
		}
	case "diff":
		if err = need(1); err == nil {
			var ax int
			ax, err = needAxis()
			if err == nil {
				res, err = Diff(bufs[0], ax)
			}
		}
	case "histogram":
		if err = need(1); err == nil {
			bins, ok := req.Kwargs.Int("bins")
			if !ok {
				bins = 10
			}
			lo, hasLo := req.Kwargs.Float("min")
			hi, hasHi := req.Kwargs.Float("max")
			var counts, edges *cube.Buffer
			counts, edges, err = Histogram(bufs[0], bins, lo, hi, !(hasLo && hasHi))
			if err == nil {
				// Counts come back as the result cube; edges ride along
				// in a companion cube.
				edgeRes, eerr := x.finish(req.Op+"_edges", Kwargs{}, edges, nil, nil)
				if eerr != nil {
					return nil, eerr
				}
				countRes, cerr := x.finish(req.Op, req.Kwargs, counts, nil, nil)
				if cerr != nil {
					return nil, cerr
				}
				x.log.Debug("histogram computed", "counts", countRes.Cube, "edges", edgeRes.Cube)
				return countRes, nil
			}
		}
	case "digitize":
		if err = need(2); err == nil {
			res, err = Digitize(bufs[0], bufs[1])
		}
	case "searchsorted":
		if err = need(2); err == nil {
			res, err = Searchsorted(bufs[0], bufs[1])
		}
	case "dot":
		if err = need(2); err == nil {
			res, err = Dot(bufs[0], bufs[1])
		}
	case "matmul":
		if err = need(2); err == nil {
			res, err = MatMul(bufs[0], bufs[1])
		}
	case "cross":
		if err = need(2); err == nil {
			res, err = Cross(bufs[0], bufs[1])
		}
	default:
		return nil, errors.Wrapf(errors.ErrUnknownOp, "op %q", req.Op)
	}
	if err != nil {
		return nil, err
	}
	_ = ctx
	return x.finish(req.Op, req.Kwargs, res, nil, nil)
}

// intList decodes an []any kwarg of numbers into ints; nil when absent.
func intList(kwargs Kwargs, name string) []int {
	v, ok := kwargs[name]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, e := range raw {
		switch n := e.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}

// =============================================================================
// Chunk fan-out
// =============================================================================

// eachChunkSel runs fn once per chunk-aligned selection of shape, fanned
// out across the executor's worker budget. origin is the chunk's starting
// coordinate within the cube.
func (x *Executor) eachChunkSel(ctx context.Context, shape, chunkShape []int, fn func(sel cube.Selection, origin []int) error) error {
	counts := cube.ChunkCounts(shape, chunkShape)
	total := cube.ElemCount(counts)
	if total == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)
	ci := make([]int, len(counts))
	for n := 0; n < total; n++ {
		cube.Unravel(n, counts, ci)
		sel := make(cube.Selection, len(shape))
		origin := make([]int, len(shape))
		for d := range shape {
			lo := ci[d] * chunkShape[d]
			hi := lo + cube.ChunkExtent(d, ci[d], shape, chunkShape)
			sel[d] = cube.Range(lo, hi)
			origin[d] = lo
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(sel, origin)
		})
	}
	return g.Wait()
}
