// Package iter implements chunked cube traversal: an ordered, pull-based
// sequence of blocks along chosen axes, optionally transformed by a hosted
// expression per block. Pulling one block at a time keeps memory bounded
// for cubes larger than RAM and gives natural backpressure to consumers.
package iter

import (
	"context"
	"time"

	"github.com/TobiasJacob/cube-store/internal/catalog"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/expr"
)

// Options configures a traversal.
type Options struct {
	// Axes are the resolved positions to iterate over, outermost first.
	// Empty means axis 0.
	Axes []int
	// ChunkSizes gives the block extent per iterated axis. A zero (or
	// missing) entry takes the axis's full extent in one step.
	ChunkSizes []int
	// Fn, when set, is applied to each block; the block in the yielded
	// item is replaced by the function's output.
	Fn *expr.Program
	// FnBudget bounds each function application. Zero means no limit.
	FnBudget time.Duration
	// FailFast aborts the whole traversal on the first function error
	// instead of reporting it per item.
	FailFast bool
}

// Item is one yielded block.
type Item struct {
	// Coords holds the starting position along each iterated axis.
	Coords []int
	// Labels holds the coordinate label of each starting position, where
	// the dimension has labels; missing labels are empty strings.
	Labels []string
	// Data is the block, or the function output when a function is set.
	// Nil when Err is set.
	Data *cube.Buffer
	// Err carries a per-block function failure in non-fail-fast mode.
	Err error
}

// Iterator walks a cube in lexicographic order of the iterated axes'
// starting positions. The shape is snapshotted at creation; concurrent
// appends past it are not visited.
type Iterator struct {
	cub    catalog.Cube
	shape  []int
	labels [][]string
	opts   Options
	sizes  []int
	starts []int
	done   bool
}

// New validates options against the cube and positions the iterator at the
// first block.
func New(c catalog.Cube, opts Options) (*Iterator, error) {
	shape := c.Shape()
	if len(opts.Axes) == 0 {
		opts.Axes = []int{0}
	}
	seen := make(map[int]bool, len(opts.Axes))
	for i, ax := range opts.Axes {
		if ax < 0 {
			ax += len(shape)
			opts.Axes[i] = ax
		}
		if ax < 0 || ax >= len(shape) {
			return nil, errors.Wrapf(errors.ErrIndex, "iteration axis %d out of range for %d dimensions", ax, len(shape))
		}
		if seen[ax] {
			return nil, errors.Wrapf(errors.ErrIndex, "iteration axis %d repeated", ax)
		}
		seen[ax] = true
	}
	if len(opts.ChunkSizes) > len(opts.Axes) {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "more chunk sizes than iteration axes")
	}

	sizes := make([]int, len(opts.Axes))
	for i, ax := range opts.Axes {
		sizes[i] = shape[ax]
		if i < len(opts.ChunkSizes) && opts.ChunkSizes[i] > 0 {
			sizes[i] = opts.ChunkSizes[i]
		}
		if sizes[i] < 1 {
			sizes[i] = 1
		}
	}

	return &Iterator{
		cub:    c,
		shape:  shape,
		labels: c.Meta().CoordLabels,
		opts:   opts,
		sizes:  sizes,
		starts: make([]int, len(opts.Axes)),
	}, nil
}

// Next yields the next block, or (nil, nil) when the traversal is done.
// A function failure aborts the traversal in fail-fast mode; otherwise it
// is reported in the item and iteration continues with the next block.
func (it *Iterator) Next(ctx context.Context) (*Item, error) {
	if it.done {
		return nil, nil
	}
	for _, ax := range it.opts.Axes {
		if it.shape[ax] == 0 {
			it.done = true
			return nil, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrTimeout, err.Error())
	}

	sel := cube.FullSelection(it.shape)
	item := &Item{
		Coords: make([]int, len(it.opts.Axes)),
		Labels: make([]string, len(it.opts.Axes)),
	}
	for i, ax := range it.opts.Axes {
		start := it.starts[i]
		stop := start + it.sizes[i]
		if stop > it.shape[ax] {
			stop = it.shape[ax]
		}
		sel[ax] = cube.Range(start, stop)
		item.Coords[i] = start
		if it.labels != nil && ax < len(it.labels) && start < len(it.labels[ax]) {
			item.Labels[i] = it.labels[ax][start]
		}
	}
	it.advance()

	data, err := it.cub.Read(sel)
	if err != nil {
		return nil, err
	}

	if it.opts.Fn != nil {
		fnCtx := ctx
		if it.opts.FnBudget != 0 {
			var cancel context.CancelFunc
			fnCtx, cancel = context.WithTimeout(ctx, it.opts.FnBudget)
			defer cancel()
		}
		out, ferr := it.opts.Fn.Eval(fnCtx, data)
		if ferr != nil {
			if it.opts.FailFast {
				it.done = true
				return nil, ferr
			}
			item.Err = ferr
			return item, nil
		}
		data = out
	}
	item.Data = data
	return item, nil
}

// advance moves the odometer to the next block, innermost axis fastest.
func (it *Iterator) advance() {
	for i := len(it.starts) - 1; i >= 0; i-- {
		ax := it.opts.Axes[i]
		it.starts[i] += it.sizes[i]
		if it.starts[i] < it.shape[ax] {
			return
		}
		it.starts[i] = 0
	}
	it.done = true
}

// =============================================================================
// Appender
// =============================================================================

// Appender is the write-side dual of the iterator: blocks stream in one at
// a time and extend the cube along a fixed axis, so producers can build a
// cube larger than memory.
type Appender struct {
	cub  catalog.Cube
	axis int
	n    int
}

// NewAppender validates the axis against the cube.
func NewAppender(c catalog.Cube, axis int) (*Appender, error) {
	ndim := len(c.Shape())
	if axis < 0 {
		axis += ndim
	}
	if axis < 0 || axis >= ndim {
		return nil, errors.Wrapf(errors.ErrAppendAxis, "axis %d out of range for %d dimensions", axis, ndim)
	}
	return &Appender{cub: c, axis: axis}, nil
}

// Append extends the cube by one block.
func (a *Appender) Append(block *cube.Buffer) error {
	if err := a.cub.Append(a.axis, block); err != nil {
		return err
	}
	a.n++
	return nil
}

// Blocks reports how many blocks have been appended.
func (a *Appender) Blocks() int { return a.n }
