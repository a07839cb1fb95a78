package expr

import (
	"context"
	"math"

	"github.com/TobiasJacob/cube-store/internal/compute"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

// Program is a compiled expression, safe to evaluate concurrently.
type Program struct {
	root *node
	src  string
}

// Compile parses src into an evaluable program. Compilation enforces the
// allow-list and the size/depth bounds; unknown identifiers are rejected
// here, not at evaluation time.
func Compile(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: src}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errf(t, "trailing input %q", t.text)
	}
	return &Program{root: root, src: src}, nil
}

// Source returns the original expression text.
func (pr *Program) Source() string { return pr.src }

// evalState carries the per-evaluation budget check.
type evalState struct {
	ctx   context.Context
	input *cube.Buffer
	steps int
}

// checkBudget polls the context every few steps; a tree walk between polls
// is bounded by maxNodes, so an expired deadline surfaces promptly.
func (s *evalState) checkBudget() error {
	s.steps++
	if s.steps%16 != 0 {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return errors.Wrap(errors.ErrSandboxTimeout, "expression exceeded its time budget")
		}
		return errors.Wrap(errors.ErrSandbox, err.Error())
	}
	return nil
}

// Eval applies the program to one input chunk. The result is a buffer:
// element-wise expressions keep the chunk's shape, reductions collapse it
// to a scalar. The context bounds evaluation time.
func (pr *Program) Eval(ctx context.Context, x *cube.Buffer) (*cube.Buffer, error) {
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return nil, errors.Wrap(errors.ErrSandboxTimeout, "expression exceeded its time budget")
		}
		return nil, errors.Wrap(errors.ErrSandbox, err.Error())
	}
	s := &evalState{ctx: ctx, input: x}
	return s.eval(pr.root)
}

func (s *evalState) eval(n *node) (*cube.Buffer, error) {
	if err := s.checkBudget(); err != nil {
		return nil, err
	}
	switch n.kind {
	case nodeNumber:
		return cube.NewScalar(cube.Float64, n.num), nil
	case nodeVar:
		return s.input, nil
	case nodeUnaryNeg:
		inner, err := s.eval(n.left)
		if err != nil {
			return nil, err
		}
		return compute.Unary("negative", inner, nil)
	case nodeBinary:
		left, err := s.eval(n.left)
		if err != nil {
			return nil, err
		}
		right, err := s.eval(n.right)
		if err != nil {
			return nil, err
		}
		return compute.Binary(binOpName(n.op), left, right)
	case nodeCall:
		return s.evalCall(n)
	}
	return nil, errors.Wrap(errors.ErrInternal, "corrupt expression tree")
}

func binOpName(op byte) string {
	switch op {
	case '+':
		return "add"
	case '-':
		return "subtract"
	case '*':
		return "multiply"
	case '/':
		return "divide"
	default:
		return "power"
	}
}

func (s *evalState) evalCall(n *node) (*cube.Buffer, error) {
	args := make([]*cube.Buffer, len(n.args))
	for i, a := range n.args {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch n.fn {
	case "sum", "prod", "count", "mean", "std", "var", "min", "max":
		return compute.Reduce(n.fn, args[0], nil, false)
	case "pow":
		return compute.Binary("power", args[0], args[1])
	case "clip":
		if args[1].NDim() != 0 || args[2].NDim() != 0 {
			return nil, errors.Wrap(errors.ErrInvalidRequest, "clip bounds must be scalars")
		}
		return compute.Unary("clip", args[0], compute.Kwargs{
			"min": args[1].At(0),
			"max": args[2].At(0),
		})
	}
	return compute.Unary(n.fn, args[0], nil)
}

// EvalScalar is a convenience for expressions with no reference to x.
func (pr *Program) EvalScalar(ctx context.Context) (float64, error) {
	out, err := pr.Eval(ctx, cube.NewScalar(cube.Float64, math.NaN()))
	if err != nil {
		return 0, err
	}
	if out.NDim() != 0 {
		return 0, errors.Wrap(errors.ErrInvalidRequest, "expression does not reduce to a scalar")
	}
	return out.At(0), nil
}
