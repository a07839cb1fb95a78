// Package expr implements the restricted expression language hosted by the
// server for per-chunk functions. The language covers arithmetic, an
// allow-list of math functions, and whole-chunk reductions over a single
// input variable x. There are no loops, no recursion, no assignments, and
// no way to reach other cubes or perform I/O; evaluation runs under a
// caller-supplied time budget.
package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/TobiasJacob/cube-store/internal/errors"
)

// maxNodes bounds the parsed tree so pathological inputs cannot build
// arbitrarily large programs.
const maxNodes = 512

// maxDepth bounds parser recursion.
const maxDepth = 64

// =============================================================================
// Tokens
// =============================================================================

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokCaret
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.' ||
				src[i] == 'e' || src[i] == 'E' ||
				(src[i] == '+' || src[i] == '-') && i > start && (src[i-1] == 'e' || src[i-1] == 'E')) {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case unicode.IsLetter(rune(c)) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) || src[i] == '_') {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		default:
			kind, ok := map[byte]tokenKind{
				'+': tokPlus, '-': tokMinus, '*': tokStar, '/': tokSlash,
				'^': tokCaret, '(': tokLParen, ')': tokRParen, ',': tokComma,
			}[c]
			if !ok {
				return nil, errors.Wrapf(errors.ErrInvalidRequest,
					"unexpected character %q at position %d", string(c), i)
			}
			toks = append(toks, token{kind, string(c), i})
			i++
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

// =============================================================================
// AST
// =============================================================================

type nodeKind int

const (
	nodeNumber nodeKind = iota
	nodeVar             // the input chunk, x
	nodeUnaryNeg
	nodeBinary // op is one of + - * / ^
	nodeCall   // allow-listed function
)

type node struct {
	kind  nodeKind
	num   float64
	op    byte
	fn    string
	left  *node
	right *node
	args  []*node
}

// =============================================================================
// Parser
// =============================================================================

type parser struct {
	toks  []token
	pos   int
	nodes int
	src   string
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }
func (p *parser) errf(t token, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return errors.Wrapf(errors.ErrInvalidRequest, "%s at position %d in %q", msg, t.pos, p.src)
}

func (p *parser) alloc() error {
	p.nodes++
	if p.nodes > maxNodes {
		return errors.Wrap(errors.ErrSandbox, "expression too large")
	}
	return nil
}

// expr := term (('+' | '-') term)*
func (p *parser) parseExpr(depth int) (*node, error) {
	if depth > maxDepth {
		return nil, errors.Wrap(errors.ErrSandbox, "expression too deeply nested")
	}
	left, err := p.parseTerm(depth + 1)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm(depth + 1)
		if err != nil {
			return nil, err
		}
		if err := p.alloc(); err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, op: t.text[0], left: left, right: right}
	}
}

// term := factor (('*' | '/') factor)*
func (p *parser) parseTerm(depth int) (*node, error) {
	if depth > maxDepth {
		return nil, errors.Wrap(errors.ErrSandbox, "expression too deeply nested")
	}
	left, err := p.parseFactor(depth + 1)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokStar && t.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseFactor(depth + 1)
		if err != nil {
			return nil, err
		}
		if err := p.alloc(); err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, op: t.text[0], left: left, right: right}
	}
}

// factor := unary ('^' factor)?   (right-associative power)
func (p *parser) parseFactor(depth int) (*node, error) {
	if depth > maxDepth {
		return nil, errors.Wrap(errors.ErrSandbox, "expression too deeply nested")
	}
	left, err := p.parseUnary(depth + 1)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokCaret {
		return left, nil
	}
	p.next()
	right, err := p.parseFactor(depth + 1)
	if err != nil {
		return nil, err
	}
	if err := p.alloc(); err != nil {
		return nil, err
	}
	return &node{kind: nodeBinary, op: '^', left: left, right: right}, nil
}

// unary := '-' unary | primary
func (p *parser) parseUnary(depth int) (*node, error) {
	if depth > maxDepth {
		return nil, errors.Wrap(errors.ErrSandbox, "expression too deeply nested")
	}
	if p.peek().kind == tokMinus {
		p.next()
		inner, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		if err := p.alloc(); err != nil {
			return nil, err
		}
		return &node{kind: nodeUnaryNeg, left: inner}, nil
	}
	return p.parsePrimary(depth + 1)
}

// primary := number | 'x' | const | fn '(' expr (',' expr)* ')' | '(' expr ')'
func (p *parser) parsePrimary(depth int) (*node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errf(t, "bad number %q", t.text)
		}
		if err := p.alloc(); err != nil {
			return nil, err
		}
		return &node{kind: nodeNumber, num: v}, nil
	case tokLParen:
		inner, err := p.parseExpr(depth + 1)
		if err != nil {
			return nil, err
		}
		if tt := p.next(); tt.kind != tokRParen {
			return nil, p.errf(tt, "expected )")
		}
		return inner, nil
	case tokIdent:
		name := strings.ToLower(t.text)
		if p.peek().kind == tokLParen {
			return p.parseCall(t, name, depth)
		}
		if err := p.alloc(); err != nil {
			return nil, err
		}
		switch name {
		case "x":
			return &node{kind: nodeVar}, nil
		case "pi":
			return &node{kind: nodeNumber, num: 3.141592653589793}, nil
		case "e":
			return &node{kind: nodeNumber, num: 2.718281828459045}, nil
		}
		return nil, errors.Wrapf(errors.ErrSandbox, "unknown identifier %q", t.text)
	}
	return nil, p.errf(t, "unexpected token %q", t.text)
}

func (p *parser) parseCall(t token, name string, depth int) (*node, error) {
	arity, ok := callArity(name)
	if !ok {
		return nil, errors.Wrapf(errors.ErrSandbox, "function %q is not allowed", t.text)
	}
	p.next() // consume (
	var args []*node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr(depth + 1)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if tt := p.next(); tt.kind != tokRParen {
		return nil, p.errf(tt, "expected ) after arguments of %s", name)
	}
	if len(args) != arity {
		return nil, p.errf(t, "%s takes %d argument(s), got %d", name, arity, len(args))
	}
	if err := p.alloc(); err != nil {
		return nil, err
	}
	return &node{kind: nodeCall, fn: name, args: args}, nil
}

// callArity reports whether name is an allow-listed function and how many
// arguments it takes.
func callArity(name string) (int, bool) {
	switch name {
	case "abs", "sqrt", "exp", "log", "log2", "log10", "log1p",
		"sin", "cos", "tan", "arcsin", "arccos", "arctan",
		"sinh", "cosh", "tanh", "floor", "ceil", "round",
		"sum", "prod", "count", "mean", "std", "var", "min", "max":
		return 1, true
	case "clip":
		return 3, true
	case "pow":
		return 2, true
	}
	return 0, false
}
