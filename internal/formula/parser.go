// Package formula implements the sandboxed scoring language used by strategies.
//
// A formula is an arithmetic expression over whitelisted entry fields and a small
// set of math functions, for example:
//
//	1 / odds + 0.01 * max(form_rating, 0)
//
// Formulas are parsed by a recursive-descent parser into an immutable tree. Nothing
// outside the whitelist can be named, so a formula can only compute a number.
package formula

import (
	"sort"
	"strings"

	"github.com/yourusername/clever-backtest/internal/models"
)

const (
	// MaxLength is the longest formula accepted, in characters
	MaxLength = 200
	// MaxDepth bounds expression nesting
	MaxDepth = 32
)

type funcSpec struct {
	minArgs int
	maxArgs int // -1 means variadic
}

var functions = map[string]funcSpec{
	"min":   {minArgs: 2, maxArgs: -1},
	"max":   {minArgs: 2, maxArgs: -1},
	"abs":   {minArgs: 1, maxArgs: 1},
	"floor": {minArgs: 1, maxArgs: 1},
	"ceil":  {minArgs: 1, maxArgs: 1},
	"round": {minArgs: 1, maxArgs: 1},
	"sqrt":  {minArgs: 1, maxArgs: 1},
}

// IsAllowedFunction reports whether name is callable from a formula
func IsAllowedFunction(name string) bool {
	_, ok := functions[name]
	return ok
}

type node interface {
	eval(scope Scope) (float64, error)
}

type numberNode struct {
	value float64
}

type variableNode struct {
	name string
}

type negateNode struct {
	operand node
}

type binaryNode struct {
	op          tokenKind
	left, right node
}

type callNode struct {
	name string
	args []node
}

// Expression is a parsed formula. It is immutable and safe for concurrent use.
type Expression struct {
	source    string
	root      node
	variables []string
}

// Source returns the text the expression was parsed from
func (e *Expression) Source() string {
	return e.source
}

// Variables returns the distinct fields referenced by the expression, sorted
func (e *Expression) Variables() []string {
	out := make([]string, len(e.variables))
	copy(out, e.variables)
	return out
}

type parser struct {
	tokens []token
	pos    int
	depth  int
	vars   map[string]bool
}

// Parse validates src against the grammar and whitelists and returns the parsed expression.
func Parse(src string) (*Expression, error) {
	if len(src) > MaxLength {
		return nil, newError(CodeTooLong, -1, "formula exceeds %d characters", MaxLength)
	}
	if strings.TrimSpace(src) == "" {
		return nil, newError(CodeSyntax, 0, "formula is empty")
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens, vars: make(map[string]bool)}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, newError(CodeSyntax, tok.pos, "unexpected %q", tok.text)
	}

	vars := make([]string, 0, len(p.vars))
	for name := range p.vars {
		vars = append(vars, name)
	}
	sort.Strings(vars)

	return &Expression{source: src, root: root, variables: vars}, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) enter(pos int) error {
	p.depth++
	if p.depth > MaxDepth {
		return newError(CodeSyntax, pos, "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

// expr := term (('+'|'-') term)*
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokPlus && tok.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.kind, left: left, right: right}
	}
}

// term := unary (('*'|'/') unary)*
func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokStar && tok.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.kind, left: left, right: right}
	}
}

// unary := ('-'|'+') unary | primary
func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if tok.kind == tokMinus || tok.kind == tokPlus {
		if err := p.enter(tok.pos); err != nil {
			return nil, err
		}
		defer p.leave()
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokPlus {
			return operand, nil
		}
		return &negateNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

// primary := number | ident | ident '(' args ')' | '(' expr ')'
func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return &numberNode{value: tok.num}, nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(tok)
		}
		if IsAllowedFunction(tok.text) {
			return nil, newError(CodeSyntax, tok.pos, "function %s must be called", tok.text)
		}
		if !models.IsKnownField(tok.text) {
			return nil, newError(CodeDisallowedVariable, tok.pos, "variable %q is not allowed", tok.text)
		}
		p.vars[tok.text] = true
		return &variableNode{name: tok.text}, nil

	case tokLParen:
		if err := p.enter(tok.pos); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, newError(CodeSyntax, closing.pos, "expected ')'")
		}
		return inner, nil

	case tokEOF:
		return nil, newError(CodeSyntax, tok.pos, "unexpected end of formula")
	}
	return nil, newError(CodeSyntax, tok.pos, "unexpected %q", tok.text)
}

func (p *parser) parseCall(name token) (node, error) {
	spec, ok := functions[name.text]
	if !ok {
		return nil, newError(CodeDisallowedFunction, name.pos, "function %q is not allowed", name.text)
	}
	if err := p.enter(name.pos); err != nil {
		return nil, err
	}
	defer p.leave()

	p.next() // '('
	args := make([]node, 0, 2)
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr()
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
	if closing := p.next(); closing.kind != tokRParen {
		return nil, newError(CodeSyntax, closing.pos, "expected ')' after arguments to %s", name.text)
	}

	if len(args) < spec.minArgs || (spec.maxArgs >= 0 && len(args) > spec.maxArgs) {
		return nil, newError(CodeSyntax, name.pos, "wrong number of arguments to %s", name.text)
	}
	return &callNode{name: name.text, args: args}, nil
}
