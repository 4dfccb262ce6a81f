package formula

import (
	"math"
)

// Scope supplies variable values during evaluation
type Scope interface {
	Lookup(name string) (float64, bool)
}

// MapScope is a Scope backed by a plain map
type MapScope map[string]float64

// Lookup implements Scope
func (m MapScope) Lookup(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

// Evaluate computes the expression against scope. A missing variable or a
// non-finite intermediate result is a RUNTIME error.
func (e *Expression) Evaluate(scope Scope) (float64, error) {
	v, err := e.root.eval(scope)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, runtimeError("result is not a finite number")
	}
	return v, nil
}

func (n *numberNode) eval(Scope) (float64, error) {
	return n.value, nil
}

func (n *variableNode) eval(scope Scope) (float64, error) {
	if scope == nil {
		return 0, runtimeError("variable %q has no value", n.name)
	}
	v, ok := scope.Lookup(n.name)
	if !ok {
		return 0, runtimeError("variable %q has no value", n.name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, runtimeError("variable %q is not a finite number", n.name)
	}
	return v, nil
}

func (n *negateNode) eval(scope Scope) (float64, error) {
	v, err := n.operand.eval(scope)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

func (n *binaryNode) eval(scope Scope) (float64, error) {
	l, err := n.left.eval(scope)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(scope)
	if err != nil {
		return 0, err
	}

	var out float64
	switch n.op {
	case tokPlus:
		out = l + r
	case tokMinus:
		out = l - r
	case tokStar:
		out = l * r
	case tokSlash:
		if r == 0 {
			return 0, runtimeError("division by zero")
		}
		out = l / r
	}
	if math.IsInf(out, 0) || math.IsNaN(out) {
		return 0, runtimeError("arithmetic overflow")
	}
	return out, nil
}

func (n *callNode) eval(scope Scope) (float64, error) {
	args := make([]float64, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(scope)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}

	switch n.name {
	case "min":
		out := args[0]
		for _, v := range args[1:] {
			out = math.Min(out, v)
		}
		return out, nil
	case "max":
		out := args[0]
		for _, v := range args[1:] {
			out = math.Max(out, v)
		}
		return out, nil
	case "abs":
		return math.Abs(args[0]), nil
	case "floor":
		return math.Floor(args[0]), nil
	case "ceil":
		return math.Ceil(args[0]), nil
	case "round":
		return math.Round(args[0]), nil
	case "sqrt":
		if args[0] < 0 {
			return 0, runtimeError("sqrt of a negative number")
		}
		return math.Sqrt(args[0]), nil
	}
	return 0, runtimeError("function %q is not allowed", n.name)
}
