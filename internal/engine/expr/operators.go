package expr

import (
	"strings"

	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/value"
)

func (ev *Evaluator) evalUnaryOp(n ir.UnaryOp) (value.Value, error) {
	v, err := ev.Evaluate(n.Operand)
	if err != nil {
		return value.Null(), err
	}
	switch n.Op {
	case "not":
		return value.Bool(!v.Truthy()), nil
	case "-":
		switch v.Kind {
		case value.KindInt:
			return value.Int(-v.Int), nil
		case value.KindFloat:
			return value.Float(-v.Float), nil
		default:
			return value.Null(), errf("cannot negate a %s value", v.Kind)
		}
	default:
		return value.Null(), errf("unknown unary operator %q", n.Op)
	}
}

func (ev *Evaluator) evalBinaryOp(n ir.BinaryOp) (value.Value, error) {
	// Short-circuit boolean operators evaluate the right side lazily.
	if n.Op == "and" || n.Op == "or" {
		left, err := ev.Evaluate(n.Left)
		if err != nil {
			return value.Null(), err
		}
		if n.Op == "and" && !left.Truthy() {
			return value.Bool(false), nil
		}
		if n.Op == "or" && left.Truthy() {
			return value.Bool(true), nil
		}
		right, err := ev.Evaluate(n.Right)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(right.Truthy()), nil
	}

	left, err := ev.Evaluate(n.Left)
	if err != nil {
		return value.Null(), err
	}
	right, err := ev.Evaluate(n.Right)
	if err != nil {
		return value.Null(), err
	}

	switch n.Op {
	case "==":
		return value.Bool(value.Equal(left, right)), nil
	case "!=":
		return value.Bool(!value.Equal(left, right)), nil
	case "<":
		return value.Bool(value.Compare(left, right) < 0), nil
	case "<=":
		return value.Bool(value.Compare(left, right) <= 0), nil
	case ">":
		return value.Bool(value.Compare(left, right) > 0), nil
	case ">=":
		return value.Bool(value.Compare(left, right) >= 0), nil
	case "in":
		return evalIn(left, right)
	case "+":
		return evalAdd(left, right)
	case "-", "*", "/", "%":
		return evalArith(n.Op, left, right)
	default:
		return value.Null(), errf("unknown binary operator %q", n.Op)
	}
}

func evalIn(needle, haystack value.Value) (value.Value, error) {
	switch haystack.Kind {
	case value.KindList:
		for _, item := range haystack.List {
			if value.Equal(needle, item) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	case value.KindMap:
		if needle.Kind != value.KindStr {
			return value.Bool(false), nil
		}
		_, ok := haystack.Map[needle.Str]
		return value.Bool(ok), nil
	case value.KindStr:
		if needle.Kind != value.KindStr {
			return value.Bool(false), nil
		}
		return value.Bool(strings.Contains(haystack.Str, needle.Str)), nil
	default:
		return value.Null(), errf("'in' requires a list, map, or string on the right, got %s", haystack.Kind)
	}
}

func evalAdd(left, right value.Value) (value.Value, error) {
	if left.Kind == value.KindStr || right.Kind == value.KindStr {
		return value.Str(left.String() + right.String()), nil
	}
	if left.Kind == value.KindList && right.Kind == value.KindList {
		combined := make([]value.Value, 0, len(left.List)+len(right.List))
		combined = append(combined, left.List...)
		combined = append(combined, right.List...)
		return value.List(combined), nil
	}
	return evalArith("+", left, right)
}

func evalArith(op string, left, right value.Value) (value.Value, error) {
	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()
	if !lok || !rok {
		return value.Null(), errf("arithmetic requires numbers, got %s and %s", left.Kind, right.Kind)
	}
	if left.Kind == value.KindInt && right.Kind == value.KindInt {
		l, r := left.Int, right.Int
		switch op {
		case "+":
			return value.Int(l + r), nil
		case "-":
			return value.Int(l - r), nil
		case "*":
			return value.Int(l * r), nil
		case "/":
			if r == 0 {
				return value.Null(), errf("division by zero")
			}
			if l%r == 0 {
				return value.Int(l / r), nil
			}
			return value.Float(float64(l) / float64(r)), nil
		case "%":
			if r == 0 {
				return value.Null(), errf("modulo by zero")
			}
			return value.Int(l % r), nil
		}
	}
	switch op {
	case "+":
		return value.Float(lf + rf), nil
	case "-":
		return value.Float(lf - rf), nil
	case "*":
		return value.Float(lf * rf), nil
	case "/":
		if rf == 0 {
			return value.Null(), errf("division by zero")
		}
		return value.Float(lf / rf), nil
	case "%":
		if rf == 0 {
			return value.Null(), errf("modulo by zero")
		}
		return value.Float(float64(int64(lf) % int64(rf))), nil
	default:
		return value.Null(), errf("unknown arithmetic operator %q", op)
	}
}
