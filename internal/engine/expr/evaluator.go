package expr

import (
	"fmt"

	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/value"
)

// EvaluationError reports a failure to evaluate an expression, carrying
// enough context to build a message like the original runtime's
// build_missing_field_error: what was being looked up and on what.
type EvaluationError struct {
	Message string
	Node    ir.Expr
}

func (e *EvaluationError) Error() string { return e.Message }

func errf(format string, args ...any) error {
	return &EvaluationError{Message: fmt.Sprintf(format, args...)}
}

// HelperResolver looks up and evaluates a user-defined helper flow by name,
// returning its result value. Kept as an interface so the evaluator doesn't
// import the flow package (which depends on expr).
type HelperResolver interface {
	CallHelper(name string, args []value.Value) (value.Value, error)
}

// Evaluator walks an ir.Expr tree against an Environment, dispatching
// builtins and collection pipelines, mirroring the original runtime's
// ExpressionEvaluator.evaluate.
type Evaluator struct {
	Env     *Environment
	Helpers HelperResolver
}

// New builds an Evaluator bound to env. helpers may be nil if the expression
// never calls a user-defined helper.
func New(env *Environment, helpers HelperResolver) *Evaluator {
	return &Evaluator{Env: env, Helpers: helpers}
}

// WithEnv returns a copy of the evaluator bound to a different environment,
// used when descending into a pipeline stage's loop-variable scope.
func (ev *Evaluator) WithEnv(env *Environment) *Evaluator {
	return &Evaluator{Env: env, Helpers: ev.Helpers}
}

// Evaluate dispatches on the concrete type of node and returns its value.
func (ev *Evaluator) Evaluate(node ir.Expr) (value.Value, error) {
	switch n := node.(type) {
	case ir.Literal:
		return ev.evalLiteral(n)
	case ir.Ident:
		return ev.Env.Resolve(n.Name)
	case ir.FieldAccess:
		return ev.evalFieldAccess(n)
	case ir.IndexAccess:
		return ev.evalIndexAccess(n)
	case ir.BinaryOp:
		return ev.evalBinaryOp(n)
	case ir.UnaryOp:
		return ev.evalUnaryOp(n)
	case ir.ListLit:
		return ev.evalListLit(n)
	case ir.MapLit:
		return ev.evalMapLit(n)
	case ir.BuiltinCall:
		return ev.dispatchBuiltin(n)
	case ir.HelperCall:
		return ev.evalHelperCall(n)
	case ir.GetOtherwise:
		return ev.evalGetOtherwise(n)
	case ir.HasKeyOn:
		return ev.evalHasKeyOn(n)
	case ir.Pipeline:
		return ev.evalPipeline(n)
	case ir.MatchExpr:
		return ev.evalMatch(n)
	case ir.RuleGroup:
		return ev.evalRuleGroup(n)
	default:
		return value.Null(), errf("unsupported expression node %T", node)
	}
}

func (ev *Evaluator) evalLiteral(n ir.Literal) (value.Value, error) {
	switch n.Kind {
	case "null":
		return value.Null(), nil
	case "bool":
		return value.Bool(n.Bool), nil
	case "int":
		return value.Int(n.Int), nil
	case "float":
		return value.Float(n.Float), nil
	case "string":
		return value.Str(n.Str), nil
	default:
		return value.Null(), errf("unknown literal kind %q", n.Kind)
	}
}

func (ev *Evaluator) evalFieldAccess(n ir.FieldAccess) (value.Value, error) {
	target, err := ev.Evaluate(n.Target)
	if err != nil {
		return value.Null(), err
	}
	switch target.Kind {
	case value.KindMap:
		if v, ok := target.Map[n.Field]; ok {
			return v, nil
		}
		return value.Null(), buildMissingFieldError(n.Field, "map", target)
	case value.KindRecord:
		if target.Record == nil {
			return value.Null(), errf("cannot access field %q on a null record", n.Field)
		}
		if v, ok := target.Record.Fields[n.Field]; ok {
			return v, nil
		}
		return value.Null(), buildMissingFieldError(n.Field, target.Record.Frame, target)
	case value.KindNull:
		return value.Null(), errf("cannot access field %q on null", n.Field)
	default:
		return value.Null(), errf("cannot access field %q on a %s value", n.Field, target.Kind)
	}
}

func buildMissingFieldError(field, container string, target value.Value) error {
	return errf("I couldn't find field %q on %s %s.", field, container, target.String())
}

func (ev *Evaluator) evalIndexAccess(n ir.IndexAccess) (value.Value, error) {
	target, err := ev.Evaluate(n.Target)
	if err != nil {
		return value.Null(), err
	}
	idx, err := ev.Evaluate(n.Index)
	if err != nil {
		return value.Null(), err
	}
	switch target.Kind {
	case value.KindList:
		if idx.Kind != value.KindInt {
			return value.Null(), errf("list index must be an integer, got %s", idx.Kind)
		}
		i := int(idx.Int)
		if i < 0 {
			i += len(target.List)
		}
		if i < 0 || i >= len(target.List) {
			return value.Null(), errf("list index %d out of range (length %d)", idx.Int, len(target.List))
		}
		return target.List[i], nil
	case value.KindMap:
		if idx.Kind != value.KindStr {
			return value.Null(), errf("map index must be a string, got %s", idx.Kind)
		}
		if v, ok := target.Map[idx.Str]; ok {
			return v, nil
		}
		return value.Null(), buildMissingFieldError(idx.Str, "map", target)
	default:
		return value.Null(), errf("cannot index into a %s value", target.Kind)
	}
}

func (ev *Evaluator) evalListLit(n ir.ListLit) (value.Value, error) {
	items := make([]value.Value, len(n.Items))
	for i, item := range n.Items {
		v, err := ev.Evaluate(item)
		if err != nil {
			return value.Null(), err
		}
		items[i] = v
	}
	return value.List(items), nil
}

func (ev *Evaluator) evalMapLit(n ir.MapLit) (value.Value, error) {
	m := make(map[string]value.Value, len(n.Entries))
	for _, entry := range n.Entries {
		v, err := ev.Evaluate(entry.Value)
		if err != nil {
			return value.Null(), err
		}
		m[entry.Key] = v
	}
	return value.Map(m), nil
}

func (ev *Evaluator) evalHelperCall(n ir.HelperCall) (value.Value, error) {
	if ev.Helpers == nil {
		return value.Null(), errf("no helper %q is available in this context", n.Name)
	}
	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := ev.Evaluate(a)
		if err != nil {
			return value.Null(), err
		}
		args[i] = v
	}
	return ev.Helpers.CallHelper(n.Name, args)
}

func (ev *Evaluator) evalGetOtherwise(n ir.GetOtherwise) (value.Value, error) {
	v, err := ev.Evaluate(n.Target)
	if err != nil || v.IsNull() {
		return ev.Evaluate(n.Default)
	}
	return v, nil
}

func (ev *Evaluator) evalHasKeyOn(n ir.HasKeyOn) (value.Value, error) {
	key, err := ev.Evaluate(n.Key)
	if err != nil {
		return value.Null(), err
	}
	target, err := ev.Evaluate(n.Target)
	if err != nil {
		return value.Null(), err
	}
	switch target.Kind {
	case value.KindMap:
		_, ok := target.Map[key.Str]
		return value.Bool(ok), nil
	case value.KindRecord:
		if target.Record == nil {
			return value.Bool(false), nil
		}
		_, ok := target.Record.Fields[key.Str]
		return value.Bool(ok), nil
	default:
		return value.Bool(false), nil
	}
}

func (ev *Evaluator) evalMatch(n ir.MatchExpr) (value.Value, error) {
	subject, err := ev.Evaluate(n.Subject)
	if err != nil {
		return value.Null(), err
	}
	for _, c := range n.Cases {
		pat, err := ev.Evaluate(c.Pattern)
		if err != nil {
			return value.Null(), err
		}
		if value.Equal(subject, pat) {
			return ev.Evaluate(c.Result)
		}
	}
	if n.Default != nil {
		return ev.Evaluate(n.Default)
	}
	return value.Null(), errf("no match case applied and no default was given")
}

func (ev *Evaluator) evalRuleGroup(n ir.RuleGroup) (value.Value, error) {
	for _, rule := range n.Rules {
		cond, err := ev.Evaluate(rule.Condition)
		if err != nil {
			return value.Null(), err
		}
		if cond.Truthy() {
			return ev.Evaluate(rule.Result)
		}
	}
	if n.Default != nil {
		return ev.Evaluate(n.Default)
	}
	return value.Null(), errf("no rule matched and no default was given")
}
