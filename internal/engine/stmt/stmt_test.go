package stmt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3flow/core/internal/engine/expr"
	"github.com/n3flow/core/internal/engine/flow"
	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/value"
	"github.com/n3flow/core/internal/platform/svcerr"
)

func newEval() *expr.Evaluator {
	return expr.New(expr.NewEnvironment(), nil)
}

func run(t *testing.T, ev *expr.Evaluator, stmts []ir.Stmt) (value.Value, error) {
	t.Helper()
	return Exec(context.Background(), ev, stmts, nil)
}

func TestExecLetAndAssign(t *testing.T) {
	ev := newEval()
	stmts := []ir.Stmt{
		ir.LetStmt{Name: "x", Value: ir.Literal{Kind: "int", Int: 1}},
		ir.AssignStmt{Name: "x", Value: ir.Literal{Kind: "int", Int: 2}},
	}
	_, err := run(t, ev, stmts)
	require.NoError(t, err)

	v, err := ev.Env.Resolve("x")
	require.NoError(t, err)
	assert.Equal(t, value.Int(2), v)
}

func TestExecIfBranches(t *testing.T) {
	ev := newEval()
	stmts := []ir.Stmt{
		ir.LetStmt{Name: "picked", Value: ir.Literal{Kind: "int", Int: 0}},
		ir.IfStmt{
			Condition: ir.Literal{Kind: "bool", Bool: true},
			Then:      []ir.Stmt{ir.ReturnStmt{Value: ir.Literal{Kind: "string", Str: "then"}}},
			Else:      []ir.Stmt{ir.ReturnStmt{Value: ir.Literal{Kind: "string", Str: "else"}}},
		},
	}
	v, err := run(t, ev, stmts)
	require.NoError(t, err)
	assert.Equal(t, value.Str("then"), v)
}

func TestExecIfAsBindsCondition(t *testing.T) {
	ev := newEval()
	stmts := []ir.Stmt{
		ir.IfStmt{
			Condition: ir.Literal{Kind: "bool", Bool: true},
			As:        "matched",
			Then:      []ir.Stmt{ir.ReturnStmt{Value: ir.Ident{Name: "matched"}}},
		},
	}
	v, err := run(t, ev, stmts)
	require.NoError(t, err)
	assert.Equal(t, value.Bool(true), v)
}

func TestExecForEach(t *testing.T) {
	ev := newEval()
	ev.Env.Declare("items", value.List([]value.Value{value.Int(1), value.Int(2), value.Int(3)}), false)
	stmts := []ir.Stmt{
		ir.LetStmt{Name: "total", Value: ir.Literal{Kind: "int", Int: 0}},
		ir.ForEachStmt{
			Var:        "n",
			Collection: ir.Ident{Name: "items"},
			Body: []ir.Stmt{
				ir.AssignStmt{
					Name:  "total",
					Value: ir.BinaryOp{Op: "+", Left: ir.Ident{Name: "total"}, Right: ir.Ident{Name: "n"}},
				},
			},
		},
	}
	_, err := run(t, ev, stmts)
	require.NoError(t, err)

	total, err := ev.Env.Resolve("total")
	require.NoError(t, err)
	assert.Equal(t, value.Int(6), total)

	_, err = ev.Env.Resolve("n")
	assert.Error(t, err, "loop variable must not leak past the loop")
}

func TestExecForEachDestructures(t *testing.T) {
	ev := newEval()
	ev.Env.Declare("pairs", value.List([]value.Value{
		value.Map(map[string]value.Value{"a": value.Int(1), "b": value.Int(2)}),
	}), false)
	stmts := []ir.Stmt{
		ir.ForEachStmt{
			Pattern:    &ir.LetPattern{Kind: "record", Fields: []ir.PatternField{{Field: "a"}, {Field: "b", As: "bb"}}},
			Collection: ir.Ident{Name: "pairs"},
			Body: []ir.Stmt{
				ir.ReturnStmt{Value: ir.BinaryOp{Op: "+", Left: ir.Ident{Name: "a"}, Right: ir.Ident{Name: "bb"}}},
			},
		},
	}
	v, err := run(t, ev, stmts)
	require.NoError(t, err)
	assert.Equal(t, value.Int(3), v)
}

func TestExecLetDestructuresList(t *testing.T) {
	ev := newEval()
	stmts := []ir.Stmt{
		ir.LetStmt{Pattern: &ir.LetPattern{Kind: "list", Elems: []string{"x", "y"}},
			Value: ir.ListLit{Items: []ir.Expr{ir.Literal{Kind: "int", Int: 1}, ir.Literal{Kind: "int", Int: 2}}}},
		ir.ReturnStmt{Value: ir.BinaryOp{Op: "+", Left: ir.Ident{Name: "x"}, Right: ir.Ident{Name: "y"}}},
	}
	v, err := run(t, ev, stmts)
	require.NoError(t, err)
	assert.Equal(t, value.Int(3), v)
}

func TestExecReturnStopsExecution(t *testing.T) {
	ev := newEval()
	stmts := []ir.Stmt{
		ir.ReturnStmt{Value: ir.Literal{Kind: "int", Int: 42}},
		ir.LetStmt{Name: "never", Value: ir.Literal{Kind: "int", Int: 1}},
	}
	v, err := run(t, ev, stmts)
	require.NoError(t, err)
	assert.Equal(t, value.Int(42), v)
	assert.False(t, ev.Env.Has("never"))
}

func TestExecForEachRequiresList(t *testing.T) {
	ev := newEval()
	ev.Env.Declare("notalist", value.Int(1), false)
	stmts := []ir.Stmt{
		ir.ForEachStmt{Var: "x", Collection: ir.Ident{Name: "notalist"}, Body: nil},
	}
	_, err := run(t, ev, stmts)
	assert.Error(t, err)
}

func TestExecSetState(t *testing.T) {
	ev := newEval()
	stmts := []ir.Stmt{
		ir.SetStateStmt{Field: "status", Value: ir.Literal{Kind: "string", Str: "ok"}},
		ir.ReturnStmt{Value: ir.FieldAccess{Target: ir.Ident{Name: stateVar}, Field: "status"}},
	}
	v, err := run(t, ev, stmts)
	require.NoError(t, err)
	assert.Equal(t, value.Str("ok"), v)
}

func TestExecTryCatchBindsErrorMessage(t *testing.T) {
	ev := newEval()
	stmts := []ir.Stmt{
		ir.TryStmt{
			Body: []ir.Stmt{
				ir.AssignStmt{Name: "undeclared_var", Value: ir.Literal{Kind: "int", Int: 1}},
			},
			CatchName: "err",
			Catch: []ir.Stmt{
				ir.SetStateStmt{Field: "msg", Value: ir.FieldAccess{Target: ir.Ident{Name: "err"}, Field: "message"}},
			},
		},
		ir.ReturnStmt{Value: ir.FieldAccess{Target: ir.Ident{Name: stateVar}, Field: "msg"}},
	}
	v, err := run(t, ev, stmts)
	require.NoError(t, err)
	assert.Equal(t, value.Str(`undeclared variable "undeclared_var"`), v)
}

func TestExecTryCatchRateLimitedKind(t *testing.T) {
	ev := newEval()
	deps := &Deps{Runner: failingRunner{err: svcerr.ErrRateLimited}, Step: "checkout"}
	stmts := []ir.Stmt{
		ir.TryStmt{
			Body: []ir.Stmt{
				ir.ActionStmt{Kind: "tool", Target: "charge_card", Bind: "res"},
			},
			CatchName: "err",
			Catch: []ir.Stmt{
				ir.SetStateStmt{Field: "msg", Value: ir.FieldAccess{Target: ir.Ident{Name: "err"}, Field: "kind"}},
			},
		},
		ir.ReturnStmt{Value: ir.FieldAccess{Target: ir.Ident{Name: stateVar}, Field: "msg"}},
	}
	v, err := Exec(context.Background(), ev, stmts, deps)
	require.NoError(t, err)
	assert.Equal(t, value.Str("rate_limited"), v)
}

type failingRunner struct{ err error }

func (f failingRunner) RunStep(_ context.Context, _ *ir.Step, _ *expr.Evaluator) (value.Value, error) {
	return value.Null(), f.err
}

func TestExecMatchSuccessError(t *testing.T) {
	ev := newEval()
	ev.Env.Declare("result", value.Map(map[string]value.Value{
		"ok":    value.Bool(false),
		"error": value.Str("boom"),
	}), false)
	stmts := []ir.Stmt{
		ir.MatchStmt{
			Subject: ir.Ident{Name: "result"},
			Cases: []ir.MatchStmtCase{
				{Kind: "success", As: "v", Body: []ir.Stmt{ir.ReturnStmt{Value: ir.Literal{Kind: "string", Str: "ok"}}}},
				{Kind: "error", As: "e", Body: []ir.Stmt{ir.ReturnStmt{Value: ir.Ident{Name: "e"}}}},
			},
		},
	}
	v, err := run(t, ev, stmts)
	require.NoError(t, err)
	assert.Equal(t, value.Str("boom"), v)
}

func TestExecRetrySucceedsBeforeExhaustingAttempts(t *testing.T) {
	ev := newEval()
	ev.Env.Declare("attempts", value.Int(0), false)
	stmts := []ir.Stmt{
		ir.RetryStmt{
			MaxAttempts: 3,
			Body: []ir.Stmt{
				ir.AssignStmt{Name: "attempts", Value: ir.BinaryOp{Op: "+", Left: ir.Ident{Name: "attempts"}, Right: ir.Literal{Kind: "int", Int: 1}}},
				ir.GuardStmt{
					Condition: ir.BinaryOp{Op: "<", Left: ir.Ident{Name: "attempts"}, Right: ir.Literal{Kind: "int", Int: 2}},
					Body:      []ir.Stmt{ir.ReturnStmt{Value: ir.Literal{Kind: "null"}}},
				},
			},
		},
	}
	_, err := run(t, ev, stmts)
	require.NoError(t, err)
	attempts, err := ev.Env.Resolve("attempts")
	require.NoError(t, err)
	assert.Equal(t, value.Int(1), attempts)
}

func TestExecLogNoteCheckpointAccumulate(t *testing.T) {
	ev := newEval()
	stmts := []ir.Stmt{
		ir.LogStmt{Level: "info", Message: ir.Literal{Kind: "string", Str: "started"}},
		ir.NoteStmt{Message: ir.Literal{Kind: "string", Str: "fyi"}},
		ir.CheckpointStmt{Label: ir.Literal{Kind: "string", Str: "step1"}},
	}
	_, err := run(t, ev, stmts)
	require.NoError(t, err)

	logs, err := ev.Env.Resolve(logsVar)
	require.NoError(t, err)
	assert.Len(t, logs.List, 1)

	notes, err := ev.Env.Resolve(notesVar)
	require.NoError(t, err)
	assert.Len(t, notes.List, 1)

	checkpoints, err := ev.Env.Resolve(checkpointsVar)
	require.NoError(t, err)
	assert.Len(t, checkpoints.List, 1)
}

func TestExecGotoFlowRaisesRedirect(t *testing.T) {
	ev := newEval()
	stmts := []ir.Stmt{
		ir.GotoStmt{Kind: "flow", Target: "next_flow", Args: map[string]ir.Expr{"x": ir.Literal{Kind: "int", Int: 1}}},
	}
	_, err := run(t, ev, stmts)
	require.Error(t, err)

	redirect, ok := err.(*flow.Redirect)
	require.True(t, ok)
	assert.Equal(t, "next_flow", redirect.FlowName)
}

func TestExecAskUserSkipsIfAlreadyBound(t *testing.T) {
	ev := newEval()
	ev.Env.Declare("email", value.Str("a@b.com"), false)
	stmts := []ir.Stmt{
		ir.AskUserStmt{Label: ir.Literal{Kind: "string", Str: "your email"}, Name: "email"},
		ir.ReturnStmt{Value: ir.Ident{Name: "email"}},
	}
	v, err := run(t, ev, stmts)
	require.NoError(t, err)
	assert.Equal(t, value.Str("a@b.com"), v)
}
