package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3flow/core/internal/engine/expr"
	"github.com/n3flow/core/internal/engine/frame"
	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/observe"
	"github.com/n3flow/core/internal/engine/txn"
	"github.com/n3flow/core/internal/engine/value"
)

type stubRunner struct {
	results map[string]value.Value
	errs    map[string]error
	fn      map[string]func(ev *expr.Evaluator) (value.Value, error)
}

func (r *stubRunner) RunStep(ctx context.Context, step *ir.Step, ev *expr.Evaluator) (value.Value, error) {
	if err, ok := r.errs[step.Name]; ok {
		return value.Null(), err
	}
	if f, ok := r.fn[step.Name]; ok {
		return f(ev)
	}
	if v, ok := r.results[step.Name]; ok {
		return v, nil
	}
	return value.Null(), nil
}

type stubResolver struct {
	flows map[string]*ir.Flow
}

func (r *stubResolver) ResolveFlow(name string) (*ir.Flow, error) {
	f, ok := r.flows[name]
	if !ok {
		return nil, errors.New("flow not found: " + name)
	}
	return f, nil
}

func newTestScheduler(runner StepRunner, resolver FlowResolver) *Scheduler {
	sink := observe.New(nil, nil, nil)
	txnMgr := txn.New(frame.NewStore())
	return New(runner, resolver, sink, txnMgr, 2)
}

func TestSchedulerRunLinearFlow(t *testing.T) {
	f := &ir.Flow{
		Name:  "greet",
		Entry: "a",
		Steps: map[string]*ir.Step{
			"a":    {Name: "a", Kind: "ai_call", Next: "term"},
			"term": {Name: "term", Kind: "terminal"},
		},
	}
	runner := &stubRunner{results: map[string]value.Value{"a": value.Str("hi")}}
	sched := newTestScheduler(runner, &stubResolver{})

	results, err := sched.Run(context.Background(), f, expr.NewEnvironment())
	require.NoError(t, err)
	assert.Equal(t, value.Str("hi"), results["a"])
}

func TestSchedulerRunConditionBranches(t *testing.T) {
	f := &ir.Flow{
		Name:  "branching",
		Entry: "check",
		Steps: map[string]*ir.Step{
			"check": {Name: "check", Kind: "condition", Condition: ir.Literal{Kind: "bool", Bool: true}, ThenNext: "yes", ElseNext: "no"},
			"yes":   {Name: "yes", Kind: "ai_call", Next: "term"},
			"no":    {Name: "no", Kind: "ai_call", Next: "term"},
			"term":  {Name: "term", Kind: "terminal"},
		},
	}
	runner := &stubRunner{results: map[string]value.Value{
		"yes": value.Str("yes-ran"),
		"no":  value.Str("no-ran"),
	}}
	sched := newTestScheduler(runner, &stubResolver{})

	results, err := sched.Run(context.Background(), f, expr.NewEnvironment())
	require.NoError(t, err)
	assert.Equal(t, value.Str("yes-ran"), results["yes"])
	_, ranElse := results["no"]
	assert.False(t, ranElse)
}

func TestSchedulerRunParallelJoins(t *testing.T) {
	f := &ir.Flow{
		Name:  "fanout",
		Entry: "split",
		Steps: map[string]*ir.Step{
			"split": {
				Name: "split", Kind: "parallel",
				Branches: []ir.Branch{{ID: "b0", Entry: "left"}, {ID: "b1", Entry: "right"}},
				JoinNext: "term",
			},
			"left":  {Name: "left", Kind: "ai_call"},
			"right": {Name: "right", Kind: "ai_call"},
			"term":  {Name: "term", Kind: "terminal"},
		},
	}
	runner := &stubRunner{results: map[string]value.Value{
		"left":  value.Str("l"),
		"right": value.Str("r"),
	}}
	sched := newTestScheduler(runner, &stubResolver{})

	results, err := sched.Run(context.Background(), f, expr.NewEnvironment())
	require.NoError(t, err)
	assert.Equal(t, value.Str("l"), results["left"])
	assert.Equal(t, value.Str("r"), results["right"])
}

func TestSchedulerRunParallelMergesBranchVars(t *testing.T) {
	f := &ir.Flow{
		Name:  "fanout",
		Entry: "split",
		Steps: map[string]*ir.Step{
			"split": {
				Name: "split", Kind: "parallel",
				Branches: []ir.Branch{{ID: "b0", Entry: "left"}, {ID: "b1", Entry: "right"}},
				JoinNext: "join",
			},
			"left":  {Name: "left", Kind: "ai_call"},
			"right": {Name: "right", Kind: "ai_call"},
			"join":  {Name: "join", Kind: "ai_call", Next: "term", CaptureName: "c"},
			"term":  {Name: "term", Kind: "terminal"},
		},
	}
	runner := &stubRunner{fn: map[string]func(ev *expr.Evaluator) (value.Value, error){
		"left": func(ev *expr.Evaluator) (value.Value, error) {
			ev.Env.Declare("a", value.Int(1), false)
			return value.Null(), nil
		},
		"right": func(ev *expr.Evaluator) (value.Value, error) {
			ev.Env.Declare("b", value.Int(2), false)
			return value.Null(), nil
		},
		"join": func(ev *expr.Evaluator) (value.Value, error) {
			a, err := ev.Env.Resolve("a")
			if err != nil {
				return value.Null(), err
			}
			b, err := ev.Env.Resolve("b")
			if err != nil {
				return value.Null(), err
			}
			return value.Int(a.Int + b.Int), nil
		},
	}}
	sched := newTestScheduler(runner, &stubResolver{})

	results, err := sched.Run(context.Background(), f, expr.NewEnvironment())
	require.NoError(t, err)
	assert.Equal(t, value.Int(3), results["join"])
}

func TestSchedulerRunErrorBoundaryRecovers(t *testing.T) {
	f := &ir.Flow{
		Name:  "recover",
		Entry: "risky",
		Steps: map[string]*ir.Step{
			"risky": {Name: "risky", Kind: "ai_call", OnError: "handler", CaptureName: "err"},
			"handler": {Name: "handler", Kind: "ai_call", Next: "term"},
			"term":    {Name: "term", Kind: "terminal"},
		},
	}
	runner := &stubRunner{errs: map[string]error{"risky": errors.New("boom")}}
	sched := newTestScheduler(runner, &stubResolver{})

	env := expr.NewEnvironment()
	_, err := sched.Run(context.Background(), f, env)
	require.NoError(t, err)
	captured, rerr := env.Resolve("err")
	require.NoError(t, rerr)
	require.Equal(t, value.KindMap, captured.Kind)
	assert.Equal(t, value.Str("boom"), captured.Map["message"])
	assert.Equal(t, value.Str("risky"), captured.Map["step"])
}

func TestSchedulerRunUnhandledErrorAborts(t *testing.T) {
	f := &ir.Flow{
		Name:  "aborts",
		Entry: "risky",
		Steps: map[string]*ir.Step{
			"risky": {Name: "risky", Kind: "ai_call", Next: "term"},
			"term":  {Name: "term", Kind: "terminal"},
		},
	}
	runner := &stubRunner{errs: map[string]error{"risky": errors.New("boom")}}
	sched := newTestScheduler(runner, &stubResolver{})

	_, err := sched.Run(context.Background(), f, expr.NewEnvironment())
	assert.Error(t, err)
}

func TestSchedulerRunSuspend(t *testing.T) {
	f := &ir.Flow{
		Name:  "waits",
		Entry: "pause",
		Steps: map[string]*ir.Step{
			"pause": {Name: "pause", Kind: "suspend", SuspendPrompt: ir.Literal{Kind: "string", Str: "continue?"}},
		},
	}
	sched := newTestScheduler(&stubRunner{}, &stubResolver{})

	_, err := sched.Run(context.Background(), f, expr.NewEnvironment())
	require.Error(t, err)
	var suspended *Suspended
	require.True(t, errors.As(err, &suspended))
	assert.Equal(t, "pause", suspended.Step)
	assert.Equal(t, value.Str("continue?"), suspended.Prompt)
}

func TestSchedulerRunRedirect(t *testing.T) {
	target := &ir.Flow{
		Name:  "target",
		Entry: "t",
		Steps: map[string]*ir.Step{
			"t": {Name: "t", Kind: "ai_call", Next: "term"},
			"term": {Name: "term", Kind: "terminal"},
		},
	}
	source := &ir.Flow{
		Name:  "source",
		Entry: "jump",
		Steps: map[string]*ir.Step{
			"jump": {Name: "jump", Kind: "redirect", RedirectFlow: "target", RedirectArgs: map[string]ir.Expr{
				"greeting": ir.Literal{Kind: "string", Str: "hi"},
			}},
		},
	}
	runner := &stubRunner{results: map[string]value.Value{"t": value.Str("done")}}
	resolver := &stubResolver{flows: map[string]*ir.Flow{"target": target}}
	sched := newTestScheduler(runner, resolver)

	results, err := sched.Run(context.Background(), source, expr.NewEnvironment())
	require.NoError(t, err)
	assert.Equal(t, value.Str("done"), results["t"])
}
