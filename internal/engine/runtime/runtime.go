// Package runtime is the composition root for the flow execution engine: it
// wires the Expression Evaluator, Record Layer, Provider Adapter, Tool
// Executor, Memory Composer, RAG Pipeline, and Statement Interpreter behind
// the Step Scheduler's StepRunner/FlowResolver interfaces, so a compiled
// ir.Flow can actually be run end to end.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/n3flow/core/internal/engine/expr"
	"github.com/n3flow/core/internal/engine/flow"
	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/memory"
	"github.com/n3flow/core/internal/engine/observe"
	"github.com/n3flow/core/internal/engine/provider"
	"github.com/n3flow/core/internal/engine/rag"
	"github.com/n3flow/core/internal/engine/record"
	"github.com/n3flow/core/internal/engine/stmt"
	"github.com/n3flow/core/internal/engine/tool"
	"github.com/n3flow/core/internal/engine/txn"
	"github.com/n3flow/core/internal/engine/value"
	"github.com/n3flow/core/internal/platform/svcerr"
)

// Engine owns every wired component and dispatches each step kind the
// Scheduler hands it to the component that implements it.
type Engine struct {
	Flows     map[string]*ir.Flow
	Records   *record.Layer
	Providers map[string]*provider.Adapter
	Tools     *tool.Executor
	Memory    *memory.Store
	RAG       *rag.Pipeline
	Scheduler *flow.Scheduler
}

// New builds an Engine from its already-constructed components and wires a
// Scheduler that dispatches back into it.
func New(
	flows map[string]*ir.Flow,
	records *record.Layer,
	providers map[string]*provider.Adapter,
	tools *tool.Executor,
	mem *memory.Store,
	ragPipeline *rag.Pipeline,
	sink *observe.Sink,
	txnMgr *txn.Manager,
	maxParallel int,
) *Engine {
	e := &Engine{
		Flows:     flows,
		Records:   records,
		Providers: providers,
		Tools:     tools,
		Memory:    mem,
		RAG:       ragPipeline,
	}
	e.Scheduler = flow.New(e, e, sink, txnMgr, maxParallel)
	return e
}

// ResolveFlow satisfies flow.FlowResolver.
func (e *Engine) ResolveFlow(name string) (*ir.Flow, error) {
	f, ok := e.Flows[name]
	if !ok {
		return nil, svcerr.NewNotFoundError("flow", name)
	}
	return f, nil
}

// Run executes the named flow to completion (or suspension/redirect
// exhaustion), returning every step's recorded result.
func (e *Engine) Run(ctx context.Context, flowName string, inputs map[string]value.Value) (map[string]value.Value, error) {
	f, err := e.ResolveFlow(flowName)
	if err != nil {
		return nil, err
	}
	env := expr.NewEnvironment()
	for k, v := range inputs {
		env.Declare(k, v, false)
	}
	return e.Scheduler.Run(ctx, f, env)
}

// CallHelper satisfies expr.HelperResolver: it runs another flow to
// completion with args bound positionally to its declared Inputs, and
// returns whatever that flow's run bound under the conventional "return"
// step result name, so expressions can call flows as functions.
func (e *Engine) CallHelper(name string, args []value.Value) (value.Value, error) {
	f, err := e.ResolveFlow(name)
	if err != nil {
		return value.Null(), err
	}
	env := expr.NewEnvironment()
	for i, input := range f.Inputs {
		if i < len(args) {
			env.Declare(input, args[i], false)
		}
	}
	results, err := e.Scheduler.Run(context.Background(), f, env)
	if err != nil {
		return value.Null(), err
	}
	if v, ok := results["return"]; ok {
		return v, nil
	}
	return value.Null(), nil
}

// RunStep satisfies flow.StepRunner: it dispatches step.Kind to whichever
// component implements it.
func (e *Engine) RunStep(ctx context.Context, step *ir.Step, ev *expr.Evaluator) (value.Value, error) {
	switch step.Kind {
	case "ai_call":
		return e.runAICall(ctx, step, ev)
	case "record":
		return e.runRecord(step, ev)
	case "tool_call":
		return e.runToolCall(ctx, step, ev)
	case "rag":
		return e.runRAG(ctx, step, ev)
	case "script":
		return stmt.Exec(ctx, ev, step.Statements, &stmt.Deps{Runner: e, Step: step.Name})
	default:
		return value.Null(), svcerr.NewStepValidationError(step.Name, "kind", fmt.Sprintf("unsupported step kind %q", step.Kind))
	}
}

func (e *Engine) runAICall(ctx context.Context, step *ir.Step, ev *expr.Evaluator) (value.Value, error) {
	spec := step.AICall
	if spec == nil {
		return value.Null(), svcerr.NewStepValidationError(step.Name, "ai_call", "missing ai_call configuration")
	}
	adapter, ok := e.Providers[spec.Provider]
	if !ok {
		return value.Null(), &svcerr.ProviderConfigError{Provider: spec.Provider, Message: "no such provider is configured"}
	}

	prompt, err := ev.Evaluate(spec.Prompt)
	if err != nil {
		return value.Null(), err
	}
	systemText := ""
	if spec.System != nil {
		sysVal, err := ev.Evaluate(spec.System)
		if err != nil {
			return value.Null(), err
		}
		if sysVal.Kind == value.KindStr {
			systemText = sysVal.Str
		}
	}

	if len(spec.MemoryRefs) > 0 && e.Memory != nil {
		systemText = e.withMemoryContext(ev, spec.MemoryRefs, systemText)
	}

	req := provider.Request{Provider: spec.Provider, Model: spec.Model, System: systemText, Prompt: prompt.String()}
	text, err := adapter.Complete(ctx, req)
	if err != nil {
		return value.Null(), err
	}
	return value.Str(text), nil
}

// withMemoryContext folds recalled memory entries for the refs named in
// spec.MemoryRefs into the system prompt, each ref resolved as a variable
// bound to a memory.Scope in the calling environment.
func (e *Engine) withMemoryContext(ev *expr.Evaluator, refs []string, systemText string) string {
	for _, ref := range refs {
		scopeVal, err := ev.Env.Resolve(ref)
		if err != nil || scopeVal.Kind != value.KindMap {
			continue
		}
		sessionID, _ := scopeVal.Map["session_id"].Native().(string)
		userID, _ := scopeVal.Map["user_id"].Native().(string)
		scope := memory.Scope{SessionID: sessionID, UserID: userID}
		entries := e.Memory.Compose(memory.RecallRule{
			Kinds: []memory.Kind{memory.KindShort, memory.KindLong, memory.KindSemantic, memory.KindProfile},
			Limit: 10,
		}, scope, time.Now())
		for _, entry := range entries {
			systemText += "\n" + entry.Content.String()
		}
	}
	return systemText
}

func (e *Engine) runRecord(step *ir.Step, ev *expr.Evaluator) (value.Value, error) {
	if step.RecordOp == nil {
		return value.Null(), svcerr.NewStepValidationError(step.Name, "record", "missing record operation configuration")
	}
	return e.Records.Execute(step.RecordOp, ev, step.Name)
}

func (e *Engine) runToolCall(ctx context.Context, step *ir.Step, ev *expr.Evaluator) (value.Value, error) {
	spec := step.ToolCall
	if spec == nil {
		return value.Null(), svcerr.NewStepValidationError(step.Name, "tool_call", "missing tool_call configuration")
	}
	params := make(map[string]any, len(spec.Params))
	for k, e := range spec.Params {
		v, err := ev.Evaluate(e)
		if err != nil {
			return value.Null(), err
		}
		params[k] = v.Native()
	}
	result, err := e.Tools.Execute(ctx, spec.Tool, params)
	if err != nil {
		return value.Null(), err
	}
	out := map[string]value.Value{
		"status_code": value.Int(int64(result.StatusCode)),
	}
	if result.JSON != nil {
		out["json"] = value.FromNative(result.JSON)
	} else {
		out["body"] = value.Str(string(result.Body))
	}
	return value.Map(out), nil
}

func (e *Engine) runRAG(ctx context.Context, step *ir.Step, ev *expr.Evaluator) (value.Value, error) {
	spec := step.RAG
	if spec == nil {
		return value.Null(), svcerr.NewStepValidationError(step.Name, "rag", "missing rag configuration")
	}
	if e.RAG == nil {
		return value.Null(), svcerr.NewStepValidationError(step.Name, "rag", "no rag pipeline is configured")
	}
	queryVal, err := ev.Evaluate(spec.Query)
	if err != nil {
		return value.Null(), err
	}
	state, err := e.RAG.Run(ctx, queryVal.String(), spec.Stages)
	if err != nil {
		return value.Null(), err
	}
	docs := make([]value.Value, len(state.Documents))
	for i, d := range state.Documents {
		docs[i] = value.Map(map[string]value.Value{
			"id":     value.Str(d.ID),
			"text":   value.Str(d.Text),
			"score":  value.Float(d.Score),
			"source": value.Str(d.Source),
		})
	}
	return value.Map(map[string]value.Value{
		"answer":    value.Str(state.Answer),
		"documents": value.List(docs),
	}), nil
}
