package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3flow/core/internal/engine/expr"
	"github.com/n3flow/core/internal/engine/frame"
	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/memory"
	"github.com/n3flow/core/internal/engine/observe"
	"github.com/n3flow/core/internal/engine/provider"
	"github.com/n3flow/core/internal/engine/rag"
	"github.com/n3flow/core/internal/engine/record"
	"github.com/n3flow/core/internal/engine/tool"
	"github.com/n3flow/core/internal/engine/txn"
	"github.com/n3flow/core/internal/engine/value"
	"github.com/n3flow/core/internal/platform/resilience"
)

func newTestEvaluator() *expr.Evaluator {
	return expr.New(expr.NewEnvironment(), nil)
}

type echoBackend struct{ reply string }

func (b *echoBackend) Complete(ctx context.Context, req provider.Request) (string, error) {
	return b.reply, nil
}

func newTestEngine(t *testing.T, flows map[string]*ir.Flow) *Engine {
	frames := frame.NewStore()
	records := record.New(frames, &record.Registry{Defs: map[string]*ir.RecordDef{}})
	breakers := resilience.NewBreakerRegistry(resilience.Config{FailureThreshold: 5, HalfOpenMax: 1, OpenTimeout: time.Minute})
	retry := resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Retryable: func(error) bool { return false }}
	providers := map[string]*provider.Adapter{
		"echo": provider.New("echo", &echoBackend{reply: "hello from provider"}, breakers, retry),
	}
	tools := tool.New(map[string]*tool.Spec{}, nil, nil)
	mem := memory.NewStore(nil, nil)
	ragPipeline := rag.New(providers["echo"], nil, frames, nil)
	sink := observe.New(nil, nil, nil)
	txnMgr := txn.New(frames)

	return New(flows, records, providers, tools, mem, ragPipeline, sink, txnMgr, 2)
}

func TestEngineRunAICallStep(t *testing.T) {
	flows := map[string]*ir.Flow{
		"greet": {
			Name:  "greet",
			Entry: "ask",
			Steps: map[string]*ir.Step{
				"ask": {
					Name: "ask", Kind: "ai_call",
					AICall: &ir.AICallSpec{Provider: "echo", Prompt: ir.Literal{Kind: "string", Str: "hi"}},
					Next:   "term",
				},
				"term": {Name: "term", Kind: "terminal"},
			},
		},
	}
	e := newTestEngine(t, flows)

	results, err := e.Run(context.Background(), "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, value.Str("hello from provider"), results["ask"])
}

func TestEngineRunAICallUnknownProvider(t *testing.T) {
	flows := map[string]*ir.Flow{
		"bad": {
			Name:  "bad",
			Entry: "ask",
			Steps: map[string]*ir.Step{
				"ask": {
					Name: "ask", Kind: "ai_call",
					AICall: &ir.AICallSpec{Provider: "nope", Prompt: ir.Literal{Kind: "string", Str: "hi"}},
				},
			},
		},
	}
	e := newTestEngine(t, flows)
	_, err := e.Run(context.Background(), "bad", nil)
	assert.Error(t, err)
}

func TestEngineCallHelperRunsFlowAndReturnsResult(t *testing.T) {
	flows := map[string]*ir.Flow{
		"double": {
			Name:   "double",
			Inputs: []string{"x"},
			Entry:  "return",
			Steps: map[string]*ir.Step{
				"return": {
					Name: "return", Kind: "script",
					Statements: []ir.Stmt{
						ir.ReturnStmt{Value: ir.BinaryOp{Op: "+", Left: ir.Ident{Name: "x"}, Right: ir.Ident{Name: "x"}}},
					},
				},
			},
		},
	}
	e := newTestEngine(t, flows)

	out, err := e.CallHelper("double", []value.Value{value.Int(4)})
	require.NoError(t, err)
	assert.Equal(t, value.Int(8), out)
}

func TestEngineCallHelperUnknownFlow(t *testing.T) {
	e := newTestEngine(t, map[string]*ir.Flow{})
	_, err := e.CallHelper("nope", nil)
	assert.Error(t, err)
}

func TestEngineRunStepUnsupportedKind(t *testing.T) {
	e := newTestEngine(t, map[string]*ir.Flow{})
	step := &ir.Step{Name: "x", Kind: "unknown"}
	ev := newTestEvaluator()
	_, err := e.RunStep(context.Background(), step, ev)
	assert.Error(t, err)
}

func TestEngineRunRAGStepRequiresSpec(t *testing.T) {
	e := newTestEngine(t, map[string]*ir.Flow{})
	step := &ir.Step{Name: "x", Kind: "rag"}
	ev := newTestEvaluator()
	_, err := e.RunStep(context.Background(), step, ev)
	assert.Error(t, err)
}

func TestEngineRunRAGStepReturnsFusedDocuments(t *testing.T) {
	e := newTestEngine(t, map[string]*ir.Flow{})
	step := &ir.Step{
		Name: "ragstep", Kind: "rag",
		RAG: &ir.RAGSpec{Query: ir.Literal{Kind: "string", Str: "what is go"}, Stages: []string{"fusion"}},
	}
	ev := newTestEvaluator()
	out, err := e.RunStep(context.Background(), step, ev)
	require.NoError(t, err)
	assert.Equal(t, value.KindMap, out.Kind)
	_, hasDocs := out.Map["documents"]
	assert.True(t, hasDocs)
}
