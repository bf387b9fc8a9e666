// Package flow implements the Flow Graph Builder (C10) and Step Scheduler
// (C11): compiled ir.Flow graphs are walked node by node, with error
// boundaries, bounded-parallel fan-out/join, branch-id-ordered merge,
// cooperative cancellation on sibling failure, and step redirects sharing
// one result set across hops. Grounded on the original runtime's
// flows/phases/execute.py `a_run_flow`/`execute` pair.
package flow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/n3flow/core/internal/engine/expr"
	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/observe"
	"github.com/n3flow/core/internal/engine/txn"
	"github.com/n3flow/core/internal/engine/value"
	"github.com/n3flow/core/internal/platform/svcerr"
)

// defaultMaxParallel bounds concurrent branch execution when a run's
// Scheduler does not override it; mirrors N3_MAX_PARALLEL_TASKS.
const defaultMaxParallel = 4

// StepRunner executes one step's side effect (AI call, record op, tool
// call, rag, script) and returns its result value. The scheduler itself
// handles control flow, including parallel and transaction steps; the other
// step kinds are dispatched here so the runtime package can wire in every
// component.
type StepRunner interface {
	RunStep(ctx context.Context, step *ir.Step, ev *expr.Evaluator) (value.Value, error)
}

// FlowResolver looks up a named flow for redirects and helper calls.
type FlowResolver interface {
	ResolveFlow(name string) (*ir.Flow, error)
}

// Scheduler walks a compiled flow graph, invoking a StepRunner for each
// step's side effect and handling control flow itself.
type Scheduler struct {
	Runner      StepRunner
	Flows       FlowResolver
	Sink        *observe.Sink
	Txn         *txn.Manager
	MaxParallel int
}

// New builds a Scheduler with the given dependencies; maxParallel <= 0
// falls back to defaultMaxParallel.
func New(runner StepRunner, flows FlowResolver, sink *observe.Sink, txnMgr *txn.Manager, maxParallel int) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	return &Scheduler{Runner: runner, Flows: flows, Sink: sink, Txn: txnMgr, MaxParallel: maxParallel}
}

// runTransactionBody runs a transaction step's body steps sequentially,
// wrapped in the Transaction Manager so the whole frame store rolls back if
// any body step fails.
func (s *Scheduler) runTransactionBody(ctx context.Context, f *ir.Flow, step *ir.Step, env *expr.Environment, results *StepResults) error {
	if s.Txn == nil {
		return fmt.Errorf("transaction step %q has no transaction manager configured", step.Name)
	}
	return s.Txn.Run(func() error {
		for _, bodyStep := range step.Body {
			if err := s.runNode(ctx, f, bodyStep, env, results); err != nil {
				return err
			}
		}
		return nil
	})
}

// StepResults accumulates every step's output across the (possibly
// redirected) execution of one flow run, keyed by step name, surviving
// redirects the way the original runtime's shared step_results does.
type StepResults struct {
	mu      sync.Mutex
	results map[string]value.Value
}

func newStepResults() *StepResults {
	return &StepResults{results: make(map[string]value.Value)}
}

func (r *StepResults) set(name string, v value.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[name] = v
}

// Snapshot returns a copy of every step result recorded so far.
func (r *StepResults) Snapshot() map[string]value.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]value.Value, len(r.results))
	for k, v := range r.results {
		out[k] = v
	}
	return out
}

// Suspended is returned (wrapped in an error via errors.As) when a flow run
// hits a `suspend` step awaiting external input.
type Suspended struct {
	Flow   string
	Step   string
	Prompt value.Value
}

func (s *Suspended) Error() string {
	return fmt.Sprintf("flow %q suspended at step %q", s.Flow, s.Step)
}

func (s *Suspended) Unwrap() error { return svcerr.ErrSuspended }

// Run executes f starting at its entry step using env for variable
// resolution, following redirects until a terminal step, a suspend, or an
// unhandled error is reached.
func (s *Scheduler) Run(ctx context.Context, f *ir.Flow, env *expr.Environment) (map[string]value.Value, error) {
	results := newStepResults()
	currentFlow := f
	stepName := f.Entry

	for {
		runCtx, endRun := s.Sink.StartStep(ctx, currentFlow.Name, "<flow>", "flow_run")
		err := s.runNode(runCtx, currentFlow, stepName, env, results)
		var redirect *Redirect
		if asRedirect(err, &redirect) {
			endRun(nil, false)
			nextFlow, ferr := s.Flows.ResolveFlow(redirect.FlowName)
			if ferr != nil {
				return results.Snapshot(), ferr
			}
			currentFlow = nextFlow
			stepName = nextFlow.Entry
			env = env.Child()
			for k, v := range redirect.Args {
				env.Declare(k, v, false)
			}
			continue
		}
		var suspended *Suspended
		if asSuspended(err, &suspended) {
			endRun(nil, true)
			return results.Snapshot(), err
		}
		endRun(err, false)
		return results.Snapshot(), err
	}
}

// Redirect signals that flow execution should continue in a different
// named flow, sharing the same StepResults set (spec's redirect
// semantics). Exported so the Statement Interpreter's `go to flow` form
// can raise one directly from inside a script step.
type Redirect struct {
	FlowName string
	Args     map[string]value.Value
}

func (r *Redirect) Error() string { return fmt.Sprintf("redirect to %q", r.FlowName) }

func asRedirect(err error, target **Redirect) bool {
	r, ok := err.(*Redirect)
	if ok {
		*target = r
	}
	return ok
}

func asSuspended(err error, target **Suspended) bool {
	s, ok := err.(*Suspended)
	if ok {
		*target = s
	}
	return ok
}

// runNode implements the node-traversal closure of the original runtime:
// dispatch the current step's side effect, record its result, and follow
// Next/ThenNext/ElseNext/error-boundary/parallel/transaction/redirect/
// suspend control flow until a terminal step.
func (s *Scheduler) runNode(ctx context.Context, f *ir.Flow, name string, env *expr.Environment, results *StepResults) error {
	for name != "" {
		step, ok := f.Steps[name]
		if !ok {
			return fmt.Errorf("flow %q has no step named %q", f.Name, name)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		ev := expr.New(env, nil)

		switch step.Kind {
		case "terminal":
			return nil

		case "suspend":
			prompt := value.Null()
			if step.SuspendPrompt != nil {
				v, err := ev.Evaluate(step.SuspendPrompt)
				if err != nil {
					return err
				}
				prompt = v
			}
			return &Suspended{Flow: f.Name, Step: name, Prompt: prompt}

		case "redirect":
			args := make(map[string]value.Value, len(step.RedirectArgs))
			for k, e := range step.RedirectArgs {
				v, err := ev.Evaluate(e)
				if err != nil {
					return err
				}
				args[k] = v
			}
			return &Redirect{FlowName: step.RedirectFlow, Args: args}

		case "condition":
			cond, err := ev.Evaluate(step.Condition)
			if err != nil {
				if handleErr := s.handleStepError(step, env, results, err); handleErr != nil {
					return handleErr
				}
				name = step.OnError
				continue
			}
			if cond.Truthy() {
				name = step.ThenNext
			} else {
				name = step.ElseNext
			}
			continue

		case "parallel":
			if err := s.runParallel(ctx, f, step, env, results); err != nil {
				if handleErr := s.handleStepError(step, env, results, err); handleErr != nil {
					return handleErr
				}
				name = step.OnError
				continue
			}
			name = step.JoinNext
			continue

		case "transaction":
			if err := s.runTransactionBody(ctx, f, step, env, results); err != nil {
				if handleErr := s.handleStepError(step, env, results, err); handleErr != nil {
					return handleErr
				}
				name = step.OnError
				continue
			}
			name = step.Next
			continue

		default:
			stepCtx, endStep := s.Sink.StartStep(ctx, f.Name, name, step.Kind)
			result, err := s.Runner.RunStep(stepCtx, step, ev)
			endStep(err, false)
			if err != nil {
				// A script step's inline `go to flow`/`ask user for` forms
				// raise a Redirect/Suspended directly; let those propagate
				// to Run() untouched instead of treating them as a step
				// failure the error boundary should capture.
				var redirect *Redirect
				var suspended *Suspended
				if asRedirect(err, &redirect) || asSuspended(err, &suspended) {
					return err
				}
				if handleErr := s.handleStepError(step, env, results, err); handleErr != nil {
					return handleErr
				}
				name = step.OnError
				continue
			}
			results.set(name, result)
			if step.CaptureName != "" {
				env.Declare(step.CaptureName, result, false)
			}
			name = step.Next
			continue
		}
	}
	return nil
}

// handleStepError implements the error-boundary semantics: if the step
// declares an OnError target, the error is captured (optionally bound to
// CaptureName) and control continues there; otherwise the error propagates
// and aborts the run.
func (s *Scheduler) handleStepError(step *ir.Step, env *expr.Environment, results *StepResults, err error) error {
	if step.OnError == "" {
		return svcerr.WrapStepError("", step.Name, step.Kind, err)
	}
	if step.CaptureName != "" {
		env.Declare(step.CaptureName, value.Map(map[string]value.Value{
			"message": value.Str(err.Error()),
			"step":    value.Str(step.Name),
		}), false)
	}
	return nil
}

// runParallel fans out step.Branches with bounded concurrency, merges
// results in branch-id order for determinism, and cancels sibling branches
// cooperatively as soon as one fails.
func (s *Scheduler) runParallel(ctx context.Context, f *ir.Flow, step *ir.Step, env *expr.Environment, results *StepResults) error {
	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, s.MaxParallel)
	var wg sync.WaitGroup
	errs := make([]error, len(step.Branches))
	branchEnvs := make([]*expr.Environment, len(step.Branches))

	for i, branch := range step.Branches {
		wg.Add(1)
		go func(i int, branch ir.Branch) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if branchCtx.Err() != nil {
				errs[i] = branchCtx.Err()
				return
			}
			branchEnv := env.Clone()
			branchEnvs[i] = branchEnv
			if err := s.runNode(branchCtx, f, branch.Entry, branchEnv, results); err != nil {
				errs[i] = err
				cancel()
			}
		}(i, branch)
	}
	wg.Wait()

	order := make([]int, len(step.Branches))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return step.Branches[order[a]].ID < step.Branches[order[b]].ID })

	// Merge each successful branch's variable bindings back into the parent
	// scope in branch-id order, so a later branch's write to the same name
	// wins deterministically and a join step can resolve them.
	for _, i := range order {
		if errs[i] != nil {
			continue
		}
		for name, v := range branchEnvs[i].LocalVars() {
			if env.Has(name) {
				_ = env.Assign(name, v)
			} else {
				env.Declare(name, v, false)
			}
		}
	}

	for _, i := range order {
		if errs[i] != nil {
			return errs[i]
		}
	}
	return nil
}
