// Package stmt implements the Statement Interpreter (C12): executing a
// script step's ir.Stmt list (let/set/if/match/for-each/repeat/retry/try/
// guard/ask/form/log/note/checkpoint/action/goto/return) against an
// expr.Environment, one statement at a time. Grounded on the original
// runtime's script-step execution loop, generalized from Python statement
// nodes to the ir.Stmt sum type.
package stmt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/n3flow/core/internal/engine/expr"
	"github.com/n3flow/core/internal/engine/flow"
	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/value"
	"github.com/n3flow/core/internal/platform/svcerr"
)

// Well-known environment variable names the interpreter uses to thread
// FlowState's data bag and log/note/checkpoint/input streams through the
// ordinary variable environment, rather than a side-channel struct — state
// is just another set of bindings, visible to expressions the same way any
// other variable is.
const (
	stateVar       = "state"
	logsVar        = "__logs__"
	notesVar       = "__notes__"
	checkpointsVar = "__checkpoints__"
	inputsVar      = "__inputs__"
)

// StepRunner executes a synthesized step for an inline `do ai|agent|tool`
// action statement, matching flow.StepRunner's shape. Kept as a local
// interface (rather than importing flow.StepRunner) since only RunStep is
// needed here.
type StepRunner interface {
	RunStep(ctx context.Context, step *ir.Step, ev *expr.Evaluator) (value.Value, error)
}

// Deps bundles the Statement Interpreter's external dependencies: a runner
// for inline actions and the name of the enclosing step, used for
// suspend/redirect signal context.
type Deps struct {
	Runner StepRunner
	Step   string
}

// returnSignal unwinds Exec when a ReturnStmt is hit, carrying its value
// back to the caller without needing a second return channel.
type returnSignal struct{ value value.Value }

func (r *returnSignal) Error() string { return "return" }

// Exec runs stmts in order against ev's environment, returning the value of
// the first ReturnStmt encountered, or null if the block falls off the end
// without one. Any other error (including a *flow.Redirect or
// *flow.Suspended raised by a `go to flow`/`ask user for` statement)
// propagates to the caller unchanged.
func Exec(ctx context.Context, ev *expr.Evaluator, stmts []ir.Stmt, deps *Deps) (value.Value, error) {
	for _, s := range stmts {
		_, err := execOne(ctx, ev, s, deps)
		if err != nil {
			if rs, ok := err.(*returnSignal); ok {
				return rs.value, nil
			}
			return value.Null(), err
		}
	}
	return value.Null(), nil
}

// execBlock runs a nested statement list (loop/branch/catch body), letting
// every signal (return, redirect, suspend, plain error) bubble up
// untouched; only the top-level Exec call resolves a returnSignal into a
// value.
func execBlock(ctx context.Context, ev *expr.Evaluator, stmts []ir.Stmt, deps *Deps) error {
	for _, s := range stmts {
		if _, err := execOne(ctx, ev, s, deps); err != nil {
			return err
		}
	}
	return nil
}

// isControlSignal reports whether err is a non-error control-flow signal
// (return, redirect, suspend) that try/retry must let pass through rather
// than treat as a catchable/retryable failure.
func isControlSignal(err error) bool {
	if _, ok := err.(*returnSignal); ok {
		return true
	}
	if errors.Is(err, svcerr.ErrSuspended) {
		return true
	}
	var redirect *flow.Redirect
	return errors.As(err, &redirect)
}

func execOne(ctx context.Context, ev *expr.Evaluator, s ir.Stmt, deps *Deps) (value.Value, error) {
	switch n := s.(type) {
	case ir.LetStmt:
		return value.Null(), execLet(ev, n)

	case ir.AssignStmt:
		v, err := ev.Evaluate(n.Value)
		if err != nil {
			return value.Null(), err
		}
		if err := ev.Env.Assign(n.Name, v); err != nil {
			return value.Null(), err
		}
		return value.Null(), nil

	case ir.SetStateStmt:
		v, err := ev.Evaluate(n.Value)
		if err != nil {
			return value.Null(), err
		}
		state := getOrCreateMap(ev, stateVar)
		state[n.Field] = v
		return value.Null(), nil

	case ir.IfStmt:
		return value.Null(), execIf(ctx, ev, n, deps)

	case ir.MatchStmt:
		return value.Null(), execMatch(ctx, ev, n, deps)

	case ir.ForEachStmt:
		return value.Null(), execForEach(ctx, ev, n, deps)

	case ir.RepeatCountStmt:
		return value.Null(), execRepeatCount(ctx, ev, n, deps)

	case ir.RetryStmt:
		return value.Null(), execRetry(ctx, ev, n, deps)

	case ir.TryStmt:
		return value.Null(), execTry(ctx, ev, n, deps)

	case ir.GuardStmt:
		return value.Null(), execGuard(ctx, ev, n, deps)

	case ir.AskUserStmt:
		return value.Null(), execAskUser(ev, n, deps)

	case ir.FormStmt:
		return value.Null(), execForm(ev, n, deps)

	case ir.LogStmt:
		return value.Null(), execLog(ev, n)

	case ir.NoteStmt:
		msg, err := ev.Evaluate(n.Message)
		if err != nil {
			return value.Null(), err
		}
		appendList(ev, notesVar, msg)
		return value.Null(), nil

	case ir.CheckpointStmt:
		label, err := ev.Evaluate(n.Label)
		if err != nil {
			return value.Null(), err
		}
		appendList(ev, checkpointsVar, label)
		return value.Null(), nil

	case ir.ActionStmt:
		return value.Null(), execAction(ctx, ev, n, deps)

	case ir.GotoStmt:
		return value.Null(), execGoto(ev, n)

	case ir.ReturnStmt:
		v, err := ev.Evaluate(n.Value)
		if err != nil {
			return value.Null(), err
		}
		return value.Null(), &returnSignal{value: v}

	default:
		return value.Null(), fmt.Errorf("unsupported statement node %T", s)
	}
}

func execLet(ev *expr.Evaluator, n ir.LetStmt) error {
	var source ir.Expr = n.Value
	if len(n.Pipeline) > 0 {
		source = ir.Pipeline{Source: n.Value, Stages: n.Pipeline}
	}
	v, err := ev.Evaluate(source)
	if err != nil {
		return err
	}
	if n.Pattern != nil {
		return bindPattern(ev, n.Pattern, v)
	}
	ev.Env.Declare(n.Name, v, n.Constant)
	return nil
}

func execIf(ctx context.Context, ev *expr.Evaluator, n ir.IfStmt, deps *Deps) error {
	cond, err := ev.Evaluate(n.Condition)
	if err != nil {
		return err
	}
	if cond.Kind != value.KindBool {
		return fmt.Errorf("if condition did not evaluate to a boolean value")
	}
	branch := n.Else
	if cond.Bool {
		branch = n.Then
	}
	child := ev.Env.Child()
	if n.As != "" {
		child.Declare(n.As, cond, false)
	}
	return execBlock(ctx, ev.WithEnv(child), branch, deps)
}

func execGuard(ctx context.Context, ev *expr.Evaluator, n ir.GuardStmt, deps *Deps) error {
	cond, err := ev.Evaluate(n.Condition)
	if err != nil {
		return err
	}
	if cond.Truthy() {
		return nil
	}
	child := ev.Env.Child()
	return execBlock(ctx, ev.WithEnv(child), n.Body, deps)
}

func execForEach(ctx context.Context, ev *expr.Evaluator, n ir.ForEachStmt, deps *Deps) error {
	coll, err := ev.Evaluate(n.Collection)
	if err != nil {
		return err
	}
	if coll.Kind != value.KindList {
		return fmt.Errorf("for each requires a list, got %s", coll.Kind)
	}
	for _, item := range coll.List {
		child := ev.Env.Child()
		childEv := ev.WithEnv(child)
		if n.Pattern != nil {
			if err := bindPattern(childEv, n.Pattern, item); err != nil {
				return err
			}
		} else {
			child.Declare(n.Var, item, false)
		}
		if err := execBlock(ctx, childEv, n.Body, deps); err != nil {
			return err
		}
		expirePattern(child, n.Var, n.Pattern)
	}
	return nil
}

func execRepeatCount(ctx context.Context, ev *expr.Evaluator, n ir.RepeatCountStmt, deps *Deps) error {
	countVal, err := ev.Evaluate(n.Count)
	if err != nil {
		return err
	}
	if countVal.Kind != value.KindInt {
		return fmt.Errorf("repeat up to N times requires an integer count, got %s", countVal.Kind)
	}
	for i := int64(0); i < countVal.Int; i++ {
		child := ev.Env.Child()
		if err := execBlock(ctx, ev.WithEnv(child), n.Body, deps); err != nil {
			return err
		}
	}
	return nil
}

func execRetry(ctx context.Context, ev *expr.Evaluator, n ir.RetryStmt, deps *Deps) error {
	maxAttempts := n.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	base := n.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		child := ev.Env.Child()
		err := execBlock(ctx, ev.WithEnv(child), n.Body, deps)
		if err == nil {
			return nil
		}
		if isControlSignal(err) {
			return err
		}
		lastErr = err
		if n.Backoff && attempt < maxAttempts-1 {
			delay := base * time.Duration(int64(1)<<uint(attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func execTry(ctx context.Context, ev *expr.Evaluator, n ir.TryStmt, deps *Deps) error {
	child := ev.Env.Child()
	err := execBlock(ctx, ev.WithEnv(child), n.Body, deps)
	if err == nil {
		return nil
	}
	if isControlSignal(err) {
		return err
	}

	catchChild := ev.Env.Child()
	catchEv := ev.WithEnv(catchChild)
	if n.CatchName != "" {
		catchChild.Declare(n.CatchName, value.Map(map[string]value.Value{
			"kind":    value.Str(errorKind(err)),
			"message": value.Str(err.Error()),
		}), false)
	}
	return execBlock(ctx, catchEv, n.Catch, deps)
}

func execAskUser(ev *expr.Evaluator, n ir.AskUserStmt, deps *Deps) error {
	if ev.Env.Has(n.Name) {
		return nil
	}
	label, err := ev.Evaluate(n.Label)
	if err != nil {
		return err
	}
	appendList(ev, inputsVar, value.Map(map[string]value.Value{
		"name":  value.Str(n.Name),
		"label": label,
	}))
	return &flow.Suspended{Step: stepName(deps), Prompt: label}
}

func execForm(ev *expr.Evaluator, n ir.FormStmt, deps *Deps) error {
	var missing []string
	for _, f := range n.Fields {
		if !ev.Env.Has(f.Var) {
			missing = append(missing, f.Var)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	label, err := ev.Evaluate(n.Label)
	if err != nil {
		return err
	}
	appendList(ev, inputsVar, value.Map(map[string]value.Value{
		"name":   value.Str(n.Name),
		"label":  label,
		"fields": value.List(strList(missing)),
	}))
	return &flow.Suspended{Step: stepName(deps), Prompt: label}
}

func execLog(ev *expr.Evaluator, n ir.LogStmt) error {
	msg, err := ev.Evaluate(n.Message)
	if err != nil {
		return err
	}
	level := n.Level
	if level == "" {
		level = "info"
	}
	entry := map[string]value.Value{"level": value.Str(level), "message": msg}
	if n.Metadata != nil {
		meta, err := ev.Evaluate(n.Metadata)
		if err != nil {
			return err
		}
		entry["metadata"] = meta
	}
	appendList(ev, logsVar, value.Map(entry))
	return nil
}

func execAction(ctx context.Context, ev *expr.Evaluator, n ir.ActionStmt, deps *Deps) error {
	var result value.Value
	var err error
	switch n.Kind {
	case "flow":
		result, err = ev.Evaluate(ir.HelperCall{Name: n.Target, Args: sortedArgExprs(n.Args)})
	case "ai", "agent", "tool":
		if deps == nil || deps.Runner == nil {
			return fmt.Errorf("inline %q action has no step runner configured", n.Kind)
		}
		step := synthesizeActionStep(n, stepName(deps))
		result, err = deps.Runner.RunStep(ctx, step, ev)
	default:
		return fmt.Errorf("unsupported inline action kind %q", n.Kind)
	}
	if err != nil {
		return err
	}
	if n.Bind != "" {
		ev.Env.Declare(n.Bind, result, false)
	}
	return nil
}

func execGoto(ev *expr.Evaluator, n ir.GotoStmt) error {
	if n.Kind == "page" {
		appendList(ev, checkpointsVar, value.Str(n.Target))
		return nil
	}
	args := make(map[string]value.Value, len(n.Args))
	for k, e := range n.Args {
		v, err := ev.Evaluate(e)
		if err != nil {
			return err
		}
		args[k] = v
	}
	return &flow.Redirect{FlowName: n.Target, Args: args}
}

func execMatch(ctx context.Context, ev *expr.Evaluator, n ir.MatchStmt, deps *Deps) error {
	subject, err := ev.Evaluate(n.Subject)
	if err != nil {
		return err
	}
	for _, c := range n.Cases {
		switch c.Kind {
		case "literal":
			pat, err := ev.Evaluate(c.Pattern)
			if err != nil {
				return err
			}
			if value.Equal(subject, pat) {
				return runMatchBody(ctx, ev, c.As, subject, c.Body, deps)
			}
		case "success":
			if ok, payload, matched := resultShape(subject); matched && ok {
				return runMatchBody(ctx, ev, c.As, payload, c.Body, deps)
			}
		case "error":
			if ok, payload, matched := resultShape(subject); matched && !ok {
				return runMatchBody(ctx, ev, c.As, payload, c.Body, deps)
			}
		case "otherwise":
			return runMatchBody(ctx, ev, "", value.Null(), c.Body, deps)
		}
	}
	if n.Default != nil {
		return execBlock(ctx, ev, n.Default, deps)
	}
	if isResultShaped(subject) {
		return fmt.Errorf("match: no branch matched a result-shaped value and no otherwise/default case was given")
	}
	return nil
}

func runMatchBody(ctx context.Context, ev *expr.Evaluator, bindName string, bindVal value.Value, body []ir.Stmt, deps *Deps) error {
	child := ev.Env.Child()
	if bindName != "" {
		child.Declare(bindName, bindVal, false)
	}
	return execBlock(ctx, ev.WithEnv(child), body, deps)
}

// resultShape reports whether v looks like a `{ok: bool, ...}` result
// value, and if so whether it's a success, along with its payload (the
// "value" field on success, "error"/"message" field on failure, falling
// back to the whole map).
func resultShape(v value.Value) (ok bool, payload value.Value, matched bool) {
	if v.Kind != value.KindMap {
		return false, value.Null(), false
	}
	okVal, present := v.Map["ok"]
	if !present || okVal.Kind != value.KindBool {
		return false, value.Null(), false
	}
	if okVal.Bool {
		if p, has := v.Map["value"]; has {
			return true, p, true
		}
		return true, v, true
	}
	if p, has := v.Map["error"]; has {
		return false, p, true
	}
	if p, has := v.Map["message"]; has {
		return false, p, true
	}
	return false, v, true
}

func isResultShaped(v value.Value) bool {
	_, _, matched := resultShape(v)
	return matched
}

func bindPattern(ev *expr.Evaluator, pat *ir.LetPattern, v value.Value) error {
	switch pat.Kind {
	case "record":
		if v.Kind != value.KindMap && v.Kind != value.KindRecord {
			return fmt.Errorf("destructuring pattern requires a record or map value, got %s", v.Kind)
		}
		fields := fieldsOf(v)
		for _, f := range pat.Fields {
			fv, ok := fields[f.Field]
			if !ok {
				return fmt.Errorf("destructuring: missing field %q", f.Field)
			}
			name := f.As
			if name == "" {
				name = f.Field
			}
			ev.Env.Declare(name, fv, false)
		}
		return nil
	case "list":
		if v.Kind != value.KindList {
			return fmt.Errorf("destructuring pattern requires a list value, got %s", v.Kind)
		}
		if len(v.List) < len(pat.Elems) {
			return fmt.Errorf("destructuring: list has only %d elements, pattern needs %d", len(v.List), len(pat.Elems))
		}
		for i, name := range pat.Elems {
			ev.Env.Declare(name, v.List[i], false)
		}
		return nil
	default:
		return fmt.Errorf("unsupported destructuring pattern kind %q", pat.Kind)
	}
}

func fieldsOf(v value.Value) map[string]value.Value {
	if v.Kind == value.KindRecord && v.Record != nil {
		return v.Record.Fields
	}
	return v.Map
}

func expirePattern(env *expr.Environment, varName string, pat *ir.LetPattern) {
	if pat == nil {
		env.Expire(varName)
		return
	}
	for _, f := range pat.Fields {
		name := f.As
		if name == "" {
			name = f.Field
		}
		env.Expire(name)
	}
	for _, name := range pat.Elems {
		env.Expire(name)
	}
}

func getOrCreateMap(ev *expr.Evaluator, name string) map[string]value.Value {
	if ev.Env.Has(name) {
		if v, err := ev.Env.Resolve(name); err == nil && v.Kind == value.KindMap && v.Map != nil {
			return v.Map
		}
	}
	m := make(map[string]value.Value)
	ev.Env.Declare(name, value.Map(m), false)
	return m
}

func appendList(ev *expr.Evaluator, name string, item value.Value) {
	var list []value.Value
	has := ev.Env.Has(name)
	if has {
		if v, err := ev.Env.Resolve(name); err == nil && v.Kind == value.KindList {
			list = v.List
		}
	}
	list = append(list, item)
	if has {
		_ = ev.Env.Assign(name, value.List(list))
	} else {
		ev.Env.Declare(name, value.List(list), false)
	}
}

func strList(items []string) []value.Value {
	out := make([]value.Value, len(items))
	for i, s := range items {
		out[i] = value.Str(s)
	}
	return out
}

func sortedArgExprs(args map[string]ir.Expr) []ir.Expr {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ir.Expr, len(keys))
	for i, k := range keys {
		out[i] = args[k]
	}
	return out
}

func synthesizeActionStep(n ir.ActionStmt, parentStep string) *ir.Step {
	name := parentStep + ".action." + n.Target
	switch n.Kind {
	case "tool":
		return &ir.Step{Name: name, Kind: "tool_call", ToolCall: &ir.ToolCallSpec{Tool: n.Target, Params: n.Args}}
	case "ai", "agent":
		var prompt ir.Expr = ir.Literal{Kind: "string", Str: ""}
		if p, ok := n.Args["prompt"]; ok {
			prompt = p
		}
		return &ir.Step{Name: name, Kind: "ai_call", AICall: &ir.AICallSpec{Provider: n.Target, Prompt: prompt}}
	default:
		return &ir.Step{Name: name, Kind: "terminal"}
	}
}

func stepName(deps *Deps) string {
	if deps == nil {
		return ""
	}
	return deps.Step
}

// errorKind derives a short, stable kind string from a flow engine error,
// matching the sentinel taxonomy try/catch's `err.kind` exposes.
func errorKind(err error) string {
	switch {
	case errors.Is(err, svcerr.ErrNotFound):
		return "not_found"
	case errors.Is(err, svcerr.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, svcerr.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, svcerr.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, svcerr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, svcerr.ErrConflict):
		return "conflict"
	case errors.Is(err, svcerr.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, svcerr.ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, svcerr.ErrTimeout):
		return "timeout"
	case errors.Is(err, svcerr.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, svcerr.ErrFlowAborted):
		return "flow_aborted"
	default:
		return "error"
	}
}
