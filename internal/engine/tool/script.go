package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// GojaSandbox implements LocalFunction by running a registered JS source per
// tool inside a fresh goja.Runtime per call, for isolation between calls.
// Grounded on system/tee's gojaScriptEngine, generalized from TEE enclave
// simulation to local_function tool execution.
type GojaSandbox struct {
	mu      sync.RWMutex
	scripts map[string]string // function ref -> JS source defining function `run(input)`
}

// NewGojaSandbox builds an empty sandbox; register scripts with Register.
func NewGojaSandbox() *GojaSandbox {
	return &GojaSandbox{scripts: make(map[string]string)}
}

// Register compiles and stores the JS source for a function ref, validating
// it before accepting it.
func (s *GojaSandbox) Register(ref, script string) error {
	if _, err := goja.Compile(ref, script, false); err != nil {
		return fmt.Errorf("compile local function %q: %w", ref, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[ref] = script
	return nil
}

// Call runs the registered script for ref, invoking its top-level `run`
// function with args and returning the exported result.
func (s *GojaSandbox) Call(ctx context.Context, ref string, args map[string]any) (any, error) {
	s.mu.RLock()
	script, ok := s.scripts[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no local function registered for %q", ref)
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	logs := make([]string, 0)
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			logs = append(logs, arg.String())
		}
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
	_ = vm.Set("input", vm.ToValue(args))

	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("run local function %q: %w", ref, err)
	}

	entry, ok := goja.AssertFunction(vm.Get("run"))
	if !ok {
		return nil, fmt.Errorf("local function %q does not define run(input)", ref)
	}

	done := make(chan struct{})
	var result goja.Value
	var callErr error
	go func() {
		defer close(done)
		result, callErr = entry(goja.Undefined(), vm.Get("input"))
	}()
	select {
	case <-ctx.Done():
		vm.Interrupt("cancelled")
		<-done
		return nil, ctx.Err()
	case <-done:
	}
	if callErr != nil {
		return nil, fmt.Errorf("call local function %q: %w", ref, callErr)
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	exported := result.Export()
	if _, err := json.Marshal(exported); err != nil {
		return nil, fmt.Errorf("local function %q returned a non-serializable value: %w", ref, err)
	}
	return exported, nil
}
