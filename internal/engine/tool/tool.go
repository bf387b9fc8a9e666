// Package tool implements the Tool Executor (C7): calling HTTP, GraphQL,
// multipart, and local_function tools with auth, per-tool rate limiting,
// retry, and interceptors. Grounded on infrastructure/ratelimit for the
// limiter shape and infrastructure/resilience for retry/backoff.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/n3flow/core/internal/platform/resilience"
	"github.com/n3flow/core/internal/platform/svcerr"
)

// Kind selects the transport a tool call uses.
type Kind string

const (
	KindHTTP           Kind = "http"
	KindGraphQL        Kind = "graphql"
	KindMultipart      Kind = "multipart"
	KindLocalFunction  Kind = "local_function"
)

// AuthKind selects how a tool call authenticates.
type AuthKind string

const (
	AuthNone       AuthKind = "none"
	AuthBearer     AuthKind = "bearer"
	AuthBasic      AuthKind = "basic"
	AuthAPIKey     AuthKind = "api_key"
	AuthHeader     AuthKind = "header"
	AuthOAuth2Static AuthKind = "oauth2_static"
)

// Auth configures how a tool call is authenticated.
type Auth struct {
	Kind       AuthKind
	Token      string
	Username   string
	Password   string
	HeaderName string
	HeaderVal  string
}

func (a Auth) apply(req *http.Request) {
	switch a.Kind {
	case AuthBearer, AuthOAuth2Static:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	case AuthAPIKey:
		name := a.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		req.Header.Set(name, a.Token)
	case AuthHeader:
		req.Header.Set(a.HeaderName, a.HeaderVal)
	}
}

// Interceptor observes (and may wrap) a tool call; used for logging,
// response caching, or payload scrubbing.
type Interceptor func(ctx context.Context, call Call, next func(context.Context, Call) (Result, error)) (Result, error)

// Call is one resolved tool invocation.
type Call struct {
	Tool   string
	Method string
	URL    string
	Body   map[string]any
	Query  string // graphql query body
}

// Result is what a tool call returns to the flow step.
type Result struct {
	StatusCode int
	Body       []byte
	JSON       any
}

// LocalFunction executes a local_function tool body in a sandbox; the goja
// implementation lives in script.go.
type LocalFunction interface {
	Call(ctx context.Context, name string, args map[string]any) (any, error)
}

// Spec is a compiled tool definition.
type Spec struct {
	Name        string
	Kind        Kind
	BaseURL     string
	Method      string
	Auth        Auth
	RateLimit   RateLimitConfig
	Retry       RetryPolicy
	SchemaProps map[string]string // field -> expected JSON type, for request validation
	FunctionRef string             // local_function script identifier
}

// Executor runs tool calls against configured Specs.
type Executor struct {
	Client        *http.Client
	Specs         map[string]*Spec
	limiters      map[string]*RateLimiter
	LocalFn       LocalFunction
	Interceptors  []Interceptor
}

// New builds an Executor from a set of tool specs.
func New(specs map[string]*Spec, client *http.Client, localFn LocalFunction) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	limiters := make(map[string]*RateLimiter, len(specs))
	for name, spec := range specs {
		limiters[name] = NewRateLimiter(spec.RateLimit)
	}
	return &Executor{Client: client, Specs: specs, limiters: limiters, LocalFn: localFn}
}

// Execute resolves the named tool, applies rate limiting + validation, and
// runs the call (with retry, through any installed interceptors).
func (e *Executor) Execute(ctx context.Context, toolName string, params map[string]any) (Result, error) {
	spec, ok := e.Specs[toolName]
	if !ok {
		return Result{}, svcerr.NewNotFoundError("tool", toolName)
	}

	if err := validateSchema(spec, params); err != nil {
		return Result{}, err
	}

	limiter := e.limiters[toolName]
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("%w: %v", svcerr.ErrRateLimited, err)
		}
	}

	call := Call{Tool: toolName, Method: spec.Method, URL: spec.BaseURL, Body: params}

	run := func(ctx context.Context, call Call) (Result, error) {
		return e.dispatch(ctx, spec, call)
	}
	chain := run
	for i := len(e.Interceptors) - 1; i >= 0; i-- {
		ic := e.Interceptors[i]
		next := chain
		chain = func(ctx context.Context, c Call) (Result, error) { return ic(ctx, c, next) }
	}

	retry := spec.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	retryable := !retry.IdempotentOnly || IsIdempotent(spec.Method)

	var result Result
	rc := resilience.RetryConfig{
		MaxAttempts: retry.MaxAttempts,
		BaseDelay:   retry.BaseDelay,
		MaxDelay:    retry.MaxDelay,
		Retryable:   func(error) bool { return retryable },
	}
	switch retry.Backoff {
	case BackoffNone:
		rc.BaseDelay, rc.MaxDelay = 0, 0
	case BackoffConstant:
		rc.MaxDelay = rc.BaseDelay
	}
	err := resilience.Retry(ctx, rc, func() error {
		r, err := chain(ctx, call)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (e *Executor) dispatch(ctx context.Context, spec *Spec, call Call) (Result, error) {
	switch spec.Kind {
	case KindHTTP:
		return e.doHTTP(ctx, spec, call)
	case KindGraphQL:
		return e.doGraphQL(ctx, spec, call)
	case KindMultipart:
		return e.doMultipart(ctx, spec, call)
	case KindLocalFunction:
		return e.doLocalFunction(ctx, spec, call)
	default:
		return Result{}, svcerr.NewValidationError("kind", fmt.Sprintf("unsupported tool kind %q", spec.Kind))
	}
}

func (e *Executor) doHTTP(ctx context.Context, spec *Spec, call Call) (Result, error) {
	var body io.Reader
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead && len(call.Body) > 0 {
		encoded, err := json.Marshal(call.Body)
		if err != nil {
			return Result{}, fmt.Errorf("encode tool body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, call.URL, body)
	if err != nil {
		return Result{}, fmt.Errorf("build tool request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	spec.Auth.apply(req)
	if method == http.MethodGet && len(call.Body) > 0 {
		q := req.URL.Query()
		for k, v := range call.Body {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		req.URL.RawQuery = q.Encode()
	}
	return e.send(req)
}

func (e *Executor) doGraphQL(ctx context.Context, spec *Spec, call Call) (Result, error) {
	payload := map[string]any{"query": call.Query, "variables": call.Body}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode graphql payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return Result{}, fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	spec.Auth.apply(req)
	return e.send(req)
}

func (e *Executor) doMultipart(ctx context.Context, spec *Spec, call Call) (Result, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range call.Body {
		if err := writer.WriteField(k, fmt.Sprintf("%v", v)); err != nil {
			return Result{}, fmt.Errorf("write multipart field %q: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("close multipart body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.BaseURL, &buf)
	if err != nil {
		return Result{}, fmt.Errorf("build multipart request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	spec.Auth.apply(req)
	return e.send(req)
}

func (e *Executor) doLocalFunction(ctx context.Context, spec *Spec, call Call) (Result, error) {
	if e.LocalFn == nil {
		return Result{}, &svcerr.ProviderConfigError{Provider: spec.Name, Message: "no local function sandbox configured"}
	}
	out, err := e.LocalFn.Call(ctx, spec.FunctionRef, call.Body)
	if err != nil {
		return Result{}, fmt.Errorf("local function %q: %w", spec.FunctionRef, err)
	}
	return Result{StatusCode: http.StatusOK, JSON: out}, nil
}

func (e *Executor) send(req *http.Request) (Result, error) {
	resp, err := e.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("tool request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read tool response: %w", err)
	}
	result := Result{StatusCode: resp.StatusCode, Body: body}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") && len(body) > 0 {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			result.JSON = decoded
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return result, svcerr.ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return result, fmt.Errorf("%w: tool returned %d", svcerr.ErrServiceUnavailable, resp.StatusCode)
	}
	return result, nil
}

func validateSchema(spec *Spec, params map[string]any) error {
	for field, kind := range spec.SchemaProps {
		v, ok := params[field]
		if !ok {
			continue
		}
		if !matchesJSONType(v, kind) {
			return svcerr.NewValidationError(field, fmt.Sprintf("tool %q expects %s for %q", spec.Name, kind, field))
		}
	}
	return nil
}

func matchesJSONType(v any, kind string) bool {
	switch kind {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "bool":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
