package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteHTTPTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	specs := map[string]*Spec{
		"ping": {
			Name:    "ping",
			Kind:    KindHTTP,
			BaseURL: srv.URL,
			Method:  http.MethodPost,
			Auth:    Auth{Kind: AuthBearer, Token: "secret"},
		},
	}
	ex := New(specs, nil, nil)

	result, err := ex.Execute(context.Background(), "ping", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, map[string]any{"ok": true}, result.JSON)
}

func TestExecuteUnknownTool(t *testing.T) {
	ex := New(map[string]*Spec{}, nil, nil)
	_, err := ex.Execute(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestExecuteSchemaValidation(t *testing.T) {
	specs := map[string]*Spec{
		"strict": {
			Name:        "strict",
			Kind:        KindHTTP,
			BaseURL:     "http://example.invalid",
			Method:      http.MethodPost,
			SchemaProps: map[string]string{"count": "number"},
		},
	}
	ex := New(specs, nil, nil)
	_, err := ex.Execute(context.Background(), "strict", map[string]any{"count": "not-a-number"})
	assert.Error(t, err)
}

type stubLocalFn struct{ calls int }

func (s *stubLocalFn) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	s.calls++
	return map[string]any{"name": name}, nil
}

func TestExecuteLocalFunction(t *testing.T) {
	specs := map[string]*Spec{
		"fn": {Name: "fn", Kind: KindLocalFunction, FunctionRef: "double"},
	}
	local := &stubLocalFn{}
	ex := New(specs, nil, local)

	result, err := ex.Execute(context.Background(), "fn", map[string]any{"n": 2})
	require.NoError(t, err)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, map[string]any{"name": "double"}, result.JSON)
}

func TestExecuteServerErrorIsRetryableThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	specs := map[string]*Spec{
		"flaky": {
			Name:    "flaky",
			Kind:    KindHTTP,
			BaseURL: srv.URL,
			Method:  http.MethodGet,
			Retry:   RetryPolicy{MaxAttempts: 2, IdempotentOnly: true},
		},
	}
	ex := New(specs, nil, nil)
	_, err := ex.Execute(context.Background(), "flaky", nil)
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
