// Package provider implements the Provider Adapter (C5): calling out to an
// AI backend with retry, timeout, and circuit breaker protection, in both
// streaming and non-streaming modes. Grounded on
// infrastructure/resilience.CircuitBreaker.Execute for the call-wrapping
// pattern, generalized from HTTP services to provider completions.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/n3flow/core/internal/platform/resilience"
	"github.com/n3flow/core/internal/platform/svcerr"
)

// Request is one completion request sent to a provider backend.
type Request struct {
	Provider string
	Model    string
	System   string
	Prompt   string
	Timeout  time.Duration
}

// StreamMode selects how a streaming completion is chunked back to the
// caller: whole tokens, whole sentences, or the full response at once.
type StreamMode string

const (
	ModeTokens    StreamMode = "tokens"
	ModeSentences StreamMode = "sentences"
	ModeFull      StreamMode = "full"
)

// Chunk is one piece of a streaming completion.
type Chunk struct {
	Text string
	Done bool
}

// Backend is the raw transport a configured provider uses to produce a
// completion; HTTP-backed implementations live in http_backend.go.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Adapter wraps a Backend with retry + circuit breaker protection and
// streaming chunking, so flow steps never talk to a Backend directly.
type Adapter struct {
	Name     string
	Backend  Backend
	Breakers *resilience.BreakerRegistry
	Retry    resilience.RetryConfig
}

// New builds an Adapter for a named provider backend.
func New(name string, backend Backend, breakers *resilience.BreakerRegistry, retry resilience.RetryConfig) *Adapter {
	return &Adapter{Name: name, Backend: backend, Breakers: breakers, Retry: retry}
}

// Complete runs req through retry and the circuit breaker, returning the
// full completion text.
func (a *Adapter) Complete(ctx context.Context, req Request) (string, error) {
	if a.Backend == nil {
		return "", &svcerr.ProviderConfigError{Provider: a.Name, Message: "no backend configured"}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var result string
	retryable := func(err error) bool {
		return !svcerr.IsValidationError(err)
	}
	rc := a.Retry
	rc.Retryable = retryable

	runErr := resilience.Retry(ctx, rc, func() error {
		raw, err := a.Breakers.Execute(a.Name, func() (any, error) {
			text, err := a.Backend.Complete(ctx, req)
			if err != nil {
				return nil, classifyBackendError(a.Name, ctx, err)
			}
			return text, nil
		})
		if err != nil {
			if svcerr.IsCircuitOpen(err) {
				return &svcerr.ProviderCircuitOpenError{Provider: a.Name}
			}
			return err
		}
		result, _ = raw.(string)
		return nil
	})
	if runErr != nil {
		return "", runErr
	}
	return result, nil
}

func classifyBackendError(provider string, ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &svcerr.ProviderTimeoutError{Provider: provider, Elapsed: "deadline exceeded"}
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "unauthorized") || strings.Contains(strings.ToLower(msg), "401") {
		return &svcerr.ProviderAuthError{Provider: provider, Message: msg}
	}
	return fmt.Errorf("%s: %w", provider, err)
}

// Stream runs req and splits the resulting text into chunks according to
// mode, feeding each chunk to onChunk in order, finishing with Done=true.
func (a *Adapter) Stream(ctx context.Context, req Request, mode StreamMode, onChunk func(Chunk)) error {
	text, err := a.Complete(ctx, req)
	if err != nil {
		return err
	}
	chunks := splitForMode(text, mode)
	for _, c := range chunks {
		onChunk(Chunk{Text: c})
	}
	onChunk(Chunk{Done: true})
	return nil
}

func splitForMode(text string, mode StreamMode) []string {
	switch mode {
	case ModeTokens:
		return strings.Fields(text)
	case ModeSentences:
		return splitSentences(text)
	default:
		return []string{text}
	}
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			sentence := strings.TrimSpace(text[start : i+1])
			if sentence != "" {
				out = append(out, sentence)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
