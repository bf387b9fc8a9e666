package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3flow/core/internal/platform/resilience"
)

type stubBackend struct {
	text string
	err  error
	fail int // number of calls to fail before succeeding
	n    int
}

func (b *stubBackend) Complete(ctx context.Context, req Request) (string, error) {
	b.n++
	if b.n <= b.fail {
		return "", errors.New("transient backend error")
	}
	if b.err != nil {
		return "", b.err
	}
	return b.text, nil
}

func newAdapter(backend Backend) *Adapter {
	breakers := resilience.NewBreakerRegistry(resilience.Config{FailureThreshold: 5, HalfOpenMax: 1, OpenTimeout: time.Minute})
	retry := resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Retryable: func(error) bool { return true }}
	return New("test-provider", backend, breakers, retry)
}

func TestAdapterCompleteSucceeds(t *testing.T) {
	a := newAdapter(&stubBackend{text: "hello"})
	out, err := a.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestAdapterCompleteRetriesTransientFailures(t *testing.T) {
	a := newAdapter(&stubBackend{text: "recovered", fail: 2})
	out, err := a.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
}

func TestAdapterCompleteNoBackend(t *testing.T) {
	a := newAdapter(nil)
	_, err := a.Complete(context.Background(), Request{})
	assert.Error(t, err)
}

func TestAdapterStreamModes(t *testing.T) {
	a := newAdapter(&stubBackend{text: "one two. three!"})

	var chunks []Chunk
	err := a.Stream(context.Background(), Request{}, ModeTokens, func(c Chunk) { chunks = append(chunks, c) })
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].Done)

	var sentences []Chunk
	err = a.Stream(context.Background(), Request{}, ModeSentences, func(c Chunk) { sentences = append(sentences, c) })
	require.NoError(t, err)
	nonDone := 0
	for _, c := range sentences {
		if !c.Done {
			nonDone++
		}
	}
	assert.Equal(t, 2, nonDone)
}

func TestAdapterCompleteExhaustsRetries(t *testing.T) {
	a := newAdapter(&stubBackend{fail: 100})
	_, err := a.Complete(context.Background(), Request{})
	assert.Error(t, err)
}
