package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/n3flow/core/internal/engine/provider"
	"github.com/n3flow/core/internal/engine/value"
)

// Embedder turns text into a vector, backing the vectoriser pipeline stage.
// Kept as a narrow interface so memory doesn't import a specific embedding
// SDK; the RAG pipeline's embedding backend satisfies it too.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Pipeline post-processes a raw conversation turn into memory entries: a
// short-term summary, long-term standalone facts, and a semantic copy of an
// entry whose embedding is returned for later semantic recall.
type Pipeline struct {
	Store     *Store
	Provider  *provider.Adapter
	Embedder  Embedder
}

// NewPipeline builds a Pipeline bound to a store, an AI provider for
// summarisation/extraction, and an optional embedder.
func NewPipeline(store *Store, p *provider.Adapter, embedder Embedder) *Pipeline {
	return &Pipeline{Store: store, Provider: p, Embedder: embedder}
}

// Summarise condenses turnText into a short-term memory entry via the
// configured provider and stores it under KindShort.
func (p *Pipeline) Summarise(ctx context.Context, scope Scope, turnText string, now time.Time) (*Entry, error) {
	if p.Provider == nil {
		return nil, fmt.Errorf("memory pipeline has no provider configured for summarisation")
	}
	summary, err := p.Provider.Complete(ctx, provider.Request{
		System: "Summarise the following conversation turn in one or two sentences.",
		Prompt: turnText,
	})
	if err != nil {
		return nil, fmt.Errorf("summarise memory turn: %w", err)
	}
	return p.Store.Write(KindShort, scope, value.Str(summary), []string{"summary"}, now), nil
}

// ExtractFacts asks the provider for a newline-delimited list of standalone
// facts worth remembering long-term, storing each as its own KindLong entry.
func (p *Pipeline) ExtractFacts(ctx context.Context, scope Scope, turnText string, now time.Time) ([]*Entry, error) {
	if p.Provider == nil {
		return nil, fmt.Errorf("memory pipeline has no provider configured for fact extraction")
	}
	raw, err := p.Provider.Complete(ctx, provider.Request{
		System: "Extract standalone facts worth remembering long-term from this text. One fact per line. If there are none, respond with nothing.",
		Prompt: turnText,
	})
	if err != nil {
		return nil, fmt.Errorf("extract memory facts: %w", err)
	}
	facts := splitLines(raw)
	out := make([]*Entry, 0, len(facts))
	for _, fact := range facts {
		out = append(out, p.Store.Write(KindLong, scope, value.Str(fact), []string{"fact"}, now))
	}
	return out, nil
}

// Vectorise embeds an entry's text content and writes a KindSemantic copy
// of the entry to the store. The vector is returned to the caller; the
// store does not keep it.
func (p *Pipeline) Vectorise(ctx context.Context, scope Scope, entry *Entry, now time.Time) (*Entry, []float64, error) {
	if p.Embedder == nil {
		return nil, nil, fmt.Errorf("memory pipeline has no embedder configured")
	}
	if entry.Content.Kind != value.KindStr {
		return nil, nil, fmt.Errorf("vectorise requires a string memory entry, got %s", entry.Content.Kind)
	}
	vec, err := p.Embedder.Embed(ctx, entry.Content.Str)
	if err != nil {
		return nil, nil, fmt.Errorf("embed memory entry: %w", err)
	}
	semantic := p.Store.Write(KindSemantic, scope, entry.Content, entry.Tags, now)
	return semantic, vec, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
