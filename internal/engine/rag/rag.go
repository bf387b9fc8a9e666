// Package rag implements the RAG Pipeline (C8): a configurable, ordered
// stage DAG over a query — rewriting, routing, decomposition, vector and
// table retrieval, graph traversal, reranking, compression, fusion, and
// final answer synthesis. Grounded on the original runtime's
// _run_rag_pipeline stage dispatch, generalized to a Go stage registry.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/n3flow/core/internal/engine/frame"
	"github.com/n3flow/core/internal/engine/graphrag"
	"github.com/n3flow/core/internal/engine/provider"
)

// Document is one retrieved or synthesised piece of context.
type Document struct {
	ID      string
	Text    string
	Score   float64
	Source  string // "vector", "table", "graph"
}

// State threads through every stage of a pipeline run.
type State struct {
	Query       string
	Rewritten   string
	SubQueries  []string
	Route       string
	Documents   []Document
	Answer      string
	Metadata    map[string]any
}

// VectorIndex is the embedding-backed similarity search backend for
// vector_retrieve.
type VectorIndex interface {
	Search(ctx context.Context, query string, topK int) ([]Document, error)
}

// Stage is one named step of a RAG pipeline run.
type Stage func(ctx context.Context, st *State) error

// Pipeline runs a fixed, named sequence of stages over a query.
type Pipeline struct {
	Stages map[string]Stage
	Order  []string
}

// New builds a Pipeline wired to the given backends; any backend left nil
// disables the stages that depend on it, which then leave the state as it
// is or fall back to a default. ai_answer is the exception: it returns an
// error when no provider is configured.
func New(
	providerAdapter *provider.Adapter,
	vectorIndex VectorIndex,
	frames *frame.Store,
	graph *graphrag.Graph,
) *Pipeline {
	p := &Pipeline{Stages: make(map[string]Stage)}
	p.Stages["ai_rewrite"] = stageAIRewrite(providerAdapter)
	p.Stages["query_route"] = stageQueryRoute(providerAdapter)
	p.Stages["multi_query"] = stageMultiQuery(providerAdapter)
	p.Stages["query_decompose"] = stageQueryDecompose(providerAdapter)
	p.Stages["vector_retrieve"] = stageVectorRetrieve(vectorIndex)
	p.Stages["table_lookup"] = stageTableLookup(frames)
	p.Stages["table_summarise"] = stageTableSummarise(providerAdapter)
	p.Stages["graph_query"] = stageGraphQuery(graph)
	p.Stages["graph_summary_lookup"] = stageGraphSummaryLookup(graph)
	p.Stages["ai_rerank"] = stageAIRerank(providerAdapter)
	p.Stages["context_compress"] = stageContextCompress(providerAdapter)
	p.Stages["fusion"] = stageFusion()
	p.Stages["ai_answer"] = stageAIAnswer(providerAdapter)
	p.Stages["multimodal_embed"] = stageMultimodalEmbed(vectorIndex)
	return p
}

// Run executes stageNames in order against an initial query, returning the
// final state (including Answer, if an ai_answer stage ran).
func (p *Pipeline) Run(ctx context.Context, query string, stageNames []string) (*State, error) {
	st := &State{Query: query, Rewritten: query, Metadata: make(map[string]any)}
	for _, name := range stageNames {
		stage, ok := p.Stages[name]
		if !ok {
			return nil, fmt.Errorf("unknown rag stage %q", name)
		}
		if err := stage(ctx, st); err != nil {
			return nil, fmt.Errorf("rag stage %q: %w", name, err)
		}
	}
	return st, nil
}

func stageAIRewrite(p *provider.Adapter) Stage {
	return func(ctx context.Context, st *State) error {
		if p == nil {
			return nil
		}
		rewritten, err := p.Complete(ctx, provider.Request{
			System: "Rewrite the user's query to be a clear, standalone search query.",
			Prompt: st.Query,
		})
		if err != nil {
			return err
		}
		st.Rewritten = rewritten
		return nil
	}
}

func stageQueryRoute(p *provider.Adapter) Stage {
	return func(ctx context.Context, st *State) error {
		if p == nil {
			st.Route = "vector"
			return nil
		}
		route, err := p.Complete(ctx, provider.Request{
			System: "Classify this query's best retrieval route as exactly one word: vector, table, or graph.",
			Prompt: st.Rewritten,
		})
		if err != nil {
			return err
		}
		st.Route = route
		return nil
	}
}

func stageMultiQuery(p *provider.Adapter) Stage {
	return func(ctx context.Context, st *State) error {
		if p == nil {
			st.SubQueries = []string{st.Rewritten}
			return nil
		}
		raw, err := p.Complete(ctx, provider.Request{
			System: "Generate 3 alternative phrasings of this query, one per line.",
			Prompt: st.Rewritten,
		})
		if err != nil {
			return err
		}
		st.SubQueries = splitNonEmptyLines(raw)
		return nil
	}
}

func stageQueryDecompose(p *provider.Adapter) Stage {
	return func(ctx context.Context, st *State) error {
		if p == nil {
			return nil
		}
		raw, err := p.Complete(ctx, provider.Request{
			System: "Decompose this query into smaller standalone sub-questions, one per line.",
			Prompt: st.Rewritten,
		})
		if err != nil {
			return err
		}
		st.SubQueries = append(st.SubQueries, splitNonEmptyLines(raw)...)
		return nil
	}
}

func stageVectorRetrieve(idx VectorIndex) Stage {
	return func(ctx context.Context, st *State) error {
		if idx == nil {
			return nil
		}
		queries := st.SubQueries
		if len(queries) == 0 {
			queries = []string{st.Rewritten}
		}
		for _, q := range queries {
			docs, err := idx.Search(ctx, q, 5)
			if err != nil {
				return err
			}
			for i := range docs {
				docs[i].Source = "vector"
			}
			st.Documents = append(st.Documents, docs...)
		}
		return nil
	}
}

func stageTableLookup(frames *frame.Store) Stage {
	return func(ctx context.Context, st *State) error {
		if frames == nil {
			return nil
		}
		frameName, _ := st.Metadata["table_lookup_frame"].(string)
		if frameName == "" {
			return nil
		}
		rows := frames.Query(frameName, nil)
		for _, row := range rows {
			st.Documents = append(st.Documents, Document{
				ID:     frameName,
				Text:   fmt.Sprintf("%v", row.Fields),
				Score:  1.0,
				Source: "table",
			})
		}
		return nil
	}
}

func stageTableSummarise(p *provider.Adapter) Stage {
	return func(ctx context.Context, st *State) error {
		if p == nil {
			return nil
		}
		var tableText string
		for _, d := range st.Documents {
			if d.Source == "table" {
				tableText += d.Text + "\n"
			}
		}
		if tableText == "" {
			return nil
		}
		summary, err := p.Complete(ctx, provider.Request{
			System: "Summarise this tabular data in relation to the query.",
			Prompt: st.Rewritten + "\n\n" + tableText,
		})
		if err != nil {
			return err
		}
		st.Documents = append(st.Documents, Document{ID: "table_summary", Text: summary, Score: 1.0, Source: "table"})
		return nil
	}
}

func stageGraphQuery(g *graphrag.Graph) Stage {
	return func(ctx context.Context, st *State) error {
		if g == nil {
			return nil
		}
		entities := graphrag.ExtractEntities(st.Rewritten)
		for _, e := range entities {
			related := g.BFS(e, 2)
			for _, name := range related {
				st.Documents = append(st.Documents, Document{ID: name, Text: name, Score: 0.5, Source: "graph"})
			}
		}
		return nil
	}
}

func stageGraphSummaryLookup(g *graphrag.Graph) Stage {
	return func(ctx context.Context, st *State) error {
		if g == nil {
			return nil
		}
		for _, summary := range g.ComponentSummaries() {
			st.Documents = append(st.Documents, Document{
				ID:     "component",
				Text:   fmt.Sprintf("%v", summary.Entities),
				Score:  float64(summary.EdgeCount),
				Source: "graph",
			})
		}
		return nil
	}
}

func stageAIRerank(p *provider.Adapter) Stage {
	return func(ctx context.Context, st *State) error {
		if p == nil || len(st.Documents) == 0 {
			return nil
		}
		sort.SliceStable(st.Documents, func(i, j int) bool { return st.Documents[i].Score > st.Documents[j].Score })
		return nil
	}
}

func stageContextCompress(p *provider.Adapter) Stage {
	return func(ctx context.Context, st *State) error {
		if p == nil || len(st.Documents) == 0 {
			return nil
		}
		const maxDocs = 8
		if len(st.Documents) > maxDocs {
			st.Documents = st.Documents[:maxDocs]
		}
		return nil
	}
}

// stageFusion merges ranked lists from different sources with reciprocal
// rank fusion (RRF), so vector/table/graph hits compete on one scale.
func stageFusion() Stage {
	return func(ctx context.Context, st *State) error {
		bySource := map[string][]Document{}
		for _, d := range st.Documents {
			bySource[d.Source] = append(bySource[d.Source], d)
		}
		for source := range bySource {
			sort.SliceStable(bySource[source], func(i, j int) bool {
				return bySource[source][i].Score > bySource[source][j].Score
			})
		}

		const k = 60.0
		fused := map[string]float64{}
		docByID := map[string]Document{}
		for _, docs := range bySource {
			for rank, d := range docs {
				fused[d.ID] += 1.0 / (k + float64(rank+1))
				docByID[d.ID] = d
			}
		}

		out := make([]Document, 0, len(fused))
		for id, score := range fused {
			d := docByID[id]
			d.Score = score
			out = append(out, d)
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		st.Documents = out
		return nil
	}
}

func stageAIAnswer(p *provider.Adapter) Stage {
	return func(ctx context.Context, st *State) error {
		if p == nil {
			return fmt.Errorf("ai_answer stage requires a configured provider")
		}
		var context string
		for _, d := range st.Documents {
			context += d.Text + "\n---\n"
		}
		answer, err := p.Complete(ctx, provider.Request{
			System: "Answer the user's question using only the provided context. If the context is insufficient, say so.",
			Prompt: fmt.Sprintf("Question: %s\n\nContext:\n%s", st.Rewritten, context),
		})
		if err != nil {
			return err
		}
		st.Answer = answer
		return nil
	}
}

func stageMultimodalEmbed(idx VectorIndex) Stage {
	return func(ctx context.Context, st *State) error {
		// Supplemented stage: routes non-text attachments referenced in
		// metadata through the same VectorIndex used for text retrieval,
		// so image/audio captions participate in fusion alongside text hits.
		if idx == nil {
			return nil
		}
		caption, _ := st.Metadata["multimodal_caption"].(string)
		if caption == "" {
			return nil
		}
		docs, err := idx.Search(ctx, caption, 3)
		if err != nil {
			return err
		}
		for i := range docs {
			docs[i].Source = "vector"
		}
		st.Documents = append(st.Documents, docs...)
		return nil
	}
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
