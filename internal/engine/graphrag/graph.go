// Package graphrag implements the Graph Engine (C9): lazy entity extraction
// from text via CapitalCase-token heuristics, co-occurrence edges between
// entities appearing in the same document, BFS-based queries, and
// connected-component summaries for the RAG pipeline's graph_query and
// graph_summary_lookup stages.
package graphrag

import (
	"sort"
	"strings"
	"unicode"
)

// Entity is one extracted node: a canonical name and the document ids it
// was observed in.
type Entity struct {
	Name    string
	Sources []string
}

// Edge is a co-occurrence relationship between two entities, weighted by
// how many documents mention both.
type Edge struct {
	From, To string
	Weight   int
}

// Graph is the in-memory entity/co-occurrence graph built lazily as
// documents are ingested.
type Graph struct {
	entities map[string]*Entity
	adjacency map[string]map[string]int
}

// New builds an empty graph.
func New() *Graph {
	return &Graph{
		entities:  make(map[string]*Entity),
		adjacency: make(map[string]map[string]int),
	}
}

// Ingest extracts entities from docText (tagged with docID) and links every
// pair of entities found in it with a co-occurrence edge, lazily growing
// the graph one document at a time rather than requiring a batch rebuild.
func (g *Graph) Ingest(docID, docText string) {
	names := ExtractEntities(docText)
	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			unique = append(unique, n)
		}
	}

	for _, name := range unique {
		e, ok := g.entities[name]
		if !ok {
			e = &Entity{Name: name}
			g.entities[name] = e
		}
		e.Sources = append(e.Sources, docID)
	}

	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			g.link(unique[i], unique[j])
		}
	}
}

func (g *Graph) link(a, b string) {
	if _, ok := g.adjacency[a]; !ok {
		g.adjacency[a] = make(map[string]int)
	}
	if _, ok := g.adjacency[b]; !ok {
		g.adjacency[b] = make(map[string]int)
	}
	g.adjacency[a][b]++
	g.adjacency[b][a]++
}

// ExtractEntities finds candidate entity names in text using a CapitalCase-
// token heuristic: runs of consecutive capitalized words are joined into a
// single entity name, e.g. "New York City" or "Ada Lovelace".
func ExtractEntities(text string) []string {
	words := strings.Fields(text)
	var out []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.Join(current, " "))
			current = nil
		}
	}

	for _, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			flush()
			continue
		}
		runes := []rune(trimmed)
		if unicode.IsUpper(runes[0]) {
			current = append(current, trimmed)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// Neighbors returns entity's co-occurring neighbors sorted by descending
// edge weight.
func (g *Graph) Neighbors(entity string) []Edge {
	adj, ok := g.adjacency[entity]
	if !ok {
		return nil
	}
	out := make([]Edge, 0, len(adj))
	for other, weight := range adj {
		out = append(out, Edge{From: entity, To: other, Weight: weight})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

// BFS walks the graph breadth-first from start up to maxDepth hops,
// returning every reachable entity name in visitation order. Used by the
// RAG pipeline's graph_query stage to pull in related context.
func (g *Graph) BFS(start string, maxDepth int) []string {
	if _, ok := g.entities[start]; !ok {
		return nil
	}
	visited := map[string]bool{start: true}
	order := []string{start}
	frontier := []string{start}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			neighbors := make([]string, 0, len(g.adjacency[node]))
			for n := range g.adjacency[node] {
				neighbors = append(neighbors, n)
			}
			sort.Strings(neighbors)
			for _, n := range neighbors {
				if !visited[n] {
					visited[n] = true
					order = append(order, n)
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	return order
}

// ConnectedComponent returns the full set of entities reachable from start,
// regardless of depth, for a component-level summary.
func (g *Graph) ConnectedComponent(start string) []string {
	return g.BFS(start, len(g.entities))
}

// Summary describes one connected component for graph_summary_lookup.
type Summary struct {
	Entities []string
	EdgeCount int
}

// ComponentSummaries partitions the whole graph into connected components
// and summarises each.
func (g *Graph) ComponentSummaries() []Summary {
	seen := make(map[string]bool)
	var summaries []Summary

	names := make([]string, 0, len(g.entities))
	for name := range g.entities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if seen[name] {
			continue
		}
		component := g.ConnectedComponent(name)
		for _, n := range component {
			seen[n] = true
		}
		edges := 0
		for _, n := range component {
			edges += len(g.adjacency[n])
		}
		summaries = append(summaries, Summary{Entities: component, EdgeCount: edges / 2})
	}
	return summaries
}
