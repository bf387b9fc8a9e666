package flow

import (
	"fmt"
	"sort"

	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/platform/svcerr"
)

// BuildGraph lowers a FlowDef's loosely-linked nodes into a compiled Flow
// graph (C10): each node's ordered NextIDs list resolves into the typed
// next/then/else/branch/join fields its Kind needs, and the whole graph is
// checked for the invariants the Scheduler (C11) relies on — entry exists,
// every declared node is reachable from it.
func BuildGraph(def *ir.FlowDef) (*ir.Flow, error) {
	if def.Entry == "" {
		return nil, svcerr.NewStepValidationError(def.Name, "entry", "flow has no entry node")
	}
	if _, ok := def.Nodes[def.Entry]; !ok {
		return nil, svcerr.NewStepValidationError(def.Name, "entry", fmt.Sprintf("entry node %q not found", def.Entry))
	}

	steps := make(map[string]*ir.Step, len(def.Nodes))
	for id, n := range def.Nodes {
		step, err := lowerNode(n)
		if err != nil {
			return nil, err
		}
		steps[id] = step
	}

	if err := checkReachability(def); err != nil {
		return nil, err
	}

	return &ir.Flow{Name: def.Name, Inputs: def.Inputs, Steps: steps, Entry: def.Entry}, nil
}

func lowerNode(n *ir.NodeDef) (*ir.Step, error) {
	step := &ir.Step{Name: n.ID, Kind: n.Kind, OnError: n.ErrorBoundaryID}

	switch n.Kind {
	case "condition":
		if len(n.NextIDs) == 0 || len(n.NextIDs) > 2 {
			return nil, svcerr.NewStepValidationError(n.ID, "next_ids", fmt.Sprintf("condition requires 1 or 2 next ids, got %d", len(n.NextIDs)))
		}
		step.Condition = n.Config.Condition
		step.ThenNext = n.NextIDs[0]
		if len(n.NextIDs) == 2 {
			step.ElseNext = n.NextIDs[1]
		}

	case "parallel":
		if len(n.NextIDs) == 0 {
			return nil, svcerr.NewStepValidationError(n.ID, "next_ids", "parallel requires at least one branch")
		}
		branches := make([]ir.Branch, len(n.NextIDs))
		for i, entry := range n.NextIDs {
			branches[i] = ir.Branch{ID: fmt.Sprintf("b%d", i), Entry: entry}
		}
		step.Branches = branches
		step.JoinNext = n.JoinID

	case "ai_call":
		step.AICall = n.Config.AICall
		step.Next = firstNext(n.NextIDs)
	case "record":
		step.RecordOp = n.Config.RecordOp
		step.Next = firstNext(n.NextIDs)
	case "tool_call":
		step.ToolCall = n.Config.ToolCall
		step.Next = firstNext(n.NextIDs)
	case "rag":
		step.RAG = n.Config.RAG
		step.Next = firstNext(n.NextIDs)
	case "script":
		step.Statements = n.Config.Statements
		step.Next = firstNext(n.NextIDs)
	case "transaction":
		step.Body = n.Config.Body
		step.Next = firstNext(n.NextIDs)
	case "redirect":
		step.RedirectFlow = n.Config.RedirectFlow
		step.RedirectArgs = n.Config.RedirectArgs
	case "suspend":
		step.SuspendPrompt = n.Config.SuspendPrompt
		step.Next = firstNext(n.NextIDs)
	case "terminal":
		// no payload, no outgoing edges

	default:
		return nil, svcerr.NewStepValidationError(n.ID, "kind", fmt.Sprintf("unsupported node kind %q", n.Kind))
	}

	return step, nil
}

func firstNext(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// checkReachability walks the edges implied by each node's next/join/error
// boundary references and fails if a declared node can never be reached
// while running the flow from its entry.
func checkReachability(def *ir.FlowDef) error {
	visited := make(map[string]bool, len(def.Nodes))
	queue := []string{def.Entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		n, ok := def.Nodes[id]
		if !ok {
			continue
		}
		for _, next := range n.NextIDs {
			if !visited[next] {
				queue = append(queue, next)
			}
		}
		if n.JoinID != "" && !visited[n.JoinID] {
			queue = append(queue, n.JoinID)
		}
		if n.ErrorBoundaryID != "" && !visited[n.ErrorBoundaryID] {
			queue = append(queue, n.ErrorBoundaryID)
		}
	}

	var unreached []string
	for id := range def.Nodes {
		if !visited[id] {
			unreached = append(unreached, id)
		}
	}
	if len(unreached) > 0 {
		sort.Strings(unreached)
		return svcerr.NewStepValidationError(def.Name, "nodes", fmt.Sprintf("unreachable from entry: %v", unreached))
	}
	return nil
}
