package ir

// FlowDef is the flow graph as flow source compiles it, before the Flow
// Graph Builder (C10) lowers it into a Flow: an unordered node set plus a
// declared entry, mirroring the original program's immutable FlowGraph.
type FlowDef struct {
	Name   string
	Inputs []string
	Entry  string
	Nodes  map[string]*NodeDef
}

// NodeDef is one flow-graph node prior to lowering. Kind selects which
// NodeConfig field is meaningful, NextIDs is the ordered next-node list
// (branch: [then, else]; parallel: one entry per arm; everything else: at
// most one), JoinID names the node a parallel's arms rejoin at, and
// ErrorBoundaryID names the node control transfers to on failure.
type NodeDef struct {
	ID              string
	Kind            string
	Config          NodeConfig
	NextIDs         []string
	JoinID          string
	ErrorBoundaryID string
}

// NodeConfig carries whichever typed payload a node's Kind needs; exactly
// one field is populated per node, matching Step's own payload fields.
type NodeConfig struct {
	Condition     Expr
	AICall        *AICallSpec
	RecordOp      *RecordOpSpec
	ToolCall      *ToolCallSpec
	RAG           *RAGSpec
	Statements    []Stmt
	Body          []string // transaction body step ids
	RedirectFlow  string
	RedirectArgs  map[string]Expr
	SuspendPrompt Expr
}
