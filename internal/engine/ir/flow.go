package ir

import "time"

// Flow is a compiled flow graph: a name, its declared input schema, and the
// step nodes the Flow Graph Builder (C10) produced from flow source.
type Flow struct {
	Name   string
	Inputs []string
	Steps  map[string]*Step
	Entry  string
}

// Step is one node of the flow graph. Kind selects which of the payload
// fields is meaningful, mirroring the step union the original flow compiler
// produces.
type Step struct {
	Name string
	Kind string // "ai_call", "record", "tool_call", "condition", "parallel", "rag", "script", "transaction", "redirect", "suspend", "terminal"

	// Linear/condition control flow.
	Next      string
	ThenNext  string
	ElseNext  string
	Condition Expr

	// error boundary
	OnError     string
	CaptureName string

	// parallel fan-out/join
	Branches []Branch
	JoinNext string

	// ai_call
	AICall *AICallSpec

	// record
	RecordOp *RecordOpSpec

	// tool_call
	ToolCall *ToolCallSpec

	// rag
	RAG *RAGSpec

	// script / statement block
	Statements []Stmt

	// transaction
	Body []string // step names making up the transaction body

	// redirect
	RedirectFlow string
	RedirectArgs map[string]Expr

	// suspend
	SuspendPrompt Expr
}

// Branch is one parallel fan-out arm: a branch id (for deterministic merge
// ordering) and the entry step name of that arm's sub-graph.
type Branch struct {
	ID    string
	Entry string
}

// AICallSpec configures a Provider Adapter invocation (C5).
type AICallSpec struct {
	Provider   string
	Model      string
	Prompt     Expr
	System     Expr
	Mode       string // "full", "tokens", "sentences"
	MemoryRefs []string
	Tools      []string
}

// RecordOpSpec configures a Record Layer operation (C4): db_create,
// db_bulk_create, find, db_get, db_update, db_bulk_update, db_delete,
// db_bulk_delete.
type RecordOpSpec struct {
	Op          string
	Frame       string
	Values      map[string]Expr
	Set         map[string]Expr
	ByID        map[string]Expr
	Where       Expr
	OrderBy     []OrderTerm
	Limit       Expr
	Offset      Expr
	BulkSource  Expr
	BulkAlias   string
}

// OrderTerm is one `order by field asc/desc` clause.
type OrderTerm struct {
	Field string
	Desc  bool
}

// ToolCallSpec configures a Tool Executor invocation (C7).
type ToolCallSpec struct {
	Tool   string
	Params map[string]Expr
}

// RAGSpec configures a RAG Pipeline run (C8): the ordered stage list to
// execute for this step.
type RAGSpec struct {
	Query  Expr
	Stages []string
}

// Stmt is one statement inside a script/statement-block step (C12).
type Stmt interface{ stmtNode() }

// LetPattern destructures a let/for-each binding's value: either named
// record-field extraction (`{a, b as c}`) or positional list elements
// (`[x, y]`).
type LetPattern struct {
	Kind   string // "record", "list"
	Fields []PatternField
	Elems  []string
}

// PatternField is one `field [as bound_name]` entry of a record
// LetPattern. As defaults to Field when empty.
type PatternField struct {
	Field string
	As    string
}

type (
	// LetStmt declares a new variable: a simple `let x be ...` (Name set)
	// or a destructuring form (Pattern set). An optional trailing
	// Pipeline implements `let x be <expr>: <collection pipeline>`.
	LetStmt struct {
		Name     string
		Pattern  *LetPattern
		Value    Expr
		Pipeline []PipelineStage
		Constant bool
	}
	// AssignStmt mutates an existing variable.
	AssignStmt struct {
		Name  string
		Value Expr
	}
	// SetStateStmt assigns `state.<Field>`, the FlowState.data bag shared
	// across the whole flow run (distinct from AssignStmt's ordinary
	// variable bindings).
	SetStateStmt struct {
		Field string
		Value Expr
	}
	// IfStmt is a statement-level conditional; optional otherwise-if
	// chains are modeled by nesting another IfStmt inside Else. As, when
	// set, binds the evaluated condition value in the taken branch's
	// scope (`if ... as name:`).
	IfStmt struct {
		Condition Expr
		As        string
		Then      []Stmt
		Else      []Stmt
	}
	// MatchStmt dispatches on Subject's shape against an ordered list of
	// Cases, falling back to Default.
	MatchStmt struct {
		Subject Expr
		Cases   []MatchStmtCase
		Default []Stmt
	}
	// ForEachStmt iterates a collection, binding Var (or destructuring
	// via Pattern) each pass.
	ForEachStmt struct {
		Var        string
		Pattern    *LetPattern
		Collection Expr
		Body       []Stmt
	}
	// RepeatCountStmt runs Body Count times with no bound loop variable.
	RepeatCountStmt struct {
		Count Expr
		Body  []Stmt
	}
	// RetryStmt runs Body, retrying up to MaxAttempts times when it fails
	// or produces an error-shaped result, sleeping an exponential
	// backoff between attempts when Backoff is set.
	RetryStmt struct {
		MaxAttempts int
		Backoff     bool
		BaseDelay   time.Duration
		Body        []Stmt
	}
	// TryStmt runs Body; on failure it binds CatchName to {kind, message}
	// and runs Catch, restoring the enclosing scope afterward either way.
	TryStmt struct {
		Body      []Stmt
		CatchName string
		Catch     []Stmt
	}
	// GuardStmt runs Body only when Condition evaluates to false,
	// equivalent to a negated if-then with no else.
	GuardStmt struct {
		Condition Expr
		Body      []Stmt
	}
	// AskUserStmt requests a single named input; if Name is already bound
	// in the calling environment the request is skipped.
	AskUserStmt struct {
		Label Expr
		Name  string
	}
	// FormStmt requests several named fields under one prompt.
	FormStmt struct {
		Label  Expr
		Name   string
		Fields []FormField
	}
	// FormField is one `field "label" as var` entry of a FormStmt.
	FormField struct {
		Label string
		Var   string
	}
	// LogStmt appends a leveled entry to the flow's log stream.
	LogStmt struct {
		Level    string // "info", "warning", "error"
		Message  Expr
		Metadata Expr
	}
	// NoteStmt appends a free-form annotation to the flow's note stream.
	NoteStmt struct{ Message Expr }
	// CheckpointStmt records a labeled checkpoint in the flow's
	// checkpoint stream.
	CheckpointStmt struct{ Label Expr }
	// ActionStmt runs an inline `do ai|agent|tool|flow "name" [with k:
	// v]` action, synthesizing the equivalent step kind (or, for "flow",
	// an ordinary helper call) and binding its result to Bind if set.
	ActionStmt struct {
		Kind   string // "ai", "agent", "tool", "flow"
		Target string
		Args   map[string]Expr
		Bind   string
	}
	// GotoStmt redirects execution to another named flow ("flow") or
	// marks a UI page transition ("page") as a checkpoint.
	GotoStmt struct {
		Kind   string
		Target string
		Args   map[string]Expr
	}
	// ReturnStmt exits the enclosing script step with Value.
	ReturnStmt struct{ Value Expr }
)

// MatchStmtCase is one arm of a MatchStmt. Kind selects the dispatch rule:
// "literal" compares Pattern by equality, "success"/"error" match a
// result-shaped value (a map with a boolean "ok" field) and bind its
// payload to As, "otherwise" always matches.
type MatchStmtCase struct {
	Kind    string
	Pattern Expr
	As      string
	Body    []Stmt
}

func (LetStmt) stmtNode()         {}
func (AssignStmt) stmtNode()      {}
func (SetStateStmt) stmtNode()    {}
func (IfStmt) stmtNode()          {}
func (MatchStmt) stmtNode()       {}
func (ForEachStmt) stmtNode()     {}
func (RepeatCountStmt) stmtNode() {}
func (RetryStmt) stmtNode()       {}
func (TryStmt) stmtNode()         {}
func (GuardStmt) stmtNode()       {}
func (AskUserStmt) stmtNode()     {}
func (FormStmt) stmtNode()        {}
func (LogStmt) stmtNode()         {}
func (NoteStmt) stmtNode()        {}
func (CheckpointStmt) stmtNode()  {}
func (ActionStmt) stmtNode()      {}
func (GotoStmt) stmtNode()        {}
func (ReturnStmt) stmtNode()      {}
