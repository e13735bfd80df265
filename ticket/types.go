// Package ticket provides the domain model for the ticket lifecycle
// orchestrator: tickets moving through a fixed pipeline of columns, the
// readiness checklist a ticket must satisfy before leaving Unassigned,
// and the records produced around conversational agent turns.
package ticket

import (
	"fmt"
	"time"
)

// Column is one stage of the fixed pipeline.
type Column string

const (
	ColumnUnassigned Column = "unassigned"        // Created, not yet ready
	ColumnTodo       Column = "todo"              // Ready, awaiting an implementation agent
	ColumnDoing      Column = "doing"             // An agent is actively working
	ColumnQA         Column = "qa"                // Awaiting or under QA review
	ColumnHITL       Column = "human-in-the-loop" // QA passed, human review pending
	ColumnDone       Column = "done"              // Terminal
)

// Columns lists every pipeline column in order.
var Columns = []Column{
	ColumnUnassigned,
	ColumnTodo,
	ColumnDoing,
	ColumnQA,
	ColumnHITL,
	ColumnDone,
}

// Valid reports whether c is a member of the fixed column set.
func (c Column) Valid() bool {
	for _, known := range Columns {
		if c == known {
			return true
		}
	}
	return false
}

// Ticket is a single unit of work tracked through the pipeline.
// Position is dense within (RepoID, Column); Number is the human-facing
// display id, unique and dense per repository.
type Ticket struct {
	ID       string    `json:"id"`     // UUID primary key
	Number   int       `json:"number"` // Display id, rendered as %04d
	RepoID   string    `json:"repoId"`
	Title    string    `json:"title"`
	Body     string    `json:"body"` // Markdown with required sections
	Column   Column    `json:"column"`
	Position int       `json:"position"`
	MovedAt  time.Time `json:"movedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DisplayID renders the human-facing ticket id (e.g. "0042").
func (t *Ticket) DisplayID() string {
	return fmt.Sprintf("%04d", t.Number)
}

// AgentKind identifies which autonomous agent a run belongs to.
type AgentKind string

const (
	AgentImplementation AgentKind = "implementation"
	AgentQA             AgentKind = "qa"
)

// Stage is the lifecycle stage reported by a cloud agent run.
type Stage string

const (
	StageIdle      Stage = "idle"
	StagePreparing Stage = "preparing"
	StageFetching  Stage = "fetching"
	StageLaunching Stage = "launching"
	StagePolling   Stage = "polling"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
	StageTimeout   Stage = "timeout"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageTimeout
}

// Active reports whether the stage indicates a run has started doing work.
func (s Stage) Active() bool {
	switch s {
	case StagePreparing, StageFetching, StageLaunching, StagePolling:
		return true
	}
	return false
}

// Verdict is a QA run's structured outcome, when one was reported.
type Verdict string

const (
	VerdictNone Verdict = ""
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// RunEvent is one stage update from an agent run's progress stream.
type RunEvent struct {
	Agent   AgentKind `json:"agent"`
	Stage   Stage     `json:"stage"`
	Verdict Verdict   `json:"verdict,omitempty"` // Explicit verdict, if the service reported one
	Message string    `json:"message,omitempty"` // Free-text progress/completion text
}

// Turn is a single conversation turn with the planning agent.
type Turn struct {
	Seq             int       `json:"seq"`
	Role            string    `json:"role"` // "user" or "assistant"
	Content         string    `json:"content"`
	Images          []string  `json:"images,omitempty"`          // Attachment references
	ContinuityToken string    `json:"continuityToken,omitempty"` // Set on assistant turns when the provider supports resume-by-reference
	CreatedAt       time.Time `json:"createdAt"`
}

// MemoryFacts holds the typed fact lists of working memory.
type MemoryFacts struct {
	Goals         []string          `json:"goals,omitempty"`
	Requirements  []string          `json:"requirements,omitempty"`
	Constraints   []string          `json:"constraints,omitempty"`
	Decisions     []string          `json:"decisions,omitempty"`
	Assumptions   []string          `json:"assumptions,omitempty"`
	OpenQuestions []string          `json:"openQuestions,omitempty"`
	Glossary      map[string]string `json:"glossary,omitempty"`
	Stakeholders  []string          `json:"stakeholders,omitempty"`
}

// WorkingMemory is the durable, lossy compression of a conversation's
// decision-relevant facts. ThroughSeq marks the last turn folded in and
// is monotonically non-decreasing.
type WorkingMemory struct {
	RepoID     string      `json:"repoId"`
	Agent      string      `json:"agent"`
	Summary    string      `json:"summary"`
	Facts      MemoryFacts `json:"facts"`
	ThroughSeq int         `json:"throughSeq"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// ToolCallRecord is one entry of the append-only tool audit trail.
type ToolCallRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	Tool      string    `json:"tool"`
	Input     string    `json:"input"`  // JSON
	Output    string    `json:"output"` // JSON, recorded for rejected calls too
	CreatedAt time.Time `json:"createdAt"`
}

// Diagnostic explains a skipped or failed auto-move. Diagnostics are the
// in-band channel required for every non-move; they are persisted so a
// skipped move never requires log inspection to understand.
type Diagnostic struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticketId,omitempty"` // Empty when no ticket could be resolved
	Agent     AgentKind `json:"agent"`
	Stage     Stage     `json:"stage"`
	Reason    string    `json:"reason"`
	Excerpt   string    `json:"excerpt,omitempty"` // Message excerpt that failed extraction
	CreatedAt time.Time `json:"createdAt"`
}
