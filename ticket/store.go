package ticket

import (
	"fmt"
	"time"
)

// NotFoundError reports a ticket reference that does not resolve.
type NotFoundError struct {
	Ref string // id or display number
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ticket %s not found", e.Ref)
}

// Store is the datastore interface for the orchestrator. The SQLite store
// in internal/db implements it for production; MemStore implements it for
// tests. The datastore is the single source of truth: callers re-read
// current state before mutating, never cache tickets across requests.
type Store interface {
	// CreateTicket persists a new ticket, allocating its display number
	// (dense per repository) and its position at the end of its column.
	CreateTicket(t *Ticket) error

	GetTicket(id string) (*Ticket, bool)
	GetTicketByNumber(repoID string, number int) (*Ticket, bool)
	ListTickets(repoID string) ([]Ticket, error)

	// UpdateBody replaces a ticket's title and body.
	UpdateBody(id, title, body string) error

	// MaxPosition returns the current maximum position in a column and
	// whether the column holds any tickets.
	MaxPosition(repoID string, col Column) (int, bool, error)

	// MoveTicket atomically sets column, position and moved-at for one
	// ticket. The target position is recomputed as max+1 (or 0 for an
	// empty column) inside the same transaction, so concurrent movers
	// never allocate the same slot. Returns the updated ticket.
	MoveTicket(id string, col Column, movedAt time.Time) (*Ticket, error)

	// Conversation turns, per (repository, agent). AppendTurn assigns the
	// next sequence number.
	AppendTurn(repoID, agent string, turn *Turn) error
	RecentTurns(repoID, agent string, limit int) ([]Turn, int, error)
	TurnsAfter(repoID, agent string, afterSeq int) ([]Turn, error)

	// Working memory, one record per (repository, agent). SaveWorkingMemory
	// is conditional on the caller having read prevThroughSeq: the update
	// applies only if the stored high-water mark still matches, so a failed
	// or concurrent extraction never advances the mark.
	GetWorkingMemory(repoID, agent string) (*WorkingMemory, bool, error)
	SaveWorkingMemory(mem *WorkingMemory, prevThroughSeq int) error

	// Append-only audit trails.
	AddToolCall(rec *ToolCallRecord) error
	AddDiagnostic(d *Diagnostic) error
	ListDiagnostics(limit int) ([]Diagnostic, error)
}

// ErrStaleMemory is returned by SaveWorkingMemory when the stored
// high-water mark no longer matches prevThroughSeq.
type ErrStaleMemory struct {
	Expected, Actual int
}

func (e *ErrStaleMemory) Error() string {
	return fmt.Sprintf("working memory advanced concurrently: expected through_seq %d, found %d", e.Expected, e.Actual)
}
