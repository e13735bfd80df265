package ticket

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store implementation. It backs tests and
// ephemeral runs; production uses the SQLite store in internal/db.
type MemStore struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket
	turns   map[string][]Turn // keyed by repoID+"/"+agent
	memory  map[string]*WorkingMemory
	calls   []ToolCallRecord
	diags   []Diagnostic
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		tickets: make(map[string]*Ticket),
		turns:   make(map[string][]Turn),
		memory:  make(map[string]*WorkingMemory),
	}
}

func convKey(repoID, agent string) string { return repoID + "/" + agent }

// CreateTicket adds a ticket, allocating its display number and position.
func (s *MemStore) CreateTicket(t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Column == "" {
		t.Column = ColumnUnassigned
	}

	maxNumber := 0
	maxPos := -1
	for _, existing := range s.tickets {
		if existing.RepoID != t.RepoID {
			continue
		}
		if existing.Number > maxNumber {
			maxNumber = existing.Number
		}
		if existing.Column == t.Column && existing.Position > maxPos {
			maxPos = existing.Position
		}
	}
	t.Number = maxNumber + 1
	t.Position = maxPos + 1

	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.MovedAt = now

	clone := *t
	s.tickets[t.ID] = &clone
	return nil
}

// GetTicket returns a copy of a ticket by primary key.
func (s *MemStore) GetTicket(id string) (*Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, false
	}
	clone := *t
	return &clone, true
}

// GetTicketByNumber returns a copy of a ticket by display number.
func (s *MemStore) GetTicketByNumber(repoID string, number int) (*Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tickets {
		if t.RepoID == repoID && t.Number == number {
			clone := *t
			return &clone, true
		}
	}
	return nil, false
}

// ListTickets returns all tickets for a repository ordered by column then
// position.
func (s *MemStore) ListTickets(repoID string) ([]Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Ticket
	for _, t := range s.tickets {
		if t.RepoID == repoID {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Column != result[j].Column {
			return result[i].Column < result[j].Column
		}
		return result[i].Position < result[j].Position
	})
	return result, nil
}

// UpdateBody replaces a ticket's title and body.
func (s *MemStore) UpdateBody(id, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return &NotFoundError{Ref: id}
	}
	t.Title = title
	t.Body = body
	t.UpdatedAt = time.Now()
	return nil
}

// MaxPosition returns the max position in a column and whether any ticket
// occupies it.
func (s *MemStore) MaxPosition(repoID string, col Column) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxPositionLocked(repoID, col)
}

func (s *MemStore) maxPositionLocked(repoID string, col Column) (int, bool, error) {
	maxPos := 0
	occupied := false
	for _, t := range s.tickets {
		if t.RepoID == repoID && t.Column == col {
			if !occupied || t.Position > maxPos {
				maxPos = t.Position
			}
			occupied = true
		}
	}
	return maxPos, occupied, nil
}

// MoveTicket atomically re-columns a ticket, appending it to the end of
// the target column.
func (s *MemStore) MoveTicket(id string, col Column, movedAt time.Time) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, &NotFoundError{Ref: id}
	}

	next := 0
	if maxPos, occupied, _ := s.maxPositionLocked(t.RepoID, col); occupied {
		next = maxPos + 1
	}

	t.Column = col
	t.Position = next
	t.MovedAt = movedAt
	t.UpdatedAt = movedAt

	clone := *t
	return &clone, nil
}

// AppendTurn stores a conversation turn, assigning the next sequence.
func (s *MemStore) AppendTurn(repoID, agent string, turn *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := convKey(repoID, agent)
	turn.Seq = len(s.turns[key]) + 1
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.turns[key] = append(s.turns[key], *turn)
	return nil
}

// RecentTurns returns up to limit of the newest turns in order, plus the
// total turn count.
func (s *MemStore) RecentTurns(repoID, agent string, limit int) ([]Turn, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.turns[convKey(repoID, agent)]
	total := len(all)
	start := 0
	if limit > 0 && total > limit {
		start = total - limit
	}
	result := make([]Turn, total-start)
	copy(result, all[start:])
	return result, total, nil
}

// TurnsAfter returns all turns with sequence greater than afterSeq.
func (s *MemStore) TurnsAfter(repoID, agent string, afterSeq int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Turn
	for _, turn := range s.turns[convKey(repoID, agent)] {
		if turn.Seq > afterSeq {
			result = append(result, turn)
		}
	}
	return result, nil
}

// GetWorkingMemory returns the working memory for a (repository, agent).
func (s *MemStore) GetWorkingMemory(repoID, agent string) (*WorkingMemory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mem, ok := s.memory[convKey(repoID, agent)]
	if !ok {
		return nil, false, nil
	}
	clone := *mem
	return &clone, true, nil
}

// SaveWorkingMemory stores working memory, conditional on the high-water
// mark still matching prevThroughSeq.
func (s *MemStore) SaveWorkingMemory(mem *WorkingMemory, prevThroughSeq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := convKey(mem.RepoID, mem.Agent)
	if existing, ok := s.memory[key]; ok && existing.ThroughSeq != prevThroughSeq {
		return &ErrStaleMemory{Expected: prevThroughSeq, Actual: existing.ThroughSeq}
	}
	mem.UpdatedAt = time.Now()
	clone := *mem
	s.memory[key] = &clone
	return nil
}

// AddToolCall appends a tool-call audit record.
func (s *MemStore) AddToolCall(rec *ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.calls = append(s.calls, *rec)
	return nil
}

// ToolCalls returns a copy of the tool-call audit trail.
func (s *MemStore) ToolCalls() []ToolCallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ToolCallRecord{}, s.calls...)
}

// AddDiagnostic appends an auto-move diagnostic.
func (s *MemStore) AddDiagnostic(d *Diagnostic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	s.diags = append(s.diags, *d)
	return nil
}

// ListDiagnostics returns up to limit of the newest diagnostics.
func (s *MemStore) ListDiagnostics(limit int) ([]Diagnostic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && len(s.diags) > limit {
		start = len(s.diags) - limit
	}
	return append([]Diagnostic{}, s.diags[start:]...), nil
}
