package hal

import (
	"sync"

	"github.com/google/uuid"

	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// Session scopes the mutable state of one chat session: which ticket each
// agent kind is currently working. The association is captured from the
// message that started a run and read back when completion events arrive,
// so concurrent sessions never cross-contaminate.
type Session struct {
	ID     string
	RepoID string

	mu      sync.Mutex
	tickets map[ticket.AgentKind]int // agent kind -> display number
}

// NewSession creates a session for one repository.
func NewSession(repoID string) *Session {
	return &Session{
		ID:      uuid.NewString(),
		RepoID:  repoID,
		tickets: make(map[ticket.AgentKind]int),
	}
}

// AssociateTicket records the ticket an agent kind is working.
func (s *Session) AssociateTicket(kind ticket.AgentKind, number int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[kind] = number
}

// TicketFor returns the ticket number associated with an agent kind.
func (s *Session) TicketFor(kind ticket.AgentKind) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	number, ok := s.tickets[kind]
	return number, ok
}

// ClearTicket drops the association once a run's terminal stage has been
// consumed.
func (s *Session) ClearTicket(kind ticket.AgentKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, kind)
}
