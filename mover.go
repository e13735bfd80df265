// Package hal implements the ticket lifecycle orchestrator: the column
// transition executor, the auto-move trigger detector, the tool-call
// dispatcher for the planning agent, and the bounded conversation context
// manager.
package hal

import (
	"log/slog"
	"time"

	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// Mover is the column transition executor. It validates the target
// column, applies the single atomic state change (column, position,
// moved-at) through the store, and fires the resync hook. It does not
// decide whether a transition is permitted; callers do.
type Mover struct {
	store  ticket.Store
	resync func() // Fire-and-forget signal to the presentation layer
	logger *slog.Logger
	now    func() time.Time
}

// NewMover creates a transition executor. resync may be nil.
func NewMover(store ticket.Store, resync func(), logger *slog.Logger) *Mover {
	return &Mover{
		store:  store,
		resync: resync,
		logger: logger,
		now:    time.Now,
	}
}

// Move transitions one ticket to the target column, appending it at the
// end (max position + 1, recomputed at call time inside the store's
// transaction). Moving a ticket to the column it is already in is legal
// and equivalent to a no-op with respect to column. On success the resync
// hook fires without blocking the caller.
func (m *Mover) Move(ticketID string, target ticket.Column) (*ticket.Ticket, error) {
	if !target.Valid() {
		return nil, &UnknownColumnError{Column: string(target)}
	}

	updated, err := m.store.MoveTicket(ticketID, target, m.now())
	if err != nil {
		if _, ok := err.(*ticket.NotFoundError); ok {
			return nil, err
		}
		return nil, &DependencyUnavailableError{Dependency: "ticket datastore", Err: err}
	}

	m.logger.Info("ticket moved",
		"ticket", updated.DisplayID(),
		"column", updated.Column,
		"position", updated.Position)

	if m.resync != nil {
		go m.resync()
	}
	return updated, nil
}
