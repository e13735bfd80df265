package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// Store implements ticket.Store using SQLite.
type Store struct {
	db *DB
}

// NewStore creates a new SQLite-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// --- Ticket Operations ---

// CreateTicket creates a new ticket, allocating the next display number
// for the repository and the next position in its column, all in one
// transaction.
func (s *Store) CreateTicket(t *ticket.Ticket) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Column == "" {
		t.Column = ticket.ColumnUnassigned
	}

	row := tx.QueryRow("SELECT COALESCE(MAX(number), 0) + 1 FROM tickets WHERE repo_id = ?", t.RepoID)
	if err := row.Scan(&t.Number); err != nil {
		return fmt.Errorf("failed to allocate ticket number: %w", err)
	}

	row = tx.QueryRow(
		"SELECT COALESCE(MAX(position) + 1, 0) FROM tickets WHERE repo_id = ? AND column_id = ?",
		t.RepoID, t.Column,
	)
	if err := row.Scan(&t.Position); err != nil {
		return fmt.Errorf("failed to allocate position: %w", err)
	}

	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.MovedAt = now

	_, err = tx.Exec(`
		INSERT INTO tickets (id, repo_id, number, title, body, column_id, position, moved_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.RepoID, t.Number, t.Title, t.Body, string(t.Column), t.Position, t.MovedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}

	return tx.Commit()
}

const ticketColumns = `id, repo_id, number, title, body, column_id, position, moved_at, created_at, updated_at`

// GetTicket retrieves a ticket by primary key.
func (s *Store) GetTicket(id string) (*ticket.Ticket, bool) {
	row := s.db.QueryRow("SELECT "+ticketColumns+" FROM tickets WHERE id = ?", id)
	t, err := scanTicket(row)
	if err != nil {
		return nil, false
	}
	return t, true
}

// GetTicketByNumber retrieves a ticket by its display number.
func (s *Store) GetTicketByNumber(repoID string, number int) (*ticket.Ticket, bool) {
	row := s.db.QueryRow("SELECT "+ticketColumns+" FROM tickets WHERE repo_id = ? AND number = ?", repoID, number)
	t, err := scanTicket(row)
	if err != nil {
		return nil, false
	}
	return t, true
}

// ListTickets retrieves all tickets for a repository ordered by column
// then position.
func (s *Store) ListTickets(repoID string) ([]ticket.Ticket, error) {
	rows, err := s.db.Query(
		"SELECT "+ticketColumns+" FROM tickets WHERE repo_id = ? ORDER BY column_id, position",
		repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// UpdateBody replaces a ticket's title and body.
func (s *Store) UpdateBody(id, title, body string) error {
	res, err := s.db.Exec(
		"UPDATE tickets SET title = ?, body = ?, updated_at = ? WHERE id = ?",
		title, body, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket body: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ticket.NotFoundError{Ref: id}
	}
	return nil
}

// MaxPosition returns the current max position in a column and whether
// the column holds any tickets.
func (s *Store) MaxPosition(repoID string, col ticket.Column) (int, bool, error) {
	var maxPos sql.NullInt64
	row := s.db.QueryRow(
		"SELECT MAX(position) FROM tickets WHERE repo_id = ? AND column_id = ?",
		repoID, string(col),
	)
	if err := row.Scan(&maxPos); err != nil {
		return 0, false, fmt.Errorf("failed to query max position: %w", err)
	}
	if !maxPos.Valid {
		return 0, false, nil
	}
	return int(maxPos.Int64), true, nil
}

// MoveTicket atomically updates a ticket's column, position and moved-at.
// The target position is recomputed inside the transaction, so concurrent
// movers each get their own slot and a re-move to the same column is a
// harmless append.
func (s *Store) MoveTicket(id string, col ticket.Column, movedAt time.Time) (*ticket.Ticket, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var repoID string
	row := tx.QueryRow("SELECT repo_id FROM tickets WHERE id = ?", id)
	if err := row.Scan(&repoID); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ticket.NotFoundError{Ref: id}
		}
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}

	var position int
	row = tx.QueryRow(
		"SELECT COALESCE(MAX(position) + 1, 0) FROM tickets WHERE repo_id = ? AND column_id = ? AND id != ?",
		repoID, string(col), id,
	)
	if err := row.Scan(&position); err != nil {
		return nil, fmt.Errorf("failed to allocate position: %w", err)
	}

	_, err = tx.Exec(
		"UPDATE tickets SET column_id = ?, position = ?, moved_at = ?, updated_at = ? WHERE id = ?",
		string(col), position, movedAt, movedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to move ticket: %w", err)
	}

	updated, err := scanTicket(tx.QueryRow("SELECT "+ticketColumns+" FROM tickets WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("failed to reload ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit move: %w", err)
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*ticket.Ticket, error) {
	var t ticket.Ticket
	var col string
	var body sql.NullString
	var movedAt sql.NullTime
	err := row.Scan(&t.ID, &t.RepoID, &t.Number, &t.Title, &body, &col, &t.Position, &movedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Body = body.String
	t.Column = ticket.Column(col)
	if movedAt.Valid {
		t.MovedAt = movedAt.Time
	}
	return &t, nil
}

// --- Conversation Turns ---

// AppendTurn stores a conversation turn, assigning the next sequence
// number for the (repository, agent) stream.
func (s *Store) AppendTurn(repoID, agent string, turn *ticket.Turn) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_turns WHERE repo_id = ? AND agent = ?",
		repoID, agent,
	)
	if err := row.Scan(&turn.Seq); err != nil {
		return fmt.Errorf("failed to allocate turn sequence: %w", err)
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	images, _ := json.Marshal(turn.Images)

	_, err = tx.Exec(`
		INSERT INTO conversation_turns (repo_id, agent, seq, role, content, images, continuity_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, repoID, agent, turn.Seq, turn.Role, turn.Content, string(images), turn.ContinuityToken, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	return tx.Commit()
}

// RecentTurns returns up to limit of the newest turns in chronological
// order, plus the total turn count for the stream.
func (s *Store) RecentTurns(repoID, agent string, limit int) ([]ticket.Turn, int, error) {
	var total int
	row := s.db.QueryRow("SELECT COUNT(*) FROM conversation_turns WHERE repo_id = ? AND agent = ?", repoID, agent)
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count turns: %w", err)
	}

	afterSeq := 0
	if limit > 0 && total > limit {
		afterSeq = total - limit
	}
	turns, err := s.TurnsAfter(repoID, agent, afterSeq)
	return turns, total, err
}

// TurnsAfter returns all turns with sequence greater than afterSeq.
func (s *Store) TurnsAfter(repoID, agent string, afterSeq int) ([]ticket.Turn, error) {
	rows, err := s.db.Query(`
		SELECT seq, role, content, images, continuity_token, created_at
		FROM conversation_turns
		WHERE repo_id = ? AND agent = ? AND seq > ?
		ORDER BY seq
	`, repoID, agent, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []ticket.Turn
	for rows.Next() {
		var turn ticket.Turn
		var images, token sql.NullString
		if err := rows.Scan(&turn.Seq, &turn.Role, &turn.Content, &images, &token, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if images.Valid && images.String != "" {
			_ = json.Unmarshal([]byte(images.String), &turn.Images)
		}
		turn.ContinuityToken = token.String
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// --- Working Memory ---

// GetWorkingMemory returns the working memory for a (repository, agent).
func (s *Store) GetWorkingMemory(repoID, agent string) (*ticket.WorkingMemory, bool, error) {
	var mem ticket.WorkingMemory
	var summary, facts sql.NullString
	row := s.db.QueryRow(
		"SELECT summary, facts, through_seq, updated_at FROM working_memory WHERE repo_id = ? AND agent = ?",
		repoID, agent,
	)
	err := row.Scan(&summary, &facts, &mem.ThroughSeq, &mem.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load working memory: %w", err)
	}

	mem.RepoID = repoID
	mem.Agent = agent
	mem.Summary = summary.String
	if facts.Valid && facts.String != "" {
		if err := json.Unmarshal([]byte(facts.String), &mem.Facts); err != nil {
			return nil, false, fmt.Errorf("failed to decode memory facts: %w", err)
		}
	}
	return &mem, true, nil
}

// SaveWorkingMemory upserts working memory, conditional on the stored
// high-water mark still matching prevThroughSeq. A concurrent writer that
// advanced the mark first wins; the loser retries from a fresh read.
func (s *Store) SaveWorkingMemory(mem *ticket.WorkingMemory, prevThroughSeq int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	row := tx.QueryRow("SELECT through_seq FROM working_memory WHERE repo_id = ? AND agent = ?", mem.RepoID, mem.Agent)
	err = row.Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read memory mark: %w", err)
	}
	if err == nil && current != prevThroughSeq {
		return &ticket.ErrStaleMemory{Expected: prevThroughSeq, Actual: current}
	}

	facts, _ := json.Marshal(mem.Facts)
	mem.UpdatedAt = time.Now()
	_, err = tx.Exec(`
		INSERT INTO working_memory (repo_id, agent, summary, facts, through_seq, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, agent) DO UPDATE SET
			summary = excluded.summary,
			facts = excluded.facts,
			through_seq = excluded.through_seq,
			updated_at = excluded.updated_at
	`, mem.RepoID, mem.Agent, mem.Summary, string(facts), mem.ThroughSeq, mem.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save working memory: %w", err)
	}

	return tx.Commit()
}

// --- Audit Trails ---

// AddToolCall appends a tool-call audit record.
func (s *Store) AddToolCall(rec *ticket.ToolCallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO tool_calls (id, session_id, tool, input, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.SessionID, rec.Tool, rec.Input, rec.Output, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record tool call: %w", err)
	}
	return nil
}

// AddDiagnostic appends an auto-move diagnostic.
func (s *Store) AddDiagnostic(d *ticket.Diagnostic) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO automove_log (id, ticket_id, agent, stage, reason, excerpt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.TicketID, string(d.Agent), string(d.Stage), d.Reason, d.Excerpt, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record diagnostic: %w", err)
	}
	return nil
}

// ListDiagnostics returns up to limit of the newest diagnostics, oldest
// first.
func (s *Store) ListDiagnostics(limit int) ([]ticket.Diagnostic, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, ticket_id, agent, stage, reason, excerpt, created_at
		FROM (
			SELECT * FROM automove_log ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostics: %w", err)
	}
	defer rows.Close()

	var diags []ticket.Diagnostic
	for rows.Next() {
		var d ticket.Diagnostic
		var ticketID, excerpt sql.NullString
		var agent, stage string
		if err := rows.Scan(&d.ID, &ticketID, &agent, &stage, &d.Reason, &excerpt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		d.TicketID = ticketID.String
		d.Excerpt = excerpt.String
		d.Agent = ticket.AgentKind(agent)
		d.Stage = ticket.Stage(stage)
		diags = append(diags, d)
	}
	return diags, rows.Err()
}
