package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// boardColumn is one column of the board response, tickets in position
// order.
type boardColumn struct {
	Column  ticket.Column   `json:"column"`
	Tickets []ticket.Ticket `json:"tickets"`
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	repoID := r.URL.Query().Get("repo")
	tickets, err := s.store.ListTickets(repoID)
	if err != nil {
		s.jsonError(w, "failed to list tickets", http.StatusInternalServerError)
		return
	}

	byColumn := make(map[ticket.Column][]ticket.Ticket)
	for _, t := range tickets {
		byColumn[t.Column] = append(byColumn[t.Column], t)
	}

	board := make([]boardColumn, 0, len(ticket.Columns))
	for _, col := range ticket.Columns {
		items := byColumn[col]
		sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
		if items == nil {
			items = []ticket.Ticket{}
		}
		board = append(board, boardColumn{Column: col, Tickets: items})
	}

	s.jsonResponse(w, map[string]any{"columns": board})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	repoID := r.URL.Query().Get("repo")
	tickets, err := s.store.ListTickets(repoID)
	if err != nil {
		s.jsonError(w, "failed to list tickets", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"tickets": tickets})
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		s.jsonError(w, "invalid ticket number", http.StatusBadRequest)
		return
	}
	repoID := r.URL.Query().Get("repo")

	t, ok := s.store.GetTicketByNumber(repoID, number)
	if !ok {
		s.jsonError(w, "ticket not found", http.StatusNotFound)
		return
	}

	var rendered bytes.Buffer
	if err := s.md.Convert([]byte(t.Body), &rendered); err != nil {
		s.logger.Warn("markdown rendering failed", "ticket", t.DisplayID(), "error", err)
	}

	readiness := ticket.EvaluateReadiness(t.Body)
	s.jsonResponse(w, map[string]any{
		"ticket":    t,
		"bodyHtml":  rendered.String(),
		"readiness": readiness,
	})
}

type moveRequest struct {
	Column ticket.Column `json:"column"`
}

// handleMoveTicket is the manual move endpoint for the board UI. It goes
// through the same executor as every automatic move.
func (s *Server) handleMoveTicket(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		s.jsonError(w, "invalid ticket number", http.StatusBadRequest)
		return
	}
	repoID := r.URL.Query().Get("repo")

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if !req.Column.Valid() {
		s.jsonError(w, "unknown column", http.StatusBadRequest)
		return
	}

	t, ok := s.store.GetTicketByNumber(repoID, number)
	if !ok {
		s.jsonError(w, "ticket not found", http.StatusNotFound)
		return
	}

	moved, err := s.mover.Move(t.ID, req.Column)
	if err != nil {
		s.logger.Error("manual move failed", "ticket", t.DisplayID(), "error", err)
		s.jsonError(w, "move failed", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"ticket": moved})
}

type readinessRequest struct {
	BodyMD string `json:"body_md"`
}

// handleReadiness evaluates a draft body without persisting anything.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	var req readinessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.BodyMD == "" {
		s.jsonError(w, "body_md is required", http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, ticket.EvaluateReadiness(ticket.Normalize(req.BodyMD)))
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	diags, err := s.store.ListDiagnostics(limit)
	if err != nil {
		s.jsonError(w, "failed to list diagnostics", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"diagnostics": diags})
}

func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request) {
	if s.client == nil {
		s.jsonError(w, "completion provider not configured", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, s.client.GetUsage())
}

type chatRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	RepoID    string `json:"repoId"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.planner == nil {
		s.jsonError(w, "planning agent not configured", http.StatusServiceUnavailable)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		s.jsonError(w, "message is required", http.StatusBadRequest)
		return
	}

	sess := s.session(req.SessionID, req.RepoID)
	reply, err := s.planner.HandleMessage(r.Context(), sess, req.Message)
	if err != nil {
		s.logger.Error("chat turn failed", "session", sess.ID, "error", err)
		s.jsonError(w, "planning agent unavailable", http.StatusBadGateway)
		return
	}

	s.jsonResponse(w, map[string]any{
		"sessionId": sess.ID,
		"reply":     reply,
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
