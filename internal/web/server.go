// Package web provides the HTTP surface of the orchestrator: the JSON
// board API, the chat endpoint for the planning agent, and an SSE stream
// that tells connected boards to resync after every move.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"

	hal "github.com/beardedphil/portfolio-2026-hal-sub011"
	"github.com/beardedphil/portfolio-2026-hal-sub011/agent"
	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// Server hosts the board API and the planning chat.
type Server struct {
	store   ticket.Store
	mover   *hal.Mover
	planner *hal.Planner
	client  agent.Client
	md      goldmark.Markdown
	logger  *slog.Logger
	server  *http.Server

	// SSE clients
	sseClients map[chan string]bool
	sseMu      sync.RWMutex

	// Chat sessions by id
	sessMu   sync.Mutex
	sessions map[string]*hal.Session
}

// NewServer creates the server. planner and client may be nil when the
// completion provider is not configured; the board API still works.
func NewServer(store ticket.Store, mover *hal.Mover, planner *hal.Planner, client agent.Client, logger *slog.Logger) *Server {
	return &Server{
		store:      store,
		mover:      mover,
		planner:    planner,
		client:     client,
		md:         goldmark.New(),
		logger:     logger,
		sseClients: make(map[chan string]bool),
		sessions:   make(map[string]*hal.Session),
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/board", s.handleBoard)
		r.Get("/tickets", s.handleListTickets)
		r.Get("/tickets/{number}", s.handleGetTicket)
		r.Post("/tickets/{number}/move", s.handleMoveTicket)
		r.Post("/readiness", s.handleReadiness)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.Get("/usage", s.handleUsage)
		r.Post("/chat", s.handleChat)
	})
	r.Get("/events", s.handleSSE)

	return r
}

// Start begins serving on addr. Blocks until the listener fails.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("web server listening", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Broadcast notifies every connected SSE client. Wired as the mover's
// resync hook so boards refresh after each transition.
func (s *Server) Broadcast(event string) {
	s.sseMu.RLock()
	defer s.sseMu.RUnlock()
	for ch := range s.sseClients {
		select {
		case ch <- event:
		default:
			// Slow client; it resyncs on its next event anyway.
		}
	}
}

// session returns the session for an id, creating one when unknown.
func (s *Server) session(id, repoID string) *hal.Session {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := hal.NewSession(repoID)
	s.sessions[sess.ID] = sess
	return sess
}
