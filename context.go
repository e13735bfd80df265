package hal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// ContextPack is the bounded context supplied to the planning agent on
// each turn: durable working-memory facts when they exist, the most
// recent turns verbatim, and the continuity token of the last assistant
// turn when the provider supports resuming by reference.
type ContextPack struct {
	HasMemory       bool               `json:"hasMemory"`
	Summary         string             `json:"summary,omitempty"`
	Facts           ticket.MemoryFacts `json:"facts,omitempty"`
	Turns           []ticket.Turn      `json:"turns"`
	TruncationNote  string             `json:"truncationNote,omitempty"`
	ContinuityToken string             `json:"continuityToken,omitempty"`
}

// Summarizer folds a batch of turns into working memory. Production wires
// an LLM-backed implementation; tests use a fake.
type Summarizer interface {
	Summarize(ctx context.Context, current *ticket.WorkingMemory, turns []ticket.Turn) (*ticket.WorkingMemory, error)
}

// ContextManager builds the bounded context for agent turns and keeps
// working memory current. Memory only ever advances on confirmed success:
// a failed extraction leaves the high-water mark untouched and the next
// update retries from the same point.
type ContextManager struct {
	store      ticket.Store
	summarizer Summarizer
	maxTurns   int // Verbatim turns included per context
	batchSize  int // Unfolded turns that trigger a memory update
	logger     *slog.Logger
}

// NewContextManager creates a context manager. maxTurns and batchSize
// fall back to 20 and 8 when non-positive.
func NewContextManager(store ticket.Store, summarizer Summarizer, maxTurns, batchSize int, logger *slog.Logger) *ContextManager {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	if batchSize <= 0 {
		batchSize = 8
	}
	return &ContextManager{
		store:      store,
		summarizer: summarizer,
		maxTurns:   maxTurns,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// BuildContext assembles the context pack for one (repository, agent)
// conversation. Never returns more than maxTurns verbatim turns; when
// older turns were omitted the pack says so explicitly.
func (m *ContextManager) BuildContext(repoID, agent string) (*ContextPack, error) {
	pack := &ContextPack{}

	mem, ok, err := m.store.GetWorkingMemory(repoID, agent)
	if err != nil {
		return nil, &DependencyUnavailableError{Dependency: "working memory store", Err: err}
	}
	if ok {
		pack.HasMemory = true
		pack.Summary = mem.Summary
		pack.Facts = mem.Facts
	}

	turns, total, err := m.store.RecentTurns(repoID, agent, m.maxTurns)
	if err != nil {
		return nil, &DependencyUnavailableError{Dependency: "conversation store", Err: err}
	}
	pack.Turns = turns
	if omitted := total - len(turns); omitted > 0 {
		pack.TruncationNote = fmt.Sprintf("[%d earlier turns omitted; durable facts above cover them]", omitted)
	}

	// The newest assistant turn carries the continuity token, if any.
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "assistant" {
			pack.ContinuityToken = turns[i].ContinuityToken
			break
		}
	}

	return pack, nil
}

// RecordTurn appends a turn to the conversation stream.
func (m *ContextManager) RecordTurn(repoID, agent string, turn *ticket.Turn) error {
	if err := m.store.AppendTurn(repoID, agent, turn); err != nil {
		return &DependencyUnavailableError{Dependency: "conversation store", Err: err}
	}
	return nil
}

// UpdateMemory folds unprocessed turns into working memory once enough
// have accumulated. The through-sequence mark advances only when the
// summarizer succeeded and the conditional save confirmed no concurrent
// writer got there first; on any failure the mark stays put and the next
// call retries the same turns.
func (m *ContextManager) UpdateMemory(ctx context.Context, repoID, agent string) error {
	mem, ok, err := m.store.GetWorkingMemory(repoID, agent)
	if err != nil {
		return &DependencyUnavailableError{Dependency: "working memory store", Err: err}
	}

	through := 0
	if ok {
		through = mem.ThroughSeq
	}

	turns, err := m.store.TurnsAfter(repoID, agent, through)
	if err != nil {
		return &DependencyUnavailableError{Dependency: "conversation store", Err: err}
	}
	if len(turns) < m.batchSize {
		return nil
	}

	updated, err := m.summarizer.Summarize(ctx, mem, turns)
	if err != nil {
		m.logger.Warn("memory extraction failed; high-water mark unchanged",
			"repo", repoID, "agent", agent, "through", through, "error", err)
		return fmt.Errorf("memory extraction failed: %w", err)
	}

	updated.RepoID = repoID
	updated.Agent = agent
	updated.ThroughSeq = turns[len(turns)-1].Seq
	if updated.ThroughSeq < through {
		// Monotonicity guard; the summarizer has no business rewinding.
		updated.ThroughSeq = through
	}

	if err := m.store.SaveWorkingMemory(updated, through); err != nil {
		return fmt.Errorf("failed to save working memory: %w", err)
	}

	m.logger.Info("working memory advanced",
		"repo", repoID, "agent", agent, "through", updated.ThroughSeq, "folded", len(turns))
	return nil
}
