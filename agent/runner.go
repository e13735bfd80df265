package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// RunStatus is one snapshot of a remote agent run.
type RunStatus struct {
	Stage   ticket.Stage
	Message string
	Verdict ticket.Verdict
}

// StatusFetcher reports the current status of a remote agent run.
// Implementations wrap whichever cloud agent API hosts the run.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, runID string) (RunStatus, error)
}

// EventSink consumes run stage events as the runner observes them.
type EventSink func(ticket.RunEvent)

// Runner polls a remote agent run and emits a stage event on every
// transition. Exactly one terminal event is emitted per run: the run's
// own completed/failed, or timeout when the deadline or context expires
// first.
type Runner struct {
	fetch    StatusFetcher
	sink     EventSink
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRunner creates a poll-based runner. interval and timeout fall back
// to 5s and 30m when non-positive.
func NewRunner(fetch StatusFetcher, sink EventSink, interval, timeout time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Runner{
		fetch:    fetch,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Poll watches one run until it reaches a terminal stage, the timeout
// elapses, or ctx is canceled. The two latter cases emit a timeout event
// so the ticket never silently stalls mid-pipeline.
func (r *Runner) Poll(ctx context.Context, kind ticket.AgentKind, runID string) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var lastStage ticket.Stage
	var lastMessage string
	for {
		select {
		case <-ctx.Done():
			r.logger.Warn("agent run polling stopped", "run", runID, "agent", kind, "cause", ctx.Err())
			r.sink(ticket.RunEvent{
				Agent:   kind,
				Stage:   ticket.StageTimeout,
				Message: lastMessage,
			})
			return
		case <-ticker.C:
		}

		status, err := r.fetch.FetchStatus(ctx, runID)
		if err != nil {
			// Transient fetch failures are retried on the next tick.
			r.logger.Warn("failed to fetch run status", "run", runID, "error", err)
			continue
		}
		if status.Message != "" {
			lastMessage = status.Message
		}
		if status.Stage == lastStage {
			continue
		}
		lastStage = status.Stage

		r.sink(ticket.RunEvent{
			Agent:   kind,
			Stage:   status.Stage,
			Message: status.Message,
			Verdict: status.Verdict,
		})
		if status.Stage.Terminal() {
			r.logger.Info("agent run finished", "run", runID, "agent", kind, "stage", status.Stage)
			return
		}
	}
}
