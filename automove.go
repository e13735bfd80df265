package hal

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/beardedphil/portfolio-2026-hal-sub011/internal/cache"
	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// Extractor is one strategy for pulling a ticket number out of free text.
// Strategies are tried in order; the first match wins. New strategies slot
// in without touching call sites.
type Extractor interface {
	Name() string
	Extract(message string) (int, bool)
}

// ticketRefPattern matches "ticket 0042", "ticket #42" and similar.
var ticketRefPattern = regexp.MustCompile(`(?i)\bticket\s*#?\s*(\d{1,4})\b`)

// messageExtractor reads a ticket reference from the event's own text.
type messageExtractor struct{}

func (messageExtractor) Name() string { return "message" }

func (messageExtractor) Extract(message string) (int, bool) {
	m := ticketRefPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// sessionExtractor falls back to the ticket captured when the run was
// started from chat. The message extractor runs first, so an id in the
// completion message takes precedence over the session association.
type sessionExtractor struct {
	sess *Session
	kind ticket.AgentKind
}

func (sessionExtractor) Name() string { return "session" }

func (e sessionExtractor) Extract(string) (int, bool) {
	return e.sess.TicketFor(e.kind)
}

// runStartPattern is the fixed textual shape of a message that starts an
// agent run: "<agent keyword> ticket <id>".
var runStartPattern = regexp.MustCompile(`(?i)\b(implement|build|fix|qa|review|verify)\s+ticket\s*#?\s*(\d{1,4})\b`)

var startKeywordKind = map[string]ticket.AgentKind{
	"implement": ticket.AgentImplementation,
	"build":     ticket.AgentImplementation,
	"fix":       ticket.AgentImplementation,
	"qa":        ticket.AgentQA,
	"review":    ticket.AgentQA,
	"verify":    ticket.AgentQA,
}

// CaptureRunStart inspects the message that launched a run and records
// the agent-kind -> ticket association on the session. Returns the kind
// and number when the pattern matched.
func CaptureRunStart(sess *Session, message string) (ticket.AgentKind, int, bool) {
	m := runStartPattern.FindStringSubmatch(message)
	if m == nil {
		return "", 0, false
	}
	kind := startKeywordKind[normalizeKeyword(m[1])]
	n, err := strconv.Atoi(m[2])
	if err != nil || n == 0 {
		return "", 0, false
	}
	sess.AssociateTicket(kind, n)
	return kind, n, true
}

func normalizeKeyword(word string) string {
	out := make([]byte, len(word))
	for i := 0; i < len(word); i++ {
		c := word[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Verdict text patterns, used only when no explicit verdict field arrived.
var (
	passPattern = regexp.MustCompile(`(?i)\b(pass(ed)?|approved?|lgtm|ready (to|for) merge|merge[- ]approved)\b`)
	failPattern = regexp.MustCompile(`(?i)\b(fail(ed)?|reject(ed)?|changes requested|not approved)\b`)
)

// resolveVerdict prefers the explicit verdict field; otherwise it scans
// the completion text. Fail patterns are checked first so a message like
// "2 checks failed, rest passed" reads as a failure.
func resolveVerdict(ev ticket.RunEvent) ticket.Verdict {
	if ev.Verdict != ticket.VerdictNone {
		return ev.Verdict
	}
	if failPattern.MatchString(ev.Message) {
		return ticket.VerdictFail
	}
	if passPattern.MatchString(ev.Message) {
		return ticket.VerdictPass
	}
	return ticket.VerdictNone
}

// MoveOutcome reports what the detector did with one event. A skipped or
// failed move always carries a non-empty Diagnostic; benign no-ops (a
// start event for a ticket already past To Do) carry neither.
type MoveOutcome struct {
	Moved      bool          `json:"moved"`
	Column     ticket.Column `json:"column,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`
}

// CreationOutcome reports Branch A's result, folded into create-ticket
// tool results so the caller can narrate it without a second round trip.
type CreationOutcome struct {
	Ready        bool     `json:"ready"`
	MissingItems []string `json:"missingItems"`
	BodyFixed    bool     `json:"bodyFixed"`
	MovedToTodo  bool     `json:"movedToTodo"`
	MoveError    string   `json:"moveError,omitempty"`
}

// AutoMover watches the two auto-move signal streams: ticket creation and
// agent-run stage updates. Both branches call the Mover; neither retries
// on failure.
type AutoMover struct {
	store  ticket.Store
	mover  *Mover
	dedupe *cache.TTL
	logger *slog.Logger
}

// NewAutoMover creates the trigger detector. Duplicate terminal stage
// events within the TTL window are suppressed.
func NewAutoMover(store ticket.Store, mover *Mover, logger *slog.Logger) *AutoMover {
	return &AutoMover{
		store:  store,
		mover:  mover,
		dedupe: cache.NewTTL(30 * time.Second),
		logger: logger,
	}
}

// HandleCreated runs Branch A for a freshly created ticket: normalize,
// evaluate, and if the only defect is fixable (plain bullets under
// Acceptance criteria) apply the one bounded auto-fix and re-evaluate
// once. A ready ticket has its cleaned body persisted and moves to To Do;
// anything else stays in Unassigned with its gaps reported. One transform,
// one retry: a genuinely incomplete ticket is reported, never masked.
func (a *AutoMover) HandleCreated(t *ticket.Ticket) CreationOutcome {
	body := ticket.Normalize(t.Body)
	result := ticket.EvaluateReadiness(body)

	fixed := false
	if !result.Ready {
		fixedBody := ticket.FixAcceptanceBullets(body)
		if fixedBody != body {
			body = fixedBody
			fixed = true
			result = ticket.EvaluateReadiness(body)
		}
	}

	outcome := CreationOutcome{
		Ready:        result.Ready,
		MissingItems: result.MissingItems,
		BodyFixed:    fixed,
	}
	if !result.Ready {
		return outcome
	}

	if body != t.Body {
		if err := a.store.UpdateBody(t.ID, t.Title, body); err != nil {
			outcome.MoveError = fmt.Sprintf("failed to persist normalized body: %v", err)
			return outcome
		}
		t.Body = body
	}

	if _, err := a.mover.Move(t.ID, ticket.ColumnTodo); err != nil {
		outcome.MoveError = err.Error()
		return outcome
	}
	outcome.MovedToTodo = true
	return outcome
}

// HandleRunEvent runs Branch B for one agent-run stage update. It resolves
// the ticket through the ordered extractor strategies, decides the target
// column from (agent kind, stage, verdict), and applies the move. Every
// skipped or failed move is explained through a persisted diagnostic and
// the returned outcome; the event is never silently dropped and never
// raises.
func (a *AutoMover) HandleRunEvent(sess *Session, ev ticket.RunEvent) MoveOutcome {
	if ev.Stage.Terminal() {
		key := sess.ID + "|" + string(ev.Agent) + "|" + string(ev.Stage)
		if a.dedupe.Seen(key) {
			a.logger.Debug("duplicate terminal stage suppressed", "agent", ev.Agent, "stage", ev.Stage)
			return MoveOutcome{}
		}
	}

	extractors := []Extractor{
		messageExtractor{},
		sessionExtractor{sess: sess, kind: ev.Agent},
	}

	number, extractorName := 0, ""
	for _, ex := range extractors {
		if n, ok := ex.Extract(ev.Message); ok {
			number, extractorName = n, ex.Name()
			break
		}
	}
	if number == 0 {
		tried := make([]string, len(extractors))
		for i, ex := range extractors {
			tried[i] = ex.Name()
		}
		err := &AmbiguousSignalError{What: "ticket id", Excerpt: excerpt(ev.Message), Tried: tried}
		return a.skip(sess, ev, "", err.Error())
	}

	t, ok := a.store.GetTicketByNumber(sess.RepoID, number)
	if !ok {
		return a.skip(sess, ev, "", fmt.Sprintf("ticket %04d referenced by %s run does not exist", number, ev.Agent))
	}

	if ev.Stage.Terminal() {
		defer sess.ClearTicket(ev.Agent)
	}

	target, reason := a.decide(t, ev)
	if target == "" {
		if reason == "" {
			return MoveOutcome{} // Benign no-op (idempotent start event)
		}
		return a.skip(sess, ev, t.ID, reason)
	}

	moved, err := a.mover.Move(t.ID, target)
	if err != nil {
		return a.skip(sess, ev, t.ID, fmt.Sprintf("move to %s failed: %v", target, err))
	}

	a.logger.Info("auto-move applied",
		"ticket", moved.DisplayID(),
		"agent", ev.Agent,
		"stage", ev.Stage,
		"column", moved.Column,
		"extractor", extractorName)
	return MoveOutcome{Moved: true, Column: moved.Column}
}

// decide maps (agent kind, stage, verdict, current column) to a target
// column. An empty target with an empty reason is a benign no-op; an
// empty target with a reason is a skip that deserves a diagnostic.
func (a *AutoMover) decide(t *ticket.Ticket, ev ticket.RunEvent) (ticket.Column, string) {
	switch ev.Agent {
	case ticket.AgentImplementation:
		switch {
		case ev.Stage.Active():
			if t.Column == ticket.ColumnTodo {
				return ticket.ColumnDoing, ""
			}
			return "", "" // Already in Doing or beyond
		case ev.Stage == ticket.StageCompleted:
			return ticket.ColumnQA, ""
		case ev.Stage == ticket.StageFailed || ev.Stage == ticket.StageTimeout:
			return "", fmt.Sprintf("implementation run ended with stage %s; ticket left in %s", ev.Stage, t.Column)
		}

	case ticket.AgentQA:
		switch {
		case ev.Stage.Active():
			if t.Column == ticket.ColumnQA {
				return ticket.ColumnDoing, ""
			}
			return "", ""
		case ev.Stage == ticket.StageCompleted:
			switch resolveVerdict(ev) {
			case ticket.VerdictPass:
				return ticket.ColumnHITL, ""
			case ticket.VerdictFail:
				return ticket.ColumnTodo, ""
			default:
				err := &AmbiguousSignalError{What: "verdict", Excerpt: excerpt(ev.Message)}
				return "", err.Error()
			}
		case ev.Stage == ticket.StageFailed || ev.Stage == ticket.StageTimeout:
			return "", fmt.Sprintf("qa run ended with stage %s; ticket left in %s", ev.Stage, t.Column)
		}
	}
	return "", ""
}

// skip records and returns a diagnostic for an event that produced no
// move. Persisting the diagnostic is best-effort: a failed write must not
// turn a skip into a crash.
func (a *AutoMover) skip(sess *Session, ev ticket.RunEvent, ticketID, reason string) MoveOutcome {
	a.logger.Warn("auto-move skipped", "agent", ev.Agent, "stage", ev.Stage, "reason", reason)
	if err := a.store.AddDiagnostic(&ticket.Diagnostic{
		TicketID: ticketID,
		Agent:    ev.Agent,
		Stage:    ev.Stage,
		Reason:   reason,
		Excerpt:  excerpt(ev.Message),
	}); err != nil {
		a.logger.Error("failed to persist auto-move diagnostic", "error", err)
	}
	return MoveOutcome{Diagnostic: reason}
}

// excerpt bounds a message for diagnostics.
func excerpt(s string) string {
	if len(s) <= 160 {
		return s
	}
	return s[:160] + "..."
}
