package hal

import (
	"strings"
	"testing"

	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

const readyBody = `## Goal
Ship the export widget.

## Human-verifiable deliverable
A demo page where the widget exports a CSV.

## Acceptance criteria
- [ ] Export button renders
- [ ] Downloaded CSV has a header row

## Constraints
No new runtime dependencies.

## Non-goals
Mobile layout work.
`

func newTestAutoMover() (*ticket.MemStore, *AutoMover) {
	store := ticket.NewMemStore()
	mover := NewMover(store, nil, testLogger())
	return store, NewAutoMover(store, mover, testLogger())
}

func createTestTicket(t *testing.T, store *ticket.MemStore, body string, col ticket.Column) *ticket.Ticket {
	t.Helper()
	tk := &ticket.Ticket{RepoID: "repo", Title: "test", Body: body, Column: col}
	if err := store.CreateTicket(tk); err != nil {
		t.Fatal(err)
	}
	return tk
}

func TestHandleCreatedReadyMovesToTodo(t *testing.T) {
	store, auto := newTestAutoMover()
	// Near-miss headings exercise normalization before evaluation.
	body := strings.NewReplacer(
		"## Goal", "# goal:",
		"## Non-goals", "### Non Goals",
	).Replace(readyBody)
	tk := createTestTicket(t, store, body, ticket.ColumnUnassigned)

	outcome := auto.HandleCreated(tk)
	if !outcome.Ready || !outcome.MovedToTodo {
		t.Fatalf("expected ready and moved, got %+v", outcome)
	}

	stored, _ := store.GetTicket(tk.ID)
	if stored.Column != ticket.ColumnTodo {
		t.Errorf("expected todo, got %s", stored.Column)
	}
	if !strings.Contains(stored.Body, "## Goal\n") {
		t.Errorf("normalized body should be persisted:\n%s", stored.Body)
	}
}

func TestHandleCreatedUnreadyStaysInUnassigned(t *testing.T) {
	store, auto := newTestAutoMover()
	body := strings.Replace(readyBody, "## Constraints", "## Notes", 1)
	tk := createTestTicket(t, store, body, ticket.ColumnUnassigned)

	outcome := auto.HandleCreated(tk)
	if outcome.Ready || outcome.MovedToTodo {
		t.Fatalf("expected unready, got %+v", outcome)
	}
	if len(outcome.MissingItems) == 0 {
		t.Error("missing items must name the gaps")
	}

	stored, _ := store.GetTicket(tk.ID)
	if stored.Column != ticket.ColumnUnassigned {
		t.Errorf("unready ticket must stay put, got %s", stored.Column)
	}
}

func TestHandleCreatedFixesPlainAcceptanceBullets(t *testing.T) {
	store, auto := newTestAutoMover()
	body := strings.NewReplacer(
		"- [ ] Export button renders", "- Export button renders",
		"- [ ] Downloaded CSV has a header row", "- Downloaded CSV has a header row",
	).Replace(readyBody)
	tk := createTestTicket(t, store, body, ticket.ColumnUnassigned)

	outcome := auto.HandleCreated(tk)
	if !outcome.BodyFixed {
		t.Error("expected the bullet auto-fix to apply")
	}
	if !outcome.Ready || !outcome.MovedToTodo {
		t.Fatalf("expected ready after fix, got %+v", outcome)
	}

	stored, _ := store.GetTicket(tk.ID)
	if !strings.Contains(stored.Body, "- [ ] Export button renders") {
		t.Errorf("fixed body should be persisted:\n%s", stored.Body)
	}
}

func TestHandleRunEventImplStartMovesTodoToDoing(t *testing.T) {
	store, auto := newTestAutoMover()
	tk := createTestTicket(t, store, readyBody, ticket.ColumnTodo)
	sess := NewSession("repo")

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentImplementation,
		Stage:   ticket.StagePolling,
		Message: "Working on ticket 0001",
	})
	if !outcome.Moved || outcome.Column != ticket.ColumnDoing {
		t.Fatalf("expected move to doing, got %+v", outcome)
	}

	stored, _ := store.GetTicket(tk.ID)
	if stored.Column != ticket.ColumnDoing {
		t.Errorf("expected doing, got %s", stored.Column)
	}
}

func TestHandleRunEventStartIsIdempotent(t *testing.T) {
	store, auto := newTestAutoMover()
	createTestTicket(t, store, readyBody, ticket.ColumnDoing)
	sess := NewSession("repo")

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentImplementation,
		Stage:   ticket.StageLaunching,
		Message: "still on ticket 1",
	})
	if outcome.Moved || outcome.Diagnostic != "" {
		t.Fatalf("expected a benign no-op, got %+v", outcome)
	}

	diags, _ := store.ListDiagnostics(10)
	if len(diags) != 0 {
		t.Errorf("a benign no-op must not produce diagnostics: %+v", diags)
	}
}

func TestHandleRunEventImplCompletedMovesToQA(t *testing.T) {
	store, auto := newTestAutoMover()
	tk := createTestTicket(t, store, readyBody, ticket.ColumnDoing)
	sess := NewSession("repo")

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentImplementation,
		Stage:   ticket.StageCompleted,
		Message: "Finished ticket #1, ready for review",
	})
	if !outcome.Moved || outcome.Column != ticket.ColumnQA {
		t.Fatalf("expected move to qa, got %+v", outcome)
	}

	stored, _ := store.GetTicket(tk.ID)
	if stored.Column != ticket.ColumnQA {
		t.Errorf("expected qa, got %s", stored.Column)
	}
}

func TestHandleRunEventQAPassMovesToHumanReview(t *testing.T) {
	store, auto := newTestAutoMover()
	tk := createTestTicket(t, store, readyBody, ticket.ColumnDoing)
	sess := NewSession("repo")

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentQA,
		Stage:   ticket.StageCompleted,
		Message: "QA passed for ticket 1, all checks green",
	})
	if !outcome.Moved || outcome.Column != ticket.ColumnHITL {
		t.Fatalf("expected move to human-in-the-loop, got %+v", outcome)
	}

	stored, _ := store.GetTicket(tk.ID)
	if stored.Column != ticket.ColumnHITL {
		t.Errorf("expected human-in-the-loop, got %s", stored.Column)
	}
}

func TestHandleRunEventQAFailMovesToTodo(t *testing.T) {
	store, auto := newTestAutoMover()
	tk := createTestTicket(t, store, readyBody, ticket.ColumnDoing)
	sess := NewSession("repo")

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentQA,
		Stage:   ticket.StageCompleted,
		Verdict: ticket.VerdictFail,
		Message: "review of ticket 1 finished",
	})
	if !outcome.Moved || outcome.Column != ticket.ColumnTodo {
		t.Fatalf("expected move to todo, got %+v", outcome)
	}

	stored, _ := store.GetTicket(tk.ID)
	if stored.Column != ticket.ColumnTodo {
		t.Errorf("expected todo, got %s", stored.Column)
	}
}

func TestHandleRunEventQAAmbiguousVerdict(t *testing.T) {
	store, auto := newTestAutoMover()
	tk := createTestTicket(t, store, readyBody, ticket.ColumnQA)
	sess := NewSession("repo")

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentQA,
		Stage:   ticket.StageCompleted,
		Message: "Done looking at ticket 1",
	})
	if outcome.Moved {
		t.Fatal("an ambiguous verdict must not move the ticket")
	}
	if !strings.Contains(outcome.Diagnostic, "verdict") {
		t.Errorf("diagnostic should name the ambiguity: %q", outcome.Diagnostic)
	}

	stored, _ := store.GetTicket(tk.ID)
	if stored.Column != ticket.ColumnQA {
		t.Errorf("ticket must stay in qa, got %s", stored.Column)
	}
	diags, _ := store.ListDiagnostics(10)
	if len(diags) != 1 {
		t.Fatalf("expected one persisted diagnostic, got %d", len(diags))
	}
}

func TestHandleRunEventFailedStageLeavesTicket(t *testing.T) {
	store, auto := newTestAutoMover()
	tk := createTestTicket(t, store, readyBody, ticket.ColumnDoing)
	sess := NewSession("repo")

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentImplementation,
		Stage:   ticket.StageFailed,
		Message: "build broke on ticket 1",
	})
	if outcome.Moved {
		t.Fatal("a failed run must not move the ticket")
	}
	if outcome.Diagnostic == "" {
		t.Fatal("a failed run needs a diagnostic")
	}

	stored, _ := store.GetTicket(tk.ID)
	if stored.Column != ticket.ColumnDoing {
		t.Errorf("ticket must stay in doing, got %s", stored.Column)
	}
}

func TestHandleRunEventNoTicketReference(t *testing.T) {
	store, auto := newTestAutoMover()
	sess := NewSession("repo")

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentImplementation,
		Stage:   ticket.StageCompleted,
		Message: "all done!",
	})
	if outcome.Moved {
		t.Fatal("no reference, no move")
	}
	if !strings.Contains(outcome.Diagnostic, "message") || !strings.Contains(outcome.Diagnostic, "session") {
		t.Errorf("diagnostic should list the strategies tried: %q", outcome.Diagnostic)
	}

	diags, _ := store.ListDiagnostics(10)
	if len(diags) != 1 || diags[0].Excerpt != "all done!" {
		t.Errorf("expected persisted diagnostic with excerpt, got %+v", diags)
	}
}

func TestHandleRunEventUnknownTicketNumber(t *testing.T) {
	_, auto := newTestAutoMover()
	sess := NewSession("repo")

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentImplementation,
		Stage:   ticket.StageCompleted,
		Message: "finished ticket 42",
	})
	if outcome.Moved {
		t.Fatal("unknown ticket, no move")
	}
	if !strings.Contains(outcome.Diagnostic, "0042") {
		t.Errorf("diagnostic should name the unresolved ticket: %q", outcome.Diagnostic)
	}
}

func TestHandleRunEventSessionFallback(t *testing.T) {
	store, auto := newTestAutoMover()
	tk := createTestTicket(t, store, readyBody, ticket.ColumnDoing)
	sess := NewSession("repo")

	if _, _, ok := CaptureRunStart(sess, "please implement ticket 1 now"); !ok {
		t.Fatal("run start not captured")
	}

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentImplementation,
		Stage:   ticket.StageCompleted,
		Message: "work finished, branch pushed",
	})
	if !outcome.Moved || outcome.Column != ticket.ColumnQA {
		t.Fatalf("expected session fallback to resolve the ticket, got %+v", outcome)
	}

	stored, _ := store.GetTicket(tk.ID)
	if stored.Column != ticket.ColumnQA {
		t.Errorf("expected qa, got %s", stored.Column)
	}

	// Terminal events consume the association.
	if _, ok := sess.TicketFor(ticket.AgentImplementation); ok {
		t.Error("association should be cleared after a terminal event")
	}
}

func TestHandleRunEventMessageBeatsSession(t *testing.T) {
	store, auto := newTestAutoMover()
	createTestTicket(t, store, readyBody, ticket.ColumnDoing) // number 1
	second := createTestTicket(t, store, readyBody, ticket.ColumnDoing)
	sess := NewSession("repo")
	sess.AssociateTicket(ticket.AgentImplementation, 1)

	outcome := auto.HandleRunEvent(sess, ticket.RunEvent{
		Agent:   ticket.AgentImplementation,
		Stage:   ticket.StageCompleted,
		Message: "finished ticket 2",
	})
	if !outcome.Moved {
		t.Fatalf("expected a move, got %+v", outcome)
	}

	stored, _ := store.GetTicket(second.ID)
	if stored.Column != ticket.ColumnQA {
		t.Errorf("the message reference must win, got %s for ticket 2", stored.Column)
	}
}

func TestHandleRunEventDuplicateTerminalSuppressed(t *testing.T) {
	store, auto := newTestAutoMover()
	createTestTicket(t, store, readyBody, ticket.ColumnDoing)
	sess := NewSession("repo")

	ev := ticket.RunEvent{
		Agent:   ticket.AgentImplementation,
		Stage:   ticket.StageCompleted,
		Message: "finished ticket 1",
	}
	first := auto.HandleRunEvent(sess, ev)
	if !first.Moved {
		t.Fatalf("first event should move, got %+v", first)
	}
	second := auto.HandleRunEvent(sess, ev)
	if second.Moved || second.Diagnostic != "" {
		t.Fatalf("duplicate terminal event must be a no-op, got %+v", second)
	}
}

func TestCaptureRunStart(t *testing.T) {
	tests := []struct {
		message string
		kind    ticket.AgentKind
		number  int
		ok      bool
	}{
		{"implement ticket 7", ticket.AgentImplementation, 7, true},
		{"Please BUILD ticket #12 today", ticket.AgentImplementation, 12, true},
		{"qa ticket 0042", ticket.AgentQA, 42, true},
		{"review ticket3", ticket.AgentQA, 3, true},
		{"verify ticket # 9", ticket.AgentQA, 9, true},
		{"talk about ticket 5", "", 0, false},
		{"implement the feature", "", 0, false},
	}
	for _, tt := range tests {
		sess := NewSession("repo")
		kind, number, ok := CaptureRunStart(sess, tt.message)
		if ok != tt.ok {
			t.Errorf("%q: ok = %v, want %v", tt.message, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if kind != tt.kind || number != tt.number {
			t.Errorf("%q: got (%s, %d), want (%s, %d)", tt.message, kind, number, tt.kind, tt.number)
		}
		if got, _ := sess.TicketFor(tt.kind); got != tt.number {
			t.Errorf("%q: association not recorded, got %d", tt.message, got)
		}
	}
}

func TestResolveVerdict(t *testing.T) {
	tests := []struct {
		name string
		ev   ticket.RunEvent
		want ticket.Verdict
	}{
		{"explicit pass wins", ticket.RunEvent{Verdict: ticket.VerdictPass, Message: "everything failed"}, ticket.VerdictPass},
		{"text pass", ticket.RunEvent{Message: "all checks passed, lgtm"}, ticket.VerdictPass},
		{"text fail", ticket.RunEvent{Message: "2 cases rejected"}, ticket.VerdictFail},
		{"fail beats pass in text", ticket.RunEvent{Message: "2 checks failed, rest passed"}, ticket.VerdictFail},
		{"no signal", ticket.RunEvent{Message: "finished the review"}, ticket.VerdictNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveVerdict(tt.ev); got != tt.want {
				t.Errorf("resolveVerdict(%q) = %q, want %q", tt.ev.Message, got, tt.want)
			}
		})
	}
}
