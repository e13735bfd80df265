package ticket

import (
	"errors"
	"testing"
	"time"
)

func TestCreateTicketAllocatesNumberAndPosition(t *testing.T) {
	store := NewMemStore()

	first := &Ticket{RepoID: "repo", Title: "first"}
	second := &Ticket{RepoID: "repo", Title: "second"}
	other := &Ticket{RepoID: "other", Title: "elsewhere"}
	for _, tk := range []*Ticket{first, second, other} {
		if err := store.CreateTicket(tk); err != nil {
			t.Fatalf("CreateTicket: %v", err)
		}
	}

	if first.Number != 1 || second.Number != 2 {
		t.Errorf("numbers should be dense per repo, got %d and %d", first.Number, second.Number)
	}
	if other.Number != 1 {
		t.Errorf("numbering must not leak across repos, got %d", other.Number)
	}
	if first.Position != 0 || second.Position != 1 {
		t.Errorf("positions should append, got %d and %d", first.Position, second.Position)
	}
	if first.Column != ColumnUnassigned {
		t.Errorf("new tickets default to unassigned, got %s", first.Column)
	}
}

func TestMoveTicketAppendsToEnd(t *testing.T) {
	store := NewMemStore()
	a := &Ticket{RepoID: "repo", Title: "a"}
	b := &Ticket{RepoID: "repo", Title: "b"}
	if err := store.CreateTicket(a); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateTicket(b); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	moved, err := store.MoveTicket(a.ID, ColumnTodo, now)
	if err != nil {
		t.Fatalf("MoveTicket: %v", err)
	}
	if moved.Column != ColumnTodo || moved.Position != 0 {
		t.Errorf("first move into empty column should land at 0, got %s/%d", moved.Column, moved.Position)
	}
	if !moved.MovedAt.Equal(now) {
		t.Errorf("MovedAt not updated")
	}

	moved, err = store.MoveTicket(b.ID, ColumnTodo, now)
	if err != nil {
		t.Fatal(err)
	}
	if moved.Position != 1 {
		t.Errorf("second move should append, got position %d", moved.Position)
	}
}

func TestMoveTicketNotFound(t *testing.T) {
	store := NewMemStore()
	_, err := store.MoveTicket("missing", ColumnTodo, time.Now())
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestAppendTurnSequencesAndRecentTurns(t *testing.T) {
	store := NewMemStore()
	for i := 0; i < 5; i++ {
		turn := &Turn{Role: "user", Content: "hello"}
		if err := store.AppendTurn("repo", "planning", turn); err != nil {
			t.Fatal(err)
		}
		if turn.Seq != i+1 {
			t.Fatalf("expected seq %d, got %d", i+1, turn.Seq)
		}
	}

	turns, total, err := store.RecentTurns("repo", "planning", 3)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(turns) != 3 || turns[0].Seq != 3 || turns[2].Seq != 5 {
		t.Errorf("expected newest 3 in order, got %+v", turns)
	}

	after, err := store.TurnsAfter("repo", "planning", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].Seq != 4 {
		t.Errorf("expected turns after seq 3, got %+v", after)
	}
}

func TestSaveWorkingMemoryConditionalOnMark(t *testing.T) {
	store := NewMemStore()
	mem := &WorkingMemory{RepoID: "repo", Agent: "planning", Summary: "s", ThroughSeq: 4}
	if err := store.SaveWorkingMemory(mem, 0); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	stale := &WorkingMemory{RepoID: "repo", Agent: "planning", Summary: "stale", ThroughSeq: 6}
	err := store.SaveWorkingMemory(stale, 0)
	var staleErr *ErrStaleMemory
	if !errors.As(err, &staleErr) {
		t.Fatalf("expected ErrStaleMemory, got %v", err)
	}

	got, ok, err := store.GetWorkingMemory("repo", "planning")
	if err != nil || !ok {
		t.Fatalf("GetWorkingMemory: ok=%v err=%v", ok, err)
	}
	if got.Summary != "s" || got.ThroughSeq != 4 {
		t.Errorf("stale save must not apply, got %+v", got)
	}
}

func TestListDiagnosticsNewestLimited(t *testing.T) {
	store := NewMemStore()
	for _, reason := range []string{"one", "two", "three"} {
		if err := store.AddDiagnostic(&Diagnostic{Agent: AgentQA, Stage: StageCompleted, Reason: reason}); err != nil {
			t.Fatal(err)
		}
	}
	diags, err := store.ListDiagnostics(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 2 || diags[0].Reason != "two" || diags[1].Reason != "three" {
		t.Errorf("expected the newest two in order, got %+v", diags)
	}
}
