package hal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// fakeSummarizer returns a canned memory or error. beforeSave, when set,
// runs before returning so tests can simulate concurrent writers.
type fakeSummarizer struct {
	mem        *ticket.WorkingMemory
	err        error
	calls      int
	beforeSave func()
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ *ticket.WorkingMemory, _ []ticket.Turn) (*ticket.WorkingMemory, error) {
	f.calls++
	if f.beforeSave != nil {
		f.beforeSave()
	}
	if f.err != nil {
		return nil, f.err
	}
	clone := *f.mem
	return &clone, nil
}

func appendTurns(t *testing.T, store ticket.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := store.AppendTurn("repo", PlanningAgent, &ticket.Turn{Role: role, Content: fmt.Sprintf("turn %d", i+1)}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBuildContextCapsTurns(t *testing.T) {
	store := ticket.NewMemStore()
	m := NewContextManager(store, &fakeSummarizer{}, 20, 8, testLogger())
	appendTurns(t, store, 25)

	pack, err := m.BuildContext("repo", PlanningAgent)
	if err != nil {
		t.Fatal(err)
	}
	if len(pack.Turns) != 20 {
		t.Errorf("expected 20 turns, got %d", len(pack.Turns))
	}
	if pack.Turns[0].Seq != 6 || pack.Turns[19].Seq != 25 {
		t.Errorf("expected the newest 20 in order, got seq %d..%d", pack.Turns[0].Seq, pack.Turns[19].Seq)
	}
	if !strings.Contains(pack.TruncationNote, "5") {
		t.Errorf("truncation note should count the omitted turns: %q", pack.TruncationNote)
	}
}

func TestBuildContextNoTruncationNoteWhenComplete(t *testing.T) {
	store := ticket.NewMemStore()
	m := NewContextManager(store, &fakeSummarizer{}, 20, 8, testLogger())
	appendTurns(t, store, 5)

	pack, err := m.BuildContext("repo", PlanningAgent)
	if err != nil {
		t.Fatal(err)
	}
	if pack.TruncationNote != "" {
		t.Errorf("no note expected when nothing was omitted: %q", pack.TruncationNote)
	}
}

func TestBuildContextContinuityToken(t *testing.T) {
	store := ticket.NewMemStore()
	m := NewContextManager(store, &fakeSummarizer{}, 20, 8, testLogger())

	turns := []*ticket.Turn{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello", ContinuityToken: "msg_old"},
		{Role: "assistant", Content: "more", ContinuityToken: "msg_new"},
		{Role: "user", Content: "latest question"},
	}
	for _, turn := range turns {
		if err := store.AppendTurn("repo", PlanningAgent, turn); err != nil {
			t.Fatal(err)
		}
	}

	pack, err := m.BuildContext("repo", PlanningAgent)
	if err != nil {
		t.Fatal(err)
	}
	if pack.ContinuityToken != "msg_new" {
		t.Errorf("expected the newest assistant token, got %q", pack.ContinuityToken)
	}
}

func TestBuildContextIncludesMemory(t *testing.T) {
	store := ticket.NewMemStore()
	m := NewContextManager(store, &fakeSummarizer{}, 20, 8, testLogger())

	mem := &ticket.WorkingMemory{
		RepoID:  "repo",
		Agent:   PlanningAgent,
		Summary: "building an export widget",
		Facts:   ticket.MemoryFacts{Goals: []string{"CSV export"}},
	}
	if err := store.SaveWorkingMemory(mem, 0); err != nil {
		t.Fatal(err)
	}

	pack, err := m.BuildContext("repo", PlanningAgent)
	if err != nil {
		t.Fatal(err)
	}
	if !pack.HasMemory || pack.Summary != "building an export widget" {
		t.Errorf("memory not surfaced: %+v", pack)
	}
	if len(pack.Facts.Goals) != 1 {
		t.Errorf("facts not surfaced: %+v", pack.Facts)
	}
}

func TestUpdateMemoryBelowBatchIsNoop(t *testing.T) {
	store := ticket.NewMemStore()
	fake := &fakeSummarizer{mem: &ticket.WorkingMemory{Summary: "s"}}
	m := NewContextManager(store, fake, 20, 8, testLogger())
	appendTurns(t, store, 3)

	if err := m.UpdateMemory(context.Background(), "repo", PlanningAgent); err != nil {
		t.Fatal(err)
	}
	if fake.calls != 0 {
		t.Errorf("summarizer should not run below the batch size, ran %d times", fake.calls)
	}
	if _, ok, _ := store.GetWorkingMemory("repo", PlanningAgent); ok {
		t.Error("no memory should exist yet")
	}
}

func TestUpdateMemoryAdvancesMark(t *testing.T) {
	store := ticket.NewMemStore()
	fake := &fakeSummarizer{mem: &ticket.WorkingMemory{Summary: "folded"}}
	m := NewContextManager(store, fake, 20, 8, testLogger())
	appendTurns(t, store, 8)

	if err := m.UpdateMemory(context.Background(), "repo", PlanningAgent); err != nil {
		t.Fatal(err)
	}

	mem, ok, _ := store.GetWorkingMemory("repo", PlanningAgent)
	if !ok {
		t.Fatal("memory not saved")
	}
	if mem.ThroughSeq != 8 {
		t.Errorf("expected mark at 8, got %d", mem.ThroughSeq)
	}
	if mem.Summary != "folded" {
		t.Errorf("unexpected summary %q", mem.Summary)
	}

	// A second update with no new turns folds nothing.
	fake.calls = 0
	if err := m.UpdateMemory(context.Background(), "repo", PlanningAgent); err != nil {
		t.Fatal(err)
	}
	if fake.calls != 0 {
		t.Error("nothing to fold, summarizer should not run")
	}
}

func TestUpdateMemoryFailureLeavesMark(t *testing.T) {
	store := ticket.NewMemStore()
	fake := &fakeSummarizer{err: errors.New("model returned garbage")}
	m := NewContextManager(store, fake, 20, 8, testLogger())
	appendTurns(t, store, 8)

	if err := m.UpdateMemory(context.Background(), "repo", PlanningAgent); err == nil {
		t.Fatal("expected an error")
	}
	if _, ok, _ := store.GetWorkingMemory("repo", PlanningAgent); ok {
		t.Error("a failed extraction must not advance the mark")
	}
}

func TestUpdateMemoryConcurrentWriterDetected(t *testing.T) {
	store := ticket.NewMemStore()
	fake := &fakeSummarizer{mem: &ticket.WorkingMemory{Summary: "mine"}}
	fake.beforeSave = func() {
		// Another process folds memory while our extraction is in flight.
		other := &ticket.WorkingMemory{RepoID: "repo", Agent: PlanningAgent, Summary: "theirs", ThroughSeq: 8}
		if err := store.SaveWorkingMemory(other, 0); err != nil {
			t.Errorf("concurrent save: %v", err)
		}
	}
	m := NewContextManager(store, fake, 20, 8, testLogger())
	appendTurns(t, store, 8)

	err := m.UpdateMemory(context.Background(), "repo", PlanningAgent)
	var stale *ticket.ErrStaleMemory
	if !errors.As(err, &stale) {
		t.Fatalf("expected ErrStaleMemory, got %v", err)
	}

	mem, _, _ := store.GetWorkingMemory("repo", PlanningAgent)
	if mem.Summary != "theirs" {
		t.Errorf("the concurrent writer's memory must survive, got %q", mem.Summary)
	}
}
