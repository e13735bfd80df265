package hal

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMoveRejectsUnknownColumn(t *testing.T) {
	store := ticket.NewMemStore()
	mover := NewMover(store, nil, testLogger())

	_, err := mover.Move("whatever", ticket.Column("archived"))
	var unknown *UnknownColumnError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownColumnError, got %v", err)
	}
}

func TestMoveNotFoundPassesThrough(t *testing.T) {
	store := ticket.NewMemStore()
	mover := NewMover(store, nil, testLogger())

	_, err := mover.Move("missing", ticket.ColumnTodo)
	var notFound *ticket.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestMoveFiresResync(t *testing.T) {
	store := ticket.NewMemStore()
	resynced := make(chan struct{}, 1)
	mover := NewMover(store, func() { resynced <- struct{}{} }, testLogger())

	tk := &ticket.Ticket{RepoID: "repo", Title: "t"}
	if err := store.CreateTicket(tk); err != nil {
		t.Fatal(err)
	}

	moved, err := mover.Move(tk.ID, ticket.ColumnTodo)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if moved.Column != ticket.ColumnTodo {
		t.Errorf("expected todo, got %s", moved.Column)
	}

	select {
	case <-resynced:
	case <-time.After(time.Second):
		t.Error("resync hook never fired")
	}
}

func TestMoveToSameColumnIsIdempotent(t *testing.T) {
	store := ticket.NewMemStore()
	mover := NewMover(store, nil, testLogger())

	tk := &ticket.Ticket{RepoID: "repo", Title: "t"}
	if err := store.CreateTicket(tk); err != nil {
		t.Fatal(err)
	}

	first, err := mover.Move(tk.ID, ticket.ColumnTodo)
	if err != nil {
		t.Fatal(err)
	}
	second, err := mover.Move(tk.ID, ticket.ColumnTodo)
	if err != nil {
		t.Fatalf("repeat move must be legal: %v", err)
	}
	if second.Column != first.Column {
		t.Errorf("column changed on repeat move: %s", second.Column)
	}
}
