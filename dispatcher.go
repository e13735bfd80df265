package hal

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// Tool names the planning agent may invoke.
const (
	ToolCreateTicket      = "create_ticket"
	ToolGetTicket         = "get_ticket"
	ToolEvaluateReadiness = "evaluate_readiness"
	ToolUpdateTicketBody  = "update_ticket_body"
	ToolMoveToTodo        = "move_ticket_to_todo"
	ToolAttachImage       = "attach_image"
	ToolSyncTickets       = "sync_tickets"
)

// ToolCall is one structured tool-invocation request emitted by an agent
// turn.
type ToolCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolError is the structured failure half of a tool result. Kind is one
// of "validation", "not_found", "unavailable", "policy_denied" or
// "dependency_unavailable".
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ToolResult is what a tool invocation returns to the agent loop. Every
// invocation, including rejected ones, leaves a tool-call audit record.
type ToolResult struct {
	Tool   string         `json:"tool"`
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result,omitempty"`
	Error  *ToolError     `json:"error,omitempty"`
}

// Dispatcher validates and executes tool calls from the planning agent.
// Validation happens before any side effect; dependency failures come
// back as structured results so the agent loop keeps running.
type Dispatcher struct {
	store  ticket.Store
	mover  *Mover
	auto   *AutoMover
	logger *slog.Logger
}

// NewDispatcher creates a tool dispatcher.
func NewDispatcher(store ticket.Store, mover *Mover, auto *AutoMover, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, mover: mover, auto: auto, logger: logger}
}

// Dispatch executes one tool call and appends its audit record. Nothing
// a tool does escapes as a panic or raw error; the agent turn always gets
// a ToolResult it can fold into its reply.
func (d *Dispatcher) Dispatch(sess *Session, call ToolCall) ToolResult {
	var result ToolResult
	switch call.Name {
	case ToolCreateTicket:
		result = d.createTicket(sess, call.Args)
	case ToolGetTicket:
		result = d.getTicket(sess, call.Args)
	case ToolEvaluateReadiness:
		result = d.evaluateReadiness(call.Args)
	case ToolUpdateTicketBody:
		result = d.updateTicketBody(sess, call.Args)
	case ToolMoveToTodo:
		result = d.moveToTodo(sess, call.Args)
	case ToolAttachImage:
		// Recognized but not implemented for this agent. A clear
		// "unavailable" result, not an error that looks like a bug.
		result = failure(call.Name, "unavailable", "attach_image is not implemented for the planning agent yet")
	case ToolSyncTickets:
		err := &PolicyDeniedError{Tool: call.Name, Reason: "ticket sync is disabled for the planning agent"}
		result = failure(call.Name, "policy_denied", err.Error())
	default:
		result = failure(call.Name, "validation", fmt.Sprintf("unknown tool %q", call.Name))
	}

	d.audit(sess, call, result)
	return result
}

// audit appends the tool-call record regardless of outcome.
func (d *Dispatcher) audit(sess *Session, call ToolCall, result ToolResult) {
	output, _ := json.Marshal(result)
	rec := &ticket.ToolCallRecord{
		SessionID: sess.ID,
		Tool:      call.Name,
		Input:     string(call.Args),
		Output:    string(output),
	}
	if err := d.store.AddToolCall(rec); err != nil {
		d.logger.Error("failed to record tool call", "tool", call.Name, "error", err)
	}
}

// --- Tool implementations ---

type createTicketArgs struct {
	Title  string `json:"title"`
	BodyMD string `json:"body_md"`
}

func (d *Dispatcher) createTicket(sess *Session, raw json.RawMessage) ToolResult {
	var args createTicketArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure(ToolCreateTicket, "validation", err.Error())
	}
	if args.Title == "" {
		return failure(ToolCreateTicket, "validation", (&ValidationError{Field: "title", Reason: "required"}).Error())
	}
	if args.BodyMD == "" {
		return failure(ToolCreateTicket, "validation", (&ValidationError{Field: "body_md", Reason: "required"}).Error())
	}
	if tokens := ticket.FindPlaceholders(args.BodyMD); len(tokens) > 0 {
		err := &ValidationError{Field: "body_md", Tokens: tokens}
		return failure(ToolCreateTicket, "validation", err.Error())
	}

	t := &ticket.Ticket{
		RepoID: sess.RepoID,
		Title:  args.Title,
		Body:   args.BodyMD,
		Column: ticket.ColumnUnassigned,
	}
	if err := d.store.CreateTicket(t); err != nil {
		depErr := &DependencyUnavailableError{Dependency: "ticket datastore", Err: err}
		return failure(ToolCreateTicket, "dependency_unavailable", depErr.Error())
	}

	// Branch A outcome rides along so the agent can narrate it without a
	// second round trip.
	outcome := d.auto.HandleCreated(t)
	return success(ToolCreateTicket, map[string]any{
		"ticketId":     t.ID,
		"ticketNumber": t.DisplayID(),
		"column":       columnAfterCreation(outcome),
		"ready":        outcome.Ready,
		"missingItems": outcome.MissingItems,
		"bodyFixed":    outcome.BodyFixed,
		"movedToTodo":  outcome.MovedToTodo,
		"moveError":    outcome.MoveError,
	})
}

func columnAfterCreation(outcome CreationOutcome) ticket.Column {
	if outcome.MovedToTodo {
		return ticket.ColumnTodo
	}
	return ticket.ColumnUnassigned
}

type ticketNumberArgs struct {
	TicketNumber int `json:"ticket_number"`
}

func (d *Dispatcher) getTicket(sess *Session, raw json.RawMessage) ToolResult {
	var args ticketNumberArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure(ToolGetTicket, "validation", err.Error())
	}
	if args.TicketNumber <= 0 {
		return failure(ToolGetTicket, "validation", (&ValidationError{Field: "ticket_number", Reason: "must be a positive integer"}).Error())
	}

	t, ok := d.store.GetTicketByNumber(sess.RepoID, args.TicketNumber)
	if !ok {
		err := &ticket.NotFoundError{Ref: fmt.Sprintf("%04d", args.TicketNumber)}
		return failure(ToolGetTicket, "not_found", err.Error())
	}

	return success(ToolGetTicket, map[string]any{
		"ticketNumber": t.DisplayID(),
		"title":        t.Title,
		"body_md":      t.Body,
		"column":       t.Column,
		"position":     t.Position,
		"movedAt":      t.MovedAt,
	})
}

type evaluateArgs struct {
	BodyMD string `json:"body_md"`
}

func (d *Dispatcher) evaluateReadiness(raw json.RawMessage) ToolResult {
	var args evaluateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure(ToolEvaluateReadiness, "validation", err.Error())
	}
	if args.BodyMD == "" {
		return failure(ToolEvaluateReadiness, "validation", (&ValidationError{Field: "body_md", Reason: "required"}).Error())
	}

	result := ticket.EvaluateReadiness(ticket.Normalize(args.BodyMD))
	return success(ToolEvaluateReadiness, map[string]any{
		"ready":            result.Ready,
		"missingItems":     result.MissingItems,
		"checklistResults": result.Checklist,
	})
}

type updateBodyArgs struct {
	TicketNumber int    `json:"ticket_number"`
	Title        string `json:"title,omitempty"`
	BodyMD       string `json:"body_md"`
}

func (d *Dispatcher) updateTicketBody(sess *Session, raw json.RawMessage) ToolResult {
	var args updateBodyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure(ToolUpdateTicketBody, "validation", err.Error())
	}
	if args.TicketNumber <= 0 {
		return failure(ToolUpdateTicketBody, "validation", (&ValidationError{Field: "ticket_number", Reason: "must be a positive integer"}).Error())
	}
	if args.BodyMD == "" {
		return failure(ToolUpdateTicketBody, "validation", (&ValidationError{Field: "body_md", Reason: "required"}).Error())
	}
	if tokens := ticket.FindPlaceholders(args.BodyMD); len(tokens) > 0 {
		err := &ValidationError{Field: "body_md", Tokens: tokens}
		return failure(ToolUpdateTicketBody, "validation", err.Error())
	}

	t, ok := d.store.GetTicketByNumber(sess.RepoID, args.TicketNumber)
	if !ok {
		err := &ticket.NotFoundError{Ref: fmt.Sprintf("%04d", args.TicketNumber)}
		return failure(ToolUpdateTicketBody, "not_found", err.Error())
	}

	title := args.Title
	if title == "" {
		title = t.Title
	}
	body := ticket.Normalize(args.BodyMD)
	if err := d.store.UpdateBody(t.ID, title, body); err != nil {
		depErr := &DependencyUnavailableError{Dependency: "ticket datastore", Err: err}
		return failure(ToolUpdateTicketBody, "dependency_unavailable", depErr.Error())
	}

	result := ticket.EvaluateReadiness(body)
	return success(ToolUpdateTicketBody, map[string]any{
		"ticketNumber": t.DisplayID(),
		"ready":        result.Ready,
		"missingItems": result.MissingItems,
	})
}

func (d *Dispatcher) moveToTodo(sess *Session, raw json.RawMessage) ToolResult {
	var args ticketNumberArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure(ToolMoveToTodo, "validation", err.Error())
	}
	if args.TicketNumber <= 0 {
		return failure(ToolMoveToTodo, "validation", (&ValidationError{Field: "ticket_number", Reason: "must be a positive integer"}).Error())
	}

	t, ok := d.store.GetTicketByNumber(sess.RepoID, args.TicketNumber)
	if !ok {
		err := &ticket.NotFoundError{Ref: fmt.Sprintf("%04d", args.TicketNumber)}
		return failure(ToolMoveToTodo, "not_found", err.Error())
	}

	moved, err := d.mover.Move(t.ID, ticket.ColumnTodo)
	if err != nil {
		if _, ok := err.(*ticket.NotFoundError); ok {
			return failure(ToolMoveToTodo, "not_found", err.Error())
		}
		return failure(ToolMoveToTodo, "dependency_unavailable", err.Error())
	}

	return success(ToolMoveToTodo, map[string]any{
		"ticketNumber": moved.DisplayID(),
		"column":       moved.Column,
		"position":     moved.Position,
	})
}

// --- Helpers ---

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return &ValidationError{Field: "args", Reason: "missing arguments"}
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return &ValidationError{Field: "args", Reason: fmt.Sprintf("malformed arguments: %v", err)}
	}
	return nil
}

func success(tool string, result map[string]any) ToolResult {
	return ToolResult{Tool: tool, OK: true, Result: result}
}

func failure(tool, kind, message string) ToolResult {
	return ToolResult{Tool: tool, Error: &ToolError{Kind: kind, Message: message}}
}
