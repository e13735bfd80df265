package hal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beardedphil/portfolio-2026-hal-sub011/agent"
	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

// PlanningAgent is the conversation stream name for the planning agent.
const PlanningAgent = "planning"

// Config holds the planner's tunables.
type Config struct {
	// Model
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`

	// Limits
	MaxToolRounds int `json:"maxToolRounds"` // Completion rounds per user message
	ContextTurns  int `json:"contextTurns"`  // Verbatim turns per context
	MemoryBatch   int `json:"memoryBatch"`   // Unfolded turns before a memory update
}

// DefaultConfig returns the planner defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     8192,
		MaxToolRounds: 8,
		ContextTurns:  20,
		MemoryBatch:   8,
	}
}

// Planner runs the planning agent's conversational loop: build the
// bounded context, complete with the tool schemas, execute requested
// tools, feed results back, and record the reply.
type Planner struct {
	client   agent.Client
	dispatch *Dispatcher
	contexts *ContextManager
	config   Config
	logger   *slog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(client agent.Client, dispatch *Dispatcher, contexts *ContextManager, config Config, logger *slog.Logger) *Planner {
	return &Planner{
		client:   client,
		dispatch: dispatch,
		contexts: contexts,
		config:   config,
		logger:   logger,
	}
}

const plannerSystemPrompt = `You are the planning agent for a ticket board. You turn conversation
into well-formed tickets and keep the board honest.

Rules:
- A ticket body must contain these level-2 sections: Goal, Human-verifiable
  deliverable, Acceptance criteria, Constraints, Non-goals.
- Acceptance criteria must be markdown checkboxes ("- [ ] ...").
- Never leave placeholder text in a ticket body.
- Use the tools to create, inspect and repair tickets. Report tool
  failures to the user honestly instead of pretending success.`

// HandleMessage processes one user message end to end and returns the
// agent's reply text. Tool failures surface inside the conversation, not
// as errors; an error return means the completion provider itself failed.
func (p *Planner) HandleMessage(ctx context.Context, sess *Session, userMessage string) (string, error) {
	if kind, number, ok := CaptureRunStart(sess, userMessage); ok {
		p.logger.Info("run start captured", "agent", kind, "ticket", fmt.Sprintf("%04d", number))
	}

	if err := p.contexts.RecordTurn(sess.RepoID, PlanningAgent, &ticket.Turn{Role: "user", Content: userMessage}); err != nil {
		return "", err
	}

	pack, err := p.contexts.BuildContext(sess.RepoID, PlanningAgent)
	if err != nil {
		return "", err
	}

	req := &agent.Request{
		Model:           p.config.Model,
		MaxTokens:       p.config.MaxTokens,
		System:          renderSystem(pack),
		Messages:        renderTurns(pack.Turns),
		Tools:           toolDefs(),
		ContinuityToken: pack.ContinuityToken,
	}

	var resp *agent.Response
	for round := 0; ; round++ {
		resp, err = p.client.Complete(ctx, req)
		if err != nil {
			return "", &DependencyUnavailableError{Dependency: "completion provider", Err: err}
		}
		if len(resp.ToolUses) == 0 {
			break
		}
		if round >= p.config.MaxToolRounds {
			p.logger.Warn("tool round limit reached", "rounds", round)
			break
		}

		// Echo the assistant's tool uses, then answer each with its result.
		req.Messages = append(req.Messages, agent.Message{
			Role:     "assistant",
			Content:  resp.Text,
			ToolUses: resp.ToolUses,
		})
		outputs := make([]agent.ToolOutput, 0, len(resp.ToolUses))
		for _, use := range resp.ToolUses {
			result := p.dispatch.Dispatch(sess, ToolCall{ID: use.ID, Name: use.Name, Args: use.Input})
			encoded, _ := json.Marshal(result)
			outputs = append(outputs, agent.ToolOutput{ToolUseID: use.ID, Content: string(encoded)})
		}
		req.Messages = append(req.Messages, agent.Message{Role: "user", ToolOutputs: outputs})
		req.ContinuityToken = resp.ID
	}

	reply := resp.Text
	if err := p.contexts.RecordTurn(sess.RepoID, PlanningAgent, &ticket.Turn{
		Role:            "assistant",
		Content:         reply,
		ContinuityToken: resp.ID,
	}); err != nil {
		return "", err
	}

	// Memory upkeep is best-effort; a failed update retries next message.
	if err := p.contexts.UpdateMemory(ctx, sess.RepoID, PlanningAgent); err != nil {
		p.logger.Warn("working memory update deferred", "error", err)
	}

	return reply, nil
}

// renderSystem folds the context pack into the system prompt. Durable
// facts come first so they survive even when old turns fall off.
func renderSystem(pack *ContextPack) string {
	var b strings.Builder
	b.WriteString(plannerSystemPrompt)
	if pack.HasMemory {
		b.WriteString("\n\n# Working memory\n")
		if pack.Summary != "" {
			b.WriteString(pack.Summary)
			b.WriteString("\n")
		}
		if facts, err := json.MarshalIndent(pack.Facts, "", "  "); err == nil {
			b.Write(facts)
		}
	}
	if pack.TruncationNote != "" {
		b.WriteString("\n\n")
		b.WriteString(pack.TruncationNote)
	}
	return b.String()
}

func renderTurns(turns []ticket.Turn) []agent.Message {
	msgs := make([]agent.Message, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, agent.Message{Role: role, Content: t.Content})
	}
	return msgs
}

// toolDefs returns the tool schemas advertised to the model. The set
// matches what the dispatcher accepts.
func toolDefs() []agent.ToolDef {
	schema := func(s string) json.RawMessage { return json.RawMessage(s) }
	return []agent.ToolDef{
		{
			Name:        ToolCreateTicket,
			Description: "Create a new ticket. The body is evaluated for readiness; a ready ticket moves to To Do automatically.",
			InputSchema: schema(`{"type":"object","properties":{"title":{"type":"string"},"body_md":{"type":"string","description":"Full markdown body with all required sections"}},"required":["title","body_md"]}`),
		},
		{
			Name:        ToolGetTicket,
			Description: "Fetch a ticket by its display number.",
			InputSchema: schema(`{"type":"object","properties":{"ticket_number":{"type":"integer"}},"required":["ticket_number"]}`),
		},
		{
			Name:        ToolEvaluateReadiness,
			Description: "Evaluate a draft ticket body against the readiness checklist without persisting anything.",
			InputSchema: schema(`{"type":"object","properties":{"body_md":{"type":"string"}},"required":["body_md"]}`),
		},
		{
			Name:        ToolUpdateTicketBody,
			Description: "Replace a ticket's body (and optionally title). The new body is re-evaluated for readiness.",
			InputSchema: schema(`{"type":"object","properties":{"ticket_number":{"type":"integer"},"title":{"type":"string"},"body_md":{"type":"string"}},"required":["ticket_number","body_md"]}`),
		},
		{
			Name:        ToolMoveToTodo,
			Description: "Move a ticket to the To Do column.",
			InputSchema: schema(`{"type":"object","properties":{"ticket_number":{"type":"integer"}},"required":["ticket_number"]}`),
		},
		{
			Name:        ToolAttachImage,
			Description: "Attach an image to a ticket. Currently unavailable.",
			InputSchema: schema(`{"type":"object","properties":{"ticket_number":{"type":"integer"},"image_url":{"type":"string"}},"required":["ticket_number","image_url"]}`),
		},
		{
			Name:        ToolSyncTickets,
			Description: "Synchronize tickets with an external tracker. Denied by policy for this agent.",
			InputSchema: schema(`{"type":"object","properties":{}}`),
		},
	}
}
