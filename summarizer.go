package hal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/beardedphil/portfolio-2026-hal-sub011/agent"
	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

const extractorSystemPrompt = `You maintain the durable working memory of a ticket-planning
conversation. Given the current memory and a batch of new turns, return
the updated memory as JSON only, no prose:

{"summary": "...", "facts": {"goals": [], "requirements": [], "constraints": [],
 "decisions": [], "assumptions": [], "openQuestions": [], "glossary": {},
 "stakeholders": []}}

Carry forward facts that still hold, fold in new ones, and drop
anything the new turns invalidate. Keep the summary under 200 words.`

// MemorySummarizer is the production Summarizer. It asks the completion
// provider to fold a turn batch into the structured memory document.
type MemorySummarizer struct {
	client    agent.Client
	model     string
	maxTokens int
}

// NewMemorySummarizer creates an LLM-backed summarizer. model may be
// empty for the provider default.
func NewMemorySummarizer(client agent.Client, model string) *MemorySummarizer {
	return &MemorySummarizer{client: client, model: model, maxTokens: 2048}
}

type memoryDoc struct {
	Summary string             `json:"summary"`
	Facts   ticket.MemoryFacts `json:"facts"`
}

// Summarize implements Summarizer. Any provider or parse failure returns
// an error so the caller leaves the high-water mark untouched.
func (s *MemorySummarizer) Summarize(ctx context.Context, current *ticket.WorkingMemory, turns []ticket.Turn) (*ticket.WorkingMemory, error) {
	var b strings.Builder
	if current != nil {
		b.WriteString("# Current memory\n")
		doc := memoryDoc{Summary: current.Summary, Facts: current.Facts}
		if encoded, err := json.Marshal(doc); err == nil {
			b.Write(encoded)
		}
		b.WriteString("\n\n")
	}
	b.WriteString("# New turns\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, t.Content)
	}

	resp, err := s.client.Complete(ctx, &agent.Request{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    extractorSystemPrompt,
		Messages:  []agent.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return nil, fmt.Errorf("memory extraction request failed: %w", err)
	}

	var doc memoryDoc
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &doc); err != nil {
		return nil, fmt.Errorf("memory extraction returned malformed JSON: %w", err)
	}

	return &ticket.WorkingMemory{Summary: doc.Summary, Facts: doc.Facts}, nil
}

// extractJSON strips prose or fencing around the first JSON object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
