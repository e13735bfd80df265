// Package agent defines the provider-agnostic completion client used by
// the planning loop, plus the poll-based runner for cloud agent runs.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ErrProviderNotAvailable is returned when a provider's API key is not
// configured.
type ErrProviderNotAvailable string

func (e ErrProviderNotAvailable) Error() string {
	return fmt.Sprintf("provider %s not available: API key not configured", string(e))
}

// ToolDef describes one tool the model may call. InputSchema is a JSON
// Schema object serialized as raw JSON.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolUse is one tool invocation requested by the model.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolOutput carries a tool's result back to the model.
type ToolOutput struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

// Message is one turn of a provider-agnostic conversation. A message has
// text content, tool uses (assistant role) or tool outputs (user role),
// in any combination the provider supports.
type Message struct {
	Role        string       // "user" or "assistant"
	Content     string       // Text content
	ToolUses    []ToolUse    // Tool invocations (assistant messages)
	ToolOutputs []ToolOutput // Tool results (user messages)
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model           string    // Model identifier; empty means provider default
	MaxTokens       int       // Maximum tokens in response
	System          string    // System prompt
	Messages        []Message // Conversation to complete
	Tools           []ToolDef // Tools the model may call
	ContinuityToken string    // Opaque resume token from a prior response, if supported
}

// Response is a provider-agnostic completion response. ID doubles as the
// continuity token for providers that support resuming by reference.
type Response struct {
	ID         string
	Text       string
	ToolUses   []ToolUse
	StopReason string
	Usage      Usage
}

// Usage is the token usage of a single response.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TokenUsage tracks cumulative token usage across a client's lifetime.
type TokenUsage struct {
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	TotalRequests int64     `json:"total_requests"`
	LastUsed      time.Time `json:"last_used"`
}

// Client is the interface completion providers implement.
type Client interface {
	// Complete sends one completion request.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name returns the provider name.
	Name() string

	// Available reports whether the provider's API key is configured.
	Available() bool

	// GetUsage returns cumulative token usage.
	GetUsage() TokenUsage
}

// BaseClient provides shared usage accounting for Client implementations.
type BaseClient struct {
	mu    sync.Mutex
	usage TokenUsage
}

// TrackUsage records one response's token usage.
func (b *BaseClient) TrackUsage(input, output int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.usage.InputTokens += int64(input)
	b.usage.OutputTokens += int64(output)
	b.usage.TotalRequests++
	b.usage.LastUsed = time.Now()
}

// GetUsage returns cumulative token usage.
func (b *BaseClient) GetUsage() TokenUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage
}
