// Package model defines the provider-neutral interface to language models.
// Adapters for concrete vendors live in subpackages; everything above this
// layer works against Model and never imports an SDK directly.
package model

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Message is a single chat turn in provider-neutral form.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request captures the normalized model input assembled by agents.
type Request struct {
	// System carries the agent's persona and grounding instructions.
	System string `json:"system,omitempty"`
	// Messages is the conversation in chronological order, ending with the
	// turn the model should respond to.
	Messages []Message `json:"messages"`
	// MaxTokens overrides the adapter default when positive.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Temperature overrides the adapter default when non-nil. Classification
	// and rating calls pin it to zero for determinism.
	Temperature *float64 `json:"temperature,omitempty"`
}

// TokenUsage captures token accounting for a completed call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the final completion for a Request.
type Response struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`     // registry name, e.g. "openai"
	Provider string `json:"provider"` // "openai", "anthropic", "mock"
	ModelID  string `json:"model_id"` // vendor model identifier
}

// Model is the minimal interface agents need to drive generation.
// Generate blocks until the provider returns the full completion; callers
// bound it with a context deadline.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Embedder produces vector embeddings for retrieval queries and documents.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ZeroTemperature is a ready-made pointer for deterministic calls.
func ZeroTemperature() *float64 {
	t := 0.0
	return &t
}

// LastUserText returns the content of the final user message, or "".
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Responses are matched on the final user message; unmatched prompts get a
// deterministic echo so assertions stay stable.
type MockModel struct {
	info         Info
	responses    map[string]string
	permErr      error
	transientErr error
	failures     int32
	calls        atomic.Int32
}

// NewMockModel constructs a MockModel for the given registry name and provider.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider, ModelID: name},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// SetError makes every subsequent Generate call fail with err.
func (m *MockModel) SetError(err error) { m.permErr = err }

// FailTimes makes the next n Generate calls fail, then recover. Used to
// exercise retry paths.
func (m *MockModel) FailTimes(n int, err error) {
	atomic.StoreInt32(&m.failures, int32(n))
	m.transientErr = err
}

// Calls reports how many Generate invocations the mock has served.
func (m *MockModel) Calls() int { return int(m.calls.Load()) }

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n := atomic.LoadInt32(&m.failures); n > 0 {
		atomic.AddInt32(&m.failures, -1)
		return nil, m.transientErr
	}
	if m.permErr != nil {
		return nil, m.permErr
	}
	input := req.LastUserText()
	text := m.responses[input]
	if text == "" {
		text = fmt.Sprintf("Mock response to: %s", input)
	}
	return &Response{Text: text, FinishReason: "stop"}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
