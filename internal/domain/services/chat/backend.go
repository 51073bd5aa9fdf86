// Package chat declares the service contracts the orchestration engine is
// built against: the backend adapter, the tool runner and their data shapes.
// Concrete backends live under internal/provider; the orchestrator and
// session actor under internal/service/chat.
package chat

import (
	"context"

	chatModels "arbor/internal/domain/models/chat"
)

// ProviderMessage is an opaque, backend-specific serialized message. Each
// Backend owns its concrete type; the orchestrator only carries the working
// message list between ConvertMessages, Run and FormatToolContinuation of the
// same backend instance.
type ProviderMessage = any

// RunResult is the terminal summary of one generation call. A non-empty
// PendingToolCalls means the model stopped to invoke tools and the turn must
// continue after they execute.
type RunResult struct {
	PendingToolCalls []chatModels.ToolCall
	StopReason       string
	Model            string
	InputTokens      int
	OutputTokens     int
}

// BackendEvent is one item on a backend's run stream: a normalized content/
// thinking/error event, the terminal RunResult, or a transport error. Exactly
// one field is set.
type BackendEvent struct {
	Event  *chatModels.StreamEvent
	Result *RunResult
	Err    error
}

// Backend is the adapter contract each upstream model service implements.
// The orchestrator is oblivious to backend identity: chunked-transfer
// parsing, reasoning-budget parameters and capability fallbacks are all
// backend-private and must be normalized behind these four operations.
type Backend interface {
	// Name returns the backend identifier ("anthropic", "openrouter", ...).
	Name() string

	// ConvertMessages serializes the conversation path into this backend's
	// wire format, resolving attachments into inline bytes or references.
	ConvertMessages(history []*chatModels.MessageNode) ([]ProviderMessage, error)

	// Run streams one generation. Every event is sent on the returned
	// channel; the channel is closed after the terminal BackendEvent
	// (Result or Err). Cancelling ctx aborts in-progress network reads.
	Run(ctx context.Context, messages []ProviderMessage, params *chatModels.RequestParams) (<-chan BackendEvent, error)

	// FormatToolContinuation serializes one round of tool results back into
	// this backend's message format for the next generation call.
	FormatToolContinuation(assistantText string, result *RunResult, calls []chatModels.ToolCall, outcomes []ToolOutcome) ([]ProviderMessage, error)
}

// ToolOutcome is the terminal result of one tool invocation. Tool failure is
// data, not control flow: a failed handler yields a Result beginning with
// the error marker and IsError set, never a missing outcome.
type ToolOutcome struct {
	CallID  string
	Name    string
	Result  string
	IsError bool
}

// ToolRunner executes a batch of pending tool calls, emitting tool_call,
// tool_progress and tool_result events through emit, and returns exactly one
// outcome per call.
type ToolRunner interface {
	Run(ctx context.Context, calls []chatModels.ToolCall, emit func(chatModels.StreamEvent)) []ToolOutcome
}

// BackendResolver picks the backend serving a given model.
type BackendResolver interface {
	ForModel(model string) (Backend, error)
}
