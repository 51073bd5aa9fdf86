package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// StreamEvent type constants (the normalized event union carried to clients).
const (
	EventContent      = "content"
	EventThinking     = "thinking"
	EventToolCall     = "tool_call"
	EventToolProgress = "tool_progress"
	EventToolResult   = "tool_result"
	EventError        = "error"
)

// Protocol frame types that wrap StreamEvents on the wire.
const (
	FrameChatStarted  = "chat_started"
	FrameChatEvent    = "chat_event"
	FrameChatFinished = "chat_finished"
)

// Turn session status constants.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
	StatusError     = "error"
)

// StreamEvent is one normalized generation event. Type selects the variant;
// unused fields are omitted from JSON.
type StreamEvent struct {
	Type          string         `json:"type"`
	Text          string         `json:"text,omitempty"`    // content, thinking
	Tool          string         `json:"tool,omitempty"`    // tool_* events
	CallID        string         `json:"call_id,omitempty"` // tool_* events
	Args          map[string]any `json:"args,omitempty"`    // tool_call
	Stage         string         `json:"stage,omitempty"`   // tool_progress
	Message       string         `json:"message,omitempty"` // tool_progress, error
	ReceivedBytes *int64         `json:"received_bytes,omitempty"`
	TotalBytes    *int64         `json:"total_bytes,omitempty"`
	Result        string         `json:"result,omitempty"` // tool_result
}

// Addition converts the event into the accumulator addition it implies, so
// the session actor can fold it into the in-flight assistant node before
// broadcasting it.
func (e StreamEvent) Addition() Addition {
	switch e.Type {
	case EventContent:
		return Addition{Kind: AdditionContentDelta, Text: e.Text}
	case EventThinking:
		return Addition{Kind: AdditionThinkingDelta, Text: e.Text}
	case EventToolCall:
		return Addition{Kind: AdditionToolCall, Call: &ToolCall{
			ID:   e.CallID,
			Name: e.Tool,
			Args: e.Args,
		}}
	case EventToolProgress:
		return Addition{Kind: AdditionToolProgress, Tool: e.Tool, Progress: &ToolProgress{
			Stage:         e.Stage,
			Message:       e.Message,
			ReceivedBytes: e.ReceivedBytes,
			TotalBytes:    e.TotalBytes,
		}}
	case EventToolResult:
		return Addition{Kind: AdditionToolResult, Tool: e.Tool, Text: e.Result}
	case EventError:
		return Addition{Kind: AdditionError, Text: e.Message}
	default:
		return Addition{}
	}
}

// ErrorEvent builds a normalized error StreamEvent. All errors crossing the
// session boundary take this shape; no internal error type leaks out.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}

// PersistedEvent is one buffered event of a run, retained in memory with a
// monotonically increasing id (starting at 1 per session) so a reconnecting
// client can catch up. Never written to durable storage.
type PersistedEvent struct {
	EventID   int64       `json:"event_id"`
	RequestID string      `json:"request_id"`
	Event     StreamEvent `json:"event"`
	CreatedAt time.Time   `json:"created_at"`
}

// FormatSSE renders a persisted event as an SSE chat_event frame. The SSE id
// line carries the event id so Last-Event-ID reconnection works natively.
func (p PersistedEvent) FormatSSE() string {
	data, err := json.Marshal(p)
	if err != nil {
		data = []byte(`{"event":{"type":"error","message":"event encoding failed"}}`)
	}
	return fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", p.EventID, FrameChatEvent, data)
}

// FormatSSEFrame renders a protocol frame (chat_started, chat_finished) that
// carries no event id.
func FormatSSEFrame(frame string, data any) string {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", frame, payload)
}

// ChatStarted is the payload of a chat_started frame.
type ChatStarted struct {
	RequestID string `json:"request_id"`
}

// ChatFinished is the payload of a chat_finished frame; Status is one of
// completed, aborted, error.
type ChatFinished struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}
