package chat

import (
	"strings"
	"testing"
)

func TestPersistedEvent_FormatSSE(t *testing.T) {
	pe := PersistedEvent{
		EventID:   42,
		RequestID: "req-1",
		Event:     StreamEvent{Type: EventContent, Text: "hi"},
	}

	frame := pe.FormatSSE()
	if !strings.HasPrefix(frame, "id: 42\n") {
		t.Errorf("frame missing id line: %q", frame)
	}
	if !strings.Contains(frame, "event: chat_event\n") {
		t.Errorf("frame missing event line: %q", frame)
	}
	if !strings.Contains(frame, `"request_id":"req-1"`) {
		t.Errorf("frame missing request id: %q", frame)
	}
	if !strings.HasSuffix(frame, "\n\n") {
		t.Errorf("frame not terminated by blank line: %q", frame)
	}
}

func TestFormatSSEFrame(t *testing.T) {
	frame := FormatSSEFrame(FrameChatFinished, ChatFinished{RequestID: "req-1", Status: StatusCompleted})
	if strings.Contains(frame, "id:") {
		t.Errorf("protocol frame must not carry an event id: %q", frame)
	}
	if !strings.HasPrefix(frame, "event: chat_finished\n") {
		t.Errorf("frame = %q", frame)
	}
	if !strings.Contains(frame, `"status":"completed"`) {
		t.Errorf("frame missing status: %q", frame)
	}
}

func TestStreamEvent_Addition(t *testing.T) {
	tests := []struct {
		name string
		ev   StreamEvent
		kind string
	}{
		{"content", StreamEvent{Type: EventContent, Text: "x"}, AdditionContentDelta},
		{"thinking", StreamEvent{Type: EventThinking, Text: "x"}, AdditionThinkingDelta},
		{"tool call", StreamEvent{Type: EventToolCall, Tool: "fetch", CallID: "c1"}, AdditionToolCall},
		{"tool progress", StreamEvent{Type: EventToolProgress, Tool: "fetch", Stage: "downloading"}, AdditionToolProgress},
		{"tool result", StreamEvent{Type: EventToolResult, Tool: "fetch", Result: "body"}, AdditionToolResult},
		{"error", StreamEvent{Type: EventError, Message: "boom"}, AdditionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			add := tt.ev.Addition()
			if add.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", add.Kind, tt.kind)
			}
		})
	}

	if add := (StreamEvent{Type: EventToolResult, Result: "out"}).Addition(); add.Text != "out" {
		t.Errorf("tool result addition text = %q, want result payload", add.Text)
	}
}
