package openrouter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	chatModels "arbor/internal/domain/models/chat"
	chatSvc "arbor/internal/domain/services/chat"
)

func testBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New("test-key", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func sseBody(chunks ...string) io.Reader {
	var b strings.Builder
	for _, chunk := range chunks {
		b.WriteString("data: ")
		b.WriteString(chunk)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return strings.NewReader(b.String())
}

func drain(ch chan chatSvc.BackendEvent) []chatModels.StreamEvent {
	close(ch)
	var events []chatModels.StreamEvent
	for ev := range ch {
		if ev.Event != nil {
			events = append(events, *ev.Event)
		}
	}
	return events
}

func TestConsumeSSE_ContentAndReasoning(t *testing.T) {
	body := sseBody(
		`{"model":"openai/gpt-4o","choices":[{"delta":{"reasoning":"let me think"}}]}`,
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":" world"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":7}}`,
	)

	ch := make(chan chatSvc.BackendEvent, 16)
	result, err := testBackend(t).consumeSSE(context.Background(), body, ch)
	if err != nil {
		t.Fatalf("consumeSSE: %v", err)
	}

	events := drain(ch)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != chatModels.EventThinking || events[0].Text != "let me think" {
		t.Errorf("event[0] = %+v", events[0])
	}
	if events[1].Text != "Hello" || events[2].Text != " world" {
		t.Errorf("content deltas = %q, %q", events[1].Text, events[2].Text)
	}

	if result.Model != "openai/gpt-4o" {
		t.Errorf("model = %q", result.Model)
	}
	if result.StopReason != "stop" {
		t.Errorf("stop reason = %q", result.StopReason)
	}
	if result.InputTokens != 12 || result.OutputTokens != 7 {
		t.Errorf("tokens = %d/%d, want 12/7", result.InputTokens, result.OutputTokens)
	}
}

func TestConsumeSSE_FragmentedToolCall(t *testing.T) {
	// Arguments arrive split across chunks; id and name only in the first.
	body := sseBody(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"fetch","arguments":"{\"url\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"https://example.com\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)

	ch := make(chan chatSvc.BackendEvent, 16)
	result, err := testBackend(t).consumeSSE(context.Background(), body, ch)
	if err != nil {
		t.Fatalf("consumeSSE: %v", err)
	}

	if len(result.PendingToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(result.PendingToolCalls))
	}
	call := result.PendingToolCalls[0]
	if call.ID != "call_1" || call.Name != "fetch" {
		t.Errorf("call = %+v", call)
	}
	if call.Args["url"] != "https://example.com" {
		t.Errorf("args = %+v", call.Args)
	}
}

func TestConsumeSSE_MultipleToolCallsOrdered(t *testing.T) {
	body := sseBody(
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"b","function":{"name":"clock","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"a","function":{"name":"fetch","arguments":"{}"}}]}}]}`,
	)

	ch := make(chan chatSvc.BackendEvent, 16)
	result, err := testBackend(t).consumeSSE(context.Background(), body, ch)
	if err != nil {
		t.Fatalf("consumeSSE: %v", err)
	}

	if len(result.PendingToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(result.PendingToolCalls))
	}
	if result.PendingToolCalls[0].ID != "a" || result.PendingToolCalls[1].ID != "b" {
		t.Errorf("tool calls out of index order: %+v", result.PendingToolCalls)
	}
}

func TestConsumeSSE_UpstreamError(t *testing.T) {
	body := sseBody(`{"error":{"message":"model overloaded"}}`)

	ch := make(chan chatSvc.BackendEvent, 16)
	_, err := testBackend(t).consumeSSE(context.Background(), body, ch)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("err = %v, want upstream error", err)
	}
}

func TestConsumeSSE_IgnoresNonDataLines(t *testing.T) {
	body := strings.NewReader(": keepalive\n\nevent: ping\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")

	ch := make(chan chatSvc.BackendEvent, 16)
	if _, err := testBackend(t).consumeSSE(context.Background(), body, ch); err != nil {
		t.Fatalf("consumeSSE: %v", err)
	}
	events := drain(ch)
	if len(events) != 1 || events[0].Text != "ok" {
		t.Errorf("events = %+v", events)
	}
}

func TestIsUnsupportedReasoning(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"reasoning unsupported", errors.New("reasoning is unsupported for this model"), true},
		{"reasoning not supported", errors.New("Reasoning not supported"), true},
		{"invalid reasoning param", errors.New("invalid parameter: reasoning"), true},
		{"auth failure", errors.New("invalid api key"), false},
		{"unrelated", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUnsupportedReasoning(tt.err); got != tt.want {
				t.Errorf("isUnsupportedReasoning(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
