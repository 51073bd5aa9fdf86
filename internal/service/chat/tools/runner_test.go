package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	chatModels "arbor/internal/domain/models/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventSink collects emitted events; emit may be called concurrently.
type eventSink struct {
	mu     sync.Mutex
	events []chatModels.StreamEvent
}

func (s *eventSink) emit(ev chatModels.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) byType(eventType string) []chatModels.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chatModels.StreamEvent
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func staticHandler(result string, err error) Handler {
	return HandlerFunc(func(ctx context.Context, args map[string]any, onProgress func(chatModels.ToolProgress)) (string, error) {
		return result, err
	})
}

func TestRunner_OneOutcomePerCall(t *testing.T) {
	registry := NewRegistry()
	registry.Register(chatModels.ToolDefinition{Name: "alpha"}, staticHandler("a-result", nil))
	registry.Register(chatModels.ToolDefinition{Name: "beta"}, staticHandler("b-result", nil))

	runner := NewRunner(registry, testLogger())
	sink := &eventSink{}

	calls := []chatModels.ToolCall{
		{ID: "c1", Name: "alpha"},
		{ID: "c2", Name: "beta"},
	}
	outcomes := runner.Run(context.Background(), calls, sink.emit)

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	// Outcomes are in call order regardless of completion order.
	if outcomes[0].CallID != "c1" || outcomes[0].Result != "a-result" {
		t.Errorf("outcome[0] = %+v", outcomes[0])
	}
	if outcomes[1].CallID != "c2" || outcomes[1].Result != "b-result" {
		t.Errorf("outcome[1] = %+v", outcomes[1])
	}

	if got := sink.byType(chatModels.EventToolCall); len(got) != 2 {
		t.Errorf("got %d tool_call events, want 2", len(got))
	}
	if got := sink.byType(chatModels.EventToolResult); len(got) != 2 {
		t.Errorf("got %d tool_result events, want 2", len(got))
	}
}

func TestRunner_HandlerError(t *testing.T) {
	registry := NewRegistry()
	registry.Register(chatModels.ToolDefinition{Name: "broken"}, staticHandler("", errors.New("boom")))

	runner := NewRunner(registry, testLogger())
	sink := &eventSink{}

	outcomes := runner.Run(context.Background(), []chatModels.ToolCall{{ID: "c1", Name: "broken"}}, sink.emit)

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if !outcomes[0].IsError {
		t.Error("IsError = false, want true")
	}
	if !strings.HasPrefix(outcomes[0].Result, ErrorMarker) {
		t.Errorf("result = %q, want %q prefix", outcomes[0].Result, ErrorMarker)
	}
	if !strings.Contains(outcomes[0].Result, "boom") {
		t.Errorf("result = %q, want handler error text", outcomes[0].Result)
	}

	// The failure still produced a tool_result event.
	if got := sink.byType(chatModels.EventToolResult); len(got) != 1 {
		t.Errorf("got %d tool_result events, want 1", len(got))
	}
}

func TestRunner_UnknownTool(t *testing.T) {
	runner := NewRunner(NewRegistry(), testLogger())
	sink := &eventSink{}

	outcomes := runner.Run(context.Background(), []chatModels.ToolCall{{ID: "c1", Name: "ghost"}}, sink.emit)

	if len(outcomes) != 1 || !outcomes[0].IsError {
		t.Fatalf("outcomes = %+v, want one error outcome", outcomes)
	}
	if !strings.Contains(outcomes[0].Result, "tool not found") {
		t.Errorf("result = %q", outcomes[0].Result)
	}
}

func TestRunner_ProgressEvents(t *testing.T) {
	registry := NewRegistry()
	registry.Register(chatModels.ToolDefinition{Name: "slow"}, HandlerFunc(
		func(ctx context.Context, args map[string]any, onProgress func(chatModels.ToolProgress)) (string, error) {
			onProgress(chatModels.ToolProgress{Stage: "connecting"})
			onProgress(chatModels.ToolProgress{Stage: "downloading"})
			return "done", nil
		}))

	runner := NewRunner(registry, testLogger())
	sink := &eventSink{}

	runner.Run(context.Background(), []chatModels.ToolCall{{ID: "c1", Name: "slow"}}, sink.emit)

	progress := sink.byType(chatModels.EventToolProgress)
	if len(progress) != 2 {
		t.Fatalf("got %d tool_progress events, want 2", len(progress))
	}
	if progress[0].Stage != "connecting" || progress[1].Stage != "downloading" {
		t.Errorf("stages = %q, %q", progress[0].Stage, progress[1].Stage)
	}
}

func TestRunner_CanceledContext(t *testing.T) {
	registry := NewRegistry()
	registry.Register(chatModels.ToolDefinition{Name: "alpha"}, staticHandler("never", nil))

	runner := NewRunner(registry, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := runner.Run(ctx, []chatModels.ToolCall{{ID: "c1", Name: "alpha"}}, func(chatModels.StreamEvent) {})

	if len(outcomes) != 1 || !outcomes[0].IsError {
		t.Fatalf("outcomes = %+v, want one error outcome", outcomes)
	}
}

func TestRunner_NoCalls(t *testing.T) {
	runner := NewRunner(NewRegistry(), testLogger())
	outcomes := runner.Run(context.Background(), nil, func(chatModels.StreamEvent) {})
	if len(outcomes) != 0 {
		t.Errorf("outcomes = %+v, want empty", outcomes)
	}
}
