package chat

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedBackend replays one canned BackendEvent sequence per Run call.
type scriptedBackend struct {
	runs    [][]chatSvc.BackendEvent
	runErr  error
	calls   int
	history [][]chatSvc.ProviderMessage
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) ConvertMessages(history []*chatModels.MessageNode) ([]chatSvc.ProviderMessage, error) {
	msgs := make([]chatSvc.ProviderMessage, 0, len(history))
	for _, n := range history {
		msgs = append(msgs, n.ContentText())
	}
	return msgs, nil
}

func (b *scriptedBackend) Run(ctx context.Context, messages []chatSvc.ProviderMessage, params *chatModels.RequestParams) (<-chan chatSvc.BackendEvent, error) {
	if b.runErr != nil {
		return nil, b.runErr
	}
	b.history = append(b.history, messages)
	script := b.runs[min(b.calls, len(b.runs)-1)]
	b.calls++

	ch := make(chan chatSvc.BackendEvent, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (b *scriptedBackend) FormatToolContinuation(assistantText string, result *chatSvc.RunResult, calls []chatModels.ToolCall, outcomes []chatSvc.ToolOutcome) ([]chatSvc.ProviderMessage, error) {
	msgs := []chatSvc.ProviderMessage{assistantText}
	for _, o := range outcomes {
		msgs = append(msgs, o.Result)
	}
	return msgs, nil
}

// echoRunner returns one successful outcome per call without emitting events.
type echoRunner struct{ calls int }

func (r *echoRunner) Run(ctx context.Context, calls []chatModels.ToolCall, emit func(chatModels.StreamEvent)) []chatSvc.ToolOutcome {
	r.calls++
	outcomes := make([]chatSvc.ToolOutcome, len(calls))
	for i, c := range calls {
		outcomes[i] = chatSvc.ToolOutcome{CallID: c.ID, Name: c.Name, Result: "ok"}
	}
	return outcomes
}

func contentEvent(text string) chatSvc.BackendEvent {
	return chatSvc.BackendEvent{Event: &chatModels.StreamEvent{Type: chatModels.EventContent, Text: text}}
}

func resultEvent(calls ...chatModels.ToolCall) chatSvc.BackendEvent {
	return chatSvc.BackendEvent{Result: &chatSvc.RunResult{PendingToolCalls: calls, StopReason: "end_turn"}}
}

func collectEmit(events *[]chatModels.StreamEvent) func(chatModels.StreamEvent) {
	return func(ev chatModels.StreamEvent) { *events = append(*events, ev) }
}

func TestOrchestrator_Completion(t *testing.T) {
	backend := &scriptedBackend{runs: [][]chatSvc.BackendEvent{
		{contentEvent("Hello"), contentEvent(" there"), resultEvent()},
	}}
	o := NewOrchestrator(backend, &echoRunner{}, testLogger(), 0)

	var events []chatModels.StreamEvent
	status := o.Execute(context.Background(), nil, nil, collectEmit(&events))

	if status != chatModels.StatusCompleted {
		t.Fatalf("status = %q, want completed", status)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Text != "Hello" || events[1].Text != " there" {
		t.Errorf("event texts = %q, %q", events[0].Text, events[1].Text)
	}
}

func TestOrchestrator_ToolLoop(t *testing.T) {
	backend := &scriptedBackend{runs: [][]chatSvc.BackendEvent{
		{contentEvent("checking"), resultEvent(chatModels.ToolCall{ID: "t1", Name: "clock"})},
		{contentEvent("done"), resultEvent()},
	}}
	runner := &echoRunner{}
	o := NewOrchestrator(backend, runner, testLogger(), 0)

	var events []chatModels.StreamEvent
	status := o.Execute(context.Background(), nil, nil, collectEmit(&events))

	if status != chatModels.StatusCompleted {
		t.Fatalf("status = %q, want completed", status)
	}
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2", backend.calls)
	}
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls)
	}

	// Second call must carry the continuation (assistant text + outcome).
	second := backend.history[1]
	if len(second) != 2 {
		t.Fatalf("continuation length = %d, want 2", len(second))
	}
	if second[0] != "checking" || second[1] != "ok" {
		t.Errorf("continuation = %v", second)
	}
}

func TestOrchestrator_MaxIterations(t *testing.T) {
	// Every run asks for another tool call: the loop must stop with an error.
	backend := &scriptedBackend{runs: [][]chatSvc.BackendEvent{
		{resultEvent(chatModels.ToolCall{ID: "t", Name: "clock"})},
	}}
	o := NewOrchestrator(backend, &echoRunner{}, testLogger(), 3)

	var events []chatModels.StreamEvent
	status := o.Execute(context.Background(), nil, nil, collectEmit(&events))

	if status != chatModels.StatusError {
		t.Fatalf("status = %q, want error", status)
	}
	if backend.calls != 3 {
		t.Errorf("backend calls = %d, want 3", backend.calls)
	}
	last := events[len(events)-1]
	if last.Type != chatModels.EventError || !strings.Contains(last.Message, "3 iterations") {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestOrchestrator_Cancellation(t *testing.T) {
	backend := &scriptedBackend{runs: [][]chatSvc.BackendEvent{
		{contentEvent("partial"), {Err: context.Canceled}},
	}}
	o := NewOrchestrator(backend, &echoRunner{}, testLogger(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	var events []chatModels.StreamEvent
	status := o.Execute(ctx, nil, nil, func(ev chatModels.StreamEvent) {
		events = append(events, ev)
		cancel()
	})

	if status != chatModels.StatusAborted {
		t.Fatalf("status = %q, want aborted", status)
	}
	// Partial output was emitted, and no error event followed it.
	for _, ev := range events {
		if ev.Type == chatModels.EventError {
			t.Errorf("cancellation emitted an error event: %+v", ev)
		}
	}
}

func TestOrchestrator_BackendError(t *testing.T) {
	backend := &scriptedBackend{runErr: errors.New("connection refused")}
	o := NewOrchestrator(backend, &echoRunner{}, testLogger(), 0)

	var events []chatModels.StreamEvent
	status := o.Execute(context.Background(), nil, nil, collectEmit(&events))

	if status != chatModels.StatusError {
		t.Fatalf("status = %q, want error", status)
	}
	if len(events) != 1 || events[0].Type != chatModels.EventError {
		t.Fatalf("events = %+v, want single error event", events)
	}
	if !strings.Contains(events[0].Message, "connection refused") {
		t.Errorf("error message = %q", events[0].Message)
	}
}

func TestOrchestrator_StreamEndsWithoutResult(t *testing.T) {
	backend := &scriptedBackend{runs: [][]chatSvc.BackendEvent{
		{contentEvent("half")},
	}}
	o := NewOrchestrator(backend, &echoRunner{}, testLogger(), 0)

	var events []chatModels.StreamEvent
	status := o.Execute(context.Background(), nil, nil, collectEmit(&events))

	if status != chatModels.StatusError {
		t.Fatalf("status = %q, want error", status)
	}
	last := events[len(events)-1]
	if last.Type != chatModels.EventError {
		t.Errorf("terminal event = %+v, want error", last)
	}
}
