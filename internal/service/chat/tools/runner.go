package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	chatModels "arbor/internal/domain/models/chat"
	chatSvc "arbor/internal/domain/services/chat"
)

// ErrorMarker prefixes the result string of a failed tool invocation so the
// model (and the UI) can recognize a failure without a separate channel.
const ErrorMarker = "tool error: "

// Runner executes a batch of pending tool calls concurrently. For each call
// it emits tool_call immediately, zero or more tool_progress while the
// handler runs, and exactly one tool_result. A handler error becomes an
// error-marked result string, so the orchestrator always receives one outcome
// per call it issued.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner creates a tool runner over the given registry.
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	return &Runner{registry: registry, logger: logger}
}

// Run executes all calls and returns outcomes in call order. emit may be
// called concurrently from multiple goroutines; each call's progress events
// always precede its result (the handler goroutine emits both).
func (r *Runner) Run(ctx context.Context, calls []chatModels.ToolCall, emit func(chatModels.StreamEvent)) []chatSvc.ToolOutcome {
	if len(calls) == 0 {
		return []chatSvc.ToolOutcome{}
	}

	// Announce every call up front, in order, before any of them runs.
	for _, call := range calls {
		emit(chatModels.StreamEvent{
			Type:   chatModels.EventToolCall,
			Tool:   call.Name,
			CallID: call.ID,
			Args:   call.Args,
		})
	}

	outcomes := make([]chatSvc.ToolOutcome, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(index int, call chatModels.ToolCall) {
			defer wg.Done()
			outcomes[index] = r.execute(ctx, call, emit)

			emit(chatModels.StreamEvent{
				Type:   chatModels.EventToolResult,
				Tool:   call.Name,
				CallID: call.ID,
				Result: outcomes[index].Result,
			})
		}(i, call)
	}

	wg.Wait()
	return outcomes
}

// execute runs one call, converting every failure mode into an error-marked
// result string.
func (r *Runner) execute(ctx context.Context, call chatModels.ToolCall, emit func(chatModels.StreamEvent)) chatSvc.ToolOutcome {
	outcome := chatSvc.ToolOutcome{CallID: call.ID, Name: call.Name}

	handler := r.registry.Resolve(call.Name)
	if handler == nil {
		outcome.Result = ErrorMarker + fmt.Sprintf("tool not found: %s", call.Name)
		outcome.IsError = true
		return outcome
	}

	if err := ctx.Err(); err != nil {
		outcome.Result = ErrorMarker + err.Error()
		outcome.IsError = true
		return outcome
	}

	onProgress := func(p chatModels.ToolProgress) {
		emit(chatModels.StreamEvent{
			Type:          chatModels.EventToolProgress,
			Tool:          call.Name,
			CallID:        call.ID,
			Stage:         p.Stage,
			Message:       p.Message,
			ReceivedBytes: p.ReceivedBytes,
			TotalBytes:    p.TotalBytes,
		})
	}

	result, err := handler.Execute(ctx, call.Args, onProgress)
	if err != nil {
		r.logger.Warn("tool execution failed",
			"tool", call.Name,
			"call_id", call.ID,
			"error", err,
		)
		outcome.Result = ErrorMarker + err.Error()
		outcome.IsError = true
		return outcome
	}

	outcome.Result = result
	return outcome
}
