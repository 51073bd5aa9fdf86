package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	chatModels "arbor/internal/domain/models/chat"
	chatSvc "arbor/internal/domain/services/chat"
)

// MaxIterations bounds the generate/tool-call loop of one turn. Hitting the
// bound is a fatal guardrail against runaway tool-calling, surfaced as an
// error, never as silent truncation.
const MaxIterations = 200

// Orchestrator drives one backend through repeated generate → execute-tools →
// continue cycles until the turn terminates. It has no buffering of its own:
// every event from the backend or the tool runner is handed to emit
// immediately, and the caller (the session actor) folds it into the tree
// before broadcasting.
type Orchestrator struct {
	backend       chatSvc.Backend
	runner        chatSvc.ToolRunner
	logger        *slog.Logger
	maxIterations int
}

// NewOrchestrator creates an orchestrator for one turn. maxIterations <= 0
// selects the default bound.
func NewOrchestrator(backend chatSvc.Backend, runner chatSvc.ToolRunner, logger *slog.Logger, maxIterations int) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = MaxIterations
	}
	return &Orchestrator{
		backend:       backend,
		runner:        runner,
		logger:        logger,
		maxIterations: maxIterations,
	}
}

// Execute runs the agent loop over the given conversation history and returns
// the terminal status: StatusCompleted, StatusAborted or StatusError. Errors
// are normalized into an error StreamEvent before the status is returned;
// cancellation emits no error event and preserves whatever was streamed.
func (o *Orchestrator) Execute(ctx context.Context, history []*chatModels.MessageNode, params *chatModels.RequestParams, emit func(chatModels.StreamEvent)) string {
	messages, err := o.backend.ConvertMessages(history)
	if err != nil {
		emit(chatModels.ErrorEvent(fmt.Sprintf("failed to serialize conversation: %v", err)))
		return chatModels.StatusError
	}

	for iteration := 0; ; iteration++ {
		if iteration >= o.maxIterations {
			o.logger.Error("agent loop exceeded max iterations",
				"backend", o.backend.Name(),
				"max_iterations", o.maxIterations,
			)
			emit(chatModels.ErrorEvent(fmt.Sprintf(
				"agent loop exceeded %d iterations without completing", o.maxIterations)))
			return chatModels.StatusError
		}

		// Cancellation observed at a suspension point: no further backend
		// calls are issued.
		if ctx.Err() != nil {
			return chatModels.StatusAborted
		}

		result, assistantText, status := o.generate(ctx, messages, params, emit)
		if status != "" {
			return status
		}

		if len(result.PendingToolCalls) == 0 {
			return chatModels.StatusCompleted
		}

		o.logger.Info("executing pending tool calls",
			"backend", o.backend.Name(),
			"iteration", iteration,
			"tool_count", len(result.PendingToolCalls),
		)

		outcomes := o.runner.Run(ctx, result.PendingToolCalls, emit)
		if ctx.Err() != nil {
			return chatModels.StatusAborted
		}

		continuation, err := o.backend.FormatToolContinuation(assistantText, result, result.PendingToolCalls, outcomes)
		if err != nil {
			emit(chatModels.ErrorEvent(fmt.Sprintf("failed to format tool continuation: %v", err)))
			return chatModels.StatusError
		}
		messages = append(messages, continuation...)
	}
}

// generate performs one backend call and consumes its stream. It returns the
// run result and the assistant text produced during this call, or a non-empty
// terminal status when the turn ends here.
func (o *Orchestrator) generate(ctx context.Context, messages []chatSvc.ProviderMessage, params *chatModels.RequestParams, emit func(chatModels.StreamEvent)) (*chatSvc.RunResult, string, string) {
	stream, err := o.backend.Run(ctx, messages, params)
	if err != nil {
		if isCanceled(ctx, err) {
			return nil, "", chatModels.StatusAborted
		}
		emit(chatModels.ErrorEvent(fmt.Sprintf("backend request failed: %v", err)))
		return nil, "", chatModels.StatusError
	}

	var assistantText strings.Builder
	var result *chatSvc.RunResult

	for ev := range stream {
		switch {
		case ev.Err != nil:
			if isCanceled(ctx, ev.Err) {
				return nil, "", chatModels.StatusAborted
			}
			emit(chatModels.ErrorEvent(ev.Err.Error()))
			return nil, "", chatModels.StatusError

		case ev.Event != nil:
			switch ev.Event.Type {
			case chatModels.EventContent:
				assistantText.WriteString(ev.Event.Text)
				emit(*ev.Event)
			case chatModels.EventThinking:
				emit(*ev.Event)
			case chatModels.EventError:
				emit(*ev.Event)
				return nil, "", chatModels.StatusError
			default:
				emit(*ev.Event)
			}

		case ev.Result != nil:
			result = ev.Result
		}
	}

	if ctx.Err() != nil {
		return nil, "", chatModels.StatusAborted
	}
	if result == nil {
		emit(chatModels.ErrorEvent("backend stream ended without a result"))
		return nil, "", chatModels.StatusError
	}
	return result, assistantText.String(), ""
}

// isCanceled reports whether an error is the turn's own cancellation rather
// than a backend failure.
func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
