package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	chatModels "arbor/internal/domain/models/chat"
	chatSvc "arbor/internal/domain/services/chat"
)

// Run streams one generation. If the API rejects the reasoning-budget
// parameter the request is downgraded and retried exactly once; the backend
// instance remembers the rejection so later runs skip the doomed attempt.
func (b *Backend) Run(
	ctx context.Context,
	messages []chatSvc.ProviderMessage,
	params *chatModels.RequestParams,
) (<-chan chatSvc.BackendEvent, error) {
	apiMessages := make([]anthropic.MessageParam, 0, len(messages))
	for i, msg := range messages {
		m, ok := msg.(anthropic.MessageParam)
		if !ok {
			return nil, fmt.Errorf("message %d: not an anthropic message (got %T)", i, msg)
		}
		apiMessages = append(apiMessages, m)
	}

	model := ""
	if params.Model != nil {
		model = *params.Model
	}
	if !b.SupportsModel(model) {
		return nil, fmt.Errorf("model '%s' is not supported by Anthropic backend", model)
	}

	eventChan := make(chan chatSvc.BackendEvent, 10)

	go func() {
		defer close(eventChan)

		withThinking := params.ThinkingEnabled() && !b.thinkingUnsupported.Load()

		result, err := b.stream(ctx, buildParams(apiMessages, params, model, withThinking), eventChan)
		if err != nil && withThinking && isUnsupportedThinking(err) {
			b.thinkingUnsupported.Store(true)
			b.logger.Warn("model rejected thinking config, retrying without it",
				"model", model,
				"error", err,
			)
			result, err = b.stream(ctx, buildParams(apiMessages, params, model, false), eventChan)
		}

		if err != nil {
			eventChan <- chatSvc.BackendEvent{Err: fmt.Errorf("anthropic streaming error: %w", err)}
			return
		}
		eventChan <- chatSvc.BackendEvent{Result: result}
	}()

	return eventChan, nil
}

// stream runs one Messages API call, forwarding normalized deltas to
// eventChan and returning the terminal summary. Pending tool calls come from
// the accumulated message's tool_use blocks.
func (b *Backend) stream(
	ctx context.Context,
	apiParams anthropic.MessageNewParams,
	eventChan chan<- chatSvc.BackendEvent,
) (*chatSvc.RunResult, error) {
	stream := b.client.Messages.NewStreaming(ctx, apiParams)

	message := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()

		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate message: %w", err)
		}

		normalized, ok := transformStreamEvent(event)
		if !ok {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case eventChan <- chatSvc.BackendEvent{Event: &normalized}:
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	result := &chatSvc.RunResult{
		StopReason:   string(message.StopReason),
		Model:        string(message.Model),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}

	for _, block := range message.Content {
		toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		args := map[string]any{}
		if len(toolUse.Input) > 0 {
			if err := json.Unmarshal(toolUse.Input, &args); err != nil {
				b.logger.Warn("failed to decode tool input",
					"tool", toolUse.Name,
					"error", err,
				)
			}
		}
		result.PendingToolCalls = append(result.PendingToolCalls, chatModels.ToolCall{
			ID:   toolUse.ID,
			Name: toolUse.Name,
			Args: args,
		})
	}

	return result, nil
}

// transformStreamEvent maps an SDK stream event onto the normalized event
// union. Lifecycle events (message_start, block boundaries, message_stop)
// carry nothing a consumer needs and are dropped.
func transformStreamEvent(event anthropic.MessageStreamEventUnion) (chatModels.StreamEvent, bool) {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		switch e.Delta.Type {
		case "text_delta":
			return chatModels.StreamEvent{Type: chatModels.EventContent, Text: e.Delta.Text}, true
		case "thinking_delta":
			return chatModels.StreamEvent{Type: chatModels.EventThinking, Text: e.Delta.Thinking}, true
		}
	}
	return chatModels.StreamEvent{}, false
}

// isUnsupportedThinking reports whether err is the API rejecting the thinking
// parameter, as opposed to a transport or auth failure.
func isUnsupportedThinking(err error) bool {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "thinking") {
		return false
	}
	return strings.Contains(msg, "unsupported") ||
		strings.Contains(msg, "not supported") ||
		strings.Contains(msg, "invalid_request_error") ||
		strings.Contains(msg, "unexpected")
}
