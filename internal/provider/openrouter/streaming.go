package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	chatModels "arbor/internal/domain/models/chat"
	chatSvc "arbor/internal/domain/services/chat"
)

// Run streams one generation over SSE. If the API rejects the reasoning
// parameter the request is downgraded and retried exactly once; the backend
// instance remembers the rejection so later runs skip the doomed attempt.
func (b *Backend) Run(
	ctx context.Context,
	messages []chatSvc.ProviderMessage,
	params *chatModels.RequestParams,
) (<-chan chatSvc.BackendEvent, error) {
	if params.Model == nil || *params.Model == "" {
		return nil, fmt.Errorf("openrouter backend requires an explicit model")
	}

	eventChan := make(chan chatSvc.BackendEvent, 10)

	go func() {
		defer close(eventChan)

		withReasoning := params.ThinkingEnabled() && !b.reasoningUnsupported.Load()

		result, err := b.stream(ctx, messages, params, withReasoning, eventChan)
		if err != nil && withReasoning && isUnsupportedReasoning(err) {
			b.reasoningUnsupported.Store(true)
			b.logger.Warn("model rejected reasoning config, retrying without it",
				"model", *params.Model,
				"error", err,
			)
			result, err = b.stream(ctx, messages, params, false, eventChan)
		}

		if err != nil {
			eventChan <- chatSvc.BackendEvent{Err: fmt.Errorf("openrouter streaming error: %w", err)}
			return
		}
		eventChan <- chatSvc.BackendEvent{Result: result}
	}()

	return eventChan, nil
}

// stream runs one chat completions call, forwarding normalized deltas to
// eventChan and returning the terminal summary.
func (b *Backend) stream(
	ctx context.Context,
	messages []chatSvc.ProviderMessage,
	params *chatModels.RequestParams,
	withReasoning bool,
	eventChan chan<- chatSvc.BackendEvent,
) (*chatSvc.RunResult, error) {
	body, err := b.buildRequestBody(messages, params, withReasoning)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		if msg := gjson.GetBytes(payload, "error.message"); msg.Exists() {
			return nil, fmt.Errorf("openrouter returned %d: %s", resp.StatusCode, msg.String())
		}
		return nil, fmt.Errorf("openrouter returned %d: %s", resp.StatusCode, string(payload))
	}

	return b.consumeSSE(ctx, resp.Body, eventChan)
}

func (b *Backend) buildRequestBody(
	messages []chatSvc.ProviderMessage,
	params *chatModels.RequestParams,
	withReasoning bool,
) ([]byte, error) {
	apiMessages := make([]any, 0, len(messages)+1)
	if params.System != nil {
		apiMessages = append(apiMessages, map[string]any{
			"role":    "system",
			"content": *params.System,
		})
	}
	apiMessages = append(apiMessages, messages...)

	body := map[string]any{
		"model":    *params.Model,
		"messages": apiMessages,
		"stream":   true,
	}
	body["max_tokens"] = params.GetMaxTokens(4096)
	if params.Temperature != nil {
		body["temperature"] = *params.Temperature
	}
	if withReasoning {
		body["reasoning"] = map[string]any{"max_tokens": *params.ThinkingBudget}
	}
	if len(params.Tools) > 0 {
		tools := make([]map[string]any, 0, len(params.Tools))
		for _, def := range params.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        def.Name,
					"description": def.Description,
					"parameters":  def.InputSchema,
				},
			})
		}
		body["tools"] = tools
	}

	return json.Marshal(body)
}

// pendingToolCall accumulates one tool call across chunks; arguments arrive
// as fragmented JSON text keyed by the call's index.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// consumeSSE reads the chunk stream, emitting content/thinking deltas and
// collecting tool calls and usage until the [DONE] sentinel.
func (b *Backend) consumeSSE(
	ctx context.Context,
	body io.Reader,
	eventChan chan<- chatSvc.BackendEvent,
) (*chatSvc.RunResult, error) {
	result := &chatSvc.RunResult{}
	pending := map[int64]*pendingToolCall{}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		chunk := gjson.Parse(data)

		if errMsg := chunk.Get("error.message"); errMsg.Exists() {
			return nil, fmt.Errorf("upstream error: %s", errMsg.String())
		}

		if model := chunk.Get("model"); model.Exists() {
			result.Model = model.String()
		}
		if usage := chunk.Get("usage"); usage.Exists() {
			result.InputTokens = int(usage.Get("prompt_tokens").Int())
			result.OutputTokens = int(usage.Get("completion_tokens").Int())
		}
		if reason := chunk.Get("choices.0.finish_reason"); reason.Exists() && reason.String() != "" {
			result.StopReason = reason.String()
		}

		delta := chunk.Get("choices.0.delta")
		if !delta.Exists() {
			continue
		}

		if text := delta.Get("content"); text.Exists() && text.String() != "" {
			if err := send(ctx, eventChan, chatModels.StreamEvent{
				Type: chatModels.EventContent,
				Text: text.String(),
			}); err != nil {
				return nil, err
			}
		}
		if reasoning := delta.Get("reasoning"); reasoning.Exists() && reasoning.String() != "" {
			if err := send(ctx, eventChan, chatModels.StreamEvent{
				Type: chatModels.EventThinking,
				Text: reasoning.String(),
			}); err != nil {
				return nil, err
			}
		}

		delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
			idx := tc.Get("index").Int()
			pc, ok := pending[idx]
			if !ok {
				pc = &pendingToolCall{}
				pending[idx] = pc
			}
			if id := tc.Get("id"); id.Exists() {
				pc.id = id.String()
			}
			if name := tc.Get("function.name"); name.Exists() && name.String() != "" {
				pc.name = name.String()
			}
			if args := tc.Get("function.arguments"); args.Exists() {
				pc.args.WriteString(args.String())
			}
			return true
		})
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	indexes := make([]int64, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	for _, idx := range indexes {
		pc := pending[idx]
		args := map[string]any{}
		if raw := pc.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				b.logger.Warn("failed to decode tool arguments",
					"tool", pc.name,
					"error", err,
				)
			}
		}
		result.PendingToolCalls = append(result.PendingToolCalls, chatModels.ToolCall{
			ID:   pc.id,
			Name: pc.name,
			Args: args,
		})
	}

	return result, nil
}

func send(ctx context.Context, eventChan chan<- chatSvc.BackendEvent, ev chatModels.StreamEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case eventChan <- chatSvc.BackendEvent{Event: &ev}:
		return nil
	}
}

// isUnsupportedReasoning reports whether err is the API rejecting the
// reasoning parameter, as opposed to a transport or auth failure.
func isUnsupportedReasoning(err error) bool {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "reasoning") {
		return false
	}
	return strings.Contains(msg, "unsupported") ||
		strings.Contains(msg, "not supported") ||
		strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "unknown")
}

// encodeArgs renders tool args as the JSON string OpenAI-format messages
// carry in function.arguments.
func encodeArgs(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
