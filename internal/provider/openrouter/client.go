// Package openrouter implements the Backend adapter for the OpenRouter
// chat-completions API, which fronts OpenAI-compatible models.
package openrouter

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	chatModels "arbor/internal/domain/models/chat"
	chatSvc "arbor/internal/domain/services/chat"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Backend talks to the OpenRouter chat completions endpoint. Messages are
// carried in OpenAI chat format as map[string]any.
type Backend struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	// reasoningUnsupported latches after an unsupported-parameter rejection
	// so the downgrade happens at most once per backend instance.
	reasoningUnsupported atomic.Bool
}

// New creates an OpenRouter backend with the given API key.
func New(apiKey string, logger *slog.Logger) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}
	return &Backend{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
		logger:  logger,
	}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "openrouter"
}

// SupportsModel returns true for vendor-namespaced names ("openai/gpt-4o"),
// the shape OpenRouter model ids take.
func (b *Backend) SupportsModel(model string) bool {
	return strings.Contains(model, "/")
}

// ConvertMessages serializes the conversation path into OpenAI chat format.
// Research and error blocks are rendering artifacts of past turns and are not
// replayed upstream.
func (b *Backend) ConvertMessages(history []*chatModels.MessageNode) ([]chatSvc.ProviderMessage, error) {
	result := make([]chatSvc.ProviderMessage, 0, len(history))

	for i, node := range history {
		var role string
		switch node.Role {
		case chatModels.RoleUser:
			role = "user"
		case chatModels.RoleAssistant:
			role = "assistant"
		default:
			return nil, fmt.Errorf("message %d: unsupported role '%s'", i, node.Role)
		}

		content := node.ContentText()
		for _, block := range node.Blocks {
			if block.BlockType != chatModels.BlockTypeAttachments {
				continue
			}
			for _, att := range block.Attachments {
				content += fmt.Sprintf("\n[attachment: %s (%s, %d bytes)]", att.Name, att.MimeType, att.Size)
			}
		}
		if content == "" {
			continue
		}

		result = append(result, map[string]any{
			"role":    role,
			"content": content,
		})
	}

	return result, nil
}

// FormatToolContinuation serializes one round of tool results back into
// OpenAI chat format: an assistant message replaying its tool_calls, followed
// by one "tool" role message per outcome.
func (b *Backend) FormatToolContinuation(
	assistantText string,
	result *chatSvc.RunResult,
	calls []chatModels.ToolCall,
	outcomes []chatSvc.ToolOutcome,
) ([]chatSvc.ProviderMessage, error) {
	toolCalls := make([]map[string]any, 0, len(calls))
	for _, call := range calls {
		args, err := encodeArgs(call.Args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode args for tool %s: %w", call.Name, err)
		}
		toolCalls = append(toolCalls, map[string]any{
			"id":   call.ID,
			"type": "function",
			"function": map[string]any{
				"name":      call.Name,
				"arguments": args,
			},
		})
	}

	assistant := map[string]any{
		"role":       "assistant",
		"tool_calls": toolCalls,
	}
	if assistantText != "" {
		assistant["content"] = assistantText
	}

	messages := []chatSvc.ProviderMessage{assistant}
	for _, outcome := range outcomes {
		messages = append(messages, map[string]any{
			"role":         "tool",
			"tool_call_id": outcome.CallID,
			"content":      outcome.Result,
		})
	}
	return messages, nil
}
