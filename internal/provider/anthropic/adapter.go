package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	chatModels "arbor/internal/domain/models/chat"
	chatSvc "arbor/internal/domain/services/chat"
)

// ConvertMessages serializes the conversation path into Anthropic SDK format.
// Research and error blocks are rendering artifacts of past turns and are not
// replayed upstream; attachments are referenced by name until inline upload
// is supported.
func (b *Backend) ConvertMessages(history []*chatModels.MessageNode) ([]chatSvc.ProviderMessage, error) {
	result := make([]chatSvc.ProviderMessage, 0, len(history))

	for i, node := range history {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(node.Blocks))

		for _, block := range node.Blocks {
			switch block.BlockType {
			case chatModels.BlockTypeContent:
				if block.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(block.Text))
				}

			case chatModels.BlockTypeAttachments:
				for _, att := range block.Attachments {
					blocks = append(blocks, anthropic.NewTextBlock(
						fmt.Sprintf("[attachment: %s (%s, %d bytes)]", att.Name, att.MimeType, att.Size),
					))
				}
			}
		}

		if len(blocks) == 0 {
			continue
		}

		switch node.Role {
		case chatModels.RoleUser:
			result = append(result, anthropic.NewUserMessage(blocks...))
		case chatModels.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("message %d: unsupported role '%s'", i, node.Role)
		}
	}

	return result, nil
}

// FormatToolContinuation serializes one round of tool results back into
// Anthropic message format: the assistant message replaying its text and
// tool_use blocks, followed by a user message carrying a tool_result block
// per outcome.
func (b *Backend) FormatToolContinuation(
	assistantText string,
	result *chatSvc.RunResult,
	calls []chatModels.ToolCall,
	outcomes []chatSvc.ToolOutcome,
) ([]chatSvc.ProviderMessage, error) {
	assistantBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(calls)+1)
	if assistantText != "" {
		assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(assistantText))
	}
	for _, call := range calls {
		input, err := json.Marshal(call.Args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode args for tool %s: %w", call.Name, err)
		}
		assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(call.ID, json.RawMessage(input), call.Name))
	}

	resultBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(outcomes))
	for _, outcome := range outcomes {
		resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(outcome.CallID, outcome.Result, outcome.IsError))
	}

	return []chatSvc.ProviderMessage{
		anthropic.NewAssistantMessage(assistantBlocks...),
		anthropic.NewUserMessage(resultBlocks...),
	}, nil
}

// buildParams assembles MessageNewParams from the request knobs. withThinking
// gates the reasoning-budget parameter so a downgraded retry can drop it.
func buildParams(
	messages []anthropic.MessageParam,
	params *chatModels.RequestParams,
	model string,
	withThinking bool,
) anthropic.MessageNewParams {
	maxTokens := int64(params.GetMaxTokens(4096))

	apiParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	if params.Temperature != nil {
		apiParams.Temperature = anthropic.Float(*params.Temperature)
	}

	if params.System != nil {
		apiParams.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: *params.System,
			},
		}
	}

	if withThinking && params.ThinkingEnabled() {
		apiParams.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(*params.ThinkingBudget))
	}

	for _, def := range params.Tools {
		tool := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: toolInputSchema(def.InputSchema),
		}
		apiParams.Tools = append(apiParams.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}

	return apiParams
}

func toolInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{}
	if props, ok := schema["properties"]; ok {
		out.Properties = props
	}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	return out
}
