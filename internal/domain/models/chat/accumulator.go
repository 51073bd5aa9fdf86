package chat

// Addition kind constants for ApplyAddition.
const (
	AdditionContentDelta  = "content_delta"
	AdditionThinkingDelta = "thinking_delta"
	AdditionToolCall      = "tool_call"
	AdditionToolProgress  = "tool_progress"
	AdditionToolResult    = "tool_result"
	AdditionError         = "error"
	AdditionResearch      = "research"
)

// Addition is one incremental generation event to fold into an assistant
// node's block list. Kind selects the variant; the other fields carry its
// payload.
type Addition struct {
	Kind     string
	Text     string        // content/thinking delta text, tool result text, error message
	Call     *ToolCall     // tool_call
	Tool     string        // tool name for tool_progress / tool_result
	Progress *ToolProgress // tool_progress
	Items    []ResearchItem
}

// ApplyAddition folds one addition into a block list and returns the updated
// list. The content-delta fast path appends to the last block in place and is
// O(1) amortized; an empty content delta returns the input unchanged.
func ApplyAddition(blocks []ContentBlock, add Addition) []ContentBlock {
	switch add.Kind {
	case AdditionContentDelta:
		if add.Text == "" {
			return blocks
		}
		if n := len(blocks); n > 0 && blocks[n-1].BlockType == BlockTypeContent {
			blocks[n-1].Text += add.Text
			return blocks
		}
		return append(blocks, NewContentBlock(add.Text))

	case AdditionThinkingDelta:
		blocks, research := currentResearch(blocks)
		if n := len(research.Items); n > 0 && research.Items[n-1].ItemType == ResearchItemThinking {
			research.Items[n-1].Text += add.Text
			return blocks
		}
		research.Items = append(research.Items, ResearchItem{
			ItemType: ResearchItemThinking,
			Text:     add.Text,
		})
		return blocks

	case AdditionToolCall:
		blocks, research := currentResearch(blocks)
		research.Items = append(research.Items, ResearchItem{
			ItemType: ResearchItemTool,
			Call:     add.Call,
		})
		return blocks

	case AdditionToolProgress:
		blocks, item := currentToolItem(blocks, add.Tool)
		if add.Progress != nil {
			item.Progress = append(item.Progress, *add.Progress)
		}
		return blocks

	case AdditionToolResult:
		blocks, item := currentToolItem(blocks, add.Tool)
		item.Result = &ToolResult{Text: add.Text}
		return blocks

	case AdditionError:
		// Terminal block; prior partial output stays visible.
		return append(blocks, NewErrorBlock(add.Text))

	case AdditionResearch:
		return append(blocks, ContentBlock{
			BlockType: BlockTypeResearch,
			Items:     add.Items,
		})

	default:
		return blocks
	}
}

// currentResearch returns the trailing research block, appending a new one if
// the last block is not research.
func currentResearch(blocks []ContentBlock) ([]ContentBlock, *ContentBlock) {
	if n := len(blocks); n > 0 && blocks[n-1].BlockType == BlockTypeResearch {
		return blocks, &blocks[n-1]
	}
	blocks = append(blocks, ContentBlock{BlockType: BlockTypeResearch})
	return blocks, &blocks[len(blocks)-1]
}

// currentToolItem locates the append target for a tool progress/result event:
// the most recent result-less tool item with this name, scanning from the
// tail backward. A tool may be invoked more than once per turn with the same
// name, so the first open match wins; if every match is already closed, the
// most recent closed one is used. If the name has never been seen (an event
// arrived before its tool_call), an item is synthesized.
func currentToolItem(blocks []ContentBlock, name string) ([]ContentBlock, *ResearchItem) {
	var closed *ResearchItem
	for b := len(blocks) - 1; b >= 0; b-- {
		if blocks[b].BlockType != BlockTypeResearch {
			continue
		}
		items := blocks[b].Items
		for i := len(items) - 1; i >= 0; i-- {
			item := &items[i]
			if item.ItemType != ResearchItemTool || item.Call == nil || item.Call.Name != name {
				continue
			}
			if item.Result == nil {
				return blocks, item
			}
			if closed == nil {
				closed = item
			}
		}
	}
	if closed != nil {
		return blocks, closed
	}

	blocks, research := currentResearch(blocks)
	research.Items = append(research.Items, ResearchItem{
		ItemType: ResearchItemTool,
		Call:     &ToolCall{Name: name},
	})
	return blocks, &research.Items[len(research.Items)-1]
}
