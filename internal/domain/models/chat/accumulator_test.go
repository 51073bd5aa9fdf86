package chat

import (
	"testing"
)

func TestApplyAddition_ContentDelta(t *testing.T) {
	var blocks []ContentBlock

	blocks = ApplyAddition(blocks, Addition{Kind: AdditionContentDelta, Text: "Hello"})
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionContentDelta, Text: ", world"})

	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1 (deltas coalesce)", len(blocks))
	}
	if blocks[0].Text != "Hello, world" {
		t.Errorf("text = %q, want %q", blocks[0].Text, "Hello, world")
	}
}

func TestApplyAddition_EmptyContentDelta(t *testing.T) {
	blocks := []ContentBlock{NewContentBlock("x")}
	out := ApplyAddition(blocks, Addition{Kind: AdditionContentDelta, Text: ""})
	if len(out) != 1 || out[0].Text != "x" {
		t.Errorf("empty delta changed blocks: %+v", out)
	}
}

func TestApplyAddition_ContentAfterResearch(t *testing.T) {
	var blocks []ContentBlock
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionThinkingDelta, Text: "hmm"})
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionContentDelta, Text: "answer"})

	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].BlockType != BlockTypeResearch || blocks[1].BlockType != BlockTypeContent {
		t.Errorf("block types = %q, %q", blocks[0].BlockType, blocks[1].BlockType)
	}
}

func TestApplyAddition_ThinkingDelta(t *testing.T) {
	var blocks []ContentBlock
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionThinkingDelta, Text: "first "})
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionThinkingDelta, Text: "second"})

	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	items := blocks[0].Items
	if len(items) != 1 {
		t.Fatalf("got %d research items, want 1 (thinking runs coalesce)", len(items))
	}
	if items[0].Text != "first second" {
		t.Errorf("thinking text = %q", items[0].Text)
	}

	// A tool call in between breaks the run: a fresh thinking item starts.
	blocks = ApplyAddition(blocks, Addition{
		Kind: AdditionToolCall,
		Call: &ToolCall{ID: "t1", Name: "clock"},
	})
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionThinkingDelta, Text: "third"})

	items = blocks[0].Items
	if len(items) != 3 {
		t.Fatalf("got %d research items, want 3", len(items))
	}
	if items[2].ItemType != ResearchItemThinking || items[2].Text != "third" {
		t.Errorf("trailing item = %+v", items[2])
	}
}

func TestApplyAddition_ToolLifecycle(t *testing.T) {
	var blocks []ContentBlock
	blocks = ApplyAddition(blocks, Addition{
		Kind: AdditionToolCall,
		Call: &ToolCall{ID: "t1", Name: "fetch", Args: map[string]any{"url": "https://example.com"}},
	})
	blocks = ApplyAddition(blocks, Addition{
		Kind:     AdditionToolProgress,
		Tool:     "fetch",
		Progress: &ToolProgress{Stage: "downloading"},
	})
	blocks = ApplyAddition(blocks, Addition{
		Kind: AdditionToolResult,
		Tool: "fetch",
		Text: "<html>",
	})

	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	item := blocks[0].Items[0]
	if item.Call.ID != "t1" {
		t.Errorf("call id = %q, want t1", item.Call.ID)
	}
	if len(item.Progress) != 1 || item.Progress[0].Stage != "downloading" {
		t.Errorf("progress = %+v", item.Progress)
	}
	if item.Result == nil || item.Result.Text != "<html>" {
		t.Errorf("result = %+v", item.Result)
	}
}

func TestApplyAddition_ToolSameNameTwice(t *testing.T) {
	// Two invocations of the same tool: the result must close the open
	// (second) item, not reopen the first.
	var blocks []ContentBlock
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionToolCall, Call: &ToolCall{ID: "a", Name: "fetch"}})
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionToolResult, Tool: "fetch", Text: "one"})
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionToolCall, Call: &ToolCall{ID: "b", Name: "fetch"}})
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionToolResult, Tool: "fetch", Text: "two"})

	items := blocks[0].Items
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Result.Text != "one" || items[1].Result.Text != "two" {
		t.Errorf("results = %q, %q", items[0].Result.Text, items[1].Result.Text)
	}
}

func TestApplyAddition_ToolResultClosedFallback(t *testing.T) {
	// A second result for an already-closed item overwrites the most
	// recent closed one instead of synthesizing a new item.
	var blocks []ContentBlock
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionToolCall, Call: &ToolCall{ID: "a", Name: "clock"}})
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionToolResult, Tool: "clock", Text: "noon"})
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionToolResult, Tool: "clock", Text: "midnight"})

	items := blocks[0].Items
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Result.Text != "midnight" {
		t.Errorf("result = %q, want midnight", items[0].Result.Text)
	}
}

func TestApplyAddition_ToolResultBeforeCall(t *testing.T) {
	// Out-of-order event synthesizes an item rather than dropping the result.
	blocks := ApplyAddition(nil, Addition{Kind: AdditionToolResult, Tool: "fetch", Text: "late"})

	if len(blocks) != 1 || len(blocks[0].Items) != 1 {
		t.Fatalf("blocks = %+v", blocks)
	}
	item := blocks[0].Items[0]
	if item.Call == nil || item.Call.Name != "fetch" {
		t.Errorf("synthesized call = %+v", item.Call)
	}
	if item.Result == nil || item.Result.Text != "late" {
		t.Errorf("result = %+v", item.Result)
	}
}

func TestApplyAddition_Error(t *testing.T) {
	blocks := []ContentBlock{NewContentBlock("partial")}
	blocks = ApplyAddition(blocks, Addition{Kind: AdditionError, Text: "backend unavailable"})

	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2 (partial output kept)", len(blocks))
	}
	if blocks[1].BlockType != BlockTypeError || blocks[1].Message != "backend unavailable" {
		t.Errorf("error block = %+v", blocks[1])
	}
}

func TestApplyAddition_UnknownKind(t *testing.T) {
	blocks := []ContentBlock{NewContentBlock("x")}
	out := ApplyAddition(blocks, Addition{Kind: "mystery"})
	if len(out) != 1 {
		t.Errorf("unknown kind changed blocks: %+v", out)
	}
}
