package chat

import (
	"time"
)

// Node roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Block type constants
const (
	BlockTypeContent     = "content"
	BlockTypeAttachments = "attachments"
	BlockTypeResearch    = "research"
	BlockTypeError       = "error"
)

// Research item type constants
const (
	ResearchItemThinking = "thinking"
	ResearchItemTool     = "tool"
)

// NodeID identifies a message node within a single conversation tree.
// IDs are dense, 1-based and monotonic; NoNode (0) is the "none" sentinel
// used where a linked-list pointer has no target.
type NodeID int

// NoNode is the absent-pointer sentinel for sibling/child links.
const NoNode NodeID = 0

// MessageNode is one message in the conversation tree. Sibling pointers form
// a doubly linked list over nodes that share the same parent (or, for roots,
// the same tree); LatestChild points at the most recently created child, the
// tip of the active branch below this node.
//
// Nodes are append-only: once created, ID, Role and Blocks content are never
// mutated, only the link fields are patched as branches are created.
type MessageNode struct {
	ID          NodeID         `json:"id"`
	Role        string         `json:"role"`
	Blocks      []ContentBlock `json:"blocks"`
	PrevSibling NodeID         `json:"prev_sibling,omitempty"`
	NextSibling NodeID         `json:"next_sibling,omitempty"`
	LatestChild NodeID         `json:"latest_child,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ContentBlock is one block of a message's content. The BlockType field
// selects the variant; unused fields stay zero and are omitted from JSON.
//
// Variants:
//   - content: plain text, appended to in place during streaming
//   - attachments: user-only list of uploaded attachments
//   - research: assistant-only interleaved reasoning and tool activity
//   - error: terminal block signaling a failed turn
type ContentBlock struct {
	BlockType   string         `json:"block_type"`
	Text        string         `json:"text,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Items       []ResearchItem `json:"items,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// Attachment references an uploaded file on a user message. Upload and
// storage are external; the tree only carries the reference.
type Attachment struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mime_type"`
	URL        string `json:"url,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
}

// ResearchItem is one entry inside a research block: either a run of
// reasoning text or a tool invocation with its progress and result.
// At most one open (result-less) tool item per tool name is the append
// target for progress/result events.
type ResearchItem struct {
	ItemType string         `json:"item_type"`
	Text     string         `json:"text,omitempty"`
	Call     *ToolCall      `json:"call,omitempty"`
	Progress []ToolProgress `json:"progress,omitempty"`
	Result   *ToolResult    `json:"result,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolProgress is one progress update emitted while a tool runs.
type ToolProgress struct {
	Stage         string `json:"stage"`
	Message       string `json:"message,omitempty"`
	ReceivedBytes *int64 `json:"received_bytes,omitempty"`
	TotalBytes    *int64 `json:"total_bytes,omitempty"`
}

// ToolResult is the terminal output of a tool invocation. Tool failures are
// carried as result text with an error marker, never as a missing result.
type ToolResult struct {
	Text string `json:"text"`
}

// NewContentBlock returns a plain text block.
func NewContentBlock(text string) ContentBlock {
	return ContentBlock{BlockType: BlockTypeContent, Text: text}
}

// NewErrorBlock returns a terminal error block.
func NewErrorBlock(message string) ContentBlock {
	return ContentBlock{BlockType: BlockTypeError, Message: message}
}

// IsOpen reports whether a tool research item is still awaiting its result.
func (ri *ResearchItem) IsOpen() bool {
	return ri.ItemType == ResearchItemTool && ri.Result == nil
}

// ContentText returns the concatenation of all content-block text in the node.
// Used when serializing an assistant node back into provider formats.
func (n *MessageNode) ContentText() string {
	var text string
	for _, b := range n.Blocks {
		if b.BlockType == BlockTypeContent {
			text += b.Text
		}
	}
	return text
}
