package chat

import (
	"reflect"
	"testing"
)

func textBlocks(text string) []ContentBlock {
	return []ContentBlock{NewContentBlock(text)}
}

// addN appends n alternating user/assistant messages and returns the
// resulting snapshot.
func addN(t *testing.T, tree *Tree, n int) *Tree {
	t.Helper()
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		node, nt := tree.AddMessage(role, textBlocks("msg"))
		if node == nil {
			t.Fatalf("AddMessage %d returned nil node", i)
		}
		tree = nt
	}
	return tree
}

func TestTree_AddMessage(t *testing.T) {
	tree := NewTree()

	root, tree := tree.AddMessage(RoleUser, textBlocks("hello"))
	if root.ID != 1 {
		t.Fatalf("first node id = %d, want 1", root.ID)
	}
	if tree.LatestRootID != root.ID {
		t.Errorf("LatestRootID = %d, want %d", tree.LatestRootID, root.ID)
	}
	if !reflect.DeepEqual(tree.CurrentPath, []NodeID{1}) {
		t.Errorf("CurrentPath = %v, want [1]", tree.CurrentPath)
	}

	child, tree := tree.AddMessage(RoleAssistant, nil)
	if child.ID != 2 {
		t.Fatalf("second node id = %d, want 2", child.ID)
	}
	if !reflect.DeepEqual(tree.CurrentPath, []NodeID{1, 2}) {
		t.Errorf("CurrentPath = %v, want [1 2]", tree.CurrentPath)
	}
	if tree.Node(1).LatestChild != 2 {
		t.Errorf("parent LatestChild = %d, want 2", tree.Node(1).LatestChild)
	}
}

func TestTree_AddMessageDoesNotMutateReceiver(t *testing.T) {
	base := NewTree()
	_, base = base.AddMessage(RoleUser, textBlocks("a"))

	_, grown := base.AddMessage(RoleAssistant, textBlocks("b"))

	if len(base.Nodes) != 1 {
		t.Errorf("base snapshot gained nodes: %d", len(base.Nodes))
	}
	if len(base.CurrentPath) != 1 {
		t.Errorf("base path mutated: %v", base.CurrentPath)
	}
	if base.Node(1).LatestChild != NoNode {
		t.Errorf("base node 1 LatestChild = %d, want none", base.Node(1).LatestChild)
	}
	if grown.Node(1).LatestChild != 2 {
		t.Errorf("grown node 1 LatestChild = %d, want 2", grown.Node(1).LatestChild)
	}
}

func TestTree_EditMessage(t *testing.T) {
	// Root user message, assistant reply; editing the root at depth 1
	// creates sibling 3 and resets the path to just [3].
	tree := addN(t, NewTree(), 2)

	edited, tree := tree.EditMessage(1, 1, textBlocks("revised"))
	if edited == nil {
		t.Fatal("EditMessage returned nil node")
	}
	if edited.ID != 3 {
		t.Fatalf("edited node id = %d, want 3", edited.ID)
	}
	if edited.Role != RoleUser {
		t.Errorf("edited role = %q, want %q", edited.Role, RoleUser)
	}
	if !reflect.DeepEqual(tree.CurrentPath, []NodeID{3}) {
		t.Errorf("CurrentPath = %v, want [3]", tree.CurrentPath)
	}
	if tree.LatestRootID != 3 {
		t.Errorf("LatestRootID = %d, want 3", tree.LatestRootID)
	}

	// The original branch stays linked: 1 <-> 3 as siblings.
	if tree.Node(1).NextSibling != 3 {
		t.Errorf("node 1 NextSibling = %d, want 3", tree.Node(1).NextSibling)
	}
	if tree.Node(3).PrevSibling != 1 {
		t.Errorf("node 3 PrevSibling = %d, want 1", tree.Node(3).PrevSibling)
	}

	// Original nodes untouched.
	if got := tree.Node(1).ContentText(); got != "msg" {
		t.Errorf("node 1 text = %q, want %q", got, "msg")
	}
	if tree.Node(2) == nil {
		t.Error("node 2 dropped from arena")
	}
}

func TestTree_EditMessageInvalid(t *testing.T) {
	tree := addN(t, NewTree(), 2)

	tests := []struct {
		name   string
		depth  int
		target NodeID
	}{
		{"unknown target", 1, 99},
		{"zero depth", 0, 1},
		{"depth past path", 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, nt := tree.EditMessage(tt.depth, tt.target, textBlocks("x"))
			if node != nil {
				t.Errorf("node = %v, want nil", node)
			}
			if nt != tree {
				t.Error("snapshot changed on invalid edit")
			}
		})
	}
}

func TestTree_SwitchBranch(t *testing.T) {
	// Build two branches off the root: [1 2] then edit depth 1 -> [3],
	// grow [3 4], then switch back to node 1. The path must restore the
	// old branch via LatestChild chains.
	tree := addN(t, NewTree(), 2)
	_, tree = tree.EditMessage(1, 1, textBlocks("alt"))
	_, tree = tree.AddMessage(RoleAssistant, textBlocks("alt reply"))

	if !reflect.DeepEqual(tree.CurrentPath, []NodeID{3, 4}) {
		t.Fatalf("setup path = %v, want [3 4]", tree.CurrentPath)
	}

	tree = tree.SwitchBranch(1, 1)
	if !reflect.DeepEqual(tree.CurrentPath, []NodeID{1, 2}) {
		t.Errorf("CurrentPath = %v, want [1 2]", tree.CurrentPath)
	}
	if tree.LatestRootID != 1 {
		t.Errorf("LatestRootID = %d, want 1", tree.LatestRootID)
	}

	// Round trip back to the other branch.
	tree = tree.SwitchBranch(1, 3)
	if !reflect.DeepEqual(tree.CurrentPath, []NodeID{3, 4}) {
		t.Errorf("round-trip path = %v, want [3 4]", tree.CurrentPath)
	}
}

func TestTree_SwitchBranchInvalid(t *testing.T) {
	tree := addN(t, NewTree(), 2)

	if nt := tree.SwitchBranch(1, 99); nt != tree {
		t.Error("snapshot changed on unknown target")
	}
	if nt := tree.SwitchBranch(5, 1); nt != tree {
		t.Error("snapshot changed on out-of-range depth")
	}
}

func TestTree_BranchInfo(t *testing.T) {
	tree := addN(t, NewTree(), 2)
	_, tree = tree.EditMessage(1, 1, textBlocks("alt"))

	info := tree.BranchInfo(3)
	if info == nil {
		t.Fatal("BranchInfo(3) = nil, want sibling info")
	}
	if info.Total != 2 || info.CurrentIndex != 1 {
		t.Errorf("info = %+v, want Total 2 CurrentIndex 1", info)
	}
	if !reflect.DeepEqual(info.SiblingIDs, []NodeID{1, 3}) {
		t.Errorf("SiblingIDs = %v, want [1 3]", info.SiblingIDs)
	}

	// Single-child nodes need no navigation.
	if info := tree.BranchInfo(2); info != nil {
		t.Errorf("BranchInfo(2) = %+v, want nil", info)
	}
	if info := tree.BranchInfo(99); info != nil {
		t.Errorf("BranchInfo(99) = %+v, want nil", info)
	}
}

func TestTree_MessagesFromPath(t *testing.T) {
	tree := addN(t, NewTree(), 3)

	msgs := tree.MessagesFromPath([]NodeID{1, 2, 99, 3})
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (unknown id dropped)", len(msgs))
	}
	if msgs[0].ID != 1 || msgs[2].ID != 3 {
		t.Errorf("message ids = %d..%d, want 1..3", msgs[0].ID, msgs[2].ID)
	}
}

func TestTree_WithBlocks(t *testing.T) {
	tree := addN(t, NewTree(), 2)

	updated := tree.WithBlocks(2, textBlocks("streamed"))
	if got := updated.Node(2).ContentText(); got != "streamed" {
		t.Errorf("node 2 text = %q, want %q", got, "streamed")
	}
	if got := tree.Node(2).ContentText(); got != "msg" {
		t.Errorf("original snapshot text = %q, want %q", got, "msg")
	}

	if nt := tree.WithBlocks(99, textBlocks("x")); nt != tree {
		t.Error("snapshot changed on unknown id")
	}
}

func TestTree_DeepCopy(t *testing.T) {
	tree := NewTree()
	_, tree = tree.AddMessage(RoleUser, []ContentBlock{
		{
			BlockType: BlockTypeResearch,
			Items: []ResearchItem{
				{
					ItemType: ResearchItemTool,
					Call:     &ToolCall{ID: "t1", Name: "fetch"},
					Progress: []ToolProgress{{Stage: "connecting"}},
				},
			},
		},
	})

	cp := tree.DeepCopy()
	cp.Node(1).Blocks[0].Items[0].Call.Name = "mutated"
	cp.Node(1).Blocks[0].Items[0].Progress[0].Stage = "mutated"
	cp.CurrentPath[0] = 99

	orig := tree.Node(1).Blocks[0].Items[0]
	if orig.Call.Name != "fetch" {
		t.Errorf("original call name = %q, want %q", orig.Call.Name, "fetch")
	}
	if orig.Progress[0].Stage != "connecting" {
		t.Errorf("original progress stage = %q, want %q", orig.Progress[0].Stage, "connecting")
	}
	if tree.CurrentPath[0] != 1 {
		t.Errorf("original path mutated: %v", tree.CurrentPath)
	}
}
