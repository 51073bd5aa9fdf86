package chat

import (
	"time"
)

// Tree is an immutable snapshot of a conversation's message tree: an arena of
// nodes indexed by NodeID plus the currently selected path. All operations
// are copy-on-write and return a new snapshot; the receiver is never mutated.
//
// Operations on a non-existent id or an out-of-range depth return the
// receiver unchanged (and a nil node where one would be returned). Branch
// navigation races from stale clients are expected and must degrade to a
// no-op, not an error.
type Tree struct {
	Nodes        map[NodeID]*MessageNode `json:"nodes"`
	CurrentPath  []NodeID                `json:"current_path"`
	LatestRootID NodeID                  `json:"latest_root_id,omitempty"`
	NextID       NodeID                  `json:"next_id"`
}

// BranchInfo describes a node's position among its siblings. Siblings are
// ordered by creation order via the linked list, not by id or timestamp.
type BranchInfo struct {
	CurrentIndex int      `json:"current_index"`
	Total        int      `json:"total"`
	SiblingIDs   []NodeID `json:"sibling_ids"`
}

// NewTree returns an empty conversation tree.
func NewTree() *Tree {
	return &Tree{
		Nodes:  make(map[NodeID]*MessageNode),
		NextID: 1,
	}
}

// clone makes a shallow copy of the snapshot: the node map and path slice
// are copied, the nodes themselves are shared until cloneNode is called.
func (t *Tree) clone() *Tree {
	nodes := make(map[NodeID]*MessageNode, len(t.Nodes)+1)
	for id, n := range t.Nodes {
		nodes[id] = n
	}
	path := make([]NodeID, len(t.CurrentPath))
	copy(path, t.CurrentPath)
	return &Tree{
		Nodes:        nodes,
		CurrentPath:  path,
		LatestRootID: t.LatestRootID,
		NextID:       t.NextID,
	}
}

// cloneNode copies a node into this snapshot so its link fields can be
// patched without touching the previous snapshot. Returns nil for missing ids.
func (t *Tree) cloneNode(id NodeID) *MessageNode {
	n, ok := t.Nodes[id]
	if !ok {
		return nil
	}
	cp := *n
	t.Nodes[id] = &cp
	return &cp
}

// Node returns the node with the given id, or nil.
func (t *Tree) Node(id NodeID) *MessageNode {
	return t.Nodes[id]
}

// AddMessage appends a node as the child of the current path's last node, or
// as a new root if the path is empty. The new node is spliced into the
// sibling list immediately after the parent's previous LatestChild so the
// old branch remains reachable, and becomes the parent's LatestChild (or the
// tree's latest root). The returned path has the new id appended.
func (t *Tree) AddMessage(role string, blocks []ContentBlock) (*MessageNode, *Tree) {
	nt := t.clone()

	node := &MessageNode{
		ID:        nt.NextID,
		Role:      role,
		Blocks:    blocks,
		CreatedAt: time.Now(),
	}
	nt.NextID++

	if len(nt.CurrentPath) == 0 {
		// New root: splice after the previous latest root.
		nt.spliceAfter(node, nt.LatestRootID)
		nt.LatestRootID = node.ID
		nt.CurrentPath = []NodeID{node.ID}
	} else {
		parentID := nt.CurrentPath[len(nt.CurrentPath)-1]
		parent := nt.cloneNode(parentID)
		nt.spliceAfter(node, parent.LatestChild)
		parent.LatestChild = node.ID
		nt.CurrentPath = append(nt.CurrentPath, node.ID)
	}

	nt.Nodes[node.ID] = node
	return node, nt
}

// EditMessage creates a sibling of targetID carrying newBlocks, spliced into
// the sibling list immediately after targetID, and switches the active path
// at depth to the new sibling. Depth is the 1-based position of the target
// on the current path. This is how "edit" and "retry" work; history is never
// mutated. Returns (nil, t) unchanged if the target or depth is invalid.
func (t *Tree) EditMessage(depth int, targetID NodeID, newBlocks []ContentBlock) (*MessageNode, *Tree) {
	if _, ok := t.Nodes[targetID]; !ok {
		return nil, t
	}
	if depth < 1 || depth > len(t.CurrentPath) {
		return nil, t
	}

	nt := t.clone()
	target := nt.Nodes[targetID]

	node := &MessageNode{
		ID:        nt.NextID,
		Role:      target.Role,
		Blocks:    newBlocks,
		CreatedAt: time.Now(),
	}
	nt.NextID++
	nt.spliceAfter(node, targetID)
	nt.Nodes[node.ID] = node

	// The new sibling is the most recently created child of its parent.
	if depth == 1 {
		nt.LatestRootID = node.ID
	} else if parent := nt.cloneNode(nt.CurrentPath[depth-2]); parent != nil {
		parent.LatestChild = node.ID
	}

	nt.CurrentPath = append(nt.CurrentPath[:depth-1], node.ID)
	return node, nt
}

// SwitchBranch replaces the path from depth (1-based) onward with targetID
// followed by the chain of LatestChild pointers beneath it, and makes the
// target the ancestor's default branch. No-op on an unknown target or
// out-of-range depth.
func (t *Tree) SwitchBranch(depth int, targetID NodeID) *Tree {
	if _, ok := t.Nodes[targetID]; !ok {
		return t
	}
	if depth < 1 || depth > len(t.CurrentPath) {
		return t
	}

	nt := t.clone()
	if depth == 1 {
		nt.LatestRootID = targetID
	} else if parent := nt.cloneNode(nt.CurrentPath[depth-2]); parent != nil {
		parent.LatestChild = targetID
	}

	path := append(nt.CurrentPath[:depth-1], targetID)
	for id := nt.Nodes[targetID].LatestChild; id != NoNode; {
		n, ok := nt.Nodes[id]
		if !ok {
			break
		}
		path = append(path, id)
		id = n.LatestChild
	}
	nt.CurrentPath = path
	return nt
}

// BranchInfo materializes the full sibling list around a node by walking the
// PrevSibling/NextSibling pointers outward. Returns nil when the node does
// not exist or has no siblings (no branch navigation needed).
func (t *Tree) BranchInfo(id NodeID) *BranchInfo {
	node, ok := t.Nodes[id]
	if !ok {
		return nil
	}

	head := node
	for head.PrevSibling != NoNode {
		prev, ok := t.Nodes[head.PrevSibling]
		if !ok {
			break
		}
		head = prev
	}

	info := &BranchInfo{CurrentIndex: -1}
	for n := head; n != nil; {
		if n.ID == id {
			info.CurrentIndex = len(info.SiblingIDs)
		}
		info.SiblingIDs = append(info.SiblingIDs, n.ID)
		if n.NextSibling == NoNode {
			break
		}
		n = t.Nodes[n.NextSibling]
	}
	info.Total = len(info.SiblingIDs)

	if info.Total <= 1 {
		return nil
	}
	return info
}

// MessagesFromPath projects a path onto its nodes, silently dropping any id
// that no longer resolves.
func (t *Tree) MessagesFromPath(path []NodeID) []*MessageNode {
	nodes := make([]*MessageNode, 0, len(path))
	for _, id := range path {
		if n, ok := t.Nodes[id]; ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// WithBlocks returns a snapshot in which the node's block list is replaced.
// This is the streaming fast path: the session actor folds each incremental
// addition into the in-flight assistant node's blocks via the accumulator and
// swaps them in here. No-op on an unknown id.
func (t *Tree) WithBlocks(id NodeID, blocks []ContentBlock) *Tree {
	if _, ok := t.Nodes[id]; !ok {
		return t
	}
	nt := t.clone()
	nt.cloneNode(id).Blocks = blocks
	return nt
}

// DeepCopy returns a fully independent copy of the snapshot, blocks included.
// Used at persistence and read boundaries; the streaming fast path shares
// block storage between consecutive snapshots and must not escape the actor.
func (t *Tree) DeepCopy() *Tree {
	nt := &Tree{
		Nodes:        make(map[NodeID]*MessageNode, len(t.Nodes)),
		CurrentPath:  append([]NodeID(nil), t.CurrentPath...),
		LatestRootID: t.LatestRootID,
		NextID:       t.NextID,
	}
	for id, n := range t.Nodes {
		cp := *n
		cp.Blocks = copyBlocks(n.Blocks)
		nt.Nodes[id] = &cp
	}
	return nt
}

func copyBlocks(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	for i, b := range blocks {
		cp := b
		cp.Attachments = append([]Attachment(nil), b.Attachments...)
		if b.Items != nil {
			cp.Items = make([]ResearchItem, len(b.Items))
			for j, item := range b.Items {
				ic := item
				ic.Progress = append([]ToolProgress(nil), item.Progress...)
				if item.Call != nil {
					call := *item.Call
					ic.Call = &call
				}
				if item.Result != nil {
					res := *item.Result
					ic.Result = &res
				}
				cp.Items[j] = ic
			}
		}
		out[i] = cp
	}
	return out
}

// spliceAfter inserts node into the doubly linked sibling list immediately
// after the node with id prev. A NoNode prev leaves the node unlinked (first
// sibling).
func (t *Tree) spliceAfter(node *MessageNode, prev NodeID) {
	if prev == NoNode {
		return
	}
	prevNode := t.cloneNode(prev)
	if prevNode == nil {
		return
	}
	node.PrevSibling = prev
	node.NextSibling = prevNode.NextSibling
	if prevNode.NextSibling != NoNode {
		if next := t.cloneNode(prevNode.NextSibling); next != nil {
			next.PrevSibling = node.ID
		}
	}
	prevNode.NextSibling = node.ID
}
