package ipm

import (
	"errors"
	"fmt"
	"slices"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
)

// SkipChildren may be returned from a WalkFunc to skip the node's subtree.
var SkipChildren = errors.New("skip children")

// WalkFunc is called for every visited node.
type WalkFunc func(n *Node) error

// Tree stores nodes in a flat table keyed by identifier. Children are
// ordered ID lists and the parent link is a plain back-reference, so the
// table is the only owner of a node.
//
// A Tree is not safe for concurrent mutation.
type Tree struct {
	root  string
	nodes map[string]*Node
}

// NewTree creates a tree holding root as its only node.
func NewTree(root *Node) *Tree {
	root.Parent = ""
	root.Children = nil
	return &Tree{
		root:  root.ID,
		nodes: map[string]*Node{root.ID: root},
	}
}

// Root returns the root node.
func (t *Tree) Root() *Node { return t.nodes[t.root] }

// Node looks up a node by identifier.
func (t *Tree) Node(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Get looks up a node and returns ErrNotFound when it is absent.
func (t *Tree) Get(id string) (*Node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "ipm", "node %s", id)
	}
	return n, nil
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Parent returns the parent of n, or nil for the root.
func (t *Tree) Parent(n *Node) *Node {
	if n.Parent == "" {
		return nil
	}
	return t.nodes[n.Parent]
}

// Children returns the ordered children of n.
func (t *Tree) Children(n *Node) []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, id := range n.Children {
		if c, ok := t.nodes[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// AddChild appends child to the parent's children.
func (t *Tree) AddChild(parentID string, child *Node) error {
	return t.InsertChild(parentID, -1, child)
}

// InsertChild places child at index among the parent's children. A negative
// or out-of-range index appends. child must not already be in the tree and
// must not carry children of its own.
func (t *Tree) InsertChild(parentID string, index int, child *Node) error {
	parent, err := t.Get(parentID)
	if err != nil {
		return err
	}
	if _, exists := t.nodes[child.ID]; exists {
		return apperr.New(apperr.ErrAlreadyExists, "ipm", "node %s", child.ID)
	}
	if len(child.Children) > 0 {
		return apperr.New(apperr.ErrContractViolation, "ipm", "insert of %s with dangling children", child.ID)
	}
	child.Parent = parent.ID
	t.nodes[child.ID] = child
	parent.Children = insertAt(parent.Children, index, child.ID)
	return nil
}

// RemoveSubtree detaches the node and all of its descendants and returns
// them in pre-order. The root cannot be removed.
func (t *Tree) RemoveSubtree(id string) ([]*Node, error) {
	n, err := t.Get(id)
	if err != nil {
		return nil, err
	}
	if n.ID == t.root {
		return nil, apperr.New(apperr.ErrContractViolation, "ipm", "cannot remove root %s", id)
	}
	removed := append([]*Node{n}, t.Descendants(id)...)
	if p := t.Parent(n); p != nil {
		p.Children = slices.DeleteFunc(p.Children, func(c string) bool { return c == id })
	}
	for _, r := range removed {
		delete(t.nodes, r.ID)
	}
	n.Parent = ""
	return removed, nil
}

// Move re-parents the node under newParentID at index. Moving a node below
// itself is rejected.
func (t *Tree) Move(id, newParentID string, index int) error {
	n, err := t.Get(id)
	if err != nil {
		return err
	}
	np, err := t.Get(newParentID)
	if err != nil {
		return err
	}
	if id == t.root {
		return apperr.New(apperr.ErrContractViolation, "ipm", "cannot move root")
	}
	if id == newParentID || t.IsAncestor(id, newParentID) {
		return apperr.New(apperr.ErrContractViolation, "ipm", "move of %s below itself", id)
	}
	if old := t.Parent(n); old != nil {
		old.Children = slices.DeleteFunc(old.Children, func(c string) bool { return c == id })
	}
	n.Parent = np.ID
	np.Children = insertAt(np.Children, index, id)
	return nil
}

// IndexOf returns the position of the node among its siblings, or -1.
func (t *Tree) IndexOf(id string) int {
	n, ok := t.nodes[id]
	if !ok || n.Parent == "" {
		return -1
	}
	return slices.Index(t.nodes[n.Parent].Children, id)
}

// IsAncestor reports whether ancestorID lies on the parent chain of id.
func (t *Tree) IsAncestor(ancestorID, id string) bool {
	for _, a := range t.Ancestors(id) {
		if a.ID == ancestorID {
			return true
		}
	}
	return false
}

// Ancestors returns the parent chain of id, nearest first.
func (t *Tree) Ancestors(id string) []*Node {
	var out []*Node
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	seen := map[string]struct{}{id: {}}
	for n.Parent != "" {
		p, ok := t.nodes[n.Parent]
		if !ok {
			break
		}
		if _, loop := seen[p.ID]; loop {
			break
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
		n = p
	}
	return out
}

// Descendants returns every node below id in pre-order.
func (t *Tree) Descendants(id string) []*Node {
	var out []*Node
	_ = t.WalkFrom(id, func(n *Node) error {
		if n.ID != id {
			out = append(out, n)
		}
		return nil
	})
	return out
}

// Depth returns the number of edges between the root and id.
func (t *Tree) Depth(id string) int {
	return len(t.Ancestors(id))
}

// Nodes returns every node in pre-order.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, 0, len(t.nodes))
	_ = t.Walk(func(n *Node) error {
		out = append(out, n)
		return nil
	})
	return out
}

// Walk visits the tree in pre-order starting at the root.
func (t *Tree) Walk(fn WalkFunc) error {
	return t.WalkFrom(t.root, fn)
}

// WalkFrom visits the subtree rooted at id in pre-order.
func (t *Tree) WalkFrom(id string, fn WalkFunc) error {
	n, ok := t.nodes[id]
	if !ok {
		return apperr.New(apperr.ErrNotFound, "ipm", "node %s", id)
	}
	return t.walk(n, fn)
}

func (t *Tree) walk(n *Node, fn WalkFunc) error {
	if err := fn(n); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}
	for _, id := range slices.Clone(n.Children) {
		c, ok := t.nodes[id]
		if !ok {
			continue
		}
		if err := t.walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// WalkPost visits the subtree rooted at id children-first.
func (t *Tree) WalkPost(id string, fn WalkFunc) error {
	n, ok := t.nodes[id]
	if !ok {
		return apperr.New(apperr.ErrNotFound, "ipm", "node %s", id)
	}
	for _, cid := range slices.Clone(n.Children) {
		if _, ok := t.nodes[cid]; !ok {
			continue
		}
		if err := t.WalkPost(cid, fn); err != nil {
			return err
		}
	}
	return fn(n)
}

// SetIgnored flags the node. Ignoring forces the flag onto every
// descendant and leaves ancestors alone; un-ignoring clears the node, its
// descendants and any ignored ancestors so the invariant keeps holding.
func (t *Tree) SetIgnored(id string, ignored bool) error {
	n, err := t.Get(id)
	if err != nil {
		return err
	}
	n.Ignored = ignored
	for _, d := range t.Descendants(id) {
		d.Ignored = ignored
	}
	if !ignored {
		for _, a := range t.Ancestors(id) {
			a.Ignored = false
		}
	}
	return nil
}

// PropagateIgnored enforces ignored-parent ⇒ ignored-child over the whole tree.
func (t *Tree) PropagateIgnored() {
	_ = t.Walk(func(n *Node) error {
		if p := t.Parent(n); p != nil && p.Ignored {
			n.Ignored = true
		}
		return nil
	})
}

// Check verifies the structural invariants: one root, every parent chain
// terminates at it without revisiting a node, and parent/child links agree.
func (t *Tree) Check() error {
	root, ok := t.nodes[t.root]
	if !ok {
		return fmt.Errorf("ipm: root %s missing", t.root)
	}
	if root.Parent != "" {
		return fmt.Errorf("ipm: root %s has parent %s", root.ID, root.Parent)
	}
	for id, n := range t.nodes {
		seen := map[string]struct{}{}
		cur := n
		for cur.Parent != "" {
			if _, loop := seen[cur.ID]; loop {
				return fmt.Errorf("ipm: cycle through %s", id)
			}
			seen[cur.ID] = struct{}{}
			p, ok := t.nodes[cur.Parent]
			if !ok {
				return fmt.Errorf("ipm: node %s has dangling parent %s", cur.ID, cur.Parent)
			}
			if !slices.Contains(p.Children, cur.ID) {
				return fmt.Errorf("ipm: node %s missing from children of %s", cur.ID, p.ID)
			}
			cur = p
		}
		if cur.ID != t.root {
			return fmt.Errorf("ipm: node %s not connected to root", id)
		}
		for _, c := range n.Children {
			cn, ok := t.nodes[c]
			if !ok || cn.Parent != n.ID {
				return fmt.Errorf("ipm: child link %s -> %s is inconsistent", n.ID, c)
			}
		}
	}
	return nil
}

// Clone returns a deep copy sharing no mutable state with t.
func (t *Tree) Clone() *Tree {
	out := &Tree{root: t.root, nodes: make(map[string]*Node, len(t.nodes))}
	for id, n := range t.nodes {
		out.nodes[id] = n.clone()
	}
	return out
}

// Graft copies the subtree rooted at srcID in src below parentID at index.
// Node identities are preserved, so they must not already exist in t.
// The IDs of the copied nodes are returned in pre-order.
func (t *Tree) Graft(parentID string, index int, src *Tree, srcID string) ([]string, error) {
	if _, err := t.Get(parentID); err != nil {
		return nil, err
	}
	top, ok := src.nodes[srcID]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "ipm", "graft source %s", srcID)
	}
	var ids []string
	_ = src.WalkFrom(srcID, func(n *Node) error {
		ids = append(ids, n.ID)
		return nil
	})
	for _, id := range ids {
		if _, exists := t.nodes[id]; exists {
			return nil, apperr.New(apperr.ErrAlreadyExists, "ipm", "graft of %s", id)
		}
	}
	for _, id := range ids {
		t.nodes[id] = src.nodes[id].clone()
	}
	t.nodes[top.ID].Parent = parentID
	p := t.nodes[parentID]
	p.Children = insertAt(p.Children, index, top.ID)
	return ids, nil
}

// ByLocation indexes the nodes that carry FileInfo by their location.
func (t *Tree) ByLocation() map[string]*Node {
	out := make(map[string]*Node, len(t.nodes))
	for _, n := range t.nodes {
		if n.File != nil && n.File.Location != "" {
			out[n.File.Location] = n
		}
	}
	return out
}

func insertAt(ids []string, index int, id string) []string {
	if index < 0 || index >= len(ids) {
		return append(ids, id)
	}
	return slices.Insert(ids, index, id)
}
