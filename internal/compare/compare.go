// Package compare diffs two independently ingested trees by file location
// and reconciles a live tree with the differences.
package compare

import (
	"fmt"
	"slices"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
)

// Status classifies one location.
type Status int

const (
	Added Status = iota + 1
	Deleted
	Updated
)

func (s Status) String() string {
	switch s {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Updated:
		return "updated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result describes the change at one location. Node is the node from the
// tree the location exists in (the old tree for Deleted and Updated, the new
// one for Added). Updated carries the new-side node of an Updated result.
type Result struct {
	Status  Status    `json:"status"`
	Node    *ipm.Node `json:"node"`
	Updated *ipm.Node `json:"updated,omitempty"`
}

// Comparison maps locations to their change. Locations present in both
// trees with equal content are absent.
type Comparison struct {
	Results map[string]*Result

	before    *ipm.Tree
	after     *ipm.Tree
	relocated bool
	grafted   []string
	pruned    []*ipm.Node
	shrunk    []string
}

// Compare classifies every location of before and after. Nodes match by
// location; two matched nodes are equal when their size and every checksum
// known to both sides agree. Timestamps are not compared. A change between
// file and directory at one location is reported as Deleted with the new
// node in Updated; Merge prunes the old subtree and grafts the new one.
// Directories are never Updated.
func Compare(before, after *ipm.Tree) *Comparison {
	c := &Comparison{
		Results: make(map[string]*Result),
		before:  before,
		after:   after,
	}
	c.relocated = before.Root().File.Location != after.Root().File.Location

	newByLoc := after.ByLocation()
	oldByLoc := before.ByLocation()
	for loc, o := range oldByLoc {
		n, ok := newByLoc[loc]
		switch {
		case !ok:
			c.Results[loc] = &Result{Status: Deleted, Node: o}
		case o.IsFile() != n.IsFile() || o.IsDirectory() != n.IsDirectory():
			c.Results[loc] = &Result{Status: Deleted, Node: o, Updated: n}
		case o.IsDirectory():
		case !o.File.Equal(n.File):
			c.Results[loc] = &Result{Status: Updated, Node: o, Updated: n}
		}
	}
	for loc, n := range newByLoc {
		if _, ok := oldByLoc[loc]; !ok {
			c.Results[loc] = &Result{Status: Added, Node: n}
		}
	}
	return c
}

// Len returns the number of changed locations.
func (c *Comparison) Len() int { return len(c.Results) }

// Locations returns the changed locations in sorted order.
func (c *Comparison) Locations() []string {
	out := make([]string, 0, len(c.Results))
	for loc := range c.Results {
		out = append(out, loc)
	}
	slices.Sort(out)
	return out
}

// Count returns the number of results with status s.
func (c *Comparison) Count(s Status) int {
	n := 0
	for _, r := range c.Results {
		if r.Status == s {
			n++
		}
	}
	return n
}

// Relocated reports whether the compared trees have different roots.
func (c *Comparison) Relocated() bool { return c.relocated }

// Grafted returns the top identifiers of the subtrees the last Merge added
// to the live tree.
func (c *Comparison) Grafted() []string { return c.grafted }

// Pruned returns the nodes the last Merge removed from the live tree.
func (c *Comparison) Pruned() []*ipm.Node { return c.pruned }

// Shrunk returns the identifiers of the live nodes that lost children in
// the last Merge, in prune order. Some of them may have been pruned later.
func (c *Comparison) Shrunk() []string { return c.shrunk }

// replaced reports whether the result is a kind change at one location.
func (r *Result) replaced() bool { return r.Status == Deleted && r.Updated != nil }

// Merge applies c to live. Deleted locations are pruned with their subtree,
// Updated nodes have their file information replaced in place and Added
// subtrees are grafted below the live node matching their nearest existing
// ancestor. When the compared roots differ, everything below the live root
// is replaced with the new tree and the root keeps its identity. Merge
// returns false and leaves live untouched when c is empty.
func Merge(live *ipm.Tree, c *Comparison) (bool, error) {
	c.grafted, c.pruned, c.shrunk = nil, nil, nil
	if c.Len() == 0 {
		return false, nil
	}
	if c.relocated {
		return true, c.replace(live)
	}

	byLoc := live.ByLocation()
	for _, loc := range c.Locations() {
		r := c.Results[loc]
		if r.Status != Deleted {
			continue
		}
		n, ok := byLoc[loc]
		if !ok {
			continue
		}
		if _, ok := live.Node(n.ID); !ok {
			continue
		}
		if p := live.Parent(n); p != nil {
			c.shrunk = append(c.shrunk, p.ID)
		}
		removed, err := live.RemoveSubtree(n.ID)
		if err != nil {
			return true, fmt.Errorf("compare: prune %s: %w", loc, err)
		}
		c.pruned = append(c.pruned, removed...)
	}

	byLoc = live.ByLocation()
	for _, loc := range c.Locations() {
		r := c.Results[loc]
		if r.Status != Updated {
			continue
		}
		if n, ok := byLoc[loc]; ok {
			n.File.Remap(r.Updated.File)
		}
	}

	// Pre-order over the new tree grafts parents before their children, so
	// a descendant of an added directory arrives with it.
	for _, n := range c.after.Nodes() {
		if n.File == nil {
			continue
		}
		loc := n.File.Location
		r, ok := c.Results[loc]
		if !ok || (r.Status != Added && !r.replaced()) {
			continue
		}
		if _, exists := byLoc[loc]; exists {
			continue
		}
		if err := c.graft(live, n, byLoc); err != nil {
			return true, err
		}
	}
	live.PropagateIgnored()
	return true, nil
}

func (c *Comparison) graft(live *ipm.Tree, n *ipm.Node, byLoc map[string]*ipm.Node) error {
	// Walk up the new tree until an ancestor already present in live.
	top := n
	var parent *ipm.Node
	for p := c.after.Parent(top); p != nil; p = c.after.Parent(top) {
		if lp, ok := byLoc[p.File.Location]; ok {
			parent = lp
			break
		}
		top = p
	}
	if parent == nil {
		return fmt.Errorf("compare: no live parent for %s", n.File.Location)
	}
	ids, err := live.Graft(parent.ID, c.insertIndex(live, parent, top, byLoc), c.after, top.ID)
	if err != nil {
		return fmt.Errorf("compare: graft %s: %w", top.File.Location, err)
	}
	for _, id := range ids {
		g, _ := live.Node(id)
		byLoc[g.File.Location] = g
	}
	c.grafted = append(c.grafted, top.ID)
	return nil
}

// insertIndex places n right after its closest preceding sibling in the new
// tree that already exists in live below parent. A sibling that was wrapped
// in a synthesised node counts at the position of its wrapper.
func (c *Comparison) insertIndex(live *ipm.Tree, parent, n *ipm.Node, byLoc map[string]*ipm.Node) int {
	siblings := c.after.Children(c.after.Parent(n))
	i := slices.IndexFunc(siblings, func(s *ipm.Node) bool { return s.ID == n.ID })
	for j := i - 1; j >= 0; j-- {
		prev, ok := byLoc[siblings[j].File.Location]
		if !ok {
			continue
		}
		if idx := childIndex(live, parent, prev); idx >= 0 {
			return idx + 1
		}
	}
	return 0
}

// childIndex returns the position below parent of n or of the ancestor of n
// that is a direct child of parent, or -1.
func childIndex(live *ipm.Tree, parent, n *ipm.Node) int {
	if n.Parent == parent.ID {
		return live.IndexOf(n.ID)
	}
	for _, a := range live.Ancestors(n.ID) {
		if a.Parent == parent.ID {
			return live.IndexOf(a.ID)
		}
	}
	return -1
}

func (c *Comparison) replace(live *ipm.Tree) error {
	root := live.Root()
	for _, child := range live.Children(root) {
		removed, err := live.RemoveSubtree(child.ID)
		if err != nil {
			return fmt.Errorf("compare: replace: %w", err)
		}
		c.pruned = append(c.pruned, removed...)
	}
	newRoot := c.after.Root()
	root.File.Remap(newRoot.File)
	root.Ignored = newRoot.Ignored
	kids := c.after.Children(newRoot)
	for i, k := range kids {
		if _, err := live.Graft(root.ID, i, c.after, k.ID); err != nil {
			return fmt.Errorf("compare: replace %s: %w", k.File.Location, err)
		}
		c.grafted = append(c.grafted, k.ID)
	}
	live.PropagateIgnored()
	return nil
}
