// Package profileservice types IPM trees against domain profiles: it assigns
// and changes node types, validates properties and runs node transforms,
// including the split of a file into a synthesised parent and its inverse.
//
// A Service is not safe for concurrent use on the same tree.
package profileservice

import (
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/objectstore"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
)

// ComboSuffix is appended to a node identifier to name the parent
// synthesised by a split.
const ComboSuffix = "#combo"

// Service operates on trees using a shared profile store. When objects is
// nil, operations touch only the tree.
type Service struct {
	profiles *profile.Store
	objects  *objectstore.Store
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithObjects attaches the object store that holds node properties.
func WithObjects(o *objectstore.Store) Option {
	return func(s *Service) { s.objects = o }
}

// New creates a Service.
func New(profiles *profile.Store, opts ...Option) *Service {
	s := &Service{profiles: profiles, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profiles returns the profile store.
func (s *Service) Profiles() *profile.Store { return s.profiles }

// Objects returns the attached object store, if any.
func (s *Service) Objects() *objectstore.Store { return s.objects }

// AssignNodeTypes gives every non-ignored node the most specific legal type
// in p. Declaration order in the profile is the specificity order. Either
// every node is typed or, on false, the tree is left untouched.
func (s *Service) AssignNodeTypes(p *profile.DomainProfile, t *ipm.Tree) bool {
	root := t.Root()
	if root.Ignored {
		return false
	}
	a := s.newAssigner(p, t)
	plan, ok := a.subtree(root, "", nil)
	if !ok {
		s.logger.Info("profileservice: no legal assignment",
			slog.String("profile", p.ID), slog.String("root", root.ID))
		return false
	}
	apply(t, plan)
	return true
}

// AssignSubtree types the subtree rooted at id below its already typed
// parent. Used for nodes grafted in by a merge.
func (s *Service) AssignSubtree(p *profile.DomainProfile, t *ipm.Tree, id string) bool {
	n, ok := t.Node(id)
	if !ok || n.Ignored {
		return false
	}
	if n.IsRoot() {
		return s.AssignNodeTypes(p, t)
	}
	parent := t.Parent(n)
	if parent.Type == "" {
		return false
	}
	plan, ok := s.newAssigner(p, t).subtree(n, parent.Type, nil)
	if !ok {
		s.logger.Info("profileservice: no legal subtree assignment",
			slog.String("profile", p.ID), slog.String("node", id))
		return false
	}
	apply(t, plan)
	return true
}

func apply(t *ipm.Tree, plan map[string]string) {
	for id, typ := range plan {
		if n, ok := t.Node(id); ok {
			if n.Type != typ {
				n.SubTypes = nil
			}
			n.Type = typ
		}
	}
}

type memoKey struct {
	node, parentType, allowed string
}

type memoVal struct {
	plan map[string]string
	ok   bool
}

// assigner computes type plans without touching the tree. Plans for a
// subtree depend only on the node, its parent's type and the allowed
// types, so they are memoised.
type assigner struct {
	s    *Service
	p    *profile.DomainProfile
	t    *ipm.Tree
	memo map[memoKey]memoVal
}

func (s *Service) newAssigner(p *profile.DomainProfile, t *ipm.Tree) *assigner {
	return &assigner{s: s, p: p, t: t, memo: make(map[memoKey]memoVal)}
}

// subtree finds a type for n under a parent of type parentType, restricted
// to allowed when non-nil, plus types for all of its active descendants.
// The returned plan must not be modified.
func (a *assigner) subtree(n *ipm.Node, parentType string, allowed []string) (map[string]string, bool) {
	key := memoKey{node: n.ID, parentType: parentType, allowed: strings.Join(allowed, "|")}
	if v, ok := a.memo[key]; ok {
		return v.plan, v.ok
	}
	for _, nt := range a.p.NodeTypes {
		if allowed != nil && !slices.Contains(allowed, nt.ID) {
			continue
		}
		if !fits(a.t, n, nt, parentType) {
			continue
		}
		plan, ok := a.children(n, nt, false)
		if !ok {
			continue
		}
		plan[n.ID] = nt.ID
		a.memo[key] = memoVal{plan: plan, ok: true}
		return plan, true
	}
	a.memo[key] = memoVal{}
	return nil, false
}

// children plans types for the active children of n when n has type nt.
// With keep set, children whose current type stays legal are left as is.
// Occupancy slots that fall short are filled by retrying children
// restricted to the slot's types.
func (a *assigner) children(n *ipm.Node, nt *profile.NodeType, keep bool) (map[string]string, bool) {
	plan := make(map[string]string)
	kids := activeChildren(a.t, n)
	chosen := make(map[string]string, len(kids))
	for _, c := range kids {
		if keep && c.Type != "" && a.s.legalUnder(c, nt.ID) {
			chosen[c.ID] = c.Type
			continue
		}
		sub, ok := a.subtree(c, nt.ID, nil)
		if !ok {
			return nil, false
		}
		maps.Copy(plan, sub)
		chosen[c.ID] = sub[c.ID]
	}
	for _, slot := range nt.ChildConstraints {
		count := countIn(slot, kids, chosen)
		for _, c := range kids {
			if count >= slot.Min {
				break
			}
			if slot.Counts(chosen[c.ID]) {
				continue
			}
			sub, ok := a.subtree(c, nt.ID, slot.NodeTypes)
			if !ok {
				continue
			}
			for _, d := range a.t.Descendants(c.ID) {
				delete(plan, d.ID)
			}
			maps.Copy(plan, sub)
			chosen[c.ID] = sub[c.ID]
			count++
		}
	}
	for _, slot := range nt.ChildConstraints {
		if countIn(slot, kids, chosen) < slot.Min {
			return nil, false
		}
	}
	return plan, true
}

func countIn(slot profile.ChildConstraint, kids []*ipm.Node, chosen map[string]string) int {
	n := 0
	for _, c := range kids {
		if slot.Counts(chosen[c.ID]) {
			n++
		}
	}
	return n
}

// fits checks the node-local requirements of nt: file and directory
// backing, presence of active children and a parent constraint matching
// parentType.
func fits(t *ipm.Tree, n *ipm.Node, nt *profile.NodeType, parentType string) bool {
	if !nt.FileRequirement.Satisfied(n.IsFile()) ||
		!nt.DirectoryRequirement.Satisfied(n.IsDirectory()) ||
		!nt.ChildRequirement.Satisfied(len(activeChildren(t, n)) > 0) {
		return false
	}
	_, ok := nt.ParentConstraintFor(parentType, n.IsRoot())
	return ok
}

// legalUnder reports whether n's current type accepts a parent of type
// parentType.
func (s *Service) legalUnder(n *ipm.Node, parentType string) bool {
	nt, err := s.profiles.NodeType(n.Type)
	if err != nil {
		return false
	}
	_, ok := nt.ParentConstraintFor(parentType, false)
	return ok
}

// activeChildren returns the children that are not ignored.
func activeChildren(t *ipm.Tree, n *ipm.Node) []*ipm.Node {
	return slices.DeleteFunc(t.Children(n), func(c *ipm.Node) bool { return c.Ignored })
}

// profileFor picks the profile owning the node's type, falling back to the
// first loaded profile for untyped nodes.
func (s *Service) profileFor(n *ipm.Node) *profile.DomainProfile {
	if n.Type != "" {
		if p := s.profiles.ProfileOf(n.Type); p != nil {
			return p
		}
	}
	if ps := s.profiles.DomainProfiles(); len(ps) > 0 {
		return ps[0]
	}
	return nil
}
