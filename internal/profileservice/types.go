package profileservice

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
)

// ValidTypes returns the types the node could be changed to given its
// parent's type, its active children and its siblings. Ignored children are
// structurally absent. A node that is the only occupant of one of its
// parent's occupancy slots cannot take a type that leaves the slot empty.
func (s *Service) ValidTypes(t *ipm.Tree, n *ipm.Node) []*profile.NodeType {
	p := s.profileFor(n)
	if p == nil || n.Ignored {
		return nil
	}
	a := s.newAssigner(p, t)
	var out []*profile.NodeType
	for _, nt := range p.NodeTypes {
		if _, ok := s.plan(a, t, n, nt); ok {
			out = append(out, nt)
		}
	}
	return out
}

// plan checks whether n may take type nt and returns the retyping its
// descendants would need.
func (s *Service) plan(a *assigner, t *ipm.Tree, n *ipm.Node, nt *profile.NodeType) (map[string]string, bool) {
	parent := t.Parent(n)
	parentType := ""
	if parent != nil {
		parentType = parent.Type
		if parentType == "" {
			return nil, false
		}
	}
	if !fits(t, n, nt, parentType) {
		return nil, false
	}
	if parent != nil && !s.slotsHold(t, parent, n, nt.ID) {
		return nil, false
	}
	return a.children(n, nt, true)
}

// slotsHold reports whether every occupancy slot of parent stays filled if
// n takes type typeID.
func (s *Service) slotsHold(t *ipm.Tree, parent, n *ipm.Node, typeID string) bool {
	pt, err := s.profiles.NodeType(parent.Type)
	if err != nil {
		return false
	}
	for _, slot := range pt.ChildConstraints {
		count := 0
		for _, c := range activeChildren(t, parent) {
			typ := c.Type
			if c.ID == n.ID {
				typ = typeID
			}
			if slot.Counts(typ) {
				count++
			}
		}
		if count < slot.Min {
			return false
		}
	}
	return true
}

// ChangeType gives the node type typeID, retyping descendants whose types
// are no longer legal under it. It fails with ErrIllegalTypeChange when the
// type is not among ValidTypes.
func (s *Service) ChangeType(t *ipm.Tree, n *ipm.Node, typeID string) error {
	nt, err := s.profiles.NodeType(typeID)
	if err != nil {
		return err
	}
	p := s.profileFor(n)
	if p == nil || p.NodeType(typeID) == nil || n.Ignored {
		return apperr.New(apperr.ErrIllegalTypeChange, "profileservice: change type", "%s to %s", n.ID, typeID)
	}
	plan, ok := s.plan(s.newAssigner(p, t), t, n, nt)
	if !ok {
		return apperr.New(apperr.ErrIllegalTypeChange, "profileservice: change type", "%s to %s", n.ID, typeID)
	}
	plan[n.ID] = typeID
	apply(t, plan)
	s.logger.Debug("profileservice: type changed",
		slog.String("node", n.ID), slog.String("type", typeID), slog.Int("retyped", len(plan)-1))

	if s.objects == nil {
		return nil
	}
	if err := s.updateSubtree(t, n); err != nil {
		return fmt.Errorf("profileservice: change type: %w", err)
	}
	return nil
}

// updateSubtree re-asserts the domain objects of n and its active
// descendants.
func (s *Service) updateSubtree(t *ipm.Tree, n *ipm.Node) error {
	return t.WalkFrom(n.ID, func(d *ipm.Node) error {
		if d.Ignored {
			return ipm.SkipChildren
		}
		if d.Type == "" {
			return nil
		}
		return s.objects.UpdateObject(t, d)
	})
}

// AddSubType attaches a secondary type allowed by the node's primary type.
func (s *Service) AddSubType(t *ipm.Tree, n *ipm.Node, typeID string) error {
	nt, err := s.profiles.NodeType(n.Type)
	if err != nil {
		return err
	}
	if !nt.AllowsSubType(typeID) {
		return apperr.New(apperr.ErrIllegalTypeChange, "profileservice: add sub type", "%s does not allow %s", nt.ID, typeID)
	}
	if n.HasSubType(typeID) {
		return nil
	}
	n.SubTypes = append(n.SubTypes, typeID)
	if s.objects != nil {
		return s.objects.UpdateObject(t, n)
	}
	return nil
}

// RemoveSubType detaches a secondary type.
func (s *Service) RemoveSubType(t *ipm.Tree, n *ipm.Node, typeID string) error {
	if !n.HasSubType(typeID) {
		return apperr.New(apperr.ErrNotFound, "profileservice: remove sub type", "%s on %s", typeID, n.ID)
	}
	n.SubTypes = slices.DeleteFunc(n.SubTypes, func(id string) bool { return id == typeID })
	if s.objects != nil {
		return s.objects.UpdateObject(t, n)
	}
	return nil
}

// Ignore sets the ignored flag. Ignoring forces the flag onto every
// descendant; un-ignoring clears it on descendants and ancestors and types
// any untyped nodes that became active again.
func (s *Service) Ignore(t *ipm.Tree, n *ipm.Node, ignored bool) error {
	if err := t.SetIgnored(n.ID, ignored); err != nil {
		return err
	}
	if ignored {
		if parent := t.Parent(n); parent != nil {
			_, err := s.Reconcile(t, parent)
			return err
		}
		return nil
	}
	top := n
	for _, a := range t.Ancestors(n.ID) {
		if a.Type == "" {
			top = a
		}
	}
	owner := top
	if parent := t.Parent(top); parent != nil {
		owner = parent
	}
	if top.Type == "" || !s.subtreeHolds(t, top) {
		if p := s.profileFor(owner); p != nil && s.AssignSubtree(p, t, top.ID) && s.objects != nil {
			if err := s.updateSubtree(t, top); err != nil {
				return fmt.Errorf("profileservice: ignore: %w", err)
			}
		}
	}
	if owner != top {
		if _, err := s.Reconcile(t, owner); err != nil {
			return err
		}
	}
	if top.Type == "" {
		s.logger.Info("profileservice: re-activated subtree left untyped", slog.String("node", top.ID))
	}
	return nil
}

// Reconcile re-checks the types of n and its ancestors after the active
// children of n changed. The first node whose type no longer holds has its
// subtree re-assigned; when that fails the re-assignment moves up one level
// at a time. Parents of re-assigned subtrees are checked in turn. It reports
// whether every checked type holds afterwards.
func (s *Service) Reconcile(t *ipm.Tree, n *ipm.Node) (bool, error) {
	chain := append([]*ipm.Node{n}, t.Ancestors(n.ID)...)
	for i := 0; i < len(chain); i++ {
		if s.typeHolds(t, chain[i]) {
			continue
		}
		for ; i < len(chain); i++ {
			top := chain[i]
			p := s.profileFor(top)
			if p == nil || !s.AssignSubtree(p, t, top.ID) {
				continue
			}
			s.logger.Debug("profileservice: subtree re-assigned", slog.String("node", top.ID))
			if s.objects != nil {
				if err := s.updateSubtree(t, top); err != nil {
					return false, fmt.Errorf("profileservice: reconcile: %w", err)
				}
			}
			break
		}
		if i == len(chain) {
			s.logger.Info("profileservice: types no longer legal", slog.String("node", n.ID))
			return false, nil
		}
	}
	return true, nil
}

// subtreeHolds reports whether typeHolds for n and every active descendant.
func (s *Service) subtreeHolds(t *ipm.Tree, n *ipm.Node) bool {
	holds := true
	_ = t.WalkFrom(n.ID, func(d *ipm.Node) error {
		if d.Ignored {
			return ipm.SkipChildren
		}
		if d.Type == "" || !s.typeHolds(t, d) {
			holds = false
		}
		return nil
	})
	return holds
}

// typeHolds reports whether the current type of n is still legal given its
// backing, its active children and a typed parent. Ignored and untyped nodes
// hold trivially.
func (s *Service) typeHolds(t *ipm.Tree, n *ipm.Node) bool {
	if n.Ignored || n.Type == "" {
		return true
	}
	nt, err := s.profiles.NodeType(n.Type)
	if err != nil {
		return false
	}
	kids := activeChildren(t, n)
	if !nt.FileRequirement.Satisfied(n.IsFile()) ||
		!nt.DirectoryRequirement.Satisfied(n.IsDirectory()) ||
		!nt.ChildRequirement.Satisfied(len(kids) > 0) {
		return false
	}
	if parent := t.Parent(n); parent == nil {
		if _, ok := nt.ParentConstraintFor("", true); !ok {
			return false
		}
	} else if parent.Type != "" {
		if _, ok := nt.ParentConstraintFor(parent.Type, false); !ok {
			return false
		}
	}
	current := make(map[string]string, len(kids))
	for _, c := range kids {
		current[c.ID] = c.Type
	}
	for _, slot := range nt.ChildConstraints {
		if countIn(slot, kids, current) < slot.Min {
			return false
		}
	}
	return true
}
