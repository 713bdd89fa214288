package profileservice

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
)

// NodeTransforms lists the transforms of the node's profile whose source
// pattern matches the node and that can be executed now.
func (s *Service) NodeTransforms(t *ipm.Tree, n *ipm.Node) []*profile.NodeTransform {
	p := s.profileFor(n)
	if p == nil || n.Type == "" || n.Ignored {
		return nil
	}
	var out []*profile.NodeTransform
	for _, tr := range p.NodeTransforms {
		if s.executable(t, n, tr) {
			out = append(out, tr)
		}
	}
	return out
}

// matches checks the transform's source pattern against the node and its
// surroundings.
func matches(t *ipm.Tree, n *ipm.Node, tr *profile.NodeTransform) bool {
	if n.Type != tr.SourceType {
		return false
	}
	parent := t.Parent(n)
	if tr.SourceParentType != "" && (parent == nil || parent.Type != tr.SourceParentType) {
		return false
	}
	if tr.SourceGrandparentType != "" {
		if parent == nil {
			return false
		}
		gp := t.Parent(parent)
		if gp == nil || gp.Type != tr.SourceGrandparentType {
			return false
		}
	}
	if tr.SourceChildType != "" {
		found := false
		for _, c := range activeChildren(t, n) {
			if c.Type == tr.SourceChildType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Service) executable(t *ipm.Tree, n *ipm.Node, tr *profile.NodeTransform) bool {
	if !matches(t, n, tr) {
		return false
	}
	switch {
	case tr.InsertParent:
		return s.canSplit(t, n, tr)
	case tr.MoveToGrandparent:
		return s.CanCollapseParentArtifact(t, n) || s.canMoveUp(t, n, tr)
	default:
		nt, err := s.profiles.NodeType(tr.ResultType)
		if err != nil {
			return false
		}
		_, ok := s.plan(s.newAssigner(s.profileFor(n), t), t, n, nt)
		return ok
	}
}

// TransformNode executes tr on the node.
func (s *Service) TransformNode(t *ipm.Tree, n *ipm.Node, tr *profile.NodeTransform) error {
	if !matches(t, n, tr) {
		return apperr.New(apperr.ErrContractViolation, "profileservice: transform", "%s does not apply to %s", tr.ID, n.ID)
	}
	switch {
	case tr.InsertParent:
		_, err := s.split(t, n, tr)
		return err
	case tr.MoveToGrandparent:
		if s.CanCollapseParentArtifact(t, n) {
			_, err := s.CollapseParentArtifact(t, n)
			return err
		}
		return s.moveUp(t, n, tr)
	default:
		return s.ChangeType(t, n, tr.ResultType)
	}
}

// canMoveUp reports whether the node can leave a parent that is not a split
// artifact for its grandparent under the transform's result type. The
// parent must stay valid unless the transform removes it once empty.
func (s *Service) canMoveUp(t *ipm.Tree, n *ipm.Node, tr *profile.NodeTransform) bool {
	parent := t.Parent(n)
	if parent == nil || n.Ignored {
		return false
	}
	gp := t.Parent(parent)
	if gp == nil || gp.Type == "" {
		return false
	}
	rt, err := s.profiles.NodeType(tr.ResultType)
	if err != nil || !fits(t, n, rt, gp.Type) {
		return false
	}
	rest := slices.DeleteFunc(activeChildren(t, parent), func(c *ipm.Node) bool { return c.ID == n.ID })
	if len(rest) == 0 && tr.RemoveEmptyParent {
		return true
	}
	pt, err := s.profiles.NodeType(parent.Type)
	if err != nil || !pt.ChildRequirement.Satisfied(len(rest) > 0) {
		return false
	}
	for _, slot := range pt.ChildConstraints {
		count := 0
		for _, c := range rest {
			if slot.Counts(c.Type) {
				count++
			}
		}
		if count < slot.Min {
			return false
		}
	}
	return true
}

// moveUp re-parents the node under its grandparent, right after its old
// parent, and removes the parent when the transform asks for it and no
// children remain.
func (s *Service) moveUp(t *ipm.Tree, n *ipm.Node, tr *profile.NodeTransform) error {
	if !s.canMoveUp(t, n, tr) {
		return apperr.New(apperr.ErrIllegalTypeChange, "profileservice: transform", "%s cannot move up as %s", n.ID, tr.ResultType)
	}
	parent := t.Parent(n)
	gp := t.Parent(parent)
	rt, _ := s.profiles.NodeType(tr.ResultType)

	if err := t.Move(n.ID, gp.ID, t.IndexOf(parent.ID)+1); err != nil {
		return err
	}
	if n.Type != rt.ID {
		n.SubTypes = slices.DeleteFunc(n.SubTypes, func(st string) bool { return !rt.AllowsSubType(st) })
	}
	n.Type = rt.ID

	if tr.RemoveEmptyParent && len(parent.Children) == 0 {
		if _, err := t.RemoveSubtree(parent.ID); err != nil {
			return err
		}
		if s.objects != nil && parent.DomainObject != "" {
			if err := s.objects.RemoveObject(parent.DomainObject); err != nil {
				return err
			}
		}
	}
	if s.objects == nil {
		return nil
	}
	return s.updateSubtree(t, n)
}

func (s *Service) splitTransform(t *ipm.Tree, n *ipm.Node) *profile.NodeTransform {
	p := s.profileFor(n)
	if p == nil || n.Type == "" {
		return nil
	}
	for _, tr := range p.NodeTransforms {
		if tr.InsertParent && matches(t, n, tr) && s.canSplit(t, n, tr) {
			return tr
		}
	}
	return nil
}

func (s *Service) canSplit(t *ipm.Tree, n *ipm.Node, tr *profile.NodeTransform) bool {
	parent := t.Parent(n)
	if parent == nil || n.Ignored || !n.IsFile() {
		return false
	}
	if _, exists := t.Node(n.ID + ComboSuffix); exists {
		return false
	}
	rp, err := s.profiles.NodeType(tr.ResultParentType)
	if err != nil {
		return false
	}
	if _, ok := rp.ParentConstraintFor(parent.Type, false); !ok {
		return false
	}
	rt, err := s.profiles.NodeType(tr.ResultType)
	if err != nil {
		return false
	}
	_, ok := rt.ParentConstraintFor(rp.ID, false)
	return ok
}

// CanBeCombinedIntoParentChild reports whether the node is a file that a
// split transform can wrap in a synthesised parent.
func (s *Service) CanBeCombinedIntoParentChild(t *ipm.Tree, n *ipm.Node) bool {
	return s.splitTransform(t, n) != nil
}

// MakeParentChildCombo wraps the node in a new parent whose identifier is
// the node's plus ComboSuffix. The parent takes the node's place and its
// relationships and all non-supplied properties its type accepts. The node
// becomes the parent's only child, retyped, keeping the properties its new
// type accepts. It returns the parent's type.
func (s *Service) MakeParentChildCombo(t *ipm.Tree, n *ipm.Node) (*profile.NodeType, error) {
	tr := s.splitTransform(t, n)
	if tr == nil {
		return nil, apperr.New(apperr.ErrContractViolation, "profileservice: split", "%s cannot be split", n.ID)
	}
	return s.split(t, n, tr)
}

func (s *Service) split(t *ipm.Tree, n *ipm.Node, tr *profile.NodeTransform) (*profile.NodeType, error) {
	if !s.canSplit(t, n, tr) {
		return nil, apperr.New(apperr.ErrContractViolation, "profileservice: split", "%s cannot be split by %s", n.ID, tr.ID)
	}
	oldType, err := s.profiles.NodeType(n.Type)
	if err != nil {
		return nil, err
	}
	parentType, _ := s.profiles.NodeType(tr.ResultParentType)
	childType, _ := s.profiles.NodeType(tr.ResultType)

	var props map[string][]profile.PropertyValue
	if s.objects != nil && n.DomainObject != "" {
		if props, err = s.objects.AllProperties(n.DomainObject); err != nil {
			return nil, fmt.Errorf("profileservice: split: %w", err)
		}
	}

	parent := t.Parent(n)
	combo := &ipm.Node{ID: n.ID + ComboSuffix, Type: parentType.ID, Ignored: n.Ignored}
	for _, st := range n.SubTypes {
		if parentType.AllowsSubType(st) {
			combo.SubTypes = append(combo.SubTypes, st)
		}
	}
	if err := t.InsertChild(parent.ID, t.IndexOf(n.ID), combo); err != nil {
		return nil, err
	}
	if err := t.Move(n.ID, combo.ID, 0); err != nil {
		return nil, err
	}
	n.Type = childType.ID
	n.SubTypes = nil

	if s.objects != nil && n.DomainObject != "" {
		if err := s.objects.UpdateObject(t, combo); err != nil {
			return nil, err
		}
		if err := s.objects.TransferRelationships(n.DomainObject, combo.DomainObject); err != nil {
			return nil, err
		}
		for ptID, vals := range props {
			if oldType.IsSupplied(ptID) {
				continue
			}
			if parentType.AllowsProperty(ptID) && !parentType.IsSupplied(ptID) {
				if err := s.objects.SetProperties(combo.DomainObject, ptID, vals); err != nil {
					return nil, err
				}
				if err := s.objects.RemoveProperties(n.DomainObject, ptID); err != nil {
					return nil, err
				}
				continue
			}
			if !childType.AllowsProperty(ptID) {
				if err := s.objects.RemoveProperties(n.DomainObject, ptID); err != nil {
					return nil, err
				}
			}
		}
		for ptID := range oldType.SuppliedProperties {
			if !childType.IsSupplied(ptID) {
				if err := s.objects.RemoveProperties(n.DomainObject, ptID); err != nil {
					return nil, err
				}
			}
		}
		// Re-assert the combo after the transfer so only its containment
		// link to the grandparent remains.
		if err := s.objects.UpdateObject(t, combo); err != nil {
			return nil, err
		}
		if err := s.objects.UpdateObject(t, n); err != nil {
			return nil, err
		}
	}
	s.logger.Debug("profileservice: split", slog.String("node", n.ID), slog.String("transform", tr.ID))
	return parentType, nil
}

// CanCollapseParentArtifact reports whether the node's parent was
// synthesised by a split of this node and has no other children.
func (s *Service) CanCollapseParentArtifact(t *ipm.Tree, n *ipm.Node) bool {
	parent := t.Parent(n)
	if parent == nil || parent.ID != n.ID+ComboSuffix || len(parent.Children) != 1 {
		return false
	}
	return t.Parent(parent) != nil
}

// IsComboArtifact reports whether n looks like a parent created by a split.
func IsComboArtifact(n *ipm.Node) bool {
	return strings.HasSuffix(n.ID, ComboSuffix) && len(n.Children) == 1 &&
		n.Children[0]+ComboSuffix == n.ID
}

// DropEmptyArtifact removes n when it is a split parent whose split node is
// gone, along with its domain object. It returns the node whose active
// children changed: n's parent when n was removed, n otherwise.
func (s *Service) DropEmptyArtifact(t *ipm.Tree, n *ipm.Node) (*ipm.Node, error) {
	parent := t.Parent(n)
	if parent == nil || n.File != nil || len(n.Children) > 0 || !strings.HasSuffix(n.ID, ComboSuffix) {
		return n, nil
	}
	if _, err := t.RemoveSubtree(n.ID); err != nil {
		return nil, err
	}
	if s.objects != nil && n.DomainObject != "" {
		if err := s.objects.RemoveObject(n.DomainObject); err != nil {
			return nil, fmt.Errorf("profileservice: drop artifact: %w", err)
		}
	}
	s.logger.Debug("profileservice: empty split parent removed", slog.String("node", n.ID))
	return parent, nil
}

// CollapseParentArtifact removes the synthesised parent of the node and
// reattaches the node to its grandparent at the parent's position. The
// parent's properties are merged into the node, parent values winning;
// values the node's final type does not accept are dropped. It returns the
// removed parent's identifier.
func (s *Service) CollapseParentArtifact(t *ipm.Tree, n *ipm.Node) (string, error) {
	if !s.CanCollapseParentArtifact(t, n) {
		return "", apperr.New(apperr.ErrContractViolation, "profileservice: collapse", "parent of %s is not a split artifact", n.ID)
	}
	parent := t.Parent(n)
	gp := t.Parent(parent)

	final, err := s.collapsedType(t, n, parent, gp)
	if err != nil {
		return "", err
	}

	var props map[string][]profile.PropertyValue
	if s.objects != nil && parent.DomainObject != "" {
		if props, err = s.objects.AllProperties(parent.DomainObject); err != nil {
			return "", fmt.Errorf("profileservice: collapse: %w", err)
		}
	}

	if err := t.Move(n.ID, gp.ID, t.IndexOf(parent.ID)); err != nil {
		return "", err
	}
	if _, err := t.RemoveSubtree(parent.ID); err != nil {
		return "", err
	}
	n.Type = final.ID
	for _, st := range parent.SubTypes {
		if final.AllowsSubType(st) && !n.HasSubType(st) {
			n.SubTypes = append(n.SubTypes, st)
		}
	}

	if s.objects != nil && parent.DomainObject != "" && n.DomainObject != "" {
		if err := s.objects.TransferRelationships(parent.DomainObject, n.DomainObject); err != nil {
			return "", err
		}
		for ptID, vals := range props {
			if !final.AllowsProperty(ptID) || final.IsSupplied(ptID) {
				continue
			}
			if err := s.objects.SetProperties(n.DomainObject, ptID, vals); err != nil {
				return "", err
			}
		}
		if err := s.objects.RemoveObject(parent.DomainObject); err != nil {
			return "", err
		}
		if err := s.objects.UpdateObject(t, n); err != nil {
			return "", err
		}
	}
	s.logger.Debug("profileservice: collapsed", slog.String("node", n.ID), slog.String("removed", parent.ID))
	return parent.ID, nil
}

// collapsedType picks the node's type after collapse: the result of a
// move-to-grandparent transform when one matches and is legal there,
// otherwise the first type assignment allows under the grandparent.
func (s *Service) collapsedType(t *ipm.Tree, n, parent, gp *ipm.Node) (*profile.NodeType, error) {
	p := s.profileFor(n)
	if p == nil {
		return nil, apperr.New(apperr.ErrIllegalTypeChange, "profileservice: collapse", "%s has no profile", n.ID)
	}
	for _, tr := range p.NodeTransforms {
		if !tr.MoveToGrandparent || tr.SourceType != n.Type {
			continue
		}
		if tr.SourceParentType != "" && tr.SourceParentType != parent.Type {
			continue
		}
		nt, err := s.profiles.NodeType(tr.ResultType)
		if err != nil {
			continue
		}
		if _, ok := nt.ParentConstraintFor(gp.Type, false); ok {
			return nt, nil
		}
	}
	if plan, ok := s.newAssigner(p, t).subtree(n, gp.Type, nil); ok {
		return s.profiles.NodeType(plan[n.ID])
	}
	return nil, apperr.New(apperr.ErrIllegalTypeChange, "profileservice: collapse", "no type for %s under %s", n.ID, gp.Type)
}
