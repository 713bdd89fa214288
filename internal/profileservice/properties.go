package profileservice

import (
	"fmt"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
)

// Violation is one unsatisfied property constraint.
type Violation struct {
	NodeID       string `json:"node_id"`
	NodeType     string `json:"node_type"`
	PropertyType string `json:"property_type"`
	Count        int    `json:"count"`
	Min          int    `json:"min"`
	Max          int    `json:"max"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s (%s): %s occurs %d times, want [%d,%d]", v.NodeID, v.NodeType, v.PropertyType, v.Count, v.Min, v.Max)
}

// ValidateProperties reports whether the node's current property values
// satisfy every constraint of nt, recursing into complex values. It has no
// side effects.
func (s *Service) ValidateProperties(n *ipm.Node, nt *profile.NodeType) bool {
	return len(s.violations(n, nt)) == 0
}

func (s *Service) violations(n *ipm.Node, nt *profile.NodeType) []Violation {
	var out []Violation
	for _, c := range nt.PropertyConstraints {
		vals := s.values(n, c.PropertyType)
		ok := c.Allows(len(vals))
		if ok {
			ok = s.valuesValid(c.PropertyType, vals)
		}
		if !ok {
			out = append(out, Violation{
				NodeID: n.ID, NodeType: nt.ID, PropertyType: c.PropertyType,
				Count: len(vals), Min: c.Min, Max: c.Max,
			})
		}
	}
	return out
}

func (s *Service) values(n *ipm.Node, propertyTypeID string) []profile.PropertyValue {
	if s.objects == nil || n.DomainObject == "" {
		return nil
	}
	vals, err := s.objects.Properties(n.DomainObject, propertyTypeID)
	if err != nil {
		return nil
	}
	return vals
}

// valuesValid checks lexical form and, for complex values, the occurrence
// bounds of every sub-property.
func (s *Service) valuesValid(propertyTypeID string, vals []profile.PropertyValue) bool {
	pt, ok := s.profiles.PropertyType(propertyTypeID)
	if !ok {
		return false
	}
	for _, v := range vals {
		if err := pt.CheckLexical(v); err != nil {
			return false
		}
		if !pt.IsComplex() {
			continue
		}
		for _, c := range pt.SubConstraints {
			parts := v.Parts(c.PropertyType)
			if !c.Allows(len(parts)) || !s.valuesValid(c.PropertyType, parts) {
				return false
			}
		}
	}
	return true
}

// ValidateTree checks the properties of every active typed node.
func (s *Service) ValidateTree(t *ipm.Tree) []Violation {
	var out []Violation
	_ = t.Walk(func(n *ipm.Node) error {
		if n.Ignored {
			return ipm.SkipChildren
		}
		if n.Type == "" {
			return nil
		}
		nt, err := s.profiles.NodeType(n.Type)
		if err != nil {
			return nil
		}
		out = append(out, s.violations(n, nt)...)
		return nil
	})
	return out
}

// PropagateInheritableProperties copies the node's values of each
// inheritable property type onto every active descendant whose type
// accepts it. Values a descendant already has are not duplicated.
func (s *Service) PropagateInheritableProperties(t *ipm.Tree, n *ipm.Node) error {
	if s.objects == nil || n.DomainObject == "" {
		return nil
	}
	nt, err := s.profiles.NodeType(n.Type)
	if err != nil {
		return err
	}
	for _, ptID := range nt.InheritableProperties {
		vals, err := s.objects.Properties(n.DomainObject, ptID)
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			continue
		}
		for _, d := range t.Descendants(n.ID) {
			if d.Ignored || d.DomainObject == "" || d.Type == "" {
				continue
			}
			dt, err := s.profiles.NodeType(d.Type)
			if err != nil || !dt.AllowsProperty(ptID) || dt.IsSupplied(ptID) {
				continue
			}
			have, err := s.objects.Properties(d.DomainObject, ptID)
			if err != nil {
				return err
			}
			for _, v := range vals {
				if profile.ContainsValue(have, v) {
					continue
				}
				if err := s.objects.AddProperty(d.DomainObject, v); err != nil {
					return fmt.Errorf("profileservice: propagate %s: %w", ptID, err)
				}
			}
		}
	}
	return nil
}

// UpdateObjects materialises every active typed node, parents first.
func (s *Service) UpdateObjects(t *ipm.Tree) error {
	if s.objects == nil {
		return nil
	}
	return s.updateSubtree(t, t.Root())
}

// SetProperties replaces the values of one property type on the node after
// checking that its type accepts them.
func (s *Service) SetProperties(n *ipm.Node, propertyTypeID string, vals []profile.PropertyValue) error {
	if s.objects == nil || n.DomainObject == "" {
		return apperr.New(apperr.ErrContractViolation, "profileservice: set properties", "node %s has no domain object", n.ID)
	}
	nt, err := s.profiles.NodeType(n.Type)
	if err != nil {
		return err
	}
	if !nt.AllowsProperty(propertyTypeID) || nt.IsSupplied(propertyTypeID) {
		return apperr.New(apperr.ErrContractViolation, "profileservice: set properties", "%s does not accept %s", nt.ID, propertyTypeID)
	}
	return s.objects.SetProperties(n.DomainObject, propertyTypeID, vals)
}

// Properties returns every value on the node keyed by property type.
func (s *Service) Properties(n *ipm.Node) (map[string][]profile.PropertyValue, error) {
	if s.objects == nil || n.DomainObject == "" {
		return map[string][]profile.PropertyValue{}, nil
	}
	return s.objects.AllProperties(n.DomainObject)
}
