package profile

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	requirementRule = validation.In(Must, May, MustNot)
	valueTypeRule   = validation.In(StringValue, LongValue, DateTimeValue, URIValue, ComplexValue)
)

// Validate checks the shape of the profile. Cross references are checked
// when the profile is indexed by a Store.
func (p *DomainProfile) Validate() error {
	if err := validation.ValidateStruct(p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.Version, validation.Required),
		validation.Field(&p.NodeTypes, validation.Required),
	); err != nil {
		return err
	}
	for key, rel := range p.Relations {
		if rel.HasParent == "" || rel.HasChild == "" {
			return fmt.Errorf("relation %s: both predicates are required", key)
		}
	}
	for _, pt := range p.PropertyTypes {
		if err := pt.Validate(); err != nil {
			return fmt.Errorf("property type %s: %w", pt.ID, err)
		}
	}
	for _, nt := range p.NodeTypes {
		if err := nt.Validate(); err != nil {
			return fmt.Errorf("node type %s: %w", nt.ID, err)
		}
	}
	for _, tr := range p.NodeTransforms {
		if err := tr.Validate(); err != nil {
			return fmt.Errorf("transform %s: %w", tr.ID, err)
		}
	}
	return nil
}

// Validate validates the property type.
func (pt *PropertyType) Validate() error {
	if err := validation.ValidateStruct(pt,
		validation.Field(&pt.ID, validation.Required),
		validation.Field(&pt.ValueType, validation.Required, valueTypeRule),
		validation.Field(&pt.Predicate, validation.Required),
		validation.Field(&pt.SubConstraints, validation.When(pt.ValueType == ComplexValue, validation.Required)),
	); err != nil {
		return err
	}
	for _, c := range pt.SubConstraints {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the occurrence bounds.
func (c *PropertyConstraint) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.PropertyType, validation.Required),
		validation.Field(&c.Min, validation.Min(0)),
	); err != nil {
		return err
	}
	if c.Max != Unbounded && c.Max < c.Min {
		return fmt.Errorf("%s: max %d below min %d", c.PropertyType, c.Max, c.Min)
	}
	return nil
}

// Validate validates the node type.
func (nt *NodeType) Validate() error {
	if err := validation.ValidateStruct(nt,
		validation.Field(&nt.ID, validation.Required),
		validation.Field(&nt.FileRequirement, requirementRule),
		validation.Field(&nt.DirectoryRequirement, requirementRule),
		validation.Field(&nt.ChildRequirement, requirementRule),
	); err != nil {
		return err
	}
	if nt.FileRequirement == Must && nt.DirectoryRequirement == Must {
		return fmt.Errorf("cannot require both a file and a directory")
	}
	for _, c := range nt.PropertyConstraints {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, c := range nt.ParentConstraints {
		n := 0
		for _, set := range []bool{c.MatchesAny, c.MatchesNone, c.NodeType != ""} {
			if set {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("parent constraint needs exactly one of any, none or type")
		}
	}
	for _, c := range nt.ChildConstraints {
		if len(c.NodeTypes) == 0 || c.Min < 0 {
			return fmt.Errorf("child slot needs types and a non-negative min")
		}
	}
	return nil
}

// Validate validates the transform.
func (tr *NodeTransform) Validate() error {
	if err := validation.ValidateStruct(tr,
		validation.Field(&tr.ID, validation.Required),
		validation.Field(&tr.SourceType, validation.Required),
		validation.Field(&tr.ResultType, validation.Required),
		validation.Field(&tr.ResultParentType, validation.When(tr.InsertParent, validation.Required)),
	); err != nil {
		return err
	}
	if tr.InsertParent && tr.MoveToGrandparent {
		return fmt.Errorf("insert_parent and move_to_grandparent are exclusive")
	}
	return nil
}
