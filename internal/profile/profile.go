// Package profile defines domain profiles: declarative catalogs of node
// types, property types, structural relations and node transforms used to
// type and describe an IPM tree.
//
// Every type is plain data. Behaviour specific to a node type is driven by
// looking its constraints up by identifier, never by dispatch.
package profile

import (
	"slices"
)

// Requirement states whether a node type must, may or must not have a
// given characteristic.
type Requirement string

const (
	Must    Requirement = "must"
	May     Requirement = "may"
	MustNot Requirement = "must_not"
)

// Satisfied reports whether has meets the requirement. An empty
// requirement behaves like May.
func (r Requirement) Satisfied(has bool) bool {
	switch r {
	case Must:
		return has
	case MustNot:
		return !has
	default:
		return true
	}
}

// ValueType is the kind of value a property type holds.
type ValueType string

const (
	StringValue   ValueType = "string"
	LongValue     ValueType = "long"
	DateTimeValue ValueType = "datetime"
	URIValue      ValueType = "uri"
	ComplexValue  ValueType = "complex"
)

// Unbounded marks a PropertyConstraint without an upper limit.
const Unbounded = -1

// SuppliedProperty names a FileInfo-derived fact that fills a property
// instead of user input.
type SuppliedProperty string

const (
	SuppliedName     SuppliedProperty = "file_name"
	SuppliedSize     SuppliedProperty = "file_size"
	SuppliedCreated  SuppliedProperty = "file_created"
	SuppliedModified SuppliedProperty = "file_modified"
	SuppliedFormat   SuppliedProperty = "file_format"
	SuppliedLocation SuppliedProperty = "file_location"
)

// DomainProfile is an identified, versioned catalog. It is loaded once and
// never mutated afterwards.
type DomainProfile struct {
	ID                 string                        `yaml:"id" json:"id"`
	Label              string                        `yaml:"label" json:"label"`
	Description        string                        `yaml:"description" json:"description,omitempty"`
	Version            string                        `yaml:"version" json:"version"`
	Namespace          string                        `yaml:"namespace" json:"namespace,omitempty"`
	Relations          map[string]StructuralRelation `yaml:"relations" json:"relations,omitempty"`
	PropertyCategories []PropertyCategory            `yaml:"property_categories" json:"property_categories,omitempty"`
	PropertyTypes      []*PropertyType               `yaml:"property_types" json:"property_types"`
	NodeTypes          []*NodeType                   `yaml:"node_types" json:"node_types"`
	NodeTransforms     []*NodeTransform              `yaml:"transforms" json:"transforms,omitempty"`
}

// NodeType looks a node type up by identifier within this profile.
func (p *DomainProfile) NodeType(id string) *NodeType {
	for _, nt := range p.NodeTypes {
		if nt.ID == id {
			return nt
		}
	}
	return nil
}

// PropertyType looks a property type up by identifier within this profile.
func (p *DomainProfile) PropertyType(id string) *PropertyType {
	for _, pt := range p.PropertyTypes {
		if pt.ID == id {
			return pt
		}
	}
	return nil
}

// StructuralRelation is a pair of inverse predicates linking a child
// object to its parent and back.
type StructuralRelation struct {
	HasParent string `yaml:"has_parent" json:"has_parent"`
	HasChild  string `yaml:"has_child" json:"has_child"`
}

// PropertyCategory groups property types for presentation.
type PropertyCategory struct {
	ID            string   `yaml:"id" json:"id"`
	Label         string   `yaml:"label" json:"label"`
	PropertyTypes []string `yaml:"property_types" json:"property_types"`
}

// PropertyType declares one kind of property and the predicate it maps to.
type PropertyType struct {
	ID             string               `yaml:"id" json:"id"`
	Label          string               `yaml:"label" json:"label"`
	Description    string               `yaml:"description" json:"description,omitempty"`
	ValueType      ValueType            `yaml:"value_type" json:"value_type"`
	Predicate      string               `yaml:"predicate" json:"predicate"`
	Category       string               `yaml:"category" json:"category,omitempty"`
	SubConstraints []PropertyConstraint `yaml:"sub_properties" json:"sub_properties,omitempty"`
}

// IsComplex reports whether values of this type are composed of sub-properties.
func (pt *PropertyType) IsComplex() bool { return pt.ValueType == ComplexValue }

// PropertyConstraint bounds how often a property type may occur.
type PropertyConstraint struct {
	PropertyType string `yaml:"property_type" json:"property_type"`
	Min          int    `yaml:"min" json:"min"`
	Max          int    `yaml:"max" json:"max"`
}

// UnmarshalYAML defaults an omitted max to Unbounded.
func (c *PropertyConstraint) UnmarshalYAML(unmarshal func(any) error) error {
	var raw struct {
		PropertyType string `yaml:"property_type"`
		Min          int    `yaml:"min"`
		Max          *int   `yaml:"max"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	c.PropertyType = raw.PropertyType
	c.Min = raw.Min
	c.Max = Unbounded
	if raw.Max != nil {
		c.Max = *raw.Max
	}
	return nil
}

// Allows reports whether count occurrences satisfy the constraint.
func (c PropertyConstraint) Allows(count int) bool {
	if count < c.Min {
		return false
	}
	return c.Max == Unbounded || count <= c.Max
}

// NodeConstraint describes one legal placement of a node type relative to
// its parent.
type NodeConstraint struct {
	// MatchesAny accepts any typed parent.
	MatchesAny bool `yaml:"any" json:"any,omitempty"`
	// MatchesNone accepts only the absence of a parent, i.e. the root.
	MatchesNone bool   `yaml:"none" json:"none,omitempty"`
	NodeType    string `yaml:"type" json:"type,omitempty"`
	// Relation names an entry in the profile's Relations table.
	Relation string `yaml:"relation" json:"relation,omitempty"`

	// StructuralRelation is resolved from Relation when the profile is indexed.
	StructuralRelation *StructuralRelation `yaml:"-" json:"-"`
}

// Matches reports whether a parent of type parentType (empty for the root)
// satisfies the constraint.
func (c NodeConstraint) Matches(parentType string, isRoot bool) bool {
	switch {
	case c.MatchesNone:
		return isRoot
	case isRoot:
		return false
	case c.MatchesAny:
		return parentType != ""
	default:
		return c.NodeType == parentType
	}
}

// ChildConstraint is an occupancy slot: at least Min non-ignored children
// whose types are listed in NodeTypes.
type ChildConstraint struct {
	NodeTypes []string `yaml:"types" json:"types"`
	Min       int      `yaml:"min" json:"min"`
}

// Counts reports whether a child of type typeID occupies the slot.
func (c ChildConstraint) Counts(typeID string) bool {
	return slices.Contains(c.NodeTypes, typeID)
}

// NodeType is one classification a node can hold.
type NodeType struct {
	ID                    string                          `yaml:"id" json:"id"`
	Label                 string                          `yaml:"label" json:"label"`
	Description           string                          `yaml:"description" json:"description,omitempty"`
	DomainTypes           []string                        `yaml:"domain_types" json:"domain_types"`
	PropertyConstraints   []PropertyConstraint            `yaml:"properties" json:"properties,omitempty"`
	DefaultPropertyValues []PropertyValue                 `yaml:"defaults" json:"defaults,omitempty"`
	ParentConstraints     []NodeConstraint                `yaml:"parents" json:"parents,omitempty"`
	ChildConstraints      []ChildConstraint               `yaml:"child_slots" json:"child_slots,omitempty"`
	SuppliedProperties    map[string]SuppliedProperty     `yaml:"supplied" json:"supplied,omitempty"`
	InheritableProperties []string                        `yaml:"inheritable" json:"inheritable,omitempty"`
	SubTypes              []string                        `yaml:"sub_types" json:"sub_types,omitempty"`
	FileRequirement       Requirement                     `yaml:"file" json:"file,omitempty"`
	DirectoryRequirement  Requirement                     `yaml:"directory" json:"directory,omitempty"`
	ChildRequirement      Requirement                     `yaml:"children" json:"children,omitempty"`
}

// PropertyConstraint returns the constraint for propertyTypeID, if any.
func (nt *NodeType) PropertyConstraint(propertyTypeID string) (PropertyConstraint, bool) {
	for _, c := range nt.PropertyConstraints {
		if c.PropertyType == propertyTypeID {
			return c, true
		}
	}
	return PropertyConstraint{}, false
}

// AllowsProperty reports whether nodes of this type may carry propertyTypeID.
func (nt *NodeType) AllowsProperty(propertyTypeID string) bool {
	_, ok := nt.PropertyConstraint(propertyTypeID)
	return ok
}

// IsSupplied reports whether propertyTypeID is filled from FileInfo.
func (nt *NodeType) IsSupplied(propertyTypeID string) bool {
	_, ok := nt.SuppliedProperties[propertyTypeID]
	return ok
}

// ParentConstraintFor returns the first parent constraint satisfied by a
// parent of type parentType.
func (nt *NodeType) ParentConstraintFor(parentType string, isRoot bool) (NodeConstraint, bool) {
	for _, c := range nt.ParentConstraints {
		if c.Matches(parentType, isRoot) {
			return c, true
		}
	}
	return NodeConstraint{}, false
}

// AllowsSubType reports whether typeID may be attached as a secondary type.
func (nt *NodeType) AllowsSubType(typeID string) bool {
	return slices.Contains(nt.SubTypes, typeID)
}

// NodeTransform declares a rewrite of a node from one type to another,
// optionally restructuring the tree around it.
type NodeTransform struct {
	ID                    string `yaml:"id" json:"id"`
	Label                 string `yaml:"label" json:"label"`
	Description           string `yaml:"description" json:"description,omitempty"`
	SourceType            string `yaml:"source" json:"source"`
	SourceParentType      string `yaml:"source_parent" json:"source_parent,omitempty"`
	SourceGrandparentType string `yaml:"source_grandparent" json:"source_grandparent,omitempty"`
	SourceChildType       string `yaml:"source_child" json:"source_child,omitempty"`
	ResultType            string `yaml:"result" json:"result"`
	ResultParentType      string `yaml:"result_parent" json:"result_parent,omitempty"`
	InsertParent          bool   `yaml:"insert_parent" json:"insert_parent,omitempty"`
	RemoveEmptyParent     bool   `yaml:"remove_empty_parent" json:"remove_empty_parent,omitempty"`
	MoveToGrandparent     bool   `yaml:"move_to_grandparent" json:"move_to_grandparent,omitempty"`
}
