package profile

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
)

//go:embed profiles/*.yaml
var builtinFS embed.FS

// FarmProfileID identifies the built-in farm profile.
const FarmProfileID = "http://example.org/profiles/farm"

// Catalog is the read side of a profile store consumed by the services.
type Catalog interface {
	NodeType(id string) (*NodeType, error)
	DomainProfiles() []*DomainProfile
}

// Store indexes a fixed set of profiles. It is immutable after NewStore
// and safe for concurrent reads.
type Store struct {
	profiles      []*DomainProfile
	byID          map[string]*DomainProfile
	nodeTypes     map[string]*NodeType
	propertyTypes map[string]*PropertyType
	owner         map[string]*DomainProfile
}

// NewStore validates the profiles, resolves their cross references and
// indexes them. Identifiers must be unique across all profiles.
func NewStore(profiles ...*DomainProfile) (*Store, error) {
	s := &Store{
		byID:          make(map[string]*DomainProfile),
		nodeTypes:     make(map[string]*NodeType),
		propertyTypes: make(map[string]*PropertyType),
		owner:         make(map[string]*DomainProfile),
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, apperr.Wrap(apperr.ErrInvalidProfile, "profile: "+p.ID, err)
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, apperr.New(apperr.ErrInvalidProfile, "profile", "duplicate profile %s", p.ID)
		}
		s.byID[p.ID] = p
		s.profiles = append(s.profiles, p)
		for _, pt := range p.PropertyTypes {
			if _, dup := s.propertyTypes[pt.ID]; dup {
				return nil, apperr.New(apperr.ErrInvalidProfile, "profile", "duplicate property type %s", pt.ID)
			}
			s.propertyTypes[pt.ID] = pt
		}
		for _, nt := range p.NodeTypes {
			if _, dup := s.nodeTypes[nt.ID]; dup {
				return nil, apperr.New(apperr.ErrInvalidProfile, "profile", "duplicate node type %s", nt.ID)
			}
			s.nodeTypes[nt.ID] = nt
			s.owner[nt.ID] = p
		}
	}
	for _, p := range s.profiles {
		if err := s.resolve(p); err != nil {
			return nil, apperr.Wrap(apperr.ErrInvalidProfile, "profile: "+p.ID, err)
		}
	}
	return s, nil
}

func (s *Store) resolve(p *DomainProfile) error {
	checkProp := func(id string) error {
		if _, ok := s.propertyTypes[id]; !ok {
			return fmt.Errorf("unknown property type %s", id)
		}
		return nil
	}
	checkType := func(id string) error {
		if id == "" {
			return nil
		}
		if _, ok := s.nodeTypes[id]; !ok {
			return fmt.Errorf("unknown node type %s", id)
		}
		return nil
	}
	for _, pt := range p.PropertyTypes {
		for _, c := range pt.SubConstraints {
			if err := checkProp(c.PropertyType); err != nil {
				return fmt.Errorf("property type %s: %w", pt.ID, err)
			}
		}
	}
	for _, nt := range p.NodeTypes {
		for _, c := range nt.PropertyConstraints {
			if err := checkProp(c.PropertyType); err != nil {
				return fmt.Errorf("node type %s: %w", nt.ID, err)
			}
		}
		for i, c := range nt.ParentConstraints {
			if err := checkType(c.NodeType); err != nil {
				return fmt.Errorf("node type %s: %w", nt.ID, err)
			}
			if c.Relation == "" {
				continue
			}
			rel, ok := p.Relations[c.Relation]
			if !ok {
				return fmt.Errorf("node type %s: unknown relation %s", nt.ID, c.Relation)
			}
			nt.ParentConstraints[i].StructuralRelation = &rel
		}
		for _, c := range nt.ChildConstraints {
			for _, id := range c.NodeTypes {
				if err := checkType(id); err != nil {
					return fmt.Errorf("node type %s: %w", nt.ID, err)
				}
			}
		}
		for _, id := range nt.SubTypes {
			if err := checkType(id); err != nil {
				return fmt.Errorf("node type %s: sub type: %w", nt.ID, err)
			}
		}
		for _, v := range nt.DefaultPropertyValues {
			if !nt.AllowsProperty(v.Type) {
				return fmt.Errorf("node type %s: default for unconstrained property %s", nt.ID, v.Type)
			}
			if err := s.propertyTypes[v.Type].CheckLexical(v); err != nil {
				return fmt.Errorf("node type %s: %w", nt.ID, err)
			}
		}
		for id := range nt.SuppliedProperties {
			if !nt.AllowsProperty(id) {
				return fmt.Errorf("node type %s: supplied property %s is not constrained", nt.ID, id)
			}
		}
		for _, id := range nt.InheritableProperties {
			if err := checkProp(id); err != nil {
				return fmt.Errorf("node type %s: inheritable: %w", nt.ID, err)
			}
		}
	}
	for _, tr := range p.NodeTransforms {
		for _, id := range []string{tr.SourceType, tr.SourceParentType, tr.SourceGrandparentType,
			tr.SourceChildType, tr.ResultType, tr.ResultParentType} {
			if err := checkType(id); err != nil {
				return fmt.Errorf("transform %s: %w", tr.ID, err)
			}
		}
	}
	return nil
}

// NodeType returns the node type with the given identifier from any loaded
// profile, or ErrUnknownNodeType.
func (s *Store) NodeType(id string) (*NodeType, error) {
	nt, ok := s.nodeTypes[id]
	if !ok {
		return nil, apperr.New(apperr.ErrUnknownNodeType, "profile", "%s", id)
	}
	return nt, nil
}

// PropertyType returns the property type with the given identifier.
func (s *Store) PropertyType(id string) (*PropertyType, bool) {
	pt, ok := s.propertyTypes[id]
	return pt, ok
}

// DomainProfiles returns the loaded profiles in load order.
func (s *Store) DomainProfiles() []*DomainProfile {
	return append([]*DomainProfile(nil), s.profiles...)
}

// Profile returns the profile with the given identifier.
func (s *Store) Profile(id string) (*DomainProfile, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// ProfileOf returns the profile declaring node type id.
func (s *Store) ProfileOf(typeID string) *DomainProfile {
	return s.owner[typeID]
}

// Parse decodes one YAML profile document and expands identifiers
// relative to its namespace.
func Parse(data []byte) (*DomainProfile, error) {
	var p DomainProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidProfile, "profile: parse", err)
	}
	p.expand()
	return &p, nil
}

// LoadFiles parses every named profile file.
func LoadFiles(paths ...string) ([]*DomainProfile, error) {
	out := make([]*DomainProfile, 0, len(paths))
	for _, name := range paths {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("profile: read %s: %w", name, err)
		}
		p, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Builtin returns the profiles shipped with the binary.
func Builtin() ([]*DomainProfile, error) {
	entries, err := fs.ReadDir(builtinFS, "profiles")
	if err != nil {
		return nil, err
	}
	var out []*DomainProfile
	for _, e := range entries {
		data, err := builtinFS.ReadFile(path.Join("profiles", e.Name()))
		if err != nil {
			return nil, err
		}
		p, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", e.Name(), err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Open builds a store from the built-in profiles plus the named files.
func Open(paths ...string) (*Store, error) {
	builtin, err := Builtin()
	if err != nil {
		return nil, err
	}
	extra, err := LoadFiles(paths...)
	if err != nil {
		return nil, err
	}
	return NewStore(append(builtin, extra...)...)
}

// expand rewrites relative identifiers (those without a scheme) into
// absolute IRIs under the profile namespace.
func (p *DomainProfile) expand() {
	if p.Namespace == "" {
		return
	}
	x := func(id string) string {
		if id == "" || strings.Contains(id, ":") {
			return id
		}
		return p.Namespace + id
	}
	xs := func(ids []string) {
		for i := range ids {
			ids[i] = x(ids[i])
		}
	}
	xc := func(cs []PropertyConstraint) {
		for i := range cs {
			cs[i].PropertyType = x(cs[i].PropertyType)
		}
	}
	var xv func(vs []PropertyValue)
	xv = func(vs []PropertyValue) {
		for i := range vs {
			vs[i].Type = x(vs[i].Type)
			xv(vs[i].Complex)
		}
	}

	for key, rel := range p.Relations {
		p.Relations[key] = StructuralRelation{HasParent: x(rel.HasParent), HasChild: x(rel.HasChild)}
	}
	for i := range p.PropertyCategories {
		p.PropertyCategories[i].ID = x(p.PropertyCategories[i].ID)
		xs(p.PropertyCategories[i].PropertyTypes)
	}
	for _, pt := range p.PropertyTypes {
		pt.ID = x(pt.ID)
		pt.Predicate = x(pt.Predicate)
		pt.Category = x(pt.Category)
		xc(pt.SubConstraints)
	}
	for _, nt := range p.NodeTypes {
		nt.ID = x(nt.ID)
		xs(nt.DomainTypes)
		xc(nt.PropertyConstraints)
		xv(nt.DefaultPropertyValues)
		for i := range nt.ParentConstraints {
			nt.ParentConstraints[i].NodeType = x(nt.ParentConstraints[i].NodeType)
		}
		for i := range nt.ChildConstraints {
			xs(nt.ChildConstraints[i].NodeTypes)
		}
		if len(nt.SuppliedProperties) > 0 {
			supplied := make(map[string]SuppliedProperty, len(nt.SuppliedProperties))
			for k, v := range nt.SuppliedProperties {
				supplied[x(k)] = v
			}
			nt.SuppliedProperties = supplied
		}
		xs(nt.InheritableProperties)
		xs(nt.SubTypes)
	}
	for _, tr := range p.NodeTransforms {
		tr.ID = x(tr.ID)
		tr.SourceType = x(tr.SourceType)
		tr.SourceParentType = x(tr.SourceParentType)
		tr.SourceGrandparentType = x(tr.SourceGrandparentType)
		tr.SourceChildType = x(tr.SourceChildType)
		tr.ResultType = x(tr.ResultType)
		tr.ResultParentType = x(tr.ResultParentType)
	}
}
