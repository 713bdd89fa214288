// Package objectstore projects typed nodes into domain-object statements
// and reads property values back. It is the only package that touches the
// triple store holding domain objects.
package objectstore

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
	ts "github.com/DataConservancy/dcs-packaging-tool-sub000/internal/triplestore"
)

type binding struct {
	file   *ipm.FileInfo
	typeID string
}

// Store materialises domain objects. Writes are not synchronised; callers
// serialise them per package.
type Store struct {
	graph    ts.Store
	profiles *profile.Store
	bindings map[string]binding
	// relation predicates from every loaded profile
	relations map[string]struct{}
	// has-parent predicate → its has-child inverse
	inverse map[string]string
	// property type by predicate
	byPredicate map[string]*profile.PropertyType
}

// New returns an object store writing into graph.
func New(graph ts.Store, profiles *profile.Store) *Store {
	s := &Store{
		graph:       graph,
		profiles:    profiles,
		bindings:    make(map[string]binding),
		relations:   make(map[string]struct{}),
		inverse:     make(map[string]string),
		byPredicate: make(map[string]*profile.PropertyType),
	}
	for _, p := range profiles.DomainProfiles() {
		for _, rel := range p.Relations {
			s.relations[rel.HasParent] = struct{}{}
			s.relations[rel.HasChild] = struct{}{}
			s.inverse[rel.HasParent] = rel.HasChild
		}
		for _, pt := range p.PropertyTypes {
			s.byPredicate[pt.Predicate] = pt
		}
	}
	return s
}

// Graph exposes the backing statements for persistence.
func (s *Store) Graph() ts.Store { return s.graph }

// HasObject reports whether any statement has objectID as its subject.
func (s *Store) HasObject(objectID string) bool {
	found, err := s.graph.Match(ts.IRI(objectID).Ptr(), nil, nil)
	return err == nil && len(found) > 0
}

// Bind associates objectID with the node's FileInfo and type so supplied
// properties can be computed on read. UpdateObject binds implicitly.
func (s *Store) Bind(n *ipm.Node) {
	if n.DomainObject == "" {
		return
	}
	s.bindings[n.DomainObject] = binding{file: n.File, typeID: n.Type}
}

// Rebind binds every node of the tree that carries a domain object.
func (s *Store) Rebind(t *ipm.Tree) {
	clear(s.bindings)
	for _, n := range t.Nodes() {
		s.Bind(n)
	}
}

// UpdateObject asserts the node's domain object: one rdf:type per domain
// type of its type and sub types, default values for properties not yet
// set, supplied values from FileInfo, and the structural relation to its
// parent object in both directions. A node without an object gets one.
func (s *Store) UpdateObject(t *ipm.Tree, n *ipm.Node) error {
	if n.Type == "" {
		return apperr.New(apperr.ErrContractViolation, "objectstore: update", "node %s is untyped", n.ID)
	}
	nt, err := s.profiles.NodeType(n.Type)
	if err != nil {
		return err
	}
	if n.DomainObject == "" {
		n.DomainObject = "urn:uuid:" + uuid.NewString()
	}
	obj := ts.IRI(n.DomainObject)
	s.Bind(n)

	if _, err := s.graph.RemoveMatching(&obj, ts.IRI(ts.RDFType).Ptr(), nil); err != nil {
		return fmt.Errorf("objectstore: update: %w", err)
	}
	var add []ts.Triple
	types := []*profile.NodeType{nt}
	for _, sub := range n.SubTypes {
		st, err := s.profiles.NodeType(sub)
		if err != nil {
			return err
		}
		types = append(types, st)
	}
	for _, typ := range types {
		for _, dt := range typ.DomainTypes {
			add = append(add, ts.T(obj, ts.IRI(ts.RDFType), ts.IRI(dt)))
		}
	}

	for _, dv := range nt.DefaultPropertyValues {
		existing, err := s.stored(n.DomainObject, dv.Type)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		triples, err := s.encode(obj, dv)
		if err != nil {
			return err
		}
		add = append(add, triples...)
	}

	for ptID := range nt.SuppliedProperties {
		if err := s.clearProperty(n.DomainObject, ptID); err != nil {
			return err
		}
		for _, v := range supplied(nt, ptID, n.File) {
			triples, err := s.encode(obj, v)
			if err != nil {
				return err
			}
			add = append(add, triples...)
		}
	}

	if err := s.unlinkParent(obj); err != nil {
		return err
	}
	if parent := t.Parent(n); parent != nil && parent.DomainObject != "" && parent.Type != "" {
		if c, ok := nt.ParentConstraintFor(parent.Type, false); ok && c.StructuralRelation != nil {
			pobj := ts.IRI(parent.DomainObject)
			add = append(add,
				ts.T(obj, ts.IRI(c.StructuralRelation.HasParent), pobj),
				ts.T(pobj, ts.IRI(c.StructuralRelation.HasChild), obj),
			)
		}
	}
	return s.graph.Add(add...)
}

// unlinkParent drops the statements tying obj to its current parent.
func (s *Store) unlinkParent(obj ts.Term) error {
	for hasParent, hasChild := range s.inverse {
		parents, err := ts.Objects(s.graph, obj, hasParent)
		if err != nil {
			return err
		}
		for _, p := range parents {
			if err := s.graph.Remove(
				ts.T(obj, ts.IRI(hasParent), p),
				ts.T(p, ts.IRI(hasChild), obj),
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// Properties returns the values of propertyTypeID on the object. Values
// the bound node type supplies are computed from the live FileInfo.
func (s *Store) Properties(objectID, propertyTypeID string) ([]profile.PropertyValue, error) {
	if b, ok := s.bindings[objectID]; ok && b.typeID != "" {
		if nt, err := s.profiles.NodeType(b.typeID); err == nil && nt.IsSupplied(propertyTypeID) {
			return supplied(nt, propertyTypeID, b.file), nil
		}
	}
	return s.stored(objectID, propertyTypeID)
}

func (s *Store) stored(objectID, propertyTypeID string) ([]profile.PropertyValue, error) {
	pt, ok := s.profiles.PropertyType(propertyTypeID)
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "objectstore: properties", "property type %s", propertyTypeID)
	}
	return s.decode(ts.IRI(objectID), pt)
}

// AllProperties returns every stored or supplied value on the object keyed
// by property type.
func (s *Store) AllProperties(objectID string) (map[string][]profile.PropertyValue, error) {
	out := make(map[string][]profile.PropertyValue)
	triples, err := s.graph.Match(ts.IRI(objectID).Ptr(), nil, nil)
	if err != nil {
		return nil, err
	}
	for _, t := range triples {
		pt, ok := s.byPredicate[t.P.Value]
		if !ok {
			continue
		}
		if _, done := out[pt.ID]; done {
			continue
		}
		vs, err := s.Properties(objectID, pt.ID)
		if err != nil {
			return nil, err
		}
		out[pt.ID] = vs
	}
	return out, nil
}

// AddProperty appends one value.
func (s *Store) AddProperty(objectID string, v profile.PropertyValue) error {
	triples, err := s.encode(ts.IRI(objectID), v)
	if err != nil {
		return err
	}
	return s.graph.Add(triples...)
}

// SetProperties replaces every value of propertyTypeID with vs.
func (s *Store) SetProperties(objectID, propertyTypeID string, vs []profile.PropertyValue) error {
	if err := s.clearProperty(objectID, propertyTypeID); err != nil {
		return err
	}
	for _, v := range vs {
		if v.Type != propertyTypeID {
			return apperr.New(apperr.ErrContractViolation, "objectstore: set", "value of %s given for %s", v.Type, propertyTypeID)
		}
		if err := s.AddProperty(objectID, v); err != nil {
			return err
		}
	}
	return nil
}

// RemoveProperties drops every value of propertyTypeID.
func (s *Store) RemoveProperties(objectID, propertyTypeID string) error {
	return s.clearProperty(objectID, propertyTypeID)
}

func (s *Store) clearProperty(objectID, propertyTypeID string) error {
	pt, ok := s.profiles.PropertyType(propertyTypeID)
	if !ok {
		return apperr.New(apperr.ErrNotFound, "objectstore: remove", "property type %s", propertyTypeID)
	}
	obj := ts.IRI(objectID)
	vals, err := ts.Objects(s.graph, obj, pt.Predicate)
	if err != nil {
		return err
	}
	for _, v := range vals {
		if v.IsBlank() {
			if err := s.dropBlank(v); err != nil {
				return err
			}
		}
	}
	_, err = s.graph.RemoveMatching(&obj, ts.IRI(pt.Predicate).Ptr(), nil)
	return err
}

func (s *Store) dropBlank(b ts.Term) error {
	inner, err := s.graph.Match(&b, nil, nil)
	if err != nil {
		return err
	}
	for _, t := range inner {
		if t.O.IsBlank() {
			if err := s.dropBlank(t.O); err != nil {
				return err
			}
		}
	}
	_, err = s.graph.RemoveMatching(&b, nil, nil)
	return err
}

// RemoveObject deletes every statement about or pointing at the object.
func (s *Store) RemoveObject(objectID string) error {
	obj := ts.IRI(objectID)
	out, err := s.graph.Match(&obj, nil, nil)
	if err != nil {
		return err
	}
	for _, t := range out {
		if t.O.IsBlank() {
			if err := s.dropBlank(t.O); err != nil {
				return err
			}
		}
	}
	if _, err := s.graph.RemoveMatching(&obj, nil, nil); err != nil {
		return err
	}
	if _, err := s.graph.RemoveMatching(nil, nil, &obj); err != nil {
		return err
	}
	delete(s.bindings, objectID)
	return nil
}

// Relationships returns the structural relation statements whose subject
// is the object.
func (s *Store) Relationships(objectID string) ([]ts.Triple, error) {
	all, err := s.graph.Match(ts.IRI(objectID).Ptr(), nil, nil)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(t ts.Triple) bool {
		_, ok := s.relations[t.P.Value]
		return !ok
	}), nil
}

// TransferRelationships re-points every structural relation statement from
// one object to another, in both directions.
func (s *Store) TransferRelationships(from, to string) error {
	src, dst := ts.IRI(from), ts.IRI(to)
	var drop, add []ts.Triple
	for pred := range s.relations {
		p := ts.IRI(pred)
		out, err := s.graph.Match(&src, &p, nil)
		if err != nil {
			return err
		}
		for _, t := range out {
			drop = append(drop, t)
			add = append(add, ts.T(dst, p, t.O))
		}
		in, err := s.graph.Match(nil, &p, &src)
		if err != nil {
			return err
		}
		for _, t := range in {
			drop = append(drop, t)
			add = append(add, ts.T(t.S, p, dst))
		}
	}
	if err := s.graph.Remove(drop...); err != nil {
		return err
	}
	return s.graph.Add(add...)
}
