package objectstore

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
	ts "github.com/DataConservancy/dcs-packaging-tool-sub000/internal/triplestore"
)

// encode turns one value into statements about subject. Complex values
// hang their parts off a fresh blank node.
func (s *Store) encode(subject ts.Term, v profile.PropertyValue) ([]ts.Triple, error) {
	pt, ok := s.profiles.PropertyType(v.Type)
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "objectstore: encode", "property type %s", v.Type)
	}
	if err := pt.CheckLexical(v); err != nil {
		return nil, fmt.Errorf("objectstore: encode: %w", err)
	}
	pred := ts.IRI(pt.Predicate)
	if pt.IsComplex() {
		b := ts.Blank(uuid.NewString())
		out := []ts.Triple{ts.T(subject, pred, b)}
		for _, part := range v.Complex {
			inner, err := s.encode(b, part)
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
		}
		return out, nil
	}
	return []ts.Triple{ts.T(subject, pred, scalarTerm(pt, v.Value))}, nil
}

func scalarTerm(pt *profile.PropertyType, v string) ts.Term {
	switch pt.ValueType {
	case profile.LongValue:
		return ts.Literal(v, ts.XSDLong)
	case profile.DateTimeValue:
		return ts.Literal(v, ts.XSDDateTime)
	case profile.URIValue:
		return ts.IRI(v)
	default:
		return ts.String(v)
	}
}

// decode reads every value of pt on subject, rebuilding complex values
// from their blank node parts.
func (s *Store) decode(subject ts.Term, pt *profile.PropertyType) ([]profile.PropertyValue, error) {
	objs, err := ts.Objects(s.graph, subject, pt.Predicate)
	if err != nil {
		return nil, err
	}
	out := make([]profile.PropertyValue, 0, len(objs))
	for _, o := range objs {
		if !pt.IsComplex() {
			out = append(out, profile.PropertyValue{Type: pt.ID, Value: o.Value})
			continue
		}
		if !o.IsBlank() {
			continue
		}
		v := profile.PropertyValue{Type: pt.ID}
		for _, c := range pt.SubConstraints {
			sub, ok := s.profiles.PropertyType(c.PropertyType)
			if !ok {
				continue
			}
			parts, err := s.decode(o, sub)
			if err != nil {
				return nil, err
			}
			v.Complex = append(v.Complex, parts...)
		}
		out = append(out, v)
	}
	return out, nil
}

// supplied computes the values a node type derives from FileInfo.
func supplied(nt *profile.NodeType, propertyTypeID string, fi *ipm.FileInfo) []profile.PropertyValue {
	if fi == nil {
		return nil
	}
	switch nt.SuppliedProperties[propertyTypeID] {
	case profile.SuppliedName:
		return []profile.PropertyValue{profile.String(propertyTypeID, fi.Name)}
	case profile.SuppliedSize:
		if fi.Size < 0 {
			return nil
		}
		return []profile.PropertyValue{profile.Long(propertyTypeID, fi.Size)}
	case profile.SuppliedCreated:
		if fi.Created.IsZero() {
			return nil
		}
		return []profile.PropertyValue{profile.DateTime(propertyTypeID, fi.Created)}
	case profile.SuppliedModified:
		if fi.Modified.IsZero() {
			return nil
		}
		return []profile.PropertyValue{profile.DateTime(propertyTypeID, fi.Modified)}
	case profile.SuppliedFormat:
		out := make([]profile.PropertyValue, len(fi.Formats))
		for i, f := range fi.Formats {
			out[i] = profile.String(propertyTypeID, f)
		}
		return out
	case profile.SuppliedLocation:
		return []profile.PropertyValue{profile.String(propertyTypeID, fi.Location)}
	default:
		return nil
	}
}
