package profile

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"
)

// PropertyValue is a concrete value of a property type: a lexical scalar
// or, for complex types, an ordered set of sub-property values.
type PropertyValue struct {
	Type    string          `yaml:"property_type" json:"type"`
	Value   string          `yaml:"value,omitempty" json:"value,omitempty"`
	Complex []PropertyValue `yaml:"complex,omitempty" json:"complex,omitempty"`
}

// String builds a scalar value.
func String(typeID, v string) PropertyValue {
	return PropertyValue{Type: typeID, Value: v}
}

// Long builds an integer value.
func Long(typeID string, v int64) PropertyValue {
	return PropertyValue{Type: typeID, Value: strconv.FormatInt(v, 10)}
}

// DateTime builds a timestamp value in RFC 3339 form.
func DateTime(typeID string, v time.Time) PropertyValue {
	return PropertyValue{Type: typeID, Value: v.UTC().Format(time.RFC3339Nano)}
}

// Complex builds a value composed of sub-property values.
func Complex(typeID string, parts ...PropertyValue) PropertyValue {
	return PropertyValue{Type: typeID, Complex: parts}
}

// IsComplex reports whether v carries sub-property values.
func (v PropertyValue) IsComplex() bool { return len(v.Complex) > 0 }

// Int64 parses a long value.
func (v PropertyValue) Int64() (int64, error) {
	return strconv.ParseInt(v.Value, 10, 64)
}

// Time parses a date-time value.
func (v PropertyValue) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v.Value)
}

// Equal compares values structurally; complex parts are order-insensitive.
func (v PropertyValue) Equal(o PropertyValue) bool {
	if v.Type != o.Type || v.Value != o.Value || len(v.Complex) != len(o.Complex) {
		return false
	}
	used := make([]bool, len(o.Complex))
	for _, a := range v.Complex {
		found := false
		for i, b := range o.Complex {
			if !used[i] && a.Equal(b) {
				used[i] = true
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

// Parts returns the sub-values of type typeID.
func (v PropertyValue) Parts(typeID string) []PropertyValue {
	var out []PropertyValue
	for _, p := range v.Complex {
		if p.Type == typeID {
			out = append(out, p)
		}
	}
	return out
}

// CheckLexical verifies that a scalar value parses as the property type's
// value kind.
func (pt *PropertyType) CheckLexical(v PropertyValue) error {
	switch pt.ValueType {
	case LongValue:
		if _, err := v.Int64(); err != nil {
			return fmt.Errorf("profile: %s: %q is not a long", pt.ID, v.Value)
		}
	case DateTimeValue:
		if _, err := v.Time(); err != nil {
			return fmt.Errorf("profile: %s: %q is not a date-time", pt.ID, v.Value)
		}
	case URIValue:
		u, err := url.Parse(v.Value)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("profile: %s: %q is not an absolute URI", pt.ID, v.Value)
		}
	case ComplexValue:
		if !v.IsComplex() {
			return fmt.Errorf("profile: %s: complex value has no parts", pt.ID)
		}
	}
	return nil
}

// ContainsValue reports whether vs holds a value equal to v.
func ContainsValue(vs []PropertyValue, v PropertyValue) bool {
	return slices.ContainsFunc(vs, v.Equal)
}
