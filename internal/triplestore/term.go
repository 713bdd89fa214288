// Package triplestore provides the statement store behind domain objects
// and serialized trees: an in-memory graph indexed with roaring bitmaps and
// a persistent SQLite-backed store sharing the same interface.
package triplestore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Well-known vocabulary.
const (
	RDFType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

	XSDString   = "http://www.w3.org/2001/XMLSchema#string"
	XSDLong     = "http://www.w3.org/2001/XMLSchema#long"
	XSDInt      = "http://www.w3.org/2001/XMLSchema#int"
	XSDBoolean  = "http://www.w3.org/2001/XMLSchema#boolean"
	XSDDateTime = "http://www.w3.org/2001/XMLSchema#dateTime"
	XSDAnyURI   = "http://www.w3.org/2001/XMLSchema#anyURI"
)

// Kind distinguishes the three kinds of RDF term.
type Kind uint8

const (
	KindIRI Kind = iota + 1
	KindBlank
	KindLiteral
)

// Term is an IRI, a blank node or a typed literal. Terms are comparable and
// may be used as map keys.
type Term struct {
	Kind     Kind
	Value    string
	Datatype string
}

// IRI returns an IRI term.
func IRI(v string) Term { return Term{Kind: KindIRI, Value: v} }

// Blank returns a blank node term with the given label.
func Blank(label string) Term { return Term{Kind: KindBlank, Value: label} }

// Literal returns a literal with an explicit datatype.
func Literal(v, datatype string) Term {
	if datatype == "" {
		datatype = XSDString
	}
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

func String(v string) Term { return Literal(v, XSDString) }
func Long(v int64) Term { return Literal(strconv.FormatInt(v, 10), XSDLong) }
func Int(v int) Term { return Literal(strconv.Itoa(v), XSDInt) }
func Bool(v bool) Term { return Literal(strconv.FormatBool(v), XSDBoolean) }
func AnyURI(v string) Term { return Literal(v, XSDAnyURI) }
// DateTime renders t in RFC 3339 form with its own zone offset.
func DateTime(t time.Time) Term { return Literal(t.Format(time.RFC3339Nano), XSDDateTime) }

// Ptr returns a pointer to a copy of t, for use as a Match pattern.
func (t Term) Ptr() *Term { return &t }

func (t Term) IsIRI() bool { return t.Kind == KindIRI }
func (t Term) IsBlank() bool { return t.Kind == KindBlank }
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// Int64 parses an integer literal.
func (t Term) Int64() (int64, error) {
	return strconv.ParseInt(t.Value, 10, 64)
}

// Bool parses a boolean literal.
func (t Term) Bool() (bool, error) {
	return strconv.ParseBool(t.Value)
}

// Time parses a date-time literal.
func (t Term) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, t.Value)
}

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		lit := `"` + escapeLiteral(t.Value) + `"`
		if t.Datatype != "" && t.Datatype != XSDString {
			lit += "^^<" + t.Datatype + ">"
		}
		return lit
	default:
		return fmt.Sprintf("?%q", t.Value)
	}
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escapeLiteral(s string) string { return literalEscaper.Replace(s) }

// Triple is a single statement.
type Triple struct {
	S, P, O Term
}

// T builds a triple.
func T(s, p, o Term) Triple { return Triple{S: s, P: p, O: o} }

// String renders the triple as one N-Triples line without the newline.
func (t Triple) String() string {
	return t.S.String() + " " + t.P.String() + " " + t.O.String() + " ."
}
