package triplestore

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// Reader answers statement pattern queries. A nil pattern term matches
// anything. Results come back in insertion order.
type Reader interface {
	Match(s, p, o *Term) ([]Triple, error)
	Len() (int, error)
}

// Store is a mutable Reader. Adding a statement that is already present
// is a no-op.
type Store interface {
	Reader
	Add(ts ...Triple) error
	Remove(ts ...Triple) error
	RemoveMatching(s, p, o *Term) (int, error)
}

// Objects lists the objects of every statement (s, p, ?).
func Objects(r Reader, s Term, p string) ([]Term, error) {
	ts, err := r.Match(&s, IRI(p).Ptr(), nil)
	if err != nil {
		return nil, err
	}
	out := make([]Term, len(ts))
	for i, t := range ts {
		out[i] = t.O
	}
	return out, nil
}

// Object returns the first object of (s, p, ?).
func Object(r Reader, s Term, p string) (Term, bool, error) {
	objs, err := Objects(r, s, p)
	if err != nil || len(objs) == 0 {
		return Term{}, false, err
	}
	return objs[0], true, nil
}

// Subjects lists the subjects of every statement (?, p, o), without
// duplicates. An empty p matches any predicate.
func Subjects(r Reader, p string, o *Term) ([]Term, error) {
	var pp *Term
	if p != "" {
		pp = IRI(p).Ptr()
	}
	ts, err := r.Match(nil, pp, o)
	if err != nil {
		return nil, err
	}
	seen := make(map[Term]struct{}, len(ts))
	var out []Term
	for _, t := range ts {
		if _, dup := seen[t.S]; dup {
			continue
		}
		seen[t.S] = struct{}{}
		out = append(out, t.S)
	}
	return out, nil
}

// All returns every statement in r.
func All(r Reader) ([]Triple, error) {
	return r.Match(nil, nil, nil)
}

// CopyInto adds every statement of src to dst.
func CopyInto(dst Store, src Reader) error {
	ts, err := All(src)
	if err != nil {
		return fmt.Errorf("triplestore: copy: %w", err)
	}
	return dst.Add(ts...)
}

// WriteNTriples writes r as N-Triples. Lines are sorted so equal graphs
// produce byte-identical output.
func WriteNTriples(w io.Writer, r Reader) error {
	ts, err := All(r)
	if err != nil {
		return err
	}
	lines := make([]string, len(ts))
	for i, t := range ts {
		lines[i] = t.String()
	}
	slices.Sort(lines)
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	_, err = io.WriteString(w, b.String())
	return err
}
