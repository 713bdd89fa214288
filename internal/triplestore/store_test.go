package triplestore

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ex = "http://example.org/"

func sampleTriples() []Triple {
	a, b := IRI(ex+"a"), IRI(ex+"b")
	return []Triple{
		T(a, IRI(RDFType), IRI(ex+"Thing")),
		T(a, IRI(ex+"name"), String("alpha")),
		T(a, IRI(ex+"size"), Long(42)),
		T(b, IRI(RDFType), IRI(ex+"Thing")),
		T(b, IRI(ex+"link"), a),
	}
}

// exerciseStore runs the same behavioural checks against any Store.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	require.NoError(t, s.Add(sampleTriples()...))
	require.NoError(t, s.Add(sampleTriples()[0]))
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 5, n, "duplicates are ignored")

	things, err := Subjects(s, RDFType, IRI(ex+"Thing").Ptr())
	require.NoError(t, err)
	assert.Equal(t, []Term{IRI(ex + "a"), IRI(ex + "b")}, things)

	size, ok, err := Object(s, IRI(ex+"a"), ex+"size")
	require.NoError(t, err)
	require.True(t, ok)
	v, err := size.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, ok, err = Object(s, IRI(ex+"a"), ex+"missing")
	require.NoError(t, err)
	assert.False(t, ok)

	incoming, err := Subjects(s, "", IRI(ex+"a").Ptr())
	require.NoError(t, err)
	assert.Equal(t, []Term{IRI(ex + "b")}, incoming)

	require.NoError(t, s.Remove(T(IRI(ex+"a"), IRI(ex+"name"), String("alpha"))))
	removed, err := s.RemoveMatching(IRI(ex+"b").Ptr(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	all, err := All(s)
	require.NoError(t, err)
	assert.Equal(t, []Triple{
		T(IRI(ex+"a"), IRI(RDFType), IRI(ex+"Thing")),
		T(IRI(ex+"a"), IRI(ex+"size"), Long(42)),
	}, all)

	// Re-adding a removed statement makes it visible again.
	require.NoError(t, s.Add(T(IRI(ex+"a"), IRI(ex+"name"), String("alpha"))))
	n, err = s.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGraph(t *testing.T) {
	exerciseStore(t, NewGraph())
}

func TestSQLiteStore(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()
	exerciseStore(t, db)
}

func TestSQLiteStore_ReplaceAndMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)

	g := NewGraph()
	require.NoError(t, g.Add(sampleTriples()...))
	require.NoError(t, db.Add(T(IRI(ex+"stale"), IRI(ex+"p"), Bool(true))))
	require.NoError(t, db.Replace(g))
	require.NoError(t, db.SetMeta("profile", "urn:p"))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	back := NewGraph()
	require.NoError(t, CopyInto(back, db))
	var want, got bytes.Buffer
	require.NoError(t, WriteNTriples(&want, g))
	require.NoError(t, WriteNTriples(&got, back))
	assert.Equal(t, want.String(), got.String())

	v, err := db.Meta("profile")
	require.NoError(t, err)
	assert.Equal(t, "urn:p", v)
	v, err = db.Meta("absent")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestGraph_MatchUnknownTerm(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(sampleTriples()...))
	ts, err := g.Match(IRI(ex+"nobody").Ptr(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, ts)

	ts, err = g.Match(nil, IRI(RDFType).Ptr(), IRI(ex+"Thing").Ptr())
	require.NoError(t, err)
	assert.Len(t, ts, 2)
}

func TestGraph_CloneIsIndependent(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(sampleTriples()...))
	cp := g.Clone()
	_, err := cp.RemoveMatching(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, cp.Size())
	assert.Equal(t, 5, g.Size())
}

func TestWriteNTriples(t *testing.T) {
	g := NewGraph()
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, g.Add(
		T(IRI(ex+"b"), IRI(ex+"note"), String("say \"hi\"\nbye")),
		T(IRI(ex+"a"), IRI(ex+"at"), DateTime(when)),
		T(Blank("x"), IRI(ex+"ok"), Bool(true)),
	))
	var buf bytes.Buffer
	require.NoError(t, WriteNTriples(&buf, g))
	assert.Equal(t,
		`<http://example.org/a> <http://example.org/at> "2024-03-01T12:00:00Z"^^<http://www.w3.org/2001/XMLSchema#dateTime> .`+"\n"+
			`<http://example.org/b> <http://example.org/note> "say \"hi\"\nbye" .`+"\n"+
			`_:x <http://example.org/ok> "true"^^<http://www.w3.org/2001/XMLSchema#boolean> .`+"\n",
		buf.String())
}
