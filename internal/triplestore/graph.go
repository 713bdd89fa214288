package triplestore

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// Graph is an in-memory Store. Terms are interned to uint32 identifiers
// and each position keeps a term → statement-id bitmap, so a pattern match
// is the intersection of at most three bitmaps.
type Graph struct {
	mu sync.RWMutex

	termIDs map[Term]uint32
	terms   []Term

	stmts  [][3]uint32
	byKey  map[[3]uint32]uint32
	live   *roaring.Bitmap
	bySubj map[uint32]*roaring.Bitmap
	byPred map[uint32]*roaring.Bitmap
	byObj  map[uint32]*roaring.Bitmap
}

var _ Store = (*Graph)(nil)

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		termIDs: make(map[Term]uint32),
		byKey:   make(map[[3]uint32]uint32),
		live:    roaring.New(),
		bySubj:  make(map[uint32]*roaring.Bitmap),
		byPred:  make(map[uint32]*roaring.Bitmap),
		byObj:   make(map[uint32]*roaring.Bitmap),
	}
}

// intern must be called with g.mu held for writing.
func (g *Graph) intern(t Term) uint32 {
	if id, ok := g.termIDs[t]; ok {
		return id
	}
	id := uint32(len(g.terms))
	g.terms = append(g.terms, t)
	g.termIDs[t] = id
	return id
}

func addTo(idx map[uint32]*roaring.Bitmap, term, stmt uint32) {
	bm, ok := idx[term]
	if !ok {
		bm = roaring.New()
		idx[term] = bm
	}
	bm.Add(stmt)
}

// Add inserts statements, skipping ones already present.
func (g *Graph) Add(ts ...Triple) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range ts {
		key := [3]uint32{g.intern(t.S), g.intern(t.P), g.intern(t.O)}
		if _, ok := g.byKey[key]; ok {
			continue
		}
		id := uint32(len(g.stmts))
		g.stmts = append(g.stmts, key)
		g.byKey[key] = id
		g.live.Add(id)
		addTo(g.bySubj, key[0], id)
		addTo(g.byPred, key[1], id)
		addTo(g.byObj, key[2], id)
	}
	return nil
}

// Remove deletes the given statements; absent ones are ignored.
func (g *Graph) Remove(ts ...Triple) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range ts {
		s, ok1 := g.termIDs[t.S]
		p, ok2 := g.termIDs[t.P]
		o, ok3 := g.termIDs[t.O]
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		g.drop([3]uint32{s, p, o})
	}
	return nil
}

// drop must be called with g.mu held for writing.
func (g *Graph) drop(key [3]uint32) {
	id, ok := g.byKey[key]
	if !ok {
		return
	}
	delete(g.byKey, key)
	g.live.Remove(id)
	g.bySubj[key[0]].Remove(id)
	g.byPred[key[1]].Remove(id)
	g.byObj[key[2]].Remove(id)
}

// RemoveMatching deletes every statement matching the pattern and reports
// how many were removed.
func (g *Graph) RemoveMatching(s, p, o *Term) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := g.match(s, p, o)
	for _, id := range ids {
		g.drop(g.stmts[id])
	}
	return len(ids), nil
}

// Match returns the statements matching the pattern in insertion order.
func (g *Graph) Match(s, p, o *Term) ([]Triple, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.match(s, p, o)
	out := make([]Triple, len(ids))
	for i, id := range ids {
		key := g.stmts[id]
		out[i] = Triple{S: g.terms[key[0]], P: g.terms[key[1]], O: g.terms[key[2]]}
	}
	return out, nil
}

// match must be called with g.mu held.
func (g *Graph) match(s, p, o *Term) []uint32 {
	result := g.live.Clone()
	for _, pat := range []struct {
		term *Term
		idx  map[uint32]*roaring.Bitmap
	}{{s, g.bySubj}, {p, g.byPred}, {o, g.byObj}} {
		if pat.term == nil {
			continue
		}
		id, ok := g.termIDs[*pat.term]
		if !ok {
			return nil
		}
		bm, ok := pat.idx[id]
		if !ok {
			return nil
		}
		result.And(bm)
	}
	return result.ToArray()
}

// Len returns the number of statements.
func (g *Graph) Len() (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return int(g.live.GetCardinality()), nil
}

// Size is Len without the error, for in-memory callers.
func (g *Graph) Size() int {
	n, _ := g.Len()
	return n
}

// Clone returns an independent copy of the graph.
func (g *Graph) Clone() *Graph {
	out := NewGraph()
	ts, _ := g.Match(nil, nil, nil)
	_ = out.Add(ts...)
	return out
}
