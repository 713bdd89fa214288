// Package ipmgraph converts IPM trees to and from triple graphs. Both
// directions are pure functions: the graph carries node identity, type
// references, the ignored flag, an explicit root marker, ordered child
// links and the full file information of every node.
package ipmgraph

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
	ts "github.com/DataConservancy/dcs-packaging-tool-sub000/internal/triplestore"
)

// TreeToGraph serialises every node of t into a new graph.
func TreeToGraph(t *ipm.Tree) *ts.Graph {
	g := ts.NewGraph()
	_ = AppendTree(g, t)
	return g
}

// AppendTree adds the statements describing t to dst.
func AppendTree(dst ts.Store, t *ipm.Tree) error {
	var out []ts.Triple
	_ = t.Walk(func(n *ipm.Node) error {
		out = append(out, nodeTriples(t, n)...)
		return nil
	})
	if err := dst.Add(out...); err != nil {
		return fmt.Errorf("ipmgraph: write tree: %w", err)
	}
	return nil
}

func nodeTriples(t *ipm.Tree, n *ipm.Node) []ts.Triple {
	s := ts.IRI(n.ID)
	out := []ts.Triple{
		ts.T(s, ts.IRI(ts.RDFType), ts.IRI(ClassNode)),
		ts.T(s, ts.IRI(IsIgnored), ts.Bool(n.Ignored)),
	}
	if n.IsRoot() {
		out = append(out, ts.T(s, ts.IRI(IsRoot), ts.Bool(true)))
	} else {
		out = append(out,
			ts.T(s, ts.IRI(HasParent), ts.IRI(n.Parent)),
			ts.T(s, ts.IRI(Position), ts.Int(t.IndexOf(n.ID))),
		)
	}
	for _, c := range n.Children {
		out = append(out, ts.T(s, ts.IRI(HasChild), ts.IRI(c)))
	}
	if n.Type != "" {
		out = append(out, ts.T(s, ts.IRI(NodeType), ts.IRI(n.Type)))
	}
	for _, st := range n.SubTypes {
		out = append(out, ts.T(s, ts.IRI(SubNodeType), ts.IRI(st)))
	}
	if n.DomainObject != "" {
		out = append(out, ts.T(s, ts.IRI(DomainObject), ts.IRI(n.DomainObject)))
	}
	if n.File != nil {
		out = append(out, fileTriples(s, n.ID, n.File)...)
	}
	return out
}

// label derives a stable blank node label so equal trees serialise to
// equal graphs.
func label(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "b" + hex.EncodeToString(h.Sum(nil))[:32]
}

func fileTriples(node ts.Term, id string, fi *ipm.FileInfo) []ts.Triple {
	b := ts.Blank(label("file", id))
	out := []ts.Triple{
		ts.T(node, ts.IRI(HasFileInfo), b),
		ts.T(b, ts.IRI(Location), ts.AnyURI(fi.Location)),
		ts.T(b, ts.IRI(Name), ts.String(fi.Name)),
		ts.T(b, ts.IRI(Size), ts.Long(fi.Size)),
		ts.T(b, ts.IRI(IsFile), ts.Bool(fi.IsFile)),
		ts.T(b, ts.IRI(IsDirectory), ts.Bool(fi.IsDirectory)),
	}
	if !fi.Created.IsZero() {
		out = append(out, ts.T(b, ts.IRI(Created), ts.DateTime(fi.Created)))
	}
	if !fi.Modified.IsZero() {
		out = append(out, ts.T(b, ts.IRI(Modified), ts.DateTime(fi.Modified)))
	}
	algs := make([]string, 0, len(fi.Checksums))
	for alg := range fi.Checksums {
		algs = append(algs, alg)
	}
	slices.Sort(algs)
	for _, alg := range algs {
		c := ts.Blank(label("checksum", id, alg))
		out = append(out,
			ts.T(b, ts.IRI(HasChecksum), c),
			ts.T(c, ts.IRI(Algorithm), ts.String(alg)),
			ts.T(c, ts.IRI(Value), ts.String(fi.Checksums[alg])),
		)
	}
	for _, f := range slices.Compact(slices.Sorted(slices.Values(fi.Formats))) {
		out = append(out, ts.T(b, ts.IRI(Format), ts.String(f)))
	}
	return out
}

type decoded struct {
	node     *ipm.Node
	parent   string
	position int
}

// GraphToTree rebuilds the tree serialised in g. Every type reference must
// resolve in catalog; an unresolved one fails the whole conversion with
// ErrUnknownNodeType and no tree is returned.
func GraphToTree(g ts.Reader, catalog profile.Catalog) (*ipm.Tree, error) {
	subjects, err := ts.Subjects(g, ts.RDFType, ts.IRI(ClassNode).Ptr())
	if err != nil {
		return nil, fmt.Errorf("ipmgraph: list nodes: %w", err)
	}
	if len(subjects) == 0 {
		return nil, apperr.New(apperr.ErrNotFound, "ipmgraph", "graph holds no nodes")
	}

	nodes := make(map[string]*decoded, len(subjects))
	var roots []string
	for _, s := range subjects {
		d, root, err := decodeNode(g, s, catalog)
		if err != nil {
			return nil, err
		}
		nodes[s.Value] = d
		if root {
			roots = append(roots, s.Value)
		}
	}
	if len(roots) != 1 {
		return nil, apperr.New(apperr.ErrContractViolation, "ipmgraph", "want one root, found %d", len(roots))
	}

	children := make(map[string][]*decoded)
	for _, d := range nodes {
		if d.parent == "" {
			continue
		}
		if _, ok := nodes[d.parent]; !ok {
			return nil, apperr.New(apperr.ErrContractViolation, "ipmgraph", "node %s has unknown parent %s", d.node.ID, d.parent)
		}
		children[d.parent] = append(children[d.parent], d)
	}

	tree := ipm.NewTree(nodes[roots[0]].node)
	queue := []string{roots[0]}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		kids := children[id]
		slices.SortFunc(kids, func(a, b *decoded) int {
			return cmp.Or(cmp.Compare(a.position, b.position), cmp.Compare(a.node.ID, b.node.ID))
		})
		for _, k := range kids {
			if err := tree.AddChild(id, k.node); err != nil {
				return nil, fmt.Errorf("ipmgraph: attach %s: %w", k.node.ID, err)
			}
			queue = append(queue, k.node.ID)
		}
	}
	if tree.Len() != len(nodes) {
		return nil, apperr.New(apperr.ErrContractViolation, "ipmgraph", "%d of %d nodes unreachable from root", len(nodes)-tree.Len(), len(nodes))
	}
	return tree, nil
}

func decodeNode(g ts.Reader, s ts.Term, catalog profile.Catalog) (*decoded, bool, error) {
	n := &ipm.Node{ID: s.Value}
	d := &decoded{node: n}
	triples, err := g.Match(&s, nil, nil)
	if err != nil {
		return nil, false, fmt.Errorf("ipmgraph: read %s: %w", s.Value, err)
	}
	root := false
	for _, t := range triples {
		switch t.P.Value {
		case IsRoot:
			root, _ = t.O.Bool()
		case IsIgnored:
			n.Ignored, _ = t.O.Bool()
		case HasParent:
			d.parent = t.O.Value
		case Position:
			pos, err := t.O.Int64()
			if err != nil {
				return nil, false, fmt.Errorf("ipmgraph: %s position: %w", s.Value, err)
			}
			d.position = int(pos)
		case NodeType:
			if _, err := catalog.NodeType(t.O.Value); err != nil {
				return nil, false, fmt.Errorf("ipmgraph: node %s: %w", s.Value, err)
			}
			n.Type = t.O.Value
		case SubNodeType:
			if _, err := catalog.NodeType(t.O.Value); err != nil {
				return nil, false, fmt.Errorf("ipmgraph: node %s: %w", s.Value, err)
			}
			n.SubTypes = append(n.SubTypes, t.O.Value)
		case DomainObject:
			n.DomainObject = t.O.Value
		case HasFileInfo:
			fi, err := decodeFile(g, t.O)
			if err != nil {
				return nil, false, fmt.Errorf("ipmgraph: node %s: %w", s.Value, err)
			}
			n.File = fi
		}
	}
	if root && d.parent != "" {
		return nil, false, apperr.New(apperr.ErrContractViolation, "ipmgraph", "root %s has parent %s", s.Value, d.parent)
	}
	if !root && d.parent == "" {
		return nil, false, apperr.New(apperr.ErrContractViolation, "ipmgraph", "node %s has no parent", s.Value)
	}
	return d, root, nil
}

func decodeFile(g ts.Reader, b ts.Term) (*ipm.FileInfo, error) {
	triples, err := g.Match(&b, nil, nil)
	if err != nil {
		return nil, err
	}
	fi := &ipm.FileInfo{Size: -1}
	for _, t := range triples {
		var err error
		switch t.P.Value {
		case Location:
			fi.Location = t.O.Value
		case Name:
			fi.Name = t.O.Value
		case Size:
			fi.Size, err = t.O.Int64()
		case Created:
			fi.Created, err = t.O.Time()
		case Modified:
			fi.Modified, err = t.O.Time()
		case IsFile:
			fi.IsFile, err = t.O.Bool()
		case IsDirectory:
			fi.IsDirectory, err = t.O.Bool()
		case Format:
			fi.Formats = append(fi.Formats, t.O.Value)
		case HasChecksum:
			alg, val, cerr := decodeChecksum(g, t.O)
			if cerr != nil {
				return nil, cerr
			}
			if fi.Checksums == nil {
				fi.Checksums = make(map[string]string)
			}
			fi.Checksums[alg] = val
		}
		if err != nil {
			return nil, fmt.Errorf("file info %s: %w", t.P.Value, err)
		}
	}
	slices.Sort(fi.Formats)
	fi.Formats = slices.Compact(fi.Formats)
	return fi, nil
}

func decodeChecksum(g ts.Reader, c ts.Term) (alg, val string, err error) {
	a, ok, err := ts.Object(g, c, Algorithm)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", apperr.New(apperr.ErrContractViolation, "ipmgraph", "checksum %s has no algorithm", c.Value)
	}
	v, ok, err := ts.Object(g, c, Value)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", apperr.New(apperr.ErrContractViolation, "ipmgraph", "checksum %s has no value", a.Value)
	}
	return a.Value, v.Value, nil
}
