// Package session owns one open package: its live tree, the domain profile
// it is typed against and the object store holding node properties. Every
// operation is serialised on the session, so the tree is never mutated
// concurrently.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/compare"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ingest"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipmgraph"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/metrics"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/objectstore"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profileservice"
	ts "github.com/DataConservancy/dcs-packaging-tool-sub000/internal/triplestore"
)

// Event kinds passed to an EventCallback.
const (
	KindAdded   = "added"
	KindDeleted = "deleted"
	KindUpdated = "updated"
)

// EventCallback is called after a change to the tree with the kind of
// change and the file location of the affected node.
type EventCallback func(kind, location string)

// Meta keys written next to a saved state.
const (
	metaRoot    = "root"
	metaProfile = "profile"
	metaSavedAt = "saved_at"
)

// Session is an open package.
type Session struct {
	mu sync.Mutex

	root     string
	builder  *ingest.Builder
	profiles *profile.Store
	profile  *profile.DomainProfile
	objects  *objectstore.Store
	svc      *profileservice.Service
	tree     *ipm.Tree
	typed    bool

	objectGraph ts.Store
	logger      *slog.Logger
	metrics     *metrics.Metrics
	onChange    EventCallback
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records ingestion, refresh and edit outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithEvents registers the change callback.
func WithEvents(cb EventCallback) Option {
	return func(s *Session) { s.onChange = cb }
}

// WithObjectGraph stores domain objects in g instead of an in-memory graph.
func WithObjectGraph(g ts.Store) Option {
	return func(s *Session) { s.objectGraph = g }
}

func newSession(root string, b *ingest.Builder, profiles *profile.Store, p *profile.DomainProfile, opts []Option) *Session {
	s := &Session{
		root:     root,
		builder:  b,
		profiles: profiles,
		profile:  p,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.objectGraph == nil {
		s.objectGraph = ts.NewGraph()
	}
	s.objects = objectstore.New(s.objectGraph, profiles)
	s.svc = profileservice.New(profiles,
		profileservice.WithObjects(s.objects),
		profileservice.WithLogger(s.logger))
	return s
}

// Open ingests root and types the tree against p. A tree that admits no
// legal assignment stays untyped; that is reported by Typed, not as an
// error.
func Open(root string, b *ingest.Builder, profiles *profile.Store, p *profile.DomainProfile, opts ...Option) (*Session, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("session: open: %w", err)
	}
	s := newSession(abs, b, profiles, p, opts)
	tree, err := s.build()
	if err != nil {
		return nil, err
	}
	s.tree = tree
	if err := s.assign(); err != nil {
		return nil, err
	}
	s.logger.Info("session: opened",
		slog.String("root", abs),
		slog.String("profile", p.ID),
		slog.Int("nodes", tree.Len()),
		slog.Bool("typed", s.typed))
	return s, nil
}

// Restore reopens a package from a state file written by Save.
func Restore(statePath string, b *ingest.Builder, profiles *profile.Store, opts ...Option) (*Session, error) {
	db, err := ts.OpenSQLite(statePath)
	if err != nil {
		return nil, fmt.Errorf("session: restore: %w", err)
	}
	defer db.Close()

	root, err := db.Meta(metaRoot)
	if err != nil {
		return nil, fmt.Errorf("session: restore: %w", err)
	}
	profileID, err := db.Meta(metaProfile)
	if err != nil {
		return nil, fmt.Errorf("session: restore: %w", err)
	}
	if root == "" {
		return nil, apperr.New(apperr.ErrNotFound, "session: restore", "no package state in %s", statePath)
	}
	p, ok := profiles.Profile(profileID)
	if !ok {
		return nil, apperr.New(apperr.ErrInvalidProfile, "session: restore", "profile %s is not loaded", profileID)
	}

	tree, err := ipmgraph.GraphToTree(db, profiles)
	if err != nil {
		return nil, fmt.Errorf("session: restore: %w", err)
	}
	s := newSession(root, b, profiles, p, opts)
	s.tree = tree
	s.typed = tree.Root().Type != ""
	if err := s.loadObjects(db, tree); err != nil {
		return nil, err
	}
	s.objects.Rebind(tree)
	s.metrics.SetTreeSize(tree.Len())
	s.logger.Info("session: restored",
		slog.String("state", statePath),
		slog.String("root", root),
		slog.Int("nodes", tree.Len()))
	return s, nil
}

// loadObjects copies every statement of src that does not describe the
// tree itself into the object graph.
func (s *Session) loadObjects(src ts.Reader, tree *ipm.Tree) error {
	nodes := ipmgraph.TreeToGraph(tree)
	all, err := ts.All(src)
	if err != nil {
		return fmt.Errorf("session: restore objects: %w", err)
	}
	var out []ts.Triple
	for _, t := range all {
		found, err := nodes.Match(&t.S, &t.P, &t.O)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			out = append(out, t)
		}
	}
	if err := s.objectGraph.Add(out...); err != nil {
		return fmt.Errorf("session: restore objects: %w", err)
	}
	return nil
}

func (s *Session) build() (*ipm.Tree, error) {
	start := time.Now()
	tree, err := s.builder.Build(s.root)
	if err != nil {
		return nil, fmt.Errorf("session: ingest: %w", err)
	}
	s.metrics.ObserveIngest(time.Since(start), tree.Len())
	return tree, nil
}

func (s *Session) assign() error {
	s.typed = s.svc.AssignNodeTypes(s.profile, s.tree)
	if !s.typed {
		s.logger.Warn("session: tree left untyped", slog.String("profile", s.profile.ID))
		return nil
	}
	if err := s.svc.UpdateObjects(s.tree); err != nil {
		return fmt.Errorf("session: update objects: %w", err)
	}
	return nil
}

// Root returns the package directory.
func (s *Session) Root() string { return s.root }

// Profile returns the domain profile the tree is typed against.
func (s *Session) Profile() *profile.DomainProfile { return s.profile }

// Typed reports whether the last assignment succeeded.
func (s *Session) Typed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typed
}

// Snapshot returns a deep copy of the live tree.
func (s *Session) Snapshot() *ipm.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Clone()
}

// NodeView is a detached copy of one node with its editing context.
type NodeView struct {
	ipm.Node
	Properties map[string][]profile.PropertyValue `json:"properties"`
	ValidTypes []string                           `json:"valid_types"`
	Transforms []string                           `json:"transforms"`
}

// Node returns the node with its properties, valid types and executable
// transforms.
func (s *Session) Node(id string) (*NodeView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.tree.Get(id)
	if err != nil {
		return nil, err
	}
	props, err := s.svc.Properties(n)
	if err != nil {
		return nil, fmt.Errorf("session: properties of %s: %w", id, err)
	}
	v := &NodeView{
		Node:       *n,
		Properties: props,
		ValidTypes: []string{},
		Transforms: []string{},
	}
	v.Children = slices.Clone(n.Children)
	v.SubTypes = slices.Clone(n.SubTypes)
	v.File = n.File.Clone()
	for _, nt := range s.svc.ValidTypes(s.tree, n) {
		v.ValidTypes = append(v.ValidTypes, nt.ID)
	}
	for _, tr := range s.svc.NodeTransforms(s.tree, n) {
		v.Transforms = append(v.Transforms, tr.ID)
	}
	return v, nil
}

// ValidTypes lists the types the node could be changed to.
func (s *Session) ValidTypes(id string) ([]*profile.NodeType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.tree.Get(id)
	if err != nil {
		return nil, err
	}
	return s.svc.ValidTypes(s.tree, n), nil
}

// edit runs fn on the node under the session lock and reports the node as
// updated when fn succeeds.
func (s *Session) edit(id string, fn func(n *ipm.Node) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.tree.Get(id)
	if err != nil {
		return err
	}
	if err := fn(n); err != nil {
		return err
	}
	if n.File != nil {
		s.emit(KindUpdated, n.File.Location)
	}
	return nil
}

// ChangeType retypes the node.
func (s *Session) ChangeType(id, typeID string) error {
	err := s.edit(id, func(n *ipm.Node) error {
		return s.svc.ChangeType(s.tree, n, typeID)
	})
	switch {
	case err == nil:
		s.metrics.ObserveTypeChange("ok")
	case errors.Is(err, apperr.ErrIllegalTypeChange):
		s.metrics.ObserveTypeChange("illegal")
	default:
		s.metrics.ObserveTypeChange("error")
	}
	return err
}

// SetIgnored flags or unflags the node.
func (s *Session) SetIgnored(id string, ignored bool) error {
	return s.edit(id, func(n *ipm.Node) error {
		return s.svc.Ignore(s.tree, n, ignored)
	})
}

// AddSubType attaches a secondary type.
func (s *Session) AddSubType(id, typeID string) error {
	return s.edit(id, func(n *ipm.Node) error {
		return s.svc.AddSubType(s.tree, n, typeID)
	})
}

// RemoveSubType detaches a secondary type.
func (s *Session) RemoveSubType(id, typeID string) error {
	return s.edit(id, func(n *ipm.Node) error {
		return s.svc.RemoveSubType(s.tree, n, typeID)
	})
}

// SetProperties replaces the values of one property type on the node.
func (s *Session) SetProperties(id, propertyTypeID string, vals []profile.PropertyValue) error {
	return s.edit(id, func(n *ipm.Node) error {
		return s.svc.SetProperties(n, propertyTypeID, vals)
	})
}

// Propagate copies the node's inheritable properties to its descendants.
func (s *Session) Propagate(id string) error {
	return s.edit(id, func(n *ipm.Node) error {
		return s.svc.PropagateInheritableProperties(s.tree, n)
	})
}

// Split inserts a synthesised parent above the file node and returns the
// parent's identifier.
func (s *Session) Split(id string) (string, error) {
	err := s.edit(id, func(n *ipm.Node) error {
		_, err := s.svc.MakeParentChildCombo(s.tree, n)
		return err
	})
	if err != nil {
		return "", err
	}
	return id + profileservice.ComboSuffix, nil
}

// Collapse folds the synthesised parent of the node back into it and
// returns the removed parent's identifier.
func (s *Session) Collapse(id string) (string, error) {
	var removed string
	err := s.edit(id, func(n *ipm.Node) error {
		var err error
		removed, err = s.svc.CollapseParentArtifact(s.tree, n)
		return err
	})
	return removed, err
}

// Transform runs the named transform on the node.
func (s *Session) Transform(id, transformID string) error {
	return s.edit(id, func(n *ipm.Node) error {
		for _, tr := range s.svc.NodeTransforms(s.tree, n) {
			if tr.ID == transformID {
				return s.svc.TransformNode(s.tree, n, tr)
			}
		}
		return apperr.New(apperr.ErrIllegalTypeChange, "session: transform", "%s does not apply to %s", transformID, id)
	})
}

// Validate reports every property constraint the typed tree violates.
func (s *Session) Validate() []profileservice.Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.svc.ValidateTree(s.tree)
}

// Refresh re-ingests the package and merges the differences into the live
// tree. Grafted subtrees are typed below their parents; nodes that were
// pruned lose their domain objects.
func (s *Session) Refresh() (*compare.Comparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.build()
	if err != nil {
		s.metrics.ObserveRefresh("error")
		return nil, err
	}
	c := compare.Compare(s.tree, next)
	changed, err := compare.Merge(s.tree, c)
	if err != nil {
		s.metrics.ObserveRefresh("error")
		return nil, fmt.Errorf("session: refresh: %w", err)
	}
	if !changed {
		s.metrics.ObserveRefresh("unchanged")
		return c, nil
	}

	for _, n := range c.Pruned() {
		if n.DomainObject == "" {
			continue
		}
		if err := s.objects.RemoveObject(n.DomainObject); err != nil {
			return nil, fmt.Errorf("session: refresh: %w", err)
		}
	}
	var shrunk []*ipm.Node
	for _, id := range c.Shrunk() {
		n, ok := s.tree.Node(id)
		if !ok {
			continue
		}
		if n, err = s.svc.DropEmptyArtifact(s.tree, n); err != nil {
			return nil, fmt.Errorf("session: refresh: %w", err)
		}
		shrunk = append(shrunk, n)
	}
	if s.typed {
		for _, id := range c.Grafted() {
			if !s.svc.AssignSubtree(s.profile, s.tree, id) {
				s.logger.Warn("session: grafted subtree left untyped", slog.String("node", id))
				continue
			}
			if g, ok := s.tree.Node(id); ok && !g.IsRoot() {
				shrunk = append(shrunk, s.tree.Parent(g))
			}
		}
		for _, n := range shrunk {
			if _, ok := s.tree.Node(n.ID); !ok {
				continue
			}
			legal, err := s.svc.Reconcile(s.tree, n)
			if err != nil {
				return nil, fmt.Errorf("session: refresh: %w", err)
			}
			if !legal {
				s.logger.Warn("session: types no longer legal", slog.String("node", n.ID))
			}
		}
		if err := s.svc.UpdateObjects(s.tree); err != nil {
			return nil, fmt.Errorf("session: refresh: %w", err)
		}
	} else if err := s.assign(); err != nil {
		return nil, err
	}
	s.objects.Rebind(s.tree)

	counts := map[string]int{}
	for _, loc := range c.Locations() {
		r := c.Results[loc]
		counts[r.Status.String()]++
		s.emit(r.Status.String(), loc)
	}
	s.metrics.ObserveMerge(counts)
	s.metrics.ObserveRefresh("changed")
	s.metrics.SetTreeSize(s.tree.Len())
	s.logger.Info("session: refreshed",
		slog.Int("changes", c.Len()),
		slog.Int("grafted", len(c.Grafted())),
		slog.Int("pruned", len(c.Pruned())))
	return c, nil
}

func (s *Session) emit(kind, location string) {
	if s.onChange != nil {
		s.onChange(kind, location)
	}
}

// Graph returns the tree statements together with every domain object.
func (s *Session) Graph() (*ts.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph()
}

func (s *Session) graph() (*ts.Graph, error) {
	g := ipmgraph.TreeToGraph(s.tree)
	if err := ts.CopyInto(g, s.objectGraph); err != nil {
		return nil, fmt.Errorf("session: graph: %w", err)
	}
	return g, nil
}

// Export writes the package graph as N-Triples.
func (s *Session) Export(w io.Writer) error {
	g, err := s.Graph()
	if err != nil {
		return err
	}
	return ts.WriteNTriples(w, g)
}

// Save writes the package graph to an SQLite state file, replacing its
// previous content.
func (s *Session) Save(statePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.graph()
	if err != nil {
		return err
	}
	db, err := ts.OpenSQLite(statePath)
	if err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	defer db.Close()
	if err := db.Replace(g); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	for k, v := range map[string]string{
		metaRoot:    s.root,
		metaProfile: s.profile.ID,
		metaSavedAt: time.Now().UTC().Format(time.RFC3339),
	} {
		if err := db.SetMeta(k, v); err != nil {
			return fmt.Errorf("session: save: %w", err)
		}
	}
	s.logger.Debug("session: saved", slog.String("state", statePath), slog.Int("statements", g.Size()))
	return nil
}
