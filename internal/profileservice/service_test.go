package profileservice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/objectstore"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/testutil"
	ts "github.com/DataConservancy/dcs-packaging-tool-sub000/internal/triplestore"
)

var f = testutil.Farm

func newService(t *testing.T, withObjects bool) *Service {
	t.Helper()
	profiles := testutil.Profiles(t)
	if !withObjects {
		return New(profiles)
	}
	return New(profiles, WithObjects(objectstore.New(ts.NewGraph(), profiles)))
}

func assign(t *testing.T, s *Service, tr *ipm.Tree) {
	t.Helper()
	require.True(t, s.AssignNodeTypes(testutil.FarmProfile(t, s.Profiles()), tr))
	require.NoError(t, s.UpdateObjects(tr))
}

func typeIDs(nts []*profile.NodeType) []string {
	out := make([]string, len(nts))
	for i, nt := range nts {
		out[i] = nt.ID
	}
	return out
}

func TestAssignNodeTypes(t *testing.T) {
	s := newService(t, false)
	tr := testutil.Build(t,
		"barn/", "barn/coll/", "barn/coll/a.txt", "barn/coll/b.txt",
		"barn/coll/pen/", "barn/coll/pen/c.txt", "barn/empty/", "notes.txt",
	)
	assign(t, s, tr)

	want := map[string]string{
		"":                    "Farm",
		"barn":                "Barn",
		"barn/coll":           "Collection",
		"barn/coll/a.txt":     "Record",
		"barn/coll/b.txt":     "Record",
		"barn/coll/pen":       "Pen",
		"barn/coll/pen/c.txt": "Record",
		"barn/empty":          "Stall",
		"notes.txt":           "Record",
	}
	for path, typ := range want {
		assert.Equal(t, f(typ), testutil.Node(t, tr, path).Type, path)
	}
}

func TestAssignNodeTypes_AllOrNothing(t *testing.T) {
	s := newService(t, false)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/pen/", "barn/coll/pen/empty/")

	assert.False(t, s.AssignNodeTypes(testutil.FarmProfile(t, s.Profiles()), tr))
	for _, n := range tr.Nodes() {
		assert.Empty(t, n.Type, n.ID)
	}
}

func TestValidTypes_IgnoredChildrenAreAbsent(t *testing.T) {
	s := newService(t, false)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt", "barn/coll/b.txt")
	assign(t, s, tr)
	coll := testutil.Node(t, tr, "barn/coll")

	assert.Equal(t, []string{f("Collection")}, typeIDs(s.ValidTypes(tr, coll)))

	require.NoError(t, tr.SetIgnored(testutil.ID("barn/coll/a.txt"), true))
	require.NoError(t, tr.SetIgnored(testutil.ID("barn/coll/b.txt"), true))
	assert.Equal(t, []string{f("Stall")}, typeIDs(s.ValidTypes(tr, coll)))

	trs := s.NodeTransforms(tr, coll)
	require.Len(t, trs, 1)
	assert.Equal(t, f("demoteCollection"), trs[0].ID)
	require.NoError(t, s.TransformNode(tr, coll, trs[0]))
	assert.Equal(t, f("Stall"), coll.Type)
}

func TestIgnore_RetypesEmptiedParent(t *testing.T) {
	s := newService(t, true)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt", "barn/coll/b.txt")
	assign(t, s, tr)
	coll := testutil.Node(t, tr, "barn/coll")
	a := testutil.Node(t, tr, "barn/coll/a.txt")

	require.NoError(t, s.Ignore(tr, a, true))
	assert.Equal(t, f("Collection"), coll.Type)
	require.NoError(t, s.Ignore(tr, testutil.Node(t, tr, "barn/coll/b.txt"), true))
	assert.Equal(t, f("Stall"), coll.Type)
	assert.Equal(t, []string{f("Stall")}, typeIDs(s.ValidTypes(tr, coll)))
	assert.True(t, s.Objects().HasObject(coll.DomainObject))

	require.NoError(t, s.Ignore(tr, a, false))
	assert.Equal(t, f("Collection"), coll.Type)
	assert.Equal(t, f("Record"), a.Type)
}

func TestReconcile_AfterChildrenRemoved(t *testing.T) {
	s := newService(t, false)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt", "barn/coll/b.txt")
	assign(t, s, tr)
	coll := testutil.Node(t, tr, "barn/coll")

	legal, err := s.Reconcile(tr, coll)
	require.NoError(t, err)
	assert.True(t, legal)
	assert.Equal(t, f("Collection"), coll.Type)

	_, err = tr.RemoveSubtree(testutil.ID("barn/coll/a.txt"))
	require.NoError(t, err)
	_, err = tr.RemoveSubtree(testutil.ID("barn/coll/b.txt"))
	require.NoError(t, err)

	legal, err = s.Reconcile(tr, coll)
	require.NoError(t, err)
	assert.True(t, legal)
	assert.Equal(t, f("Stall"), coll.Type)
	assert.Equal(t, f("Barn"), testutil.Node(t, tr, "barn").Type)
}

func TestDropEmptyArtifact(t *testing.T) {
	s := newService(t, true)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt", "barn/coll/b.txt")
	assign(t, s, tr)
	coll := testutil.Node(t, tr, "barn/coll")
	a := testutil.Node(t, tr, "barn/coll/a.txt")
	_, err := s.MakeParentChildCombo(tr, a)
	require.NoError(t, err)
	combo, ok := tr.Node(a.ID + ComboSuffix)
	require.True(t, ok)
	require.NotEmpty(t, combo.DomainObject)

	got, err := s.DropEmptyArtifact(tr, combo)
	require.NoError(t, err)
	assert.Same(t, combo, got)

	_, err = tr.RemoveSubtree(a.ID)
	require.NoError(t, err)
	got, err = s.DropEmptyArtifact(tr, combo)
	require.NoError(t, err)
	assert.Same(t, coll, got)
	_, ok = tr.Node(combo.ID)
	assert.False(t, ok)
	assert.False(t, s.Objects().HasObject(combo.DomainObject))
	assert.Equal(t, []string{testutil.ID("barn/coll/b.txt")}, coll.Children)

	got, err = s.DropEmptyArtifact(tr, coll)
	require.NoError(t, err)
	assert.Same(t, coll, got)
}

func TestChangeType_Illegal(t *testing.T) {
	s := newService(t, false)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/pen/", "barn/coll/pen/c.txt")
	assign(t, s, tr)
	pen := testutil.Node(t, tr, "barn/coll/pen")

	err := s.ChangeType(tr, pen, f("Collection"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrIllegalTypeChange))
	assert.Equal(t, f("Pen"), pen.Type)
}

func TestValidTypes_SoleOccupantKeepsSlotFilled(t *testing.T) {
	s := newService(t, false)

	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt")
	assign(t, s, tr)
	a := testutil.Node(t, tr, "barn/coll/a.txt")
	assert.Equal(t, []string{f("Record")}, typeIDs(s.ValidTypes(tr, a)))
	assert.Error(t, s.ChangeType(tr, a, f("Ledger")))

	tr = testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt", "barn/coll/b.txt")
	assign(t, s, tr)
	a = testutil.Node(t, tr, "barn/coll/a.txt")
	b := testutil.Node(t, tr, "barn/coll/b.txt")
	assert.Equal(t, []string{f("Record"), f("Ledger")}, typeIDs(s.ValidTypes(tr, a)))

	require.NoError(t, s.ChangeType(tr, a, f("Ledger")))
	assert.Equal(t, f("Ledger"), a.Type)
	assert.Equal(t, []string{f("Record")}, typeIDs(s.ValidTypes(tr, b)))
}

func TestIgnore_ReactivatedNodesAreTyped(t *testing.T) {
	s := newService(t, false)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt", "barn/coll/b.txt")
	a := testutil.Node(t, tr, "barn/coll/a.txt")
	require.NoError(t, tr.SetIgnored(a.ID, true))
	assign(t, s, tr)
	assert.Empty(t, a.Type)
	assert.Nil(t, s.ValidTypes(tr, a))

	require.NoError(t, s.Ignore(tr, a, false))
	assert.False(t, a.Ignored)
	assert.Equal(t, f("Record"), a.Type)
}

func TestSubTypes(t *testing.T) {
	s := newService(t, true)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt")
	assign(t, s, tr)
	coll := testutil.Node(t, tr, "barn/coll")

	require.NoError(t, s.AddSubType(tr, coll, f("Pasture")))
	assert.Equal(t, []string{f("Pasture")}, coll.SubTypes)
	types, err := ts.Objects(s.Objects().Graph(), ts.IRI(coll.DomainObject), ts.RDFType)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ts.Term{ts.IRI(f("Collection")), ts.IRI(f("Pasture"))}, types)

	err = s.AddSubType(tr, coll, f("Barn"))
	assert.True(t, errors.Is(err, apperr.ErrIllegalTypeChange))

	require.NoError(t, s.RemoveSubType(tr, coll, f("Pasture")))
	assert.Empty(t, coll.SubTypes)
	assert.True(t, errors.Is(s.RemoveSubType(tr, coll, f("Pasture")), apperr.ErrNotFound))
}

func TestValidateAndPropagate(t *testing.T) {
	s := newService(t, true)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt")
	assign(t, s, tr)
	root := tr.Root()
	farm, err := s.Profiles().NodeType(root.Type)
	require.NoError(t, err)

	vs := s.ValidateTree(tr)
	require.Len(t, vs, 1)
	assert.Equal(t, f("title"), vs[0].PropertyType)
	assert.Equal(t, root.ID, vs[0].NodeID)
	assert.False(t, s.ValidateProperties(root, farm))

	require.NoError(t, s.SetProperties(root, f("title"), []profile.PropertyValue{profile.String(f("title"), "Hill Farm")}))
	assert.True(t, s.ValidateProperties(root, farm))
	assert.Empty(t, s.ValidateTree(tr))

	a := testutil.Node(t, tr, "barn/coll/a.txt")
	assert.Error(t, s.SetProperties(a, f("size"), []profile.PropertyValue{profile.Long(f("size"), 1)}), "supplied")
	assert.Error(t, s.SetProperties(a, f("keeper"), nil), "not accepted")

	keeper := profile.Complex(f("keeper"), profile.String(f("keeperName"), "Ann"))
	require.NoError(t, s.SetProperties(root, f("keeper"), []profile.PropertyValue{keeper}))
	require.NoError(t, s.PropagateInheritableProperties(tr, root))
	require.NoError(t, s.PropagateInheritableProperties(tr, root))

	for _, path := range []string{"barn", "barn/coll"} {
		props, err := s.Properties(testutil.Node(t, tr, path))
		require.NoError(t, err)
		require.Len(t, props[f("keeper")], 1, path)
		assert.True(t, keeper.Equal(props[f("keeper")][0]), path)
	}
	props, err := s.Properties(a)
	require.NoError(t, err)
	assert.NotContains(t, props, f("keeper"))

	// A complex value missing its required part is rejected.
	bad := profile.Complex(f("keeper"), profile.String(f("keeperEmail"), "x@example.org"))
	require.NoError(t, s.SetProperties(root, f("keeper"), []profile.PropertyValue{bad}))
	assert.False(t, s.ValidateProperties(root, farm))
}

func TestSplitAndCollapse_RoundTrip(t *testing.T) {
	s := newService(t, true)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt", "barn/coll/b.txt")
	assign(t, s, tr)
	objs := s.Objects()
	coll := testutil.Node(t, tr, "barn/coll")
	a := testutil.Node(t, tr, "barn/coll/a.txt")
	before := tr.Len()

	require.NoError(t, s.SetProperties(a, f("title"), []profile.PropertyValue{profile.String(f("title"), "Daisy")}))
	require.NoError(t, s.SetProperties(a, f("breed"), []profile.PropertyValue{profile.String(f("breed"), "Jersey")}))

	trs := s.NodeTransforms(tr, a)
	require.Len(t, trs, 1)
	assert.Equal(t, f("splitRecord"), trs[0].ID)
	require.True(t, s.CanBeCombinedIntoParentChild(tr, a))
	assert.False(t, s.CanCollapseParentArtifact(tr, a))

	nt, err := s.MakeParentChildCombo(tr, a)
	require.NoError(t, err)
	assert.Equal(t, f("Animal"), nt.ID)
	require.NoError(t, tr.Check())

	combo, ok := tr.Node(a.ID + ComboSuffix)
	require.True(t, ok)
	assert.True(t, IsComboArtifact(combo))
	assert.Equal(t, coll.ID, combo.Parent)
	assert.Equal(t, 0, tr.IndexOf(combo.ID))
	assert.Equal(t, combo.ID, a.Parent)
	assert.Equal(t, f("AnimalRecord"), a.Type)
	assert.False(t, s.CanBeCombinedIntoParentChild(tr, a))

	props, err := s.Properties(combo)
	require.NoError(t, err)
	assert.Equal(t, []profile.PropertyValue{profile.String(f("title"), "Daisy")}, props[f("title")])
	assert.Equal(t, []profile.PropertyValue{profile.String(f("breed"), "Jersey")}, props[f("breed")])
	props, err = s.Properties(a)
	require.NoError(t, err)
	assert.NotContains(t, props, f("title"))
	assert.NotContains(t, props, f("breed"))

	rels, err := objs.Relationships(combo.DomainObject)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ts.Triple{
		ts.T(ts.IRI(combo.DomainObject), ts.IRI(f("isContainedBy")), ts.IRI(coll.DomainObject)),
		ts.T(ts.IRI(combo.DomainObject), ts.IRI(f("hasData")), ts.IRI(a.DomainObject)),
	}, rels)
	rels, err = objs.Relationships(a.DomainObject)
	require.NoError(t, err)
	assert.Equal(t, []ts.Triple{ts.T(ts.IRI(a.DomainObject), ts.IRI(f("isDataOf")), ts.IRI(combo.DomainObject))}, rels)

	// Edits on both sides; the parent's value wins on collapse.
	require.NoError(t, s.SetProperties(combo, f("title"), []profile.PropertyValue{profile.String(f("title"), "Daisy II")}))
	require.NoError(t, s.SetProperties(a, f("title"), []profile.PropertyValue{profile.String(f("title"), "scan")}))

	require.True(t, s.CanCollapseParentArtifact(tr, a))
	removed, err := s.CollapseParentArtifact(tr, a)
	require.NoError(t, err)
	assert.Equal(t, combo.ID, removed)
	require.NoError(t, tr.Check())

	assert.Equal(t, before, tr.Len())
	assert.Equal(t, coll.ID, a.Parent)
	assert.Equal(t, 0, tr.IndexOf(a.ID))
	assert.Equal(t, f("Record"), a.Type)
	assert.False(t, objs.HasObject(combo.DomainObject))

	props, err = s.Properties(a)
	require.NoError(t, err)
	assert.Equal(t, []profile.PropertyValue{profile.String(f("title"), "Daisy II")}, props[f("title")])
	assert.Equal(t, []profile.PropertyValue{profile.String(f("breed"), "Jersey")}, props[f("breed")])

	rels, err = objs.Relationships(a.DomainObject)
	require.NoError(t, err)
	assert.Equal(t, []ts.Triple{ts.T(ts.IRI(a.DomainObject), ts.IRI(f("describes")), ts.IRI(coll.DomainObject))}, rels)

	_, err = s.CollapseParentArtifact(tr, a)
	assert.True(t, errors.Is(err, apperr.ErrContractViolation))
}

func TestTransformNode_MoveUpWithoutArtifact(t *testing.T) {
	s := newService(t, false)
	tr := testutil.Build(t, "barn/", "barn/coll/", "barn/coll/a.txt", "barn/coll/b.txt")
	assign(t, s, tr)
	coll := testutil.Node(t, tr, "barn/coll")
	a := testutil.Node(t, tr, "barn/coll/a.txt")
	b := testutil.Node(t, tr, "barn/coll/b.txt")
	_, err := s.MakeParentChildCombo(tr, a)
	require.NoError(t, err)

	// A second child makes the parent a real item, not a split artifact.
	combo, _ := tr.Node(a.ID + ComboSuffix)
	require.NoError(t, tr.Move(b.ID, combo.ID, -1))
	b.Type = f("AnimalRecord")
	assert.False(t, s.CanCollapseParentArtifact(tr, a))

	trs := s.NodeTransforms(tr, a)
	require.Len(t, trs, 1)
	assert.Equal(t, f("collapseAnimal"), trs[0].ID)
	require.NoError(t, s.TransformNode(tr, a, trs[0]))
	assert.Equal(t, coll.ID, a.Parent)
	assert.Equal(t, 1, tr.IndexOf(a.ID))
	assert.Equal(t, f("Record"), a.Type)
	assert.Equal(t, []string{b.ID}, combo.Children)

	// The last child leaves and the empty parent goes with it.
	require.NoError(t, s.TransformNode(tr, b, trs[0]))
	_, ok := tr.Node(combo.ID)
	assert.False(t, ok)
	assert.Equal(t, []string{b.ID, a.ID}, coll.Children)
	require.NoError(t, tr.Check())

	// The source pattern no longer matches.
	assert.True(t, errors.Is(s.TransformNode(tr, b, trs[0]), apperr.ErrContractViolation))
}
