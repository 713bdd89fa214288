package compare

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ingest"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/testutil"
)

func loc(path string) string { return "file:///pkg/farm/" + path }

func childIDs(tr *ipm.Tree, n *ipm.Node) []string {
	var out []string
	for _, c := range tr.Children(n) {
		out = append(out, c.ID)
	}
	return out
}

func TestCompare_SameTreeIsEmpty(t *testing.T) {
	tr := testutil.Build(t, "a/", "a/x.txt", "b.txt")
	c := Compare(tr, tr.Clone())
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Relocated())

	before := tr.Clone()
	changed, err := Merge(tr, c)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before.Nodes(), tr.Nodes())
}

func TestCompare_IgnoresTimestamps(t *testing.T) {
	before := testutil.Build(t, "a.txt")
	after := before.Clone()
	testutil.Node(t, after, "a.txt").File.Modified = testutil.Node(t, after, "a.txt").File.Modified.Add(time.Second)
	assert.Equal(t, 0, Compare(before, after).Len())
}

func TestCompare_ModifiedFileScenario(t *testing.T) {
	dir, _ := testutil.TestPackage(t, map[string]string{"a.txt": "X", "b/": ""})
	b, err := ingest.New(ingest.DefaultOptions())
	require.NoError(t, err)

	live, err := b.Build(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("Y"), 0o644))
	rescanned, err := b.Build(dir)
	require.NoError(t, err)

	c := Compare(live, rescanned)
	aLoc := ipm.PathToURI(filepath.Join(dir, "a.txt"))
	require.Equal(t, []string{aLoc}, c.Locations())
	assert.Equal(t, Updated, c.Results[aLoc].Status)
	assert.NotContains(t, c.Results, ipm.PathToURI(filepath.Join(dir, "b")))

	a := live.ByLocation()[aLoc]
	id := a.ID
	changed, err := Merge(live, c)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, id, live.ByLocation()[aLoc].ID)
	assert.Equal(t, rescanned.ByLocation()[aLoc].File.Checksums, a.File.Checksums)
	assert.Empty(t, c.Grafted())
}

func TestMerge_AddDeleteUpdate(t *testing.T) {
	live := testutil.Build(t, "a/", "a/x.txt", "b.txt", "c.txt")
	c0 := testutil.Node(t, live, "c.txt")
	c0.Type = testutil.Farm("Record")
	c0.DomainObject = "urn:obj:c"

	after := testutil.Build(t, "b.txt", "d/", "d/e/", "d/e/f.txt", "c.txt")
	testutil.Node(t, after, "c.txt").File.Checksums["md5"] = "changed"

	c := Compare(live, after)
	assert.Equal(t, 2, c.Count(Deleted))
	assert.Equal(t, 3, c.Count(Added))
	assert.Equal(t, 1, c.Count(Updated))
	assert.Equal(t, Deleted, c.Results[loc("a")].Status)
	assert.Equal(t, Added, c.Results[loc("d/e/f.txt")].Status)

	changed, err := Merge(live, c)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, live.Check())

	assert.Equal(t, []string{testutil.ID("b.txt"), testutil.ID("d"), testutil.ID("c.txt")}, childIDs(live, live.Root()))
	assert.Equal(t, []string{testutil.ID("d")}, c.Grafted())
	assert.Len(t, c.Pruned(), 2)
	_, ok := live.Node(testutil.ID("a/x.txt"))
	assert.False(t, ok)

	f := testutil.Node(t, live, "d/e/f.txt")
	assert.Equal(t, testutil.ID("d/e"), f.Parent)

	c1 := testutil.Node(t, live, "c.txt")
	assert.Same(t, c0, c1)
	assert.Equal(t, "changed", c1.File.Checksums["md5"])
	assert.Equal(t, testutil.Farm("Record"), c1.Type)
	assert.Equal(t, "urn:obj:c", c1.DomainObject)
}

func TestMerge_KindChange(t *testing.T) {
	live := testutil.Build(t, "x", "y.txt")
	after := testutil.Build(t, "x/", "x/inner.txt", "y.txt")

	c := Compare(live, after)
	require.Equal(t, Deleted, c.Results[loc("x")].Status)
	require.NotNil(t, c.Results[loc("x")].Updated)
	assert.Equal(t, Added, c.Results[loc("x/inner.txt")].Status)

	_, err := Merge(live, c)
	require.NoError(t, err)
	x := testutil.Node(t, live, "x")
	assert.True(t, x.IsDirectory())
	assert.Equal(t, []string{testutil.ID("x/inner.txt")}, x.Children)
	assert.Equal(t, 0, live.IndexOf(x.ID))
}

func TestMerge_GraftUnderIgnoredParent(t *testing.T) {
	live := testutil.Build(t, "h/")
	require.NoError(t, live.SetIgnored(testutil.ID("h"), true))
	after := testutil.Build(t, "h/", "h/z.txt")

	_, err := Merge(live, Compare(live, after))
	require.NoError(t, err)
	assert.True(t, testutil.Node(t, live, "h/z.txt").Ignored)
}

func TestMerge_GraftAfterWrappedSibling(t *testing.T) {
	live := testutil.Build(t, "coll/", "coll/x.txt", "coll/a.txt", "coll/c.txt")
	coll := testutil.Node(t, live, "coll")
	wrapper := &ipm.Node{ID: testutil.ID("coll/a.txt") + "#combo"}
	require.NoError(t, live.InsertChild(coll.ID, 1, wrapper))
	require.NoError(t, live.Move(testutil.ID("coll/a.txt"), wrapper.ID, 0))

	after := testutil.Build(t, "coll/", "coll/x.txt", "coll/a.txt", "coll/b.txt", "coll/c.txt")
	_, err := Merge(live, Compare(live, after))
	require.NoError(t, err)
	require.NoError(t, live.Check())

	assert.Equal(t, []string{
		testutil.ID("coll/x.txt"), wrapper.ID, testutil.ID("coll/b.txt"), testutil.ID("coll/c.txt"),
	}, childIDs(live, coll))
	assert.Equal(t, []string{testutil.ID("coll/a.txt")}, wrapper.Children)
}

func TestMerge_ShrunkParents(t *testing.T) {
	live := testutil.Build(t, "a/", "a/x.txt", "a/y.txt", "b.txt")
	after := testutil.Build(t, "a/", "a/y.txt")

	c := Compare(live, after)
	_, err := Merge(live, c)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{testutil.ID("a"), live.Root().ID}, c.Shrunk())
}

func TestMerge_Relocation(t *testing.T) {
	live := testutil.Build(t, "a.txt", "b/")
	rootID := live.Root().ID
	after := ipm.NewTree(&ipm.Node{ID: "urn:test:elsewhere", File: &ipm.FileInfo{
		Location: "file:///elsewhere", Name: "elsewhere", Size: -1, IsDirectory: true,
	}})
	q := &ipm.Node{ID: "urn:test:elsewhere/q.txt", File: &ipm.FileInfo{
		Location: "file:///elsewhere/q.txt", Name: "q.txt", Size: 1, IsFile: true,
	}}
	require.NoError(t, after.AddChild(after.Root().ID, q))

	c := Compare(live, after)
	assert.True(t, c.Relocated())
	changed, err := Merge(live, c)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, rootID, live.Root().ID)
	assert.Equal(t, "file:///elsewhere", live.Root().File.Location)
	assert.Equal(t, []string{q.ID}, live.Root().Children)
	assert.Equal(t, 2, live.Len())
	assert.Len(t, c.Pruned(), 2)
	require.NoError(t, live.Check())
}
