package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ingest"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/metrics"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/session"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/storage"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/testutil"
)

var f = testutil.Farm

type env struct {
	dir    string
	sess   *session.Session
	router http.Handler
}

// testEnv opens a small farm package and mounts every optional route.
// An empty token means auth is disabled.
func testEnv(t *testing.T, token string) *env {
	t.Helper()
	dir, _ := testutil.TestPackage(t, map[string]string{
		"barn/coll/a.txt": "alpha",
		"barn/coll/b.txt":     "beta",
		"yard/herd/pen/d.txt": "delta",
		"notes.txt":           "notes",
	})
	profiles := testutil.Profiles(t)
	b, err := ingest.New(ingest.DefaultOptions())
	require.NoError(t, err)
	sess, err := session.Open(dir, b, profiles, testutil.FarmProfile(t, profiles))
	require.NoError(t, err)

	exports, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)

	// Minimal SSE handler stub: writes headers and blocks until context done.
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		<-r.Context().Done()
	})

	router := NewRouter(sess, token != "", token, Mounts{
		Events:  events,
		Metrics: metrics.New().Handler(),
		Exports: exports,
	})
	return &env{dir: dir, sess: sess, router: router}
}

func (e *env) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) node(t *testing.T, rel string) *ipm.Node {
	t.Helper()
	loc := ipm.PathToURI(filepath.Join(e.dir, filepath.FromSlash(rel)))
	n, ok := e.sess.Snapshot().ByLocation()[loc]
	require.True(t, ok, rel)
	return n
}

func nodeURL(id string, suffix string) string {
	return "/nodes/" + url.PathEscape(id) + suffix
}

func TestTree(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodGet, "/tree", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TreeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Typed)
	assert.Len(t, resp.Nodes, 10)
	assert.Equal(t, resp.Root, resp.Nodes[0].ID)
	assert.Equal(t, f("Farm"), resp.Nodes[0].Type)
}

func TestGetNode(t *testing.T) {
	e := testEnv(t, "")
	a := e.node(t, "barn/coll/a.txt")

	w := e.do(t, http.MethodGet, nodeURL(a.ID, ""), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var v NodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, a.ID, v.ID)
	assert.Contains(t, v.ValidTypes, f("Record"))

	w = e.do(t, http.MethodGet, nodeURL("urn:missing", ""), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidTypes(t *testing.T) {
	e := testEnv(t, "")
	a := e.node(t, "barn/coll/a.txt")
	w := e.do(t, http.MethodGet, nodeURL(a.ID, "/valid-types"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ValidTypesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Types)
	assert.Equal(t, f("Record"), resp.Types[0].ID)
}

func TestChangeType(t *testing.T) {
	e := testEnv(t, "")
	pen := e.node(t, "yard/herd/pen")
	barn := e.node(t, "barn")

	w := e.do(t, http.MethodPut, nodeURL(pen.ID, "/type"), ChangeTypeRequest{Type: f("Collection")})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, f("Pen"), e.node(t, "yard/herd/pen").Type)

	w = e.do(t, http.MethodPut, nodeURL(barn.ID, "/type"), ChangeTypeRequest{Type: f("Collection")})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, f("Collection"), e.node(t, "barn").Type)
	assert.Equal(t, f("Pen"), e.node(t, "barn/coll").Type)

	w = e.do(t, http.MethodPut, nodeURL(barn.ID, "/type"), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPut, nodeURL(barn.ID, "/type"), ChangeTypeRequest{Type: "Barn"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "relative type identifiers are rejected")
}

func TestSetIgnored(t *testing.T) {
	e := testEnv(t, "")
	notes := e.node(t, "notes.txt")

	w := e.do(t, http.MethodPut, nodeURL(notes.ID, "/ignored"), map[string]bool{"ignored": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, e.node(t, "notes.txt").Ignored)

	w = e.do(t, http.MethodPut, nodeURL(notes.ID, "/ignored"), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetProperties(t *testing.T) {
	e := testEnv(t, "")
	root := e.sess.Snapshot().Root()

	w := e.do(t, http.MethodGet, "/validation", nil)
	var before ValidationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &before))
	assert.False(t, before.Valid)

	body := map[string]any{
		"property_type": f("title"),
		"values":        []map[string]string{{"type": f("title"), "value": "Hill Farm"}},
	}
	w = e.do(t, http.MethodPut, nodeURL(root.ID, "/properties"), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodGet, "/validation", nil)
	var after ValidationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	assert.True(t, after.Valid)
	assert.Empty(t, after.Violations)

	a := e.node(t, "barn/coll/a.txt")
	body["property_type"] = f("size")
	w = e.do(t, http.MethodPut, nodeURL(a.ID, "/properties"), body)
	assert.Equal(t, http.StatusConflict, w.Code, "supplied properties are read-only")
}

func TestSplitAndCollapse(t *testing.T) {
	e := testEnv(t, "")
	a := e.node(t, "barn/coll/a.txt")

	w := e.do(t, http.MethodPost, nodeURL(a.ID, "/combo"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var combo ComboResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &combo))
	assert.Equal(t, a.ID+"#combo", combo.Parent)

	w = e.do(t, http.MethodGet, nodeURL(combo.Parent, ""), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v NodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, f("Animal"), v.Type)

	w = e.do(t, http.MethodPost, nodeURL(a.ID, "/collapse"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var col CollapseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &col))
	assert.Equal(t, combo.Parent, col.Removed)

	w = e.do(t, http.MethodPost, nodeURL(a.ID, "/collapse"), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTransform(t *testing.T) {
	e := testEnv(t, "")
	a := e.node(t, "barn/coll/a.txt")

	w := e.do(t, http.MethodPost, nodeURL(a.ID, "/transforms"), TransformRequest{Transform: f("splitRecord")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, f("AnimalRecord"), e.node(t, "barn/coll/a.txt").Type)

	w = e.do(t, http.MethodPost, nodeURL(a.ID, "/transforms"), TransformRequest{Transform: f("promoteStall")})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRefresh(t *testing.T) {
	e := testEnv(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "barn", "coll", "c.txt"), []byte("gamma"), 0o644))

	w := e.do(t, http.MethodPost, "/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp RefreshResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, "added", resp.Changes[0].Status)
	assert.Equal(t, 1, resp.Grafted)
	assert.Equal(t, f("Record"), e.node(t, "barn/coll/c.txt").Type)
}

func TestGraph(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodGet, "/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/n-triples; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<http://dataconservancy.org/ipm#Node>")
}

func TestExports(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodPost, "/exports", ExportRequest{Name: "farm.nt"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp ExportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "/exports/farm.nt", resp.URL)
	assert.Positive(t, resp.Size)

	w = e.do(t, http.MethodGet, "/exports/farm.nt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int(resp.Size), w.Body.Len())

	w = e.do(t, http.MethodGet, "/exports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"filename":"farm.nt"`)

	w = e.do(t, http.MethodGet, "/exports/missing.nt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodDelete, "/exports/farm.nt", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodDelete, "/exports/farm.nt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	for _, name := range []string{"../escape.nt", ".hidden", "a/b.nt"} {
		w = e.do(t, http.MethodPost, "/exports", ExportRequest{Name: name})
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestAuthMiddleware(t *testing.T) {
	e := testEnv(t, "secret")

	w := e.do(t, http.MethodGet, "/tree", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/tree", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/tree", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code, "metrics are served without auth")
	assert.True(t, strings.Contains(w.Body.String(), "ipm_"), w.Body.String())
}

func TestEvents_AuthProtected(t *testing.T) {
	e := testEnv(t, "tok")

	w := e.do(t, http.MethodGet, "/events", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/refresh?access_token=tok", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
