// Package testutil provides shared test helpers for building package
// directories, profile stores and state databases.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/storage"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/triplestore"
)

// FarmNS is the namespace of the built-in farm profile.
const FarmNS = "http://example.org/farm#"

// Farm returns the identifier of a farm profile term.
func Farm(name string) string { return FarmNS + name }

// Profiles returns a store holding the built-in profiles.
func Profiles(t *testing.T) *profile.Store {
	t.Helper()
	s, err := profile.Open()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// FarmProfile returns the built-in farm profile.
func FarmProfile(t *testing.T, s *profile.Store) *profile.DomainProfile {
	t.Helper()
	p, ok := s.Profile(profile.FarmProfileID)
	if !ok {
		t.Fatal("farm profile not loaded")
	}
	return p
}

// TestStateDB creates a temporary SQLite state database that is
// automatically closed.
func TestStateDB(t *testing.T) *triplestore.SQLiteStore {
	t.Helper()
	db, err := triplestore.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestPackage creates a temporary package directory. Keys of files are
// slash-separated relative paths; a trailing slash creates an empty
// directory.
func TestPackage(t *testing.T, files map[string]string) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	for rel, content := range files {
		if strings.HasSuffix(rel, "/") {
			if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(rel)), 0o755); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := store.Write(rel, []byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	return dir, store
}

// Dir returns an untyped directory node at location file:///pkg/<path>.
func Dir(path string) *ipm.Node {
	return &ipm.Node{ID: "urn:test:" + path, File: &ipm.FileInfo{
		Location: "file:///pkg/" + path, Name: filepath.Base(path), Size: -1, IsDirectory: true,
	}}
}

// File returns an untyped file node at location file:///pkg/<path>.
func File(path string) *ipm.Node {
	return &ipm.Node{ID: "urn:test:" + path, File: &ipm.FileInfo{
		Location: "file:///pkg/" + path, Name: filepath.Base(path), Size: int64(len(path)), IsFile: true,
		Checksums: map[string]string{"md5": "m-" + path, "sha256": "s-" + path},
		Formats:   []string{"text/plain"},
	}}
}

// Build assembles a tree from slash-separated paths under a root directory
// named "farm". Parents must precede their children; a trailing slash marks
// a directory.
func Build(t *testing.T, paths ...string) *ipm.Tree {
	t.Helper()
	tr := ipm.NewTree(Dir("farm"))
	for _, p := range paths {
		var n *ipm.Node
		clean := strings.TrimSuffix(p, "/")
		full := "farm/" + clean
		if strings.HasSuffix(p, "/") {
			n = Dir(full)
		} else {
			n = File(full)
		}
		parent := "urn:test:" + filepath.ToSlash(filepath.Dir(full))
		if err := tr.AddChild(parent, n); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}
	return tr
}

// ID returns the node identifier Build assigns to path.
func ID(path string) string {
	return "urn:test:farm/" + strings.TrimSuffix(path, "/")
}

// Node fetches the node Build created for path.
func Node(t *testing.T, tr *ipm.Tree, path string) *ipm.Node {
	t.Helper()
	id := "urn:test:farm"
	if path != "" {
		id = ID(path)
	}
	n, ok := tr.Node(id)
	if !ok {
		t.Fatalf("node %s not found", id)
	}
	return n
}
