package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	content := []byte("<urn:a> <urn:p> \"x\" .\n")
	if err := s.Write("package.nt", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("package.nt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempRoot(t)
	if err := s.Write("a/b/tree.json", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/tree.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("old.nt", []byte("bye"))
	if err := s.Delete("old.nt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("old.nt"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestWriteFunc_StreamsAndCounts(t *testing.T) {
	s := tempRoot(t)
	n, err := s.WriteFunc("graph.nt", func(w io.Writer) error {
		_, err := io.WriteString(w, "<urn:a> <urn:p> <urn:b> .\n")
		return err
	})
	if err != nil {
		t.Fatalf("WriteFunc: %v", err)
	}
	if n != 26 {
		t.Errorf("n = %d, want 26", n)
	}
	got, _ := s.Read("graph.nt")
	if len(got) != 26 {
		t.Errorf("content = %q", got)
	}
}

func TestWriteFunc_FailureKeepsOld(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("graph.nt", []byte("old"))
	boom := errors.New("boom")
	_, err := s.WriteFunc("graph.nt", func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	got, _ := s.Read("graph.nt")
	if string(got) != "old" {
		t.Errorf("content = %q, want old", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestWriteFunc_RootRejected(t *testing.T) {
	s := tempRoot(t)
	if _, err := s.WriteFunc("", func(io.Writer) error { return nil }); err == nil {
		t.Error("expected error writing to the root itself")
	}
}

func TestList(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("a.nt", []byte("a"))
	_ = s.Write("sub/b.json", []byte("b"))
	_ = os.WriteFile(filepath.Join(s.root, tmpPrefix+"leftover"), []byte("x"), 0o644)

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.Path == "sub/b.json" && (it.Size != 1 || it.Checksum == "") {
			t.Errorf("unexpected entry %+v", it)
		}
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.nt",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	// Verify that if we read during a write the old content is intact
	// (the rename is atomic on POSIX).
	s := tempRoot(t)
	original := []byte("original content")
	_ = s.Write("atomic.nt", original)

	// Overwrite with new content.
	updated := []byte("updated content")
	if err := s.Write("atomic.nt", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.nt")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(s.root, tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/ipm-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "ipm-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
