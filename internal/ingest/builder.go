// Package ingest builds IPM trees from a filesystem location. Content is
// read exactly once per file to compute checksums and detect its format.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/apperr"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/checksum"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
)

// headerSize is how much of each file is kept for format detection.
const headerSize = 3072

// Options controls which entries are flagged ignored and how content is
// digested.
type Options struct {
	// HiddenPrefix flags entries whose name starts with it. Empty disables.
	HiddenPrefix string
	// IgnorePatterns are doublestar globs matched against slash-separated
	// paths relative to the build root.
	IgnorePatterns []string
	// IgnoreFile names a gitignore-syntax file at the build root.
	IgnoreFile string
	// Algorithms lists the checksums computed for every file.
	Algorithms []checksum.Algorithm
	// Workers bounds concurrent file reads.
	Workers int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		HiddenPrefix: ".",
		IgnoreFile:   ".ipmignore",
		Algorithms:   checksum.Defaults,
		Workers:      4,
	}
}

// Builder turns a directory into a tree. It holds no per-build state and
// may be shared.
type Builder struct {
	fs     billy.Filesystem
	opts   Options
	logger *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithFilesystem replaces the OS filesystem.
func WithFilesystem(fsys billy.Filesystem) Option {
	return func(b *Builder) { b.fs = fsys }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New validates opts and returns a Builder.
func New(opts Options, options ...Option) (*Builder, error) {
	if len(opts.Algorithms) == 0 {
		opts.Algorithms = checksum.Defaults
	}
	for _, alg := range opts.Algorithms {
		if !checksum.Valid(alg) {
			return nil, fmt.Errorf("ingest: unsupported checksum algorithm %q", alg)
		}
	}
	for _, p := range opts.IgnorePatterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("ingest: invalid ignore pattern %q", p)
		}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	b := &Builder{
		fs:     osfs.New("/", osfs.WithBoundOS()),
		opts:   opts,
		logger: slog.Default(),
	}
	for _, o := range options {
		o(b)
	}
	return b, nil
}

type fileJob struct {
	node *ipm.Node
	path string
}

// frame is one directory on the current walk path.
type frame struct {
	canonical string
	info      os.FileInfo
}

type walk struct {
	b       *Builder
	tree    *ipm.Tree
	ignores *ignore.GitIgnore
	jobs    []fileJob
}

// Build ingests the file or directory at root. Symbolic links are
// followed; a link leading back to a directory on the current walk path
// fails with ErrCycleDetected. Unreadable entries fail with
// ErrAccessDenied. The first I/O error aborts the build.
func (b *Builder) Build(root string) (*ipm.Tree, error) {
	start := time.Now()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolve %s: %w", root, err)
	}
	info, err := b.fs.Stat(abs)
	if err != nil {
		return nil, classify("stat", abs, err)
	}

	w := &walk{b: b}
	top := ipm.NewNode(fileInfo(abs, info))
	w.tree = ipm.NewTree(top)
	if info.IsDir() {
		if w.ignores, err = b.loadIgnoreFile(abs); err != nil {
			return nil, err
		}
		stack := []frame{{canonical: abs, info: info}}
		if err := w.dir(abs, "", top, stack); err != nil {
			return nil, err
		}
	} else if info.Mode().IsRegular() {
		w.jobs = append(w.jobs, fileJob{node: top, path: abs})
	}

	if err := b.digest(w.jobs); err != nil {
		return nil, err
	}
	w.tree.PropagateIgnored()

	b.logger.Debug("ingest: built tree",
		slog.String("root", abs),
		slog.Int("nodes", w.tree.Len()),
		slog.Int("files", len(w.jobs)),
		slog.Duration("took", time.Since(start)))
	return w.tree, nil
}

func (b *Builder) loadIgnoreFile(root string) (*ignore.GitIgnore, error) {
	if b.opts.IgnoreFile == "" {
		return nil, nil
	}
	data, err := util.ReadFile(b.fs, b.fs.Join(root, b.opts.IgnoreFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, classify("read ignore file", root, err)
	}
	return ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...), nil
}

func (w *walk) dir(dirPath, rel string, parent *ipm.Node, stack []frame) error {
	entries, err := w.b.fs.ReadDir(dirPath)
	if err != nil {
		return classify("read dir", dirPath, err)
	}
	here := stack[len(stack)-1]
	for _, entry := range entries {
		name := entry.Name()
		full := w.b.fs.Join(dirPath, name)
		relPath := path.Join(rel, name)
		canonical := w.b.fs.Join(here.canonical, name)

		info := entry
		if entry.Mode()&os.ModeSymlink != 0 {
			target, err := w.b.fs.Stat(full)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					w.b.logger.Warn("ingest: dangling link skipped", slog.String("path", full))
					continue
				}
				return classify("stat", full, err)
			}
			info = target
			if dest, err := w.b.fs.Readlink(full); err == nil {
				if !filepath.IsAbs(dest) {
					dest = w.b.fs.Join(here.canonical, dest)
				}
				canonical = filepath.Clean(dest)
			}
		}

		switch {
		case info.IsDir():
			if cyclic(stack, canonical, info) {
				return apperr.New(apperr.ErrCycleDetected, "ingest", "%s leads back to an enclosing directory", full)
			}
			n := ipm.NewNode(fileInfo(full, info))
			n.Ignored = w.ignored(name, relPath, true)
			if err := w.tree.AddChild(parent.ID, n); err != nil {
				return err
			}
			next := append(stack[:len(stack):len(stack)], frame{canonical: canonical, info: info})
			if err := w.dir(full, relPath, n, next); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			n := ipm.NewNode(fileInfo(full, info))
			n.Ignored = w.ignored(name, relPath, false)
			if err := w.tree.AddChild(parent.ID, n); err != nil {
				return err
			}
			w.jobs = append(w.jobs, fileJob{node: n, path: full})
		default:
			w.b.logger.Debug("ingest: special file skipped", slog.String("path", full))
		}
	}
	return nil
}

// cyclic reports whether a directory is already on the walk path, either
// by resolved path or by filesystem identity.
func cyclic(stack []frame, canonical string, info os.FileInfo) bool {
	for _, f := range stack {
		if f.canonical == canonical || os.SameFile(f.info, info) {
			return true
		}
	}
	return false
}

func (w *walk) ignored(name, rel string, isDir bool) bool {
	opts := w.b.opts
	if opts.HiddenPrefix != "" && strings.HasPrefix(name, opts.HiddenPrefix) {
		return true
	}
	for _, p := range opts.IgnorePatterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	if w.ignores != nil {
		if isDir && w.ignores.MatchesPath(rel+"/") {
			return true
		}
		return w.ignores.MatchesPath(rel)
	}
	return false
}

// digest reads every file once on a bounded pool, filling checksums and
// formats in place.
func (b *Builder) digest(jobs []fileJob) error {
	var g errgroup.Group
	g.SetLimit(b.opts.Workers)
	for _, job := range jobs {
		g.Go(func() error {
			sums, format, err := b.readFile(job.path)
			if err != nil {
				return err
			}
			fi := job.node.File
			fi.Checksums = make(map[string]string, len(sums))
			for alg, v := range sums {
				fi.Checksums[string(alg)] = v
			}
			if format != "" {
				fi.Formats = []string{format}
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *Builder) readFile(p string) (map[checksum.Algorithm]string, string, error) {
	f, err := b.fs.Open(p)
	if err != nil {
		return nil, "", classify("open", p, err)
	}
	defer f.Close()

	set, err := checksum.NewSet(b.opts.Algorithms...)
	if err != nil {
		return nil, "", err
	}
	header := make([]byte, headerSize)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", classify("read", p, err)
	}
	header = header[:n]
	set.Write(header)
	if _, err := io.Copy(set, f); err != nil {
		return nil, "", classify("read", p, err)
	}
	return set.Sums(), mimetype.Detect(header).String(), nil
}

func fileInfo(p string, info os.FileInfo) *ipm.FileInfo {
	fi := &ipm.FileInfo{
		Location:    ipm.PathToURI(p),
		Name:        info.Name(),
		Size:        -1,
		Created:     info.ModTime().UTC(),
		Modified:    info.ModTime().UTC(),
		IsFile:      info.Mode().IsRegular(),
		IsDirectory: info.IsDir(),
	}
	if fi.IsFile {
		fi.Size = info.Size()
	}
	return fi
}

// classify maps permission failures to ErrAccessDenied and wraps the rest.
func classify(op, p string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return apperr.Wrap(apperr.ErrAccessDenied, "ingest: "+op+" "+p, err)
	}
	return fmt.Errorf("ingest: %s %s: %w", op, p, err)
}
