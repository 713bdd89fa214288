// Package ipm defines the Item Package Model: a tree of nodes describing the
// files and directories destined for a package, each optionally typed
// against a domain profile.
package ipm

import (
	"maps"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileInfo describes the filesystem object behind a node. It is filled once
// at ingestion time; Remap and Refresh are the only sanctioned mutations.
type FileInfo struct {
	Location    string            `json:"location"`
	Name        string            `json:"name"`
	Size        int64             `json:"size"` // -1 for directories or when unknown
	Created     time.Time         `json:"created"`
	Modified    time.Time         `json:"modified"`
	IsFile      bool              `json:"is_file"`
	IsDirectory bool              `json:"is_directory"`
	Checksums   map[string]string `json:"checksums,omitempty"`
	// Formats is a set of media types; serialised graphs hold it sorted.
	Formats []string `json:"formats,omitempty"`
}

// Clone returns a deep copy of fi.
func (fi *FileInfo) Clone() *FileInfo {
	if fi == nil {
		return nil
	}
	out := *fi
	out.Checksums = maps.Clone(fi.Checksums)
	out.Formats = slices.Clone(fi.Formats)
	return &out
}

// Remap replaces every field with the values from other. Used when a node is
// pointed at a different backing file.
func (fi *FileInfo) Remap(other *FileInfo) {
	*fi = *other.Clone()
}

// Refresh updates content-derived facts in place.
func (fi *FileInfo) Refresh(checksums map[string]string, size int64, modified time.Time) {
	fi.Checksums = maps.Clone(checksums)
	fi.Size = size
	fi.Modified = modified
}

// Path returns the local filesystem path encoded in Location.
func (fi *FileInfo) Path() string {
	return URIToPath(fi.Location)
}

// Equal reports whether two FileInfos describe the same content: same
// location, kind and size, and identical values for every checksum
// algorithm known to both.
func (fi *FileInfo) Equal(other *FileInfo) bool {
	if fi == nil || other == nil {
		return fi == other
	}
	if fi.Location != other.Location || fi.Size != other.Size ||
		fi.IsFile != other.IsFile || fi.IsDirectory != other.IsDirectory {
		return false
	}
	for alg, v := range fi.Checksums {
		if ov, ok := other.Checksums[alg]; ok && ov != v {
			return false
		}
	}
	return true
}

// PathToURI converts a filesystem path to an absolute file:// URI.
func PathToURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}

// URIToPath converts a file:// URI back to a local path. Anything else is
// returned unchanged.
func URIToPath(uri string) string {
	if !strings.HasPrefix(uri, "file:") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	return filepath.FromSlash(u.Path)
}

// NewID mints a fresh node identifier.
func NewID() string {
	return "urn:uuid:" + uuid.NewString()
}

// Node is one entry of the tree. Parent and Children are maintained by
// Tree; do not edit them directly.
type Node struct {
	ID           string    `json:"id"`
	Parent       string    `json:"parent,omitempty"`
	Children     []string  `json:"children,omitempty"`
	File         *FileInfo `json:"file,omitempty"`
	Type         string    `json:"type,omitempty"`
	SubTypes     []string  `json:"sub_types,omitempty"`
	DomainObject string    `json:"domain_object,omitempty"`
	Ignored      bool      `json:"ignored"`
}

// NewNode returns an untyped node with a fresh identifier.
func NewNode(fi *FileInfo) *Node {
	return &Node{ID: NewID(), File: fi}
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool { return n.Parent == "" }

// IsFile reports whether the node is backed by a regular file.
func (n *Node) IsFile() bool { return n.File != nil && n.File.IsFile }

// IsDirectory reports whether the node is backed by a directory.
func (n *Node) IsDirectory() bool { return n.File != nil && n.File.IsDirectory }

// Name returns the backing file name, or the ID for virtual nodes.
func (n *Node) Name() string {
	if n.File != nil && n.File.Name != "" {
		return n.File.Name
	}
	return n.ID
}

// HasSubType reports whether typeID is among the node's secondary types.
func (n *Node) HasSubType(typeID string) bool {
	return slices.Contains(n.SubTypes, typeID)
}

func (n *Node) clone() *Node {
	out := *n
	out.Children = slices.Clone(n.Children)
	out.SubTypes = slices.Clone(n.SubTypes)
	out.File = n.File.Clone()
	return &out
}
