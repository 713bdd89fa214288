package ipmgraph

// Namespace is the IRI namespace of the package model vocabulary.
const Namespace = "http://dataconservancy.org/ipm#"

// Node terms.
const (
	// ClassNode is asserted as rdf:type on every serialised node.
	ClassNode = Namespace + "Node"

	// IsRoot marks the single root node with a true boolean literal.
	IsRoot = Namespace + "isRoot"

	// IsIgnored carries the ignored flag of every node.
	IsIgnored = Namespace + "isIgnored"

	// HasParent links a node to its parent node.
	HasParent = Namespace + "hasParent"

	// HasChild links a node to each child node.
	HasChild = Namespace + "hasChild"

	// Position is the zero-based index of a node among its siblings.
	Position = Namespace + "position"

	// NodeType references the primary node type identifier.
	NodeType = Namespace + "nodeType"

	// SubNodeType references each secondary node type identifier.
	SubNodeType = Namespace + "subNodeType"

	// DomainObject references the materialised domain object.
	DomainObject = Namespace + "domainObject"

	// HasFileInfo links a node to the blank node describing its backing file.
	HasFileInfo = Namespace + "fileInfo"
)

// File information terms, attached to the blank node of HasFileInfo.
const (
	Location    = Namespace + "location"
	Name        = Namespace + "name"
	Size        = Namespace + "size"
	Created     = Namespace + "created"
	Modified    = Namespace + "modified"
	IsFile      = Namespace + "isFile"
	IsDirectory = Namespace + "isDirectory"
	Format      = Namespace + "format"

	// HasChecksum links file information to one blank node per algorithm.
	HasChecksum = Namespace + "checksum"
	// Algorithm names the checksum algorithm, e.g. "sha256".
	Algorithm = Namespace + "algorithm"
	// Value is the lowercase hex digest.
	Value = Namespace + "value"
)
