package mcpserver

// EditingGuide describes how LLM consumers should inspect and edit a
// package tree through the tools of this server.
const EditingGuide = `# Package Editing Guide

A package is a directory tree. Every file and directory is a node with a
stable identifier, a file location (` + "`" + `file://` + "`" + ` URI) and a node type
taken from the domain profile (resource ` + "`" + `ipm://profile` + "`" + `).

## Reading

1. Call ` + "`" + `get_tree` + "`" + ` to list every node in pre-order.
2. Call ` + "`" + `get_node` + "`" + ` for one node's properties, the types it may
   change to and the transforms it accepts.

## Editing

- Change a type only to one listed by ` + "`" + `valid_types` + "`" + `. Anything else is
  rejected and the tree is left untouched.
- Apply a transform only when ` + "`" + `get_node` + "`" + ` lists its identifier.
- Properties marked as supplied by the system (size, format, checksums,
  dates) cannot be set by hand.

## Checking

- ` + "`" + `validate` + "`" + ` reports every property constraint that is not met.
- ` + "`" + `refresh` + "`" + ` rescans the directory. Added, deleted and updated files
  are merged into the tree and new nodes are typed where possible.
- ` + "`" + `export_graph` + "`" + ` returns the package as N-Triples.
`
