// Package graph holds the workflow graph model: nodes, edges, the session
// store of per-node results and the upstream resolver queries over it.
package graph

import "errors"

// ErrNodeNotFound is returned when an operation references a node ID that
// does not exist in the session.
var ErrNodeNotFound = errors.New("node not found")

// ErrEdgeNotFound is returned by Disconnect for an unknown edge ID.
var ErrEdgeNotFound = errors.New("edge not found")

// ErrDuplicateNode indicates AddNode was called with an ID already in use.
var ErrDuplicateNode = errors.New("duplicate node id")

// ErrDuplicateEdge indicates Connect was called with an edge ID already in use.
var ErrDuplicateEdge = errors.New("duplicate edge id")

// ErrEdgeEndpoint indicates an edge whose source or target does not reference
// an existing node.
var ErrEdgeEndpoint = errors.New("edge endpoint does not reference an existing node")

// ErrDuplicateDefaultInput indicates a second default-port edge into a node
// that already has one. A node has at most one default upstream.
var ErrDuplicateDefaultInput = errors.New("node already has a default-port upstream edge")

// ErrDuplicatePort indicates a second edge into the same named capability port.
var ErrDuplicatePort = errors.New("capability port already connected")

// ErrUnknownNodeType is returned by ParseNodeType for names outside the
// closed node type set.
var ErrUnknownNodeType = errors.New("unknown node type")

// ErrInvalidNode indicates a node or edge record failed struct validation.
var ErrInvalidNode = errors.New("invalid graph element")
