package graph

import "fmt"

// NodeKind is the closed set of graph entity kinds.
type NodeKind string

const (
	KindComponent   NodeKind = "component"
	KindService     NodeKind = "service"
	KindAPIEndpoint NodeKind = "api_endpoint"
	KindDoc         NodeKind = "doc"
)

// Node is a vertex in the dependency graph. Nodes are append-only upserted
// and never hard-deleted; Archived marks soft removal so historical
// DocIssues keep resolvable references.
type Node struct {
	ID       string            `json:"id"`
	Kind     NodeKind          `json:"kind"`
	Name     string            `json:"name"`
	Meta     map[string]string `json:"meta,omitempty"`
	Archived bool              `json:"archived,omitempty"`
}

// EdgeKind classifies a directed relationship.
type EdgeKind string

const (
	EdgeDependsOn EdgeKind = "depends_on" // component -> component it depends on
	EdgeDocuments EdgeKind = "documents"  // doc -> component/endpoint it documents
	EdgeExposes   EdgeKind = "exposes"    // service -> api endpoint
	EdgeBelongsTo EdgeKind = "belongs_to" // component -> owning service
)

// Edge is a directed relationship between two nodes. The graph may contain
// cycles; traversal must never assume a DAG.
type Edge struct {
	SourceID  string   `json:"source_id"`
	TargetID  string   `json:"target_id"`
	Kind      EdgeKind `json:"kind"`
	Contracts []string `json:"contracts,omitempty"`
}

// Direction selects which adjacency a traversal follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// InconsistencyError reports an edge referencing a node that does not
// exist. The edge is rejected; the rest of the batch proceeds.
type InconsistencyError struct {
	Edge    Edge
	Missing string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("graph inconsistency: edge %s-[%s]->%s references missing node %q",
		e.Edge.SourceID, e.Edge.Kind, e.Edge.TargetID, e.Missing)
}

// Reach is one node discovered by a bounded traversal, with its hop depth.
type Reach struct {
	NodeID string `json:"node_id"`
	Depth  int    `json:"depth"`
}

// TraversalOptions bound a reachability query. A nil Kinds set allows every
// edge kind.
type TraversalOptions struct {
	Direction Direction
	Kinds     map[EdgeKind]bool
}
