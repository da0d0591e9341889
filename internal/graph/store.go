package graph

import "sync"

type edgeKey struct {
	source string
	target string
	kind   EdgeKind
}

// Store holds the dependency graph in a flat arena: nodes and edges keyed
// by stable string ids, adjacency as id lists, never object references.
// One writer at a time, many concurrent readers; every upsert is atomic per
// node/edge so readers never observe a half-written entry.
type Store struct {
	mu sync.RWMutex

	nodes     map[string]*Node
	nodeOrder []string

	edges     map[edgeKey]*Edge
	edgeOrder []edgeKey

	out map[string][]edgeKey
	in  map[string][]edgeKey
}

func NewStore() *Store {
	return &Store{
		nodes: make(map[string]*Node),
		edges: make(map[edgeKey]*Edge),
		out:   make(map[string][]edgeKey),
		in:    make(map[string][]edgeKey),
	}
}

// UpsertNode creates the node if absent, otherwise merges metadata
// non-destructively: incoming non-empty fields win, existing keys are never
// removed. Re-upserting identical fields is a no-op. Returns true when the
// node was created.
func (s *Store) UpsertNode(n Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[n.ID]
	if !ok {
		stored := n
		stored.Meta = copyMeta(n.Meta)
		s.nodes[n.ID] = &stored
		s.nodeOrder = append(s.nodeOrder, n.ID)
		return true
	}

	if n.Name != "" {
		existing.Name = n.Name
	}
	if n.Kind != "" {
		existing.Kind = n.Kind
	}
	if len(n.Meta) > 0 {
		if existing.Meta == nil {
			existing.Meta = make(map[string]string, len(n.Meta))
		}
		for k, v := range n.Meta {
			if v != "" {
				existing.Meta[k] = v
			}
		}
	}
	return false
}

// UpsertEdge adds the edge, rejecting it with an InconsistencyError when
// either endpoint is missing. Re-upserting an identical edge is a no-op;
// differing contracts are unioned.
func (s *Store) UpsertEdge(e Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertEdgeLocked(e)
}

// UpsertEdges applies a batch. Each bad edge is rejected individually; the
// rest of the batch proceeds. Returned errors are all InconsistencyError.
func (s *Store) UpsertEdges(edges []Edge) []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, e := range edges {
		if err := s.upsertEdgeLocked(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *Store) upsertEdgeLocked(e Edge) error {
	if _, ok := s.nodes[e.SourceID]; !ok {
		return &InconsistencyError{Edge: e, Missing: e.SourceID}
	}
	if _, ok := s.nodes[e.TargetID]; !ok {
		return &InconsistencyError{Edge: e, Missing: e.TargetID}
	}

	key := edgeKey{source: e.SourceID, target: e.TargetID, kind: e.Kind}
	if existing, ok := s.edges[key]; ok {
		existing.Contracts = unionStrings(existing.Contracts, e.Contracts)
		return nil
	}

	stored := e
	stored.Contracts = append([]string(nil), e.Contracts...)
	s.edges[key] = &stored
	s.edgeOrder = append(s.edgeOrder, key)
	s.out[e.SourceID] = append(s.out[e.SourceID], key)
	s.in[e.TargetID] = append(s.in[e.TargetID], key)
	return nil
}

// Archive soft-deletes a node. Edges and historical references stay intact.
func (s *Store) Archive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return false
	}
	n.Archived = true
	return true
}

// Node returns a copy of the node, so callers can never mutate the arena.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return snapshotNode(n), true
}

// Neighbors returns directly adjacent nodes in the given direction, in edge
// insertion order.
func (s *Store) Neighbors(id string, dir Direction) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Node
	for _, key := range s.adjacencyLocked(id, dir) {
		otherID := key.target
		if dir == Incoming {
			otherID = key.source
		}
		if n, ok := s.nodes[otherID]; ok {
			result = append(result, snapshotNode(n))
		}
	}
	return result
}

// NeighborEdges returns the edges adjacent to id in the given direction.
func (s *Store) NeighborEdges(id string, dir Direction) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Edge
	for _, key := range s.adjacencyLocked(id, dir) {
		result = append(result, *s.edges[key])
	}
	return result
}

// ReachableWithin performs a breadth-first traversal from id, bounded by
// maxDepth hops. The visited set keyed by node id guarantees termination on
// cyclic graphs and visits each node at most once, so every recorded depth
// is the shortest path length. Ties at equal depth keep edge insertion
// order. The start node itself is not included.
func (s *Store) ReachableWithin(id string, maxDepth int, opts TraversalOptions) []Reach {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok || maxDepth <= 0 {
		return nil
	}

	visited := map[string]bool{id: true}
	queue := []Reach{{NodeID: id, Depth: 0}}
	var result []Reach

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.Depth == maxDepth {
			continue
		}
		for _, key := range s.adjacencyLocked(cur.NodeID, opts.Direction) {
			if opts.Kinds != nil && !opts.Kinds[key.kind] {
				continue
			}
			otherID := key.target
			if opts.Direction == Incoming {
				otherID = key.source
			}
			if visited[otherID] {
				continue
			}
			visited[otherID] = true
			next := Reach{NodeID: otherID, Depth: cur.Depth + 1}
			result = append(result, next)
			queue = append(queue, next)
		}
	}
	return result
}

// Snapshot returns all nodes and edges in insertion order, for persistence.
func (s *Store) Snapshot() ([]Node, []Edge) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]Node, 0, len(s.nodeOrder))
	for _, id := range s.nodeOrder {
		nodes = append(nodes, snapshotNode(s.nodes[id]))
	}
	edges := make([]Edge, 0, len(s.edgeOrder))
	for _, key := range s.edgeOrder {
		edges = append(edges, *s.edges[key])
	}
	return nodes, edges
}

// NodesByKind returns nodes of one kind in insertion order.
func (s *Store) NodesByKind(kind NodeKind) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Node
	for _, id := range s.nodeOrder {
		if n := s.nodes[id]; n.Kind == kind {
			result = append(result, snapshotNode(n))
		}
	}
	return result
}

func (s *Store) adjacencyLocked(id string, dir Direction) []edgeKey {
	if dir == Incoming {
		return s.in[id]
	}
	return s.out[id]
}

func snapshotNode(n *Node) Node {
	c := *n
	c.Meta = copyMeta(n.Meta)
	return c
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			a = append(a, s)
		}
	}
	return a
}
