// Package impact walks the dependency graph outward from a change to
// compute its blast radius: which components, services, and docs a code
// change or operational complaint touches, and why.
package impact

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"driftd/internal/graph"
	"driftd/internal/severity"
)

// Origin tags what kind of change triggered propagation.
type Origin string

const (
	OriginGitPR          Origin = "git_pr"
	OriginSlackComplaint Origin = "slack_complaint"
)

// ChangeEvent is one ingested change. Created once, immutable.
type ChangeEvent struct {
	ID                  string            `json:"id"`
	Origin              Origin            `json:"origin"`
	ChangedComponentIDs []string          `json:"changed_component_ids"`
	Meta                map[string]string `json:"meta,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

// NewChangeEvent mints a ChangeEvent with a fresh id.
func NewChangeEvent(origin Origin, changed []string, meta map[string]string) ChangeEvent {
	return ChangeEvent{
		ID:                  uuid.New().String(),
		Origin:              origin,
		ChangedComponentIDs: append([]string(nil), changed...),
		Meta:                meta,
		CreatedAt:           time.Now().UTC(),
	}
}

// Config is the propagation policy, passed in at call time.
type Config struct {
	// MaxDepth bounds the BFS in hops from the changed components.
	MaxDepth int

	// EdgeKinds is the traversal set. Default {depends_on, documents}:
	// exposes and belongs_to are projection-only relations, they map
	// components to services rather than carry drift.
	EdgeKinds []graph.EdgeKind
}

func DefaultConfig() Config {
	return Config{
		MaxDepth:  3,
		EdgeKinds: []graph.EdgeKind{graph.EdgeDependsOn, graph.EdgeDocuments},
	}
}

// Impacted is one discovered entity with its shortest-path hop depth and a
// human-readable reason.
type Impacted struct {
	ID     string `json:"id"`
	Depth  int    `json:"depth"`
	Reason string `json:"reason"`
}

// Report is the blast radius of one ChangeEvent. It is regenerable: a pure
// query result over the graph and current evidence, never persisted on its
// own.
type Report struct {
	ChangeEventID      string     `json:"change_event_id"`
	ImpactLevel        string     `json:"impact_level"`
	ChangedComponents  []string   `json:"changed_components"`
	ImpactedComponents []Impacted `json:"impacted_components"`
	ImpactedServices   []Impacted `json:"impacted_services"`
	ImpactedDocs       []Impacted `json:"impacted_docs"`
}

// ScoreFunc supplies the severity score for an entity id during impact
// level computation.
type ScoreFunc func(entityID string) float64

// Propagator runs BFS over a graph store. Traversal of a single event is
// single-threaded (depth ties depend on visit order); independent events
// may propagate concurrently, the store handles reader concurrency.
type Propagator struct {
	g   *graph.Store
	cfg Config
}

func NewPropagator(g *graph.Store, cfg Config) *Propagator {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if len(cfg.EdgeKinds) == 0 {
		cfg.EdgeKinds = DefaultConfig().EdgeKinds
	}
	return &Propagator{g: g, cfg: cfg}
}

// Propagate computes the blast radius of one ChangeEvent. Changed
// components sit at depth 0; discovery walks incoming depends_on edges
// (dependents are impacted) and incoming documents edges, recording the
// shortest-path depth per node. A node visited at a shallower depth is
// never revisited deeper, so every node gets exactly one depth and reason.
func (p *Propagator) Propagate(event ChangeEvent, scores ScoreFunc) (*Report, error) {
	if len(event.ChangedComponentIDs) == 0 {
		return nil, fmt.Errorf("change event %s has no changed components", event.ID)
	}

	kinds := make(map[graph.EdgeKind]bool, len(p.cfg.EdgeKinds))
	for _, k := range p.cfg.EdgeKinds {
		kinds[k] = true
	}

	report := &Report{
		ChangeEventID:     event.ID,
		ChangedComponents: append([]string(nil), event.ChangedComponentIDs...),
	}

	type queued struct {
		id    string
		depth int
	}

	visited := make(map[string]bool, len(event.ChangedComponentIDs))
	var queue []queued
	for _, id := range event.ChangedComponentIDs {
		if _, ok := p.g.Node(id); !ok {
			return nil, fmt.Errorf("change event %s references unknown component %q", event.ID, id)
		}
		if !visited[id] {
			visited[id] = true
			queue = append(queue, queued{id: id, depth: 0})
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth == p.cfg.MaxDepth {
			continue
		}
		for _, edge := range p.g.NeighborEdges(cur.id, graph.Incoming) {
			if !kinds[edge.Kind] {
				continue
			}
			next := edge.SourceID
			if visited[next] {
				continue
			}
			visited[next] = true
			depth := cur.depth + 1

			node, ok := p.g.Node(next)
			if !ok {
				continue
			}
			hit := Impacted{
				ID:     next,
				Depth:  depth,
				Reason: reasonFor(edge.Kind, cur.id, depth),
			}
			switch node.Kind {
			case graph.KindDoc:
				report.ImpactedDocs = append(report.ImpactedDocs, hit)
			case graph.KindService:
				report.ImpactedServices = append(report.ImpactedServices, hit)
			default:
				report.ImpactedComponents = append(report.ImpactedComponents, hit)
			}
			queue = append(queue, queued{id: next, depth: depth})
		}
	}

	p.projectServices(report)
	report.ImpactLevel = p.impactLevel(event, report, scores)
	return report, nil
}

// projectServices maps changed and impacted components to their owning
// services via outgoing belongs_to edges, keeping the shallowest depth per
// service.
func (p *Propagator) projectServices(report *Report) {
	seen := make(map[string]int)
	for _, svc := range report.ImpactedServices {
		seen[svc.ID] = svc.Depth
	}

	consider := func(componentID string, depth int) {
		for _, edge := range p.g.NeighborEdges(componentID, graph.Outgoing) {
			if edge.Kind != graph.EdgeBelongsTo {
				continue
			}
			if prev, ok := seen[edge.TargetID]; ok && prev <= depth {
				continue
			}
			seen[edge.TargetID] = depth
			report.ImpactedServices = append(report.ImpactedServices, Impacted{
				ID:     edge.TargetID,
				Depth:  depth,
				Reason: fmt.Sprintf("Owns %s at depth %d", componentID, depth),
			})
		}
	}

	for _, id := range report.ChangedComponents {
		consider(id, 0)
	}
	for _, imp := range report.ImpactedComponents {
		consider(imp.ID, imp.Depth)
	}

	// Projection may discover a shallower path for an already-listed
	// service; keep one entry per service at its minimum depth.
	byID := make(map[string]Impacted)
	var order []string
	for _, svc := range report.ImpactedServices {
		if existing, ok := byID[svc.ID]; !ok {
			byID[svc.ID] = svc
			order = append(order, svc.ID)
		} else if svc.Depth < existing.Depth {
			byID[svc.ID] = svc
		}
	}
	report.ImpactedServices = report.ImpactedServices[:0]
	for _, id := range order {
		report.ImpactedServices = append(report.ImpactedServices, byID[id])
	}
}

// impactLevel is the severity label of the maximum score among changed and
// impacted entities.
func (p *Propagator) impactLevel(event ChangeEvent, report *Report, scores ScoreFunc) string {
	if scores == nil {
		return severity.Label(0)
	}
	var max float64
	consider := func(id string) {
		if s := scores(id); s > max {
			max = s
		}
	}
	for _, id := range report.ChangedComponents {
		consider(id)
	}
	for _, imp := range report.ImpactedComponents {
		consider(imp.ID)
	}
	for _, imp := range report.ImpactedServices {
		consider(imp.ID)
	}
	for _, imp := range report.ImpactedDocs {
		consider(imp.ID)
	}
	return severity.Label(max)
}

// DocPairs enumerates (changed component, impacted doc) pairs in
// deterministic order, the unit the DocIssue lifecycle keys on.
func (r *Report) DocPairs() [][2]string {
	changed := append([]string(nil), r.ChangedComponents...)
	sort.Strings(changed)

	var pairs [][2]string
	for _, comp := range changed {
		for _, doc := range r.ImpactedDocs {
			pairs = append(pairs, [2]string{comp, doc.ID})
		}
	}
	return pairs
}

func reasonFor(kind graph.EdgeKind, target string, depth int) string {
	switch kind {
	case graph.EdgeDependsOn:
		return fmt.Sprintf("Depends on %s at depth %d", target, depth)
	case graph.EdgeDocuments:
		return fmt.Sprintf("Documents %s at depth %d", target, depth)
	default:
		return fmt.Sprintf("Linked to %s at depth %d", target, depth)
	}
}
