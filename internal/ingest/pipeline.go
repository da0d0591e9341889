// Package ingest runs the end-to-end drift pipeline: fetch raw signals
// through the gateway, normalize them into evidence, persist, mint change
// events, propagate impact, and fold the results into doc issues.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"driftd/internal/gateway"
	"driftd/internal/graph"
	"driftd/internal/impact"
	"driftd/internal/issue"
	"driftd/internal/severity"
	"driftd/internal/signal"
	"driftd/internal/storage"
)

// Sources is the fetch order for a full run.
var Sources = []signal.Source{
	signal.SourceGit,
	signal.SourceSlack,
	signal.SourceTicket,
	signal.SourceSupport,
	signal.SourceDoc,
}

// SourceResult summarizes one source's leg of a run.
type SourceResult struct {
	Source         signal.Source          `json:"source"`
	Mode           gateway.Mode           `json:"mode"`
	FallbackReason gateway.FallbackReason `json:"fallback_reason,omitempty"`
	EvidenceCount  int                    `json:"evidence_count"`
	Warnings       []signal.Warning       `json:"warnings,omitempty"`
}

// RunSummary is what one pipeline run produced.
type RunSummary struct {
	Mode           gateway.Mode      `json:"mode"`
	Sources        []SourceResult    `json:"sources"`
	ChangeEventIDs []string          `json:"change_event_ids"`
	Issues         []*issue.DocIssue `json:"issues"`
}

// Pipeline wires the engine's stages together. Each source fetches and
// normalizes in its own worker, so a slow or failing provider for one
// source never blocks the others; persistence and propagation run after
// the fan-in because they share the graph and the SQLite store.
type Pipeline struct {
	Gateway   *gateway.Gateway
	Resolver  *signal.EntityResolver
	Graph     *graph.Store
	Store     *storage.SQLiteStore
	Manager   *issue.Manager
	Severity  severity.Config
	Impact    impact.Config
	ProjectID string
	Logger    *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

type sourceBatch struct {
	result   SourceResult
	evidence []signal.Evidence
	// origin project per evidence index; synthetic fixtures carry their
	// own namespace, live payloads inherit the pipeline's project.
	projects []string
	// complaint flags slack/ticket/support evidence whose text reads as an
	// operational complaint.
	complaint []bool
}

// Run executes one full ingestion pass and returns its summary.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	batches := make([]sourceBatch, len(Sources))

	// One worker per source, no shared limit: a stalled provider for one
	// source must never hold up another source's fetch.
	g, fetchCtx := errgroup.WithContext(ctx)
	for i, src := range Sources {
		i, src := i, src
		g.Go(func() error {
			batches[i] = p.fetchSource(fetchCtx, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &RunSummary{}
	var modes []gateway.Mode
	for _, b := range batches {
		summary.Sources = append(summary.Sources, b.result)
		modes = append(modes, b.result.Mode)
	}
	summary.Mode = gateway.CombineModes(modes)

	if err := p.persistEvidence(ctx, batches); err != nil {
		return nil, err
	}

	events := p.mintChangeEvents(batches)
	for _, ce := range events {
		if err := p.Store.SaveChangeEvent(ctx, ce.event); err != nil {
			return nil, fmt.Errorf("save change event: %w", err)
		}
		summary.ChangeEventIDs = append(summary.ChangeEventIDs, ce.event.ID)

		issues, err := p.applyEvent(ctx, ce)
		if err != nil {
			return nil, err
		}
		summary.Issues = append(summary.Issues, issues...)
	}

	p.logger().Info("ingest run complete",
		"mode", summary.Mode,
		"change_events", len(summary.ChangeEventIDs),
		"issues", len(summary.Issues))
	return summary, nil
}

// fetchSource runs the gateway fetch and normalization for one source.
// Never returns an error: a degraded provider already fell back to
// synthetic fixtures inside the gateway.
func (p *Pipeline) fetchSource(ctx context.Context, src signal.Source) sourceBatch {
	resp := p.Gateway.FetchSignals(ctx, src)

	batch := sourceBatch{result: SourceResult{
		Source:         src,
		Mode:           resp.Mode,
		FallbackReason: resp.FallbackReason,
	}}

	for _, raw := range resp.Payloads {
		evs, warnings := signal.Normalize(raw, p.Resolver)
		batch.result.Warnings = append(batch.result.Warnings, warnings...)
		for _, ev := range evs {
			project := raw.ProjectID
			if project == "" {
				project = p.ProjectID
			}
			batch.evidence = append(batch.evidence, ev)
			batch.projects = append(batch.projects, project)
			batch.complaint = append(batch.complaint, severity.IsComplaint(raw.Text))
		}
	}
	batch.result.EvidenceCount = len(batch.evidence)

	if resp.FallbackReason != "" {
		p.logger().Warn("source degraded to synthetic fixtures",
			"source", src, "reason", resp.FallbackReason)
	}
	return batch
}

func (p *Pipeline) persistEvidence(ctx context.Context, batches []sourceBatch) error {
	for _, b := range batches {
		for _, ev := range b.evidence {
			if err := p.Store.SaveEvidence(ctx, ev); err != nil {
				return fmt.Errorf("save evidence %s: %w", ev.ID, err)
			}
			p.touchNodes(ev)
		}
	}
	return nil
}

// touchNodes stamps each referenced graph node with the freshest evidence
// timestamp. Only known nodes are touched; evidence never invents topology.
func (p *Pipeline) touchNodes(ev signal.Evidence) {
	for _, ref := range ev.EntityRefs {
		if _, ok := p.Graph.Node(ref); !ok {
			continue
		}
		p.Graph.UpsertNode(graph.Node{ID: ref, Meta: map[string]string{
			"last_evidence_at": ev.Timestamp.UTC().Format(time.RFC3339),
		}})
	}
}

type pendingEvent struct {
	event     impact.ChangeEvent
	projectID string
	// evidenceIDs are the ids that justified this event, attached to every
	// doc issue it produces.
	evidenceIDs []string
}

// mintChangeEvents turns this run's evidence into change events. Git
// evidence touching known components becomes a git_pr event; complaint
// evidence (slack, ticket, support) naming known components becomes a
// slack_complaint event. Doc evidence never mints events, it only feeds
// the staleness modality.
func (p *Pipeline) mintChangeEvents(batches []sourceBatch) []pendingEvent {
	var out []pendingEvent
	for _, b := range batches {
		for i, ev := range b.evidence {
			var origin impact.Origin
			switch {
			case ev.Source == signal.SourceGit:
				origin = impact.OriginGitPR
			case b.complaint[i]:
				origin = impact.OriginSlackComplaint
			default:
				continue
			}

			changed := p.knownComponents(ev.EntityRefs)
			if len(changed) == 0 {
				continue
			}

			out = append(out, pendingEvent{
				event: impact.NewChangeEvent(origin, changed, map[string]string{
					"evidence_id": ev.ID,
				}),
				projectID:   b.projects[i],
				evidenceIDs: []string{ev.ID},
			})
		}
	}
	return out
}

// knownComponents filters entity refs down to component nodes present in
// the graph. Service and doc refs stay evidence-only; propagation starts
// from components.
func (p *Pipeline) knownComponents(refs []string) []string {
	var out []string
	for _, ref := range refs {
		node, ok := p.Graph.Node(ref)
		if !ok || node.Archived {
			continue
		}
		if node.Kind == graph.KindComponent {
			out = append(out, ref)
		}
	}
	return out
}

// applyEvent propagates one change event and folds the resulting doc
// pairs into the issue store.
func (p *Pipeline) applyEvent(ctx context.Context, pe pendingEvent) ([]*issue.DocIssue, error) {
	prop := impact.NewPropagator(p.Graph, p.Impact)
	report, err := prop.Propagate(pe.event, p.scoreFunc(ctx))
	if err != nil {
		return nil, fmt.Errorf("propagate event %s: %w", pe.event.ID, err)
	}

	var maxScore float64
	for _, id := range report.ChangedComponents {
		if s := p.scoreEntity(ctx, id); s > maxScore {
			maxScore = s
		}
	}

	issues, err := p.Manager.Apply(ctx, report, issue.RecordInput{
		ProjectID:     pe.projectID,
		Severity:      maxScore,
		SeverityLabel: severity.Label(maxScore),
		EvidenceIDs:   pe.evidenceIDs,
		Now:           p.now(),
	})
	if err != nil {
		return issues, fmt.Errorf("apply report for event %s: %w", pe.event.ID, err)
	}
	return issues, nil
}

// scoreFunc adapts per-entity scoring for the propagator's impact level.
func (p *Pipeline) scoreFunc(ctx context.Context) impact.ScoreFunc {
	return func(entityID string) float64 {
		return p.scoreEntity(ctx, entityID)
	}
}

// scoreEntity computes the explainable severity score for one entity from
// its stored evidence plus its blast radius.
func (p *Pipeline) scoreEntity(ctx context.Context, entityID string) float64 {
	return p.ExplainEntity(ctx, entityID).FinalScore
}

// ExplainEntity returns the full scoring breakdown for one entity. The
// same path serves the pipeline and the severity-explanation API.
func (p *Pipeline) ExplainEntity(ctx context.Context, entityID string) severity.Explanation {
	evidence, err := p.Store.ListEvidenceForEntity(ctx, entityID)
	if err != nil {
		p.logger().Warn("evidence lookup failed", "entity", entityID, "err", err)
	}

	signals := severity.SignalsFromEvidence(evidence, p.now(), p.Severity)
	if radius := p.blastRadius(entityID); radius > 0 {
		signals[severity.ModalityGraph] = severity.GraphSignal(radius)
	}
	return severity.Score(signals, p.Severity)
}

func (p *Pipeline) blastRadius(entityID string) int {
	if _, ok := p.Graph.Node(entityID); !ok {
		return 0
	}
	kinds := make(map[graph.EdgeKind]bool, len(p.Impact.EdgeKinds))
	for _, k := range p.Impact.EdgeKinds {
		kinds[k] = true
	}
	reach := p.Graph.ReachableWithin(entityID, p.Impact.MaxDepth, graph.TraversalOptions{
		Direction: graph.Incoming,
		Kinds:     kinds,
	})
	return len(reach)
}

// Regenerate rebuilds the impact report for a stored change event. Reports
// are pure query results; the API serves them through this path.
func (p *Pipeline) Regenerate(ctx context.Context, changeEventID string) (*impact.Report, bool, error) {
	event, found, err := p.Store.GetChangeEvent(ctx, changeEventID)
	if err != nil || !found {
		return nil, found, err
	}
	prop := impact.NewPropagator(p.Graph, p.Impact)
	report, err := prop.Propagate(event, p.scoreFunc(ctx))
	if err != nil {
		return nil, true, err
	}
	return report, true, nil
}

// SortIssues orders issues by id for deterministic summaries.
func SortIssues(issues []*issue.DocIssue) {
	sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
}
