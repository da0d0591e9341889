package issue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"driftd/internal/impact"
)

// Store is the current-state persistence the manager reads and writes.
type Store interface {
	GetIssue(ctx context.Context, id string) (*DocIssue, bool, error)
	PutIssue(ctx context.Context, issue *DocIssue) error
}

// Journal receives one append-only record per mutation.
type Journal interface {
	AppendIssue(ctx context.Context, op string, issue *DocIssue) error
}

// Journal ops.
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpTransition = "transition"
)

// RecordInput carries the context of one drift detection.
type RecordInput struct {
	ProjectID       string
	Severity        float64
	SeverityLabel   string
	EvidenceIDs     []string
	InvestigationID string
	Now             time.Time
}

// Manager owns DocIssue create-or-update. Every mutation is a
// read-modify-write under a per-id lock, so concurrent re-ingestion of the
// same evidence cannot duplicate an issue or clobber operator-set fields.
type Manager struct {
	store   Store
	journal Journal
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store Store, journal Journal) *Manager {
	return &Manager{
		store:   store,
		journal: journal,
		logger:  slog.Default(),
		locks:   make(map[string]*sync.Mutex),
	}
}

// SetLogger overrides the logger used for non-fatal diagnostics.
func (m *Manager) SetLogger(l *slog.Logger) {
	if l != nil {
		m.logger = l
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Record creates or updates the DocIssue for one (changed entity, doc)
// pair within the input's project namespace. First detection creates with
// status=open; re-detection advances
// UpdatedAt and unions evidence ids without touching operator-set status.
// A resolved issue is never silently reopened: new evidence only flags it
// as a reopen candidate. Returns the stored issue and whether it was
// created.
func (m *Manager) Record(ctx context.Context, changedEntityID, docID string, in RecordInput) (*DocIssue, bool, error) {
	id := ID(in.ProjectID, changedEntityID, docID)
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	existing, found, err := m.store.GetIssue(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("load issue %s: %w", id, err)
	}

	if !found {
		created := &DocIssue{
			ID:                    id,
			ProjectID:             in.ProjectID,
			ComponentID:           changedEntityID,
			DocPath:               docID,
			Severity:              in.SeverityLabel,
			Score:                 in.Severity,
			Status:                StatusOpen,
			OriginInvestigationID: in.InvestigationID,
			EvidenceIDs:           sortedUnion(nil, in.EvidenceIDs),
			DetectedAt:            now,
			UpdatedAt:             now,
		}
		if err := m.store.PutIssue(ctx, created); err != nil {
			return nil, false, fmt.Errorf("create issue %s: %w", id, err)
		}
		m.append(ctx, OpCreate, created)
		return created.Clone(), true, nil
	}

	updated := existing.Clone()
	updated.UpdatedAt = now
	updated.EvidenceIDs = sortedUnion(updated.EvidenceIDs, in.EvidenceIDs)
	updated.Severity = in.SeverityLabel
	updated.Score = in.Severity
	if updated.OriginInvestigationID == "" {
		updated.OriginInvestigationID = in.InvestigationID
	}
	if updated.Status == StatusResolved {
		// Reopening needs an explicit operator decision; automation only
		// flags that fresh evidence arrived after resolution.
		updated.ReopenCandidate = true
	}

	if err := m.store.PutIssue(ctx, updated); err != nil {
		return nil, false, fmt.Errorf("update issue %s: %w", id, err)
	}
	m.append(ctx, OpUpdate, updated)
	return updated.Clone(), false, nil
}

// Apply folds an impact report into the issue store: one Record call per
// (changed component, impacted doc) pair.
func (m *Manager) Apply(ctx context.Context, report *impact.Report, in RecordInput) ([]*DocIssue, error) {
	var issues []*DocIssue
	for _, pair := range report.DocPairs() {
		issue, _, err := m.Record(ctx, pair[0], pair[1], in)
		if err != nil {
			return issues, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// Transition applies an operator- or automation-driven status move,
// validating it against the lifecycle rules.
func (m *Manager) Transition(ctx context.Context, id string, to Status) (*DocIssue, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	existing, found, err := m.store.GetIssue(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load issue %s: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("issue %s not found", id)
	}
	if !ValidTransition(existing.Status, to) {
		return nil, fmt.Errorf("invalid transition %s -> %s for issue %s", existing.Status, to, id)
	}

	updated := existing.Clone()
	updated.Status = to
	updated.UpdatedAt = time.Now().UTC()
	if to == StatusOpen {
		updated.ReopenCandidate = false
	}

	if err := m.store.PutIssue(ctx, updated); err != nil {
		return nil, fmt.Errorf("transition issue %s: %w", id, err)
	}
	m.append(ctx, OpTransition, updated)
	return updated.Clone(), nil
}

func (m *Manager) append(ctx context.Context, op string, issue *DocIssue) {
	if m.journal == nil {
		return
	}
	// Journal failures must not fail the mutation that already happened;
	// the store remains the source of truth and replay tolerates gaps. A
	// dropped record still has to be visible to operators.
	if err := m.journal.AppendIssue(ctx, op, issue); err != nil {
		m.logger.Warn("journal append failed", "op", op, "issue", issue.ID, "err", err)
	}
}

func sortedUnion(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
