package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"driftd/internal/graph"
	"driftd/internal/impact"
	"driftd/internal/issue"
	"driftd/internal/signal"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens the engine database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			kind TEXT,
			name TEXT,
			archived INTEGER DEFAULT 0,
			meta JSON,
			seq INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			source_id TEXT,
			target_id TEXT,
			kind TEXT,
			contracts JSON,
			seq INTEGER,
			PRIMARY KEY (source_id, target_id, kind)
		);`,
		`CREATE TABLE IF NOT EXISTS evidence (
			id TEXT PRIMARY KEY,
			source TEXT,
			ts TEXT,
			payload JSON
		);`,
		`CREATE TABLE IF NOT EXISTS evidence_refs (
			evidence_id TEXT,
			entity_id TEXT,
			PRIMARY KEY (evidence_id, entity_id)
		);`,
		`CREATE TABLE IF NOT EXISTS change_events (
			id TEXT PRIMARY KEY,
			origin TEXT,
			changed JSON,
			meta JSON,
			created_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS doc_issues (
			id TEXT PRIMARY KEY,
			project_id TEXT,
			component_id TEXT,
			doc_path TEXT,
			severity TEXT,
			score REAL,
			status TEXT,
			origin_investigation_id TEXT,
			evidence_ids JSON,
			reopen_candidate INTEGER DEFAULT 0,
			detected_at TEXT,
			updated_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_refs_entity ON evidence_refs(entity_id);`,
		`CREATE INDEX IF NOT EXISTS idx_doc_issues_project ON doc_issues(project_id);`,
		`CREATE INDEX IF NOT EXISTS idx_doc_issues_component ON doc_issues(component_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- Graph persistence ---

// SaveGraph persists a snapshot of the graph store (nodes and edges).
func (s *SQLiteStore) SaveGraph(ctx context.Context, g *graph.Store) error {
	nodes, edges := g.Snapshot()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, kind, name, archived, meta, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind,
			name=excluded.name,
			archived=excluded.archived,
			meta=excluded.meta
	`)
	if err != nil {
		return err
	}
	defer nodeStmt.Close()

	for i, n := range nodes {
		meta, _ := json.Marshal(n.Meta)
		if _, err := nodeStmt.Exec(n.ID, n.Kind, n.Name, boolToInt(n.Archived), meta, i); err != nil {
			return err
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (source_id, target_id, kind, contracts, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, kind) DO UPDATE SET
			contracts=excluded.contracts
	`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()

	for i, e := range edges {
		contracts, _ := json.Marshal(e.Contracts)
		if _, err := edgeStmt.Exec(e.SourceID, e.TargetID, e.Kind, contracts, i); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadGraph rebuilds a graph store from the database, preserving the
// original insertion order so traversal tie-breaks stay deterministic.
func (s *SQLiteStore) LoadGraph(ctx context.Context) (*graph.Store, error) {
	g := graph.NewStore()

	rows, err := s.db.QueryContext(ctx, "SELECT id, kind, name, archived, meta FROM nodes ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var archived []string
	for rows.Next() {
		var n graph.Node
		var archivedInt int
		var meta []byte
		if err := rows.Scan(&n.ID, &n.Kind, &n.Name, &archivedInt, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &n.Meta)
		}
		g.UpsertNode(n)
		if archivedInt != 0 {
			archived = append(archived, n.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range archived {
		g.Archive(id)
	}

	edgeRows, err := s.db.QueryContext(ctx, "SELECT source_id, target_id, kind, contracts FROM edges ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e graph.Edge
		var contracts []byte
		if err := edgeRows.Scan(&e.SourceID, &e.TargetID, &e.Kind, &contracts); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		if len(contracts) > 0 {
			_ = json.Unmarshal(contracts, &e.Contracts)
		}
		if err := g.UpsertEdge(e); err != nil {
			return nil, err
		}
	}
	return g, edgeRows.Err()
}

// --- Evidence persistence ---

// SaveEvidence upserts one evidence record and its entity refs. Upsert by
// canonical id means re-ingestion is last-write-wins per the evidence
// contract.
func (s *SQLiteStore) SaveEvidence(ctx context.Context, ev signal.Evidence) error {
	payload, _ := json.Marshal(ev.Payload)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO evidence (id, source, ts, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source,
			ts=excluded.ts,
			payload=excluded.payload
	`, ev.ID, ev.Source, ev.Timestamp.UTC().Format(time.RFC3339Nano), payload); err != nil {
		return err
	}

	for _, ref := range ev.EntityRefs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO evidence_refs (evidence_id, entity_id) VALUES (?, ?)
			ON CONFLICT(evidence_id, entity_id) DO NOTHING
		`, ev.ID, ref); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetEvidence retrieves one evidence record by canonical id.
func (s *SQLiteStore) GetEvidence(ctx context.Context, id string) (signal.Evidence, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, source, ts, payload FROM evidence WHERE id = ?", id)
	ev, err := scanEvidence(row)
	if err == sql.ErrNoRows {
		return signal.Evidence{}, false, nil
	}
	if err != nil {
		return signal.Evidence{}, false, err
	}
	refs, err := s.refsFor(ctx, ev.ID)
	if err != nil {
		return signal.Evidence{}, false, err
	}
	ev.EntityRefs = refs
	return ev, true, nil
}

// ListEvidenceForEntity returns all evidence referencing an entity id,
// oldest first.
func (s *SQLiteStore) ListEvidenceForEntity(ctx context.Context, entityID string) ([]signal.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.source, e.ts, e.payload
		FROM evidence e
		JOIN evidence_refs r ON r.evidence_id = e.id
		WHERE r.entity_id = ?
		ORDER BY e.ts
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signal.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvidence(row scannable) (signal.Evidence, error) {
	var ev signal.Evidence
	var ts string
	var payload []byte
	if err := row.Scan(&ev.ID, &ev.Source, &ts, &payload); err != nil {
		return signal.Evidence{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err == nil {
		ev.Timestamp = parsed
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &ev.Payload)
	}
	return ev, nil
}

func (s *SQLiteStore) refsFor(ctx context.Context, evidenceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT entity_id FROM evidence_refs WHERE evidence_id = ? ORDER BY entity_id", evidenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// --- ChangeEvent persistence ---

// SaveChangeEvent stores an immutable change event. Reports are not
// persisted; they regenerate from the event and the current graph.
func (s *SQLiteStore) SaveChangeEvent(ctx context.Context, ev impact.ChangeEvent) error {
	changed, _ := json.Marshal(ev.ChangedComponentIDs)
	meta, _ := json.Marshal(ev.Meta)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO change_events (id, origin, changed, meta, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, ev.Origin, changed, meta, ev.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) GetChangeEvent(ctx context.Context, id string) (impact.ChangeEvent, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, origin, changed, meta, created_at FROM change_events WHERE id = ?", id)

	var ev impact.ChangeEvent
	var changed, meta []byte
	var createdAt string
	if err := row.Scan(&ev.ID, &ev.Origin, &changed, &meta, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return impact.ChangeEvent{}, false, nil
		}
		return impact.ChangeEvent{}, false, err
	}
	_ = json.Unmarshal(changed, &ev.ChangedComponentIDs)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &ev.Meta)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		ev.CreatedAt = parsed
	}
	return ev, true, nil
}

// --- DocIssue persistence ---

// IssueFilter narrows ListIssues. Zero fields match everything.
type IssueFilter struct {
	ProjectID    string
	ComponentID  string
	ComponentIDs []string // used for service-scoped queries
	Severity     string
	Limit        int
}

func (s *SQLiteStore) PutIssue(ctx context.Context, d *issue.DocIssue) error {
	evidenceIDs, _ := json.Marshal(d.EvidenceIDs)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doc_issues (id, project_id, component_id, doc_path, severity, score, status,
			origin_investigation_id, evidence_ids, reopen_candidate, detected_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id=excluded.project_id,
			component_id=excluded.component_id,
			doc_path=excluded.doc_path,
			severity=excluded.severity,
			score=excluded.score,
			status=excluded.status,
			origin_investigation_id=excluded.origin_investigation_id,
			evidence_ids=excluded.evidence_ids,
			reopen_candidate=excluded.reopen_candidate,
			detected_at=excluded.detected_at,
			updated_at=excluded.updated_at
	`, d.ID, d.ProjectID, d.ComponentID, d.DocPath, d.Severity, d.Score, d.Status,
		d.OriginInvestigationID, evidenceIDs, boolToInt(d.ReopenCandidate),
		d.DetectedAt.UTC().Format(time.RFC3339Nano), d.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*issue.DocIssue, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, component_id, doc_path, severity, score, status,
			origin_investigation_id, evidence_ids, reopen_candidate, detected_at, updated_at
		FROM doc_issues WHERE id = ?
	`, id)

	d, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueFilter) ([]*issue.DocIssue, error) {
	query := `
		SELECT id, project_id, component_id, doc_path, severity, score, status,
			origin_investigation_id, evidence_ids, reopen_candidate, detected_at, updated_at
		FROM doc_issues WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}
	if filter.ComponentID != "" {
		query += " AND component_id = ?"
		args = append(args, filter.ComponentID)
	}
	if len(filter.ComponentIDs) > 0 {
		query += " AND component_id IN (?" + strings.Repeat(",?", len(filter.ComponentIDs)-1) + ")"
		for _, id := range filter.ComponentIDs {
			args = append(args, id)
		}
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, filter.Severity)
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*issue.DocIssue
	for rows.Next() {
		d, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanIssue(row scannable) (*issue.DocIssue, error) {
	var d issue.DocIssue
	var evidenceIDs []byte
	var reopen int
	var detectedAt, updatedAt string
	if err := row.Scan(&d.ID, &d.ProjectID, &d.ComponentID, &d.DocPath, &d.Severity, &d.Score,
		&d.Status, &d.OriginInvestigationID, &evidenceIDs, &reopen, &detectedAt, &updatedAt); err != nil {
		return nil, err
	}
	if len(evidenceIDs) > 0 {
		_ = json.Unmarshal(evidenceIDs, &d.EvidenceIDs)
	}
	d.ReopenCandidate = reopen != 0
	if parsed, err := time.Parse(time.RFC3339Nano, detectedAt); err == nil {
		d.DetectedAt = parsed
	}
	if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		d.UpdatedAt = parsed
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
