package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftd/internal/graph"
	"driftd/internal/impact"
	"driftd/internal/issue"
	"driftd/internal/signal"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "driftd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_GraphRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	g := graph.NewStore()
	g.UpsertNode(graph.Node{ID: "comp:auth", Kind: graph.KindComponent, Name: "Auth", Meta: map[string]string{"owner": "identity"}})
	g.UpsertNode(graph.Node{ID: "comp:payments", Kind: graph.KindComponent, Name: "Payments"})
	g.UpsertNode(graph.Node{ID: "doc:guide", Kind: graph.KindDoc, Name: "Guide"})
	require.Empty(t, g.UpsertEdges([]graph.Edge{
		{SourceID: "comp:payments", TargetID: "comp:auth", Kind: graph.EdgeDependsOn, Contracts: []string{"v1"}},
		{SourceID: "doc:guide", TargetID: "comp:payments", Kind: graph.EdgeDocuments},
	}))
	g.Archive("doc:guide")

	require.NoError(t, s.SaveGraph(ctx, g))

	loaded, err := s.LoadGraph(ctx)
	require.NoError(t, err)

	nodes, edges := loaded.Snapshot()
	require.Len(t, nodes, 3)
	require.Len(t, edges, 2)
	assert.Equal(t, "comp:auth", nodes[0].ID, "insertion order preserved")
	assert.Equal(t, "identity", nodes[0].Meta["owner"])

	archived, ok := loaded.Node("doc:guide")
	require.True(t, ok)
	assert.True(t, archived.Archived)

	deps := loaded.Neighbors("comp:auth", graph.Incoming)
	require.Len(t, deps, 1)
	assert.Equal(t, "comp:payments", deps[0].ID)

	t.Run("re-save is idempotent", func(t *testing.T) {
		require.NoError(t, s.SaveGraph(ctx, loaded))
		again, err := s.LoadGraph(ctx)
		require.NoError(t, err)
		n2, e2 := again.Snapshot()
		assert.Len(t, n2, 3)
		assert.Len(t, e2, 2)
	})
}

func TestSQLite_EvidenceRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ev := signal.Evidence{
		ID:         "git:acme/platform:pr-42",
		Source:     signal.SourceGit,
		EntityRefs: []string{"comp:auth"},
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:    map[string]string{"repo": "acme/platform", "lines_changed": "120"},
	}
	require.NoError(t, s.SaveEvidence(ctx, ev))

	got, found, err := s.GetEvidence(ctx, ev.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.EntityRefs, got.EntityRefs)
	assert.Equal(t, "120", got.Payload["lines_changed"])
	assert.True(t, ev.Timestamp.Equal(got.Timestamp))

	t.Run("re-ingestion is last-write-wins, one record", func(t *testing.T) {
		later := ev
		later.Timestamp = ev.Timestamp.Add(time.Hour)
		require.NoError(t, s.SaveEvidence(ctx, later))

		listed, err := s.ListEvidenceForEntity(ctx, "comp:auth")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.True(t, later.Timestamp.Equal(listed[0].Timestamp))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, found, err := s.GetEvidence(ctx, "git:nope:1")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestSQLite_ChangeEventRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ev := impact.NewChangeEvent(impact.OriginGitPR, []string{"comp:auth"}, map[string]string{"pr": "42"})
	require.NoError(t, s.SaveChangeEvent(ctx, ev))

	got, found, err := s.GetChangeEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ev.Origin, got.Origin)
	assert.Equal(t, ev.ChangedComponentIDs, got.ChangedComponentIDs)
	assert.Equal(t, "42", got.Meta["pr"])

	// Change events are immutable: a second save never overwrites.
	mutated := ev
	mutated.ChangedComponentIDs = []string{"comp:other"}
	require.NoError(t, s.SaveChangeEvent(ctx, mutated))
	got, _, err = s.GetChangeEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"comp:auth"}, got.ChangedComponentIDs)
}

func TestSQLite_IssueFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	put := func(id, project, component, severity string) {
		require.NoError(t, s.PutIssue(ctx, &issue.DocIssue{
			ID: id, ProjectID: project, ComponentID: component,
			DocPath: "doc:guide", Severity: severity, Status: issue.StatusOpen,
			DetectedAt: now, UpdatedAt: now,
		}))
	}
	put("di-1", "acme", "comp:auth", "high")
	put("di-2", "acme", "comp:payments", "low")
	put("di-3", "synthetic", "comp:auth", "high")

	t.Run("by project", func(t *testing.T) {
		got, err := s.ListIssues(ctx, IssueFilter{ProjectID: "acme"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("by component and severity", func(t *testing.T) {
		got, err := s.ListIssues(ctx, IssueFilter{ComponentID: "comp:auth", Severity: "high"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("by component set", func(t *testing.T) {
		got, err := s.ListIssues(ctx, IssueFilter{ComponentIDs: []string{"comp:auth", "comp:payments"}, ProjectID: "acme"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.ListIssues(ctx, IssueFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("synthetic namespace stays separate", func(t *testing.T) {
		got, err := s.ListIssues(ctx, IssueFilter{ProjectID: "synthetic"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "di-3", got[0].ID)
	})
}
