package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftd/internal/gateway"
	"driftd/internal/graph"
	"driftd/internal/impact"
	"driftd/internal/ingest"
	"driftd/internal/issue"
	"driftd/internal/severity"
	"driftd/internal/signal"
	"driftd/internal/storage"
)

func testServer(t *testing.T) (*Server, *ingest.Pipeline) {
	t.Helper()

	g := graph.NewStore()
	g.UpsertNode(graph.Node{ID: "comp:auth", Kind: graph.KindComponent, Name: "Auth"})
	g.UpsertNode(graph.Node{ID: "comp:payments", Kind: graph.KindComponent, Name: "Payments"})
	g.UpsertNode(graph.Node{ID: "svc:payments", Kind: graph.KindService, Name: "Payments Service"})
	g.UpsertNode(graph.Node{ID: "doc:payments-guide", Kind: graph.KindDoc, Name: "Payments Guide"})
	require.Empty(t, g.UpsertEdges([]graph.Edge{
		{SourceID: "comp:payments", TargetID: "comp:auth", Kind: graph.EdgeDependsOn},
		{SourceID: "doc:payments-guide", TargetID: "comp:payments", Kind: graph.EdgeDocuments},
		{SourceID: "comp:payments", TargetID: "svc:payments", Kind: graph.EdgeBelongsTo},
	}))

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "driftd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := signal.NewEntityResolver(
		[]signal.PathRule{{Prefix: "services/auth/", ComponentID: "comp:auth"}},
		nil,
		map[string]string{"ops-payments": "svc:payments"},
		map[string]string{"docs/payments.md": "doc:payments-guide"},
	)

	p := &ingest.Pipeline{
		Gateway:   gateway.New(nil, time.Second, nil),
		Resolver:  resolver,
		Graph:     g,
		Store:     store,
		Manager:   issue.NewManager(store, nil),
		Severity:  severity.DefaultConfig(),
		Impact:    impact.DefaultConfig(),
		ProjectID: "acme",
	}
	return NewServer(p, nil), p
}

func doJSON(t *testing.T, router http.Handler, method, path string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func TestServer_IngestRunAndMode(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Router()

	t.Run("mode is unknown before the first run", func(t *testing.T) {
		code, env := doJSON(t, router, http.MethodGet, "/v1/healthz")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, gateway.ModeUnknown, env.Mode)
	})

	code, env := doJSON(t, router, http.MethodPost, "/v1/ingest/run")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, gateway.ModeSynthetic, env.Mode)
	assert.Equal(t, gateway.ReasonSyntheticFallback, env.FallbackReason)

	t.Run("mode sticks to later responses", func(t *testing.T) {
		code, env := doJSON(t, router, http.MethodGet, "/v1/healthz")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, gateway.ModeSynthetic, env.Mode)
	})
}

func TestServer_ImpactReport(t *testing.T) {
	srv, p := testServer(t)
	router := srv.Router()

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, summary.ChangeEventIDs)

	code, env := doJSON(t, router, http.MethodGet, "/v1/impact-report/"+summary.ChangeEventIDs[0])
	require.Equal(t, http.StatusOK, code)

	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var report impact.Report
	require.NoError(t, json.Unmarshal(data, &report))

	assert.Equal(t, summary.ChangeEventIDs[0], report.ChangeEventID)
	assert.Equal(t, []string{"comp:auth"}, report.ChangedComponents)
	require.NotEmpty(t, report.ImpactedDocs)
	assert.Equal(t, "doc:payments-guide", report.ImpactedDocs[0].ID)

	t.Run("unknown change event", func(t *testing.T) {
		code, env := doJSON(t, router, http.MethodGet, "/v1/impact-report/nope")
		assert.Equal(t, http.StatusNotFound, code)
		assert.NotEmpty(t, env.Error)
	})
}

func TestServer_ListIssues(t *testing.T) {
	srv, p := testServer(t)
	router := srv.Router()

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	issuesFrom := func(env envelope) []*issue.DocIssue {
		data, err := json.Marshal(env.Data)
		require.NoError(t, err)
		var out []*issue.DocIssue
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	}

	t.Run("by project", func(t *testing.T) {
		code, env := doJSON(t, router, http.MethodGet, "/v1/doc-issues?projectId=synthetic")
		require.Equal(t, http.StatusOK, code)
		assert.NotEmpty(t, issuesFrom(env))
	})

	t.Run("by service", func(t *testing.T) {
		code, env := doJSON(t, router, http.MethodGet, "/v1/doc-issues?serviceId=svc:payments")
		require.Equal(t, http.StatusOK, code)
		got := issuesFrom(env)
		require.NotEmpty(t, got)
		for _, d := range got {
			assert.Equal(t, "comp:payments", d.ComponentID, "service filter narrows to member components")
		}
	})

	t.Run("unknown service is empty, not an error", func(t *testing.T) {
		code, env := doJSON(t, router, http.MethodGet, "/v1/doc-issues?serviceId=svc:ghost")
		require.Equal(t, http.StatusOK, code)
		assert.Empty(t, issuesFrom(env))
	})

	t.Run("bad limit", func(t *testing.T) {
		code, _ := doJSON(t, router, http.MethodGet, "/v1/doc-issues?limit=banana")
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestServer_SeverityExplanation(t *testing.T) {
	srv, p := testServer(t)
	router := srv.Router()

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	code, env := doJSON(t, router, http.MethodGet, "/v1/severity-explanation/comp:auth")
	require.Equal(t, http.StatusOK, code)

	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var expl severity.Explanation
	require.NoError(t, json.Unmarshal(data, &expl))

	require.NotEmpty(t, expl.Inputs)
	assert.InDelta(t, expl.FinalScore, expl.Recompute(), 1e-4)

	t.Run("unknown entity", func(t *testing.T) {
		code, _ := doJSON(t, router, http.MethodGet, "/v1/severity-explanation/comp:ghost")
		assert.Equal(t, http.StatusNotFound, code)
	})
}
