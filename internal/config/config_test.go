package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftd/internal/graph"
	"driftd/internal/severity"
)

const sampleYAML = `
project:
  id: acme
server:
  addr: ":9099"
storage:
  db_path: /tmp/driftd-test.db
gateway:
  provider: git
  repo_path: /repos/platform
  repo_name: acme/platform
  timeout: 3s
severity:
  weights:
    slack: 0.4
    git: 0.6
  slack_half_life: 48h
  churn_saturation: 200
propagation:
  max_depth: 2
  edge_kinds: [depends_on, documents]
resolver:
  paths:
    services/auth/: comp:auth
  channels:
    ops-payments: svc:payments
  docs:
    docs/payments.md: doc:payments-guide
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driftd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Project.ID)
	assert.Equal(t, ":9099", cfg.Server.Addr)
	assert.Equal(t, "/tmp/driftd-test.db", cfg.Storage.DBPath)
	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout())

	t.Run("severity section maps onto scoring config", func(t *testing.T) {
		sc := cfg.SeverityConfig()
		assert.Equal(t, 0.4, sc.Weights[severity.ModalitySlack])
		assert.Equal(t, 0.6, sc.Weights[severity.ModalityGit])
		assert.Equal(t, 48*time.Hour, sc.SlackHalfLife)
		assert.Equal(t, 200.0, sc.ChurnSaturation)
		assert.Equal(t, severity.DefaultConfig().MentionSaturation, sc.MentionSaturation, "unset fields keep defaults")
	})

	t.Run("propagation section", func(t *testing.T) {
		ic, err := cfg.ImpactConfig()
		require.NoError(t, err)
		assert.Equal(t, 2, ic.MaxDepth)
		assert.Equal(t, []graph.EdgeKind{graph.EdgeDependsOn, graph.EdgeDocuments}, ic.EdgeKinds)
	})

	t.Run("resolver section", func(t *testing.T) {
		r := cfg.EntityResolver()
		assert.Equal(t, "comp:auth", r.ComponentForPath("services/auth/token.go"))
		assert.Equal(t, "svc:payments", r.ServiceForChannel("#ops-payments"))
		assert.Equal(t, "doc:payments-guide", r.DocForPath("docs/payments.md"))
	})
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("DRIFTD_DB_PATH", "/override/engine.db")
	t.Setenv("DRIFTD_PROJECT_ID", "override-project")

	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "/override/engine.db", cfg.Storage.DBPath)
	assert.Equal(t, "override-project", cfg.Project.ID)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "project:\n  id: bare\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.Server.Addr)
	assert.Equal(t, "driftd.db", cfg.Storage.DBPath)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout())

	ic, err := cfg.ImpactConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, ic.MaxDepth)
}

func TestImpactConfig_RejectsUnknownEdgeKind(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "propagation:\n  edge_kinds: [teleports_to]\n"))
	require.NoError(t, err)
	_, err = cfg.ImpactConfig()
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
