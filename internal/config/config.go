package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"driftd/internal/graph"
	"driftd/internal/impact"
	"driftd/internal/severity"
	"driftd/internal/signal"
)

type Config struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Storage struct {
		DBPath      string `yaml:"db_path"`
		JournalPath string `yaml:"journal_path"`
	} `yaml:"storage"`
	Gateway struct {
		// Provider selects the live signal provider: "git" shells out to a
		// local checkout, "" runs synthetic-only.
		Provider string `yaml:"provider"`
		RepoPath string `yaml:"repo_path"`
		RepoName string `yaml:"repo_name"`
		BaseRef  string `yaml:"base_ref"`
		Timeout  string `yaml:"timeout"` // e.g. "5s"
	} `yaml:"gateway"`
	Severity struct {
		Weights               map[string]float64 `yaml:"weights"`
		SlackHalfLife         string             `yaml:"slack_half_life"`
		MentionSaturation     float64            `yaml:"mention_saturation"`
		ChurnSaturation       float64            `yaml:"churn_saturation"`
		BlastRadiusSaturation float64            `yaml:"blast_radius_saturation"`
		DocStaleness          string             `yaml:"doc_staleness"`
	} `yaml:"severity"`
	Propagation struct {
		MaxDepth  int      `yaml:"max_depth"`
		EdgeKinds []string `yaml:"edge_kinds"`
	} `yaml:"propagation"`
	Resolver struct {
		Paths     map[string]string `yaml:"paths"`     // file path prefix -> component id
		Endpoints map[string]string `yaml:"endpoints"` // file path prefix -> endpoint id
		Channels  map[string]string `yaml:"channels"`  // slack channel -> service id
		Docs      map[string]string `yaml:"docs"`      // doc path -> doc node id
	} `yaml:"resolver"`
}

func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}

	// 3. Override with Environment Variables if present
	if db := os.Getenv("DRIFTD_DB_PATH"); db != "" {
		cfg.Storage.DBPath = db
	}
	if addr := os.Getenv("DRIFTD_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if project := os.Getenv("DRIFTD_PROJECT_ID"); project != "" {
		cfg.Project.ID = project
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a runnable config without a file on disk.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Project.ID == "" {
		c.Project.ID = "default"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8088"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "driftd.db"
	}
	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = "driftd-journal.ndjson"
	}
}

// GatewayTimeout parses the gateway timeout, defaulting to 5s.
func (c *Config) GatewayTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gateway.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// SeverityConfig converts the YAML section into a scoring config. Absent
// fields keep the engine defaults, so a minimal config file stays valid.
func (c *Config) SeverityConfig() severity.Config {
	cfg := severity.DefaultConfig()

	if len(c.Severity.Weights) > 0 {
		weights := make(map[severity.Modality]float64, len(c.Severity.Weights))
		for k, v := range c.Severity.Weights {
			weights[severity.Modality(k)] = v
		}
		cfg.Weights = weights
	}
	if d, err := time.ParseDuration(c.Severity.SlackHalfLife); err == nil && d > 0 {
		cfg.SlackHalfLife = d
	}
	if c.Severity.MentionSaturation > 0 {
		cfg.MentionSaturation = c.Severity.MentionSaturation
	}
	if c.Severity.ChurnSaturation > 0 {
		cfg.ChurnSaturation = c.Severity.ChurnSaturation
	}
	if c.Severity.BlastRadiusSaturation > 0 {
		cfg.BlastRadiusSaturation = c.Severity.BlastRadiusSaturation
	}
	if d, err := time.ParseDuration(c.Severity.DocStaleness); err == nil && d > 0 {
		cfg.DocStaleness = d
	}
	return cfg
}

// ImpactConfig converts the propagation section.
func (c *Config) ImpactConfig() (impact.Config, error) {
	cfg := impact.DefaultConfig()
	if c.Propagation.MaxDepth > 0 {
		cfg.MaxDepth = c.Propagation.MaxDepth
	}
	if len(c.Propagation.EdgeKinds) > 0 {
		kinds, err := parseEdgeKinds(c.Propagation.EdgeKinds)
		if err != nil {
			return impact.Config{}, err
		}
		cfg.EdgeKinds = kinds
	}
	return cfg, nil
}

func parseEdgeKinds(names []string) ([]graph.EdgeKind, error) {
	var kinds []graph.EdgeKind
	for _, name := range names {
		kind := graph.EdgeKind(name)
		switch kind {
		case graph.EdgeDependsOn, graph.EdgeDocuments, graph.EdgeExposes, graph.EdgeBelongsTo:
			kinds = append(kinds, kind)
		default:
			return nil, fmt.Errorf("unknown edge kind %q in propagation config", name)
		}
	}
	return kinds, nil
}

// EntityResolver builds the resolver from the mapping tables.
func (c *Config) EntityResolver() *signal.EntityResolver {
	var paths []signal.PathRule
	for prefix, component := range c.Resolver.Paths {
		paths = append(paths, signal.PathRule{Prefix: prefix, ComponentID: component})
	}
	var endpoints []signal.EndpointRule
	for prefix, endpoint := range c.Resolver.Endpoints {
		endpoints = append(endpoints, signal.EndpointRule{Prefix: prefix, EndpointID: endpoint})
	}
	return signal.NewEntityResolver(paths, endpoints, c.Resolver.Channels, c.Resolver.Docs)
}
