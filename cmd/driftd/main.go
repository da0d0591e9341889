package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"driftd/internal/api"
	"driftd/internal/config"
	"driftd/internal/gateway"
	"driftd/internal/graph"
	"driftd/internal/ingest"
	"driftd/internal/issue"
	"driftd/internal/report"
	"driftd/internal/storage"
)

var (
	rootCmd = &cobra.Command{
		Use:   "driftd",
		Short: "Documentation drift impact engine",
	}
	dbPath     string
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the engine database (SQLite), overrides config")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "driftd.yaml", "Path to the config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(impactCmd)
	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(replayCmd)
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		// Missing config is fine; everything has a default.
		cfg = config.Default()
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	return cfg
}

// buildPipeline assembles the engine from config: store, graph, journal,
// gateway, and the issue manager.
func buildPipeline(cfg *config.Config) (*ingest.Pipeline, func(), error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	journal, err := storage.OpenJournal(cfg.Storage.JournalPath)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}

	g, err := store.LoadGraph(context.Background())
	if err != nil {
		journal.Close()
		store.Close()
		return nil, nil, fmt.Errorf("failed to load graph: %w", err)
	}

	var provider gateway.Provider
	if cfg.Gateway.Provider == "git" {
		provider = &gateway.LocalGitProvider{
			RepoPath:  cfg.Gateway.RepoPath,
			RepoName:  cfg.Gateway.RepoName,
			BaseRef:   cfg.Gateway.BaseRef,
			ProjectID: cfg.Project.ID,
		}
	}

	impactCfg, err := cfg.ImpactConfig()
	if err != nil {
		journal.Close()
		store.Close()
		return nil, nil, err
	}

	p := &ingest.Pipeline{
		Gateway:   gateway.New(provider, cfg.GatewayTimeout(), nil),
		Resolver:  cfg.EntityResolver(),
		Graph:     g,
		Store:     store,
		Manager:   issue.NewManager(store, journal),
		Severity:  cfg.SeverityConfig(),
		Impact:    impactCfg,
		ProjectID: cfg.Project.ID,
		Logger:    slog.Default(),
	}
	cleanup := func() {
		journal.Close()
		store.Close()
	}
	return p, cleanup, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		p, cleanup, err := buildPipeline(cfg)
		if err != nil {
			log.Fatalf("Failed to build pipeline: %v", err)
		}
		defer cleanup()

		srv := api.NewServer(p, slog.Default())
		fmt.Printf("🚀 driftd listening on %s\n", cfg.Server.Addr)
		if err := srv.Router().Run(cfg.Server.Addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass over all signal sources",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		p, cleanup, err := buildPipeline(cfg)
		if err != nil {
			log.Fatalf("Failed to build pipeline: %v", err)
		}
		defer cleanup()

		start := time.Now()
		summary, err := p.Run(context.Background())
		if err != nil {
			log.Fatalf("Ingest failed: %v", err)
		}

		fmt.Printf("📥 Ingest complete in %s (mode: %s)\n", time.Since(start).Round(time.Millisecond), summary.Mode)
		for _, src := range summary.Sources {
			line := fmt.Sprintf("   %-8s %s, %d evidence", src.Source, src.Mode, src.EvidenceCount)
			if src.FallbackReason != "" {
				line += fmt.Sprintf(" (%s)", src.FallbackReason)
			}
			fmt.Println(line)
			for _, w := range src.Warnings {
				fmt.Printf("   ⚠️  %s\n", w)
			}
		}
		fmt.Printf("   %d change event(s), %d doc issue(s)\n", len(summary.ChangeEventIDs), len(summary.Issues))

		// Persist any nodes the run touched.
		if err := p.Store.SaveGraph(context.Background(), p.Graph); err != nil {
			log.Fatalf("Failed to save graph: %v", err)
		}

		ingest.SortIssues(summary.Issues)
		for _, d := range summary.Issues {
			fmt.Printf("   📝 %s\n", d)
		}
	},
}

var impactCmd = &cobra.Command{
	Use:   "impact [changeEventId]",
	Short: "Regenerate the impact report for a change event",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		p, cleanup, err := buildPipeline(cfg)
		if err != nil {
			log.Fatalf("Failed to build pipeline: %v", err)
		}
		defer cleanup()

		rep, found, err := p.Regenerate(context.Background(), args[0])
		if err != nil {
			log.Fatalf("Failed to regenerate report: %v", err)
		}
		if !found {
			log.Fatalf("Change event %s not found", args[0])
		}

		fmt.Printf("💥 Impact level: %s\n", rep.ImpactLevel)
		fmt.Printf("   Changed: %v\n", rep.ChangedComponents)
		for _, imp := range rep.ImpactedComponents {
			fmt.Printf("   ⚙️  %s (depth %d): %s\n", imp.ID, imp.Depth, imp.Reason)
		}
		for _, imp := range rep.ImpactedServices {
			fmt.Printf("   🛰️  %s (depth %d): %s\n", imp.ID, imp.Depth, imp.Reason)
		}
		for _, imp := range rep.ImpactedDocs {
			fmt.Printf("   📄 %s (depth %d): %s\n", imp.ID, imp.Depth, imp.Reason)
		}
	},
}

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List doc issues",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		p, cleanup, err := buildPipeline(cfg)
		if err != nil {
			log.Fatalf("Failed to build pipeline: %v", err)
		}
		defer cleanup()

		project, _ := cmd.Flags().GetString("project")
		severityLabel, _ := cmd.Flags().GetString("severity")
		issues, err := p.Store.ListIssues(context.Background(), storage.IssueFilter{
			ProjectID: project,
			Severity:  severityLabel,
		})
		if err != nil {
			log.Fatalf("Failed to list issues: %v", err)
		}
		if len(issues) == 0 {
			fmt.Println("✅ No doc issues")
			return
		}
		for _, d := range issues {
			marker := "📝"
			if d.ReopenCandidate {
				marker = "🔁"
			}
			fmt.Printf("%s %s\n", marker, d)
		}
	},
}

var reportCmd = &cobra.Command{
	Use:   "report [changeEventId]",
	Short: "Render a markdown impact report with a mermaid diagram",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		p, cleanup, err := buildPipeline(cfg)
		if err != nil {
			log.Fatalf("Failed to build pipeline: %v", err)
		}
		defer cleanup()

		rep, found, err := p.Regenerate(context.Background(), args[0])
		if err != nil {
			log.Fatalf("Failed to regenerate report: %v", err)
		}
		if !found {
			log.Fatalf("Change event %s not found", args[0])
		}

		var componentIDs []string
		componentIDs = append(componentIDs, rep.ChangedComponents...)
		for _, imp := range rep.ImpactedComponents {
			componentIDs = append(componentIDs, imp.ID)
		}
		issues, err := p.Store.ListIssues(context.Background(), storage.IssueFilter{ComponentIDs: componentIDs})
		if err != nil {
			log.Fatalf("Failed to list issues: %v", err)
		}

		var r report.Renderer
		fmt.Print(r.Markdown(rep, issues))
	},
}

// topologyFile is the seed format: declarative nodes and edges.
type topologyFile struct {
	Nodes []struct {
		ID   string            `yaml:"id"`
		Kind string            `yaml:"kind"`
		Name string            `yaml:"name"`
		Meta map[string]string `yaml:"meta"`
	} `yaml:"nodes"`
	Edges []struct {
		Source    string   `yaml:"source"`
		Target    string   `yaml:"target"`
		Kind      string   `yaml:"kind"`
		Contracts []string `yaml:"contracts"`
	} `yaml:"edges"`
}

var seedCmd = &cobra.Command{
	Use:   "seed [topology.yaml]",
	Short: "Load a dependency topology into the graph store",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		data, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatalf("Failed to read topology: %v", err)
		}
		var topo topologyFile
		if err := yaml.Unmarshal(data, &topo); err != nil {
			log.Fatalf("Failed to parse topology: %v", err)
		}

		store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer store.Close()

		g, err := store.LoadGraph(context.Background())
		if err != nil {
			log.Fatalf("Failed to load graph: %v", err)
		}

		for _, n := range topo.Nodes {
			g.UpsertNode(graph.Node{
				ID:   n.ID,
				Kind: graph.NodeKind(n.Kind),
				Name: n.Name,
				Meta: n.Meta,
			})
		}
		var edges []graph.Edge
		for _, e := range topo.Edges {
			edges = append(edges, graph.Edge{
				SourceID:  e.Source,
				TargetID:  e.Target,
				Kind:      graph.EdgeKind(e.Kind),
				Contracts: e.Contracts,
			})
		}
		for _, err := range g.UpsertEdges(edges) {
			fmt.Printf("⚠️  %v\n", err)
		}

		if err := store.SaveGraph(context.Background(), g); err != nil {
			log.Fatalf("Failed to save graph: %v", err)
		}

		nodes, savedEdges := g.Snapshot()
		fmt.Printf("🌱 Seeded %d node(s), %d edge(s) into %s\n", len(nodes), len(savedEdges), cfg.Storage.DBPath)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Fold the append-only journal into current issue state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		records, warnings, err := storage.ReadJournal(cfg.Storage.JournalPath)
		if err != nil {
			log.Fatalf("Failed to read journal: %v", err)
		}
		for _, w := range warnings {
			fmt.Printf("⚠️  %s\n", w)
		}

		state := storage.FoldIssues(records)
		fmt.Printf("📜 %d record(s), %d issue(s) after fold\n", len(records), len(state))
		for _, d := range state {
			fmt.Printf("   📝 %s\n", d)
		}
	},
}

func init() {
	issuesCmd.Flags().String("project", "", "Filter by project id")
	issuesCmd.Flags().String("severity", "", "Filter by severity label")
}
