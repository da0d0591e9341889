// Package api serves the engine's read surface over HTTP. Every envelope
// carries the provenance mode of the data backing it, so a dashboard can
// badge synthetic or degraded results.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"driftd/internal/gateway"
	"driftd/internal/graph"
	"driftd/internal/ingest"
	"driftd/internal/storage"
)

// envelope wraps every response body.
type envelope struct {
	Mode           gateway.Mode           `json:"mode"`
	FallbackReason gateway.FallbackReason `json:"fallback_reason,omitempty"`
	Data           any                    `json:"data,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Server exposes impact reports, doc issues, and severity explanations.
type Server struct {
	pipeline *ingest.Pipeline
	logger   *slog.Logger

	mu             sync.RWMutex
	mode           gateway.Mode
	fallbackReason gateway.FallbackReason
}

func NewServer(pipeline *ingest.Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	// Provenance is unknown until the first ingest pass reports a mode;
	// claiming live for possibly synthetic-seeded data would mislead
	// dashboards that branch on the tag.
	return &Server{
		pipeline: pipeline,
		logger:   logger,
		mode:     gateway.ModeUnknown,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	v1 := r.Group("/v1")
	{
		v1.GET("/impact-report/:changeId", s.handleImpactReport)
		v1.GET("/doc-issues", s.handleListIssues)
		v1.GET("/severity-explanation/:entityId", s.handleExplanation)
		v1.POST("/ingest/run", s.handleIngestRun)
		v1.GET("/healthz", s.handleHealth)
	}
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}

// setMode records the provenance of the most recent ingest run; every
// subsequent response carries it.
func (s *Server) setMode(mode gateway.Mode, reason gateway.FallbackReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.fallbackReason = reason
}

func (s *Server) currentMode() (gateway.Mode, gateway.FallbackReason) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode, s.fallbackReason
}

func (s *Server) respond(c *gin.Context, status int, data any) {
	mode, reason := s.currentMode()
	c.JSON(status, envelope{Mode: mode, FallbackReason: reason, Data: data})
}

func (s *Server) respondError(c *gin.Context, status int, msg string) {
	mode, reason := s.currentMode()
	c.JSON(status, envelope{Mode: mode, FallbackReason: reason, Error: msg})
}

// handleImpactReport regenerates the impact report for a stored change
// event. Reports are never persisted; the graph and evidence of the
// moment the request lands decide the answer.
func (s *Server) handleImpactReport(c *gin.Context) {
	report, found, err := s.pipeline.Regenerate(c.Request.Context(), c.Param("changeId"))
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		s.respondError(c, http.StatusNotFound, "change event not found")
		return
	}
	s.respond(c, http.StatusOK, report)
}

// handleListIssues filters doc issues by project, component, owning
// service, and severity label. A serviceId narrows to the components that
// belong to that service.
func (s *Server) handleListIssues(c *gin.Context) {
	filter := storage.IssueFilter{
		ProjectID:   c.Query("projectId"),
		ComponentID: c.Query("componentId"),
		Severity:    c.Query("severity"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.respondError(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	if serviceID := c.Query("serviceId"); serviceID != "" {
		components := s.componentsOf(serviceID)
		if len(components) == 0 {
			s.respond(c, http.StatusOK, []any{})
			return
		}
		filter.ComponentIDs = components
	}

	issues, err := s.pipeline.Store.ListIssues(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if issues == nil {
		s.respond(c, http.StatusOK, []any{})
		return
	}
	s.respond(c, http.StatusOK, issues)
}

// componentsOf resolves a service id to its member components via the
// ownership edges.
func (s *Server) componentsOf(serviceID string) []string {
	var out []string
	for _, edge := range s.pipeline.Graph.NeighborEdges(serviceID, graph.Incoming) {
		if edge.Kind == graph.EdgeBelongsTo {
			out = append(out, edge.SourceID)
		}
	}
	return out
}

// handleExplanation returns the full severity breakdown for one entity.
func (s *Server) handleExplanation(c *gin.Context) {
	entityID := c.Param("entityId")
	if _, ok := s.pipeline.Graph.Node(entityID); !ok {
		s.respondError(c, http.StatusNotFound, "unknown entity")
		return
	}
	expl := s.pipeline.ExplainEntity(c.Request.Context(), entityID)
	s.respond(c, http.StatusOK, expl)
}

// handleIngestRun triggers a full pipeline pass and records its mode.
func (s *Server) handleIngestRun(c *gin.Context) {
	summary, err := s.pipeline.Run(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	var reason gateway.FallbackReason
	for _, src := range summary.Sources {
		if src.FallbackReason != "" {
			reason = src.FallbackReason
			break
		}
	}
	s.setMode(summary.Mode, reason)
	s.respond(c, http.StatusOK, summary)
}

func (s *Server) handleHealth(c *gin.Context) {
	s.respond(c, http.StatusOK, gin.H{"status": "ok"})
}
