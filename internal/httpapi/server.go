package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/OneThum/newsreel/internal/cluster"
	"github.com/OneThum/newsreel/internal/experiment"
	"github.com/OneThum/newsreel/internal/globaltime"
	"github.com/OneThum/newsreel/internal/maintenance"
	"github.com/OneThum/newsreel/internal/model"
	"github.com/OneThum/newsreel/internal/store"
	articleschema "github.com/OneThum/newsreel/schema"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxIngestBody    = 1 << 20
)

type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server exposes the operational surface of the clustering engine: ingest,
// cluster inspection, maintenance triggering and experiment reports.
type Server struct {
	engine      *cluster.Engine
	clusters    store.ClusterStore
	maintenance *maintenance.Service
	experiments map[string]*experiment.Experiment
	logger      zerolog.Logger
	opts        Options
}

func NewServer(
	engine *cluster.Engine,
	clusters store.ClusterStore,
	maint *maintenance.Service,
	experiments []*experiment.Experiment,
	logger zerolog.Logger,
	opts Options,
) *Server {
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = "0.0.0.0:8090"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	byID := make(map[string]*experiment.Experiment, len(experiments))
	for _, exp := range experiments {
		byID[exp.ID()] = exp
	}

	return &Server{
		engine:      engine,
		clusters:    clusters,
		maintenance: maint,
		experiments: byID,
		logger:      logger,
		opts:        opts,
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.engine == nil || s.clusters == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildApp()

	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("newsreel ops server started")
	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("newsreel ops server stopped")
	return nil
}

func (s *Server) buildApp() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/articles", s.handleIngest)
	api.GET("/clusters", s.handleClusters)
	api.GET("/clusters/:cluster_id", s.handleClusterDetail)
	api.POST("/maintenance/run", s.handleMaintenanceRun)
	api.GET("/experiments/:experiment_id/report", s.handleExperimentReport)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "newsreel",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleIngest(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxIngestBody))
	if err != nil {
		return fail(c, http.StatusBadRequest, "Failed to read request body", nil)
	}

	article, err := articleschema.ValidateArticlePayload(json.RawMessage(body))
	if err != nil {
		return fail(c, http.StatusUnprocessableEntity, "Invalid article payload", map[string]any{
			"error": err.Error(),
		})
	}

	outcome, err := s.engine.Ingest(c.Request().Context(), article)
	if err != nil {
		s.logger.Error().Err(err).Str("article_id", article.ID).Msg("ingest failed")
		return internalError(c, "Ingest failed")
	}

	return successWithStatus(c, http.StatusAccepted, outcomeResponse(outcome))
}

func (s *Server) handleClusters(c echo.Context) error {
	filter := store.Filter{Limit: defaultListLimit}

	if category := strings.TrimSpace(c.QueryParam("category")); category != "" {
		filter.Category = category
	}
	if state := strings.TrimSpace(c.QueryParam("state")); state != "" {
		filter.States = []model.ClusterState{model.ClusterState(state)}
	}
	if raw := strings.TrimSpace(c.QueryParam("updated_after")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fail(c, http.StatusBadRequest, "updated_after must be RFC3339", nil)
		}
		filter.UpdatedAfter = t
	}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fail(c, http.StatusBadRequest, "limit must be a positive integer", nil)
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		filter.Limit = n
	}

	clusters, err := s.clusters.Query(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query clusters failed")
		return internalError(c, "Failed to load clusters")
	}

	items := make([]clusterSummary, 0, len(clusters))
	for _, cl := range clusters {
		items = append(items, summarize(cl))
	}
	return success(c, map[string]any{"clusters": items})
}

func (s *Server) handleClusterDetail(c echo.Context) error {
	id := c.Param("cluster_id")
	cl, err := s.clusters.Get(c.Request().Context(), id, "")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failNotFound(c, "Cluster not found")
		}
		s.logger.Error().Err(err).Str("cluster_id", id).Msg("load cluster failed")
		return internalError(c, "Failed to load cluster")
	}
	return success(c, cl)
}

func (s *Server) handleMaintenanceRun(c echo.Context) error {
	if s.maintenance == nil {
		return fail(c, http.StatusConflict, "Maintenance is not configured", nil)
	}

	report, err := s.maintenance.Run(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("maintenance run failed")
		return internalError(c, "Maintenance run failed")
	}
	return success(c, report)
}

func (s *Server) handleExperimentReport(c echo.Context) error {
	id := c.Param("experiment_id")
	exp, ok := s.experiments[id]
	if !ok {
		return failNotFound(c, "Experiment not found")
	}

	return success(c, map[string]any{
		"experiment": exp.ID(),
		"control":    exp.Control(),
		"variants":   exp.VariantNames(),
		"metrics":    exp.Aggregate(),
	})
}

type clusterSummary struct {
	ClusterID         string              `json:"cluster_id"`
	Title             string              `json:"title"`
	Category          string              `json:"category"`
	Status            model.ClusterStatus `json:"status"`
	State             model.ClusterState  `json:"state"`
	FirstSeen         time.Time           `json:"first_seen"`
	LastUpdated       time.Time           `json:"last_updated"`
	ArticleCount      int                 `json:"article_count"`
	SourceCount       int                 `json:"source_count"`
	VerificationLevel int                 `json:"verification_level"`
	Breaking          bool                `json:"breaking"`
}

func summarize(cl *model.StoryCluster) clusterSummary {
	return clusterSummary{
		ClusterID:         cl.ID,
		Title:             cl.Title,
		Category:          cl.Category,
		Status:            cl.Status,
		State:             cl.State,
		FirstSeen:         cl.FirstSeen,
		LastUpdated:       cl.LastUpdated,
		ArticleCount:      len(cl.SourceArticles),
		SourceCount:       cl.DistinctSources(),
		VerificationLevel: cl.VerificationLevel,
		Breaking:          cl.Breaking,
	}
}

type outcomePayload struct {
	ArticleID string  `json:"article_id"`
	Variant   string  `json:"variant,omitempty"`
	ClusterID string  `json:"cluster_id"`
	Created   bool    `json:"created"`
	Assigned  bool    `json:"assigned"`
	Score     float64 `json:"score,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

func outcomeResponse(o cluster.Outcome) outcomePayload {
	return outcomePayload{
		ArticleID: o.ArticleID,
		Variant:   o.Variant,
		ClusterID: o.ClusterID,
		Created:   o.Created,
		Assigned:  o.Decision.Assigned,
		Score:     o.Decision.Score,
		Reason:    o.Decision.Reason,
	}
}
