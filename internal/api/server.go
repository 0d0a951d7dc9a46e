// Package api exposes the analysis platform over HTTP: supervisor run
// management, baseline operations, signal queries, and the progress
// WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"wyckoff-trading-platform/internal/database"
	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/orchestrator"
	"wyckoff-trading-platform/internal/progress"
	"wyckoff-trading-platform/internal/supervisor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks belong to the reverse proxy in this deployment
		return true
	},
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
}

// Server is the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	supervisor *supervisor.Supervisor
	pipeline   *orchestrator.Pipeline
	repo       *database.Repository
	hub        *progress.Hub
	snapshots  *progress.SnapshotStore
	logger     *logging.Logger
}

// NewServer assembles the router. The repo may be nil when persistence is
// disabled; affected endpoints return 503.
func NewServer(
	config ServerConfig,
	sup *supervisor.Supervisor,
	pipeline *orchestrator.Pipeline,
	repo *database.Repository,
	hub *progress.Hub,
	snapshots *progress.SnapshotStore,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	server := &Server{
		router:     router,
		config:     config,
		supervisor: sup,
		pipeline:   pipeline,
		repo:       repo,
		hub:        hub,
		snapshots:  snapshots,
		logger:     logging.WithComponent("api"),
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.POST("/analyze", s.handleAnalyze)

		api.POST("/previews", s.handleEnqueuePreview)
		api.POST("/backtests", s.handleEnqueueFull)
		api.POST("/walkforward", s.handleEnqueueWalkForward)
		api.POST("/regressions", s.handleEnqueueRegression)

		api.GET("/runs/:id", s.handleGetRun)
		api.DELETE("/runs/:id", s.handleCancelRun)
		api.GET("/runs/:id/progress", s.handleGetProgress)
		api.GET("/results", s.handleListResults)

		api.POST("/baselines", s.handleEstablishBaseline)
		api.GET("/baselines/current", s.handleGetCurrentBaseline)
		api.GET("/baselines/history", s.handleListBaselineHistory)

		api.GET("/campaigns", s.handleListCampaigns)
		api.GET("/campaigns/stats", s.handleCampaignStats)
		api.GET("/signals", s.handleListSignals)
	}

	s.router.GET("/ws/progress", s.handleProgressWS)
}

// Start blocks serving HTTP until shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting http server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleProgressWS(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "progress hub disabled"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err.Error())
		return
	}
	s.hub.Serve(conn)
}
