package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/backtest"
	"wyckoff-trading-platform/internal/campaign"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/orchestrator"
	"wyckoff-trading-platform/internal/supervisor"
)

// backtestRequest is the common run-request body. Symbol validation is
// left to the supervisor so regression requests can omit it.
type backtestRequest struct {
	Symbol          string  `json:"symbol"`
	Timeframe       string  `json:"timeframe" binding:"required"`
	StartDate       string  `json:"start_date" binding:"required"` // RFC 3339
	EndDate         string  `json:"end_date" binding:"required"`
	InitialCapital  float64 `json:"initial_capital"`
	RiskPctPerTrade float64 `json:"risk_pct_per_trade"`
}

func (r *backtestRequest) toConfig() (backtest.Config, error) {
	start, err := time.Parse(time.RFC3339, r.StartDate)
	if err != nil {
		return backtest.Config{}, &supervisor.ValidationError{Field: "start_date", Reason: "must be RFC 3339"}
	}
	end, err := time.Parse(time.RFC3339, r.EndDate)
	if err != nil {
		return backtest.Config{}, &supervisor.ValidationError{Field: "end_date", Reason: "must be RFC 3339"}
	}
	risk := r.RiskPctPerTrade
	if risk == 0 {
		risk = 1.0
	}
	return backtest.Config{
		Symbol:          r.Symbol,
		Timeframe:       market.Timeframe(r.Timeframe),
		StartDate:       start,
		EndDate:         end,
		InitialCapital:  decimal.NewFromFloat(r.InitialCapital),
		RiskPctPerTrade: risk,
	}, nil
}

type walkForwardRequest struct {
	backtestRequest
	TrainMonths    int `json:"train_months"`
	ValidateMonths int `json:"validate_months"`
}

type regressionRequest struct {
	backtestRequest
	Symbols []string `json:"symbols" binding:"required"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req struct {
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := s.pipeline.AnalyzeSymbol(c.Request.Context(), req.Symbol, market.Timeframe(req.Timeframe))
	if err != nil {
		var unavailable *market.DataUnavailableError
		if errors.As(err, &unavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.persistReport(c.Request.Context(), report)
	c.JSON(http.StatusOK, report)
}

// persistReport stores the run's artifacts: the detected range, every
// pattern including session-filter rejects, generated signals, and the
// touched campaign snapshots. Storage failures degrade to warnings so the
// caller still receives the report.
func (s *Server) persistReport(ctx context.Context, report *orchestrator.AnalysisReport) {
	if s.repo == nil {
		return
	}
	if report.TradingRange != nil {
		if err := s.repo.SaveTradingRange(ctx, report.TradingRange); err != nil {
			s.logger.Warn("failed to store trading range", "symbol", report.Symbol, "error", err)
		}
	}
	for _, pt := range report.Patterns {
		if err := s.repo.SavePattern(ctx, pt); err != nil {
			s.logger.Warn("failed to store pattern",
				"symbol", report.Symbol, "kind", string(pt.Kind), "error", err)
		}
	}
	for i := range report.Signals {
		if err := s.repo.SaveSignal(ctx, &report.Signals[i]); err != nil {
			s.logger.Warn("failed to store signal",
				"symbol", report.Symbol, "signal_id", report.Signals[i].ID, "error", err)
		}
	}
	if det := s.pipeline.Campaigns(); det != nil {
		for _, camp := range det.Store().ForSymbol(report.Symbol) {
			if err := s.repo.SaveCampaign(ctx, camp); err != nil {
				s.logger.Warn("failed to store campaign",
					"campaign_id", camp.ID, "error", err)
			}
		}
	}
}

func (s *Server) handleEnqueuePreview(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := req.toConfig()
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	if _, err := s.supervisor.EnqueuePreview(cfg); err != nil {
		s.writeSupervisorError(c, err)
		return
	}
}

func (s *Server) handleEnqueueFull(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := req.toConfig()
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	runID, err := s.supervisor.EnqueueFull(cfg)
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": supervisor.StatusRunning})
}

func (s *Server) handleEnqueueWalkForward(c *gin.Context) {
	var req walkForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := req.toConfig()
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	runID, err := s.supervisor.EnqueueWalkForward(backtest.WalkForwardConfig{
		Backtest:       cfg,
		TrainMonths:    req.TrainMonths,
		ValidateMonths: req.ValidateMonths,
	})
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": supervisor.StatusRunning})
}

func (s *Server) handleEnqueueRegression(c *gin.Context) {
	var req regressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := req.toConfig()
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	runID, err := s.supervisor.EnqueueRegression(backtest.RegressionConfig{
		Symbols:   req.Symbols,
		Timeframe: cfg.Timeframe,
		StartDate: cfg.StartDate,
		EndDate:   cfg.EndDate,
		Backtest:  cfg,
	})
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": supervisor.StatusRunning})
}

func (s *Server) handleGetRun(c *gin.Context) {
	rec, err := s.supervisor.GetStatus(c.Param("id"))
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCancelRun(c *gin.Context) {
	if err := s.supervisor.Cancel(c.Param("id")); err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

func (s *Server) handleGetProgress(c *gin.Context) {
	if s.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "progress snapshots disabled"})
		return
	}
	update, ok := s.snapshots.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no progress recorded for run"})
		return
	}
	c.JSON(http.StatusOK, update)
}

func (s *Server) handleListResults(c *gin.Context) {
	kind := supervisor.RunKind(c.DefaultQuery("kind", string(supervisor.KindFull)))
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	records, err := s.supervisor.ListResults(kind, limit, offset)
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": records})
}

func (s *Server) handleEstablishBaseline(c *gin.Context) {
	var req struct {
		TestID          string `json:"test_id" binding:"required"`
		CodebaseVersion string `json:"codebase_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := s.supervisor.EstablishBaseline(c.Request.Context(), req.TestID, req.CodebaseVersion)
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (s *Server) handleGetCurrentBaseline(c *gin.Context) {
	b, err := s.supervisor.GetCurrentBaseline(c.Request.Context())
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleListBaselineHistory(c *gin.Context) {
	history, err := s.supervisor.ListBaselineHistory(c.Request.Context())
	if err != nil {
		s.writeSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"baselines": history})
}

func (s *Server) handleListCampaigns(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	campaigns, err := s.repo.ListCampaigns(c.Request.Context(),
		c.Query("state"), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

// handleCampaignStats aggregates outcomes over the live detector store.
// The snapshot covers this process's campaigns; historical rows live in
// the campaigns table.
func (s *Server) handleCampaignStats(c *gin.Context) {
	det := s.pipeline.Campaigns()
	if det == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "campaign detection disabled"})
		return
	}
	c.JSON(http.StatusOK, campaign.ComputeStats(det.Store().All()))
}

func (s *Server) handleListSignals(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	signals, err := s.repo.ListSignals(c.Request.Context(),
		c.Query("symbol"), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

// writeSupervisorError maps supervisor error types to HTTP semantics
func (s *Server) writeSupervisorError(c *gin.Context, err error) {
	var validation *supervisor.ValidationError
	var admission *supervisor.AdmissionError
	var conflict *supervisor.ConflictError

	switch {
	case errors.Is(err, supervisor.ErrPreviewDisabled):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	case errors.Is(err, supervisor.ErrRunNotFound),
		errors.Is(err, supervisor.ErrBaselineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &admission):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
