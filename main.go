package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/config"
	"wyckoff-trading-platform/internal/api"
	"wyckoff-trading-platform/internal/backtest"
	"wyckoff-trading-platform/internal/campaign"
	"wyckoff-trading-platform/internal/circuit"
	"wyckoff-trading-platform/internal/database"
	"wyckoff-trading-platform/internal/events"
	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/orchestrator"
	"wyckoff-trading-platform/internal/patterns"
	"wyckoff-trading-platform/internal/progress"
	"wyckoff-trading-platform/internal/ranges"
	"wyckoff-trading-platform/internal/supervisor"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize event bus
	eventBus := events.NewEventBus()
	setupEventTaps(eventBus, logger)
	logger.Info("Event bus initialized")

	// Initialize database
	var (
		repo     *database.Repository
		sessions supervisor.SessionFactory
	)
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		})
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.RunMigrations(context.Background()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		repo = database.NewRepository(db)
		sessions = database.NewSessionFactory(db)
		logger.Info("Database initialized", "host", cfg.DatabaseConfig.Host)
	} else {
		sessions = discardSessionFactory{}
		logger.Warn("Database disabled, analysis results will not be persisted")
	}

	// Build the market data provider chain
	providers := []market.DataProvider{
		market.NewRESTProvider(cfg.MarketDataConfig.PrimaryName, cfg.MarketDataConfig.PrimaryBaseURL),
	}
	if cfg.MarketDataConfig.SecondaryBaseURL != "" {
		providers = append(providers,
			market.NewRESTProvider(cfg.MarketDataConfig.SecondaryName, cfg.MarketDataConfig.SecondaryBaseURL))
	}
	var provider market.DataProvider = market.NewFallbackProvider(providers...)

	if cfg.RedisConfig.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		provider = market.NewCachedProvider(provider, redisClient,
			time.Duration(cfg.RedisConfig.CacheTTL)*time.Second)
		logger.Info("Redis bar cache enabled", "address", cfg.RedisConfig.Address)
	}

	// Campaign detector
	campaignCfg := campaign.DefaultIntradayConfig()
	if cfg.CampaignConfig.MaxConcurrent > 0 {
		campaignCfg.MaxConcurrent = cfg.CampaignConfig.MaxConcurrent
	}
	if cfg.CampaignConfig.MinPatternsForActive > 0 {
		campaignCfg.MinPatternsForActive = cfg.CampaignConfig.MinPatternsForActive
	}
	if cfg.CampaignConfig.ExpirationHours > 0 {
		campaignCfg.Expiration = time.Duration(cfg.CampaignConfig.ExpirationHours) * time.Hour
	}
	campaignCfg.MaxPortfolioHeatPct = cfg.RiskConfig.MaxPortfolioHeatPct

	campaigns := campaign.NewDetector(
		campaignCfg,
		decimal.NewFromFloat(cfg.RiskConfig.AccountEquity),
		cfg.RiskConfig.RiskPctPerTrade,
		zlog.With().Str("component", "campaign_detector").Logger(),
	)

	// Pattern and range detection settings
	patternCfg := patterns.DefaultConfig()
	patternCfg.MinConfidence = cfg.DetectionConfig.MinPatternConfidence
	patternCfg.SessionFilterEnabled = cfg.DetectionConfig.SessionFilterEnabled
	patternCfg.SessionConfidenceScoringEnabled = cfg.DetectionConfig.SessionConfidenceScoringEnabled
	patternCfg.StoreRejectedPatterns = cfg.DetectionConfig.StoreRejectedPatterns

	rangeCfg := ranges.DefaultConfig()
	rangeCfg.MinQualityScore = cfg.DetectionConfig.MinRangeQualityScore

	// Detector isolation
	breaker := circuit.NewBreaker(circuit.Config{
		Enabled:          cfg.CircuitConfig.Enabled,
		FailureThreshold: cfg.CircuitConfig.FailureThreshold,
		Window:           time.Duration(cfg.CircuitConfig.WindowSeconds) * time.Second,
	})

	// Analysis pipeline
	pipeline := orchestrator.NewPipeline(
		orchestrator.Config{
			LookbackBars:         cfg.PipelineConfig.LookbackBars,
			MaxConcurrentSymbols: cfg.PipelineConfig.MaxConcurrentSymbols,
			MinSignalConfidence:  cfg.PipelineConfig.MinSignalConfidence,
		},
		provider, patternCfg, rangeCfg, campaigns, breaker, eventBus,
	)

	engine := backtest.NewEngine(pipeline, provider)

	// Progress fan-out: live WebSocket hub plus polled snapshots
	hub := progress.NewHub()
	go hub.Run()
	snapshots := progress.NewSnapshotStore()
	sink := progress.NewMultiSink(hub, snapshots)

	// Supervisor
	var baselines supervisor.BaselineStore
	if repo != nil {
		baselines = repo
	}
	sup := supervisor.New(
		supervisor.Config{
			MaxEntries:             cfg.SupervisorConfig.MaxEntries,
			EntryTTL:               cfg.SupervisorConfig.EntryTTL(),
			WalkForwardConcurrency: cfg.SupervisorConfig.WalkForwardConcurrency,
			RegressionConcurrency:  cfg.SupervisorConfig.RegressionConcurrency,
			RunTimeout:             cfg.SupervisorConfig.RunTimeout(),
		},
		engine, sessions, baselines, sink,
		zlog.With().Str("component", "supervisor").Logger(),
	)

	// HTTP API
	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: cfg.ServerConfig.ProductionMode,
	}, sup, pipeline, repo, hub, snapshots)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start web server: %v", err)
		}
	}()

	logger.Info("Analysis platform started",
		"host", cfg.ServerConfig.Host, "port", cfg.ServerConfig.Port)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down web server: %v", err)
	}

	// In-flight analysis runs finish before the process exits
	sup.Wait()

	log.Println("Shutdown complete")
}

// setupEventTaps routes bus traffic into the structured log. Stage errors
// surface at ERROR no matter which caller drove the pipeline; the all-events
// tap stays at DEBUG so production logs remain quiet.
func setupEventTaps(eventBus *events.EventBus, logger *logging.Logger) {
	eventBus.Subscribe(events.EventError, func(event events.Event) {
		source, _ := event.Data["source"].(string)
		message, _ := event.Data["message"].(string)
		errText, _ := event.Data["error"].(string)
		logger.Error("pipeline error event",
			"source", source, "message", message,
			"error", errText, "correlation_id", event.CorrelationID)
	})

	eventBus.Subscribe(events.EventSignalGenerated, func(event events.Event) {
		symbol, _ := event.Data["symbol"].(string)
		pattern, _ := event.Data["pattern"].(string)
		entry, _ := event.Data["entry_price"].(string)
		logger.Info("trade signal generated",
			"symbol", symbol, "pattern", pattern,
			"entry_price", entry, "correlation_id", event.CorrelationID)
	})

	eventBus.SubscribeAll(func(event events.Event) {
		logger.Debug("event",
			"type", string(event.Type), "correlation_id", event.CorrelationID)
	})
}

// discardSessionFactory backs the supervisor when persistence is disabled.
// Runs still execute and report progress; results live only in the registry.
type discardSessionFactory struct{}

func (discardSessionFactory) NewSession(context.Context) (supervisor.ResultStore, error) {
	return discardStore{}, nil
}

type discardStore struct{}

func (discardStore) SaveBacktestResult(context.Context, string, *backtest.Result) error { return nil }
func (discardStore) SaveWalkForwardResult(context.Context, string, *backtest.WalkForwardResult) error {
	return nil
}
func (discardStore) SaveRegressionResult(context.Context, string, *backtest.RegressionResult) error {
	return nil
}
func (discardStore) Close() {}
