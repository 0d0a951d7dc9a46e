package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig     ServerConfig     `json:"server"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	LoggingConfig    LoggingConfig    `json:"logging"`
	MarketDataConfig MarketDataConfig `json:"market_data"`
	DetectionConfig  DetectionConfig  `json:"detection"`
	RiskConfig       RiskConfig       `json:"risk"`
	CampaignConfig   CampaignConfig   `json:"campaign"`
	PipelineConfig   PipelineConfig   `json:"pipeline"`
	SupervisorConfig SupervisorConfig `json:"supervisor"`
	CircuitConfig    CircuitConfig    `json:"circuit_breaker"`
}

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the bar cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	CacheTTL int    `json:"cache_ttl"` // seconds
}

type LoggingConfig struct {
	Level      string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// MarketDataConfig holds the provider chain configuration. Providers are
// tried in order; the secondary is optional.
type MarketDataConfig struct {
	PrimaryName      string `json:"primary_name"`
	PrimaryBaseURL   string `json:"primary_base_url"`
	SecondaryName    string `json:"secondary_name"`
	SecondaryBaseURL string `json:"secondary_base_url"`
}

// DetectionConfig holds pattern and range detection switches
type DetectionConfig struct {
	MinPatternConfidence            float64 `json:"min_pattern_confidence"`
	MinRangeQualityScore            float64 `json:"min_range_quality_score"`
	SessionFilterEnabled            bool    `json:"session_filter_enabled"`
	SessionConfidenceScoringEnabled bool    `json:"session_confidence_scoring_enabled"`
	StoreRejectedPatterns           bool    `json:"store_rejected_patterns"`
}

// RiskConfig holds position sizing and exposure limits
type RiskConfig struct {
	AccountEquity       float64 `json:"account_equity"`
	RiskPctPerTrade     float64 `json:"risk_pct_per_trade"`
	MaxPortfolioHeatPct float64 `json:"max_portfolio_heat_pct"`
}

// CampaignConfig holds campaign tracking limits. Zero values fall back to
// the per-timeframe defaults.
type CampaignConfig struct {
	MaxConcurrent        int `json:"max_concurrent"`
	MinPatternsForActive int `json:"min_patterns_for_active"`
	ExpirationHours      int `json:"expiration_hours"`
}

type PipelineConfig struct {
	LookbackBars         int     `json:"lookback_bars"`
	MaxConcurrentSymbols int     `json:"max_concurrent_symbols"`
	MinSignalConfidence  float64 `json:"min_signal_confidence"`
}

type SupervisorConfig struct {
	MaxEntries             int `json:"max_entries"`
	EntryTTLSeconds        int `json:"entry_ttl_seconds"`
	WalkForwardConcurrency int `json:"walk_forward_concurrency"`
	RegressionConcurrency  int `json:"regression_concurrency"`
	RunTimeoutMinutes      int `json:"run_timeout_minutes"` // 0 disables
}

type CircuitConfig struct {
	Enabled          bool `json:"enabled"`
	FailureThreshold int  `json:"failure_threshold"`
	WindowSeconds    int  `json:"window_seconds"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", "false") == "true"

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", "true") == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", firstNonEmpty(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", firstNonEmpty(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", firstNonEmpty(cfg.DatabaseConfig.Database, "wyckoff"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", firstNonEmpty(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", firstNonEmpty(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.CacheTTL = getEnvIntOrDefault("REDIS_CACHE_TTL", defaultInt(cfg.RedisConfig.CacheTTL, 300))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// Market data config
	cfg.MarketDataConfig.PrimaryName = getEnvOrDefault("MARKET_PRIMARY_NAME",
		firstNonEmpty(cfg.MarketDataConfig.PrimaryName, "binance"))
	cfg.MarketDataConfig.PrimaryBaseURL = getEnvOrDefault("MARKET_PRIMARY_URL",
		firstNonEmpty(cfg.MarketDataConfig.PrimaryBaseURL, "https://api.binance.com"))
	cfg.MarketDataConfig.SecondaryName = getEnvOrDefault("MARKET_SECONDARY_NAME", cfg.MarketDataConfig.SecondaryName)
	cfg.MarketDataConfig.SecondaryBaseURL = getEnvOrDefault("MARKET_SECONDARY_URL", cfg.MarketDataConfig.SecondaryBaseURL)

	// Detection config
	cfg.DetectionConfig.MinPatternConfidence = getEnvFloatOrDefault("DETECTION_MIN_CONFIDENCE",
		defaultFloat(cfg.DetectionConfig.MinPatternConfidence, 70))
	cfg.DetectionConfig.MinRangeQualityScore = getEnvFloatOrDefault("DETECTION_MIN_RANGE_QUALITY",
		defaultFloat(cfg.DetectionConfig.MinRangeQualityScore, 60))
	cfg.DetectionConfig.SessionFilterEnabled = getEnvOrDefault("DETECTION_SESSION_FILTER", "false") == "true"
	cfg.DetectionConfig.SessionConfidenceScoringEnabled = getEnvOrDefault("DETECTION_SESSION_SCORING", "false") == "true"
	cfg.DetectionConfig.StoreRejectedPatterns = getEnvOrDefault("DETECTION_STORE_REJECTED", "false") == "true"

	// Risk config
	cfg.RiskConfig.AccountEquity = getEnvFloatOrDefault("RISK_ACCOUNT_EQUITY",
		defaultFloat(cfg.RiskConfig.AccountEquity, 100000))
	cfg.RiskConfig.RiskPctPerTrade = getEnvFloatOrDefault("RISK_PCT_PER_TRADE",
		defaultFloat(cfg.RiskConfig.RiskPctPerTrade, 1.0))
	cfg.RiskConfig.MaxPortfolioHeatPct = getEnvFloatOrDefault("RISK_MAX_PORTFOLIO_HEAT",
		defaultFloat(cfg.RiskConfig.MaxPortfolioHeatPct, 10.0))

	// Campaign config
	cfg.CampaignConfig.MaxConcurrent = getEnvIntOrDefault("CAMPAIGN_MAX_CONCURRENT", cfg.CampaignConfig.MaxConcurrent)
	cfg.CampaignConfig.MinPatternsForActive = getEnvIntOrDefault("CAMPAIGN_MIN_PATTERNS_ACTIVE", cfg.CampaignConfig.MinPatternsForActive)
	cfg.CampaignConfig.ExpirationHours = getEnvIntOrDefault("CAMPAIGN_EXPIRATION_HOURS", cfg.CampaignConfig.ExpirationHours)

	// Pipeline config
	cfg.PipelineConfig.LookbackBars = getEnvIntOrDefault("PIPELINE_LOOKBACK_BARS",
		defaultInt(cfg.PipelineConfig.LookbackBars, 500))
	cfg.PipelineConfig.MaxConcurrentSymbols = getEnvIntOrDefault("PIPELINE_MAX_CONCURRENT_SYMBOLS",
		defaultInt(cfg.PipelineConfig.MaxConcurrentSymbols, 4))
	cfg.PipelineConfig.MinSignalConfidence = getEnvFloatOrDefault("PIPELINE_MIN_SIGNAL_CONFIDENCE",
		defaultFloat(cfg.PipelineConfig.MinSignalConfidence, 70))

	// Supervisor config
	cfg.SupervisorConfig.MaxEntries = getEnvIntOrDefault("SUPERVISOR_MAX_ENTRIES",
		defaultInt(cfg.SupervisorConfig.MaxEntries, 1000))
	cfg.SupervisorConfig.EntryTTLSeconds = getEnvIntOrDefault("SUPERVISOR_ENTRY_TTL_SECONDS",
		defaultInt(cfg.SupervisorConfig.EntryTTLSeconds, 3600))
	cfg.SupervisorConfig.WalkForwardConcurrency = getEnvIntOrDefault("SUPERVISOR_WALK_FORWARD_CONCURRENCY",
		defaultInt(cfg.SupervisorConfig.WalkForwardConcurrency, 3))
	cfg.SupervisorConfig.RegressionConcurrency = getEnvIntOrDefault("SUPERVISOR_REGRESSION_CONCURRENCY",
		defaultInt(cfg.SupervisorConfig.RegressionConcurrency, 3))
	cfg.SupervisorConfig.RunTimeoutMinutes = getEnvIntOrDefault("SUPERVISOR_RUN_TIMEOUT_MINUTES",
		cfg.SupervisorConfig.RunTimeoutMinutes)

	// Circuit breaker config
	cfg.CircuitConfig.Enabled = getEnvOrDefault("CIRCUIT_BREAKER_ENABLED", "true") == "true"
	cfg.CircuitConfig.FailureThreshold = getEnvIntOrDefault("CIRCUIT_FAILURE_THRESHOLD",
		defaultInt(cfg.CircuitConfig.FailureThreshold, 3))
	cfg.CircuitConfig.WindowSeconds = getEnvIntOrDefault("CIRCUIT_WINDOW_SECONDS",
		defaultInt(cfg.CircuitConfig.WindowSeconds, 60))
}

// EntryTTL returns the registry entry TTL as a duration
func (c SupervisorConfig) EntryTTL() time.Duration {
	return time.Duration(c.EntryTTLSeconds) * time.Second
}

// RunTimeout returns the per-run timeout, zero when disabled
func (c SupervisorConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func defaultInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func defaultFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}
