package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable runtime configuration, loaded once at process
// start. Values come from an optional JSON file with environment variables
// taking precedence.
type Config struct {
	EngineConfig       EngineConfig       `json:"engine"`
	BrokerConfig       BrokerConfig       `json:"broker"`
	RiskConfig         RiskConfig         `json:"risk"`
	ExecutionConfig    ExecutionConfig    `json:"execution"`
	MarketDataConfig   MarketDataConfig   `json:"market_data"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	WarehouseConfig    WarehouseConfig    `json:"warehouse"`
	RedisConfig        RedisConfig        `json:"redis"`
	NotificationConfig NotificationConfig `json:"notification"`
	ServerConfig       ServerConfig       `json:"server"`
	VaultConfig        VaultConfig        `json:"vault"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// EngineConfig drives the scheduler and signal lifecycle.
type EngineConfig struct {
	Environment             string   `json:"environment"` // PROD, DEV or TEST
	StrategyID              string   `json:"strategy_id"`
	CryptoSymbols           []string `json:"crypto_symbols"`
	EquitySymbols           []string `json:"equity_symbols"`
	PortfolioFile           string   `json:"portfolio_file"` // optional YAML universe file
	LookbackDays            int      `json:"lookback_days"`
	RateLimitDelay          float64  `json:"rate_limit_delay"` // seconds between symbols
	PivotThreshold          float64  `json:"pivot_threshold"`
	TTLDaysProd             int      `json:"ttl_days_prod"`
	TTLDaysDev              int      `json:"ttl_days_dev"`
	CooldownHours           int      `json:"cooldown_hours"`
	ReconcilerMinAgeMinutes int      `json:"reconciler_min_age_minutes"`
}

// BrokerConfig holds broker endpoint configuration. Credentials come from
// the secrets loader, not from here.
type BrokerConfig struct {
	APIKey       string `json:"-"`
	APISecret    string `json:"-"`
	BaseURL      string `json:"base_url"`
	DataBaseURL  string `json:"data_base_url"`
	PaperTrading bool   `json:"paper_trading"`
}

// RiskConfig holds the pre-trade gate thresholds.
type RiskConfig struct {
	RiskPerTrade        float64 `json:"risk_per_trade"`
	MaxCryptoPositions  int     `json:"max_crypto_positions"`
	MaxEquityPositions  int     `json:"max_equity_positions"`
	MaxDailyDrawdownPct float64 `json:"max_daily_drawdown_pct"`
	MinAssetBPUSD       float64 `json:"min_asset_bp_usd"`
	CorrelationWindow   int     `json:"correlation_window"` // days of closes
	CorrelationLimit    float64 `json:"correlation_limit"`
}

// ExecutionConfig gates order submission.
type ExecutionConfig struct {
	EnableExecution        bool    `json:"enable_execution"`
	TheoreticalSlippagePct float64 `json:"theoretical_slippage_pct"`
	MinOrderNotionalUSD    float64 `json:"min_order_notional_usd"`
	MaxPositionSize        float64 `json:"max_position_size"`
}

// MarketDataConfig controls bar fetching and the optional on-disk cache.
type MarketDataConfig struct {
	EnableCache bool   `json:"enable_cache"`
	CacheDir    string `json:"cache_dir"`
}

// DatabaseConfig holds the operational store connection settings.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"-"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// WarehouseConfig holds the analytical store DSN.
type WarehouseConfig struct {
	DSN string `json:"-"`
}

// RedisConfig holds job-lock and cooldown-marker store settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// NotificationConfig routes lifecycle messages to webhook sinks.
type NotificationConfig struct {
	Enabled          bool   `json:"enabled"`
	TestMode         bool   `json:"test_mode"`
	MockDiscord      bool   `json:"mock_discord"`
	CryptoWebhookURL string `json:"-"`
	EquityWebhookURL string `json:"-"`
	TestWebhookURL   string `json:"-"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// VaultConfig holds HashiCorp Vault connection settings.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"-"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	Level       string `json:"level"`
	Format      string `json:"format"` // console or json
	GCPSeverity bool   `json:"gcp_severity"`
}

// Load reads the optional JSON config file, applies environment overrides,
// merges the YAML portfolio file when configured, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if err := cfg.loadPortfolioFile(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &config, nil
}

func applyEnvOverrides(cfg *Config) {
	// Engine
	cfg.EngineConfig.Environment = strings.ToUpper(getEnvOrDefault("ENVIRONMENT", defaultStr(cfg.EngineConfig.Environment, "DEV")))
	cfg.EngineConfig.StrategyID = getEnvOrDefault("STRATEGY_ID", defaultStr(cfg.EngineConfig.StrategyID, "chartist_v1"))
	if v := os.Getenv("CRYPTO_SYMBOLS"); v != "" {
		cfg.EngineConfig.CryptoSymbols = splitSymbols(v)
	}
	if v := os.Getenv("EQUITY_SYMBOLS"); v != "" {
		cfg.EngineConfig.EquitySymbols = splitSymbols(v)
	}
	cfg.EngineConfig.PortfolioFile = getEnvOrDefault("PORTFOLIO_FILE", cfg.EngineConfig.PortfolioFile)
	cfg.EngineConfig.LookbackDays = getEnvIntOrDefault("LOOKBACK_DAYS", defaultInt(cfg.EngineConfig.LookbackDays, 200))
	cfg.EngineConfig.RateLimitDelay = getEnvFloatOrDefault("RATE_LIMIT_DELAY", defaultFloat(cfg.EngineConfig.RateLimitDelay, 0.5))
	cfg.EngineConfig.PivotThreshold = getEnvFloatOrDefault("PIVOT_THRESHOLD", defaultFloat(cfg.EngineConfig.PivotThreshold, 0.05))
	cfg.EngineConfig.TTLDaysProd = getEnvIntOrDefault("TTL_DAYS_PROD", defaultInt(cfg.EngineConfig.TTLDaysProd, 30))
	cfg.EngineConfig.TTLDaysDev = getEnvIntOrDefault("TTL_DAYS_DEV", defaultInt(cfg.EngineConfig.TTLDaysDev, 7))
	cfg.EngineConfig.CooldownHours = getEnvIntOrDefault("SIGNAL_COOLDOWN_HOURS", defaultInt(cfg.EngineConfig.CooldownHours, 24))
	cfg.EngineConfig.ReconcilerMinAgeMinutes = getEnvIntOrDefault("RECONCILER_MIN_AGE_MINUTES", defaultInt(cfg.EngineConfig.ReconcilerMinAgeMinutes, 5))

	// Broker
	cfg.BrokerConfig.APIKey = getEnvOrDefault("ALPACA_API_KEY", cfg.BrokerConfig.APIKey)
	cfg.BrokerConfig.APISecret = getEnvOrDefault("ALPACA_API_SECRET", cfg.BrokerConfig.APISecret)
	cfg.BrokerConfig.BaseURL = getEnvOrDefault("ALPACA_BASE_URL", defaultStr(cfg.BrokerConfig.BaseURL, "https://paper-api.alpaca.markets"))
	cfg.BrokerConfig.DataBaseURL = getEnvOrDefault("ALPACA_DATA_BASE_URL", defaultStr(cfg.BrokerConfig.DataBaseURL, "https://data.alpaca.markets"))
	cfg.BrokerConfig.PaperTrading = getEnvBoolOrDefault("ALPACA_PAPER_TRADING", cfg.BrokerConfig.PaperTrading)

	// Risk
	cfg.RiskConfig.RiskPerTrade = getEnvFloatOrDefault("RISK_PER_TRADE", defaultFloat(cfg.RiskConfig.RiskPerTrade, 100.0))
	cfg.RiskConfig.MaxCryptoPositions = getEnvIntOrDefault("MAX_CRYPTO_POSITIONS", defaultInt(cfg.RiskConfig.MaxCryptoPositions, 3))
	cfg.RiskConfig.MaxEquityPositions = getEnvIntOrDefault("MAX_EQUITY_POSITIONS", defaultInt(cfg.RiskConfig.MaxEquityPositions, 5))
	cfg.RiskConfig.MaxDailyDrawdownPct = getEnvFloatOrDefault("MAX_DAILY_DRAWDOWN_PCT", defaultFloat(cfg.RiskConfig.MaxDailyDrawdownPct, 3.0))
	cfg.RiskConfig.MinAssetBPUSD = getEnvFloatOrDefault("MIN_ASSET_BP_USD", defaultFloat(cfg.RiskConfig.MinAssetBPUSD, 100.0))
	cfg.RiskConfig.CorrelationWindow = getEnvIntOrDefault("CORRELATION_WINDOW_DAYS", defaultInt(cfg.RiskConfig.CorrelationWindow, 90))
	cfg.RiskConfig.CorrelationLimit = getEnvFloatOrDefault("CORRELATION_LIMIT", defaultFloat(cfg.RiskConfig.CorrelationLimit, 0.8))

	// Execution
	cfg.ExecutionConfig.EnableExecution = getEnvBoolOrDefault("ENABLE_EXECUTION", cfg.ExecutionConfig.EnableExecution)
	cfg.ExecutionConfig.TheoreticalSlippagePct = getEnvFloatOrDefault("THEORETICAL_SLIPPAGE_PCT", defaultFloat(cfg.ExecutionConfig.TheoreticalSlippagePct, 0.1))
	cfg.ExecutionConfig.MinOrderNotionalUSD = getEnvFloatOrDefault("MIN_ORDER_NOTIONAL_USD", defaultFloat(cfg.ExecutionConfig.MinOrderNotionalUSD, 10.0))
	cfg.ExecutionConfig.MaxPositionSize = getEnvFloatOrDefault("MAX_POSITION_SIZE", defaultFloat(cfg.ExecutionConfig.MaxPositionSize, 1e6))

	// Market data
	cfg.MarketDataConfig.EnableCache = getEnvBoolOrDefault("ENABLE_MARKET_DATA_CACHE", cfg.MarketDataConfig.EnableCache)
	cfg.MarketDataConfig.CacheDir = getEnvOrDefault("MARKET_DATA_CACHE_DIR", defaultStr(cfg.MarketDataConfig.CacheDir, ".cache/bars"))

	// Operational store
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultStr(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultStr(cfg.DatabaseConfig.User, "signal_engine"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultStr(cfg.DatabaseConfig.Database, "signal_engine"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", defaultStr(cfg.DatabaseConfig.SSLMode, "disable"))

	// Warehouse
	cfg.WarehouseConfig.DSN = getEnvOrDefault("WAREHOUSE_DSN", cfg.WarehouseConfig.DSN)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultStr(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Notification
	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.TestMode = getEnvBoolOrDefault("TEST_MODE", cfg.NotificationConfig.TestMode)
	cfg.NotificationConfig.MockDiscord = getEnvBoolOrDefault("MOCK_DISCORD", cfg.NotificationConfig.MockDiscord)
	cfg.NotificationConfig.CryptoWebhookURL = getEnvOrDefault("DISCORD_CRYPTO_WEBHOOK_URL", cfg.NotificationConfig.CryptoWebhookURL)
	cfg.NotificationConfig.EquityWebhookURL = getEnvOrDefault("DISCORD_EQUITY_WEBHOOK_URL", cfg.NotificationConfig.EquityWebhookURL)
	cfg.NotificationConfig.TestWebhookURL = getEnvOrDefault("DISCORD_TEST_WEBHOOK_URL", cfg.NotificationConfig.TestWebhookURL)

	// Ops server
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", defaultStr(cfg.ServerConfig.Host, "127.0.0.1"))
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", defaultInt(cfg.ServerConfig.Port, 8090))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultStr(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultStr(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultStr(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultStr(cfg.VaultConfig.SecretPath, "signal-engine"))

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Format = getEnvOrDefault("LOG_FORMAT", defaultStr(cfg.LoggingConfig.Format, "json"))
	cfg.LoggingConfig.GCPSeverity = getEnvBoolOrDefault("ENABLE_GCP_LOGGING", cfg.LoggingConfig.GCPSeverity)
}

// portfolioFile is the YAML universe file shape. Environment variables win
// over the file.
type portfolioFile struct {
	Crypto []string `yaml:"crypto"`
	Equity []string `yaml:"equity"`
}

func (c *Config) loadPortfolioFile() error {
	if c.EngineConfig.PortfolioFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.EngineConfig.PortfolioFile)
	if err != nil {
		return fmt.Errorf("error reading portfolio file: %w", err)
	}
	var pf portfolioFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("error parsing portfolio file: %w", err)
	}
	if len(c.EngineConfig.CryptoSymbols) == 0 {
		c.EngineConfig.CryptoSymbols = pf.Crypto
	}
	if len(c.EngineConfig.EquitySymbols) == 0 {
		c.EngineConfig.EquitySymbols = pf.Equity
	}
	return nil
}

// Validate rejects configurations the engine cannot safely run with.
func (c *Config) Validate() error {
	switch c.EngineConfig.Environment {
	case "PROD", "DEV", "TEST":
	default:
		return fmt.Errorf("invalid ENVIRONMENT %q: must be PROD, DEV or TEST", c.EngineConfig.Environment)
	}
	if c.RiskConfig.RiskPerTrade <= 0 {
		return fmt.Errorf("RISK_PER_TRADE must be positive, got %f", c.RiskConfig.RiskPerTrade)
	}
	if c.EngineConfig.RateLimitDelay < 0 {
		return fmt.Errorf("RATE_LIMIT_DELAY must not be negative")
	}
	if c.IsProd() && c.ExecutionConfig.EnableExecution {
		if c.BrokerConfig.APIKey == "" || c.BrokerConfig.APISecret == "" {
			return fmt.Errorf("broker credentials are required in PROD with execution enabled")
		}
		if !c.BrokerConfig.PaperTrading {
			// Live submission additionally requires the paper-trading gate
			// to be set deliberately.
			return fmt.Errorf("ALPACA_PAPER_TRADING must be explicitly enabled to submit orders")
		}
	}
	return nil
}

// IsProd reports whether the engine runs with production gating.
func (c *Config) IsProd() bool {
	return c.EngineConfig.Environment == "PROD"
}

// TablePrefix returns the operational-store table prefix for the
// environment: live_ in PROD, test_ elsewhere.
func (c *Config) TablePrefix() string {
	if c.IsProd() {
		return "live_"
	}
	return "test_"
}

// TTL returns the delete_at horizon for the environment.
func (c *Config) TTL() time.Duration {
	days := c.EngineConfig.TTLDaysDev
	if c.IsProd() {
		days = c.EngineConfig.TTLDaysProd
	}
	return time.Duration(days) * 24 * time.Hour
}

func splitSymbols(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func defaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
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

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
