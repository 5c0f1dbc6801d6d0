package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Thresholds ThresholdConfig  `yaml:"thresholds" mapstructure:"thresholds"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Escalation EscalationConfig `yaml:"escalation" mapstructure:"escalation"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SourcesConfig configures the source registry and fetch behavior.
type SourcesConfig struct {
	RegistryPath string `yaml:"registry_path" mapstructure:"registry_path"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ThresholdConfig holds the reconciliation and safety-gate thresholds.
type ThresholdConfig struct {
	MinReliability       float64 `yaml:"min_reliability" mapstructure:"min_reliability"`
	HighConfidence       float64 `yaml:"high_confidence" mapstructure:"high_confidence"`
	MaxDataAgeHours      int     `yaml:"max_data_age_hours" mapstructure:"max_data_age_hours"`
	ShadowWindowHours    int     `yaml:"shadow_window_hours" mapstructure:"shadow_window_hours"`
	LateArrivalHours     float64 `yaml:"late_arrival_hours" mapstructure:"late_arrival_hours"`
	UrgentBelow          int     `yaml:"urgent_below" mapstructure:"urgent_below"`
	ReorderBelow         int     `yaml:"reorder_below" mapstructure:"reorder_below"`
	LogisticsReliability float64 `yaml:"logistics_reliability" mapstructure:"logistics_reliability"`
}

// MaxDataAge returns the freshness cutoff as a duration.
func (t ThresholdConfig) MaxDataAge() time.Duration {
	return time.Duration(t.MaxDataAgeHours) * time.Hour
}

// ShadowWindow returns the shadow-stock detection window as a duration.
func (t ThresholdConfig) ShadowWindow() time.Duration {
	return time.Duration(t.ShadowWindowHours) * time.Hour
}

// PipelineConfig configures reconciliation behavior.
type PipelineConfig struct {
	MaxConcurrentParts int `yaml:"max_concurrent_parts" mapstructure:"max_concurrent_parts"`
}

// ResilienceConfig configures retry and circuit-breaker behavior for
// source fetches.
type ResilienceConfig struct {
	MaxAttempts             int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs        int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs            int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier              float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction          float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetTimeoutSecs int     `yaml:"circuit_reset_timeout_secs" mapstructure:"circuit_reset_timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings for the advisor.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// NotionConfig holds Notion API credentials and the review board database ID.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReviewDB string `yaml:"review_db" mapstructure:"review_db"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// EscalationConfig configures post-run escalation targets.
type EscalationConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MaxDLQDepth          int     `yaml:"max_dlq_depth" mapstructure:"max_dlq_depth"`
	MaxInconsistentParts int     `yaml:"max_inconsistent_parts" mapstructure:"max_inconsistent_parts"`
}

// ServerConfig configures the query API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("sources.registry_path", "sources.yaml")
	v.SetDefault("sources.timeout_secs", 30)
	v.SetDefault("thresholds.min_reliability", 0.6)
	v.SetDefault("thresholds.high_confidence", 0.85)
	v.SetDefault("thresholds.max_data_age_hours", 24)
	v.SetDefault("thresholds.shadow_window_hours", 6)
	v.SetDefault("thresholds.late_arrival_hours", 12)
	v.SetDefault("thresholds.urgent_below", 30)
	v.SetDefault("thresholds.reorder_below", 50)
	v.SetDefault("thresholds.logistics_reliability", 0.9)
	v.SetDefault("pipeline.max_concurrent_parts", 8)
	v.SetDefault("resilience.max_attempts", 4)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 15000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.2)
	v.SetDefault("resilience.circuit_failure_threshold", 5)
	v.SetDefault("resilience.circuit_reset_timeout_secs", 60)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.max_dlq_depth", 50)
	v.SetDefault("monitoring.max_inconsistent_parts", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that configuration required for the given mode is present
// and that thresholds are internally consistent.
func (c *Config) Validate(mode string) error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for the postgres driver (RECON_STORE_DATABASE_URL)")
	}

	t := c.Thresholds
	if t.MinReliability < 0 || t.MinReliability > 1 {
		return eris.Errorf("config: thresholds.min_reliability %.2f outside [0,1]", t.MinReliability)
	}
	if t.HighConfidence < 0 || t.HighConfidence > 1 {
		return eris.Errorf("config: thresholds.high_confidence %.2f outside [0,1]", t.HighConfidence)
	}
	if t.LogisticsReliability < 0 || t.LogisticsReliability > 1 {
		return eris.Errorf("config: thresholds.logistics_reliability %.2f outside [0,1]", t.LogisticsReliability)
	}
	if t.UrgentBelow > t.ReorderBelow {
		return eris.Errorf("config: thresholds.urgent_below %d exceeds reorder_below %d", t.UrgentBelow, t.ReorderBelow)
	}

	if mode == "ask" && c.Anthropic.Key == "" {
		return eris.New("config: anthropic key is required for ask (RECON_ANTHROPIC_KEY)")
	}

	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
