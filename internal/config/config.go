package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	ERP      ERPConfig      `yaml:"erp" mapstructure:"erp"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	RefData  RefDataConfig  `yaml:"refdata" mapstructure:"refdata"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run-persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ERPConfig holds reference-system (ERP) tool endpoint settings.
type ERPConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Key          string  `yaml:"key" mapstructure:"key"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// PipelineConfig holds the decision thresholds. These are deliberately
// configuration values, not inline literals: the 0.8 defaults are tuning
// points, not constants of the algorithm.
type PipelineConfig struct {
	// FieldThreshold is the minimum field-confidence for a per-field pass.
	FieldThreshold float64 `yaml:"field_threshold" mapstructure:"field_threshold"`

	// ProceedThreshold is the overall score an invoice must exceed to be
	// auto-approved.
	ProceedThreshold float64 `yaml:"proceed_threshold" mapstructure:"proceed_threshold"`

	// ToolErrorReviewThreshold is the number of unresolved (tool-error)
	// checks that forces manual review. The default of 1 means any
	// unreachable verification forces review.
	ToolErrorReviewThreshold int `yaml:"tool_error_review_threshold" mapstructure:"tool_error_review_threshold"`

	// MaxConcurrentRuns bounds how many invoices the serve command processes
	// at once.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// RetryConfig holds the per-check retry policy knobs.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// NotifyConfig configures the user-notification webhook.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the intake/status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// RefDataConfig configures the bundled reference-data (ERP) stub server.
type RefDataConfig struct {
	Port         int    `yaml:"port" mapstructure:"port"`
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`
	SeedFile     string `yaml:"seed_file" mapstructure:"seed_file"`
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
	v.SetEnvPrefix("APFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "apflow.db")
	v.SetDefault("erp.base_url", "http://localhost:8001")
	v.SetDefault("erp.timeout_secs", 10)
	v.SetDefault("erp.rate_limit_rps", 10.0)
	v.SetDefault("pipeline.field_threshold", 0.8)
	v.SetDefault("pipeline.proceed_threshold", 0.8)
	v.SetDefault("pipeline.tool_error_review_threshold", 1)
	v.SetDefault("pipeline.max_concurrent_runs", 4)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 250)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("refdata.port", 8001)
	v.SetDefault("refdata.database_path", "erp.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
