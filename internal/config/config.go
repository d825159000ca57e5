package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the durable cache tier and run history backend.
type StoreConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	MaxConns      int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns      int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the extraction cache.
type CacheConfig struct {
	TTLHours         int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	BuildTimeoutSecs int `yaml:"build_timeout_secs" mapstructure:"build_timeout_secs"`
	DurableRetries   int `yaml:"durable_retries" mapstructure:"durable_retries"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// DedupConfig configures duplicate clustering.
type DedupConfig struct {
	Threshold    float64 `yaml:"threshold" mapstructure:"threshold"`
	NameWeight   float64 `yaml:"name_weight" mapstructure:"name_weight"`
	VendorWeight float64 `yaml:"vendor_weight" mapstructure:"vendor_weight"`
}

// NormalizeConfig configures field alias resolution and price parsing.
type NormalizeConfig struct {
	AliasesFile     string `yaml:"aliases_file" mapstructure:"aliases_file"`
	DefaultCurrency string `yaml:"default_currency" mapstructure:"default_currency"`
}

// PipelineConfig configures the ingestion orchestrator.
type PipelineConfig struct {
	MaxConcurrentFiles int   `yaml:"max_concurrent_files" mapstructure:"max_concurrent_files"`
	TimeoutSecs        int   `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxSourceBytes     int64 `yaml:"max_source_bytes" mapstructure:"max_source_bytes"`
}

// OCRConfig configures PDF text and table extraction.
type OCRConfig struct {
	Provider       string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath  string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey     string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel   string `yaml:"mistral_model" mapstructure:"mistral_model"`
	MistralBaseURL string `yaml:"mistral_base_url" mapstructure:"mistral_base_url"`
}

// FetchConfig configures remote source downloads.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
}

// ServerConfig configures the upload server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// MonitoringConfig configures run-history alerting in the server.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinAvgQuality        float64 `yaml:"min_avg_quality" mapstructure:"min_avg_quality"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml, if present, and the
// environment.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. Unlike the default
// ./config.yaml, a named file must exist.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catalog.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.build_timeout_secs", 300)
	v.SetDefault("cache.durable_retries", 2)
	v.SetDefault("cache.breaker_threshold", 5)
	v.SetDefault("cache.breaker_reset_secs", 30)
	v.SetDefault("dedup.threshold", 0.85)
	v.SetDefault("dedup.name_weight", 0.85)
	v.SetDefault("dedup.vendor_weight", 0.15)
	v.SetDefault("normalize.default_currency", "USD")
	v.SetDefault("pipeline.max_concurrent_files", 4)
	v.SetDefault("pipeline.timeout_secs", 600)
	v.SetDefault("pipeline.max_source_bytes", 64<<20)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.mistral_base_url", "https://api.mistral.ai/v1")
	v.SetDefault("fetch.user_agent", "catalog-ingest/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_host", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_avg_quality", 50)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
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

// Validate checks the configuration for the given command mode
// ("ingest", "serve" or "migrate").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "ingest", "migrate":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "memory", "sqlite", "redis":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, sqlite, postgres, redis", c.Store.Driver))
	}
	if mode == "migrate" && (c.Store.Driver == "memory" || c.Store.Driver == "redis") {
		errs = append(errs, fmt.Sprintf("store.driver %q has no schema to migrate", c.Store.Driver))
	}
	if c.Cache.TTLHours != 24 {
		errs = append(errs, fmt.Sprintf("cache.ttl_hours is fixed at 24, got %d", c.Cache.TTLHours))
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		errs = append(errs, "dedup.threshold must be in (0, 1]")
	}
	if c.Dedup.NameWeight < 0 || c.Dedup.VendorWeight < 0 {
		errs = append(errs, "dedup weights must be >= 0")
	}
	if c.Pipeline.MaxConcurrentFiles < 1 || c.Pipeline.MaxConcurrentFiles > 64 {
		errs = append(errs, "pipeline.max_concurrent_files must be between 1 and 64")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be in [0, 1]")
	}
	switch c.OCR.Provider {
	case "local", "pages_json":
	case "mistral":
		if c.OCR.MistralKey == "" {
			errs = append(errs, "ocr.mistral_api_key is required for the mistral provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("ocr.provider %q is not one of local, mistral, pages_json", c.OCR.Provider))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
