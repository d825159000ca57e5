package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "catalog.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, 24, cfg.Cache.TTLHours)
	assert.Equal(t, 300, cfg.Cache.BuildTimeoutSecs)
	assert.InDelta(t, 0.85, cfg.Dedup.Threshold, 0.001)
	assert.InDelta(t, 0.85, cfg.Dedup.NameWeight, 0.001)
	assert.InDelta(t, 0.15, cfg.Dedup.VendorWeight, 0.001)
	assert.Equal(t, "USD", cfg.Normalize.DefaultCurrency)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrentFiles)
	assert.Equal(t, int64(64<<20), cfg.Pipeline.MaxSourceBytes)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, "pdftotext", cfg.OCR.PdfToTextPath)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)

	assert.NoError(t, cfg.Validate("ingest"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: redis
  redis_addr: cache:6379
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  max_concurrent_files: 8
dedup:
  threshold: 0.9
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "cache:6379", cfg.Store.RedisAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrentFiles)
	assert.InDelta(t, 0.9, cfg.Dedup.Threshold, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 24, cfg.Cache.TTLHours)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CATALOG_STORE_DRIVER", "postgres")
	t.Setenv("CATALOG_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CATALOG_SERVER_PORT", "3000")
	t.Setenv("CATALOG_OCR_PROVIDER", "pages_json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "pages_json", cfg.OCR.Provider)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadFromExplicitPath(t *testing.T) {
	chdirTemp(t)
	p := filepath.Join(t.TempDir(), "ingest.yml")
	require.NoError(t, os.WriteFile(p, []byte("store:\n  driver: memory\ncache:\n  durable_retries: 0\n"), 0644))

	cfg, err := LoadFrom(p)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Zero(t, cfg.Cache.DurableRetries)
	assert.Equal(t, 24, cfg.Cache.TTLHours)
}

func TestLoadFromMissingPath(t *testing.T) {
	chdirTemp(t)
	_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Cache.TTLHours = 24
	cfg.Dedup.Threshold = 0.85
	cfg.Dedup.NameWeight = 0.85
	cfg.Dedup.VendorWeight = 0.15
	cfg.Pipeline.MaxConcurrentFiles = 4
	cfg.OCR.Provider = "local"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()

	cfg.Store.Driver = "mongo"
	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mongo"`)

	cfg.Store.Driver = "postgres"
	err = cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/catalog"
	assert.NoError(t, cfg.Validate("migrate"))

	cfg.Store.Driver = "redis"
	assert.NoError(t, cfg.Validate("ingest"))
	err = cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema to migrate")
}

func TestValidateFixedTTL(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.TTLHours = 12

	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fixed at 24")
}

func TestValidateDedupAndConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Dedup.Threshold = 1.5
	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup.threshold")

	cfg.Dedup.Threshold = 0.85
	cfg.Dedup.VendorWeight = -1
	err = cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup weights")

	cfg.Dedup.VendorWeight = 0.15
	cfg.Pipeline.MaxConcurrentFiles = 0
	err = cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_files must be between 1 and 64")

	cfg.Pipeline.MaxConcurrentFiles = 64
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateOCRProvider(t *testing.T) {
	cfg := validDefaults()

	cfg.OCR.Provider = "mistral"
	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral_api_key")

	cfg.OCR.MistralKey = "key"
	assert.NoError(t, cfg.Validate("ingest"))

	cfg.OCR.Provider = "tesseract"
	err = cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `ocr.provider "tesseract"`)
}

func TestValidateMonitoringThreshold(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.FailureRateThreshold = 1.5
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold")
}
