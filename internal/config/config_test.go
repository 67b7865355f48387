package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into an empty directory so no stray .env is read.
func chdirTemp(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("STORAGE", "")
	os.Unsetenv("STORAGE")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.Storage)
	assert.Equal(t, "https://s5phub.copernicus.eu/dhus", cfg.Catalog.URL)
	assert.Equal(t, "s5pguest", cfg.Catalog.Username)
	assert.Equal(t, 100, cfg.Catalog.PageSize)
	assert.Equal(t, 1, cfg.MaxParallel)
	assert.Equal(t, time.Duration(0), cfg.KeepDownloadedFor)
	assert.False(t, cfg.Scheduled())
	assert.False(t, cfg.MirrorEnabled())
	assert.True(t, cfg.Mirror.UseSSL)
	assert.Equal(t, "prometheus", cfg.Telemetry.Exporter)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("STORAGE", "/var/lib/s5p")
	t.Setenv("CATALOG_TOKEN_URL", "https://identity.example/token")
	t.Setenv("CATALOG_REQUEST_RATE", "0.5")
	t.Setenv("SCHEDULE", "@every 1h")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("MIRROR_ENDPOINT", "minio:9000")
	t.Setenv("MIRROR_BUCKET", "s5p")
	t.Setenv("MIRROR_USE_SSL", "false")
	t.Setenv("KEEP_DOWNLOADED_FOR", "72h")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/s5p", cfg.Storage)
	assert.Equal(t, "https://identity.example/token", cfg.Catalog.TokenURL)
	assert.InDelta(t, 0.5, cfg.Catalog.RequestRate, 1e-9)
	assert.True(t, cfg.Scheduled())
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.MirrorEnabled())
	assert.False(t, cfg.Mirror.UseSSL)
	assert.Equal(t, 72*time.Hour, cfg.KeepDownloadedFor)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("STORAGE", "")
	os.Unsetenv("STORAGE")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STORAGE=from-dotenv\n"), 0o600))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Storage)
}

func TestLoadConfig_InvalidValue(t *testing.T) {
	chdirTemp(t)
	t.Setenv("MAX_PARALLEL", "many")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error processing env")
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
