package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "@hourly", cfg.OverdueSweep)
	assert.True(t, cfg.StrictArchive)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FINSTREAM_STORE", "PG")
	t.Setenv("FINSTREAM_PG_DSN", "postgres://localhost/fin")
	t.Setenv("FINSTREAM_RATE_LIMIT_RPS", "5")
	t.Setenv("FINSTREAM_STRICT_ARCHIVE", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://localhost/fin", cfg.PGDSN)
	assert.Equal(t, 5, cfg.RateLimitRPS)
	assert.False(t, cfg.StrictArchive)
}

func TestDotenvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("FINSTREAM_HTTP_ADDR=:7000\nFINSTREAM_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("FINSTREAM_LOG_LEVEL", "warn")
	t.Cleanup(func() { _ = os.Unsetenv("FINSTREAM_HTTP_ADDR") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	base := Config{Store: StoreMemory, RateLimitRPS: 1, RateLimitBurst: 1}
	require.NoError(t, base.Validate())

	pg := base
	pg.Store = StorePostgres
	assert.Error(t, pg.Validate())

	unknown := base
	unknown.Store = "mongo"
	assert.Error(t, unknown.Validate())

	noRate := base
	noRate.RateLimitRPS = 0
	assert.Error(t, noRate.Validate())
}
