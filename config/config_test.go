package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMemFs(t *testing.T) afero.Fs {
	t.Helper()
	prev := AppFs
	fs := afero.NewMemMapFs()
	AppFs = fs
	t.Cleanup(func() { AppFs = prev })
	return fs
}

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoad_Defaults(t *testing.T) {
	useMemFs(t)
	unsetEnv(t, "PGTYPED_DATABASE_URL")
	t.Setenv("DATABASE_URL", "postgres://localhost/app")

	cfg, err := Load()
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, "postgres://localhost/app", cfg.DatabaseURL)
	assert.Equal(t, d.MaxOpenConns, cfg.MaxOpenConns)
	assert.Equal(t, d.PreparedCacheSize, cfg.PreparedCacheSize)
	assert.Equal(t, 30*time.Second, cfg.PrepareTimeout)
	assert.False(t, cfg.Debug)
}

func TestLoadFile(t *testing.T) {
	fs := useMemFs(t)
	unsetEnv(t, "PGTYPED_DATABASE_URL")
	unsetEnv(t, "PGTYPED_MAX_OPEN_CONNS")

	content := `
database_url: postgres://db.internal/orders
max_open_conns: 12
prepare_timeout: 45s
prepared_cache_size: 50
min_server_version: "13"
queries:
  - queries/users.sql
  - queries/orders.sql
debug: true
`
	require.NoError(t, afero.WriteFile(fs, "/app/pgtyped.yaml", []byte(content), 0644))

	cfg, err := LoadFile("/app/pgtyped.yaml")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db.internal/orders", cfg.DatabaseURL)
	assert.Equal(t, 12, cfg.MaxOpenConns)
	assert.Equal(t, 45*time.Second, cfg.PrepareTimeout)
	assert.Equal(t, 50, cfg.PreparedCacheSize)
	assert.Equal(t, "13", cfg.MinServerVersion)
	assert.Equal(t, []string{"queries/users.sql", "queries/orders.sql"}, cfg.Queries)
	assert.True(t, cfg.Debug)
	assert.Equal(t, Default().MaxIdleConns, cfg.MaxIdleConns)
}

func TestLoadFile_Missing(t *testing.T) {
	useMemFs(t)
	_, err := LoadFile("/nowhere/pgtyped.yaml")
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	fs := useMemFs(t)
	unsetEnv(t, "PGTYPED_DATABASE_URL")
	t.Setenv("PGTYPED_MAX_OPEN_CONNS", "7")

	require.NoError(t, afero.WriteFile(fs, "/app/pgtyped.yaml", []byte("max_open_conns: 12\n"), 0644))

	cfg, err := LoadFile("/app/pgtyped.yaml")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxOpenConns)
}

func TestLoad_DotEnv(t *testing.T) {
	fs := useMemFs(t)
	unsetEnv(t, "PGTYPED_DATABASE_URL")
	unsetEnv(t, "PGTYPED_PREPARED_CACHE_SIZE")

	require.NoError(t, afero.WriteFile(fs, ".env", []byte(
		"PGTYPED_DATABASE_URL=postgres://from-env-file/app\nPGTYPED_PREPARED_CACHE_SIZE=10\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, ".env.local", []byte(
		"PGTYPED_PREPARED_CACHE_SIZE=20\n"), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://from-env-file/app", cfg.DatabaseURL)
	assert.Equal(t, 20, cfg.PreparedCacheSize)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.DatabaseURL = "postgres://localhost/app"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing url", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database url is required"},
		{name: "negative open conns", mutate: func(c *Config) { c.MaxOpenConns = -1 }, wantErr: "max_open_conns"},
		{name: "negative idle conns", mutate: func(c *Config) { c.MaxIdleConns = -1 }, wantErr: "max_idle_conns"},
		{name: "negative cache", mutate: func(c *Config) { c.PreparedCacheSize = -5 }, wantErr: "prepared_cache_size"},
		{name: "negative timeout", mutate: func(c *Config) { c.PrepareTimeout = -time.Second }, wantErr: "prepare_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPoolConfig(t *testing.T) {
	cfg := Default()
	cfg.MinServerVersion = "14"
	pc := cfg.Pool()
	assert.Equal(t, cfg.MaxOpenConns, pc.MaxOpenConns)
	assert.Equal(t, cfg.HealthCheckInterval, pc.HealthCheckInterval)
	assert.Equal(t, "14", pc.MinServerVersion)
}

func TestSave(t *testing.T) {
	fs := useMemFs(t)
	cfg := Default()
	cfg.DatabaseURL = "postgres://secret@localhost/app"
	cfg.PreparedCacheSize = 77

	path, err := Save(cfg)
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "prepared_cache_size: 77")
	assert.NotContains(t, string(data), "secret")
}
