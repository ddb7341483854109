// Package config loads connection and preparer settings from config files,
// .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/satishbabariya/pgtyped-go/database/pool"
)

// AppFs is the filesystem config and .env files are read from.
var AppFs = afero.NewOsFs()

const (
	configName = ".pgtyped"
	envPrefix  = "PGTYPED"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL         string        `mapstructure:"database_url"`
	MaxOpenConns        int           `mapstructure:"max_open_conns"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime     time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime     time.Duration `mapstructure:"conn_max_idle_time"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	// PreparedCacheSize bounds the prepared query cache; 0 is unbounded.
	PreparedCacheSize int           `mapstructure:"prepared_cache_size"`
	PrepareTimeout    time.Duration `mapstructure:"prepare_timeout"`
	MinServerVersion  string        `mapstructure:"min_server_version"`
	// Queries lists the annotated .sql files checked by the CLI.
	Queries []string `mapstructure:"queries"`
	Debug   bool     `mapstructure:"debug"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	pc := pool.DefaultConfig()
	return &Config{
		MaxOpenConns:        pc.MaxOpenConns,
		MaxIdleConns:        pc.MaxIdleConns,
		ConnMaxLifetime:     pc.ConnMaxLifetime,
		ConnMaxIdleTime:     pc.ConnMaxIdleTime,
		HealthCheckInterval: pc.HealthCheckInterval,
		PreparedCacheSize:   1000,
		PrepareTimeout:      30 * time.Second,
	}
}

// Load reads configuration from the first .pgtyped.{yaml,json} found in the
// working directory, $HOME or $HOME/.config/pgtyped.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations and tolerates a missing file; an explicit path must
// exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetFs(AppFs)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Find home directory
		home, err := homedir.Dir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		v.AddConfigPath(home)
		v.AddConfigPath(filepath.Join(home, ".config", "pgtyped"))
	}

	// Set environment variable prefix
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// .env never overrides the process environment; .env.local does.
	if err := loadEnvFile(".env", false); err != nil {
		return nil, err
	}
	if err := loadEnvFile(".env.local", true); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("max_open_conns", d.MaxOpenConns)
	v.SetDefault("max_idle_conns", d.MaxIdleConns)
	v.SetDefault("conn_max_lifetime", d.ConnMaxLifetime)
	v.SetDefault("conn_max_idle_time", d.ConnMaxIdleTime)
	v.SetDefault("health_check_interval", d.HealthCheckInterval)
	v.SetDefault("prepared_cache_size", d.PreparedCacheSize)
	v.SetDefault("prepare_timeout", d.PrepareTimeout)
	v.SetDefault("min_server_version", d.MinServerVersion)
	v.SetDefault("queries", d.Queries)
	v.SetDefault("debug", d.Debug)
}

// loadEnvFile sets the variables of name when it exists on AppFs. Existing
// variables are kept unless overload is set.
func loadEnvFile(name string, overload bool) error {
	if _, err := AppFs.Stat(name); err != nil {
		return nil
	}
	f, err := AppFs.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	for k, val := range vars {
		if _, set := os.LookupEnv(k); set && !overload {
			continue
		}
		if err := os.Setenv(k, val); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database url is required (set PGTYPED_DATABASE_URL or DATABASE_URL)")
	case c.MaxOpenConns < 0:
		return fmt.Errorf("max_open_conns must not be negative, got %d", c.MaxOpenConns)
	case c.MaxIdleConns < 0:
		return fmt.Errorf("max_idle_conns must not be negative, got %d", c.MaxIdleConns)
	case c.PreparedCacheSize < 0:
		return fmt.Errorf("prepared_cache_size must not be negative, got %d", c.PreparedCacheSize)
	case c.PrepareTimeout < 0:
		return fmt.Errorf("prepare_timeout must not be negative, got %s", c.PrepareTimeout)
	}
	return nil
}

// Pool returns the connection pool settings.
func (c *Config) Pool() pool.Config {
	return pool.Config{
		MaxOpenConns:        c.MaxOpenConns,
		MaxIdleConns:        c.MaxIdleConns,
		ConnMaxLifetime:     c.ConnMaxLifetime,
		ConnMaxIdleTime:     c.ConnMaxIdleTime,
		HealthCheckInterval: c.HealthCheckInterval,
		MinServerVersion:    c.MinServerVersion,
	}
}

// Save writes cfg to $HOME/.config/pgtyped/.pgtyped.yaml and returns the
// path written.
func Save(cfg *Config) (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	configFile := filepath.Join(home, ".config", "pgtyped", configName+".yaml")
	if err := SaveTo(cfg, configFile); err != nil {
		return "", err
	}
	return configFile, nil
}

// SaveTo writes cfg to path, omitting the database url so credentials stay
// in the environment.
func SaveTo(cfg *Config, path string) error {
	if err := AppFs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	v.SetFs(AppFs)
	v.Set("max_open_conns", cfg.MaxOpenConns)
	v.Set("max_idle_conns", cfg.MaxIdleConns)
	v.Set("conn_max_lifetime", cfg.ConnMaxLifetime.String())
	v.Set("conn_max_idle_time", cfg.ConnMaxIdleTime.String())
	v.Set("health_check_interval", cfg.HealthCheckInterval.String())
	v.Set("prepared_cache_size", cfg.PreparedCacheSize)
	v.Set("prepare_timeout", cfg.PrepareTimeout.String())
	v.Set("min_server_version", cfg.MinServerVersion)
	v.Set("queries", cfg.Queries)
	v.Set("debug", cfg.Debug)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
