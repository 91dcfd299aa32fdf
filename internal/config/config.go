// Package config loads application configuration and exposes the global
// auto-control setting the scheduler consults every cycle.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the host application's static configuration.
type Config struct {
	RemoteURL    string
	RemoteToken  string
	PondID       string
	DBPath       string
	EvalInterval time.Duration
}

// Load reads config.yaml from dir via viper. REMOTE_URL and REMOTE_TOKEN
// environment variables override the file, so secrets can stay out of it.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")

	v.SetDefault("db.path", "pond.db")
	v.SetDefault("scheduler.interval", "30s")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	v.BindEnv("remote.url", "REMOTE_URL")
	v.BindEnv("remote.token", "REMOTE_TOKEN")

	cfg := &Config{
		RemoteURL:    v.GetString("remote.url"),
		RemoteToken:  v.GetString("remote.token"),
		PondID:       v.GetString("pond.id"),
		DBPath:       v.GetString("db.path"),
		EvalInterval: v.GetDuration("scheduler.interval"),
	}

	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("remote.url must be set (config or REMOTE_URL)")
	}
	if cfg.PondID == "" {
		return nil, fmt.Errorf("pond.id must be set")
	}
	if cfg.EvalInterval <= 0 {
		return nil, fmt.Errorf("scheduler.interval must be positive, got %s", cfg.EvalInterval)
	}

	return cfg, nil
}
