// Package config sources process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mirkobrombin/go-reslock/v1/reclaim"
)

// Config holds the process configuration for a reslock server.
type Config struct {
	// Port is the HTTP listening port (RESLOCK_PORT, default 8080).
	Port int
	// StoreURL selects the lock record store (RESLOCK_STORE, default
	// "mem://"): mem://, redis://host:port/db or sqlite://path.
	StoreURL string
	// BusURL selects the lease event bus (RESLOCK_BUS, default "mem://"):
	// mem://, redis://host:port/db, nats://host:port or kafka://host:port.
	BusURL string
	// AdminKey is the administrative credential for force-unlock
	// (RESLOCK_ADMIN_KEY). Empty disables force-unlock entirely.
	AdminKey string
	// SweepInterval is the expiry reclaim period (RESLOCK_SWEEP_INTERVAL,
	// Go duration syntax, default 60s).
	SweepInterval time.Duration
	// LogLevel is the logrus level name (RESLOCK_LOG_LEVEL, default "info").
	LogLevel string
	// Production suppresses internal error detail in API responses
	// (RESLOCK_ENV=production).
	Production bool
}

// FromEnv builds a Config from environment variables, applying defaults
// for anything unset.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:          8080,
		StoreURL:      "mem://",
		BusURL:        "mem://",
		AdminKey:      os.Getenv("RESLOCK_ADMIN_KEY"),
		SweepInterval: reclaim.DefaultInterval,
		LogLevel:      "info",
		Production:    os.Getenv("RESLOCK_ENV") == "production",
	}
	if v := os.Getenv("RESLOCK_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			return cfg, fmt.Errorf("config: invalid RESLOCK_PORT %q", v)
		}
		cfg.Port = p
	}
	if v := os.Getenv("RESLOCK_STORE"); v != "" {
		cfg.StoreURL = v
	}
	if v := os.Getenv("RESLOCK_BUS"); v != "" {
		cfg.BusURL = v
	}
	if v := os.Getenv("RESLOCK_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("config: invalid RESLOCK_SWEEP_INTERVAL %q", v)
		}
		cfg.SweepInterval = d
	}
	if v := os.Getenv("RESLOCK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}
