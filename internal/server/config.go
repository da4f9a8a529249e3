package server

import (
	"fmt"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	// defaultRateLimit allows bursts from dashboards polling several series
	// at once while keeping one client from saturating the store.
	defaultRateLimit = 50
	defaultRateBurst = 100
)

type Config struct {
	ListenAddress string
	Port          int
	// RateLimit is the sustained requests-per-second allowed per server;
	// RateBurst bounds short spikes. Zero values take the defaults.
	RateLimit int
	RateBurst int
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New().WithData(ErrInvalidConfig, fmt.Sprintf("invalid port %d", c.Port))
	}

	return nil
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.Port)
}

func (c Config) rateLimit() (limit, burst int) {
	limit, burst = c.RateLimit, c.RateBurst
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}

	return limit, burst
}
