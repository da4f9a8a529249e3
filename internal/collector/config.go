package collector

import (
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
)

const (
	// defaultGracePeriod bounds how long Stop waits for a worker's final
	// cycle before abandoning the goroutine.
	defaultGracePeriod = 5 * time.Second

	// errorThreshold is the consecutive-failure count past which a worker
	// backs off its poll interval.
	errorThreshold = 5

	// maxBackoffSleep caps the backed-off sleep between cycles.
	maxBackoffSleep = 60 * time.Second
)

type Config struct {
	// Interval between poll cycles.
	Interval time.Duration
	// GracePeriod a Stop call waits for the worker to drain.
	GracePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		GracePeriod: defaultGracePeriod,
	}
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New().New(ErrInvalidInterval)
	}

	return nil
}

func (c Config) gracePeriod() time.Duration {
	if c.GracePeriod <= 0 {
		return defaultGracePeriod
	}

	return c.GracePeriod
}
