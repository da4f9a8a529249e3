package config

import (
	"os"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel     = "info"
	DefaultListenPort   = 8001
	DefaultDatabase     = "/var/lib/vramwatch/vramwatch.db"
	DefaultInterval     = 5
	DefaultSyncInterval = 30
	DefaultAPIURL       = "http://localhost:8001/api"
)

type Config struct {
	ListenAddress string `mapstructure:"listen_address"`
	ListenPort    int    `mapstructure:"listen_port"`
	Database      string `mapstructure:"database"`
	Interval      int    `mapstructure:"interval"`
	SyncInterval  int    `mapstructure:"sync_interval"`
	LogLevel      string `mapstructure:"log_level"`
	Agent         bool   `mapstructure:"agent"`
	APIURL        string `mapstructure:"api_url"`
}

// Load reads configuration from flags, environment and the config file.
// Flags override file values, which override defaults.
func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	v.SetDefault("listen_address", "")
	v.SetDefault("listen_port", DefaultListenPort)
	v.SetDefault("database", DefaultDatabase)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("sync_interval", DefaultSyncInterval)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("agent", false)
	v.SetDefault("api_url", DefaultAPIURL)

	flags := pflag.NewFlagSet("vramwatch", pflag.ContinueOnError)
	flags.String("listen-address", "", "Address the API server binds to")
	flags.Int("listen-port", DefaultListenPort, "Port the API server listens on")
	flags.String("database", DefaultDatabase, "Path to the SQLite database")
	flags.Int("interval", DefaultInterval, "Seconds between polls of each node")
	flags.Int("sync-interval", DefaultSyncInterval, "Seconds between registry reconciliations")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.Bool("agent", false, "Run as a remote collector agent against api-url")
	flags.String("api-url", DefaultAPIURL, "Upstream API URL in agent mode")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"listen_address": "listen-address",
		"listen_port":    "listen-port",
		"database":       "database",
		"interval":       "interval",
		"sync_interval":  "sync-interval",
		"log_level":      "log-level",
		"agent":          "agent",
		"api_url":        "api-url",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix("VRAMWATCH")
	v.AutomaticEnv()

	v.SetConfigName("vramwatch")
	v.SetConfigType("toml")
	if path := os.Getenv("VRAMWATCH_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file").WithData(err.Error())
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the loaded configuration for invalid values
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.SyncInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.SyncInterval)
	}
	if !isValidLogLevel(c.LogLevel) {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Database == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "database path is required")
	}
	if c.Agent && c.APIURL == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "api_url is required in agent mode")
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warning", "warn", "error":
		return true
	default:
		return false
	}
}
