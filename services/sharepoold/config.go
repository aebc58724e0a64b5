package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	authSecretEnv        = "SHAREPOOLD_AUTH_SECRET"
	venueBearerEnv       = "SHAREPOOLD_VENUE_BEARER"
	venueSharedSecretEnv = "SHAREPOOLD_VENUE_SHARED_SECRET"
)

// VenueConfig controls the connection to the lending venue RPC adapter.
type VenueConfig struct {
	BaseURL            string  `toml:"BaseURL"`
	SharedSecretHeader string  `toml:"SharedSecretHeader"`
	TLSClientCAFile    string  `toml:"TLSClientCAFile"`
	AllowInsecure      bool    `toml:"AllowInsecure"`
	TimeoutSeconds     float64 `toml:"TimeoutSeconds"`
}

// TelemetryConfig controls the OpenTelemetry exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// Config captures runtime configuration for the sharepoold daemon. Secrets
// are supplied through the environment, never the file.
type Config struct {
	ListenAddress string  `toml:"ListenAddress"`
	DataDir       string  `toml:"DataDir"`
	Environment   string  `toml:"Environment"`
	LogLevel      string  `toml:"LogLevel"`
	LogFile       string  `toml:"LogFile"`
	AuthHeader    string  `toml:"AuthHeader"`
	RatePerSecond float64 `toml:"RatePerSecond"`
	RateBurst     int     `toml:"RateBurst"`

	Venue     VenueConfig     `toml:"Venue"`
	Telemetry TelemetryConfig `toml:"Telemetry"`

	// Populated from the environment.
	AuthSecret        string `toml:"-"`
	VenueBearerToken  string `toml:"-"`
	VenueSharedSecret string `toml:"-"`
}

// LoadConfig reads the TOML file at path, applies defaults and environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./data",
		Environment:   "dev",
		LogLevel:      "info",
		AuthHeader:    "X-Auth-Secret",
		RatePerSecond: 25,
		RateBurst:     50,
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.AuthSecret = strings.TrimSpace(os.Getenv(authSecretEnv))
	cfg.VenueBearerToken = strings.TrimSpace(os.Getenv(venueBearerEnv))
	cfg.VenueSharedSecret = strings.TrimSpace(os.Getenv(venueSharedSecretEnv))

	if strings.TrimSpace(cfg.Venue.BaseURL) == "" {
		return nil, errors.New("Venue.BaseURL is required")
	}
	if cfg.Venue.TimeoutSeconds < 0 {
		return nil, errors.New("Venue.TimeoutSeconds must not be negative")
	}
	if cfg.RatePerSecond < 0 {
		return nil, errors.New("RatePerSecond must not be negative")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, errors.New("DataDir is required")
	}
	return cfg, nil
}

// VenueTimeout returns the configured venue timeout, zero meaning default.
func (c *Config) VenueTimeout() time.Duration {
	return time.Duration(c.Venue.TimeoutSeconds * float64(time.Second))
}
