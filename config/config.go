// Package config loads the feed handler's JSON configuration file,
// grounded on original_source/cpp/include/config.hpp's symbols/
// tickerplant/reconnect/logging sections, generalized with a provider
// selector and a configurable snapshot request depth.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Provider selects which exchange collaborator feeds a symbol.
type Provider string

const (
	Binance Provider = "binance"
	Kucoin  Provider = "kucoin"
)

// Config is the feed handler's full runtime configuration.
type Config struct {
	Symbols []SymbolConfig `json:"symbols"`

	Sink      SinkConfig      `json:"sink"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`

	// Depth is the number of levels requested per REST snapshot fetch.
	// It must exceed the book's retained depth (book.Depth, fixed at
	// compile time for the engine's fixed-size ladders) so a truncated
	// or slightly-stale snapshot still covers every retained rank after
	// replay.
	Depth            int           `json:"depth"`
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout_ms"`
}

type SymbolConfig struct {
	Base     string   `json:"base"`
	Quote    string   `json:"quote"`
	Provider Provider `json:"provider"`
}

type SinkConfig struct {
	Target string `json:"target"`
}

type ReconnectConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

type MetricsConfig struct {
	Addr string `json:"addr"`
}

const (
	defaultDepth            = 50
	defaultHeartbeatMs      = 50
	defaultInitialBackoffMs = 1000
	defaultMaxBackoffMs     = 8000
	defaultMetricsAddr      = ":8080"
)

// Load reads and validates the config file at path, applying defaults
// for any field the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw struct {
		Symbols   []SymbolConfig  `json:"symbols"`
		Sink      SinkConfig      `json:"sink"`
		Reconnect ReconnectConfig `json:"reconnect"`
		Logging   LoggingConfig   `json:"logging"`
		Metrics   MetricsConfig   `json:"metrics"`
		Depth     int             `json:"depth"`
		Heartbeat int             `json:"heartbeat_timeout_ms"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &Config{
		Symbols:          raw.Symbols,
		Sink:             raw.Sink,
		Reconnect:        raw.Reconnect,
		Logging:          raw.Logging,
		Metrics:          raw.Metrics,
		Depth:            raw.Depth,
		HeartbeatTimeout: time.Duration(raw.Heartbeat) * time.Millisecond,
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Depth == 0 {
		c.Depth = defaultDepth
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = defaultHeartbeatMs * time.Millisecond
	}
	if c.Reconnect.InitialBackoffMs == 0 {
		c.Reconnect.InitialBackoffMs = defaultInitialBackoffMs
	}
	if c.Reconnect.MaxBackoffMs == 0 {
		c.Reconnect.MaxBackoffMs = defaultMaxBackoffMs
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = defaultMetricsAddr
	}
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: no symbols configured")
	}
	if c.Sink.Target == "" {
		return fmt.Errorf("config: sink.target is required")
	}
	for _, s := range c.Symbols {
		if s.Base == "" || s.Quote == "" {
			return fmt.Errorf("config: symbol entry missing base/quote")
		}
		if s.Provider != Binance && s.Provider != Kucoin {
			return fmt.Errorf("config: symbol %s/%s has unsupported provider %q", s.Base, s.Quote, s.Provider)
		}
	}
	return nil
}
