package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/richinsley/orbital"
)

type pingConfig struct {
	Env      string
	Rounds   int
	Interval time.Duration
	LogLevel string
	Trace    bool
	Metrics  bool
	Compress bool
}

type fileConfig struct {
	Env      string `toml:"env"`
	Rounds   int    `toml:"rounds"`
	Interval string `toml:"interval"`
	LogLevel string `toml:"log_level"`
	Trace    bool   `toml:"trace"`
	Metrics  bool   `toml:"metrics"`
	Compress bool   `toml:"compress"`
}

func defaultPingConfig() pingConfig {
	return pingConfig{
		Env:      orbital.DefaultPipeEnv,
		Rounds:   5,
		Interval: 200 * time.Millisecond,
	}
}

func loadPingConfig(path string) (pingConfig, error) {
	cfg := defaultPingConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return pingConfig{}, fmt.Errorf("load ping config: %w", err)
	}

	if meta.IsDefined("env") {
		if env := strings.TrimSpace(raw.Env); env != "" {
			cfg.Env = env
		}
	}

	if meta.IsDefined("rounds") {
		if raw.Rounds < 0 {
			return pingConfig{}, fmt.Errorf("rounds must not be negative, got %d", raw.Rounds)
		}
		cfg.Rounds = raw.Rounds
	}

	if meta.IsDefined("interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Interval))
		if err != nil {
			return pingConfig{}, fmt.Errorf("parse interval: %w", err)
		}
		cfg.Interval = d
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("trace") {
		cfg.Trace = raw.Trace
	}

	if meta.IsDefined("metrics") {
		cfg.Metrics = raw.Metrics
	}

	if meta.IsDefined("compress") {
		cfg.Compress = raw.Compress
	}

	return cfg, nil
}
