package main

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Zereker/soupbintcp"
)

type fileConfig struct {
	Addr                string `toml:"addr"`
	Username            string `toml:"username"`
	Password            string `toml:"password"`
	Session             string `toml:"session"`
	Sequence            uint64 `toml:"sequence"`
	Heartbeat           string `toml:"heartbeat"`
	HeartbeatIntervalMS int64  `toml:"heartbeat_interval_ms"`
	ReadTimeout         string `toml:"read_timeout"`
	MetricsAddr         string `toml:"metrics_addr"`
	LogLevel            string `toml:"log_level"`
}

type clientConfig struct {
	Addr        string
	Username    string
	Password    string
	Session     string
	Sequence    uint64
	Heartbeat   time.Duration
	ReadTimeout time.Duration
	MetricsAddr string
	LogLevel    string
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Sequence:    1,
		Heartbeat:   soupbintcp.DefaultHeartbeat,
		ReadTimeout: soupbintcp.DefaultReadTimeout,
		LogLevel:    "info",
	}
}

// loadClientConfig overlays the keys defined in the TOML file at path onto cfg.
func loadClientConfig(path string, cfg *clientConfig) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("username") {
		cfg.Username = raw.Username
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	if meta.IsDefined("session") {
		cfg.Session = strings.TrimSpace(raw.Session)
	}
	if meta.IsDefined("sequence") {
		cfg.Sequence = raw.Sequence
	}

	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.Heartbeat = d
	}

	if meta.IsDefined("heartbeat_interval_ms") {
		cfg.Heartbeat = time.Duration(raw.HeartbeatIntervalMS) * time.Millisecond
	}

	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	return nil
}

func (c clientConfig) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("missing server address")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid server address: %w", err)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive, got %s", c.Heartbeat)
	}
	return nil
}
