// CLAUDE:SUMMARY Daemon YAML configuration with env overrides and defaults.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config is the daemon configuration, loaded from YAML with a few
// environment overrides for containerized deployments.
type config struct {
	Listen   string `yaml:"listen"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	Cache struct {
		Backend   string `yaml:"backend"` // "memory" or "redis"
		RedisAddr string `yaml:"redis_addr"`
	} `yaml:"cache"`

	// Sources are the configuration documents the aggregator merges.
	Sources []string `yaml:"sources"`

	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ProbeURL        string        `yaml:"probe_url"`

	// MCPTransport enables the MCP server: "" (off) or "stdio".
	MCPTransport string `yaml:"mcp_transport"`

	Crawl struct {
		Timeout    time.Duration `yaml:"timeout"`
		RetryCount int           `yaml:"retry_count"`
		CacheTTL   time.Duration `yaml:"cache_ttl"`
	} `yaml:"crawl"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Backend = "redis"
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("MCP_TRANSPORT"); v != "" {
		cfg.MCPTransport = v
	}

	cfg.defaults()
	return cfg, nil
}

func (c *config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8085"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Minute
	}
}
