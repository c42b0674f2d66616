// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// daemonConfig is the YAML configuration file schema.
type daemonConfig struct {
	// DB is the path to the sqlite database shared with the API
	// process. Required.
	DB string `yaml:"db"`

	// WorkDir is the base directory for repository checkouts.
	// Defaults to the system temp directory.
	WorkDir string `yaml:"work_dir"`

	// CacheDir is the shared package cache mounted into sandboxes.
	CacheDir string `yaml:"cache_dir"`

	// CloneToken is the source-host token for private clone URLs.
	CloneToken string `yaml:"clone_token"`

	// ChromePath overrides Chrome/Chromium binary discovery.
	ChromePath string `yaml:"chrome_path"`

	// AxeScript is a local axe-core bundle path. Empty means the
	// scanner fetches the engine from its default CDN URL.
	AxeScript string `yaml:"axe_script"`

	Agent agentConfig `yaml:"agent"`

	// Workers is the number of concurrent scan workers. Defaults
	// to 2.
	Workers int `yaml:"workers"`

	// PollInterval is the pending-scan poll cadence. Defaults to
	// 10 seconds.
	PollInterval duration `yaml:"poll_interval"`

	// LogLevel is debug, info, warn, or error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// duration makes time.Duration parseable from yaml strings ("30s").
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) String() string {
	return time.Duration(d).String()
}

type agentConfig struct {
	// Binary is the agent CLI binary. Empty means "claude" on PATH.
	Binary string `yaml:"binary"`

	// Model overrides the agent model.
	Model string `yaml:"model"`
}

func loadConfig(path string) (daemonConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return daemonConfig{}, err
	}
	var config daemonConfig
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return daemonConfig{}, fmt.Errorf("parsing yaml: %w", err)
	}
	if config.DB == "" {
		return daemonConfig{}, fmt.Errorf("db is required")
	}
	if config.Workers < 1 {
		config.Workers = 2
	}
	if config.PollInterval <= 0 {
		config.PollInterval = duration(10 * time.Second)
	}
	return config, nil
}

func (c daemonConfig) logLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
