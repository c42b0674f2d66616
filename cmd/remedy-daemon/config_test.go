// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daemon.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		path := writeConfig(t, `
db: /var/lib/remedy/remedy.db
work_dir: /var/lib/remedy/work
clone_token: secret-token
chrome_path: /usr/bin/chromium
agent:
  binary: /usr/local/bin/claude
  model: opus
workers: 4
poll_interval: 30s
log_level: debug
`)
		config, err := loadConfig(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if config.DB != "/var/lib/remedy/remedy.db" {
			t.Fatalf("db = %q", config.DB)
		}
		if config.Agent.Binary != "/usr/local/bin/claude" || config.Agent.Model != "opus" {
			t.Fatalf("agent = %+v", config.Agent)
		}
		if config.Workers != 4 {
			t.Fatalf("workers = %d", config.Workers)
		}
		if time.Duration(config.PollInterval) != 30*time.Second {
			t.Fatalf("poll interval = %s", config.PollInterval)
		}
		if config.logLevel() != slog.LevelDebug {
			t.Fatalf("log level = %v", config.logLevel())
		}
	})

	t.Run("defaults", func(t *testing.T) {
		config, err := loadConfig(writeConfig(t, "db: remedy.db\n"))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if config.Workers != 2 {
			t.Fatalf("default workers = %d", config.Workers)
		}
		if time.Duration(config.PollInterval) != 10*time.Second {
			t.Fatalf("default poll interval = %s", config.PollInterval)
		}
		if config.logLevel() != slog.LevelInfo {
			t.Fatalf("default log level = %v", config.logLevel())
		}
	})

	t.Run("missing db is rejected", func(t *testing.T) {
		if _, err := loadConfig(writeConfig(t, "workers: 3\n")); err == nil {
			t.Fatal("config without db must fail")
		}
	})

	t.Run("malformed yaml is rejected", func(t *testing.T) {
		if _, err := loadConfig(writeConfig(t, "db: [unclosed\n")); err == nil {
			t.Fatal("malformed yaml must fail")
		}
	})

	t.Run("missing file is rejected", func(t *testing.T) {
		if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Fatal("missing file must fail")
		}
	})
}
