// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/remedy-foundation/remedy/lib/a11y"
	"github.com/remedy-foundation/remedy/lib/agent"
	"github.com/remedy-foundation/remedy/lib/audit"
	"github.com/remedy-foundation/remedy/lib/escrow"
	"github.com/remedy-foundation/remedy/lib/store"
)

const storePoolSize = 4

func openStore(logger *slog.Logger) (*store.Store, error) {
	return store.Open(viper.GetString("db"), storePoolSize, logger)
}

func buildRunner(s *store.Store, gate escrow.Gate, logger *slog.Logger) (*audit.Runner, error) {
	scanner := a11y.NewScanner(a11y.Config{
		AxeScriptPath: viper.GetString("axe-script"),
		ChromePath:    viper.GetString("chrome-path"),
		Logger:        logger,
	})
	driver := &agent.ClaudeDriver{
		Binary: viper.GetString("agent-binary"),
		Model:  viper.GetString("agent-model"),
	}
	return audit.NewRunner(audit.Config{
		Store:      s,
		Scanner:    scanner,
		Driver:     driver,
		Gate:       gate,
		WorkDir:    viper.GetString("work-dir"),
		CacheDir:   viper.GetString("cache-dir"),
		CloneToken: viper.GetString("clone-token"),
		Fix: audit.FixOptions{
			Workers:     viper.GetInt("fix-workers"),
			TotalBudget: viper.GetDuration("fix-budget"),
		},
		Logger: logger,
	})
}

// splitRepoURL derives owner and repository names from an https clone
// URL so callers need not repeat them.
func splitRepoURL(cloneURL string) (owner, name string) {
	parsed, err := url.Parse(cloneURL)
	if err != nil {
		return "", ""
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 {
		return "", ""
	}
	return parts[len(parts)-2], strings.TrimSuffix(parts[len(parts)-1], ".git")
}

func formatScore(value *int) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *value)
}

func defaultDuration(key string, fallback time.Duration) time.Duration {
	if value := viper.GetDuration(key); value > 0 {
		return value
	}
	return fallback
}
