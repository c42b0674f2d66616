// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Remedy-daemon is the headless scan worker. It polls the shared
// database for pending scans, claims them atomically, and runs the
// full audit pipeline for each: clone, sandbox, bootstrap, scan,
// score, persist. Several daemons may share one database; the claim
// is the concurrency control.
//
// Fix runs are not handled here — they are queued and executed by the
// API process (remedy serve), which owns the fix request surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/remedy-foundation/remedy/lib/a11y"
	"github.com/remedy-foundation/remedy/lib/agent"
	"github.com/remedy-foundation/remedy/lib/audit"
	"github.com/remedy-foundation/remedy/lib/store"
	"github.com/remedy-foundation/remedy/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "/etc/remedy/daemon.yaml", "path to the daemon configuration file")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("remedy-daemon %s\n", version.Info())
		return nil
	}

	config, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.logLevel(),
	}))
	slog.SetDefault(logger)

	s, err := store.Open(config.DB, config.Workers+1, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	scanner := a11y.NewScanner(a11y.Config{
		AxeScriptPath: config.AxeScript,
		ChromePath:    config.ChromePath,
		Logger:        logger,
	})
	runner, err := audit.NewRunner(audit.Config{
		Store:   s,
		Scanner: scanner,
		Driver: &agent.ClaudeDriver{
			Binary: config.Agent.Binary,
			Model:  config.Agent.Model,
		},
		WorkDir:    config.WorkDir,
		CacheDir:   config.CacheDir,
		CloneToken: config.CloneToken,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("building runner: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("daemon starting",
		"db", config.DB,
		"workers", config.Workers,
		"poll_interval", config.PollInterval)

	var workers sync.WaitGroup
	for i := 0; i < config.Workers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			workerLoop(ctx, id, runner, s, time.Duration(config.PollInterval), logger)
		}(i)
	}
	workers.Wait()
	logger.Info("daemon stopped")
	return nil
}

// workerLoop claims and runs pending scans until the context ends.
// An in-flight scan finishes before the worker exits; SIGTERM is a
// drain, not an abort.
func workerLoop(ctx context.Context, id int, runner *audit.Runner, s *store.Store, interval time.Duration, logger *slog.Logger) {
	logger = logger.With("worker", id)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			scan, found, err := s.ClaimPending(ctx)
			if err != nil {
				logger.Error("claiming pending scan", "error", err)
				break
			}
			if !found {
				break
			}
			logger.Info("scan claimed", "scan_id", scan.ID, "repo", scan.RepoOwner+"/"+scan.RepoName)
			if err := runner.RunScan(ctx, scan.ID); err != nil {
				logger.Error("scan failed", "scan_id", scan.ID, "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}
