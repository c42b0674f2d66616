// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package webapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/remedy-foundation/remedy/lib/a11y"
	"github.com/remedy-foundation/remedy/lib/clock"
	"github.com/remedy-foundation/remedy/lib/process"
)

// ErrNoApp is returned when every strategy is exhausted: no dev server
// came up and no static entry point rendered. Callers surface this
// distinctly from scanner and network errors.
var ErrNoApp = errors.New("no running dev server and no static entry point found")

// devServerPorts are polled while waiting for a launched dev server.
var devServerPorts = []int{3000, 5173, 4173, 8080, 8000, 4200}

// Blank-render thresholds: a static page counts as rendered when its
// body text or element count clears these. Heuristic — a legitimately
// minimal page (single full-screen canvas) can be rejected; that
// precision/recall tradeoff is accepted rather than silently tuned.
const (
	minRenderedTextLength   = 40
	minRenderedElementCount = 8
)

// Process is a launched long-running command.
type Process interface {
	// Output returns everything written so far.
	Output() string

	// Exited reports process exit.
	Exited() bool

	// Done is closed on exit.
	Done() <-chan struct{}

	// Stop kills the whole process group. Idempotent.
	Stop()
}

// Launcher starts long-running commands for the bootstrapper. The
// host implementation runs them directly; the audit pipeline supplies
// one that wraps commands in the scan's sandbox.
type Launcher interface {
	Launch(ctx context.Context, dir, command string) (Process, error)
}

// HostLauncher runs commands directly on the host as process groups.
type HostLauncher struct{}

// Launch starts command through a shell in dir.
func (HostLauncher) Launch(ctx context.Context, dir, command string) (Process, error) {
	return process.Start(ctx, process.StartOptions{Dir: dir}, "sh", "-c", command)
}

// RenderProbe measures a loaded page for the blank-render check.
// Usually a11y.Scanner.RenderStats.
type RenderProbe func(ctx context.Context, url string) (a11y.RenderStats, error)

// Config configures Bootstrap.
type Config struct {
	// Root is the repository working directory on the host.
	Root string

	// Launcher starts install and dev-server commands. Defaults to
	// HostLauncher.
	Launcher Launcher

	// Probe is the blank-render probe for the static fallback. When
	// nil the fallback accepts any reachable page.
	Probe RenderProbe

	// Clock drives polling and deadlines. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives search progress. Nil means discard.
	Logger *slog.Logger

	// StartupDeadline bounds each dev-server launch attempt.
	// Defaults to 90 seconds.
	StartupDeadline time.Duration

	// PollInterval is the port-poll cadence. Defaults to 2 seconds.
	PollInterval time.Duration

	// InstallTimeout bounds dependency installation per candidate.
	// Defaults to 4 minutes.
	InstallTimeout time.Duration
}

// App is a booted, reachable frontend. Close must be called on every
// path once the App is no longer needed.
type App struct {
	// URL is the resolved reachable address.
	URL string

	// Mode records which strategy produced the app: "dev-server",
	// "existing", or "static".
	Mode string

	// Dir is the candidate directory that won.
	Dir string

	processes []Process
	static    *StaticServer
}

// Close kills every spawned process group and stops the static
// server, if any. Idempotent.
func (a *App) Close() {
	for _, p := range a.processes {
		p.Stop()
	}
	a.processes = nil
	if a.static != nil {
		a.static.Close()
		a.static = nil
	}
}

// Bootstrap searches root for a runnable frontend and returns the
// first reachable App. On failure every spawned process has already
// been stopped and the error wraps ErrNoApp.
func Bootstrap(ctx context.Context, config Config) (*App, error) {
	if config.Launcher == nil {
		config.Launcher = HostLauncher{}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.StartupDeadline <= 0 {
		config.StartupDeadline = 90 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.InstallTimeout <= 0 {
		config.InstallTimeout = 4 * time.Minute
	}

	candidates := Discover(config.Root)
	config.Logger.Info("frontend search", "root", config.Root, "candidates", len(candidates))

	// Strategy 1: launch a dev server per candidate with a start script.
	for _, candidate := range candidates {
		if candidate.ScriptName == "" {
			continue
		}
		app, err := bootDevServer(ctx, config, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			config.Logger.Info("dev server attempt failed",
				"dir", candidate.Dir, "script", candidate.ScriptName, "error", err)
			continue
		}
		return app, nil
	}

	// Strategy 2: something may already be listening.
	if url := probePorts(devServerPorts); url != "" {
		config.Logger.Info("found already-listening server", "url", url)
		return &App{URL: url, Mode: "existing", Dir: config.Root}, nil
	}

	// Strategy 3: static fallback.
	for _, candidate := range candidates {
		staticDir := findStaticEntry(candidate)
		if staticDir == "" {
			continue
		}
		app, err := bootStatic(ctx, config, candidate, staticDir)
		if err != nil {
			config.Logger.Info("static attempt failed", "dir", staticDir, "error", err)
			continue
		}
		return app, nil
	}

	return nil, fmt.Errorf("%w (searched %d candidate directories under %s)",
		ErrNoApp, len(candidates), config.Root)
}

// bootDevServer installs dependencies if needed, launches the start
// script detached, and polls the common ports until one answers or
// the deadline passes. The spawned process is stopped on failure.
func bootDevServer(ctx context.Context, config Config, candidate Candidate) (*App, error) {
	if err := ensureDependencies(ctx, config, candidate); err != nil {
		return nil, err
	}

	command := "npm run " + candidate.ScriptName
	server, err := config.Launcher.Launch(ctx, candidate.Dir, command)
	if err != nil {
		return nil, fmt.Errorf("launching %q: %w", command, err)
	}

	deadline := config.Clock.Now().Add(config.StartupDeadline)
	for {
		if url := probePorts(devServerPorts); url != "" {
			return &App{URL: url, Mode: "dev-server", Dir: candidate.Dir, processes: []Process{server}}, nil
		}
		if server.Exited() {
			server.Stop()
			return nil, fmt.Errorf("dev server exited before listening: %s", tail(server.Output(), 400))
		}
		if config.Clock.Now().After(deadline) {
			server.Stop()
			return nil, fmt.Errorf("dev server not reachable within %s", config.StartupDeadline)
		}
		select {
		case <-ctx.Done():
			server.Stop()
			return nil, ctx.Err()
		case <-config.Clock.After(config.PollInterval):
		}
	}
}

// ensureDependencies runs npm install unless node_modules already
// exists (a significant wall-clock saving on re-runs and duplicated
// worker trees).
func ensureDependencies(ctx context.Context, config Config, candidate Candidate) error {
	if info, err := os.Stat(filepath.Join(candidate.Dir, "node_modules")); err == nil && info.IsDir() {
		return nil
	}

	install, err := config.Launcher.Launch(ctx, candidate.Dir, "npm install --no-audit --no-fund")
	if err != nil {
		return fmt.Errorf("starting install: %w", err)
	}
	defer install.Stop()

	select {
	case <-install.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-config.Clock.After(config.InstallTimeout):
		return fmt.Errorf("dependency install exceeded %s", config.InstallTimeout)
	}
}

// bootStatic serves staticDir and applies the blank-render probe.
func bootStatic(ctx context.Context, config Config, candidate Candidate, staticDir string) (*App, error) {
	server, err := StartStatic(staticDir)
	if err != nil {
		return nil, err
	}

	if config.Probe != nil {
		stats, err := config.Probe(ctx, server.URL)
		if err != nil {
			server.Close()
			return nil, fmt.Errorf("render probe: %w", err)
		}
		if stats.TextLength < minRenderedTextLength && stats.ElementCount < minRenderedElementCount {
			server.Close()
			return nil, fmt.Errorf("page renders effectively blank (%d chars, %d elements) — likely an SPA shell needing a dev server",
				stats.TextLength, stats.ElementCount)
		}
	}

	return &App{URL: server.URL, Mode: "static", Dir: candidate.Dir, static: server}, nil
}

// probePorts returns the URL of the first port accepting HTTP, or "".
func probePorts(ports []int) string {
	client := &http.Client{Timeout: 2 * time.Second}
	for _, port := range ports {
		address := fmt.Sprintf("127.0.0.1:%d", port)
		connection, err := net.DialTimeout("tcp", address, 500*time.Millisecond)
		if err != nil {
			continue
		}
		connection.Close()

		url := "http://" + address + "/"
		response, err := client.Get(url)
		if err != nil {
			continue
		}
		response.Body.Close()
		if response.StatusCode < 500 {
			return url
		}
	}
	return ""
}

// tail returns the last n bytes of s for error context.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
