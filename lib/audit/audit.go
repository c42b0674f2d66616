// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit drives scan and fix jobs through the Scan record's
// status lifecycle: pending → cloning → scanning → complete/failed,
// and complete → fixing → complete/failed. The Runner owns the fatal
// error taxonomy — clone failures, no runnable app, and unloadable
// pages fail the job; everything downstream of a successful scan
// degrades softly.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/remedy-foundation/remedy/lib/a11y"
	"github.com/remedy-foundation/remedy/lib/agent"
	"github.com/remedy-foundation/remedy/lib/clock"
	"github.com/remedy-foundation/remedy/lib/escrow"
	"github.com/remedy-foundation/remedy/lib/fixer"
	"github.com/remedy-foundation/remedy/lib/git"
	"github.com/remedy-foundation/remedy/lib/process"
	"github.com/remedy-foundation/remedy/lib/sandbox"
	"github.com/remedy-foundation/remedy/lib/sanitize"
	"github.com/remedy-foundation/remedy/lib/score"
	"github.com/remedy-foundation/remedy/lib/store"
	"github.com/remedy-foundation/remedy/lib/webapp"
)

// FixOptions carries the orchestrator knobs a deployment tunes.
type FixOptions struct {
	Workers           int
	TotalBudget       time.Duration
	BatchTimeout      time.Duration
	BatchSize         int
	ContrastBatchSize int
}

// Config wires the Runner's collaborators.
type Config struct {
	Store   *store.Store
	Scanner *a11y.Scanner
	Driver  agent.Driver

	// Gate releases escrow locks when scans complete. Optional.
	Gate escrow.Gate

	// WorkDir is the base directory for repository checkouts.
	WorkDir string

	// CacheDir is the shared package cache mounted into sandboxes.
	CacheDir string

	// CloneToken is the short-lived source-host token embedded in
	// clone URLs. Never logged or persisted.
	CloneToken string

	Fix    FixOptions
	Clock  clock.Clock
	Logger *slog.Logger
}

// container is the slice of lib/sandbox the Runner needs.
type container interface {
	ID() string
	Argv(command string) []string
	Destroy()
}

// sandboxLauncher runs bootstrap commands inside the scan's sandbox.
// The bootstrapper hands it host paths under the repo checkout; they
// are translated to the sandbox's /workspace mount.
type sandboxLauncher struct {
	box     container
	repoDir string
}

func (l sandboxLauncher) Launch(ctx context.Context, dir, command string) (webapp.Process, error) {
	if rel, err := filepath.Rel(l.repoDir, dir); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		command = fmt.Sprintf("cd '%s' && %s", strings.ReplaceAll(rel, "'", `'\''`), command)
	}
	argv := l.box.Argv(command)
	return process.Start(ctx, process.StartOptions{}, argv[0], argv[1:]...)
}

// Runner executes scan and fix jobs against the store.
type Runner struct {
	store    *store.Store
	gate     escrow.Gate
	workDir  string
	cacheDir string
	token    string
	fix      FixOptions
	driver   agent.Driver
	clock    clock.Clock
	logger   *slog.Logger

	// Stage hooks, replaceable in tests.
	materialize func(ctx context.Context, scan store.Scan, targetDir string) (*git.Repository, error)
	provision   func(repoDir, outputDir string) (container, error)
	boot        func(ctx context.Context, root string, box container) (*webapp.App, error)
	scanPage    func(ctx context.Context, url string) (*a11y.Result, error)
}

// NewRunner builds a Runner. Store is required; Scanner and Driver
// are required for the scan and fix paths respectively.
func NewRunner(config Config) (*Runner, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("audit: Store is required")
	}
	if config.WorkDir == "" {
		config.WorkDir = filepath.Join(os.TempDir(), "remedy-work")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	runner := &Runner{
		store:    config.Store,
		gate:     config.Gate,
		workDir:  config.WorkDir,
		cacheDir: config.CacheDir,
		token:    config.CloneToken,
		fix:      config.Fix,
		driver:   config.Driver,
		clock:    config.Clock,
		logger:   config.Logger,
	}

	runner.materialize = func(ctx context.Context, scan store.Scan, targetDir string) (*git.Repository, error) {
		if scan.Branch != "" {
			return git.CloneBranch(ctx, scan.RepoURL, runner.token, scan.Branch, targetDir)
		}
		return git.Clone(ctx, scan.RepoURL, runner.token, targetDir)
	}
	runner.provision = func(repoDir, outputDir string) (container, error) {
		return sandbox.New(sandbox.Config{
			RepoDir:   repoDir,
			OutputDir: outputDir,
			CacheDir:  runner.cacheDir,
			Logger:    runner.logger,
		})
	}
	runner.boot = func(ctx context.Context, root string, box container) (*webapp.App, error) {
		probe := webapp.RenderProbe(nil)
		if config.Scanner != nil {
			probe = config.Scanner.RenderStats
		}
		bootConfig := webapp.Config{
			Root:   root,
			Probe:  probe,
			Clock:  runner.clock,
			Logger: runner.logger,
		}
		if box != nil {
			bootConfig.Launcher = sandboxLauncher{box: box, repoDir: root}
		}
		return webapp.Bootstrap(ctx, bootConfig)
	}
	runner.scanPage = func(ctx context.Context, url string) (*a11y.Result, error) {
		if config.Scanner == nil {
			return nil, fmt.Errorf("audit: no scanner configured")
		}
		return config.Scanner.Scan(ctx, url)
	}
	return runner, nil
}

// fail marks the scan failed with a sanitized reason. The original
// error is returned for the caller's logs.
func (r *Runner) fail(ctx context.Context, scanID string, err error) error {
	message := sanitize.Diagnostic(err.Error())
	if storeErr := r.store.SetFailure(ctx, scanID, message); storeErr != nil {
		r.logger.Error("recording failure", "scan_id", scanID, "error", storeErr)
	}
	return err
}

// RunScan drives one audit: clone, bootstrap, scan, score, persist.
func (r *Runner) RunScan(ctx context.Context, scanID string) error {
	scan, err := r.store.GetScan(ctx, scanID)
	if err != nil {
		return err
	}
	logger := r.logger.With("scan_id", scanID, "repo", scan.RepoOwner+"/"+scan.RepoName)

	if scan.Status == store.StatusPending {
		if err := r.store.SetStatus(ctx, scanID, store.StatusCloning); err != nil {
			return err
		}
	} else if scan.Status != store.StatusCloning {
		return fmt.Errorf("audit: scan %s is %s, not runnable", scanID, scan.Status)
	}

	checkoutDir := filepath.Join(r.workDir, scanID, "repo")
	if err := os.MkdirAll(filepath.Dir(checkoutDir), 0o755); err != nil {
		return r.fail(ctx, scanID, fmt.Errorf("preparing work dir: %w", err))
	}
	defer os.RemoveAll(filepath.Join(r.workDir, scanID))

	logger.Info("cloning repository", "branch", scan.Branch)
	repo, err := r.materialize(ctx, scan, checkoutDir)
	if err != nil {
		return r.fail(ctx, scanID, err)
	}

	outputDir := filepath.Join(r.workDir, scanID, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return r.fail(ctx, scanID, fmt.Errorf("preparing output dir: %w", err))
	}
	box, err := r.provision(repo.Dir(), outputDir)
	if err != nil {
		return r.fail(ctx, scanID, fmt.Errorf("provisioning sandbox: %w", err))
	}
	defer box.Destroy()
	if err := r.store.SetContainerID(ctx, scanID, box.ID()); err != nil {
		logger.Warn("recording container id", "error", err)
	}

	if err := r.store.SetStatus(ctx, scanID, store.StatusScanning); err != nil {
		return err
	}

	logger.Info("bootstrapping application")
	app, err := r.boot(ctx, repo.Dir(), box)
	if err != nil {
		return r.fail(ctx, scanID, err)
	}
	defer app.Close()

	logger.Info("scanning", "url", app.URL, "mode", app.Mode)
	result, err := r.scanPage(ctx, app.URL)
	if err != nil {
		return r.fail(ctx, scanID, err)
	}

	annotated := score.Annotate(result.Violations)
	before := score.Score(annotated)
	logger.Info("scan scored", "violations", len(annotated), "score", before)

	if err := r.store.InsertViolations(ctx, scanID, toStoreViolations(annotated)); err != nil {
		return r.fail(ctx, scanID, err)
	}
	if err := r.store.SetScoreBefore(ctx, scanID, before); err != nil {
		return r.fail(ctx, scanID, err)
	}
	if len(result.Screenshot) > 0 {
		if err := r.store.SetBeforeScreenshot(ctx, scanID, result.Screenshot); err != nil {
			logger.Warn("storing screenshot", "error", err)
		}
	}

	if err := r.store.SetStatus(ctx, scanID, store.StatusComplete); err != nil {
		return err
	}
	r.releaseEscrow(ctx, scanID, logger)
	return nil
}

// releaseEscrow releases the scan's lock once work has completed.
// Best-effort: the scan outcome stands even if the gate errors.
func (r *Runner) releaseEscrow(ctx context.Context, scanID string, logger *slog.Logger) {
	if r.gate == nil {
		return
	}
	scan, err := r.store.GetScan(ctx, scanID)
	if err != nil || scan.EscrowTxHash == "" {
		return
	}
	lock := escrow.Lock{
		Owner:    scan.EscrowOwner,
		Sequence: scan.EscrowSequence,
		TxHash:   scan.EscrowTxHash,
	}
	if scan.EscrowReleaseAt != nil {
		lock.ReleaseEligibleAt = *scan.EscrowReleaseAt
	}
	if err := r.gate.Release(ctx, lock); err != nil {
		logger.Warn("releasing escrow", "error", err)
	}
}

// RunFix drives a fixing run: wipe prior fixes, re-materialize,
// orchestrate the agent, persist fixes, and reconcile the after-score
// with a verification re-scan.
func (r *Runner) RunFix(ctx context.Context, scanID string) error {
	scan, err := r.store.GetScan(ctx, scanID)
	if err != nil {
		return err
	}
	logger := r.logger.With("scan_id", scanID, "repo", scan.RepoOwner+"/"+scan.RepoName)

	if err := r.store.SetStatus(ctx, scanID, store.StatusFixing); err != nil {
		return err
	}

	// Re-running fixing must fully replace prior results, so a
	// differently-scoped earlier run cannot leave orphans.
	if err := r.store.ReplaceFixes(ctx, scanID, nil); err != nil {
		return r.fail(ctx, scanID, err)
	}

	violations, err := r.store.ListViolations(ctx, scanID)
	if err != nil {
		return r.fail(ctx, scanID, err)
	}
	if len(violations) == 0 {
		if err := r.store.SetProgress(ctx, scanID, "no violations recorded; nothing to fix"); err != nil {
			logger.Warn("recording progress", "error", err)
		}
		return r.store.SetStatus(ctx, scanID, store.StatusComplete)
	}

	checkoutDir := filepath.Join(r.workDir, scanID+"-fix", "repo")
	if err := os.MkdirAll(filepath.Dir(checkoutDir), 0o755); err != nil {
		return r.fail(ctx, scanID, fmt.Errorf("preparing work dir: %w", err))
	}
	defer os.RemoveAll(filepath.Join(r.workDir, scanID+"-fix"))

	repo, err := r.materialize(ctx, scan, checkoutDir)
	if err != nil {
		return r.fail(ctx, scanID, err)
	}

	outputDir := filepath.Join(r.workDir, scanID+"-fix", "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return r.fail(ctx, scanID, fmt.Errorf("preparing output dir: %w", err))
	}
	box, err := r.provision(repo.Dir(), outputDir)
	if err != nil {
		return r.fail(ctx, scanID, fmt.Errorf("provisioning sandbox: %w", err))
	}
	defer box.Destroy()
	if err := r.store.SetContainerID(ctx, scanID, box.ID()); err != nil {
		logger.Warn("recording container id", "error", err)
	}

	orchestrator, err := fixer.New(fixer.Config{
		Driver: r.driver,
		Clock:  r.clock,
		Logger: r.logger,
	})
	if err != nil {
		return r.fail(ctx, scanID, err)
	}

	result, err := orchestrator.Run(ctx, fixer.RunInput{
		ScanID:            scanID,
		Violations:        violations,
		RepoDir:           repo.Dir(),
		Workers:           r.fix.Workers,
		TotalBudget:       r.fix.TotalBudget,
		BatchTimeout:      r.fix.BatchTimeout,
		BatchSize:         r.fix.BatchSize,
		ContrastBatchSize: r.fix.ContrastBatchSize,
		OnProgress: func(message string) {
			if err := r.store.SetProgress(ctx, scanID, sanitize.Diagnostic(message)); err != nil {
				logger.Warn("recording progress", "error", err)
			}
		},
	})
	if err != nil {
		return r.fail(ctx, scanID, err)
	}

	if err := r.store.ReplaceFixes(ctx, scanID, result.Fixes); err != nil {
		return r.fail(ctx, scanID, err)
	}

	before := 0
	if scan.ScoreBefore != nil {
		before = *scan.ScoreBefore
	}
	after, message := fixer.ReconcileScore(ctx, result, before, violations, func(ctx context.Context) (int, error) {
		return r.rescan(ctx, scanID, repo.Dir(), box, logger)
	})
	if err := r.store.SetScoreAfter(ctx, scanID, after); err != nil {
		return r.fail(ctx, scanID, err)
	}

	summary := fixSummary(result, message)
	if err := r.store.SetProgress(ctx, scanID, sanitize.Diagnostic(summary)); err != nil {
		logger.Warn("recording summary", "error", err)
	}

	logger.Info("fix run complete",
		"fixes", len(result.Fixes),
		"applied", result.AppliedCount,
		"score_after", after)
	return r.store.SetStatus(ctx, scanID, store.StatusComplete)
}

// rescan boots the patched app and re-scores it for the authoritative
// after-score, storing the after screenshot as a side effect.
func (r *Runner) rescan(ctx context.Context, scanID, repoDir string, box container, logger *slog.Logger) (int, error) {
	app, err := r.boot(ctx, repoDir, box)
	if err != nil {
		return 0, err
	}
	defer app.Close()

	result, err := r.scanPage(ctx, app.URL)
	if err != nil {
		return 0, err
	}
	if len(result.Screenshot) > 0 {
		if err := r.store.SetAfterScreenshot(ctx, scanID, result.Screenshot); err != nil {
			logger.Warn("storing after screenshot", "error", err)
		}
	}
	return score.Score(score.Annotate(result.Violations)), nil
}

// fixSummary combines the reconciliation message and soft warnings
// into the scan's final progress text.
func fixSummary(result *fixer.RunResult, reconcileMessage string) string {
	parts := []string{fmt.Sprintf("%d fixes recorded (%d applied) across %d batches",
		len(result.Fixes), result.AppliedCount, result.BatchCount)}
	if reconcileMessage != "" {
		parts = append(parts, reconcileMessage)
	}
	parts = append(parts, result.Warnings...)
	parts = append(parts, result.WorkerErrors...)
	return strings.Join(parts, "; ")
}

func toStoreViolations(violations []a11y.Violation) []store.Violation {
	rows := make([]store.Violation, len(violations))
	for i, violation := range violations {
		rows[i] = store.Violation{
			Rule:         violation.Rule,
			Impact:       string(violation.Impact),
			Description:  violation.Description,
			HelpURL:      violation.HelpURL,
			Criteria:     violation.Criteria,
			AODARelevant: violation.AODARelevant,
			Target:       violation.Target,
			HTML:         violation.HTML,
			Weight:       violation.Weight,
		}
	}
	return rows
}

// IsNoApp reports whether err is the bootstrapper's "nothing to run"
// failure, as opposed to scanner or network errors.
func IsNoApp(err error) bool {
	return errors.Is(err, webapp.ErrNoApp)
}
