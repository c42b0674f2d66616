// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package fixer turns an unreliable external coding agent into
// machine-applicable accessibility patches. Violations are batched by
// priority, dispatched to the agent under a wall-clock budget with
// empty-batch circuit breaking, extracted through an ordered fallback
// chain, and applied to the working tree with fuzzy matching.
// Unapplied fixes are still recorded: a suggestion a human can review
// is valuable output even when the patcher could not place it.
package fixer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/remedy-foundation/remedy/lib/a11y"
	"github.com/remedy-foundation/remedy/lib/agent"
	"github.com/remedy-foundation/remedy/lib/clock"
	"github.com/remedy-foundation/remedy/lib/git"
	"github.com/remedy-foundation/remedy/lib/score"
	"github.com/remedy-foundation/remedy/lib/store"
)

const (
	defaultBatchSize         = 1
	defaultContrastBatchSize = 8
	defaultEmptyBatchLimit   = 3
	defaultBatchTimeout      = 5 * time.Minute
	defaultTotalBudget       = 25 * time.Minute
	maxWorkers               = 6

	// Batches finishing faster than this with zero fixes are almost
	// certainly failed invocations (bad credentials, missing
	// binary), not the agent struggling.
	instantEmptyThreshold = 2 * time.Second
)

// Workspace is one worker's private working set: a repository copy
// the agent may edit freely and an output directory for artifacts.
type Workspace struct {
	Repo      *git.Repository
	OutputDir string

	// Close releases the workspace. Best-effort, may be nil.
	Close func()
}

// WorkspaceFactory provisions a Workspace for the given worker.
type WorkspaceFactory func(ctx context.Context, workerID int) (*Workspace, error)

// VerifyFunc is an optional scoped re-scan hook: it returns the
// current violation-node count for the given rule ids, giving a cheap
// before/after signal per batch.
type VerifyFunc func(ctx context.Context, rules []string) (int, error)

// Config holds the orchestrator's collaborators.
type Config struct {
	Driver agent.Driver
	Clock  clock.Clock
	Logger *slog.Logger
}

// RunInput parameterizes one fix run.
type RunInput struct {
	ScanID     string
	Violations []store.Violation

	// RepoDir is the already-materialized repository. Workers other
	// than the first duplicate it.
	RepoDir string

	Workers           int           // parallel workers, default 1, capped at 6
	TotalBudget       time.Duration // whole-run wall clock, default 25m
	BatchTimeout      time.Duration // per-batch cap, default 5m
	BatchSize         int           // default 1
	ContrastBatchSize int           // default 8
	EmptyBatchLimit   int           // consecutive empty batches before halting, default 3

	// Workspaces overrides workspace provisioning (tests, sandboxed
	// runs). Nil means duplicate RepoDir per worker.
	Workspaces WorkspaceFactory

	// OnProgress receives live ticker messages between batches.
	OnProgress func(message string)

	// Verify, when set, is called before and after each batch
	// scoped to the batch's rule ids.
	Verify VerifyFunc
}

// RunResult is the merged outcome of a fix run.
type RunResult struct {
	// Fixes is the final fix set, one per violation id, sorted by
	// violation id for determinism.
	Fixes []store.Fix

	AppliedCount int
	BatchCount   int
	EmptyBatches int

	// Warnings are soft diagnostics: budget stop, circuit breaker,
	// instant-empty batches.
	Warnings []string

	// WorkerErrors records per-worker failures that did not sink
	// the run.
	WorkerErrors []string
}

// Orchestrator runs the batching/invocation/extraction/patch loop.
type Orchestrator struct {
	driver agent.Driver
	clock  clock.Clock
	logger *slog.Logger
}

// New builds an Orchestrator. Driver is required; Clock and Logger
// default to the real clock and a discard logger.
func New(config Config) (*Orchestrator, error) {
	if config.Driver == nil {
		return nil, fmt.Errorf("fixer: Driver is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		driver: config.Driver,
		clock:  config.Clock,
		logger: config.Logger,
	}, nil
}

// runState is the cross-worker shared accounting: budget, circuit
// breaker, and the live fix/batch counters feeding progress messages.
type runState struct {
	mu          sync.Mutex
	emptyStreak int
	tripped     bool
	fixCount    int
	batchCount  int
	empties     int
	warnings    []string
}

func (s *runState) warn(message string) {
	s.mu.Lock()
	s.warnings = append(s.warnings, message)
	s.mu.Unlock()
}

// recordBatch updates the breaker after one finished batch and
// reports whether the breaker just tripped.
func (s *runState) recordBatch(extracted int, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCount++
	s.fixCount += extracted
	if extracted > 0 {
		s.emptyStreak = 0
		return false
	}
	s.empties++
	s.emptyStreak++
	if !s.tripped && s.emptyStreak >= limit {
		s.tripped = true
		s.warnings = append(s.warnings, fmt.Sprintf(
			"stopping after %d consecutive empty batches; the agent invocation is likely misconfigured", limit))
		return true
	}
	return false
}

func (s *runState) isTripped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripped
}

// Run executes the full fix pipeline and returns the merged results.
// A returned error means the run could not start at all; per-worker
// and per-batch failures surface through the result instead.
func (o *Orchestrator) Run(ctx context.Context, input RunInput) (*RunResult, error) {
	if len(input.Violations) == 0 {
		return &RunResult{}, nil
	}
	applyDefaults(&input)

	batches := makeBatches(input.Violations, input.BatchSize, input.ContrastBatchSize)
	assignments := partition(batches, input.Workers)

	o.logger.Info("fix run starting",
		"scan_id", input.ScanID,
		"violations", len(input.Violations),
		"batches", len(batches),
		"workers", len(assignments),
		"budget", input.TotalBudget)

	factory := input.Workspaces
	if factory == nil {
		factory = o.defaultWorkspaces(input.RepoDir, len(assignments))
	}

	state := &runState{}
	start := o.clock.Now()

	type workerOutcome struct {
		id    int
		fixes map[string]store.Fix
		err   error
	}
	outcomes := make(chan workerOutcome, len(assignments))

	var waitGroup sync.WaitGroup
	for workerID, workerBatches := range assignments {
		waitGroup.Add(1)
		go func(id int, assigned []batch) {
			defer waitGroup.Done()
			fixes, err := o.runWorker(ctx, id, assigned, input, factory, state, start)
			outcomes <- workerOutcome{id: id, fixes: fixes, err: err}
		}(workerID, workerBatches)
	}
	waitGroup.Wait()
	close(outcomes)

	// Settle-all merge: one worker's failure must not sink the
	// others' fixes. Applied fixes win over unapplied ones for the
	// same violation.
	result := &RunResult{}
	merged := make(map[string]store.Fix)
	for outcome := range outcomes {
		if outcome.err != nil {
			result.WorkerErrors = append(result.WorkerErrors,
				fmt.Sprintf("worker %d: %v", outcome.id, outcome.err))
		}
		for violationID, fix := range outcome.fixes {
			existing, exists := merged[violationID]
			if exists && existing.Applied && !fix.Applied {
				continue
			}
			merged[violationID] = fix
		}
	}

	for _, fix := range merged {
		result.Fixes = append(result.Fixes, fix)
		if fix.Applied {
			result.AppliedCount++
		}
	}
	sort.Slice(result.Fixes, func(i, j int) bool {
		return result.Fixes[i].ViolationID < result.Fixes[j].ViolationID
	})

	state.mu.Lock()
	result.BatchCount = state.batchCount
	result.EmptyBatches = state.empties
	result.Warnings = state.warnings
	state.mu.Unlock()

	o.logger.Info("fix run finished",
		"scan_id", input.ScanID,
		"fixes", len(result.Fixes),
		"applied", result.AppliedCount,
		"batches", result.BatchCount,
		"warnings", len(result.Warnings),
		"worker_errors", len(result.WorkerErrors))
	return result, nil
}

func applyDefaults(input *RunInput) {
	if input.Workers < 1 {
		input.Workers = 1
	}
	if input.Workers > maxWorkers {
		input.Workers = maxWorkers
	}
	if input.TotalBudget <= 0 {
		input.TotalBudget = defaultTotalBudget
	}
	if input.BatchTimeout <= 0 {
		input.BatchTimeout = defaultBatchTimeout
	}
	if input.BatchSize <= 0 {
		input.BatchSize = defaultBatchSize
	}
	if input.ContrastBatchSize <= 0 {
		input.ContrastBatchSize = defaultContrastBatchSize
	}
	if input.EmptyBatchLimit <= 0 {
		input.EmptyBatchLimit = defaultEmptyBatchLimit
	}
}

// defaultWorkspaces gives the first worker the materialized repo in
// place and duplicates it for the rest. A filesystem copy preserves
// installed dependencies, which a fresh clone would not.
func (o *Orchestrator) defaultWorkspaces(repoDir string, workers int) WorkspaceFactory {
	return func(ctx context.Context, workerID int) (*Workspace, error) {
		outputDir, err := os.MkdirTemp("", "remedy-fixer-out-*")
		if err != nil {
			return nil, fmt.Errorf("creating output dir: %w", err)
		}

		if workerID == 0 {
			return &Workspace{
				Repo:      git.NewRepository(repoDir),
				OutputDir: outputDir,
				Close:     func() { os.RemoveAll(outputDir) },
			}, nil
		}

		copyDir, err := os.MkdirTemp("", "remedy-fixer-repo-*")
		if err != nil {
			os.RemoveAll(outputDir)
			return nil, fmt.Errorf("creating repo copy dir: %w", err)
		}
		target := filepath.Join(copyDir, "repo")
		repo, err := git.Duplicate(ctx, repoDir, target, nil)
		if err != nil {
			os.RemoveAll(outputDir)
			os.RemoveAll(copyDir)
			return nil, err
		}
		return &Workspace{
			Repo:      repo,
			OutputDir: outputDir,
			Close: func() {
				os.RemoveAll(outputDir)
				os.RemoveAll(copyDir)
			},
		}, nil
	}
}

// runWorker processes this worker's batches strictly in priority
// order, stopping when budget runs out or the breaker trips.
func (o *Orchestrator) runWorker(ctx context.Context, workerID int, batches []batch, input RunInput, factory WorkspaceFactory, state *runState, start time.Time) (map[string]store.Fix, error) {
	workspace, err := factory(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("provisioning workspace: %w", err)
	}
	if workspace.Close != nil {
		defer workspace.Close()
	}

	fixes := make(map[string]store.Fix)
	for _, b := range batches {
		if state.isTripped() {
			break
		}
		remaining := input.TotalBudget - o.clock.Since(start)
		if remaining <= 0 {
			state.warn(fmt.Sprintf(
				"stopped due to budget: %s elapsed of %s total, %d batches not attempted",
				o.clock.Since(start).Truncate(time.Second), input.TotalBudget, remainingBatches(batches, b)))
			break
		}

		batchFixes := o.runBatch(ctx, workerID, b, input, workspace, state, min(input.BatchTimeout, remaining))
		tripped := state.recordBatch(len(batchFixes), input.EmptyBatchLimit)
		for violationID, fix := range batchFixes {
			fixes[violationID] = fix
		}

		if input.OnProgress != nil {
			state.mu.Lock()
			message := progressMessage(state.fixCount, state.batchCount,
				o.clock.Since(start).Truncate(time.Second).String(), input.TotalBudget.String())
			state.mu.Unlock()
			input.OnProgress(message)
		}
		if tripped {
			break
		}
	}
	return fixes, nil
}

func remainingBatches(batches []batch, current batch) int {
	for i := range batches {
		if len(batches[i].violations) > 0 && len(current.violations) > 0 &&
			batches[i].violations[0].ID == current.violations[0].ID {
			return len(batches) - i
		}
	}
	return 0
}

// runBatch invokes the agent once and extracts whatever fixes it can.
// Batch failures are diagnostics, never errors: the run continues.
func (o *Orchestrator) runBatch(ctx context.Context, workerID int, b batch, input RunInput, workspace *Workspace, state *runState, timeout time.Duration) map[string]store.Fix {
	artifactPath := filepath.Join(workspace.OutputDir, ArtifactFileName)
	// A stale artifact from the previous batch must not be read as
	// this batch's result.
	os.Remove(artifactPath)

	var verifyBefore int
	if input.Verify != nil {
		if count, err := input.Verify(ctx, b.ruleIDs()); err == nil {
			verifyBefore = count
		}
	}

	batchStart := o.clock.Now()
	events, stdout, invokeErr := o.invoke(ctx, agent.DriverConfig{
		Prompt:           buildPrompt(b, artifactPath),
		WorkingDirectory: workspace.Repo.Dir(),
		OutputDir:        workspace.OutputDir,
		Timeout:          timeout,
		Thinking:         b.contrast,
	})
	batchElapsed := o.clock.Since(batchStart)
	if invokeErr != nil {
		o.logger.Warn("agent invocation failed",
			"worker", workerID, "error", invokeErr)
	}

	extracted, found := o.extractChain(ctx, b, workspace, artifactPath, events, stdout, timeout)
	if !found {
		if batchElapsed < instantEmptyThreshold {
			state.warn(fmt.Sprintf(
				"batch on worker %d returned no fixes almost immediately (%s); likely a failed agent invocation",
				workerID, batchElapsed.Truncate(time.Millisecond)))
		}
		return nil
	}
	o.logger.Info("fixes extracted",
		"worker", workerID,
		"strategy", extracted.strategy,
		"count", len(extracted.fixes))

	raw := assignViolationIDs(extracted.fixes, b)
	fixes := make(map[string]store.Fix, len(raw))
	for _, fix := range raw {
		strategy, applied, patchErr := applyPatch(workspace.Repo.Dir(), fix.FilePath, fix.OriginalCode, fix.FixedCode)
		if patchErr != nil {
			o.logger.Warn("patch failed", "file", fix.FilePath, "error", patchErr)
		} else if applied {
			o.logger.Debug("patch applied", "file", fix.FilePath, "strategy", strategy)
		}
		fixes[fix.ViolationID] = store.Fix{
			ScanID:      input.ScanID,
			ViolationID: fix.ViolationID,
			FilePath:    fix.FilePath,
			Original:    fix.OriginalCode,
			Fixed:       fix.FixedCode,
			Explanation: fix.Explanation,
			Applied:     applied,
			Status:      store.FixPending,
		}
	}

	if input.Verify != nil {
		if after, err := input.Verify(ctx, b.ruleIDs()); err == nil {
			o.logger.Info("batch verification",
				"worker", workerID,
				"rules", b.ruleIDs(),
				"nodes_before", verifyBefore,
				"nodes_after", after)
		}
	}
	return fixes
}

// extractChain runs the ordered fallback strategies, ending with an
// extraction-only agent retry.
func (o *Orchestrator) extractChain(ctx context.Context, b batch, workspace *Workspace, artifactPath string, events []agent.Event, stdout string, timeout time.Duration) (extraction, bool) {
	if result, ok := extractFromArtifact(artifactPath); ok {
		return result, true
	}
	if result, ok := extractFromStdout(stdout); ok {
		return result, true
	}
	if result, ok := extractEmbedded(stdout); ok {
		return result, true
	}
	if result, ok := extractFromEvents(events, ArtifactFileName); ok {
		return result, true
	}
	if result, ok := extractFromDiff(ctx, workspace.Repo); ok {
		return result, true
	}

	// Last resort: the agent may have edited files but reported
	// nothing parseable. Ask it, briefly, to describe its own diff.
	retryTimeout := min(timeout, 2*time.Minute)
	retryEvents, retryStdout, err := o.invoke(ctx, agent.DriverConfig{
		Prompt:           buildRetryPrompt(b, artifactPath),
		WorkingDirectory: workspace.Repo.Dir(),
		OutputDir:        workspace.OutputDir,
		Timeout:          retryTimeout,
	})
	if err != nil {
		return extraction{}, false
	}
	if result, ok := extractFromArtifact(artifactPath); ok {
		result.strategy = "retry"
		return result, true
	}
	if result, ok := extractFromStdout(retryStdout); ok {
		result.strategy = "retry"
		return result, true
	}
	if result, ok := extractEmbedded(retryStdout); ok {
		result.strategy = "retry"
		return result, true
	}
	if result, ok := extractFromEvents(retryEvents, ArtifactFileName); ok {
		result.strategy = "retry"
		return result, true
	}
	return extraction{}, false
}

// invoke runs the agent once, collecting both the structured event
// stream and the raw stdout text (the extraction chain needs both).
func (o *Orchestrator) invoke(ctx context.Context, config agent.DriverConfig) ([]agent.Event, string, error) {
	process, stdout, err := o.driver.Start(ctx, config)
	if err != nil {
		return nil, "", err
	}
	defer stdout.Close()

	var rawOutput bytes.Buffer
	teed := io.TeeReader(stdout, &rawOutput)

	events := make(chan agent.Event, 64)
	collected := make([]agent.Event, 0, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range events {
			collected = append(collected, event)
		}
	}()

	parseErr := o.driver.ParseOutput(ctx, teed, events)
	close(events)
	<-done

	waitErr := process.Wait()
	if parseErr != nil {
		return collected, rawOutput.String(), fmt.Errorf("parsing agent output: %w", parseErr)
	}
	// A nonzero exit is not fatal to extraction: the agent may have
	// edited files and then timed out.
	return collected, rawOutput.String(), waitErr
}

// ReconcileScore resolves the authoritative after-score once all
// batches are done. Zero fixes is a valid terminal outcome, not an
// error: the before-score carries forward with an explanation. With
// fixes present, rescan supplies the real score; when the re-scan
// itself fails, the score is inferred from violations that have no
// fix, with an explicit warning.
func ReconcileScore(ctx context.Context, result *RunResult, beforeScore int, violations []store.Violation, rescan func(ctx context.Context) (int, error)) (afterScore int, message string) {
	if len(result.Fixes) == 0 {
		return beforeScore, "no applicable fixes were found; the score is unchanged. This can be a valid outcome for violations that need human judgment."
	}

	if rescan != nil {
		if scored, err := rescan(ctx); err == nil {
			return scored, ""
		} else {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("post-fix re-scan failed (%v); after-score inferred from unfixed violations", err))
		}
	}

	fixed := make(map[string]bool, len(result.Fixes))
	for _, fix := range result.Fixes {
		fixed[fix.ViolationID] = true
	}
	var unfixed []a11y.Violation
	for _, violation := range violations {
		if !fixed[violation.ID] {
			unfixed = append(unfixed, a11y.Violation{
				Impact: a11y.Impact(violation.Impact),
				Weight: violation.Weight,
			})
		}
	}
	return score.Score(unfixed), "after-score inferred from remaining unfixed violations"
}
