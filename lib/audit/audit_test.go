// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/remedy-foundation/remedy/lib/a11y"
	"github.com/remedy-foundation/remedy/lib/agent"
	"github.com/remedy-foundation/remedy/lib/git"
	"github.com/remedy-foundation/remedy/lib/store"
	"github.com/remedy-foundation/remedy/lib/webapp"
)

type fakeContainer struct{ id string }

func (c fakeContainer) ID() string { return c.id }

func (c fakeContainer) Argv(command string) []string { return []string{"sh", "-c", command} }

func (c fakeContainer) Destroy() {}

type stubProcess struct{}

func (stubProcess) Wait() error { return nil }

func (stubProcess) Signal(signal os.Signal) error { return nil }

// stubDriver returns the same stdout for every invocation.
type stubDriver struct {
	output string
}

func (d *stubDriver) Start(ctx context.Context, config agent.DriverConfig) (agent.Process, io.ReadCloser, error) {
	return stubProcess{}, io.NopCloser(strings.NewReader(d.output)), nil
}

func (d *stubDriver) ParseOutput(ctx context.Context, stdout io.Reader, events chan<- agent.Event) error {
	_, err := io.Copy(io.Discard, stdout)
	return err
}

func (d *stubDriver) Interrupt(process agent.Process) error { return nil }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "audit.db"), 1, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newTestRunner wires a Runner whose stage hooks never touch git,
// bwrap, or a browser.
func newTestRunner(t *testing.T, s *store.Store, driver agent.Driver, scanResult *a11y.Result) *Runner {
	t.Helper()
	runner, err := NewRunner(Config{
		Store:   s,
		Driver:  driver,
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	runner.materialize = func(ctx context.Context, scan store.Scan, targetDir string) (*git.Repository, error) {
		if err := os.MkdirAll(targetDir, 0o755); err != nil {
			return nil, err
		}
		return git.NewRepository(targetDir), nil
	}
	runner.provision = func(repoDir, outputDir string) (container, error) {
		return fakeContainer{id: "remedy-test1234"}, nil
	}
	runner.boot = func(ctx context.Context, root string, box container) (*webapp.App, error) {
		return &webapp.App{URL: "http://127.0.0.1:5173", Mode: "dev-server", Dir: root}, nil
	}
	runner.scanPage = func(ctx context.Context, url string) (*a11y.Result, error) {
		return scanResult, nil
	}
	return runner
}

func createScan(t *testing.T, s *store.Store) store.Scan {
	t.Helper()
	scan, err := s.CreateScan(context.Background(), store.Scan{
		Owner:     "user-1",
		RepoOwner: "acme",
		RepoName:  "storefront",
		RepoURL:   "https://github.com/acme/storefront.git",
		Branch:    "main",
	})
	if err != nil {
		t.Fatalf("create scan: %v", err)
	}
	return scan
}

func TestRunScanHappyPath(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	scan := createScan(t, s)

	result := &a11y.Result{
		URL: "http://127.0.0.1:5173",
		Violations: []a11y.Violation{
			{Rule: "color-contrast", Impact: a11y.ImpactSerious, Tags: []string{"wcag2aa", "wcag143"}, Target: "nav > a", HTML: "<a>Home</a>"},
			{Rule: "color-contrast", Impact: a11y.ImpactSerious, Tags: []string{"wcag2aa", "wcag143"}, Target: "nav > a:nth-child(2)", HTML: "<a>About</a>"},
			{Rule: "color-contrast", Impact: a11y.ImpactSerious, Tags: []string{"wcag2aa", "wcag143"}, Target: "footer a", HTML: "<a>Legal</a>"},
			{Rule: "color-contrast", Impact: a11y.ImpactSerious, Tags: []string{"wcag2aa", "wcag143"}, Target: "footer span", HTML: "<span>©</span>"},
		},
		Screenshot: []byte("fake png bytes"),
	}

	runner := newTestRunner(t, s, nil, result)
	if err := runner.RunScan(ctx, scan.ID); err != nil {
		t.Fatalf("run scan: %v", err)
	}

	loaded, err := s.GetScan(ctx, scan.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != store.StatusComplete {
		t.Fatalf("status = %s", loaded.Status)
	}
	// 4 serious nodes: round(100 - (4×7)/(4×10)×100) = 30.
	if loaded.ScoreBefore == nil || *loaded.ScoreBefore != 30 {
		t.Fatalf("score before = %v, want 30", loaded.ScoreBefore)
	}
	if loaded.ContainerID != "remedy-test1234" {
		t.Fatalf("container id = %q", loaded.ContainerID)
	}
	if loaded.BeforeScreenshot == "" || loaded.ScreenshotHash == "" {
		t.Fatal("before screenshot not stored")
	}

	violations, err := s.ListViolations(ctx, scan.ID)
	if err != nil {
		t.Fatalf("list violations: %v", err)
	}
	if len(violations) != 4 {
		t.Fatalf("got %d violations, want 4", len(violations))
	}
	for _, violation := range violations {
		if violation.Rule != "color-contrast" {
			t.Fatalf("rule = %q", violation.Rule)
		}
		if len(violation.Criteria) == 0 || violation.Criteria[0] != "1.4.3" {
			t.Fatalf("criteria = %v", violation.Criteria)
		}
		if !violation.AODARelevant {
			t.Fatal("1.4.3 must be AODA relevant")
		}
	}
}

func TestRunScanCloneFailure(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	scan := createScan(t, s)

	runner := newTestRunner(t, s, nil, nil)
	runner.materialize = func(ctx context.Context, scan store.Scan, targetDir string) (*git.Repository, error) {
		return nil, fmt.Errorf("clone failed: repository not found")
	}

	if err := runner.RunScan(ctx, scan.ID); err == nil {
		t.Fatal("clone failure must propagate")
	}
	loaded, _ := s.GetScan(ctx, scan.ID)
	if loaded.Status != store.StatusFailed {
		t.Fatalf("status = %s", loaded.Status)
	}
	if !strings.Contains(loaded.ErrorMessage, "clone failed") {
		t.Fatalf("error message = %q", loaded.ErrorMessage)
	}
}

func TestRunScanNoApp(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	scan := createScan(t, s)

	runner := newTestRunner(t, s, nil, nil)
	runner.boot = func(ctx context.Context, root string, box container) (*webapp.App, error) {
		return nil, fmt.Errorf("searching %s: %w", root, webapp.ErrNoApp)
	}

	err := runner.RunScan(ctx, scan.ID)
	if err == nil || !IsNoApp(err) {
		t.Fatalf("want ErrNoApp, got %v", err)
	}
	loaded, _ := s.GetScan(ctx, scan.ID)
	if loaded.Status != store.StatusFailed {
		t.Fatalf("status = %s", loaded.Status)
	}
	if !strings.Contains(loaded.ErrorMessage, "no running dev server and no static entry point") {
		t.Fatalf("error message = %q", loaded.ErrorMessage)
	}
}

func TestRunScanRejectsWrongState(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	scan := createScan(t, s)

	for _, to := range []store.Status{store.StatusCloning, store.StatusScanning, store.StatusFailed} {
		if err := s.SetStatus(ctx, scan.ID, to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	runner := newTestRunner(t, s, nil, nil)
	if err := runner.RunScan(ctx, scan.ID); err == nil {
		t.Fatal("failed scan must not be runnable")
	}
}

// completeScan walks a fresh scan to complete with the given
// violations recorded.
func completeScan(t *testing.T, s *store.Store, runner *Runner, scanID string) {
	t.Helper()
	if err := runner.RunScan(context.Background(), scanID); err != nil {
		t.Fatalf("run scan: %v", err)
	}
}

func TestRunFixZeroFixesCompletes(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	scan := createScan(t, s)

	scanResult := &a11y.Result{Violations: []a11y.Violation{
		{Rule: "image-alt", Impact: a11y.ImpactCritical, Tags: []string{"wcag111"}},
	}}
	// The agent never produces anything extractable.
	runner := newTestRunner(t, s, &stubDriver{}, scanResult)
	completeScan(t, s, runner, scan.ID)

	if err := runner.RunFix(ctx, scan.ID); err != nil {
		t.Fatalf("run fix: %v", err)
	}

	loaded, _ := s.GetScan(ctx, scan.ID)
	if loaded.Status != store.StatusComplete {
		t.Fatalf("status = %s, zero fixes is a valid terminal outcome", loaded.Status)
	}
	if loaded.ScoreAfter == nil || *loaded.ScoreAfter != *loaded.ScoreBefore {
		t.Fatalf("after = %v, want before %v carried forward", loaded.ScoreAfter, loaded.ScoreBefore)
	}
	if !strings.Contains(loaded.ErrorMessage, "no applicable fixes") {
		t.Fatalf("message = %q", loaded.ErrorMessage)
	}

	fixes, _ := s.ListFixes(ctx, scan.ID)
	if len(fixes) != 0 {
		t.Fatalf("unexpected fixes: %v", fixes)
	}
}

func TestRunFixPersistsAndRescores(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	scan := createScan(t, s)

	scanResult := &a11y.Result{
		Violations: []a11y.Violation{
			{Rule: "image-alt", Impact: a11y.ImpactCritical, Tags: []string{"wcag111"}, HTML: "<img>"},
		},
		Screenshot: []byte("png"),
	}
	driver := &stubDriver{
		output: `{"fixes":[{"filePath":"index.html","originalCode":"<img>","fixedCode":"<img alt=\"logo\">","explanation":"added alt text"}]}`,
	}
	runner := newTestRunner(t, s, driver, scanResult)
	completeScan(t, s, runner, scan.ID)

	// The verification re-scan comes back clean.
	clean := &a11y.Result{Violations: nil, Screenshot: []byte("after png")}
	runner.scanPage = func(ctx context.Context, url string) (*a11y.Result, error) {
		return clean, nil
	}

	if err := runner.RunFix(ctx, scan.ID); err != nil {
		t.Fatalf("run fix: %v", err)
	}

	loaded, _ := s.GetScan(ctx, scan.ID)
	if loaded.Status != store.StatusComplete {
		t.Fatalf("status = %s", loaded.Status)
	}
	if loaded.ScoreAfter == nil || *loaded.ScoreAfter != 100 {
		t.Fatalf("score after = %v, want 100", loaded.ScoreAfter)
	}
	if loaded.AfterScreenshot == "" {
		t.Fatal("after screenshot not stored")
	}

	fixes, err := s.ListFixes(ctx, scan.ID)
	if err != nil {
		t.Fatalf("list fixes: %v", err)
	}
	if len(fixes) != 1 {
		t.Fatalf("got %d fixes", len(fixes))
	}
	violations, _ := s.ListViolations(ctx, scan.ID)
	if fixes[0].ViolationID != violations[0].ID {
		t.Fatalf("fix keyed to %q, want %q", fixes[0].ViolationID, violations[0].ID)
	}
	if fixes[0].Status != store.FixPending {
		t.Fatalf("fix status = %s", fixes[0].Status)
	}
}

func TestRunFixRequiresCompleteScan(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	scan := createScan(t, s)

	runner := newTestRunner(t, s, &stubDriver{}, nil)
	if err := runner.RunFix(ctx, scan.ID); err == nil {
		t.Fatal("fixing a pending scan must fail the transition")
	}
	loaded, _ := s.GetScan(ctx, scan.ID)
	if loaded.Status != store.StatusPending {
		t.Fatalf("status = %s, must be untouched", loaded.Status)
	}
}

func TestRunFixReentrantWipesPriorFixes(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	scan := createScan(t, s)

	scanResult := &a11y.Result{Violations: []a11y.Violation{
		{Rule: "image-alt", Impact: a11y.ImpactCritical, HTML: "<img>"},
	}}
	driver := &stubDriver{
		output: `{"fixes":[{"filePath":"index.html","originalCode":"<img>","fixedCode":"<img alt=\"x\">","explanation":"first run"}]}`,
	}
	runner := newTestRunner(t, s, driver, scanResult)
	completeScan(t, s, runner, scan.ID)

	if err := runner.RunFix(ctx, scan.ID); err != nil {
		t.Fatalf("first fix run: %v", err)
	}
	first, _ := s.ListFixes(ctx, scan.ID)
	if len(first) != 1 || first[0].Explanation != "first run" {
		t.Fatalf("first run fixes = %+v", first)
	}

	driver.output = `{"fixes":[{"filePath":"index.html","originalCode":"<img>","fixedCode":"<img alt=\"y\">","explanation":"second run"}]}`
	if err := runner.RunFix(ctx, scan.ID); err != nil {
		t.Fatalf("second fix run: %v", err)
	}
	second, _ := s.ListFixes(ctx, scan.ID)
	if len(second) != 1 || second[0].Explanation != "second run" {
		t.Fatalf("second run must fully replace, got %+v", second)
	}
}
