// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package a11y

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// DefaultAxeScriptURL is the rule engine bundle injected into scanned
// pages when no local copy is configured.
const DefaultAxeScriptURL = "https://cdnjs.cloudflare.com/ajax/libs/axe-core/4.10.2/axe.min.js"

// Config configures a Scanner.
type Config struct {
	// AxeScriptPath is a local axe-core bundle injected verbatim.
	// Takes precedence over AxeScriptURL. Preferred for sandboxed
	// runs where outbound CDN access may be blocked.
	AxeScriptPath string

	// AxeScriptURL is the rule engine script URL injected via a
	// script tag when no local path is set. Defaults to
	// DefaultAxeScriptURL.
	AxeScriptURL string

	// ChromePath overrides the Chrome/Chromium binary discovery.
	ChromePath string

	// NavigationTimeout bounds page load plus rule engine execution.
	// Defaults to 60 seconds.
	NavigationTimeout time.Duration

	// Logger receives scan progress. Nil means discard.
	Logger *slog.Logger
}

// Scanner runs accessibility audits through headless Chrome.
type Scanner struct {
	config Config
	logger *slog.Logger
}

// NewScanner returns a Scanner with defaults applied.
func NewScanner(config Config) *Scanner {
	if config.AxeScriptURL == "" {
		config.AxeScriptURL = DefaultAxeScriptURL
	}
	if config.NavigationTimeout <= 0 {
		config.NavigationTimeout = 60 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scanner{config: config, logger: logger}
}

// RenderStats is the blank-render probe result: enough signal to tell
// a rendered page from an SPA shell that needed JS the static server
// could not provide. The thresholds applied by callers are heuristic
// and can reject legitimately minimal pages (a single full-screen
// canvas); that tradeoff is accepted.
type RenderStats struct {
	TextLength   int `json:"textLength"`
	ElementCount int `json:"elementCount"`
}

// Scan audits the page at url: navigate, screenshot, run the rule
// engine, flatten per-node violations.
func (s *Scanner) Scan(ctx context.Context, url string) (*Result, error) {
	browserCtx, cancel, err := s.newBrowserContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	runCtx, cancelRun := context.WithTimeout(browserCtx, s.config.NavigationTimeout)
	defer cancelRun()

	var screenshot []byte
	var rawResults json.RawMessage

	started := time.Now()
	err = chromedp.Run(runCtx,
		chromedp.Navigate(url),
		// DOM content is enough; waiting for network idle hangs
		// forever on apps with polling or websockets.
		chromedp.Poll("document.readyState !== 'loading'", nil),
		chromedp.FullScreenshot(&screenshot, 90),
		s.injectRuleEngine(),
		chromedp.Evaluate(
			`axe.run(document, {resultTypes: ['violations']}).then(r => JSON.stringify(r))`,
			&rawResults,
			func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
				return p.WithAwaitPromise(true)
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", url, err)
	}

	// The promise resolves to a JSON string; unwrap it.
	var serialized string
	if err := json.Unmarshal(rawResults, &serialized); err != nil {
		return nil, fmt.Errorf("scanning %s: unexpected rule engine payload: %w", url, err)
	}

	violations, err := ParseAxeResults([]byte(serialized))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", url, err)
	}

	s.logger.Info("scan complete",
		"url", url,
		"violations", len(violations),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return &Result{URL: url, Violations: violations, Screenshot: screenshot}, nil
}

// RenderStats loads url and measures rendered body text length and
// element count without running the rule engine.
func (s *Scanner) RenderStats(ctx context.Context, url string) (RenderStats, error) {
	browserCtx, cancel, err := s.newBrowserContext(ctx)
	if err != nil {
		return RenderStats{}, err
	}
	defer cancel()

	runCtx, cancelRun := context.WithTimeout(browserCtx, s.config.NavigationTimeout)
	defer cancelRun()

	var stats RenderStats
	err = chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Poll("document.readyState !== 'loading'", nil),
		chromedp.Evaluate(
			`({textLength: (document.body ? document.body.innerText.trim().length : 0),
			   elementCount: document.querySelectorAll('*').length})`,
			&stats,
		),
	)
	if err != nil {
		return RenderStats{}, fmt.Errorf("probing %s: %w", url, err)
	}
	return stats, nil
}

// newBrowserContext allocates a fresh headless browser for one page
// visit. One browser per scan keeps crashed pages from poisoning
// later runs.
func (s *Scanner) newBrowserContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	options := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if s.config.ChromePath != "" {
		options = append(options, chromedp.ExecPath(s.config.ChromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, options...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}
	return browserCtx, cancel, nil
}

// injectRuleEngine loads axe-core into the page: from a local bundle
// when configured, otherwise via a script tag pointing at the CDN.
func (s *Scanner) injectRuleEngine() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.config.AxeScriptPath != "" {
			source, err := os.ReadFile(s.config.AxeScriptPath)
			if err != nil {
				return fmt.Errorf("reading rule engine bundle: %w", err)
			}
			return chromedp.Evaluate(string(source), nil).Do(ctx)
		}

		loader := fmt.Sprintf(`new Promise((resolve, reject) => {
			if (window.axe) return resolve(true);
			const script = document.createElement('script');
			script.src = %q;
			script.onload = () => resolve(true);
			script.onerror = () => reject(new Error('rule engine script failed to load'));
			document.head.appendChild(script);
		})`, s.config.AxeScriptURL)

		var loaded bool
		return chromedp.Evaluate(loader, &loaded,
			func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
				return p.WithAwaitPromise(true)
			},
		).Do(ctx)
	})
}
