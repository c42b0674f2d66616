// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package a11y drives a headless Chrome instance against a resolved
// application URL and collects accessibility violations.
//
// [Scanner.Scan] navigates to the page, waits for DOM content (not
// network idle — many apps never go idle), captures a full-page
// screenshot as the "before" evidence, injects the axe-core rule
// engine, and runs it against the rendered document. Per-rule results
// are flattened into one [Violation] per affected DOM node
// ([ParseAxeResults]); the per-node fan-out is what scoring and the
// review UI operate on.
//
// [Scanner.RenderStats] is the cheap render probe the app bootstrapper
// uses to reject effectively-blank pages (SPA shells whose static
// server cannot execute their JS).
//
// Every failure mode — navigation timeout, page crash, rule-engine
// exception — surfaces as an error from Scan, never a panic: a broken
// page is a scan failure, not an orchestrator crash.
package a11y
