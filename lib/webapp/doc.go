// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package webapp discovers and boots the web frontend of an arbitrary,
// unknown repository and resolves a reachable URL for the scanner.
//
// This is heuristic search, tuned against false negatives (giving up
// too early produces spurious "no app found" failures) under a
// wall-clock budget. [Discover] enumerates candidate project
// directories: the repository root, then breadth-first descent to
// depth two through common frontend directory names plus anything
// holding a package.json or index.html. [Bootstrap] then works through
// three strategies per candidate, first success wins:
//
//  1. Run the package.json start script (dev > start > serve),
//     installing dependencies first unless a node_modules directory
//     already exists, and poll the common dev-server ports until one
//     answers, the startup deadline passes, or the process exits.
//  2. Probe the same ports directly — something may already listen.
//  3. Serve static files: locate an index.html under the candidate or
//     its public/dist/build/out directories, start a path-traversal-
//     guarded file server on a fallback port, and reject effectively
//     blank renders (SPA shells that needed a real dev server) via a
//     headless-browser probe.
//
// Every process spawned during the search is killed as a process
// group before Bootstrap returns, success or failure. Exhausting all
// strategies returns [ErrNoApp], which callers surface distinctly
// from scanner and network failures.
package webapp
