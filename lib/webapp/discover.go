// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package webapp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
)

// commonSubdirectories are frontend locations worth descending into
// even when the directory listing gives no other signal.
var commonSubdirectories = []string{
	"frontend", "client", "web", "app", "apps", "packages",
	"site", "www", "ui", "src",
}

// startScriptPriority orders package.json scripts from most to least
// likely to boot a dev server.
var startScriptPriority = []string{"dev", "start", "serve"}

// staticSubdirectories are build-output locations searched for an
// index.html during the static fallback.
var staticSubdirectories = []string{"public", "dist", "build", "out"}

// Candidate is one directory that might contain a runnable frontend.
type Candidate struct {
	// Dir is the absolute candidate directory.
	Dir string

	// HasPackageJSON reports a parseable package.json in Dir.
	HasPackageJSON bool

	// ScriptName is the chosen start script ("dev", "start",
	// "serve"), empty when none exists.
	ScriptName string

	// HasIndexHTML reports an index.html directly in Dir.
	HasIndexHTML bool
}

// Discover enumerates candidate project directories under root: the
// root itself, then breadth-first descent to depth two through common
// subdirectory names plus any directory containing a package.json or
// index.html. Order is deterministic (root first, then discovery
// order) and duplicates are removed.
func Discover(root string) []Candidate {
	seen := map[string]bool{}
	var candidates []Candidate

	appendCandidate := func(dir string) {
		if seen[dir] {
			return
		}
		seen[dir] = true
		candidates = append(candidates, inspectDirectory(dir))
	}

	appendCandidate(root)

	level := []string{root}
	for depth := 0; depth < 2; depth++ {
		var next []string
		for _, dir := range level {
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if !entry.IsDir() || entry.Name() == "node_modules" || entry.Name()[0] == '.' {
					continue
				}
				child := filepath.Join(dir, entry.Name())
				next = append(next, child)

				if slices.Contains(commonSubdirectories, entry.Name()) || hasProjectMarker(child) {
					appendCandidate(child)
				}
			}
		}
		level = next
	}

	// Keep only candidates that can actually lead somewhere.
	filtered := candidates[:0]
	for _, candidate := range candidates {
		if candidate.HasPackageJSON || candidate.HasIndexHTML || candidate.Dir == root {
			filtered = append(filtered, candidate)
		}
	}
	return filtered
}

// hasProjectMarker reports whether dir holds a package.json or
// index.html.
func hasProjectMarker(dir string) bool {
	for _, marker := range []string{"package.json", "index.html"} {
		if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

// inspectDirectory classifies one candidate directory.
func inspectDirectory(dir string) Candidate {
	candidate := Candidate{Dir: dir}

	if info, err := os.Stat(filepath.Join(dir, "index.html")); err == nil && !info.IsDir() {
		candidate.HasIndexHTML = true
	}

	raw, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return candidate
	}

	var manifest struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return candidate
	}
	candidate.HasPackageJSON = true

	for _, name := range startScriptPriority {
		if manifest.Scripts[name] != "" {
			candidate.ScriptName = name
			break
		}
	}
	return candidate
}

// findStaticEntry returns the directory under candidate containing an
// index.html: the candidate itself or one of the common build-output
// subdirectories. Empty when none exists.
func findStaticEntry(candidate Candidate) string {
	if candidate.HasIndexHTML {
		return candidate.Dir
	}
	for _, sub := range staticSubdirectories {
		path := filepath.Join(candidate.Dir, sub, "index.html")
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return filepath.Join(candidate.Dir, sub)
		}
	}
	return ""
}
