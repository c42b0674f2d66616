// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package fixer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func readTestFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return string(data)
}

func TestApplyPatchFallbackOrder(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		dir := t.TempDir()
		writeTestFile(t, dir, "app.jsx", `<img src="hero.png">`)

		strategy, ok, err := applyPatch(dir, "app.jsx", `<img src="hero.png">`, `<img src="hero.png" alt="hero">`)
		if err != nil || !ok {
			t.Fatalf("apply: ok=%v err=%v", ok, err)
		}
		if strategy != "exact" {
			t.Fatalf("strategy = %q", strategy)
		}
		if got := readTestFile(t, dir, "app.jsx"); got != `<img src="hero.png" alt="hero">` {
			t.Fatalf("content = %q", got)
		}
	})

	t.Run("newline normalized", func(t *testing.T) {
		dir := t.TempDir()
		writeTestFile(t, dir, "app.jsx", "<div>\n  <img>\n</div>")

		// Snippet with Windows line endings matches after normalization.
		strategy, ok, err := applyPatch(dir, "app.jsx", "<div>\r\n  <img>\r\n</div>", "<div>\r\n  <img alt=\"x\">\r\n</div>")
		if err != nil || !ok {
			t.Fatalf("apply: ok=%v err=%v", ok, err)
		}
		if strategy != "newline" {
			t.Fatalf("strategy = %q", strategy)
		}
		if !strings.Contains(readTestFile(t, dir, "app.jsx"), `alt="x"`) {
			t.Fatal("replacement missing")
		}
	})

	t.Run("trimmed", func(t *testing.T) {
		dir := t.TempDir()
		writeTestFile(t, dir, "app.jsx", `const x = 1;`)

		strategy, ok, err := applyPatch(dir, "app.jsx", "  const x = 1;  ", "  const x = 2;  ")
		if err != nil || !ok {
			t.Fatalf("apply: ok=%v err=%v", ok, err)
		}
		if strategy != "trimmed" {
			t.Fatalf("strategy = %q", strategy)
		}
		if got := readTestFile(t, dir, "app.jsx"); got != "const x = 2;" {
			t.Fatalf("content = %q", got)
		}
	})

	t.Run("line by line", func(t *testing.T) {
		dir := t.TempDir()
		writeTestFile(t, dir, "style.css", "body {\n    color: #999;\n    margin: 0;\n}")

		// The snippet's indentation differs from the file's, so no
		// substring strategy matches; the changed line is unique.
		strategy, ok, err := applyPatch(dir, "style.css",
			"body {\n  color: #999;\n  margin: 0;\n}",
			"body {\n  color: #333;\n  margin: 0;\n}")
		if err != nil || !ok {
			t.Fatalf("apply: ok=%v err=%v", ok, err)
		}
		if strategy != "lines" {
			t.Fatalf("strategy = %q", strategy)
		}
		got := readTestFile(t, dir, "style.css")
		if !strings.Contains(got, "    color: #333;") {
			t.Fatalf("file indentation not preserved: %q", got)
		}
	})

	t.Run("absent snippet not applied", func(t *testing.T) {
		dir := t.TempDir()
		writeTestFile(t, dir, "app.jsx", `<p>hello</p>`)

		strategy, ok, err := applyPatch(dir, "app.jsx", "<span>never here</span>", "<span>x</span>")
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if ok || strategy != "" {
			t.Fatalf("absent snippet must not apply, got %q", strategy)
		}
		if got := readTestFile(t, dir, "app.jsx"); got != `<p>hello</p>` {
			t.Fatalf("file modified: %q", got)
		}
	})
}

func TestApplyPatchRejectsAmbiguousLines(t *testing.T) {
	dir := t.TempDir()
	// "margin: 0;" appears twice; replacing by line is unsafe.
	writeTestFile(t, dir, "style.css", "a {\n  margin: 0;\n}\nb {\n  margin: 0;\n}")

	_, ok, err := applyPatch(dir, "style.css",
		"c {\n\tmargin: 0;\n}",
		"c {\n\tmargin: 4px;\n}")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ok {
		t.Fatal("ambiguous line replacement must not apply")
	}
}

func TestApplyPatchMismatchedLineCounts(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "app.jsx", "one\ntwo\nthree")

	_, ok, err := applyPatch(dir, "app.jsx", "XtwoX", "a\nb")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ok {
		t.Fatal("unequal line counts must not apply")
	}
}

func TestApplyPatchPathTraversal(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := applyPatch(dir, "../outside.txt", "a", "b"); err == nil {
		t.Fatal("traversal path must error")
	}
}

func TestApplyPatchMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := applyPatch(dir, "ghost.jsx", "a", "b"); err == nil {
		t.Fatal("missing file must error")
	}
}
