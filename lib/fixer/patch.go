// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package fixer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// applyPatch locates original in the file at path and replaces it
// with fixed, trying progressively fuzzier matches. Returns the name
// of the strategy that matched, or ok=false when nothing did — the
// caller records the fix unapplied rather than dropping it.
func applyPatch(repoDir, path, original, fixed string) (strategy string, ok bool, err error) {
	if strings.Contains(path, "..") {
		return "", false, fmt.Errorf("patch path %q escapes the repository", path)
	}
	target := filepath.Join(repoDir, path)
	data, err := os.ReadFile(target)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", path, err)
	}
	content := string(data)

	updated, strategy, ok := replaceSnippet(content, original, fixed)
	if !ok {
		return "", false, nil
	}
	if err := os.WriteFile(target, []byte(updated), 0o644); err != nil {
		return "", false, fmt.Errorf("writing %s: %w", path, err)
	}
	return strategy, true, nil
}

// replaceSnippet is the pure matching core, one strategy at a time:
// exact substring, newline-normalized, whitespace-trimmed, then
// line-by-line replacement for equal-length snippets whose changed
// lines are each unique in the file.
func replaceSnippet(content, original, fixed string) (string, string, bool) {
	if original != "" && strings.Contains(content, original) {
		return strings.Replace(content, original, fixed, 1), "exact", true
	}

	normalizedContent := normalizeNewlines(content)
	normalizedOriginal := normalizeNewlines(original)
	if normalizedOriginal != "" && strings.Contains(normalizedContent, normalizedOriginal) {
		return strings.Replace(normalizedContent, normalizedOriginal, normalizeNewlines(fixed), 1), "newline", true
	}

	trimmedOriginal := strings.TrimSpace(normalizedOriginal)
	if trimmedOriginal != "" && strings.Contains(normalizedContent, trimmedOriginal) {
		return strings.Replace(normalizedContent, trimmedOriginal, strings.TrimSpace(normalizeNewlines(fixed)), 1), "trimmed", true
	}

	if updated, ok := replaceByLines(normalizedContent, normalizedOriginal, normalizeNewlines(fixed)); ok {
		return updated, "lines", true
	}

	return "", "", false
}

// replaceByLines replaces changed lines individually. Only safe when
// the snippets have equal line counts and every changed original line
// appears exactly once in the file; anything looser risks rewriting
// the wrong occurrence.
func replaceByLines(content, original, fixed string) (string, bool) {
	originalLines := strings.Split(original, "\n")
	fixedLines := strings.Split(fixed, "\n")
	if len(originalLines) != len(fixedLines) || original == "" {
		return "", false
	}

	contentLines := strings.Split(content, "\n")
	counts := make(map[string]int, len(contentLines))
	for _, line := range contentLines {
		counts[strings.TrimSpace(line)]++
	}

	type lineEdit struct {
		index       int
		replacement string
	}
	var edits []lineEdit

	for i := range originalLines {
		from := strings.TrimSpace(originalLines[i])
		to := fixedLines[i]
		if from == strings.TrimSpace(to) {
			continue
		}
		if counts[from] != 1 {
			return "", false
		}
		for j, line := range contentLines {
			if strings.TrimSpace(line) == from {
				// Preserve the file's own indentation.
				indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
				edits = append(edits, lineEdit{index: j, replacement: indent + strings.TrimSpace(to)})
				break
			}
		}
	}
	if len(edits) == 0 {
		return "", false
	}
	for _, edit := range edits {
		contentLines[edit.index] = edit.replacement
	}
	return strings.Join(contentLines, "\n"), true
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
