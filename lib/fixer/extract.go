// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package fixer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/remedy-foundation/remedy/lib/agent"
	"github.com/remedy-foundation/remedy/lib/git"
)

// rawFix is the agent-facing fix record shape.
type rawFix struct {
	ViolationID  string `json:"violationId"`
	FilePath     string `json:"filePath"`
	OriginalCode string `json:"originalCode"`
	FixedCode    string `json:"fixedCode"`
	Explanation  string `json:"explanation"`
}

type fixSet struct {
	Fixes []rawFix `json:"fixes"`
}

// extraction is the outcome of one strategy: a found/not-found pair,
// not an error. "This strategy found nothing" is expected.
type extraction struct {
	fixes    []rawFix
	strategy string
}

// extractFromArtifact reads the artifact file the prompt asked the
// agent to write (strategy 1).
func extractFromArtifact(path string) (extraction, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return extraction{}, false
	}
	return parseFixSet(data, "artifact")
}

// extractFromStdout parses the agent's collected text output as JSON
// (strategy 2). Comments and trailing commas are tolerated: agents
// annotate their JSON more often than they should.
func extractFromStdout(stdout string) (extraction, bool) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return extraction{}, false
	}
	return parseFixSet(jsonc.ToJSON([]byte(trimmed)), "stdout")
}

// extractEmbedded brace-matches JSON objects containing a "fixes" key
// out of surrounding prose (strategy 3).
func extractEmbedded(text string) (extraction, bool) {
	for start := 0; start < len(text); {
		open := strings.IndexByte(text[start:], '{')
		if open < 0 {
			return extraction{}, false
		}
		open += start

		candidate, length := matchBraces(text[open:])
		if length == 0 {
			start = open + 1
			continue
		}
		if strings.Contains(candidate, `"fixes"`) {
			if result, ok := parseFixSet(jsonc.ToJSON([]byte(candidate)), "embedded"); ok {
				return result, true
			}
		}
		start = open + length
	}
	return extraction{}, false
}

// matchBraces returns the balanced {...} object starting at text[0]
// and its length, or a zero length when braces never balance. String
// literals are skipped so braces inside them don't count.
func matchBraces(text string) (string, int) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[:i+1], i + 1
			}
		}
	}
	return "", 0
}

// extractFromEvents replays the agent's structured event stream
// (strategy 4): assistant text responses are scanned for embedded
// fix JSON, and Write tool calls targeting the artifact file are
// parsed directly.
func extractFromEvents(events []agent.Event, artifactName string) (extraction, bool) {
	// Prefer an explicit artifact write over response prose.
	for _, event := range events {
		if event.Type != agent.EventTypeToolCall || event.ToolCall == nil {
			continue
		}
		if event.ToolCall.Name != "Write" && event.ToolCall.Name != "write_file" {
			continue
		}
		var input struct {
			FilePath string `json:"file_path"`
			Path     string `json:"path"`
			Content  string `json:"content"`
		}
		if json.Unmarshal(event.ToolCall.Input, &input) != nil {
			continue
		}
		target := input.FilePath
		if target == "" {
			target = input.Path
		}
		if filepath.Base(target) != artifactName {
			continue
		}
		if result, ok := parseFixSet(jsonc.ToJSON([]byte(input.Content)), "events"); ok {
			return result, true
		}
	}

	var text strings.Builder
	for _, event := range events {
		if event.Type == agent.EventTypeResponse && event.Response != nil {
			text.WriteString(event.Response.Content)
			text.WriteString("\n")
		}
	}
	if result, ok := extractEmbedded(text.String()); ok {
		result.strategy = "events"
		return result, true
	}
	return extraction{}, false
}

// extractFromDiff synthesizes fix records from what the agent
// actually changed in the working tree (strategy 5). This is the
// strongest fallback: it trusts what the agent did, not what it said.
func extractFromDiff(ctx context.Context, repo *git.Repository) (extraction, bool) {
	changed, err := repo.ChangedFiles(ctx)
	if err != nil || len(changed) == 0 {
		return extraction{}, false
	}

	var fixes []rawFix
	for _, path := range changed {
		diff, err := repo.Diff(ctx, path)
		if err != nil || diff == "" {
			continue
		}
		for _, hunk := range parseHunks(diff) {
			fixes = append(fixes, rawFix{
				FilePath:     path,
				OriginalCode: hunk.original,
				FixedCode:    hunk.fixed,
				Explanation:  "synthesized from working tree changes",
			})
		}
	}
	if len(fixes) == 0 {
		return extraction{}, false
	}
	return extraction{fixes: fixes, strategy: "diff"}, true
}

type hunkChange struct {
	original string
	fixed    string
}

// parseHunks groups the consecutive removed/added line runs of a
// unified diff into original/fixed snippet pairs.
func parseHunks(diff string) []hunkChange {
	var changes []hunkChange
	var removed, added []string

	flush := func() {
		if len(removed) > 0 || len(added) > 0 {
			changes = append(changes, hunkChange{
				original: strings.Join(removed, "\n"),
				fixed:    strings.Join(added, "\n"),
			})
		}
		removed, added = nil, nil
	}

	for line := range strings.Lines(diff) {
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++"):
			// File headers, not content.
		case strings.HasPrefix(line, "-"):
			removed = append(removed, line[1:])
		case strings.HasPrefix(line, "+"):
			added = append(added, line[1:])
		default:
			flush()
		}
	}
	flush()
	return changes
}

func parseFixSet(data []byte, strategy string) (extraction, bool) {
	var set fixSet
	if err := json.Unmarshal(data, &set); err != nil || len(set.Fixes) == 0 {
		return extraction{}, false
	}
	valid := set.Fixes[:0]
	for _, fix := range set.Fixes {
		if fix.FilePath == "" {
			continue
		}
		valid = append(valid, fix)
	}
	if len(valid) == 0 {
		return extraction{}, false
	}
	return extraction{fixes: valid, strategy: strategy}, true
}

// assignViolationIDs fills in missing violationId fields from the
// batch's violation set: single-violation batches assign directly,
// multi-violation batches distribute by position.
func assignViolationIDs(fixes []rawFix, b batch) []rawFix {
	ids := b.violationIDs()
	if len(ids) == 0 {
		return fixes
	}
	for i := range fixes {
		if fixes[i].ViolationID == "" {
			fixes[i].ViolationID = ids[i%len(ids)]
		}
	}
	return fixes
}
