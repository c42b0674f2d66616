// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package fixer

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/remedy-foundation/remedy/lib/agent"
	"github.com/remedy-foundation/remedy/lib/git"
	"github.com/remedy-foundation/remedy/lib/store"
)

const sampleFixJSON = `{"fixes":[{"violationId":"v1","filePath":"src/App.jsx","originalCode":"<img>","fixedCode":"<img alt=\"x\">","explanation":"added alt"}]}`

func TestExtractFromArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ArtifactFileName)
	if err := os.WriteFile(path, []byte(sampleFixJSON), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, ok := extractFromArtifact(path)
	if !ok || len(result.fixes) != 1 {
		t.Fatalf("result = %+v ok=%v", result, ok)
	}
	if result.strategy != "artifact" || result.fixes[0].ViolationID != "v1" {
		t.Fatalf("fix = %+v", result.fixes[0])
	}

	if _, ok := extractFromArtifact(filepath.Join(dir, "missing.json")); ok {
		t.Fatal("missing artifact must not be found")
	}
}

func TestExtractFromStdoutToleratesJSONC(t *testing.T) {
	// Agents annotate their JSON with comments and trailing commas.
	input := `{
  // the fixes I made
  "fixes": [
    {"violationId": "v1", "filePath": "a.html", "originalCode": "x", "fixedCode": "y",},
  ],
}`
	result, ok := extractFromStdout(input)
	if !ok || result.fixes[0].FilePath != "a.html" {
		t.Fatalf("result = %+v ok=%v", result, ok)
	}
}

func TestExtractEmbeddedInProse(t *testing.T) {
	input := `I fixed the image. Here's the summary:

` + sampleFixJSON + `

Let me know if you need anything else. {"not":"fixes"}`

	result, ok := extractEmbedded(input)
	if !ok || len(result.fixes) != 1 || result.strategy != "embedded" {
		t.Fatalf("result = %+v ok=%v", result, ok)
	}

	if _, ok := extractEmbedded("no json here at all"); ok {
		t.Fatal("prose without fixes must not match")
	}
	if _, ok := extractEmbedded(`{"fixes": [unbalanced`); ok {
		t.Fatal("unbalanced braces must not match")
	}
}

func TestMatchBraces(t *testing.T) {
	object, length := matchBraces(`{"a":{"b":"}"},"c":1} trailing`)
	if object != `{"a":{"b":"}"},"c":1}` {
		t.Fatalf("object = %q", object)
	}
	if length != len(object) {
		t.Fatalf("length = %d", length)
	}

	if _, length := matchBraces(`{"never": "closed"`); length != 0 {
		t.Fatal("unbalanced braces must return zero length")
	}
}

func TestExtractFromEvents(t *testing.T) {
	t.Run("artifact write tool call wins", func(t *testing.T) {
		input, _ := json.Marshal(map[string]string{
			"file_path": "/output/" + ArtifactFileName,
			"content":   sampleFixJSON,
		})
		events := []agent.Event{
			{Type: agent.EventTypeResponse, Response: &agent.ResponseEvent{Content: "working on it"}},
			{Type: agent.EventTypeToolCall, ToolCall: &agent.ToolCallEvent{Name: "Write", Input: input}},
		}
		result, ok := extractFromEvents(events, ArtifactFileName)
		if !ok || result.strategy != "events" || result.fixes[0].ViolationID != "v1" {
			t.Fatalf("result = %+v ok=%v", result, ok)
		}
	})

	t.Run("response text fallback", func(t *testing.T) {
		events := []agent.Event{
			{Type: agent.EventTypeResponse, Response: &agent.ResponseEvent{Content: "done: " + sampleFixJSON}},
		}
		result, ok := extractFromEvents(events, ArtifactFileName)
		if !ok || len(result.fixes) != 1 {
			t.Fatalf("result = %+v ok=%v", result, ok)
		}
	})

	t.Run("unrelated writes ignored", func(t *testing.T) {
		input, _ := json.Marshal(map[string]string{"file_path": "src/App.jsx", "content": "code"})
		events := []agent.Event{
			{Type: agent.EventTypeToolCall, ToolCall: &agent.ToolCallEvent{Name: "Write", Input: input}},
		}
		if _, ok := extractFromEvents(events, ArtifactFileName); ok {
			t.Fatal("non-artifact write must not match")
		}
	})
}

func TestParseHunks(t *testing.T) {
	diff := `diff --git a/style.css b/style.css
index 111..222 100644
--- a/style.css
+++ b/style.css
@@ -1,4 +1,4 @@
 body {
-  color: #999;
+  color: #333;
 }
@@ -10,2 +10,3 @@
-  font-size: 10px;
+  font-size: 16px;
+  line-height: 1.5;
`
	hunks := parseHunks(diff)
	if len(hunks) != 2 {
		t.Fatalf("got %d hunks, want 2", len(hunks))
	}
	if hunks[0].original != "  color: #999;" || hunks[0].fixed != "  color: #333;" {
		t.Fatalf("hunk 0 = %+v", hunks[0])
	}
	if hunks[1].fixed != "  font-size: 16px;\n  line-height: 1.5;" {
		t.Fatalf("hunk 1 = %+v", hunks[1])
	}
}

func TestExtractFromDiff(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()
	dir := t.TempDir()

	runGit := func(args ...string) {
		t.Helper()
		command := exec.Command("git", append([]string{"-C", dir}, args...)...)
		command.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		if output, err := command.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, output)
		}
	}

	runGit("init")
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<img src=\"a.png\">\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runGit("add", ".")
	runGit("commit", "-m", "initial")

	repo := git.NewRepository(dir)
	if _, ok := extractFromDiff(ctx, repo); ok {
		t.Fatal("clean tree must yield nothing")
	}

	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<img src=\"a.png\" alt=\"a\">\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, ok := extractFromDiff(ctx, repo)
	if !ok || result.strategy != "diff" {
		t.Fatalf("result = %+v ok=%v", result, ok)
	}
	if len(result.fixes) != 1 {
		t.Fatalf("got %d fixes", len(result.fixes))
	}
	fix := result.fixes[0]
	if fix.FilePath != "index.html" || fix.OriginalCode != `<img src="a.png">` || fix.FixedCode != `<img src="a.png" alt="a">` {
		t.Fatalf("fix = %+v", fix)
	}
}

func TestAssignViolationIDs(t *testing.T) {
	b := batch{violations: []store.Violation{{ID: "v1"}, {ID: "v2"}}}

	fixes := assignViolationIDs([]rawFix{
		{FilePath: "a.html"},
		{FilePath: "b.html", ViolationID: "explicit"},
		{FilePath: "c.html"},
	}, b)

	if fixes[0].ViolationID != "v1" {
		t.Fatalf("fix 0 assigned %q", fixes[0].ViolationID)
	}
	if fixes[1].ViolationID != "explicit" {
		t.Fatalf("explicit id overwritten: %q", fixes[1].ViolationID)
	}
	// Position 2 wraps around the two-violation batch.
	if fixes[2].ViolationID != "v1" {
		t.Fatalf("fix 2 assigned %q", fixes[2].ViolationID)
	}
}
