// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package fixer

import (
	"fmt"
	"strings"
)

// ArtifactFileName is the fix artifact the agent is asked to write
// under its output directory. Extraction strategy 1 reads it back.
const ArtifactFileName = "remedy-fixes.json"

// buildPrompt assembles the fix-authoring prompt for one batch. The
// agent is asked for the same JSON twice (artifact file and final
// text) so at least one extraction strategy has something to work
// with.
func buildPrompt(b batch, artifactPath string) string {
	var builder strings.Builder
	builder.WriteString("You are fixing accessibility violations in the web application in the current directory.\n\n")

	if b.contrast {
		builder.WriteString("All violations below are color-contrast failures. Choose a consistent, WCAG AA compliant palette adjustment rather than fixing each element in isolation.\n\n")
	}

	builder.WriteString("Violations to fix:\n")
	for i, violation := range b.violations {
		fmt.Fprintf(&builder, "%d. [%s, impact %s] %s\n   violationId: %s\n   element: %s\n   html: %s\n",
			i+1, violation.Rule, violation.Impact, violation.Description,
			violation.ID, violation.Target, violation.HTML)
		if violation.HelpURL != "" {
			fmt.Fprintf(&builder, "   help: %s\n", violation.HelpURL)
		}
	}

	fmt.Fprintf(&builder, `
Edit the source files to fix these violations. Then report every fix you made, in this exact JSON shape:

{"fixes": [{"violationId": "...", "filePath": "relative/path", "originalCode": "exact text you replaced", "fixedCode": "replacement text", "explanation": "one sentence"}]}

Requirements:
- Write that JSON to %s.
- Also print the same JSON object as your final output.
- originalCode must be the exact pre-edit text so it can be located in the file.
- Use the violationId values given above.
`, artifactPath)
	return builder.String()
}

// buildRetryPrompt asks only for extraction: the agent already edited
// files in a previous invocation but reported nothing parseable.
func buildRetryPrompt(b batch, artifactPath string) string {
	return fmt.Sprintf(`The working tree already contains accessibility fixes (run "git diff" to see them). Do not edit anything further. Summarize each change as JSON in this exact shape and print it as your only output, also writing it to %s:

{"fixes": [{"violationId": "...", "filePath": "relative/path", "originalCode": "...", "fixedCode": "...", "explanation": "..."}]}

Known violationId values: %s`, artifactPath, strings.Join(batchIDs(b), ", "))
}

func batchIDs(b batch) []string {
	return b.violationIDs()
}

// progressMessage is the live ticker written to the scan record
// between batches.
func progressMessage(fixCount, batchCount int, elapsed, budget string) string {
	return fmt.Sprintf("%d fixes captured after %d batches, elapsed %s/%s",
		fixCount, batchCount, elapsed, budget)
}
