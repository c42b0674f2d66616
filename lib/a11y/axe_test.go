// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package a11y

import (
	"strings"
	"testing"
)

const sampleAxeJSON = `{
  "violations": [
    {
      "id": "color-contrast",
      "impact": "serious",
      "description": "Elements must meet minimum color contrast ratio thresholds",
      "helpUrl": "https://dequeuniversity.com/rules/axe/4.10/color-contrast",
      "tags": ["cat.color", "wcag2aa", "wcag143"],
      "nodes": [
        {"html": "<a class=\"nav\">Home</a>", "target": [".nav"]},
        {"html": "<p class=\"muted\">fine print</p>", "target": [".muted"]},
        {"html": "<span>x</span>", "target": ["footer", "span"]},
        {"html": "<button>Go</button>", "target": ["#go"]}
      ]
    },
    {
      "id": "image-alt",
      "impact": "critical",
      "description": "Images must have alternate text",
      "helpUrl": "https://dequeuniversity.com/rules/axe/4.10/image-alt",
      "tags": ["wcag2a", "wcag111"],
      "nodes": [
        {"html": "<img src=\"hero.png\">", "target": ["img"]}
      ]
    }
  ]
}`

func TestParseAxeResults(t *testing.T) {
	violations, err := ParseAxeResults([]byte(sampleAxeJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// One row per affected node: 4 contrast + 1 image-alt.
	if len(violations) != 5 {
		t.Fatalf("got %d rows, want 5", len(violations))
	}

	contrast := 0
	for _, violation := range violations {
		if violation.Rule == "color-contrast" {
			contrast++
			if violation.Impact != ImpactSerious {
				t.Fatalf("contrast impact = %q", violation.Impact)
			}
			if violation.HelpURL == "" || violation.Description == "" {
				t.Fatal("rule metadata must be carried on every node row")
			}
		}
	}
	if contrast != 4 {
		t.Fatalf("contrast rows = %d, want 4", contrast)
	}

	if violations[2].Target != "footer span" {
		t.Fatalf("multi-selector target = %q", violations[2].Target)
	}
}

func TestParseAxeResultsTruncatesSnippets(t *testing.T) {
	long := strings.Repeat("<b>long</b>", 200)
	raw := `{"violations":[{"id":"r","impact":"minor","nodes":[{"html":"` + long + `","target":["b"]}]}]}`

	violations, err := ParseAxeResults([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(violations[0].HTML) > MaxSnippetLength {
		t.Fatalf("snippet length %d exceeds cap", len(violations[0].HTML))
	}
}

func TestParseAxeResultsNoNodes(t *testing.T) {
	raw := `{"violations":[{"id":"page-level","impact":"moderate","nodes":[]}]}`
	violations, err := ParseAxeResults([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(violations) != 1 || violations[0].Rule != "page-level" {
		t.Fatalf("node-less rule dropped: %+v", violations)
	}
}

func TestParseAxeResultsMalformed(t *testing.T) {
	if _, err := ParseAxeResults([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestImpactWeights(t *testing.T) {
	cases := map[Impact]int{
		ImpactCritical: 10,
		ImpactSerious:  7,
		ImpactModerate: 4,
		ImpactMinor:    1,
		"bogus":        1,
	}
	for impact, want := range cases {
		if got := impact.Weight(); got != want {
			t.Fatalf("%s weight = %d, want %d", impact, got, want)
		}
	}
}
