// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package a11y

// Impact is the severity classification the rule engine assigns to a
// violation.
type Impact string

const (
	ImpactCritical Impact = "critical"
	ImpactSerious  Impact = "serious"
	ImpactModerate Impact = "moderate"
	ImpactMinor    Impact = "minor"
)

// Weight returns the numeric severity weight used by scoring. Unknown
// impacts weigh the same as minor.
func (i Impact) Weight() int {
	switch i {
	case ImpactCritical:
		return 10
	case ImpactSerious:
		return 7
	case ImpactModerate:
		return 4
	case ImpactMinor:
		return 1
	default:
		return 1
	}
}

// MaxSnippetLength bounds stored HTML snippets. One row exists per
// affected DOM node, so an uncapped snippet on a page with hundreds of
// matches would dominate storage.
const MaxSnippetLength = 500

// Violation is one accessibility failure instance: one affected DOM
// node, not one rule. A rule with N affected nodes yields N Violations
// carrying the same rule metadata. Scoring and the review UI both
// operate at node granularity.
type Violation struct {
	// Rule is the rule engine's rule identifier (e.g. "color-contrast").
	Rule string `json:"rule"`

	// Impact is the severity level reported by the rule engine.
	Impact Impact `json:"impact"`

	// Description is the human-readable failure description.
	Description string `json:"description"`

	// HelpURL links to the rule's remediation documentation.
	HelpURL string `json:"helpUrl"`

	// Tags are the rule engine's machine-readable labels, including
	// wcagXYZ tags used for compliance-criteria mapping.
	Tags []string `json:"tags"`

	// Criteria are the mapped compliance criteria ("1.4.3"). Filled
	// by score.Annotate after scanning.
	Criteria []string `json:"criteria,omitempty"`

	// AODARelevant marks violations whose criteria fall under the
	// Ontario regulation's required set.
	AODARelevant bool `json:"aodaRelevant,omitempty"`

	// Target is the CSS selector locating the affected node.
	Target string `json:"target"`

	// HTML is the affected node's outer HTML, truncated to
	// MaxSnippetLength.
	HTML string `json:"html"`

	// Weight is the numeric severity weight (Impact.Weight), stored
	// denormalized so scoring needs no re-derivation.
	Weight int `json:"weight"`
}

// Result is one completed scan of one page.
type Result struct {
	// URL is the resolved page address that was scanned.
	URL string `json:"url"`

	// Violations holds one entry per affected DOM node.
	Violations []Violation `json:"violations"`

	// Screenshot is the full-page PNG captured before analysis.
	Screenshot []byte `json:"-"`
}
