// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package score converts raw accessibility violations into a weighted
// 0–100 compliance score and maps rule-engine tags onto WCAG success
// criteria, flagging those the Ontario accessibility regulation
// (AODA, O. Reg. 191/11) requires.
//
// Scoring is severity-weighted against the maximum possible weight,
// not against the set's own weight sum: the denominator is count×10.
// A page with many minor-only violations therefore stays close to 100.
// The denominator also scales with per-node fan-out (one violation per
// affected DOM node), which makes the score sensitive to how many
// nodes a single rule matches. Both properties are deliberate and
// load-bearing: stored scores must stay comparable across releases.
package score

import (
	"fmt"
	"math"
	"regexp"

	"github.com/remedy-foundation/remedy/lib/a11y"
)

// maxWeight is the highest possible per-violation weight (critical).
const maxWeight = 10

// Disclaimer accompanies every report summary. Automated rule engines
// cover only a fraction of WCAG success criteria.
const Disclaimer = "Automated checks cover only a subset of WCAG success criteria. " +
	"This report is a development aid and does not constitute a legal conformance " +
	"certification under the AODA or any other regulation."

// wcagTagPattern matches rule-engine criterion tags such as wcag143
// (→ 1.4.3) and wcag1410 (→ 1.4.10). Level tags like wcag2aa do not
// match.
var wcagTagPattern = regexp.MustCompile(`^wcag(\d)(\d)(\d+)$`)

// aodaCriteria is the fixed set of WCAG success criteria required by
// O. Reg. 191/11: WCAG 2.0 Level A and AA, excluding 1.2.4 (live
// captions) and 1.2.5 (audio description), which the regulation
// exempts.
var aodaCriteria = map[string]bool{
	"1.1.1": true, "1.2.1": true, "1.2.2": true, "1.2.3": true,
	"1.3.1": true, "1.3.2": true, "1.3.3": true,
	"1.4.1": true, "1.4.2": true, "1.4.3": true, "1.4.4": true, "1.4.5": true,
	"2.1.1": true, "2.1.2": true,
	"2.2.1": true, "2.2.2": true,
	"2.3.1": true,
	"2.4.1": true, "2.4.2": true, "2.4.3": true, "2.4.4": true,
	"2.4.5": true, "2.4.6": true, "2.4.7": true,
	"3.1.1": true, "3.1.2": true,
	"3.2.1": true, "3.2.2": true, "3.2.3": true, "3.2.4": true,
	"3.3.1": true, "3.3.2": true, "3.3.3": true, "3.3.4": true,
	"4.1.1": true, "4.1.2": true,
}

// Score computes the weighted compliance score for a violation set.
// An empty set scores 100. Otherwise the weight sum is normalized
// against the maximum possible (count × 10), scaled to 0–100, rounded,
// and clamped at zero.
func Score(violations []a11y.Violation) int {
	if len(violations) == 0 {
		return 100
	}

	total := 0
	for _, violation := range violations {
		weight := violation.Weight
		if weight == 0 {
			weight = violation.Impact.Weight()
		}
		total += weight
	}

	ratio := float64(total) / float64(len(violations)*maxWeight)
	result := int(math.Round(100 - ratio*100))
	if result < 0 {
		return 0
	}
	return result
}

// Criteria extracts WCAG success-criterion identifiers from rule
// engine tags. Tags that are not criterion-shaped (level tags,
// best-practice categories) are ignored.
func Criteria(tags []string) []string {
	var criteria []string
	for _, tag := range tags {
		match := wcagTagPattern.FindStringSubmatch(tag)
		if match == nil {
			continue
		}
		criteria = append(criteria, fmt.Sprintf("%s.%s.%s", match[1], match[2], match[3]))
	}
	return criteria
}

// AODARelevant reports whether any of the criteria falls in the
// regulation's required set. A violation with no mapped criteria is
// never relevant.
func AODARelevant(criteria []string) bool {
	for _, criterion := range criteria {
		if aodaCriteria[criterion] {
			return true
		}
	}
	return false
}

// Annotate fills Criteria, AODARelevant, and Weight on each violation
// in place. Scanners emit raw tags; everything downstream (storage,
// scoring, reports) reads the annotated form.
func Annotate(violations []a11y.Violation) []a11y.Violation {
	for i := range violations {
		violations[i].Criteria = Criteria(violations[i].Tags)
		violations[i].AODARelevant = AODARelevant(violations[i].Criteria)
		violations[i].Weight = violations[i].Impact.Weight()
	}
	return violations
}

// Summary aggregates a violation set for reporting.
type Summary struct {
	Total        int            `json:"total"`
	BySeverity   map[string]int `json:"bySeverity"`
	AODARelevant int            `json:"aodaRelevant"`
	Score        int            `json:"score"`
	Disclaimer   string         `json:"disclaimer"`
}

// Summarize computes report aggregates for an annotated violation set.
func Summarize(violations []a11y.Violation) Summary {
	summary := Summary{
		Total:      len(violations),
		BySeverity: make(map[string]int),
		Score:      Score(violations),
		Disclaimer: Disclaimer,
	}
	for _, violation := range violations {
		summary.BySeverity[string(violation.Impact)]++
		if violation.AODARelevant {
			summary.AODARelevant++
		}
	}
	return summary
}
