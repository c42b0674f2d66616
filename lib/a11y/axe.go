// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package a11y

import (
	"encoding/json"
	"fmt"
	"strings"
)

// axeResults mirrors the subset of axe.run() output the scanner needs.
type axeResults struct {
	Violations []axeViolation `json:"violations"`
}

type axeViolation struct {
	ID          string    `json:"id"`
	Impact      string    `json:"impact"`
	Description string    `json:"description"`
	HelpURL     string    `json:"helpUrl"`
	Tags        []string  `json:"tags"`
	Nodes       []axeNode `json:"nodes"`
}

type axeNode struct {
	HTML   string          `json:"html"`
	Target json.RawMessage `json:"target"`
}

// ParseAxeResults flattens raw axe.run() JSON into one Violation per
// affected DOM node. A rule with no node detail still yields a single
// row so the failure is not silently dropped.
func ParseAxeResults(raw []byte) ([]Violation, error) {
	var results axeResults
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("parsing rule engine output: %w", err)
	}

	var violations []Violation
	for _, rule := range results.Violations {
		base := Violation{
			Rule:        rule.ID,
			Impact:      Impact(rule.Impact),
			Description: rule.Description,
			HelpURL:     rule.HelpURL,
			Tags:        rule.Tags,
		}
		if len(rule.Nodes) == 0 {
			violations = append(violations, base)
			continue
		}
		for _, node := range rule.Nodes {
			violation := base
			violation.Target = targetSelector(node.Target)
			violation.HTML = truncateSnippet(node.HTML)
			violations = append(violations, violation)
		}
	}
	return violations, nil
}

// targetSelector renders axe's target locator (a list of selectors,
// possibly nested for iframes/shadow DOM) as a single selector string.
func targetSelector(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var flat []string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return strings.Join(flat, " ")
	}

	// Shadow-DOM targets nest selector lists one level deep.
	var nested []json.RawMessage
	if err := json.Unmarshal(raw, &nested); err == nil {
		var parts []string
		for _, element := range nested {
			var s string
			if json.Unmarshal(element, &s) == nil {
				parts = append(parts, s)
				continue
			}
			var inner []string
			if json.Unmarshal(element, &inner) == nil {
				parts = append(parts, strings.Join(inner, " "))
			}
		}
		return strings.Join(parts, " ")
	}
	return string(raw)
}

func truncateSnippet(html string) string {
	if len(html) <= MaxSnippetLength {
		return html
	}
	cut := MaxSnippetLength
	for cut > 0 && html[cut]&0xc0 == 0x80 {
		cut--
	}
	return html[:cut]
}
