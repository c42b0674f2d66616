// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package fixer

import (
	"sort"
	"strings"

	"github.com/remedy-foundation/remedy/lib/store"
)

// batch is one unit of work for the coding agent: a small set of
// violations fixed in a single invocation.
type batch struct {
	violations []store.Violation

	// contrast marks color-contrast batches, which are grouped
	// larger (palette changes batch well) and may use the agent's
	// thinking mode.
	contrast bool
}

func (b batch) violationIDs() []string {
	ids := make([]string, len(b.violations))
	for i, violation := range b.violations {
		ids[i] = violation.ID
	}
	return ids
}

func (b batch) ruleIDs() []string {
	seen := make(map[string]bool)
	var rules []string
	for _, violation := range b.violations {
		if !seen[violation.Rule] {
			seen[violation.Rule] = true
			rules = append(rules, violation.Rule)
		}
	}
	return rules
}

func isContrastRule(rule string) bool {
	return strings.Contains(rule, "contrast")
}

// makeBatches partitions violations into prioritized batches: contrast
// rules first in their own (larger) batches, then everything else by
// impact weight descending, id as tiebreak for determinism. Duplicate
// violation ids are dropped before chunking.
func makeBatches(violations []store.Violation, batchSize, contrastBatchSize int) []batch {
	if batchSize <= 0 {
		batchSize = 1
	}
	if contrastBatchSize <= 0 {
		contrastBatchSize = defaultContrastBatchSize
	}

	seen := make(map[string]bool, len(violations))
	var contrast, rest []store.Violation
	for _, violation := range violations {
		if seen[violation.ID] {
			continue
		}
		seen[violation.ID] = true
		if isContrastRule(violation.Rule) {
			contrast = append(contrast, violation)
		} else {
			rest = append(rest, violation)
		}
	}

	byPriority := func(list []store.Violation) {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Weight != list[j].Weight {
				return list[i].Weight > list[j].Weight
			}
			return list[i].ID < list[j].ID
		})
	}
	byPriority(contrast)
	byPriority(rest)

	var batches []batch
	for start := 0; start < len(contrast); start += contrastBatchSize {
		end := min(start+contrastBatchSize, len(contrast))
		batches = append(batches, batch{violations: contrast[start:end], contrast: true})
	}
	for start := 0; start < len(rest); start += batchSize {
		end := min(start+batchSize, len(rest))
		batches = append(batches, batch{violations: rest[start:end]})
	}
	return batches
}

// partition assigns batches round-robin to workers, preserving each
// worker's priority order.
func partition(batches []batch, workers int) [][]batch {
	if workers < 1 {
		workers = 1
	}
	if workers > len(batches) {
		workers = len(batches)
	}
	assigned := make([][]batch, workers)
	for i, item := range batches {
		assigned[i%workers] = append(assigned[i%workers], item)
	}
	return assigned
}
