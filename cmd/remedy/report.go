// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remedy-foundation/remedy/lib/a11y"
	"github.com/remedy-foundation/remedy/lib/score"
	"github.com/remedy-foundation/remedy/lib/store"
)

// report is the JSON document the report command emits.
type report struct {
	ScanID      string            `json:"scanId"`
	Repository  string            `json:"repository"`
	Branch      string            `json:"branch,omitempty"`
	Status      string            `json:"status"`
	ScoreBefore *int              `json:"scoreBefore,omitempty"`
	ScoreAfter  *int              `json:"scoreAfter,omitempty"`
	Summary     score.Summary     `json:"summary"`
	Violations  []store.Violation `json:"violations"`
	Fixes       []store.Fix       `json:"fixes,omitempty"`
}

func newReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report SCAN_ID",
		Short: "Print the audit report for a scan as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scanID := args[0]
			logger := newLogger()
			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			scan, err := s.GetScan(cmd.Context(), scanID)
			if err != nil {
				return err
			}
			violations, err := s.ListViolations(cmd.Context(), scanID)
			if err != nil {
				return err
			}
			fixes, err := s.ListFixes(cmd.Context(), scanID)
			if err != nil {
				return err
			}

			annotated := make([]a11y.Violation, len(violations))
			for i, violation := range violations {
				annotated[i] = a11y.Violation{
					Rule:         violation.Rule,
					Impact:       a11y.Impact(violation.Impact),
					Criteria:     violation.Criteria,
					AODARelevant: violation.AODARelevant,
					Weight:       violation.Weight,
				}
			}

			document := report{
				ScanID:      scan.ID,
				Repository:  scan.RepoOwner + "/" + scan.RepoName,
				Branch:      scan.Branch,
				Status:      string(scan.Status),
				ScoreBefore: scan.ScoreBefore,
				ScoreAfter:  scan.ScoreAfter,
				Summary:     score.Summarize(annotated),
				Violations:  violations,
				Fixes:       fixes,
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(document); err != nil {
				return fmt.Errorf("encoding report: %w", err)
			}
			return nil
		},
	}
}
