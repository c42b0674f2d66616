// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newFixCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix SCAN_ID",
		Short: "Run the AI fix pipeline against a completed scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scanID := args[0]
			logger := newLogger()
			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			runner, err := buildRunner(s, nil, logger)
			if err != nil {
				return err
			}
			if err := runner.RunFix(cmd.Context(), scanID); err != nil {
				return fmt.Errorf("fix run for scan %s: %w", scanID, err)
			}

			scan, err := s.GetScan(cmd.Context(), scanID)
			if err != nil {
				return err
			}
			fixes, err := s.ListFixes(cmd.Context(), scanID)
			if err != nil {
				return err
			}
			applied := 0
			for _, fix := range fixes {
				if fix.Applied {
					applied++
				}
			}
			fmt.Printf("fix run complete: %d fixes (%d applied), score %s → %s\n",
				len(fixes), applied, formatScore(scan.ScoreBefore), formatScore(scan.ScoreAfter))
			return nil
		},
	}

	cmd.Flags().Int("fix-workers", 0, "parallel fix workers (default 1, max 6)")
	cmd.Flags().Duration("fix-budget", 0, "total wall-clock budget for the run (default 25m)")
	for _, name := range []string{"fix-workers", "fix-budget"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}
