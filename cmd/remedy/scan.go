// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/remedy-foundation/remedy/lib/store"
)

func newScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Audit one repository and record its compliance score",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoURL := viper.GetString("repo-url")
			if repoURL == "" {
				return fmt.Errorf("--repo-url is required")
			}

			logger := newLogger()
			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			repoOwner, repoName := splitRepoURL(repoURL)
			scan, err := s.CreateScan(cmd.Context(), store.Scan{
				Owner:     viper.GetString("owner"),
				RepoOwner: repoOwner,
				RepoName:  repoName,
				RepoURL:   repoURL,
				Branch:    viper.GetString("branch"),
			})
			if err != nil {
				return err
			}

			runner, err := buildRunner(s, nil, logger)
			if err != nil {
				return err
			}
			if err := runner.RunScan(cmd.Context(), scan.ID); err != nil {
				return fmt.Errorf("scan %s: %w", scan.ID, err)
			}

			scan, err = s.GetScan(cmd.Context(), scan.ID)
			if err != nil {
				return err
			}
			violations, err := s.ListViolations(cmd.Context(), scan.ID)
			if err != nil {
				return err
			}
			fmt.Printf("scan %s complete: score %s, %d violations\n",
				scan.ID, formatScore(scan.ScoreBefore), len(violations))
			return nil
		},
	}

	cmd.Flags().String("repo-url", "", "https clone URL of the repository to audit")
	cmd.Flags().String("branch", "", "branch to audit (default: the remote default branch)")
	cmd.Flags().String("owner", "cli", "account that owns the scan record")
	for _, name := range []string{"repo-url", "branch", "owner"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}
