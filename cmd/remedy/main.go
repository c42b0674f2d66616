// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Remedy is the accessibility audit and remediation CLI. It clones a
// repository, boots the frontend it finds, audits the rendered page
// against WCAG rules, and optionally drives an AI agent to propose
// source-level fixes for the violations it recorded.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/remedy-foundation/remedy/lib/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "remedy",
		Short:         "WCAG accessibility auditing and AI-assisted remediation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("db", "remedy.db", "path to the sqlite database")
	flags.String("work-dir", "", "base directory for repository checkouts (default: system temp)")
	flags.String("cache-dir", "", "shared package cache mounted into sandboxes")
	flags.String("clone-token", "", "source-host token for private clone URLs")
	flags.String("chrome-path", "", "Chrome/Chromium binary override")
	flags.String("axe-script", "", "local axe-core bundle path (default: fetch from CDN)")
	flags.String("agent-binary", "", "agent CLI binary (default: claude on PATH)")
	flags.String("agent-model", "", "agent model override")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	for _, name := range []string{"db", "work-dir", "cache-dir", "clone-token", "chrome-path",
		"axe-script", "agent-binary", "agent-model", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	viper.SetEnvPrefix("REMEDY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	root.AddCommand(newScanCommand())
	root.AddCommand(newFixCommand())
	root.AddCommand(newReportCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("remedy %s\n", version.Info())
		},
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
