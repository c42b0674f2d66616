// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/remedy-foundation/remedy/lib/audit"
	"github.com/remedy-foundation/remedy/lib/escrow"
	"github.com/remedy-foundation/remedy/lib/httpapi"
	"github.com/remedy-foundation/remedy/lib/store"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with in-process scan and fix workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			var gate escrow.Gate
			scanPrice := viper.GetInt64("scan-price")
			if scanPrice > 0 {
				gate = escrow.NewMemoryGate(nil, defaultDuration("escrow-hold", 24*time.Hour))
			}

			runner, err := buildRunner(s, gate, logger)
			if err != nil {
				return err
			}

			// Fix runs queue behind a small buffer: the HTTP handler
			// answers 202 immediately and a single worker drains.
			fixQueue := make(chan string, 16)
			server, err := httpapi.New(httpapi.Config{
				Store:     s,
				Gate:      gate,
				ScanPrice: scanPrice,
				RequestFix: func(scanID string) error {
					select {
					case fixQueue <- scanID:
						return nil
					default:
						return fmt.Errorf("fix queue is full, retry later")
					}
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			listener, err := httpapi.NewListener(httpapi.ListenerConfig{
				Address: viper.GetString("listen"),
				Handler: server.Routes(),
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var workers sync.WaitGroup

			scanWorkers := viper.GetInt("scan-workers")
			if scanWorkers < 1 {
				scanWorkers = 2
			}
			pollInterval := defaultDuration("poll-interval", 5*time.Second)
			for i := 0; i < scanWorkers; i++ {
				workers.Add(1)
				go func() {
					defer workers.Done()
					pollScans(ctx, runner, s, pollInterval, logger)
				}()
			}

			workers.Add(1)
			go func() {
				defer workers.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case scanID := <-fixQueue:
						if err := runner.RunFix(ctx, scanID); err != nil {
							logger.Error("fix run failed", "scan_id", scanID, "error", err)
						}
					}
				}
			}()

			err = listener.Serve(ctx)
			stop()
			workers.Wait()
			return err
		},
	}

	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().Int("scan-workers", 2, "concurrent scan workers")
	cmd.Flags().Duration("poll-interval", 5*time.Second, "pending-scan poll cadence")
	cmd.Flags().Int64("scan-price", 0, "escrow amount locked per scan (0 disables escrow)")
	cmd.Flags().Duration("escrow-hold", 24*time.Hour, "escrow hold window before refunds are eligible")
	for _, name := range []string{"listen", "scan-workers", "poll-interval", "scan-price", "escrow-hold"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

// storeClaimer is the slice of lib/store the poll loop needs.
type storeClaimer interface {
	ClaimPending(ctx context.Context) (store.Scan, bool, error)
}

// pollScans claims pending scans until the context ends. Claiming is
// the concurrency control: the status flip to cloning is atomic, so
// competing workers never run the same scan.
func pollScans(ctx context.Context, runner *audit.Runner, s storeClaimer, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			scan, found, err := s.ClaimPending(ctx)
			if err != nil {
				logger.Error("claiming pending scan", "error", err)
				break
			}
			if !found {
				break
			}
			if err := runner.RunScan(ctx, scan.ID); err != nil {
				logger.Error("scan failed", "scan_id", scan.ID, "error", err)
			}
		}
	}
}
