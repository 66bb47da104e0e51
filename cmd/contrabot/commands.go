package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/contrabot/internal/adapters/feed"
	"github.com/alejandrodnm/contrabot/internal/adapters/httpapi"
	"github.com/alejandrodnm/contrabot/internal/adapters/notify"
)

func newRunCmd(rf *rootFlags) *cobra.Command {
	var noNotify bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check the feed once and process every new or pending video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(rf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			slog.Info("contrabot run starting", "config", rf.configPath, "db", cfg.Storage.DSN, "channel", cfg.Feed.ChannelID)

			summary, runErr := a.orchestrator(pipelineOptions{noNotify: noNotify}).Run(ctx)

			// El historial se exporta aunque el run haya abortado.
			if err := a.exportHistory(ctx); err != nil {
				slog.Warn("failed to export history", "err", err)
			}
			if runErr != nil {
				return runErr
			}

			slog.Info("contrabot run finished",
				"fetched", summary.Fetched,
				"bootstrapped", summary.Bootstrapped,
				"seeded", summary.Seeded,
				"candidates", summary.Candidates,
				"outcomes", summary.Outcomes,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "do not send notifications")
	return cmd
}

func newItemCmd(rf *rootFlags) *cobra.Command {
	var (
		noNotify bool
		price    float64
	)
	cmd := &cobra.Command{
		Use:   "item <url|id>",
		Short: "Process a single video by URL or id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := feed.ItemFromURL(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(rf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.orchestrator(pipelineOptions{noNotify: noNotify, price: price}).ProcessItem(ctx, item)
			if exportErr := a.exportHistory(ctx); exportErr != nil {
				slog.Warn("failed to export history", "err", exportErr)
			}
			if err != nil {
				return err
			}
			slog.Info("item finished", "item", item.ID, "outcome", outcome)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "do not send notifications")
	cmd.Flags().Float64Var(&price, "price", 0, "simulated price for every instrument (overrides quotes)")
	return cmd
}

func newReportCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the paper-trading ledger",
	}

	var limit int
	trades := &cobra.Command{
		Use:   "trades",
		Short: "Most recent trades first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openReadOnly(cmd, rf)
			if err != nil {
				return err
			}
			defer a.Close()
			list, err := a.ledger.ListTrades(cmd.Context(), limit)
			if err != nil {
				return err
			}
			notify.NewConsoleWriter(cmd.OutOrStdout()).PrintTrades(list)
			return nil
		},
	}
	trades.Flags().IntVar(&limit, "limit", 50, "max trades to show (0 = all)")

	positions := &cobra.Command{
		Use:   "positions",
		Short: "Open positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openReadOnly(cmd, rf)
			if err != nil {
				return err
			}
			defer a.Close()
			list, err := a.ledger.ListPositions(cmd.Context())
			if err != nil {
				return err
			}
			notify.NewConsoleWriter(cmd.OutOrStdout()).PrintPositions(list)
			return nil
		},
	}

	var recompute bool
	performance := &cobra.Command{
		Use:   "performance",
		Short: "Latest performance snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// --recompute escribe un snapshot: necesita el lock como un run.
			cfg, err := loadConfig(rf)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, recompute)
			if err != nil {
				return err
			}
			defer a.Close()
			get := a.ledger.GetPerformance
			if recompute {
				get = a.ledger.RecomputeMetrics
			}
			snap, err := get(cmd.Context())
			if err != nil {
				return err
			}
			notify.NewConsoleWriter(cmd.OutOrStdout()).PrintPerformance(snap)
			return nil
		},
	}
	performance.Flags().BoolVar(&recompute, "recompute", false, "recompute and store a fresh snapshot")

	cmd.AddCommand(trades, positions, performance)
	return cmd
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger read API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openReadOnly(cmd, rf)
			if err != nil {
				return err
			}
			defer a.Close()
			return httpapi.Serve(cmd.Context(), a.cfg.HTTP.Addr, httpapi.NewRouter(a.ledger))
		},
	}
}

func newHistoryCmd(rf *rootFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the item history as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openReadOnly(cmd, rf)
			if err != nil {
				return err
			}
			defer a.Close()
			if out == "" {
				return a.tracker.ExportHistory(cmd.Context(), cmd.OutOrStdout())
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("history: create %q: %w", out, err)
			}
			defer f.Close()
			return a.tracker.ExportHistory(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

// openReadOnly abre la base sin lock y sin escribir nada.
func openReadOnly(cmd *cobra.Command, rf *rootFlags) (*app, error) {
	cfg, err := loadConfig(rf)
	if err != nil {
		return nil, err
	}
	return openApp(cmd.Context(), cfg, false)
}
