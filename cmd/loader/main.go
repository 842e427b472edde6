package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/lobbygraph/backend/internal/config"
	"github.com/lobbygraph/backend/internal/pipeline"
	"github.com/lobbygraph/backend/internal/util"
	"github.com/lobbygraph/backend/pkg/ingest"
	"github.com/lobbygraph/backend/pkg/logger"
	"github.com/lobbygraph/backend/pkg/logger/console"

	"github.com/spf13/cobra"
)

var version = "dev"

type flags struct {
	archives string
	backend  string
	policy   string
	runID    string
	dryRun   bool
	jsonOut  bool
}

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.FromEnv()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	f := flags{}
	root := &cobra.Command{
		Use:           "loader",
		Short:         "Load lobbying disclosure archives into the graph store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyFlags(&cfg, f); err != nil {
				return err
			}
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  cfg.Debug,
				Format: cfg.LogFormat,
			}))
			summary, err := load(cmd.Context(), cfg, f.runID)
			if f.jsonOut {
				if werr := writeSummary(cmd.OutOrStdout(), summary); werr != nil {
					logger.Error("[Loader] Failed to write summary", "err", werr)
				}
			}
			if err != nil {
				logger.Error("[Loader] Load failed", "err", err)
				return err
			}
			return nil
		},
	}

	root.Flags().StringVar(&f.archives, "archives", "", "archive directory, zip file or S3 prefix (default $ARCHIVE_PATH)")
	root.Flags().StringVar(&f.backend, "backend", "", "graph store backend: neo4j, postgres or memory (default $STORE_BACKEND)")
	root.Flags().StringVar(&f.policy, "policy", "", "filings without an amount: skip or zero (default $MISSING_AMOUNT_POLICY)")
	root.Flags().StringVar(&f.runID, "run-id", "", "run identifier (generated when empty)")
	root.Flags().BoolVar(&f.dryRun, "dry-run", false, "load into an in-memory store")
	root.Flags().BoolVar(&f.jsonOut, "json", false, "print the run summary as JSON")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the loader version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func applyFlags(cfg *config.Config, f flags) error {
	if f.archives != "" {
		cfg.ArchivePath = f.archives
	}
	if f.backend != "" {
		cfg.Backend = f.backend
	}
	if f.dryRun {
		cfg.Backend = config.BackendMemory
	}
	if f.policy != "" {
		p, err := ingest.ParseAmountPolicy(f.policy)
		if err != nil {
			return err
		}
		cfg.MissingAmountPolicy = p
	}
	if cfg.ArchivePath == "" {
		return fmt.Errorf("no archives given: pass --archives or set ARCHIVE_PATH")
	}
	return nil
}

func load(ctx context.Context, cfg config.Config, runID string) (ingest.RunSummary, error) {
	runner, err := pipeline.Open(ctx, cfg)
	if err != nil {
		return ingest.RunSummary{RunID: runID, Error: err.Error()}, err
	}
	defer func() {
		if err := runner.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("[Loader] Failed to close store", "err", err)
		}
	}()
	return runner.RunArchives(ctx, runID, cfg.ArchivePath)
}

func writeSummary(w io.Writer, summary ingest.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
