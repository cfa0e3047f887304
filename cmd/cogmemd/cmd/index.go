package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/indexer"
	"github.com/cogmemd/cogmemd/internal/logging"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the memory index",
	}

	cmd.AddCommand(newIndexScanCmd())

	return cmd
}

func newIndexScanCmd() *cobra.Command {
	var (
		specFolder            string
		force                 bool
		includeConstitutional bool
		incremental           bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan memory files and update the index",
		Long: `Walk the memory root (or a single spec folder), parse each memory file,
embed new or changed content, run the prediction-error gate against existing
memories in the same spec folder, and update the BM25 and vector indexes.

A scan is skipped if the configured cooldown hasn't elapsed since the last
one; use --force to bypass both the cooldown and the incremental short
circuit.`,
		Example: `  # Scan everything under the configured memory root
  cogmemd index scan

  # Scan a single spec folder, including constitutional memory
  cogmemd index scan --spec-folder my-feature --include-constitutional

  # Force a full rescan
  cogmemd index scan --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndexScan(cmd, indexer.ScanOptions{
				SpecFolder:            specFolder,
				Force:                 force,
				IncludeConstitutional: includeConstitutional,
				Incremental:           incremental,
			})
		},
	}

	cmd.Flags().StringVar(&specFolder, "spec-folder", "", "Restrict the scan to specs/<folder>/memory/")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the cooldown and incremental short circuits")
	cmd.Flags().BoolVar(&includeConstitutional, "include-constitutional", false, "Also scan .opencode/skill/*/constitutional/")
	cmd.Flags().BoolVar(&incremental, "incremental", true, "Skip files unchanged since the last scan")

	return cmd
}

func runIndexScan(cmd *cobra.Command, opts indexer.ScanOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	var logger *slog.Logger
	if l, cleanup, err := logging.Setup(logCfg); err == nil {
		logger = l
		defer cleanup()
	} else {
		logger = slog.Default()
	}

	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		logger.Warn("falling back to default configuration", slog.String("error", err.Error()))
		cfg = config.NewConfig()
	}

	deps, closeDeps, err := openDeps(ctx, cfg, dir, logger)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		if closeErr := closeDeps(); closeErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: error flushing stores: %v\n", closeErr)
		}
	}()

	result, err := deps.Scanner.Scan(ctx, opts)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	printScanResult(cmd, result)
	if result.Failed > 0 {
		return fmt.Errorf("%d file(s) failed to index", result.Failed)
	}
	return nil
}

func printScanResult(cmd *cobra.Command, result indexer.ScanResult) {
	out := cmd.OutOrStdout()
	if result.Skipped {
		fmt.Fprintf(out, "scan skipped: cooldown active, retry in %ds\n", result.WaitSeconds)
		return
	}

	fmt.Fprintf(out, "scanned %d file(s): %d created, %d updated, %d reinforced, %d superseded, %d unchanged, %d failed\n",
		result.FilesScanned, result.Created, result.Updated, result.Reinforced, result.Superseded, result.Unchanged, result.Failed)

	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(out, "error: %s\n", e)
	}
}
