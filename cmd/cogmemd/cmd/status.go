package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/store"
	"github.com/cogmemd/cogmemd/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show memory store health and storage sizes",
		Long: `Display a quick summary of the memory store:
  - Number of indexed memories and causal edges
  - Last scan time
  - On-disk storage sizes (metadata, BM25, vectors)
  - Embedder status (type, model, availability)

For the full tier breakdown and integrity report, use 'cogmemd stats'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadataPath := filepath.Join(cfg.Storage.DataDir, "cogmemd.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no memory store found in %s\nRun 'cogmemd index scan' to create one", cfg.Storage.DataDir)
	}

	info, err := collectStatus(ctx, cfg, dir)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, cfg *config.Config, dir string) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		ProjectName: filepath.Base(dir),
	}

	deps, closeDeps, err := openDeps(ctx, cfg, dir, slog.Default())
	if err != nil {
		return info, fmt.Errorf("open stores: %w", err)
	}
	defer closeDeps()

	total, err := deps.Metadata.CountMemories(ctx)
	if err != nil {
		return info, fmt.Errorf("count memories: %w", err)
	}
	info.TotalFiles = int(total)

	if raw, err := deps.Metadata.GetState(ctx, store.StateKeyLastScanMs); err == nil && raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			info.LastIndexed = time.UnixMilli(ms)
		}
	}

	if deps.Causal != nil {
		stats, err := deps.Causal.GetGraphStats(ctx)
		if err == nil {
			info.TotalChunks = stats.TotalEdges
		}
	}

	info.MetadataSize = getFileSize(filepath.Join(cfg.Storage.DataDir, "cogmemd.db"))
	info.BM25Size = getFileSize(filepath.Join(cfg.Storage.DataDir, "bm25.db"))
	info.VectorSize = getFileSize(filepath.Join(cfg.Storage.DataDir, "vectors.hnsw"))
	info.TotalSize = info.MetadataSize + info.BM25Size + info.VectorSize

	if deps.Embedder != nil {
		profile := deps.Embedder.Metadata()
		info.EmbedderType = profile.Provider
		info.EmbedderModel = profile.Model
		if deps.Embedder.IsReady() {
			info.EmbedderStatus = "ready"
		} else {
			info.EmbedderStatus = "offline"
		}
	}

	info.WatcherStatus = "n/a"

	return info, nil
}

// getFileSize returns the size of a file in bytes, 0 if it doesn't exist.
func getFileSize(path string) int64 {
	stat, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return stat.Size()
}

// fileExists reports whether path exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
