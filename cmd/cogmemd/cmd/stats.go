package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cogmemd/cogmemd/internal/causal"
	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/embedding"
	"github.com/cogmemd/cogmemd/internal/store"
	"github.com/cogmemd/cogmemd/internal/ui"
)

// StatsOutput mirrors the memory_stats/memory_health/memory_causal_stats
// MCP tool payloads, aggregated into one snapshot for the CLI.
type StatsOutput struct {
	TotalMemories     int64          `json:"total_memories"`
	ByTier            map[string]int `json:"by_tier"`
	PendingEmbeds     int            `json:"pending_embeds"`
	FailedEmbeds      int            `json:"failed_embeds"`
	LinkCoveragePct   float64        `json:"link_coverage_pct"`
	TotalEdges        int            `json:"total_edges"`
	EmbeddingProvider string         `json:"embedding_provider"`
	EmbeddingModel    string         `json:"embedding_model"`
	EmbeddingReady    bool           `json:"embedding_ready"`
	OrphanedVectors   int            `json:"orphaned_vectors"`
	OrphanedEdges     int            `json:"orphaned_edges"`
}

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		Long: `Display aggregate statistics over the memory store: totals by
importance tier, pending/failed embeddings, causal link coverage, and
embedding-provider/store health.

Use --watch for a live terminal dashboard that refreshes every second.`,
		Example: `  # One-shot summary
  cogmemd stats

  # JSON for scripting
  cogmemd stats --json

  # Live dashboard
  cogmemd stats --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return runStatsWatch(cmd)
			}
			return runStatsOnce(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&watch, "watch", false, "Live-refreshing terminal dashboard")

	return cmd
}

func runStatsOnce(cmd *cobra.Command, jsonOutput bool) error {
	ctx := cmd.Context()

	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		cfg = config.NewConfig()
	}

	deps, closeDeps, err := openDeps(ctx, cfg, dir, slog.Default())
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer closeDeps()

	out, err := collectStats(ctx, deps.Metadata, deps.Causal, deps.Embedder)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printStatsFormatted(cmd, out)
	return nil
}

// collectStats replicates the memory_stats/memory_health/memory_causal_stats
// MCP tool bodies (internal/mcp/server.go) over the same store methods,
// without going through the dispatcher's Envelope wrapping.
func collectStats(ctx context.Context, metadata store.MetadataStore, graph *causal.Graph, embedder embedding.Provider) (*StatsOutput, error) {
	total, err := metadata.CountMemories(ctx)
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}

	byTier := make(map[string]int)
	pending, failed := 0, 0
	for _, tier := range []store.ImportanceTier{
		store.TierConstitutional, store.TierCritical, store.TierImportant,
		store.TierNormal, store.TierTemporary, store.TierDeprecated,
	} {
		rows, err := metadata.ListMemoriesByTier(ctx, tier)
		if err != nil {
			return nil, fmt.Errorf("list memories by tier %s: %w", tier, err)
		}
		byTier[string(tier)] = len(rows)
		for _, m := range rows {
			switch m.EmbeddingStatus {
			case store.EmbeddingPending:
				pending++
			case store.EmbeddingFailed:
				failed++
			}
		}
	}

	out := &StatsOutput{
		TotalMemories: total,
		ByTier:        byTier,
		PendingEmbeds: pending,
		FailedEmbeds:  failed,
	}

	if graph != nil {
		stats, err := graph.GetGraphStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("causal graph stats: %w", err)
		}
		out.LinkCoveragePct = stats.LinkCoveragePercent
		out.TotalEdges = stats.TotalEdges
	}

	if embedder != nil {
		profile := embedder.Metadata()
		out.EmbeddingProvider = profile.Provider
		out.EmbeddingModel = profile.Model
		out.EmbeddingReady = embedder.IsReady()
	}

	report, err := metadata.VerifyIntegrity(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("verify integrity: %w", err)
	}
	out.OrphanedVectors = len(report.OrphanedVectors)
	out.OrphanedEdges = len(report.OrphanedEdges)

	return out, nil
}

func printStatsFormatted(cmd *cobra.Command, out *StatsOutput) {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Memory Store Statistics")
	fmt.Fprintln(w, "=======================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total memories:    %d\n", out.TotalMemories)
	fmt.Fprintf(w, "Pending embeds:    %d\n", out.PendingEmbeds)
	fmt.Fprintf(w, "Failed embeds:     %d\n", out.FailedEmbeds)
	fmt.Fprintf(w, "Causal edges:      %d\n", out.TotalEdges)
	fmt.Fprintf(w, "Link coverage:     %.1f%%\n", out.LinkCoveragePct)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "By tier:")
	for _, tier := range tierOrder {
		fmt.Fprintf(w, "  %-14s %d\n", tier, out.ByTier[tier])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Embedding provider: %s (%s)\n", out.EmbeddingProvider, out.EmbeddingModel)
	fmt.Fprintf(w, "Embedding ready:    %t\n", out.EmbeddingReady)
	fmt.Fprintf(w, "Orphaned vectors:   %d\n", out.OrphanedVectors)
	fmt.Fprintf(w, "Orphaned edges:     %d\n", out.OrphanedEdges)
}

var tierOrder = []string{
	string(store.TierConstitutional),
	string(store.TierCritical),
	string(store.TierImportant),
	string(store.TierNormal),
	string(store.TierTemporary),
	string(store.TierDeprecated),
}

func runStatsWatch(cmd *cobra.Command) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		cfg = config.NewConfig()
	}

	ctx := cmd.Context()
	deps, closeDeps, err := openDeps(ctx, cfg, dir, slog.Default())
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer closeDeps()

	fetch := func() (*ui.StatsSnapshot, error) {
		out, err := collectStats(ctx, deps.Metadata, deps.Causal, deps.Embedder)
		if err != nil {
			return nil, err
		}
		return &ui.StatsSnapshot{
			TotalMemories:     out.TotalMemories,
			ByTier:            out.ByTier,
			PendingEmbeds:     out.PendingEmbeds,
			FailedEmbeds:      out.FailedEmbeds,
			LinkCoveragePct:   out.LinkCoveragePct,
			TotalEdges:        out.TotalEdges,
			EmbeddingProvider: out.EmbeddingProvider,
			EmbeddingModel:    out.EmbeddingModel,
			EmbeddingReady:    out.EmbeddingReady,
			OrphanedVectors:   out.OrphanedVectors,
			OrphanedEdges:     out.OrphanedEdges,
		}, nil
	}

	dashboard := ui.NewStatsDashboard(fetch, time.Second)
	return dashboard.Run(ctx)
}
