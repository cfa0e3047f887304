package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cogmemd/cogmemd/internal/checkpoint"
	"github.com/cogmemd/cogmemd/internal/config"
)

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Create, list, restore, and delete named store snapshots",
	}
	cmd.AddCommand(newCheckpointCreateCmd())
	cmd.AddCommand(newCheckpointListCmd())
	cmd.AddCommand(newCheckpointRestoreCmd())
	cmd.AddCommand(newCheckpointDeleteCmd())
	return cmd
}

func newCheckpointCreateCmd() *cobra.Command {
	var (
		specFolder string
		metadata   string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Snapshot memories, causal edges, and working memory under a name",
		Long: `Snapshot the memories, their incident causal edges, and working-memory
entries scoped to --spec-folder (or the whole store, if omitted) under the
given name, overwriting any existing checkpoint with that name.`,
		Example: `  # Snapshot everything
  cogmemd checkpoint create before-refactor

  # Snapshot just one spec folder
  cogmemd checkpoint create before-refactor --spec-folder my-feature`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCheckpointManager(cmd, func(m *checkpoint.Manager) error {
				cp, err := m.Create(cmd.Context(), args[0], specFolder, metadata)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created checkpoint %q (spec_folder=%q) at %s\n",
					cp.Name, cp.SpecFolder, cp.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&specFolder, "spec-folder", "", "Restrict the snapshot to specs/<folder>/memory/")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Opaque JSON summary stored alongside the checkpoint")

	return cmd
}

func newCheckpointListCmd() *cobra.Command {
	var (
		specFolder string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpointManager(cmd, func(m *checkpoint.Manager) error {
				cps, err := m.List(cmd.Context(), specFolder, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(cps)
				}
				if len(cps) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no checkpoints found")
					return nil
				}
				for _, cp := range cps {
					fmt.Fprintf(cmd.OutOrStdout(), "%-30s spec_folder=%-20q created=%s\n",
						cp.Name, cp.SpecFolder, cp.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&specFolder, "spec-folder", "", "Only list checkpoints scoped to this spec folder")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of checkpoints to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newCheckpointRestoreCmd() *cobra.Command {
	var clearExisting bool

	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Restore a named checkpoint's scoped subset back into the store",
		Long: `Restore loads a named checkpoint and writes its scoped subset back into
the store. With --clear-existing it deletes the scoped memories first (a
replace; an unscoped checkpoint clears the whole store). Without it, it
merges by inserting the snapshot rows; file paths are unique, so a restored
memory whose path is still present fails the restore, leaving the rows
written before it in place.

Restore takes an exclusive file lock for the duration of the write, so two
processes cannot restore the same store concurrently.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCheckpointManager(cmd, func(m *checkpoint.Manager) error {
				result, err := m.Restore(cmd.Context(), args[0], clearExisting)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %q: %d memories, %d edges, %d working-memory entries (cleared existing: %t)\n",
					result.Name, result.MemoriesRestored, result.EdgesRestored, result.WorkingMemory, result.ClearedExisting)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearExisting, "clear-existing", false, "Delete the scoped memories before restoring")

	return cmd
}

func newCheckpointDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a named checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCheckpointManager(cmd, func(m *checkpoint.Manager) error {
				ok, err := m.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("checkpoint %q not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted checkpoint %q\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

// withCheckpointManager opens the stores via openDeps and runs fn against
// the checkpoint manager, flushing the stores afterward regardless of
// outcome.
func withCheckpointManager(cmd *cobra.Command, fn func(m *checkpoint.Manager) error) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		cfg = config.NewConfig()
	}

	deps, closeDeps, err := openDeps(cmd.Context(), cfg, dir, slog.Default())
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer closeDeps()

	return fn(deps.Checkpoints)
}
