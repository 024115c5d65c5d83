package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"courtside/internal/store"
	"courtside/internal/types"

	"github.com/spf13/cobra"
)

var importPriorsCmd = &cobra.Command{
	Use:   "import-priors <file.json>",
	Short: "Load blowout priors into the store",
	Long: `Reads a JSON array of blowout priors ({"league","season","team","leading",
"trailing","baseline"}) and upserts them. Rows are keyed by league, season
and team, so re-importing a season replaces it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var priors []types.BlowoutPrior
		if err := readJSON(args[0], &priors); err != nil {
			return err
		}
		return withStore(func(ctx context.Context, st *store.LocalStore) error {
			n, err := st.UpsertBlowoutPriors(ctx, priors)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d priors\n", n)
			return nil
		})
	},
}

var importSnapshotsCmd = &cobra.Command{
	Use:   "import-snapshots <file.json>",
	Short: "Load live game snapshots into the store",
	Long: `Reads a JSON array of live game snapshots and upserts them by match id.
The live feed writer normally does this; the command is for backfills and
local testing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var snaps []types.LiveGameSnapshot
		if err := readJSON(args[0], &snaps); err != nil {
			return err
		}
		return withStore(func(ctx context.Context, st *store.LocalStore) error {
			for _, snap := range snaps {
				if err := st.UpsertLiveSnapshot(ctx, snap); err != nil {
					return fmt.Errorf("snapshot %s: %w", snap.MatchID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d snapshots\n", len(snaps))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(importSnapshotsCmd)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func withStore(fn func(ctx context.Context, st *store.LocalStore) error) error {
	ctx, cancel := signalContext()
	defer cancel()
	st, err := store.NewLocalStore(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}
