package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the durable extraction cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cache entries",
	Long:  "Entries expire lazily on read; prune reclaims space held by entries nobody asked for again.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunStore(cmd.Context(), func(st store.Store) error {
			n, err := pruneExpired(cmd, st, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d expired entries\n", n)
			return nil
		})
	},
}

var cacheDropCmd = &cobra.Command{
	Use:   "drop <fingerprint>...",
	Short: "Remove entries so the next ingest of those payloads rebuilds them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunStore(cmd.Context(), func(st store.Store) error {
			for _, fp := range args {
				if err := st.DeleteEntry(cmd.Context(), fp); err != nil {
					return eris.Wrapf(err, "cache drop %s", fp)
				}
			}
			zap.L().Info("cache entries dropped", zap.Int("count", len(args)))
			return nil
		})
	},
}

// pruneExpired deletes entries that expired by now. Stores without bulk
// deletion report zero.
func pruneExpired(cmd *cobra.Command, st store.Store, now time.Time) (int, error) {
	p, ok := st.(store.Pruner)
	if !ok {
		zap.L().Info("store expires entries on its own; nothing to prune", zap.String("driver", cfg.Store.Driver))
		return 0, nil
	}
	n, err := p.DeleteExpired(cmd.Context(), now)
	return n, eris.Wrap(err, "cache prune")
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd, cacheDropCmd)
	rootCmd.AddCommand(cacheCmd)
}
