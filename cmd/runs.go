package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/monitoring"
	"github.com/sells-group/catalog-ingest/internal/store"
)

const timeLayout = "2006-01-02 15:04"

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion run history",
}

// withRunStore opens and migrates the configured store for the duration of fn.
func withRunStore(ctx context.Context, fn func(store.Store) error) error {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	return fn(st)
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var filter store.RunFilter
		filter.FailedOnly, _ = cmd.Flags().GetBool("failed")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		filter.Offset, _ = cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withRunStore(cmd.Context(), func(st store.Store) error {
			runs, err := st.ListRuns(cmd.Context(), filter)
			if err != nil {
				return eris.Wrap(err, "runs list")
			}
			switch {
			case asJSON:
				if runs == nil {
					runs = []model.RunSummary{}
				}
				return writeJSON(cmd.OutOrStdout(), runs)
			case len(runs) == 0:
				fmt.Fprintln(cmd.ErrOrStderr(), "No runs found.")
			default:
				formatRunsList(cmd.OutOrStdout(), runs)
			}
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the full report of a run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunStore(cmd.Context(), func(st store.Store) error {
			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "runs show")
			}
			return writeJSON(cmd.OutOrStdout(), run)
		})
	},
}

var runsProductsCmd = &cobra.Command{
	Use:   "products <run-id>",
	Short: "List the deduplicated products a run stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunStore(cmd.Context(), func(st store.Store) error {
			lister, ok := st.(store.ProductLister)
			if !ok {
				return eris.Errorf("runs products: store driver %q keeps no product rows", cfg.Store.Driver)
			}
			products, err := lister.RunProducts(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "runs products")
			}
			formatRunProducts(cmd.OutOrStdout(), products)
			return nil
		})
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent runs: failures, products, quality",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hours, _ := cmd.Flags().GetInt("hours")
		return withRunStore(cmd.Context(), func(st store.Store) error {
			stats, err := monitoring.NewCollector(st).Collect(cmd.Context(), hours)
			if err != nil {
				return eris.Wrap(err, "runs stats")
			}
			formatRunStats(cmd.OutOrStdout(), stats)
			return nil
		})
	},
}

func init() {
	f := runsListCmd.Flags()
	f.Bool("failed", false, "only runs where every source failed")
	f.Int("limit", 50, "max runs to show")
	f.Int("offset", 0, "skip this many runs")
	f.Bool("json", false, "print run summaries as JSON")

	runsStatsCmd.Flags().Int("hours", 24, "lookback window in hours; 0 covers all history")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsProductsCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

func formatRunsList(out io.Writer, runs []model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tCREATED\tSOURCES\tPRODUCTS\tCLUSTERS\tQUALITY\tRATING")
	for _, r := range runs {
		rating := string(r.Rating)
		if r.Failed {
			rating = "FAILED"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.2f\t%s\n",
			truncateID(r.RunID), r.CreatedAt.Format(timeLayout),
			r.Sources, r.TotalProducts, r.ClusterCount, r.OverallQuality, rating)
	}
	_ = w.Flush()
}

func formatRunProducts(out io.Writer, products []store.RunProduct) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tNAME\tVENDOR\tPRICE\tSIZE\tCONFIDENCE\tSOURCES")
	for _, p := range products {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%.2f\t%d\n",
			p.ClusterID, p.Name, dash(p.Vendor), dash(p.Price), p.ClusterSize, p.Confidence, len(p.Sources))
	}
	_ = w.Flush()
}

func formatRunStats(out io.Writer, s *monitoring.RunStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	window := "all time"
	if s.LookbackHours > 0 {
		window = fmt.Sprintf("last %dh", s.LookbackHours)
	}
	fmt.Fprintf(w, "Window:\t%s\n", window)
	fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	fmt.Fprintf(w, "Failed:\t%d (%.1f%%)\n", s.RunsFailed, s.FailRate*100)
	fmt.Fprintf(w, "Products:\t%d\n", s.ProductsTotal)
	fmt.Fprintf(w, "Avg quality:\t%.2f\n", s.AvgQuality)

	ratings := make([]string, 0, len(s.Ratings))
	for r := range s.Ratings {
		ratings = append(ratings, string(r))
	}
	sort.Strings(ratings)
	for _, r := range ratings {
		fmt.Fprintf(w, "  %s:\t%d\n", r, s.Ratings[model.QualityRating(r)])
	}
	if !s.LastRunAt.IsZero() {
		fmt.Fprintf(w, "Last run:\t%s\n", s.LastRunAt.Format(timeLayout))
	}
	_ = w.Flush()
}

// truncateID shortens a run UUID for tables.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
