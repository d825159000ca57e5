package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-ingest/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source>...",
	Short: "Ingest catalogs and print the ingestion report",
	Long: "Reads each source (file path, file://, http(s)://, ftp:// or - for stdin), " +
		"merges duplicate products across sources and prints the JSON report.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		summary, _ := cmd.Flags().GetBool("summary")

		sources, err := sourceRequests(args, format, cmd.InOrStdin())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		report, runErr := env.Orchestrator.Run(ctx, sources)
		if report == nil {
			return eris.Wrap(runErr, "ingest")
		}

		out := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return eris.Wrapf(err, "ingest: create %s", output)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		if summary {
			formatReportSummary(out, report)
		} else if err := writeJSON(out, report); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	ingestCmd.Flags().String("format", "", "format for every source (json, csv, pdf); default is the file extension")
	ingestCmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
	ingestCmd.Flags().Bool("summary", false, "print a short summary instead of the JSON report")
	rootCmd.AddCommand(ingestCmd)
}

// sourceRequests turns CLI arguments into pipeline requests. "-" reads
// the payload from stdin, which then requires --format.
func sourceRequests(args []string, format string, stdin io.Reader) ([]model.SourceRequest, error) {
	var f model.Format
	if format != "" {
		var err error
		if f, err = model.ParseFormat(format); err != nil {
			return nil, err
		}
	}

	reqs := make([]model.SourceRequest, 0, len(args))
	usedStdin := false
	for _, arg := range args {
		if arg != "-" {
			reqs = append(reqs, model.SourceRequest{Location: arg, Format: f})
			continue
		}
		if usedStdin {
			return nil, eris.Wrap(model.ErrMalformedInput, "stdin can only be read once")
		}
		if f == "" {
			return nil, eris.Wrap(model.ErrMalformedInput, "--format is required when reading stdin")
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, eris.Wrap(err, "read stdin")
		}
		usedStdin = true
		reqs = append(reqs, model.SourceRequest{Source: "stdin", Format: f, Raw: data})
	}
	return reqs, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatReportSummary writes the headline numbers of a report to w.
func formatReportSummary(out io.Writer, r *model.IngestionReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.RunID)
	_, _ = fmt.Fprintf(w, "Files:\t%d (%d cached)\n", len(r.Files), r.CacheHits)
	_, _ = fmt.Fprintf(w, "Products:\t%d\n", r.TotalProducts)
	_, _ = fmt.Fprintf(w, "Clusters:\t%d\n", r.ClusterCount)
	_, _ = fmt.Fprintf(w, "Duplicate rate:\t%.1f%%\n", r.DuplicateRate*100)
	_, _ = fmt.Fprintf(w, "Quality:\t%.2f (%s)\n", r.Quality.OverallQuality, r.Quality.Rating)
	_, _ = fmt.Fprintf(w, "Duration:\t%dms\n", r.Timings.TotalMS)
	for _, e := range r.Errors {
		_, _ = fmt.Fprintf(w, "  error:\t%s [%s] %s\n", e.Source, e.Kind, e.Message)
	}
	_ = w.Flush()
}
