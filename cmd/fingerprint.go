package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-ingest/internal/fingerprint"
	"github.com/sells-group/catalog-ingest/internal/model"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <file>...",
	Short: "Print the cache fingerprint of local catalog files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		for _, path := range args {
			fp, err := fingerprintFile(path, format)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", fp, path)
		}
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().String("format", "", "catalog format; default is the file extension")
	rootCmd.AddCommand(fingerprintCmd)
}

func fingerprintFile(path, format string) (string, error) {
	var f model.Format
	var err error
	if format != "" {
		f, err = model.ParseFormat(format)
	} else {
		f, err = model.FormatFromPath(path)
	}
	if err != nil {
		return "", err
	}

	file, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "fingerprint: open %s", path)
	}
	defer file.Close() //nolint:errcheck

	fp, _, err := fingerprint.ComputeReader(f, file)
	if err != nil {
		return "", eris.Wrapf(err, "fingerprint: read %s", path)
	}
	return fp, nil
}
