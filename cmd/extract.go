package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <source>",
	Short: "Extract and normalize products from a single catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		reqs, err := sourceRequests(args, format, cmd.InOrStdin())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		resp, err := env.Orchestrator.Extract(ctx, reqs[0])
		if err != nil {
			return eris.Wrap(err, "extract")
		}
		return writeJSON(cmd.OutOrStdout(), resp)
	},
}

func init() {
	extractCmd.Flags().String("format", "", "catalog format (json, csv, pdf); default is the file extension")
	rootCmd.AddCommand(extractCmd)
}
