package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/localkb/localkb/internal/output"
	"github.com/localkb/localkb/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(version.GetInfo())
			}
			out := output.New(cmd.OutOrStdout())
			out.Status("", version.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "human", "Output format: human, json")
	return cmd
}
