package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localkb/localkb/internal/contentstore"
	"github.com/localkb/localkb/internal/output"
)

type listOptions struct {
	skip   int
	take   int
	format string
	node   string
}

func newListCmd() *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Page through a node's content records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.skip, "skip", 0, "Number of records to skip")
	cmd.Flags().IntVar(&opts.take, "take", 20, "Maximum number of records to return")
	cmd.Flags().StringVar(&opts.format, "format", "json", "Output format: json, human")
	cmd.Flags().StringVar(&opts.node, "node", "", "Target node id (default node if omitted)")

	return cmd
}

func runList(cmd *cobra.Command, opts listOptions) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	nodeID, err := resolveNode(e, opts.node)
	if err != nil {
		return err
	}

	recs, err := e.List(cmd.Context(), nodeID, opts.skip, opts.take)
	if err != nil {
		return err
	}

	if opts.format == "human" {
		return printListHuman(cmd, recs)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

func printListHuman(cmd *cobra.Command, recs []*contentstore.ContentRecord) error {
	out := output.New(cmd.OutOrStdout())
	if len(recs) == 0 {
		out.Status("", "no records")
		return nil
	}
	for _, rec := range recs {
		out.Status("", fmt.Sprintf("%s  %s", rec.ID, rec.Title))
	}
	return nil
}
