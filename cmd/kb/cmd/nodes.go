package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localkb/localkb/internal/output"
)

type nodeSummary struct {
	ID     string `json:"id"`
	Access string `json:"access"`
}

func newNodesCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List configured nodes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNodes(cmd, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format: json, human")
	return cmd
}

func runNodes(cmd *cobra.Command, format string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	var summaries []nodeSummary
	for _, id := range e.NodeIDs() {
		n, ok := e.Node(id)
		if !ok {
			continue
		}
		summaries = append(summaries, nodeSummary{ID: n.ID, Access: n.Access})
	}

	if format == "human" {
		out := output.New(cmd.OutOrStdout())
		for _, s := range summaries {
			out.Status("", fmt.Sprintf("%s  (%s)", s.ID, s.Access))
		}
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
