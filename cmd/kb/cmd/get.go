package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localkb/localkb/internal/contentstore"
	"github.com/localkb/localkb/internal/kberrors"
	"github.com/localkb/localkb/internal/output"
)

type getOptions struct {
	id     string
	full   bool
	format string
	node   string
}

func newGetCmd() *cobra.Command {
	var opts getOptions

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print a content record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.id == "" {
				return kberrors.New(kberrors.InvalidArgument, "--id is required")
			}
			return runGet(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Content id")
	cmd.Flags().BoolVar(&opts.full, "full", false, "Include full content body")
	cmd.Flags().StringVar(&opts.format, "format", "json", "Output format: json, human")
	cmd.Flags().StringVar(&opts.node, "node", "", "Target node id (default node if omitted)")

	return cmd
}

func runGet(cmd *cobra.Command, opts getOptions) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	nodeID, err := resolveNode(e, opts.node)
	if err != nil {
		return err
	}

	rec, err := e.Get(cmd.Context(), nodeID, opts.id)
	if err != nil {
		return err
	}
	if !opts.full {
		rec = withoutBody(rec)
	}

	if opts.format == "human" {
		return printRecordHuman(cmd, rec)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// withoutBody returns a shallow copy of rec with Content cleared, for the
// default non-full view.
func withoutBody(rec *contentstore.ContentRecord) *contentstore.ContentRecord {
	c := *rec
	c.Content = ""
	return &c
}

func printRecordHuman(cmd *cobra.Command, rec *contentstore.ContentRecord) error {
	out := output.New(cmd.OutOrStdout())
	out.Status("", fmt.Sprintf("id:          %s", rec.ID))
	out.Status("", fmt.Sprintf("title:       %s", rec.Title))
	out.Status("", fmt.Sprintf("description: %s", rec.Description))
	out.Status("", fmt.Sprintf("mime:        %s", rec.MimeType))
	tagStrs := make([]string, len(rec.Tags))
	for i, t := range rec.Tags {
		tagStrs[i] = t.String()
	}
	out.Status("", fmt.Sprintf("tags:        %v", tagStrs))
	out.Status("", fmt.Sprintf("created:     %s", rec.CreatedAt))
	out.Status("", fmt.Sprintf("updated:     %s", rec.UpdatedAt))
	if rec.Content != "" {
		out.Code(rec.Content)
	}
	return nil
}
