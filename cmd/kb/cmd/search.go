package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/localkb/localkb/internal/output"
	"github.com/localkb/localkb/internal/search"
)

type searchOptions struct {
	limit        int
	offset       int
	minRelevance float64
	nodes        []string
	excludeNodes []string
	validateOnly bool
	format       string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid lexical + vector search across configured nodes",
		Long: `search runs a query across every configured node (or a subset picked
with --nodes) and returns a single ranked, content-hydrated page of results.

The query is treated as JSON iff its first non-whitespace character is '{';
otherwise it is parsed as infix (e.g. title:golang AND "exact phrase").`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.limit, "limit", search.DefaultLimit, "Maximum number of results")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Result offset")
	cmd.Flags().Float64Var(&opts.minRelevance, "min-relevance", search.DefaultMinRelevance, "Minimum relevance score")
	cmd.Flags().StringSliceVar(&opts.nodes, "nodes", nil, "Restrict search to these node ids (default: all)")
	cmd.Flags().StringSliceVar(&opts.excludeNodes, "exclude-nodes", nil, "Exclude these node ids")
	cmd.Flags().BoolVar(&opts.validateOnly, "validate-only", false, "Only validate the query, do not execute it")
	cmd.Flags().StringVar(&opts.format, "format", "json", "Output format: json, human")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	if opts.validateOnly {
		result := e.ValidateQuery(query)
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(result)
	}

	req := search.SearchRequest{
		Query:        query,
		Limit:        opts.limit,
		Offset:       opts.offset,
		MinRelevance: opts.minRelevance,
		Nodes:        opts.nodes,
		ExcludeNodes: opts.excludeNodes,
	}

	resp, err := e.Search(cmd.Context(), req)
	if err != nil {
		return err
	}

	if opts.format == "human" {
		return printSearchHuman(cmd, query, resp)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func printSearchHuman(cmd *cobra.Command, query string, resp search.SearchResponse) error {
	out := output.New(cmd.OutOrStdout())
	if len(resp.Results) == 0 {
		out.Status("", fmt.Sprintf("no results for %q", query))
		return nil
	}

	out.Statusf("", "%d result(s) for %q (searched: %s)", len(resp.Results), query,
		strings.Join(resp.Metadata.NodesSearched, ", "))
	out.Newline()

	for i, r := range resp.Results {
		out.Statusf("", "%d. [%s/%s] %s (score: %.3f)", i+1, r.NodeID, r.IndexID, r.Title, r.Score)
		if r.Snippet != "" {
			out.Status("", "   "+r.Snippet)
		}
	}
	return nil
}
