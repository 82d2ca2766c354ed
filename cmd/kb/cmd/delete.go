package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/localkb/localkb/internal/kberrors"
)

type deleteOptions struct {
	id   string
	node string
}

func newDeleteCmd() *cobra.Command {
	var opts deleteOptions

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a content record (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.id == "" {
				return kberrors.New(kberrors.InvalidArgument, "--id is required")
			}
			return runDelete(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Content id")
	cmd.Flags().StringVar(&opts.node, "node", "", "Target node id (default node if omitted)")

	return cmd
}

func runDelete(cmd *cobra.Command, opts deleteOptions) error {
	e, cfg, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	nodeID, err := resolveNode(e, opts.node)
	if err != nil {
		return err
	}

	result, err := e.Delete(cmd.Context(), nodeID, opts.id)
	if err != nil {
		return err
	}
	ensureConfigPersisted(cfg)

	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(result)
}
