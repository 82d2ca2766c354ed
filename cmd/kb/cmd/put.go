package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/localkb/localkb/internal/contentstore"
	"github.com/localkb/localkb/internal/kberrors"
)

type putOptions struct {
	id          string
	title       string
	description string
	tags        string
	mime        string
	node        string
}

func newPutCmd() *cobra.Command {
	var opts putOptions

	cmd := &cobra.Command{
		Use:   "put <content>",
		Short: "Upsert a content record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Content id; empty assigns a new one")
	cmd.Flags().StringVar(&opts.title, "title", "", "Title")
	cmd.Flags().StringVar(&opts.description, "description", "", "Description")
	cmd.Flags().StringVar(&opts.tags, "tags", "", "Comma-separated key:value tags")
	cmd.Flags().StringVar(&opts.mime, "mime", "text/plain", "MIME type")
	cmd.Flags().StringVar(&opts.node, "node", "", "Target node id (default node if omitted)")

	return cmd
}

func runPut(cmd *cobra.Command, content string, opts putOptions) error {
	e, cfg, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	nodeID, err := resolveNode(e, opts.node)
	if err != nil {
		return err
	}

	tags, err := parseTags(opts.tags)
	if err != nil {
		return err
	}

	req := contentstore.UpsertRequest{
		ID:          opts.id,
		Title:       opts.title,
		Description: opts.description,
		Content:     content,
		MimeType:    opts.mime,
		Tags:        tags,
	}

	result, err := e.Put(cmd.Context(), nodeID, req)
	if err != nil {
		return err
	}
	ensureConfigPersisted(cfg)

	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(result)
}

// parseTags parses "k1:v1,k2:v2" into Tags. Empty input yields no tags.
func parseTags(raw string) ([]contentstore.Tag, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]contentstore.Tag, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, ":", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, kberrors.Newf(kberrors.InvalidArgument, "invalid tag %q: expected key:value", p)
		}
		tags = append(tags, contentstore.Tag{Key: kv[0], Value: kv[1]})
	}
	return tags, nil
}
