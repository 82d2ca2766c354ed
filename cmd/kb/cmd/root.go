// Package cmd provides the CLI commands for kb.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/localkb/localkb/internal/config"
	"github.com/localkb/localkb/internal/engine"
	"github.com/localkb/localkb/internal/kberrors"
	"github.com/localkb/localkb/internal/logging"
	"github.com/localkb/localkb/internal/output"
	"github.com/localkb/localkb/pkg/version"
)

// Debug logging flag.
var (
	debugMode      bool
	loggingCleanup func()
)

// configPath is the --config flag shared by every command.
var configPath string

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "localkb.json"

// NewRootCmd creates the root command for the kb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Local, node-scoped knowledge store with hybrid search",
		Long: `kb stores text content and makes it retrievable by hybrid search:
lexical full-text search combined with dense-vector similarity.

Content lives in one or more nodes, each declared in a JSON config file.
Run 'kb config' to see the nodes currently configured.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: startLogging,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if loggingCleanup != nil {
				loggingCleanup()
				loggingCleanup = nil
			}
			return nil
		},
	}

	cmd.SetVersionTemplate("kb version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configPath, "config", DefaultConfigPath, "Path to the JSON config file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr")

	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newNodesCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

// Execute runs the root command and translates a returned error into the
// documented exit code: 0 success, 1 user error, 2 config error, 3 internal.
func Execute() int {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err == nil {
		return 0
	}

	out := output.New(os.Stderr)
	out.Error(err.Error())
	return exitCodeFor(err)
}

func exitCodeFor(err error) int {
	switch kberrors.KindOf(err) {
	case "":
		return 3
	case kberrors.InvalidConfiguration:
		return 2
	case kberrors.InvalidArgument, kberrors.QuerySyntaxError, kberrors.QueryTooComplex,
		kberrors.NotFound, kberrors.NodeNotFound, kberrors.NodeAccessDenied:
		return 1
	default:
		return 3
	}
}

// openEngine loads the config at configPath and assembles the runtime
// engine every subcommand talks to. The caller is responsible for closing
// the returned engine.
func openEngine() (*engine.Engine, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.Open(cfg, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	return e, cfg, nil
}

// ensureConfigPersisted recreates the config file at configPath if a write
// operation found it missing mid-run, per the persisted-state contract: the
// config file is auto-recreated by the CLI on any write if missing.
func ensureConfigPersisted(cfg *config.Config) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		_ = cfg.Save(configPath)
	}
}

// resolveNode returns nodeID, or the engine's default node id if nodeID is
// empty. Used by commands that accept an optional --node flag.
func resolveNode(e *engine.Engine, nodeID string) (string, error) {
	if nodeID != "" {
		return nodeID, nil
	}
	def, ok := e.DefaultNode()
	if !ok {
		return "", kberrors.New(kberrors.NodeNotFound, "no nodes configured")
	}
	return def.ID, nil
}
