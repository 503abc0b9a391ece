// Package cli implements the storytrim command line: the server itself plus
// a few maintenance commands that work directly against the database.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/logging"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

// NewRootCommand builds the command tree. Running it without a subcommand
// starts the server.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "storytrim",
		Short:         "StoryTrim backend server",
		Long:          "StoryTrim syncs novels from reader apps and trims their chapters with an LLM.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath != "" {
				if err := os.Setenv("CONFIG_PATH", opts.configPath); err != nil {
					return err
				}
			}
			cfg, _, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.Log)
			opts.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, version)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (overrides CONFIG_PATH)")

	root.AddCommand(
		newServeCommand(opts, version),
		newParseCommand(),
		newImportCommand(opts),
		newUserCommand(opts),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute(version string) {
	root := NewRootCommand(version)
	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
