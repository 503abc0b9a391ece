package cli

import (
	"github.com/spf13/cobra"

	"github.com/storytrim/server/internal/entrypoint"
)

func newServeCommand(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, version)
		},
	}
}

func runServe(opts *rootOptions, version string) error {
	return entrypoint.Run(opts.cfg, version)
}
