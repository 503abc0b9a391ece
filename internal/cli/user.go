package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storytrim/server/internal/auth"
	"github.com/storytrim/server/internal/entrypoint"
)

func newUserCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newUserCreateCommand(opts))
	return cmd
}

func newUserCreateCommand(opts *rootOptions) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account with the usual register bonus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := entrypoint.NewApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			// Registration never signs tokens, so any secret will do here.
			authCfg := opts.cfg.Auth
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = "cli"
			}
			svc, err := auth.NewService(app.Users, app.PointsService, authCfg)
			if err != nil {
				return err
			}

			user, err := svc.Register(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %d)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
