package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/storytrim/server/internal/entrypoint"
)

func newImportCommand(opts *rootOptions) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "import <file.txt>",
		Short: "Import a TXT novel into a user's shelf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			app, err := entrypoint.NewApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			user, err := app.Users.GetUserByUsername(username)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("user %q does not exist", username)
				}
				return err
			}

			result, err := app.ImportService.ImportTXT(cmd.Context(), user.ID, filepath.Base(args[0]), raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %q as book %d: %d chapters (rule %s)\n",
				result.Title, result.BookID, result.Chapters, result.RuleName)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "owner of the imported book")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
