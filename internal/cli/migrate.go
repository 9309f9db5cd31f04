package cli

import (
	"fmt"

	"github.com/goliatone/go-relay/core"
	"github.com/spf13/cobra"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), rootOpts, core.Config{}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.logger.Info("migrations applied", "driver", rt.cfg.Database.Driver)
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
