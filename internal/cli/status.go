package cli

import (
	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <community_id>",
		Short: "Print a community's entitlement status from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}
			db, err := repository.New(cfg.StorageConnectionString)
			if err != nil {
				return err
			}
			defer db.Close()

			c, err := db.GetCommunity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, c.Status())
		},
	}
}
