package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/verification-gate/internal/app/sweeper"
)

func newSweepCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate communities without a recent renewal once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			sw, db, cacheRedis, err := sweeper.Build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()
			defer cacheRedis.Close()

			lapsed, err := sw.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range lapsed {
				fmt.Fprintf(cmd.OutOrStdout(), "lapsed %s (%s)\n", c.ID, c.Tier)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d communities lapsed\n", len(lapsed))
			return nil
		},
	}
}
