package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/verification-gate/internal/migrations"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

func newMigrateCommand(opts *options) *cobra.Command {
	var versionOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			db, err := repository.New(cfg.StorageConnectionString)
			if err != nil {
				return err
			}
			defer db.Close()

			if !versionOnly {
				if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
					return err
				}
				log.Info("migrations applied")
			}
			version, dirty, err := migrations.Version(db.DB, cfg.MigrationsPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&versionOnly, "version", false, "only print the current schema version")
	return cmd
}
