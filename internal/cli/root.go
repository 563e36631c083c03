// Package cli реализует операторскую утилиту verifyctl.
package cli

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/verification-gate/internal/config"
	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
)

// ErrMissingFlag — не задан обязательный флаг.
var ErrMissingFlag = errors.New("required flag is not set")

type options struct {
	configPath string
}

// NewRootCommand собирает дерево команд verifyctl.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "verifyctl",
		Short:         "Operator tool for the verification gate",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the YAML config")

	root.AddCommand(
		newMigrateCommand(opts),
		newSweepCommand(opts),
		newGrantCommand(opts),
		newStatusCommand(opts),
		newTokenCommand(opts),
		newKeygenCommand(),
		newHealthCommand(),
	)
	return root
}

func (o *options) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewWithWriter(cfg.Env, cmd.ErrOrStderr()), nil
}
