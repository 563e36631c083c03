package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/verification-gate/internal/lib/jwt"
)

func newTokenCommand(opts *options) *cobra.Command {
	var subject, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the command API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return fmt.Errorf("--subject: %w", ErrMissingFlag)
			}
			if role != jwt.RoleFrontend && role != jwt.RoleAdmin {
				return fmt.Errorf("--role must be %q or %q", jwt.RoleFrontend, jwt.RoleAdmin)
			}
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}
			token, err := jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL).GenerateToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "client name stored in the token")
	cmd.Flags().StringVar(&role, "role", jwt.RoleFrontend, "frontend or admin")
	return cmd
}
