package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/verification-gate/internal/cache"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/paymentprovider"
	"github.com/magabrotheeeer/verification-gate/internal/services/billing"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

type grantFlags struct {
	community string
	owner     string
	tier      string
	actor     string
}

func (f grantFlags) validate() error {
	if f.community == "" {
		return fmt.Errorf("--community: %w", ErrMissingFlag)
	}
	if !models.Tier(f.tier).Valid() {
		return fmt.Errorf("--tier: %w: %q", billing.ErrInvalidTier, f.tier)
	}
	return nil
}

func newGrantCommand(opts *options) *cobra.Command {
	var f grantFlags
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant or top up a subscription tier without billing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			db, err := repository.New(cfg.StorageConnectionString)
			if err != nil {
				return err
			}
			defer db.Close()

			var invalidator billing.Invalidator
			if cacheRedis, err := cache.InitServer(cmd.Context(), cfg.RedisConnection); err != nil {
				log.Warn("redis is unavailable, cached status will expire on its own", sl.Err(err))
			} else {
				defer cacheRedis.Close()
				invalidator = cacheRedis
			}

			processor, err := billing.NewProcessor(db, paymentprovider.NewClient(cfg.Stripe), cfg.Billing.Plans, invalidator, log)
			if err != nil {
				return err
			}
			c, err := processor.ManualGrant(cmd.Context(), billing.GrantRequest{
				CommunityID: f.community,
				OwnerID:     f.owner,
				Tier:        models.Tier(f.tier),
				ActorID:     f.actor,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, c.Status())
		},
	}
	cmd.Flags().StringVar(&f.community, "community", "", "community (guild) id")
	cmd.Flags().StringVar(&f.owner, "owner", "", "owner user id")
	cmd.Flags().StringVar(&f.tier, "tier", "", "tier_0 .. tier_6")
	cmd.Flags().StringVar(&f.actor, "actor", "verifyctl", "actor recorded in the usage log")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
