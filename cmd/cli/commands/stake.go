package commands

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/stakewatch/stakewatch/internal/metatx"
	"github.com/stakewatch/stakewatch/pkg/types"
)

func NewStakeCmd() *cobra.Command {
	var referrer string

	cmd := &cobra.Command{
		Use:   "stake <amount>",
		Short: "Stake tokens via a gasless transaction",
		Long: `Stake the given token amount through the relay. The amount is in
whole tokens (e.g. "250" or "99.5"); no gas token is needed, the relay
sponsors the transaction.

Stakes are locked for 5 days. An optional referrer address credits
that account with a referral bonus.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			amount, err := types.ParseAmount(args[0], cfg.Staking.TokenDecimals)
			if err != nil {
				return err
			}
			minStake, err := types.ParseAmount(cfg.Staking.MinStake, cfg.Staking.TokenDecimals)
			if err == nil && amount.Cmp(minStake) < 0 {
				return fmt.Errorf("amount %s is below the minimum stake of %s %s",
					args[0], cfg.Staking.MinStake, cfg.Staking.TokenSymbol)
			}

			var ref common.Address
			if referrer != "" {
				if !common.IsHexAddress(referrer) {
					return fmt.Errorf("malformed referrer address: %s", referrer)
				}
				ref = common.HexToAddress(referrer)
			}

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			if ref == sess.wallet.Address() {
				return fmt.Errorf("you cannot refer yourself")
			}

			balance, err := sess.token.BalanceOf(ctx, sess.wallet.Address())
			if err == nil && balance.Cmp(amount) < 0 {
				return fmt.Errorf("insufficient balance: have %s, need %s %s",
					types.FormatAmount(balance, cfg.Staking.TokenDecimals),
					types.FormatAmount(amount, cfg.Staking.TokenDecimals),
					cfg.Staking.TokenSymbol)
			}

			fmt.Println(StatusBox("Stake", [][2]string{
				{"Amount", FormatToken(amount, cfg.Staking.TokenDecimals, cfg.Staking.TokenSymbol)},
				{"Account", sess.wallet.Address().Hex()},
				{"Lock", "5 days"},
			}))

			return sess.submitAndReport(ctx, &metatx.Request{
				Action:   metatx.ActionStake,
				User:     sess.wallet.Address(),
				Amount:   amount,
				Referrer: ref,
			})
		},
	}

	cmd.Flags().StringVar(&referrer, "referrer", "", "Referrer address to credit (optional)")

	return cmd
}
