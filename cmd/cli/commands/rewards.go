package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stakewatch/stakewatch/internal/metatx"
	"github.com/stakewatch/stakewatch/pkg/types"
)

// NewRewardsCmd creates the rewards command group
func NewRewardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewards",
		Short: "Withdraw or compound staking rewards",
		Long: `Manage accrued staking rewards via gasless transactions.

  stakewatch rewards withdraw <stake-index>   # claim one stake's reward
  stakewatch rewards withdraw --all           # claim across all stakes
  stakewatch rewards compound <stake-index>   # reinvest into the stake
  stakewatch rewards bonus                    # claim the referral bonus`,
	}

	cmd.AddCommand(newRewardsWithdrawCmd())
	cmd.AddCommand(newRewardsCompoundCmd())
	cmd.AddCommand(newRewardsBonusCmd())

	return cmd
}

func newRewardsWithdrawCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "withdraw [stake-index]",
		Short: "Withdraw pending rewards",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if all == (len(args) == 1) {
				return fmt.Errorf("provide either a stake index or --all")
			}

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			decimals, symbol := tokenDisplay()
			user := sess.wallet.Address()

			if !all {
				index, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("stake index must be a non-negative integer: %s", args[0])
				}

				pending := types.FormatAmount(nil, decimals)
				earned := types.FormatAmount(nil, decimals)
				_ = WithSpinner("Reading pending reward", func() error {
					if reward, err := sess.staking.CalculateReward(ctx, user, index); err == nil {
						pending = types.FormatAmount(reward, decimals)
					}
					if total, err := sess.staking.TotalRewards(ctx, user, index); err == nil {
						earned = types.FormatAmount(total, decimals)
					}
					return nil
				})
				fmt.Println(StatusBox("Withdraw Reward", [][2]string{
					{"Stake", fmt.Sprintf("#%d", index)},
					{"Pending", pending + " " + symbol},
					{"Earned to date", earned + " " + symbol},
				}))

				return sess.submitAndReport(ctx, &metatx.Request{
					Action:     metatx.ActionWithdrawReward,
					User:       user,
					StakeIndex: index,
				})
			}

			// Batch: every stake that currently has something pending.
			var indices []uint64
			if err := WithSpinner("Scanning stakes for pending rewards", func() error {
				count, err := sess.staking.StakeCount(ctx, user)
				if err != nil {
					return err
				}
				for i := uint64(0); i < count; i++ {
					reward, err := sess.staking.CalculateReward(ctx, user, i)
					if err != nil {
						return err
					}
					if reward.Sign() > 0 {
						indices = append(indices, i)
					}
				}
				return nil
			}); err != nil {
				return err
			}

			if len(indices) == 0 {
				Info("No pending rewards to withdraw.")
				return nil
			}
			Info(fmt.Sprintf("Withdrawing rewards from %d stake(s)", len(indices)))

			return sess.submitAndReport(ctx, &metatx.Request{
				Action:       metatx.ActionBatchWithdrawRewards,
				User:         user,
				StakeIndices: indices,
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Withdraw from every stake with a pending reward")

	return cmd
}

func newRewardsCompoundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compound <stake-index>",
		Short: "Reinvest pending rewards into the stake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			index, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("stake index must be a non-negative integer: %s", args[0])
			}

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			return sess.submitAndReport(ctx, &metatx.Request{
				Action:     metatx.ActionCompound,
				User:       sess.wallet.Address(),
				StakeIndex: index,
			})
		},
	}
}

func newRewardsBonusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bonus",
		Short: "Withdraw the accumulated referral bonus",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			decimals, symbol := tokenDisplay()
			user := sess.wallet.Address()

			var bonus string
			if err := WithSpinner("Reading referral bonus", func() error {
				b, err := sess.staking.ReferralBonus(ctx, user)
				if err != nil {
					return err
				}
				if b.Sign() == 0 {
					return fmt.Errorf("no referral bonus to withdraw")
				}
				bonus = types.FormatAmount(b, decimals)
				return nil
			}); err != nil {
				return err
			}
			Info(fmt.Sprintf("Withdrawing referral bonus of %s %s", bonus, symbol))

			return sess.submitAndReport(ctx, &metatx.Request{
				Action: metatx.ActionWithdrawReferralBonus,
				User:   user,
			})
		},
	}
}
