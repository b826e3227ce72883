package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/stakewatch/stakewatch/internal/metatx"
	"github.com/stakewatch/stakewatch/pkg/types"
)

func NewUnstakeCmd() *cobra.Command {
	var early bool

	cmd := &cobra.Command{
		Use:   "unstake <stake-index>",
		Short: "Unstake a stake record via a gasless transaction",
		Long: `Withdraw a stake by its index (see: stakewatch stakes).

A stake still inside its 5-day lock can only be withdrawn with
--early, which the contract may penalize. Without the flag, a locked
stake is rejected locally before anything is signed.`,
		Args: cobra.ExactArgs(1),
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

			var stake *types.Stake
			if err := WithSpinner("Reading stake record", func() error {
				stake, err = sess.staking.GetStake(ctx, sess.wallet.Address(), index)
				return err
			}); err != nil {
				return err
			}

			if stake.Status == types.StakeStatusUnstaked {
				return fmt.Errorf("stake %d is already fully withdrawn", index)
			}
			if stake.Status == types.StakeStatusLocked && !early {
				return fmt.Errorf("stake %d is locked until %s (use --early to force)",
					index, stake.UnlockTime().UTC().Format(time.RFC3339))
			}

			decimals, symbol := tokenDisplay()
			fields := [][2]string{
				{"Stake", fmt.Sprintf("#%d", index)},
				{"Amount", FormatToken(stake.Amount, decimals, symbol)},
				{"Status", string(stake.Status)},
			}
			if early && stake.Status == types.StakeStatusLocked {
				fields = append(fields, [2]string{"Warning", "early unstake may forfeit rewards"})
			}
			fmt.Println(StatusBox("Unstake", fields))

			return sess.submitAndReport(ctx, &metatx.Request{
				Action:     metatx.ActionUnstake,
				User:       sess.wallet.Address(),
				StakeIndex: index,
				Early:      early && stake.Status == types.StakeStatusLocked,
			})
		},
	}

	cmd.Flags().BoolVar(&early, "early", false, "Unstake before the 5-day lock ends")

	return cmd
}
