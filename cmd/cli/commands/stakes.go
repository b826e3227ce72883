package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stakewatch/stakewatch/pkg/types"
)

func NewStakesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stakes",
		Short: "List the tracked account's stakes",
		Long:  "Show all stake records with amounts, pending rewards, lock status, and unlock times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dc := NewDaemonClient(daemonEndpoint())

			status, err := dc.Status(ctx)
			if err != nil {
				return err
			}
			if status.Account == "" {
				Info("Daemon has no tracked account yet.")
				return nil
			}

			var resp *StakesResponse
			if err := WithSpinner("Fetching stakes", func() error {
				resp, err = dc.Stakes(ctx, status.Account)
				return err
			}); err != nil {
				return err
			}

			decimals, symbol := tokenDisplay()

			fmt.Println(StatusBox("Account", [][2]string{
				{"Address", resp.Address},
				{"Balance", FormatToken(resp.TokenBalance, decimals, symbol)},
				{"Ref. Bonus", FormatToken(resp.ReferralBonus, decimals, symbol)},
			}))

			if len(resp.Stakes) == 0 {
				Info("No stakes yet.")
				fmt.Println(Hint("Stake with: stakewatch stake <amount>"))
				return nil
			}

			rows := make([][]string, 0, len(resp.Stakes))
			for _, s := range resp.Stakes {
				rows = append(rows, []string{
					fmt.Sprintf("%d", s.Index),
					types.FormatAmount(s.Amount, decimals),
					types.FormatAmount(s.PendingReward, decimals),
					stakeStatusCell(s),
					unlockCell(s),
				})
			}
			fmt.Println(RenderTable(
				[]string{"#", "Amount " + symbol, "Pending " + symbol, "Status", "Unlocks"},
				rows,
			))

			if resp.Provisional {
				fmt.Println(Hint("Includes an unconfirmed provisional adjustment"))
			}
			return nil
		},
	}
}

func stakeStatusCell(s *types.Stake) string {
	if !isTTY() {
		return string(s.Status)
	}
	return StatusBadge(string(s.Status))
}

func unlockCell(s *types.Stake) string {
	switch s.Status {
	case types.StakeStatusUnstaked:
		return "-"
	case types.StakeStatusCompleted:
		return "unlocked"
	default:
		return s.UnlockTime().UTC().Format(time.RFC3339)
	}
}

// tokenDisplay returns the configured decimals and symbol, falling
// back to the USDT defaults when no config is readable.
func tokenDisplay() (int, string) {
	if cfg := loadConfigQuiet(); cfg != nil {
		return cfg.Staking.TokenDecimals, cfg.Staking.TokenSymbol
	}
	return 6, "USDT"
}
