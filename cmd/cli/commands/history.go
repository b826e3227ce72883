package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stakewatch/stakewatch/pkg/types"
)

// NewHistoryCmd creates the history command group
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show event-derived history",
		Long: `Views reconstructed from the contract's event stream:

  stakewatch history withdrawals   # reward claims, newest first
  stakewatch history pool          # reward pool balance by day
  stakewatch history daily         # newly staked totals by day`,
	}

	cmd.AddCommand(newHistoryWithdrawalsCmd())
	cmd.AddCommand(newHistoryPoolCmd())
	cmd.AddCommand(newHistoryDailyCmd())

	return cmd
}

func newHistoryWithdrawalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdrawals",
		Short: "List reward withdrawals for the tracked account",
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

			var resp *WithdrawalsResponse
			if err := WithSpinner("Fetching withdrawals", func() error {
				resp, err = dc.Withdrawals(ctx, status.Account)
				return err
			}); err != nil {
				return err
			}

			if len(resp.Withdrawals) == 0 {
				Info("No withdrawals recorded.")
				return nil
			}

			decimals, symbol := tokenDisplay()
			rows := make([][]string, 0, len(resp.Withdrawals))
			for _, w := range resp.Withdrawals {
				rows = append(rows, []string{
					types.FormatAmount(w.Amount, decimals),
					w.Timestamp.UTC().Format(time.RFC3339),
					FormatTxHash(w.TxHash.Hex()),
					fmt.Sprintf("%d", w.BlockNumber),
				})
			}
			fmt.Println(RenderTable([]string{"Amount " + symbol, "When", "Tx", "Block"}, rows))
			return nil
		},
	}
}

func newHistoryPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show the reward pool balance by day",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dc := NewDaemonClient(daemonEndpoint())

			var resp *PoolHistoryResponse
			var err error
			if err = WithSpinner("Fetching pool history", func() error {
				resp, err = dc.PoolHistory(ctx)
				return err
			}); err != nil {
				return err
			}

			if len(resp.History) == 0 {
				Info("No pool history available.")
				return nil
			}

			decimals, symbol := tokenDisplay()
			rows := make([][]string, 0, len(resp.History))
			for _, p := range resp.History {
				rows = append(rows, []string{
					p.Date,
					types.FormatAmount(p.Balance, decimals),
				})
			}
			fmt.Println(RenderTable([]string{"Date", "Balance " + symbol}, rows))
			return nil
		},
	}
}

func newHistoryDailyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Show newly staked totals by day",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dc := NewDaemonClient(daemonEndpoint())

			var summary *SummaryResponse
			var err error
			if err = WithSpinner("Fetching daily stakes", func() error {
				summary, err = dc.Summary(ctx)
				return err
			}); err != nil {
				return err
			}

			if len(summary.DailyStakes) == 0 {
				Info("No stakes in the recent window.")
				return nil
			}

			decimals := 6
			if cfg := loadConfigQuiet(); cfg != nil {
				decimals = cfg.Staking.TokenDecimals
			}
			rows := make([][]string, 0, len(summary.DailyStakes))
			for _, d := range summary.DailyStakes {
				rows = append(rows, []string{
					d.Date,
					types.FormatAmount(d.Amount, decimals),
				})
			}
			fmt.Println(RenderTable([]string{"Date", "Staked " + summary.TokenSymbol}, rows))
			return nil
		},
	}
}
