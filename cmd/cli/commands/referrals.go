package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewReferralsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "referrals",
		Short: "List referrals credited to the tracked account",
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

			var resp *ReferralsResponse
			if err := WithSpinner("Fetching referrals", func() error {
				resp, err = dc.Referrals(ctx, status.Account)
				return err
			}); err != nil {
				return err
			}

			if len(resp.Referrals) == 0 {
				Info("No referrals recorded.")
				fmt.Println(Hint("Share your address as --referrer when others stake"))
				return nil
			}

			rows := make([][]string, 0, len(resp.Referrals))
			for _, r := range resp.Referrals {
				rows = append(rows, []string{
					FormatAddress(r.Referee.Hex()),
					fmt.Sprintf("%d", r.BlockNumber),
					r.Timestamp.UTC().Format(time.RFC3339),
				})
			}
			fmt.Println(RenderTable([]string{"Referee", "Block", "When"}, rows))
			return nil
		},
	}
}
