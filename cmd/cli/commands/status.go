package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and contract status",
		Long:  "Display daemon liveness, the tracked account, and the pool-wide contract summary.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dc := NewDaemonClient(daemonEndpoint())

			var status *StatusResponse
			if err := WithSpinner("Fetching daemon status", func() error {
				var err error
				status, err = dc.Status(ctx)
				return err
			}); err != nil {
				Error("Daemon is not running or not reachable.")
				fmt.Println(Hint("Start it with: stakewatchd --config " + configPathForDisplay()))
				return err
			}

			contractState := "ok"
			if status.Paused {
				contractState = "paused"
			}

			fields := [][2]string{
				{"Daemon", StatusBadge(status.Status)},
				{"Contract", StatusBadge(contractState)},
			}
			if status.Account != "" {
				fields = append(fields, [2]string{"Account", status.Account})
			}
			if status.Status == "ok" {
				fields = append(fields,
					[2]string{"Head Block", fmt.Sprintf("%d", status.HeadBlock)},
					[2]string{"Data Age", fmt.Sprintf("%ds", status.SnapshotAgeSecs)},
				)
			}
			fmt.Println(StatusBox(Logo()+" Status", fields))

			// Summary is only available once the first refresh lands.
			summary, err := dc.Summary(ctx)
			if err != nil {
				fmt.Println(Hint("Pool summary pending initial refresh"))
				return nil
			}

			fmt.Println(SectionHeader("Pool"))
			fmt.Println(KeyValue("Reward Pool", summary.RewardPoolFormatted+" "+summary.TokenSymbol))
			fmt.Println(KeyValue("Total Staked", summary.TotalStakedFormatted+" "+summary.TokenSymbol))
			fmt.Println(KeyValue("Admin", summary.Admin))
			if summary.Provisional {
				fmt.Println(Hint("Figures include an unconfirmed provisional adjustment"))
			}

			return nil
		},
	}
}

func configPathForDisplay() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return "~/.stakewatch/config.yaml"
}
