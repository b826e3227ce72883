package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stakewatch/stakewatch/cmd/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "stakewatch",
	Short: "Stakewatch Stablecoin Staking Dashboard",
	Long:  "A read-layer and gasless transaction client for the stablecoin staking contract",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to config file (default: ~/.stakewatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&commands.APIEndpoint, "api", "", "Daemon API base URL (default: from config)")
}

func main() {
	rootCmd.AddCommand(commands.NewInitCmd())
	rootCmd.AddCommand(commands.NewWalletCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewStakesCmd())
	rootCmd.AddCommand(commands.NewStakeCmd())
	rootCmd.AddCommand(commands.NewUnstakeCmd())
	rootCmd.AddCommand(commands.NewRewardsCmd())
	rootCmd.AddCommand(commands.NewReferralsCmd())
	rootCmd.AddCommand(commands.NewHistoryCmd())
	rootCmd.AddCommand(commands.NewAdminCmd())
	rootCmd.AddCommand(commands.NewCompletionCmd())
	rootCmd.AddCommand(commands.NewManCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
