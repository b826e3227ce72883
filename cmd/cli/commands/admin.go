package commands

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"

	"github.com/stakewatch/stakewatch/internal/chain"
	"github.com/stakewatch/stakewatch/pkg/types"
)

// NewAdminCmd creates the admin command group
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Privileged contract operations",
		Long: `Direct-signed admin transactions. Every action re-checks the
contract's live admin() address against the connected wallet and is
rejected locally when they differ; unlike staking actions these pay
their own gas.

  stakewatch admin pause
  stakewatch admin unpause
  stakewatch admin deposit <amount>     # fund the reward pool
  stakewatch admin withdraw <amount>    # withdraw excess funds
  stakewatch admin drain <address>      # emergency: withdraw everything`,
	}

	cmd.AddCommand(newAdminPauseCmd())
	cmd.AddCommand(newAdminUnpauseCmd())
	cmd.AddCommand(newAdminDepositCmd())
	cmd.AddCommand(newAdminWithdrawCmd())
	cmd.AddCommand(newAdminDrainCmd())

	return cmd
}

func newAdminPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the staking contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminAction(cmd.Context(), "Pausing contract", func(ctx context.Context, ac *chain.AdminClient) (*ethtypes.Transaction, error) {
				return ac.Pause(ctx)
			})
		},
	}
}

func newAdminUnpauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpause",
		Short: "Unpause the staking contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminAction(cmd.Context(), "Unpausing contract", func(ctx context.Context, ac *chain.AdminClient) (*ethtypes.Transaction, error) {
				return ac.Unpause(ctx)
			})
		},
	}
}

func newAdminDepositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Deposit tokens into the reward pool",
		Long:  "Approve and transfer tokens into the reward pool. The amount is in whole tokens.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseConfiguredAmount(args[0])
			if err != nil {
				return err
			}
			return runAdminAction(cmd.Context(), "Depositing into reward pool", func(ctx context.Context, ac *chain.AdminClient) (*ethtypes.Transaction, error) {
				return ac.DepositRewardPool(ctx, amount)
			})
		},
	}
}

func newAdminWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Withdraw excess funds from the reward pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseConfiguredAmount(args[0])
			if err != nil {
				return err
			}
			return runAdminAction(cmd.Context(), "Withdrawing excess funds", func(ctx context.Context, ac *chain.AdminClient) (*ethtypes.Transaction, error) {
				return ac.WithdrawExcessFunds(ctx, amount)
			})
		},
	}
}

func newAdminDrainCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drain <address>",
		Short: "Emergency: withdraw all contract funds to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("malformed address: %s", args[0])
			}
			to := common.HexToAddress(args[0])

			if !yes {
				Warning("This withdraws ALL contract funds, including active stakes.")
				fmt.Println(Hint("Re-run with --yes to confirm: stakewatch admin drain " + to.Hex() + " --yes"))
				return nil
			}

			return runAdminAction(cmd.Context(), "Draining contract funds", func(ctx context.Context, ac *chain.AdminClient) (*ethtypes.Transaction, error) {
				return ac.WithdrawAllFundsTo(ctx, to)
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the emergency withdrawal")

	return cmd
}

// runAdminAction opens a session, runs one privileged action, and
// waits for the transaction to confirm.
func runAdminAction(ctx context.Context, msg string, fn func(context.Context, *chain.AdminClient) (*ethtypes.Transaction, error)) error {
	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	ac := chain.NewAdminClient(sess.staking, sess.token, sess.wallet.Address())

	var tx *ethtypes.Transaction
	if err := WithSpinner(msg, func() error {
		tx, err = fn(ctx, ac)
		return err
	}); err != nil {
		if errors.Is(err, chain.ErrNotAdmin) {
			Error(fmt.Sprintf("%s is not the contract admin", sess.wallet.Address().Hex()))
		}
		return err
	}

	if tx == nil {
		Success("Action applied")
		return nil
	}

	fmt.Println(KeyValue("Tx Hash", tx.Hash().Hex()))
	if err := WithSpinner("Waiting for confirmation", func() error {
		_, err := sess.client.WaitForTransaction(ctx, tx)
		return err
	}); err != nil {
		return err
	}

	Success("Transaction confirmed")
	requestDaemonRefresh(ctx)
	return nil
}

// parseConfiguredAmount parses a whole-token amount using the
// configured token decimals.
func parseConfiguredAmount(s string) (*big.Int, error) {
	decimals, _ := tokenDisplay()
	return types.ParseAmount(s, decimals)
}
