package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/stakewatch/stakewatch/internal/logging"
)

// ErrNotAdmin is returned when the connected address does not match
// the contract's on-chain admin.
var ErrNotAdmin = errors.New("connected address is not the contract admin")

// AdminClient performs privileged, direct-signed contract actions.
// Authorization is a case-insensitive compare against a live admin()
// read, repeated immediately before every action because the admin
// address or the connected wallet can change between check and call.
type AdminClient struct {
	staking *StakingContract
	token   *TokenContract
	caller  common.Address

	mockMu      sync.Mutex
	mockActions []string // mock-mode action log for tests
}

// NewAdminClient creates an admin client acting as caller
func NewAdminClient(staking *StakingContract, token *TokenContract, caller common.Address) *AdminClient {
	return &AdminClient{staking: staking, token: token, caller: caller}
}

// IsAdmin reports whether the caller currently matches the on-chain
// admin. Never cached past the read itself.
func (ac *AdminClient) IsAdmin(ctx context.Context) (bool, error) {
	admin, err := ac.staking.Admin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read admin address: %w", err)
	}
	return strings.EqualFold(admin.Hex(), ac.caller.Hex()), nil
}

// requireAdmin re-checks authorization and rejects locally before any
// transaction is constructed.
func (ac *AdminClient) requireAdmin(ctx context.Context) error {
	ok, err := ac.IsAdmin(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAdmin
	}
	return nil
}

// Pause pauses the staking contract
func (ac *AdminClient) Pause(ctx context.Context) (*ethtypes.Transaction, error) {
	return ac.transact(ctx, "pause")
}

// Unpause unpauses the staking contract
func (ac *AdminClient) Unpause(ctx context.Context) (*ethtypes.Transaction, error) {
	return ac.transact(ctx, "unpause")
}

// DepositRewardPool approves and deposits tokens into the reward pool
func (ac *AdminClient) DepositRewardPool(ctx context.Context, amount *big.Int) (*ethtypes.Transaction, error) {
	if err := ac.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if ac.token != nil {
		if _, err := ac.token.Approve(ctx, ac.staking.Address(), amount); err != nil {
			return nil, fmt.Errorf("failed to approve deposit: %w", err)
		}
	}
	return ac.transactChecked(ctx, "depositRewardPool", amount)
}

// WithdrawExcessFunds withdraws excess funds from the reward pool
func (ac *AdminClient) WithdrawExcessFunds(ctx context.Context, amount *big.Int) (*ethtypes.Transaction, error) {
	return ac.transact(ctx, "withdrawExcessFunds", amount)
}

// WithdrawAllFundsTo performs the emergency withdraw of all contract
// funds to the given address.
func (ac *AdminClient) WithdrawAllFundsTo(ctx context.Context, to common.Address) (*ethtypes.Transaction, error) {
	return ac.transact(ctx, "withdrawAllFundsTo", to)
}

func (ac *AdminClient) transact(ctx context.Context, method string, args ...interface{}) (*ethtypes.Transaction, error) {
	if err := ac.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return ac.transactChecked(ctx, method, args...)
}

// transactChecked submits after authorization has already been
// verified in this call chain.
func (ac *AdminClient) transactChecked(ctx context.Context, method string, args ...interface{}) (*ethtypes.Transaction, error) {
	if ac.staking.mockMode {
		ac.mockMu.Lock()
		ac.mockActions = append(ac.mockActions, method)
		ac.mockMu.Unlock()
		ac.applyMockAction(method, args...)
		logging.Info("mock admin action", logging.Action(method), logging.Address(ac.caller.Hex()))
		return nil, nil
	}

	auth, err := ac.staking.client.GetTransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction options: %w", err)
	}

	tx, err := ac.staking.contract.Transact(auth, method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	logging.Audit(logging.AuditEvent{
		Operation: "admin_" + method,
		Actor:     ac.caller.Hex(),
		Target:    ac.staking.Address().Hex(),
		Result:    "submitted",
		Details:   tx.Hash().Hex(),
	})
	return tx, nil
}

func (ac *AdminClient) applyMockAction(method string, args ...interface{}) {
	sc := ac.staking
	sc.mockMu.Lock()
	defer sc.mockMu.Unlock()

	switch method {
	case "pause":
		sc.mockPaused = true
	case "unpause":
		sc.mockPaused = false
	case "depositRewardPool":
		if len(args) == 1 {
			if amt, ok := args[0].(*big.Int); ok {
				sc.mockPool = new(big.Int).Add(sc.mockPool, amt)
			}
		}
	case "withdrawExcessFunds":
		if len(args) == 1 {
			if amt, ok := args[0].(*big.Int); ok {
				sc.mockPool = new(big.Int).Sub(sc.mockPool, amt)
			}
		}
	case "withdrawAllFundsTo":
		sc.mockPool = big.NewInt(0)
	}
}

// MockActions returns the mock-mode action log
func (ac *AdminClient) MockActions() []string {
	ac.mockMu.Lock()
	defer ac.mockMu.Unlock()
	out := make([]string, len(ac.mockActions))
	copy(out, ac.mockActions)
	return out
}
