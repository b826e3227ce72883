package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/stakewatch/stakewatch/internal/util"
)

// TokenContract provides access to the stablecoin ERC-20 contract
type TokenContract struct {
	client       *Client
	contract     *bind.BoundContract
	contractABI  abi.ABI
	contractAddr common.Address
	retryConfig  *util.RetryConfig
	mockMode     bool

	// Mock state
	mockMu         sync.RWMutex
	mockBalances   map[common.Address]*big.Int
	mockAllowances map[common.Address]map[common.Address]*big.Int
}

// NewTokenContract creates a token contract client
func NewTokenContract(client *Client, contractAddr common.Address) (*TokenContract, error) {
	if client == nil || !client.IsConnected() {
		return nil, fmt.Errorf("rpc client not connected (use NewMockTokenContract for testing)")
	}

	parsedABI, err := abi.JSON(strings.NewReader(TokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	eth := client.Client()
	return &TokenContract{
		client:       client,
		contract:     bind.NewBoundContract(contractAddr, parsedABI, eth, eth, eth),
		contractABI:  parsedABI,
		contractAddr: contractAddr,
		retryConfig:  util.DefaultRetryConfig(),
	}, nil
}

// NewMockTokenContract creates a mock token contract for testing
func NewMockTokenContract() *TokenContract {
	return &TokenContract{
		mockMode:       true,
		mockBalances:   make(map[common.Address]*big.Int),
		mockAllowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Address returns the token contract address
func (tc *TokenContract) Address() common.Address {
	return tc.contractAddr
}

// BalanceOf returns the token balance for an address
func (tc *TokenContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	if tc.mockMode {
		tc.mockMu.RLock()
		defer tc.mockMu.RUnlock()
		if b, ok := tc.mockBalances[account]; ok {
			return new(big.Int).Set(b), nil
		}
		return big.NewInt(0), nil
	}

	var out *big.Int
	_, retryRes := util.RetryWithValue(ctx, tc.retryConfig, func() (struct{}, error) {
		var result []interface{}
		if err := tc.contract.Call(&bind.CallOpts{Context: ctx}, &result, "balanceOf", account); err != nil {
			return struct{}{}, err
		}
		if len(result) > 0 {
			out = asBig(result[0])
		}
		return struct{}{}, nil
	})
	if retryRes.LastError != nil {
		return nil, fmt.Errorf("failed to get balance: %w", retryRes.LastError)
	}
	if out == nil {
		out = big.NewInt(0)
	}
	return out, nil
}

// Allowance returns the spend allowance owner has granted to spender
func (tc *TokenContract) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	if tc.mockMode {
		tc.mockMu.RLock()
		defer tc.mockMu.RUnlock()
		if m, ok := tc.mockAllowances[owner]; ok {
			if a, ok := m[spender]; ok {
				return new(big.Int).Set(a), nil
			}
		}
		return big.NewInt(0), nil
	}

	var out *big.Int
	_, retryRes := util.RetryWithValue(ctx, tc.retryConfig, func() (struct{}, error) {
		var result []interface{}
		if err := tc.contract.Call(&bind.CallOpts{Context: ctx}, &result, "allowance", owner, spender); err != nil {
			return struct{}{}, err
		}
		if len(result) > 0 {
			out = asBig(result[0])
		}
		return struct{}{}, nil
	})
	if retryRes.LastError != nil {
		return nil, fmt.Errorf("failed to get allowance: %w", retryRes.LastError)
	}
	if out == nil {
		out = big.NewInt(0)
	}
	return out, nil
}

// Approve grants the spender permission to move the caller's tokens.
// Direct-signed; used before an admin reward-pool deposit.
func (tc *TokenContract) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*ethtypes.Transaction, error) {
	if tc.mockMode {
		tc.mockMu.Lock()
		defer tc.mockMu.Unlock()
		owner := common.Address{}
		if tc.client != nil {
			owner = tc.client.Address()
		}
		if tc.mockAllowances[owner] == nil {
			tc.mockAllowances[owner] = make(map[common.Address]*big.Int)
		}
		tc.mockAllowances[owner][spender] = new(big.Int).Set(amount)
		return nil, nil
	}

	auth, err := tc.client.GetTransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction options: %w", err)
	}

	tx, err := tc.contract.Transact(auth, "approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to approve token spend: %w", err)
	}
	return tx, nil
}

// MockSetBalance sets a mock token balance
func (tc *TokenContract) MockSetBalance(account common.Address, balance *big.Int) {
	tc.mockMu.Lock()
	defer tc.mockMu.Unlock()
	tc.mockBalances[account] = new(big.Int).Set(balance)
}
