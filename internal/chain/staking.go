package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/stakewatch/stakewatch/internal/util"
	"github.com/stakewatch/stakewatch/pkg/types"
)

// StakingContract provides typed read access to the staking contract.
// Every read goes through the uniform retry policy; a zero, false, or
// empty result is a valid success, never an error.
type StakingContract struct {
	client       *Client
	contract     *bind.BoundContract
	contractABI  abi.ABI
	contractAddr common.Address
	retryConfig  *util.RetryConfig
	mockMode     bool

	// Mock state
	mockMu       sync.RWMutex
	mockPaused   bool
	mockAdmin    common.Address
	mockPool     *big.Int
	mockTotal    *big.Int
	mockStakes   map[common.Address][]*types.Stake
	mockBonus    map[common.Address]*big.Int
	mockNonces   map[common.Address]uint64
	mockRewards  map[string]*big.Int // "addr:index" -> pending reward
	nonceFetches int                 // instrumentation for tests
}

// NewStakingContract creates a staking contract client bound to a
// connected RPC client.
func NewStakingContract(client *Client, contractAddr common.Address) (*StakingContract, error) {
	if client == nil {
		return nil, fmt.Errorf("rpc client is required (use NewMockStakingContract for testing)")
	}
	if !client.IsConnected() {
		return nil, fmt.Errorf("rpc client not connected")
	}

	parsedABI, err := abi.JSON(strings.NewReader(StakingABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse staking ABI: %w", err)
	}

	eth := client.Client()
	return &StakingContract{
		client:       client,
		contract:     bind.NewBoundContract(contractAddr, parsedABI, eth, eth, eth),
		contractABI:  parsedABI,
		contractAddr: contractAddr,
		retryConfig:  util.DefaultRetryConfig(),
	}, nil
}

// NewMockStakingContract creates a mock staking contract for testing
func NewMockStakingContract() *StakingContract {
	parsedABI, _ := abi.JSON(strings.NewReader(StakingABI))
	return &StakingContract{
		mockMode:    true,
		contractABI: parsedABI,
		mockPool:    big.NewInt(0),
		mockTotal:   big.NewInt(0),
		mockStakes:  make(map[common.Address][]*types.Stake),
		mockBonus:   make(map[common.Address]*big.Int),
		mockNonces:  make(map[common.Address]uint64),
		mockRewards: make(map[string]*big.Int),
	}
}

// IsMockMode returns whether running in mock mode
func (sc *StakingContract) IsMockMode() bool {
	return sc.mockMode
}

// Address returns the staking contract address
func (sc *StakingContract) Address() common.Address {
	return sc.contractAddr
}

// ABI returns the parsed contract ABI, used by the event indexer for
// topic signatures.
func (sc *StakingContract) ABI() abi.ABI {
	return sc.contractABI
}

// Paused returns the contract pause flag
func (sc *StakingContract) Paused(ctx context.Context) (bool, error) {
	if sc.mockMode {
		sc.mockMu.RLock()
		defer sc.mockMu.RUnlock()
		return sc.mockPaused, nil
	}

	var out bool
	err := sc.callRetry(ctx, "paused", func(result []interface{}) {
		if len(result) > 0 {
			out, _ = result[0].(bool)
		}
	})
	return out, err
}

// Admin returns the on-chain admin address
func (sc *StakingContract) Admin(ctx context.Context) (common.Address, error) {
	if sc.mockMode {
		sc.mockMu.RLock()
		defer sc.mockMu.RUnlock()
		return sc.mockAdmin, nil
	}

	var out common.Address
	err := sc.callRetry(ctx, "admin", func(result []interface{}) {
		if len(result) > 0 {
			out, _ = result[0].(common.Address)
		}
	})
	return out, err
}

// RewardPoolBalance returns the current reward pool balance
func (sc *StakingContract) RewardPoolBalance(ctx context.Context) (*big.Int, error) {
	if sc.mockMode {
		sc.mockMu.RLock()
		defer sc.mockMu.RUnlock()
		return new(big.Int).Set(sc.mockPool), nil
	}
	return sc.uintRead(ctx, "rewardPoolBalance")
}

// TotalStaked returns the total staked across all users
func (sc *StakingContract) TotalStaked(ctx context.Context) (*big.Int, error) {
	if sc.mockMode {
		sc.mockMu.RLock()
		defer sc.mockMu.RUnlock()
		return new(big.Int).Set(sc.mockTotal), nil
	}
	return sc.uintRead(ctx, "totalStaked")
}

// StakeCount returns the number of stake records for a user
func (sc *StakingContract) StakeCount(ctx context.Context, user common.Address) (uint64, error) {
	if sc.mockMode {
		sc.mockMu.RLock()
		defer sc.mockMu.RUnlock()
		return uint64(len(sc.mockStakes[user])), nil
	}

	count, err := sc.uintRead(ctx, "getUserStakeCount", user)
	if err != nil {
		return 0, err
	}
	return count.Uint64(), nil
}

// ReferralBonus returns the claimable referral bonus for a user
func (sc *StakingContract) ReferralBonus(ctx context.Context, user common.Address) (*big.Int, error) {
	if sc.mockMode {
		sc.mockMu.RLock()
		defer sc.mockMu.RUnlock()
		if b, ok := sc.mockBonus[user]; ok {
			return new(big.Int).Set(b), nil
		}
		return big.NewInt(0), nil
	}
	return sc.uintRead(ctx, "getUserReferralBonus", user)
}

// GetStake returns one stake record snapshot with its derived status.
func (sc *StakingContract) GetStake(ctx context.Context, user common.Address, index uint64) (*types.Stake, error) {
	if sc.mockMode {
		sc.mockMu.RLock()
		defer sc.mockMu.RUnlock()
		stakes := sc.mockStakes[user]
		if index >= uint64(len(stakes)) {
			return nil, fmt.Errorf("stake index %d out of range", index)
		}
		s := *stakes[index]
		s.Status = types.DeriveStakeStatus(s.Amount, s.StartTimestamp, time.Now())
		return &s, nil
	}

	var result []interface{}
	_, retryRes := util.RetryWithValue(ctx, sc.retryConfig, func() (struct{}, error) {
		result = result[:0]
		return struct{}{}, sc.contract.Call(&bind.CallOpts{Context: ctx}, &result, "stakes", user, new(big.Int).SetUint64(index))
	})
	if retryRes.LastError != nil {
		return nil, fmt.Errorf("failed to read stake %d: %w", index, retryRes.LastError)
	}
	if len(result) < 4 {
		return nil, fmt.Errorf("malformed stake record for index %d", index)
	}

	amount := asBig(result[0])
	start := asBig(result[1])
	lastUpdate := asBig(result[2])
	accrued := asBig(result[3])

	stake := &types.Stake{
		Index:            index,
		Amount:           amount,
		StartTimestamp:   time.Unix(start.Int64(), 0),
		LastRewardUpdate: time.Unix(lastUpdate.Int64(), 0),
		AccruedReward:    accrued,
	}
	stake.Status = types.DeriveStakeStatus(stake.Amount, stake.StartTimestamp, time.Now())
	return stake, nil
}

// CalculateReward returns the contract-computed pending reward for a
// stake. The accrual formula lives in the contract; it is never
// replicated locally.
func (sc *StakingContract) CalculateReward(ctx context.Context, user common.Address, index uint64) (*big.Int, error) {
	if sc.mockMode {
		sc.mockMu.RLock()
		defer sc.mockMu.RUnlock()
		if r, ok := sc.mockRewards[rewardKey(user, index)]; ok {
			return new(big.Int).Set(r), nil
		}
		return big.NewInt(0), nil
	}
	return sc.uintRead(ctx, "calculateReward", user, new(big.Int).SetUint64(index))
}

// TotalRewards returns the lifetime rewards for a stake
func (sc *StakingContract) TotalRewards(ctx context.Context, user common.Address, index uint64) (*big.Int, error) {
	if sc.mockMode {
		return sc.CalculateReward(ctx, user, index)
	}
	return sc.uintRead(ctx, "getUserTotalRewards", user, new(big.Int).SetUint64(index))
}

// Nonce returns the user's meta-transaction nonce. Fetched fresh
// immediately before every signing, never cached.
func (sc *StakingContract) Nonce(ctx context.Context, user common.Address) (*big.Int, error) {
	if sc.mockMode {
		sc.mockMu.Lock()
		sc.nonceFetches++
		n := sc.mockNonces[user]
		sc.mockMu.Unlock()
		return new(big.Int).SetUint64(n), nil
	}
	return sc.uintRead(ctx, "nonces", user)
}

// uintRead performs a retried single-output uint256 read.
func (sc *StakingContract) uintRead(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	var out *big.Int
	err := sc.callRetry(ctx, method, func(result []interface{}) {
		if len(result) > 0 {
			out = asBig(result[0])
		}
	}, args...)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = big.NewInt(0)
	}
	return out, nil
}

func (sc *StakingContract) callRetry(ctx context.Context, method string, extract func([]interface{}), args ...interface{}) error {
	_, retryRes := util.RetryWithValue(ctx, sc.retryConfig, func() (struct{}, error) {
		var result []interface{}
		if err := sc.contract.Call(&bind.CallOpts{Context: ctx}, &result, method, args...); err != nil {
			return struct{}{}, err
		}
		extract(result)
		return struct{}{}, nil
	})
	if retryRes.LastError != nil {
		return fmt.Errorf("failed to call %s: %w", method, retryRes.LastError)
	}
	return nil
}

func asBig(v interface{}) *big.Int {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b
	}
	return big.NewInt(0)
}

func rewardKey(user common.Address, index uint64) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(user.Hex()), index)
}

// Mock mutators, used by tests to shape contract state.

// MockSetAdmin sets the mock admin address
func (sc *StakingContract) MockSetAdmin(addr common.Address) {
	sc.mockMu.Lock()
	defer sc.mockMu.Unlock()
	sc.mockAdmin = addr
}

// MockSetPaused sets the mock pause flag
func (sc *StakingContract) MockSetPaused(paused bool) {
	sc.mockMu.Lock()
	defer sc.mockMu.Unlock()
	sc.mockPaused = paused
}

// MockSetRewardPool sets the mock reward pool balance
func (sc *StakingContract) MockSetRewardPool(balance *big.Int) {
	sc.mockMu.Lock()
	defer sc.mockMu.Unlock()
	sc.mockPool = new(big.Int).Set(balance)
}

// MockAddStake appends a stake record for a user and bumps the
// mock totals, mirroring what a confirmed stake action does on chain.
func (sc *StakingContract) MockAddStake(user common.Address, amount *big.Int, start time.Time) {
	sc.mockMu.Lock()
	defer sc.mockMu.Unlock()

	sc.mockStakes[user] = append(sc.mockStakes[user], &types.Stake{
		Index:          uint64(len(sc.mockStakes[user])),
		Amount:         new(big.Int).Set(amount),
		StartTimestamp: start,
		AccruedReward:  big.NewInt(0),
	})
	sc.mockTotal = new(big.Int).Add(sc.mockTotal, amount)
	sc.mockNonces[user]++
}

// MockSetReward sets the pending reward for a stake
func (sc *StakingContract) MockSetReward(user common.Address, index uint64, reward *big.Int) {
	sc.mockMu.Lock()
	defer sc.mockMu.Unlock()
	sc.mockRewards[rewardKey(user, index)] = new(big.Int).Set(reward)
}

// MockSetReferralBonus sets the claimable referral bonus for a user
func (sc *StakingContract) MockSetReferralBonus(user common.Address, bonus *big.Int) {
	sc.mockMu.Lock()
	defer sc.mockMu.Unlock()
	sc.mockBonus[user] = new(big.Int).Set(bonus)
}

// MockNonceFetches returns how many times Nonce was called
func (sc *StakingContract) MockNonceFetches() int {
	sc.mockMu.RLock()
	defer sc.mockMu.RUnlock()
	return sc.nonceFetches
}
