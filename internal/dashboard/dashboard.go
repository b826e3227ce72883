// Package dashboard orchestrates data refresh for the staking view:
// contract reads, event scans, and cache fallback composed into one
// immutable snapshot, refreshed on an interval, after confirmed user
// actions, and on keystore account changes.
package dashboard

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakewatch/stakewatch/internal/cache"
	"github.com/stakewatch/stakewatch/internal/logging"
	"github.com/stakewatch/stakewatch/internal/util"
	"github.com/stakewatch/stakewatch/pkg/types"
)

// ChainReader is the contract read surface the dashboard consumes.
// Satisfied by *chain.StakingContract.
type ChainReader interface {
	Paused(ctx context.Context) (bool, error)
	Admin(ctx context.Context) (common.Address, error)
	RewardPoolBalance(ctx context.Context) (*big.Int, error)
	TotalStaked(ctx context.Context) (*big.Int, error)
	StakeCount(ctx context.Context, user common.Address) (uint64, error)
	GetStake(ctx context.Context, user common.Address, index uint64) (*types.Stake, error)
	CalculateReward(ctx context.Context, user common.Address, index uint64) (*big.Int, error)
	ReferralBonus(ctx context.Context, user common.Address) (*big.Int, error)
}

// BalanceReader reads the stable token balance. Satisfied by
// *chain.TokenContract.
type BalanceReader interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// EventReader is the indexed event surface. Satisfied by
// *indexer.Indexer.
type EventReader interface {
	Referrals(ctx context.Context, referrer common.Address, fromBlock, toBlock uint64) ([]*types.Referral, error)
	Withdrawals(ctx context.Context, user common.Address, fromBlock, toBlock uint64) ([]*types.Withdrawal, error)
	DailyStakes(ctx context.Context, fromBlock, toBlock uint64, recent bool) ([]*types.DailyStake, error)
	PoolHistory(ctx context.Context, currentBalance *big.Int, fromBlock, toBlock uint64) ([]*types.PoolPoint, error)
}

// HeadReader resolves the current chain head. Satisfied by
// *chain.Client.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Snapshot is one immutable view of the dashboard data. Slices and
// big.Int values are never mutated after publication.
type Snapshot struct {
	Paused            bool                `json:"paused"`
	Admin             common.Address      `json:"admin"`
	RewardPoolBalance *big.Int            `json:"rewardPoolBalance"`
	TotalStaked       *big.Int            `json:"totalStaked"`
	Account           common.Address      `json:"account"`
	TokenBalance      *big.Int            `json:"tokenBalance"`
	Stakes            []*types.Stake      `json:"stakes"`
	ReferralBonus     *big.Int            `json:"referralBonus"`
	Referrals         []*types.Referral   `json:"referrals"`
	Withdrawals       []*types.Withdrawal `json:"withdrawals"`
	DailyStakes       []*types.DailyStake `json:"dailyStakes"`
	PoolHistory       []*types.PoolPoint  `json:"poolHistory"`
	HeadBlock         uint64              `json:"headBlock"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	Provisional       bool                `json:"provisional"`
}

func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Stakes = append([]*types.Stake(nil), s.Stakes...)
	out.Referrals = append([]*types.Referral(nil), s.Referrals...)
	out.Withdrawals = append([]*types.Withdrawal(nil), s.Withdrawals...)
	out.DailyStakes = append([]*types.DailyStake(nil), s.DailyStakes...)
	out.PoolHistory = append([]*types.PoolPoint(nil), s.PoolHistory...)
	return &out
}

// Config holds dashboard refresh parameters
type Config struct {
	RefreshInterval time.Duration
	DeploymentBlock uint64
}

// DefaultConfig returns the default refresh parameters
func DefaultConfig() *Config {
	return &Config{
		RefreshInterval: 30 * time.Second,
	}
}

// Dashboard owns the refresh loop and the published snapshot.
type Dashboard struct {
	staking ChainReader
	token   BalanceReader
	events  EventReader
	head    HeadReader
	store   *cache.Cache
	config  *Config

	mu       sync.RWMutex
	snapshot *Snapshot
	account  common.Address

	stateMu    sync.Mutex
	refreshing bool
	dirty      bool

	kick           chan struct{}
	onRefresh      func(*Snapshot)
	resolveAccount func() (common.Address, error)
}

// New assembles a dashboard. The cache may be nil, in which case
// event scans have no fallback.
func New(staking ChainReader, token BalanceReader, events EventReader, head HeadReader, store *cache.Cache, config *Config) *Dashboard {
	if config == nil {
		config = DefaultConfig()
	}
	return &Dashboard{
		staking: staking,
		token:   token,
		events:  events,
		head:    head,
		store:   store,
		config:  config,
		kick:    make(chan struct{}, 1),
	}
}

// SetRefreshListener registers a callback invoked with each newly
// published snapshot.
func (d *Dashboard) SetRefreshListener(fn func(*Snapshot)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onRefresh = fn
}

// SetAccountResolver registers a callback that re-reads the keystore
// and returns the current account. The keystore watcher invokes it
// before each refresh it triggers, so a wallet created or replaced
// after startup becomes the tracked account.
func (d *Dashboard) SetAccountResolver(fn func() (common.Address, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resolveAccount = fn
}

// reloadAccount re-resolves the tracked account and requests a
// refresh. Without a resolver it is a plain refresh trigger.
func (d *Dashboard) reloadAccount() {
	d.mu.RLock()
	resolve := d.resolveAccount
	d.mu.RUnlock()

	if resolve != nil {
		account, err := resolve()
		if err != nil {
			logging.Warn("failed to reload account after keystore change", logging.Err(err))
		} else {
			d.SetAccount(account)
		}
	}
	d.RequestRefresh()
}

// SetAccount switches the tracked account and triggers a refresh.
func (d *Dashboard) SetAccount(account common.Address) {
	d.mu.Lock()
	changed := d.account != account
	d.account = account
	d.mu.Unlock()
	if changed {
		logging.Info("tracked account changed", logging.Address(account.Hex()))
		d.RequestRefresh()
	}
}

// Account returns the tracked account
func (d *Dashboard) Account() common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.account
}

// Snapshot returns a copy of the latest published snapshot, or nil if
// no refresh has completed yet.
func (d *Dashboard) Snapshot() *Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot.clone()
}

// RequestRefresh triggers a refresh cycle. A request arriving while a
// cycle is in flight marks it dirty; the cycle reruns once after it
// finishes, so any number of overlapping triggers collapse into one
// follow-up pass.
func (d *Dashboard) RequestRefresh() {
	d.stateMu.Lock()
	if d.refreshing {
		d.dirty = true
		d.stateMu.Unlock()
		return
	}
	d.stateMu.Unlock()

	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// ApplyProvisional overlays an optimistic adjustment on the current
// snapshot, for example subtracting a just-confirmed withdrawal before
// the authoritative refetch lands. The overlay is flagged provisional
// and is replaced wholesale by the next refresh.
func (d *Dashboard) ApplyProvisional(mutate func(*Snapshot)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.snapshot == nil {
		return
	}
	overlay := d.snapshot.clone()
	mutate(overlay)
	overlay.Provisional = true
	d.snapshot = overlay
}

// Run drives the refresh loop until the context is canceled. The
// interval timer and RequestRefresh share one path, so triggers
// coalesce identically regardless of origin.
func (d *Dashboard) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	// Initial fill so the API has data as soon as possible.
	if err := d.Refresh(ctx); err != nil {
		logging.Warn("initial dashboard refresh failed", logging.Err(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
		case <-ticker.C:
		}

		if err := d.Refresh(ctx); err != nil {
			logging.Warn("dashboard refresh failed", logging.Err(err))
		}
	}
}

// Refresh runs refresh cycles until no trigger arrived mid-cycle.
func (d *Dashboard) Refresh(ctx context.Context) error {
	d.stateMu.Lock()
	if d.refreshing {
		d.dirty = true
		d.stateMu.Unlock()
		return nil
	}
	d.refreshing = true
	d.stateMu.Unlock()

	defer func() {
		d.stateMu.Lock()
		d.refreshing = false
		d.stateMu.Unlock()
	}()

	for {
		if err := d.refreshOnce(ctx); err != nil {
			return err
		}

		d.stateMu.Lock()
		rerun := d.dirty
		d.dirty = false
		d.stateMu.Unlock()
		if !rerun {
			return nil
		}
	}
}

func (d *Dashboard) refreshOnce(ctx context.Context) error {
	start := time.Now()
	account := d.Account()

	snap := &Snapshot{Account: account, UpdatedAt: time.Now()}

	paused, err := d.staking.Paused(ctx)
	if err != nil {
		return fmt.Errorf("failed to read paused state: %w", err)
	}
	snap.Paused = paused

	admin, err := d.staking.Admin(ctx)
	if err != nil {
		return fmt.Errorf("failed to read admin: %w", err)
	}
	snap.Admin = admin

	pool, err := d.staking.RewardPoolBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to read reward pool balance: %w", err)
	}
	snap.RewardPoolBalance = pool

	total, err := d.staking.TotalStaked(ctx)
	if err != nil {
		return fmt.Errorf("failed to read total staked: %w", err)
	}
	snap.TotalStaked = total

	headBlock, err := d.head.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read head block: %w", err)
	}
	snap.HeadBlock = headBlock

	if account != (common.Address{}) {
		if err := d.fillAccount(ctx, snap, account); err != nil {
			return err
		}
	}

	d.fillEvents(ctx, snap, account, headBlock)

	d.mu.Lock()
	d.snapshot = snap
	fn := d.onRefresh
	d.mu.Unlock()

	logging.Debug("dashboard refreshed",
		logging.Address(account.Hex()),
		"head_block", headBlock,
		"duration", time.Since(start).String())

	if fn != nil {
		published := snap.clone()
		util.SafeGoWithName("dashboard-refresh-listener", func() { fn(published) })
	}
	return nil
}

func (d *Dashboard) fillAccount(ctx context.Context, snap *Snapshot, account common.Address) error {
	balance, err := d.token.BalanceOf(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to read token balance: %w", err)
	}
	snap.TokenBalance = balance

	count, err := d.staking.StakeCount(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to read stake count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		stake, err := d.staking.GetStake(ctx, account, i)
		if err != nil {
			return fmt.Errorf("failed to read stake %d: %w", i, err)
		}
		reward, err := d.staking.CalculateReward(ctx, account, i)
		if err != nil {
			return fmt.Errorf("failed to calculate reward for stake %d: %w", i, err)
		}
		stake.PendingReward = reward
		snap.Stakes = append(snap.Stakes, stake)
	}

	bonus, err := d.staking.ReferralBonus(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to read referral bonus: %w", err)
	}
	snap.ReferralBonus = bonus
	return nil
}

// fillEvents populates the event-derived sections. Scan failures fall
// back to the last cached value and never fail the whole refresh; the
// live contract reads above are the authoritative part.
func (d *Dashboard) fillEvents(ctx context.Context, snap *Snapshot, account common.Address, headBlock uint64) {
	from := d.config.DeploymentBlock

	if account != (common.Address{}) {
		snap.Referrals = fetchOrCached(ctx, d.store, "referrals:"+account.Hex(), snap.Referrals,
			func() ([]*types.Referral, error) {
				return d.events.Referrals(ctx, account, from, headBlock)
			})
		snap.Withdrawals = fetchOrCached(ctx, d.store, "withdrawals:"+account.Hex(), snap.Withdrawals,
			func() ([]*types.Withdrawal, error) {
				return d.events.Withdrawals(ctx, account, from, headBlock)
			})
	}

	snap.DailyStakes = fetchOrCached(ctx, d.store, "daily_stakes", snap.DailyStakes,
		func() ([]*types.DailyStake, error) {
			return d.events.DailyStakes(ctx, from, headBlock, true)
		})
	snap.PoolHistory = fetchOrCached(ctx, d.store, "pool_history", snap.PoolHistory,
		func() ([]*types.PoolPoint, error) {
			return d.events.PoolHistory(ctx, snap.RewardPoolBalance, from, headBlock)
		})
}

// fetchOrCached fetches live data, caching on success and falling back
// to the cached value on failure. An empty live result is legitimate
// and is returned as-is; the cache itself refuses to store it over
// non-empty data.
func fetchOrCached[T any](_ context.Context, store *cache.Cache, key string, fallback []T, fetch func() ([]T, error)) []T {
	data, err := fetch()
	if err == nil {
		if store != nil {
			if err := store.Set(key, data); err != nil {
				logging.Warn("failed to cache scan result", "key", key, logging.Err(err))
			}
		}
		return data
	}

	logging.Warn("event scan failed, using cached data", "key", key, logging.Err(err))
	if store != nil {
		var cached []T
		if ok, cerr := store.Get(key, &cached); cerr == nil && ok {
			return cached
		}
	}
	return fallback
}
