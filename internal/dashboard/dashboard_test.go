package dashboard

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/goleak"

	"github.com/stakewatch/stakewatch/internal/cache"
	"github.com/stakewatch/stakewatch/internal/chain"
	"github.com/stakewatch/stakewatch/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testAccount = common.HexToAddress("0x2222222222222222222222222222222222222222")

type fakeEvents struct {
	mu          sync.Mutex
	calls       int
	fail        bool
	withdrawals []*types.Withdrawal
	referrals   []*types.Referral
	daily       []*types.DailyStake
	pool        []*types.PoolPoint
}

func (f *fakeEvents) bump() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("scan failed")
	}
	return nil
}

func (f *fakeEvents) Referrals(_ context.Context, _ common.Address, _, _ uint64) ([]*types.Referral, error) {
	if err := f.bump(); err != nil {
		return nil, err
	}
	return f.referrals, nil
}

func (f *fakeEvents) Withdrawals(_ context.Context, _ common.Address, _, _ uint64) ([]*types.Withdrawal, error) {
	if err := f.bump(); err != nil {
		return nil, err
	}
	return f.withdrawals, nil
}

func (f *fakeEvents) DailyStakes(_ context.Context, _, _ uint64, _ bool) ([]*types.DailyStake, error) {
	if err := f.bump(); err != nil {
		return nil, err
	}
	return f.daily, nil
}

func (f *fakeEvents) PoolHistory(_ context.Context, _ *big.Int, _, _ uint64) ([]*types.PoolPoint, error) {
	if err := f.bump(); err != nil {
		return nil, err
	}
	return f.pool, nil
}

type fakeHead struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{} // if set, BlockNumber waits here first
	block uint64
}

func (f *fakeHead) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.block, nil
}

func (f *fakeHead) cycles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestDashboard(t *testing.T) (*Dashboard, *chain.StakingContract, *fakeEvents, *fakeHead) {
	t.Helper()

	staking := chain.NewMockStakingContract()
	staking.MockSetRewardPool(big.NewInt(500_000_000))
	staking.MockAddStake(testAccount, big.NewInt(100_000_000), time.Now())

	token := chain.NewMockTokenContract()
	token.MockSetBalance(testAccount, big.NewInt(42_000_000))

	events := &fakeEvents{
		withdrawals: []*types.Withdrawal{{TxHash: common.HexToHash("0xabc"), LogIndex: 0, Amount: big.NewInt(7)}},
	}
	head := &fakeHead{block: 1000}

	store, err := cache.New(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}

	d := New(staking, token, events, head, store, &Config{
		RefreshInterval: time.Hour, // tests drive refreshes explicitly
		DeploymentBlock: 1,
	})
	d.SetAccount(testAccount)
	return d, staking, events, head
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	d, _, _, _ := newTestDashboard(t)

	if d.Snapshot() != nil {
		t.Fatal("expected nil snapshot before first refresh")
	}

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	snap := d.Snapshot()
	if snap == nil {
		t.Fatal("expected a snapshot after refresh")
	}
	if snap.RewardPoolBalance.Cmp(big.NewInt(500_000_000)) != 0 {
		t.Errorf("pool balance = %s", snap.RewardPoolBalance)
	}
	if snap.TokenBalance.Cmp(big.NewInt(42_000_000)) != 0 {
		t.Errorf("token balance = %s", snap.TokenBalance)
	}
	if len(snap.Stakes) != 1 {
		t.Fatalf("stakes = %d, want 1", len(snap.Stakes))
	}
	if snap.Stakes[0].Status != types.StakeStatusLocked {
		t.Errorf("stake status = %s", snap.Stakes[0].Status)
	}
	if len(snap.Withdrawals) != 1 {
		t.Errorf("withdrawals = %d, want 1", len(snap.Withdrawals))
	}
	if snap.HeadBlock != 1000 {
		t.Errorf("head block = %d", snap.HeadBlock)
	}
	if snap.Provisional {
		t.Error("fresh snapshot flagged provisional")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	d, _, _, _ := newTestDashboard(t)
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	snap := d.Snapshot()
	snap.Stakes = nil
	snap.Paused = true

	again := d.Snapshot()
	if len(again.Stakes) != 1 || again.Paused {
		t.Error("mutating a returned snapshot affected the published one")
	}
}

func TestOverlappingTriggersCoalesce(t *testing.T) {
	d, _, _, head := newTestDashboard(t)

	gate := make(chan struct{})
	head.gate = gate

	done := make(chan error, 1)
	go func() { done <- d.Refresh(context.Background()) }()

	// Wait until the cycle is actually in flight.
	deadline := time.After(time.Second)
	for head.cycles() == 0 {
		select {
		case <-deadline:
			t.Fatal("refresh never started")
		case <-time.After(time.Millisecond):
		}
	}

	// Several triggers while in flight collapse into one rerun.
	d.RequestRefresh()
	d.RequestRefresh()
	d.RequestRefresh()

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := head.cycles(); got != 2 {
		t.Errorf("refresh cycles = %d, want 2 (in-flight + one coalesced rerun)", got)
	}
}

func TestProvisionalOverlayReplacedByRefresh(t *testing.T) {
	d, _, _, _ := newTestDashboard(t)
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	d.ApplyProvisional(func(s *Snapshot) {
		s.TokenBalance = big.NewInt(0)
	})

	snap := d.Snapshot()
	if !snap.Provisional {
		t.Fatal("overlay not flagged provisional")
	}
	if snap.TokenBalance.Sign() != 0 {
		t.Errorf("overlay balance = %s", snap.TokenBalance)
	}

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap = d.Snapshot()
	if snap.Provisional {
		t.Error("refetched snapshot still flagged provisional")
	}
	if snap.TokenBalance.Cmp(big.NewInt(42_000_000)) != 0 {
		t.Errorf("refetched balance = %s, want the authoritative value", snap.TokenBalance)
	}
}

func TestScanFailureFallsBackToCache(t *testing.T) {
	d, _, events, _ := newTestDashboard(t)

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	events.mu.Lock()
	events.fail = true
	events.mu.Unlock()

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh with failing scans: %v", err)
	}

	snap := d.Snapshot()
	if len(snap.Withdrawals) != 1 {
		t.Fatalf("withdrawals = %d, want the cached entry", len(snap.Withdrawals))
	}
	if snap.Withdrawals[0].Amount.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("cached withdrawal amount = %s", snap.Withdrawals[0].Amount)
	}
}

func TestSetAccountTriggersRefresh(t *testing.T) {
	d, _, _, _ := newTestDashboard(t)

	// Drain any pending kick from the initial SetAccount.
	select {
	case <-d.kick:
	default:
	}

	d.SetAccount(common.HexToAddress("0x3333333333333333333333333333333333333333"))
	select {
	case <-d.kick:
	default:
		t.Error("account change did not request a refresh")
	}

	// Same account again is not a change.
	d.SetAccount(common.HexToAddress("0x3333333333333333333333333333333333333333"))
	select {
	case <-d.kick:
		t.Error("unchanged account requested a refresh")
	default:
	}
}

func TestRefreshListenerReceivesSnapshot(t *testing.T) {
	d, _, _, _ := newTestDashboard(t)

	got := make(chan *Snapshot, 1)
	d.SetRefreshListener(func(s *Snapshot) { got <- s })

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	select {
	case snap := <-got:
		if snap.HeadBlock != 1000 {
			t.Errorf("listener snapshot head = %d", snap.HeadBlock)
		}
	case <-time.After(time.Second):
		t.Fatal("listener never invoked")
	}
}

func TestWatchKeystoreRequestsRefreshOnAccountFile(t *testing.T) {
	d, _, _, _ := newTestDashboard(t)

	// Drain the kick from the initial SetAccount.
	select {
	case <-d.kick:
	default:
	}

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		time.Sleep(50 * time.Millisecond) // let the watcher goroutine exit
	}()

	if err := d.WatchKeystore(ctx, dir); err != nil {
		t.Fatalf("WatchKeystore: %v", err)
	}

	name := filepath.Join(dir, "UTC--2026-08-30T00-00-00.000000000Z--2222222222222222222222222222222222222222")
	if err := os.WriteFile(name, []byte("{}"), 0o600); err != nil {
		t.Fatalf("failed to write keystore file: %v", err)
	}

	select {
	case <-d.kick:
	case <-time.After(3 * time.Second):
		t.Fatal("keystore change never requested a refresh")
	}
}

func TestWatchKeystoreAdoptsNewWallet(t *testing.T) {
	// A wallet created after startup must become the tracked account,
	// not just trigger a refresh of the old one.
	d, _, _, _ := newTestDashboard(t)

	next := common.HexToAddress("0x4444444444444444444444444444444444444444")
	d.SetAccountResolver(func() (common.Address, error) {
		return next, nil
	})

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		time.Sleep(50 * time.Millisecond) // let the watcher goroutine exit
	}()

	if err := d.WatchKeystore(ctx, dir); err != nil {
		t.Fatalf("WatchKeystore: %v", err)
	}

	name := filepath.Join(dir, "UTC--2026-08-30T00-00-00.000000000Z--4444444444444444444444444444444444444444")
	if err := os.WriteFile(name, []byte("{}"), 0o600); err != nil {
		t.Fatalf("failed to write keystore file: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for d.Account() != next {
		select {
		case <-deadline:
			t.Fatalf("tracked account = %s, want %s", d.Account().Hex(), next.Hex())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAccountChangeFiltersNoise(t *testing.T) {
	tests := []struct {
		name string
		op   fsnotify.Op
		want bool
	}{
		{"/keys/UTC--2026-08-30--abc", fsnotify.Create, true},
		{"/keys/UTC--2026-08-30--abc", fsnotify.Remove, true},
		{"/keys/UTC--2026-08-30--abc", fsnotify.Rename, true},
		{"/keys/UTC--2026-08-30--abc", fsnotify.Chmod, false},
		{"/keys/.UTC--swap.swp", fsnotify.Create, false},
		{"/keys/password.lock", fsnotify.Create, false},
	}

	for _, tt := range tests {
		got := accountChange(fsnotify.Event{Name: tt.name, Op: tt.op})
		if got != tt.want {
			t.Errorf("accountChange(%q, %v) = %v, want %v", tt.name, tt.op, got, tt.want)
		}
	}
}
