package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakewatch/stakewatch/internal/dashboard"
	"github.com/stakewatch/stakewatch/pkg/types"
)

var trackedAccount = common.HexToAddress("0x2222222222222222222222222222222222222222")

type fakeDash struct {
	mu       sync.Mutex
	snap     *dashboard.Snapshot
	requests int
}

func (f *fakeDash) Snapshot() *dashboard.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeDash) RequestRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
}

func (f *fakeDash) refreshRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func testSnapshot() *dashboard.Snapshot {
	return &dashboard.Snapshot{
		Account:           trackedAccount,
		RewardPoolBalance: big.NewInt(500_000_000),
		TotalStaked:       big.NewInt(1_000_000_000),
		TokenBalance:      big.NewInt(42_000_000),
		Stakes: []*types.Stake{
			{Index: 0, Amount: big.NewInt(100_000_000), Status: types.StakeStatusLocked},
		},
		HeadBlock: 1000,
		UpdatedAt: time.Now(),
	}
}

func newTestServer(t *testing.T, dash SnapshotSource) *Server {
	t.Helper()
	cfg := DefaultServerConfig()
	cfg.RateLimit = 0 // rate limiting has its own test
	cfg.EnableCORS = false
	s, err := NewServer(cfg, dash, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSummaryEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeDash{snap: testSnapshot()})
	rec := get(t, s.Router(), "/api/v1/summary")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if body["rewardPoolFormatted"] != "500" {
		t.Errorf("rewardPoolFormatted = %v", body["rewardPoolFormatted"])
	}
	if body["totalStakedFormatted"] != "1,000" {
		t.Errorf("totalStakedFormatted = %v", body["totalStakedFormatted"])
	}
	if body["tokenSymbol"] != "USDT" {
		t.Errorf("tokenSymbol = %v", body["tokenSymbol"])
	}
}

func TestSummaryBeforeFirstRefresh(t *testing.T) {
	s := newTestServer(t, &fakeDash{})
	rec := get(t, s.Router(), "/api/v1/summary")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStakesEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeDash{snap: testSnapshot()})
	router := s.Router()

	rec := get(t, router, "/api/v1/stakes/"+trackedAccount.Hex())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Stakes []json.RawMessage `json:"stakes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if len(body.Stakes) != 1 {
		t.Errorf("stakes = %d, want 1", len(body.Stakes))
	}

	// Unknown address
	rec = get(t, router, "/api/v1/stakes/0x3333333333333333333333333333333333333333")
	if rec.Code != http.StatusNotFound {
		t.Errorf("untracked address status = %d, want 404", rec.Code)
	}

	// Malformed address
	rec = get(t, router, "/api/v1/stakes/not-an-address")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed address status = %d, want 400", rec.Code)
	}
}

func TestWithdrawalsEmptyIsArray(t *testing.T) {
	s := newTestServer(t, &fakeDash{snap: testSnapshot()})
	rec := get(t, s.Router(), "/api/v1/withdrawals/"+trackedAccount.Hex())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Withdrawals []json.RawMessage `json:"withdrawals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if body.Withdrawals == nil {
		t.Error("withdrawals serialized as null, want []")
	}
}

func TestStatusEndpointBeforeAndAfterRefresh(t *testing.T) {
	dash := &fakeDash{}
	s := newTestServer(t, dash)
	router := s.Router()

	rec := get(t, router, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "starting" {
		t.Errorf("status field = %v, want starting", body["status"])
	}

	dash.mu.Lock()
	dash.snap = testSnapshot()
	dash.mu.Unlock()

	rec = get(t, router, "/api/v1/status")
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["headBlock"] != float64(1000) {
		t.Errorf("headBlock = %v", body["headBlock"])
	}
}

func TestRefreshRequiresAPIKey(t *testing.T) {
	dash := &fakeDash{snap: testSnapshot()}
	s := newTestServer(t, dash)
	router := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key status = %d, want 401", rec.Code)
	}
	if dash.refreshRequests() != 0 {
		t.Error("unauthorized request triggered a refresh")
	}

	_, plainKey, err := s.APIKeys().CreateKey("ops", 0)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	req.Header.Set("X-API-Key", plainKey)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("valid key status = %d, want 202", rec.Code)
	}
	if dash.refreshRequests() != 1 {
		t.Errorf("refresh requests = %d, want 1", dash.refreshRequests())
	}

	// Bearer form works too
	req = httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+plainKey)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("bearer key status = %d, want 202", rec.Code)
	}
}

func TestRateLimitEnforced(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RateLimit = 60
	cfg.RateLimitBurst = 2
	cfg.EnableCORS = false
	s, err := NewServer(cfg, &fakeDash{snap: testSnapshot()}, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	router := s.Router()

	var limited bool
	for i := 0; i < 5; i++ {
		rec := get(t, router, "/api/v1/summary")
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("burst of requests was never rate limited")
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	m, err := NewAPIKeyManager(path)
	if err != nil {
		t.Fatalf("NewAPIKeyManager: %v", err)
	}

	key, plainKey, err := m.CreateKey("test", 0)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if len(plainKey) < keyPrefixLen || plainKey[:3] != "sw_" {
		t.Fatalf("plain key = %q, want sw_ prefix", plainKey[:8])
	}
	if !m.ValidateKey(plainKey) {
		t.Error("freshly created key failed validation")
	}
	if m.ValidateKey("sw_0000000000000000") {
		t.Error("unknown key validated")
	}
	if m.ValidateKey(plainKey[:20]) {
		t.Error("truncated key validated")
	}

	// Keys survive a reload from disk
	reloaded, err := NewAPIKeyManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.ValidateKey(plainKey) {
		t.Error("key lost across reload")
	}

	if err := m.RevokeKey(key.ID); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}
	if m.ValidateKey(plainKey) {
		t.Error("revoked key still validates")
	}
}

func TestExpiredKeyRejected(t *testing.T) {
	m, err := NewAPIKeyManager("")
	if err != nil {
		t.Fatalf("NewAPIKeyManager: %v", err)
	}

	key, plainKey, err := m.CreateKey("short-lived", 1)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	m.mu.Lock()
	m.keys[key.ID].ExpiresAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	if m.ValidateKey(plainKey) {
		t.Error("expired key validated")
	}
}
