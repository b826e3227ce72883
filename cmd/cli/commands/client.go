package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/stakewatch/stakewatch/pkg/types"
)

// DaemonClient talks to a running stakewatch daemon over its HTTP API.
// All read commands prefer the daemon: it serves cached snapshots
// without hitting the RPC endpoint for every CLI invocation.
type DaemonClient struct {
	baseURL string
	client  *http.Client
}

// NewDaemonClient creates a client for the given base URL.
func NewDaemonClient(baseURL string) *DaemonClient {
	return &DaemonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// daemonEndpoint resolves the API base URL from the --api flag or
// config, defaulting to localhost on the configured port.
func daemonEndpoint() string {
	if APIEndpoint != "" {
		return APIEndpoint
	}
	if cfg := loadConfigQuiet(); cfg != nil {
		return fmt.Sprintf("http://127.0.0.1:%d", cfg.API.Port)
	}
	return "http://127.0.0.1:8480"
}

// StatusResponse mirrors GET /api/v1/status
type StatusResponse struct {
	Status          string    `json:"status"`
	Account         string    `json:"account"`
	HeadBlock       uint64    `json:"headBlock"`
	Paused          bool      `json:"paused"`
	SnapshotAgeSecs int       `json:"snapshotAgeSecs"`
	WSClients       int       `json:"wsClients"`
	UpdatedAt       time.Time `json:"updatedAt"`
	ServerTime      time.Time `json:"serverTime"`
}

// SummaryResponse mirrors GET /api/v1/summary
type SummaryResponse struct {
	Paused               bool                `json:"paused"`
	Admin                string              `json:"admin"`
	RewardPoolBalance    *big.Int            `json:"rewardPoolBalance"`
	RewardPoolFormatted  string              `json:"rewardPoolFormatted"`
	TotalStaked          *big.Int            `json:"totalStaked"`
	TotalStakedFormatted string              `json:"totalStakedFormatted"`
	TokenSymbol          string              `json:"tokenSymbol"`
	DailyStakes          []*types.DailyStake `json:"dailyStakes"`
	HeadBlock            uint64              `json:"headBlock"`
	UpdatedAt            time.Time           `json:"updatedAt"`
	Provisional          bool                `json:"provisional"`
}

// StakesResponse mirrors GET /api/v1/stakes/{address}
type StakesResponse struct {
	Address       string         `json:"address"`
	TokenBalance  *big.Int       `json:"tokenBalance"`
	ReferralBonus *big.Int       `json:"referralBonus"`
	Stakes        []*types.Stake `json:"stakes"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Provisional   bool           `json:"provisional"`
}

// ReferralsResponse mirrors GET /api/v1/referrals/{address}
type ReferralsResponse struct {
	Address   string            `json:"address"`
	Referrals []*types.Referral `json:"referrals"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// WithdrawalsResponse mirrors GET /api/v1/withdrawals/{address}
type WithdrawalsResponse struct {
	Address     string              `json:"address"`
	Withdrawals []*types.Withdrawal `json:"withdrawals"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// PoolHistoryResponse mirrors GET /api/v1/pool/history
type PoolHistoryResponse struct {
	History   []*types.PoolPoint `json:"history"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Status fetches daemon liveness
func (dc *DaemonClient) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := dc.get(ctx, "/api/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Summary fetches the pool-wide view
func (dc *DaemonClient) Summary(ctx context.Context) (*SummaryResponse, error) {
	var out SummaryResponse
	if err := dc.get(ctx, "/api/v1/summary", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stakes fetches the tracked account's stakes
func (dc *DaemonClient) Stakes(ctx context.Context, address string) (*StakesResponse, error) {
	var out StakesResponse
	if err := dc.get(ctx, "/api/v1/stakes/"+address, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Referrals fetches the tracked account's referrals
func (dc *DaemonClient) Referrals(ctx context.Context, address string) (*ReferralsResponse, error) {
	var out ReferralsResponse
	if err := dc.get(ctx, "/api/v1/referrals/"+address, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Withdrawals fetches the tracked account's withdrawal history
func (dc *DaemonClient) Withdrawals(ctx context.Context, address string) (*WithdrawalsResponse, error) {
	var out WithdrawalsResponse
	if err := dc.get(ctx, "/api/v1/withdrawals/"+address, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PoolHistory fetches the reward pool balance series
func (dc *DaemonClient) PoolHistory(ctx context.Context) (*PoolHistoryResponse, error) {
	var out PoolHistoryResponse
	if err := dc.get(ctx, "/api/v1/pool/history", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh asks the daemon to refetch chain state. Requires an API key.
func (dc *DaemonClient) Refresh(ctx context.Context, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dc.baseURL+"/api/v1/refresh", bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := dc.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", dc.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}
	return nil
}

func (dc *DaemonClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dc.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := dc.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", dc.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}
