// Package compliance checks account suspension status against the
// external compliance service before gasless submissions are built.
package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakewatch/stakewatch/internal/logging"
	"github.com/stakewatch/stakewatch/internal/util"
)

// suspensionResponse is the compliance service's JSON reply
type suspensionResponse struct {
	IsSuspended bool   `json:"isSuspended"`
	Reason      string `json:"reason"`
}

type cachedStatus struct {
	suspended bool
	reason    string
	fetched   time.Time
}

// Client queries suspension status over HTTP. Results are cached
// briefly so a burst of submissions does not hammer the service.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig *util.RetryConfig
	cacheTTL    time.Duration

	mu    sync.Mutex
	cache map[common.Address]cachedStatus
	now   func() time.Time
}

// NewClient creates a compliance client for the given service base URL
func NewClient(baseURL string) *Client {
	config := util.DefaultRetryConfig()
	config.RetryIf = util.DefaultRetryIf()
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryConfig: config,
		cacheTTL:    time.Minute,
		cache:       make(map[common.Address]cachedStatus),
		now:         time.Now,
	}
}

// IsSuspended reports whether the account is suspended and why.
// Addresses are lowercased in the request path; the service matches
// case-insensitively on its side too, but the canonical form keeps
// cache keys and request logs consistent.
func (c *Client) IsSuspended(ctx context.Context, user common.Address) (bool, string, error) {
	c.mu.Lock()
	if entry, ok := c.cache[user]; ok && c.now().Sub(entry.fetched) < c.cacheTTL {
		c.mu.Unlock()
		return entry.suspended, entry.reason, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/api/check-suspension/%s", c.baseURL, strings.ToLower(user.Hex()))

	status, result := util.RetryWithValue(ctx, c.retryConfig, func() (suspensionResponse, error) {
		return c.fetch(ctx, url)
	})
	if result.LastError != nil {
		logging.Warn("suspension check failed",
			logging.Address(user.Hex()),
			"attempts", result.Attempts,
			logging.Err(result.LastError))
		return false, "", result.LastError
	}

	c.mu.Lock()
	c.cache[user] = cachedStatus{suspended: status.IsSuspended, reason: status.Reason, fetched: c.now()}
	c.mu.Unlock()

	return status.IsSuspended, status.Reason, nil
}

func (c *Client) fetch(ctx context.Context, url string) (suspensionResponse, error) {
	var status suspensionResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return status, util.MarkNonRetryable(fmt.Errorf("failed to build suspension request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return status, fmt.Errorf("suspension request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return status, fmt.Errorf("failed to read suspension response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return status, fmt.Errorf("suspension service returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("malformed suspension response: %w", err)
	}
	return status, nil
}
