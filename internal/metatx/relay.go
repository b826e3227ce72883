package metatx

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakewatch/stakewatch/internal/logging"
	"github.com/stakewatch/stakewatch/internal/util"
)

// RelaySubmitter posts a signed meta-transaction payload and returns
// the resulting transaction hash.
type RelaySubmitter interface {
	Submit(ctx context.Context, payload *RelayPayload) (common.Hash, error)
}

// RelayPayload is the JSON body posted to the relay
type RelayPayload struct {
	ContractAddress string        `json:"contractAddress"`
	FunctionName    string        `json:"functionName"`
	Args            []interface{} `json:"args"`
	UserAddress     string        `json:"userAddress"`
	Signature       string        `json:"signature"`
	ChainID         int64         `json:"chainId"`
}

// relayResponse is the relay's JSON reply
type relayResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash"`
	Error   string `json:"error"`
}

// RelayClient submits payloads to the external relay over HTTP with
// the uniform retry policy.
type RelayClient struct {
	url         string
	httpClient  *http.Client
	retryConfig *util.RetryConfig
}

// NewRelayClient creates a relay client for the given endpoint
func NewRelayClient(url string) *RelayClient {
	config := util.DefaultRetryConfig()
	config.RetryIf = util.DefaultRetryIf()
	return &RelayClient{
		url:         url,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retryConfig: config,
	}
}

// Submit posts the payload, retrying network and HTTP failures. If a
// transaction hash was captured on an earlier attempt it is returned
// alongside the error, so the caller can check the chain before
// declaring failure: a relay that timed out replying may still have
// broadcast successfully.
func (rc *RelayClient) Submit(ctx context.Context, payload *RelayPayload) (common.Hash, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to marshal relay payload: %w", err)
	}

	var captured common.Hash
	hash, result := util.RetryWithValue(ctx, rc.retryConfig, func() (common.Hash, error) {
		h, err := rc.post(ctx, body)
		if h != (common.Hash{}) {
			captured = h
		}
		return h, err
	})
	if result.LastError != nil {
		logging.Warn("relay submission exhausted retries",
			"attempts", result.Attempts,
			logging.TxHash(captured.Hex()),
			logging.Err(result.LastError))
		return captured, result.LastError
	}
	return hash, nil
}

func (rc *RelayClient) post(ctx context.Context, body []byte) (common.Hash, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.url, bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, util.MarkNonRetryable(fmt.Errorf("failed to build relay request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read relay response: %w", err)
	}

	var parsed relayResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return common.Hash{}, fmt.Errorf("malformed relay response (status %d): %w", resp.StatusCode, err)
	}

	hash := parseTxHash(parsed.TxHash)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("relay returned status %d: %s", resp.StatusCode, parsed.Error)
		// A rejected request does not become valid on resend; only
		// server-side failures are worth another attempt.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return hash, util.MarkNonRetryable(statusErr)
		}
		return hash, statusErr
	}
	if !parsed.Success {
		return hash, fmt.Errorf("relay rejected submission: %s", parsed.Error)
	}
	if hash == (common.Hash{}) {
		return hash, fmt.Errorf("relay response missing transaction hash")
	}
	return hash, nil
}

// parseTxHash parses a 0x-prefixed 32-byte hash, returning the zero
// hash for anything malformed.
func parseTxHash(s string) common.Hash {
	if len(s) != 66 || s[:2] != "0x" {
		return common.Hash{}
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return common.Hash{}
	}
	return common.BytesToHash(raw)
}
