package metatx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakewatch/stakewatch/internal/util"
)

const testTxHash = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func fastRelayClient(url string) *RelayClient {
	rc := NewRelayClient(url)
	rc.retryConfig = &util.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		RetryIf:    util.DefaultRetryIf(),
	}
	return rc
}

func testPayload() *RelayPayload {
	return &RelayPayload{
		ContractAddress: "0x1111111111111111111111111111111111111111",
		FunctionName:    "executeMetaStake",
		Args:            []interface{}{"100000000"},
		UserAddress:     "0x2222222222222222222222222222222222222222",
		Signature:       "0x00",
		ChainID:         1,
	}
}

func TestRelaySubmitSuccess(t *testing.T) {
	var got RelayPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(relayResponse{Success: true, TxHash: testTxHash})
	}))
	defer srv.Close()

	hash, err := fastRelayClient(srv.URL).Submit(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if hash != common.HexToHash(testTxHash) {
		t.Errorf("hash = %s", hash.Hex())
	}
	if got.FunctionName != "executeMetaStake" {
		t.Errorf("relayed function = %q", got.FunctionName)
	}
}

func TestRelaySubmitRetriesTransientFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(relayResponse{Error: "upstream busy"})
			return
		}
		json.NewEncoder(w).Encode(relayResponse{Success: true, TxHash: testTxHash})
	}))
	defer srv.Close()

	hash, err := fastRelayClient(srv.URL).Submit(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if hash != common.HexToHash(testTxHash) {
		t.Errorf("hash = %s", hash.Hex())
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRelaySubmitDoesNotRetryClientError(t *testing.T) {
	// A 4xx rejection does not become valid on resend; exactly one
	// POST must reach the relay.
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(relayResponse{Success: false, Error: "invalid signature"})
	}))
	defer srv.Close()

	_, err := fastRelayClient(srv.URL).Submit(context.Background(), testPayload())
	if err == nil {
		t.Fatal("expected error for rejected submission")
	}
	if !strings.Contains(err.Error(), "invalid signature") {
		t.Errorf("error should carry the relay's reason, got %v", err)
	}
	if errors.Is(err, util.ErrMaxRetriesExceeded) {
		t.Errorf("a 4xx rejection is not a retry exhaustion: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRelaySubmitReturnsCapturedHashOnExhaustion(t *testing.T) {
	// The relay reports a hash but claims failure every time. The hash
	// must still come back so the caller can check the chain.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		json.NewEncoder(w).Encode(relayResponse{Success: false, TxHash: testTxHash, Error: "timed out"})
	}))
	defer srv.Close()

	hash, err := fastRelayClient(srv.URL).Submit(context.Background(), testPayload())
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if hash != common.HexToHash(testTxHash) {
		t.Errorf("captured hash = %s, want %s", hash.Hex(), testTxHash)
	}
}

func TestRelaySubmitRejectsMissingHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(relayResponse{Success: true})
	}))
	defer srv.Close()

	if _, err := fastRelayClient(srv.URL).Submit(context.Background(), testPayload()); err == nil {
		t.Fatal("expected error for response without transaction hash")
	}
}

func TestParseTxHash(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{testTxHash, true},
		{"", false},
		{"0x1234", false},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"0xzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", false},
	}

	for _, tt := range tests {
		got := parseTxHash(tt.in)
		if (got != common.Hash{}) != tt.want {
			t.Errorf("parseTxHash(%q) = %s", tt.in, got.Hex())
		}
	}
}
