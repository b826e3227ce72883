package compliance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakewatch/stakewatch/internal/util"
)

func fastClient(url string) *Client {
	c := NewClient(url)
	c.retryConfig = &util.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		RetryIf:    util.DefaultRetryIf(),
	}
	return c
}

func TestIsSuspendedLowercasesAddress(t *testing.T) {
	user := common.HexToAddress("0xAbCdEf1234567890aBcDeF1234567890ABCDEF12")

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(suspensionResponse{IsSuspended: true, Reason: "flagged"})
	}))
	defer srv.Close()

	suspended, reason, err := fastClient(srv.URL).IsSuspended(context.Background(), user)
	if err != nil {
		t.Fatalf("IsSuspended: %v", err)
	}
	if !suspended || reason != "flagged" {
		t.Errorf("suspended=%v reason=%q", suspended, reason)
	}

	wantPath := "/api/check-suspension/" + strings.ToLower(user.Hex())
	if gotPath != wantPath {
		t.Errorf("path = %q, want %q", gotPath, wantPath)
	}
}

func TestIsSuspendedCachesResult(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(suspensionResponse{})
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")

	for i := 0; i < 3; i++ {
		if _, _, err := c.IsSuspended(context.Background(), user); err != nil {
			t.Fatalf("IsSuspended: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("service called %d times, want 1", calls)
	}

	// Expire the cache entry and check the service is consulted again.
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, _, err := c.IsSuspended(context.Background(), user); err != nil {
		t.Fatalf("IsSuspended after expiry: %v", err)
	}
	if calls != 2 {
		t.Errorf("service called %d times after expiry, want 2", calls)
	}
}

func TestIsSuspendedRetriesTransientFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(suspensionResponse{})
	}))
	defer srv.Close()

	suspended, _, err := fastClient(srv.URL).IsSuspended(context.Background(),
		common.HexToAddress("0x2222222222222222222222222222222222222222"))
	if err != nil {
		t.Fatalf("IsSuspended: %v", err)
	}
	if suspended {
		t.Error("expected not suspended")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestIsSuspendedErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, _, err := fastClient(srv.URL).IsSuspended(context.Background(),
		common.HexToAddress("0x3333333333333333333333333333333333333333")); err == nil {
		t.Fatal("expected error from failing service")
	}
}
