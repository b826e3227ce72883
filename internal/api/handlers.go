package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakewatch/stakewatch/internal/dashboard"
	"github.com/stakewatch/stakewatch/internal/logging"
	"github.com/stakewatch/stakewatch/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to encode response", logging.Err(err), logging.Component("api"))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requireSnapshot fetches the current snapshot, writing 503 when no
// refresh has completed yet.
func (s *Server) requireSnapshot(w http.ResponseWriter) *dashboard.Snapshot {
	snap := s.dash.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no data yet, initial refresh pending")
	}
	return snap
}

// pathAddress extracts and validates the address path segment after
// prefix. The daemon tracks one account; other addresses are unknown.
func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request, prefix string, snap *dashboard.Snapshot) (common.Address, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if raw == "" || strings.Contains(raw, "/") || !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "malformed address")
		return common.Address{}, false
	}

	addr := common.HexToAddress(raw)
	if addr != snap.Account {
		writeError(w, http.StatusNotFound, "address not tracked by this daemon")
		return common.Address{}, false
	}
	return addr, true
}

// handleSummary returns the pool-wide view
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.requireSnapshot(w)
	if snap == nil {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paused":               snap.Paused,
		"admin":                snap.Admin.Hex(),
		"rewardPoolBalance":    snap.RewardPoolBalance,
		"rewardPoolFormatted":  types.FormatAmount(snap.RewardPoolBalance, s.config.TokenDecimals),
		"totalStaked":          snap.TotalStaked,
		"totalStakedFormatted": types.FormatAmount(snap.TotalStaked, s.config.TokenDecimals),
		"tokenSymbol":          s.config.TokenSymbol,
		"dailyStakes":          snap.DailyStakes,
		"headBlock":            snap.HeadBlock,
		"updatedAt":            snap.UpdatedAt,
		"provisional":          snap.Provisional,
	})
}

// handleStakes returns the tracked account's stakes
func (s *Server) handleStakes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.requireSnapshot(w)
	if snap == nil {
		return
	}
	addr, ok := s.pathAddress(w, r, "/api/v1/stakes/", snap)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":       addr.Hex(),
		"tokenBalance":  snap.TokenBalance,
		"referralBonus": snap.ReferralBonus,
		"stakes":        emptyIfNil(snap.Stakes),
		"updatedAt":     snap.UpdatedAt,
		"provisional":   snap.Provisional,
	})
}

// handleReferrals returns referrals recorded for the tracked account
func (s *Server) handleReferrals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.requireSnapshot(w)
	if snap == nil {
		return
	}
	addr, ok := s.pathAddress(w, r, "/api/v1/referrals/", snap)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":   addr.Hex(),
		"referrals": emptyIfNil(snap.Referrals),
		"updatedAt": snap.UpdatedAt,
	})
}

// handleWithdrawals returns the tracked account's withdrawal history
func (s *Server) handleWithdrawals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.requireSnapshot(w)
	if snap == nil {
		return
	}
	addr, ok := s.pathAddress(w, r, "/api/v1/withdrawals/", snap)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":     addr.Hex(),
		"withdrawals": emptyIfNil(snap.Withdrawals),
		"updatedAt":   snap.UpdatedAt,
	})
}

// handlePoolHistory returns the reward pool balance series
func (s *Server) handlePoolHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.requireSnapshot(w)
	if snap == nil {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history":   emptyIfNil(snap.PoolHistory),
		"updatedAt": snap.UpdatedAt,
	})
}

// handleStatus reports daemon liveness and snapshot age
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := map[string]interface{}{
		"status":     "ok",
		"wsClients":  s.wsHub.ClientCount(),
		"serverTime": time.Now().UTC(),
	}
	if snap := s.dash.Snapshot(); snap != nil {
		status["updatedAt"] = snap.UpdatedAt
		status["snapshotAgeSecs"] = int(time.Since(snap.UpdatedAt).Seconds())
		status["headBlock"] = snap.HeadBlock
		status["paused"] = snap.Paused
		status["account"] = snap.Account.Hex()
	} else {
		status["status"] = "starting"
	}
	writeJSON(w, http.StatusOK, status)
}

// handleRefresh triggers a refresh cycle. Requires an API key; the
// trigger coalesces with any cycle already in flight.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.dash.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

// emptyIfNil keeps JSON arrays as [] instead of null
func emptyIfNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
