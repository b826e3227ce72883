// Package types defines shared domain types for the staking dashboard:
// stake records, event-derived history entries, and fixed-point amount
// formatting.
package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LockDuration is the period during which a stake cannot be withdrawn
// without penalty. Mirrors the staking contract's lock constant.
const LockDuration = 5 * 24 * time.Hour

// StakeStatus describes the lifecycle phase of a single stake.
type StakeStatus string

const (
	StakeStatusUnstaked  StakeStatus = "unstaked"
	StakeStatusLocked    StakeStatus = "locked"
	StakeStatusCompleted StakeStatus = "completed"
)

// Stake is a snapshot of one on-chain stake record for a user.
// The contract owns the canonical state; this is a read-only copy
// plus client-derived fields.
type Stake struct {
	Index            uint64      `json:"index"`
	Amount           *big.Int    `json:"amount"`
	StartTimestamp   time.Time   `json:"start_timestamp"`
	LastRewardUpdate time.Time   `json:"last_reward_update"`
	AccruedReward    *big.Int    `json:"accrued_reward"`
	PendingReward    *big.Int    `json:"pending_reward"`
	Status           StakeStatus `json:"status"`
}

// UnlockTime returns the moment the lock period ends.
func (s *Stake) UnlockTime() time.Time {
	return s.StartTimestamp.Add(LockDuration)
}

// DeriveStakeStatus computes the status of a stake as a pure function
// of its amount and start time. A fully withdrawn stake is Unstaked
// regardless of timestamps; an unstaked record may still carry
// claimable accrued reward.
func DeriveStakeStatus(amount *big.Int, start time.Time, now time.Time) StakeStatus {
	if amount == nil || amount.Sign() == 0 {
		return StakeStatusUnstaked
	}
	if now.Before(start.Add(LockDuration)) {
		return StakeStatusLocked
	}
	return StakeStatusCompleted
}

// Referral is one referral relationship reconstructed from the
// ReferralRecorded event stream.
type Referral struct {
	Referrer    common.Address `json:"referrer"`
	Referee     common.Address `json:"referee"`
	BlockNumber uint64         `json:"block_number"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Withdrawal is one reward claim reconstructed from the
// RewardWithdrawn event stream. Deduplicated by (TxHash, LogIndex).
type Withdrawal struct {
	Amount      *big.Int    `json:"amount"`
	Timestamp   time.Time   `json:"timestamp"`
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	LogIndex    uint        `json:"log_index"`
}

// DedupeKey identifies a withdrawal uniquely across overlapping
// event-range fetches.
func (w *Withdrawal) DedupeKey() string {
	return fmt.Sprintf("%s:%d", w.TxHash.Hex(), w.LogIndex)
}

// PoolPoint is one point of the reward-pool balance series, keyed by
// calendar day. Same-day events collapse to the last value.
type PoolPoint struct {
	Date    string   `json:"date"` // YYYY-MM-DD
	Balance *big.Int `json:"balance"`
}

// DailyStake is the total newly staked amount for one calendar day.
type DailyStake struct {
	Date   string   `json:"date"` // YYYY-MM-DD
	Amount *big.Int `json:"amount"`
}

// DayKey formats a timestamp as the YYYY-MM-DD aggregation key, in UTC
// so day boundaries are stable across hosts.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// FormatAmount renders a fixed-point integer amount as a decimal
// string with thousands separators. Nil or negative values render the
// zero string; bad input is a display problem, not a crash.
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil || amount.Sign() < 0 || decimals < 0 {
		return "0"
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(amount, scale, new(big.Int))

	out := addThousandsSep(whole.String())
	if frac.Sign() > 0 {
		fracStr := strings.TrimRight(fmt.Sprintf("%0*s", decimals, frac.String()), "0")
		if fracStr != "" {
			out += "." + fracStr
		}
	}
	return out
}

// ParseAmount converts a decimal string to its fixed-point integer
// representation. Rejects negative values and more fractional digits
// than the configured decimals.
func ParseAmount(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount: %s", s)
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", s, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	val, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return val, nil
}

func addThousandsSep(s string) string {
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteRune(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}
