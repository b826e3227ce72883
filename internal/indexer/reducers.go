package indexer

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakewatch/stakewatch/pkg/types"
)

// Referrals returns the referrals recorded for a referrer, most
// recent first, capped at the configured window.
func (ix *Indexer) Referrals(ctx context.Context, referrer common.Address, fromBlock, toBlock uint64) ([]*types.Referral, error) {
	logs, err := ix.scan(ctx, "ReferralRecorded", [][]common.Hash{{addressTopic(referrer)}}, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}

	var out []*types.Referral
	for _, log := range logs {
		if len(log.Topics) < 3 {
			continue
		}
		ts, err := ix.blockTime(ctx, log.BlockNumber)
		if err != nil {
			return nil, err
		}
		out = append(out, &types.Referral{
			Referrer:    common.BytesToAddress(log.Topics[1].Bytes()),
			Referee:     common.BytesToAddress(log.Topics[2].Bytes()),
			BlockNumber: log.BlockNumber,
			Timestamp:   ts,
		})
	}

	// Most recent first
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber > out[j].BlockNumber })
	if ix.config.ReferralCap > 0 && len(out) > ix.config.ReferralCap {
		out = out[:ix.config.ReferralCap]
	}
	return out, nil
}

// Withdrawals returns the user's reward claim history: RewardWithdrawn
// plus MetaReferralBonusWithdrawn events, deduplicated by
// (txHash, logIndex) and sorted descending by (blockNumber, logIndex).
// Overlapping fetch ranges therefore merge idempotently.
func (ix *Indexer) Withdrawals(ctx context.Context, user common.Address, fromBlock, toBlock uint64) ([]*types.Withdrawal, error) {
	userTopic := [][]common.Hash{{addressTopic(user)}}

	rewards, err := ix.scan(ctx, "RewardWithdrawn", userTopic, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	bonuses, err := ix.scan(ctx, "MetaReferralBonusWithdrawn", userTopic, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []*types.Withdrawal
	for _, log := range append(rewards, bonuses...) {
		w := &types.Withdrawal{
			Amount:      unpackAmount(log),
			TxHash:      log.TxHash,
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
		}
		if seen[w.DedupeKey()] {
			continue
		}
		seen[w.DedupeKey()] = true

		// RewardWithdrawn carries its timestamp in the data section;
		// fall back to the block timestamp otherwise.
		if len(log.Data) >= 64 {
			w.Timestamp = time.Unix(new(big.Int).SetBytes(log.Data[32:64]).Int64(), 0)
		} else {
			ts, err := ix.blockTime(ctx, log.BlockNumber)
			if err != nil {
				return nil, err
			}
			w.Timestamp = ts
		}
		out = append(out, w)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber > out[j].BlockNumber
		}
		return out[i].LogIndex > out[j].LogIndex
	})
	return out, nil
}

// DailyStakes returns total newly staked amounts grouped by calendar
// day, ascending. recent trims to the configured window of most
// recent days; 0 keeps the full series.
func (ix *Indexer) DailyStakes(ctx context.Context, fromBlock, toBlock uint64, recent bool) ([]*types.DailyStake, error) {
	logs, err := ix.scan(ctx, "Staked", nil, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*big.Int)
	for _, log := range logs {
		ts, err := ix.blockTime(ctx, log.BlockNumber)
		if err != nil {
			return nil, err
		}
		day := types.DayKey(ts)
		if byDay[day] == nil {
			byDay[day] = big.NewInt(0)
		}
		byDay[day].Add(byDay[day], unpackAmount(log))
	}

	out := make([]*types.DailyStake, 0, len(byDay))
	for day, total := range byDay {
		out = append(out, &types.DailyStake{Date: day, Amount: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })

	if recent && ix.config.RecentDays > 0 && len(out) > ix.config.RecentDays {
		out = out[len(out)-ix.config.RecentDays:]
	}
	return out, nil
}

// PoolHistory reconstructs the reward-pool balance series from deposit
// and admin-withdrawal events. The series starts at
// currentBalance - net(all events) and replays events in ascending
// block order, adding deposits and subtracting withdrawals, so the
// final point always equals the live balance. Same-day entries
// collapse to the last value. With no events at all, a single entry
// dated today carries the live balance so charts never render empty.
func (ix *Indexer) PoolHistory(ctx context.Context, currentBalance *big.Int, fromBlock, toBlock uint64) ([]*types.PoolPoint, error) {
	deposits, err := ix.scan(ctx, "RewardPoolDeposited", nil, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	withdrawals, err := ix.scan(ctx, "AdminWithdrawal", nil, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}

	if currentBalance == nil {
		currentBalance = big.NewInt(0)
	}

	type poolEvent struct {
		block uint64
		index uint
		delta *big.Int
	}
	var events []poolEvent
	for _, log := range deposits {
		events = append(events, poolEvent{log.BlockNumber, log.Index, unpackAmount(log)})
	}
	for _, log := range withdrawals {
		events = append(events, poolEvent{log.BlockNumber, log.Index, new(big.Int).Neg(unpackAmount(log))})
	}

	if len(events) == 0 {
		return []*types.PoolPoint{{
			Date:    types.DayKey(time.Now()),
			Balance: new(big.Int).Set(currentBalance),
		}}, nil
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].block != events[j].block {
			return events[i].block < events[j].block
		}
		return events[i].index < events[j].index
	})

	// Opening balance before the first event in range
	running := new(big.Int).Set(currentBalance)
	for _, e := range events {
		running.Sub(running, e.delta)
	}

	// Replay forward, one point per day, last write wins
	byDay := make(map[string]*big.Int)
	var order []string
	for _, e := range events {
		ts, err := ix.blockTime(ctx, e.block)
		if err != nil {
			return nil, err
		}
		running.Add(running, e.delta)

		day := types.DayKey(ts)
		if _, ok := byDay[day]; !ok {
			order = append(order, day)
		}
		byDay[day] = new(big.Int).Set(running)
	}

	out := make([]*types.PoolPoint, 0, len(order))
	for _, day := range order {
		out = append(out, &types.PoolPoint{Date: day, Balance: byDay[day]})
	}
	return out, nil
}
