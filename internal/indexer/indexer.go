// Package indexer reconstructs historical views (referrals, reward
// withdrawals, daily stake totals, pool balance history) from on-chain
// event logs. The contract does not expose these as queryable state,
// so they are rebuilt by scanning logs in fixed-size block chunks.
package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/stakewatch/stakewatch/internal/logging"
	"github.com/stakewatch/stakewatch/internal/util"
)

// LogSource is the slice of RPC surface the indexer needs. Satisfied
// by *chain.Client; tests supply a fake.
type LogSource interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config holds event-scan settings
type Config struct {
	ChunkSize   uint64 // blocks per getLogs query
	Concurrency int    // parallel chunk fetches
	RecentDays  int    // window for the recent daily-stakes view
	ReferralCap int    // max referrals returned
}

// DefaultConfig returns the observed production settings
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:   250,
		Concurrency: 4,
		RecentDays:  7,
		ReferralCap: 10,
	}
}

// Indexer scans and reduces staking contract events.
type Indexer struct {
	source       LogSource
	contractABI  abi.ABI
	contractAddr common.Address
	config       *Config
	retryConfig  *util.RetryConfig

	// Block timestamps are immutable once mined; memoize lookups so
	// reducers over overlapping ranges do not refetch headers.
	tsMu      sync.Mutex
	tsByBlock map[uint64]time.Time
}

// New creates an indexer over the given log source and contract.
func New(source LogSource, contractABI abi.ABI, contractAddr common.Address, config *Config) *Indexer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Indexer{
		source:       source,
		contractABI:  contractABI,
		contractAddr: contractAddr,
		config:       config,
		retryConfig:  util.DefaultRetryConfig(),
		tsByBlock:    make(map[uint64]time.Time),
	}
}

// scan fetches logs for one event over [fromBlock, toBlock], split
// into fixed-size chunks issued concurrently. A failed chunk
// contributes zero events and a warning; the scan only errors when
// every chunk fails, so partial success never corrupts aggregates.
func (ix *Indexer) scan(ctx context.Context, eventName string, extraTopics [][]common.Hash, fromBlock, toBlock uint64) ([]ethtypes.Log, error) {
	event, ok := ix.contractABI.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("unknown event: %s", eventName)
	}
	if fromBlock > toBlock {
		return nil, nil
	}

	topics := append([][]common.Hash{{event.ID}}, extraTopics...)

	type chunk struct{ from, to uint64 }
	var chunks []chunk
	for from := fromBlock; from <= toBlock; from += ix.config.ChunkSize {
		to := from + ix.config.ChunkSize - 1
		if to > toBlock {
			to = toBlock
		}
		chunks = append(chunks, chunk{from, to})
	}

	var (
		mu      sync.Mutex
		merged  []ethtypes.Log
		failed  int
		wg      sync.WaitGroup
		workers = make(chan struct{}, ix.config.Concurrency)
	)

	for _, c := range chunks {
		wg.Add(1)
		workers <- struct{}{}
		c := c
		util.SafeGoWithName("indexer-chunk", func() {
			defer wg.Done()
			defer func() { <-workers }()

			query := ethereum.FilterQuery{
				Addresses: []common.Address{ix.contractAddr},
				Topics:    topics,
				FromBlock: new(big.Int).SetUint64(c.from),
				ToBlock:   new(big.Int).SetUint64(c.to),
			}

			logs, result := util.RetryWithValue(ctx, ix.retryConfig, func() ([]ethtypes.Log, error) {
				return ix.source.FilterLogs(ctx, query)
			})

			mu.Lock()
			defer mu.Unlock()
			if result.LastError != nil {
				failed++
				logging.Warn("event chunk fetch failed",
					"event", eventName,
					logging.BlockRange(c.from, c.to),
					logging.Err(result.LastError))
				return
			}
			merged = append(merged, logs...)
		})
	}
	wg.Wait()

	if failed == len(chunks) && len(chunks) > 0 {
		return nil, fmt.Errorf("all %d chunks failed scanning %s", len(chunks), eventName)
	}

	// Chunks arrive in any order; impose a deterministic order here
	// instead of relying on fetch order.
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].BlockNumber != merged[j].BlockNumber {
			return merged[i].BlockNumber < merged[j].BlockNumber
		}
		return merged[i].Index < merged[j].Index
	})
	return merged, nil
}

// blockTime resolves a block's timestamp, memoized.
func (ix *Indexer) blockTime(ctx context.Context, blockNumber uint64) (time.Time, error) {
	ix.tsMu.Lock()
	if ts, ok := ix.tsByBlock[blockNumber]; ok {
		ix.tsMu.Unlock()
		return ts, nil
	}
	ix.tsMu.Unlock()

	header, err := ix.source.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get header %d: %w", blockNumber, err)
	}
	ts := time.Unix(int64(header.Time), 0)

	ix.tsMu.Lock()
	ix.tsByBlock[blockNumber] = ts
	ix.tsMu.Unlock()
	return ts, nil
}

// unpackAmount reads the first uint256 from a log's data section.
func unpackAmount(log ethtypes.Log) *big.Int {
	if len(log.Data) < 32 {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(log.Data[:32])
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
