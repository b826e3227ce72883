// Package chain wraps RPC access to the staking and token contracts:
// a retrying client, typed read methods, and direct-signed admin
// transactions. Contract clients support a mock mode so higher layers
// can be tested without a network.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/stakewatch/stakewatch/internal/util"
)

// ClientConfig holds connection settings for the RPC client
type ClientConfig struct {
	RPCURL             string
	ChainID            int64
	BlockConfirmations int
	ConfirmTimeout     time.Duration
	RetryConfig        *util.RetryConfig
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ChainID:            1,
		BlockConfirmations: 2,
		ConfirmTimeout:     60 * time.Second,
		RetryConfig:        util.DefaultRetryConfig(),
	}
}

// Client provides retrying access to an Ethereum RPC endpoint.
// Construct with NewClient and inject into contract clients; there is
// no package-level instance.
type Client struct {
	config     *ClientConfig
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	connected bool
	mu        sync.RWMutex
}

// NewClient creates a new RPC client. privateKey may be nil for a
// read-only client (meta-transactions need no local gas key).
func NewClient(config *ClientConfig, privateKey *ecdsa.PrivateKey) (*Client, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.RetryConfig == nil {
		config.RetryConfig = util.DefaultRetryConfig()
	}

	c := &Client{
		config:     config,
		privateKey: privateKey,
		chainID:    big.NewInt(config.ChainID),
	}
	if privateKey != nil {
		c.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return c, nil
}

// Connect dials the RPC endpoint and verifies the chain ID.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, result := util.RetryWithValue(ctx, c.config.RetryConfig, func() (*ethclient.Client, error) {
		return ethclient.DialContext(ctx, c.config.RPCURL)
	})
	if result.LastError != nil {
		return fmt.Errorf("failed to connect to RPC: %w", result.LastError)
	}
	c.client = client

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Cmp(c.chainID) != 0 {
		return fmt.Errorf("chain ID mismatch: expected %d, got %d", c.chainID, chainID)
	}

	c.connected = true
	return nil
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.connected = false
}

// IsConnected returns true if connected to the network
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Client returns the underlying ethclient
func (c *Client) Client() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Address returns the local signing address (zero for read-only clients)
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID returns the configured chain ID
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// BlockNumber returns the current block number, retried per policy.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return 0, fmt.Errorf("not connected")
	}

	num, result := util.RetryWithValue(ctx, c.config.RetryConfig, func() (uint64, error) {
		return client.BlockNumber(ctx)
	})
	if result.LastError != nil {
		return 0, fmt.Errorf("failed to get block number: %w", result.LastError)
	}
	return num, nil
}

// HeaderByNumber returns a block header, retried per policy.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("not connected")
	}

	header, result := util.RetryWithValue(ctx, c.config.RetryConfig, func() (*types.Header, error) {
		return client.HeaderByNumber(ctx, number)
	})
	if result.LastError != nil {
		return nil, fmt.Errorf("failed to get header: %w", result.LastError)
	}
	return header, nil
}

// FilterLogs runs a log filter query. Retry is left to the caller:
// the indexer treats a failed chunk as zero events rather than
// blocking the whole scan on one range.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("not connected")
	}
	return client.FilterLogs(ctx, query)
}

// TransactionReceipt returns the receipt for a transaction hash, or
// ethereum.NotFound while the transaction is still pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("not connected")
	}
	return client.TransactionReceipt(ctx, hash)
}

// GetTransactOpts creates signed transaction options for direct
// (non-meta) transactions such as admin actions.
func (c *Client) GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.privateKey == nil {
		return nil, fmt.Errorf("no private key configured")
	}

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("not connected")
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasPrice = gasPrice
	return auth, nil
}

// WaitForTransaction waits for a transaction to be mined and confirmed
func (c *Client) WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("not connected")
	}

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction: %w", err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("transaction reverted: %s", tx.Hash().Hex())
	}

	if c.config.BlockConfirmations > 0 {
		targetBlock := receipt.BlockNumber.Uint64() + uint64(c.config.BlockConfirmations)

		for {
			select {
			case <-ctx.Done():
				return receipt, ctx.Err()
			case <-time.After(2 * time.Second):
				currentBlock, err := client.BlockNumber(ctx)
				if err != nil {
					continue // Retry
				}
				if currentBlock >= targetBlock {
					return receipt, nil
				}
			}
		}
	}

	return receipt, nil
}
