package commands

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"

	"github.com/stakewatch/stakewatch/internal/chain"
	"github.com/stakewatch/stakewatch/internal/compliance"
	"github.com/stakewatch/stakewatch/internal/config"
	"github.com/stakewatch/stakewatch/internal/identity"
	"github.com/stakewatch/stakewatch/internal/metatx"
)

// EIP-712 signing domain, fixed by the staking contract deployment.
const (
	eip712Name    = "StakeWatch"
	eip712Version = "1"
)

// session bundles everything a transactional command needs: an
// unlocked wallet, a connected RPC client, and the contract bindings.
type session struct {
	cfg     *config.Config
	wallet  *identity.Wallet
	key     *ecdsa.PrivateKey
	client  *chain.Client
	staking *chain.StakingContract
	token   *chain.TokenContract
}

// openSession loads config, unlocks the wallet, and connects to the
// chain. Callers must Close when done.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	wallet, err := identity.Load(cfg.Daemon.KeystoreDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	if wallet == nil {
		return nil, fmt.Errorf("no wallet found in %s (run: stakewatch wallet create)", cfg.Daemon.KeystoreDir)
	}

	password, err := resolveWalletPassword()
	if err != nil {
		return nil, err
	}
	key, err := wallet.PrivateKey(password)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock wallet (wrong password?): %w", err)
	}

	clientCfg := chain.DefaultClientConfig()
	clientCfg.RPCURL = cfg.Chain.RPCURL
	clientCfg.ChainID = cfg.Chain.ChainID
	clientCfg.BlockConfirmations = cfg.Chain.BlockConfirmations

	client, err := chain.NewClient(clientCfg, key)
	if err != nil {
		return nil, err
	}
	if err := WithSpinner("Connecting to chain", func() error {
		return client.Connect(ctx)
	}); err != nil {
		return nil, err
	}

	staking, err := chain.NewStakingContract(client, common.HexToAddress(cfg.Staking.ContractAddress))
	if err != nil {
		client.Close()
		return nil, err
	}
	token, err := chain.NewTokenContract(client, common.HexToAddress(cfg.Staking.TokenAddress))
	if err != nil {
		client.Close()
		return nil, err
	}

	return &session{
		cfg:     cfg,
		wallet:  wallet,
		key:     key,
		client:  client,
		staking: staking,
		token:   token,
	}, nil
}

func (s *session) Close() {
	s.wallet.ClearCachedKey()
	s.client.Close()
}

// newSubmitter assembles the gasless submission pipeline for this
// session, with the compliance gate when one is configured.
func (s *session) newSubmitter() *metatx.Submitter {
	domain := metatx.Domain{
		Name:              eip712Name,
		Version:           eip712Version,
		ChainID:           s.cfg.Chain.ChainID,
		VerifyingContract: s.staking.Address(),
	}

	subCfg := metatx.DefaultSubmitterConfig()
	if s.cfg.Relay.DeadlineWindowMins > 0 {
		subCfg.DeadlineWindow = time.Duration(s.cfg.Relay.DeadlineWindowMins) * time.Minute
	}
	if s.cfg.Relay.ConfirmTimeoutSecs > 0 {
		subCfg.ConfirmTimeout = time.Duration(s.cfg.Relay.ConfirmTimeoutSecs) * time.Second
	}

	sub := metatx.NewSubmitter(
		domain,
		s.staking,
		metatx.NewKeySigner(s.key),
		metatx.NewRelayClient(s.cfg.Relay.URL),
		s.client,
		subCfg,
	)
	if s.cfg.Relay.SuspensionCheckBase != "" {
		sub.SetSuspensionChecker(compliance.NewClient(s.cfg.Relay.SuspensionCheckBase))
	}
	return sub
}

// submitAndReport runs a meta-tx through the submitter with per-state
// progress lines and prints the outcome.
func (s *session) submitAndReport(ctx context.Context, req *metatx.Request) error {
	sub := s.newSubmitter()
	sub.SetStateListener(func(action metatx.Action, state metatx.State) {
		switch state {
		case metatx.StateAwaitingSignature:
			Info("Signing with local wallet...")
		case metatx.StateSubmitting:
			Info("Submitting to relay...")
		case metatx.StateAwaitingConfirmation:
			Info("Waiting for on-chain confirmation...")
		}
	})

	outcome, err := sub.Submit(ctx, req)
	if err != nil {
		if outcome != nil && outcome.TxHash != (common.Hash{}) {
			Error(fmt.Sprintf("%s failed: %v (tx %s)", req.Action, err, outcome.TxHash.Hex()))
		} else {
			Error(fmt.Sprintf("%s failed: %v", req.Action, err))
		}
		return err
	}

	Success(fmt.Sprintf("%s confirmed", req.Action))
	fmt.Println(KeyValue("Tx Hash", outcome.TxHash.Hex()))
	if outcome.Receipt != nil {
		fmt.Println(KeyValue("Block", outcome.Receipt.BlockNumber.String()))
	}
	requestDaemonRefresh(ctx)
	return nil
}

// requestDaemonRefresh nudges a running daemon to refetch after a
// confirmed action. Best effort: no daemon or no API key is fine, the
// periodic refresh will catch up.
func requestDaemonRefresh(ctx context.Context) {
	apiKey := os.Getenv("STAKEWATCH_API_KEY")
	if apiKey == "" {
		return
	}
	dc := NewDaemonClient(daemonEndpoint())
	if err := dc.Refresh(ctx, apiKey); err == nil {
		Info("Daemon refresh requested")
	}
}

// resolveWalletPassword finds the wallet password: platform keyring,
// then environment, then an interactive prompt.
func resolveWalletPassword() (string, error) {
	if pw, err := identity.RetrieveWalletPassword(); err == nil && pw != "" {
		return pw, nil
	}
	if pw := os.Getenv("STAKEWATCH_WALLET_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Enter wallet password: ")
	pw, err := readPasswordNoEcho()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(os.Stderr)
	return pw, nil
}

// readPasswordNoEcho reads a line from stdin with echo disabled.
func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return string(password), nil
}
