// Command stakewatchd is the staking dashboard daemon: it refreshes
// contract and event state on a schedule, serves the HTTP API and
// WebSocket push, and exposes Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakewatch/stakewatch/internal/api"
	"github.com/stakewatch/stakewatch/internal/cache"
	"github.com/stakewatch/stakewatch/internal/chain"
	"github.com/stakewatch/stakewatch/internal/config"
	"github.com/stakewatch/stakewatch/internal/dashboard"
	"github.com/stakewatch/stakewatch/internal/identity"
	"github.com/stakewatch/stakewatch/internal/indexer"
	"github.com/stakewatch/stakewatch/internal/logging"
	"github.com/stakewatch/stakewatch/internal/metrics"
	"github.com/stakewatch/stakewatch/internal/util"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath(), "Path to config file")
	logLevel   = flag.String("log-level", "", "Override configured log level (debug|info|warn|error)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Chain access. The daemon is read-only; signing happens in the
	// CLI, so no private key is loaded here.
	clientCfg := chain.DefaultClientConfig()
	clientCfg.RPCURL = cfg.Chain.RPCURL
	clientCfg.ChainID = cfg.Chain.ChainID
	clientCfg.BlockConfirmations = cfg.Chain.BlockConfirmations

	client, err := chain.NewClient(clientCfg, nil)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	staking, err := chain.NewStakingContract(client, common.HexToAddress(cfg.Staking.ContractAddress))
	if err != nil {
		return err
	}
	token, err := chain.NewTokenContract(client, common.HexToAddress(cfg.Staking.TokenAddress))
	if err != nil {
		return err
	}

	events := indexer.New(client, staking.ABI(), staking.Address(), &indexer.Config{
		ChunkSize:   cfg.Indexer.ChunkSize,
		Concurrency: cfg.Indexer.Concurrency,
		RecentDays:  cfg.Indexer.RecentDays,
		ReferralCap: cfg.Indexer.ReferralCap,
	})

	store, err := cache.New(cfg.Cache.Dir, time.Duration(cfg.Cache.TTLSecs)*time.Second)
	if err != nil {
		return err
	}

	dash := dashboard.New(staking, token, events, client, store, &dashboard.Config{
		RefreshInterval: time.Duration(cfg.Dashboard.RefreshIntervalSecs) * time.Second,
		DeploymentBlock: cfg.Staking.DeploymentBlock,
	})

	// Track the keystore account. A missing wallet is fine: the
	// dashboard serves pool-wide data until one appears, and the
	// keystore watcher reloads the wallet when the directory changes.
	loadAccount := func() (common.Address, error) {
		wallet, err := identity.Load(cfg.Daemon.KeystoreDir)
		if err != nil {
			return common.Address{}, err
		}
		if wallet == nil {
			return common.Address{}, nil
		}
		return wallet.Address(), nil
	}
	if account, err := loadAccount(); err != nil {
		logging.Warn("failed to load wallet, serving pool data only", logging.Err(err))
	} else if account != (common.Address{}) {
		dash.SetAccount(account)
	}
	dash.SetAccountResolver(loadAccount)
	if err := dash.WatchKeystore(ctx, cfg.Daemon.KeystoreDir); err != nil {
		logging.Warn("keystore watch disabled", logging.Err(err))
	}

	// Metrics collector, fed by refresh results.
	collector := metrics.NewCollector()

	// API server.
	apiCfg := api.DefaultServerConfig()
	apiCfg.Addr = fmt.Sprintf(":%d", cfg.API.Port)
	apiCfg.RateLimit = cfg.API.RateLimitRequests
	apiCfg.APIKeyStorePath = filepath.Join(cfg.Daemon.DataDir, "api_keys.json")
	apiCfg.IdleTimeout = time.Duration(cfg.API.IdleTimeoutSecs) * time.Second
	apiCfg.TokenSymbol = cfg.Staking.TokenSymbol
	apiCfg.TokenDecimals = cfg.Staking.TokenDecimals

	server, err := api.NewServer(apiCfg, dash, collector.Handler())
	if err != nil {
		return err
	}
	collector.AddSyncFunc(func(c *metrics.Collector) {
		c.SetWSClients(server.Hub().ClientCount())
	})

	// Each published snapshot updates the metrics and notifies
	// WebSocket subscribers. UpdatedAt is stamped when the cycle
	// starts, so the elapsed time at publication is the cycle cost.
	dash.SetRefreshListener(func(snap *dashboard.Snapshot) {
		collector.ObserveRefresh(time.Since(snap.UpdatedAt), nil)
		collector.SetSnapshot(snap.HeadBlock, snap.RewardPoolBalance, snap.TotalStaked)
		server.Hub().Broadcast(api.ChannelRefresh, "snapshot", snap)
	})

	if err := server.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Stop(shutdownCtx)
	}()

	// Refresh loop: initial fill, then interval and trigger driven.
	util.SafeGoWithName("refresh-loop", func() {
		dash.Run(ctx)
	})

	logging.Info("stakewatchd started",
		"api_addr", apiCfg.Addr,
		"contract", cfg.Staking.ContractAddress,
		"chain_id", cfg.Chain.ChainID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info("shutting down")
	cancel()
	return nil
}

func setupLogging(cfg *config.Config) {
	level := cfg.Daemon.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	switch level {
	case "debug":
		logging.SetLevel(slog.LevelDebug)
	case "warn":
		logging.SetLevel(slog.LevelWarn)
	case "error":
		logging.SetLevel(slog.LevelError)
	default:
		logging.SetLevel(slog.LevelInfo)
	}

	if cfg.Daemon.LogFormat == "text" {
		logging.SetTextOutput(os.Stderr)
	} else {
		logging.SetOutput(os.Stderr)
	}
	logging.EnableRedaction()
}
