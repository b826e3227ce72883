// Package config handles loading and validation of stakewatch configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the daemon and CLI
type Config struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	API       APIConfig       `yaml:"api"`
	Chain     ChainConfig     `yaml:"chain"`
	Staking   StakingConfig   `yaml:"staking"`
	Relay     RelayConfig     `yaml:"relay"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Cache     CacheConfig     `yaml:"cache"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// DaemonConfig contains daemon process settings
type DaemonConfig struct {
	DataDir     string `yaml:"data_dir"`
	KeystoreDir string `yaml:"keystore_dir"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // "json" or "text"
	MetricsPort int    `yaml:"metrics_port"`
}

// APIConfig contains HTTP API server settings
type APIConfig struct {
	Port                int `yaml:"port"`
	RateLimitRequests   int `yaml:"rate_limit_requests"`    // Max requests per window (default: 100)
	RateLimitWindowSecs int `yaml:"rate_limit_window_secs"` // Window duration in seconds (default: 60)

	ReadTimeoutSecs  int `yaml:"read_timeout_secs"`  // Read timeout (default: 30)
	WriteTimeoutSecs int `yaml:"write_timeout_secs"` // Write timeout (default: 30)
	IdleTimeoutSecs  int `yaml:"idle_timeout_secs"`  // Idle connection timeout (default: 120)
}

// ChainConfig contains RPC and network settings
type ChainConfig struct {
	ChainID            int64  `yaml:"chain_id"`
	RPCURL             string `yaml:"rpc_url"`
	BlockConfirmations int    `yaml:"block_confirmations"`
}

// StakingConfig contains contract addresses and token parameters
type StakingConfig struct {
	ContractAddress string `yaml:"contract_address"` // Staking contract
	TokenAddress    string `yaml:"token_address"`    // Stablecoin ERC-20
	TokenSymbol     string `yaml:"token_symbol"`
	TokenDecimals   int    `yaml:"token_decimals"`
	DeploymentBlock uint64 `yaml:"deployment_block"` // First block to scan for events

	MinStake      string `yaml:"min_stake"`      // Minimum stake, decimal string
	MinWithdrawal string `yaml:"min_withdrawal"` // Minimum reward withdrawal, decimal string
}

// RelayConfig contains the meta-transaction relay settings
type RelayConfig struct {
	URL                 string `yaml:"url"`
	DeadlineWindowMins  int    `yaml:"deadline_window_mins"`  // Signed deadline offset (default: 30)
	ConfirmTimeoutSecs  int    `yaml:"confirm_timeout_secs"`  // Receipt poll timeout (default: 60)
	SuspensionCheckBase string `yaml:"suspension_check_base"` // Compliance API base URL, optional
}

// IndexerConfig contains event-scan settings
type IndexerConfig struct {
	ChunkSize   uint64 `yaml:"chunk_size"`   // Blocks per getLogs query (default: 250)
	Concurrency int    `yaml:"concurrency"`  // Parallel chunk fetches (default: 4)
	RecentDays  int    `yaml:"recent_days"`  // Window for daily stake view (default: 7)
	ReferralCap int    `yaml:"referral_cap"` // Max referrals shown (default: 10)
}

// CacheConfig contains local cache settings
type CacheConfig struct {
	Dir     string `yaml:"dir"`
	TTLSecs int    `yaml:"ttl_secs"` // Entry time-to-live (default: 60)
}

// DashboardConfig contains refresh orchestration settings
type DashboardConfig struct {
	RefreshIntervalSecs int `yaml:"refresh_interval_secs"` // Periodic refresh (default: 30)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".stakewatch")

	return &Config{
		Daemon: DaemonConfig{
			DataDir:     dataDir,
			KeystoreDir: filepath.Join(dataDir, "keystore"),
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9091,
		},
		API: APIConfig{
			Port:                8480,
			RateLimitRequests:   100,
			RateLimitWindowSecs: 60,
			ReadTimeoutSecs:     30,
			WriteTimeoutSecs:    30,
			IdleTimeoutSecs:     120,
		},
		Chain: ChainConfig{
			ChainID:            1,
			RPCURL:             "",
			BlockConfirmations: 2,
		},
		Staking: StakingConfig{
			TokenSymbol:   "USDT",
			TokenDecimals: 6,
			MinStake:      "100",
			MinWithdrawal: "1",
		},
		Relay: RelayConfig{
			DeadlineWindowMins: 30,
			ConfirmTimeoutSecs: 60,
		},
		Indexer: IndexerConfig{
			ChunkSize:   250,
			Concurrency: 4,
			RecentDays:  7,
			ReferralCap: 10,
		},
		Cache: CacheConfig{
			Dir:     filepath.Join(dataDir, "cache"),
			TTLSecs: 60,
		},
		Dashboard: DashboardConfig{
			RefreshIntervalSecs: 30,
		},
	}
}

// Load loads configuration from file. A missing file returns defaults;
// a malformed file or a failed validation is a fatal startup error for
// callers.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("invalid chain_id: %d", c.Chain.ChainID)
	}
	if err := validateURL("rpc_url", c.Chain.RPCURL); err != nil {
		return err
	}
	if c.Chain.BlockConfirmations < 0 {
		return fmt.Errorf("block_confirmations must be >= 0, got %d", c.Chain.BlockConfirmations)
	}

	if err := validateEthAddress("contract_address", c.Staking.ContractAddress); err != nil {
		return err
	}
	if err := validateEthAddress("token_address", c.Staking.TokenAddress); err != nil {
		return err
	}
	if c.Staking.TokenDecimals < 0 || c.Staking.TokenDecimals > 30 {
		return fmt.Errorf("invalid token_decimals: %d", c.Staking.TokenDecimals)
	}

	if err := validateURL("relay.url", c.Relay.URL); err != nil {
		return err
	}
	if c.Relay.DeadlineWindowMins < 1 || c.Relay.DeadlineWindowMins > 24*60 {
		return fmt.Errorf("deadline_window_mins must be between 1 and 1440, got %d", c.Relay.DeadlineWindowMins)
	}
	if c.Relay.SuspensionCheckBase != "" {
		if err := validateURL("suspension_check_base", c.Relay.SuspensionCheckBase); err != nil {
			return err
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}
	if c.Indexer.ChunkSize < 1 {
		return fmt.Errorf("indexer chunk_size must be at least 1")
	}
	if c.Indexer.Concurrency < 1 {
		return fmt.Errorf("indexer concurrency must be at least 1")
	}
	if c.Cache.TTLSecs < 1 {
		return fmt.Errorf("cache ttl_secs must be at least 1")
	}
	if c.Dashboard.RefreshIntervalSecs < 1 {
		return fmt.Errorf("refresh_interval_secs must be at least 1")
	}

	return nil
}

// validateEthAddress checks that an Ethereum address is 0x-prefixed, 40 hex chars, and non-zero.
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	allZero := true
	for _, ch := range hexPart {
		if ch != '0' {
			allZero = false
			break
		}
	}
	if allZero {
		return fmt.Errorf("%s is the zero address", name)
	}
	return nil
}

// validateURL checks that a URL is present and http(s)-shaped.
func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s must be http(s) or ws(s), got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", name)
	}
	return nil
}

// expandPaths expands ~ in all path-valued fields
func (c *Config) expandPaths() {
	c.Daemon.DataDir = expandPath(c.Daemon.DataDir)
	c.Daemon.KeystoreDir = expandPath(c.Daemon.KeystoreDir)
	c.Cache.Dir = expandPath(c.Cache.Dir)
}

// expandPath expands a leading ~ to the user's home directory
func expandPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "stakewatch.yaml"
	}
	return filepath.Join(homeDir, ".stakewatch", "config.yaml")
}

// EnsureDirectories creates the data, keystore, and cache directories
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Daemon.DataDir, c.Daemon.KeystoreDir, c.Cache.Dir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
