package commands

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/stakewatch/stakewatch/internal/config"
	"github.com/stakewatch/stakewatch/internal/identity"
)

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Set up stakewatch with a guided wizard.

Walks you through:
  1. Chain settings: RPC endpoint and chain ID
  2. Contract addresses: staking contract and stablecoin token
  3. The gasless transaction relay URL
  4. Create or import an Ethereum wallet

Use Shift+Tab or arrow keys to go back to previous steps.
Press Ctrl+C at any time to cancel without making changes.

Creates: ~/.stakewatch/config.yaml`,
		RunE: runInit,
	}

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	if !isTTY() {
		return fmt.Errorf("init requires an interactive terminal; edit %s directly instead", config.DefaultConfigPath())
	}

	fmt.Println()
	fmt.Println(StatusBox(Logo()+" Setup", [][2]string{
		{"", "Welcome! Let's configure the staking dashboard."},
		{"", "Use Shift+Tab to go back, Ctrl+C to cancel."},
	}))
	fmt.Println()

	cfg := config.DefaultConfig()
	configPath := ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	_, existingConfigErr := os.Stat(configPath)
	hasExistingConfig := existingConfigErr == nil

	existingWallet, _ := identity.Load(cfg.Daemon.KeystoreDir)

	// Form values
	var (
		rpcURL       string
		chainIDStr   string
		contractAddr string
		tokenAddr    string
		tokenSymbol  = cfg.Staking.TokenSymbol
		relayURL     string
		walletOp     string
		overwrite    bool
		confirm      bool
	)

	walletDesc := "A wallet is required for signing gasless transactions"
	if existingWallet != nil {
		walletDesc = fmt.Sprintf("Existing wallet found: %s", FormatAddress(existingWallet.Address().Hex()))
	}

	validateHTTPURL := func(s string) error {
		if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
			return fmt.Errorf("must start with http:// or https://")
		}
		if _, err := url.ParseRequestURI(s); err != nil {
			return fmt.Errorf("invalid URL: %v", err)
		}
		return nil
	}
	validateAddress := func(s string) error {
		if !common.IsHexAddress(s) {
			return fmt.Errorf("must be a 0x-prefixed 40-hex-char address")
		}
		if common.HexToAddress(s) == (common.Address{}) {
			return fmt.Errorf("the zero address is not a valid contract")
		}
		return nil
	}

	// Single form, multiple groups. Shift+Tab navigates back between
	// groups.
	form := huh.NewForm(
		// Group 1: Chain
		huh.NewGroup(
			huh.NewInput().
				Title("RPC endpoint").
				Description("HTTP(S) URL of an Ethereum JSON-RPC node").
				Placeholder("https://mainnet.infura.io/v3/<key>").
				Validate(validateHTTPURL).
				Value(&rpcURL),
			huh.NewInput().
				Title("Chain ID").
				Description("Numeric chain ID of the network (1 = mainnet)").
				Placeholder("1").
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					var id int64
					if _, err := fmt.Sscanf(s, "%d", &id); err != nil || id <= 0 {
						return fmt.Errorf("chain ID must be a positive integer")
					}
					return nil
				}).
				Value(&chainIDStr),
		),

		// Group 2: Contracts
		huh.NewGroup(
			huh.NewInput().
				Title("Staking contract address").
				Placeholder("0x...").
				Validate(validateAddress).
				Value(&contractAddr),
			huh.NewInput().
				Title("Stablecoin token address").
				Description("The ERC-20 the contract stakes (6-decimal USDT-style)").
				Placeholder("0x...").
				Validate(validateAddress).
				Value(&tokenAddr),
			huh.NewInput().
				Title("Token symbol").
				Placeholder("USDT").
				Value(&tokenSymbol),
		),

		// Group 3: Relay
		huh.NewGroup(
			huh.NewInput().
				Title("Relay URL").
				Description("Endpoint that sponsors gas for signed meta-transactions").
				Placeholder("https://relay.example.com/api/relay").
				Validate(validateHTTPURL).
				Value(&relayURL),
		),

		// Group 4: Wallet (hidden if already configured)
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Wallet setup").
				Description(walletDesc).
				Options(
					huh.NewOption("Create new wallet", "create"),
					huh.NewOption("Import existing private key", "import"),
					huh.NewOption("Skip (configure later with: stakewatch wallet create)", "skip"),
				).
				Value(&walletOp),
		).WithHideFunc(func() bool {
			return existingWallet != nil
		}),

		// Group 5: Overwrite warning (only if config exists)
		huh.NewGroup(
			huh.NewConfirm().
				Title("Config file already exists. Overwrite?").
				Description(configPath).
				Affirmative("Overwrite").
				Negative("Keep existing").
				Value(&overwrite),
		).WithHideFunc(func() bool {
			return !hasExistingConfig
		}),

		// Group 6: Confirmation with summary
		huh.NewGroup(
			huh.NewConfirm().
				TitleFunc(func() string {
					return "Apply this configuration?"
				}, &rpcURL).
				DescriptionFunc(func() string {
					chainID := chainIDStr
					if chainID == "" {
						chainID = "1"
					}
					lines := []string{
						fmt.Sprintf("RPC:      %s", rpcURL),
						fmt.Sprintf("Chain:    %s", chainID),
						fmt.Sprintf("Contract: %s", FormatAddress(contractAddr)),
						fmt.Sprintf("Token:    %s (%s)", FormatAddress(tokenAddr), tokenSymbol),
						fmt.Sprintf("Relay:    %s", relayURL),
					}
					if existingWallet != nil {
						lines = append(lines, fmt.Sprintf("Wallet:   %s (existing)", FormatAddress(existingWallet.Address().Hex())))
					} else {
						lines = append(lines, fmt.Sprintf("Wallet:   %s", walletOp))
					}
					lines = append(lines, fmt.Sprintf("Config:   %s", configPath))
					return strings.Join(lines, "\n")
				}, &confirm).
				Affirmative("Confirm").
				Negative("Cancel").
				Value(&confirm),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return err
	}

	if !confirm {
		Info("Setup cancelled, no changes made")
		return nil
	}

	// --- Apply configuration ---

	cfg.Chain.RPCURL = rpcURL
	if chainIDStr != "" {
		fmt.Sscanf(chainIDStr, "%d", &cfg.Chain.ChainID)
	}
	cfg.Staking.ContractAddress = common.HexToAddress(contractAddr).Hex()
	cfg.Staking.TokenAddress = common.HexToAddress(tokenAddr).Hex()
	if tokenSymbol != "" {
		cfg.Staking.TokenSymbol = tokenSymbol
	}
	cfg.Relay.URL = relayURL

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// Step 1: Wallet operation (side-effectful, can't be in the form)
	if existingWallet != nil {
		Success(fmt.Sprintf("Wallet: %s (existing)", existingWallet.Address().Hex()))
	} else {
		switch walletOp {
		case "create":
			walletCmd := newWalletCreateCmd()
			if err := walletCmd.RunE(walletCmd, nil); err != nil {
				Warning(fmt.Sprintf("Wallet creation failed: %v", err))
				fmt.Println(Hint("Create later with: stakewatch wallet create"))
			}
		case "import":
			walletCmd := newWalletImportCmd()
			if err := walletCmd.RunE(walletCmd, nil); err != nil {
				Warning(fmt.Sprintf("Wallet import failed: %v", err))
				fmt.Println(Hint("Import later with: stakewatch wallet import"))
			}
		case "skip":
			Info("Skipping wallet setup")
			fmt.Println(Hint("Create later with: stakewatch wallet create"))
		}
	}

	// Step 2: Write config
	if !hasExistingConfig || overwrite {
		if err := cfg.Save(configPath); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		Success(fmt.Sprintf("Config written to %s", configPath))
	} else {
		Info("Config file kept (not overwritten)")
	}

	// Summary
	fmt.Println()
	fmt.Println(StatusBox("Setup Complete", [][2]string{
		{"RPC", cfg.Chain.RPCURL},
		{"Contract", cfg.Staking.ContractAddress},
		{"Token", fmt.Sprintf("%s (%s)", cfg.Staking.TokenAddress, cfg.Staking.TokenSymbol)},
		{"Relay", cfg.Relay.URL},
		{"Config", configPath},
	}))

	fmt.Println()
	fmt.Println(Hint("Next: stakewatchd --config " + configPath + " && stakewatch status"))

	return nil
}
