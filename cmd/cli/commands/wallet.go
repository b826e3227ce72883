package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/stakewatch/stakewatch/internal/identity"
)

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the staking wallet",
		Long: `Manage the Ethereum wallet used for signing gasless staking
transactions and admin operations.

The wallet is stored as an encrypted keystore file (geth V3 format).
These commands operate directly on keystore files, no daemon needed.

The wallet password can be stored in your platform keyring:
  macOS:           Keychain
  Linux (desktop): GNOME Keyring / KDE Wallet

Examples:
  stakewatch wallet create   # Generate a new wallet
  stakewatch wallet import   # Import from a private key
  stakewatch wallet show     # Show address and keystore path
  stakewatch wallet export   # Export private key (use with caution)`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletShowCmd())
	cmd.AddCommand(newWalletExportCmd())
	cmd.AddCommand(newWalletForgetPasswordCmd())

	return cmd
}

func defaultKeystoreDir() string {
	if cfg := loadConfigQuiet(); cfg != nil && cfg.Daemon.KeystoreDir != "" {
		return cfg.Daemon.KeystoreDir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".stakewatch", "keystore")
}

// storePasswordInKeyring attempts to store the wallet password in the
// platform keyring, printing fallback instructions when none exists.
func storePasswordInKeyring(password string) {
	if backend, err := identity.StoreWalletPassword(password); err == nil {
		fmt.Printf("  Password saved to %s\n", backend)
		fmt.Println("  The wallet will be unlocked automatically for CLI operations.")
		return
	}

	fmt.Println("  Could not store password in system keyring.")
	fmt.Println("  For automatic wallet unlock, set the STAKEWATCH_WALLET_PASSWORD")
	fmt.Println("  environment variable.")
}

func newWalletCreateCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new wallet",
		Long:  "Create a new Ethereum wallet with a password-encrypted keystore file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			existing, err := identity.Load(keystoreDir)
			if err != nil {
				return fmt.Errorf("failed to check keystore: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("wallet already exists at %s (address: %s)", keystoreDir, existing.Address().Hex())
			}

			const maxAttempts = 3
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				fmt.Fprint(os.Stderr, "Enter wallet password: ")
				password, err := readPasswordNoEcho()
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				fmt.Fprintln(os.Stderr)

				if len(password) < 8 {
					Warning("Password must be at least 8 characters. Try again.")
					continue
				}

				fmt.Fprint(os.Stderr, "Confirm wallet password: ")
				confirm, err := readPasswordNoEcho()
				if err != nil {
					return fmt.Errorf("failed to read confirmation: %w", err)
				}
				fmt.Fprintln(os.Stderr)

				if password != confirm {
					Warning("Passwords do not match. Try again.")
					continue
				}

				wallet, err := identity.Create(keystoreDir, password)
				if err != nil {
					return fmt.Errorf("failed to create wallet: %w", err)
				}

				fmt.Println()
				Success("Wallet created!")
				fmt.Println(StatusBox("Wallet", [][2]string{
					{"Address", wallet.Address().Hex()},
					{"Keystore", keystoreDir},
				}))
				storePasswordInKeyring(password)
				fmt.Println()
				Warning("Back up your keystore directory and remember your password.")
				fmt.Println(Hint("If you lose either, your funds are unrecoverable."))
				return nil
			}

			return fmt.Errorf("too many failed attempts")
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", defaultKeystoreDir(), "Path to keystore directory")

	return cmd
}

func newWalletImportCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a private key",
		Long:  "Import an existing Ethereum private key into an encrypted keystore file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			existing, err := identity.Load(keystoreDir)
			if err != nil {
				return fmt.Errorf("failed to check keystore: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("wallet already exists at %s (address: %s)", keystoreDir, existing.Address().Hex())
			}

			const maxAttempts = 3
			var privKeyHex string
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				fmt.Fprint(os.Stderr, "Enter private key (hex, with or without 0x prefix): ")
				input, err := readPasswordNoEcho()
				if err != nil {
					return fmt.Errorf("failed to read private key: %w", err)
				}
				fmt.Fprintln(os.Stderr)

				input = strings.TrimPrefix(input, "0x")
				if len(input) != 64 {
					Warning(fmt.Sprintf("Private key must be 64 hex characters (32 bytes), got %d. Try again.", len(input)))
					continue
				}
				privKeyHex = input
				break
			}
			if privKeyHex == "" {
				return fmt.Errorf("too many failed attempts")
			}

			for attempt := 1; attempt <= maxAttempts; attempt++ {
				fmt.Fprint(os.Stderr, "Enter wallet password: ")
				password, err := readPasswordNoEcho()
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				fmt.Fprintln(os.Stderr)

				if len(password) < 8 {
					Warning("Password must be at least 8 characters. Try again.")
					continue
				}

				fmt.Fprint(os.Stderr, "Confirm wallet password: ")
				confirm, err := readPasswordNoEcho()
				if err != nil {
					return fmt.Errorf("failed to read confirmation: %w", err)
				}
				fmt.Fprintln(os.Stderr)

				if password != confirm {
					Warning("Passwords do not match. Try again.")
					continue
				}

				wallet, err := identity.Import(keystoreDir, privKeyHex, password)
				if err != nil {
					return fmt.Errorf("failed to import wallet: %w", err)
				}

				fmt.Println()
				Success("Wallet imported!")
				fmt.Println(StatusBox("Wallet", [][2]string{
					{"Address", wallet.Address().Hex()},
					{"Keystore", keystoreDir},
				}))
				storePasswordInKeyring(password)
				return nil
			}

			return fmt.Errorf("too many failed attempts")
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", defaultKeystoreDir(), "Path to keystore directory")

	return cmd
}

func newWalletShowCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show wallet address and keystore path",
		Long:  "Display the wallet address and keystore directory. No password needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := identity.Load(keystoreDir)
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}
			if wallet == nil {
				Info("No wallet found.")
				fmt.Println(Hint("Create one with: stakewatch wallet create"))
				return nil
			}

			pwStatus := "not stored (manual unlock required)"
			if pw, err := identity.RetrieveWalletPassword(); err == nil && pw != "" {
				pwStatus = "stored in platform keyring"
			}

			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", wallet.Address().Hex()},
				{"Keystore", keystoreDir},
				{"Password", pwStatus},
			}))

			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", defaultKeystoreDir(), "Path to keystore directory")

	return cmd
}

func newWalletExportCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the wallet's private key",
		Long: `Export the wallet's private key in hex format.

WARNING: The private key controls all funds in this wallet.
Never share it, and clear your terminal history after use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := identity.Load(keystoreDir)
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}
			if wallet == nil {
				return fmt.Errorf("no wallet found at %s", keystoreDir)
			}

			fmt.Fprintf(os.Stderr, "WARNING: This will display your private key in plain text.\n")
			fmt.Fprintf(os.Stderr, "Anyone with this key can steal all funds in this wallet.\n\n")

			fmt.Fprint(os.Stderr, "Enter wallet password: ")
			password, err := readPasswordNoEcho()
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			fmt.Fprintln(os.Stderr)

			privKey, err := wallet.PrivateKey(password)
			if err != nil {
				return fmt.Errorf("failed to export key (wrong password?): %w", err)
			}
			defer wallet.ClearCachedKey()

			privKeyBytes := crypto.FromECDSA(privKey)
			fmt.Println()
			fmt.Printf("Address:     %s\n", wallet.Address().Hex())
			fmt.Printf("Private Key: %s\n", hex.EncodeToString(privKeyBytes))
			fmt.Println()
			fmt.Fprintln(os.Stderr, "Clear your terminal history: history -c && history -w")

			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", defaultKeystoreDir(), "Path to keystore directory")

	return cmd
}

func newWalletForgetPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget-password",
		Short: "Remove the wallet password from the system keyring",
		Long: `Remove the stored wallet password from the platform keyring.

After this, CLI commands will prompt for the password or read it from
the STAKEWATCH_WALLET_PASSWORD environment variable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := identity.DeleteWalletPassword(); err != nil {
				return fmt.Errorf("failed to remove password: %w", err)
			}
			fmt.Println("Removed password from platform keyring")
			return nil
		},
	}

	return cmd
}
