// Package identity manages the local wallet: an encrypted keystore
// holding the staking account, with the password optionally stored in
// the OS keyring.
package identity

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stakewatch/stakewatch/internal/logging"
)

// Scrypt parameters, lowered in tests where the standard cost would
// dominate the run time.
var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

// Wallet wraps the keystore account used for signing stakes and
// gasless transactions.
type Wallet struct {
	keystore   *keystore.KeyStore
	dir        string
	address    common.Address
	privateKey *ecdsa.PrivateKey
}

// Load opens the keystore directory and returns the wallet, or
// (nil, nil) when no account exists yet. A nil wallet means read-only
// mode: the dashboard works, signing does not.
func Load(keystoreDir string) (*Wallet, error) {
	ks, err := openKeystore(keystoreDir)
	if err != nil {
		return nil, err
	}

	accounts := ks.Accounts()
	if len(accounts) == 0 {
		return nil, nil
	}
	return &Wallet{
		keystore: ks,
		dir:      keystoreDir,
		address:  accounts[0].Address,
	}, nil
}

// Create generates a new account encrypted with password. Fails if an
// account already exists; stakewatch tracks exactly one.
func Create(keystoreDir, password string) (*Wallet, error) {
	ks, err := openKeystore(keystoreDir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", keystoreDir)
	}

	account, err := ks.NewAccount(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	logging.Audit(logging.AuditEvent{
		Operation: "wallet_created",
		Target:    account.Address.Hex(),
		Result:    "success",
	})
	return &Wallet{
		keystore: ks,
		dir:      keystoreDir,
		address:  account.Address,
	}, nil
}

// Import stores an existing private key in the keystore. Fails if an
// account already exists.
func Import(keystoreDir, privKeyHex, password string) (*Wallet, error) {
	ks, err := openKeystore(keystoreDir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", keystoreDir)
	}

	privateKey, err := crypto.HexToECDSA(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	account, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}

	logging.Audit(logging.AuditEvent{
		Operation: "wallet_imported",
		Target:    account.Address.Hex(),
		Result:    "success",
	})
	return &Wallet{
		keystore: ks,
		dir:      keystoreDir,
		address:  account.Address,
	}, nil
}

func openKeystore(dir string) (*keystore.KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return keystore.NewKeyStore(dir, scryptN, scryptP), nil
}

// Address returns the staking account address
func (w *Wallet) Address() common.Address {
	return w.address
}

// KeystoreDir returns the keystore directory path
func (w *Wallet) KeystoreDir() string {
	return w.dir
}

// PrivateKey decrypts and returns the account key. The decrypted key
// is cached until ClearCachedKey.
func (w *Wallet) PrivateKey(password string) (*ecdsa.PrivateKey, error) {
	if w.privateKey != nil {
		return w.privateKey, nil
	}

	accounts := w.keystore.Accounts()
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no account in keystore")
	}

	keyJSON, err := os.ReadFile(accounts[0].URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}

	w.privateKey = key.PrivateKey
	return key.PrivateKey, nil
}

// ClearCachedKey zeros and drops the cached private key. It is
// re-derived from the keystore on next use.
func (w *Wallet) ClearCachedKey() {
	if w.privateKey != nil {
		w.privateKey.D.SetUint64(0)
		w.privateKey = nil
	}
}
