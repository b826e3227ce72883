package metatx

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrSignerMismatch is returned when a signature recovers to an
// address other than the requesting user. Treated as a local bug or
// tamper signal; the payload is never sent.
var ErrSignerMismatch = errors.New("recovered signer does not match user address")

// Signer produces an EIP-712 signature for typed data. A wallet
// rejection surfaces as an error and is terminal for the attempt.
type Signer interface {
	SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error)
	Address() common.Address
}

// KeySigner signs typed data with an in-memory private key, as
// decrypted from the local keystore.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner creates a signer from a private key
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the signing address
func (ks *KeySigner) Address() common.Address {
	return ks.address
}

// SignTypedData hashes the typed data per EIP-712 and signs it.
// The recovery byte is shifted to the 27/28 convention expected by
// on-chain ecrecover.
func (ks *KeySigner) SignTypedData(_ context.Context, typedData *apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(*typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	sig, err := crypto.Sign(hash, ks.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner recovers the address that produced a 65-byte
// signature over the given typed data.
func RecoverSigner(typedData *apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	hash, _, err := apitypes.TypedDataAndHash(*typedData)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash typed data: %w", err)
	}

	// Normalize the recovery byte back to 0/1 for SigToPub
	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, sigCopy)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySigner checks that the signature over typedData recovers to
// expected. Run locally before any relay round trip.
func VerifySigner(typedData *apitypes.TypedData, sig []byte, expected common.Address) error {
	recovered, err := RecoverSigner(typedData, sig)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered.Hex(), expected.Hex()) {
		return fmt.Errorf("%w: recovered %s, expected %s", ErrSignerMismatch, recovered.Hex(), expected.Hex())
	}
	return nil
}
