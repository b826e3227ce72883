package metatx

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/stakewatch/stakewatch/internal/logging"
)

// State is one phase of a gasless submission.
type State string

const (
	StateIdle                 State = "idle"
	StateBuilding             State = "building"
	StateAwaitingSignature    State = "awaiting_signature"
	StateVerifying            State = "verifying"
	StateSubmitting           State = "submitting"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateConfirmed            State = "confirmed"
	StateFailed               State = "failed"
)

var (
	// ErrSubmissionInFlight is returned when a second submission is
	// attempted while one is still unconfirmed. The nonce is a
	// strictly increasing per-user counter fetched fresh each time;
	// concurrent submissions would race on the same value.
	ErrSubmissionInFlight = errors.New("another gasless transaction is still in flight")

	// ErrDeadlinePassed is returned when the deadline is already in
	// the past before signing is attempted.
	ErrDeadlinePassed = errors.New("transaction deadline is in the past")

	// ErrInvalidUser is returned for a zero or malformed user address.
	ErrInvalidUser = errors.New("user address is not well-formed")

	// ErrSigningRejected wraps wallet signing failures. Never retried
	// automatically: a user-rejected signature is not a transient
	// fault.
	ErrSigningRejected = errors.New("wallet rejected or failed to sign")

	// ErrConfirmationTimeout is returned when no receipt lands within
	// the confirmation window.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")

	// ErrTransactionReverted is returned for a definitive on-chain
	// revert, as opposed to "still pending".
	ErrTransactionReverted = errors.New("transaction reverted on chain")

	// ErrAccountSuspended is returned when the compliance check
	// blocks the account from submitting.
	ErrAccountSuspended = errors.New("account is suspended")
)

// NonceSource fetches the user's meta-tx nonce. Satisfied by
// *chain.StakingContract.
type NonceSource interface {
	Nonce(ctx context.Context, user common.Address) (*big.Int, error)
}

// ReceiptSource polls transaction receipts. Satisfied by
// *chain.Client. A pending transaction returns ethereum.NotFound.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

// SuspensionChecker gates submissions on compliance status. Optional.
type SuspensionChecker interface {
	IsSuspended(ctx context.Context, user common.Address) (bool, string, error)
}

// Outcome is the result of one submission.
type Outcome struct {
	Action  Action
	TxHash  common.Hash
	Receipt *ethtypes.Receipt
	State   State
}

// SubmitterConfig holds timing parameters for the state machine
type SubmitterConfig struct {
	DeadlineWindow time.Duration // signed deadline offset from now
	ConfirmTimeout time.Duration // receipt poll window
	PollInterval   time.Duration
}

// DefaultSubmitterConfig returns the observed production timings
func DefaultSubmitterConfig() *SubmitterConfig {
	return &SubmitterConfig{
		DeadlineWindow: 30 * time.Minute,
		ConfirmTimeout: 60 * time.Second,
		PollInterval:   2 * time.Second,
	}
}

// Submitter drives a gasless transaction through
// Building -> AwaitingSignature -> Verifying -> Submitting ->
// AwaitingConfirmation -> Confirmed | Failed. At most one submission
// is in flight at a time.
type Submitter struct {
	domain     Domain
	nonces     NonceSource
	signer     Signer
	relay      RelaySubmitter
	receipts   ReceiptSource
	suspension SuspensionChecker // optional
	config     *SubmitterConfig

	mu       sync.Mutex
	inFlight bool
	state    State

	onState func(Action, State) // optional listener, e.g. websocket push
}

// NewSubmitter assembles a submitter from its collaborators.
func NewSubmitter(domain Domain, nonces NonceSource, signer Signer, relay RelaySubmitter, receipts ReceiptSource, config *SubmitterConfig) *Submitter {
	if config == nil {
		config = DefaultSubmitterConfig()
	}
	return &Submitter{
		domain:   domain,
		nonces:   nonces,
		signer:   signer,
		relay:    relay,
		receipts: receipts,
		config:   config,
		state:    StateIdle,
	}
}

// SetSuspensionChecker enables the compliance gate
func (s *Submitter) SetSuspensionChecker(checker SuspensionChecker) {
	s.suspension = checker
}

// SetStateListener registers a callback invoked on every state
// transition.
func (s *Submitter) SetStateListener(fn func(Action, State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// State returns the current submission state
func (s *Submitter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Submitter) setState(action Action, state State) {
	s.mu.Lock()
	s.state = state
	fn := s.onState
	s.mu.Unlock()

	logging.Debug("submission state change", logging.Action(string(action)), "state", string(state))
	if fn != nil {
		fn(action, state)
	}
}

// Submit runs one request through the full state machine. The steps
// are strictly sequential: nonce fetch happens before signing, signing
// before verification, verification before the relay call, the relay
// call before confirmation polling.
func (s *Submitter) Submit(ctx context.Context, req *Request) (*Outcome, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	outcome, err := s.run(ctx, req)
	if err != nil {
		s.setState(req.Action, StateFailed)
		logging.Audit(logging.AuditEvent{
			Operation: "meta_tx_submitted",
			Actor:     req.User.Hex(),
			Target:    string(req.Action),
			Result:    "failure",
			Details:   err.Error(),
		})
		return outcome, err
	}

	s.setState(req.Action, StateConfirmed)
	logging.Audit(logging.AuditEvent{
		Operation: "meta_tx_submitted",
		Actor:     req.User.Hex(),
		Target:    string(req.Action),
		Result:    "success",
		Details:   outcome.TxHash.Hex(),
	})
	return outcome, nil
}

func (s *Submitter) run(ctx context.Context, req *Request) (*Outcome, error) {
	outcome := &Outcome{Action: req.Action, State: StateFailed}

	// Building: local precondition checks, then assemble the message
	// with a fresh nonce and a bounded deadline.
	s.setState(req.Action, StateBuilding)

	if req.User == (common.Address{}) {
		return outcome, ErrInvalidUser
	}

	if s.suspension != nil {
		suspended, reason, err := s.suspension.IsSuspended(ctx, req.User)
		if err != nil {
			return outcome, fmt.Errorf("suspension check failed: %w", err)
		}
		if suspended {
			return outcome, fmt.Errorf("%w: %s", ErrAccountSuspended, reason)
		}
	}

	if req.Deadline == nil {
		req.Deadline = big.NewInt(time.Now().Add(s.config.DeadlineWindow).Unix())
	}
	// Guard before signing: a stale deadline must never reach the
	// wallet.
	if req.Deadline.Int64() <= time.Now().Unix() {
		return outcome, ErrDeadlinePassed
	}

	nonce, err := s.nonces.Nonce(ctx, req.User)
	if err != nil {
		return outcome, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	req.Nonce = nonce

	typedData, err := BuildTypedData(s.domain, req)
	if err != nil {
		return outcome, fmt.Errorf("failed to build typed data: %w", err)
	}

	// AwaitingSignature: terminal on failure, never retried.
	s.setState(req.Action, StateAwaitingSignature)
	sig, err := s.signer.SignTypedData(ctx, typedData)
	if err != nil {
		return outcome, fmt.Errorf("%w: %v", ErrSigningRejected, err)
	}

	// Verifying: catch local signing bugs before wasting a relay
	// round trip.
	s.setState(req.Action, StateVerifying)
	if err := VerifySigner(typedData, sig, req.User); err != nil {
		return outcome, err
	}

	// Submitting: relay errors are retried inside the client. A hash
	// captured on a failed attempt still moves to confirmation,
	// because the relay may have broadcast before losing the reply.
	s.setState(req.Action, StateSubmitting)
	args, err := relayArgs(req, sig)
	if err != nil {
		return outcome, err
	}
	payload := &RelayPayload{
		ContractAddress: s.domain.VerifyingContract.Hex(),
		FunctionName:    relayFunction[req.Action],
		Args:            args,
		UserAddress:     req.User.Hex(),
		Signature:       "0x" + common.Bytes2Hex(sig),
		ChainID:         s.domain.ChainID,
	}

	txHash, submitErr := s.relay.Submit(ctx, payload)
	if submitErr != nil && txHash == (common.Hash{}) {
		return outcome, fmt.Errorf("relay submission failed: %w", submitErr)
	}
	outcome.TxHash = txHash
	if submitErr != nil {
		logging.Warn("relay errored but returned a transaction hash, checking chain",
			logging.TxHash(txHash.Hex()), logging.Err(submitErr))
	}

	// AwaitingConfirmation: poll until a definitive receipt or
	// timeout. Pending is not failure; only a revert or the window
	// elapsing is.
	s.setState(req.Action, StateAwaitingConfirmation)
	receipt, err := s.awaitReceipt(ctx, txHash)
	if err != nil {
		return outcome, err
	}
	outcome.Receipt = receipt
	outcome.State = StateConfirmed
	return outcome, nil
}

func (s *Submitter) awaitReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	deadline := time.Now().Add(s.config.ConfirmTimeout)

	for {
		receipt, err := s.receipts.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == ethtypes.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: %s", ErrTransactionReverted, txHash.Hex())
			}
			return receipt, nil
		}
		// NotFound means still pending; other errors are transient
		// RPC trouble. Both keep polling until the window closes.

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrConfirmationTimeout, txHash.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.PollInterval):
		}
	}
}
