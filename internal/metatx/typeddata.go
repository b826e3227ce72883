// Package metatx implements gasless transaction submission: EIP-712
// typed-data construction, local signing and signer verification, the
// relay HTTP client, and the submission state machine that ties them
// together.
package metatx

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Action identifies one privileged contract operation executed via
// the relay.
type Action string

const (
	ActionStake                 Action = "Stake"
	ActionWithdrawReward        Action = "WithdrawReward"
	ActionUnstake               Action = "Unstake"
	ActionCompound              Action = "Compound"
	ActionWithdrawReferralBonus Action = "WithdrawReferralBonus"
	ActionBatchWithdrawRewards  Action = "BatchWithdrawRewards"
)

// relayFunction maps an action to the contract method the relay
// invokes on the user's behalf.
var relayFunction = map[Action]string{
	ActionStake:                 "executeMetaStake",
	ActionWithdrawReward:        "executeMetaWithdrawReward",
	ActionUnstake:               "executeMetaUnstake",
	ActionCompound:              "executeMetaCompound",
	ActionWithdrawReferralBonus: "executeMetaWithdrawReferralBonus",
	ActionBatchWithdrawRewards:  "executeMetaBatchWithdrawRewards",
}

// Domain is the fixed EIP-712 signing domain. The chain ID and
// verifying contract scope every signature to one deployment.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// Request describes one meta-transaction to build and sign. Only the
// fields relevant to the action are read.
type Request struct {
	Action       Action
	User         common.Address
	Amount       *big.Int       // Stake
	Referrer     common.Address // Stake, optional
	StakeIndex   uint64         // WithdrawReward, Unstake, Compound
	StakeIndices []uint64       // BatchWithdrawRewards
	Early        bool           // Unstake before the lock period ends

	// Populated by the submitter during Building; pre-set values are
	// honored so deadline guards are testable.
	Nonce    *big.Int
	Deadline *big.Int
}

// actionTypes returns the EIP-712 type schema for an action.
func actionTypes(action Action) ([]apitypes.Type, error) {
	base := func(fields ...apitypes.Type) []apitypes.Type {
		out := append([]apitypes.Type{{Name: "user", Type: "address"}}, fields...)
		return append(out,
			apitypes.Type{Name: "nonce", Type: "uint256"},
			apitypes.Type{Name: "deadline", Type: "uint256"},
		)
	}

	switch action {
	case ActionStake:
		return base(
			apitypes.Type{Name: "amount", Type: "uint256"},
			apitypes.Type{Name: "referrer", Type: "address"},
		), nil
	case ActionWithdrawReward, ActionCompound:
		return base(apitypes.Type{Name: "stakeIndex", Type: "uint256"}), nil
	case ActionUnstake:
		return base(
			apitypes.Type{Name: "stakeIndex", Type: "uint256"},
			apitypes.Type{Name: "early", Type: "bool"},
		), nil
	case ActionWithdrawReferralBonus:
		return base(), nil
	case ActionBatchWithdrawRewards:
		return base(apitypes.Type{Name: "stakeIndices", Type: "uint256[]"}), nil
	default:
		return nil, fmt.Errorf("unknown action: %s", action)
	}
}

// BuildTypedData assembles the typed-data structure for a request.
// Nonce and Deadline must already be populated.
func BuildTypedData(domain Domain, req *Request) (*apitypes.TypedData, error) {
	if req.Nonce == nil || req.Deadline == nil {
		return nil, fmt.Errorf("nonce and deadline must be set before building typed data")
	}

	fields, err := actionTypes(req.Action)
	if err != nil {
		return nil, err
	}

	message := apitypes.TypedDataMessage{
		"user":     req.User.Hex(),
		"nonce":    (*math.HexOrDecimal256)(req.Nonce),
		"deadline": (*math.HexOrDecimal256)(req.Deadline),
	}

	switch req.Action {
	case ActionStake:
		if req.Amount == nil || req.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("stake amount must be positive")
		}
		message["amount"] = (*math.HexOrDecimal256)(req.Amount)
		message["referrer"] = req.Referrer.Hex()
	case ActionWithdrawReward, ActionCompound:
		message["stakeIndex"] = (*math.HexOrDecimal256)(new(big.Int).SetUint64(req.StakeIndex))
	case ActionUnstake:
		message["stakeIndex"] = (*math.HexOrDecimal256)(new(big.Int).SetUint64(req.StakeIndex))
		message["early"] = req.Early
	case ActionBatchWithdrawRewards:
		if len(req.StakeIndices) == 0 {
			return nil, fmt.Errorf("batch withdraw requires at least one stake index")
		}
		indices := make([]interface{}, len(req.StakeIndices))
		for i, idx := range req.StakeIndices {
			indices[i] = (*math.HexOrDecimal256)(new(big.Int).SetUint64(idx))
		}
		message["stakeIndices"] = indices
	}

	return &apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			string(req.Action): fields,
		},
		PrimaryType: string(req.Action),
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           math.NewHexOrDecimal256(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: message,
	}, nil
}

// relayArgs returns the contract call arguments for the relay payload,
// in the order the execute* method expects: action args first, then
// deadline and the signature split into v, r, s. Amounts are decimal
// strings so the JSON body never loses precision.
func relayArgs(req *Request, sig []byte) ([]interface{}, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	var args []interface{}
	switch req.Action {
	case ActionStake:
		args = append(args, req.Amount.String(), req.Referrer.Hex())
	case ActionWithdrawReward, ActionCompound:
		args = append(args, fmt.Sprintf("%d", req.StakeIndex))
	case ActionUnstake:
		args = append(args, fmt.Sprintf("%d", req.StakeIndex), req.Early)
	case ActionWithdrawReferralBonus:
		// No action-specific args
	case ActionBatchWithdrawRewards:
		indices := make([]string, len(req.StakeIndices))
		for i, idx := range req.StakeIndices {
			indices[i] = fmt.Sprintf("%d", idx)
		}
		args = append(args, indices)
	default:
		return nil, fmt.Errorf("unknown action: %s", req.Action)
	}

	v := sig[64]
	r := common.BytesToHash(sig[:32])
	s := common.BytesToHash(sig[32:64])
	args = append(args, req.Deadline.String(), v, r.Hex(), s.Hex())
	return args, nil
}
