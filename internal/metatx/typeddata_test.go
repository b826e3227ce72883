package metatx

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testDomain() Domain {
	return Domain{
		Name:              "StakeWatch",
		Version:           "1",
		ChainID:           1,
		VerifyingContract: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
}

func stakeRequest() *Request {
	return &Request{
		Action:   ActionStake,
		User:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Amount:   big.NewInt(100_000_000),
		Nonce:    big.NewInt(0),
		Deadline: big.NewInt(1_900_000_000),
	}
}

func TestBuildTypedDataRequiresNonceAndDeadline(t *testing.T) {
	req := stakeRequest()
	req.Nonce = nil

	if _, err := BuildTypedData(testDomain(), req); err == nil {
		t.Fatal("expected error for missing nonce")
	}

	req = stakeRequest()
	req.Deadline = nil
	if _, err := BuildTypedData(testDomain(), req); err == nil {
		t.Fatal("expected error for missing deadline")
	}
}

func TestBuildTypedDataRejectsNonPositiveStake(t *testing.T) {
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		req := stakeRequest()
		req.Amount = amount
		if _, err := BuildTypedData(testDomain(), req); err == nil {
			t.Errorf("expected error for amount %v", amount)
		}
	}
}

func TestBuildTypedDataRejectsEmptyBatch(t *testing.T) {
	req := stakeRequest()
	req.Action = ActionBatchWithdrawRewards
	req.StakeIndices = nil

	if _, err := BuildTypedData(testDomain(), req); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestBuildTypedDataRejectsUnknownAction(t *testing.T) {
	req := stakeRequest()
	req.Action = Action("Teleport")

	if _, err := BuildTypedData(testDomain(), req); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestBuildTypedDataPrimaryTypePerAction(t *testing.T) {
	tests := []struct {
		action Action
		mutate func(*Request)
	}{
		{ActionStake, func(r *Request) {}},
		{ActionWithdrawReward, func(r *Request) { r.StakeIndex = 2 }},
		{ActionUnstake, func(r *Request) { r.StakeIndex = 1; r.Early = true }},
		{ActionCompound, func(r *Request) { r.StakeIndex = 0 }},
		{ActionWithdrawReferralBonus, func(r *Request) {}},
		{ActionBatchWithdrawRewards, func(r *Request) { r.StakeIndices = []uint64{0, 1} }},
	}

	for _, tt := range tests {
		req := stakeRequest()
		req.Action = tt.action
		tt.mutate(req)

		td, err := BuildTypedData(testDomain(), req)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.action, err)
		}
		if td.PrimaryType != string(tt.action) {
			t.Errorf("%s: primary type = %q", tt.action, td.PrimaryType)
		}
		if _, ok := td.Types[string(tt.action)]; !ok {
			t.Errorf("%s: type schema missing", tt.action)
		}
	}
}

func TestRelayArgsStakeOrdering(t *testing.T) {
	req := stakeRequest()
	req.Referrer = common.HexToAddress("0x3333333333333333333333333333333333333333")
	sig := make([]byte, 65)
	sig[64] = 28

	args, err := relayArgs(req, sig)
	if err != nil {
		t.Fatalf("relayArgs: %v", err)
	}

	// amount, referrer, deadline, v, r, s
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if args[0] != "100000000" {
		t.Errorf("amount arg = %v", args[0])
	}
	if !strings.EqualFold(args[1].(string), req.Referrer.Hex()) {
		t.Errorf("referrer arg = %v", args[1])
	}
	if args[2] != req.Deadline.String() {
		t.Errorf("deadline arg = %v", args[2])
	}
	if args[3] != byte(28) {
		t.Errorf("v arg = %v", args[3])
	}
}

func TestRelayArgsRejectsShortSignature(t *testing.T) {
	if _, err := relayArgs(stakeRequest(), make([]byte, 64)); err == nil {
		t.Fatal("expected error for 64-byte signature")
	}
}
