package substrate

import (
	"errors"
	"math/big"
	"testing"

	"cosmossdk.io/math"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

func h256(b byte) types.H256 {
	var raw [32]byte
	raw[0] = b
	return types.NewH256(raw[:])
}

func TestContainsExecutedRedeemMatchesByID(t *testing.T) {
	target := h256(7)
	records := redeemEventRecords{
		Redeem_ExecuteRedeem: []redeemExecutedEvent{
			{RedeemID: h256(1)},
			{RedeemID: target},
		},
	}

	if !containsExecutedRedeem(records, target) {
		t.Error("expected the target redeem to be found among the batch events")
	}
	if containsExecutedRedeem(records, h256(9)) {
		t.Error("unrelated redeem id must not match")
	}
}

func TestContainsExecutedRedeemIgnoresOtherEvents(t *testing.T) {
	records := redeemEventRecords{
		Redeem_RequestRedeem: []redeemRequestedEvent{{RedeemID: h256(7)}},
	}
	if containsExecutedRedeem(records, h256(7)) {
		t.Error("a RequestRedeem event must not count as execution")
	}
}

func TestIsRedeemConflict(t *testing.T) {
	if !isRedeemConflict(errors.New("Module error: AmountExceedsUserBalance")) {
		t.Error("pallet balance error should read as a conflict")
	}
	if isRedeemConflict(errors.New("connection reset")) {
		t.Error("network error must not read as a conflict")
	}
	if isRedeemConflict(nil) {
		t.Error("nil error must not read as a conflict")
	}
}

func TestVaultRedeemable(t *testing.T) {
	v := Vault{
		IssuedTokens:       types.NewU128(*big.NewInt(1000)),
		ToBeRedeemedTokens: types.NewU128(*big.NewInt(400)),
	}
	if got := v.Redeemable(); !got.Equal(math.NewInt(600)) {
		t.Errorf("Redeemable() = %s, want 600", got)
	}
}
