package nabla

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

func TestMinOut(t *testing.T) {
	tests := []struct {
		name        string
		quoted      string
		slippageBps uint32
		want        string
	}{
		{name: "fifty bps", quoted: "99500000", slippageBps: 50, want: "99002500"},
		{name: "one percent", quoted: "100000000", slippageBps: 100, want: "99000000"},
		{name: "zero slippage keeps the quote", quoted: "12345678", slippageBps: 0, want: "12345678"},
		{name: "rounds down", quoted: "999", slippageBps: 1, want: "998"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quoted, _ := new(big.Int).SetString(tt.quoted, 10)
			got := MinOut(quoted, tt.slippageBps)
			if got.String() != tt.want {
				t.Errorf("MinOut(%s, %d) = %s, want %s", tt.quoted, tt.slippageBps, got, tt.want)
			}
		})
	}
}

type fakeEvmChain struct {
	operator common.Address
}

func (f *fakeEvmChain) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return nil, errors.New("no contract calls expected")
}

func (f *fakeEvmChain) SubmitTx(ctx context.Context, to common.Address, data []byte, value *big.Int, gasLimit uint64, gasMultiplierPct int) (common.Hash, error) {
	return common.Hash{}, errors.New("no direct submissions expected")
}

func (f *fakeEvmChain) WaitForTransaction(ctx context.Context, txHash common.Hash, timeout time.Duration) (*ethtypes.Receipt, error) {
	return &ethtypes.Receipt{Status: 1}, nil
}

func (f *fakeEvmChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return nil, errors.New("not found")
}

func (f *fakeEvmChain) OperatorAddress() common.Address {
	return f.operator
}

type fakeToken struct {
	allowance    *big.Int
	approveCalls int
	lastApproved *big.Int
}

func (f *fakeToken) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeToken) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	f.approveCalls++
	f.lastApproved = new(big.Int).Set(amount)
	return common.HexToHash("0xaa"), nil
}

func testSwapper(t *testing.T, token *fakeToken) *Swapper {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}
	return &Swapper{
		client: &fakeEvmChain{operator: common.HexToAddress("0x01")},
		erc20:  token,
		abi:    parsed,
		cfg: Config{
			Router:      common.HexToAddress("0x02"),
			Deadline:    time.Minute,
			WaitTimeout: time.Second,
		},
		logger: zap.NewNop(),
	}
}

func TestEnsureApprovalSkipsWhenAllowanceCovers(t *testing.T) {
	token := &fakeToken{allowance: big.NewInt(1_000_000)}
	s := testSwapper(t, token)

	hash, err := s.EnsureApproval(context.Background(),
		common.HexToAddress("0x03"), big.NewInt(800_000), "", nil)
	if err != nil {
		t.Fatalf("EnsureApproval: %v", err)
	}
	if hash != "" {
		t.Errorf("hash = %q, want empty for a covered allowance", hash)
	}
	if token.approveCalls != 0 {
		t.Errorf("approve called %d times, want 0", token.approveCalls)
	}
}

func TestEnsureApprovalSubmitsOnlyTheDeficit(t *testing.T) {
	token := &fakeToken{allowance: big.NewInt(300_000)}
	s := testSwapper(t, token)

	var recorded string
	hash, err := s.EnsureApproval(context.Background(),
		common.HexToAddress("0x03"), big.NewInt(800_000),
		"", func(h string) error { recorded = h; return nil })
	if err != nil {
		t.Fatalf("EnsureApproval: %v", err)
	}
	if token.approveCalls != 1 {
		t.Fatalf("approve called %d times, want 1", token.approveCalls)
	}
	if token.lastApproved.Cmp(big.NewInt(500_000)) != 0 {
		t.Errorf("approved %s, want the 500000 deficit", token.lastApproved)
	}
	if hash == "" || recorded != hash {
		t.Errorf("hash = %q, recorded = %q, want the submission checkpointed", hash, recorded)
	}
}
