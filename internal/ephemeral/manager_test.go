package ephemeral

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"go.uber.org/zap"

	"ramp/internal/backend"
	"ramp/internal/blockchain/stellar"
	"ramp/internal/blockchain/substrate"
	"ramp/internal/models"
)

type fakeStellar struct {
	accountExists bool
	hasTrustline  bool
	trustlines    int
	sweeps        int
}

func (f *fakeStellar) AccountExists(ctx context.Context, address string) (bool, error) {
	return f.accountExists, nil
}

func (f *fakeStellar) HasTrustline(ctx context.Context, address string, asset stellar.Asset) (bool, error) {
	return f.hasTrustline, nil
}

func (f *fakeStellar) EstablishTrustline(ctx context.Context, secret string, asset stellar.Asset) (string, error) {
	f.trustlines++
	return "trust-hash", nil
}

func (f *fakeStellar) Sweep(ctx context.Context, secret, destination string, assets []stellar.Asset) error {
	f.sweeps++
	return nil
}

type tokenTransfer struct {
	currency substrate.CurrencyID
	amount   math.Int
}

type fakeChain struct {
	freeBalance    math.Int
	tokenBalances  map[substrate.CurrencyID]math.Int
	tokenTransfers []tokenTransfer
	nativeDrains   int
}

func (f *fakeChain) Keyring(seed string) (signature.KeyringPair, error) {
	return signature.KeyringPair{Address: seed, PublicKey: []byte(seed)}, nil
}

func (f *fakeChain) FreeBalance(ctx context.Context, publicKey []byte) (math.Int, error) {
	return f.freeBalance, nil
}

func (f *fakeChain) WaitForNativeBalance(ctx context.Context, publicKey []byte, minimum math.Int, interval, timeout time.Duration) error {
	return nil
}

func (f *fakeChain) TokenBalance(ctx context.Context, publicKey []byte, currency substrate.CurrencyID) (math.Int, error) {
	balance, ok := f.tokenBalances[currency]
	if !ok {
		return math.ZeroInt(), nil
	}
	return balance, nil
}

func (f *fakeChain) TransferToken(ctx context.Context, seed string, dest []byte, currency substrate.CurrencyID, amount math.Int) (string, error) {
	f.tokenTransfers = append(f.tokenTransfers, tokenTransfer{currency: currency, amount: amount})
	return "0xblock", nil
}

func (f *fakeChain) TransferAllNative(ctx context.Context, seed string, dest []byte) (string, error) {
	f.nativeDrains++
	return "0xblock", nil
}

type fakeFunder struct {
	requests []backend.FundEphemeralRequest
}

func (f *fakeFunder) FundEphemeral(ctx context.Context, req backend.FundEphemeralRequest) error {
	f.requests = append(f.requests, req)
	return nil
}

var (
	bridgedCurrency = substrate.XCMCurrency(1)
	wrappedCurrency = substrate.StellarCurrency([4]byte{'E', 'U', 'R', 'C'}, [32]byte{1})
)

func testManager(st *fakeStellar, chain *fakeChain, funder *fakeFunder) *Manager {
	return NewManager(st, chain, funder, Config{
		FundingMinimum:  math.NewInt(1_000),
		FundingAccount:  "GFUNDING",
		FundingSeed:     "//funding",
		PollInterval:    5 * time.Millisecond,
		FundingTimeout:  100 * time.Millisecond,
		SettlementAsset: stellar.Asset{Code: "EURC", Issuer: "GISSUER"},
		SweepCurrencies: []substrate.CurrencyID{bridgedCurrency, wrappedCurrency},
	}, zap.NewNop())
}

func testKeys() models.EphemeralKeys {
	return models.EphemeralKeys{
		StellarSecret:    "SEPHEMERAL",
		StellarAddress:   "GEPHEMERAL",
		SubstrateSeed:    "//ephemeral",
		SubstrateAddress: "5Ephemeral",
	}
}

func TestSweepDrainsTokenBalancesBeforeNative(t *testing.T) {
	chain := &fakeChain{
		tokenBalances: map[substrate.CurrencyID]math.Int{
			bridgedCurrency: math.NewInt(5_000),
			wrappedCurrency: math.ZeroInt(),
		},
	}
	st := &fakeStellar{accountExists: true}
	m := testManager(st, chain, &fakeFunder{})

	if err := m.Sweep(context.Background(), testKeys()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	// Only the currency with a balance is transferred; zero balances skip.
	if len(chain.tokenTransfers) != 1 {
		t.Fatalf("token transfers = %d, want 1", len(chain.tokenTransfers))
	}
	got := chain.tokenTransfers[0]
	if got.currency != bridgedCurrency || !got.amount.Equal(math.NewInt(5_000)) {
		t.Errorf("transfer = %+v, want bridged 5000", got)
	}
	if chain.nativeDrains != 1 {
		t.Errorf("native drains = %d, want 1", chain.nativeDrains)
	}
	if st.sweeps != 1 {
		t.Errorf("stellar sweeps = %d, want 1", st.sweeps)
	}
}

func TestFundSkipsBackendWhenAlreadyFunded(t *testing.T) {
	chain := &fakeChain{freeBalance: math.NewInt(2_000)}
	st := &fakeStellar{accountExists: true, hasTrustline: true}
	funder := &fakeFunder{}
	m := testManager(st, chain, funder)

	if err := m.Fund(context.Background(), "ramp-1", testKeys()); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if len(funder.requests) != 0 {
		t.Errorf("backend asked to fund %d times, want 0", len(funder.requests))
	}
}

func TestFundEstablishesMissingTrustline(t *testing.T) {
	chain := &fakeChain{freeBalance: math.NewInt(2_000)}
	st := &fakeStellar{accountExists: true, hasTrustline: false}
	m := testManager(st, chain, &fakeFunder{})

	if err := m.Fund(context.Background(), "ramp-1", testKeys()); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if st.trustlines != 1 {
		t.Errorf("trustlines established = %d, want 1", st.trustlines)
	}
}
