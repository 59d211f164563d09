// Package vault runs the Spacewalk redeem leg: choosing a vault, requesting
// the redeem, and waiting for the vault to deliver on Stellar.
package vault

import (
	"context"
	"time"

	"cosmossdk.io/math"
	"github.com/stellar/go/strkey"
	"go.uber.org/zap"

	"ramp/internal/blockchain/substrate"
	"ramp/internal/ramperr"
)

// Chain is the subset of the parachain connection the redeemer needs. It is
// an interface so tests can run against a fake chain.
type Chain interface {
	ListVaults(ctx context.Context, wrapped substrate.CurrencyID) ([]substrate.Vault, error)
	RequestRedeem(ctx context.Context, seed string, vault substrate.VaultID, amount math.Int, stellarDest [32]byte) (string, error)
	WaitForRedeemExecution(ctx context.Context, redeemID string, timeout time.Duration) error
	TokenBalance(ctx context.Context, publicKey []byte, currency substrate.CurrencyID) (math.Int, error)
	AccountKey(seed string) ([]byte, error)
}

// Config bounds the redeem waits.
type Config struct {
	Wrapped        substrate.CurrencyID
	PollInterval   time.Duration
	RedeemTimeout  time.Duration // vault execution wait
	BalanceTimeout time.Duration // wrapped balance convergence wait
}

// Redeemer orchestrates redeem requests against the vault registry.
type Redeemer struct {
	chain  Chain
	cfg    Config
	logger *zap.Logger
}

// NewRedeemer binds the redeemer to a chain connection.
func NewRedeemer(chain Chain, cfg Config, logger *zap.Logger) *Redeemer {
	return &Redeemer{chain: chain, cfg: cfg, logger: logger}
}

// SelectVault picks the vault that will serve the redeem. The input slice is
// ordered by registry key, and the first eligible vault wins, so every call
// with the same registry state picks the same vault. A crashed saga that
// re-runs selection therefore targets the vault its lost request went to.
func SelectVault(vaults []substrate.Vault, amount math.Int) (substrate.VaultID, error) {
	for _, v := range vaults {
		if !v.Status.IsActive || v.Status.IsLiquidated {
			continue
		}
		if v.BannedUntil.IsSome() {
			continue
		}
		if v.Redeemable().LT(amount) {
			continue
		}
		return v.ID, nil
	}
	return substrate.VaultID{}, ramperr.Transient(ramperr.NoEligibleVault,
		"no active vault can cover the redeem amount", nil)
}

// RequestParams describes one redeem request.
type RequestParams struct {
	Seed           string // ephemeral substrate seed, signs the request
	Amount         math.Int
	StellarAddress string // redeem destination
	PriorRedeemID  string // from a previous attempt, if any
	Recovering     bool   // saga is re-running this phase after a crash
}

// Request submits a redeem request and returns the chain-assigned redeem id.
//
// Recovery rules: a recorded redeem id is returned as-is. Without one, a
// wrapped balance below the redeem amount means either the swap output has
// not settled yet (wait for it) or, when re-running after a crash, that a
// lost request already locked the tokens (conflict, not failure).
func (r *Redeemer) Request(ctx context.Context, params RequestParams) (string, error) {
	if params.PriorRedeemID != "" {
		return params.PriorRedeemID, nil
	}

	dest, err := strkey.Decode(strkey.VersionByteAccountID, params.StellarAddress)
	if err != nil || len(dest) != 32 {
		return "", ramperr.Fatal(ramperr.TxSubmitFailed, "invalid stellar destination address", err)
	}
	var stellarDest [32]byte
	copy(stellarDest[:], dest)

	publicKey, err := r.chain.AccountKey(params.Seed)
	if err != nil {
		return "", err
	}

	balance, err := r.chain.TokenBalance(ctx, publicKey, r.cfg.Wrapped)
	if err != nil {
		return "", err
	}
	if balance.LT(params.Amount) {
		if params.Recovering {
			return "", ramperr.Conflict(ramperr.RedeemAlreadyExecuted,
				"wrapped balance is below the redeem amount after a crash; a lost request already locked the tokens", nil)
		}
		if err := r.awaitBalance(ctx, publicKey, params.Amount); err != nil {
			return "", err
		}
	}

	vaults, err := r.chain.ListVaults(ctx, r.cfg.Wrapped)
	if err != nil {
		return "", err
	}
	vault, err := SelectVault(vaults, params.Amount)
	if err != nil {
		return "", err
	}

	redeemID, err := r.chain.RequestRedeem(ctx, params.Seed, vault, params.Amount, stellarDest)
	if err != nil {
		return "", err
	}

	r.logger.Info("Redeem request accepted",
		zap.String("redeem_id", redeemID),
		zap.String("vault", vault.Key()),
		zap.String("amount", params.Amount.String()))
	return redeemID, nil
}

// AwaitExecution waits for the vault to deliver the Stellar payment.
func (r *Redeemer) AwaitExecution(ctx context.Context, redeemID string) error {
	return r.chain.WaitForRedeemExecution(ctx, redeemID, r.cfg.RedeemTimeout)
}

// awaitBalance polls until the wrapped balance covers the redeem amount. The
// timeout surfaces as BalanceTimeout so it is never confused with a vault
// that accepted the request and went silent.
func (r *Redeemer) awaitBalance(ctx context.Context, publicKey []byte, amount math.Int) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.BalanceTimeout)
	defer cancel()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		balance, err := r.chain.TokenBalance(ctx, publicKey, r.cfg.Wrapped)
		if err == nil && balance.GTE(amount) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ramperr.Timeout(ramperr.BalanceTimeout,
				"wrapped balance never reached the redeem amount", ctx.Err())
		case <-ticker.C:
		}
	}
}
