// Package ephemeral manages the single-use accounts a saga operates through:
// one Stellar keypair for the anchor leg and one Substrate account for the
// parachain leg. Accounts are generated fresh per ramp, funded by the
// backend, and swept back when the saga finishes.
package ephemeral

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/stellar/go/keypair"
	"go.uber.org/zap"

	"ramp/internal/backend"
	"ramp/internal/blockchain/stellar"
	"ramp/internal/blockchain/substrate"
	"ramp/internal/models"
	"ramp/internal/ramperr"
)

// StellarGateway is the horizon surface the manager touches; an interface so
// tests can run against a fake network.
type StellarGateway interface {
	AccountExists(ctx context.Context, address string) (bool, error)
	HasTrustline(ctx context.Context, address string, asset stellar.Asset) (bool, error)
	EstablishTrustline(ctx context.Context, secret string, asset stellar.Asset) (string, error)
	Sweep(ctx context.Context, secret, destination string, assets []stellar.Asset) error
}

// Chain is the parachain surface the manager touches.
type Chain interface {
	Keyring(seed string) (signature.KeyringPair, error)
	FreeBalance(ctx context.Context, publicKey []byte) (math.Int, error)
	WaitForNativeBalance(ctx context.Context, publicKey []byte, minimum math.Int, interval, timeout time.Duration) error
	TokenBalance(ctx context.Context, publicKey []byte, currency substrate.CurrencyID) (math.Int, error)
	TransferToken(ctx context.Context, seed string, dest []byte, currency substrate.CurrencyID, amount math.Int) (string, error)
	TransferAllNative(ctx context.Context, seed string, dest []byte) (string, error)
}

// Funder requests the startup balances from the backend.
type Funder interface {
	FundEphemeral(ctx context.Context, req backend.FundEphemeralRequest) error
}

// Config bounds funding behavior.
type Config struct {
	FundingMinimum  math.Int // raw native units the substrate account needs
	FundingAccount  string   // stellar omnibus, receives sweeps
	FundingSeed     string   // substrate funding account, receives sweeps
	PollInterval    time.Duration
	FundingTimeout  time.Duration
	SettlementAsset stellar.Asset
	// SweepCurrencies are the parachain tokens a saga moves through the
	// account; each is drained back to the funding account on cleanup.
	SweepCurrencies []substrate.CurrencyID
}

// Manager creates, funds, and sweeps ephemeral accounts.
type Manager struct {
	stellar StellarGateway
	chain   Chain
	backend Funder
	cfg     Config
	logger  *zap.Logger
}

// NewManager wires the manager from its dependencies.
func NewManager(stellarClient StellarGateway, chain Chain, backendClient Funder, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{stellar: stellarClient, chain: chain, backend: backendClient, cfg: cfg, logger: logger}
}

// Generate creates both ephemeral identities. Secrets go into the saga state
// so a restart keeps operating the same accounts.
func (m *Manager) Generate() (models.EphemeralKeys, error) {
	stellarKP, err := keypair.Random()
	if err != nil {
		return models.EphemeralKeys{}, fmt.Errorf("failed to generate stellar keypair: %w", err)
	}

	var seedBytes [32]byte
	if _, err := rand.Read(seedBytes[:]); err != nil {
		return models.EphemeralKeys{}, fmt.Errorf("failed to generate substrate seed: %w", err)
	}
	seed := "0x" + hex.EncodeToString(seedBytes[:])

	kp, err := m.chain.Keyring(seed)
	if err != nil {
		return models.EphemeralKeys{}, err
	}

	keys := models.EphemeralKeys{
		StellarSecret:    stellarKP.Seed(),
		StellarAddress:   stellarKP.Address(),
		SubstrateSeed:    seed,
		SubstrateAddress: kp.Address,
	}
	m.logger.Info("Ephemeral accounts generated",
		zap.String("stellar_address", keys.StellarAddress),
		zap.String("substrate_address", keys.SubstrateAddress))
	return keys, nil
}

// IsFunded reports whether both accounts already hold their startup balances.
func (m *Manager) IsFunded(ctx context.Context, keys models.EphemeralKeys) (bool, error) {
	exists, err := m.stellar.AccountExists(ctx, keys.StellarAddress)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	kp, err := m.chain.Keyring(keys.SubstrateSeed)
	if err != nil {
		return false, err
	}
	balance, err := m.chain.FreeBalance(ctx, kp.PublicKey)
	if err != nil {
		return false, err
	}
	return balance.GTE(m.cfg.FundingMinimum), nil
}

// Fund asks the backend to fund both accounts and waits for the balances to
// land. Already-funded accounts are a no-op, so re-running the phase after a
// crash never double-funds.
func (m *Manager) Fund(ctx context.Context, rampID string, keys models.EphemeralKeys) error {
	funded, err := m.IsFunded(ctx, keys)
	if err != nil {
		return err
	}
	if funded {
		m.logger.Info("Ephemeral accounts already funded", zap.String("ramp_id", rampID))
		return m.ensureTrustline(ctx, keys)
	}

	if err := m.backend.FundEphemeral(ctx, backend.FundEphemeralRequest{
		RampID:           rampID,
		StellarAddress:   keys.StellarAddress,
		SubstrateAddress: keys.SubstrateAddress,
	}); err != nil {
		return ramperr.Transient(ramperr.FundingFailed, "backend funding request failed", err)
	}

	if err := m.awaitStellarAccount(ctx, keys.StellarAddress); err != nil {
		return err
	}

	kp, err := m.chain.Keyring(keys.SubstrateSeed)
	if err != nil {
		return err
	}
	if err := m.chain.WaitForNativeBalance(ctx, kp.PublicKey, m.cfg.FundingMinimum,
		m.cfg.PollInterval, m.cfg.FundingTimeout); err != nil {
		return err
	}

	return m.ensureTrustline(ctx, keys)
}

// ensureTrustline opens the settlement asset trustline so the account can
// receive the vault's payment. Idempotent; an existing trustline is kept.
func (m *Manager) ensureTrustline(ctx context.Context, keys models.EphemeralKeys) error {
	has, err := m.stellar.HasTrustline(ctx, keys.StellarAddress, m.cfg.SettlementAsset)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if _, err := m.stellar.EstablishTrustline(ctx, keys.StellarSecret, m.cfg.SettlementAsset); err != nil {
		return err
	}
	m.logger.Info("Trustline established",
		zap.String("address", keys.StellarAddress),
		zap.String("asset", m.cfg.SettlementAsset.Code))
	return nil
}

// Sweep returns leftover balances to the funding accounts. Sweep failures
// are reported but must not fail the saga; funds in a known ephemeral
// account are recoverable by hand.
func (m *Manager) Sweep(ctx context.Context, keys models.EphemeralKeys) error {
	var firstErr error

	if keys.StellarSecret != "" {
		if err := m.stellar.Sweep(ctx, keys.StellarSecret, m.cfg.FundingAccount,
			[]stellar.Asset{m.cfg.SettlementAsset}); err != nil {
			m.logger.Warn("Stellar sweep failed",
				zap.String("address", keys.StellarAddress),
				zap.Error(err))
			firstErr = err
		}
	}

	if keys.SubstrateSeed != "" {
		fundingKP, err := m.chain.Keyring(m.cfg.FundingSeed)
		if err != nil {
			return err
		}
		ephemKP, err := m.chain.Keyring(keys.SubstrateSeed)
		if err != nil {
			return err
		}

		// Token balances go first; transfer_all only drains the native side.
		for _, currency := range m.cfg.SweepCurrencies {
			balance, err := m.chain.TokenBalance(ctx, ephemKP.PublicKey, currency)
			if err != nil {
				m.logger.Warn("Token balance read failed during sweep",
					zap.String("address", keys.SubstrateAddress),
					zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if !balance.IsPositive() {
				continue
			}
			if _, err := m.chain.TransferToken(ctx, keys.SubstrateSeed, fundingKP.PublicKey, currency, balance); err != nil {
				m.logger.Warn("Token sweep failed",
					zap.String("address", keys.SubstrateAddress),
					zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}

		if _, err := m.chain.TransferAllNative(ctx, keys.SubstrateSeed, fundingKP.PublicKey); err != nil {
			m.logger.Warn("Substrate sweep failed",
				zap.String("address", keys.SubstrateAddress),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) awaitStellarAccount(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.FundingTimeout)
	defer cancel()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		exists, err := m.stellar.AccountExists(ctx, address)
		if err == nil && exists {
			return nil
		}

		select {
		case <-ctx.Done():
			return ramperr.Timeout(ramperr.FundingFailed,
				"stellar account was not funded in time", ctx.Err())
		case <-ticker.C:
		}
	}
}
