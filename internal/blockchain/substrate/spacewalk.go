package substrate

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"go.uber.org/zap"

	"ramp/internal/ramperr"
)

// VaultID identifies a Spacewalk vault by operator account and currency pair.
type VaultID struct {
	AccountID  types.AccountID
	Collateral CurrencyID
	Wrapped    CurrencyID
}

// Key returns a stable string form used for deterministic ordering.
func (v VaultID) Key() string {
	return fmt.Sprintf("%x/%d/%d", v.AccountID[:], v.Collateral.Variant, v.Wrapped.Variant)
}

// VaultStatus is the registry status enum.
type VaultStatus struct {
	IsActive           bool
	AcceptingNewIssues bool
	IsLiquidated       bool
}

// Decode implements scale decoding for the status enum.
func (s *VaultStatus) Decode(decoder scale.Decoder) error {
	variant, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	switch variant {
	case 0:
		s.IsActive = true
		accepting, err := decoder.ReadOneByte()
		if err != nil {
			return err
		}
		s.AcceptingNewIssues = accepting == 1
		return nil
	case 1:
		s.IsLiquidated = true
		return nil
	default:
		return fmt.Errorf("unknown vault status variant %d", variant)
	}
}

// Encode implements scale encoding for the status enum.
func (s VaultStatus) Encode(encoder scale.Encoder) error {
	if s.IsLiquidated {
		return encoder.PushByte(1)
	}
	if err := encoder.PushByte(0); err != nil {
		return err
	}
	if s.AcceptingNewIssues {
		return encoder.PushByte(1)
	}
	return encoder.PushByte(0)
}

// Vault is the registry record for one vault.
type Vault struct {
	ID                 VaultID
	Status             VaultStatus
	BannedUntil        types.OptionU32
	IssuedTokens       types.U128
	ToBeIssuedTokens   types.U128
	ToBeRedeemedTokens types.U128
}

// Redeemable returns the amount of wrapped tokens the vault can still back.
func (v Vault) Redeemable() math.Int {
	issued := math.NewIntFromBigInt(v.IssuedTokens.Int)
	pending := math.NewIntFromBigInt(v.ToBeRedeemedTokens.Int)
	return issued.Sub(pending)
}

// ListVaults reads every vault registered for the wrapped asset, sorted by
// registry key so that repeated calls see the same order.
func (c *Conn) ListVaults(ctx context.Context, wrapped CurrencyID) ([]Vault, error) {
	prefix := types.CreateStorageKeyPrefix("VaultRegistry", "Vaults")
	keys, err := c.api.RPC.State.GetKeysLatest(prefix)
	if err != nil {
		return nil, ramperr.Transient(ramperr.NetworkError, "failed to list vault registry keys", err)
	}

	sets, err := c.api.RPC.State.QueryStorageAtLatest(keys)
	if err != nil {
		return nil, ramperr.Transient(ramperr.NetworkError, "failed to query vault registry", err)
	}

	wrappedBytes, err := types.Encode(wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wrapped currency: %w", err)
	}

	var vaults []Vault
	for _, set := range sets {
		for _, change := range set.Changes {
			if !change.HasStorageData {
				continue
			}
			var vault Vault
			if err := scale.NewDecoder(bytes.NewReader(change.StorageData)).Decode(&vault); err != nil {
				c.logger.Warn("Skipping undecodable vault record", zap.Error(err))
				continue
			}
			recordWrapped, err := types.Encode(vault.ID.Wrapped)
			if err != nil || !bytes.Equal(recordWrapped, wrappedBytes) {
				continue
			}
			vaults = append(vaults, vault)
		}
	}

	sort.Slice(vaults, func(i, j int) bool {
		return vaults[i].ID.Key() < vaults[j].ID.Key()
	})
	return vaults, nil
}

// redeemRequestedEvent is Spacewalk's Redeem.RequestRedeem event.
type redeemRequestedEvent struct {
	Phase          types.Phase
	RedeemID       types.H256
	Redeemer       types.AccountID
	VaultID        VaultID
	Amount         types.U128
	Asset          CurrencyID
	Fee            types.U128
	Premium        types.U128
	StellarAddress [32]byte
	TransferFee    types.U128
	Topics         []types.Hash
}

// redeemExecutedEvent is Spacewalk's Redeem.ExecuteRedeem event.
type redeemExecutedEvent struct {
	Phase       types.Phase
	RedeemID    types.H256
	Redeemer    types.AccountID
	VaultID     VaultID
	Amount      types.U128
	Asset       CurrencyID
	Fee         types.U128
	TransferFee types.U128
	Topics      []types.Hash
}

type redeemEventRecords struct {
	types.EventRecords
	Redeem_RequestRedeem []redeemRequestedEvent //nolint:revive
	Redeem_ExecuteRedeem []redeemExecutedEvent  //nolint:revive
}

// RequestRedeem submits Redeem.request_redeem against the chosen vault and
// returns the redeem id assigned by the chain. The id is recovered from the
// RequestRedeem event in the finalized block, matched by redeemer account.
func (c *Conn) RequestRedeem(ctx context.Context, seed string, vault VaultID, amount math.Int, stellarDest [32]byte) (string, error) {
	kp, err := c.Keyring(seed)
	if err != nil {
		return "", err
	}

	call, err := types.NewCall(c.meta, "Redeem.request_redeem",
		types.NewUCompact(amount.BigInt()), stellarDest, vault)
	if err != nil {
		return "", fmt.Errorf("failed to build redeem call: %w", err)
	}

	blockHash, err := c.SignAndSubmit(ctx, seed, call)
	if err != nil {
		if isRedeemConflict(err) {
			return "", ramperr.Conflict(ramperr.RedeemAlreadyExecuted,
				"vault reports the redeemable amount is already committed", err)
		}
		return "", err
	}

	raw, err := c.EventsAt(blockHash)
	if err != nil {
		return "", err
	}

	var records redeemEventRecords
	if err := raw.DecodeEventRecords(c.meta, &records); err != nil {
		return "", ramperr.Transient(ramperr.NetworkError, "failed to decode redeem events", err)
	}

	for _, ev := range records.Redeem_RequestRedeem {
		if bytes.Equal(ev.Redeemer[:], kp.PublicKey) {
			redeemID := ev.RedeemID.Hex()
			c.logger.Info("Redeem requested",
				zap.String("redeem_id", redeemID),
				zap.String("block_hash", blockHash))
			return redeemID, nil
		}
	}
	return "", ramperr.Transient(ramperr.TxNotFound,
		"redeem extrinsic finalized but no RequestRedeem event matched the redeemer", nil)
}

// WaitForRedeemExecution watches chain events until the vault executes the
// redeem or the timeout elapses. The wait subscribes to the System.Events
// storage so every block's events are seen, including blocks produced while
// a previous batch was being decoded. The timeout is surfaced as its own
// class so callers can distinguish "vault is slow" from a hard failure.
func (c *Conn) WaitForRedeemExecution(ctx context.Context, redeemID string, timeout time.Duration) error {
	target, err := types.NewH256FromHexString(redeemID)
	if err != nil {
		return ramperr.Fatal(ramperr.TxNotFound, fmt.Sprintf("invalid redeem id %q", redeemID), err)
	}

	key, err := types.CreateStorageKey(c.meta, "System", "Events")
	if err != nil {
		return fmt.Errorf("failed to create events storage key: %w", err)
	}
	sub, err := c.api.RPC.State.SubscribeStorageRaw([]types.StorageKey{key})
	if err != nil {
		return ramperr.Transient(ramperr.NetworkError, "failed to subscribe to chain events", err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ramperr.Timeout(ramperr.RedeemTimeout,
				"vault did not execute the redeem within the deadline", ctx.Err())
		case err := <-sub.Err():
			return ramperr.Transient(ramperr.NetworkError, "event subscription failed", err)
		case set := <-sub.Chan():
			for _, change := range set.Changes {
				if !change.HasStorageData {
					continue
				}
				var records redeemEventRecords
				raw := types.EventRecordsRaw(change.StorageData)
				if err := raw.DecodeEventRecords(c.meta, &records); err != nil {
					continue
				}
				if containsExecutedRedeem(records, target) {
					c.logger.Info("Redeem executed", zap.String("redeem_id", redeemID))
					return nil
				}
			}
		}
	}
}

// containsExecutedRedeem reports whether a decoded event batch carries the
// ExecuteRedeem event for the given redeem id.
func containsExecutedRedeem(records redeemEventRecords, target types.H256) bool {
	for _, ev := range records.Redeem_ExecuteRedeem {
		if ev.RedeemID == target {
			return true
		}
	}
	return false
}

// isRedeemConflict matches the dispatch error the redeem pallet returns when
// the requested amount no longer fits the vault's redeemable balance, which
// happens when a previous submission of the same request already went through.
func isRedeemConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "amountexceedsuserbalance") ||
		strings.Contains(msg, "amount exceeds") ||
		strings.Contains(msg, "insufficient balance")
}
