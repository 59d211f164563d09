// Package substrate talks to the Pendulum parachain over its WebSocket RPC:
// balance reads for the ephemeral account, token transfers, and the Spacewalk
// redeem protocol. Extrinsic signing is serialized per account so concurrent
// sagas cannot race a nonce.
package substrate

import (
	"context"
	"fmt"
	"time"

	"cosmossdk.io/math"
	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"go.uber.org/zap"

	"ramp/internal/kmutex"
	"ramp/internal/ramperr"
)

// Conn is a connection to one parachain node.
type Conn struct {
	api     *gsrpc.SubstrateAPI
	meta    *types.Metadata
	network uint16
	signing *kmutex.KeyedMutex
	logger  *zap.Logger
}

// NewConn dials the node and caches its metadata.
func NewConn(wsEndpoint string, ss58Prefix uint16, logger *zap.Logger) (*Conn, error) {
	api, err := gsrpc.NewSubstrateAPI(wsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to substrate endpoint %s: %w", wsEndpoint, err)
	}

	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain metadata: %w", err)
	}

	logger.Info("Substrate connection established", zap.String("endpoint", wsEndpoint))

	return &Conn{
		api:     api,
		meta:    meta,
		network: ss58Prefix,
		signing: kmutex.New(),
		logger:  logger,
	}, nil
}

// Keyring derives the signing pair for a seed or derivation URI.
func (c *Conn) Keyring(seed string) (signature.KeyringPair, error) {
	kp, err := signature.KeyringPairFromSecret(seed, c.network)
	if err != nil {
		return signature.KeyringPair{}, ramperr.Fatal(ramperr.TxSubmitFailed, "invalid substrate seed", err)
	}
	return kp, nil
}

// AccountKey returns the public key for a seed's account.
func (c *Conn) AccountKey(seed string) ([]byte, error) {
	kp, err := c.Keyring(seed)
	if err != nil {
		return nil, err
	}
	return kp.PublicKey, nil
}

// FreeBalance returns the native free balance of an account.
func (c *Conn) FreeBalance(ctx context.Context, publicKey []byte) (math.Int, error) {
	key, err := types.CreateStorageKey(c.meta, "System", "Account", publicKey)
	if err != nil {
		return math.ZeroInt(), fmt.Errorf("failed to create account storage key: %w", err)
	}

	var info types.AccountInfo
	ok, err := c.api.RPC.State.GetStorageLatest(key, &info)
	if err != nil {
		return math.ZeroInt(), ramperr.Transient(ramperr.NetworkError, "failed to read account storage", err)
	}
	if !ok {
		return math.ZeroInt(), nil
	}
	return math.NewIntFromBigInt(info.Data.Free.Int), nil
}

// TokenBalance returns the free balance of an orml token for an account. An
// absent storage entry reads as zero.
func (c *Conn) TokenBalance(ctx context.Context, publicKey []byte, currency CurrencyID) (math.Int, error) {
	currencyBytes, err := types.Encode(currency)
	if err != nil {
		return math.ZeroInt(), fmt.Errorf("failed to encode currency id: %w", err)
	}

	key, err := types.CreateStorageKey(c.meta, "Tokens", "Accounts", publicKey, currencyBytes)
	if err != nil {
		return math.ZeroInt(), fmt.Errorf("failed to create token storage key: %w", err)
	}

	var data tokenAccountData
	ok, err := c.api.RPC.State.GetStorageLatest(key, &data)
	if err != nil {
		return math.ZeroInt(), ramperr.Transient(ramperr.NetworkError, "failed to read token storage", err)
	}
	if !ok {
		return math.ZeroInt(), nil
	}
	return math.NewIntFromBigInt(data.Free.Int), nil
}

// TokenBalanceBySeed is TokenBalance keyed by the account seed.
func (c *Conn) TokenBalanceBySeed(ctx context.Context, seed string, currency CurrencyID) (math.Int, error) {
	key, err := c.AccountKey(seed)
	if err != nil {
		return math.ZeroInt(), err
	}
	return c.TokenBalance(ctx, key, currency)
}

type tokenAccountData struct {
	Free     types.U128
	Reserved types.U128
	Frozen   types.U128
}

// TransferToken moves an orml token balance from the seed's account to dest.
func (c *Conn) TransferToken(ctx context.Context, seed string, dest []byte, currency CurrencyID, amount math.Int) (string, error) {
	destAddr, err := types.NewMultiAddressFromAccountID(dest)
	if err != nil {
		return "", ramperr.Fatal(ramperr.TxSubmitFailed, "invalid transfer destination", err)
	}

	call, err := types.NewCall(c.meta, "Tokens.transfer",
		destAddr, currency, types.NewUCompact(amount.BigInt()))
	if err != nil {
		return "", fmt.Errorf("failed to build token transfer call: %w", err)
	}
	return c.SignAndSubmit(ctx, seed, call)
}

// TransferAllNative drains the seed's native balance to dest, allowing the
// account to be reaped. Used when sweeping ephemeral accounts.
func (c *Conn) TransferAllNative(ctx context.Context, seed string, dest []byte) (string, error) {
	destAddr, err := types.NewMultiAddressFromAccountID(dest)
	if err != nil {
		return "", ramperr.Fatal(ramperr.TxSubmitFailed, "invalid transfer destination", err)
	}

	call, err := types.NewCall(c.meta, "Balances.transfer_all", destAddr, types.NewBool(false))
	if err != nil {
		return "", fmt.Errorf("failed to build transfer_all call: %w", err)
	}
	return c.SignAndSubmit(ctx, seed, call)
}

// SignAndSubmit signs a call with the seed's account and waits for the
// extrinsic to finalize. It returns the hash of the including block; the
// caller resolves events from there. Submissions from the same account are
// serialized to keep nonces consistent.
func (c *Conn) SignAndSubmit(ctx context.Context, seed string, call types.Call) (string, error) {
	kp, err := c.Keyring(seed)
	if err != nil {
		return "", err
	}

	c.signing.Lock(kp.Address)
	defer c.signing.Unlock(kp.Address)

	ext := types.NewExtrinsic(call)

	genesisHash, err := c.api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return "", ramperr.Transient(ramperr.NetworkError, "failed to fetch genesis hash", err)
	}
	rv, err := c.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return "", ramperr.Transient(ramperr.NetworkError, "failed to fetch runtime version", err)
	}

	accountKey, err := types.CreateStorageKey(c.meta, "System", "Account", kp.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to create account storage key: %w", err)
	}
	var accountInfo types.AccountInfo
	if _, err := c.api.RPC.State.GetStorageLatest(accountKey, &accountInfo); err != nil {
		return "", ramperr.Transient(ramperr.NetworkError, "failed to read account nonce", err)
	}

	opts := types.SignatureOptions{
		BlockHash:          genesisHash,
		Era:                types.ExtrinsicEra{IsImmortalEra: true},
		GenesisHash:        genesisHash,
		Nonce:              types.NewUCompactFromUInt(uint64(accountInfo.Nonce)),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}
	if err := ext.Sign(kp, opts); err != nil {
		return "", ramperr.Fatal(ramperr.TxSubmitFailed, "failed to sign extrinsic", err)
	}

	sub, err := c.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return "", ramperr.Transient(ramperr.TxSubmitFailed, "failed to submit extrinsic", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return "", ramperr.Transient(ramperr.TxSubmitFailed, "context cancelled while watching extrinsic", ctx.Err())
		case status := <-sub.Chan():
			switch {
			case status.IsFinalized:
				blockHash := status.AsFinalized.Hex()
				c.logger.Info("Extrinsic finalized",
					zap.String("signer", kp.Address),
					zap.String("block_hash", blockHash))
				return blockHash, nil
			case status.IsDropped, status.IsInvalid, status.IsUsurped:
				return "", ramperr.Transient(ramperr.TxSubmitFailed,
					fmt.Sprintf("extrinsic rejected by pool: %v", status), nil)
			}
		case err := <-sub.Err():
			return "", ramperr.Transient(ramperr.TxSubmitFailed, "extrinsic watch failed", err)
		}
	}
}

// EventsAt fetches the raw event records stored in a block.
func (c *Conn) EventsAt(blockHash string) (types.EventRecordsRaw, error) {
	hash, err := types.NewHashFromHexString(blockHash)
	if err != nil {
		return nil, fmt.Errorf("invalid block hash %q: %w", blockHash, err)
	}

	key, err := types.CreateStorageKey(c.meta, "System", "Events")
	if err != nil {
		return nil, fmt.Errorf("failed to create events storage key: %w", err)
	}

	raw, err := c.api.RPC.State.GetStorageRaw(key, hash)
	if err != nil {
		return nil, ramperr.Transient(ramperr.NetworkError, "failed to read block events", err)
	}
	return types.EventRecordsRaw(*raw), nil
}

// Metadata exposes the cached chain metadata for event decoding.
func (c *Conn) Metadata() *types.Metadata {
	return c.meta
}

// WaitForNativeBalance polls until the account's free balance reaches the
// minimum or the timeout elapses.
func (c *Conn) WaitForNativeBalance(ctx context.Context, publicKey []byte, minimum math.Int, interval, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		balance, err := c.FreeBalance(ctx, publicKey)
		if err == nil && balance.GTE(minimum) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ramperr.Timeout(ramperr.BalanceTimeout,
				"account balance did not reach the required minimum in time", ctx.Err())
		case <-ticker.C:
		}
	}
}
