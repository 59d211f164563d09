// Package stellar wraps the Horizon operations the ramp needs: account and
// balance reads for the ephemeral account, trustline setup, the anchor
// settlement payment, and the final sweep back to the funding account.
package stellar

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"ramp/internal/ramperr"
)

const txTimeoutSeconds = 300

// Asset identifies a Stellar credit asset.
type Asset struct {
	Code   string
	Issuer string
}

// Client talks to one Horizon instance on one network.
type Client struct {
	horizon    *horizonclient.Client
	passphrase string
	baseFee    int64
	logger     *zap.Logger
}

// NewClient builds a Horizon-backed client.
func NewClient(horizonURL, networkPassphrase string, baseFee int64, logger *zap.Logger) *Client {
	return &Client{
		horizon:    &horizonclient.Client{HorizonURL: horizonURL},
		passphrase: networkPassphrase,
		baseFee:    baseFee,
		logger:     logger,
	}
}

// NetworkPassphrase returns the network this client signs for.
func (c *Client) NetworkPassphrase() string {
	return c.passphrase
}

// AccountExists reports whether the account is funded on the network.
func (c *Client) AccountExists(ctx context.Context, address string) (bool, error) {
	_, err := c.loadAccount(address)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return false, nil
		}
		return false, ramperr.Transient(ramperr.NetworkError, "failed to load account", err)
	}
	return true, nil
}

// AssetBalanceRaw returns a credit-asset balance in stroops. A missing
// trustline reads as zero.
func (c *Client) AssetBalanceRaw(ctx context.Context, address string, asset Asset) (int64, error) {
	account, err := c.loadAccount(address)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, ramperr.Transient(ramperr.NetworkError, "failed to load account", err)
	}
	for _, b := range account.Balances {
		if b.Asset.Code == asset.Code && b.Asset.Issuer == asset.Issuer {
			return parseStroops(b.Balance)
		}
	}
	return 0, nil
}

// HasTrustline reports whether the account already trusts the asset.
func (c *Client) HasTrustline(ctx context.Context, address string, asset Asset) (bool, error) {
	account, err := c.loadAccount(address)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return false, nil
		}
		return false, ramperr.Transient(ramperr.NetworkError, "failed to load account", err)
	}
	for _, b := range account.Balances {
		if b.Asset.Code == asset.Code && b.Asset.Issuer == asset.Issuer {
			return true, nil
		}
	}
	return false, nil
}

// EstablishTrustline submits a change-trust operation from the account so it
// can receive the anchor asset.
func (c *Client) EstablishTrustline(ctx context.Context, secret string, asset Asset) (string, error) {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return "", ramperr.Fatal(ramperr.TxSubmitFailed, "invalid stellar secret", err)
	}

	line := txnbuild.ChangeTrust{
		Line: txnbuild.ChangeTrustAssetWrapper{
			Asset: txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer},
		},
	}
	return c.submit(kp, []txnbuild.Operation{&line}, nil)
}

// PaymentRequest describes an outgoing payment, typically the anchor
// settlement transfer.
type PaymentRequest struct {
	Destination string
	Asset       Asset
	Amount      string // decimal, 7dp
	MemoType    string // "text", "hash", or "id"
	MemoValue   string
}

// Pay submits a single payment from the secret's account. The memo carries
// the anchor's matching key for withdrawals.
func (c *Client) Pay(ctx context.Context, secret string, req PaymentRequest) (string, error) {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return "", ramperr.Fatal(ramperr.TxSubmitFailed, "invalid stellar secret", err)
	}

	memo, err := buildMemo(req.MemoType, req.MemoValue)
	if err != nil {
		return "", err
	}

	payment := txnbuild.Payment{
		Destination: req.Destination,
		Amount:      req.Amount,
		Asset:       txnbuild.CreditAsset{Code: req.Asset.Code, Issuer: req.Asset.Issuer},
	}
	return c.submit(kp, []txnbuild.Operation{&payment}, memo)
}

// Sweep returns every remaining balance to the destination and merges the
// account away. Assets with a zero balance are skipped, not retried; an
// account that never received a deposit merges cleanly.
func (c *Client) Sweep(ctx context.Context, secret, destination string, assets []Asset) error {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return ramperr.Fatal(ramperr.TxSubmitFailed, "invalid stellar secret", err)
	}

	account, err := c.loadAccount(kp.Address())
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			// Never funded; nothing to sweep.
			return nil
		}
		return ramperr.Transient(ramperr.NetworkError, "failed to load account for sweep", err)
	}

	var ops []txnbuild.Operation
	for _, asset := range assets {
		balance := creditBalance(&account, asset)
		if balance == "" || isZeroAmount(balance) {
			continue
		}
		ops = append(ops, &txnbuild.Payment{
			Destination: destination,
			Amount:      balance,
			Asset:       txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer},
		})
		// Zero the trustline so the merge below is accepted.
		ops = append(ops, &txnbuild.ChangeTrust{
			Line: txnbuild.ChangeTrustAssetWrapper{
				Asset: txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer},
			},
			Limit: "0",
		})
	}
	ops = append(ops, &txnbuild.AccountMerge{Destination: destination})

	if _, err := c.submit(kp, ops, nil); err != nil {
		return err
	}

	c.logger.Info("Ephemeral stellar account swept",
		zap.String("address", kp.Address()),
		zap.String("destination", destination))
	return nil
}

func (c *Client) submit(kp *keypair.Full, ops []txnbuild.Operation, memo txnbuild.Memo) (string, error) {
	account, err := c.loadAccount(kp.Address())
	if err != nil {
		return "", ramperr.Transient(ramperr.NetworkError, "failed to load source account", err)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              c.baseFee,
		Memo:                 memo,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(txTimeoutSeconds),
		},
	})
	if err != nil {
		return "", ramperr.Fatal(ramperr.TxSubmitFailed, "failed to build transaction", err)
	}

	signed, err := tx.Sign(c.passphrase, kp)
	if err != nil {
		return "", ramperr.Fatal(ramperr.TxSubmitFailed, "failed to sign transaction", err)
	}

	resp, err := c.horizon.SubmitTransaction(signed)
	if err != nil {
		return "", ramperr.Transient(ramperr.TxSubmitFailed, "horizon rejected transaction", err)
	}
	return resp.Hash, nil
}

func (c *Client) loadAccount(address string) (horizon.Account, error) {
	return c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: address})
}

func creditBalance(account *horizon.Account, asset Asset) string {
	for _, b := range account.Balances {
		if b.Asset.Code == asset.Code && b.Asset.Issuer == asset.Issuer {
			return b.Balance
		}
	}
	return ""
}

func isZeroAmount(decimal string) bool {
	raw, err := amount.ParseInt64(decimal)
	if err != nil {
		return false
	}
	return raw == 0
}

func parseStroops(decimal string) (int64, error) {
	raw, err := amount.ParseInt64(decimal)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance %q: %w", decimal, err)
	}
	return raw, nil
}

func buildMemo(memoType, value string) (txnbuild.Memo, error) {
	switch memoType {
	case "", "none":
		return nil, nil
	case "text":
		return txnbuild.MemoText(value), nil
	case "id":
		id, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, ramperr.Fatal(ramperr.TxSubmitFailed, "invalid id memo", err)
		}
		return txnbuild.MemoID(id), nil
	case "hash":
		// SEP-24 delivers hash memos base64 encoded.
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil || len(decoded) != 32 {
			return nil, ramperr.Fatal(ramperr.TxSubmitFailed, "invalid hash memo", err)
		}
		var h txnbuild.MemoHash
		copy(h[:], decoded)
		return h, nil
	default:
		return nil, ramperr.Fatal(ramperr.TxSubmitFailed,
			fmt.Sprintf("unsupported memo type %q", memoType), nil)
	}
}
