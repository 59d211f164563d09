package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"ramp/internal/models"
	"ramp/internal/netx"
	"ramp/internal/ramperr"
)

// SEP-24 transaction statuses the flow reacts to.
const (
	statusIncomplete          = "incomplete"
	statusPendingUserTransfer = "pending_user_transfer_start"
	statusError               = "error"
	statusExpired             = "expired"
)

// InteractiveFlow drives SEP-24 interactive withdrawals.
type InteractiveFlow struct {
	resolver     *TOMLResolver
	http         *netx.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewInteractiveFlow builds the SEP-24 client.
func NewInteractiveFlow(resolver *TOMLResolver, httpClient *netx.Client, pollInterval time.Duration, logger *zap.Logger) *InteractiveFlow {
	return &InteractiveFlow{
		resolver:     resolver,
		http:         httpClient,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// WithdrawParams starts an interactive withdrawal session.
type WithdrawParams struct {
	HomeDomain    string
	Token         string // SEP-10 JWT
	AssetCode     string
	Account       string // source of the settlement payment
	AmountDecimal string
	Memo          string // only for memo-based anchors
	MemoType      string
}

// WithdrawSession is the anchor's handle for the interactive step.
type WithdrawSession struct {
	ID  string
	URL string
}

type interactiveResponse struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// InitiateWithdraw opens an interactive withdrawal with the anchor. The
// returned URL is handed to the user; the ID is used for status polling.
func (f *InteractiveFlow) InitiateWithdraw(ctx context.Context, params WithdrawParams) (WithdrawSession, error) {
	info, err := f.resolver.Resolve(ctx, params.HomeDomain)
	if err != nil {
		return WithdrawSession{}, err
	}

	form := url.Values{}
	form.Set("asset_code", params.AssetCode)
	form.Set("account", params.Account)
	form.Set("amount", params.AmountDecimal)
	if params.Memo != "" {
		form.Set("memo", params.Memo)
		form.Set("memo_type", params.MemoType)
	}

	endpoint := info.TransferServer + "/transactions/withdraw/interactive"
	resp, err := f.http.PostForm(ctx, endpoint, form, map[string]string{
		"Authorization": "Bearer " + params.Token,
	})
	if err != nil {
		return WithdrawSession{}, ramperr.Transient(ramperr.InteractiveInitFailed, "withdraw request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return WithdrawSession{}, ramperr.Fatal(ramperr.InteractiveInitFailed,
			fmt.Sprintf("anchor rejected withdraw: %s: %s", resp.Status, detail), nil)
	}

	var out interactiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return WithdrawSession{}, ramperr.Transient(ramperr.InteractiveInitFailed, "failed to decode withdraw response", err)
	}
	if out.Type != "interactive_customer_info_needed" || out.ID == "" || out.URL == "" {
		return WithdrawSession{}, ramperr.Fatal(ramperr.InteractiveInitFailed,
			fmt.Sprintf("unexpected withdraw response type %q: %s", out.Type, out.Error), nil)
	}

	f.logger.Info("Interactive withdrawal opened",
		zap.String("home_domain", params.HomeDomain),
		zap.String("transaction_id", out.ID))
	return WithdrawSession{ID: out.ID, URL: out.URL}, nil
}

// DepositParams starts an interactive deposit session for on-ramps.
type DepositParams struct {
	HomeDomain    string
	Token         string
	AssetCode     string
	Account       string // destination of the anchor's payment
	AmountDecimal string
	Memo          string
	MemoType      string
}

// InitiateDeposit opens an interactive deposit with the anchor.
func (f *InteractiveFlow) InitiateDeposit(ctx context.Context, params DepositParams) (WithdrawSession, error) {
	info, err := f.resolver.Resolve(ctx, params.HomeDomain)
	if err != nil {
		return WithdrawSession{}, err
	}

	form := url.Values{}
	form.Set("asset_code", params.AssetCode)
	form.Set("account", params.Account)
	form.Set("amount", params.AmountDecimal)
	if params.Memo != "" {
		form.Set("memo", params.Memo)
		form.Set("memo_type", params.MemoType)
	}

	endpoint := info.TransferServer + "/transactions/deposit/interactive"
	resp, err := f.http.PostForm(ctx, endpoint, form, map[string]string{
		"Authorization": "Bearer " + params.Token,
	})
	if err != nil {
		return WithdrawSession{}, ramperr.Transient(ramperr.InteractiveInitFailed, "deposit request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return WithdrawSession{}, ramperr.Fatal(ramperr.InteractiveInitFailed,
			fmt.Sprintf("anchor rejected deposit: %s: %s", resp.Status, detail), nil)
	}

	var out interactiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return WithdrawSession{}, ramperr.Transient(ramperr.InteractiveInitFailed, "failed to decode deposit response", err)
	}
	if out.Type != "interactive_customer_info_needed" || out.ID == "" || out.URL == "" {
		return WithdrawSession{}, ramperr.Fatal(ramperr.InteractiveInitFailed,
			fmt.Sprintf("unexpected deposit response type %q: %s", out.Type, out.Error), nil)
	}

	f.logger.Info("Interactive deposit opened",
		zap.String("home_domain", params.HomeDomain),
		zap.String("transaction_id", out.ID))
	return WithdrawSession{ID: out.ID, URL: out.URL}, nil
}

// SettlementParams is what the anchor publishes once the user completes the
// interactive step: where to pay, how to tag the payment, and how much.
type SettlementParams struct {
	AnchorAccount string
	Memo          string
	MemoType      string
	AmountIn      string
	Fee           string
}

// ExpectedSettlement pins the amounts the quote committed to. The anchor's
// published values must match exactly; any drift invalidates the quote the
// user accepted.
type ExpectedSettlement struct {
	GrossDecimal string
	FeeDecimal   string
	Decimals     uint8
}

type sep24Transaction struct {
	ID                    string `json:"id"`
	Status                string `json:"status"`
	WithdrawAnchorAccount string `json:"withdraw_anchor_account"`
	WithdrawMemo          string `json:"withdraw_memo"`
	WithdrawMemoType      string `json:"withdraw_memo_type"`
	AmountIn              string `json:"amount_in"`
	AmountFee             string `json:"amount_fee"`
	Message               string `json:"message"`
}

type sep24TransactionResponse struct {
	Transaction sep24Transaction `json:"transaction"`
}

// AwaitSettlementParams polls the anchor until the user finishes the
// interactive step, then validates the published settlement parameters
// against the expected amounts.
func (f *InteractiveFlow) AwaitSettlementParams(ctx context.Context, homeDomain, token, transactionID string, expect ExpectedSettlement, timeout time.Duration) (SettlementParams, error) {
	info, err := f.resolver.Resolve(ctx, homeDomain)
	if err != nil {
		return SettlementParams{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		tx, err := f.fetchTransaction(ctx, info, token, transactionID)
		if err == nil {
			switch tx.Status {
			case statusPendingUserTransfer:
				return f.validateSettlement(tx, expect)
			case statusError, statusExpired:
				return SettlementParams{}, ramperr.Fatal(ramperr.InteractiveInitFailed,
					fmt.Sprintf("anchor transaction %s entered status %q: %s", transactionID, tx.Status, tx.Message), nil)
			case statusIncomplete:
				// User still in the interactive flow.
			}
		}

		select {
		case <-ctx.Done():
			return SettlementParams{}, ramperr.Timeout(ramperr.InteractiveInitFailed,
				"user did not complete the interactive flow in time", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (f *InteractiveFlow) fetchTransaction(ctx context.Context, info TOMLInfo, token, id string) (sep24Transaction, error) {
	endpoint := info.TransferServer + "/transaction?id=" + url.QueryEscape(id)
	resp, err := f.http.Get(ctx, endpoint, map[string]string{"Authorization": "Bearer " + token})
	if err != nil {
		return sep24Transaction{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sep24Transaction{}, ramperr.Transient(ramperr.NetworkError,
			fmt.Sprintf("transaction endpoint returned %s", resp.Status), nil)
	}

	var out sep24TransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return sep24Transaction{}, ramperr.Transient(ramperr.NetworkError, "failed to decode transaction response", err)
	}
	return out.Transaction, nil
}

// validateSettlement enforces exact agreement between the anchor's published
// amounts and the quoted ones. Comparison is numeric so "99.0" and
// "99.000000" agree, but any difference in value fails.
func (f *InteractiveFlow) validateSettlement(tx sep24Transaction, expect ExpectedSettlement) (SettlementParams, error) {
	if tx.WithdrawAnchorAccount == "" {
		return SettlementParams{}, ramperr.Fatal(ramperr.SettlementMismatch,
			"anchor published no settlement account", nil)
	}

	if err := amountsEqual(tx.AmountIn, expect.GrossDecimal, expect.Decimals); err != nil {
		return SettlementParams{}, ramperr.Fatal(ramperr.SettlementMismatch,
			fmt.Sprintf("anchor amount_in %q does not match quoted %q", tx.AmountIn, expect.GrossDecimal), err)
	}
	if tx.AmountFee != "" && expect.FeeDecimal != "" {
		if err := amountsEqual(tx.AmountFee, expect.FeeDecimal, expect.Decimals); err != nil {
			return SettlementParams{}, ramperr.Fatal(ramperr.SettlementMismatch,
				fmt.Sprintf("anchor fee %q does not match quoted %q", tx.AmountFee, expect.FeeDecimal), err)
		}
	}

	return SettlementParams{
		AnchorAccount: tx.WithdrawAnchorAccount,
		Memo:          tx.WithdrawMemo,
		MemoType:      tx.WithdrawMemoType,
		AmountIn:      tx.AmountIn,
		Fee:           tx.AmountFee,
	}, nil
}

func amountsEqual(a, b string, decimals uint8) error {
	rawA, err := models.ParseUnits(a, decimals)
	if err != nil {
		return err
	}
	rawB, err := models.ParseUnits(b, decimals)
	if err != nil {
		return err
	}
	if !rawA.Equal(rawB) {
		return fmt.Errorf("%s != %s", a, b)
	}
	return nil
}
