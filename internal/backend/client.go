// Package backend is the client for the funding and signing backend. The
// backend controls the accounts that pay gas and subsidies, so the saga asks
// it to fund ephemeral accounts, top up swap shortfalls, and co-sign SEP-10
// challenges for the client domain.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"ramp/internal/netx"
	"ramp/internal/ramperr"
)

// Client calls the funding/signing backend.
type Client struct {
	baseURL string
	http    *netx.Client
	logger  *zap.Logger
}

// NewClient builds a backend client rooted at baseURL.
func NewClient(baseURL string, httpClient *netx.Client, logger *zap.Logger) *Client {
	return &Client{baseURL: baseURL, http: httpClient, logger: logger}
}

// FundEphemeralRequest asks the backend to send the startup balances to a
// fresh ephemeral account.
type FundEphemeralRequest struct {
	RampID           string `json:"rampId"`
	StellarAddress   string `json:"stellarAddress"`
	SubstrateAddress string `json:"substrateAddress"`
}

// FundEphemeral requests funding for both ephemeral identities. The backend
// treats the ramp id as an idempotency key, so resubmitting after a crash
// does not double-fund.
func (c *Client) FundEphemeral(ctx context.Context, req FundEphemeralRequest) error {
	return c.post(ctx, "/v1/ephemerals/fund", req)
}

// SubsidyRequest asks the backend to cover the difference between a held
// balance and the amount a phase needs.
type SubsidyRequest struct {
	RampID       string `json:"rampId"`
	Stage        string `json:"stage"` // "preswap" or "postswap"
	Address      string `json:"address"`
	TokenSymbol  string `json:"token"`
	AmountRaw    string `json:"amountRaw"`
	PaymentProof string `json:"paymentProof,omitempty"`
}

// Subsidize requests a top-up payment. Idempotent per (rampId, stage).
func (c *Client) Subsidize(ctx context.Context, req SubsidyRequest) error {
	if err := c.post(ctx, "/v1/subsidies", req); err != nil {
		return ramperr.Transient(ramperr.SubsidyFailed, "subsidy request failed", err)
	}
	return nil
}

// SignChallengeRequest carries a SEP-10 challenge transaction for client
// domain co-signing.
type SignChallengeRequest struct {
	TransactionXDR    string `json:"transactionXdr"`
	NetworkPassphrase string `json:"networkPassphrase"`
	// ForceRefresh tells the backend to bypass its signature cache. Set on
	// the single retry after the anchor rejects a co-signed challenge.
	ForceRefresh bool `json:"forceRefresh,omitempty"`
}

// SignChallengeResponse returns the co-signed challenge.
type SignChallengeResponse struct {
	TransactionXDR string `json:"transactionXdr"`
}

// SignChallenge has the backend co-sign a SEP-10 challenge with the client
// domain key.
func (c *Client) SignChallenge(ctx context.Context, req SignChallengeRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sign request: %w", err)
	}

	resp, err := c.http.PostJSON(ctx, c.baseURL+"/v1/sep10/sign", body, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", ramperr.Fatal(ramperr.ChallengeSignFailed,
			fmt.Sprintf("backend refused to sign challenge: %s: %s", resp.Status, payload), nil)
	}

	var signed SignChallengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", ramperr.Transient(ramperr.ChallengeSignFailed, "failed to decode sign response", err)
	}
	if signed.TransactionXDR == "" {
		return "", ramperr.Fatal(ramperr.ChallengeSignFailed, "backend returned an empty signed challenge", nil)
	}
	return signed.TransactionXDR, nil
}

// FundingStatus reports the health of the backend's funding accounts.
type FundingStatus struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Status reads the funding-account health from the backend.
func (c *Client) Status(ctx context.Context) (FundingStatus, error) {
	resp, err := c.http.Get(ctx, c.baseURL+"/v1/status", nil)
	if err != nil {
		return FundingStatus{}, ramperr.Transient(ramperr.NetworkError, "backend status unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FundingStatus{}, ramperr.Transient(ramperr.NetworkError,
			fmt.Sprintf("backend status returned %s", resp.Status), nil)
	}

	var status FundingStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return FundingStatus{}, ramperr.Transient(ramperr.NetworkError, "failed to decode status response", err)
	}
	return status, nil
}

// MarkCompleted notifies the backend that a ramp reached a terminal phase.
func (c *Client) MarkCompleted(ctx context.Context, rampID, phase string) error {
	return c.post(ctx, "/v1/ramps/"+rampID+"/complete", map[string]string{"phase": phase})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.http.PostJSON(ctx, c.baseURL+path, body, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("Backend call rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return ramperr.Transient(ramperr.NetworkError,
			fmt.Sprintf("backend %s returned %s: %s", path, resp.Status, detail), nil)
	}
	return nil
}
