// Package bridge moves the input token from the source EVM chain to the
// parachain through the bridge aggregator: route computation via the routing
// service, an ERC20 approval, the routed swap call, and completion tracking.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"ramp/internal/netx"
	"ramp/internal/ramperr"
)

// RouteParams describes the transfer the routing service should plan.
type RouteParams struct {
	FromChain   string `json:"fromChain"`
	ToChain     string `json:"toChain"`
	FromToken   string `json:"fromToken"`
	ToToken     string `json:"toToken"`
	FromAmount  string `json:"fromAmount"` // raw base units
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	SlippageBps uint32 `json:"slippageBps"`
}

// Route is the executable plan returned by the routing service.
type Route struct {
	Target      string `json:"target"`
	Data        string `json:"data"` // hex calldata
	Value       string `json:"value"`
	GasLimit    string `json:"gasLimit"`
	ToAmountMin string `json:"toAmountMin"`
	RequestID   string `json:"requestId"`
}

type routeResponse struct {
	Route struct {
		TransactionRequest Route `json:"transactionRequest"`
		Estimate           struct {
			ToAmountMin string `json:"toAmountMin"`
		} `json:"estimate"`
	} `json:"route"`
	RequestID string `json:"requestId"`
}

type statusResponse struct {
	Status string `json:"squidTransactionStatus"`
	Error  string `json:"error"`
}

// Bridge transfer statuses reported by the routing service.
const (
	StatusSuccess   = "success"
	StatusNeedsGas  = "needs_gas"
	StatusNotFound  = "not_found"
	StatusOngoing   = "ongoing"
	StatusPartialOK = "partial_success"
	StatusRefunded  = "refund_executed"
)

// RoutingClient talks to the route computation service.
type RoutingClient struct {
	baseURL string
	http    *netx.Client
}

// NewRoutingClient builds a routing client rooted at baseURL.
func NewRoutingClient(baseURL string, httpClient *netx.Client) *RoutingClient {
	return &RoutingClient{baseURL: baseURL, http: httpClient}
}

// FetchRoute asks the service for an executable route.
func (r *RoutingClient) FetchRoute(ctx context.Context, params RouteParams) (Route, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return Route{}, fmt.Errorf("failed to marshal route request: %w", err)
	}

	resp, err := r.http.PostJSON(ctx, r.baseURL+"/route", body, nil)
	if err != nil {
		return Route{}, ramperr.Transient(ramperr.RouteUnavailable, "route request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Route{}, ramperr.Transient(ramperr.RouteUnavailable,
			fmt.Sprintf("routing service returned %s: %s", resp.Status, detail), nil)
	}

	var out routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, ramperr.Transient(ramperr.RouteUnavailable, "failed to decode route response", err)
	}

	route := out.Route.TransactionRequest
	if route.Target == "" || route.Data == "" {
		return Route{}, ramperr.Transient(ramperr.RouteUnavailable, "routing service returned an empty route", nil)
	}
	if route.ToAmountMin == "" {
		route.ToAmountMin = out.Route.Estimate.ToAmountMin
	}
	route.RequestID = out.RequestID
	return route, nil
}

// TransferStatus fetches the cross-chain status of a submitted bridge
// transaction.
func (r *RoutingClient) TransferStatus(ctx context.Context, txHash, requestID string) (string, error) {
	query := url.Values{}
	query.Set("transactionId", txHash)
	if requestID != "" {
		query.Set("requestId", requestID)
	}

	resp, err := r.http.Get(ctx, r.baseURL+"/status?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// The indexer has not seen the transaction yet.
		return StatusNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", ramperr.Transient(ramperr.NetworkError,
			fmt.Sprintf("status endpoint returned %s", resp.Status), nil)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", ramperr.Transient(ramperr.NetworkError, "failed to decode status response", err)
	}
	return out.Status, nil
}
