package anchor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"ramp/internal/netx"
	"ramp/internal/ramperr"
)

func newTestFlow(transferServer string) *InteractiveFlow {
	resolver := NewTOMLResolver(netx.NewClient(netx.WithMaxRetries(0)))
	resolver.cache["anchor.test"] = tomlCacheEntry{
		info: TOMLInfo{
			SigningKey:      "GABC",
			WebAuthEndpoint: "https://unused.test/auth",
			TransferServer:  transferServer,
		},
		expiresAt: time.Now().Add(time.Minute),
	}
	return NewInteractiveFlow(resolver, netx.NewClient(netx.WithMaxRetries(0)), 10*time.Millisecond, zap.NewNop())
}

func TestInitiateWithdraw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/withdraw/interactive" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer jwt-token" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("asset_code") != "EURC" {
			t.Errorf("asset_code = %q", r.PostForm.Get("asset_code"))
		}
		json.NewEncoder(w).Encode(interactiveResponse{
			Type: "interactive_customer_info_needed",
			URL:  "https://anchor.test/widget?tx=abc",
			ID:   "abc",
		})
	}))
	defer server.Close()

	flow := newTestFlow(server.URL)
	session, err := flow.InitiateWithdraw(context.Background(), WithdrawParams{
		HomeDomain:    "anchor.test",
		Token:         "jwt-token",
		AssetCode:     "EURC",
		Account:       "GDEPHEMERAL",
		AmountDecimal: "99.000000",
	})
	if err != nil {
		t.Fatalf("InitiateWithdraw: %v", err)
	}
	if session.ID != "abc" || session.URL == "" {
		t.Errorf("session = %+v", session)
	}
}

func TestInitiateWithdrawUnexpectedType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(interactiveResponse{Type: "non_interactive_customer_info_needed"})
	}))
	defer server.Close()

	flow := newTestFlow(server.URL)
	_, err := flow.InitiateWithdraw(context.Background(), WithdrawParams{
		HomeDomain: "anchor.test", Token: "t", AssetCode: "EURC", Account: "G", AmountDecimal: "1",
	})
	var re *ramperr.Error
	if !ramperr.As(err, &re) || re.Class != ramperr.ClassFatal {
		t.Fatalf("error = %v, want fatal", err)
	}
}

func TestAwaitSettlementParams(t *testing.T) {
	var polls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		tx := sep24Transaction{ID: "abc", Status: statusIncomplete}
		if polls >= 3 {
			tx = sep24Transaction{
				ID:                    "abc",
				Status:                statusPendingUserTransfer,
				WithdrawAnchorAccount: "GANCHOR",
				WithdrawMemo:          "1234",
				WithdrawMemoType:      "id",
				AmountIn:              "99.0",
				AmountFee:             "0.25",
			}
		}
		json.NewEncoder(w).Encode(sep24TransactionResponse{Transaction: tx})
	}))
	defer server.Close()

	flow := newTestFlow(server.URL)
	params, err := flow.AwaitSettlementParams(context.Background(), "anchor.test", "t", "abc",
		ExpectedSettlement{GrossDecimal: "99.000000", FeeDecimal: "0.250000", Decimals: 6}, time.Second)
	if err != nil {
		t.Fatalf("AwaitSettlementParams: %v", err)
	}
	if params.AnchorAccount != "GANCHOR" || params.Memo != "1234" || params.MemoType != "id" {
		t.Errorf("params = %+v", params)
	}
	if polls < 3 {
		t.Errorf("polls = %d, want at least 3", polls)
	}
}

func TestAwaitSettlementParamsMismatch(t *testing.T) {
	tests := []struct {
		name string
		tx   sep24Transaction
	}{
		{
			name: "amount drifted by one base unit",
			tx: sep24Transaction{
				Status:                statusPendingUserTransfer,
				WithdrawAnchorAccount: "GANCHOR",
				AmountIn:              "99.000001",
				AmountFee:             "0.25",
			},
		},
		{
			name: "fee drifted",
			tx: sep24Transaction{
				Status:                statusPendingUserTransfer,
				WithdrawAnchorAccount: "GANCHOR",
				AmountIn:              "99.0",
				AmountFee:             "0.30",
			},
		},
		{
			name: "missing settlement account",
			tx: sep24Transaction{
				Status:   statusPendingUserTransfer,
				AmountIn: "99.0",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(sep24TransactionResponse{Transaction: tt.tx})
			}))
			defer server.Close()

			flow := newTestFlow(server.URL)
			_, err := flow.AwaitSettlementParams(context.Background(), "anchor.test", "t", "abc",
				ExpectedSettlement{GrossDecimal: "99.000000", FeeDecimal: "0.250000", Decimals: 6}, time.Second)
			var re *ramperr.Error
			if !ramperr.As(err, &re) || re.Code != ramperr.SettlementMismatch {
				t.Fatalf("error = %v, want SettlementMismatch", err)
			}
			if re.Class != ramperr.ClassFatal {
				t.Errorf("Class = %s, want fatal", re.Class)
			}
		})
	}
}

func TestAwaitSettlementParamsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sep24TransactionResponse{
			Transaction: sep24Transaction{Status: statusIncomplete},
		})
	}))
	defer server.Close()

	flow := newTestFlow(server.URL)
	_, err := flow.AwaitSettlementParams(context.Background(), "anchor.test", "t", "abc",
		ExpectedSettlement{GrossDecimal: "99.000000", Decimals: 6}, 50*time.Millisecond)
	var re *ramperr.Error
	if !ramperr.As(err, &re) || re.Class != ramperr.ClassTimeout {
		t.Fatalf("error = %v, want timeout class", err)
	}
}
