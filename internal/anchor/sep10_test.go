package anchor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"ramp/internal/backend"
	"ramp/internal/netx"
	"ramp/internal/ramperr"
)

func buildChallenge(t *testing.T, serverKP *keypair.Full, clientAccount, homeDomain string) string {
	t.Helper()
	tx, err := txnbuild.BuildChallengeTx(
		serverKP.Seed(), clientAccount, homeDomain, homeDomain,
		network.TestNetworkPassphrase, 5*time.Minute, nil)
	if err != nil {
		t.Fatalf("BuildChallengeTx: %v", err)
	}
	xdr, err := tx.Base64()
	if err != nil {
		t.Fatalf("Base64: %v", err)
	}
	return xdr
}

func newAuthTestServer(t *testing.T, serverKP *keypair.Full, homeDomain string, rejectFirstPost bool) (*httptest.Server, *int) {
	t.Helper()
	posts := new(int)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			account := r.URL.Query().Get("account")
			if account == "" {
				http.Error(w, "missing account", http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(challengeResponse{
				Transaction:       buildChallenge(t, serverKP, account, homeDomain),
				NetworkPassphrase: network.TestNetworkPassphrase,
			})
		case http.MethodPost:
			*posts++
			if rejectFirstPost && *posts == 1 {
				http.Error(w, `{"error":"bad signature"}`, http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(tokenResponse{Token: "jwt-token"})
		}
	})
	return httptest.NewServer(mux), posts
}

func newTestAuthenticator(webAuthEndpoint, signingKey, clientDomain string, cosigner ChallengeCosigner) *Authenticator {
	resolver := NewTOMLResolver(netx.NewClient(netx.WithMaxRetries(0)))
	resolver.cache["anchor.test"] = tomlCacheEntry{
		info: TOMLInfo{
			SigningKey:      signingKey,
			WebAuthEndpoint: webAuthEndpoint,
			TransferServer:  "https://unused.test",
		},
		expiresAt: time.Now().Add(time.Minute),
	}
	return NewAuthenticator(resolver, netx.NewClient(netx.WithMaxRetries(0)), cosigner,
		clientDomain, network.TestNetworkPassphrase, zap.NewNop())
}

func TestAuthenticateHappyPath(t *testing.T) {
	serverKP := keypair.MustRandom()
	clientKP := keypair.MustRandom()

	server, _ := newAuthTestServer(t, serverKP, "anchor.test", false)
	defer server.Close()

	auth := newTestAuthenticator(server.URL+"/auth", serverKP.Address(), "", nil)
	token, err := auth.Authenticate(context.Background(), AuthParams{
		HomeDomain:   "anchor.test",
		SignerSecret: clientKP.Seed(),
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token != "jwt-token" {
		t.Errorf("token = %q, want jwt-token", token)
	}
}

func TestAuthenticateRejectsForeignChallenge(t *testing.T) {
	// The challenge is signed by one key while the toml advertises another.
	// Signing it anyway would authorize an arbitrary transaction.
	forgerKP := keypair.MustRandom()
	advertisedKP := keypair.MustRandom()
	clientKP := keypair.MustRandom()

	server, _ := newAuthTestServer(t, forgerKP, "anchor.test", false)
	defer server.Close()

	auth := newTestAuthenticator(server.URL+"/auth", advertisedKP.Address(), "", nil)
	_, err := auth.Authenticate(context.Background(), AuthParams{
		HomeDomain:   "anchor.test",
		SignerSecret: clientKP.Seed(),
	})
	if err == nil {
		t.Fatal("expected challenge validation to fail")
	}
	var re *ramperr.Error
	if !ramperr.As(err, &re) || re.Code != ramperr.ChallengeInvalid {
		t.Fatalf("error = %v, want ChallengeInvalid", err)
	}
	if re.Class != ramperr.ClassFatal {
		t.Errorf("Class = %s, want fatal", re.Class)
	}
}

func TestValidateChallengeRejectsNonZeroSequence(t *testing.T) {
	serverKP := keypair.MustRandom()
	source := txnbuild.SimpleAccount{AccountID: serverKP.Address(), Sequence: 41}
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &source,
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.ManageData{Name: "anchor.test auth", Value: []byte("nonce")},
		},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
	})
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	xdr, err := tx.Base64()
	if err != nil {
		t.Fatalf("Base64: %v", err)
	}

	auth := newTestAuthenticator("https://unused.test/auth", serverKP.Address(), "", nil)
	vErr := auth.validateChallenge(xdr, serverKP.Address())
	if vErr == nil {
		t.Fatal("expected non-zero sequence to be rejected")
	}
	var re *ramperr.Error
	if !ramperr.As(vErr, &re) || re.Code != ramperr.ChallengeInvalid {
		t.Fatalf("error = %v, want ChallengeInvalid", vErr)
	}
}

type fakeCosigner struct {
	calls       int
	forcedCalls int
}

func (f *fakeCosigner) SignChallenge(ctx context.Context, req backend.SignChallengeRequest) (string, error) {
	f.calls++
	if req.ForceRefresh {
		f.forcedCalls++
	}
	return req.TransactionXDR, nil
}

func TestAuthenticateRetriesCosignExactlyOnce(t *testing.T) {
	serverKP := keypair.MustRandom()
	clientKP := keypair.MustRandom()

	server, posts := newAuthTestServer(t, serverKP, "anchor.test", true)
	defer server.Close()

	cosigner := &fakeCosigner{}
	auth := newTestAuthenticator(server.URL+"/auth", serverKP.Address(), "ramp.example.com", cosigner)
	token, err := auth.Authenticate(context.Background(), AuthParams{
		HomeDomain:   "anchor.test",
		SignerSecret: clientKP.Seed(),
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token != "jwt-token" {
		t.Errorf("token = %q, want jwt-token", token)
	}
	if cosigner.calls != 2 || cosigner.forcedCalls != 1 {
		t.Errorf("cosigner calls = %d (forced %d), want 2 with 1 forced", cosigner.calls, cosigner.forcedCalls)
	}
	if *posts != 2 {
		t.Errorf("token posts = %d, want 2", *posts)
	}
}
