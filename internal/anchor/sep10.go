package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"ramp/internal/backend"
	"ramp/internal/netx"
	"ramp/internal/ramperr"
)

// ChallengeCosigner adds the client domain signature to a challenge. The
// funding backend implements it.
type ChallengeCosigner interface {
	SignChallenge(ctx context.Context, req backend.SignChallengeRequest) (string, error)
}

// Authenticator runs the SEP-10 web authentication flow.
type Authenticator struct {
	resolver     *TOMLResolver
	http         *netx.Client
	cosigner     ChallengeCosigner
	clientDomain string
	passphrase   string
	logger       *zap.Logger
}

// NewAuthenticator builds a SEP-10 authenticator. cosigner may be nil when
// no client domain is configured.
func NewAuthenticator(resolver *TOMLResolver, httpClient *netx.Client, cosigner ChallengeCosigner, clientDomain, networkPassphrase string, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		resolver:     resolver,
		http:         httpClient,
		cosigner:     cosigner,
		clientDomain: clientDomain,
		passphrase:   networkPassphrase,
		logger:       logger,
	}
}

// AuthParams selects the account that authenticates with the anchor.
type AuthParams struct {
	HomeDomain string
	// SignerSecret signs the challenge. For memo-based anchors this is not
	// the authenticating account; the backend holds that key.
	SignerSecret string
	// AuthAccount overrides the account parameter. Empty means the signer's
	// own address.
	AuthAccount string
	// Memo distinguishes this ramp under a shared omnibus account. Only set
	// for anchors that authenticate by memo.
	Memo string
}

type challengeResponse struct {
	Transaction       string `json:"transaction"`
	NetworkPassphrase string `json:"network_passphrase"`
}

type tokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// Authenticate obtains a SEP-10 JWT for the account described by params.
func (a *Authenticator) Authenticate(ctx context.Context, params AuthParams) (string, error) {
	info, err := a.resolver.Resolve(ctx, params.HomeDomain)
	if err != nil {
		return "", err
	}

	kp, err := keypair.ParseFull(params.SignerSecret)
	if err != nil {
		return "", ramperr.Fatal(ramperr.ChallengeSignFailed, "invalid signer secret", err)
	}

	authAccount := params.AuthAccount
	if authAccount == "" {
		authAccount = kp.Address()
	}

	challengeXDR, err := a.fetchChallenge(ctx, info, authAccount, params.Memo)
	if err != nil {
		return "", err
	}

	if err := a.validateChallenge(challengeXDR, info.SigningKey); err != nil {
		return "", err
	}

	signedXDR, err := a.signChallenge(ctx, challengeXDR, kp, false)
	if err != nil {
		return "", err
	}

	token, retryable, err := a.postChallenge(ctx, info.WebAuthEndpoint, signedXDR)
	if err == nil {
		return token, nil
	}

	// A rejected co-signature can mean the backend served a stale cached
	// signature. Force a fresh one exactly once; a second rejection is real.
	if retryable && a.cosigner != nil {
		a.logger.Warn("Anchor rejected co-signed challenge, retrying with fresh signature",
			zap.String("home_domain", params.HomeDomain))
		signedXDR, signErr := a.signChallenge(ctx, challengeXDR, kp, true)
		if signErr != nil {
			return "", signErr
		}
		token, _, retryErr := a.postChallenge(ctx, info.WebAuthEndpoint, signedXDR)
		if retryErr != nil {
			return "", retryErr
		}
		return token, nil
	}
	return "", err
}

func (a *Authenticator) fetchChallenge(ctx context.Context, info TOMLInfo, account, memo string) (string, error) {
	query := url.Values{}
	query.Set("account", account)
	if memo != "" {
		query.Set("memo", memo)
	}
	if a.clientDomain != "" {
		query.Set("client_domain", a.clientDomain)
	}

	resp, err := a.http.Get(ctx, info.WebAuthEndpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", ramperr.Transient(ramperr.ChallengeFetchFailed, "failed to fetch SEP-10 challenge", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ramperr.Transient(ramperr.ChallengeFetchFailed,
			fmt.Sprintf("challenge endpoint returned %s", resp.Status), nil)
	}

	var challenge challengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&challenge); err != nil {
		return "", ramperr.Transient(ramperr.ChallengeFetchFailed, "failed to decode challenge response", err)
	}
	if challenge.Transaction == "" {
		return "", ramperr.Fatal(ramperr.ChallengeInvalid, "challenge response has no transaction", nil)
	}
	if challenge.NetworkPassphrase != "" && challenge.NetworkPassphrase != a.passphrase {
		return "", ramperr.Fatal(ramperr.ChallengeInvalid,
			fmt.Sprintf("challenge is for network %q, expected %q", challenge.NetworkPassphrase, a.passphrase), nil)
	}
	return challenge.Transaction, nil
}

// validateChallenge rejects a challenge that was not built by the anchor's
// published signing key. Signing an unvalidated challenge would hand the
// anchor a signature over an arbitrary transaction.
func (a *Authenticator) validateChallenge(challengeXDR, signingKey string) error {
	generic, err := txnbuild.TransactionFromXDR(challengeXDR)
	if err != nil {
		return ramperr.Fatal(ramperr.ChallengeInvalid, "challenge is not a valid transaction", err)
	}
	tx, ok := generic.Transaction()
	if !ok {
		return ramperr.Fatal(ramperr.ChallengeInvalid, "challenge is not a simple transaction", nil)
	}

	source := tx.SourceAccount()
	if source.AccountID != signingKey {
		return ramperr.Fatal(ramperr.ChallengeInvalid,
			fmt.Sprintf("challenge source %s does not match anchor signing key %s", source.AccountID, signingKey), nil)
	}
	if source.Sequence != 0 {
		return ramperr.Fatal(ramperr.ChallengeInvalid,
			fmt.Sprintf("challenge sequence number is %d, must be 0", source.Sequence), nil)
	}
	return nil
}

func (a *Authenticator) signChallenge(ctx context.Context, challengeXDR string, kp *keypair.Full, forceCosign bool) (string, error) {
	generic, err := txnbuild.TransactionFromXDR(challengeXDR)
	if err != nil {
		return "", ramperr.Fatal(ramperr.ChallengeInvalid, "challenge is not a valid transaction", err)
	}
	tx, _ := generic.Transaction()

	signed, err := tx.Sign(a.passphrase, kp)
	if err != nil {
		return "", ramperr.Fatal(ramperr.ChallengeSignFailed, "failed to sign challenge", err)
	}

	signedXDR, err := signed.Base64()
	if err != nil {
		return "", ramperr.Fatal(ramperr.ChallengeSignFailed, "failed to encode signed challenge", err)
	}

	if a.clientDomain != "" && a.cosigner != nil {
		signedXDR, err = a.cosigner.SignChallenge(ctx, backend.SignChallengeRequest{
			TransactionXDR:    signedXDR,
			NetworkPassphrase: a.passphrase,
			ForceRefresh:      forceCosign,
		})
		if err != nil {
			return "", err
		}
	}
	return signedXDR, nil
}

// postChallenge exchanges the signed challenge for a JWT. The second return
// reports whether a rejection is worth one co-sign retry.
func (a *Authenticator) postChallenge(ctx context.Context, webAuthEndpoint, signedXDR string) (string, bool, error) {
	body, err := json.Marshal(map[string]string{"transaction": signedXDR})
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal token request: %w", err)
	}

	resp, err := a.http.PostJSON(ctx, webAuthEndpoint, body, nil)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized,
			ramperr.Fatal(ramperr.AuthRejected,
				fmt.Sprintf("anchor rejected signed challenge: %s: %s", resp.Status, detail), nil)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", false, ramperr.Transient(ramperr.AuthRejected, "failed to decode token response", err)
	}
	if token.Token == "" {
		return "", false, ramperr.Fatal(ramperr.AuthRejected,
			fmt.Sprintf("anchor returned no token: %s", token.Error), nil)
	}
	return token.Token, false, nil
}
