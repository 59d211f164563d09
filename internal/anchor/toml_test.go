package anchor

import (
	"context"
	"testing"
	"time"

	"ramp/internal/netx"
	"ramp/internal/ramperr"
)

const sampleTOML = `
# Sample anchor toml
NETWORK_PASSPHRASE = "Test SDF Network ; September 2015"
WEB_AUTH_ENDPOINT = "https://anchor.example.com/auth/"
TRANSFER_SERVER_SEP0024 = "https://anchor.example.com/sep24"
SIGNING_KEY = "GBDKRTMVEL2PK7BHHDDEL6J2QPFGXQW37GTOK42I56TY6SPOADJ23Y2G"

[DOCUMENTATION]
ORG_NAME = "Example Anchor"
`

func TestParseTOML(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		signingKey string
		webAuth    string
		transfer   string
	}{
		{
			name:       "full document",
			body:       sampleTOML,
			signingKey: "GBDKRTMVEL2PK7BHHDDEL6J2QPFGXQW37GTOK42I56TY6SPOADJ23Y2G",
			webAuth:    "https://anchor.example.com/auth",
			transfer:   "https://anchor.example.com/sep24",
		},
		{
			name: "keys below a table header are ignored",
			body: "SIGNING_KEY = \"GABC\"\n[CURRENCIES]\nWEB_AUTH_ENDPOINT = \"https://hidden\"\n",

			signingKey: "GABC",
			webAuth:    "",
			transfer:   "",
		},
		{
			name:       "empty document",
			body:       "",
			signingKey: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := parseTOML(tt.body)
			if info.SigningKey != tt.signingKey {
				t.Errorf("SigningKey = %q, want %q", info.SigningKey, tt.signingKey)
			}
			if info.WebAuthEndpoint != tt.webAuth {
				t.Errorf("WebAuthEndpoint = %q, want %q", info.WebAuthEndpoint, tt.webAuth)
			}
			if info.TransferServer != tt.transfer {
				t.Errorf("TransferServer = %q, want %q", info.TransferServer, tt.transfer)
			}
		})
	}
}

func TestResolverServesFromCache(t *testing.T) {
	resolver := NewTOMLResolver(netx.NewClient(netx.WithMaxRetries(0), netx.WithTimeout(200*time.Millisecond)))

	info := parseTOML(sampleTOML)
	resolver.cache["anchor.example.com"] = tomlCacheEntry{info: info, expiresAt: time.Now().Add(time.Minute)}

	// A scheme prefix or trailing slash must hit the same cache entry, so a
	// fresh fetch (which would fail, the domain does not exist) never runs.
	for _, domain := range []string{"anchor.example.com", "https://anchor.example.com/"} {
		got, err := resolver.Resolve(context.Background(), domain)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", domain, err)
		}
		if got.SigningKey != info.SigningKey {
			t.Errorf("Resolve(%q) SigningKey = %q, want %q", domain, got.SigningKey, info.SigningKey)
		}
	}
}

func TestResolverRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no signing key", body: "WEB_AUTH_ENDPOINT = \"https://a\"\nTRANSFER_SERVER_SEP0024 = \"https://b\"\n"},
		{name: "no web auth", body: "SIGNING_KEY = \"GABC\"\nTRANSFER_SERVER_SEP0024 = \"https://b\"\n"},
		{name: "no transfer server", body: "SIGNING_KEY = \"GABC\"\nWEB_AUTH_ENDPOINT = \"https://a\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := parseTOML(tt.body)
			missing := info.SigningKey == "" || info.WebAuthEndpoint == "" || info.TransferServer == ""
			if !missing {
				t.Fatal("expected a missing required field")
			}
		})
	}
}

func TestResolveFailureIsTyped(t *testing.T) {
	resolver := NewTOMLResolver(netx.NewClient(netx.WithMaxRetries(0), netx.WithTimeout(200*time.Millisecond)))
	_, err := resolver.Resolve(context.Background(), "localhost:1")
	if err == nil {
		t.Fatal("expected error for unreachable domain")
	}
	var re *ramperr.Error
	if !ramperr.As(err, &re) {
		t.Fatalf("expected ramperr.Error, got %T", err)
	}
	if re.Class != ramperr.ClassTransient {
		t.Errorf("Class = %s, want transient", re.Class)
	}
}
