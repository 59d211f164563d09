// Package anchor implements the anchor-facing protocol flows: stellar.toml
// discovery, SEP-10 authentication, and the SEP-24 interactive withdrawal
// with settlement parameter validation.
package anchor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ramp/internal/netx"
	"ramp/internal/ramperr"
)

const (
	tomlPath     = "/.well-known/stellar.toml"
	tomlCacheTTL = 10 * time.Minute
	tomlMaxBytes = 100 * 1024
)

// TOMLInfo holds the fields the ramp needs from an anchor's stellar.toml.
type TOMLInfo struct {
	SigningKey        string
	WebAuthEndpoint   string
	TransferServer    string // TRANSFER_SERVER_SEP0024
	NetworkPassphrase string
}

// TOMLResolver fetches and caches stellar.toml documents per home domain.
type TOMLResolver struct {
	http  *netx.Client
	mu    sync.RWMutex
	cache map[string]tomlCacheEntry
}

type tomlCacheEntry struct {
	info      TOMLInfo
	expiresAt time.Time
}

// NewTOMLResolver creates a resolver with an empty cache.
func NewTOMLResolver(httpClient *netx.Client) *TOMLResolver {
	return &TOMLResolver{http: httpClient, cache: make(map[string]tomlCacheEntry)}
}

// Resolve returns the TOML info for a home domain, fetching it if the cached
// copy is missing or stale.
func (r *TOMLResolver) Resolve(ctx context.Context, homeDomain string) (TOMLInfo, error) {
	domain := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(homeDomain, "https://"), "http://"), "/")

	r.mu.RLock()
	entry, ok := r.cache[domain]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.info, nil
	}

	info, err := r.fetch(ctx, domain)
	if err != nil {
		return TOMLInfo{}, err
	}

	r.mu.Lock()
	r.cache[domain] = tomlCacheEntry{info: info, expiresAt: time.Now().Add(tomlCacheTTL)}
	r.mu.Unlock()
	return info, nil
}

func (r *TOMLResolver) fetch(ctx context.Context, domain string) (TOMLInfo, error) {
	url := "https://" + domain + tomlPath
	resp, err := r.http.Get(ctx, url, nil)
	if err != nil {
		return TOMLInfo{}, ramperr.Transient(ramperr.TOMLFetchFailed,
			fmt.Sprintf("failed to fetch %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TOMLInfo{}, ramperr.Transient(ramperr.TOMLFetchFailed,
			fmt.Sprintf("%s returned %s", url, resp.Status), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, tomlMaxBytes))
	if err != nil {
		return TOMLInfo{}, ramperr.Transient(ramperr.TOMLFetchFailed, "failed to read stellar.toml body", err)
	}

	info := parseTOML(string(body))
	if info.SigningKey == "" {
		return TOMLInfo{}, ramperr.Fatal(ramperr.TOMLFieldMissing,
			fmt.Sprintf("stellar.toml for %s has no SIGNING_KEY", domain), nil)
	}
	if info.WebAuthEndpoint == "" {
		return TOMLInfo{}, ramperr.Fatal(ramperr.TOMLFieldMissing,
			fmt.Sprintf("stellar.toml for %s has no WEB_AUTH_ENDPOINT", domain), nil)
	}
	if info.TransferServer == "" {
		return TOMLInfo{}, ramperr.Fatal(ramperr.TOMLFieldMissing,
			fmt.Sprintf("stellar.toml for %s has no TRANSFER_SERVER_SEP0024", domain), nil)
	}
	return info, nil
}

// parseTOML scans for the handful of top-level keys the ramp uses. Anchors
// publish flat key/value TOML for these fields, so a line scan is enough and
// avoids a parser dependency for four keys.
func parseTOML(body string) TOMLInfo {
	var info TOMLInfo
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Stop at the first table header; the keys we need are top level.
		if strings.HasPrefix(line, "[") {
			break
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch key {
		case "SIGNING_KEY":
			info.SigningKey = value
		case "WEB_AUTH_ENDPOINT":
			info.WebAuthEndpoint = strings.TrimSuffix(value, "/")
		case "TRANSFER_SERVER_SEP0024":
			info.TransferServer = strings.TrimSuffix(value, "/")
		case "NETWORK_PASSPHRASE":
			info.NetworkPassphrase = value
		}
	}
	return info
}
