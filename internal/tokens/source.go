// Package tokens is the Token Reloader: resolves upstream access tokens
// from cache, falling back to an authority service and finally the
// process environment, then rebuilds the Upstream Connector vector without
// losing subscription state. The fetch-then-notify flow is grounded on
// original_source/services/token-service's Redis-then-HTTP-notify design;
// the HTTP client shape is the teacher's internal/notification/webhook.go
// pattern.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"marketfeed/internal/cache"
)

// Source resolves one account's bearer token via cache, then an authority
// service HTTP call, then an environment variable — the same order the
// original token service's consumers use when the cache is cold.
type Source struct {
	gateway         *cache.Gateway
	authorityURL    string
	http            *http.Client
}

// NewSource builds a Source. authorityURL may be empty, in which case that
// fallback step is skipped.
func NewSource(gw *cache.Gateway, authorityURL string) *Source {
	return &Source{
		gateway:      gw,
		authorityURL: authorityURL,
		http:         &http.Client{Timeout: 5 * time.Second},
	}
}

// Resolve returns a valid token for accountID or an error if every source
// is exhausted.
func (s *Source) Resolve(ctx context.Context, accountID string) (string, error) {
	if tok, err := s.gateway.ReadToken(ctx, accountID); err == nil && tok != "" {
		return tok, nil
	}

	if s.authorityURL != "" {
		if tok, err := s.fetchFromAuthority(ctx, accountID); err == nil && tok != "" {
			return tok, nil
		}
	}

	if tok := os.Getenv("UPSTREAM_TOKEN_" + accountID); tok != "" {
		return tok, nil
	}

	return "", fmt.Errorf("tokens: no token available for account %s from cache, authority service, or environment", accountID)
}

func (s *Source) fetchFromAuthority(ctx context.Context, accountID string) (string, error) {
	url := fmt.Sprintf("%s/api/tokens/%s", s.authorityURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("authority service returned status %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.AccessToken, nil
}
