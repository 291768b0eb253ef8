package jwtauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/httpclient"
)

const defaultRefreshThreshold = 5 * time.Minute

// TokenProvider mints and caches the bearer token Cubicler attaches to
// outbound MCP/agent requests, per the two JwtAuthConfig modes in
// spec.md §4.7.
type TokenProvider struct {
	client *httpclient.Client

	mu    sync.Mutex
	cache map[tokenCacheKey]cachedToken
}

type tokenCacheKey struct {
	tokenURL string
	clientID string
	audience string
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// NewTokenProvider constructs a TokenProvider. A default httpclient.Client
// is created if client is nil.
func NewTokenProvider(client *httpclient.Client) *TokenProvider {
	if client == nil {
		client = httpclient.New()
	}
	return &TokenProvider{client: client, cache: make(map[tokenCacheKey]cachedToken)}
}

// Token returns the bearer token to use for cfg: verbatim for static
// configs, minted-and-cached for OAuth2 client-credentials configs.
func (p *TokenProvider) Token(ctx context.Context, cfg config.JwtAuthConfig) (string, error) {
	if cfg.IsStatic() {
		return cfg.Token, nil
	}
	if !cfg.IsOAuth2() {
		return "", fmt.Errorf("jwt config has neither a static token nor oauth2 client credentials")
	}

	key := tokenCacheKey{tokenURL: cfg.TokenURL, clientID: cfg.ClientID, audience: cfg.Audience}
	threshold := cfg.RefreshThreshold.AsDuration()
	if threshold <= 0 {
		threshold = defaultRefreshThreshold
	}

	p.mu.Lock()
	if cached, ok := p.cache[key]; ok && time.Now().Before(cached.expiresAt.Add(-threshold)) {
		p.mu.Unlock()
		return cached.accessToken, nil
	}
	p.mu.Unlock()

	token, expiresAt, err := p.fetchToken(ctx, cfg)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cache[key] = cachedToken{accessToken: token, expiresAt: expiresAt}
	p.mu.Unlock()

	return token, nil
}

// ClearCache drops every cached access token, forcing the next Token call
// to re-mint.
func (p *TokenProvider) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[tokenCacheKey]cachedToken)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *TokenProvider) fetchToken(ctx context.Context, cfg config.JwtAuthConfig) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	if cfg.Audience != "" {
		form.Set("audience", cfg.Audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("request token from %s: %w", cfg.TokenURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("token endpoint %s returned status %d", cfg.TokenURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", time.Time{}, fmt.Errorf("parse token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint %s returned no access_token", cfg.TokenURL)
	}

	expiresAt := expiryFromResponse(parsed)
	return parsed.AccessToken, expiresAt, nil
}

// expiryFromResponse prefers the token endpoint's expires_in; if it's
// absent (some IdPs omit it for opaque-looking-but-actually-JWT access
// tokens), falls back to the access token's own unverified `exp` claim.
func expiryFromResponse(resp tokenResponse) time.Time {
	if resp.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(resp.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	// No usable expiry signal: treat as already-expired so the next call
	// re-fetches rather than caching a token forever.
	return time.Now()
}
