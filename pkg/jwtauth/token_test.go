package jwtauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/httpclient"
)

func TestTokenProviderStaticMode(t *testing.T) {
	p := NewTokenProvider(nil)
	tok, err := p.Token(t.Context(), config.JwtAuthConfig{Token: "static-token"})
	require.NoError(t, err)
	assert.Equal(t, "static-token", tok)
}

func TestTokenProviderOAuth2FetchesAndCaches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		assert.Equal(t, "client-1", r.FormValue("client_id"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "minted-token",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	p := NewTokenProvider(httpclient.New())
	cfg := config.JwtAuthConfig{
		TokenURL:     srv.URL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	}

	tok1, err := p.Token(t.Context(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "minted-token", tok1)

	tok2, err := p.Token(t.Context(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "minted-token", tok2)

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "second call should be served from cache")
}

func TestTokenProviderOAuth2RefreshesNearExpiry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": map[int32]string{1: "token-a", 2: "token-b"}[min(n, 2)],
			"expires_in":   1,
		})
	}))
	defer srv.Close()

	p := NewTokenProvider(httpclient.New())
	cfg := config.JwtAuthConfig{
		TokenURL:         srv.URL,
		ClientID:         "client-1",
		ClientSecret:     "secret-1",
		RefreshThreshold: config.Duration(2 * time.Second),
	}

	tok1, err := p.Token(t.Context(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "token-a", tok1)

	tok2, err := p.Token(t.Context(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "token-b", tok2, "expires_in (1s) is within the 2s refresh threshold, so this should re-fetch")
}
