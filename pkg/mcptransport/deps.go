package mcptransport

import (
	"context"
	"time"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/httpclient"
	"github.com/cubicler/cubicler/pkg/jwtauth"
)

// Deps bundles the collaborators every transport variant needs. It is
// passed in at construction rather than built internally so the pool of
// outbound httpclient.Client/TokenProvider instances is shared process-wide.
type Deps struct {
	HTTPClient   *httpclient.Client
	TokenSource  TokenSource
	RequestTimeout time.Duration
}

// TokenSource mints the bearer token for a JwtAuthConfig. *jwtauth.TokenProvider
// satisfies this; it is narrowed to an interface so transports can be tested
// without a live OAuth2 endpoint.
type TokenSource interface {
	Token(ctx context.Context, cfg config.JwtAuthConfig) (string, error)
}

var _ TokenSource = (*jwtauth.TokenProvider)(nil)

func (d Deps) requestTimeout() time.Duration {
	if d.RequestTimeout > 0 {
		return d.RequestTimeout
	}
	return DefaultRequestTimeout
}

// authHeader resolves the Authorization header value for a server's auth
// config, or "" if none is configured.
func (d Deps) authHeader(ctx context.Context, auth *config.ServerAuthConfig) (string, error) {
	if auth == nil || auth.Type != "jwt" {
		return "", nil
	}
	token, err := d.TokenSource.Token(ctx, auth.Config)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}
