// Package jwtauth implements the JWT Helper (spec.md §4.7): minting/caching
// outbound bearer tokens for calls Cubicler makes to MCP servers and agents,
// and VerifyToken for validating inbound tokens. No production code path
// calls VerifyToken: webhook `jwt` auth compares the presented bearer with a
// token minted by TokenProvider, and the HTTP edge has no bearer check.
package jwtauth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// VerifyOptions carries the optional checks verifyToken applies beyond
// signature/expiry, per spec.md §4.7.
type VerifyOptions struct {
	Issuer     string
	Audience   string
	Algorithms []string // default {"HS256", "RS256"}
}

var defaultAlgorithms = []string{"HS256", "RS256"}

// VerifyToken validates tokenString's signature, not-before, and expiry,
// and — when configured — its issuer/audience, returning the decoded
// claims as a plain map. secret is either a raw HMAC secret (HS256) or a
// PEM-encoded RSA public key (RS256); which one is inferred from its
// shape, since JwtAuthConfig carries a single `secret` field for both
// (spec.md §3, §4.7).
func VerifyToken(tokenString, secret string, opts VerifyOptions) (map[string]any, error) {
	algs := opts.Algorithms
	if len(algs) == 0 {
		algs = defaultAlgorithms
	}

	key, alg, err := resolveVerificationKey(secret)
	if err != nil {
		return nil, fmt.Errorf("resolve verification key: %w", err)
	}
	if !slices.Contains(algs, alg.String()) {
		return nil, fmt.Errorf("algorithm %s is not permitted", alg)
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithKey(alg, key),
		jwt.WithValidate(true),
	}
	if opts.Issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(opts.Audience))
	}

	token, err := jwt.Parse([]byte(tokenString), parseOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, err := token.AsMap(context.Background())
	if err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	return claims, nil
}

// resolveVerificationKey treats a PEM-looking secret as an RS256 public
// key and everything else as an HS256 shared secret.
func resolveVerificationKey(secret string) (any, jwa.SignatureAlgorithm, error) {
	if strings.Contains(secret, "BEGIN") {
		key, err := jwk.ParseKey([]byte(secret), jwk.WithPEM(true))
		if err != nil {
			return nil, "", fmt.Errorf("parse PEM public key: %w", err)
		}
		return key, jwa.RS256, nil
	}
	return []byte(secret), jwa.HS256, nil
}
