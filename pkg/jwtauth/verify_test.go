package jwtauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyTokenHS256Success(t *testing.T) {
	secret := "shared-secret"
	tok := signHS256(t, secret, jwt.MapClaims{
		"sub": "agent-1",
		"iss": "cubicler",
		"aud": "tools",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := VerifyToken(tok, secret, VerifyOptions{Issuer: "cubicler", Audience: "tools"})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims["sub"])
}

func TestVerifyTokenExpired(t *testing.T) {
	secret := "shared-secret"
	tok := signHS256(t, secret, jwt.MapClaims{
		"sub": "agent-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := VerifyToken(tok, secret, VerifyOptions{})
	assert.Error(t, err)
}

func TestVerifyTokenWrongIssuer(t *testing.T) {
	secret := "shared-secret"
	tok := signHS256(t, secret, jwt.MapClaims{
		"sub": "agent-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := VerifyToken(tok, secret, VerifyOptions{Issuer: "cubicler"})
	assert.Error(t, err)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	tok := signHS256(t, "secret-a", jwt.MapClaims{
		"sub": "agent-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := VerifyToken(tok, "secret-b", VerifyOptions{})
	assert.Error(t, err)
}

func TestVerifyTokenAlgorithmNotPermitted(t *testing.T) {
	secret := "shared-secret"
	tok := signHS256(t, secret, jwt.MapClaims{
		"sub": "agent-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := VerifyToken(tok, secret, VerifyOptions{Algorithms: []string{"RS256"}})
	assert.Error(t, err)
}
