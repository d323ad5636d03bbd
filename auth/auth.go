// Package auth issues and validates the bearer tokens the WebSocket gateway
// uses to pin an origin to a connection. This is transport-level admission
// control: the glue protocol itself authenticates nothing beyond origin
// comparison, so the token's job is to make the declared origin trustworthy.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the standard registered claims plus the origin the bearer
// is entitled to declare on its glue channel.
type Claims struct {
	jwt.RegisteredClaims
	Origin string   `json:"origin,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// Validator defines the interface for token validation implementations.
type Validator interface {
	ParseAndValidate(token string) (*Claims, error)
}

// HS256 implements Validator for the HS256 signing algorithm using a shared
// secret.
type HS256 struct {
	Secret []byte
}

// ParseAndValidate parses and validates a token string using HS256.
// It returns the parsed claims if the token is valid.
func (v *HS256) ParseAndValidate(tokenStr string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// CreateTokenHS256 creates and signs a token entitling the subject to declare
// the given origin. A zero expiresIn issues a token without expiry.
func CreateTokenHS256(secret []byte, subject, origin string, expiresIn time.Duration, scopes ...string) (string, error) {
	now := time.Now().UTC()
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	if expiresIn != 0 {
		rc.ExpiresAt = jwt.NewNumericDate(now.Add(expiresIn))
	}

	claims := &Claims{
		RegisteredClaims: rc,
		Origin:           origin,
	}
	if len(scopes) > 0 {
		claims.Scopes = scopes
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

// BearerFromRequest extracts a bearer token from the HTTP request.
// It checks both the Authorization header and access_token query parameter.
func BearerFromRequest(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[len("Bearer "):]), true
	}
	if q := r.URL.Query().Get("access_token"); q != "" {
		return q, true
	}
	return "", false
}
