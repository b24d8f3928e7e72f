// Package auth provides bearer-token authentication for the Progress
// Broadcaster (C9) — a single shared-secret HMAC scheme, since the
// broadcaster has no user/role domain of its own to authenticate
// against.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthDisabled is returned by NewJWTService when called with an
// empty secret while auth is enabled — a misconfiguration the caller
// must fix before serving requests.
var ErrAuthDisabled = errors.New("auth: jwt secret required when auth is enabled")

// Claims is the minimal claim set a progress-stream token carries: who
// issued it and which run it may read (empty Scope means any run).
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTService signs and validates bearer tokens with a single shared
// HMAC secret, read from ProgressConfig.JWTSecret.
type JWTService struct {
	secret     []byte
	issuer     string
	expiration time.Duration
}

// NewJWTService builds a JWTService. secret must be non-empty.
func NewJWTService(secret string, expiration time.Duration) (*JWTService, error) {
	if secret == "" {
		return nil, ErrAuthDisabled
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &JWTService{secret: []byte(secret), issuer: "waveplan", expiration: expiration}, nil
}

// IssueToken mints a bearer token scoped to a single ScheduleId, or to
// every run if scope is empty.
func (j *JWTService) IssueToken(scope string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(j.expiration)
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and verifies a bearer token.
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	return claims, nil
}

// Allows reports whether a token's scope permits reading scheduleID's
// stream — an empty scope is a wildcard.
func (c *Claims) Allows(scheduleID string) bool {
	return c.Scope == "" || c.Scope == scheduleID
}
