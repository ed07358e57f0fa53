// Package auth mints and verifies the HS256 bearer tokens the identity
// service hands to drivers and organizers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/pkg/config"
)

const clockSkew = 30 * time.Second

var (
	ErrNoSecret    = errors.New("jwt secret is required")
	errMissingUser = errors.New("token carries no user_id")
)

// AccessTokenClaims only exposes the user id; the registered claims are
// checked by the parser.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims pass. jwt calls it through the
// ClaimsValidator interface.
func (c AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return errMissingUser
	}
	if c.Subject != "" && c.Subject != c.UserID.String() {
		return fmt.Errorf("subject %q does not match user_id", c.Subject)
	}
	return nil
}

// MintAccessToken signs a token for userID. Only local tooling and tests
// mint tokens; production tokens come from the identity service.
func MintAccessToken(cfg config.JWTConfig, now time.Time, userID uuid.UUID) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", ErrNoSecret
	case cfg.ExpirationMinutes <= 0:
		return "", errors.New("jwt expiration must be positive")
	case userID == uuid.Nil:
		return "", errMissingUser
	}

	ttl := time.Duration(cfg.ExpirationMinutes) * time.Minute
	claims := AccessTokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    cfg.Issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// ParseAccessToken verifies signature, expiry and issuer, then returns the
// claims. Tokens without an exp claim are rejected.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	key := []byte(cfg.Secret)

	claims := new(AccessTokenClaims)
	if _, err := parser(cfg).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
		return nil, err
	}
	return claims, nil
}

func parser(cfg config.JWTConfig) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return jwt.NewParser(opts...)
}
