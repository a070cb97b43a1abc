// Package auth mints and verifies the HS256 service tokens accepted by the
// admin API.
package auth

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

// clockSkew tolerates small clock drift between the minting service and the API.
const clockSkew = 30 * time.Second

// AccessTokenPayload is what a caller asks to have signed. Subject names
// the calling service or operator.
type AccessTokenPayload struct {
	Subject string
	Role    enums.OperatorRole
	JTI     string
}

// AccessTokenClaims is the JWT body presented to the admin API.
type AccessTokenClaims struct {
	Role enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}

var (
	ErrSecretMissing = errors.New("jwt secret is required")
	ErrInvalidRole   = errors.New("invalid operator role")
)

// MintAccessToken signs a token for payload that expires after cfg.Expiration().
// An empty JTI is replaced by a random UUID.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", ErrSecretMissing
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case strings.TrimSpace(payload.Subject) == "":
		return "", errors.New("token subject is required")
	case !payload.Role.IsValid():
		return "", fmt.Errorf("%w %q", ErrInvalidRole, payload.Role)
	}

	claims := AccessTokenClaims{
		Role: payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        cmp.Or(strings.TrimSpace(payload.JTI), uuid.NewString()),
			Issuer:    cfg.Issuer,
			Subject:   strings.TrimSpace(payload.Subject),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiration())),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and expiry and returns the claims.
// Only HS256 is accepted.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, ErrSecretMissing
	}
	claims := &AccessTokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("%w %q", ErrInvalidRole, claims.Role)
	}
	return claims, nil
}
