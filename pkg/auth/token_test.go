package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "carousel", ExpirationMinutes: 30}

func mint(t *testing.T, cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) string {
	t.Helper()
	token, err := MintAccessToken(cfg, now, payload)
	require.NoError(t, err)
	return token
}

func TestMintAndParseRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	token := mint(t, testJWT, now, AccessTokenPayload{Subject: " crud-app ", Role: enums.OperatorRoleAdmin, JTI: "token-1"})

	claims, err := ParseAccessToken(testJWT, token)
	require.NoError(t, err)
	require.Equal(t, "crud-app", claims.Subject)
	require.Equal(t, enums.OperatorRoleAdmin, claims.Role)
	require.Equal(t, "token-1", claims.ID)
	require.Equal(t, "carousel", claims.Issuer)
	require.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestMintGeneratesJTI(t *testing.T) {
	a := mint(t, testJWT, time.Now(), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleOperator})
	b := mint(t, testJWT, time.Now(), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleOperator})

	ca, err := ParseAccessToken(testJWT, a)
	require.NoError(t, err)
	cb, err := ParseAccessToken(testJWT, b)
	require.NoError(t, err)
	require.NotEmpty(t, ca.ID)
	require.NotEqual(t, ca.ID, cb.ID)
}

func TestParseRejects(t *testing.T) {
	otherSecret := testJWT
	otherSecret.Secret = "not-the-secret"
	forged := mint(t, otherSecret, time.Now(), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleAdmin})

	otherIssuer := testJWT
	otherIssuer.Issuer = "someone-else"
	foreign := mint(t, otherIssuer, time.Now(), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleOperator})

	expired := mint(t, testJWT, time.Now().Add(-time.Hour), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleOperator})

	hs384, err := jwt.NewWithClaims(jwt.SigningMethodHS384, AccessTokenClaims{
		Role: enums.OperatorRoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "carousel",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]struct {
		token string
		is    error
	}{
		"wrong secret":    {forged, jwt.ErrTokenSignatureInvalid},
		"wrong issuer":    {foreign, jwt.ErrTokenInvalidIssuer},
		"expired":         {expired, jwt.ErrTokenExpired},
		"other algorithm": {hs384, jwt.ErrTokenSignatureInvalid},
	}
	for name, tc := range cases {
		_, err := ParseAccessToken(testJWT, tc.token)
		require.ErrorIs(t, err, tc.is, name)
	}
}

func TestParseToleratesClockSkew(t *testing.T) {
	issuedAhead := mint(t, testJWT, time.Now().Add(10*time.Second), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleOperator})
	_, err := ParseAccessToken(testJWT, issuedAhead)
	require.NoError(t, err)
}

func TestMintValidation(t *testing.T) {
	cases := map[string]AccessTokenPayload{
		"missing role":    {Subject: "ops"},
		"unknown role":    {Subject: "ops", Role: "owner"},
		"missing subject": {Subject: "  ", Role: enums.OperatorRoleAdmin},
	}
	for name, payload := range cases {
		_, err := MintAccessToken(testJWT, time.Now(), payload)
		require.Error(t, err, name)
	}

	_, err := MintAccessToken(config.JWTConfig{Issuer: "carousel"}, time.Now(), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleAdmin})
	require.ErrorIs(t, err, ErrSecretMissing)
}
