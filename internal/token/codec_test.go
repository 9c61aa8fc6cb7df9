package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// mintToken creates a signed test token with the given lifetime
func mintToken(t *testing.T, userID, email string, expiresIn time.Duration) string {
	t.Helper()

	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestDecode(t *testing.T) {
	raw := mintToken(t, "user-1", "a@b.com", time.Hour)

	claims, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "a@b.com", claims.Email)
	require.NotNil(t, claims.ExpiresAt)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "not a jwt", raw: "opaque-token"},
		{name: "too few segments", raw: "header.payload"},
		{name: "invalid base64 payload", raw: "aGVhZGVy.!!!.c2ln"},
		{name: "payload not json", raw: "aGVhZGVy.bm90LWpzb24.c2ln"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn time.Duration
		skew      time.Duration
		want      bool
	}{
		{name: "expires within skew", expiresIn: 4 * time.Minute, skew: DefaultSkew, want: true},
		{name: "expires beyond skew", expiresIn: 10 * time.Minute, skew: DefaultSkew, want: false},
		{name: "already expired", expiresIn: -time.Minute, skew: DefaultSkew, want: true},
		{name: "zero skew still valid", expiresIn: time.Minute, skew: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := mintToken(t, "user-1", "a@b.com", tt.expiresIn)
			require.Equal(t, tt.want, IsExpired(raw, tt.skew))
		})
	}
}

func TestIsExpiredUndecodableToken(t *testing.T) {
	require.True(t, IsExpired("garbage", DefaultSkew))
}

func TestIsExpiredTokenWithoutExpiry(t *testing.T) {
	claims := Claims{UserID: "user-1", Email: "a@b.com"}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	require.True(t, IsExpired(raw, DefaultSkew))
}
