package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSkew is the forward-looking expiry buffer: a token judged valid
// must still be usable for at least one round-trip plus clock drift.
const DefaultSkew = 5 * time.Minute

// ErrDecode indicates a token that could not be decoded. Callers must
// treat a token that fails to decode as expired.
var ErrDecode = errors.New("malformed token")

// Claims represents the decoded access token payload
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Decode extracts the claims embedded in an access token without verifying
// its signature. The client never holds the signing key; the server remains
// the authority on token validity, the client only reads expiry and identity.
func Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return claims, nil
}

// IsExpired reports whether the token is expired or will expire within skew.
// A token that cannot be decoded or carries no expiry counts as expired.
func IsExpired(raw string, skew time.Duration) bool {
	claims, err := Decode(raw)
	if err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}

	return exp.Time.Before(time.Now().Add(skew))
}
