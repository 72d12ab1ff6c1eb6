// Package jwt inspects tokens issued by the backend without verifying them.
// The client never holds the signing secret; verification is the server's job.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrNoExpiry = errors.New("token has no expiry claim")

func decode(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ExpiresAt returns the token's expiry time.
func ExpiresAt(tokenString string) (time.Time, error) {
	claims, err := decode(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// Expired reports whether the token's expiry has passed at the given instant.
// Tokens that cannot be decoded, or that carry no expiry, are not reported as
// expired; the server is left to reject them.
func Expired(tokenString string, now time.Time) bool {
	exp, err := ExpiresAt(tokenString)
	if err != nil {
		return false
	}
	return exp.Before(now)
}

// Subject returns the token's subject claim, typically the user id.
func Subject(tokenString string) (string, error) {
	claims, err := decode(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
