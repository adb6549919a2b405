// Package auth issues and verifies the API tokens used as request
// credentials. A token is "<userID>.<secret>"; only a bcrypt hash of the
// secret is stored.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const secretBytes = 24

// NewToken returns a fresh token for userID and the hash to store for it.
func NewToken(userID string) (token string, hash []byte, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("auth: generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	hash, err = bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("auth: hash secret: %w", err)
	}
	return userID + "." + secret, hash, nil
}

// ParseToken splits a token into its user id and secret.
func ParseToken(token string) (userID, secret string, ok bool) {
	userID, secret, ok = strings.Cut(strings.TrimSpace(token), ".")
	if !ok || userID == "" || secret == "" {
		return "", "", false
	}
	return userID, secret, true
}

// Verify reports whether secret matches the stored hash.
func Verify(hash []byte, secret string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}
