package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// OpaqueTokenSize is the number of random bytes in a single-use token.
const OpaqueTokenSize = 32

// NewOpaqueToken returns size random bytes encoded as base64url without
// padding.
func NewOpaqueToken(size int) (string, error) {
	if size < 16 {
		return "", errors.New("opaque token too short")
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ParseOpaqueToken checks that token is well-formed and returns its raw bytes.
func ParseOpaqueToken(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	if len(raw) < 16 {
		return nil, errors.New("opaque token too short")
	}
	return raw, nil
}

// HashOpaqueToken returns the hex SHA-256 of token. Stores key records by
// this value so the raw token never reaches Redis.
func HashOpaqueToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
