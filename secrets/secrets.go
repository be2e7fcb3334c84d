// Package secrets resolves the token signing key. The key is loaded once at
// startup and treated as immutable afterwards.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// MinKeyBytes is the shortest signing key accepted.
const MinKeyBytes = 32

var (
	// ErrMissing is returned when a provider has no key to offer.
	ErrMissing = errors.New("signing key not configured")
	// ErrTooShort is returned for keys under MinKeyBytes.
	ErrTooShort = fmt.Errorf("signing key must be at least %d bytes", MinKeyBytes)
)

// Provider yields the HMAC signing key.
type Provider interface {
	SigningKey(ctx context.Context) ([]byte, error)
}

// Static is a key held in memory, mostly for tests.
type Static []byte

func (s Static) SigningKey(context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrMissing
	}
	return append([]byte(nil), s...), nil
}

// Env reads the first non-empty variable among names, so a deployment can
// fall back from a service-specific name to a shared one.
type Env []string

func (e Env) SigningKey(context.Context) ([]byte, error) {
	for _, name := range e {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return []byte(v), nil
		}
	}
	return nil, fmt.Errorf("%w: none of %s set", ErrMissing, strings.Join(e, ", "))
}

// File reads the key from a mounted secret file. A trailing newline is
// stripped.
type File string

func (f File) SigningKey(context.Context) ([]byte, error) {
	if f == "" {
		return nil, ErrMissing
	}
	data, err := os.ReadFile(string(f))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrMissing, string(f))
		}
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	data = bytes.TrimRight(data, "\r\n")
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrMissing, string(f))
	}
	return data, nil
}

// Chain tries providers in order and returns the first key found. Errors
// other than ErrMissing stop the search.
type Chain []Provider

func (c Chain) SigningKey(ctx context.Context) ([]byte, error) {
	for _, p := range c {
		key, err := p.SigningKey(ctx)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrMissing) {
			return nil, err
		}
	}
	return nil, ErrMissing
}

// Load fetches the key from p and enforces MinKeyBytes.
func Load(ctx context.Context, p Provider) ([]byte, error) {
	if p == nil {
		return nil, ErrMissing
	}
	key, err := p.SigningKey(ctx)
	if err != nil {
		return nil, err
	}
	if len(key) < MinKeyBytes {
		return nil, ErrTooShort
	}
	return key, nil
}
