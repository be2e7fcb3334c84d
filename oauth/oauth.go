// Package oauth defines the contract between the auth engine and external
// identity providers.
package oauth

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned when the provider rejects a credential.
var ErrInvalidToken = errors.New("invalid external token")

// Identity is a provider-verified user.
type Identity struct {
	Email       string
	Subject     string
	DisplayName string
}

// Credential is what a client presents: either an ID token or an
// authorization code to exchange.
type Credential struct {
	IDToken     string
	Code        string
	RedirectURI string
}

// Verifier resolves a credential to a verified identity or ErrInvalidToken.
type Verifier interface {
	Verify(ctx context.Context, cred Credential) (Identity, error)
}
