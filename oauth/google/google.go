// Package google verifies Google sign-in credentials. ID tokens are checked
// against Google's published keys; authorization codes are exchanged with
// the OAuth 2.0 token endpoint and resolved through the userinfo API.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	"github.com/deusexmachina/authcore/oauth"
)

// DefaultUserInfoURL is Google's OAuth2 userinfo endpoint.
const DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Config carries the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint and UserInfoURL default to Google's production endpoints.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

// TokenValidator checks a Google ID token for an audience.
type TokenValidator interface {
	Validate(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

// Verifier implements oauth.Verifier for Google.
type Verifier struct {
	clientID    string
	validator   TokenValidator
	oauth       *oauth2.Config
	userInfoURL string
	logger      zerolog.Logger
}

var _ oauth.Verifier = (*Verifier)(nil)

// New builds a Verifier using Google's published signing keys.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Verifier, error) {
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("create id token validator: %w", err)
	}
	return NewWithValidator(cfg, v, logger)
}

// NewWithValidator builds a Verifier around a caller-supplied validator.
func NewWithValidator(cfg Config, validator TokenValidator, logger zerolog.Logger) (*Verifier, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("google client id required")
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = googleoauth.Endpoint
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = DefaultUserInfoURL
	}
	return &Verifier{
		clientID:  cfg.ClientID,
		validator: validator,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.profile",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			Endpoint: cfg.Endpoint,
		},
		userInfoURL: cfg.UserInfoURL,
		logger:      logger.With().Str("component", "oauth_google").Logger(),
	}, nil
}

// AuthCodeURL returns the consent URL for state.
func (v *Verifier) AuthCodeURL(state string) string {
	return v.oauth.AuthCodeURL(state)
}

// Verify accepts an ID token, or a code when no ID token is given.
func (v *Verifier) Verify(ctx context.Context, cred oauth.Credential) (oauth.Identity, error) {
	switch {
	case cred.IDToken != "":
		return v.verifyIDToken(ctx, cred.IDToken)
	case cred.Code != "":
		return v.exchangeCode(ctx, cred)
	default:
		return oauth.Identity{}, oauth.ErrInvalidToken
	}
}

func (v *Verifier) verifyIDToken(ctx context.Context, raw string) (oauth.Identity, error) {
	if v.validator == nil {
		return oauth.Identity{}, oauth.ErrInvalidToken
	}
	payload, err := v.validator.Validate(ctx, raw, v.clientID)
	if err != nil {
		v.logger.Debug().Err(err).Msg("id token rejected")
		return oauth.Identity{}, oauth.ErrInvalidToken
	}

	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	name, _ := payload.Claims["name"].(string)
	if email == "" || !verified || payload.Subject == "" {
		return oauth.Identity{}, oauth.ErrInvalidToken
	}

	return oauth.Identity{
		Email:       strings.ToLower(email),
		Subject:     payload.Subject,
		DisplayName: name,
	}, nil
}

type userInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

func (v *Verifier) exchangeCode(ctx context.Context, cred oauth.Credential) (oauth.Identity, error) {
	cfg := *v.oauth
	if cred.RedirectURI != "" {
		cfg.RedirectURL = cred.RedirectURI
	}

	token, err := cfg.Exchange(ctx, cred.Code)
	if err != nil {
		v.logger.Warn().Err(err).Msg("authorization code exchange failed")
		return oauth.Identity{}, oauth.ErrInvalidToken
	}

	if raw, ok := token.Extra("id_token").(string); ok && raw != "" && v.validator != nil {
		return v.verifyIDToken(ctx, raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return oauth.Identity{}, err
	}
	resp, err := cfg.Client(ctx, token).Do(req)
	if err != nil {
		return oauth.Identity{}, fmt.Errorf("fetch google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return oauth.Identity{}, oauth.ErrInvalidToken
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return oauth.Identity{}, fmt.Errorf("decode google userinfo: %w", err)
	}
	if info.Email == "" || info.ID == "" || !info.VerifiedEmail {
		return oauth.Identity{}, oauth.ErrInvalidToken
	}

	return oauth.Identity{
		Email:       strings.ToLower(info.Email),
		Subject:     info.ID,
		DisplayName: info.Name,
	}, nil
}
