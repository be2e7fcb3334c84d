package account

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned by Save when another user owns the email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("user store unavailable")
)

// Provider identifies how an account authenticates.
type Provider string

const (
	ProviderEmail    Provider = "EMAIL"
	ProviderGoogle   Provider = "GOOGLE"
	ProviderFacebook Provider = "FACEBOOK"
	ProviderApple    Provider = "APPLE"
	ProviderDiscord  Provider = "DISCORD"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderEmail, ProviderGoogle, ProviderFacebook, ProviderApple, ProviderDiscord:
		return true
	}
	return false
}

// LinkName is the lower-case name stored in User.LinkedProviders.
func (p Provider) LinkName() string {
	return strings.ToLower(string(p))
}

// SecuritySettings is embedded in User and only changed by the auth flows.
type SecuritySettings struct {
	MFAEnabled          bool
	MFASecret           string
	LastPasswordChange  time.Time
	FailedLoginAttempts int
	LockoutUntil        time.Time
}

// IsLocked reports whether a lockout window is active at now.
func (s SecuritySettings) IsLocked(now time.Time) bool {
	return !s.LockoutUntil.IsZero() && s.LockoutUntil.After(now)
}

// User is an identity record. Values are treated as immutable; the With
// helpers return modified copies.
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	DisplayName     string
	Provider        Provider
	EmailVerified   bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LinkedProviders []string
	Security        SecuritySettings
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasPassword reports whether the account can log in with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HasLinkedProvider reports whether name is in LinkedProviders.
func (u User) HasLinkedProvider(name string) bool {
	for _, p := range u.LinkedProviders {
		if p == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (u User) Clone() User {
	u.LinkedProviders = append([]string(nil), u.LinkedProviders...)
	return u
}

// WithEmailVerified returns a copy with EmailVerified set.
func (u User) WithEmailVerified(v bool) User {
	out := u.Clone()
	out.EmailVerified = v
	return out
}

// WithPasswordHash returns a copy with a new hash.
func (u User) WithPasswordHash(hash string) User {
	out := u.Clone()
	out.PasswordHash = hash
	return out
}

// WithDisplayName returns a copy with a new display name.
func (u User) WithDisplayName(name string) User {
	out := u.Clone()
	out.DisplayName = name
	return out
}

// WithLinkedProvider returns a copy with name added to LinkedProviders.
func (u User) WithLinkedProvider(name string) User {
	out := u.Clone()
	if !out.HasLinkedProvider(name) {
		out.LinkedProviders = append(out.LinkedProviders, name)
	}
	return out
}

// WithSecurity returns a copy with new security settings.
func (u User) WithSecurity(s SecuritySettings) User {
	out := u.Clone()
	out.Security = s
	return out
}

// Update is a partial update. Nil fields are left unchanged.
type Update struct {
	DisplayName     *string
	EmailVerified   *bool
	PasswordHash    *string
	LinkedProviders []string
	Security        *SecuritySettings
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.DisplayName == nil && u.EmailVerified == nil && u.PasswordHash == nil &&
		u.LinkedProviders == nil && u.Security == nil
}

// Apply returns a copy of user with the non-nil fields of u applied.
func (u Update) Apply(user User) User {
	out := user.Clone()
	if u.DisplayName != nil {
		out.DisplayName = *u.DisplayName
	}
	if u.EmailVerified != nil {
		out.EmailVerified = *u.EmailVerified
	}
	if u.PasswordHash != nil {
		out.PasswordHash = *u.PasswordHash
	}
	if u.LinkedProviders != nil {
		out.LinkedProviders = append([]string(nil), u.LinkedProviders...)
	}
	if u.Security != nil {
		out.Security = *u.Security
	}
	return out
}
