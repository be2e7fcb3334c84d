package authcore

import "errors"

var (
	// ErrAlreadyExists is returned when an email is registered or a resource
	// is already claimed.
	ErrAlreadyExists = errors.New("already exists")
	// ErrWeakPassword is returned when a password fails the strength rules.
	ErrWeakPassword = errors.New("password too weak")
	// ErrBreachedPassword is returned when a password is known to be compromised.
	ErrBreachedPassword = errors.New("password found in breach corpus")
	// ErrInvalidCredentials covers unknown emails, password-less accounts and
	// wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidToken is returned for access or refresh tokens that fail
	// verification or no longer map to an active session.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidOrExpiredToken is returned for unknown or expired verification
	// and reset tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrInvalidExternalToken is returned when an identity provider rejects a
	// credential.
	ErrInvalidExternalToken = errors.New("invalid external token")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited")
	// ErrInternal wraps infrastructure failures. It never means the request
	// itself was invalid.
	ErrInternal = errors.New("internal error")
	// ErrInvalidRequest is returned for malformed inputs such as unknown
	// permission levels.
	ErrInvalidRequest = errors.New("invalid request")
)
