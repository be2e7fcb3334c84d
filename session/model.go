package session

import "time"

// RevokedRetention is how long revoked sessions are kept before the expiry
// sweep purges them.
const RevokedRetention = 7 * 24 * time.Hour

// Session is one refresh-token-backed login. Only the hash of the refresh
// token is ever stored.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	DeviceInfo       string
	IPAddress        string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	LastAccessedAt   time.Time
	// RevokedAt is zero while the session has not been revoked.
	RevokedAt time.Time
}

// IsRevoked reports whether the session was revoked.
func (s Session) IsRevoked() bool {
	return !s.RevokedAt.IsZero()
}

// IsActive reports whether the session is unexpired and unrevoked at now.
func (s Session) IsActive(now time.Time) bool {
	return now.Before(s.ExpiresAt) && !s.IsRevoked()
}

// Purgeable reports whether the expiry sweep may delete the session.
func (s Session) Purgeable(now time.Time) bool {
	if !now.Before(s.ExpiresAt) {
		return true
	}
	return s.IsRevoked() && !s.RevokedAt.Add(RevokedRetention).After(now)
}

// WithRefreshTokenHash returns a copy holding a new refresh hash.
func (s Session) WithRefreshTokenHash(hash string) Session {
	s.RefreshTokenHash = hash
	return s
}

// WithLastAccessed returns a copy with LastAccessedAt set.
func (s Session) WithLastAccessed(at time.Time) Session {
	s.LastAccessedAt = at
	return s
}

// WithRevoked returns a copy revoked at at.
func (s Session) WithRevoked(at time.Time) Session {
	s.RevokedAt = at
	return s
}
