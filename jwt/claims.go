package jwt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrReservedClaim is returned when an extra claim would shadow a claim the
	// manager owns.
	ErrReservedClaim = errors.New("reserved claim name")
	// ErrInvalidClaim is returned for empty names and nil values.
	ErrInvalidClaim = errors.New("invalid claim")
)

// ClaimValue is the closed set of value types an extra claim may carry:
// String, Int, Bool, Time and Strings.
type ClaimValue interface {
	claimValue()
}

// String is a string claim.
type String string

// Int is an integer claim.
type Int int64

// Bool is a boolean claim.
type Bool bool

// Time is encoded as a NumericDate (unix seconds) and decodes back as Int.
type Time time.Time

// Strings is a string list claim.
type Strings []string

func (String) claimValue()  {}
func (Int) claimValue()     {}
func (Bool) claimValue()    {}
func (Time) claimValue()    {}
func (Strings) claimValue() {}

const (
	claimIssuer        = "iss"
	claimAudience      = "aud"
	claimSubject       = "sub"
	claimIssuedAt      = "iat"
	claimExpiresAt     = "exp"
	claimNotBefore     = "nbf"
	claimID            = "jti"
	claimEmail         = "email"
	claimEmailVerified = "email_verified"
	claimAuthProvider  = "auth_provider"
	claimRoles         = "roles"
	claimSessionID     = "session_id"
	claimType          = "type"

	refreshType = "refresh"
)

var reservedClaims = map[string]struct{}{
	claimIssuer:        {},
	claimAudience:      {},
	claimSubject:       {},
	claimIssuedAt:      {},
	claimExpiresAt:     {},
	claimNotBefore:     {},
	claimID:            {},
	claimEmail:         {},
	claimEmailVerified: {},
	claimAuthProvider:  {},
	claimRoles:         {},
	claimSessionID:     {},
	claimType:          {},
}

// IsReserved reports whether name is owned by the token manager.
func IsReserved(name string) bool {
	_, ok := reservedClaims[name]
	return ok
}

// Claims is a set of extra access-token claims.
type Claims map[string]ClaimValue

// NewClaims validates values and returns them as Claims.
func NewClaims(values map[string]ClaimValue) (Claims, error) {
	c := make(Claims, len(values))
	for name, v := range values {
		if err := c.Set(name, v); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Set adds or replaces one claim.
func (c Claims) Set(name string, v ClaimValue) error {
	if err := checkClaim(name, v); err != nil {
		return err
	}
	c[name] = v
	return nil
}

// With returns a copy of c with name set to v.
func (c Claims) With(name string, v ClaimValue) (Claims, error) {
	out := make(Claims, len(c)+1)
	for k, existing := range c {
		out[k] = existing
	}
	if err := out.Set(name, v); err != nil {
		return nil, err
	}
	return out, nil
}

// Names returns the claim names in sorted order.
func (c Claims) Names() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// String returns the named claim when it is a String.
func (c Claims) String(name string) (string, bool) {
	v, ok := c[name].(String)
	return string(v), ok
}

// Int returns the named claim when it is an Int.
func (c Claims) Int(name string) (int64, bool) {
	v, ok := c[name].(Int)
	return int64(v), ok
}

// Bool returns the named claim when it is a Bool.
func (c Claims) Bool(name string) (bool, bool) {
	v, ok := c[name].(Bool)
	return bool(v), ok
}

// Time returns the named claim as a time. Decoded tokens carry times as Int.
func (c Claims) Time(name string) (time.Time, bool) {
	switch v := c[name].(type) {
	case Time:
		return time.Time(v), true
	case Int:
		return time.Unix(int64(v), 0), true
	}
	return time.Time{}, false
}

// Strings returns the named claim when it is a Strings.
func (c Claims) Strings(name string) ([]string, bool) {
	v, ok := c[name].(Strings)
	if !ok {
		return nil, false
	}
	return append([]string(nil), v...), true
}

func checkClaim(name string, v ClaimValue) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidClaim)
	}
	if IsReserved(name) {
		return fmt.Errorf("%w: %s", ErrReservedClaim, name)
	}
	if v == nil {
		return fmt.Errorf("%w: nil value for %s", ErrInvalidClaim, name)
	}
	return nil
}

func encodeClaim(v ClaimValue) any {
	switch t := v.(type) {
	case String:
		return string(t)
	case Int:
		return int64(t)
	case Bool:
		return bool(t)
	case Time:
		return time.Time(t).Unix()
	case Strings:
		return append([]string(nil), t...)
	}
	return nil
}

// decodeClaim maps a JSON value (parsed with UseNumber) back into the union.
// Objects, floats and mixed arrays have no representation and are skipped.
func decodeClaim(raw any) (ClaimValue, bool) {
	switch t := raw.(type) {
	case string:
		return String(t), true
	case bool:
		return Bool(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, false
		}
		return Int(n), true
	case float64:
		if t != float64(int64(t)) {
			return nil, false
		}
		return Int(int64(t)), true
	case []any:
		out := make(Strings, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
