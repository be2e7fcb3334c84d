package jwt

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultIssuer is the iss claim of every token minted by the service.
	DefaultIssuer = "deusexmachina-auth"
	// DefaultAudience is the aud claim of every token minted by the service.
	DefaultAudience = "deusexmachina-client"
	// DefaultAccessTTL is the access-token lifetime.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the refresh-token lifetime.
	DefaultRefreshTTL = 30 * 24 * time.Hour

	// MinSecretBytes is the minimum HS256 secret length.
	MinSecretBytes = 32
)

var (
	// ErrTokenInvalid covers signature, claim and type failures.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for tokens past exp. It wraps ErrTokenInvalid.
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrTokenInvalid)
	// ErrTokenType is returned when an access token is presented as refresh or
	// the reverse. It wraps ErrTokenInvalid.
	ErrTokenType = fmt.Errorf("%w: wrong token type", ErrTokenInvalid)
)

// Config configures a Manager.
type Config struct {
	// Secret signs new tokens with HS256.
	Secret []byte
	// KeyID is written to the kid header when set.
	KeyID string
	// VerifyKeys accepts tokens signed by retired secrets, keyed by kid.
	VerifyKeys map[string][]byte

	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
	// MaxFutureIAT bounds how far in the future iat may be.
	MaxFutureIAT time.Duration

	Now func() time.Time
}

// Manager issues and verifies access and refresh tokens.
//
// Manager is immutable after construction and safe for concurrent use.
type Manager struct {
	config Config
	parser *jwt.Parser
}

// Subject is the identity an access token is minted for.
type Subject struct {
	UserID        string
	Email         string
	EmailVerified bool
	AuthProvider  string
	Roles         []string
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	ID            string
	UserID        string
	Email         string
	EmailVerified bool
	AuthProvider  string
	Roles         []string
	Issuer        string
	Audience      []string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Extra         Claims
}

// RefreshClaims is the verified content of a refresh token.
type RefreshClaims struct {
	ID        string
	UserID    string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewManager validates cfg, fills defaults and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", MinSecretBytes)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	cfg.Secret = append([]byte(nil), cfg.Secret...)

	verifyKeys := make(map[string][]byte, len(cfg.VerifyKeys))
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < MinSecretBytes {
			return nil, fmt.Errorf("verify key for kid %q is shorter than %d bytes", kid, MinSecretBytes)
		}
		verifyKeys[kid] = append([]byte(nil), key...)
	}
	if cfg.KeyID != "" {
		verifyKeys[cfg.KeyID] = cfg.Secret
	}
	cfg.VerifyKeys = verifyKeys

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithJSONNumber(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}

	return &Manager{config: cfg, parser: jwt.NewParser(options...)}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// IssueAccess signs an access token for subject carrying extra claims.
func (m *Manager) IssueAccess(subject Subject, extra Claims) (string, error) {
	if subject.UserID == "" {
		return "", errors.New("access token requires a subject")
	}

	now := m.config.Now()
	claims := jwt.MapClaims{
		claimIssuer:        m.config.Issuer,
		claimAudience:      m.config.Audience,
		claimSubject:       subject.UserID,
		claimIssuedAt:      now.Unix(),
		claimExpiresAt:     now.Add(m.config.AccessTTL).Unix(),
		claimID:            uuid.NewString(),
		claimEmail:         subject.Email,
		claimEmailVerified: subject.EmailVerified,
		claimAuthProvider:  subject.AuthProvider,
		claimRoles:         rolesOrEmpty(subject.Roles),
	}
	for name, v := range extra {
		if err := checkClaim(name, v); err != nil {
			return "", err
		}
		claims[name] = encodeClaim(v)
	}

	return m.sign(claims)
}

// IssueRefresh signs a refresh token bound to sessionID.
func (m *Manager) IssueRefresh(userID, sessionID string) (string, error) {
	if userID == "" || sessionID == "" {
		return "", errors.New("refresh token requires subject and session")
	}

	now := m.config.Now()
	claims := jwt.MapClaims{
		claimIssuer:    m.config.Issuer,
		claimAudience:  m.config.Audience,
		claimSubject:   userID,
		claimIssuedAt:  now.Unix(),
		claimExpiresAt: now.Add(m.config.RefreshTTL).Unix(),
		claimID:        uuid.NewString(),
		claimSessionID: sessionID,
		claimType:      refreshType,
	}

	return m.sign(claims)
}

// VerifyAccess checks an access token and returns its claims. Refresh tokens
// are rejected with ErrTokenType.
func (m *Manager) VerifyAccess(token string) (*AccessClaims, error) {
	mc, err := m.parse(token)
	if err != nil {
		return nil, err
	}
	if typ, _ := mc[claimType].(string); typ == refreshType {
		return nil, ErrTokenType
	}

	sub, _ := mc[claimSubject].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	out := &AccessClaims{
		UserID: sub,
		Extra:  Claims{},
	}
	out.ID, _ = mc[claimID].(string)
	out.Email, _ = mc[claimEmail].(string)
	out.EmailVerified, _ = mc[claimEmailVerified].(bool)
	out.AuthProvider, _ = mc[claimAuthProvider].(string)
	out.Issuer, _ = mc[claimIssuer].(string)
	if roles, ok := decodeClaim(mc[claimRoles]); ok {
		if list, ok := roles.(Strings); ok {
			out.Roles = []string(list)
		}
	}
	if aud, err := mc.GetAudience(); err == nil {
		out.Audience = []string(aud)
	}
	out.IssuedAt, out.ExpiresAt = times(mc)

	for name, raw := range mc {
		if IsReserved(name) {
			continue
		}
		if v, ok := decodeClaim(raw); ok {
			out.Extra[name] = v
		}
	}

	return out, nil
}

// VerifyRefresh checks a refresh token. Tokens without type "refresh" are
// rejected with ErrTokenType.
func (m *Manager) VerifyRefresh(token string) (*RefreshClaims, error) {
	mc, err := m.parse(token)
	if err != nil {
		return nil, err
	}
	if typ, _ := mc[claimType].(string); typ != refreshType {
		return nil, ErrTokenType
	}

	out := &RefreshClaims{}
	out.UserID, _ = mc[claimSubject].(string)
	out.SessionID, _ = mc[claimSessionID].(string)
	out.ID, _ = mc[claimID].(string)
	if out.UserID == "" || out.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrTokenInvalid)
	}
	out.IssuedAt, out.ExpiresAt = times(mc)

	return out, nil
}

// HashToken returns the unpadded base64url SHA-256 of token. Stores index
// refresh tokens by this value so raw tokens are never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (m *Manager) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	return token.SignedString(m.config.Secret)
}

func (m *Manager) parse(tokenStr string) (jwt.MapClaims, error) {
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	claims := jwt.MapClaims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		if iat.Time.After(m.config.Now().Add(m.config.MaxFutureIAT)) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
		}
	}

	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		if m.config.KeyID != "" {
			return nil, errors.New("missing kid")
		}
		return m.config.Secret, nil
	}

	key, ok := m.config.VerifyKeys[kid]
	if !ok {
		return nil, errors.New("unknown kid")
	}
	return key, nil
}

func times(mc jwt.MapClaims) (issuedAt, expiresAt time.Time) {
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		issuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	return issuedAt, expiresAt
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return append([]string(nil), roles...)
}
