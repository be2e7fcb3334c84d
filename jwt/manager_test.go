package jwt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, clock *fakeClock) *Manager {
	t.Helper()
	cfg := Config{Secret: []byte(testSecret)}
	if clock != nil {
		cfg.Now = clock.Now
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewManager(Config{Secret: []byte("short")}); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}

func TestAccessRoundTrip(t *testing.T) {
	m := newTestManager(t, nil)

	extra, err := NewClaims(map[string]ClaimValue{
		"provider_id": String("google-123"),
		"tier":        Int(3),
		"beta":        Bool(true),
		"groups":      Strings{"a", "b"},
	})
	if err != nil {
		t.Fatalf("new claims: %v", err)
	}

	token, err := m.IssueAccess(Subject{
		UserID:        "u1",
		Email:         "a@x.com",
		EmailVerified: true,
		AuthProvider:  "EMAIL",
		Roles:         []string{"user"},
	}, extra)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	claims, err := m.VerifyAccess(token)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "a@x.com" || !claims.EmailVerified || claims.AuthProvider != "EMAIL" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "user" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
	if claims.Issuer != DefaultIssuer || len(claims.Audience) != 1 || claims.Audience[0] != DefaultAudience {
		t.Fatalf("unexpected iss/aud: %s %v", claims.Issuer, claims.Audience)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt); got != DefaultAccessTTL {
		t.Fatalf("expected 15m lifetime, got %s", got)
	}

	if v, ok := claims.Extra.String("provider_id"); !ok || v != "google-123" {
		t.Fatalf("provider_id = %q, %v", v, ok)
	}
	if v, ok := claims.Extra.Int("tier"); !ok || v != 3 {
		t.Fatalf("tier = %d, %v", v, ok)
	}
	if v, ok := claims.Extra.Bool("beta"); !ok || !v {
		t.Fatalf("beta = %v, %v", v, ok)
	}
	if v, ok := claims.Extra.Strings("groups"); !ok || strings.Join(v, ",") != "a,b" {
		t.Fatalf("groups = %v, %v", v, ok)
	}
}

func TestTimeClaimDecodesAsUnixSeconds(t *testing.T) {
	m := newTestManager(t, nil)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	token, err := m.IssueAccess(Subject{UserID: "u1"}, Claims{"linked_at": Time(at)})
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	claims, err := m.VerifyAccess(token)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	got, ok := claims.Extra.Time("linked_at")
	if !ok || !got.Equal(at) {
		t.Fatalf("linked_at = %v, %v", got, ok)
	}
}

func TestReservedClaimsRejected(t *testing.T) {
	if _, err := NewClaims(map[string]ClaimValue{"sub": String("other")}); !errors.Is(err, ErrReservedClaim) {
		t.Fatalf("expected ErrReservedClaim, got %v", err)
	}

	m := newTestManager(t, nil)
	if _, err := m.IssueAccess(Subject{UserID: "u1"}, Claims{"type": String("refresh")}); !errors.Is(err, ErrReservedClaim) {
		t.Fatalf("expected ErrReservedClaim from IssueAccess, got %v", err)
	}
	if _, err := m.IssueAccess(Subject{UserID: "u1"}, Claims{"x": nil}); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("expected ErrInvalidClaim for nil value, got %v", err)
	}
}

func TestClaimsWithIsCopyOnWrite(t *testing.T) {
	base := Claims{"a": Int(1)}
	next, err := base.With("b", Bool(true))
	if err != nil {
		t.Fatalf("with: %v", err)
	}
	if len(base) != 1 || len(next) != 2 {
		t.Fatalf("expected base untouched, got base=%v next=%v", base, next)
	}
}

func TestTypeConfusionRejected(t *testing.T) {
	m := newTestManager(t, nil)

	access, err := m.IssueAccess(Subject{UserID: "u1"}, nil)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	refresh, err := m.IssueRefresh("u1", "s1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	if _, err := m.VerifyAccess(refresh); !errors.Is(err, ErrTokenType) || !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected refresh token to be rejected as access, got %v", err)
	}
	if _, err := m.VerifyRefresh(access); !errors.Is(err, ErrTokenType) {
		t.Fatalf("expected access token to be rejected as refresh, got %v", err)
	}

	rc, err := m.VerifyRefresh(refresh)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if rc.UserID != "u1" || rc.SessionID != "s1" {
		t.Fatalf("unexpected refresh claims: %+v", rc)
	}
	if got := rc.ExpiresAt.Sub(rc.IssuedAt); got != DefaultRefreshTTL {
		t.Fatalf("expected 30d lifetime, got %s", got)
	}
}

func TestRefreshTokensForSameSessionDiffer(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)

	first, err := m.IssueRefresh("u1", "s1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	second, err := m.IssueRefresh("u1", "s1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if first == second || HashToken(first) == HashToken(second) {
		t.Fatal("expected distinct refresh tokens within the same second")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)

	token, err := m.IssueAccess(Subject{UserID: "u1"}, nil)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	clock.now = clock.now.Add(DefaultAccessTTL + time.Second)
	if _, err := m.VerifyAccess(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestIssuerAudienceAndAlgorithmEnforced(t *testing.T) {
	m := newTestManager(t, nil)
	now := time.Now()

	sign := func(method gjwt.SigningMethod, key interface{}, claims gjwt.MapClaims) string {
		t.Helper()
		s, err := gjwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	base := func() gjwt.MapClaims {
		return gjwt.MapClaims{
			"iss": DefaultIssuer,
			"aud": DefaultAudience,
			"sub": "u1",
			"iat": now.Unix(),
			"exp": now.Add(time.Minute).Unix(),
		}
	}

	if _, err := m.VerifyAccess(sign(gjwt.SigningMethodHS256, []byte(testSecret), base())); err != nil {
		t.Fatalf("expected hand-built token to verify: %v", err)
	}

	wrongIssuer := base()
	wrongIssuer["iss"] = "other"
	if _, err := m.VerifyAccess(sign(gjwt.SigningMethodHS256, []byte(testSecret), wrongIssuer)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected wrong issuer to fail, got %v", err)
	}

	wrongAudience := base()
	wrongAudience["aud"] = "other-client"
	if _, err := m.VerifyAccess(sign(gjwt.SigningMethodHS256, []byte(testSecret), wrongAudience)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected wrong audience to fail, got %v", err)
	}

	noExp := base()
	delete(noExp, "exp")
	if _, err := m.VerifyAccess(sign(gjwt.SigningMethodHS256, []byte(testSecret), noExp)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected missing exp to fail, got %v", err)
	}

	if _, err := m.VerifyAccess(sign(gjwt.SigningMethodHS384, []byte(testSecret), base())); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected HS384 to be rejected, got %v", err)
	}

	otherSecret := []byte("ffffffffffffffffffffffffffffffff")
	if _, err := m.VerifyAccess(sign(gjwt.SigningMethodHS256, otherSecret, base())); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected foreign signature to be rejected, got %v", err)
	}
}

func TestKeyRotationAcceptsRetiredKid(t *testing.T) {
	oldSecret := []byte("old-secret-old-secret-old-secret")
	oldMgr, err := NewManager(Config{Secret: oldSecret, KeyID: "k0"})
	if err != nil {
		t.Fatalf("old manager: %v", err)
	}
	token, err := oldMgr.IssueAccess(Subject{UserID: "u1"}, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	newMgr, err := NewManager(Config{
		Secret:     []byte(testSecret),
		KeyID:      "k1",
		VerifyKeys: map[string][]byte{"k0": oldSecret},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := newMgr.VerifyAccess(token); err != nil {
		t.Fatalf("expected retired kid to verify: %v", err)
	}

	unknown, err := NewManager(Config{Secret: []byte(testSecret), KeyID: "k1"})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if _, err := unknown.VerifyAccess(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected unknown kid to fail, got %v", err)
	}
}

func TestHashTokenDeterministicAndDistinct(t *testing.T) {
	seen := make(map[string]string, 1000)
	for i := 0; i < 1000; i++ {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			t.Fatalf("rand: %v", err)
		}
		token := base64.RawURLEncoding.EncodeToString(raw)

		h := HashToken(token)
		if h != HashToken(token) {
			t.Fatal("HashToken is not deterministic")
		}
		if strings.ContainsAny(h, "+/=") {
			t.Fatalf("expected unpadded base64url, got %s", h)
		}
		if prev, dup := seen[h]; dup && prev != token {
			t.Fatalf("collision between %s and %s", prev, token)
		}
		seen[h] = token
	}
}
