package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deusexmachina/authcore/account"
)

const (
	chromeMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	safariIOS = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")

	resp, err := env.engine.Login(context.Background(), LoginRequest{Email: "ADA@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.TokenType != TokenTypeBearer {
		t.Fatalf("incomplete response: %+v", resp)
	}

	sessions, err := env.engine.ActiveSessions(context.Background(), resp.UserID)
	if err != nil {
		t.Fatalf("ActiveSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected register and login sessions, got %d", len(sessions))
	}
}

func TestLoginRememberMeExtendsSession(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	ctx := context.Background()

	short, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	long, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword, RememberMe: true})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	env.clock.Advance(25 * time.Hour)
	if _, err := env.engine.Refresh(ctx, short.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("default session must be gone after a day, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, long.RefreshToken); err != nil {
		t.Fatalf("remember-me session must survive a day: %v", err)
	}
}

func TestLoginFailuresLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	ctx := context.Background()

	googleOnly, err := env.users.Save(ctx, account.User{Email: "g@example.com", Provider: account.ProviderGoogle})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for _, req := range []LoginRequest{
		{Email: "ada@example.com", Password: "Wr0ng!password"},
		{Email: "nobody@example.com", Password: testPassword},
		{Email: googleOnly.Email, Password: testPassword},
	} {
		if _, err := env.engine.Login(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login(%s) = %v, want ErrInvalidCredentials", req.Email, err)
		}
	}
}

func TestLoginLocksAccountAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "Wr0ng!password"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	u := env.user(t, "ada@example.com")
	if !u.Security.IsLocked(env.clock.Now()) || u.Security.FailedLoginAttempts != 5 {
		t.Fatalf("account not locked: %+v", u.Security)
	}
	env.mail.await(t, "locked")

	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("correct password during lockout = %v, want ErrAccountLocked", err)
	}

	env.clock.Advance(16 * time.Minute)
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login after lockout expiry failed: %v", err)
	}

	u = env.user(t, "ada@example.com")
	if u.Security.FailedLoginAttempts != 0 || !u.Security.LockoutUntil.IsZero() {
		t.Fatalf("successful login must clear failures: %+v", u.Security)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricAccountLocked] != 1 || snap.Counters[MetricLoginLocked] != 1 {
		t.Fatalf("unexpected lock counters: %+v", snap.Counters)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.MaxLoginAttempts = 3
		cfg.Lockout.MaxFailedAttempts = 10
	})
	env.register(t, "ada@example.com")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "Wr0ng!password"})
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	env.mr.FastForward(16 * time.Minute)
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login after window failed: %v", err)
	}
}

func TestLoginRateLimiterFailsClosed(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.RateLimit.Enabled = true })
	env.register(t, "ada@example.com")

	env.mr.Close()
	if _, err := env.engine.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: testPassword}); !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal with redis down, got %v", err)
	}
}

func TestLoginAlertsOnNewDevice(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	env.mail.await(t, "verification")

	mac := WithUserAgent(context.Background(), chromeMac)
	if _, err := env.engine.Login(mac, LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	alert := env.mail.await(t, "new_device")
	if alert.payload == "" {
		t.Fatal("alert must name the device")
	}

	if _, err := env.engine.Login(mac, LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.mail.none(t, "new_device")

	phone := WithUserAgent(context.Background(), safariIOS)
	if _, err := env.engine.Login(phone, LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if other := env.mail.await(t, "new_device"); other.payload == alert.payload {
		t.Fatalf("different devices summarised alike: %q", other.payload)
	}
}

func TestLoginNotifierFailureDoesNotFailLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	env.mail.fail.Store(true)

	ctx := WithUserAgent(context.Background(), chromeMac)
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	env.engine.Close()
	if env.engine.notify.Failed() == 0 {
		t.Fatal("notification failure must be counted")
	}
}

func TestGoogleLoginCreatesVerifiedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.engine.GoogleLogin(ctx, GoogleLoginRequest{IDToken: "good-token"})
	if err != nil {
		t.Fatalf("GoogleLogin failed: %v", err)
	}
	if resp.User.Email != "gina@example.com" || !resp.User.EmailVerified || resp.User.AuthProvider != string(account.ProviderGoogle) {
		t.Fatalf("unexpected user: %+v", resp.User)
	}

	claims, err := env.engine.ValidateAccessToken(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if sub, ok := claims.Extra.String(ClaimProviderID); !ok || sub != "google-123" {
		t.Fatalf("provider_id claim = %q, %v", sub, ok)
	}

	again, err := env.engine.GoogleLogin(ctx, GoogleLoginRequest{IDToken: "good-token"})
	if err != nil {
		t.Fatalf("second GoogleLogin failed: %v", err)
	}
	if again.UserID != resp.UserID {
		t.Fatal("second login must reuse the account")
	}
}

func TestGoogleLoginLinksExistingAccount(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com")

	resp, err := env.engine.GoogleLogin(context.Background(), GoogleLoginRequest{IDToken: "ada-token"})
	if err != nil {
		t.Fatalf("GoogleLogin failed: %v", err)
	}
	if resp.UserID != registered.UserID {
		t.Fatal("google login must link the existing account")
	}

	u := env.user(t, "ada@example.com")
	if !u.EmailVerified || !u.HasLinkedProvider("google") || u.Provider != account.ProviderEmail {
		t.Fatalf("unexpected linked user: %+v", u)
	}

	if _, err := env.engine.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("password login must keep working after linking: %v", err)
	}
}

func TestGoogleLoginRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.GoogleLogin(context.Background(), GoogleLoginRequest{IDToken: "forged"}); !errors.Is(err, ErrInvalidExternalToken) {
		t.Fatalf("expected ErrInvalidExternalToken, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricGoogleLoginFailure]; got != 1 {
		t.Fatalf("failure counter = %d", got)
	}
}
