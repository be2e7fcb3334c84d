package authcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "ada@example.com")
	ctx := context.Background()

	next, err := env.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.RefreshToken == first.RefreshToken || next.TokenType != TokenTypeBearer {
		t.Fatalf("refresh token not rotated: %+v", next)
	}
	if _, err := env.engine.ValidateAccessToken(ctx, next.AccessToken); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("rotated-out token accepted: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("current token rejected: %v", err)
	}
}

func TestRefreshRejectsAccessTokenAndGarbage(t *testing.T) {
	env := newTestEnv(t)
	resp := env.register(t, "ada@example.com")
	ctx := context.Background()

	for _, token := range []string{"", "garbage", resp.AccessToken} {
		if _, err := env.engine.Refresh(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Refresh(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestRefreshConcurrentExactlyOneWinner(t *testing.T) {
	env := newTestEnv(t)
	resp := env.register(t, "ada@example.com")

	const workers = 16
	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		wins   atomic.Int32
		losses atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.engine.Refresh(context.Background(), resp.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidToken):
				losses.Add(1)
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || losses.Load() != workers-1 {
		t.Fatalf("wins=%d losses=%d, want exactly one winner", wins.Load(), losses.Load())
	}
}

func TestRefreshThrottle(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.MaxRefreshAttempts = 2
	})
	token := env.register(t, "ada@example.com").RefreshToken
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		next, err := env.engine.Refresh(ctx, token)
		if err != nil {
			t.Fatalf("refresh %d failed: %v", i+1, err)
		}
		token = next.RefreshToken
	}
	if _, err := env.engine.Refresh(ctx, token); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestLogoutRevokesOnlyThatSession(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "ada@example.com")
	ctx := context.Background()

	second, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.engine.Logout(ctx, first.RefreshToken, false); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("logged out session still refreshes: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("other session must survive: %v", err)
	}

	if err := env.engine.Logout(ctx, "garbage", false); err != nil {
		t.Fatalf("Logout must swallow bad tokens, got %v", err)
	}
}

func TestLogoutWithRotatedTokenIsNoop(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "ada@example.com")
	ctx := context.Background()

	next, err := env.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if err := env.engine.Logout(ctx, first.RefreshToken, false); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("stale token must not end the session: %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "ada@example.com")
	ctx := context.Background()

	second, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.engine.Logout(ctx, second.RefreshToken, true); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := env.engine.Refresh(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("session survived logout-all: %v", err)
		}
	}

	active, err := env.engine.ActiveSessions(ctx, first.UserID)
	if err != nil {
		t.Fatalf("ActiveSessions failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(active))
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricSessionRevoked]; got != 2 {
		t.Fatalf("revoked counter = %d, want 2", got)
	}
}

func TestSweepExpiredSessions(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	ctx := context.Background()

	if n, err := env.engine.SweepExpiredSessions(ctx); err != nil || n != 0 {
		t.Fatalf("sweep of live sessions = %d, %v", n, err)
	}

	env.clock.Advance(25 * time.Hour)
	n, err := env.engine.SweepExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredSessions failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
}
