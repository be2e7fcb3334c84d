package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifyEmailConsumesToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	ctx := context.Background()

	token := env.mail.await(t, "verification").payload
	if err := env.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if !env.user(t, "ada@example.com").EmailVerified {
		t.Fatal("email not marked verified")
	}

	if err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("reused token = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestVerifyEmailRejectsExpiredAndForeignTokens(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	ctx := context.Background()
	token := env.mail.await(t, "verification").payload

	if err := env.engine.VerifyEmail(ctx, "not-a-token"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("garbage token = %v", err)
	}
	// A verification token must not redeem a password reset.
	if err := env.engine.CompletePasswordReset(ctx, token, "N3w!Passphrase"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("cross-purpose token = %v", err)
	}

	env.clock.Advance(25 * time.Hour)
	if err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expired token = %v", err)
	}
	if env.user(t, "ada@example.com").EmailVerified {
		t.Fatal("expired token must not verify")
	}
}

func TestResendVerificationEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	ctx := context.Background()
	first := env.mail.await(t, "verification").payload

	if err := env.engine.ResendVerificationEmail(ctx, "ADA@example.com"); err != nil {
		t.Fatalf("ResendVerificationEmail failed: %v", err)
	}
	second := env.mail.await(t, "verification").payload
	if second == first {
		t.Fatal("resend must issue a fresh token")
	}
	if err := env.engine.VerifyEmail(ctx, second); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	if err := env.engine.ResendVerificationEmail(ctx, "ada@example.com"); err != nil {
		t.Fatalf("resend for verified user = %v", err)
	}
	if err := env.engine.ResendVerificationEmail(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("resend for unknown user = %v", err)
	}
	env.mail.none(t, "verification")
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "ada@example.com")
	ctx := context.Background()

	if err := env.engine.InitiatePasswordReset(ctx, "Ada@Example.com"); err != nil {
		t.Fatalf("InitiatePasswordReset failed: %v", err)
	}
	token := env.mail.await(t, "reset").payload

	const newPassword = "N3w!Passphrase"
	if err := env.engine.CompletePasswordReset(ctx, token, newPassword); err != nil {
		t.Fatalf("CompletePasswordReset failed: %v", err)
	}
	env.mail.await(t, "password_changed")

	if _, err := env.engine.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("sessions must be revoked by a reset, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: newPassword}); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	u := env.user(t, "ada@example.com")
	if u.Security.LastPasswordChange.IsZero() {
		t.Fatal("LastPasswordChange not recorded")
	}

	if err := env.engine.CompletePasswordReset(ctx, token, "An0ther!Passphrase"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("reused reset token = %v", err)
	}
}

func TestPasswordResetWeakPasswordBurnsToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	ctx := context.Background()

	if err := env.engine.InitiatePasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("InitiatePasswordReset failed: %v", err)
	}
	token := env.mail.await(t, "reset").payload

	if err := env.engine.CompletePasswordReset(ctx, token, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := env.engine.CompletePasswordReset(ctx, token, "N3w!Passphrase"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("token must be consumed by the failed attempt, got %v", err)
	}
}

func TestPasswordResetLiftsLockout(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "Wr0ng!password"})
	}
	if !env.user(t, "ada@example.com").Security.IsLocked(env.clock.Now()) {
		t.Fatal("account should be locked")
	}

	if err := env.engine.InitiatePasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("InitiatePasswordReset failed: %v", err)
	}
	token := env.mail.await(t, "reset").payload
	if err := env.engine.CompletePasswordReset(ctx, token, "N3w!Passphrase"); err != nil {
		t.Fatalf("CompletePasswordReset failed: %v", err)
	}

	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "N3w!Passphrase"}); err != nil {
		t.Fatalf("login after reset failed: %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)

	if err := env.engine.InitiatePasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("unknown email must not error, got %v", err)
	}
	env.mail.none(t, "reset")
	if got := env.engine.MetricsSnapshot().Counters[MetricPasswordResetRequest]; got != 1 {
		t.Fatalf("request counter = %d", got)
	}
}
