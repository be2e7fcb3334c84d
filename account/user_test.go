package account

import (
	"testing"
	"time"
)

func TestWithHelpersDoNotMutateReceiver(t *testing.T) {
	base := User{ID: "u1", LinkedProviders: []string{"email"}}

	linked := base.WithLinkedProvider("google")
	if len(base.LinkedProviders) != 1 {
		t.Fatalf("receiver mutated: %v", base.LinkedProviders)
	}
	if !linked.HasLinkedProvider("google") || !linked.HasLinkedProvider("email") {
		t.Fatalf("unexpected providers: %v", linked.LinkedProviders)
	}

	again := linked.WithLinkedProvider("google")
	if len(again.LinkedProviders) != 2 {
		t.Fatalf("expected set semantics, got %v", again.LinkedProviders)
	}

	verified := base.WithEmailVerified(true)
	if base.EmailVerified || !verified.EmailVerified {
		t.Fatal("WithEmailVerified must copy")
	}
}

func TestUpdateApplyOnlySetFields(t *testing.T) {
	user := User{ID: "u1", DisplayName: "Ann", PasswordHash: "h1", EmailVerified: false}
	name := "Anna"
	verified := true

	got := Update{DisplayName: &name, EmailVerified: &verified}.Apply(user)
	if got.DisplayName != "Anna" || !got.EmailVerified {
		t.Fatalf("fields not applied: %+v", got)
	}
	if got.PasswordHash != "h1" {
		t.Fatalf("nil field overwritten: %+v", got)
	}
	if user.DisplayName != "Ann" {
		t.Fatal("Apply mutated its input")
	}
	if !(Update{}).Empty() || (Update{DisplayName: &name}).Empty() {
		t.Fatal("Empty misreports")
	}
}

func TestIsLocked(t *testing.T) {
	now := time.Now()
	if (SecuritySettings{}).IsLocked(now) {
		t.Fatal("zero lockout must not lock")
	}
	if !(SecuritySettings{LockoutUntil: now.Add(time.Minute)}).IsLocked(now) {
		t.Fatal("future lockout must lock")
	}
	if (SecuritySettings{LockoutUntil: now.Add(-time.Second)}).IsLocked(now) {
		t.Fatal("past lockout must not lock")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ann@X.com "); got != "ann@x.com" {
		t.Fatalf("NormalizeEmail = %q", got)
	}
	if !ProviderGoogle.Valid() || Provider("TWITTER").Valid() {
		t.Fatal("Provider.Valid misreports")
	}
	if ProviderGoogle.LinkName() != "google" {
		t.Fatalf("LinkName = %q", ProviderGoogle.LinkName())
	}
}
