package password

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateStrength(t *testing.T) {
	policy := DefaultPolicy()

	cases := []struct {
		name string
		pw   string
		want bool
	}{
		{"empty", "", false},
		{"too short", "Ab1!xyz", false},
		{"no upper", "str0ng!pass", false},
		{"no lower", "STR0NG!PASS", false},
		{"no digit", "Strong!Pass", false},
		{"no symbol", "Str0ngPass", false},
		{"symbol outside set", "Str0ng-Pass", false},
		{"valid", "Str0ng!Pass", true},
		{"valid exactly eight", "Ab1!defg", true},
		{"valid braces", "Ab1{defgh", true},
	}

	for _, tc := range cases {
		if got := policy.ValidateStrength(tc.pw); got != tc.want {
			t.Fatalf("%s: ValidateStrength(%q) = %v, want %v", tc.name, tc.pw, got, tc.want)
		}
	}
}

func TestValidateReportsMissingRules(t *testing.T) {
	err := DefaultPolicy().Validate("abc")
	if !errors.Is(err, ErrWeak) {
		t.Fatalf("expected ErrWeak, got %v", err)
	}

	var weak *WeakError
	if !errors.As(err, &weak) {
		t.Fatalf("expected *WeakError, got %T", err)
	}
	got := strings.Join(weak.Missing, ",")
	if got != "length,uppercase,digit,symbol" {
		t.Fatalf("unexpected missing rules %q", got)
	}

	if err := DefaultPolicy().Validate("Str0ng!Pass"); err != nil {
		t.Fatalf("expected strong password to pass, got %v", err)
	}
}

func TestGenerateSecureSatisfiesPolicy(t *testing.T) {
	policy := DefaultPolicy()
	seen := make(map[string]struct{}, 1000)

	for i := 0; i < 1000; i++ {
		pw, err := GenerateSecure()
		if err != nil {
			t.Fatalf("GenerateSecure error: %v", err)
		}
		if len(pw) != GeneratedLength {
			t.Fatalf("expected %d characters, got %d", GeneratedLength, len(pw))
		}
		if !policy.ValidateStrength(pw) {
			t.Fatalf("generated password %q fails policy", pw)
		}
		if _, dup := seen[pw]; dup {
			t.Fatalf("duplicate generated password %q", pw)
		}
		seen[pw] = struct{}{}
	}
}

func TestGenerateSecureDoesNotPinClassesToPrefix(t *testing.T) {
	upperFirst := 0
	const rounds = 2000
	for i := 0; i < rounds; i++ {
		pw, err := GenerateSecure()
		if err != nil {
			t.Fatalf("GenerateSecure error: %v", err)
		}
		if strings.ContainsRune(upperChars, rune(pw[0])) {
			upperFirst++
		}
	}
	// Unbiased position 0 is upper case roughly 26/72 + seeded share, far from always.
	if upperFirst > rounds*3/4 {
		t.Fatalf("position 0 was upper case in %d/%d draws", upperFirst, rounds)
	}
}

func TestCommonListIsCaseInsensitive(t *testing.T) {
	checker := NewCommonList()
	ctx := context.Background()

	for _, pw := range []string{"password", "PassWord123", "ILOVEYOU"} {
		breached, err := checker.IsBreached(ctx, pw)
		if err != nil {
			t.Fatalf("IsBreached error: %v", err)
		}
		if !breached {
			t.Fatalf("expected %q to be flagged", pw)
		}
	}

	breached, err := checker.IsBreached(ctx, "Str0ng!Pass")
	if err != nil {
		t.Fatalf("IsBreached error: %v", err)
	}
	if breached {
		t.Fatal("expected strong password not to be flagged")
	}
}

func TestPwnedRangeMatchesSuffix(t *testing.T) {
	// SHA-1("password") = 5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/5BAA6") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintln(w, "0018A45C4D1DEF81644B54AB7F969B88D65:1")
		fmt.Fprintln(w, "1E4C9B93F3F0682250B6CF8331B7EE68FD8:3303003")
	}))
	defer srv.Close()

	checker := NewPwnedRange(srv.URL + "/range")

	breached, err := checker.IsBreached(context.Background(), "password")
	if err != nil {
		t.Fatalf("IsBreached error: %v", err)
	}
	if !breached {
		t.Fatal("expected password to be reported as breached")
	}
}

func TestPwnedRangeSurfacesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewPwnedRange(srv.URL).IsBreached(context.Background(), "whatever")
	if !errors.Is(err, ErrBreachLookup) {
		t.Fatalf("expected ErrBreachLookup, got %v", err)
	}
}

func TestAnyOf(t *testing.T) {
	never := BreachCheckerFunc(func(context.Context, string) (bool, error) { return false, nil })
	checker := AnyOf(never, nil, NewCommonList("hunter2"))

	breached, err := checker.IsBreached(context.Background(), "HUNTER2")
	if err != nil || !breached {
		t.Fatalf("AnyOf = %v, %v", breached, err)
	}
}
