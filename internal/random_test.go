package internal

import "testing"

func TestNewOpaqueTokenUnique(t *testing.T) {
	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		token, err := NewOpaqueToken(OpaqueTokenSize)
		if err != nil {
			t.Fatalf("new token: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = struct{}{}

		raw, err := ParseOpaqueToken(token)
		if err != nil || len(raw) != OpaqueTokenSize {
			t.Fatalf("parse token: %d bytes, %v", len(raw), err)
		}
	}
	if _, err := NewOpaqueToken(8); err == nil {
		t.Fatal("expected short size to be rejected")
	}
}

func TestHashOpaqueTokenStable(t *testing.T) {
	if HashOpaqueToken("abc") != HashOpaqueToken("abc") {
		t.Fatal("hash must be deterministic")
	}
	if HashOpaqueToken("abc") == HashOpaqueToken("abd") {
		t.Fatal("distinct tokens must hash differently")
	}
}

func TestDeviceSummary(t *testing.T) {
	chrome := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	got := DeviceSummary(chrome)
	if got != "Chrome 120 on macOS (desktop)" {
		t.Fatalf("DeviceSummary = %q", got)
	}
	if DeviceSummary("   ") != "" {
		t.Fatal("blank agent must summarise to empty")
	}
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	if len(DeviceSummary(string(long))) > maxDeviceInfo {
		t.Fatal("summary must be truncated")
	}
}
