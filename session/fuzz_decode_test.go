package session

import (
	"testing"
	"time"
)

// FuzzSessionDecode feeds arbitrary bytes to the decoder. It must never
// panic, and anything it accepts must re-encode to the same bytes.
func FuzzSessionDecode(f *testing.F) {
	created := time.Unix(1700000000, 0).UTC()
	sess := &Session{
		ID:               "sid-fuzz",
		UserID:           "user1",
		RefreshTokenHash: "hash",
		DeviceInfo:       "Firefox on Linux",
		IPAddress:        "10.0.0.1",
		CreatedAt:        created,
		ExpiresAt:        created.Add(time.Hour),
		LastAccessedAt:   created,
	}
	encoded, err := Encode(sess)
	if err == nil {
		f.Add(encoded)
	}

	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte{1})
	f.Add([]byte{255, 255, 255})

	if len(encoded) > 10 {
		f.Add(encoded[:10])
	}
	if len(encoded) > 30 {
		f.Add(encoded[:30])
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}

		again, err := Encode(s)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		if string(again) != string(data) {
			t.Fatalf("round trip changed bytes")
		}
	})
}
