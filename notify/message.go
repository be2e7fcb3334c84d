// Package notify turns authentication events into email envelopes and hands
// them to a Publisher. Rendering and delivery happen downstream; a mail
// worker consumes the envelopes from a Redis stream.
package notify

import (
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies the email template a consumer should render.
type Kind string

const (
	KindVerification   Kind = "verification"
	KindPasswordReset  Kind = "password_reset"
	KindNewDeviceLogin Kind = "new_device_login"
	KindMFACode        Kind = "mfa_code"
	KindAccountLocked  Kind = "account_locked"
	KindPasswordChange Kind = "password_changed"
)

// Message is one outbound email request. ID is a ULID, so IDs sort by
// creation time.
type Message struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	To        string            `json:"to"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// JSON encodes the message for transport.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newMessageID(at time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(at), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
