package notify

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Publisher delivers a message to the email pipeline.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// ErrNoRecipient is returned when a message has no address.
var ErrNoRecipient = errors.New("notification has no recipient")

// Notifier builds messages for each authentication event and publishes them.
type Notifier struct {
	pub Publisher
	now func() time.Time
}

// New returns a Notifier publishing through pub.
func New(pub Publisher) *Notifier {
	return &Notifier{pub: pub, now: time.Now}
}

func (n *Notifier) send(ctx context.Context, kind Kind, to string, data map[string]string) error {
	if to == "" {
		return ErrNoRecipient
	}
	at := n.now().UTC()
	id, err := newMessageID(at)
	if err != nil {
		return err
	}
	return n.pub.Publish(ctx, Message{
		ID:        id,
		Kind:      kind,
		To:        to,
		Data:      data,
		CreatedAt: at,
	})
}

func (n *Notifier) SendVerificationEmail(ctx context.Context, email, token string) error {
	return n.send(ctx, KindVerification, email, map[string]string{"token": token})
}

func (n *Notifier) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	return n.send(ctx, KindPasswordReset, email, map[string]string{"token": token})
}

func (n *Notifier) SendNewDeviceLoginNotification(ctx context.Context, email, deviceInfo, ip string) error {
	return n.send(ctx, KindNewDeviceLogin, email, map[string]string{"device": deviceInfo, "ip": ip})
}

func (n *Notifier) SendMFACode(ctx context.Context, email, code string) error {
	return n.send(ctx, KindMFACode, email, map[string]string{"code": code})
}

func (n *Notifier) SendAccountLockedNotification(ctx context.Context, email string, attempts int) error {
	return n.send(ctx, KindAccountLocked, email, map[string]string{"attempts": strconv.Itoa(attempts)})
}

func (n *Notifier) SendPasswordChangedNotification(ctx context.Context, email string) error {
	return n.send(ctx, KindPasswordChange, email, nil)
}
