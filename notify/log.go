package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogPublisher writes messages to a logger instead of sending them. Tokens
// and codes are omitted from the log line.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "notify").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	ev := p.logger.Info().
		Str("message_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Str("to", msg.To)
	for k, v := range msg.Data {
		if k == "token" || k == "code" {
			continue
		}
		ev = ev.Str(k, v)
	}
	ev.Msg("email queued")
	return nil
}
