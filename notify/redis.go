package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrPublishUnavailable wraps transport failures.
var ErrPublishUnavailable = errors.New("notification transport unavailable")

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "auth:emails"

// RedisStream publishes messages with XADD to a capped Redis stream.
type RedisStream struct {
	redis  redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStream returns a publisher appending to stream, trimmed
// approximately to maxLen entries when maxLen > 0.
func NewRedisStream(rdb redis.UniversalClient, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{redis: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) Publish(ctx context.Context, msg Message) error {
	payload, err := msg.JSON()
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":      msg.ID,
			"kind":    string(msg.Kind),
			"payload": payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishUnavailable, err)
	}
	return nil
}
