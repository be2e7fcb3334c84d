package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deusexmachina/authcore/internal"
)

const (
	tokenRecordVersionV1 = 1
	maxTokenRetries      = 4
)

// Purpose scopes a token so one issued for email verification can never be
// redeemed as a password reset and vice versa.
type Purpose string

const (
	PurposeEmailVerification Purpose = "ev"
	PurposePasswordReset     Purpose = "pr"
)

var (
	ErrTokenNotFound         = errors.New("token not found")
	ErrTokenRedisUnavailable = errors.New("token redis unavailable")
)

// TokenRecord is the state kept for an outstanding single-use token.
type TokenRecord struct {
	UserID    string
	ExpiresAt time.Time
}

// TokenStore keeps single-use tokens in Redis under the SHA-256 of the raw
// token, with a native TTL matching the token lifetime.
type TokenStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewTokenStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *TokenStore {
	if prefix == "" {
		prefix = "tok"
	}
	if now == nil {
		now = time.Now
	}
	return &TokenStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *TokenStore) key(purpose Purpose, token string) string {
	return s.prefix + ":" + string(purpose) + ":" + internal.HashOpaqueToken(token)
}

// Issue creates a fresh token for userID valid for ttl and returns the raw
// token. Only its hash is stored.
func (s *TokenStore) Issue(ctx context.Context, purpose Purpose, userID string, ttl time.Duration) (string, error) {
	if userID == "" || ttl <= 0 {
		return "", errors.New("token requires user id and positive ttl")
	}

	token, err := internal.NewOpaqueToken(internal.OpaqueTokenSize)
	if err != nil {
		return "", err
	}

	encoded, err := encodeTokenRecord(&TokenRecord{
		UserID:    userID,
		ExpiresAt: s.now().Add(ttl),
	})
	if err != nil {
		return "", err
	}

	if err := s.redis.Set(ctx, s.key(purpose, token), encoded, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}

	return token, nil
}

// Lookup returns the record without consuming it.
func (s *TokenStore) Lookup(ctx context.Context, purpose Purpose, token string) (*TokenRecord, error) {
	if _, err := internal.ParseOpaqueToken(token); err != nil {
		return nil, ErrTokenNotFound
	}

	data, err := s.redis.Get(ctx, s.key(purpose, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}

	record, err := decodeTokenRecord(data)
	if err != nil {
		return nil, err
	}
	if !s.now().Before(record.ExpiresAt) {
		return nil, ErrTokenNotFound
	}

	return record, nil
}

// Consume deletes the token and returns its record. The delete happens
// whether or not the record is still within its lifetime, so a token can be
// redeemed at most once.
func (s *TokenStore) Consume(ctx context.Context, purpose Purpose, token string) (*TokenRecord, error) {
	if _, err := internal.ParseOpaqueToken(token); err != nil {
		return nil, ErrTokenNotFound
	}
	key := s.key(purpose, token)

	for i := 0; i < maxTokenRetries; i++ {
		var consumed *TokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			record, err := decodeTokenRecord(data)
			if err != nil {
				return ErrTokenNotFound
			}
			if !s.now().Before(record.ExpiresAt) {
				return ErrTokenNotFound
			}

			consumed = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, ErrTokenNotFound):
				return nil, ErrTokenNotFound
			default:
				return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
			}
		}

		return consumed, nil
	}

	// Every retry lost to a concurrent consumer, which therefore got the token.
	return nil, ErrTokenNotFound
}

func encodeTokenRecord(record *TokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt.UnixNano()); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("token record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	var expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}

	return &TokenRecord{
		UserID:    string(userID),
		ExpiresAt: time.Unix(0, expiresAt).UTC(),
	}, nil
}
