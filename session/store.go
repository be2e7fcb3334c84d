package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session matches the lookup.
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrHashMismatch is returned by Rotate when the stored refresh hash is no
	// longer the one presented, typically because a concurrent refresh won.
	ErrHashMismatch = errors.New("refresh hash mismatch")
	// ErrInactive is returned by Rotate for expired or revoked sessions.
	ErrInactive = errors.New("session inactive")
	// ErrConflict is returned when optimistic retries are exhausted.
	ErrConflict = errors.New("session update conflict")
)

// errUnchanged aborts a mutation without writing.
var errUnchanged = errors.New("session unchanged")

const (
	maxTxRetries = 8
	minKeyTTL    = time.Second
)

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("DEL", KEYS[1])
if KEYS[2] ~= "" then
  local owner = redis.call("GET", KEYS[2])
  if owner == ARGV[1] then
    redis.call("DEL", KEYS[2])
  end
end
redis.call("SREM", KEYS[3], ARGV[1])
redis.call("ZREM", KEYS[4], ARGV[1])
redis.call("ZREM", KEYS[5], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is a Redis-backed session store.
//
// Keys under prefix:
//
//	<prefix>:s:<id>      binary-encoded Session
//	<prefix>:rt:<hash>   session ID owning a refresh-token hash
//	<prefix>:u:<userID>  set of the user's session IDs
//	<prefix>:exp         zset of session IDs scored by expiry
//	<prefix>:rev         zset of revoked session IDs scored by revocation
//
// Every read-modify-write goes through an optimistic WATCH transaction.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore returns a Store using prefix as key namespace. A nil now uses
// time.Now.
func NewStore(rdb redis.UniversalClient, prefix string, now func() time.Time) *Store {
	if prefix == "" {
		prefix = "sess"
	}
	if now == nil {
		now = time.Now
	}
	return &Store{redis: rdb, prefix: prefix, now: now}
}

func (s *Store) key(id string) string         { return s.prefix + ":s:" + id }
func (s *Store) refreshKey(hash string) string { return s.prefix + ":rt:" + hash }
func (s *Store) userKey(userID string) string  { return s.prefix + ":u:" + userID }
func (s *Store) expiryKey() string             { return s.prefix + ":exp" }
func (s *Store) revokedKey() string            { return s.prefix + ":rev" }

// ttlFor keeps keys alive until the sweep would purge the session anyway.
func (s *Store) ttlFor(sess *Session, now time.Time) time.Duration {
	ttl := sess.ExpiresAt.Add(RevokedRetention).Sub(now)
	if ttl < minKeyTTL {
		ttl = minKeyTTL
	}
	return ttl
}

// Create persists a new session.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.UserID == "" {
		return errors.New("session requires id and user id")
	}

	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := s.ttlFor(sess, s.now())
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		if sess.RefreshTokenHash != "" {
			pipe.Set(ctx, s.refreshKey(sess.RefreshTokenHash), sess.ID, ttl)
		}
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(sess.ExpiresAt.Unix()), Member: sess.ID})
		if sess.IsRevoked() {
			pipe.ZAdd(ctx, s.revokedKey(), redis.Z{Score: float64(sess.RevokedAt.Unix()), Member: sess.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// FindByID returns the session or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return Decode(data)
}

// FindByRefreshTokenHash returns the session currently holding hash.
func (s *Store) FindByRefreshTokenHash(ctx context.Context, hash string) (*Session, error) {
	id, err := s.redis.Get(ctx, s.refreshKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.RefreshTokenHash != hash {
		return nil, ErrNotFound
	}
	return sess, nil
}

// FindActiveByUserID returns the user's active sessions. IDs whose record is
// gone are pruned from the user index.
func (s *Store) FindActiveByUserID(ctx context.Context, userID string) ([]Session, error) {
	all, err := s.findByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	active := make([]Session, 0, len(all))
	for _, sess := range all {
		if sess.IsActive(now) {
			active = append(active, sess)
		}
	}
	return active, nil
}

func (s *Store) findByUser(ctx context.Context, userID string) ([]Session, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		sessions = append(sessions, *sess)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return sessions, nil
}

// UpdateLastAccessed sets LastAccessedAt.
func (s *Store) UpdateLastAccessed(ctx context.Context, id string, at time.Time) error {
	_, err := s.mutate(ctx, id, func(sess *Session) error {
		*sess = sess.WithLastAccessed(at)
		return nil
	})
	return err
}

// Rotate swaps the refresh hash from oldHash to newHash and bumps
// LastAccessedAt as one atomic step. It fails with ErrHashMismatch if the
// stored hash is no longer oldHash and ErrInactive if the session is expired
// or revoked.
func (s *Store) Rotate(ctx context.Context, id, oldHash, newHash string, at time.Time) (*Session, error) {
	if newHash == "" || newHash == oldHash {
		return nil, errors.New("rotation requires a new refresh hash")
	}
	return s.mutate(ctx, id, func(sess *Session) error {
		if !sess.IsActive(at) {
			return ErrInactive
		}
		if sess.RefreshTokenHash != oldHash {
			return ErrHashMismatch
		}
		*sess = sess.WithRefreshTokenHash(newHash).WithLastAccessed(at)
		return nil
	})
}

// Revoke marks the session revoked. It returns false when the session does
// not exist or was already revoked.
func (s *Store) Revoke(ctx context.Context, id string) (bool, error) {
	at := s.now()
	_, err := s.mutate(ctx, id, func(sess *Session) error {
		if sess.IsRevoked() {
			return errUnchanged
		}
		*sess = sess.WithRevoked(at)
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, errUnchanged):
		return false, nil
	default:
		return false, err
	}
}

// RevokeAllForUser revokes every unrevoked session of userID and returns how
// many were revoked.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, id := range ids {
		ok, err := s.Revoke(ctx, id)
		if err != nil {
			return revoked, err
		}
		if ok {
			revoked++
		}
	}
	return revoked, nil
}

// DeleteExpired removes expired sessions and sessions revoked more than
// RevokedRetention ago, along with their index entries. It returns the
// number of session records deleted.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	now := s.now()

	expired, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	revoked, err := s.redis.ZRangeByScore(ctx, s.revokedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Add(-RevokedRetention).Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	seen := make(map[string]struct{}, len(expired)+len(revoked))
	deleted := 0
	for _, id := range append(expired, revoked...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		ok, err := s.purge(ctx, id, now)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// purge deletes one session and its index entries if it is still purgeable.
func (s *Store) purge(ctx context.Context, id string, now time.Time) (bool, error) {
	sess, err := s.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Record already gone through key TTL; drop the dangling index entries.
		if err := s.redis.ZRem(ctx, s.expiryKey(), id).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if err := s.redis.ZRem(ctx, s.revokedKey(), id).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !sess.Purgeable(now) {
		return false, nil
	}

	refreshKey := ""
	if sess.RefreshTokenHash != "" {
		refreshKey = s.refreshKey(sess.RefreshTokenHash)
	}
	existed, err := deleteSessionLua.Run(ctx, s.redis, []string{
		s.key(id),
		refreshKey,
		s.userKey(sess.UserID),
		s.expiryKey(),
		s.revokedKey(),
	}, id).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// Ping checks Redis availability and returns the round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

// mutate applies fn to the stored session inside a WATCH transaction and
// keeps the refresh and revocation indexes in step.
func (s *Store) mutate(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	key := s.key(id)
	var result *Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		sess, err := Decode(data)
		if err != nil {
			return err
		}
		before := *sess
		if err := fn(sess); err != nil {
			return err
		}

		encoded, err := Encode(sess)
		if err != nil {
			return err
		}
		ttl := s.ttlFor(sess, s.now())

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, ttl)
			if before.RefreshTokenHash != sess.RefreshTokenHash {
				if before.RefreshTokenHash != "" {
					pipe.Del(ctx, s.refreshKey(before.RefreshTokenHash))
				}
				if sess.RefreshTokenHash != "" {
					pipe.Set(ctx, s.refreshKey(sess.RefreshTokenHash), sess.ID, ttl)
				}
			}
			if !before.IsRevoked() && sess.IsRevoked() {
				pipe.ZAdd(ctx, s.revokedKey(), redis.Z{Score: float64(sess.RevokedAt.Unix()), Member: sess.ID})
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = sess
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrHashMismatch),
			errors.Is(err, ErrInactive), errors.Is(err, errUnchanged):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return nil, ErrConflict
}
