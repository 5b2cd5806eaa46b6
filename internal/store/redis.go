package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/imaginegw/imagine-gateway-go/internal/config"
	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

const (
	redisSessionPrefix = "imagine:session:"
	redisIndexKey      = "imagine:sessions"
	redisLockPrefix    = "imagine:lock:"
)

// releaseLockScript deletes the lock only if it still holds our token,
// so an expired-and-reacquired lock is never released by the old owner.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore is the shared backend: session records and cross-process
// locks live in redis, so multiple gateway instances can share one pool.
type RedisStore struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), config.StorePingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client, lockTTL: config.SessionLockTTL}, nil
}

func sessionKey(id string) string {
	return redisSessionPrefix + id
}

func (s *RedisStore) Load(ctx context.Context) ([]*model.Session, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*model.Session, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
		if err == redis.Nil {
			// Index entry without a record; skip as orphaned.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get session %s: %w", id, err)
		}

		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		sessions = append(sessions, rec.toSession())
	}
	return sessions, nil
}

func (s *RedisStore) Save(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(toRecord(session))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, 0)
	pipe.SAdd(ctx, redisIndexKey, session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

func (s *RedisStore) AcquireLock(ctx context.Context, sessionID string) (func(), error) {
	key := redisLockPrefix + sessionID
	token := uuid.NewString()

	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", sessionID, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), config.StorePingTimeout)
		defer cancel()
		releaseLockScript.Run(releaseCtx, s.client, []string{key}, token)
	}
	return release, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
