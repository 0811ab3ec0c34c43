package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	keyNamespace       = "custody:lock:"
	defaultTTL         = 30 * time.Second
	defaultPollBackoff = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired-and-reacquired lock is never released by the old holder.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

type cmdable interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker serialises writers across server instances with a SET NX lock.
// The TTL bounds how long a crashed holder can block a task.
type RedisLocker struct {
	client  cmdable
	ttl     time.Duration
	backoff time.Duration
}

func NewRedisLocker(client cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl, backoff: defaultPollBackoff}
}

// NewRedisClient parses a redis URL and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.client == nil {
		return nil, errors.New("redis client not initialized")
	}
	full := keyNamespace + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(l.backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// ctx may already be cancelled by the time the caller unlocks
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(relCtx, releaseScript, []string{full}, token).Err(); err != nil {
			logrus.WithError(err).WithField("lock_key", key).Warn("Failed to release task lock; it will expire.")
		}
	}, nil
}
