package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrLockTimeout = errors.New("timed out waiting for lock")

// ILocker serializes work on a key across processes. The returned release
// func only deletes the key while it still holds the caller's token.
type ILocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type Options struct {
	Address  string
	Password string
	DB       int

	KeyPrefix    string
	PollInterval time.Duration
}

type redisLocker struct {
	client *redis.Client
	prefix string
	poll   time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func New(opts Options) ILocker {
	logrus.Info(fmt.Sprintf("Connecting to Redis at %s...", opts.Address))

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		logrus.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		logrus.Info("Successfully connected to Redis")
	}

	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "dedup:lock:"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}

	return &redisLocker{
		client: client,
		prefix: opts.KeyPrefix,
		poll:   opts.PollInterval,
	}
}

func (r *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lockKey := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w %s: %w", ErrLockTimeout, lockKey, ctx.Err())
			}
			logrus.Error(fmt.Sprintf("Error acquiring lock %s: %v", lockKey, err))
			return nil, err
		}
		if ok {
			logrus.Debug(fmt.Sprintf("Acquired lock %s", lockKey))
			return r.releaser(lockKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w %s: %w", ErrLockTimeout, lockKey, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *redisLocker) releaser(lockKey, token string) func(context.Context) error {
	return func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, r.client, []string{lockKey}, token).Int()
		if err != nil {
			logrus.Error(fmt.Sprintf("Error releasing lock %s: %v", lockKey, err))
			return err
		}

		if deleted == 0 {
			logrus.Debug(fmt.Sprintf("Lock %s expired before release", lockKey))
			return nil
		}

		logrus.Debug(fmt.Sprintf("Released lock %s", lockKey))
		return nil
	}
}

type noopLocker struct{}

// NewNoop returns a locker that never blocks, for deployments without Redis.
func NewNoop() ILocker {
	return noopLocker{}
}

func (noopLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
