package utils

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

var ErrLockNotObtained = errors.New("lock not obtained")

// Locker hands out advisory locks. Callers treat them as best effort; the
// conditional status updates remain the source of truth.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type NoopLocker struct{}

func (NoopLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return func() {}, nil
}

type RedisLocker struct {
	client *redislock.Client
	logger *logrus.Logger
}

// NewLocker returns a redis-backed locker, or a no-op one when client is nil.
func NewLocker(client *redislock.Client, logger *logrus.Logger) Locker {
	if client == nil {
		return NoopLocker{}
	}
	return &RedisLocker{client: client, logger: logger}
}

const (
	lockRetryBackoff  = 50 * time.Millisecond
	lockRetryAttempts = 10
)

// lockOptions builds fresh options per Obtain; the limited retry strategy
// counts attempts and cannot be shared between calls.
func lockOptions() *redislock.Options {
	return &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(lockRetryBackoff), lockRetryAttempts),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lock, err := l.client.Obtain(ctx, "lock:"+key, ttl, lockOptions())
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.WithField("key", key).Warn("failed to release redis lock: " + err.Error())
		}
	}, nil
}
