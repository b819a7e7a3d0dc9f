// Package lock provides per-entity exclusive sections shared by every API replica.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trustfund/pkg/otel"
)

var (
	ErrEmptyKey    = errors.New("lock key cannot be empty")
	ErrNotAcquired = errors.New("lock not acquired")
)

// Options 控制锁的过期与重试
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions 托管操作都在毫秒级完成
func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Tries:      20,
		RetryDelay: 50 * time.Millisecond,
	}
}

// RedisLocker 基于 redsync 的分布式锁
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, opts Options, logger *zap.Logger) *RedisLocker {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultOptions().Expiry
	}
	if opts.Tries < 1 {
		opts.Tries = DefaultOptions().Tries
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// WithLock 持有 key 对应的锁执行 fn，fn 返回后（包括 panic）释放锁
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}

	ctx, span := otel.StartSpan(ctx, "lock.with_lock")
	var err error
	defer func() { otel.EndSpan(span, err) }()

	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err = mutex.LockContext(ctx); err != nil {
		l.logger.Warn("Failed to acquire lock", zap.String("key", key), zap.Error(err))
		err = fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, err)
		return err
	}

	defer func() {
		if ok, unlockErr := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || unlockErr != nil {
			l.logger.Error("Failed to release lock",
				zap.String("key", key),
				zap.Bool("unlock_ok", ok),
				zap.Error(unlockErr),
			)
		}
	}()

	err = fn(ctx)
	return err
}

// Noop 单实例部署使用，事务本身的版本检查已经保证正确性
type Noop struct{}

func (Noop) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
