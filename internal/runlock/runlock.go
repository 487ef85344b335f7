// Package runlock guards a matching run so that two triggers never overlap.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when another holder owns the lock.
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing a lock that has expired or
	// was taken over.
	ErrLockNotHeld = errors.New("lock not held")
)

// Locker hands out exclusive, non-blocking locks by key.
type Locker interface {
	// Acquire returns ErrLockNotAcquired immediately if key is held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// LocalLocker serializes holders within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]*localLock
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]*localLock)}
}

type localLock struct {
	locker    *LocalLocker
	key       string
	expiresAt time.Time
}

// Acquire takes key unless a live holder has it. ttl bounds how long a
// holder that never releases can block others.
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.held[key]; ok && time.Now().Before(current.expiresAt) {
		return nil, ErrLockNotAcquired
	}

	lock := &localLock{locker: l, key: key, expiresAt: time.Now().Add(ttl)}
	l.held[key] = lock
	return lock, nil
}

func (lock *localLock) Release(ctx context.Context) error {
	l := lock.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[lock.key] != lock {
		return ErrLockNotHeld
	}
	delete(l.held, lock.key)
	return nil
}

// RedisLocker shares locks between processes through Redis.
type RedisLocker struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(addr, password string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLocker{client: client, keyPrefix: "coffeebot:lock:"}, nil
}

// Acquire sets the key with SET NX PX; the random value identifies this holder.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lockKey := l.keyPrefix + key
	lockValue := uuid.New().String()

	ok, err := l.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	return &redisLock{client: l.client, key: lockKey, value: lockValue}, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type redisLock struct {
	client *redis.Client
	key    string
	value  string
}

// Release deletes the key only if this holder still owns it.
func (lock *redisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lock.key, err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}
