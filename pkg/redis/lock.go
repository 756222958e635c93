package redis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when trying to release a lock not held
	ErrLockNotHeld = errors.New("lock not held")
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Lock represents a held distributed lock
type Lock struct {
	client *Client
	key    string
	value  string
}

// Locker hands out candidate locks so merges touching the same candidate run one at a time
// across service instances.
type Locker struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
	wait      time.Duration
}

// NewLocker creates a Locker. Locks expire after ttl; acquisition gives up after wait.
func NewLocker(client *Client, keyPrefix string, ttl, wait time.Duration) *Locker {
	if keyPrefix == "" {
		keyPrefix = "lock"
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		wait:      wait,
	}
}

func (l *Locker) key(id int64) string {
	return fmt.Sprintf("%s:%d", l.keyPrefix, id)
}

// Acquire attempts to acquire a lock once
func (l *Locker) Acquire(ctx context.Context, key string) (*Lock, error) {
	value := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, key, value, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)
	return &Lock{client: l.client, key: key, value: value}, nil
}

// TryAcquire retries Acquire with capped exponential backoff until the wait expires.
func (l *Locker) TryAcquire(ctx context.Context, key string) (*Lock, error) {
	deadline := time.Now().Add(l.wait)
	backoff := 10 * time.Millisecond

	for {
		lock, err := l.Acquire(ctx, key)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}
}

// Release releases the lock if it is still held by this owner.
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

// LockCandidates acquires a lock per candidate id in ascending order. The returned func releases
// all of them. Contention past the wait is reported as a 409.
func (l *Locker) LockCandidates(ctx context.Context, ids ...int64) (func(), error) {
	ordered := append([]int64(nil), ids...)
	slices.Sort(ordered)

	held := make([]*Lock, 0, len(ordered))
	release := func() {
		// released on a fresh context so a cancelled request still frees its locks
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(releaseCtx); err != nil {
				l.client.logger.WithError(err).Warnf("Failed to release lock %s", held[i].key)
			}
		}
	}

	for _, id := range ordered {
		lock, err := l.TryAcquire(ctx, l.key(id))
		if err != nil {
			release()
			if errors.Is(err, ErrLockNotAcquired) {
				return nil, httperror.NewHTTPErrorf(http.StatusConflict, "candidate %d is being merged by another request", id)
			}
			return nil, err
		}
		held = append(held, lock)
	}
	return release, nil
}
