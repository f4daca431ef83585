package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
)

// Locker serializes uploads that target the same movie. Different movies
// never contend.
type Locker interface {
	// Lock blocks until the movie's lock is held or ctx is done. The returned
	// func releases it and is safe to call once.
	Lock(ctx context.Context, movieID int64) (func(), error)
}

// LocalLocker serializes uploads within one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[int64]*localLock
}

type localLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[int64]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, movieID int64) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[movieID]
	if !ok {
		lk = &localLock{sem: semaphore.NewWeighted(1)}
		l.locks[movieID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	if err := lk.sem.Acquire(ctx, 1); err != nil {
		l.drop(movieID, lk)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			lk.sem.Release(1)
			l.drop(movieID, lk)
		})
	}, nil
}

func (l *LocalLocker) drop(movieID int64, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, movieID)
	}
}

// held reports how many movies currently have a lock entry.
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Redis lease defaults.
const (
	DefaultLeaseTTL   = 15 * time.Minute
	DefaultRetryDelay = 250 * time.Millisecond
	redisLockPrefix   = "catalog:upload-lock:"
)

// Release and refresh only act on a lease this holder still owns.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker serializes uploads across processes with a SET NX PX lease.
// The lease is refreshed while held so long transcodes keep it.
type RedisLocker struct {
	client     redis.UniversalClient
	ttl        time.Duration
	retryDelay time.Duration
	log        *slog.Logger
}

// RedisLockerConfig configures a RedisLocker.
type RedisLockerConfig struct {
	Addr       string
	TTL        time.Duration
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, cfg RedisLockerConfig) (*RedisLocker, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      []string{cfg.Addr},
		MaxRetries: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisLocker(client, cfg), nil
}

func newRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	l := &RedisLocker{client: client, ttl: cfg.TTL, retryDelay: cfg.RetryDelay, log: cfg.Logger}
	if l.ttl <= 0 {
		l.ttl = DefaultLeaseTTL
	}
	if l.retryDelay <= 0 {
		l.retryDelay = DefaultRetryDelay
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, movieID int64) (func(), error) {
	key := redisLockPrefix + strconv.FormatInt(movieID, 10)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire upload lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, l.client, []string{key}, token).Err(); err != nil {
				l.log.Warn("Failed to release upload lock", "movieId", movieID, "error", err)
			}
		})
	}, nil
}

func (l *RedisLocker) refresh(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Err()
			cancel()
			if err != nil {
				l.log.Warn("Failed to refresh upload lock", "key", key, "error", err)
			}
		}
	}
}

// Close releases the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Ping checks the Redis connection.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
