package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("calendar lock not acquired")
)

// Locker serializes writers on a practitioner's calendar, one key per date.
type Locker interface {
	WithCalendarLock(ctx context.Context, practitionerID uuid.UUID, dates []civil.Date, fn func(ctx context.Context) error) error
}

type redisCalendarLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisCalendarLocker creates a locker that uses one Redis key per
// (practitioner, date). A busy key is retried until wait elapses.
func NewRedisCalendarLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisCalendarLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  25 * time.Millisecond,
	}
}

// CalendarKey is the lock key for one practitioner day.
func CalendarKey(practitionerID uuid.UUID, date civil.Date) string {
	return fmt.Sprintf("lock:calendar:%s:%s", practitionerID.String(), date.String())
}

// lockKeys dedupes and sorts keys so that multi-day holders never deadlock.
func lockKeys(practitionerID uuid.UUID, dates []civil.Date) []string {
	seen := make(map[string]struct{}, len(dates))
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		k := CalendarKey(practitionerID, d)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *redisCalendarLocker) WithCalendarLock(ctx context.Context, practitionerID uuid.UUID, dates []civil.Date, fn func(ctx context.Context) error) error {
	keys := lockKeys(practitionerID, dates)
	token := uuid.NewString()

	var held []string
	defer func() {
		for _, key := range held {
			// release on a fresh context so a cancelled caller still frees the key
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = l.release(releaseCtx, key, token)
			cancel()
		}
	}()

	for _, key := range keys {
		if err := l.acquire(ctx, key, token); err != nil {
			return err
		}
		held = append(held, key)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisCalendarLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire calendar lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Add(l.retry).Before(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisCalendarLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release calendar lock: %w", err)
	}
	return nil
}
