package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "saunasync:lease:"

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker: SET NX PX, zwolnienie przez compare-and-delete.
type RedisLocker struct {
	rdb redis.UniversalClient
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (r *RedisLocker) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (*Lease, error) {
	ok, err := r.rdb.SetNX(ctx, keyPrefix+name, holder, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{Name: name, Holder: holder, ExpiresAt: time.Now().UTC().Add(ttl)}, nil
}

func (r *RedisLocker) Renew(ctx context.Context, l *Lease, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, r.rdb, []string{keyPrefix + l.Name}, l.Holder, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	l.ExpiresAt = time.Now().UTC().Add(ttl)
	return nil
}

func (r *RedisLocker) Release(ctx context.Context, l *Lease) error {
	n, err := releaseScript.Run(ctx, r.rdb, []string{keyPrefix + l.Name}, l.Holder).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
