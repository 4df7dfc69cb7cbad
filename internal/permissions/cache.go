package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedStore trzyma wyniki lookupów w Redis. Bez klienta (nil) przepuszcza do next.
type CachedStore struct {
	log    zerolog.Logger
	next   Store
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCachedStore(log zerolog.Logger, next Store, client redis.UniversalClient, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedStore{log: log, next: next, client: client, ttl: ttl}
}

func cacheKey(userID string) string { return "saunasync:perms:" + userID }

// negatywny wpis: użytkownik bez wiersza
const notFoundMarker = "-"

func (c *CachedStore) Get(ctx context.Context, userID string) (*Permission, error) {
	if c.client == nil {
		return c.next.Get(ctx, userID)
	}

	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	switch {
	case err == nil:
		if string(data) == notFoundMarker {
			return nil, ErrNotFound
		}
		var p Permission
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Debug().Err(err).Msg("permissions: cache niedostępny")
	}

	p, err := c.next.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		_ = c.client.Set(ctx, cacheKey(userID), notFoundMarker, c.ttl).Err()
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(p); err == nil {
		_ = c.client.Set(ctx, cacheKey(userID), b, c.ttl).Err()
	}
	return p, nil
}

func (c *CachedStore) Invalidate(ctx context.Context, userID string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(userID)).Err()
}
