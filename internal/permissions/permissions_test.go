package permissions

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartek5186/saunasync/internal/db"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	h, err := db.OpenAt(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, h.Migrate())
	t.Cleanup(func() { _ = h.Close() })
	return NewGormStore(h.DB)
}

func TestGormStore_GetPut(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, Permission{UserID: "u1", Role: "editor"}))
	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "editor", p.Role)
	assert.False(t, p.IsAdmin())

	require.NoError(t, s.Put(ctx, Permission{UserID: "u1", Role: "editor", CanEditContent: true}))
	p, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

type errStore struct{ err error }

func (e errStore) Get(context.Context, string) (*Permission, error) { return nil, e.err }

func TestChecker_IsAdmin(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Permission{UserID: "admin", Role: "admin"}))
	require.NoError(t, s.Put(ctx, Permission{UserID: "ed", Role: "viewer", CanEditContent: true}))
	require.NoError(t, s.Put(ctx, Permission{UserID: "view", Role: "viewer"}))

	c := NewChecker(zerolog.Nop(), s)
	assert.True(t, c.IsAdmin(ctx, "admin"))
	assert.True(t, c.IsAdmin(ctx, "ed"))
	assert.False(t, c.IsAdmin(ctx, "view"))
	assert.False(t, c.IsAdmin(ctx, "nobody"))
	assert.False(t, c.IsAdmin(ctx, ""))

	assert.False(t, NewChecker(zerolog.Nop(), errStore{errors.New("db down")}).IsAdmin(ctx, "admin"))
	assert.False(t, (*Checker)(nil).IsAdmin(ctx, "admin"))
}

type countingStore struct {
	Store
	calls int32
}

func (c *countingStore) Get(ctx context.Context, id string) (*Permission, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.Store.Get(ctx, id)
}

func TestCachedStore_NilClientPassesThrough(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Permission{UserID: "u1", Role: "admin"}))

	cs := &countingStore{Store: s}
	c := NewCachedStore(zerolog.Nop(), cs, nil, 0)
	for i := 0; i < 3; i++ {
		p, err := c.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "admin", p.Role)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&cs.calls))
	assert.NoError(t, c.Invalidate(ctx, "u1"))
}

func TestCachedStore_Redis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })

	s := newGormStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Permission{UserID: "cache-u1", Role: "admin"}))

	cs := &countingStore{Store: s}
	c := NewCachedStore(zerolog.Nop(), cs, rdb, time.Minute)
	require.NoError(t, c.Invalidate(ctx, "cache-u1"))
	require.NoError(t, c.Invalidate(ctx, "cache-none"))

	for i := 0; i < 3; i++ {
		_, err := c.Get(ctx, "cache-u1")
		require.NoError(t, err)
		_, err = c.Get(ctx, "cache-none")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&cs.calls))
}

func TestPgxStore(t *testing.T) {
	url := os.Getenv("PERMISSIONS_DATABASE_URL")
	if url == "" {
		t.Skip("PERMISSIONS_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPgxStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.DB.Exec(ctx, `CREATE TABLE IF NOT EXISTS user_permissions (
		user_id text PRIMARY KEY, role text, can_edit_content boolean)`)
	require.NoError(t, err)
	_, err = s.DB.Exec(ctx, `INSERT INTO user_permissions (user_id, role, can_edit_content)
		VALUES ('pgx-u1', 'admin', false) ON CONFLICT (user_id) DO NOTHING`)
	require.NoError(t, err)

	p, err := s.Get(ctx, "pgx-u1")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())

	_, err = s.Get(ctx, "pgx-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, Permission{UserID: "pgx-u2", Role: "viewer"}))
	require.NoError(t, s.Put(ctx, Permission{UserID: "pgx-u2", Role: "viewer", CanEditContent: true}))
	p, err = s.Get(ctx, "pgx-u2")
	require.NoError(t, err)
	assert.True(t, p.CanEditContent)
}
