package rbac

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

// countingStore counts Get calls that reach the backing store
type countingStore struct {
	users.Store
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, id int64) (*users.User, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, id)
}

func newCountingStore(t *testing.T) (*countingStore, *users.User) {
	t.Helper()
	s := &countingStore{Store: users.NewMemoryStore()}
	u := &users.User{Email: "admin@agency.com", SystemRole: roles.SystemAdmin, ClientID: 1, Status: users.StatusActive}
	require.NoError(t, s.Create(context.Background(), u))
	return s, u
}

func TestChecker_CachesGet(t *testing.T) {
	ctx := context.Background()
	store, u := newCountingStore(t)
	c := NewChecker(store, CheckerConfig{TTL: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		got, err := c.Get(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, roles.SystemAdmin, got.SystemRole)
	}
	assert.Equal(t, int32(1), store.gets.Load())

	// Callers cannot corrupt the cache
	got, _ := c.Get(ctx, u.ID)
	got.SystemRole = roles.SystemSuperAdmin
	again, _ := c.Get(ctx, u.ID)
	assert.Equal(t, roles.SystemAdmin, again.SystemRole)
}

func TestChecker_InvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	store, u := newCountingStore(t)
	c := NewChecker(store, CheckerConfig{TTL: time.Minute}, nil)

	ok, err := c.Can(ctx, u.ID, PermGrantApprove)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.UpdateSystemRole(ctx, u.ID, roles.SystemRequester)
	require.NoError(t, err)
	ok, err = c.Can(ctx, u.ID, PermGrantApprove)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.UpdateSystemRole(ctx, u.ID, roles.SystemSuperAdmin)
	require.NoError(t, err)
	require.NoError(t, c.SetStatus(ctx, u.ID, users.StatusSuspended))
	ok, err = c.Can(ctx, u.ID, PermJobTrigger)
	require.NoError(t, err)
	assert.False(t, ok, "suspended users hold no permissions")
	assert.Equal(t, int32(3), store.gets.Load())
}

func TestChecker_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	store, u := newCountingStore(t)
	c := NewChecker(store, CheckerConfig{TTL: 20 * time.Millisecond}, nil)

	_, err := c.Get(ctx, u.ID)
	require.NoError(t, err)

	// A write that bypasses the checker becomes visible after the TTL
	_, err = store.UpdateSystemRole(ctx, u.ID, roles.SystemRequester)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, err := c.Get(ctx, u.ID)
		return err == nil && got.SystemRole == roles.SystemRequester
	}, time.Second, 10*time.Millisecond)
}

func TestChecker_UnknownUser(t *testing.T) {
	store, _ := newCountingStore(t)
	c := NewChecker(store, CheckerConfig{}, nil)

	ok, err := c.Can(context.Background(), 999, PermGrantRead)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Get(context.Background(), 999)
	assert.ErrorIs(t, err, users.ErrNotFound)
}

func TestChecker_RedisL2(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store, u := newCountingStore(t)
	cfg := CheckerConfig{TTL: time.Minute, Redis: client, KeyPrefix: "test:user"}
	first := NewChecker(store, cfg, nil)
	second := NewChecker(store, cfg, nil)

	_, err := first.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:user:1"))
	assert.Equal(t, time.Minute, mr.TTL("test:user:1"))

	got, err := second.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, int32(1), store.gets.Load(), "second replica is served from redis")

	_, err = first.UpdateSystemRole(ctx, u.ID, roles.SystemRequester)
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:user:1"))
}

func TestChecker_RedisUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	store, u := newCountingStore(t)
	c := NewChecker(store, CheckerConfig{Redis: client}, nil)

	got, err := c.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	c.Invalidate(ctx, u.ID)
}
