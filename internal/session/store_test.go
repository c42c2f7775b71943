package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonglijing/iotconsole/internal/models"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"), NewSealer([]byte("test")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "test:session:", NewSealer([]byte("test")))
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func sampleRecord(id string, now time.Time) *Record {
	return &Record{
		ID:        id,
		Tokens:    models.TokenPair{Access: "a-" + id, Refresh: "r-" + id},
		Profile:   &models.Profile{ID: 1, Username: "ana", IsSuperuser: true},
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

// storeContract 两个后端共用的行为
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := sampleRecord("s1", now)
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, rec.Tokens, got.Tokens)
	assert.Equal(t, "ana", got.Profile.Username)
	assert.True(t, got.ExpiresAt.Equal(rec.ExpiresAt))

	pair := models.TokenPair{Access: "a2", Refresh: "r2"}
	require.NoError(t, store.UpdateTokens(ctx, "s1", pair))
	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, pair, got.Tokens)

	later := now.Add(2 * time.Minute)
	require.NoError(t, store.Touch(ctx, "s1", later, later.Add(time.Hour)))
	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.LastSeen.Equal(later))

	assert.ErrorIs(t, store.UpdateTokens(ctx, "nope", pair), ErrNotFound)
	assert.ErrorIs(t, store.Touch(ctx, "nope", now, now), ErrNotFound)

	require.NoError(t, store.Save(ctx, sampleRecord("s2", now)))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "s1"), ErrNotFound)
	assert.NoError(t, store.Ping(ctx))
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContract(t, newSQLiteStore(t))
}

func TestRedisStore_Contract(t *testing.T) {
	store, _ := newRedisStore(t)
	storeContract(t, store)
}

func TestSQLiteStore_DeleteExpired(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	old := sampleRecord("old", now.Add(-2*time.Hour))
	require.NoError(t, store.Save(ctx, old))
	require.NoError(t, store.Save(ctx, sampleRecord("fresh", now)))

	removed, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSQLiteStore_TokensEncryptedAtRest(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleRecord("enc", time.Now())))

	var raw string
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT tokens FROM console_sessions WHERE id = ?`, "enc").Scan(&raw))
	assert.NotContains(t, raw, "a-enc")
	assert.NotContains(t, raw, "r-enc")
}

func TestSQLiteStore_Memory(t *testing.T) {
	store, err := OpenSQLite(":memory:", NewSealer([]byte("k")))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(context.Background(), sampleRecord("m", time.Now())))
	_, err = store.Get(context.Background(), "m")
	assert.NoError(t, err)
}

func TestConnLimits_MemoryConnectionNeverRecycled(t *testing.T) {
	maxOpen, maxIdle, lifetime := connLimits(":memory:")
	assert.Equal(t, 1, maxOpen)
	assert.Equal(t, 1, maxIdle)
	assert.Zero(t, lifetime)

	maxOpen, maxIdle, lifetime = connLimits("sessions.db")
	assert.Equal(t, DefaultMaxOpenConns, maxOpen)
	assert.Equal(t, DefaultMaxIdleConns, maxIdle)
	assert.Equal(t, ConnMaxLifetime, lifetime)
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleRecord("ttl", time.Now())))
	ttl := mr.TTL("test:session:ttl")
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(ctx, "ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := ConnectRedis(context.Background(), RedisOptions{Addr: mr.Addr()}, NewSealer([]byte("k")), time.Second)
	require.NoError(t, err)
	defer store.Close()
	assert.NoError(t, store.Ping(context.Background()))
}

func TestConnectRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := ConnectRedis(context.Background(), RedisOptions{Addr: addr}, NewSealer([]byte("k")), 300*time.Millisecond)
	assert.Error(t, err)
}
