package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/models"
)

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	clock := time.Now().Truncate(time.Millisecond)
	m := NewManager(newSQLiteStore(t), time.Hour)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestManager_CreateAndLoad(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, models.TokenPair{Access: "a", Refresh: "r"}, &models.Profile{Username: "ana"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	loaded, err := m.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", loaded.Profile.Username)

	_, err = m.Load(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_SlidingExpiry(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()
	rec, err := m.Create(ctx, models.TokenPair{Access: "a"}, nil)
	require.NoError(t, err)

	*clock = clock.Add(50 * time.Minute)
	loaded, err := m.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, loaded.ExpiresAt.Equal(clock.Add(time.Hour)))

	// 续期后原过期时间已不再生效
	*clock = clock.Add(50 * time.Minute)
	_, err = m.Load(ctx, rec.ID)
	assert.NoError(t, err)
}

func TestManager_ExpiredIsDestroyed(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()
	rec, err := m.Create(ctx, models.TokenPair{Access: "a"}, nil)
	require.NoError(t, err)

	var destroyed []string
	m.OnDestroy(func(id string) { destroyed = append(destroyed, id) })

	*clock = clock.Add(2 * time.Hour)
	_, err = m.Load(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{rec.ID}, destroyed)

	_, err = m.Store().Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_BoundTokens(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	rec, err := m.Create(ctx, models.TokenPair{Access: "a1", Refresh: "r1"}, nil)
	require.NoError(t, err)

	var destroyed string
	m.OnDestroy(func(id string) { destroyed = id })

	tokens := m.Tokens(rec.ID)
	pair, err := tokens.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", pair.Access)

	require.NoError(t, tokens.SaveTokens(ctx, models.TokenPair{Access: "a2", Refresh: "r2"}))
	pair, err = tokens.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", pair.Access)

	// 401 清除令牌即删除整个会话
	require.NoError(t, tokens.ClearTokens(ctx))
	assert.Equal(t, rec.ID, destroyed)

	_, err = tokens.Tokens(ctx)
	assert.ErrorIs(t, err, apiclient.ErrNoSession)
	assert.ErrorIs(t, tokens.SaveTokens(ctx, models.TokenPair{Access: "x"}), ErrNotFound)
}

func TestManager_Sweep(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, models.TokenPair{Access: "a"}, nil)
	require.NoError(t, err)

	*clock = clock.Add(90 * time.Minute)
	_, err = m.Create(ctx, models.TokenPair{Access: "b"}, nil)
	require.NoError(t, err)

	removed, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestManager_UpdateProfile(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	rec, err := m.Create(ctx, models.TokenPair{Access: "a"}, &models.Profile{Username: "old"})
	require.NoError(t, err)

	require.NoError(t, m.UpdateProfile(ctx, rec.ID, &models.Profile{Username: "new"}))
	loaded, err := m.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", loaded.Profile.Username)
	assert.Equal(t, "a", loaded.Tokens.Access)
}

func TestManager_RunSweeperStops(t *testing.T) {
	m, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
