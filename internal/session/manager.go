package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/logger"
	"github.com/gonglijing/iotconsole/internal/metrics"
	"github.com/gonglijing/iotconsole/internal/models"
)

// touchInterval 最近访问时间的最小刷新间隔
const touchInterval = time.Minute

// Manager 会话生命周期管理
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   *logger.StructuredLogger

	mu        sync.RWMutex
	onDestroy []func(id string)
}

// NewManager 创建会话管理器
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   logger.WithModule("session"),
	}
}

// Store 返回底层存储
func (m *Manager) Store() Store { return m.store }

// TTL 会话有效期
func (m *Manager) TTL() time.Duration { return m.ttl }

// OnDestroy 注册会话销毁回调（登出、401、过期）
func (m *Manager) OnDestroy(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDestroy = append(m.onDestroy, fn)
}

func (m *Manager) notifyDestroyed(id string) {
	m.mu.RLock()
	hooks := append([]func(string){}, m.onDestroy...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(id)
	}
}

// Create 登录成功后创建会话
func (m *Manager) Create(ctx context.Context, pair models.TokenPair, profile *models.Profile) (*Record, error) {
	now := m.now()
	rec := &Record{
		ID:        uuid.NewString(),
		Tokens:    pair,
		Profile:   profile,
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	metrics.ActiveSessions.Inc()
	m.log.Info("session created", "session", rec.ID, "user", profile.DisplayName())
	return rec, nil
}

// Load 读取会话并滑动延长有效期；过期会话被删除
func (m *Manager) Load(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if rec.Expired(now) {
		_ = m.Destroy(ctx, id)
		return nil, ErrNotFound
	}
	if now.Sub(rec.LastSeen) >= touchInterval {
		rec.LastSeen, rec.ExpiresAt = now, now.Add(m.ttl)
		if err := m.store.Touch(ctx, id, rec.LastSeen, rec.ExpiresAt); err != nil && !errors.Is(err, ErrNotFound) {
			m.log.Warn("failed to touch session", "session", id, "error", err.Error())
		}
	}
	return rec, nil
}

// UpdateProfile 更新缓存的用户信息
func (m *Manager) UpdateProfile(ctx context.Context, id string, profile *models.Profile) error {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Profile = profile
	return m.store.Save(ctx, rec)
}

// Destroy 删除会话并通知回调
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	metrics.ActiveSessions.Dec()
	m.notifyDestroyed(id)
	m.log.Info("session destroyed", "session", id)
	return nil
}

// Tokens 返回绑定到会话的令牌存储
func (m *Manager) Tokens(id string) apiclient.TokenStore {
	return &boundTokens{manager: m, id: id}
}

// Sweep 清理过期会话并刷新会话数指标
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	removed, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if count, err := m.store.Count(ctx); err == nil {
		metrics.ActiveSessions.Set(float64(count))
	}
	if removed > 0 {
		m.log.Info("expired sessions swept", "removed", removed)
	}
	return removed, nil
}

// RunSweeper 周期性清理，ctx 取消后退出
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.log.Error("session sweep failed", err)
			}
		}
	}
}

// boundTokens 实现 apiclient.TokenStore；清除令牌即删除会话
type boundTokens struct {
	manager *Manager
	id      string
}

func (b *boundTokens) Tokens(ctx context.Context) (models.TokenPair, error) {
	rec, err := b.manager.store.Get(ctx, b.id)
	if errors.Is(err, ErrNotFound) {
		return models.TokenPair{}, apiclient.ErrNoSession
	}
	if err != nil {
		return models.TokenPair{}, err
	}
	return rec.Tokens, nil
}

func (b *boundTokens) SaveTokens(ctx context.Context, pair models.TokenPair) error {
	return b.manager.store.UpdateTokens(ctx, b.id, pair)
}

func (b *boundTokens) ClearTokens(ctx context.Context) error {
	if err := b.manager.Destroy(ctx, b.id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

var _ apiclient.TokenStore = (*boundTokens)(nil)
