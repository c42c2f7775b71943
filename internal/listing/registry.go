package listing

import (
	"context"
	"sync"
	"time"

	"github.com/gonglijing/iotconsole/internal/logger"
)

type registryKey struct {
	session string
	entity  string
}

type registryEntry struct {
	controller any
	lastUsed   time.Time
}

// Registry 每个 (会话, 实体) 保持一个列表控制器
type Registry struct {
	mu      sync.Mutex
	entries map[registryKey]*registryEntry
	idleTTL time.Duration
	now     func() time.Time
	log     *logger.StructuredLogger
}

// NewRegistry 创建注册表；idleTTL 后未使用的控制器会被清理
func NewRegistry(idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &Registry{
		entries: make(map[registryKey]*registryEntry),
		idleTTL: idleTTL,
		now:     time.Now,
		log:     logger.WithModule("listing"),
	}
}

// Get 取出（或创建）会话的实体控制器
func Get[T any](r *Registry, sessionID, entity string, create func() *Controller[T]) *Controller[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{session: sessionID, entity: entity}
	if entry, ok := r.entries[key]; ok {
		if ctrl, ok := entry.controller.(*Controller[T]); ok {
			entry.lastUsed = r.now()
			return ctrl
		}
	}
	ctrl := create()
	r.entries[key] = &registryEntry{controller: ctrl, lastUsed: r.now()}
	return ctrl
}

// Forget 删除会话的全部控制器（登出或会话失效）
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.entries {
		if key.session == sessionID {
			delete(r.entries, key)
		}
	}
}

// Len 控制器数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep 清理空闲控制器
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for key, entry := range r.entries {
		if entry.lastUsed.Before(cutoff) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// RunSweeper 周期性清理，ctx 取消后退出
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.idleTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Debug("idle list controllers swept", "removed", n)
			}
		}
	}
}
