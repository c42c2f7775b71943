// Package session 保存控制台会话：上游令牌对、用户信息和时间戳。
// 令牌使用 secretbox 加密后落库。
package session

import (
	"context"
	"errors"
	"time"

	"github.com/gonglijing/iotconsole/internal/models"
)

// ErrNotFound 会话不存在或已过期
var ErrNotFound = errors.New("session not found")

// Record 会话记录
type Record struct {
	ID        string           `json:"id"`
	Tokens    models.TokenPair `json:"-"`
	Profile   *models.Profile  `json:"profile,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	LastSeen  time.Time        `json:"last_seen"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Expired 是否已过期
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store 会话存储后端
type Store interface {
	// Save 插入或覆盖整条记录
	Save(ctx context.Context, rec *Record) error
	// Get 读取记录，不存在返回 ErrNotFound
	Get(ctx context.Context, id string) (*Record, error)
	// UpdateTokens 仅更新已存在记录的令牌，不存在返回 ErrNotFound
	UpdateTokens(ctx context.Context, id string, pair models.TokenPair) error
	// Touch 更新最近访问与过期时间
	Touch(ctx context.Context, id string, lastSeen, expiresAt time.Time) error
	// Delete 删除记录，不存在返回 ErrNotFound
	Delete(ctx context.Context, id string) error
	// DeleteExpired 删除过期记录，返回删除数量
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
