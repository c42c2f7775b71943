package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/gonglijing/iotconsole/internal/models"
)

// 连接池配置
const (
	DefaultMaxOpenConns = 4
	DefaultMaxIdleConns = 2
	ConnMaxLifetime     = time.Hour
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS console_sessions (
	id         TEXT PRIMARY KEY,
	tokens     TEXT NOT NULL,
	profile    TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	last_seen  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_console_sessions_expires ON console_sessions(expires_at);
`

// SQLiteStore 基于 sqlite 的会话存储（默认后端）
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
}

func openSQLite(dsn string, maxOpen, maxIdle int, lifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// connLimits 连接池参数；内存库只用一条永不回收的连接，连接关闭即丢失全部数据
func connLimits(path string) (maxOpen, maxIdle int, lifetime time.Duration) {
	if path == ":memory:" {
		return 1, 1, 0
	}
	return DefaultMaxOpenConns, DefaultMaxIdleConns, ConnMaxLifetime
}

// OpenSQLite 打开（或创建）会话数据库。
// path 为 ":memory:" 时只使用单连接，保证所有请求看到同一个库。
func OpenSQLite(path string, sealer *Sealer) (*SQLiteStore, error) {
	maxOpen, maxIdle, lifetime := connLimits(path)
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = path
	}

	db, err := openSQLite(dsn, maxOpen, maxIdle, lifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if _, err := db.Exec(sessionSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init session schema: %w", err)
	}
	return &SQLiteStore{db: db, sealer: sealer}, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

// Save 插入或覆盖
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	tokens, err := s.sealer.SealTokens(rec.Tokens)
	if err != nil {
		return err
	}
	profile, err := json.Marshal(rec.Profile)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO console_sessions (id, tokens, profile, created_at, last_seen, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tokens = excluded.tokens,
			profile = excluded.profile,
			last_seen = excluded.last_seen,
			expires_at = excluded.expires_at`,
		rec.ID, tokens, string(profile), toMillis(rec.CreatedAt), toMillis(rec.LastSeen), toMillis(rec.ExpiresAt))
	return err
}

// Get 读取
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	var (
		tokens, profile                string
		createdAt, lastSeen, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tokens, profile, created_at, last_seen, expires_at FROM console_sessions WHERE id = ?`, id).
		Scan(&tokens, &profile, &createdAt, &lastSeen, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	pair, err := s.sealer.OpenTokens(tokens)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		ID:        id,
		Tokens:    pair,
		CreatedAt: fromMillis(createdAt),
		LastSeen:  fromMillis(lastSeen),
		ExpiresAt: fromMillis(expiresAt),
	}
	if profile != "" && profile != "null" {
		rec.Profile = &models.Profile{}
		if err := json.Unmarshal([]byte(profile), rec.Profile); err != nil {
			return nil, fmt.Errorf("decode session profile: %w", err)
		}
	}
	return rec, nil
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTokens 只更新已存在的记录
func (s *SQLiteStore) UpdateTokens(ctx context.Context, id string, pair models.TokenPair) error {
	tokens, err := s.sealer.SealTokens(pair)
	if err != nil {
		return err
	}
	return affectedOrNotFound(s.db.ExecContext(ctx,
		`UPDATE console_sessions SET tokens = ? WHERE id = ?`, tokens, id))
}

// Touch 更新访问时间
func (s *SQLiteStore) Touch(ctx context.Context, id string, lastSeen, expiresAt time.Time) error {
	return affectedOrNotFound(s.db.ExecContext(ctx,
		`UPDATE console_sessions SET last_seen = ?, expires_at = ? WHERE id = ?`,
		toMillis(lastSeen), toMillis(expiresAt), id))
}

// Delete 删除
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM console_sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired 清理过期会话
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM console_sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Count 会话数量
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM console_sessions`).Scan(&n)
	return n, err
}

// Ping 健康检查
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
