package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"github.com/gonglijing/iotconsole/internal/logger"
	"github.com/gonglijing/iotconsole/internal/models"
)

// RedisOptions redis 后端参数
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore 基于 redis 的会话存储，过期由 redis TTL 完成
type RedisStore struct {
	client *redis.Client
	prefix string
	sealer *Sealer
	now    func() time.Time
}

type redisRecord struct {
	Tokens    string          `json:"tokens"`
	Profile   *models.Profile `json:"profile,omitempty"`
	CreatedAt int64           `json:"created_at"`
	LastSeen  int64           `json:"last_seen"`
	ExpiresAt int64           `json:"expires_at"`
}

// NewRedisStore 创建 redis 存储（不检查连通性）
func NewRedisStore(client *redis.Client, prefix string, sealer *Sealer) *RedisStore {
	if prefix == "" {
		prefix = "iotconsole:session:"
	}
	return &RedisStore{client: client, prefix: prefix, sealer: sealer, now: time.Now}
}

// ConnectRedis 连接 redis，启动阶段按指数退避重试 Ping
func ConnectRedis(ctx context.Context, opts RedisOptions, sealer *Sealer, maxElapsed time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	log := logger.WithModule("session.redis")
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxElapsed

	err := backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		log.Warn("redis not ready, retrying", "addr", opts.Addr, "wait", wait.String(), "error", err.Error())
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	log.Info("redis session store connected", "addr", opts.Addr, "db", opts.DB)
	return NewRedisStore(client, opts.KeyPrefix, sealer), nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) ttl(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *RedisStore) encode(rec *Record) ([]byte, error) {
	tokens, err := s.sealer.SealTokens(rec.Tokens)
	if err != nil {
		return nil, err
	}
	return json.Marshal(redisRecord{
		Tokens:    tokens,
		Profile:   rec.Profile,
		CreatedAt: toMillis(rec.CreatedAt),
		LastSeen:  toMillis(rec.LastSeen),
		ExpiresAt: toMillis(rec.ExpiresAt),
	})
}

// Save 写入记录，TTL 为剩余有效期
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	data, err := s.encode(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(rec.ID), data, s.ttl(rec.ExpiresAt)).Err()
}

// Get 读取记录
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var raw redisRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	pair, err := s.sealer.OpenTokens(raw.Tokens)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:        id,
		Tokens:    pair,
		Profile:   raw.Profile,
		CreatedAt: fromMillis(raw.CreatedAt),
		LastSeen:  fromMillis(raw.LastSeen),
		ExpiresAt: fromMillis(raw.ExpiresAt),
	}, nil
}

// replace 仅当键存在时覆盖（SET XX），避免与登出并发时复活会话
func (s *RedisStore) replace(ctx context.Context, rec *Record) error {
	data, err := s.encode(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, s.key(rec.ID), data, s.ttl(rec.ExpiresAt)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// UpdateTokens 更新令牌
func (s *RedisStore) UpdateTokens(ctx context.Context, id string, pair models.TokenPair) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Tokens = pair
	return s.replace(ctx, rec)
}

// Touch 延长有效期
func (s *RedisStore) Touch(ctx context.Context, id string, lastSeen, expiresAt time.Time) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.LastSeen, rec.ExpiresAt = lastSeen, expiresAt
	return s.replace(ctx, rec)
}

// Delete 删除
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired redis 自行过期，无需清理
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Count 扫描前缀统计会话数
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

// Ping 健康检查
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
