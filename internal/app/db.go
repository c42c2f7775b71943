package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gonglijing/iotconsole/internal/config"
	"github.com/gonglijing/iotconsole/internal/logger"
	"github.com/gonglijing/iotconsole/internal/session"
)

// openSessionStore 按配置打开会话存储
func openSessionStore(ctx context.Context, cfg *config.Config, sealer *session.Sealer) (session.Store, error) {
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		logger.Info("Connecting session store (redis)...", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		maxElapsed := time.Duration(cfg.UpstreamConnectRetries) * 5 * time.Second
		store, err := session.ConnectRedis(ctx, session.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, sealer, maxElapsed)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis session store: %w", err)
		}
		return store, nil
	default:
		logger.Info("Opening session store (sqlite)...", "path", cfg.SessionDBPath)
		store, err := session.OpenSQLite(cfg.SessionDBPath, sealer)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite session store: %w", err)
		}
		return store, nil
	}
}
