package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/auth"
	"github.com/gonglijing/iotconsole/internal/catalog"
	"github.com/gonglijing/iotconsole/internal/config"
	"github.com/gonglijing/iotconsole/internal/graceful"
	"github.com/gonglijing/iotconsole/internal/handlers"
	"github.com/gonglijing/iotconsole/internal/listing"
	"github.com/gonglijing/iotconsole/internal/logger"
	"github.com/gonglijing/iotconsole/internal/mqtt"
	"github.com/gonglijing/iotconsole/internal/reports"
	"github.com/gonglijing/iotconsole/internal/session"
)

// limiterPruneInterval 限流状态清理周期
const limiterPruneInterval = 5 * time.Minute

// Server 组装完成的控制台
type Server struct {
	cfg      *config.Config
	handler  http.Handler
	store    session.Store
	sessions *session.Manager
	registry *listing.Registry
	limiter  *handlers.RateLimiter
	brute    *handlers.BruteForceLimiter
}

// Build 按配置组装所有组件，不启动监听
func Build(ctx context.Context, cfg *config.Config) (*Server, error) {
	secretKey, err := loadOrGenerateSecretKey(cfg.SessionSecret, secretKeyFile)
	if err != nil {
		return nil, err
	}
	sealer := session.NewSealer(secretKey)

	store, err := openSessionStore(ctx, cfg, sealer)
	if err != nil {
		return nil, err
	}
	srv, err := assemble(cfg, store, secretKey)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return srv, nil
}

func assemble(cfg *config.Config, store session.Store, secretKey []byte) (*Server, error) {
	proxies, err := handlers.ParseProxyTrust(cfg.GetTrustedProxies())
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(store, cfg.SessionTTL)
	registry := listing.NewRegistry(cfg.ListIdleTTL)
	sessions.OnDestroy(registry.Forget)

	authManager := auth.NewManager(secretKey, sessions, auth.Options{
		CookieName:   cfg.SessionCookieName,
		Secure:       cfg.SessionCookieSecure,
		TTL:          cfg.SessionTTL,
		Unauthorized: handlers.Unauthorized,
	})

	upstream := apiclient.New(apiclient.Options{
		BaseURL:            cfg.UpstreamBaseURL,
		Timeout:            cfg.UpstreamTimeout,
		RefreshMargin:      cfg.TokenRefreshMargin,
		BreakerMaxFailures: cfg.BreakerMaxFailures,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	})

	reportService := reports.New(reports.Options{
		MaxPages:    cfg.ReportMaxPages,
		PageSize:    cfg.ReportPageSize,
		Concurrency: cfg.EnrichConcurrency,
	})

	entities := catalog.New(registry, catalog.Options{
		DefaultPageSize: cfg.ListDefaultPageSize,
		MaxPageSize:     cfg.ListMaxPageSize,
		EnrichReadings:  reportService.EnrichReadings,
	})

	loginLimiter := handlers.NewRateLimiter(cfg.LoginRateLimit, true).TrustProxies(proxies)
	bruteForce := handlers.NewBruteForceLimiter(cfg.LoginMaxFailures, cfg.LoginBlockDuration)

	h := handlers.NewHandler(handlers.Deps{
		Upstream:   upstream,
		Auth:       authManager,
		Catalog:    entities,
		Reports:    reportService,
		Prober:     mqtt.NewProber(cfg.MQTTProbeTimeout),
		Limiter:    loginLimiter,
		BruteForce: bruteForce,
		Proxies:    proxies,
		StaticDir:  cfg.StaticDir,
	})

	router := buildRouter(h, authManager, loginLimiter, cfg.StaticDir)
	return &Server{
		cfg:      cfg,
		handler:  buildHandlerChain(cfg, router),
		store:    store,
		sessions: sessions,
		registry: registry,
		limiter:  loginLimiter,
		brute:    bruteForce,
	}, nil
}

// Handler 完整的 HTTP 处理链
func (s *Server) Handler() http.Handler { return s.handler }

// startBackground 启动会话、列表控制器和限流状态的周期清理
func (s *Server) startBackground(gracefulMgr *graceful.GracefulShutdown) {
	gracefulMgr.Go("session-sweeper", func(ctx context.Context) {
		s.sessions.RunSweeper(ctx, s.cfg.SessionSweepInterval)
	})
	gracefulMgr.Go("list-sweeper", func(ctx context.Context) {
		s.registry.RunSweeper(ctx, 0)
	})
	gracefulMgr.Go("limiter-prune", func(ctx context.Context) {
		ticker := time.NewTicker(limiterPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.limiter.Prune()
				s.brute.Prune()
			}
		}
	})
}

// Run boots the application and blocks until shutdown completes.
func Run(cfg *config.Config) error {
	gracefulMgr := graceful.NewGracefulShutdown(30 * time.Second)

	srv, err := Build(gracefulMgr.Context(), cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
	gracefulMgr.SetHTTPServer(server)
	gracefulMgr.AddShutdownFunc(func(ctx context.Context) error {
		logger.Info("Closing session store...")
		return srv.store.Close()
	})

	srv.startBackground(gracefulMgr)
	gracefulMgr.Start()

	logger.Info("Console configured", "config", cfg.String())

	// TLS 优先级：1) 自动证书 2) 指定证书 3) HTTP
	var serveErr error
	switch {
	case cfg.TLSAuto && cfg.TLSDomain != "":
		serveErr = listenAndServeWithAutoCert(server, cfg)
	case cfg.TLSCertFile != "" && cfg.TLSKeyFile != "":
		logger.Info("Starting HTTPS", "addr", cfg.ListenAddr, "cert", cfg.TLSCertFile)
		serveErr = server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	default:
		logger.Info("Starting HTTP", "addr", cfg.ListenAddr)
		serveErr = server.ListenAndServe()
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		gracefulMgr.Shutdown()
		return fmt.Errorf("server error: %w", serveErr)
	}

	gracefulMgr.Wait()
	return nil
}
