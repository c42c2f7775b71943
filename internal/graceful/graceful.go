// Package graceful 进程信号处理与按顺序关闭。
package graceful

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gonglijing/iotconsole/internal/logger"
)

// Server 可优雅关闭的服务，*http.Server 满足该接口
type Server interface {
	Shutdown(ctx context.Context) error
}

// ShutdownFunc 关闭函数类型
type ShutdownFunc func(ctx context.Context) error

// GracefulShutdown 优雅关闭管理器
type GracefulShutdown struct {
	timeout       time.Duration
	mu            sync.Mutex
	shutdownFuncs []ShutdownFunc
	httpServer    Server
	notifyChan    chan os.Signal
	once          sync.Once
	wg            sync.WaitGroup
	done          chan struct{}

	// 后台任务的根上下文，关闭开始时取消
	baseCtx    context.Context
	cancelBase context.CancelFunc
	log        *logger.StructuredLogger
}

// NewGracefulShutdown 创建优雅关闭管理器
func NewGracefulShutdown(timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GracefulShutdown{
		timeout:    timeout,
		notifyChan: make(chan os.Signal, 1),
		done:       make(chan struct{}),
		baseCtx:    ctx,
		cancelBase: cancel,
		log:        logger.WithModule("graceful"),
	}
}

// Context 后台任务上下文，Shutdown 时先于关闭函数取消
func (g *GracefulShutdown) Context() context.Context {
	return g.baseCtx
}

// Go 启动一个随关闭取消的后台任务，Shutdown 等待其退出
func (g *GracefulShutdown) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.baseCtx)
		g.log.Debug("background task stopped", "task", name)
	}()
}

// AddShutdownFunc 添加关闭函数，按添加顺序执行
func (g *GracefulShutdown) AddShutdownFunc(f ShutdownFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shutdownFuncs = append(g.shutdownFuncs, f)
}

// SetHTTPServer 设置HTTP服务器，最先关闭
func (g *GracefulShutdown) SetHTTPServer(srv Server) {
	g.httpServer = srv
}

// Start 启动信号监听
func (g *GracefulShutdown) Start() {
	signal.Notify(g.notifyChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig, ok := <-g.notifyChan
		if !ok {
			return
		}
		g.log.Info("Received shutdown signal, starting graceful shutdown...", "signal", sig.String())
		g.Shutdown()
	}()
}

// Shutdown 执行关闭，只生效一次
func (g *GracefulShutdown) Shutdown() {
	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		if g.httpServer != nil {
			g.log.Info("Shutting down HTTP server...")
			if err := g.httpServer.Shutdown(ctx); err != nil {
				g.log.Error("HTTP server shutdown error", err)
			}
		}

		g.cancelBase()
		g.wg.Wait()

		g.mu.Lock()
		funcs := append([]ShutdownFunc(nil), g.shutdownFuncs...)
		g.mu.Unlock()

		for i, f := range funcs {
			g.log.Debug("Executing shutdown function", "index", i+1, "total", len(funcs))
			if err := f(ctx); err != nil {
				g.log.Error("Shutdown function error", err, "index", i+1)
			}
		}

		signal.Stop(g.notifyChan)
		close(g.done)
		g.log.Info("Graceful shutdown completed")
	})
}

// Wait 等待关闭完成
func (g *GracefulShutdown) Wait() {
	<-g.done
}

// WithTimeout 创建带超时的上下文
func (g *GracefulShutdown) WithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}
