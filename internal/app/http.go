package app

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/gonglijing/iotconsole/internal/access"
	"github.com/gonglijing/iotconsole/internal/auth"
	"github.com/gonglijing/iotconsole/internal/config"
	"github.com/gonglijing/iotconsole/internal/handlers"
	"github.com/gonglijing/iotconsole/internal/logger"
	"github.com/gonglijing/iotconsole/internal/metrics"
)

// manualReadingPage 手动录入读数页面，仅超级用户可见
const manualReadingPage = "/lecturas/nueva"

func buildRouter(h *handlers.Handler, authManager *auth.Manager, loginLimiter *handlers.RateLimiter, staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrumentMiddleware)

	gate := &access.Gate{Forbidden: handlers.Forbidden}

	registerStaticRoutes(r, resolveStaticDir(staticDir))
	registerAPIRoutes(r, h, authManager, gate, loginLimiter)
	registerHealthRoutes(r, h)
	registerPageRoutes(r, h, authManager, gate, loginLimiter)

	return r
}

func buildHandlerChain(cfg *config.Config, router *mux.Router) http.Handler {
	allowedOrigins := cfg.GetAllowedOrigins()
	loggingHandler := requestLoggingMiddleware(router)
	gzipHandler := gorillaHandlers.CompressHandler(loggingHandler)
	corsHandler := corsMiddleware(allowedOrigins)(gzipHandler)

	return gorillaHandlers.RecoveryHandler(
		gorillaHandlers.RecoveryLogger(recoveryLogger{}),
		gorillaHandlers.PrintRecoveryStack(true),
	)(corsHandler)
}

// recoveryLogger 将 panic 输出到结构化日志
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	logger.Error("panic recovered", errors.New(fmt.Sprint(v...)))
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Debug("http request",
			"method", r.Method,
			"uri", r.URL.RequestURI(),
			"status", rw.statusCode,
			"bytes", rw.bytes,
			"elapsed", time.Since(start),
			"ip", handlers.ClientIP(r),
		)
	})
}

// instrumentMiddleware 按路由模板记录 Prometheus 指标
func instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.ObserveHTTP(route, r.Method, rw.statusCode, time.Since(start))
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowSet := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		allowSet[trimmed] = struct{}{}
	}

	allowMethods := "GET, POST, PATCH, DELETE, OPTIONS"
	allowHeaders := "Content-Type, Authorization"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if allowedOrigin(origin, allowSet, allowAll) {
				header := w.Header()
				header.Set("Access-Control-Allow-Origin", origin)
				header.Set("Access-Control-Allow-Methods", allowMethods)
				header.Set("Access-Control-Allow-Headers", allowHeaders)
				header.Set("Access-Control-Allow-Credentials", "true")
				header.Set("Vary", appendVaryHeader(header.Get("Vary"), "Origin"))
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allowedOrigin(origin string, allowSet map[string]struct{}, allowAll bool) bool {
	if origin == "" {
		return false
	}
	if allowAll {
		return true
	}
	_, ok := allowSet[origin]
	return ok
}

func appendVaryHeader(existing string, value string) string {
	trimmedValue := strings.TrimSpace(value)
	if trimmedValue == "" {
		return existing
	}
	if existing == "" {
		return trimmedValue
	}
	for _, part := range strings.Split(existing, ",") {
		if strings.EqualFold(strings.TrimSpace(part), trimmedValue) {
			return existing
		}
	}
	return existing + ", " + trimmedValue
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func resolveStaticDir(dir string) http.Dir {
	if dir == "" {
		dir = filepath.Join("ui", "static")
	}
	if filepath.IsAbs(dir) {
		return http.Dir(dir)
	}
	workDir, err := os.Getwd()
	if err != nil {
		logger.Warn("Failed to get working directory, using relative static path", "error", err)
		return http.Dir(dir)
	}
	return http.Dir(filepath.Join(workDir, dir))
}

func registerStaticRoutes(r *mux.Router, staticDir http.Dir) {
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(staticDir)))
}

func registerPageRoutes(r *mux.Router, h *handlers.Handler, authManager *auth.Manager, gate *access.Gate, loginLimiter *handlers.RateLimiter) {
	r.HandleFunc("/login", h.Login).Methods("GET")
	r.Handle("/login", handlers.RateLimitMiddleware(loginLimiter)(http.HandlerFunc(h.LoginPost))).Methods("POST")
	r.HandleFunc("/logout", h.Logout).Methods("GET")

	spa := http.HandlerFunc(h.SPA)
	r.Handle(manualReadingPage,
		authManager.RequireAuth(gate.RequirePage(access.ReadingsCreateManual, "/lecturas")(spa)),
	).Methods("GET")

	for _, e := range h.Catalog().Entities() {
		view := e.Caps().View
		if view == "" {
			continue
		}
		page := gate.Require(view)(spa)
		r.Handle(e.PagePath(), authManager.RequireAuth(page)).Methods("GET")
		r.PathPrefix(e.PagePath() + "/").Handler(authManager.RequireAuth(page)).Methods("GET")
	}

	r.PathPrefix("/").
		Handler(authManager.RequireAuth(spa)).
		Methods("GET").
		MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
			path := req.URL.Path
			return !strings.HasPrefix(path, "/api") && !strings.HasPrefix(path, "/static/")
		})
}

func registerHealthRoutes(r *mux.Router, h *handlers.Handler) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/ready", h.Readiness).Methods("GET")
	r.HandleFunc("/live", handlers.Liveness).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
}
