package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/sony/gobreaker"
)

// HealthStatus 健康检查状态
type HealthStatus struct {
	Status    string           `json:"status"` // healthy, degraded, unhealthy
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
	System    SystemInfo       `json:"system"`
}

// Check 单个检查项
type Check struct {
	Status  string `json:"status"` // pass, fail
	Message string `json:"message,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	GoVersion  string  `json:"go_version"`
	Goroutines int     `json:"goroutines"`
	MemoryMB   float64 `json:"memory_mb"`
}

// startTime 程序启动时间
var startTime = time.Now()

// Health 健康检查：会话存储不可用为 unhealthy，上游熔断为 degraded
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime).String(),
		Checks:    make(map[string]Check),
		System: SystemInfo{
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
		},
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	status.System.MemoryMB = float64(m.Alloc) / 1024 / 1024

	status.Status = "healthy"
	if err := h.checkSessionStore(r.Context()); err != nil {
		status.Checks["session_store"] = Check{Status: "fail", Message: err.Error()}
		status.Status = "unhealthy"
	} else {
		status.Checks["session_store"] = Check{Status: "pass", Message: "Connected"}
	}

	breaker := h.upstream.BreakerState()
	if breaker == gobreaker.StateOpen {
		status.Checks["upstream"] = Check{Status: "fail", Message: "circuit " + breaker.String()}
		if status.Status == "healthy" {
			status.Status = "degraded"
		}
	} else {
		status.Checks["upstream"] = Check{Status: "pass", Message: "circuit " + breaker.String()}
	}

	statusCode := http.StatusOK
	if status.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	WriteJSON(w, statusCode, status)
}

// Readiness 就绪检查接口
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.checkSessionStore(r.Context()); err != nil {
		http.Error(w, "Not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Liveness 存活检查接口
func Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) checkSessionStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.sessions.Store().Ping(ctx)
}
