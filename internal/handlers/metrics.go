package handlers

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics 系统运行指标
type SystemMetrics struct {
	Timestamp time.Time      `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	GoMetrics GoMetrics      `json:"go"`
	Console   ConsoleMetrics `json:"console"`
}

// GoMetrics Go运行时指标
type GoMetrics struct {
	Version     string  `json:"version"`
	Goroutines  int     `json:"goroutines"`
	MemoryAlloc float64 `json:"memory_alloc_mb"`
	MemoryTotal float64 `json:"memory_total_mb"`
	HeapAlloc   float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
}

// ConsoleMetrics 会话与上游状态
type ConsoleMetrics struct {
	Sessions        int    `json:"sessions"`
	ListControllers int    `json:"list_controllers"`
	UpstreamCircuit string `json:"upstream_circuit"`
}

// RuntimeMetrics 运行时指标（JSON），Prometheus 指标见 /metrics
func (h *Handler) RuntimeMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	sessions, err := h.sessions.Store().Count(r.Context())
	if err != nil {
		sessions = -1
	}

	WriteSuccess(w, SystemMetrics{
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime).String(),
		GoMetrics: GoMetrics{
			Version:     runtime.Version(),
			Goroutines:  runtime.NumGoroutine(),
			MemoryAlloc: float64(m.Alloc) / 1024 / 1024,
			MemoryTotal: float64(m.TotalAlloc) / 1024 / 1024,
			HeapAlloc:   float64(m.HeapAlloc) / 1024 / 1024,
			NumGC:       m.NumGC,
		},
		Console: ConsoleMetrics{
			Sessions:        sessions,
			ListControllers: h.catalog.Registry().Len(),
			UpstreamCircuit: h.upstream.BreakerState().String(),
		},
	})
}
