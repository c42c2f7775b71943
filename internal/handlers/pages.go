package handlers

import (
	"net/http"
	"os"
	"path/filepath"
)

// ==================== 页面渲染 ====================

const spaShell = `<!doctype html><html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>IoT Console</title><link rel="stylesheet" href="/static/style.css"><script defer src="/static/dist/main.js"></script></head><body><div id="app-root"></div></body></html>`

// SPA 统一入口，返回最小 HTML，由前端接管路由。
// 静态目录中存在 index.html 时优先使用。
func (h *Handler) SPA(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if h.staticDir != "" {
		index := filepath.Join(h.staticDir, "index.html")
		if info, err := os.Stat(index); err == nil && !info.IsDir() {
			http.ServeFile(w, r, index)
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(spaShell))
}
