package handlers

import (
	"net/http"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/auth"
	"github.com/gonglijing/iotconsole/internal/catalog"
	"github.com/gonglijing/iotconsole/internal/mqtt"
	"github.com/gonglijing/iotconsole/internal/reports"
	"github.com/gonglijing/iotconsole/internal/session"
)

// Deps 处理器依赖
type Deps struct {
	Upstream   *apiclient.Upstream
	Auth       *auth.Manager
	Catalog    *catalog.Catalog
	Reports    *reports.Service
	Prober     *mqtt.Prober
	Limiter    *RateLimiter
	BruteForce *BruteForceLimiter
	// Proxies 受信任的反向代理，为空时只按对端地址识别客户端
	Proxies *ProxyTrust
	// StaticDir SPA 外壳所在目录，为空时使用内置外壳
	StaticDir string
	// ACLMaxPages ACL 预览最多读取的规则页数
	ACLMaxPages int
}

// Handler Web处理器
type Handler struct {
	upstream    *apiclient.Upstream
	auth        *auth.Manager
	sessions    *session.Manager
	catalog     *catalog.Catalog
	reports     *reports.Service
	prober      *mqtt.Prober
	limiter     *RateLimiter
	bruteForce  *BruteForceLimiter
	proxies     *ProxyTrust
	staticDir   string
	aclMaxPages int
}

// NewHandler 创建处理器
func NewHandler(d Deps) *Handler {
	if d.Limiter == nil {
		d.Limiter = NewRateLimiter(0, false)
	}
	if d.BruteForce == nil {
		d.BruteForce = NewBruteForceLimiter(5, 0)
	}
	if d.ACLMaxPages <= 0 {
		d.ACLMaxPages = 10
	}
	return &Handler{
		upstream:    d.Upstream,
		auth:        d.Auth,
		sessions:    d.Auth.Sessions(),
		catalog:     d.Catalog,
		reports:     d.Reports,
		prober:      d.Prober,
		limiter:     d.Limiter,
		bruteForce:  d.BruteForce,
		proxies:     d.Proxies,
		staticDir:   d.StaticDir,
		aclMaxPages: d.ACLMaxPages,
	}
}

// Catalog 实体目录
func (h *Handler) Catalog() *catalog.Catalog { return h.catalog }

// client 当前会话绑定的上游客户端
func (h *Handler) client(r *http.Request) (*apiclient.Client, *session.Record) {
	rec := auth.FromContext(r.Context())
	if rec == nil {
		return nil, nil
	}
	return h.upstream.Bind(h.sessions.Tokens(rec.ID)), rec
}

// Unauthorized 供 auth 中间件使用的 401 响应
func Unauthorized(w http.ResponseWriter, r *http.Request) {
	WriteUnauthorized(w, msgSessionExpired)
}

// Forbidden 供 access 中间件使用的 403 响应
func Forbidden(w http.ResponseWriter, r *http.Request) {
	WriteForbidden(w)
}
