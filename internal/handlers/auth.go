package handlers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gonglijing/iotconsole/internal/access"
	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/auth"
	"github.com/gonglijing/iotconsole/internal/logger"
	"github.com/gonglijing/iotconsole/internal/models"
	"github.com/gonglijing/iotconsole/internal/session"
)

// ==================== 认证相关 ====================

// SessionInfo 当前用户及其能力
type SessionInfo struct {
	User         *models.Profile `json:"user"`
	Capabilities map[string]bool `json:"capabilities"`
	Collections  []string        `json:"collections"`
	Redirect     string          `json:"redirect,omitempty"`
}

func (h *Handler) sessionInfo(profile *models.Profile) SessionInfo {
	visible := h.catalog.VisibleTo(profile)
	routes := make([]string, 0, len(visible))
	for _, e := range visible {
		routes = append(routes, e.Route())
	}
	return SessionInfo{
		User:         profile,
		Capabilities: access.Capabilities(profile),
		Collections:  routes,
	}
}

// Login GET 显示登录页面；已登录时回到首页
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if rec, err := h.auth.Current(r); err == nil && rec != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.SPA(w, r)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// parseLogin 读取登录凭据：表单提交走 PostFormValue，其余按 JSON 解析
func parseLogin(r *http.Request) (loginRequest, error) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	default:
		if err := ParseRequest(r, &req); err != nil {
			return req, err
		}
	}
	req.Username = strings.TrimSpace(req.Username)
	return req, nil
}

// rejectLogin 登录失败：API 返回 JSON，页面表单带错误码回到登录页
func rejectLogin(w http.ResponseWriter, r *http.Request, status int, def APIErrorDef) {
	if !auth.IsAPIRequest(r) {
		http.Redirect(w, r, auth.LoginPath+"?error="+url.QueryEscape(def.Code), http.StatusSeeOther)
		return
	}
	WriteErrorDef(w, status, def)
}

// LoginPost 用户名密码换取上游令牌，建立会话并下发 cookie
func (h *Handler) LoginPost(w http.ResponseWriter, r *http.Request) {
	ip := h.proxies.ClientIP(r)
	if blocked, remaining := h.bruteForce.BlockStatus(ip); blocked {
		w.Header().Set("Retry-After", strconv.Itoa(int(remaining.Seconds())+1))
		rejectLogin(w, r, http.StatusTooManyRequests, apiErrLoginBlocked)
		return
	}

	req, err := parseLogin(r)
	if err != nil {
		rejectLogin(w, r, http.StatusBadRequest, apiErrInvalidRequestBody)
		return
	}
	if req.Username == "" || req.Password == "" {
		rejectLogin(w, r, http.StatusBadRequest, apiErrCredentialsMissing)
		return
	}

	pair, err := h.upstream.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if apiErr, ok := apiclient.AsAPIError(err); ok && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
			h.bruteForce.RecordFailure(ip)
			logger.Warn("login rejected", "username", req.Username, "ip", ip)
			rejectLogin(w, r, http.StatusUnauthorized, apiErrInvalidCredentials)
			return
		}
		if !auth.IsAPIRequest(r) {
			logger.Error("login failed", err, "username", req.Username)
			rejectLogin(w, r, http.StatusBadGateway, apiErrUpstream)
			return
		}
		writeFailure(w, r, err)
		return
	}

	rec, err := h.startSession(r.Context(), pair)
	if err != nil {
		if errors.Is(err, errInactiveAccount) {
			rejectLogin(w, r, http.StatusForbidden, apiErrForbidden)
			return
		}
		if _, ok := apiclient.AsAPIError(err); ok && auth.IsAPIRequest(r) {
			writeFailure(w, r, err)
			return
		}
		logger.Error(apiErrSessionCreate.Code, err)
		rejectLogin(w, r, http.StatusInternalServerError, apiErrSessionCreate)
		return
	}
	if err := h.auth.IssueCookie(w, rec); err != nil {
		_ = h.sessions.Destroy(r.Context(), rec.ID)
		logger.Error(apiErrSessionCreate.Code, err)
		rejectLogin(w, r, http.StatusInternalServerError, apiErrSessionCreate)
		return
	}
	h.bruteForce.RecordSuccess(ip)

	if !auth.IsAPIRequest(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	info := h.sessionInfo(rec.Profile)
	info.Redirect = "/"
	WriteSuccess(w, info)
}

var errInactiveAccount = errors.New("account is inactive")

// startSession 建立会话后用新令牌读取用户信息；失败时撤销会话
func (h *Handler) startSession(ctx context.Context, pair models.TokenPair) (*session.Record, error) {
	rec, err := h.sessions.Create(ctx, pair, nil)
	if err != nil {
		return nil, err
	}
	profile, err := h.upstream.Bind(h.sessions.Tokens(rec.ID)).Profile(ctx)
	if err == nil && !profile.IsActive {
		err = errInactiveAccount
	}
	if err == nil {
		err = h.sessions.UpdateProfile(ctx, rec.ID, profile)
	}
	if err != nil {
		if destroyErr := h.sessions.Destroy(ctx, rec.ID); destroyErr != nil && !errors.Is(destroyErr, session.ErrNotFound) {
			logger.Warn("failed to discard session", "session", rec.ID, "error", destroyErr)
		}
		return nil, err
	}
	rec.Profile = profile
	return rec, nil
}

// LogoutAPI 登出：删除会话、列表状态和 cookie
func (h *Handler) LogoutAPI(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r)
	WriteSuccess(w, map[string]string{"redirect": auth.LoginPath})
}

// Logout 页面登出
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r)
	http.Redirect(w, r, auth.LoginPath, http.StatusFound)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if id, err := h.auth.SessionID(r); err == nil {
		if err := h.sessions.Destroy(r.Context(), id); err != nil && !errors.Is(err, session.ErrNotFound) {
			logger.Warn("logout failed", "session", id, "error", err)
		}
	}
	h.auth.ClearCookie(w)
}

// Me 当前用户；refresh=1 时重新从上游读取
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	client, rec := h.client(r)
	if rec == nil {
		WriteUnauthorized(w, msgSessionExpired)
		return
	}
	profile := rec.Profile
	if profile == nil || r.URL.Query().Get("refresh") == "1" {
		fresh, err := client.Profile(r.Context())
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		if err := h.sessions.UpdateProfile(r.Context(), rec.ID, fresh); err != nil && !errors.Is(err, session.ErrNotFound) {
			logger.Warn("failed to cache profile", "session", rec.ID, "error", err)
		}
		profile = fresh
	}
	WriteSuccess(w, h.sessionInfo(profile))
}
