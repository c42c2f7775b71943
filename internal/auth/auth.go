package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gonglijing/iotconsole/internal/session"
)

var (
	ErrNoCookie     = errors.New("no session cookie")
	ErrInvalidToken = errors.New("invalid session token")
)

const (
	defaultCookieName = "iotconsole_session"
	issuer            = "iotconsole"
	LoginPath         = "/login"
)

// Options cookie 参数
type Options struct {
	CookieName string
	Secure     bool
	TTL        time.Duration
	// Unauthorized 自定义 API 401 响应；为空时使用纯文本
	Unauthorized http.HandlerFunc
}

// Manager 签发并校验控制台会话 cookie（HS256 JWT，仅携带会话 ID）
type Manager struct {
	secret       []byte
	cookieName   string
	secure       bool
	ttl          time.Duration
	sessions     *session.Manager
	unauthorized http.HandlerFunc
	now          func() time.Time
}

type recordContextKey struct{}

type cookieClaims struct {
	jwt.RegisteredClaims
}

func NewManager(secretKey []byte, sessions *session.Manager, opts Options) *Manager {
	if len(secretKey) < 16 {
		secretKey = []byte("iotconsole-default-secret-please-change")
	}
	if opts.CookieName == "" {
		opts.CookieName = defaultCookieName
	}
	if opts.TTL <= 0 {
		opts.TTL = sessions.TTL()
	}
	return &Manager{
		secret:       secretKey,
		cookieName:   opts.CookieName,
		secure:       opts.Secure,
		ttl:          opts.TTL,
		sessions:     sessions,
		unauthorized: opts.Unauthorized,
		now:          time.Now,
	}
}

// Sessions 会话管理器
func (m *Manager) Sessions() *session.Manager { return m.sessions }

// GenerateToken 为会话签发 cookie 令牌
func (m *Manager) GenerateToken(rec *session.Record) (string, error) {
	now := m.now()
	subject := ""
	if rec.Profile != nil {
		subject = rec.Profile.Username
	}
	claims := cookieClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rec.ID,
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseToken 校验签名与过期时间，返回会话 ID
func (m *Manager) ParseToken(tokenStr string) (string, error) {
	claims, err := m.parseClaims(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.ID, nil
}

func (m *Manager) parseClaims(tokenStr string) (*cookieClaims, error) {
	var claims cookieClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(), jwt.WithTimeFunc(m.now))
	if err != nil || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// renewCookie cookie 签发超过 ttl/4 后随会话一起续期
func (m *Manager) renewCookie(w http.ResponseWriter, r *http.Request, rec *session.Record) {
	if r.Header.Get("Authorization") != "" {
		return
	}
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return
	}
	claims, err := m.parseClaims(cookie.Value)
	if err != nil || claims.IssuedAt == nil {
		return
	}
	if m.now().Sub(claims.IssuedAt.Time) < m.ttl/4 {
		return
	}
	_ = m.IssueCookie(w, rec)
}

// IssueCookie 登录成功后写 cookie
func (m *Manager) IssueCookie(w http.ResponseWriter, rec *session.Record) error {
	token, err := m.GenerateToken(rec)
	if err != nil {
		return err
	}
	m.setCookie(w, token, int(m.ttl.Seconds()))
	return nil
}

// ClearCookie 登出时清除 cookie
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	m.setCookie(w, "", -1)
}

func (m *Manager) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// SessionID 从 Authorization Bearer 或 cookie 中解析会话 ID
func (m *Manager) SessionID(r *http.Request) (string, error) {
	tokenStr := extractToken(r, m.cookieName)
	if tokenStr == "" {
		return "", ErrNoCookie
	}
	return m.ParseToken(tokenStr)
}

// Current 加载当前请求的会话记录
func (m *Manager) Current(r *http.Request) (*session.Record, error) {
	id, err := m.SessionID(r)
	if err != nil {
		return nil, err
	}
	return m.sessions.Load(r.Context(), id)
}

// RequireAuth 需要认证中间件：API 返回 401，页面跳转登录
func (m *Manager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, err := m.Current(r)
		if err != nil || rec == nil {
			m.reject(w, r)
			return
		}
		m.renewCookie(w, r, rec)
		next.ServeHTTP(w, r.WithContext(WithRecord(r.Context(), rec)))
	})
}

func (m *Manager) reject(w http.ResponseWriter, r *http.Request) {
	if IsAPIRequest(r) {
		if m.unauthorized != nil {
			m.unauthorized(w, r)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

// IsAPIRequest 是否为 /api 请求
func IsAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api")
}

func extractToken(r *http.Request, cookieName string) string {
	// Authorization: Bearer <token>
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// WithRecord 将会话放入 context
func WithRecord(ctx context.Context, rec *session.Record) context.Context {
	return context.WithValue(ctx, recordContextKey{}, rec)
}

// FromContext 取出当前会话
func FromContext(ctx context.Context) *session.Record {
	if ctx == nil {
		return nil
	}
	rec, _ := ctx.Value(recordContextKey{}).(*session.Record)
	return rec
}
