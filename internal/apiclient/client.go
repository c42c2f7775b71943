// Package apiclient 封装对上游 REST API 的访问：
// Bearer JWT、过期前刷新、401 清除令牌、错误体解析、熔断。
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/gonglijing/iotconsole/internal/logger"
	"github.com/gonglijing/iotconsole/internal/metrics"
	"github.com/gonglijing/iotconsole/internal/models"
)

// 上游认证端点
const (
	PathToken        = "/api/token/"
	PathTokenRefresh = "/api/token/refresh/"
	PathProfile      = "/api/usuarios/me/"
)

var errServerStatus = errors.New("upstream server error")

// TokenStore 单个会话的令牌存储
type TokenStore interface {
	Tokens(ctx context.Context) (models.TokenPair, error)
	SaveTokens(ctx context.Context, pair models.TokenPair) error
	ClearTokens(ctx context.Context) error
}

// Options 上游客户端参数
type Options struct {
	BaseURL            string
	Timeout            time.Duration
	RefreshMargin      time.Duration
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration
}

// Upstream 所有会话共享的上游访问组件
type Upstream struct {
	http          *resty.Client
	breaker       *gobreaker.CircuitBreaker
	refreshGroup  singleflight.Group
	refreshMargin time.Duration
	now           func() time.Time
	log           *logger.StructuredLogger
}

// New 创建上游客户端
func New(opts Options) *Upstream {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.BreakerMaxFailures <= 0 {
		opts.BreakerMaxFailures = 5
	}
	if opts.BreakerOpenTimeout <= 0 {
		opts.BreakerOpenTimeout = 30 * time.Second
	}

	log := logger.WithModule("apiclient")
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")

	maxFailures := uint32(opts.BreakerMaxFailures)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		// 被更新请求取消的列表请求不计为失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(float64(to))
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Upstream{
		http:          client,
		breaker:       breaker,
		refreshMargin: opts.RefreshMargin,
		now:           time.Now,
		log:           log,
	}
}

// BreakerState 熔断器当前状态
func (u *Upstream) BreakerState() gobreaker.State {
	return u.breaker.State()
}

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	token  string
}

// execute 发出请求；5xx 和传输失败计入熔断，4xx 不计入
func (u *Upstream) execute(ctx context.Context, c call) (*resty.Response, error) {
	started := u.now()
	var resp *resty.Response

	_, err := u.breaker.Execute(func() (interface{}, error) {
		req := u.http.R().SetContext(ctx)
		if c.token != "" {
			req.SetAuthToken(c.token)
		}
		if len(c.query) > 0 {
			req.SetQueryParamsFromValues(c.query)
		}
		if c.body != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(c.body)
		}

		r, reqErr := req.Execute(c.method, c.path)
		if reqErr != nil {
			return nil, reqErr
		}
		resp = r
		if r.StatusCode() >= http.StatusInternalServerError {
			return r, errServerStatus
		}
		return r, nil
	})

	status := 0
	if resp != nil {
		status = resp.StatusCode()
	}
	metrics.ObserveUpstream(c.method, status, u.now().Sub(started))

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	case errors.Is(err, errServerStatus):
		return resp, nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		u.log.Warn("upstream transport error", "method", c.method, "path", c.path, "error", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return resp, nil
}

func decodeResponse(resp *resty.Response, out any) error {
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return parseErrorBody(resp.StatusCode(), resp.Body())
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}

// Login 用户名密码换取令牌对
func (u *Upstream) Login(ctx context.Context, username, password string) (models.TokenPair, error) {
	var pair models.TokenPair
	resp, err := u.execute(ctx, call{
		method: http.MethodPost,
		path:   PathToken,
		body:   map[string]string{"username": username, "password": password},
	})
	if err != nil {
		return pair, err
	}
	if err := decodeResponse(resp, &pair); err != nil {
		return pair, err
	}
	if pair.Access == "" {
		return pair, errors.New("upstream returned no access token")
	}
	return pair, nil
}

func (u *Upstream) refreshTokens(ctx context.Context, refresh string) (models.TokenPair, error) {
	var pair models.TokenPair
	resp, err := u.execute(ctx, call{
		method: http.MethodPost,
		path:   PathTokenRefresh,
		body:   map[string]string{"refresh": refresh},
	})
	if err != nil {
		return pair, err
	}
	if err := decodeResponse(resp, &pair); err != nil {
		return pair, err
	}
	if pair.Access == "" {
		return pair, errors.New("refresh returned no access token")
	}
	if pair.Refresh == "" {
		pair.Refresh = refresh
	}
	return pair, nil
}

// expiresSoon 读取 exp（不校验签名），在 margin 内即将过期返回 true
func (u *Upstream) expiresSoon(access string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !u.now().Add(u.refreshMargin).Before(exp.Time)
}

// Bind 绑定某个会话的令牌存储
func (u *Upstream) Bind(store TokenStore) *Client {
	return &Client{up: u, store: store}
}

// Client 绑定单个会话的上游客户端
type Client struct {
	up    *Upstream
	store TokenStore
}

// accessToken 返回可用的访问令牌；刷新失败时仍使用旧令牌
func (c *Client) accessToken(ctx context.Context) (string, error) {
	pair, err := c.store.Tokens(ctx)
	if err != nil {
		return "", err
	}
	if pair.Access == "" {
		return "", ErrNoSession
	}
	if pair.Refresh == "" || !c.up.expiresSoon(pair.Access) {
		return pair.Access, nil
	}

	// 同一刷新令牌的并发刷新合并为一次
	v, err, _ := c.up.refreshGroup.Do(pair.Refresh, func() (interface{}, error) {
		fresh, refreshErr := c.up.refreshTokens(context.WithoutCancel(ctx), pair.Refresh)
		if refreshErr != nil {
			metrics.TokenRefreshes.WithLabelValues("failed").Inc()
			return nil, refreshErr
		}
		metrics.TokenRefreshes.WithLabelValues("ok").Inc()
		return fresh, nil
	})
	if err != nil {
		c.up.log.Warn("token refresh failed, using current token", "error", err.Error())
		return pair.Access, nil
	}

	fresh := v.(models.TokenPair)
	if err := c.store.SaveTokens(ctx, fresh); err != nil {
		c.up.log.Warn("failed to persist refreshed tokens", "error", err.Error())
	}
	return fresh.Access, nil
}

// Do 发出带认证的请求；401 时清除会话令牌并返回 ErrUnauthorized
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	resp, err := c.up.execute(ctx, call{method: method, path: path, query: query, body: body, token: token})
	if err != nil {
		return err
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		if clearErr := c.store.ClearTokens(ctx); clearErr != nil {
			c.up.log.Error("failed to clear tokens after 401", clearErr)
		}
		return parseErrorBody(resp.StatusCode(), resp.Body())
	}
	return decodeResponse(resp, out)
}

// Profile 当前用户信息
func (c *Client) Profile(ctx context.Context) (*models.Profile, error) {
	var profile models.Profile
	if err := c.Do(ctx, http.MethodGet, PathProfile, nil, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Doer 资源访问所需的最小接口
type Doer interface {
	Do(ctx context.Context, method, path string, query url.Values, body, out any) error
}

var _ Doer = (*Client)(nil)
