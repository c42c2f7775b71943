package handlers

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type rateState struct {
	mu    sync.Mutex
	times []time.Time
}

// RateLimiter 请求限流器
type RateLimiter struct {
	requests sync.Map // key:string(ip) -> *rateState
	limit    int
	window   time.Duration
	enabled  bool
	proxies  *ProxyTrust
}

// NewRateLimiter 创建限流器；requestsPerMinute 不大于 0 时不限流
func NewRateLimiter(requestsPerMinute int, enabled bool) *RateLimiter {
	if requestsPerMinute <= 0 {
		enabled = false
	}
	return &RateLimiter{
		limit:   requestsPerMinute,
		window:  time.Minute,
		enabled: enabled,
	}
}

func (rl *RateLimiter) getOrCreateState(ip string) *rateState {
	if ip == "" {
		ip = "unknown"
	}
	if existing, ok := rl.requests.Load(ip); ok {
		return existing.(*rateState)
	}
	state := &rateState{}
	actual, _ := rl.requests.LoadOrStore(ip, state)
	return actual.(*rateState)
}

func trimRecentTimes(times []time.Time, windowStart time.Time) []time.Time {
	if len(times) == 0 {
		return times[:0]
	}
	writeIdx := 0
	for _, t := range times {
		if t.After(windowStart) {
			times[writeIdx] = t
			writeIdx++
		}
	}
	return times[:writeIdx]
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(ip string) bool {
	if !rl.enabled {
		return true
	}

	state := rl.getOrCreateState(ip)
	state.mu.Lock()
	defer state.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)
	state.times = trimRecentTimes(state.times, windowStart)

	if len(state.times) >= rl.limit {
		return false
	}

	state.times = append(state.times, now)
	return true
}

// TrustProxies 设置读取转发头时信任的代理
func (rl *RateLimiter) TrustProxies(p *ProxyTrust) *RateLimiter {
	rl.proxies = p
	return rl
}

// RateLimitMiddleware 创建限流中间件，按客户端 IP 计数
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(rl.proxies.ClientIP(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				WriteErrorDef(w, http.StatusTooManyRequests, apiErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ProxyTrust 受信任的反向代理网段；只有对端地址落在其中时才读取转发头
type ProxyTrust struct {
	nets []*net.IPNet
}

// ParseProxyTrust 解析 CIDR 或单个 IP 列表；空列表表示不信任任何代理
func ParseProxyTrust(entries []string) (*ProxyTrust, error) {
	p := &ProxyTrust{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			p.nets = append(p.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		p.nets = append(p.nets, ipNet)
	}
	return p, nil
}

func (p *ProxyTrust) trusts(host string) bool {
	if p == nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range p.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP 客户端地址。对端是受信任代理时，从 X-Forwarded-For 右侧向左取第一个非代理地址，
// 其次取 X-Real-IP；否则一律使用 RemoteAddr
func (p *ProxyTrust) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !p.trusts(peer) {
		return peer
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !p.trusts(hop) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}

// ClientIP 不信任任何代理时的客户端地址
func ClientIP(r *http.Request) string {
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type bruteForceState struct {
	mu           sync.Mutex
	failures     []time.Time
	blockedUntil time.Time
}

// BruteForceLimiter 登录失败次数过多时按 IP 暂时封禁
type BruteForceLimiter struct {
	states    sync.Map // key:string(ip) -> *bruteForceState
	limit     int
	window    time.Duration
	blockTime time.Duration
}

// NewBruteForceLimiter 创建登录失败封禁器
func NewBruteForceLimiter(maxFailures int, blockDuration time.Duration) *BruteForceLimiter {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if blockDuration <= 0 {
		blockDuration = 15 * time.Minute
	}
	return &BruteForceLimiter{
		limit:     maxFailures,
		window:    15 * time.Minute,
		blockTime: blockDuration,
	}
}

func (b *BruteForceLimiter) getOrCreateState(ip string) *bruteForceState {
	if ip == "" {
		ip = "unknown"
	}
	if existing, ok := b.states.Load(ip); ok {
		return existing.(*bruteForceState)
	}
	state := &bruteForceState{}
	actual, _ := b.states.LoadOrStore(ip, state)
	return actual.(*bruteForceState)
}

// RecordFailure 记录登录失败
func (b *BruteForceLimiter) RecordFailure(ip string) {
	state := b.getOrCreateState(ip)
	state.mu.Lock()
	defer state.mu.Unlock()

	now := time.Now()
	if !state.blockedUntil.IsZero() && now.Before(state.blockedUntil) {
		return
	}
	if !state.blockedUntil.IsZero() && !now.Before(state.blockedUntil) {
		state.blockedUntil = time.Time{}
	}

	windowStart := now.Add(-b.window)
	state.failures = trimRecentTimes(state.failures, windowStart)
	state.failures = append(state.failures, now)

	if len(state.failures) >= b.limit {
		state.blockedUntil = now.Add(b.blockTime)
		state.failures = state.failures[:0]
	}
}

// RecordSuccess 记录登录成功
func (b *BruteForceLimiter) RecordSuccess(ip string) {
	state := b.getOrCreateState(ip)
	state.mu.Lock()
	state.failures = state.failures[:0]
	state.blockedUntil = time.Time{}
	state.mu.Unlock()
}

// IsBlocked 检查IP是否被封禁
func (b *BruteForceLimiter) IsBlocked(ip string) bool {
	state := b.getOrCreateState(ip)
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.blockedUntil.IsZero() {
		return false
	}
	if time.Now().Before(state.blockedUntil) {
		return true
	}
	state.blockedUntil = time.Time{}
	return false
}

// BlockStatus 返回封禁状态
func (b *BruteForceLimiter) BlockStatus(ip string) (bool, time.Duration) {
	state := b.getOrCreateState(ip)
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.blockedUntil.IsZero() {
		return false, 0
	}
	if remaining := time.Until(state.blockedUntil); remaining > 0 {
		return true, remaining
	}
	state.blockedUntil = time.Time{}
	return false, 0
}

// Prune 清理窗口外已无记录的 IP
func (rl *RateLimiter) Prune() int {
	windowStart := time.Now().Add(-rl.window)
	removed := 0
	rl.requests.Range(func(key, value any) bool {
		state := value.(*rateState)
		state.mu.Lock()
		state.times = trimRecentTimes(state.times, windowStart)
		empty := len(state.times) == 0
		state.mu.Unlock()
		if empty {
			rl.requests.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Prune 清理未封禁且无近期失败记录的 IP
func (b *BruteForceLimiter) Prune() int {
	now := time.Now()
	windowStart := now.Add(-b.window)
	removed := 0
	b.states.Range(func(key, value any) bool {
		state := value.(*bruteForceState)
		state.mu.Lock()
		state.failures = trimRecentTimes(state.failures, windowStart)
		idle := len(state.failures) == 0 && !now.Before(state.blockedUntil)
		state.mu.Unlock()
		if idle {
			b.states.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
