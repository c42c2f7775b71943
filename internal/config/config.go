package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound 未找到配置文件
var ErrConfigNotFound = errors.New("config file not found")

// Session backends
const (
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
)

// Config 应用配置
type Config struct {
	// 服务器配置
	ListenAddr     string `json:"listen_addr"`
	StaticDir      string `json:"static_dir"`
	AllowedOrigins string `json:"allowed_origins"`
	TrustedProxies string `json:"trusted_proxies"`
	TLSCertFile    string `json:"tls_cert_file"`
	TLSKeyFile     string `json:"tls_key_file"`
	TLSAuto        bool   `json:"tls_auto"`
	TLSDomain      string `json:"tls_domain"`
	TLSCacheDir    string `json:"tls_cache_dir"`

	// HTTP超时配置
	HTTPReadTimeout  time.Duration `json:"http_read_timeout"`
	HTTPWriteTimeout time.Duration `json:"http_write_timeout"`
	HTTPIdleTimeout  time.Duration `json:"http_idle_timeout"`

	// 上游 REST API
	UpstreamBaseURL        string        `json:"upstream_base_url"`
	UpstreamTimeout        time.Duration `json:"upstream_timeout"`
	TokenRefreshMargin     time.Duration `json:"token_refresh_margin"`
	BreakerMaxFailures     int           `json:"breaker_max_failures"`
	BreakerOpenTimeout     time.Duration `json:"breaker_open_timeout"`
	UpstreamConnectRetries int           `json:"upstream_connect_retries"`

	// 会话配置
	SessionBackend       string        `json:"session_backend"`
	SessionSecret        string        `json:"session_secret"`
	SessionTTL           time.Duration `json:"session_ttl"`
	SessionCookieName    string        `json:"session_cookie_name"`
	SessionCookieSecure  bool          `json:"session_cookie_secure"`
	SessionDBPath        string        `json:"session_db_path"`
	SessionSweepInterval time.Duration `json:"session_sweep_interval"`
	RedisAddr            string        `json:"redis_addr"`
	RedisPassword        string        `json:"redis_password"`
	RedisDB              int           `json:"redis_db"`
	RedisKeyPrefix       string        `json:"redis_key_prefix"`

	// 日志配置
	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`

	// 列表控制器
	ListDefaultPageSize int           `json:"list_default_page_size"`
	ListMaxPageSize     int           `json:"list_max_page_size"`
	ListIdleTTL         time.Duration `json:"list_idle_ttl"`

	// MQTT 探测
	MQTTProbeTimeout time.Duration `json:"mqtt_probe_timeout"`

	// 报表
	ReportMaxPages    int `json:"report_max_pages"`
	ReportPageSize    int `json:"report_page_size"`
	EnrichConcurrency int `json:"enrich_concurrency"`

	// 登录限流
	LoginRateLimit     int           `json:"login_rate_limit"`
	LoginMaxFailures   int           `json:"login_max_failures"`
	LoginBlockDuration time.Duration `json:"login_block_duration"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:             ":8080",
		StaticDir:              "ui/static",
		TLSCacheDir:            "config/autocert",
		AllowedOrigins:         "",
		HTTPReadTimeout:        30 * time.Second,
		HTTPWriteTimeout:       30 * time.Second,
		HTTPIdleTimeout:        60 * time.Second,
		UpstreamBaseURL:        "http://127.0.0.1:8000",
		UpstreamTimeout:        15 * time.Second,
		TokenRefreshMargin:     30 * time.Second,
		BreakerMaxFailures:     5,
		BreakerOpenTimeout:     30 * time.Second,
		UpstreamConnectRetries: 5,
		SessionBackend:         SessionBackendSQLite,
		SessionSecret:          "",
		SessionTTL:             12 * time.Hour,
		SessionCookieName:      "iotconsole_session",
		SessionCookieSecure:    false,
		SessionDBPath:          "sessions.db",
		SessionSweepInterval:   10 * time.Minute,
		RedisAddr:              "127.0.0.1:6379",
		RedisKeyPrefix:         "iotconsole:session:",
		LogLevel:               "info",
		LogJSON:                false,
		ListDefaultPageSize:    10,
		ListMaxPageSize:        100,
		ListIdleTTL:            30 * time.Minute,
		MQTTProbeTimeout:       5 * time.Second,
		ReportMaxPages:         20,
		ReportPageSize:         100,
		EnrichConcurrency:      4,
		LoginRateLimit:         20,
		LoginMaxFailures:       5,
		LoginBlockDuration:     5 * time.Minute,
	}
}

var defaultEnvConfig = DefaultConfig()

// fileConfig YAML 文件结构
type fileConfig struct {
	Server struct {
		Addr           string   `yaml:"addr"`
		StaticDir      string   `yaml:"static_dir"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		TrustedProxies []string `yaml:"trusted_proxies"`
		ReadTimeout    string   `yaml:"read_timeout"`
		WriteTimeout   string   `yaml:"write_timeout"`
		IdleTimeout    string   `yaml:"idle_timeout"`
		TLSCertFile    string   `yaml:"tls_cert_file"`
		TLSKeyFile     string   `yaml:"tls_key_file"`
		TLSAuto        *bool    `yaml:"tls_auto"`
		TLSDomain      string   `yaml:"tls_domain"`
		TLSCacheDir    string   `yaml:"tls_cache_dir"`
	} `yaml:"server"`
	Upstream struct {
		BaseURL        string `yaml:"base_url"`
		Timeout        string `yaml:"timeout"`
		RefreshMargin  string `yaml:"refresh_margin"`
		ConnectRetries int    `yaml:"connect_retries"`
		Breaker        struct {
			MaxFailures int    `yaml:"max_failures"`
			OpenTimeout string `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"upstream"`
	Session struct {
		Backend       string `yaml:"backend"`
		Secret        string `yaml:"secret"`
		TTL           string `yaml:"ttl"`
		CookieName    string `yaml:"cookie_name"`
		CookieSecure  *bool  `yaml:"cookie_secure"`
		SQLitePath    string `yaml:"sqlite_path"`
		SweepInterval string `yaml:"sweep_interval"`
		Redis         struct {
			Addr      string `yaml:"addr"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
	} `yaml:"session"`
	Log struct {
		Level string `yaml:"level"`
		JSON  *bool  `yaml:"json"`
	} `yaml:"log"`
	Listing struct {
		DefaultPageSize int    `yaml:"default_page_size"`
		MaxPageSize     int    `yaml:"max_page_size"`
		IdleTTL         string `yaml:"idle_ttl"`
	} `yaml:"listing"`
	MQTT struct {
		ProbeTimeout string `yaml:"probe_timeout"`
	} `yaml:"mqtt"`
	Reports struct {
		MaxPages          int `yaml:"max_pages"`
		PageSize          int `yaml:"page_size"`
		EnrichConcurrency int `yaml:"enrich_concurrency"`
	} `yaml:"reports"`
	Login struct {
		RateLimit     int    `yaml:"rate_limit"`
		MaxFailures   int    `yaml:"max_failures"`
		BlockDuration string `yaml:"block_duration"`
	} `yaml:"login"`
}

// Load 从配置文件和环境变量加载配置。
// path 为空时按默认路径查找；找不到文件时使用默认配置。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// 1. 先从 YAML 文件加载配置
	if err := loadFromFile(cfg, path); err != nil {
		if !errors.Is(err, ErrConfigNotFound) || path != "" {
			return nil, err
		}
	}

	// 2. 环境变量覆盖配置
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveConfigFile(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return path, nil
	}

	configPaths := []string{
		"config/config.yaml",
		"../config/config.yaml",
		"./config.yaml",
	}
	for _, candidate := range configPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrConfigNotFound
}

// loadFromFile 从 YAML 文件加载配置
func loadFromFile(cfg *Config, path string) error {
	configFile, err := resolveConfigFile(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return applyYAML(cfg, data)
}

func applyYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setStringIfNotEmpty(&cfg.ListenAddr, fc.Server.Addr)
	setStringIfNotEmpty(&cfg.StaticDir, fc.Server.StaticDir)
	if len(fc.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = strings.Join(fc.Server.AllowedOrigins, ",")
	}
	if len(fc.Server.TrustedProxies) > 0 {
		cfg.TrustedProxies = strings.Join(fc.Server.TrustedProxies, ",")
	}
	setDurationFromText(&cfg.HTTPReadTimeout, fc.Server.ReadTimeout)
	setDurationFromText(&cfg.HTTPWriteTimeout, fc.Server.WriteTimeout)
	setDurationFromText(&cfg.HTTPIdleTimeout, fc.Server.IdleTimeout)
	setStringIfNotEmpty(&cfg.TLSCertFile, fc.Server.TLSCertFile)
	setStringIfNotEmpty(&cfg.TLSKeyFile, fc.Server.TLSKeyFile)
	if fc.Server.TLSAuto != nil {
		cfg.TLSAuto = *fc.Server.TLSAuto
	}
	setStringIfNotEmpty(&cfg.TLSDomain, fc.Server.TLSDomain)
	setStringIfNotEmpty(&cfg.TLSCacheDir, fc.Server.TLSCacheDir)

	setStringIfNotEmpty(&cfg.UpstreamBaseURL, fc.Upstream.BaseURL)
	setDurationFromText(&cfg.UpstreamTimeout, fc.Upstream.Timeout)
	setDurationFromText(&cfg.TokenRefreshMargin, fc.Upstream.RefreshMargin)
	setPositiveInt(&cfg.UpstreamConnectRetries, fc.Upstream.ConnectRetries)
	setPositiveInt(&cfg.BreakerMaxFailures, fc.Upstream.Breaker.MaxFailures)
	setDurationFromText(&cfg.BreakerOpenTimeout, fc.Upstream.Breaker.OpenTimeout)

	setStringIfNotEmpty(&cfg.SessionBackend, strings.ToLower(fc.Session.Backend))
	setStringIfNotEmpty(&cfg.SessionSecret, fc.Session.Secret)
	setDurationFromText(&cfg.SessionTTL, fc.Session.TTL)
	setStringIfNotEmpty(&cfg.SessionCookieName, fc.Session.CookieName)
	if fc.Session.CookieSecure != nil {
		cfg.SessionCookieSecure = *fc.Session.CookieSecure
	}
	setStringIfNotEmpty(&cfg.SessionDBPath, fc.Session.SQLitePath)
	setDurationFromText(&cfg.SessionSweepInterval, fc.Session.SweepInterval)
	setStringIfNotEmpty(&cfg.RedisAddr, fc.Session.Redis.Addr)
	setStringIfNotEmpty(&cfg.RedisPassword, fc.Session.Redis.Password)
	setPositiveInt(&cfg.RedisDB, fc.Session.Redis.DB)
	setStringIfNotEmpty(&cfg.RedisKeyPrefix, fc.Session.Redis.KeyPrefix)

	setStringIfNotEmpty(&cfg.LogLevel, fc.Log.Level)
	if fc.Log.JSON != nil {
		cfg.LogJSON = *fc.Log.JSON
	}

	setPositiveInt(&cfg.ListDefaultPageSize, fc.Listing.DefaultPageSize)
	setPositiveInt(&cfg.ListMaxPageSize, fc.Listing.MaxPageSize)
	setDurationFromText(&cfg.ListIdleTTL, fc.Listing.IdleTTL)

	setDurationFromText(&cfg.MQTTProbeTimeout, fc.MQTT.ProbeTimeout)

	setPositiveInt(&cfg.ReportMaxPages, fc.Reports.MaxPages)
	setPositiveInt(&cfg.ReportPageSize, fc.Reports.PageSize)
	setPositiveInt(&cfg.EnrichConcurrency, fc.Reports.EnrichConcurrency)

	setPositiveInt(&cfg.LoginRateLimit, fc.Login.RateLimit)
	setPositiveInt(&cfg.LoginMaxFailures, fc.Login.MaxFailures)
	setDurationFromText(&cfg.LoginBlockDuration, fc.Login.BlockDuration)

	return nil
}

func setStringIfNotEmpty(dst *string, value string) {
	if dst == nil || value == "" {
		return
	}
	*dst = value
}

func setDurationFromText(dst *time.Duration, value string) {
	if dst == nil || value == "" {
		return
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		*dst = parsed
	}
}

func setPositiveInt(dst *int, value int) {
	if dst == nil || value <= 0 {
		return
	}
	*dst = value
}

// loadFromEnv 从环境变量加载配置（会覆盖文件配置）
func loadFromEnv(cfg *Config) {
	if cfg == nil {
		return
	}

	defaults := defaultEnvConfig

	setStringFromEnv(&cfg.ListenAddr, "LISTEN_ADDR")
	setStringFromEnv(&cfg.StaticDir, "STATIC_DIR")
	setStringFromEnv(&cfg.AllowedOrigins, "ALLOWED_ORIGINS")
	setStringFromEnv(&cfg.TrustedProxies, "TRUSTED_PROXIES")
	setStringFromEnv(&cfg.TLSCertFile, "TLS_CERT_FILE")
	setStringFromEnv(&cfg.TLSKeyFile, "TLS_KEY_FILE")
	setBoolFromEnv(&cfg.TLSAuto, "TLS_AUTO")
	setStringFromEnv(&cfg.TLSDomain, "TLS_DOMAIN")
	setStringFromEnv(&cfg.TLSCacheDir, "TLS_CACHE_DIR")

	setDurationFromEnvWithFallback(&cfg.HTTPReadTimeout, "HTTP_READ_TIMEOUT", defaults.HTTPReadTimeout, false)
	setDurationFromEnvWithFallback(&cfg.HTTPWriteTimeout, "HTTP_WRITE_TIMEOUT", defaults.HTTPWriteTimeout, false)
	setDurationFromEnv(&cfg.HTTPIdleTimeout, "HTTP_IDLE_TIMEOUT")

	setStringFromEnv(&cfg.UpstreamBaseURL, "UPSTREAM_BASE_URL")
	setDurationFromEnvWithFallback(&cfg.UpstreamTimeout, "UPSTREAM_TIMEOUT", defaults.UpstreamTimeout, true)
	setDurationFromEnv(&cfg.TokenRefreshMargin, "TOKEN_REFRESH_MARGIN")
	setIntFromEnvWithFallback(&cfg.BreakerMaxFailures, "BREAKER_MAX_FAILURES", defaults.BreakerMaxFailures)
	setDurationFromEnvWithFallback(&cfg.BreakerOpenTimeout, "BREAKER_OPEN_TIMEOUT", defaults.BreakerOpenTimeout, true)

	setStringFromEnv(&cfg.SessionBackend, "SESSION_BACKEND")
	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(cfg.SessionBackend))
	setStringFromEnv(&cfg.SessionSecret, "SESSION_SECRET")
	setDurationFromEnvWithFallback(&cfg.SessionTTL, "SESSION_TTL", defaults.SessionTTL, true)
	setStringFromEnv(&cfg.SessionCookieName, "SESSION_COOKIE_NAME")
	setBoolFromEnv(&cfg.SessionCookieSecure, "SESSION_COOKIE_SECURE")
	setStringFromEnv(&cfg.SessionDBPath, "SESSION_DB_PATH")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setStringFromEnv(&cfg.RedisPassword, "REDIS_PASSWORD")
	setIntFromEnv(&cfg.RedisDB, "REDIS_DB")

	setStringFromEnv(&cfg.LogLevel, "LOG_LEVEL")
	setBoolFromEnv(&cfg.LogJSON, "LOG_JSON")

	setIntFromEnvWithFallback(&cfg.ListDefaultPageSize, "LIST_DEFAULT_PAGE_SIZE", defaults.ListDefaultPageSize)
	setIntFromEnvWithFallback(&cfg.ListMaxPageSize, "LIST_MAX_PAGE_SIZE", defaults.ListMaxPageSize)

	setDurationFromEnvWithFallback(&cfg.MQTTProbeTimeout, "MQTT_PROBE_TIMEOUT", defaults.MQTTProbeTimeout, true)
}

func setStringFromEnv(dst *string, key string) {
	if dst == nil {
		return
	}
	if value, ok := envValue(key); ok {
		*dst = value
	}
}

func setBoolFromEnv(dst *bool, key string) {
	if dst == nil {
		return
	}
	if value, ok := envValue(key); ok {
		*dst = parseTrueBoolOrOne(value)
	}
}

func setIntFromEnv(dst *int, key string) {
	if dst == nil {
		return
	}
	value, ok := envValue(key)
	if !ok {
		return
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		*dst = parsed
	}
}

func setIntFromEnvWithFallback(dst *int, key string, fallback int) {
	if dst == nil {
		return
	}
	value, ok := envValue(key)
	if !ok {
		return
	}
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		*dst = parsed
		return
	}
	if *dst <= 0 {
		*dst = fallback
	}
}

func setDurationFromEnv(dst *time.Duration, key string) {
	if dst == nil {
		return
	}
	value, ok := envValue(key)
	if !ok {
		return
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		*dst = parsed
	}
}

func setDurationFromEnvWithFallback(dst *time.Duration, key string, fallback time.Duration, mustPositive bool) {
	if dst == nil {
		return
	}
	value, ok := envValue(key)
	if !ok {
		return
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		if !mustPositive || parsed > 0 {
			*dst = parsed
			return
		}
	}
	if *dst == 0 {
		*dst = fallback
	}
}

func envValue(key string) (string, bool) {
	value := os.Getenv(key)
	if value == "" {
		return "", false
	}
	return value, true
}

func parseTrueBoolOrOne(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.EqualFold(trimmed, "true") || trimmed == "1"
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.SessionBackend {
	case SessionBackendSQLite, SessionBackendRedis:
	default:
		return fmt.Errorf("unsupported session backend %q", c.SessionBackend)
	}
	if strings.TrimSpace(c.UpstreamBaseURL) == "" {
		return errors.New("upstream base url is required")
	}
	if c.ListMaxPageSize < c.ListDefaultPageSize {
		c.ListMaxPageSize = c.ListDefaultPageSize
	}
	return nil
}

// GetAllowedOrigins 获取允许的跨域来源列表
func (c *Config) GetAllowedOrigins() []string {
	if c.AllowedOrigins == "" {
		return []string{"http://localhost:8080", "http://127.0.0.1:8080"}
	}
	return strings.Split(c.AllowedOrigins, ",")
}

// GetTrustedProxies 受信任的反向代理地址或网段；默认为空
func (c *Config) GetTrustedProxies() []string {
	var out []string
	for _, item := range strings.Split(c.TrustedProxies, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// String 返回配置的字符串表示（不含密钥）
func (c *Config) String() string {
	return fmt.Sprintf("Config{ListenAddr=%s, Upstream=%s, SessionBackend=%s, LogLevel=%s, PageSize=%d}",
		c.ListenAddr, c.UpstreamBaseURL, c.SessionBackend, c.LogLevel, c.ListDefaultPageSize)
}
