package logger

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// LevelNames 级别名称映射
var LevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// ParseLevel 解析日志级别
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// StructuredLogger 结构化日志，底层为 zap
type StructuredLogger struct {
	module string
	level  zap.AtomicLevel
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	// pkg 供包级函数使用，多跳过一层调用栈
	pkg *zap.SugaredLogger
}

// NewStructuredLogger 创建结构化日志
func NewStructuredLogger(level LogLevel, module string, jsonOutput bool) *StructuredLogger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if jsonOutput {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), atom)
	return newFromCore(core, atom, module)
}

// NewWithCore 使用自定义 core 创建日志（测试中配合 observer 使用）
func NewWithCore(core zapcore.Core, module string) *StructuredLogger {
	return newFromCore(core, zap.NewAtomicLevelAt(zapcore.DebugLevel), module)
}

// NewNop 创建不输出的日志
func NewNop() *StructuredLogger {
	return newFromCore(zapcore.NewNopCore(), zap.NewAtomicLevel(), "")
}

func newFromCore(core zapcore.Core, atom zap.AtomicLevel, module string) *StructuredLogger {
	base := zap.New(core, zap.AddCaller())
	if module != "" {
		base = base.Named(module)
	}
	return &StructuredLogger{
		module: module,
		level:  atom,
		base:   base,
		sugar:  base.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		pkg:    base.WithOptions(zap.AddCallerSkip(2)).Sugar(),
	}
}

// WithModule 创建带模块名的日志
func (l *StructuredLogger) WithModule(module string) *StructuredLogger {
	base := l.base.Named(module)
	return &StructuredLogger{
		module: module,
		level:  l.level,
		base:   base,
		sugar:  base.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		pkg:    base.WithOptions(zap.AddCallerSkip(2)).Sugar(),
	}
}

// Module 返回模块名
func (l *StructuredLogger) Module() string {
	return l.module
}

// Zap 返回底层 zap.Logger，供需要原生 zap 的组件使用
func (l *StructuredLogger) Zap() *zap.Logger {
	return l.base
}

// Debug 调试日志
func (l *StructuredLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info 信息日志
func (l *StructuredLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn 警告日志
func (l *StructuredLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error 错误日志
func (l *StructuredLogger) Error(msg string, err error, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, withError(err, keysAndValues)...)
}

// Fatal 致命日志
func (l *StructuredLogger) Fatal(msg string, err error) {
	l.sugar.Fatalw(msg, withError(err, nil)...)
}

// Sync 刷新缓冲
func (l *StructuredLogger) Sync() error {
	return l.base.Sync()
}

func withError(err error, keysAndValues []interface{}) []interface{} {
	if err == nil {
		return keysAndValues
	}
	out := make([]interface{}, 0, len(keysAndValues)+2)
	out = append(out, "error", err.Error())
	return append(out, keysAndValues...)
}

// 全局logger
var global atomic.Pointer[StructuredLogger]

func init() {
	global.Store(NewStructuredLogger(INFO, "iotconsole", false))
}

// Configure 按配置重建全局日志
func Configure(level string, jsonOutput bool) {
	global.Store(NewStructuredLogger(ParseLevel(level), "iotconsole", jsonOutput))
}

// SetGlobal 替换全局日志（测试用）
func SetGlobal(l *StructuredLogger) {
	if l != nil {
		global.Store(l)
	}
}

// L 返回全局日志
func L() *StructuredLogger {
	return global.Load()
}

// WithModule 从全局日志派生模块日志
func WithModule(module string) *StructuredLogger {
	return global.Load().WithModule(module)
}

// SetLevel 设置日志级别
func SetLevel(level LogLevel) {
	global.Load().level.SetLevel(level.zapLevel())
}

// Debug 全局调试日志
func Debug(msg string, keysAndValues ...interface{}) {
	global.Load().pkg.Debugw(msg, keysAndValues...)
}

// Info 全局信息日志
func Info(msg string, keysAndValues ...interface{}) {
	global.Load().pkg.Infow(msg, keysAndValues...)
}

// Warn 全局警告日志
func Warn(msg string, keysAndValues ...interface{}) {
	global.Load().pkg.Warnw(msg, keysAndValues...)
}

// Error 全局错误日志
func Error(msg string, err error, keysAndValues ...interface{}) {
	global.Load().pkg.Errorw(msg, withError(err, keysAndValues)...)
}

// Fatal 全局致命日志
func Fatal(msg string, err error) {
	global.Load().pkg.Fatalw(msg, withError(err, nil)...)
}

// Printf 格式化日志
func Printf(format string, v ...interface{}) {
	global.Load().pkg.Infof(format, v...)
}

// Sync 刷新全局日志
func Sync() error {
	return global.Load().Sync()
}
