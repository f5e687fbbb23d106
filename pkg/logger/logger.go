// Package logger 基于 zerolog 的结构化日志
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	traceIDKey ctxKey = "traceID"
	spanIDKey  ctxKey = "spanID"
)

func init() {
	zerolog.TimestampFieldName = "timestamp"
}

// Logger 组件日志句柄，派生出的 Logger 共享同一输出
type Logger struct {
	logger zerolog.Logger
}

// New 创建 JSON 日志，w 为空时写 stdout
func New(service string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}

	l := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()

	return &Logger{logger: l}
}

// Nop 丢弃所有输出，测试和可选组件使用
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// ParseLevel 解析日志级别，未知值回退到 info
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithLevel 返回指定最低级别的 Logger
func (l *Logger) WithLevel(level string) *Logger {
	return &Logger{logger: l.logger.Level(ParseLevel(level))}
}

// Component 标记子组件
func (l *Logger) Component(name string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", name).Logger()}
}

// WithContext 附加 ctx 中的 traceID/spanID，缺失时原样返回
func (l *Logger) WithContext(ctx context.Context) *Logger {
	traceID, spanID := TraceIDFromContext(ctx), SpanIDFromContext(ctx)
	if traceID == "" && spanID == "" {
		return l
	}
	c := l.logger.With()
	if traceID != "" {
		c = c.Str("traceID", traceID)
	}
	if spanID != "" {
		c = c.Str("spanID", spanID)
	}
	return &Logger{logger: c.Logger()}
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

// Debugf 带字段的 Debug 日志
func (l *Logger) Debugf(msg string, fields map[string]any) {
	write(l.logger.Debug(), msg, fields)
}

// Infof 带字段的 Info 日志
func (l *Logger) Infof(msg string, fields map[string]any) {
	write(l.logger.Info(), msg, fields)
}

// Warnf 带字段的 Warn 日志
func (l *Logger) Warnf(msg string, fields map[string]any) {
	write(l.logger.Warn(), msg, fields)
}

// Errorf 带字段的 Error 日志
func (l *Logger) Errorf(msg string, fields map[string]any) {
	write(l.logger.Error(), msg, fields)
}

func write(event *zerolog.Event, msg string, fields map[string]any) {
	if event == nil {
		return
	}
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// WithError 添加错误字段
func (l *Logger) WithError(err error) *Logger {
	return &Logger{logger: l.logger.With().Err(err).Logger()}
}

// WithField 添加单个字段
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func ContextWithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func TraceIDFromContext(ctx context.Context) string {
	return stringValue(ctx, traceIDKey)
}

func SpanIDFromContext(ctx context.Context) string {
	return stringValue(ctx, spanIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}
