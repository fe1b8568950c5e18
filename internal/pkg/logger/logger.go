// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 根据配置初始化全局 logger。
// format 为 "console" 时输出人类可读格式，否则输出 JSON。
func Init(serviceName, level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}

	base = zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// L 返回不带请求上下文的全局 logger
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回绑定了当前链路信息的 logger。
// 如果 ctx 中带有有效的 Span，会自动附加 trace_id 和 span_id，方便在 Jaeger 中反查。
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &base
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
	return &l
}
