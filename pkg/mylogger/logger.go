package mylogger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func Info(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	write(ctx, logger, zapcore.InfoLevel, msg, fields)
}

func Error(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	write(ctx, logger, zapcore.ErrorLevel, msg, fields)
}

func Warn(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	write(ctx, logger, zapcore.WarnLevel, msg, fields)
}

func Debug(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	write(ctx, logger, zapcore.DebugLevel, msg, fields)
}

// write skips two frames so the caller of Info/Warn/... is reported.
func write(ctx context.Context, logger *zap.Logger, level zapcore.Level, msg string, fields []zap.Field) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()

	if spanCtx.IsValid() {
		fields = append(fields,
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}

	logger.WithOptions(zap.AddCallerSkip(2)).Log(level, msg, fields...)
}
