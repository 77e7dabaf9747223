// Package log provides structured logging bound to execution context: query
// id, worker id, and (where applicable) pipeline/origin id.
//
// Two variants are available:
//   - Logger: non-sugared zap.Logger for hot runtime paths (structured fields)
//   - SugaredLogger: printf-style logging for CLI/debug surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging bound to a query/worker context.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger provides printf-style logging for CLI and debug surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// Context identifies the execution scope a Logger's entries are tagged with.
// Fields are included only when set (zero value omitted).
type Context struct {
	QueryID    uint64
	WorkerID   int
	PipelineID uint64
	OriginID   uint64
}

// NewLogger creates a logger bound to ctx, writing JSON to os.Stderr at the
// level named by NES_LOG_LEVEL (debug/info/warn/error; defaults to info).
// This is the one piece of worker config read directly from the
// environment rather than the YAML config file.
func NewLogger(ctx Context) *Logger {
	return newLoggerWithLevel(ctx, os.Stderr, levelFromEnv())
}

func levelFromEnv() zapcore.Level {
	switch strings.ToLower(os.Getenv("NES_LOG_LEVEL")) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "info", "":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithOutput returns a new logger with the same context fields but a
// different output writer; used by tests to capture log output.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

func newLoggerWithWriter(ctx Context, w io.Writer) *Logger {
	return newLoggerWithLevel(ctx, w, zapcore.DebugLevel)
}

func newLoggerWithLevel(ctx Context, w io.Writer, level zapcore.Level) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), level)

	var fields []zap.Field
	if ctx.QueryID != 0 {
		fields = append(fields, zap.Uint64("query_id", ctx.QueryID))
	}
	if ctx.WorkerID != 0 {
		fields = append(fields, zap.Int("worker_id", ctx.WorkerID))
	}
	if ctx.PipelineID != 0 {
		fields = append(fields, zap.Uint64("pipeline_id", ctx.PipelineID))
	}
	if ctx.OriginID != 0 {
		fields = append(fields, zap.Uint64("origin_id", ctx.OriginID))
	}

	return &Logger{zap: zap.New(core).With(fields...)}
}

// WithPipeline returns a derived logger tagged with a pipeline id, used when
// a worker thread starts executing a specific pipeline's stage.
func (l *Logger) WithPipeline(pipelineID uint64) *Logger {
	return &Logger{zap: l.zap.With(zap.Uint64("pipeline_id", pipelineID))}
}

// WithOrigin returns a derived logger tagged with an origin id.
func (l *Logger) WithOrigin(originID uint64) *Logger {
	return &Logger{zap: l.zap.With(zap.Uint64("origin_id", originID))}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) { l.zap.Debug(message, zap.Any("fields", fields)) }

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) { l.zap.Info(message, zap.Any("fields", fields)) }

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) { l.zap.Warn(message, zap.Any("fields", fields)) }

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) { l.zap.Error(message, zap.Any("fields", fields)) }

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger { return &SugaredLogger{sugar: l.zap.Sugar()} }

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) { s.sugar.Debugf(template, args...) }

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) { s.sugar.Infof(template, args...) }

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) { s.sugar.Warnf(template, args...) }

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) { s.sugar.Errorf(template, args...) }

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger { return &SugaredLogger{sugar: s.sugar.With(args...)} }
