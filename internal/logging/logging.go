// Package logging adapts zap to the es.Logger interface used by the
// docledger services.
package logging

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/getpup/pupsourcing/es"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and encoding of the logger.
type Config struct {
	// Level is one of debug, info, warn, error (default: info).
	Level string

	// Format is json or console (default: console).
	Format string
}

// Warner is implemented by loggers that have a warning level.
type Warner interface {
	Warn(ctx context.Context, msg string, args ...interface{})
}

// Logger implements es.Logger and Warner on top of a zap logger.
// args are alternating key/value pairs.
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	_ es.Logger = (*Logger)(nil)
	_ Warner    = (*Logger)(nil)
)

// New builds a Logger writing to w.
func New(w io.Writer, cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(defaultString(cfg.Level, "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format(time.RFC3339))
	}
	encCfg.EncodeDuration = func(d time.Duration, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(d.String())
	}

	var enc zapcore.Encoder
	switch strings.ToLower(defaultString(cfg.Format, "console")) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return Wrap(zap.New(zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), level))), nil
}

// Wrap adapts an existing zap logger.
func Wrap(l *zap.Logger) *Logger {
	return &Logger{sugar: l.Sugar()}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return Wrap(zap.NewNop())
}

// Zap returns the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.sugar.Desugar()
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Debugw(msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Infow(msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Warnw(msg, args...)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Errorw(msg, args...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Warn logs at warning level when logger supports it and at info level
// otherwise. A nil logger is ignored.
func Warn(ctx context.Context, logger es.Logger, msg string, args ...interface{}) {
	if logger == nil {
		return
	}
	if w, ok := logger.(Warner); ok {
		w.Warn(ctx, msg, args...)
		return
	}
	logger.Info(ctx, msg, args...)
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
