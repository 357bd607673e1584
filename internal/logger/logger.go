package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

var (
	mu     sync.Mutex
	once   sync.Once
	logger *zap.SugaredLogger
)

// Options controls where and how the process logs.
type Options struct {
	Level      string
	JSON       bool
	File       string // Rotated log file; empty logs to stdout only
	MaxSize    int    // Megabytes
	MaxAge     int    // Days
	MaxBackups int
	Compress   bool
}

// Init builds the process logger from opts and installs it as the instance
// returned by Get. Standard library log output is redirected to it.
func Init(opts Options) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	if strings.TrimSpace(opts.Level) != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSize,
			MaxAge:     opts.MaxAge,
			MaxBackups: opts.MaxBackups,
			Compress:   opts.Compress,
		}))
	}

	core := zapcore.NewCore(encoder(opts.JSON), zapcore.NewMultiWriteSyncer(writers...), zap.NewAtomicLevelAt(level))
	core = withBuildInfo(core)

	l := zap.New(core)
	zap.RedirectStdLog(l)

	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
	return logger, nil
}

// Get returns the process logger, creating a stdout logger configured from
// LOG_LEVEL and JSON_LOG when Init has not been called.
func Get() *zap.SugaredLogger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		return l
	}

	once.Do(func() {
		level := zap.InfoLevel
		if env := os.Getenv("LOG_LEVEL"); env != "" {
			parsed, err := zapcore.ParseLevel(env)
			if err != nil {
				log.Println(fmt.Errorf("invalid level, defaulting to INFO: %w", err))
			} else {
				level = parsed
			}
		}
		core := zapcore.NewCore(encoder(os.Getenv("JSON_LOG") != ""), zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(level))

		mu.Lock()
		if logger == nil {
			logger = zap.New(withBuildInfo(core)).Sugar()
		}
		mu.Unlock()
	})

	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Named returns a child of the process logger for one component.
func Named(name string) *zap.SugaredLogger {
	return Get().Named(name)
}

// FromCtx returns the Logger associated with the ctx, or the process logger.
func FromCtx(ctx context.Context, with ...any) *zap.SugaredLogger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok {
		return l.With(with...)
	}
	return Get().With(with...)
}

// WithCtx returns a copy of ctx with the Logger attached.
func WithCtx(ctx context.Context, l *zap.SugaredLogger) context.Context {
	if lp, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok && lp == l {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, l)
}

func encoder(json bool) zapcore.Encoder {
	if json {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func withBuildInfo(core zapcore.Core) zapcore.Core {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return core
	}
	fields := []zapcore.Field{zap.String("go_version", buildInfo.GoVersion)}
	for _, v := range buildInfo.Settings {
		if v.Key == "vcs.revision" && len(v.Value) >= 7 {
			fields = append(fields, zap.String("git_revision", v.Value[:7]))
			break
		}
	}
	return core.With(fields)
}
