// Package logger is a context-aware wrapper around zerolog. Fields attached
// with the With* helpers ride along on the context and appear on every entry
// logged with it.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	// WarnStack adds a stack trace to warnings as well as errors.
	WarnStack bool
	Output    io.Writer
	// FilePath tees every entry into a size-rotated file when set.
	FilePath string
	// Format is "json" (default) or "console" for local development.
	Format string
}

type Logger struct {
	base      zerolog.Logger
	warnStack bool
	file      *lumberjack.Logger
}

type ctxKey struct{}

func New(opts Options) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	l := &Logger{warnStack: opts.WarnStack}
	if path := strings.TrimSpace(opts.FilePath); path != "" {
		l.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, l.file)
	}

	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	l.base = zerolog.New(out).Level(level).With().Timestamp().Str("service", opts.ServiceName).Logger()
	return l
}

// Close flushes and closes the rotating file output, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a config string to a zerolog level, falling back to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if bound, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return bound
		}
	}
	return &l.base
}

func (l *Logger) bind(ctx context.Context, update func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	child := update(l.from(ctx).With()).Logger()
	return context.WithValue(ctx, ctxKey{}, &child)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.bind(ctx, func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.bind(ctx, func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.bind(ctx, func(c zerolog.Context) zerolog.Context { return c.Str("request_id", requestID) })
}

// WithJob binds the queue name and job id a worker is processing.
func (l *Logger) WithJob(ctx context.Context, queue, jobID string, attempt int) context.Context {
	return l.bind(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("queue", queue).Str("job_id", jobID).Int("attempt", attempt)
	})
}

func (l *Logger) WithProfileID(ctx context.Context, profileID string) context.Context {
	return l.bind(ctx, func(c zerolog.Context) zerolog.Context { return c.Str("profile_id", profileID) })
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.from(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.from(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	event := l.from(ctx).Warn()
	if l.warnStack {
		event = event.Str("stack", stackTrace())
	}
	event.Msg(msg)
}

// Error logs msg at error level with a stack trace. err may be nil.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.from(ctx).Error().Err(err).Str("stack", stackTrace()).Msg(msg)
}

func stackTrace() string {
	return strings.TrimSpace(string(debug.Stack()))
}
