// Package logger provides the process-wide structured logger used by all
// gridstore components. It wraps log/slog with runtime-adjustable level and
// format so the scheduler daemon can reconfigure logging from its config file.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level represents log levels.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	currentLevel atomic.Int32

	mu      sync.RWMutex
	slogger *slog.Logger
	output  io.Writer = os.Stderr
	format            = "text"
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	reconfigure()
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel converts a level word to a Level. Unknown words map to Info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// reconfigure rebuilds the underlying slog handler. Callers must hold mu.
func reconfigure() {
	opts := &slog.HandlerOptions{Level: toSlogLevel(Level(currentLevel.Load()))}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	slogger = slog.New(handler)
}

// Init configures the process-wide logger from a Config.
//
// Output may be "stdout", "stderr", or a file path. Files are opened in
// append mode and never closed by this package; the process owns them for
// its lifetime.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		output = f
	}

	if f := strings.ToLower(cfg.Format); f == "json" {
		format = "json"
	} else {
		format = "text"
	}

	currentLevel.Store(int32(ParseLevel(cfg.Level)))
	reconfigure()
	return nil
}

// InitWithWriter points the logger at an arbitrary writer. Used by tests.
func InitWithWriter(w io.Writer, level, formatName string) {
	mu.Lock()
	defer mu.Unlock()

	output = w
	if strings.ToLower(formatName) == "json" {
		format = "json"
	} else {
		format = "text"
	}
	currentLevel.Store(int32(ParseLevel(level)))
	reconfigure()
}

// SetLevel changes the minimum level at runtime.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel.Store(int32(ParseLevel(level)))
	reconfigure()
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with key-value pairs.
func Debug(msg string, args ...any) {
	getLogger().Debug(msg, args...)
}

// Info logs at info level with key-value pairs.
func Info(msg string, args ...any) {
	getLogger().Info(msg, args...)
}

// Warn logs at warn level with key-value pairs.
func Warn(msg string, args ...any) {
	getLogger().Warn(msg, args...)
}

// Error logs at error level with key-value pairs.
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// DebugCtx logs at debug level, honoring handler context support.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	getLogger().DebugContext(ctx, msg, args...)
}

// InfoCtx logs at info level, honoring handler context support.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	getLogger().InfoContext(ctx, msg, args...)
}

// WarnCtx logs at warn level, honoring handler context support.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	getLogger().WarnContext(ctx, msg, args...)
}

// ErrorCtx logs at error level, honoring handler context support.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	getLogger().ErrorContext(ctx, msg, args...)
}

// With returns a child logger carrying the given key-value pairs.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}
