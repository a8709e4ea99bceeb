package log // import "go.opentelemetry.io/clrverify/internal/log"

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// globalLogger is shared by every package of the module. It starts as a text
// logger on stderr at Info level.
var globalLogger = func() *atomic.Pointer[slog.Logger] {
	p := new(atomic.Pointer[slog.Logger])
	p.Store(newStderrLogger(slog.LevelInfo))
	return p
}()

func newStderrLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// SetLogger replaces the global logger.
func SetLogger(l slog.Logger) {
	globalLogger.Store(&l)
}

// SetLevelLogger installs a stderr text logger that drops records below level.
func SetLevelLogger(level slog.Level) {
	globalLogger.Store(newStderrLogger(level))
}

// logf formats the message only when level is enabled, which keeps debug
// calls in the verification passes cheap.
func logf(level slog.Level, msg string, args []any) {
	l := globalLogger.Load()
	ctx := context.Background()
	if l.Enabled(ctx, level) {
		l.Log(ctx, level, fmt.Sprintf(msg, args...))
	}
}

// Debugf logs stage progress and other details of a verification run.
func Debugf(msg string, args ...any) {
	logf(slog.LevelDebug, msg, args)
}

// Debug logs msg unformatted at debug level.
func Debug(msg string) {
	logf(slog.LevelDebug, "%s", []any{msg})
}

func Infof(msg string, args ...any) {
	logf(slog.LevelInfo, msg, args)
}

func Warnf(msg string, args ...any) {
	logf(slog.LevelWarn, msg, args)
}

func Errorf(msg string, args ...any) {
	logf(slog.LevelError, msg, args)
}
