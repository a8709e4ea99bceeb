package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	prev := globalLogger.Load()
	t.Cleanup(func() { globalLogger.Store(prev) })

	for _, tt := range []struct {
		name  string
		level slog.Level

		want    []string
		notWant []string
	}{
		{
			name:    "info",
			level:   slog.LevelInfo,
			want:    []string{"info 2", "warn 3", "error 4"},
			notWant: []string{"debug 1", "plain"},
		},
		{
			name:  "debug",
			level: slog.LevelDebug,
			want:  []string{"debug 1", "plain", "info 2", "warn 3", "error 4"},
		},
		{
			name:    "error",
			level:   slog.LevelError,
			want:    []string{"error 4"},
			notWant: []string{"info 2", "warn 3"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetLogger(*slog.New(slog.NewTextHandler(&buf,
				&slog.HandlerOptions{Level: tt.level})))

			Debugf("debug %d", 1)
			Debug("plain")
			Infof("info %d", 2)
			Warnf("warn %d", 3)
			Errorf("error %d", 4)

			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.notWant {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestSetLevelLogger(t *testing.T) {
	prev := globalLogger.Load()
	t.Cleanup(func() { globalLogger.Store(prev) })

	SetLevelLogger(slog.LevelDebug)
	assert.True(t, globalLogger.Load().Enabled(t.Context(), slog.LevelDebug))
	SetLevelLogger(slog.LevelWarn)
	assert.False(t, globalLogger.Load().Enabled(t.Context(), slog.LevelInfo))
}
