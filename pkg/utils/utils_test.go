package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSafeGo(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core)

	done := make(chan struct{})
	SafeGo(logger, func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}

	require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 5*time.Millisecond)
	entry := logs.All()[0]
	assert.Equal(t, "Panic recovered in goroutine", entry.Message)
	assert.Equal(t, "boom", entry.ContextMap()["panic"])
}

func TestNewLogger(t *testing.T) {
	t.Run("FileOutput", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "votebridge.log")
		cfg := DefaultLogConfig()
		cfg.OutputPath = path

		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		logger.Info("hello", zap.String("sessionID", "S1"))
		_ = logger.Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"sessionID":"S1"`)
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := NewLogger(&LogConfig{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("Defaults", func(t *testing.T) {
		logger, err := NewLogger(nil)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})
}
