package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	l := NewLogger(models.LogConfig{Level: "warn", Output: "file", File: path, MaxSize: 1})

	l.Info("dropped")
	l.Warn("kept", zap.String("market", "KRW-BTC"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"msg":"kept"`)
	assert.Contains(t, string(data), `"market":"KRW-BTC"`)
}

func TestNewLogger_InvalidLevelDefaultsToInfo(t *testing.T) {
	l := NewLogger(models.LogConfig{Level: "loud", Output: "console"})
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}

func TestInitLogger(t *testing.T) {
	l := InitLogger(models.LogConfig{Level: "debug"})
	assert.Same(t, l, L())
	assert.NotNil(t, S())
}
