package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig 測試內建預設值
func TestDefaultConfig(t *testing.T) {
	cfg := internal.DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Game.TickRate)
	assert.Equal(t, 10*time.Minute, cfg.Game.IdleRoomTimeout)
	assert.Equal(t, time.Minute, cfg.Game.ReapInterval)
	assert.Equal(t, "http://localhost:3000", cfg.WebSocket.AllowedOrigin)
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongTimeout)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

// TestConfig_TickInterval 測試頻率換算
func TestConfig_TickInterval(t *testing.T) {
	cfg := internal.DefaultConfig()
	assert.Equal(t, time.Second/60, cfg.TickInterval())

	cfg.Game.TickRate = 30
	assert.Equal(t, time.Second/30, cfg.TickInterval())
}

// TestLoadConfig 測試配置檔載入
func TestLoadConfig(t *testing.T) {
	writeConfig := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("file values override defaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9090
game:
  tick_rate: 30
websocket:
  allowed_origin: "https://game.example"
log:
  level: debug
`)

		cfg, err := internal.LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 30, cfg.Game.TickRate)
		assert.Equal(t, "https://game.example", cfg.WebSocket.AllowedOrigin)
		assert.Equal(t, "debug", cfg.Log.Level)

		// 未覆蓋的欄位保持預設
		assert.Equal(t, 10*time.Minute, cfg.Game.IdleRoomTimeout)
		assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	})

	t.Run("missing file returns not-exist error", func(t *testing.T) {
		_, err := internal.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid yaml rejected", func(t *testing.T) {
		path := writeConfig(t, "server: [not a mapping")
		_, err := internal.LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("invalid port rejected", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: -1\n")
		_, err := internal.LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "無效的端口")
	})

	t.Run("invalid tick rate rejected", func(t *testing.T) {
		path := writeConfig(t, "game:\n  tick_rate: 0\n")
		_, err := internal.LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "無效的 tick 頻率")
	})
}
