package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
//
// 配置策略：程式碼內建預設值，yaml 配置檔按欄位覆蓋。
// 時間類欄位通常保持預設即可，配置檔一般只需要改端口、
// 日誌與允許的跨域來源。
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Game struct {
		// TickRate 模擬頻率（Hz）。必須與客戶端的預期一致，
		// 預設 60
		TickRate int `yaml:"tick_rate"`

		// IdleRoomTimeout 非進行中且無操作的房間多久後被回收
		IdleRoomTimeout time.Duration `yaml:"idle_room_timeout"`

		// ReapInterval 閒置回收的掃描間隔
		ReapInterval time.Duration `yaml:"reap_interval"`
	} `yaml:"game"`

	WebSocket struct {
		// AllowedOrigin 允許建立連接的來源；"*" 表示全部放行
		AllowedOrigin string `yaml:"allowed_origin"`

		// PingInterval / PongTimeout 心跳配置（54s/60s，
		// 留 6 秒余量避開常見代理的 60 秒超時）
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`

		// SendBuffer 每個連接的出站緩衝（消息數）；緩衝滿時
		// 廣播跳過該接收者
		SendBuffer int `yaml:"send_buffer"`
	} `yaml:"websocket"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 內建預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second

	cfg.Game.TickRate = 60
	cfg.Game.IdleRoomTimeout = 10 * time.Minute
	cfg.Game.ReapInterval = time.Minute

	cfg.WebSocket.AllowedOrigin = "http://localhost:3000"
	cfg.WebSocket.PingInterval = 54 * time.Second
	cfg.WebSocket.PongTimeout = 60 * time.Second
	cfg.WebSocket.WriteTimeout = 10 * time.Second
	cfg.WebSocket.SendBuffer = 256

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// LoadConfig 載入配置檔案並覆蓋預設值
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置檔失敗: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate 基本的配置校驗
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("無效的端口: %d", c.Server.Port)
	}
	if c.Game.TickRate <= 0 || c.Game.TickRate > 240 {
		return fmt.Errorf("無效的 tick 頻率: %d", c.Game.TickRate)
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("無效的發送緩衝大小: %d", c.WebSocket.SendBuffer)
	}
	return nil
}

// TickInterval 換算模擬頻率為 tick 間隔
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Game.TickRate)
}
