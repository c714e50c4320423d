package realtime

import (
	"fmt"
	"time"
)

// Settings 連線層設定
type Settings struct {
	EventsPerMinute int           `yaml:"events_per_minute"` // 每條連線每分鐘可處理的事件數
	Burst           int           `yaml:"burst"`
	SendBuffer      int           `yaml:"send_buffer"`
	PingPeriod      time.Duration `yaml:"ping_period"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteWait       time.Duration `yaml:"write_wait"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`   // 超過這段時間沒有送出任何事件的連線會被關閉
	SweepInterval   time.Duration `yaml:"sweep_interval"` // 閒置連線檢查間隔
}

// DefaultSettings 預設設定
//
// 54s Ping / 60s Pong 超時：留 6 秒給網路延遲。
func DefaultSettings() Settings {
	return Settings{
		EventsPerMinute: 60,
		Burst:           10,
		SendBuffer:      256,
		PingPeriod:      54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageSize:  4096,
		IdleTimeout:     5 * time.Minute,
		SweepInterval:   1 * time.Minute,
	}
}

// Validate 檢查設定
func (s Settings) Validate() error {
	if s.EventsPerMinute <= 0 {
		return fmt.Errorf("realtime.events_per_minute must be positive, got %d", s.EventsPerMinute)
	}
	if s.Burst <= 0 {
		return fmt.Errorf("realtime.burst must be positive, got %d", s.Burst)
	}
	if s.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive, got %d", s.SendBuffer)
	}
	if s.PingPeriod <= 0 || s.PongWait <= s.PingPeriod {
		return fmt.Errorf("realtime.pong_wait (%s) must exceed ping_period (%s)", s.PongWait, s.PingPeriod)
	}
	if s.WriteWait <= 0 {
		return fmt.Errorf("realtime.write_wait must be positive, got %s", s.WriteWait)
	}
	if s.MaxMessageSize < 512 {
		return fmt.Errorf("realtime.max_message_size must be at least 512, got %d", s.MaxMessageSize)
	}
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("realtime.idle_timeout must be positive, got %s", s.IdleTimeout)
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("realtime.sweep_interval must be positive, got %s", s.SweepInterval)
	}
	return nil
}
