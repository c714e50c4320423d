package game

import (
	"fmt"
	"time"
)

// Settings 對局引擎設定
type Settings struct {
	TurnTimeout     time.Duration `yaml:"turn_timeout"`     // 單一回合上限
	GameTimeout     time.Duration `yaml:"game_timeout"`     // 整局上限
	DisconnectGrace time.Duration `yaml:"disconnect_grace"` // 斷線後保留房間的時間
	RematchWindow   time.Duration `yaml:"rematch_window"`   // 再來一局請求的有效期
	Retention       time.Duration `yaml:"retention"`        // 閒置房間保留時間
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // 定期清理間隔
	RoomIDLength    int           `yaml:"room_id_length"`
	RoomIDAttempts  int           `yaml:"room_id_attempts"` // 房間 ID 碰撞時的重試次數
	EventBuffer     int           `yaml:"event_buffer"`
}

// DefaultSettings 預設設定
func DefaultSettings() Settings {
	return Settings{
		TurnTimeout:     30 * time.Second,
		GameTimeout:     5 * time.Minute,
		DisconnectGrace: 1 * time.Minute,
		RematchWindow:   1 * time.Minute,
		Retention:       24 * time.Hour,
		CleanupInterval: 1 * time.Minute,
		RoomIDLength:    DefaultRoomIDLength,
		RoomIDAttempts:  5,
		EventBuffer:     256,
	}
}

// Validate 檢查設定
func (s Settings) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"turn_timeout", s.TurnTimeout},
		{"game_timeout", s.GameTimeout},
		{"disconnect_grace", s.DisconnectGrace},
		{"rematch_window", s.RematchWindow},
		{"retention", s.Retention},
		{"cleanup_interval", s.CleanupInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("game.%s must be positive, got %s", d.name, d.value)
		}
	}

	if s.RoomIDLength < 4 || s.RoomIDLength > 32 {
		return fmt.Errorf("game.room_id_length must be between 4 and 32, got %d", s.RoomIDLength)
	}
	if s.RoomIDAttempts < 1 {
		return fmt.Errorf("game.room_id_attempts must be at least 1, got %d", s.RoomIDAttempts)
	}
	if s.EventBuffer < 1 {
		return fmt.Errorf("game.event_buffer must be at least 1, got %d", s.EventBuffer)
	}

	return nil
}
