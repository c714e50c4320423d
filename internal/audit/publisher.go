// Package audit 將房間的對外事件發布到 NATS，供離線分析與除錯使用。
//
// Subject 命名：<prefix>.<room_id>.<event>
// 範例：match.AbC12.match-concluded
//
// 同一個房間的事件由同一條連線依序發布，訂閱端看到的順序與廣播順序一致。
// 發布失敗只記錄日誌，不影響對局。
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher 事件發布者
type Publisher interface {
	Publish(roomID, event string, data any) error
	Close() error
}

// Record 發布到 NATS 的訊息內容
type Record struct {
	RoomID      string          `json:"room_id"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	PublishedAt time.Time       `json:"published_at"`
}

// NopPublisher 未設定 NATS 時使用
type NopPublisher struct{}

func (NopPublisher) Publish(string, string, any) error { return nil }
func (NopPublisher) Close() error                      { return nil }

// natsConn 發布所需的最小連線介面（*nats.Conn）
type natsConn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSPublisher 發布到 NATS core subject（不需要 JetStream）
type NATSPublisher struct {
	conn   natsConn
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// Connect 連接 NATS 並建立發布者
//
// 斷線時由 nats.go 自動重連；重連期間的訊息暫存在客戶端緩衝區。
func Connect(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("match-coordinator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	logger.Info("NATS 審計發布已啟用", "url", conn.ConnectedUrl(), "prefix", prefix)
	return newNATSPublisher(conn, prefix, logger), nil
}

func newNATSPublisher(conn natsConn, prefix string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

// Subject 事件對應的 subject
func (p *NATSPublisher) Subject(roomID, event string) string {
	return p.prefix + "." + roomID + "." + event
}

// Publish 發布事件
func (p *NATSPublisher) Publish(roomID, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	body, err := json.Marshal(Record{
		RoomID:      roomID,
		Event:       event,
		Data:        payload,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	subject := p.Subject(roomID, event)
	if err := p.conn.Publish(subject, body); err != nil {
		p.logger.Warn("發布審計事件失敗", "subject", subject, "error", err)
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
