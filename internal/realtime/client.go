package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ConnectionRecord 連線記錄：傳輸層連線 ↔ 玩家身分
//
// 只用於活性追蹤與斷線對應，不參與對局的不變量。
type ConnectionRecord struct {
	ConnID       string    `json:"conn_id"`
	PlayerID     string    `json:"player_id,omitempty"`
	RoomID       string    `json:"room_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	EventCount   int64     `json:"event_count"`
}

// Client 一條 WebSocket 連線
//
// 鎖順序：Hub.mu → Client.mu，不可反向。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	record ConnectionRecord
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, connID string, now time.Time) *Client {
	s := hub.settings
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, s.SendBuffer),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.EventsPerMinute)), s.Burst),
		record: ConnectionRecord{
			ConnID:       connID,
			ConnectedAt:  now,
			LastActivity: now,
		},
	}
}

// Record 連線記錄（副本）
func (c *Client) Record() ConnectionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

func (c *Client) id() string {
	return c.record.ConnID // 建立後不變
}

func (c *Client) identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.PlayerID
}

func (c *Client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.RoomID
}

// touch 更新活動時間與事件計數
func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.record.LastActivity = now
	c.record.EventCount++
	c.mu.Unlock()
}

// enqueue 非阻塞寫入發送佇列；佇列滿或已關閉時回傳 false
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// emit 發送事件給這條連線
func (c *Client) emit(event string, data any) {
	message, err := encode(event, data)
	if err != nil {
		c.hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}
	if !c.enqueue(message) {
		c.hub.logger.Warn("連接緩衝區滿",
			"conn_id", c.id(),
			"event", event)
	}
}

// closeSend 關閉發送佇列，writePump 收到後送出 close frame（只執行一次）
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump 讀取客戶端訊息
//
// 心跳（讀取端）：PongWait 內沒有收到任何訊息（包括 Pong）就關閉連線。
// 連線結束時由 Hub 註銷並觸發斷線處理。
func (c *Client) readPump() {
	s := c.hub.settings
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(s.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(s.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.PongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤",
					"error", err,
					"conn_id", c.id(),
					"player_id", c.identity())
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.hub.dispatcher.Dispatch(c, message)
		}
	}
}

// writePump 寫入訊息到客戶端
//
// 心跳（發送端）：每 PingPeriod 送一次 Ping，客戶端自動回覆 Pong，readPump 收到後延長期限。
// 佇列中累積的訊息一次送出。
func (c *Client) writePump() {
	s := c.hub.settings
	ticker := time.NewTicker(s.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(s.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了佇列，嘗試送出 close frame（連線可能已關閉，忽略錯誤）
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.hub.logger.Warn("發送訊息失敗", "conn_id", c.id(), "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(s.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
