package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-match-coordinator/internal/audit"
	"github.com/koopa0/system-design/14-match-coordinator/internal/game"
)

// 系統設計問題：
//   對局結果如何即時送到房間內的兩位玩家？
//
// 核心挑戰：
//   1. 連線 ≠ 玩家：連線先建立，第一個帶 uid 的事件才綁定身分
//   2. 非同步結果：回合超時、房間刪除由計時器觸發，不是由任何連線的請求觸發
//   3. 斷線：連線結束 = 玩家斷線，要交給對局引擎判負
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理連線、身分、房間成員
//   ✅ Dispatcher - 把客戶端事件轉成 Registry 呼叫，把結果轉成伺服器事件
//   ✅ 事件迴圈 - 消費 Registry.Events()，廣播計時器觸發的結果
//   ✅ 審計 - 每次房間廣播同步發布到 audit.Publisher

// Hub WebSocket 連線中心
type Hub struct {
	registry   *game.Registry
	publisher  audit.Publisher
	dispatcher *Dispatcher
	settings   Settings
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu         sync.RWMutex
	clients    map[string]*Client            // connID -> client
	identities map[string]*Client            // playerID -> client
	rooms      map[string]map[string]*Client // roomID -> connID -> client

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// HubStats 連線統計
type HubStats struct {
	Connections int `json:"connections"`
	Identified  int `json:"identified"`
	Rooms       int `json:"rooms"`
}

// NewHub 創建連線中心並開始消費對局事件
func NewHub(registry *game.Registry, publisher audit.Publisher, settings Settings, logger *slog.Logger) *Hub {
	if publisher == nil {
		publisher = audit.NopPublisher{}
	}

	hub := &Hub{
		registry:  registry,
		publisher: publisher,
		settings:  settings,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:    make(map[string]*Client),
		identities: make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		stopCh:     make(chan struct{}),
	}
	hub.dispatcher = newDispatcher(hub, registry, NewValidator(registry.Settings().RoomIDLength), logger)

	hub.wg.Add(1)
	go hub.eventLoop()

	return hub
}

// ServeWS 處理 WebSocket 連線
//
// 連線時不需要任何參數；身分由之後的 create-room / join-room 事件綁定。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	client := newClient(hub, conn, uuid.NewString(), time.Now())
	if !hub.register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"conn_id", client.id(),
		"remote_addr", r.RemoteAddr)
}

// register 註冊連線；Hub 已停止時回傳 false
func (hub *Hub) register(c *Client) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	select {
	case <-hub.stopCh:
		return false
	default:
	}

	hub.clients[c.id()] = c
	return true
}

// unregister 註銷連線並交給 Dispatcher 處理斷線
func (hub *Hub) unregister(c *Client) {
	hub.mu.Lock()
	_, registered := hub.clients[c.id()]
	delete(hub.clients, c.id())

	rec := c.Record()
	owner := false
	if rec.PlayerID != "" && hub.identities[rec.PlayerID] == c {
		delete(hub.identities, rec.PlayerID)
		owner = true
	}
	hub.removeFromRoomLocked(c, rec.RoomID)
	hub.mu.Unlock()

	c.closeSend()

	if !registered {
		return
	}

	hub.logger.Info("WebSocket 連接關閉",
		"conn_id", rec.ConnID,
		"player_id", rec.PlayerID,
		"duration", time.Since(rec.ConnectedAt),
		"event_count", rec.EventCount)

	if owner {
		hub.dispatcher.Disconnected(rec.PlayerID)
	}
}

// bind 綁定連線與玩家身分
//
// 一條連線只代表一位玩家；同一位玩家同時只能有一條連線。
func (hub *Hub) bind(c *Client, uid string) error {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.record.PlayerID != "" {
		if c.record.PlayerID != uid {
			return ErrIdentityMismatch
		}
		return nil
	}

	if other, ok := hub.identities[uid]; ok && other != c {
		return ErrIdentityInUse
	}

	hub.identities[uid] = c
	c.record.PlayerID = uid
	return nil
}

// join 將連線加入房間的廣播成員（離開先前的房間）
func (hub *Hub) join(c *Client, roomID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, ok := hub.clients[c.id()]; !ok {
		return // 已斷線
	}

	c.mu.Lock()
	previous := c.record.RoomID
	c.record.RoomID = roomID
	c.mu.Unlock()

	if previous != roomID {
		hub.removeFromRoomLocked(c, previous)
	}

	if hub.rooms[roomID] == nil {
		hub.rooms[roomID] = make(map[string]*Client)
	}
	hub.rooms[roomID][c.id()] = c
}

// closeRoom 房間已刪除，清除成員（連線保留）
func (hub *Hub) closeRoom(roomID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for _, c := range hub.rooms[roomID] {
		c.mu.Lock()
		if c.record.RoomID == roomID {
			c.record.RoomID = ""
		}
		c.mu.Unlock()
	}
	delete(hub.rooms, roomID)
}

func (hub *Hub) removeFromRoomLocked(c *Client, roomID string) {
	if roomID == "" {
		return
	}
	if members, ok := hub.rooms[roomID]; ok {
		delete(members, c.id())
		if len(members) == 0 {
			delete(hub.rooms, roomID)
		}
	}
}

// broadcast 廣播事件到房間（exclude 不為 nil 時略過該連線），並發布審計事件
func (hub *Hub) broadcast(roomID, event string, data any, exclude *Client) {
	message, err := encode(event, data)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "room_id", roomID, "error", err)
		return
	}

	hub.mu.RLock()
	for _, c := range hub.rooms[roomID] {
		if c == exclude {
			continue
		}
		if !c.enqueue(message) {
			hub.logger.Warn("連接緩衝區滿",
				"room_id", roomID,
				"conn_id", c.id(),
				"event", event)
		}
	}
	hub.mu.RUnlock()

	hub.audit(roomID, event, data)
}

// audit 發布審計事件，失敗只記錄
func (hub *Hub) audit(roomID, event string, data any) {
	if err := hub.publisher.Publish(roomID, event, data); err != nil {
		hub.logger.Warn("審計事件發布失敗", "room_id", roomID, "event", event, "error", err)
	}
}

// eventLoop 消費對局引擎的非同步事件（回合超時、整局超時、房間刪除）
func (hub *Hub) eventLoop() {
	defer hub.wg.Done()

	events := hub.registry.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			hub.dispatcher.RegistryEvent(ev)
		case <-hub.stopCh:
			return
		}
	}
}

// SweepIdle 關閉 IdleTimeout 內沒有送出任何事件的連線，回傳關閉的數量
//
// 只回應 Ping 的連線也算閒置。關閉後照常走斷線流程（readPump → unregister）。
func (hub *Hub) SweepIdle(now time.Time) int {
	hub.mu.RLock()
	var stale []*Client
	for _, c := range hub.clients {
		if now.Sub(c.Record().LastActivity) > hub.settings.IdleTimeout {
			stale = append(stale, c)
		}
	}
	hub.mu.RUnlock()

	for _, c := range stale {
		rec := c.Record()
		hub.logger.Warn("閒置連線已關閉",
			"conn_id", rec.ConnID,
			"player_id", rec.PlayerID,
			"last_activity", rec.LastActivity)
		c.closeSend()
	}
	return len(stale)
}

// Stats 連線統計
func (hub *Hub) Stats() HubStats {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	return HubStats{
		Connections: len(hub.clients),
		Identified:  len(hub.identities),
		Rooms:       len(hub.rooms),
	}
}

// Connections 所有連線記錄
func (hub *Hub) Connections() []ConnectionRecord {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	records := make([]ConnectionRecord, 0, len(hub.clients))
	for _, c := range hub.clients {
		records = append(records, c.Record())
	}
	return records
}

// Stop 停止 Hub 並關閉所有連線
//
// 關閉連線會讓 readPump 結束並觸發斷線處理，
// 因此應在 Registry.Stop 之前呼叫。
func (hub *Hub) Stop() {
	hub.stopOnce.Do(func() {
		close(hub.stopCh)
		hub.wg.Wait()

		hub.mu.RLock()
		clients := make([]*Client, 0, len(hub.clients))
		for _, c := range hub.clients {
			clients = append(clients, c)
		}
		hub.mu.RUnlock()

		for _, c := range clients {
			c.closeSend()
			c.conn.Close()
		}

		hub.logger.Info("WebSocket Hub 已停止", "connections_closed", len(clients))
	})
}
