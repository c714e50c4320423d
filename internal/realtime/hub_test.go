package realtime_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/koopa0/system-design/14-match-coordinator/internal/game"
	"github.com/koopa0/system-design/14-match-coordinator/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type firstPlayer struct{}

func (firstPlayer) IntN(int) int { return 0 }

type testServer struct {
	url      string
	registry *game.Registry
	hub      *realtime.Hub
	clock    *clockwork.FakeClock
}

// newTestServer 啟動完整的 HTTP + WebSocket 伺服器；先手固定為房間的第一位玩家
func newTestServer(t *testing.T, settings realtime.Settings) *testServer {
	t.Helper()

	clock := clockwork.NewFakeClock()
	registry := game.NewRegistry(game.DefaultSettings(), testLogger(),
		game.WithClock(clock),
		game.WithRandom(firstPlayer{}))
	hub := realtime.NewHub(registry, nil, settings, testLogger())
	handler := realtime.NewHandler(registry, hub, testLogger())

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("GET /ws", hub.ServeWS)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(registry.Stop)
	t.Cleanup(hub.Stop)

	return &testServer{
		url:      srv.URL,
		registry: registry,
		hub:      hub,
		clock:    clock,
	}
}

type wsClient struct {
	t        *testing.T
	conn     *websocket.Conn
	messages chan received
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// dial 建立連線；背景 goroutine 持續讀取訊息直到連線關閉
func (s *testServer) dial(t *testing.T) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.url, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &wsClient{t: t, conn: conn, messages: make(chan received, 64)}
	go func() {
		defer close(c.messages)
		for {
			var msg received
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			c.messages <- msg
		}
	}()
	return c
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// expect 讀取下一則訊息並檢查事件名稱
func (c *wsClient) expect(event string) map[string]any {
	c.t.Helper()

	var msg received
	select {
	case m, ok := <-c.messages:
		require.True(c.t, ok, "connection closed while waiting for %s", event)
		msg = m
	case <-time.After(2 * time.Second):
		require.FailNow(c.t, "timed out waiting for "+event)
	}
	require.Equal(c.t, event, msg.Event, "payload: %s", msg.Data)

	var data map[string]any
	require.NoError(c.t, json.Unmarshal(msg.Data, &data))
	return data
}

// expectNothing 短時間內沒有收到任何訊息
func (c *wsClient) expectNothing() {
	c.t.Helper()

	select {
	case msg, ok := <-c.messages:
		if ok {
			c.t.Fatalf("unexpected message %s: %s", msg.Event, msg.Data)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// startMatch alice 建房、bob 加入；alice 先手
func startMatch(t *testing.T, s *testServer) (alice, bob *wsClient, roomID string) {
	t.Helper()

	alice = s.dial(t)
	bob = s.dial(t)

	alice.send(realtime.EventCreateRoom, map[string]any{"uid": "alice"})
	roomID = alice.expect(realtime.EventRoomCreated)["roomId"].(string)
	require.Len(t, roomID, game.DefaultRoomIDLength)

	bob.send(realtime.EventJoinRoom, map[string]any{"uid": "bob", "roomId": roomID})
	for _, c := range []*wsClient{alice, bob} {
		started := c.expect(realtime.EventMatchStarted)
		assert.Equal(t, "alice", started["firstTurn"])
		assert.ElementsMatch(t, []any{"alice", "bob"}, started["players"])
	}
	return alice, bob, roomID
}

func move(c *wsClient, uid, roomID string, cell int) {
	c.send(realtime.EventMove, map[string]any{"uid": uid, "roomId": roomID, "cellIndex": cell})
}

// TestHub_FullMatch 完整的一局：建房、加入、落子、勝利
func TestHub_FullMatch(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	alice, bob, roomID := startMatch(t, s)

	moves := []struct {
		client *wsClient
		uid    string
		cell   int
		next   string
	}{
		{alice, "alice", 0, "bob"},
		{bob, "bob", 3, "alice"},
		{alice, "alice", 1, "bob"},
		{bob, "bob", 4, "alice"},
	}
	for _, mv := range moves {
		move(mv.client, mv.uid, roomID, mv.cell)
		for _, c := range []*wsClient{alice, bob} {
			res := c.expect(realtime.EventMoveResult)
			assert.Equal(t, mv.uid, res["uid"])
			assert.EqualValues(t, mv.cell, res["cellIndex"])
			assert.Equal(t, mv.next, res["nextTurn"])
		}
	}

	move(alice, "alice", roomID, 2)
	for _, c := range []*wsClient{alice, bob} {
		res := c.expect(realtime.EventMoveResult)
		assert.NotContains(t, res, "nextTurn")

		done := c.expect(realtime.EventMatchConcluded)
		assert.Equal(t, "win", done["result"])
		assert.Equal(t, "alice", done["winner"])
		assert.Equal(t, []any{0.0, 1.0, 2.0}, done["winningTriple"])
	}
}

// TestHub_Errors 錯誤只回報給發起者
func TestHub_Errors(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	alice, bob, roomID := startMatch(t, s)

	t.Run("not your turn", func(t *testing.T) {
		move(bob, "bob", roomID, 4)
		errEvent := bob.expect(realtime.EventGameError)
		assert.Equal(t, game.CodeNotYourTurn, errEvent["code"])
		alice.expectNothing()
	})

	t.Run("invalid input", func(t *testing.T) {
		move(alice, "alice", roomID, 9)
		errEvent := alice.expect(realtime.EventGameError)
		assert.Equal(t, game.CodeInvalidInput, errEvent["code"])
		assert.Contains(t, errEvent["error"], "cell index")
	})

	t.Run("room not found", func(t *testing.T) {
		carol := s.dial(t)
		carol.send(realtime.EventJoinRoom, map[string]any{"uid": "carol", "roomId": "ZZZZZ"})
		notFound := carol.expect(realtime.EventRoomNotFound)
		assert.NotEmpty(t, notFound["reason"])
	})

	t.Run("room full", func(t *testing.T) {
		dave := s.dial(t)
		dave.send(realtime.EventJoinRoom, map[string]any{"uid": "dave", "roomId": roomID})
		errEvent := dave.expect(realtime.EventGameError)
		assert.Equal(t, game.CodeRoomFull, errEvent["code"])
	})

	t.Run("identity mismatch", func(t *testing.T) {
		move(alice, "bob", roomID, 4)
		errEvent := alice.expect(realtime.EventGameError)
		assert.Equal(t, game.CodeInvalidInput, errEvent["code"])
	})

	t.Run("identity in use", func(t *testing.T) {
		impostor := s.dial(t)
		impostor.send(realtime.EventCreateRoom, map[string]any{"uid": "alice"})
		errEvent := impostor.expect(realtime.EventGameError)
		assert.Equal(t, realtime.CodeIdentityInUse, errEvent["code"])
	})

	t.Run("unknown event and malformed message", func(t *testing.T) {
		alice.send("teleport", map[string]any{})
		assert.Equal(t, realtime.CodeUnknownEvent, alice.expect(realtime.EventGameError)["code"])

		require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		assert.Equal(t, game.CodeInvalidInput, alice.expect(realtime.EventGameError)["code"])
	})
}

// TestHub_Ping 應用層心跳
func TestHub_Ping(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	c := s.dial(t)

	c.send(realtime.EventPing, map[string]any{})
	pong := c.expect(realtime.EventPong)
	assert.NotZero(t, pong["timestamp"])
}

// TestHub_JoinConflicts 重複加入與同時參與兩個房間
func TestHub_JoinConflicts(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())

	erin := s.dial(t)
	erin.send(realtime.EventCreateRoom, map[string]any{"uid": "erin"})
	roomID := erin.expect(realtime.EventRoomCreated)["roomId"].(string)

	erin.send(realtime.EventJoinRoom, map[string]any{"uid": "erin", "roomId": roomID})
	assert.Equal(t, game.CodeAlreadyJoined, erin.expect(realtime.EventGameError)["code"])

	// 等待中的玩家不能再建立房間
	erin.send(realtime.EventCreateRoom, map[string]any{"uid": "erin"})
	assert.Equal(t, game.CodePlayerBusy, erin.expect(realtime.EventGameError)["code"])

	snap, err := s.registry.Snapshot(roomID)
	require.NoError(t, err)
	assert.Equal(t, game.StateWaiting, snap.State)
}

// TestHub_Rematch 再來一局
func TestHub_Rematch(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	alice, bob, roomID := startMatch(t, s)

	for i, cell := range []int{0, 3, 1, 4, 2} {
		c, uid := alice, "alice"
		if i%2 == 1 {
			c, uid = bob, "bob"
		}
		move(c, uid, roomID, cell)
		alice.expect(realtime.EventMoveResult)
		bob.expect(realtime.EventMoveResult)
	}
	alice.expect(realtime.EventMatchConcluded)
	bob.expect(realtime.EventMatchConcluded)

	alice.send(realtime.EventRequestRematch, map[string]any{"uid": "alice", "roomId": roomID})
	assert.Equal(t, "alice", bob.expect(realtime.EventRematchRequested)["by"])
	alice.expectNothing()

	alice.send(realtime.EventRequestRematch, map[string]any{"uid": "alice", "roomId": roomID})
	assert.Equal(t, game.CodeDuplicateRequest, alice.expect(realtime.EventGameError)["code"])

	bob.send(realtime.EventAcceptRematch, map[string]any{"roomId": roomID})
	for _, c := range []*wsClient{alice, bob} {
		started := c.expect(realtime.EventRematchStarted)
		assert.Equal(t, "bob", started["firstTurn"])
	}

	bob.send(realtime.EventAcceptRematch, map[string]any{"roomId": roomID})
	assert.Equal(t, game.CodeNoPendingRequest, bob.expect(realtime.EventGameError)["code"])

	move(bob, "bob", roomID, 4)
	assert.Equal(t, "alice", alice.expect(realtime.EventMoveResult)["nextTurn"])
}

// TestHub_AcceptRematchRequiresMembership 非房間成員不能接受
func TestHub_AcceptRematchRequiresMembership(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	_, _, roomID := startMatch(t, s)

	stranger := s.dial(t)
	stranger.send(realtime.EventAcceptRematch, map[string]any{"roomId": roomID})
	assert.Equal(t, game.CodeNotInRoom, stranger.expect(realtime.EventGameError)["code"])
}

// TestHub_Disconnect 斷線判負並通知對手
func TestHub_Disconnect(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	alice, bob, roomID := startMatch(t, s)

	require.NoError(t, alice.conn.Close())

	assert.Equal(t, "alice", bob.expect(realtime.EventOpponentDisconnected)["uid"])
	done := bob.expect(realtime.EventMatchConcluded)
	assert.Equal(t, "forfeit", done["result"])
	assert.Equal(t, "bob", done["winner"])

	snap, err := s.registry.Snapshot(roomID)
	require.NoError(t, err)
	assert.Equal(t, game.StateAbandoned, snap.State)

	// 寬限期結束後房間刪除，通知仍在線的玩家
	s.clock.Advance(game.DefaultSettings().DisconnectGrace)
	closed := bob.expect(realtime.EventRoomClosed)
	assert.Equal(t, roomID, closed["roomId"])
	assert.Equal(t, "disconnect", closed["reason"])

	require.Eventually(t, func() bool {
		return s.hub.Stats().Rooms == 0
	}, time.Second, 10*time.Millisecond)
}

// TestHub_TurnTimeout 回合超時通知雙方
func TestHub_TurnTimeout(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	alice, bob, _ := startMatch(t, s)

	s.clock.Advance(game.DefaultSettings().TurnTimeout)

	for _, c := range []*wsClient{alice, bob} {
		timeout := c.expect(realtime.EventTurnTimeout)
		assert.Equal(t, "alice", timeout["forfeiter"])
		assert.Equal(t, "bob", timeout["winner"])

		done := c.expect(realtime.EventMatchConcluded)
		assert.Equal(t, "forfeit", done["result"])
		assert.Equal(t, "bob", done["winner"])
	}
}

// TestHub_Emoji 表情廣播給整個房間（包含發送者）
func TestHub_Emoji(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	alice, bob, roomID := startMatch(t, s)

	alice.send(realtime.EventEmoji, map[string]any{"uid": "alice", "roomId": roomID, "emoji": "/emoji/smile.gif"})
	for _, c := range []*wsClient{alice, bob} {
		relayed := c.expect(realtime.EventEmoji)
		assert.Equal(t, "alice", relayed["uid"])
		assert.Equal(t, "/emoji/smile.gif", relayed["emoji"])
		assert.NotZero(t, relayed["timestamp"])
	}

	alice.send(realtime.EventEmoji, map[string]any{"uid": "alice", "roomId": roomID, "emoji": strings.Repeat("x", 501)})
	assert.Equal(t, game.CodeInvalidInput, alice.expect(realtime.EventGameError)["code"])
	bob.expectNothing()
}

// TestHub_QRScanned QR code 掃描通知只送給房間內的其他連線
func TestHub_QRScanned(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	alice, bob, roomID := startMatch(t, s)

	bob.send(realtime.EventQRScanned, map[string]any{"roomId": roomID})
	scanned := alice.expect(realtime.EventQRScanned)
	assert.NotZero(t, scanned["timestamp"])
	bob.expectNothing()

	t.Run("not a member", func(t *testing.T) {
		stranger := s.dial(t)
		stranger.send(realtime.EventQRScanned, map[string]any{"roomId": roomID})
		assert.Equal(t, game.CodeNotInRoom, stranger.expect(realtime.EventGameError)["code"])
		alice.expectNothing()
	})

	t.Run("invalid room id", func(t *testing.T) {
		bob.send(realtime.EventQRScanned, map[string]any{"roomId": "bad"})
		assert.Equal(t, game.CodeInvalidInput, bob.expect(realtime.EventGameError)["code"])
	})
}

// expectClosed 伺服器關閉了這條連線
func (c *wsClient) expectClosed() {
	c.t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.messages:
			if !ok {
				return
			}
		case <-deadline:
			require.FailNow(c.t, "connection still open")
		}
	}
}

// TestHub_SweepIdle 只回應 Ping、沒有送出任何事件的連線會被關閉
func TestHub_SweepIdle(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	alice, bob, roomID := startMatch(t, s)
	idle := realtime.DefaultSettings().IdleTimeout

	// alice 剛剛送過事件，bob 也是：都還在活動期限內
	assert.Equal(t, 0, s.hub.SweepIdle(time.Now()))

	closed := s.hub.SweepIdle(time.Now().Add(idle + time.Second))
	assert.Equal(t, 2, closed)
	alice.expectClosed()
	bob.expectClosed()

	require.Eventually(t, func() bool {
		return s.hub.Stats().Connections == 0
	}, time.Second, 10*time.Millisecond)

	// 關閉走一般斷線流程：進行中的對局判負
	require.Eventually(t, func() bool {
		snap, err := s.registry.Snapshot(roomID)
		return err == nil && snap.State == game.StateAbandoned
	}, time.Second, 10*time.Millisecond)
}

// TestStartSweeper 定期檢查關閉閒置連線，保留活動中的連線
func TestStartSweeper(t *testing.T) {
	settings := realtime.DefaultSettings()
	settings.IdleTimeout = 150 * time.Millisecond
	settings.SweepInterval = 20 * time.Millisecond
	settings.Burst = 100
	s := newTestServer(t, settings)

	quiet := s.dial(t)
	active := s.dial(t)

	sched, err := realtime.StartSweeper(s.hub, testLogger(), nil)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, sched.Shutdown())
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = active.conn.WriteJSON(map[string]any{"event": realtime.EventPing, "data": map[string]any{}})
			}
		}
	}()

	quiet.expectClosed()
	require.Eventually(t, func() bool {
		return s.hub.Stats().Connections == 1
	}, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return s.hub.Stats().Connections == 0
	}, 200*time.Millisecond, 20*time.Millisecond)
}

// TestHub_RateLimit 超過速率限制
func TestHub_RateLimit(t *testing.T) {
	settings := realtime.DefaultSettings()
	settings.Burst = 2
	s := newTestServer(t, settings)
	c := s.dial(t)

	c.send(realtime.EventPing, map[string]any{})
	c.send(realtime.EventPing, map[string]any{})
	c.send(realtime.EventPing, map[string]any{})

	c.expect(realtime.EventPong)
	c.expect(realtime.EventPong)
	errEvent := c.expect(realtime.EventGameError)
	assert.Equal(t, realtime.CodeRateLimited, errEvent["code"])
}

// TestHub_Stats 連線統計與連線記錄
func TestHub_Stats(t *testing.T) {
	s := newTestServer(t, realtime.DefaultSettings())
	startMatch(t, s)
	anon := s.dial(t)
	anon.send(realtime.EventPing, map[string]any{})
	anon.expect(realtime.EventPong)

	stats := s.hub.Stats()
	assert.Equal(t, 3, stats.Connections)
	assert.Equal(t, 2, stats.Identified)
	assert.Equal(t, 1, stats.Rooms)

	var alice realtime.ConnectionRecord
	for _, rec := range s.hub.Connections() {
		assert.NotEmpty(t, rec.ConnID)
		if rec.PlayerID == "alice" {
			alice = rec
		}
	}
	assert.NotEmpty(t, alice.RoomID)
	assert.Equal(t, int64(1), alice.EventCount)
}
