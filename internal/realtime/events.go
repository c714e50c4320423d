package realtime

import (
	"encoding/json"
	"time"
)

// 訊息格式（雙向相同）：
//
//	{"event": "move", "data": {"uid": "alice", "roomId": "AbC12", "cellIndex": 4}}

// 客戶端 → 伺服器
const (
	EventCreateRoom     = "create-room"
	EventJoinRoom       = "join-room"
	EventMove           = "move"
	EventRequestRematch = "request-rematch"
	EventAcceptRematch  = "accept-rematch"
	EventPing           = "ping"
	EventEmoji          = "emoji"
	EventQRScanned      = "qr-scanned" // 轉發給對手，事件名稱雙向相同
)

// 伺服器 → 客戶端
const (
	EventRoomCreated          = "room-created"
	EventRoomNotFound         = "room-not-found"
	EventJoinedWaitingRoom    = "joined-waiting-room"
	EventMatchStarted         = "match-started"
	EventMoveResult           = "move-result"
	EventMatchConcluded       = "match-concluded"
	EventOpponentDisconnected = "opponent-disconnected"
	EventTurnTimeout          = "turn-timeout"
	EventRematchRequested     = "rematch-requested"
	EventRematchStarted       = "rematch-started"
	EventRoomClosed           = "room-closed"
	EventGameError            = "game-error"
	EventPong                 = "pong"
)

// Inbound 客戶端訊息
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound 伺服器訊息
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// 客戶端訊息內容

type CreateRoomRequest struct {
	UID string `json:"uid"`
}

type JoinRoomRequest struct {
	UID    string `json:"uid"`
	RoomID string `json:"roomId"`
}

type MoveRequest struct {
	UID       string `json:"uid"`
	RoomID    string `json:"roomId"`
	CellIndex *int   `json:"cellIndex"` // 指標：區分缺少欄位與 0
}

type RematchRequest struct {
	UID    string `json:"uid"`
	RoomID string `json:"roomId"`
}

type AcceptRematchRequest struct {
	RoomID string `json:"roomId"`
}

type EmojiRequest struct {
	UID    string `json:"uid"`
	RoomID string `json:"roomId"`
	Emoji  string `json:"emoji"`
}

type QRScannedRequest struct {
	RoomID string `json:"roomId"`
}

// 伺服器訊息內容

type RoomCreated struct {
	RoomID string `json:"roomId"`
}

type RoomNotFound struct {
	Reason string `json:"reason"`
}

type JoinedWaitingRoom struct {
	RoomID string `json:"roomId"`
}

type MatchStarted struct {
	RoomID    string   `json:"roomId"`
	Players   []string `json:"players"`
	FirstTurn string   `json:"firstTurn"`
}

type MoveResult struct {
	RoomID    string `json:"roomId"`
	CellIndex int    `json:"cellIndex"`
	UID       string `json:"uid"`
	NextTurn  string `json:"nextTurn,omitempty"`
}

type MatchConcluded struct {
	RoomID        string `json:"roomId"`
	Result        string `json:"result"`
	Winner        string `json:"winner,omitempty"`
	WinningTriple []int  `json:"winningTriple,omitempty"`
}

type OpponentDisconnected struct {
	UID string `json:"uid"`
}

type TurnTimeout struct {
	Forfeiter string `json:"forfeiter"`
	Winner    string `json:"winner"`
}

type RematchRequested struct {
	By string `json:"by"`
}

type RematchStarted struct {
	RoomID    string `json:"roomId"`
	FirstTurn string `json:"firstTurn"`
}

type RoomClosed struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type GameError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

type Emoji struct {
	UID       string `json:"uid"`
	Emoji     string `json:"emoji"`
	Timestamp int64  `json:"timestamp"`
}

type QRScanned struct {
	Timestamp int64 `json:"timestamp"`
}

// encode 序列化伺服器訊息
func encode(event string, data any) ([]byte, error) {
	return json.Marshal(Outbound{Event: event, Data: data})
}

func newPong(now time.Time) Pong {
	return Pong{Timestamp: now.UnixMilli()}
}
