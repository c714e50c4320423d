package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/koopa0/system-design/14-match-coordinator/internal/game"
)

// 連線層錯誤碼
const (
	CodeRateLimited   = "RATE_LIMITED"
	CodeIdentityInUse = "IDENTITY_IN_USE"
	CodeUnknownEvent  = "UNKNOWN_EVENT"
)

var (
	ErrRateLimited      = game.NewError(CodeRateLimited, "too many events, slow down")
	ErrIdentityInUse    = game.NewError(CodeIdentityInUse, "this user id is already connected")
	ErrIdentityMismatch = game.NewError(game.CodeInvalidInput, "uid does not match this connection")
	ErrUnknownEvent     = game.NewError(CodeUnknownEvent, "unknown event")
	ErrMalformed        = game.NewError(game.CodeInvalidInput, "malformed message")
)

// Dispatcher 客戶端事件 → Registry 呼叫；Registry 結果 → 伺服器事件
//
// 錯誤只回報給發起的連線；成功的結果廣播給房間。
type Dispatcher struct {
	hub      *Hub
	registry *game.Registry
	validate *Validator
	logger   *slog.Logger
	now      func() time.Time
}

func newDispatcher(hub *Hub, registry *game.Registry, validator *Validator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		hub:      hub,
		registry: registry,
		validate: validator,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch 處理一則客戶端訊息
func (d *Dispatcher) Dispatch(c *Client, raw []byte) {
	c.touch(d.now())

	if !c.limiter.Allow() {
		d.logger.Warn("連線事件過多", "conn_id", c.id(), "player_id", c.identity())
		d.fail(c, ErrRateLimited)
		return
	}

	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.logger.Debug("解析客戶端訊息失敗", "conn_id", c.id(), "error", err)
		d.fail(c, ErrMalformed)
		return
	}

	switch msg.Event {
	case EventCreateRoom:
		d.createRoom(c, msg.Data)
	case EventJoinRoom:
		d.joinRoom(c, msg.Data)
	case EventMove:
		d.move(c, msg.Data)
	case EventRequestRematch:
		d.requestRematch(c, msg.Data)
	case EventAcceptRematch:
		d.acceptRematch(c, msg.Data)
	case EventEmoji:
		d.emoji(c, msg.Data)
	case EventQRScanned:
		d.qrScanned(c, msg.Data)
	case EventPing:
		c.emit(EventPong, newPong(d.now()))
	default:
		d.logger.Debug("收到未知事件", "event", msg.Event, "conn_id", c.id())
		d.fail(c, ErrUnknownEvent)
	}
}

func (d *Dispatcher) createRoom(c *Client, data json.RawMessage) {
	var req CreateRoomRequest
	if !d.decode(c, data, &req) {
		return
	}

	var p problems
	uid, ok := d.validate.Identity(req.UID)
	p.check(ok, msgInvalidUserID)
	if err := p.err(); err != nil {
		d.fail(c, err)
		return
	}

	if err := d.hub.bind(c, uid); err != nil {
		d.fail(c, err)
		return
	}

	roomID, err := d.registry.CreateRoom(uid)
	if err != nil {
		d.fail(c, err)
		return
	}

	d.hub.join(c, roomID)
	payload := RoomCreated{RoomID: roomID}
	c.emit(EventRoomCreated, payload)
	d.hub.audit(roomID, EventRoomCreated, payload)
}

func (d *Dispatcher) joinRoom(c *Client, data json.RawMessage) {
	var req JoinRoomRequest
	if !d.decode(c, data, &req) {
		return
	}

	var p problems
	uid, ok := d.validate.Identity(req.UID)
	p.check(ok, msgInvalidUserID)
	roomID, ok := d.validate.RoomID(req.RoomID)
	p.check(ok, msgInvalidRoomID)
	if err := p.err(); err != nil {
		d.fail(c, err)
		return
	}

	if err := d.hub.bind(c, uid); err != nil {
		d.fail(c, err)
		return
	}

	snap, err := d.registry.JoinRoom(uid, roomID)
	if err != nil {
		d.fail(c, err)
		return
	}

	d.hub.join(c, roomID)

	if snap.State == game.StateWaiting {
		c.emit(EventJoinedWaitingRoom, JoinedWaitingRoom{RoomID: roomID})
		return
	}

	d.hub.broadcast(roomID, EventMatchStarted, MatchStarted{
		RoomID:    roomID,
		Players:   snap.Players,
		FirstTurn: snap.Turn,
	}, nil)
}

func (d *Dispatcher) move(c *Client, data json.RawMessage) {
	var req MoveRequest
	if !d.decode(c, data, &req) {
		return
	}

	var p problems
	uid, ok := d.validate.Identity(req.UID)
	p.check(ok, msgInvalidUserID)
	roomID, ok := d.validate.RoomID(req.RoomID)
	p.check(ok, msgInvalidRoomID)
	cell, ok := d.validate.Cell(req.CellIndex)
	p.check(ok, msgInvalidCellIndex)
	if err := p.err(); err != nil {
		d.fail(c, err)
		return
	}

	if err := d.hub.bind(c, uid); err != nil {
		d.fail(c, err)
		return
	}

	res, err := d.registry.Move(uid, roomID, cell)
	if err != nil {
		d.fail(c, err)
		return
	}

	d.hub.broadcast(roomID, EventMoveResult, MoveResult{
		RoomID:    roomID,
		CellIndex: res.Claim.Cell,
		UID:       res.Claim.Participant,
		NextTurn:  res.NextTurn,
	}, nil)

	if res.Outcome != nil {
		d.hub.broadcast(roomID, EventMatchConcluded, concluded(roomID, res.Outcome), nil)
	}
}

func (d *Dispatcher) requestRematch(c *Client, data json.RawMessage) {
	var req RematchRequest
	if !d.decode(c, data, &req) {
		return
	}

	var p problems
	uid, ok := d.validate.Identity(req.UID)
	p.check(ok, msgInvalidUserID)
	roomID, ok := d.validate.RoomID(req.RoomID)
	p.check(ok, msgInvalidRoomID)
	if err := p.err(); err != nil {
		d.fail(c, err)
		return
	}

	if err := d.hub.bind(c, uid); err != nil {
		d.fail(c, err)
		return
	}

	if _, err := d.registry.RequestRematch(uid, roomID); err != nil {
		d.fail(c, err)
		return
	}

	// 只通知對手
	d.hub.broadcast(roomID, EventRematchRequested, RematchRequested{By: uid}, c)
}

func (d *Dispatcher) acceptRematch(c *Client, data json.RawMessage) {
	var req AcceptRematchRequest
	if !d.decode(c, data, &req) {
		return
	}

	roomID, ok := d.validate.RoomID(req.RoomID)
	if !ok {
		d.fail(c, game.NewError(game.CodeInvalidInput, msgInvalidRoomID))
		return
	}

	// 只有房間成員可以接受
	if c.room() != roomID {
		d.fail(c, game.ErrNotInRoom)
		return
	}

	start, err := d.registry.AcceptRematch(roomID)
	if err != nil {
		d.fail(c, err)
		return
	}

	d.hub.broadcast(roomID, EventRematchStarted, RematchStarted{
		RoomID:    roomID,
		FirstTurn: start.FirstTurn,
	}, nil)
}

func (d *Dispatcher) emoji(c *Client, data json.RawMessage) {
	var req EmojiRequest
	if !d.decode(c, data, &req) {
		return
	}

	var p problems
	uid, ok := d.validate.Identity(req.UID)
	p.check(ok, msgInvalidUserID)
	roomID, ok := d.validate.RoomID(req.RoomID)
	p.check(ok, msgInvalidRoomID)
	emoji, ok := d.validate.Emoji(req.Emoji)
	p.check(ok, msgInvalidEmoji)
	if err := p.err(); err != nil {
		d.fail(c, err)
		return
	}

	if c.identity() != uid || c.room() != roomID {
		d.fail(c, game.ErrNotInRoom)
		return
	}

	// 包含發送者：客戶端以伺服器回傳的事件顯示自己的表情
	d.hub.broadcast(roomID, EventEmoji, Emoji{
		UID:       uid,
		Emoji:     emoji,
		Timestamp: d.now().UnixMilli(),
	}, nil)
}

// qrScanned 房間 QR code 已被掃描，通知房間內的其他連線
func (d *Dispatcher) qrScanned(c *Client, data json.RawMessage) {
	var req QRScannedRequest
	if !d.decode(c, data, &req) {
		return
	}

	roomID, ok := d.validate.RoomID(req.RoomID)
	if !ok {
		d.fail(c, game.NewError(game.CodeInvalidInput, msgInvalidRoomID))
		return
	}
	if c.room() != roomID {
		d.fail(c, game.ErrNotInRoom)
		return
	}

	d.logger.Info("QR code 已掃描", "room_id", roomID, "conn_id", c.id())
	d.hub.broadcast(roomID, EventQRScanned, QRScanned{Timestamp: d.now().UnixMilli()}, c)
}

// Disconnected 連線結束
func (d *Dispatcher) Disconnected(uid string) {
	res, ok := d.registry.OnDisconnect(uid)
	if !ok {
		return
	}

	d.hub.broadcast(res.RoomID, EventOpponentDisconnected, OpponentDisconnected{UID: uid}, nil)

	if res.Forfeited {
		d.hub.broadcast(res.RoomID, EventMatchConcluded, MatchConcluded{
			RoomID: res.RoomID,
			Result: string(game.ResultForfeit),
			Winner: res.Winner,
		}, nil)
	}
}

// RegistryEvent 計時器或清理觸發的事件
func (d *Dispatcher) RegistryEvent(ev game.Event) {
	switch ev.Type {
	case game.EventTurnTimeout:
		d.hub.broadcast(ev.RoomID, EventTurnTimeout, TurnTimeout{
			Forfeiter: ev.Forfeiter,
			Winner:    ev.Winner,
		}, nil)
		d.hub.broadcast(ev.RoomID, EventMatchConcluded, MatchConcluded{
			RoomID: ev.RoomID,
			Result: string(game.ResultForfeit),
			Winner: ev.Winner,
		}, nil)

	case game.EventGameTimeout:
		d.hub.broadcast(ev.RoomID, EventMatchConcluded, MatchConcluded{
			RoomID: ev.RoomID,
			Result: string(game.ResultTimeout),
		}, nil)

	case game.EventRoomClosed:
		d.hub.broadcast(ev.RoomID, EventRoomClosed, RoomClosed{
			RoomID: ev.RoomID,
			Reason: ev.Reason,
		}, nil)
		d.hub.closeRoom(ev.RoomID)

	default:
		d.logger.Warn("未知的對局事件", "type", ev.Type, "room_id", ev.RoomID)
	}
}

// decode 解析事件內容，失敗時回報錯誤
func (d *Dispatcher) decode(c *Client, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		d.fail(c, game.NewError(game.CodeInvalidInput, "request data is required"))
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		d.fail(c, ErrMalformed)
		return false
	}
	return true
}

// fail 將錯誤回報給發起的連線
//
// 房間不存在 → room-not-found；其他已知錯誤 → game-error{code}；
// 未知錯誤記錄後只回傳不透明的伺服器錯誤。
func (d *Dispatcher) fail(c *Client, err error) {
	if errors.Is(err, game.ErrRoomNotFound) {
		c.emit(EventRoomNotFound, RoomNotFound{Reason: game.ErrRoomNotFound.Message})
		return
	}

	var appErr *game.AppError
	if !errors.As(err, &appErr) || appErr.Code == game.CodeInternal {
		d.logger.Error("處理事件時發生內部錯誤",
			"conn_id", c.id(),
			"player_id", c.identity(),
			"error", err)
		c.emit(EventGameError, GameError{Code: game.CodeInternal, Error: game.ErrInternal.Message})
		return
	}

	c.emit(EventGameError, GameError{Code: appErr.Code, Error: appErr.Message})
}

func concluded(roomID string, out *game.Outcome) MatchConcluded {
	return MatchConcluded{
		RoomID:        roomID,
		Result:        string(out.Kind),
		Winner:        out.Winner,
		WinningTriple: out.Triple,
	}
}
