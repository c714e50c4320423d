package game

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// 系統設計問題：
//   大量連線同時操作共享的房間表，如何保證同一房間的操作不會互相踩踏？
//
// 設計方案：
//   ✅ 兩層鎖 - Registry.mu 保護房間表與玩家索引，session.mu 串行化單一房間
//   ✅ 鎖順序固定 - 可以在持有 session.mu 時取得 Registry.mu，反之不行
//   ✅ 計時器回調走同一把房間鎖 - 回調與玩家操作互斥
//   ✅ 非同步事件 - 計時器觸發的結果透過 Events() 通知傳輸層
//
// 跨房間的操作不保證先後順序。

// EventType 非同步事件類型
type EventType string

const (
	EventTurnTimeout EventType = "turn-timeout" // 回合超時判負
	EventGameTimeout EventType = "game-timeout" // 整局超時
	EventRoomClosed  EventType = "room-closed"  // 房間已刪除
)

// Event 非同步事件（由計時器或清理觸發，而非玩家操作）
type Event struct {
	Type      EventType `json:"type"`
	RoomID    string    `json:"room_id"`
	Forfeiter string    `json:"forfeiter,omitempty"`
	Winner    string    `json:"winner,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
}

// MoveResult 落子結果
type MoveResult struct {
	Claim    Claim    `json:"claim"`
	NextTurn string   `json:"next_turn,omitempty"`
	Outcome  *Outcome `json:"outcome,omitempty"` // 分出結果時才有
	Snapshot Snapshot `json:"snapshot"`
}

// DisconnectResult 斷線處理結果
type DisconnectResult struct {
	RoomID    string   `json:"room_id"`
	Forfeited bool     `json:"forfeited"`
	Winner    string   `json:"winner,omitempty"`
	Snapshot  Snapshot `json:"snapshot"`
}

// RematchStart 再來一局開始
type RematchStart struct {
	RoomID      string   `json:"room_id"`
	FirstTurn   string   `json:"first_turn"`
	RequestedBy string   `json:"requested_by"`
	Snapshot    Snapshot `json:"snapshot"`
}

// Stats 統計資訊
type Stats struct {
	TotalRooms       int           `json:"total_rooms"`
	TotalPlayers     int           `json:"total_players"`
	ByState          map[State]int `json:"by_state"`
	PendingRematches int           `json:"pending_rematches"`
	TimedRooms       int           `json:"timed_rooms"`
}

// session 房間：對局 + 房間鎖
type session struct {
	mu           sync.Mutex
	match        *Match
	state        atomic.Value    // State；不持有房間鎖時讀取
	closing      clockwork.Timer // 斷線後排定的刪除
	pendingClose atomic.Bool     // closing 已排定；不持有房間鎖時讀取
	deleted      bool
}

func newSession(m *Match) *session {
	s := &session{match: m}
	s.sync()
	return s
}

// sync 同步 state 快取，每次狀態變更後呼叫（需持有 s.mu）
func (s *session) sync() {
	s.state.Store(s.match.State())
}

func (s *session) loadState() State {
	return s.state.Load().(State)
}

// Option Registry 選項
type Option func(*Registry)

// WithClock 注入時鐘（測試用 clockwork.NewFakeClock）
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithRandom 注入隨機來源（決定先手）
func WithRandom(src RandomSource) Option {
	return func(r *Registry) { r.rng = &lockedRandom{src: src} }
}

// WithRoomIDGenerator 注入房間 ID 產生器
func WithRoomIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// lockedRandom 讓 RandomSource 可以被多個房間同時使用
type lockedRandom struct {
	mu  sync.Mutex
	src RandomSource
}

func (l *lockedRandom) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.IntN(n)
}

// Registry 對局管理器
type Registry struct {
	settings Settings
	logger   *slog.Logger
	clock    clockwork.Clock
	rng      RandomSource
	newID    func() string

	mu       sync.RWMutex
	sessions map[string]*session // roomID -> session
	byPlayer map[string]string   // playerID -> roomID

	timers  *Scheduler
	rematch *Negotiator

	events   chan Event
	emitMu   sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewRegistry 創建對局管理器
func NewRegistry(settings Settings, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		settings: settings,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		sessions: make(map[string]*session),
		byPlayer: make(map[string]string),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.rng == nil {
		r.rng = &lockedRandom{src: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1))}
	}
	if r.newID == nil {
		r.newID = NewRoomIDGenerator(settings.RoomIDLength)
	}
	if r.settings.RoomIDAttempts < 1 {
		r.settings.RoomIDAttempts = 1
	}
	if r.settings.EventBuffer < 1 {
		r.settings.EventBuffer = 1
	}

	r.timers = NewScheduler(r.clock)
	r.rematch = NewNegotiator(r.clock, r.settings.RematchWindow)
	r.events = make(chan Event, r.settings.EventBuffer)

	return r
}

// Settings 目前設定
func (r *Registry) Settings() Settings {
	return r.settings
}

// Events 非同步事件通道，Stop 後關閉
func (r *Registry) Events() <-chan Event {
	return r.events
}

// CreateRoom 創建房間，創建者成為第一位玩家
//
// 房間 ID 碰撞時重試；重試用盡回傳 ErrAlreadyExists，絕不覆蓋既有房間。
func (r *Registry) CreateRoom(identity string) (string, error) {
	var roomID string

	err := r.guard("create_room", []any{"player_id", identity}, func() error {
		r.mu.Lock()
		defer r.mu.Unlock()

		if err := r.checkAvailableLocked(identity, ""); err != nil {
			return err
		}

		for attempt := 1; attempt <= r.settings.RoomIDAttempts; attempt++ {
			id := r.newID()
			if _, taken := r.sessions[id]; taken {
				r.logger.Debug("房間 ID 碰撞，重試", "room_id", id, "attempt", attempt)
				continue
			}

			r.sessions[id] = newSession(NewMatch(id, identity, r.clock, r.rng))
			r.byPlayer[identity] = id
			roomID = id
			return nil
		}

		return ErrAlreadyExists
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("房間已創建", "room_id", roomID, "created_by", identity)
	return roomID, nil
}

// JoinRoom 加入房間；第二位玩家加入時開局並啟動計時器
func (r *Registry) JoinRoom(identity, roomID string) (Snapshot, error) {
	var (
		snap    Snapshot
		started bool
	)

	err := r.guard("join_room", []any{"player_id", identity, "room_id", roomID}, func() error {
		s, err := r.acquire(roomID)
		if err != nil {
			return err
		}
		defer s.mu.Unlock()

		if s.closing != nil {
			return ErrRoomClosing
		}

		r.mu.Lock()
		if err := r.checkAvailableLocked(identity, roomID); err != nil {
			r.mu.Unlock()
			return err
		}
		started, err = s.match.AddPlayer(identity)
		if err == nil {
			r.byPlayer[identity] = roomID
		}
		r.mu.Unlock()

		if err != nil {
			return err
		}

		r.commit(s, "join_room")
		if started {
			r.armAll(s)
		}
		snap = s.match.Snapshot()
		return nil
	})
	if err != nil {
		r.logger.Warn("加入房間失敗", "room_id", roomID, "player_id", identity, "error", err)
		return Snapshot{}, err
	}

	r.logger.Info("玩家加入房間", "room_id", roomID, "player_id", identity)
	if started {
		r.logger.Info("對局開始",
			"room_id", roomID,
			"players", snap.Players,
			"first_turn", snap.Turn)
	}
	return snap, nil
}

// Move 落子
func (r *Registry) Move(identity, roomID string, cell int) (MoveResult, error) {
	var res MoveResult

	err := r.guard("move", []any{"player_id", identity, "room_id", roomID, "cell_index", cell}, func() error {
		s, err := r.acquire(roomID)
		if err != nil {
			return err
		}
		defer s.mu.Unlock()

		claim, outcome, err := s.match.MakeMove(identity, cell)
		if err != nil {
			return err
		}
		r.commit(s, "move")

		if outcome != nil {
			r.timers.CancelAll(roomID)
		} else {
			r.armTurn(s)
		}

		res = MoveResult{
			Claim:    claim,
			Outcome:  outcome,
			Snapshot: s.match.Snapshot(),
		}
		if outcome == nil {
			res.NextTurn = s.match.Turn()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotYourTurn) {
			r.logger.Warn("非本回合玩家嘗試落子", "room_id", roomID, "attempted_by", identity)
		} else {
			r.logger.Debug("落子被拒絕", "room_id", roomID, "player_id", identity, "cell_index", cell, "error", err)
		}
		return MoveResult{}, err
	}

	r.logger.Info("玩家落子",
		"room_id", roomID,
		"player_id", identity,
		"cell_index", cell,
		"next_turn", res.NextTurn,
		"move_count", res.Snapshot.MoveCount)
	if res.Outcome != nil {
		r.logger.Info("對局結束",
			"room_id", roomID,
			"result", res.Outcome.Kind,
			"winner", res.Outcome.Winner,
			"winning_triple", res.Outcome.Triple,
			"total_moves", res.Snapshot.MoveCount)
	}
	return res, nil
}

// RequestRematch 請求再來一局
func (r *Registry) RequestRematch(identity, roomID string) (RematchRequest, error) {
	var req RematchRequest

	err := r.guard("request_rematch", []any{"player_id", identity, "room_id", roomID}, func() error {
		s, err := r.acquire(roomID)
		if err != nil {
			return err
		}
		defer s.mu.Unlock()

		if !s.match.Has(identity) {
			return ErrNotInRoom
		}
		if !s.match.State().Terminal() {
			return ErrNotCompleted
		}

		req, err = r.rematch.Request(roomID, identity)
		return err
	})
	if err != nil {
		return RematchRequest{}, err
	}

	r.logger.Info("請求再來一局", "room_id", roomID, "requested_by", identity)
	return req, nil
}

// AcceptRematch 接受再來一局
//
// 消耗請求、重置對局、重新啟動計時器，回傳新一局的先手。
func (r *Registry) AcceptRematch(roomID string) (RematchStart, error) {
	var start RematchStart

	err := r.guard("accept_rematch", []any{"room_id", roomID}, func() error {
		s, err := r.acquire(roomID)
		if err != nil {
			return err
		}
		defer s.mu.Unlock()

		if s.closing != nil {
			return ErrRoomClosing
		}

		pending, ok := r.rematch.Pending(roomID)
		if !ok {
			return ErrNoPendingRequest
		}

		// 從檢查玩家索引到 state 快取更新都持有 r.mu，
		// 期間 CreateRoom / JoinRoom 無法把玩家帶到別的房間
		first, err := func() (string, error) {
			r.mu.RLock()
			defer r.mu.RUnlock()

			for _, p := range s.match.Players() {
				if r.byPlayer[p] != roomID {
					return "", ErrPlayerBusy
				}
			}

			first, err := s.match.Reset()
			if err != nil {
				return "", err
			}
			r.commit(s, "accept_rematch")
			return first, nil
		}()
		if err != nil {
			return err
		}
		_, _ = r.rematch.Take(roomID)
		r.armAll(s)

		start = RematchStart{
			RoomID:      roomID,
			FirstTurn:   first,
			RequestedBy: pending.RequestedBy,
			Snapshot:    s.match.Snapshot(),
		}
		return nil
	})
	if err != nil {
		return RematchStart{}, err
	}

	r.logger.Info("再來一局開始", "room_id", roomID, "first_turn", start.FirstTurn, "round", start.Snapshot.Round)
	return start, nil
}

// OnDisconnect 玩家斷線
//
// 對局進行中 → 判對手勝；無論狀態都取消計時器，並在寬限期後刪除房間。
// 冪等：重複呼叫不會再次判負，也不會重複排定刪除。
func (r *Registry) OnDisconnect(identity string) (DisconnectResult, bool) {
	var (
		res   DisconnectResult
		found bool
	)

	err := r.guard("disconnect", []any{"player_id", identity}, func() error {
		r.mu.RLock()
		roomID, ok := r.byPlayer[identity]
		s := r.sessions[roomID]
		r.mu.RUnlock()
		if !ok || s == nil {
			return nil
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.deleted {
			return nil
		}

		found = true
		res.RoomID = roomID

		if s.match.State() == StateInProgress {
			winner := s.match.Opponent(identity)
			if s.match.ForceConclude(ResultForfeit, winner) {
				res.Forfeited = true
				res.Winner = winner
				r.commit(s, "disconnect")
			}
		}

		r.timers.CancelAll(roomID)

		if s.closing == nil {
			s.pendingClose.Store(true)
			s.closing = r.clock.AfterFunc(r.settings.DisconnectGrace, func() {
				r.closeRoom(s, "disconnect")
			})
		}

		res.Snapshot = s.match.Snapshot()
		return nil
	})
	if err != nil || !found {
		if !found {
			r.logger.Warn("玩家斷線但找不到對局", "player_id", identity)
		}
		return DisconnectResult{}, false
	}

	r.logger.Info("玩家斷線",
		"room_id", res.RoomID,
		"player_id", identity,
		"state", res.Snapshot.State)
	if res.Forfeited {
		r.logger.Info("對局判負", "room_id", res.RoomID, "forfeiter", identity, "winner", res.Winner)
	}
	return res, true
}

// CleanupIdle 刪除閒置超過 maxAge 的房間並清除過期的再來一局請求
//
// 由定期任務呼叫（見 StartJanitor），不在每次請求時執行。
func (r *Registry) CleanupIdle(maxAge time.Duration) int {
	now := r.clock.Now()

	var idle []*session
	for _, s := range r.snapshotSessions() {
		s.mu.Lock()
		if !s.deleted && now.Sub(s.match.LastActivity()) > maxAge {
			idle = append(idle, s)
		}
		s.mu.Unlock()
	}

	for _, s := range idle {
		r.closeRoom(s, "idle")
	}
	expired := r.rematch.Expire()

	r.logger.Info("執行定期清理",
		"rooms_removed", len(idle),
		"requests_expired", expired,
		"active_rooms", r.RoomCount())

	return len(idle)
}

// Snapshot 獲取房間快照
func (r *Registry) Snapshot(roomID string) (Snapshot, error) {
	s, err := r.acquire(roomID)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.mu.Unlock()
	return s.match.Snapshot(), nil
}

// RoomOf 玩家所在房間
func (r *Registry) RoomOf(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.byPlayer[identity]
	return roomID, ok
}

// RoomCount 房間數量
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stats 獲取統計資訊
func (r *Registry) Stats() Stats {
	stats := Stats{ByState: make(map[State]int)}

	for _, s := range r.snapshotSessions() {
		s.mu.Lock()
		if !s.deleted {
			stats.TotalRooms++
			stats.TotalPlayers += len(s.match.players)
			stats.ByState[s.match.State()]++
		}
		s.mu.Unlock()
	}

	stats.PendingRematches = r.rematch.Len()
	stats.TimedRooms = r.timers.Len()
	return stats
}

// Stop 停止所有計時器並關閉事件通道
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.timers.Stop()

		for _, s := range r.snapshotSessions() {
			s.mu.Lock()
			if s.closing != nil {
				s.closing.Stop()
			}
			s.mu.Unlock()
		}

		r.emitMu.Lock()
		r.closed = true
		close(r.events)
		r.emitMu.Unlock()

		r.logger.Info("對局管理器已停止")
	})
}

// acquire 取得並鎖定房間，呼叫者負責 s.mu.Unlock()
func (r *Registry) acquire(roomID string) (*session, error) {
	r.mu.RLock()
	s, ok := r.sessions[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// checkAvailableLocked 玩家是否可以進入 roomID（需持有 r.mu）
//
// 玩家仍在其他房間的等待中或對局中時拒絕；其他房間已終局或已排定刪除則允許，
// 索引改指向新房間。
func (r *Registry) checkAvailableLocked(identity, roomID string) error {
	existing, ok := r.byPlayer[identity]
	if !ok || existing == roomID {
		return nil
	}
	s, ok := r.sessions[existing]
	if !ok || s.pendingClose.Load() {
		return nil
	}
	if st := s.loadState(); st == StateWaiting || st == StateInProgress {
		return ErrPlayerBusy
	}
	return nil
}

// commit 狀態變更後同步 state 快取並檢查對局不變量（需持有 s.mu）
//
// 不變量被破壞代表程式錯誤：記錄為內部錯誤，不回滾已發生的變更。
func (r *Registry) commit(s *session, op string) {
	s.sync()
	if err := s.match.Validate(); err != nil {
		r.logger.Error("對局不變量被破壞",
			"op", op,
			"room_id", s.match.ID(),
			"code", CodeInternal,
			"error", err)
	}
}

// snapshotSessions 房間列表副本，讓後續逐一加鎖時不必持有 r.mu
func (r *Registry) snapshotSessions() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	return list
}

// armAll 啟動回合與整局計時器（需持有 s.mu）
func (r *Registry) armAll(s *session) {
	r.armTurn(s)

	roomID, round := s.match.ID(), s.match.Round()
	r.timers.ArmGame(roomID, r.settings.GameTimeout, func() {
		r.expireGame(s, round)
	})
}

// armTurn 重新啟動回合計時器（需持有 s.mu）
func (r *Registry) armTurn(s *session) {
	roomID, seq := s.match.ID(), s.match.TurnSeq()
	r.timers.ArmTurn(roomID, r.settings.TurnTimeout, func() {
		r.expireTurn(s, seq)
	})
}

// expireTurn 回合計時器回調
//
// 對局已離開 in_progress、或回合序號已變（期間有人落子 / 已重置）時為 no-op。
func (r *Registry) expireTurn(s *session, seq uint64) {
	s.mu.Lock()
	m := s.match
	if s.deleted || m.State() != StateInProgress || m.TurnSeq() != seq {
		s.mu.Unlock()
		r.logger.Debug("忽略過期的回合計時器", "room_id", m.ID(), "seq", seq)
		return
	}

	forfeiter := m.Turn()
	winner := m.Opponent(forfeiter)
	m.ForceConclude(ResultForfeit, winner)
	r.commit(s, "turn_timeout")
	r.timers.CancelAll(m.ID())
	snap := m.Snapshot()
	s.mu.Unlock()

	r.logger.Info("回合超時", "room_id", snap.RoomID, "forfeiter", forfeiter, "winner", winner)
	r.emit(Event{
		Type:      EventTurnTimeout,
		RoomID:    snap.RoomID,
		Forfeiter: forfeiter,
		Winner:    winner,
		Snapshot:  &snap,
	})
}

// expireGame 整局計時器回調
func (r *Registry) expireGame(s *session, round int) {
	s.mu.Lock()
	m := s.match
	if s.deleted || m.State() != StateInProgress || m.Round() != round {
		s.mu.Unlock()
		r.logger.Debug("忽略過期的整局計時器", "room_id", m.ID(), "round", round)
		return
	}

	m.ForceConclude(ResultTimeout, "")
	r.commit(s, "game_timeout")
	r.timers.CancelAll(m.ID())
	snap := m.Snapshot()
	s.mu.Unlock()

	r.logger.Info("整局超時",
		"room_id", snap.RoomID,
		"duration", snap.EndedAt.Sub(snap.MatchStartedAt))
	r.emit(Event{
		Type:     EventGameTimeout,
		RoomID:   snap.RoomID,
		Snapshot: &snap,
	})
}

// closeRoom 刪除房間（斷線寬限期結束或閒置清理）
func (r *Registry) closeRoom(s *session, reason string) {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return
	}
	s.deleted = true
	if s.closing != nil {
		s.closing.Stop()
	}
	roomID := s.match.ID()
	players := s.match.Players()
	r.timers.CancelAll(roomID)
	r.rematch.Drop(roomID)
	s.mu.Unlock()

	r.mu.Lock()
	if r.sessions[roomID] == s {
		delete(r.sessions, roomID)
	}
	for _, p := range players {
		if r.byPlayer[p] == roomID {
			delete(r.byPlayer, p)
		}
	}
	r.mu.Unlock()

	r.logger.Info("房間已移除", "room_id", roomID, "reason", reason)
	r.emit(Event{Type: EventRoomClosed, RoomID: roomID, Reason: reason})
}

// emit 非阻塞發送事件，通道滿時丟棄並記錄
func (r *Registry) emit(event Event) {
	r.emitMu.RLock()
	defer r.emitMu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.events <- event:
	default:
		r.logger.Warn("事件通道已滿，丟棄事件", "type", event.Type, "room_id", event.RoomID)
	}
}

// guard 將 panic 轉為 ErrInternal；房間鎖一律以 defer 釋放，panic 時不會殘留
func (r *Registry) guard(op string, attrs []any, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("對局操作發生 panic",
				append([]any{"op", op, "panic", p}, attrs...)...)
			err = WrapError(fmt.Errorf("%v", p), CodeInternal, ErrInternal.Message)
		}
	}()
	return fn()
}
