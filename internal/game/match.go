package game

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// 系統設計問題：
//   兩人回合制對局如何保證「任何時刻只有一位合法行動者」？
//
// 核心挑戰：
//   1. 狀態管理：waiting → in_progress → completed / abandoned / timed_out
//   2. 回合控制：同一回合只能有一步棋成功
//   3. 結果唯一：結果只寫入一次，終局後不再變動
//   4. 再來一局：終局可重置回 in_progress
//
// 設計方案：
//   ✅ 有限狀態機（FSM）- 規範狀態轉換
//   ✅ 先驗證後寫入 - 失敗時狀態完全不變
//   ✅ turnSeq 回合序號 - 讓過期的計時器回調可以被辨識
//
// Match 本身不加鎖，由 Registry 的房間鎖（session.mu）串行化所有操作。

// State 對局生命週期
//
// 有限狀態機：
//
//	waiting → in_progress → completed
//	              │       → abandoned
//	              │       → timed_out
//	              └───────── reset ←── 任一終局狀態
type State string

const (
	StateWaiting    State = "waiting"     // 等待第二位玩家
	StateInProgress State = "in_progress" // 對局進行中
	StateCompleted  State = "completed"   // 勝負或平手
	StateAbandoned  State = "abandoned"   // 判負（斷線、回合超時）
	StateTimedOut   State = "timed_out"   // 整局超時
)

// Terminal 是否為終局狀態
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAbandoned || s == StateTimedOut
}

// stateFor 結果類型對應的終局狀態
func stateFor(kind ResultKind) State {
	switch kind {
	case ResultForfeit:
		return StateAbandoned
	case ResultTimeout:
		return StateTimedOut
	default:
		return StateCompleted
	}
}

// MaxPlayers 每局玩家數
const MaxPlayers = 2

// RandomSource 隨機來源，*rand.Rand（math/rand/v2）即可滿足
type RandomSource interface {
	IntN(n int) int
}

// Claim 落子記錄（不可變）
type Claim struct {
	Participant string    `json:"uid"`
	Cell        int       `json:"cell_index"`
	At          time.Time `json:"timestamp"`
}

// Match 單一房間的對局
type Match struct {
	id      string
	players []string
	turn    string
	claims  []Claim
	state   State
	outcome *Outcome

	createdAt      time.Time
	turnStartedAt  time.Time
	matchStartedAt time.Time
	endedAt        time.Time
	lastActivity   time.Time

	turnSeq uint64 // 每開始一個新回合 +1
	round   int    // 第幾局（再來一局 +1）

	clock clockwork.Clock
	rng   RandomSource
}

// NewMatch 創建對局，創建者為第一位玩家
func NewMatch(id, creator string, clock clockwork.Clock, rng RandomSource) *Match {
	now := clock.Now()
	return &Match{
		id:           id,
		players:      []string{creator},
		state:        StateWaiting,
		createdAt:    now,
		lastActivity: now,
		clock:        clock,
		rng:          rng,
	}
}

// AddPlayer 加入玩家
//
// 人滿（2 人）時自動開局：隨機決定先手，狀態 → in_progress。
// 回傳 started 表示本次加入是否觸發開局。
func (m *Match) AddPlayer(identity string) (started bool, err error) {
	if m.Has(identity) {
		return false, ErrAlreadyJoined
	}
	if len(m.players) >= MaxPlayers {
		return false, ErrRoomFull
	}

	m.players = append(m.players, identity)
	m.lastActivity = m.clock.Now()

	if len(m.players) == MaxPlayers && m.state == StateWaiting {
		m.start(m.players[m.rng.IntN(MaxPlayers)])
		return true, nil
	}

	return false, nil
}

// start 開始新的一局
func (m *Match) start(first string) {
	now := m.clock.Now()
	m.claims = nil
	m.outcome = nil
	m.endedAt = time.Time{}
	m.turn = first
	m.state = StateInProgress
	m.matchStartedAt = now
	m.turnStartedAt = now
	m.lastActivity = now
	m.round++
	m.turnSeq++
}

// MakeMove 落子
//
// 驗證順序：狀態 → 回合 → 格子範圍 → 格子佔用。
// 任一驗證失敗都不會修改狀態。成功時回合交給對手，並判定勝負；
// 分出勝負或平手時回傳結果（否則為 nil）。
func (m *Match) MakeMove(identity string, cell int) (Claim, *Outcome, error) {
	if m.state != StateInProgress {
		return Claim{}, nil, ErrNotInProgress
	}
	if identity != m.turn {
		return Claim{}, nil, ErrNotYourTurn
	}
	if cell < 0 || cell >= BoardSize {
		return Claim{}, nil, ErrInvalidCell
	}
	if m.occupied(cell) {
		return Claim{}, nil, ErrCellOccupied
	}

	now := m.clock.Now()
	claim := Claim{Participant: identity, Cell: cell, At: now}

	// 先在副本上判定，再一次寫入
	grouped := m.claimsByParticipant()
	grouped[identity] = append(grouped[identity], cell)
	verdict := Evaluate(m.players, grouped)

	m.claims = append(m.claims, claim)
	m.turn = m.Opponent(identity)
	m.turnStartedAt = now
	m.lastActivity = now
	m.turnSeq++

	if !verdict.Concluded() {
		return claim, nil, nil
	}

	m.conclude(verdict)
	return claim, m.copyOutcome(), nil
}

// ForceConclude 強制結束（回合超時、整局超時、斷線）
//
// 冪等：已是終局或尚未開局時不做任何事，回傳 false。
func (m *Match) ForceConclude(kind ResultKind, winner string) bool {
	if m.state != StateInProgress {
		return false
	}
	m.conclude(Outcome{Kind: kind, Winner: winner})
	return true
}

// conclude 寫入結果並進入終局狀態
func (m *Match) conclude(outcome Outcome) {
	now := m.clock.Now()
	m.outcome = &outcome
	m.state = stateFor(outcome.Kind)
	m.endedAt = now
	m.lastActivity = now
}

// Reset 再來一局
//
// 先手規則：上一局「第二手」的玩家先手（沿用既有規則）。
// 上一局不足兩手時，改為隨機決定。
func (m *Match) Reset() (first string, err error) {
	if !m.state.Terminal() {
		return "", ErrNotCompleted
	}
	if len(m.players) != MaxPlayers {
		return "", ErrNotCompleted
	}

	if len(m.claims) >= 2 {
		first = m.claims[1].Participant
	} else {
		first = m.players[m.rng.IntN(MaxPlayers)]
	}

	m.start(first)
	return first, nil
}

// occupied 格子是否已被佔用
func (m *Match) occupied(cell int) bool {
	for _, c := range m.claims {
		if c.Cell == cell {
			return true
		}
	}
	return false
}

// claimsByParticipant 依玩家分組的格子
func (m *Match) claimsByParticipant() map[string][]int {
	grouped := make(map[string][]int, len(m.players))
	for _, c := range m.claims {
		grouped[c.Participant] = append(grouped[c.Participant], c.Cell)
	}
	return grouped
}

// Has 玩家是否在對局中
func (m *Match) Has(identity string) bool {
	for _, p := range m.players {
		if p == identity {
			return true
		}
	}
	return false
}

// Opponent 對手，不在對局中或尚無對手時回傳空字串
func (m *Match) Opponent(identity string) string {
	if !m.Has(identity) {
		return ""
	}
	for _, p := range m.players {
		if p != identity {
			return p
		}
	}
	return ""
}

func (m *Match) ID() string              { return m.id }
func (m *Match) State() State            { return m.state }
func (m *Match) Turn() string            { return m.turn }
func (m *Match) TurnSeq() uint64         { return m.turnSeq }
func (m *Match) Round() int              { return m.round }
func (m *Match) LastActivity() time.Time { return m.lastActivity }

// Players 玩家列表（副本）
func (m *Match) Players() []string {
	return append([]string(nil), m.players...)
}

// Claims 落子記錄（副本）
func (m *Match) Claims() []Claim {
	return append([]Claim(nil), m.claims...)
}

// Outcome 結果（副本），尚未終局時為 nil
func (m *Match) Outcome() *Outcome {
	return m.copyOutcome()
}

func (m *Match) copyOutcome() *Outcome {
	if m.outcome == nil {
		return nil
	}
	out := *m.outcome
	out.Triple = append([]int(nil), m.outcome.Triple...)
	if len(out.Triple) == 0 {
		out.Triple = nil
	}
	return &out
}

// Validate 檢查不變量
func (m *Match) Validate() error {
	if m.id == "" {
		return fmt.Errorf("match has empty room id")
	}
	if len(m.players) == 0 || len(m.players) > MaxPlayers {
		return fmt.Errorf("match %s has %d players", m.id, len(m.players))
	}
	if m.turn != "" && !m.Has(m.turn) {
		return fmt.Errorf("match %s turn holder %q is not a player", m.id, m.turn)
	}
	if len(m.claims) > BoardSize {
		return fmt.Errorf("match %s has %d claims", m.id, len(m.claims))
	}

	seen := make(map[int]bool, len(m.claims))
	for _, c := range m.claims {
		if c.Cell < 0 || c.Cell >= BoardSize {
			return fmt.Errorf("match %s claim on invalid cell %d", m.id, c.Cell)
		}
		if seen[c.Cell] {
			return fmt.Errorf("match %s cell %d claimed twice", m.id, c.Cell)
		}
		if !m.Has(c.Participant) {
			return fmt.Errorf("match %s claim by non-player %q", m.id, c.Participant)
		}
		seen[c.Cell] = true
	}

	if m.state == StateInProgress && (len(m.players) != MaxPlayers || m.turn == "") {
		return fmt.Errorf("match %s in progress without two players and a turn", m.id)
	}
	if m.state.Terminal() != (m.outcome != nil) {
		return fmt.Errorf("match %s outcome does not match state %s", m.id, m.state)
	}

	return nil
}

// Snapshot 對局快照（可序列化，與內部狀態無共享）
type Snapshot struct {
	RoomID         string    `json:"room_id"`
	Players        []string  `json:"players"`
	Turn           string    `json:"turn,omitempty"`
	Claims         []Claim   `json:"claims"`
	State          State     `json:"state"`
	Outcome        *Outcome  `json:"outcome,omitempty"`
	Round          int       `json:"round"`
	MoveCount      int       `json:"move_count"`
	CreatedAt      time.Time `json:"created_at"`
	MatchStartedAt time.Time `json:"match_started_at,omitzero"`
	TurnStartedAt  time.Time `json:"turn_started_at,omitzero"`
	EndedAt        time.Time `json:"ended_at,omitzero"`
}

// Snapshot 獲取對局快照
func (m *Match) Snapshot() Snapshot {
	claims := m.Claims()
	if claims == nil {
		claims = []Claim{}
	}
	return Snapshot{
		RoomID:         m.id,
		Players:        m.Players(),
		Turn:           m.turn,
		Claims:         claims,
		State:          m.state,
		Outcome:        m.copyOutcome(),
		Round:          m.round,
		MoveCount:      len(m.claims),
		CreatedAt:      m.createdAt,
		MatchStartedAt: m.matchStartedAt,
		TurnStartedAt:  m.turnStartedAt,
		EndedAt:        m.endedAt,
	}
}
