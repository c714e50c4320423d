package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler 每個房間的回合計時器與整局計時器
//
// 系統設計考量：
//
//  1. 取消只是「盡力而為」：
//     計時器可能在取消前一刻已經觸發，回調仍會執行。
//     正確性依賴回調內的狀態檢查（Registry 在房間鎖內比對狀態與回合序號），
//     而不是依賴精確的取消。
//
//  2. 時鐘可注入（clockwork.Clock）：
//     測試時使用 FakeClock，Advance 即可觸發超時，不需要真的等待。
type Scheduler struct {
	clock clockwork.Clock
	mu    sync.Mutex
	rooms map[string]*roomTimers
}

type roomTimers struct {
	turn *armedTimer
	game *armedTimer
}

type armedTimer struct {
	timer clockwork.Timer
}

// NewScheduler 創建計時器排程
func NewScheduler(clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock: clock,
		rooms: make(map[string]*roomTimers),
	}
}

// ArmTurn 重新設定回合計時器（舊的會先取消）
func (s *Scheduler) ArmTurn(roomID string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt := s.timersFor(roomID)
	stop(rt.turn)
	rt.turn = s.arm(roomID, d, fn, func(rt *roomTimers) **armedTimer { return &rt.turn })
}

// ArmGame 重新設定整局計時器（舊的會先取消）
func (s *Scheduler) ArmGame(roomID string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt := s.timersFor(roomID)
	stop(rt.game)
	rt.game = s.arm(roomID, d, fn, func(rt *roomTimers) **armedTimer { return &rt.game })
}

// arm 建立計時器；觸發後若仍是同一個計時器則從表中移除
//
// 呼叫者必須持有 s.mu。回調內會重新取得 s.mu，
// 因此即使 d 極短，也會等到 slot 寫入後才清除。
func (s *Scheduler) arm(roomID string, d time.Duration, fn func(), slot func(*roomTimers) **armedTimer) *armedTimer {
	a := &armedTimer{}
	a.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if rt, ok := s.rooms[roomID]; ok {
			p := slot(rt)
			if *p == a {
				*p = nil
			}
			if rt.turn == nil && rt.game == nil {
				delete(s.rooms, roomID)
			}
		}
		s.mu.Unlock()

		fn()
	})
	return a
}

// CancelAll 取消房間的所有計時器
func (s *Scheduler) CancelAll(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.rooms[roomID]
	if !ok {
		return
	}
	stop(rt.turn)
	stop(rt.game)
	delete(s.rooms, roomID)
}

// Armed 房間目前是否有回合計時器 / 整局計時器
func (s *Scheduler) Armed(roomID string) (turn, game bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.rooms[roomID]
	if !ok {
		return false, false
	}
	return rt.turn != nil, rt.game != nil
}

// Len 有計時器的房間數
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Stop 取消所有計時器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID, rt := range s.rooms {
		stop(rt.turn)
		stop(rt.game)
		delete(s.rooms, roomID)
	}
}

func (s *Scheduler) timersFor(roomID string) *roomTimers {
	rt, ok := s.rooms[roomID]
	if !ok {
		rt = &roomTimers{}
		s.rooms[roomID] = rt
	}
	return rt
}

func stop(a *armedTimer) {
	if a != nil && a.timer != nil {
		a.timer.Stop()
	}
}
