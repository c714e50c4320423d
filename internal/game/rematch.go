package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RematchRequest 再來一局的請求
type RematchRequest struct {
	RoomID      string    `json:"room_id"`
	RequestedBy string    `json:"requested_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Negotiator 追蹤每個房間至多一個未過期的再來一局請求
//
// 請求在 window 之後失效：失效的請求不再擋住新的請求，也不能被接受。
// 房間層級的先後順序由 Registry 的房間鎖保證，這裡的鎖只保護 map。
type Negotiator struct {
	clock    clockwork.Clock
	window   time.Duration
	mu       sync.Mutex
	requests map[string]*RematchRequest // roomID -> request
}

// NewNegotiator 創建再來一局協調器
func NewNegotiator(clock clockwork.Clock, window time.Duration) *Negotiator {
	return &Negotiator{
		clock:    clock,
		window:   window,
		requests: make(map[string]*RematchRequest),
	}
}

// Request 登記請求，房間已有未過期的請求時回傳 ErrDuplicateRequest
func (n *Negotiator) Request(roomID, requestedBy string) (RematchRequest, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()
	if existing, ok := n.requests[roomID]; ok && !n.expired(existing, now) {
		return RematchRequest{}, ErrDuplicateRequest
	}

	req := &RematchRequest{
		RoomID:      roomID,
		RequestedBy: requestedBy,
		CreatedAt:   now,
	}
	n.requests[roomID] = req
	return *req, nil
}

// Pending 房間未過期的請求
func (n *Negotiator) Pending(roomID string) (RematchRequest, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	req, ok := n.requests[roomID]
	if !ok || n.expired(req, n.clock.Now()) {
		return RematchRequest{}, false
	}
	return *req, true
}

// Take 取出並移除請求，沒有未過期的請求時回傳 ErrNoPendingRequest
func (n *Negotiator) Take(roomID string) (RematchRequest, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	req, ok := n.requests[roomID]
	if !ok {
		return RematchRequest{}, ErrNoPendingRequest
	}
	delete(n.requests, roomID)
	if n.expired(req, n.clock.Now()) {
		return RematchRequest{}, ErrNoPendingRequest
	}
	return *req, nil
}

// Drop 移除房間的請求（房間刪除時）
func (n *Negotiator) Drop(roomID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.requests, roomID)
}

// Expire 清除所有過期請求，回傳清除數量
func (n *Negotiator) Expire() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()
	removed := 0
	for roomID, req := range n.requests {
		if n.expired(req, now) {
			delete(n.requests, roomID)
			removed++
		}
	}
	return removed
}

// Len 請求數量（含尚未清除的過期請求）
func (n *Negotiator) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.requests)
}

func (n *Negotiator) expired(req *RematchRequest, now time.Time) bool {
	return now.Sub(req.CreatedAt) > n.window
}
