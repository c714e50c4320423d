package game_test

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// fixedRandom 永遠回傳同一個索引，讓先手可預測
type fixedRandom struct {
	n int
}

func (f fixedRandom) IntN(n int) int {
	return f.n % n
}

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(epoch)
}

// gatedRandom 第 gateAt 次呼叫時停住，直到 open 被呼叫；用來在決定先手的途中插入其他操作
type gatedRandom struct {
	gateAt  int32
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedRandom(gateAt int32) *gatedRandom {
	return &gatedRandom{
		gateAt:  gateAt,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedRandom) IntN(int) int {
	if g.calls.Add(1) == g.gateAt {
		close(g.entered)
		<-g.release
	}
	return 0
}

func (g *gatedRandom) open() {
	g.once.Do(func() { close(g.release) })
}
