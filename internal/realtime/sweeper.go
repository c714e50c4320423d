package realtime

import (
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// StartSweeper 每 SweepInterval 檢查一次閒置連線（見 Hub.SweepIdle）
//
// clock 為 nil 時使用真實時鐘。呼叫者負責在關閉時呼叫 Shutdown()，且應早於 Hub.Stop。
func StartSweeper(hub *Hub, logger *slog.Logger, clock clockwork.Clock) (gocron.Scheduler, error) {
	opts := []gocron.SchedulerOption{
		gocron.WithLogger(logger.With("component", "connection-sweeper")),
	}
	if clock != nil {
		opts = append(opts, gocron.WithClock(clock))
	} else {
		clock = clockwork.NewRealClock()
	}

	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create sweeper scheduler: %w", err)
	}

	s := hub.settings
	_, err = sched.NewJob(
		gocron.DurationJob(s.SweepInterval),
		gocron.NewTask(func() {
			if closed := hub.SweepIdle(clock.Now()); closed > 0 {
				logger.Info("閒置連線清理", "connections_closed", closed)
			}
		}),
		gocron.WithName("connection-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("register sweeper job: %w", err)
	}

	sched.Start()
	logger.Info("閒置連線檢查已啟動", "interval", s.SweepInterval, "idle_timeout", s.IdleTimeout)

	return sched, nil
}
