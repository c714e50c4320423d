package game

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// StartJanitor 啟動定期清理任務：移除閒置超過 retention 的房間、清除過期的再來一局請求
//
// 單例模式：前一次清理還沒跑完時，下一次排程順延，不會併發執行。
// 呼叫者負責在關閉時呼叫 Shutdown()。
func StartJanitor(r *Registry, interval, retention time.Duration, logger *slog.Logger, clock clockwork.Clock) (gocron.Scheduler, error) {
	opts := []gocron.SchedulerOption{
		gocron.WithLogger(logger.With("component", "janitor")),
	}
	if clock != nil {
		opts = append(opts, gocron.WithClock(clock))
	}

	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create janitor scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			removed := r.CleanupIdle(retention)
			if removed > 0 {
				logger.Debug("閒置房間已清理", "rooms_removed", removed)
			}
		}),
		gocron.WithName("match-janitor"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("register janitor job: %w", err)
	}

	sched.Start()
	logger.Info("定期清理已啟動", "interval", interval, "retention", retention)

	return sched, nil
}
