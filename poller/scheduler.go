package poller

import (
	"context"
	"time"
)

// Scheduler 固定周期触发任务：启动时立即执行一次，之后每个周期执行一次。
// 任务在调度 goroutine 中串行执行，不做退避，也不因错误暂停。
type Scheduler struct {
	Interval time.Duration
}

// Run blocks until ctx is cancelled. task receives a monotonically increasing tick number.
func (s Scheduler) Run(ctx context.Context, task func(ctx context.Context, tick uint64)) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var tick uint64 = 1
	task(ctx, tick)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick++
			task(ctx, tick)
		}
	}
}
