// Package poller refreshes orders, executions and session status on a fixed interval.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"oems-dashboard/infrastructure/logger"
	"oems-dashboard/infrastructure/monitor"
	"oems-dashboard/order"
)

// Source 提供三类只读数据。每次调用自带超时。
type Source interface {
	Sessions(ctx context.Context) ([]order.Session, error)
	Orders(ctx context.Context) ([]order.Order, error)
	Executions(ctx context.Context, limit int) ([]order.Execution, error)
}

// Result 单次读取结果：Err 非空时 Data 无意义。
type Result[T any] struct {
	Tick uint64
	Data T
	Err  error
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Sink 接收结果。三个方法可能被并发调用，实现方负责串行化。
type Sink interface {
	ApplySessions(Result[[]order.Session])
	ApplyOrders(Result[[]order.Order])
	ApplyExecutions(Result[[]order.Execution])
}

// DefaultExecutionsLimit 成交回报每次只取最近 50 条。
const DefaultExecutionsLimit = 50

// Poller issues the three reads of a tick independently: a slow or failing
// read never delays or cancels its siblings, and results are delivered as
// soon as each one finishes.
type Poller struct {
	Source          Source
	Sink            Sink
	Interval        time.Duration
	ExecutionsLimit int
	Logger          *logger.Logger
	Monitor         *monitor.Monitor
	// OnTick 每个周期开始时调用（systemd watchdog 等）。
	OnTick func(tick uint64)

	wg sync.WaitGroup
}

// Run starts the schedule and blocks until ctx is done, then waits for
// in-flight reads to finish.
func (p *Poller) Run(ctx context.Context) error {
	if p.Source == nil || p.Sink == nil {
		return fmt.Errorf("poller: source and sink are required")
	}
	err := Scheduler{Interval: p.Interval}.Run(ctx, p.Tick)
	p.wg.Wait()
	return err
}

// Tick 发起一轮读取后立即返回。
func (p *Poller) Tick(ctx context.Context, tick uint64) {
	if p.OnTick != nil {
		p.OnTick(tick)
	}
	limit := p.ExecutionsLimit
	if limit <= 0 {
		limit = DefaultExecutionsLimit
	}

	var (
		mu   sync.Mutex
		merr *multierror.Error
		wg   sync.WaitGroup
	)
	record := func(source string, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			mu.Lock()
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", source, err))
			mu.Unlock()
		}
		p.Monitor.RecordPoll(source, outcome)
	}

	wg.Add(3)
	p.wg.Add(4)
	go func() {
		defer p.wg.Done()
		defer wg.Done()
		data, err := p.Source.Sessions(ctx)
		record("sessions", err)
		p.Sink.ApplySessions(Result[[]order.Session]{Tick: tick, Data: data, Err: err})
	}()
	go func() {
		defer p.wg.Done()
		defer wg.Done()
		data, err := p.Source.Orders(ctx)
		record("orders", err)
		p.Sink.ApplyOrders(Result[[]order.Order]{Tick: tick, Data: data, Err: err})
	}()
	go func() {
		defer p.wg.Done()
		defer wg.Done()
		data, err := p.Source.Executions(ctx, limit)
		record("executions", err)
		p.Sink.ApplyExecutions(Result[[]order.Execution]{Tick: tick, Data: data, Err: err})
	}()
	go func() {
		defer p.wg.Done()
		wg.Wait()
		if err := merr.ErrorOrNil(); err != nil && p.Logger != nil {
			p.Logger.LogPoll("tick", map[string]interface{}{"tick": tick, "errors": err.Error()})
		}
	}()
}
