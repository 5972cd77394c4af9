package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oems-dashboard/action"
	"oems-dashboard/blotter"
	"oems-dashboard/infrastructure/alert"
	"oems-dashboard/infrastructure/logger"
	"oems-dashboard/infrastructure/monitor"
	"oems-dashboard/order"
	"oems-dashboard/poller"
)

var (
	ErrHubStopped  = errors.New("session hub not running")
	ErrUnknownView = errors.New("unknown view")
)

// Config Hub 配置。
type Config struct {
	// ViewTTL 超过该时长未访问的浏览器会话被回收。
	ViewTTL time.Duration
	// SweepInterval 回收检查周期。
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{ViewTTL: 30 * time.Minute, SweepInterval: time.Minute}
}

// Components Hub 依赖。
type Components struct {
	Controller *action.Controller
	Logger     *logger.Logger
	Monitor    *monitor.Monitor
	Alerts     *alert.Manager
}

// snapshot 最近一次成功应用的轮询数据。
type snapshot struct {
	sessions  []order.Session
	orders    []order.Order
	execs     []order.Execution
	connected bool
	known     bool

	sessionsTick uint64
	ordersTick   uint64
	execsTick    uint64
	updatedAt    time.Time
}

// Hub owns every ViewState and the latest poll snapshot. All reads and writes
// happen on its run loop; network calls are made outside the loop and their
// outcomes are posted back as events.
type Hub struct {
	cfg        Config
	controller *action.Controller
	logger     *logger.Logger
	monitor    *monitor.Monitor
	alerts     *alert.Manager
	now        func() time.Time

	events   chan func()
	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
	mu       sync.Mutex

	// 以下字段仅在事件循环中访问
	snap  snapshot
	views map[string]*ViewState
	subs  map[string]map[chan struct{}]struct{}
}

func NewHub(cfg Config, c Components) *Hub {
	def := DefaultConfig()
	if cfg.ViewTTL <= 0 {
		cfg.ViewTTL = def.ViewTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	return &Hub{
		cfg:        cfg,
		controller: c.Controller,
		logger:     c.Logger,
		monitor:    c.Monitor,
		alerts:     c.Alerts,
		now:        time.Now,
		events:     make(chan func(), 64),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
		views:      make(map[string]*ViewState),
		subs:       make(map[string]map[chan struct{}]struct{}),
	}
}

// Start 启动事件循环。
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("session hub already started")
	}
	h.started = true
	go h.run(ctx)
	return nil
}

// Stop 停止事件循环，幂等。
func (h *Hub) Stop() error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}
	select {
	case <-h.doneChan:
	case <-time.After(5 * time.Second):
		h.logger.Warn("timeout waiting for session hub to stop")
	}
	return nil
}

// Health 事件循环是否仍在运行。
func (h *Hub) Health() error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if !started {
		return ErrHubStopped
	}
	select {
	case <-h.doneChan:
		return ErrHubStopped
	default:
		return nil
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.doneChan)
	sweep := time.NewTicker(h.cfg.SweepInterval)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case fn := <-h.events:
			fn()
		case <-sweep.C:
			h.sweep()
		}
	}
}

// post 投递事件，不等待执行。
func (h *Hub) post(fn func()) bool {
	select {
	case <-h.stopChan:
		return false
	default:
	}
	select {
	case h.events <- fn:
		return true
	case <-h.stopChan:
		return false
	case <-h.doneChan:
		return false
	}
}

// do 投递事件并等待其执行完成。ctx 只约束投递；一旦投递成功，闭包会写调用方的变量，
// 必须等它跑完或事件循环退出后才能返回。
func (h *Hub) do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-h.stopChan:
		return ErrHubStopped
	default:
	}
	done := make(chan struct{})
	select {
	case h.events <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopChan:
		return ErrHubStopped
	case <-h.doneChan:
		return ErrHubStopped
	}
	select {
	case <-done:
		return nil
	case <-h.doneChan:
		// 循环已退出：闭包要么已执行完，要么永远不会执行
		select {
		case <-done:
			return nil
		default:
			return ErrHubStopped
		}
	}
}

// ApplySessions implements poller.Sink. A failed read clears the session list,
// which renders as disconnected.
func (h *Hub) ApplySessions(r poller.Result[[]order.Session]) {
	h.post(func() {
		if r.Tick < h.snap.sessionsTick {
			return
		}
		h.snap.sessionsTick = r.Tick
		if r.OK() {
			h.snap.sessions = r.Data
		} else {
			h.snap.sessions = nil
		}
		h.setConnected(connectedOf(h.snap.sessions))
		h.touch()
	})
}

// ApplyOrders implements poller.Sink. A failed read keeps the previous list.
func (h *Hub) ApplyOrders(r poller.Result[[]order.Order]) {
	h.post(func() {
		if r.Tick < h.snap.ordersTick || !r.OK() {
			return
		}
		h.snap.ordersTick = r.Tick
		h.snap.orders = r.Data
		h.monitor.UpdateOrderStats(bucketsOf(blotter.ComputeStats(r.Data)))
		h.touch()
	})
}

// ApplyExecutions implements poller.Sink. A failed read keeps the previous list.
func (h *Hub) ApplyExecutions(r poller.Result[[]order.Execution]) {
	h.post(func() {
		if r.Tick < h.snap.execsTick || !r.OK() {
			return
		}
		h.snap.execsTick = r.Tick
		h.snap.execs = r.Data
		h.touch()
	})
}

func (h *Hub) setConnected(connected bool) {
	prev, known := h.snap.connected, h.snap.known
	h.snap.connected = connected
	h.snap.known = true
	if known && prev == connected {
		return
	}
	h.monitor.SetConnected(connected)
	desc := footerOf(h.snap.sessions, connected)
	h.logger.LogEvent("connection_change", map[string]interface{}{
		"connected": connected,
		"session":   desc,
	})
	if !known {
		return
	}
	fields := map[string]interface{}{"session": desc}
	var err error
	if connected {
		err = h.alerts.SendInfo("OEMS session connected", fields)
	} else {
		err = h.alerts.SendWarning("OEMS session disconnected", fields)
	}
	if err != nil {
		h.logger.Warn("send connection alert failed", zap.Error(err))
	}
}

// touch 通知所有订阅者有新数据。
func (h *Hub) touch() {
	h.snap.updatedAt = h.now()
	for _, set := range h.subs {
		for ch := range set {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Hub) notify(sid string) {
	for ch := range h.subs[sid] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// view 取得或创建浏览器会话。非法或空 sid 会分配新的 uuid。
func (h *Hub) view(sid string) *ViewState {
	if _, err := uuid.Parse(sid); err != nil {
		sid = uuid.NewString()
	}
	v, ok := h.views[sid]
	if !ok {
		v = NewViewState(sid)
		h.views[sid] = v
		h.logger.LogEvent("view_action", map[string]interface{}{"sid": sid, "action": "open"})
	}
	v.LastSeen = h.now()
	return v
}

func (h *Hub) sweep() {
	cutoff := h.now().Add(-h.cfg.ViewTTL)
	for sid, v := range h.views {
		if v.LastSeen.Before(cutoff) && len(h.subs[sid]) == 0 {
			delete(h.views, sid)
			h.logger.LogEvent("view_action", map[string]interface{}{"sid": sid, "action": "expire"})
		}
	}
}

// Open 返回 sid 对应（必要时新建）的视图。
func (h *Hub) Open(ctx context.Context, sid string) (View, error) {
	var out View
	err := h.do(ctx, func() {
		out = h.render(h.view(sid))
	})
	return out, err
}

// Subscribe 返回一个在数据或视图变化时收到信号的通道。
func (h *Hub) Subscribe(ctx context.Context, sid string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	err := h.do(ctx, func() {
		v := h.view(sid)
		sid = v.ID
		if h.subs[sid] == nil {
			h.subs[sid] = make(map[chan struct{}]struct{})
		}
		h.subs[sid][ch] = struct{}{}
	})
	if err != nil {
		return nil, nil, err
	}
	h.monitor.BrowserConnected()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.monitor.BrowserDisconnected()
			h.post(func() {
				if set := h.subs[sid]; set != nil {
					delete(set, ch)
					if len(set) == 0 {
						delete(h.subs, sid)
					}
				}
			})
		})
	}
	return ch, cancel, nil
}

// Select 选中（或再次点击时关闭）订单。非可操作订单或未知订单为 no-op。
func (h *Hub) Select(ctx context.Context, sid, clOrdID string) (View, error) {
	return h.mutate(ctx, sid, "select", func(v *ViewState) {
		for _, o := range h.snap.orders {
			if o.ClOrdID == clOrdID {
				v.Select(o)
				return
			}
		}
	})
}

func (h *Hub) Dismiss(ctx context.Context, sid string) (View, error) {
	return h.mutate(ctx, sid, "dismiss", func(v *ViewState) { v.Dismiss() })
}

func (h *Hub) SetFilter(ctx context.Context, sid, filter string) (View, error) {
	return h.mutate(ctx, sid, "filter", func(v *ViewState) { v.SetFilter(filter) })
}

func (h *Hub) mutate(ctx context.Context, sid, name string, fn func(*ViewState)) (View, error) {
	var out View
	err := h.do(ctx, func() {
		v := h.view(sid)
		fn(v)
		h.logger.LogEvent("view_action", map[string]interface{}{"sid": v.ID, "action": name, "state": string(v.State())})
		h.notify(v.ID)
		out = h.render(v)
	})
	return out, err
}

// Submit 下单。结果只写入提示，不改动订单列表。
func (h *Hub) Submit(ctx context.Context, sid string, in action.NewOrderInput) (View, error) {
	out := h.controller.Submit(ctx, in)
	return h.mutate(ctx, sid, "submit", func(v *ViewState) {
		v.EntryNotice = noticeOf(out)
	})
}

// Amend 对当前选中订单改单。目标在事件循环内读取，请求在循环外发送。
func (h *Hub) Amend(ctx context.Context, sid string, in action.AmendInput) (View, error) {
	return h.onSelection(ctx, sid, "amend", func(t action.Target) action.Outcome {
		return h.controller.Amend(ctx, t, in)
	})
}

// Cancel 撤销当前选中订单。
func (h *Hub) Cancel(ctx context.Context, sid string) (View, error) {
	return h.onSelection(ctx, sid, "cancel", func(t action.Target) action.Outcome {
		return h.controller.Cancel(ctx, t)
	})
}

func (h *Hub) onSelection(ctx context.Context, sid, name string, call func(action.Target) action.Outcome) (View, error) {
	var target action.Target
	if err := h.do(ctx, func() {
		v := h.view(sid)
		sid = v.ID
		if v.Selection != nil {
			target = v.Selection.Target()
		}
	}); err != nil {
		return View{}, err
	}
	out := call(target)
	return h.mutate(ctx, sid, name, func(v *ViewState) {
		v.ApplyOutcome(target, out)
	})
}

// ClearExecutions 立即清空本视图的成交列表，下一轮轮询后恢复显示。
func (h *Hub) ClearExecutions(ctx context.Context, sid string) (View, error) {
	if err := h.do(ctx, func() {
		v := h.view(sid)
		sid = v.ID
		v.hideExecutions(h.snap.execsTick)
	}); err != nil {
		return View{}, err
	}
	out := h.controller.ClearExecutions(ctx)
	return h.mutate(ctx, sid, "clear_executions", func(v *ViewState) {
		v.ActionNotice = noticeOf(out)
	})
}

// Stats 当前 ViewState 数，用于 healthz。
func (h *Hub) Stats(ctx context.Context) (views, subscribers int, err error) {
	err = h.do(ctx, func() {
		views = len(h.views)
		for _, set := range h.subs {
			subscribers += len(set)
		}
	})
	return views, subscribers, err
}

func connectedOf(sessions []order.Session) bool {
	for _, s := range sessions {
		if s.LoggedOn {
			return true
		}
	}
	return false
}

var _ poller.Sink = (*Hub)(nil)
