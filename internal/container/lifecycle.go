package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"oems-dashboard/config"
	"oems-dashboard/infrastructure/logger"
	"oems-dashboard/poller"
	"oems-dashboard/web"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

type namedComponent struct {
	name string
	Lifecycle
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []namedComponent
	mu         sync.RWMutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// Register 注册组件，启动顺序即注册顺序
func (m *LifecycleManager) Register(name string, component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, namedComponent{name: name, Lifecycle: component})
}

// StartAll 按顺序启动所有组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			// 启动失败，回滚已启动的组件
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			return fmt.Errorf("start %s failed: %w", component.name, err)
		}
	}
	return nil
}

// StopAll 逆序停止所有组件，汇总全部错误
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var merr *multierror.Error
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("stop %s: %w", m.components[i].name, err))
		}
	}
	return merr.ErrorOrNil()
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", component.name, err)
		}
	}
	return nil
}

// httpServerComponent HTTP服务器组件（/metrics）
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger
	server  *http.Server
	started bool
	mu      sync.Mutex
}

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s listen %s: %w", h.name, h.addr, err)
	}
	h.server = &http.Server{Handler: h.handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		h.logger.Info(fmt.Sprintf("%s listening on %s", h.name, ln.Addr()))
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "listen",
			})
		}
	}()

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}

	h.logger.Info(fmt.Sprintf("%s stopped", h.name))
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// webComponent 仪表盘页面服务
type webComponent struct {
	server  *web.Server
	started atomic.Bool
}

func (w *webComponent) Start(ctx context.Context) error {
	if err := w.server.Start(ctx); err != nil {
		return err
	}
	w.started.Store(true)
	return nil
}

func (w *webComponent) Stop() error {
	if !w.started.Swap(false) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Stop(ctx)
}

func (w *webComponent) Health() error {
	if !w.started.Load() {
		return errors.New("web server not started")
	}
	return nil
}

// pollerComponent 会话期间一直运行，只在关闭时取消。
type pollerComponent struct {
	poller   *poller.Poller
	logger   *logger.Logger
	lastTick atomic.Int64
	cancel   context.CancelFunc
	done     chan struct{}
	now      func() time.Time
}

func newPollerComponent(p *poller.Poller, l *logger.Logger, onTick func(uint64)) *pollerComponent {
	pc := &pollerComponent{poller: p, logger: l, now: time.Now}
	p.OnTick = func(tick uint64) {
		pc.lastTick.Store(pc.now().UnixNano())
		if onTick != nil {
			onTick(tick)
		}
	}
	return pc
}

func (p *pollerComponent) Start(ctx context.Context) error {
	if p.done != nil {
		return nil
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		if err := p.poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("poller stopped", zap.Error(err))
		}
	}()
	return nil
}

func (p *pollerComponent) Stop() error {
	if p.done == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
		return errors.New("timeout waiting for poller")
	}
	p.done = nil
	return nil
}

// Health 超过三个周期没有 tick 视为卡住。
func (p *pollerComponent) Health() error {
	if p.done == nil {
		return errors.New("poller not started")
	}
	select {
	case <-p.done:
		return errors.New("poller exited")
	default:
	}
	last := p.lastTick.Load()
	if last == 0 {
		return nil
	}
	if gap := p.now().Sub(time.Unix(0, last)); gap > 3*p.poller.Interval {
		return fmt.Errorf("poller stalled for %s", gap.Round(time.Millisecond))
	}
	return nil
}

// watcherComponent 配置热加载，只应用日志级别。
type watcherComponent struct {
	watcher config.Watcher
	logger  *logger.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func (w *watcherComponent) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		err := w.watcher.Start(ctx, w.apply, func(err error) {
			w.logger.Warn("config reload failed", zap.String("path", w.watcher.Path), zap.Error(err))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("config watcher stopped", zap.Error(err))
		}
	}()
	return nil
}

func (w *watcherComponent) apply(cfg config.AppConfig) {
	if cfg.Log.Level == "" || cfg.Log.Level == w.logger.Level() {
		return
	}
	if err := w.logger.SetLevel(cfg.Log.Level); err != nil {
		w.logger.Warn("config reload failed", zap.Error(err))
		return
	}
	w.logger.LogEvent("config_reload", map[string]interface{}{
		"path":  w.watcher.Path,
		"level": cfg.Log.Level,
	})
}

func (w *watcherComponent) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	return nil
}

func (w *watcherComponent) Health() error {
	return nil
}
