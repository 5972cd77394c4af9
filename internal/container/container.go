package container

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"oems-dashboard/action"
	"oems-dashboard/config"
	"oems-dashboard/gateway"
	"oems-dashboard/infrastructure/alert"
	"oems-dashboard/infrastructure/logger"
	"oems-dashboard/infrastructure/monitor"
	"oems-dashboard/poller"
	"oems-dashboard/session"
	"oems-dashboard/web"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 后端网关
	client *gateway.OEMSClient

	// 核心服务
	controller *action.Controller
	hub        *session.Hub
	poller     *poller.Poller
	web        *web.Server

	// systemd watchdog，0 表示未启用
	watchdog     time.Duration
	lastWatchdog time.Time

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例。configPath 为空时使用默认配置。
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已加载的配置。
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	c.buildGateway()

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.String("env", c.cfg.Env),
		zap.String("api", c.cfg.API.BaseURL),
		zap.String("listen", c.cfg.Server.Addr))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	c.alerts = alert.NewManager([]alert.Channel{
		alert.NewLogChannel("log", c.logger),
	}, c.cfg.Alert.Throttle())

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() {
	c.client = gateway.NewOEMSClient(c.cfg.API.BaseURL)
	c.client.ReadTimeout = c.cfg.API.ReadTimeout()
	c.client.WriteTimeout = c.cfg.API.WriteTimeout()

	c.logger.Info("gateway built")
}

func (c *Container) buildCoreServices() error {
	c.controller = action.NewController(c.client, c.logger, c.monitor)

	c.hub = session.NewHub(session.Config{ViewTTL: c.cfg.Poll.ViewTTL()}, session.Components{
		Controller: c.controller,
		Logger:     c.logger,
		Monitor:    c.monitor,
		Alerts:     c.alerts,
	})

	c.poller = &poller.Poller{
		Source:          c.client,
		Sink:            c.hub,
		Interval:        c.cfg.Poll.Interval(),
		ExecutionsLimit: c.cfg.Poll.ExecutionsLimit,
		Logger:          c.logger,
		Monitor:         c.monitor,
	}

	var err error
	c.web, err = web.NewServer(web.Config{Addr: c.cfg.Server.Addr}, c.hub, c.logger, c.HealthCheck)
	if err != nil {
		return err
	}

	c.logger.Info("core services built")
	return nil
}

func (c *Container) registerLifecycleComponents() {
	c.lifecycle.Register("session_hub", c.hub)
	c.lifecycle.Register("poller", newPollerComponent(c.poller, c.logger, c.onTick))
	c.lifecycle.Register("web_server", &webComponent{server: c.web})
	if c.cfg.Metrics.Addr != "" {
		c.lifecycle.Register("metrics_server", &httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		})
	}
	if c.configPath != "" {
		c.lifecycle.Register("config_watcher", &watcherComponent{
			watcher: config.Watcher{Path: c.configPath},
			logger:  c.logger,
		})
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	// 必须在轮询启动前确定，onTick 会读取
	if wd, err := daemon.SdWatchdogEnabled(false); err == nil {
		c.watchdog = wd
	}

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		c.logger.Warn("sd_notify ready failed", zap.Error(err))
	} else if ok {
		c.logger.Info("systemd notified", zap.Duration("watchdog", c.watchdog))
	}

	c.logger.Info("container started", zap.String("addr", c.web.Addr()))
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	c.logger.Info("container stopped")
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// onTick 每轮轮询开始时在调度 goroutine 中调用，按 watchdog 周期的一半喂狗。
func (c *Container) onTick(uint64) {
	if c.watchdog <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(c.lastWatchdog) < c.watchdog/2 {
		return
	}
	c.lastWatchdog = now
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		c.logger.Debug("sd_notify watchdog failed", zap.Error(err))
	}
}

// Logger 供 main 在容器构建后使用。
func (c *Container) Logger() *logger.Logger {
	return c.logger
}

// Hub 供测试注入轮询结果。
func (c *Container) Hub() *session.Hub {
	return c.hub
}
