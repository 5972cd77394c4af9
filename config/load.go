package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"oems-dashboard/infrastructure/logger"
)

// AppConfig holds the dashboard runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	API     APIConfig     `yaml:"api"`
	Poll    PollConfig    `yaml:"poll"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     logger.Config `yaml:"log"`
	Alert   AlertConfig   `yaml:"alert"`
}

// APIConfig 后端 OEMS API。
type APIConfig struct {
	BaseURL        string `yaml:"baseURL"`
	ReadTimeoutMs  int    `yaml:"readTimeoutMs"`  // GET 以及清空成交记录
	WriteTimeoutMs int    `yaml:"writeTimeoutMs"` // 下单/改单/撤单
}

type PollConfig struct {
	IntervalMs      int `yaml:"intervalMs"`      // 刷新周期
	ExecutionsLimit int `yaml:"executionsLimit"` // 每次只取最近 N 条成交
	ViewTTLSeconds  int `yaml:"viewTTLSeconds"`  // 浏览器会话闲置多久后丢弃
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig 留空 Addr 则关闭 /metrics。
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type AlertConfig struct {
	ThrottleSeconds int `yaml:"throttleSeconds"`
}

// Default returns the configuration used when no file is given.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		API: APIConfig{
			BaseURL:        "http://localhost:8081/api",
			ReadTimeoutMs:  2000,
			WriteTimeoutMs: 5000,
		},
		Poll: PollConfig{
			IntervalMs:      2000,
			ExecutionsLimit: 50,
			ViewTTLSeconds:  1800,
		},
		Server:  ServerConfig{Addr: "0.0.0.0:8050"},
		Metrics: MetricsConfig{Addr: ":9100"},
		Log:     logger.DefaultConfig(),
		Alert:   AlertConfig{ThrottleSeconds: 60},
	}
}

func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c PollConfig) ViewTTL() time.Duration {
	return time.Duration(c.ViewTTLSeconds) * time.Second
}

func (c AlertConfig) Throttle() time.Duration {
	return time.Duration(c.ThrottleSeconds) * time.Second
}

// Load reads YAML config from path on top of Default() and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads .env (if any), the YAML file (if path is set),
// then applies OEMS_* environment overrides.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("OEMS_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("OEMS_LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := os.LookupEnv("OEMS_METRICS_ADDR"); ok {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("OEMS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api.baseURL must be an absolute http(s) URL, got %q", cfg.API.BaseURL)
	}
	if cfg.API.ReadTimeoutMs <= 0 {
		return errors.New("api.readTimeoutMs must be > 0")
	}
	if cfg.API.WriteTimeoutMs <= 0 {
		return errors.New("api.writeTimeoutMs must be > 0")
	}
	if cfg.Poll.IntervalMs <= 0 {
		return errors.New("poll.intervalMs must be > 0")
	}
	if cfg.Poll.ExecutionsLimit <= 0 {
		return errors.New("poll.executionsLimit must be > 0")
	}
	if cfg.Poll.ViewTTLSeconds < 0 {
		return errors.New("poll.viewTTLSeconds must be >= 0")
	}
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.Alert.ThrottleSeconds < 0 {
		return errors.New("alert.throttleSeconds must be >= 0")
	}
	return nil
}
