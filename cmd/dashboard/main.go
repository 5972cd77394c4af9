package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"oems-dashboard/config"
	"oems-dashboard/internal/container"
)

func main() {
	cfgPath := flag.String("config", "", "配置文件路径，留空使用默认配置")
	listen := flag.String("listen", "", "页面监听地址，覆盖配置 server.addr")
	apiURL := flag.String("api", "", "OEMS API 地址，覆盖配置 api.baseURL")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *listen != "" {
		cfg.Server.Addr = *listen
	}
	if *apiURL != "" {
		cfg.API.BaseURL = *apiURL
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("配置无效: %v", err)
	}

	c := container.NewWithConfig(cfg, *cfgPath)
	if err := c.Build(); err != nil {
		log.Fatalf("构建失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		c.Logger().Error("启动失败", zap.Error(err))
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	c.Logger().Info("收到退出信号", zap.String("signal", sig.String()))

	if err := c.Stop(); err != nil {
		cancel()
		os.Exit(1)
	}
}
