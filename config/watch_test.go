package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherStopsOnCancel(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	w := Watcher{Path: path}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Start(ctx, nil, nil); err == nil {
		t.Fatalf("expected context cancellation")
	}
}

func TestWatcherTriggersOnChange(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	w := Watcher{Path: path, Cooldown: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan AppConfig, 4)
	go func() {
		_ = w.Start(ctx, func(cfg AppConfig) { ch <- cfg }, nil)
	}()

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Log.Level != "warn" {
				t.Fatalf("unexpected reload %+v", cfg.Log)
			}
			return
		case <-tick.C:
			// 反复写入，避免 watcher 尚未注册时丢事件
			if err := os.WriteFile(path, []byte("env: dev\nlog:\n  level: warn\n"), 0o644); err != nil {
				t.Fatalf("rewrite: %v", err)
			}
		case <-deadline:
			t.Fatalf("watcher did not trigger")
		}
	}
}

func TestWatcherReportsInvalidReload(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	w := Watcher{Path: path, Cooldown: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 4)
	go func() {
		_ = w.Start(ctx, func(AppConfig) { t.Errorf("invalid config must not be applied") }, func(err error) { errs <- err })
	}()

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-errs:
			return
		case <-tick.C:
			if err := os.WriteFile(path, []byte("env: dev\npoll:\n  intervalMs: -1\n"), 0o644); err != nil {
				t.Fatalf("rewrite: %v", err)
			}
		case <-deadline:
			t.Fatalf("watcher did not report the invalid reload")
		}
	}
}
