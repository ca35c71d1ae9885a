package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iabetor/newslens/internal/app"
	"github.com/iabetor/newslens/internal/config"
	"github.com/iabetor/newslens/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/newslens.yaml", "配置文件路径")
	sweepOnly := flag.Bool("sweep", false, "清理一次过期摘要缓存后退出")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infof("[main] NewsLens 启动中 (log_level=%s)", cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("[main] 收到信号 %v，正在关闭...", sig)
		cancel()
	}()

	if err := run(ctx, cfg, *sweepOnly); err != nil {
		logger.Errorf("[main] %v", err)
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("[main] NewsLens 已停止")
}

// run 创建应用并运行到 ctx 取消，返回前关闭所有组件。
func run(ctx context.Context, cfg *config.Config, sweepOnly bool) error {
	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("初始化失败: %w", err)
	}
	defer a.Close()

	if sweepOnly {
		n := a.SweepCache(ctx)
		logger.Infof("[main] 已清理过期摘要 %d 条", n)
		return nil
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("运行出错: %w", err)
	}
	return nil
}

// loadConfig 配置文件不存在时使用默认配置。
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "配置文件 %s 不存在，使用默认配置\n", path)
		return config.Default(), nil
	}
	return config.Load(path)
}
