package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"AgentMarket-Chain/internal/app"
	"AgentMarket-Chain/internal/config"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/internal/ops"
	"AgentMarket-Chain/pkg/logger"
)

// main 是 AgentMarket 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentmarketd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTMARKET_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentmarket.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := app.InitLogger(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("agentmarketd")

	ledger, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()
	seq, head, lastNow := ledger.Head()
	lg.Info("账本已恢复", slog.Uint64("seq", seq), slog.String("head", head), slog.Int64("now", lastNow))

	clk, releaseClock, err := app.BuildClock(ctx, cfg)
	if err != nil {
		return err
	}
	defer releaseClock()

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	queue, err := app.OpenQueue(ctx, cfg.Operations.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}
	service := ops.NewService(store, queue)
	defer func() {
		if err := service.Close(); err != nil {
			lg.Warn("关闭操作管道失败", slog.Any("error", err))
		}
	}()

	alerts := app.BuildAlerts(cfg.Alerting)
	if _, err := service.Recover(ctx, alerts); err != nil {
		return err
	}

	processor := ops.NewProcessor(ledger, store, queue,
		ops.WithWorkerCount(cfg.Operations.Workers),
		ops.WithClock(clk),
		ops.WithAlertDispatcher(alerts),
		ops.WithProcessorLogger(logger.Named("ops")),
	)
	sweeper := ops.NewSweeper(ledger, clk, time.Duration(cfg.Operations.SweepIntervalSeconds)*time.Second)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := processor.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("操作处理器异常退出", slog.Any("error", err))
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(runCtx)
	}()

	if addr := cfg.Metrics.Address; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartServer(runCtx, addr); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	lg.Info("agentmarketd 已启动",
		slog.String("queue", cfg.Operations.Queue.Driver),
		slog.String("store", cfg.Operations.Store.Driver),
		slog.String("journal", cfg.Journal.Driver),
		slog.Int("workers", cfg.Operations.Workers),
	)
	<-runCtx.Done()
	wg.Wait()

	if halted := ledger.Halted(); halted != nil {
		return halted
	}
	lg.Info("agentmarketd 已停止")
	return nil
}
