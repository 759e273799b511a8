package ops

import (
	"context"
	"log/slog"
	"time"

	"AgentMarket-Chain/internal/clock"
	"AgentMarket-Chain/internal/ledger"
	"AgentMarket-Chain/pkg/logger"
)

// Sweeper 周期性地关闭已过期的挂牌。空扫描不会写入日志。
type Sweeper struct {
	applier  Applier
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper 创建 Sweeper。interval 不大于 0 时 Run 立即返回。
func NewSweeper(applier Applier, c clock.Clock, interval time.Duration) *Sweeper {
	if c == nil {
		c = clock.System{}
	}
	return &Sweeper{applier: applier, clock: c, interval: interval, logger: logger.Named("sweeper")}
}

// Run 阻塞执行直到 ctx 结束。
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("清理过期挂牌失败", slog.Any("error", err))
			}
		}
	}
}

// SweepOnce 执行一次清理并返回关闭的挂牌数量。
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now, err := s.clock.Now(ctx)
	if err != nil {
		return 0, err
	}
	receipt, err := s.applier.Apply(ctx, ledger.Call{Kind: ledger.KindSweep}, now)
	if err != nil {
		return 0, err
	}
	if receipt.Swept > 0 {
		s.logger.Info("已关闭过期挂牌", slog.Int("count", receipt.Swept), slog.Uint64("seq", receipt.Seq))
	}
	return receipt.Swept, nil
}
