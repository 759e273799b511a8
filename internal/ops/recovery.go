package ops

import (
	"context"
	"log/slog"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/observability/alerting"
	"AgentMarket-Chain/pkg/logger"
)

const recoveryPageSize = 100

// RecoveryReport 汇总启动恢复的结果。
type RecoveryReport struct {
	Republished int      `json:"republished"`
	Stranded    []string `json:"stranded,omitempty"`
}

// Recover 在守护进程启动时调用。
//
// pending 操作可能在入队前进程退出，重新发布是安全的：Claim 保证同一操作最多执行一次。
// running 操作可能已在账本提交，自动重投会重复执行，因此只上报告警等待人工核对。
func (s *Service) Recover(ctx context.Context, dispatcher alerting.Dispatcher) (RecoveryReport, error) {
	var report RecoveryReport
	if s.store == nil || s.producer == nil {
		return report, xerrors.New(xerrors.CodeInitializationFailure, "操作服务未初始化")
	}

	err := s.eachOperation(ctx, StatusPending, func(op *Operation) error {
		if err := s.producer.Publish(ctx, op.ID); err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "重新发布操作失败")
		}
		report.Republished++
		return nil
	})
	if err != nil {
		return report, err
	}

	err = s.eachOperation(ctx, StatusRunning, func(op *Operation) error {
		report.Stranded = append(report.Stranded, op.ID)
		if dispatcher == nil {
			return nil
		}
		cause := xerrors.New(xerrors.CodeStorageFailure, "操作停留在 running 状态，需要对照账本日志核对",
			xerrors.WithAlert(true),
			xerrors.WithMetadata("caller", op.Call.Caller.Hex()))
		if err := dispatcher.Notify(ctx, alerting.EventFromError(cause, op.ID, string(op.Call.Kind))); err != nil {
			logger.L().Error("告警通知失败", slog.Any("error", err), slog.String("operation_id", op.ID))
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	if report.Republished > 0 || len(report.Stranded) > 0 {
		logger.L().Info("操作恢复完成",
			slog.Int("republished", report.Republished),
			slog.Int("stranded", len(report.Stranded)),
		)
	}
	return report, nil
}

// eachOperation 按更新时间升序分页遍历指定状态的操作。
func (s *Service) eachOperation(ctx context.Context, status Status, fn func(*Operation) error) error {
	for offset := 0; ; offset += recoveryPageSize {
		page, err := s.store.List(ctx, buildListOptions([]ListOption{
			WithStatuses(status),
			WithSortOrder(SortByUpdatedAsc),
			WithLimit(recoveryPageSize),
			WithOffset(offset),
		}))
		if err != nil {
			return err
		}
		for _, op := range page {
			if err := fn(op); err != nil {
				return err
			}
		}
		if len(page) < recoveryPageSize {
			return nil
		}
	}
}
