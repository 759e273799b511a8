package ops

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strconv"

	"AgentMarket-Chain/internal/clock"
	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
	"AgentMarket-Chain/internal/observability/alerting"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/pkg/logger"
)

// Applier 是处理器依赖的账本能力。
type Applier interface {
	Apply(ctx context.Context, call ledger.Call, now int64) (*ledger.Receipt, error)
}

// Processor 负责从队列消费操作，加盖时间戳后交给账本执行。
type Processor struct {
	applier     Applier
	store       Store
	consumer    Consumer
	clock       clock.Clock
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。账本内部串行，多个协程只用于重叠存储与队列的 IO。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithClock 指定时间来源，默认使用系统时钟。
func WithClock(c clock.Clock) ProcessorOption {
	return func(p *Processor) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(applier Applier, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		applier:     applier,
		store:       store,
		consumer:    consumer,
		clock:       clock.System{},
		workerCount: 1,
		logger:      logger.Named("ops"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置操作消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, id string) error {
	if p.store == nil || p.applier == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	op, err := p.store.Claim(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrOperationNotFound) || stdErrors.Is(err, ErrOperationCompleted) || stdErrors.Is(err, ErrOperationConflict) {
			p.logger.Debug("跳过操作", slog.String("operation_id", id), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取操作失败", slog.Any("error", err), slog.String("operation_id", id))
		p.emitAlert(ctx, id, "", err)
		return err
	}

	now, err := p.clock.Now(ctx)
	if err != nil {
		return p.fail(ctx, op, err)
	}

	receipt, applyErr := p.applier.Apply(ctx, op.Call, now)
	if applyErr != nil {
		code := xerrors.CodeOf(applyErr)
		if xerrors.IsBusiness(code) {
			return p.reject(ctx, op, code, applyErr)
		}
		return p.fail(ctx, op, applyErr)
	}

	if err := p.store.MarkApplied(ctx, op.ID, receipt); err != nil {
		// 账本已提交但回写失败：操作停留在 running，不能重投。
		wrapped := xerrors.Wrap(xerrors.CodeStorageFailure, err, "回写操作回执失败",
			xerrors.WithMetadata("seq", formatSeq(receipt)),
			xerrors.WithAlert(true))
		p.logger.Error("回写操作回执失败", slog.Any("error", wrapped), slog.String("operation_id", op.ID))
		p.emitAlert(ctx, op.ID, op.Call.Kind, wrapped)
		return nil
	}
	metrics.ObserveOperation(string(op.Call.Kind), string(StatusApplied))
	p.logger.Debug("操作已提交",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Call.Kind)),
		slog.Uint64("seq", receipt.Seq),
	)
	return nil
}

func (p *Processor) reject(ctx context.Context, op *Operation, code xerrors.Code, cause error) error {
	if err := p.store.MarkRejected(ctx, op.ID, code, cause.Error()); err != nil {
		p.logger.Error("标记操作拒绝状态出错", slog.Any("error", err), slog.String("operation_id", op.ID))
		return err
	}
	metrics.ObserveOperation(string(op.Call.Kind), string(StatusRejected))
	logger.Audit().Info("操作被拒绝",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Call.Kind)),
		slog.String("caller", op.Call.Caller.Hex()),
		slog.String("error_code", string(code)),
		slog.String("reason", cause.Error()),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, op *Operation, cause error) error {
	code := xerrors.CodeOf(cause)
	if err := p.store.MarkFailed(ctx, op.ID, code, cause.Error()); err != nil {
		p.logger.Error("标记操作失败状态出错", slog.Any("error", err), slog.String("operation_id", op.ID))
		return err
	}
	metrics.ObserveOperation(string(op.Call.Kind), string(StatusFailed))
	logger.Audit().Warn("操作执行失败",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Call.Kind)),
		slog.String("error_code", string(code)),
		slog.String("error", cause.Error()),
	)
	// 结算通道拒绝等已登记为无需告警的错误只记审计日志，未分类错误一律告警。
	if _, typed := xerrors.From(cause); !typed || xerrors.ShouldAlert(cause) {
		p.emitAlert(ctx, op.ID, op.Call.Kind, cause)
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, id string, kind ledger.Kind, cause error) {
	if p.alerter == nil || cause == nil {
		return
	}
	if err := p.alerter.Notify(ctx, alerting.EventFromError(cause, id, string(kind))); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("operation_id", id))
	}
}

func formatSeq(receipt *ledger.Receipt) string {
	if receipt == nil {
		return "0"
	}
	return strconv.FormatUint(receipt.Seq, 10)
}
