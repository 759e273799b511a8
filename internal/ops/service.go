package ops

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
	"AgentMarket-Chain/pkg/logger"
)

// SubmitRequest 描述一次提交。ID 为空时自动生成；相同 ID 的重复提交返回已有操作。
type SubmitRequest struct {
	ID   string
	Call ledger.Call
}

// Service 负责操作的创建与查询。
type Service struct {
	store    Store
	producer Producer
}

// NewService 构造操作服务。
func NewService(store Store, producer Producer) *Service {
	return &Service{store: store, producer: producer}
}

// Submit 创建一个新的操作并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Operation, error) {
	if !req.Call.Kind.Valid() {
		return nil, ledger.ErrUnknownKind
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "操作服务未初始化")
	}

	id := strings.TrimSpace(req.ID)
	if id != "" {
		op, err := s.store.Get(ctx, id)
		if err == nil {
			return op, nil
		}
		if !stdErrors.Is(err, ErrOperationNotFound) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	op := &Operation{ID: id, Call: req.Call, Status: StatusPending}
	if err := s.store.Create(ctx, op); err != nil {
		if stdErrors.Is(err, ErrOperationConflict) {
			return s.store.Get(ctx, id)
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, id); err != nil {
		logger.L().Error("操作入队失败", slog.Any("error", err), slog.String("operation_id", id))
		wrapped := xerrors.Wrap(xerrors.CodeQueueFailure, err, "发布操作到队列失败")
		_ = s.store.MarkFailed(ctx, id, xerrors.CodeQueueFailure, wrapped.Error())
		return nil, wrapped
	}
	logger.Audit().Info("操作入队成功",
		slog.String("operation_id", id),
		slog.String("kind", string(op.Call.Kind)),
		slog.String("caller", op.Call.Caller.Hex()),
	)
	return op, nil
}

// Get 返回指定操作的状态。
func (s *Service) Get(ctx context.Context, id string) (*Operation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的操作列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Operation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// WaitUntilDone 轮询直到操作进入终态或 ctx 结束。
func (s *Service) WaitUntilDone(ctx context.Context, id string, interval time.Duration) (*Operation, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		op, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if op.Status.Terminal() {
			return op, nil
		}
		select {
		case <-ctx.Done():
			return op, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待操作完成超时")
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	if s.producer != nil {
		err = stdErrors.Join(err, s.producer.Close())
	}
	return err
}
