package ops

import (
	"context"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
)

// Store 抽象了操作状态的持久化接口。
type Store interface {
	Create(ctx context.Context, op *Operation) error
	Get(ctx context.Context, id string) (*Operation, error)
	// Claim 将 pending 操作置为 running。已结束返回 ErrOperationCompleted，
	// 正在执行返回 ErrOperationConflict。
	Claim(ctx context.Context, id string) (*Operation, error)
	MarkApplied(ctx context.Context, id string, receipt *ledger.Receipt) error
	MarkRejected(ctx context.Context, id string, code xerrors.Code, reason string) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Operation, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
