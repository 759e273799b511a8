package main

import (
	"context"
	"fmt"
	"time"

	"AgentMarket-Chain/internal/app"
	"AgentMarket-Chain/internal/clock"
	"AgentMarket-Chain/internal/config"
	"AgentMarket-Chain/internal/ledger"
	"AgentMarket-Chain/internal/ops"
)

// executor 执行一次写调用并返回可打印的结果。
type executor interface {
	Execute(ctx context.Context, call ledger.Call) (any, error)
	Close() error
}

// newExecutor 按队列驱动选择执行方式：memory 队列只存在于进程内，因此直接写本地账本。
func newExecutor(ctx context.Context, env *environment, cfg *config.Config) (executor, error) {
	switch cfg.Operations.Queue.Driver {
	case "", "memory":
		return newLocalExecutor(ctx, cfg)
	default:
		return newRemoteExecutor(ctx, env, cfg)
	}
}

type localExecutor struct {
	ledger  *ledger.Ledger
	clock   clock.Clock
	release func()
}

func newLocalExecutor(ctx context.Context, cfg *config.Config) (*localExecutor, error) {
	l, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	clk, release, err := app.BuildClock(ctx, cfg)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	return &localExecutor{ledger: l, clock: clk, release: release}, nil
}

func (x *localExecutor) Execute(ctx context.Context, call ledger.Call) (any, error) {
	now, err := x.clock.Now(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := x.ledger.Apply(ctx, call, now)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (x *localExecutor) Close() error {
	x.release()
	return x.ledger.Close()
}

type remoteExecutor struct {
	service *ops.Service
	id      string
	wait    time.Duration
}

func newRemoteExecutor(ctx context.Context, env *environment, cfg *config.Config) (*remoteExecutor, error) {
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	queue, err := app.OpenQueue(ctx, cfg.Operations.Queue)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &remoteExecutor{
		service: ops.NewService(store, queue),
		id:      env.v.GetString("operation-id"),
		wait:    env.waitTimeout(),
	}, nil
}

func (x *remoteExecutor) Execute(ctx context.Context, call ledger.Call) (any, error) {
	op, err := x.service.Submit(ctx, ops.SubmitRequest{ID: x.id, Call: call})
	if err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, x.wait)
	defer cancel()
	done, err := x.service.WaitUntilDone(waitCtx, op.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("操作 %s: %w", op.ID, err)
	}
	if err := done.Err(); err != nil {
		return nil, fmt.Errorf("操作 %s: %w", op.ID, err)
	}
	return done, nil
}

func (x *remoteExecutor) Close() error {
	return x.service.Close()
}
