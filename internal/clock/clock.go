// Package clock 为账本调用提供时间戳。账本本身从不读取系统时钟。
package clock

import (
	"context"
	"sync"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/web3"
)

// Clock 返回以 Unix 秒表示的当前时间。
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

// System 使用本机时钟。
type System struct{}

// Now 实现 Clock。
func (System) Now(context.Context) (int64, error) {
	return time.Now().Unix(), nil
}

// Manual 是可手动推进的时钟，主要用于测试与离线回放。
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual 创建起始于 start 的手动时钟。
func NewManual(start int64) *Manual {
	return &Manual{now: start}
}

// Now 实现 Clock。
func (m *Manual) Now(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now, nil
}

// Set 将时钟设置为 now。
func (m *Manual) Set(now int64) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Advance 将时钟向前推进 seconds 秒并返回新的时间。
func (m *Manual) Advance(seconds int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += seconds
	return m.now
}

// Chain 以最新区块的时间戳作为当前时间，与链上合约的 block.timestamp 语义一致。
type Chain struct {
	client  web3.Client
	timeout time.Duration
}

// NewChain 包装链客户端。timeout 为 0 时使用 10 秒。
func NewChain(client web3.Client, timeout time.Duration) *Chain {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Chain{client: client, timeout: timeout}
}

// Now 实现 Clock。
func (c *Chain) Now(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ts, err := c.client.HeadTime(ctx)
	if err != nil {
		code := xerrors.CodeUnknown
		if ctx.Err() != nil {
			code = xerrors.CodeTimeout
		}
		return 0, xerrors.Wrap(code, err, "读取区块时间失败")
	}
	return ts, nil
}

var (
	_ Clock = System{}
	_ Clock = (*Manual)(nil)
	_ Clock = (*Chain)(nil)
)
