package ops

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
)

// MemoryStore 以内存方式保存操作状态，适用于单进程部署与测试。
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]*Operation)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, op *Operation) error {
	if op == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作不能为空")
	}
	if strings.TrimSpace(op.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ops[op.ID]; ok {
		return ErrOperationConflict
	}
	now := time.Now().Unix()
	if op.CreatedAt == 0 {
		op.CreatedAt = now
	}
	op.UpdatedAt = now
	if op.Status == "" {
		op.Status = StatusPending
	}
	m.ops[op.ID] = cloneOperation(op)
	return nil
}

// Get 返回操作。
func (m *MemoryStore) Get(_ context.Context, id string) (*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return cloneOperation(op), nil
}

// Claim 将操作状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	switch {
	case op.Status.Terminal():
		return cloneOperation(op), ErrOperationCompleted
	case op.Status == StatusRunning:
		return cloneOperation(op), ErrOperationConflict
	}
	op.Status = StatusRunning
	op.UpdatedAt = time.Now().Unix()
	return cloneOperation(op), nil
}

// MarkApplied 记录账本回执。
func (m *MemoryStore) MarkApplied(_ context.Context, id string, receipt *ledger.Receipt) error {
	return m.finish(id, func(op *Operation) {
		op.Status = StatusApplied
		if receipt != nil {
			copied := *receipt
			op.Receipt = &copied
		}
		op.ErrorCode = ""
		op.LastError = ""
	})
}

// MarkRejected 记录业务拒绝。
func (m *MemoryStore) MarkRejected(_ context.Context, id string, code xerrors.Code, reason string) error {
	return m.finish(id, func(op *Operation) {
		op.Status = StatusRejected
		op.ErrorCode = string(code)
		op.LastError = reason
	})
}

// MarkFailed 记录基础设施失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string) error {
	return m.finish(id, func(op *Operation) {
		op.Status = StatusFailed
		op.ErrorCode = string(code)
		op.LastError = lastError
	})
}

func (m *MemoryStore) finish(id string, apply func(*Operation)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return ErrOperationNotFound
	}
	if op.Status.Terminal() {
		return ErrOperationCompleted
	}
	apply(op)
	op.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合条件的操作。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Operation, 0, len(m.ops))
	for _, op := range m.ops {
		if !matchesListFilters(op, opts) {
			continue
		}
		results = append(results, cloneOperation(op))
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID > b.ID
	})

	if opts.Offset >= len(results) {
		return []*Operation{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的操作数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, op := range m.ops {
		if !matchesListFilters(op, opts) {
			continue
		}
		stats.add(op.Status, 1)
		if op.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = op.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (op.UpdatedAt != 0 && op.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = op.UpdatedAt
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
