package ops

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
	"AgentMarket-Chain/internal/storage/mysql"
)

// MySQLStore 将操作保存在 ledger_operations 表中，允许多个进程共享同一条管道。
type MySQLStore struct {
	repo *mysql.OperationRepository
}

// NewMySQLStore 打开连接池、执行迁移并返回存储。
func NewMySQLStore(ctx context.Context, cfg mysql.Config) (*MySQLStore, error) {
	repo, err := mysql.OpenOperationRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &MySQLStore{repo: repo}, nil
}

// NewMySQLStoreWithRepository 使用已有仓库构造存储。
func NewMySQLStoreWithRepository(repo *mysql.OperationRepository) *MySQLStore {
	return &MySQLStore{repo: repo}
}

// Create 插入新的操作记录。
func (s *MySQLStore) Create(ctx context.Context, op *Operation) error {
	if op == nil || op.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作 ID 不能为空")
	}
	payload, err := json.Marshal(op.Call)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码调用失败")
	}
	now := time.Now().Unix()
	if op.CreatedAt == 0 {
		op.CreatedAt = now
	}
	op.UpdatedAt = now
	op.Status = StatusPending

	err = s.repo.Insert(ctx, mysql.OperationRecord{
		ID:          op.ID,
		Kind:        string(op.Call.Kind),
		Caller:      op.Call.Caller.Hex(),
		AgentID:     op.Call.AgentID,
		CallPayload: payload,
		CreatedAt:   op.CreatedAt,
		UpdatedAt:   op.UpdatedAt,
	})
	if stdErrors.Is(err, mysql.ErrOperationConflict) {
		return ErrOperationConflict
	}
	return err
}

// Get 查询指定操作。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Operation, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		if stdErrors.Is(err, mysql.ErrOperationNotFound) {
			return nil, ErrOperationNotFound
		}
		return nil, err
	}
	return fromRecord(record)
}

// Claim 以条件更新保证同一操作只会被一个工作协程领取。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Operation, error) {
	claimed, err := s.repo.Claim(ctx, id, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	op, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if claimed {
		return op, nil
	}
	if op.Status.Terminal() {
		return op, ErrOperationCompleted
	}
	return op, ErrOperationConflict
}

// MarkApplied 记录回执。
func (s *MySQLStore) MarkApplied(ctx context.Context, id string, receipt *ledger.Receipt) error {
	record := mysql.OperationRecord{ID: id, Status: string(StatusApplied)}
	if receipt != nil {
		encoded, err := json.Marshal(receipt)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码回执失败")
		}
		record.Seq = receipt.Seq
		record.Receipt = encoded
	}
	return s.finish(ctx, record)
}

// MarkRejected 记录业务拒绝。
func (s *MySQLStore) MarkRejected(ctx context.Context, id string, code xerrors.Code, reason string) error {
	return s.finish(ctx, mysql.OperationRecord{ID: id, Status: string(StatusRejected), ErrorCode: string(code), LastError: reason})
}

// MarkFailed 记录基础设施失败。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error {
	return s.finish(ctx, mysql.OperationRecord{ID: id, Status: string(StatusFailed), ErrorCode: string(code), LastError: lastError})
}

func (s *MySQLStore) finish(ctx context.Context, record mysql.OperationRecord) error {
	record.UpdatedAt = time.Now().Unix()
	err := s.repo.Finish(ctx, record)
	if stdErrors.Is(err, mysql.ErrOperationConflict) {
		if _, getErr := s.Get(ctx, record.ID); stdErrors.Is(getErr, ErrOperationNotFound) {
			return ErrOperationNotFound
		}
		return ErrOperationCompleted
	}
	return err
}

// List 返回符合条件的操作。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Operation, error) {
	opts.applyDefaults()
	records, err := s.repo.List(ctx, toFilter(opts))
	if err != nil {
		return nil, err
	}
	ops := make([]*Operation, 0, len(records))
	for _, record := range records {
		op, err := fromRecord(record)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Stats 返回聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()
	counts, err := s.repo.Count(ctx, toFilter(opts))
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{OldestUpdatedAt: counts.Oldest, NewestUpdatedAt: counts.Newest}
	for status, n := range counts.ByState {
		stats.add(Status(status), n)
	}
	return stats, nil
}

// Close 关闭底层连接池。
func (s *MySQLStore) Close() error {
	if s == nil {
		return nil
	}
	return s.repo.Close()
}

func toFilter(opts ListOptions) mysql.OperationFilter {
	filter := mysql.OperationFilter{
		UpdatedGTE: opts.UpdatedGTE,
		UpdatedLTE: opts.UpdatedLTE,
		Ascending:  opts.Order == SortByUpdatedAsc,
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	}
	for _, status := range opts.Statuses {
		filter.Statuses = append(filter.Statuses, string(status))
	}
	for _, kind := range opts.Kinds {
		filter.Kinds = append(filter.Kinds, string(kind))
	}
	if opts.Caller != (common.Address{}) {
		filter.Caller = opts.Caller.Hex()
	}
	return filter
}

func fromRecord(record *mysql.OperationRecord) (*Operation, error) {
	op := &Operation{
		ID:        record.ID,
		Status:    Status(record.Status),
		ErrorCode: record.ErrorCode,
		LastError: record.LastError,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	if err := json.Unmarshal(record.CallPayload, &op.Call); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析调用失败")
	}
	if len(record.Receipt) > 0 {
		var receipt ledger.Receipt
		if err := json.Unmarshal(record.Receipt, &receipt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析回执失败")
		}
		op.Receipt = &receipt
	}
	return op, nil
}

var _ Store = (*MySQLStore)(nil)
