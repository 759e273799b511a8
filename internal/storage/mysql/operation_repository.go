package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentMarket-Chain/internal/errors"
)

// 操作在表中的状态值。
const (
	OperationPending = "pending"
	OperationRunning = "running"
)

// OperationRecord 是 ledger_operations 表中的一行。
type OperationRecord struct {
	ID          string
	Kind        string
	Caller      string
	AgentID     uint64
	CallPayload json.RawMessage
	Status      string
	Seq         uint64
	Receipt     json.RawMessage
	ErrorCode   string
	LastError   string
	CreatedAt   int64
	UpdatedAt   int64
}

// OperationFilter 控制列表与统计查询。
type OperationFilter struct {
	Statuses   []string
	Kinds      []string
	Caller     string
	UpdatedGTE int64
	UpdatedLTE int64
	Ascending  bool
	Limit      int
	Offset     int
}

// OperationCounts 按状态聚合的计数。
type OperationCounts struct {
	Total   int
	ByState map[string]int
	Oldest  int64
	Newest  int64
}

var (
	// ErrOperationNotFound 表示操作不存在。
	ErrOperationNotFound = xerrors.New(xerrors.CodeNotFound, "操作不存在")
	// ErrOperationConflict 表示操作已存在或状态不允许本次更新。
	ErrOperationConflict = xerrors.New(xerrors.CodeConflict, "操作状态冲突")
)

// OperationRepository 使用 MySQL 记录异步调用的生命周期。
type OperationRepository struct {
	db *sql.DB
}

// NewOperationRepository 包装已迁移的连接池。
func NewOperationRepository(db *sql.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// OpenOperationRepository 建立连接并执行迁移。
func OpenOperationRepository(ctx context.Context, cfg Config) (*OperationRepository, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化操作仓库失败")
	}
	return &OperationRepository{db: db}, nil
}

const operationColumns = `id, kind, caller, agent_id, call_payload, status, seq, receipt, error_code, last_error, created_at, updated_at`

const insertOperationSQL = `INSERT INTO ledger_operations
    (id, kind, caller, agent_id, call_payload, status, seq, receipt, error_code, last_error, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, 0, NULL, '', '', ?, ?)`

const selectOperationSQL = `SELECT ` + operationColumns + ` FROM ledger_operations WHERE id = ?`

const claimOperationSQL = `UPDATE ledger_operations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

const finishOperationSQL = `UPDATE ledger_operations
    SET status = ?, seq = ?, receipt = ?, error_code = ?, last_error = ?, updated_at = ?
    WHERE id = ? AND status IN (?, ?)`

// Insert 写入新的待处理操作，主键冲突返回 ErrOperationConflict。
func (r *OperationRepository) Insert(ctx context.Context, record OperationRecord) error {
	_, err := r.db.ExecContext(ctx, insertOperationSQL,
		record.ID,
		record.Kind,
		record.Caller,
		record.AgentID,
		string(record.CallPayload),
		OperationPending,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrOperationConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入操作失败")
	}
	return nil
}

// Get 查询单个操作。
func (r *OperationRepository) Get(ctx context.Context, id string) (*OperationRecord, error) {
	record, err := scanOperation(r.db.QueryRowContext(ctx, selectOperationSQL, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrOperationNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作失败")
	}
	return record, nil
}

// Claim 以条件更新的方式将 pending 操作置为 running，返回是否领取成功。
func (r *OperationRepository) Claim(ctx context.Context, id string, now int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, claimOperationSQL, OperationRunning, now, id, OperationPending)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "领取操作失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return affected > 0, nil
}

// Finish 写入终态。只有 pending 或 running 的操作可以结束。
func (r *OperationRepository) Finish(ctx context.Context, record OperationRecord) error {
	var receipt any
	if len(record.Receipt) > 0 {
		receipt = string(record.Receipt)
	}
	res, err := r.db.ExecContext(ctx, finishOperationSQL,
		record.Status,
		record.Seq,
		receipt,
		record.ErrorCode,
		record.LastError,
		record.UpdatedAt,
		record.ID,
		OperationPending,
		OperationRunning,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新操作状态失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrOperationConflict
	}
	return nil
}

// List 按过滤条件分页返回操作。
func (r *OperationRepository) List(ctx context.Context, filter OperationFilter) ([]*OperationRecord, error) {
	query := `SELECT ` + operationColumns + ` FROM ledger_operations`
	clause, args := buildOperationFilter(filter)
	if clause != "" {
		query += " WHERE " + clause
	}
	if filter.Ascending {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作列表失败")
	}
	defer rows.Close()

	records := make([]*OperationRecord, 0, filter.Limit)
	for rows.Next() {
		record, err := scanOperation(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析操作记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历操作失败")
	}
	return records, nil
}

// Count 返回按状态聚合的统计。
func (r *OperationRepository) Count(ctx context.Context, filter OperationFilter) (OperationCounts, error) {
	query := `SELECT status, COUNT(*), COALESCE(MIN(updated_at), 0), COALESCE(MAX(updated_at), 0) FROM ledger_operations`
	clause, args := buildOperationFilter(filter)
	if clause != "" {
		query += " WHERE " + clause
	}
	query += " GROUP BY status"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return OperationCounts{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作统计失败")
	}
	defer rows.Close()

	counts := OperationCounts{ByState: make(map[string]int)}
	for rows.Next() {
		var status string
		var n int
		var oldest, newest int64
		if err := rows.Scan(&status, &n, &oldest, &newest); err != nil {
			return OperationCounts{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析操作统计失败")
		}
		counts.ByState[status] = n
		counts.Total += n
		if counts.Oldest == 0 || (oldest != 0 && oldest < counts.Oldest) {
			counts.Oldest = oldest
		}
		if newest > counts.Newest {
			counts.Newest = newest
		}
	}
	if err := rows.Err(); err != nil {
		return OperationCounts{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历操作统计失败")
	}
	return counts, nil
}

// Close 关闭底层连接池。
func (r *OperationRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*OperationRecord, error) {
	var record OperationRecord
	var payload []byte
	var receipt sql.NullString
	var lastError sql.NullString
	if err := row.Scan(
		&record.ID,
		&record.Kind,
		&record.Caller,
		&record.AgentID,
		&payload,
		&record.Status,
		&record.Seq,
		&receipt,
		&record.ErrorCode,
		&lastError,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.CallPayload = json.RawMessage(payload)
	if receipt.Valid && receipt.String != "" {
		record.Receipt = json.RawMessage(receipt.String)
	}
	record.LastError = lastError.String
	return &record, nil
}

func buildOperationFilter(filter OperationFilter) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	in := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		conditions = append(conditions, fmt.Sprintf("%s IN (%s)", column, placeholders))
		for _, v := range values {
			args = append(args, v)
		}
	}
	in("status", filter.Statuses)
	in("kind", filter.Kinds)

	if filter.Caller != "" {
		conditions = append(conditions, "caller = ?")
		args = append(args, filter.Caller)
	}
	if filter.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, filter.UpdatedGTE)
	}
	if filter.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, filter.UpdatedLTE)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}
