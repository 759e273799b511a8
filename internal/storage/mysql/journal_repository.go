package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentMarket-Chain/internal/errors"
)

// JournalRecord 表示账本日志中的一条已提交调用。
type JournalRecord struct {
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Now       int64           `json:"now"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
	CreatedAt int64           `json:"created_at"`
}

// JournalRepository 抽象账本日志的持久化。Append 必须按序号连续写入。
type JournalRepository interface {
	Append(ctx context.Context, record JournalRecord) error
	Load(ctx context.Context) ([]JournalRecord, error)
	Close() error
}

// ErrJournalConflict 表示序号已被占用或不连续。
var ErrJournalConflict = xerrors.New(xerrors.CodeConflict, "日志序号冲突")

// FileJournalRepository 以 JSON Lines 文件保存日志，便于单机开发。
type FileJournalRepository struct {
	mu       sync.Mutex
	dataFile string
	lastSeq  uint64
}

// NewFileJournalRepository 在 dataDir 下打开（或创建）journal.log。
func NewFileJournalRepository(dataDir string) (*FileJournalRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &FileJournalRepository{dataFile: filepath.Join(dataDir, "journal.log")}
	records, err := repo.readAll()
	if err != nil {
		return nil, err
	}
	if n := len(records); n > 0 {
		repo.lastSeq = records[n-1].Seq
	}
	return repo, nil
}

// Append 追加一条记录并落盘。
func (r *FileJournalRepository) Append(_ context.Context, record JournalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.Seq != r.lastSeq+1 {
		return ErrJournalConflict
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化日志记录失败")
	}

	file, err := os.OpenFile(r.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开日志文件失败")
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入日志文件失败")
	}
	if err := file.Sync(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "同步日志文件失败")
	}
	r.lastSeq = record.Seq
	return nil
}

// Load 按序号返回全部记录。
func (r *FileJournalRepository) Load(context.Context) ([]JournalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readAll()
}

// Close 实现 JournalRepository。
func (r *FileJournalRepository) Close() error { return nil }

func (r *FileJournalRepository) readAll() ([]JournalRecord, error) {
	file, err := os.OpenFile(r.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取日志文件失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var records []JournalRecord
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record JournalRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("日志第 %d 行损坏", line))
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析日志文件失败")
	}
	return records, nil
}

// SQLJournalRepository 将日志写入 ledger_journal 表。
type SQLJournalRepository struct {
	db *sql.DB
}

// NewSQLJournalRepository 使用已迁移的连接池创建仓库。
func NewSQLJournalRepository(db *sql.DB) *SQLJournalRepository {
	return &SQLJournalRepository{db: db}
}

// OpenSQLJournalRepository 建立连接、执行迁移并返回仓库。
func OpenSQLJournalRepository(ctx context.Context, cfg Config) (*SQLJournalRepository, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化日志仓库失败")
	}
	return &SQLJournalRepository{db: db}, nil
}

const insertJournalSQL = `INSERT INTO ledger_journal
    (seq, kind, ledger_time, payload, prev_hash, hash, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)`

const selectJournalSQL = `SELECT seq, kind, ledger_time, payload, prev_hash, hash, created_at
    FROM ledger_journal ORDER BY seq ASC`

// Append 实现 JournalRepository，重复序号返回冲突。
func (s *SQLJournalRepository) Append(ctx context.Context, record JournalRecord) error {
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, insertJournalSQL,
		record.Seq,
		record.Kind,
		record.Now,
		string(record.Payload),
		record.PrevHash,
		record.Hash,
		record.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrJournalConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入日志失败")
	}
	return nil
}

// Load 实现 JournalRepository。
func (s *SQLJournalRepository) Load(ctx context.Context) ([]JournalRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectJournalSQL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询日志失败")
	}
	defer rows.Close()

	var records []JournalRecord
	for rows.Next() {
		var record JournalRecord
		var payload []byte
		if err := rows.Scan(&record.Seq, &record.Kind, &record.Now, &payload, &record.PrevHash, &record.Hash, &record.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析日志失败")
		}
		record.Payload = json.RawMessage(payload)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历日志失败")
	}
	return records, nil
}

// Close 关闭底层连接池。
func (s *SQLJournalRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ JournalRepository = (*FileJournalRepository)(nil)
	_ JournalRepository = (*SQLJournalRepository)(nil)
)
