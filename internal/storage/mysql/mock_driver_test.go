package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type operationType string

const (
	opExec     operationType = "exec"
	opQuery    operationType = "query"
	opBegin    operationType = "begin"
	opCommit   operationType = "commit"
	opRollback operationType = "rollback"
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation    { return mockOperation{typ: opBegin} }
func commitOp() mockOperation   { return mockOperation{typ: opCommit} }
func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

// scriptDriver 按顺序回放预先编排的数据库调用，任何偏离脚本的调用都会返回错误。
type scriptDriver struct {
	mu     sync.Mutex
	script []mockOperation
	pos    int
}

var scriptDrivers atomic.Int64

// newMockDB 注册一个只服务于当前测试的驱动实例，连接池限制为单连接以保证调用顺序。
func newMockDB(t *testing.T, script []mockOperation) (*sql.DB, *scriptDriver) {
	t.Helper()
	drv := &scriptDriver{script: script}
	name := fmt.Sprintf("agentmarket-script-%d", scriptDrivers.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

func (d *scriptDriver) assertConsumed(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos != len(d.script) {
		t.Fatalf("script stopped at step %d of %d", d.pos, len(d.script))
	}
}

// take 取出下一步脚本；query 非空时按空白归一化后比较。
func (d *scriptDriver) take(kind operationType, query string) (mockOperation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.script) {
		return mockOperation{}, fmt.Errorf("unscripted %s %q", kind, compactSQL(query))
	}
	step := d.script[d.pos]
	if step.typ != kind {
		return mockOperation{}, fmt.Errorf("step %d: want %s, got %s", d.pos, step.typ, kind)
	}
	if step.query != "" && compactSQL(step.query) != compactSQL(query) {
		return mockOperation{}, fmt.Errorf("step %d: want query %q, got %q", d.pos, compactSQL(step.query), compactSQL(query))
	}
	d.pos++
	return step, step.err
}

func (d *scriptDriver) Open(string) (driver.Conn, error) {
	return scriptConn{d}, nil
}

type scriptConn struct {
	d *scriptDriver
}

func (c scriptConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepared statements are not scripted: %s", query)
}

func (c scriptConn) Close() error { return nil }

func (c scriptConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.d.take(opBegin, ""); err != nil {
		return nil, err
	}
	return scriptTx{c.d}, nil
}

func (c scriptConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	step, err := c.d.take(opExec, query)
	if err != nil {
		return nil, err
	}
	return step.result, nil
}

func (c scriptConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	step, err := c.d.take(opQuery, query)
	if err != nil {
		return nil, err
	}
	return &scriptRows{columns: step.rows.columns, values: step.rows.values}, nil
}

func (c scriptConn) Ping(context.Context) error { return nil }

type scriptTx struct {
	d *scriptDriver
}

func (tx scriptTx) Commit() error {
	_, err := tx.d.take(opCommit, "")
	return err
}

func (tx scriptTx) Rollback() error {
	_, err := tx.d.take(opRollback, "")
	return err
}

type scriptRows struct {
	columns []string
	values  [][]driver.Value
}

func (r *scriptRows) Columns() []string { return r.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if len(r.values) == 0 {
		return io.EOF
	}
	copy(dest, r.values[0])
	r.values = r.values[1:]
	return nil
}

func compactSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
