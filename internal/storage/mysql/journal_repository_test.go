package mysql

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentMarket-Chain/internal/errors"
)

func TestFileJournalRepositoryAppendAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewFileJournalRepository(dir)
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}

	ctx := context.Background()
	for i := uint64(1); i <= 3; i++ {
		record := JournalRecord{
			Seq:      i,
			Kind:     "register",
			Now:      int64(100 + i),
			Payload:  json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
			PrevHash: fmt.Sprintf("prev-%d", i),
			Hash:     fmt.Sprintf("hash-%d", i),
		}
		if err := repo.Append(ctx, record); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if err := repo.Append(ctx, JournalRecord{Seq: 3, Kind: "burn"}); !stdErrors.Is(err, ErrJournalConflict) {
		t.Fatalf("expected conflict for duplicate seq, got %v", err)
	}
	if err := repo.Append(ctx, JournalRecord{Seq: 9, Kind: "burn"}); !stdErrors.Is(err, ErrJournalConflict) {
		t.Fatalf("expected conflict for gap, got %v", err)
	}

	reopened, err := NewFileJournalRepository(dir)
	if err != nil {
		t.Fatalf("reopen repo: %v", err)
	}
	records, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[2].Seq != 3 || records[2].Hash != "hash-3" || string(records[2].Payload) != `{"n":3}` {
		t.Fatalf("unexpected record: %+v", records[2])
	}
	if records[0].CreatedAt == 0 {
		t.Fatalf("created_at should be stamped")
	}
	if err := reopened.Append(ctx, JournalRecord{Seq: 4, Kind: "burn", Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
}

func TestFileJournalRepositoryRejectsCorruptLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "journal.log")
	content := `{"seq":1,"kind":"register","now":1,"payload":{},"prev_hash":"a","hash":"b"}` + "\n" + `{"seq":2,"kind":`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, err := NewFileJournalRepository(dir)
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestSQLJournalRepositoryAppend(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(insertJournalSQL, mockResult{rowsAffected: 1}),
		{typ: opExec, query: insertJournalSQL, err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}},
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := NewSQLJournalRepository(db)
	record := JournalRecord{Seq: 1, Kind: "register", Now: 10, Payload: json.RawMessage(`{}`), PrevHash: "0x00", Hash: "0x01", CreatedAt: 10}
	if err := repo.Append(context.Background(), record); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := repo.Append(context.Background(), record); !stdErrors.Is(err, ErrJournalConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSQLJournalRepositoryLoad(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"seq", "kind", "ledger_time", "payload", "prev_hash", "hash", "created_at"},
		values: [][]driver.Value{
			{int64(1), "register", int64(10), `{"kind":"register"}`, "0x00", "0x01", int64(11)},
			{int64(2), "burn", int64(12), `{"kind":"burn"}`, "0x01", "0x02", int64(13)},
		},
	}
	db, driver := newMockDB(t, []mockOperation{queryOp(selectJournalSQL, rows)})
	defer driver.assertConsumed(t)
	defer db.Close()

	records, err := NewSQLJournalRepository(db).Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 2 || records[1].Seq != 2 || records[1].PrevHash != "0x01" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if string(records[0].Payload) != `{"kind":"register"}` {
		t.Fatalf("unexpected payload: %s", records[0].Payload)
	}
}

func TestMigrateAppliesEmbeddedFiles(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected journal and operations migrations, got %d", len(files))
	}

	ops := []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{files[0].version}},
		}),
	}
	for _, migration := range files[1:] {
		ops = append(ops, beginOp())
		for _, stmt := range migration.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops,
			execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}

	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
}

func TestMigrateRollsBackFailedStatement(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	first := files[0]

	db, driver := newMockDB(t, []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		{typ: opExec, query: first.statements[0], err: fmt.Errorf("syntax error")},
		rollbackOp(),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := Migrate(context.Background(), db); err == nil {
		t.Fatalf("expected migration failure")
	}
}

func TestSplitSQLStatements(t *testing.T) {
	got := splitSQLStatements("CREATE TABLE a (x INT);\n\n  ;CREATE TABLE b (y INT);")
	if len(got) != 2 || got[1] != "CREATE TABLE b (y INT)" {
		t.Fatalf("unexpected statements %q", got)
	}
	if v := parseMigrationVersion("0002_create_ledger_operations.sql"); v != "0002" {
		t.Fatalf("unexpected version %s", v)
	}
}

func TestSplitSQLStatementsDropsComments(t *testing.T) {
	got := splitSQLStatements("-- journal table\nCREATE TABLE a (x INT);\n  -- trailing note\n")
	if len(got) != 1 || got[0] != "CREATE TABLE a (x INT)" {
		t.Fatalf("unexpected statements %q", got)
	}
	if v := parseMigrationVersion("0003.sql"); v != "0003" {
		t.Fatalf("unexpected version %s", v)
	}
}
