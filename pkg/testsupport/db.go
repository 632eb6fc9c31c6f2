package testsupport

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// OpenDB opens a private in-memory sqlite database for one test. Tables
// created by stmts exist before the handle is returned.
func OpenDB(t *testing.T, stmts ...string) *bun.DB {
	t.Helper()
	return OpenDBWithDSN(t, "file:"+uuid.NewString()+"?mode=memory&cache=shared", stmts...)
}

// OpenDBWithDSN is OpenDB for a caller chosen sqlite DSN. With a shared
// cache DSN other handles opened in the same process see the same data for
// as long as this one stays open.
func OpenDBWithDSN(t *testing.T, dsn string, stmts ...string) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// one connection keeps the in-memory database alive for the whole test
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	Exec(t, db, stmts...)
	return db
}

// Exec runs raw statements, failing the test on the first error.
func Exec(t *testing.T, db bun.IDB, stmts ...string) {
	t.Helper()

	for _, stmt := range stmts {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

// Count returns the number of rows in table.
func Count(t *testing.T, db bun.IDB, table string) int {
	t.Helper()

	n, err := db.NewSelect().TableExpr("?", bun.Ident(table)).Count(context.Background())
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
