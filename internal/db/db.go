package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed schema_postgres.sql schema_sqlite.sql
var schemas embed.FS

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DB couples a connection pool with the SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// DialectFor picks postgres for postgres:// URLs and sqlite for anything else.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

func Open(ctx context.Context, dsn string) (*DB, error) {
	dialect := DialectFor(dsn)
	if dialect == SQLite {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	}
	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DB{DB: conn, Dialect: dialect}, nil
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}
	return nil
}

// RunMigrations applies the embedded schema for the connection's dialect.
func RunMigrations(ctx context.Context, db *DB) error {
	data, err := schemas.ReadFile("schema_" + string(db.Dialect) + ".sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	for _, stmt := range strings.Split(string(data), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $n placeholders into the dialect's form.
func (db *DB) Rebind(q string) string {
	if db.Dialect == Postgres {
		return q
	}
	return placeholder.ReplaceAllString(q, "?$1")
}

// sqlite keeps timestamps as fixed-width UTC text so they compare in order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// TimeArg converts t into a value the dialect stores and compares correctly.
func (db *DB) TimeArg(t time.Time) any {
	if db.Dialect == SQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// Time scans timestamp columns from either dialect.
type Time struct {
	time.Time
}

var scanLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("scan time: unsupported type %T", src)
}

func (t *Time) parse(s string) error {
	for _, layout := range scanLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("scan time: unrecognized value %q", s)
}
