package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// TimeLayout is how sqlite columns store instants. Fixed width UTC so that
// text ordering matches chronological ordering.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t for a sqlite TEXT column.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a value written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// OpenSQLite opens the embedded store at path (":memory:" for a private
// in-memory database) and applies every *.sql file in schema.
func OpenSQLite(ctx context.Context, path string, schema fs.FS) (*sql.DB, error) {
	dsn := sqliteDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection serializes writers, and keeps an in-memory database
	// alive for the life of the handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Classify(fmt.Errorf("ping sqlite: %w", err))
	}

	if schema != nil {
		if err := applySQLiteSchema(ctx, db, schema); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func sqliteDSN(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" || path == "" {
		return "file::memory:?" + pragmas
	}
	return "file:" + path + "?" + pragmas + "&_pragma=journal_mode(WAL)"
}

func applySQLiteSchema(ctx context.Context, db *sql.DB, schema fs.FS) error {
	files, err := fs.Glob(schema, "*/*.sql")
	if err != nil {
		return fmt.Errorf("list sqlite schema: %w", err)
	}
	top, err := fs.Glob(schema, "*.sql")
	if err != nil {
		return fmt.Errorf("list sqlite schema: %w", err)
	}
	files = append(files, top...)
	sort.Strings(files)

	for _, name := range files {
		content, err := fs.ReadFile(schema, name)
		if err != nil {
			return fmt.Errorf("read schema file %s: %w", name, err)
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema %s: %w", name, err)
			}
		}
	}
	return nil
}

// splitStatements breaks a schema file on statement terminators. The schema
// files contain no semicolons inside literals or triggers.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" && !onlyComments(stmt) {
			out = append(out, stmt)
		}
	}
	return out
}

func onlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
