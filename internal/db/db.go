package db

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

// Config selects the in-memory database backing one session.
type Config struct {
	// Name isolates sessions from each other; connections sharing a
	// name see the same data.
	Name string
}

func dsn(name string) string {
	if name == "" {
		name = "demandline"
	}
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", url.PathEscape(name))
}

// Open opens the session database. The pool is pinned to one connection:
// it serializes every statement, and the memory database is dropped as
// soon as its last connection closes, so Close discards the session data.
func Open(cfg Config) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn(cfg.Name))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open session db: %w", err)
	}
	return conn, nil
}

// Timestamps are stored fixed-width so lexical order matches time order.
const (
	TimeLayout = "2006-01-02T15:04:05.000000000Z"
	DateLayout = "2006-01-02"
)

// In builds "column IN (?,?,...)" for a non-empty value list.
func In[T ~string](column string, values []T) (string, []any) {
	args := make([]any, len(values))
	marks := make([]byte, 0, len(values)*2)
	for i, v := range values {
		args[i] = string(v)
		if i > 0 {
			marks = append(marks, ',')
		}
		marks = append(marks, '?')
	}
	return column + " IN (" + string(marks) + ")", args
}
