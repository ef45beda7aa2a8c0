// Package mirror provides read-only access to the local Okta mirror
// database. The mirror is populated by a separate sync process; this
// client never writes.
package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/oktant/oktant/pkg/plan"
)

// Config holds mirror database connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Client wraps a pooled database handle for mirror queries.
type Client struct {
	db *sql.DB
}

// DB returns the underlying handle for health checks.
func (c *Client) DB() *sql.DB { return c.db }

// NewClient opens a pooled connection to the mirror database and verifies it.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mirror database: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an existing handle (useful for testing).
func NewClientFromDB(db *sql.DB) *Client { return &Client{db: db} }

// Close releases the connection pool.
func (c *Client) Close() error { return c.db.Close() }

// ErrNotReadOnly is returned for statements other than SELECT/WITH.
var ErrNotReadOnly = fmt.Errorf("mirror queries must be read-only (SELECT or WITH)")

// IsReadOnly reports whether the statement text is a plain read.
func IsReadOnly(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH")
}

// QueryPages runs a read-only query and delivers rows to fn in pages of
// pageSize records with uniform keys. fn returning an error (typically
// ctx.Err between pages) aborts the scan. Returns the total record count.
//
// Memory stays bounded: only one page is materialized at a time; callers
// decide what to retain.
func (c *Client) QueryPages(ctx context.Context, query string, args []any, pageSize int, fn func(page []plan.Record) error) (int, error) {
	if !IsReadOnly(query) {
		return 0, ErrNotReadOnly
	}
	if pageSize <= 0 {
		pageSize = 200
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mirror query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("mirror query columns: %w", err)
	}

	total := 0
	page := make([]plan.Record, 0, pageSize)
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		page = make([]plan.Record, 0, pageSize)
		return nil
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return total, fmt.Errorf("mirror row scan: %w", err)
		}
		rec := make(plan.Record, len(cols))
		for i, col := range cols {
			rec[col] = normalizeValue(values[i])
		}
		page = append(page, rec)
		total++
		if len(page) >= pageSize {
			if err := flush(); err != nil {
				return total, err
			}
			// Honor cancellation between pages.
			if err := ctx.Err(); err != nil {
				return total, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return total, fmt.Errorf("mirror rows: %w", err)
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// normalizeValue converts driver types to JSON-friendly values.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}
