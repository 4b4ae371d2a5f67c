// Package database connects to the target database that spreadsheets are
// imported into. PostgreSQL is served through pgx and SQLite through sqlx
// with the pure-Go modernc driver; both expose the same small DB interface.
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/JonMunkholm/sheetload/internal/config"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rows is the subset of a result set the catalog queries need.
// pgx.Rows satisfies it directly.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// DB is a connection to an import target.
type DB interface {
	Dialect() Dialect
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Open connects to the database named by cfg.URL. postgres:// and
// postgresql:// URLs use pgx; sqlite: URLs use the embedded SQLite driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (DB, error) {
	switch {
	case strings.HasPrefix(cfg.URL, "postgres://"), strings.HasPrefix(cfg.URL, "postgresql://"):
		return OpenPostgres(ctx, cfg)
	case strings.HasPrefix(cfg.URL, "sqlite:"):
		return OpenSQLite(ctx, strings.TrimPrefix(cfg.URL, "sqlite:"))
	default:
		return nil, fmt.Errorf("unsupported database URL scheme (want postgres:// or sqlite:)")
	}
}

// IsConnectionError reports whether err means the database could not be
// reached, as opposed to a statement being rejected.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	// context.DeadlineExceeded satisfies net.Error.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception
		return strings.HasPrefix(pgErr.Code, "08")
	}
	return false
}

// DriverMessage returns the message the driver reported for a failed
// statement, including the detail line PostgreSQL attaches to constraint
// violations.
func DriverMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Detail != "" {
			return pgErr.Error() + ": " + pgErr.Detail
		}
		return pgErr.Error()
	}
	return err.Error()
}
