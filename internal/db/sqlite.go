package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	// ErrStorageUnavailable is returned when the store cannot be opened.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStorageWrite is returned when a batch transaction fails and was rolled back.
	ErrStorageWrite = errors.New("storage write failed")
)

//go:embed schema.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// dialect captures the differences between the supported backends
type dialect struct {
	name   string
	driver string
	schema string
	// placeholder returns the bind parameter for the n-th (1-based) argument
	placeholder func(n int) string
}

var (
	sqliteDialect = dialect{
		name:        "sqlite",
		driver:      "sqlite",
		schema:      sqliteSchema,
		placeholder: func(int) string { return "?" },
	}
	postgresDialect = dialect{
		name:        "postgres",
		driver:      "pgx",
		schema:      postgresSchema,
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}
)

// DB wraps a database connection with write serialization
type DB struct {
	conn    *sql.DB
	dialect dialect
	writeMu sync.Mutex // one batch transaction at a time per handle
	now     func() time.Time
}

// Open opens or creates the store at location. A postgres:// or postgresql://
// URL selects Postgres; anything else is treated as a SQLite file path.
func Open(location string) (*DB, error) {
	d, dsn := resolve(location)

	conn, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s database: %v", ErrStorageUnavailable, d.name, err)
	}

	if d.name == sqliteDialect.name {
		// SQLite only supports one writer at a time
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetConnMaxLifetime(time.Hour)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to ping %s database: %v", ErrStorageUnavailable, d.name, err)
	}

	if d.name == sqliteDialect.name {
		pragmas := []string{
			"PRAGMA synchronous = NORMAL", // safe with WAL
			"PRAGMA temp_store = MEMORY",
		}
		for _, pragma := range pragmas {
			if _, err := conn.Exec(pragma); err != nil {
				slog.Warn("failed to set pragma", "pragma", pragma, "err", err)
			}
		}
	}

	slog.Info("connected to database", "backend", d.name)
	return &DB{conn: conn, dialect: d, now: time.Now}, nil
}

func resolve(location string) (dialect, string) {
	if strings.HasPrefix(location, "postgres://") || strings.HasPrefix(location, "postgresql://") {
		return postgresDialect, location
	}
	if location == ":memory:" || strings.HasPrefix(location, "file:") {
		return sqliteDialect, location
	}
	return sqliteDialect, location + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Backend reports which dialect the handle speaks ("sqlite" or "postgres").
func (db *DB) Backend() string {
	return db.dialect.name
}

// EnsureSchema creates the vehicle_locations table if it doesn't exist.
// Schema ownership normally sits outside the poller; this is opt-in.
func (db *DB) EnsureSchema(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.ExecContext(ctx, db.dialect.schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	slog.Info("database schema ensured", "backend", db.dialect.name)
	return nil
}
