package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultCacheFile is the database file name used when only a directory is configured
const DefaultCacheFile = "http_cache.db"

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	path     string
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// CacheRow is one row of a keyed table
type CacheRow struct {
	Key       string
	Response  string
	Status    int
	Timestamp float64 // seconds since the Unix epoch
}

// CacheSummary describes the contents of a keyed table
type CacheSummary struct {
	Count  int64
	Oldest float64
	Newest float64
}

// NewConnectionPool creates a new database connection pool
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"max_lifetime_seconds": cp.maxLifetime.Seconds(),
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB opens (creating if needed) the SQLite cache database at path
func NewDB(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite serializes writers; a small pool keeps WAL readers concurrent
	pool := NewConnectionPool(db, 8, 2, 5*time.Minute)

	database := &DB{
		DB:       db,
		path:     path,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := database.initPreparedStatements(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Cache database initialized",
		"path", path,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns)

	return database, nil
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

// Tables share one schema: key, response, status and timestamp
const (
	CacheTable  = "http_cache"
	ReportTable = "reports"
)

// Tables lists every table created by migrate
var Tables = []string{CacheTable, ReportTable}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	var queries []string
	for _, table := range Tables {
		queries = append(queries,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			response TEXT,
			status INTEGER,
			timestamp REAL
		)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_timestamp ON %s(timestamp DESC)`, table, table),
		)
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// initPreparedStatements initializes frequently used prepared statements
func (db *DB) initPreparedStatements() error {
	statements := make(map[string]string)
	for _, table := range Tables {
		statements[table+".put"] = fmt.Sprintf(`INSERT OR REPLACE INTO %s (key, response, status, timestamp) VALUES (?, ?, ?, ?)`, table)
		statements[table+".get"] = fmt.Sprintf(`SELECT key, response, status, timestamp FROM %s WHERE key = ?`, table)
		statements[table+".delete"] = fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, table)
		statements[table+".clear"] = fmt.Sprintf(`DELETE FROM %s`, table)
		statements[table+".stats"] = fmt.Sprintf(`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM %s`, table)
		statements[table+".list"] = fmt.Sprintf(`SELECT key, status, timestamp FROM %s
			ORDER BY timestamp DESC, key ASC LIMIT ?`, table)
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// PutEntry inserts or replaces the row for row.Key in table
func (db *DB) PutEntry(ctx context.Context, table string, row CacheRow) error {
	stmt, err := db.GetPreparedStatement(table + ".put")
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, row.Key, row.Response, row.Status, row.Timestamp); err != nil {
		return fmt.Errorf("failed to store %s entry: %w", table, err)
	}
	return nil
}

// GetEntry loads the row for key; ok is false when no row exists
func (db *DB) GetEntry(ctx context.Context, table, key string) (row CacheRow, ok bool, err error) {
	stmt, err := db.GetPreparedStatement(table + ".get")
	if err != nil {
		return CacheRow{}, false, err
	}

	var response sql.NullString
	var status sql.NullInt64
	var ts sql.NullFloat64
	err = stmt.QueryRowContext(ctx, key).Scan(&row.Key, &response, &status, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheRow{}, false, nil
	}
	if err != nil {
		return CacheRow{}, false, fmt.Errorf("failed to read %s entry: %w", table, err)
	}

	row.Response = response.String
	row.Status = int(status.Int64)
	row.Timestamp = ts.Float64
	return row, true, nil
}

// DeleteEntry removes key and reports whether a row existed
func (db *DB) DeleteEntry(ctx context.Context, table, key string) (bool, error) {
	stmt, err := db.GetPreparedStatement(table + ".delete")
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecContext(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s entry: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearTable removes every row and returns how many were deleted
func (db *DB) ClearTable(ctx context.Context, table string) (int64, error) {
	stmt, err := db.GetPreparedStatement(table + ".clear")
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", table, err)
	}
	return res.RowsAffected()
}

// TableStats summarizes table
func (db *DB) TableStats(ctx context.Context, table string) (CacheSummary, error) {
	stmt, err := db.GetPreparedStatement(table + ".stats")
	if err != nil {
		return CacheSummary{}, err
	}

	var summary CacheSummary
	var oldest, newest sql.NullFloat64
	if err := stmt.QueryRowContext(ctx).Scan(&summary.Count, &oldest, &newest); err != nil {
		return CacheSummary{}, fmt.Errorf("failed to read %s stats: %w", table, err)
	}
	summary.Oldest = oldest.Float64
	summary.Newest = newest.Float64
	return summary, nil
}

// ListKeys returns up to limit rows of table, newest first, without payloads
func (db *DB) ListKeys(ctx context.Context, table string, limit int) ([]CacheRow, error) {
	stmt, err := db.GetPreparedStatement(table + ".list")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", table, err)
	}
	defer rows.Close()

	var out []CacheRow
	for rows.Next() {
		var row CacheRow
		var status sql.NullInt64
		var ts sql.NullFloat64
		if err := rows.Scan(&row.Key, &status, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan %s key: %w", table, err)
		}
		row.Status = int(status.Int64)
		row.Timestamp = ts.Float64
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
