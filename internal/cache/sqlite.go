package cache

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/database"
)

// SQLiteBackend stores entries in one table of the cache database, http_cache
// unless it is a partition
type SQLiteBackend struct {
	db    *database.DB
	table string
	owner bool
}

// NewSQLiteBackend wraps an opened database and takes ownership of it
func NewSQLiteBackend(db *database.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db, table: database.CacheTable, owner: true}
}

// OpenSQLite opens the cache database at path
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := database.NewDB(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteBackend(db), nil
}

// Load retrieves an entry
func (s *SQLiteBackend) Load(ctx context.Context, key string) (Entry, bool, error) {
	row, ok, err := s.db.GetEntry(ctx, s.table, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	return Entry{
		Key:       row.Key,
		Payload:   []byte(row.Response),
		Status:    row.Status,
		Timestamp: fromEpoch(row.Timestamp),
	}, true, nil
}

// Store saves an entry with INSERT OR REPLACE
func (s *SQLiteBackend) Store(ctx context.Context, entry Entry) error {
	return s.db.PutEntry(ctx, s.table, database.CacheRow{
		Key:       entry.Key,
		Response:  string(entry.Payload),
		Status:    entry.Status,
		Timestamp: toEpoch(entry.Timestamp),
	})
}

// Delete removes an entry
func (s *SQLiteBackend) Delete(ctx context.Context, key string) (bool, error) {
	return s.db.DeleteEntry(ctx, s.table, key)
}

// Clear removes all entries
func (s *SQLiteBackend) Clear(ctx context.Context) (int64, error) {
	return s.db.ClearTable(ctx, s.table)
}

// Stats returns entry count and age range
func (s *SQLiteBackend) Stats(ctx context.Context) (Stats, error) {
	summary, err := s.db.TableStats(ctx, s.table)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Count: summary.Count}
	if summary.Count > 0 {
		stats.Oldest = fromEpoch(summary.Oldest)
		stats.Newest = fromEpoch(summary.Newest)
	}
	return stats, nil
}

// Keys lists entries newest first
func (s *SQLiteBackend) Keys(ctx context.Context, limit int) ([]KeyInfo, error) {
	rows, err := s.db.ListKeys(ctx, s.table, limit)
	if err != nil {
		return nil, err
	}
	keys := make([]KeyInfo, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, KeyInfo{Key: row.Key, Status: row.Status, Timestamp: fromEpoch(row.Timestamp)})
	}
	return keys, nil
}

// Partition returns a backend over another table of the same database.
// Closing a partition leaves the database open.
func (s *SQLiteBackend) Partition(name string) (Backend, error) {
	for _, table := range database.Tables {
		if table == name && table != s.table {
			return &SQLiteBackend{db: s.db, table: table}, nil
		}
	}
	return nil, fmt.Errorf("no sqlite table for partition %q", name)
}

// Close closes the database unless s is a partition
func (s *SQLiteBackend) Close() error {
	if !s.owner {
		return nil
	}
	return s.db.Close()
}
