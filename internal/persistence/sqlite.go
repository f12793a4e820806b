package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcusd/internal/errs"
)

// collectionName guards against table-name injection: collections are
// static identifiers, never user input, but the check is cheap
var collectionName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLiteStore is the relational backend. WAL mode gives many readers
// alongside the single writer; the application keeps that discipline with
// one write connection and a pool of read connections. Opening a fresh
// connection per query is prohibited.
type SQLiteStore struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string

	mu      sync.Mutex
	created map[string]bool // collections whose table exists
}

// NewSQLiteStore opens (creating if needed) the database at path with
// poolSize reader connections
func NewSQLiteStore(path string, poolSize int) (*SQLiteStore, error) {
	if poolSize < 1 {
		poolSize = 4
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	writeDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	readDB.SetMaxOpenConns(poolSize)
	readDB.SetMaxIdleConns(poolSize)

	s := &SQLiteStore{
		writeDB: writeDB,
		readDB:  readDB,
		path:    path,
		created: make(map[string]bool),
	}

	if err := s.checkIntegrity(); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, err
	}
	return s, nil
}

// checkIntegrity runs a quick corruption probe at open
func (s *SQLiteStore) checkIntegrity() error {
	var result string
	if err := s.readDB.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return errs.Wrap(errs.KindStorage, err, "integrity check failed")
	}
	if result != "ok" {
		return errs.Newf(errs.KindStorage, "database corrupt: %s", result)
	}
	return nil
}

// ensureCollection creates the collection table on first use
func (s *SQLiteStore) ensureCollection(collection string) error {
	if !collectionName.MatchString(collection) {
		return errs.Newf(errs.KindBusinessLogic, "invalid collection name %q", collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created[collection] {
		return nil
	}

	_, err := s.writeDB.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS c_%s (
			key TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			stored_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_stored_at ON c_%s (stored_at);
	`, collection, collection, collection))
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "failed to create collection table")
	}
	s.created[collection] = true
	return nil
}

// Store upserts a value, stamping _stored_at in UTC
func (s *SQLiteStore) Store(ctx context.Context, collection, key string, value interface{}) error {
	if err := s.ensureCollection(collection); err != nil {
		return err
	}
	data, err := encode(value)
	if err != nil {
		return err
	}

	_, err = s.writeDB.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO c_%s (key, data, stored_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data=excluded.data, stored_at=excluded.stored_at
	`, collection), key, string(data), time.Now().UTC())
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "store failed").WithOp("store")
	}
	return nil
}

// Retrieve loads a value by key
func (s *SQLiteStore) Retrieve(ctx context.Context, collection, key string, out interface{}) error {
	if err := s.ensureCollection(collection); err != nil {
		return err
	}

	var data string
	err := s.readDB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM c_%s WHERE key = ?`, collection), key).Scan(&data)
	if err == sql.ErrNoRows {
		return fmt.Errorf("retrieve %s/%s: %w", collection, key, errs.ErrNotFound)
	}
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "retrieve failed").WithOp("retrieve")
	}

	rec := Record{Key: key, Data: []byte(data)}
	return rec.Decode(out)
}

// Query scans the collection in insertion (rowid) order and applies the
// filter, offset, and capped limit in the application
func (s *SQLiteStore) Query(ctx context.Context, collection string, filter FilterFunc, limit, offset int) ([]Record, error) {
	if err := s.ensureCollection(collection); err != nil {
		return nil, err
	}

	rows, err := s.readDB.QueryContext(ctx,
		fmt.Sprintf(`SELECT key, data, stored_at FROM c_%s ORDER BY rowid`, collection))
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "query failed").WithOp("query")
	}
	defer rows.Close()

	var matched []Record
	for rows.Next() {
		var rec Record
		var data string
		var storedAt time.Time
		if err := rows.Scan(&rec.Key, &data, &storedAt); err != nil {
			return nil, errs.Wrap(errs.KindTransient, err, "query scan failed")
		}
		rec.Data = []byte(data)
		rec.StoredAt = storedAt.UTC()
		if filter == nil || filter(rec) {
			matched = append(matched, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "query iteration failed")
	}
	return window(matched, limit, offset), nil
}

// Delete removes a key; missing keys are not an error
func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	if err := s.ensureCollection(collection); err != nil {
		return err
	}
	_, err := s.writeDB.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM c_%s WHERE key = ?`, collection), key)
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "delete failed").WithOp("delete")
	}
	return nil
}

// ClearOld removes entries stored before the threshold
func (s *SQLiteStore) ClearOld(ctx context.Context, collection string, olderThan time.Time) (int, error) {
	if err := s.ensureCollection(collection); err != nil {
		return 0, err
	}
	res, err := s.writeDB.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM c_%s WHERE stored_at < ?`, collection), olderThan.UTC())
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "clear_old failed").WithOp("clear_old")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes both connection pools
func (s *SQLiteStore) Close() error {
	rerr := s.readDB.Close()
	werr := s.writeDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
