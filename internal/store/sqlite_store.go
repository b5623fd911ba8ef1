// Package store provides SQLite-backed persistence for moshaver.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// SQLiteStore is the SQLite-backed data store.
// Thread-safe; writes are serialized by mu.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore(ctx context.Context) (*SQLiteStore, error) {
	return Open(ctx, ":memory:")
}

// Open opens or creates the store at dsn and migrates it to SchemaVersion.
// Use ":memory:" for in-memory or a file path for persistent storage.
func Open(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database exists per connection, and SQLite
	// has a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := migrate(ctx, db, SchemaVersion); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SchemaVersion reports the on-disk schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// =============================================================================
// Collections
// =============================================================================

// Count returns the number of records in coll.
func (s *SQLiteStore) Count(ctx context.Context, coll Collection) (int, error) {
	t, err := coll.table()
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", coll, err)
	}
	return n, nil
}

// GetAll returns every record of coll in insertion order.
// A non-empty academicYear filters through the secondary index.
func (s *SQLiteStore) GetAll(ctx context.Context, coll Collection, academicYear string) ([]Record, error) {
	t, err := coll.table()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	if academicYear == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT id, academic_year, data FROM `+t+` ORDER BY rowid`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, academic_year, data FROM `+t+` WHERE academic_year = ? ORDER BY rowid`, academicYear)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll, err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		var data string
		if err := rows.Scan(&r.ID, &r.AcademicYear, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", coll, err)
		}
		r.Data = json.RawMessage(data)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Get retrieves a record by id. Returns nil if not found.
func (s *SQLiteStore) Get(ctx context.Context, coll Collection, id string) (*Record, error) {
	t, err := coll.table()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := Record{ID: id}
	var data string
	err = s.db.QueryRowContext(ctx,
		`SELECT academic_year, data FROM `+t+` WHERE id = ?`, id).Scan(&r.AcademicYear, &data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", coll, id, err)
	}
	r.Data = json.RawMessage(data)
	return &r, nil
}

// Put inserts or replaces a record keyed by its id.
func (s *SQLiteStore) Put(ctx context.Context, coll Collection, rec Record) error {
	return s.PutMany(ctx, coll, []Record{rec})
}

// PutMany upserts all records in one transaction.
func (s *SQLiteStore) PutMany(ctx context.Context, coll Collection, recs []Record) error {
	return s.Update(ctx, func(w Writer) error {
		for _, r := range recs {
			if err := w.Put(coll, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a record. Deleting a missing id is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, coll Collection, id string) error {
	return s.DeleteMany(ctx, coll, []string{id})
}

// DeleteMany removes all ids in one transaction.
func (s *SQLiteStore) DeleteMany(ctx context.Context, coll Collection, ids []string) error {
	return s.Update(ctx, func(w Writer) error {
		for _, id := range ids {
			if err := w.Delete(coll, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update runs fn inside a single transaction. Any error rolls everything back.
func (s *SQLiteStore) Update(ctx context.Context, fn func(w Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txWriter{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ClearAll empties every collection and the settings table.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	return s.Update(ctx, func(w Writer) error {
		return w.Clear()
	})
}

// =============================================================================
// Settings
// =============================================================================

// GetSetting decodes the value stored under key into dst.
// Reports false, leaving dst untouched, when the key was never written.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get setting %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), dst); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

// PutSetting stores value under key as JSON.
func (s *SQLiteStore) PutSetting(ctx context.Context, key string, value any) error {
	return s.Update(ctx, func(w Writer) error {
		return w.PutSetting(key, value)
	})
}

// =============================================================================
// Transaction writer
// =============================================================================

type txWriter struct {
	ctx context.Context
	tx  *sql.Tx
}

func (w *txWriter) Put(coll Collection, rec Record) error {
	t, err := coll.table()
	if err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("put %s: empty id", coll)
	}
	_, err = w.tx.ExecContext(w.ctx, `
		INSERT INTO `+t+` (id, academic_year, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET academic_year = excluded.academic_year, data = excluded.data
	`, rec.ID, rec.AcademicYear, string(rec.Data))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", coll, rec.ID, err)
	}
	return nil
}

func (w *txWriter) Delete(coll Collection, id string) error {
	t, err := coll.table()
	if err != nil {
		return err
	}
	if _, err := w.tx.ExecContext(w.ctx, `DELETE FROM `+t+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", coll, id, err)
	}
	return nil
}

func (w *txWriter) PutSetting(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	_, err = w.tx.ExecContext(w.ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

func (w *txWriter) Clear() error {
	for _, c := range AllCollections {
		if _, err := w.tx.ExecContext(w.ctx, `DELETE FROM `+tables[c]); err != nil {
			return fmt.Errorf("clear %s: %w", c, err)
		}
	}
	if _, err := w.tx.ExecContext(w.ctx, `DELETE FROM settings`); err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return nil
}

// Compile-time interface check
var _ Storer = (*SQLiteStore)(nil)
