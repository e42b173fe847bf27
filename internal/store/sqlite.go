package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pos-sync-service/internal/logger"

	"go.uber.org/zap"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL DEFAULT '',
	collection TEXT NOT NULL,
	data BLOB,
	sync_status TEXT NOT NULL DEFAULT 'synced',
	last_modified TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_server ON records (collection, server_id);
CREATE INDEX IF NOT EXISTS idx_records_status ON records (collection, sync_status);`

// DB wraps the on-device sqlite database holding local records.
type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping record store: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(recordsSchema); err != nil {
		return nil, fmt.Errorf("failed to bootstrap records schema: %w", err)
	}

	logger.Log.Info("Opened record store", zap.String("path", path))

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// ExecTx executes fn within a transaction.
func (d *DB) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Repository returns the typed repository view for one collection.
func (d *DB) Repository(c Collection) Repository {
	return &sqliteRepository{db: d.db, collection: c}
}

type sqliteRepository struct {
	db         *sql.DB
	collection Collection
}

const recordColumns = `id, server_id, collection, data, sync_status, last_modified, updated_at, deleted`

func (r *sqliteRepository) Create(ctx context.Context, rec *Record) error {
	rec.Collection = r.collection
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if rec.LastModified.IsZero() {
		rec.LastModified = rec.UpdatedAt
	}
	query := `INSERT INTO records (` + recordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.ServerID,
		rec.Collection,
		[]byte(rec.Data),
		rec.SyncStatus,
		rec.LastModified,
		rec.UpdatedAt,
		rec.Deleted,
	)
	return err
}

func (r *sqliteRepository) Update(ctx context.Context, id string, data json.RawMessage, status SyncStatus) error {
	query := `UPDATE records SET data = ?, sync_status = ?, last_modified = ?, updated_at = ?
			  WHERE id = ? AND collection = ?`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, []byte(data), status, now, now, id, r.collection)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s not found in %s", id, r.collection)
	}
	return nil
}

func (r *sqliteRepository) Find(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = ? AND collection = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id, r.collection))
}

func (r *sqliteRepository) FindByServerID(ctx context.Context, serverID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE server_id = ? AND collection = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, serverID, r.collection))
}

func (r *sqliteRepository) scanOne(row *sql.Row) (*Record, error) {
	var rec Record
	var data []byte
	err := row.Scan(
		&rec.ID,
		&rec.ServerID,
		&rec.Collection,
		&data,
		&rec.SyncStatus,
		&rec.LastModified,
		&rec.UpdatedAt,
		&rec.Deleted,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Data = json.RawMessage(data)
	return &rec, nil
}

func (r *sqliteRepository) MarkDeleted(ctx context.Context, id string) error {
	query := `UPDATE records SET deleted = 1, updated_at = ? WHERE id = ? AND collection = ?`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id, r.collection)
	return err
}

func (r *sqliteRepository) SetServerID(ctx context.Context, id, serverID string) error {
	query := `UPDATE records SET server_id = ?, updated_at = ? WHERE id = ? AND collection = ?`
	_, err := r.db.ExecContext(ctx, query, serverID, time.Now().UTC(), id, r.collection)
	return err
}

func (r *sqliteRepository) SetSyncStatus(ctx context.Context, id string, status SyncStatus) error {
	query := `UPDATE records SET sync_status = ?, updated_at = ? WHERE id = ? AND collection = ?`
	_, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id, r.collection)
	return err
}

func (r *sqliteRepository) CountDirty(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM records WHERE collection = ? AND sync_status IN (?, ?) AND deleted = 0`
	var n int
	err := r.db.QueryRowContext(ctx, query, r.collection, StatusPending, StatusConflict).Scan(&n)
	return n, err
}

func (r *sqliteRepository) ListDirty(ctx context.Context) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
			  WHERE collection = ? AND sync_status IN (?, ?) AND deleted = 0
			  ORDER BY last_modified ASC`
	rows, err := r.db.QueryContext(ctx, query, r.collection, StatusPending, StatusConflict)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var data []byte
		err := rows.Scan(
			&rec.ID,
			&rec.ServerID,
			&rec.Collection,
			&data,
			&rec.SyncStatus,
			&rec.LastModified,
			&rec.UpdatedAt,
			&rec.Deleted,
		)
		if err != nil {
			return nil, err
		}
		rec.Data = json.RawMessage(data)
		records = append(records, &rec)
	}
	return records, rows.Err()
}
