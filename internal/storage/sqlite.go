package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/crmrecall/internal/models"
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		shard_date TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		source TEXT,
		ingested_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_batches_shard_date ON batches(shard_date);
	CREATE INDEX IF NOT EXISTS idx_batches_ingested_at ON batches(ingested_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateBatch inserts a batch row. IngestedAt is set when zero.
func (s *SQLiteJournal) CreateBatch(ctx context.Context, b *models.Batch) error {
	if b.IngestedAt.IsZero() {
		b.IngestedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, category, shard_date, record_count, source, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Category, b.ShardDate, b.Count, b.Source, b.IngestedAt,
	)
	return err
}

// GetBatch returns a batch by ID.
func (s *SQLiteJournal) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	var b models.Batch
	var source sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, category, shard_date, record_count, source, ingested_at
		 FROM batches WHERE id = ?`, id,
	).Scan(&b.ID, &b.Category, &b.ShardDate, &b.Count, &source, &b.IngestedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	b.Source = source.String
	return &b, nil
}

// ListBatches returns batches, newest first, with offset and limit.
func (s *SQLiteJournal) ListBatches(ctx context.Context, offset, limit int) ([]*models.Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, shard_date, record_count, source, ingested_at
		 FROM batches ORDER BY ingested_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		var b models.Batch
		var source sql.NullString
		if err := rows.Scan(&b.ID, &b.Category, &b.ShardDate, &b.Count, &source, &b.IngestedAt); err != nil {
			return nil, err
		}
		b.Source = source.String
		batches = append(batches, &b)
	}
	return batches, rows.Err()
}

// DeleteBatchesForDates removes every batch that landed in one of dates.
func (s *SQLiteJournal) DeleteBatchesForDates(ctx context.Context, dates []string) (int64, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(dates)), ",")
	args := make([]any, len(dates))
	for i, d := range dates {
		args[i] = d
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM batches WHERE shard_date IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountBatches returns the number of journaled batches.
func (s *SQLiteJournal) CountBatches(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches`).Scan(&count)
	return count, err
}

// CountRecords returns the sum of record counts over all batches.
func (s *SQLiteJournal) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(record_count), 0) FROM batches`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}
