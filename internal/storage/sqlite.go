package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/bdougie/vidclassify/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS classification_results (
    seq INTEGER PRIMARY KEY,
    video_id INTEGER NOT NULL,
    filename TEXT NOT NULL UNIQUE,
    predicted_class TEXT NOT NULL,
    confidence REAL NOT NULL
);`

// SQLiteStore keeps the checkpoint in a single SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}
	lock, err := lockCheckpoint(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open sqlite checkpoint: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, lock: lock}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Load(ctx context.Context) ([]models.ClassificationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT video_id, filename, predicted_class, confidence
         FROM classification_results ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	defer rows.Close()

	var results []models.ClassificationResult
	for rows.Next() {
		var r models.ClassificationResult
		if err := rows.Scan(&r.VideoID, &r.Filename, &r.PredictedClass, &r.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Save replaces the table contents inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, results []models.ClassificationResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM classification_results`); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO classification_results (seq, video_id, filename, predicted_class, confidence)
         VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare checkpoint insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range results {
		if _, err := stmt.ExecContext(ctx, i+1, r.VideoID, r.Filename, r.PredictedClass, r.Confidence); err != nil {
			return fmt.Errorf("failed to store result for %s: %w", r.Filename, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}
