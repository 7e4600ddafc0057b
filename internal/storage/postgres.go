package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bdougie/vidclassify/internal/config"
	"github.com/bdougie/vidclassify/internal/models"
)

// advisory lock key shared by every run writing to the same database
const checkpointLockKey int64 = 0x76696463

// PostgresStore keeps the checkpoint in PostgreSQL. The per-label score
// vector of each result is stored with pgvector for similarity lookups.
type PostgresStore struct {
	pool   *pgxpool.Pool
	lock   *pgxpool.Conn
	dims   int
	logger *slog.Logger
}

// NewPostgresStore connects, creates the schema and takes the single-writer lock
func NewPostgresStore(ctx context.Context, dsn string, dims int, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := InitSchema(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}
	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", checkpointLockKey).Scan(&locked); err != nil {
		conn.Release()
		pool.Close()
		return nil, fmt.Errorf("failed to take checkpoint lock: %w", err)
	}
	if !locked {
		conn.Release()
		pool.Close()
		return nil, fmt.Errorf("%w: postgres checkpoint is in use by another run", config.ErrConfiguration)
	}

	return &PostgresStore{pool: pool, lock: conn, dims: dims, logger: logger}, nil
}

// InitSchema creates the vector extension and results table if they don't exist
func InitSchema(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if dims < 1 {
		return errors.New("score vector dimension must be positive")
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	_, err := pool.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS classification_results (
            seq INTEGER PRIMARY KEY,
            video_id INTEGER NOT NULL,
            filename VARCHAR(255) NOT NULL UNIQUE,
            predicted_class TEXT NOT NULL,
            confidence DOUBLE PRECISION NOT NULL,
            scores vector(%d)
        )`, dims))
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}
	if _, err := pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_classification_results_video_id ON classification_results(video_id)`); err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}
	return nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Load(ctx context.Context) ([]models.ClassificationResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT video_id, filename, predicted_class, confidence, scores
         FROM classification_results ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	defer rows.Close()

	var results []models.ClassificationResult
	for rows.Next() {
		var r models.ClassificationResult
		var scores *pgvector.Vector
		if err := rows.Scan(&r.VideoID, &r.Filename, &r.PredictedClass, &r.Confidence, &scores); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		if scores != nil {
			r.Scores = scores.Slice()
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Save replaces the table contents inside one transaction.
func (s *PostgresStore) Save(ctx context.Context, results []models.ClassificationResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM classification_results`)
	for i, r := range results {
		batch.Queue(
			`INSERT INTO classification_results
            (seq, video_id, filename, predicted_class, confidence, scores)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			i+1, r.VideoID, r.Filename, r.PredictedClass, r.Confidence, s.vector(r.Scores))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// vector returns nil for results without a usable ranking so the column is NULL.
func (s *PostgresStore) vector(scores []float32) any {
	if len(scores) != s.dims {
		if len(scores) > 0 {
			s.logger.Warn("dropping score vector with unexpected dimension", "got", len(scores), "want", s.dims)
		}
		return nil
	}
	return pgvector.NewVector(scores)
}

// SimilarVideos finds the videos whose score vectors are closest to videoID's
func (s *PostgresStore) SimilarVideos(ctx context.Context, videoID, limit int) ([]models.SimilarVideo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.video_id, r.filename, r.predicted_class,
        1 - (r.scores <=> q.scores) AS similarity
        FROM classification_results r
        JOIN classification_results q ON q.video_id = $1
        WHERE r.scores IS NOT NULL AND q.scores IS NOT NULL AND r.video_id <> q.video_id
        ORDER BY r.scores <=> q.scores
        LIMIT $2`,
		videoID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar videos: %w", err)
	}
	defer rows.Close()

	var results []models.SimilarVideo
	for rows.Next() {
		var result models.SimilarVideo
		if err := rows.Scan(&result.VideoID, &result.Filename, &result.PredictedClass, &result.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Close releases the advisory lock and closes the database connection
func (s *PostgresStore) Close() error {
	if s.lock != nil {
		_, _ = s.lock.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", checkpointLockKey)
		s.lock.Release()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
