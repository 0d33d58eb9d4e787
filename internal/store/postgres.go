package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cisco7507/align-audio/internal/models"
)

// Postgres wraps pgxpool for durable job persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, status, parameters, reference_name, external_name, created_at, updated_at,
	expires_at, pinned, has_raw_audio, result, error`

// Create inserts a new job row.
func (s *Postgres) Create(ctx context.Context, job models.Job) error {
	params, result, jobErr, err := encodeJSONColumns(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO alignment_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, job.ID, string(job.Status), params, job.ReferenceName, job.ExternalName, job.CreatedAt, job.UpdatedAt,
		job.ExpiresAt, job.Pinned, job.HasRawAudio, result, jobErr)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by id.
func (s *Postgres) Get(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM alignment_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// Update locks the row for the duration of fn so concurrent writers to one job serialize.
func (s *Postgres) Update(ctx context.Context, id string, fn func(*models.Job) error) (models.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM alignment_jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.Job{}, err
	}
	if err := fn(&job); err != nil {
		return models.Job{}, err
	}
	job.UpdatedAt = time.Now().UTC()

	params, result, jobErr, err := encodeJSONColumns(job)
	if err != nil {
		return models.Job{}, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE alignment_jobs
		SET status = $2, parameters = $3, expires_at = $4, pinned = $5, has_raw_audio = $6,
		    result = $7, error = $8, updated_at = $9
		WHERE id = $1
	`, id, string(job.Status), params, job.ExpiresAt, job.Pinned, job.HasRawAudio, result, jobErr, job.UpdatedAt)
	if err != nil {
		return models.Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

// Delete removes the job row.
func (s *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alignment_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRetentionCandidates returns jobs old enough for any retention action.
func (s *Postgres) ListRetentionCandidates(ctx context.Context, createdBefore, expiredBy time.Time) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM alignment_jobs
		WHERE created_at <= $1 OR expires_at <= $2
		ORDER BY created_at ASC
	`, createdBefore, expiredBy)
	if err != nil {
		return nil, fmt.Errorf("query expired jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		job                      models.Job
		status                   string
		params, result, errorCol []byte
	)
	if err := row.Scan(&job.ID, &status, &params, &job.ReferenceName, &job.ExternalName, &job.CreatedAt,
		&job.UpdatedAt, &job.ExpiresAt, &job.Pinned, &job.HasRawAudio, &result, &errorCol); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.JobStatus(status)
	if err := json.Unmarshal(params, &job.Parameters); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if len(result) > 0 {
		job.Result = &models.Result{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(errorCol) > 0 {
		job.Error = &models.JobError{}
		if err := json.Unmarshal(errorCol, job.Error); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	return job, nil
}

// encodeJSONColumns marshals the jsonb columns; absent result/error become SQL NULL.
func encodeJSONColumns(job models.Job) (params, result, jobErr []byte, err error) {
	if params, err = json.Marshal(job.Parameters); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal parameters: %w", err)
	}
	if job.Result != nil {
		if result, err = json.Marshal(job.Result); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal result: %w", err)
		}
	}
	if job.Error != nil {
		if jobErr, err = json.Marshal(job.Error); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal error: %w", err)
		}
	}
	return params, result, jobErr, nil
}
