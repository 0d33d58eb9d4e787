package store

import (
	"context"
	"errors"
	"time"

	"github.com/cisco7507/align-audio/internal/models"
)

// ErrNotFound is returned when no job exists for an id.
var ErrNotFound = errors.New("job not found")

// ErrExists is returned when creating a job whose id is already taken.
var ErrExists = errors.New("job already exists")

// JobStore is the repository over persisted alignment jobs. Writes to a single
// record are serialized by the implementation.
type JobStore interface {
	Create(ctx context.Context, job models.Job) error
	Get(ctx context.Context, id string) (models.Job, error)
	// Update loads the record, applies fn, and persists the result atomically.
	// When fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, id string, fn func(*models.Job) error) (models.Job, error)
	Delete(ctx context.Context, id string) error
	// ListRetentionCandidates returns jobs created at or before createdBefore
	// or whose expires_at is at or before expiredBy, oldest first. Pinned jobs
	// are included so callers can account for them.
	ListRetentionCandidates(ctx context.Context, createdBefore, expiredBy time.Time) ([]models.Job, error)
}
