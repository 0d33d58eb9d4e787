package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisco7507/align-audio/internal/models"
)

func newJob(id string, created time.Time) models.Job {
	return models.Job{
		ID:          id,
		Status:      models.StatusQueued,
		Parameters:  models.DefaultParameters(),
		CreatedAt:   created,
		UpdatedAt:   created,
		ExpiresAt:   created.Add(30 * 24 * time.Hour),
		HasRawAudio: true,
	}
}

func TestMemoryCreateGetDelete(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	now := time.Now().UTC()

	require.NoError(t, st.Create(ctx, newJob("a", now)))
	assert.ErrorIs(t, st.Create(ctx, newJob("a", now)), ErrExists)

	job, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, job.Status)

	require.NoError(t, st.Delete(ctx, "a"))
	_, err = st.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.Delete(ctx, "a"), ErrNotFound)
}

func TestMemoryUpdateIsolation(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	require.NoError(t, st.Create(ctx, newJob("a", time.Now().UTC())))

	boom := errors.New("boom")
	_, err := st.Update(ctx, "a", func(j *models.Job) error {
		j.Status = models.StatusRunning
		return boom
	})
	assert.ErrorIs(t, err, boom)

	job, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, job.Status, "failed update must not be persisted")

	job.Pinned = true
	again, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, again.Pinned, "returned copies must not alias stored state")
}

func TestMemoryConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	require.NoError(t, st.Create(ctx, newJob("a", time.Now().UTC())))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = st.Update(ctx, "a", func(j *models.Job) error {
				j.Result = &models.Result{}
				if j.Result.Logs == nil {
					j.Result.Logs = []string{}
				}
				j.ReferenceName += "x"
				return nil
			})
		}()
	}
	wg.Wait()

	job, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, job.ReferenceName, 50)
}

func TestMemoryListRetentionCandidates(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	now := time.Now().UTC()

	old := newJob("old", now.Add(-100*24*time.Hour))
	older := newJob("older", now.Add(-200*24*time.Hour))
	pinned := newJob("pinned", now.Add(-300*24*time.Hour))
	pinned.Pinned = true
	fresh := newJob("fresh", now)
	lapsed := newJob("lapsed", now.Add(-time.Minute))
	lapsed.ExpiresAt = now.Add(-time.Second)
	for _, j := range []models.Job{old, older, pinned, fresh, lapsed} {
		require.NoError(t, st.Create(ctx, j))
	}

	jobs, err := st.ListRetentionCandidates(ctx, now.Add(-time.Hour), now)
	require.NoError(t, err)
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	assert.Equal(t, []string{"pinned", "older", "old", "lapsed"}, ids)
}
