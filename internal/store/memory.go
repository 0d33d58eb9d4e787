package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cisco7507/align-audio/internal/models"
)

// Memory keeps jobs in process memory. Records are deep-copied on the way in
// and out so callers never share mutable state with the store.
type Memory struct {
	mu   sync.Mutex
	jobs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string][]byte)}
}

func (m *Memory) Create(_ context.Context, job models.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrExists
	}
	m.jobs[job.ID] = raw
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

func (m *Memory) Update(_ context.Context, id string, fn func(*models.Job) error) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.load(id)
	if err != nil {
		return models.Job{}, err
	}
	if err := fn(&job); err != nil {
		return models.Job{}, err
	}
	job.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(job)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal job: %w", err)
	}
	m.jobs[id] = raw
	return job, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) ListRetentionCandidates(_ context.Context, createdBefore, expiredBy time.Time) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Job
	for id := range m.jobs {
		job, err := m.load(id)
		if err != nil {
			return nil, err
		}
		if job.CreatedAt.After(createdBefore) && job.ExpiresAt.After(expiredBy) {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) load(id string) (models.Job, error) {
	raw, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}
