package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JOB_RETENTION_DAYS", "")
	t.Setenv("RAW_AUDIO_ONLY_DAYS", "")

	cfg := Load()
	assert.Equal(t, 90, cfg.JobRetentionDays)
	assert.Equal(t, 30, cfg.RawAudioOnlyDays)
	assert.Equal(t, 90*24*time.Hour, cfg.JobRetention())
	assert.Equal(t, 30*24*time.Hour, cfg.RawAudioRetention())
	assert.Equal(t, "data", cfg.MediaRoot)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JOB_RETENTION_DAYS", "7")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("VISIBILITY_TIMEOUT", "45s")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "not-a-number")

	cfg := Load()
	assert.Equal(t, 7, cfg.JobRetentionDays)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 45*time.Second, cfg.VisibilityTimeout)
	assert.True(t, cfg.S3PathStyle)
	assert.Equal(t, 0.5, cfg.RateLimitRefill)
}
