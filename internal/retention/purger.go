// Package retention enforces how long jobs and their files are kept.
//
// Two thresholds apply to every terminal, unpinned job: once it is older than
// the job retention it is deleted outright (record, uploads, results and any
// mirrored copy); before that, once its expires_at has passed, only the raw
// uploads are removed and the record is marked has_raw_audio=false so
// spectrograms fall back to their cached transforms.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/models"
	"github.com/cisco7507/align-audio/internal/store"
	"github.com/cisco7507/align-audio/internal/telemetry"
)

// ActionKind names what the purger did, or would do, to a job.
type ActionKind string

const (
	ActionDeleteJob ActionKind = "delete_job"
	ActionPurgeRaw  ActionKind = "purge_raw"
)

// Action is one planned or executed retention step.
type Action struct {
	JobID   string     `json:"job_id"`
	Kind    ActionKind `json:"kind"`
	AgeDays float64    `json:"age_days"`
	Error   string     `json:"error,omitempty"`
}

// Report summarizes one sweep.
type Report struct {
	DryRun        bool     `json:"dry_run"`
	JobsDeleted   int      `json:"jobs_deleted"`
	RawPurged     int      `json:"raw_purged"`
	SkippedPinned int      `json:"skipped_pinned"`
	SkippedActive int      `json:"skipped_active"`
	Errors        int      `json:"errors"`
	Actions       []Action `json:"actions"`
}

func (r Report) String() string {
	verb := "deleted"
	if r.DryRun {
		verb = "would delete"
	}
	return fmt.Sprintf("%s %d jobs, raw audio of %d jobs; skipped %d pinned, %d active; %d errors",
		verb, r.JobsDeleted, r.RawPurged, r.SkippedPinned, r.SkippedActive, r.Errors)
}

// Options wires a Purger.
type Options struct {
	Store             store.JobStore
	Layout            artifacts.Layout
	Mirror            artifacts.Mirror
	JobRetention      time.Duration
	RawAudioRetention time.Duration
	Logger            *slog.Logger
}

// Purger applies the retention policy.
type Purger struct {
	store        store.JobStore
	layout       artifacts.Layout
	mirror       artifacts.Mirror
	jobRetention time.Duration
	rawRetention time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New constructs a Purger.
func New(opts Options) *Purger {
	p := &Purger{
		store:        opts.Store,
		layout:       opts.Layout,
		mirror:       opts.Mirror,
		jobRetention: opts.JobRetention,
		rawRetention: opts.RawAudioRetention,
		logger:       opts.Logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Sweep runs the policy once. With dryRun nothing is changed and the report
// lists what would have happened. Per-job failures are counted and logged;
// the returned error is reserved for failing to list candidates.
func (p *Purger) Sweep(ctx context.Context, dryRun bool) (Report, error) {
	now := p.now()
	report := Report{DryRun: dryRun, Actions: []Action{}}

	cutoff := now.Add(-min(p.jobRetention, p.rawRetention))
	jobs, err := p.store.ListRetentionCandidates(ctx, cutoff, now)
	if err != nil {
		return report, fmt.Errorf("list retention candidates: %w", err)
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		kind, ok := p.decide(job, now)
		if !ok {
			continue
		}
		if job.Pinned {
			report.SkippedPinned++
			continue
		}
		if !job.Status.IsTerminal() {
			report.SkippedActive++
			continue
		}

		action := Action{JobID: job.ID, Kind: kind, AgeDays: job.Age(now).Hours() / 24}
		if !dryRun {
			var err error
			switch kind {
			case ActionDeleteJob:
				err = p.deleteJob(ctx, job)
			case ActionPurgeRaw:
				err = p.purgeRaw(ctx, job)
			}
			if err != nil {
				report.Errors++
				action.Error = err.Error()
				report.Actions = append(report.Actions, action)
				p.logger.Error("retention action failed", "job_id", job.ID, "action", kind, "error", err)
				continue
			}
			telemetry.PurgeActions.WithLabelValues(string(kind)).Inc()
		}

		switch kind {
		case ActionDeleteJob:
			report.JobsDeleted++
		case ActionPurgeRaw:
			report.RawPurged++
		}
		report.Actions = append(report.Actions, action)
		p.logger.Info("retention action", "job_id", job.ID, "action", kind, "age_days", action.AgeDays, "dry_run", dryRun)
	}
	return report, nil
}

// decide returns the action a job is due for, if any.
func (p *Purger) decide(job models.Job, now time.Time) (ActionKind, bool) {
	if p.jobRetention > 0 && job.Age(now) >= p.jobRetention {
		return ActionDeleteJob, true
	}
	if !job.HasRawAudio {
		return "", false
	}
	expires := job.ExpiresAt
	if expires.IsZero() {
		expires = job.CreatedAt.Add(p.rawRetention)
	}
	if !now.Before(expires) {
		return ActionPurgeRaw, true
	}
	return "", false
}

func (p *Purger) deleteJob(ctx context.Context, job models.Job) error {
	if err := p.layout.RemoveAll(job.ID); err != nil {
		return err
	}
	if p.mirror != nil {
		if _, err := p.mirror.DeletePrefix(ctx, artifacts.ResultsPrefix(job.ID)); err != nil {
			return fmt.Errorf("delete mirrored results: %w", err)
		}
	}
	if err := p.store.Delete(ctx, job.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (p *Purger) purgeRaw(ctx context.Context, job models.Job) error {
	if err := p.layout.RemoveUploads(job.ID); err != nil {
		return err
	}
	_, err := p.store.Update(ctx, job.ID, func(j *models.Job) error {
		j.HasRawAudio = false
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark raw audio purged: %w", err)
	}
	return nil
}

// RunEvery sweeps immediately and then once per interval until ctx is done.
func (p *Purger) RunEvery(ctx context.Context, interval time.Duration, dryRun bool) error {
	if interval <= 0 {
		return fmt.Errorf("purge interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := p.Sweep(ctx, dryRun)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("retention sweep failed", "error", err)
		} else if err == nil {
			p.logger.Info("retention sweep finished", "summary", report.String())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
