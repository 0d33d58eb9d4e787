// Package orchestrator owns the alignment job lifecycle: it accepts
// submissions, runs the analysis for a queued job exactly once, and records
// the terminal outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/audio"
	"github.com/cisco7507/align-audio/internal/models"
	"github.com/cisco7507/align-audio/internal/store"
	"github.com/cisco7507/align-audio/internal/telemetry"
)

// ErrInvalidTransition rejects a status change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid job transition")

var transitions = map[models.JobStatus][]models.JobStatus{
	// queued -> failed only when the hand-off to the queue fails at submission.
	models.StatusQueued: {models.StatusRunning, models.StatusFailed},
	// running -> queued only happens when a worker lease expired.
	models.StatusRunning: {models.StatusCompleted, models.StatusFailed, models.StatusQueued},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to models.JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(job *models.Job, to models.JobStatus) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	job.Status = to
	return nil
}

// Enqueuer hands a job id to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Options wires an Orchestrator.
type Options struct {
	Store   store.JobStore
	Queue   Enqueuer
	Layout  artifacts.Layout
	Decoder audio.Decoder
	// Runner executes correction commands; nil uses audio.ExecRunner.
	Runner     audio.Runner
	FFmpegPath string
	// Mirror is optional.
	Mirror artifacts.Mirror
	// RawAudioRetention sets expires_at relative to created_at.
	RawAudioRetention time.Duration
	Logger            *slog.Logger
}

// Orchestrator implements submit, run, poll and pin.
type Orchestrator struct {
	store      store.JobStore
	queue      Enqueuer
	layout     artifacts.Layout
	decoder    audio.Decoder
	runner     audio.Runner
	ffmpegPath string
	mirror     artifacts.Mirror
	rawAudio   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		store:      opts.Store,
		queue:      opts.Queue,
		layout:     opts.Layout,
		decoder:    opts.Decoder,
		runner:     opts.Runner,
		ffmpegPath: opts.FFmpegPath,
		mirror:     opts.Mirror,
		rawAudio:   opts.RawAudioRetention,
		logger:     opts.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if o.runner == nil {
		o.runner = audio.ExecRunner{}
	}
	if o.decoder == nil {
		o.decoder = audio.NewFFmpegDecoder(o.ffmpegPath, o.runner)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.rawAudio <= 0 {
		o.rawAudio = 30 * 24 * time.Hour
	}
	return o
}

// Upload is one multipart file as received.
type Upload struct {
	Name string
	Body io.Reader
}

// SubmitRequest is a validated-on-submit alignment request.
type SubmitRequest struct {
	Parameters models.AlignmentParameters
	Reference  Upload
	External   Upload
}

// Submit validates the request, stores both uploads, persists a queued job
// and enqueues it. A ValidationError is returned before anything is written.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (models.Job, error) {
	if err := req.Parameters.Validate(); err != nil {
		return models.Job{}, err
	}
	if req.Reference.Body == nil || req.Reference.Name == "" {
		return models.Job{}, &models.ValidationError{Field: "reference_file", Reason: "is required"}
	}
	if req.External.Body == nil || req.External.Name == "" {
		return models.Job{}, &models.ValidationError{Field: "external_file", Reason: "is required"}
	}

	id := uuid.NewString()
	if _, err := o.layout.SaveUpload(id, models.TrackReference, req.Reference.Name, req.Reference.Body); err != nil {
		_ = o.layout.RemoveUploads(id)
		return models.Job{}, fmt.Errorf("store reference upload: %w", err)
	}
	if _, err := o.layout.SaveUpload(id, models.TrackExternal, req.External.Name, req.External.Body); err != nil {
		_ = o.layout.RemoveUploads(id)
		return models.Job{}, fmt.Errorf("store external upload: %w", err)
	}

	now := o.now()
	job := models.Job{
		ID:            id,
		Status:        models.StatusQueued,
		Parameters:    req.Parameters,
		ReferenceName: req.Reference.Name,
		ExternalName:  req.External.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(o.rawAudio),
		HasRawAudio:   true,
	}
	if err := o.store.Create(ctx, job); err != nil {
		_ = o.layout.RemoveUploads(id)
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := o.queue.Enqueue(ctx, id); err != nil {
		// the record exists, so surface the failure on it rather than leave it queued forever.
		jobErr := &models.JobError{Kind: models.KindInternal, Message: "enqueue failed: " + err.Error()}
		_, _ = o.store.Update(ctx, id, func(j *models.Job) error {
			if err := transition(j, models.StatusFailed); err != nil {
				return err
			}
			j.Error = jobErr
			return nil
		})
		return models.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	telemetry.JobsSubmitted.Inc()
	o.logger.Info("job submitted", "job_id", id, "anchor_mode", req.Parameters.AnchorMode, "mode", req.Parameters.Mode)
	return job, nil
}

// Get is a pure read of the job record.
func (o *Orchestrator) Get(ctx context.Context, id string) (models.Job, error) {
	return o.store.Get(ctx, id)
}

// SetPinned toggles the job's exemption from retention.
func (o *Orchestrator) SetPinned(ctx context.Context, id string, pinned bool) (models.Job, error) {
	return o.store.Update(ctx, id, func(j *models.Job) error {
		j.Pinned = pinned
		return nil
	})
}

// Recover returns a running job whose lease expired to queued. Jobs in any
// other state are left alone and ErrInvalidTransition is returned.
func (o *Orchestrator) Recover(ctx context.Context, id string) error {
	_, err := o.store.Update(ctx, id, func(j *models.Job) error {
		if j.Status != models.StatusRunning {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, models.StatusQueued)
		}
		return transition(j, models.StatusQueued)
	})
	if err == nil {
		telemetry.JobsRequeued.Inc()
		o.logger.Warn("job requeued after lease expiry", "job_id", id)
	}
	return err
}

// Run claims a queued job and drives it to a terminal state. Analysis
// failures are recorded on the job and Run returns nil; an error means the
// job could not be claimed or its outcome could not be persisted. When ctx is
// cancelled mid-run the job is left running so lease recovery can requeue it.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	job, err := o.store.Update(ctx, id, func(j *models.Job) error {
		return transition(j, models.StatusRunning)
	})
	if err != nil {
		return err
	}

	logger := o.logger.With("job_id", id)
	jl := newJobLog(logger)
	jl.Printf("job started (anchor_mode=%s, mode=%s, sample_rate=%d)", job.Parameters.AnchorMode, job.Parameters.Mode, job.Parameters.SampleRate)

	result, runErr := o.analyze(ctx, job, jl)
	if runErr != nil && ctx.Err() != nil {
		logger.Warn("job interrupted", "error", runErr)
		return ctx.Err()
	}

	final, err := o.store.Update(context.WithoutCancel(ctx), id, func(j *models.Job) error {
		if runErr != nil {
			if err := transition(j, models.StatusFailed); err != nil {
				return err
			}
			j.Error = models.ToJobError(runErr)
			j.Result = nil
			return nil
		}
		if err := transition(j, models.StatusCompleted); err != nil {
			return err
		}
		j.Result = result
		j.Error = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	if final.Error != nil {
		telemetry.JobsFailed.WithLabelValues(string(final.Error.Kind)).Inc()
		logger.Error("job failed", "kind", final.Error.Kind, "error", final.Error.Message)
		return nil
	}
	telemetry.JobsCompleted.Inc()
	logger.Info("job completed",
		"offset_sec", final.Result.OffsetSec,
		"confidence", final.Result.Confidence,
		"label", final.Result.ConfidenceLabel,
	)
	return nil
}
