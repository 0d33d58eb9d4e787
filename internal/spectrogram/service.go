// Package spectrogram renders spectrogram views of a finished job on demand.
//
// Renders are cached next to the job's other results. While the raw uploads
// exist a view is recomputed from audio at its own resolution; once they are
// purged, or if decoding fails, the transform cached at analysis time is
// redrawn at the view's figure size instead.
package spectrogram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/audio"
	"github.com/cisco7507/align-audio/internal/correction"
	"github.com/cisco7507/align-audio/internal/models"
	"github.com/cisco7507/align-audio/internal/render"
	"github.com/cisco7507/align-audio/internal/store"
)

// ErrNoCachedTransform means neither raw audio nor a cached transform is available.
var ErrNoCachedTransform = errors.New("no cached spectrogram transform")

// ErrNotReady means the job has no result to draw yet.
var ErrNotReady = errors.New("job has not completed")

// Options wires a Service.
type Options struct {
	Store   store.JobStore
	Layout  artifacts.Layout
	Decoder audio.Decoder
	// Concurrency bounds simultaneous recomputes; zero means 1.
	Concurrency int
	Logger      *slog.Logger
}

// Service renders and caches spectrogram PNGs.
type Service struct {
	store   store.JobStore
	layout  artifacts.Layout
	decoder audio.Decoder
	sem     *semaphore.Weighted
	group   singleflight.Group
	logger  *slog.Logger
}

// New constructs a Service.
func New(opts Options) *Service {
	s := &Service{
		store:   opts.Store,
		layout:  opts.Layout,
		decoder: opts.Decoder,
		sem:     semaphore.NewWeighted(int64(max(1, opts.Concurrency))),
		logger:  opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Render returns the path of the PNG for track and view, producing it first
// if needed. Concurrent requests for the same image share one render.
func (s *Service) Render(ctx context.Context, jobID string, track models.Track, view render.View) (string, error) {
	switch track {
	case models.TrackReference, models.TrackExternal, models.TrackCorrected:
	default:
		return "", &models.ValidationError{Field: "track", Reason: fmt.Sprintf("unsupported value %q", track)}
	}
	if _, ok := render.Views[view]; !ok {
		return "", &models.ValidationError{Field: "view", Reason: fmt.Sprintf("unsupported value %q", view)}
	}

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != models.StatusCompleted || job.Result == nil {
		return "", ErrNotReady
	}

	out := s.layout.ResultPath(jobID, artifacts.SpectrogramFile(track, string(view)))
	if _, err := os.Stat(out); err == nil {
		return out, nil
	}

	_, err, _ = s.group.Do(out, func() (any, error) {
		if _, err := os.Stat(out); err == nil {
			return nil, nil
		}
		return nil, s.produce(ctx, job, track, view, out)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (s *Service) produce(ctx context.Context, job models.Job, track models.Track, view render.View, out string) error {
	logger := s.logger.With("job_id", job.ID, "track", track, "view", view)
	size := render.Views[view].Size
	title := render.SpectrogramTitle(string(track), view)

	if job.HasRawAudio {
		tr, err := s.recompute(ctx, job, track, view)
		if err == nil {
			return render.SavePNG(out, render.Spectrogram(tr, size, title))
		}
		if ctx.Err() != nil {
			return err
		}
		logger.Warn("spectrogram recompute failed, using cached transform", "error", err)
	}

	tr, err := render.LoadTransform(s.layout.ResultPath(job.ID, artifacts.TransformFile(track)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoCachedTransform
		}
		return fmt.Errorf("%w: %v", ErrNoCachedTransform, err)
	}
	logger.Info("spectrogram drawn from cached transform")
	return render.SavePNG(out, render.Spectrogram(tr, size, title))
}

func (s *Service) recompute(ctx context.Context, job models.Job, track models.Track, view render.View) (render.Transform, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return render.Transform{}, err
	}
	defer s.sem.Release(1)

	source := track
	if track == models.TrackCorrected {
		source = job.Result.Correction.Target
	}
	path, err := s.layout.FindUpload(job.ID, source)
	if err != nil {
		return render.Transform{}, err
	}
	sr := job.Parameters.SampleRate
	x, err := s.decoder.Decode(ctx, path, sr)
	if err != nil {
		return render.Transform{}, err
	}
	if track == models.TrackCorrected {
		x = correction.Shift(x, job.Result.Correction, sr)
	}
	return render.ForView(x, sr, view), nil
}
