package spectrogram

import (
	"context"
	"errors"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/logging"
	"github.com/cisco7507/align-audio/internal/models"
	"github.com/cisco7507/align-audio/internal/render"
	"github.com/cisco7507/align-audio/internal/store"
)

const sr = 8000

type countingDecoder struct {
	calls atomic.Int32
	mu    sync.Mutex
	paths []string
	err   error
}

func (d *countingDecoder) Decode(_ context.Context, path string, sampleRate int) ([]float32, error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.paths = append(d.paths, path)
	d.mu.Unlock()
	if d.err != nil {
		return nil, &models.DecodeError{Path: path, Err: d.err}
	}
	x := make([]float32, 3*sampleRate)
	for i := range x {
		x[i] = float32(0.5 * math.Sin(2*math.Pi*600*float64(i)/float64(sampleRate)))
	}
	return x, nil
}

type fixture struct {
	svc     *Service
	store   *store.Memory
	layout  artifacts.Layout
	decoder *countingDecoder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemory(),
		layout:  artifacts.NewLayout(t.TempDir()),
		decoder: &countingDecoder{},
	}
	f.svc = New(Options{
		Store:       f.store,
		Layout:      f.layout,
		Decoder:     f.decoder,
		Concurrency: 2,
		Logger:      logging.Discard(),
	})
	return f
}

func (f *fixture) addJob(t *testing.T, id string, mutate func(*models.Job)) {
	t.Helper()
	now := time.Now().UTC()
	p := models.DefaultParameters()
	p.SampleRate = sr
	job := models.Job{
		ID:          id,
		Status:      models.StatusCompleted,
		Parameters:  p,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(30 * 24 * time.Hour),
		HasRawAudio: true,
		Result: &models.Result{
			OffsetSec: 1,
			Correction: models.CorrectionCommand{
				Action:      models.ActionTrimHead,
				DurationSec: 1,
				Target:      models.TrackExternal,
			},
		},
	}
	if mutate != nil {
		mutate(&job)
	}
	require.NoError(t, f.store.Create(context.Background(), job))
	for _, track := range []models.Track{models.TrackReference, models.TrackExternal} {
		_, err := f.layout.SaveUpload(id, track, string(track)+".wav", strings.NewReader("pcm"))
		require.NoError(t, err)
	}
}

func (f *fixture) cacheTransform(t *testing.T, id string, track models.Track) {
	t.Helper()
	x := make([]float32, 2*sr)
	for i := range x {
		x[i] = float32(math.Sin(2 * math.Pi * 300 * float64(i) / sr))
	}
	require.NoError(t, render.SaveTransform(f.layout.ResultPath(id, artifacts.TransformFile(track)), render.ForCache(x, sr)))
}

func pngSize(t *testing.T, path string) (int, int) {
	t.Helper()
	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close()
	cfg, err := png.DecodeConfig(in)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestRenderReturnsExistingImage(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "job", nil)
	existing := f.layout.ResultPath("job", artifacts.SpectrogramFile(models.TrackReference, "default"))
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("png"), 0o644))

	path, err := f.svc.Render(context.Background(), "job", models.TrackReference, render.ViewDefault)
	require.NoError(t, err)
	assert.Equal(t, existing, path)
	assert.Zero(t, f.decoder.calls.Load())
}

func TestRenderRecomputesFromAudio(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "job", nil)

	path, err := f.svc.Render(context.Background(), "job", models.TrackReference, render.ViewLong)
	require.NoError(t, err)
	assert.Equal(t, f.layout.ResultPath("job", "spectrogram_reference_long.png"), path)
	w, h := pngSize(t, path)
	assert.Equal(t, render.Views[render.ViewLong].Size, render.Size{W: w, H: h})
	assert.EqualValues(t, 1, f.decoder.calls.Load())
	assert.Contains(t, f.decoder.paths[0], filepath.Join("uploads", "job", "reference"))

	_, err = f.svc.Render(context.Background(), "job", models.TrackReference, render.ViewLong)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.decoder.calls.Load(), "second request is served from disk")
}

func TestRenderCorrectedUsesCorrectionTarget(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "job", nil)

	_, err := f.svc.Render(context.Background(), "job", models.TrackCorrected, render.ViewHighRes)
	require.NoError(t, err)
	require.Len(t, f.decoder.paths, 1)
	assert.Contains(t, f.decoder.paths[0], filepath.Join("uploads", "job", "external"))
}

func TestRenderFallsBackToCachedTransform(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "purged", func(j *models.Job) { j.HasRawAudio = false })
	f.cacheTransform(t, "purged", models.TrackExternal)

	path, err := f.svc.Render(context.Background(), "purged", models.TrackExternal, render.ViewHighRes)
	require.NoError(t, err)
	w, h := pngSize(t, path)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 640, h)
	assert.Zero(t, f.decoder.calls.Load())
}

func TestRenderFallsBackWhenDecodeFails(t *testing.T) {
	f := newFixture(t)
	f.decoder.err = errors.New("truncated file")
	f.addJob(t, "job", nil)
	f.cacheTransform(t, "job", models.TrackReference)

	path, err := f.svc.Render(context.Background(), "job", models.TrackReference, render.ViewLong)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestRenderWithoutAudioOrCache(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "purged", func(j *models.Job) { j.HasRawAudio = false })

	_, err := f.svc.Render(context.Background(), "purged", models.TrackReference, render.ViewLong)
	assert.ErrorIs(t, err, ErrNoCachedTransform)
}

func TestRenderRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "queued", func(j *models.Job) {
		j.Status = models.StatusQueued
		j.Result = nil
	})

	_, err := f.svc.Render(context.Background(), "queued", models.TrackReference, render.ViewDefault)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = f.svc.Render(context.Background(), "missing", models.TrackReference, render.ViewDefault)
	assert.ErrorIs(t, err, store.ErrNotFound)

	var verr *models.ValidationError
	_, err = f.svc.Render(context.Background(), "queued", models.Track("mix"), render.ViewDefault)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "track", verr.Field)

	_, err = f.svc.Render(context.Background(), "queued", models.TrackReference, render.View("huge"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "view", verr.Field)
}

func TestConcurrentRendersShareWork(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "job", nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Render(context.Background(), "job", models.TrackExternal, render.ViewLong)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, f.decoder.calls.Load())
}
