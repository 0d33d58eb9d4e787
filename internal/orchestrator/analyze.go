package orchestrator

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/audio"
	"github.com/cisco7507/align-audio/internal/confidence"
	"github.com/cisco7507/align-audio/internal/correction"
	"github.com/cisco7507/align-audio/internal/estimate"
	"github.com/cisco7507/align-audio/internal/models"
	"github.com/cisco7507/align-audio/internal/render"
	"github.com/cisco7507/align-audio/internal/telemetry"
)

// jobLog collects the human-readable lines stored with a result and mirrors
// each one to the structured logger.
type jobLog struct {
	logger *slog.Logger
	lines  []string
}

func newJobLog(logger *slog.Logger) *jobLog {
	return &jobLog{logger: logger}
}

func (l *jobLog) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.lines = append(l.lines, msg)
	l.logger.Info(msg)
}

func (o *Orchestrator) analyze(ctx context.Context, job models.Job, jl *jobLog) (*models.Result, error) {
	p := job.Parameters
	sr := p.SampleRate

	refPath, err := o.layout.FindUpload(job.ID, models.TrackReference)
	if err != nil {
		return nil, &models.DecodeError{Path: job.ReferenceName, Err: err}
	}
	extPath, err := o.layout.FindUpload(job.ID, models.TrackExternal)
	if err != nil {
		return nil, &models.DecodeError{Path: job.ExternalName, Err: err}
	}

	ref, err := o.decoder.Decode(ctx, refPath, sr)
	if err != nil {
		return nil, err
	}
	jl.Printf("decoded reference %q: %d samples (%.2fs)", job.ReferenceName, len(ref), audio.Duration(ref, sr))
	ext, err := o.decoder.Decode(ctx, extPath, sr)
	if err != nil {
		return nil, err
	}
	jl.Printf("decoded external %q: %d samples (%.2fs)", job.ExternalName, len(ext), audio.Duration(ext, sr))

	started := time.Now()
	est, err := estimate.Run(ctx, ref, ext, p)
	telemetry.EstimateSeconds.WithLabelValues(string(p.AnchorMode)).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	switch est.Strategy {
	case models.AnchorContent:
		jl.Printf("content anchor at %.3fs in external (similarity %.4f, %d windows evaluated)",
			est.AnchorTimeSec(p), est.PeakScore, len(est.Candidates))
	default:
		if est.Curve != nil {
			jl.Printf("correlation peak %.4f over %d lags", est.PeakScore, len(est.Curve.Scores))
		}
	}
	jl.Printf("estimated offset %.6fs (positive = external lags reference)", est.OffsetSec)

	score := confidence.Score(est, p)
	jl.Printf("confidence %.3f (%s)", score.Value, score.Label)

	if err := os.MkdirAll(o.layout.ResultDir(job.ID), 0o755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}
	cmd := correction.Build(est.OffsetSec, p, correction.Options{
		ReferencePath: refPath,
		ExternalPath:  extPath,
		OutputPath:    o.layout.ResultPath(job.ID, artifacts.FileAligned),
		FFmpegPath:    o.ffmpegPath,
	})
	jl.Printf("correction: %s %.6fs on %s", cmd.Action, cmd.DurationSec, cmd.Target)

	res := &models.Result{
		OffsetSec:        est.OffsetSec,
		Confidence:       score.Value,
		ConfidenceLabel:  string(score.Label),
		Correction:       cmd,
		ReferenceSamples: est.ReferenceSamples,
		ExternalSamples:  est.ExternalSamples,
	}
	if res.Artifacts.ReferenceAudio, err = o.layout.Rel(refPath); err != nil {
		return nil, err
	}
	if res.Artifacts.ExternalAudio, err = o.layout.Rel(extPath); err != nil {
		return nil, err
	}

	if err := o.renderArtifacts(ctx, job, ref, ext, est, cmd, res, jl); err != nil {
		return nil, err
	}

	if p.Apply {
		if err := correction.Apply(ctx, o.runner, o.ffmpegPath, cmd); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// the estimate stands; only the materialized output is missing.
			res.ApplyError = models.ToJobError(err)
			telemetry.ApplyFailures.Inc()
			jl.Printf("apply failed: %v", err)
		} else {
			if res.Artifacts.CorrectedAudio, err = o.layout.Rel(cmd.OutputPath); err != nil {
				return nil, err
			}
			jl.Printf("corrected audio written to %s", res.Artifacts.CorrectedAudio)
		}
	}

	if o.mirror != nil {
		n, err := artifacts.MirrorResults(ctx, o.mirror, o.layout, job.ID)
		if err != nil {
			jl.Printf("result mirror failed after %d files: %v", n, err)
		} else {
			jl.Printf("mirrored %d result files", n)
		}
	}

	res.Logs = jl.lines
	return res, nil
}

func (o *Orchestrator) renderArtifacts(ctx context.Context, job models.Job, ref, ext []float32, est estimate.Estimate, cmd models.CorrectionCommand, res *models.Result, jl *jobLog) error {
	p := job.Parameters
	sr := p.SampleRate
	alignedRef, alignedExt := correction.Aligned(ref, ext, cmd, sr)

	save := func(name string, img image.Image) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		path := o.layout.ResultPath(job.ID, name)
		if err := render.SavePNG(path, img); err != nil {
			return "", fmt.Errorf("render %s: %w", name, err)
		}
		return o.layout.Rel(path)
	}

	var err error
	if p.GenerateWaveform {
		if res.Artifacts.Waveform, err = save(artifacts.FileWaveform, render.WaveformOverlay(ref, ext, sr)); err != nil {
			return err
		}
	}
	if p.GenerateSimilarity {
		var img image.Image
		if est.Curve != nil {
			img = render.SimilarityCurve(*est.Curve, est.OffsetSec)
		} else {
			img = render.CandidateCurve(est.Candidates, p.MinSimilarity)
		}
		if res.Artifacts.Similarity, err = save(artifacts.FileSimilarity, img); err != nil {
			return err
		}
	}
	if p.GenerateZoom {
		img := render.Zoom(alignedRef, alignedExt, sr, alignedAnchorSec(p, cmd))
		if res.Artifacts.Zoom, err = save(artifacts.FileZoom, img); err != nil {
			return err
		}
	}
	if p.GenerateSpectrograms {
		tracks := []struct {
			track models.Track
			x     []float32
			dst   *string
		}{
			{models.TrackReference, ref, &res.Artifacts.SpectrogramReference},
			{models.TrackExternal, ext, &res.Artifacts.SpectrogramExternal},
			{models.TrackCorrected, correction.Corrected(ref, ext, cmd, sr), &res.Artifacts.SpectrogramCorrected},
		}
		preset := render.Views[render.ViewDefault]
		for _, t := range tracks {
			img := render.Spectrogram(render.ForView(t.x, sr, render.ViewDefault), preset.Size, render.SpectrogramTitle(string(t.track), render.ViewDefault))
			if *t.dst, err = save(artifacts.SpectrogramFile(t.track, string(render.ViewDefault)), img); err != nil {
				return err
			}
			if err := render.SaveTransform(o.layout.ResultPath(job.ID, artifacts.TransformFile(t.track)), render.ForCache(t.x, sr)); err != nil {
				return fmt.Errorf("cache %s transform: %w", t.track, err)
			}
		}
	}
	if p.GenerateResidual {
		if res.Artifacts.Residual, err = save(artifacts.FileResidual, render.ResidualEnergy(alignedRef, alignedExt, sr)); err != nil {
			return err
		}
	}
	if p.GenerateCandidates && est.Strategy == models.AnchorContent {
		if res.Artifacts.Candidates, err = save(artifacts.FileCandidates, render.CandidateMap(est.Candidates, p.MinSimilarity)); err != nil {
			return err
		}
	}
	jl.Printf("diagnostics rendered")
	return nil
}

// alignedAnchorSec is where the reference analysis start lands once the
// correction is applied.
func alignedAnchorSec(p models.AlignmentParameters, cmd models.CorrectionCommand) float64 {
	t := p.RefStartSec
	if cmd.Target == models.TrackReference {
		switch cmd.Action {
		case models.ActionTrimHead:
			t -= cmd.DurationSec
		case models.ActionPadHead:
			t += cmd.DurationSec
		}
	}
	return math.Max(0, t)
}
