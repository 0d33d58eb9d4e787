package estimate

import (
	"context"

	"github.com/cisco7507/align-audio/internal/audio"
	"github.com/cisco7507/align-audio/internal/dsp"
	"github.com/cisco7507/align-audio/internal/models"
)

// Correlation estimates the offset from the peak of a normalized cross-correlation.
type Correlation struct{}

func (Correlation) Estimate(ctx context.Context, ref, ext []float32, p models.AlignmentParameters) (Estimate, error) {
	sr := p.SampleRate
	refWin := audio.Window(ref, audio.SecondsToSamples(p.RefStartSec, sr), audio.SecondsToSamples(p.AnalysisSec, sr))
	extWin := audio.Window(ext, audio.SecondsToSamples(p.SearchStartSec, sr), 0)
	if len(refWin) == 0 {
		return Estimate{}, &models.InsufficientDataError{Signal: "reference", Need: 1, Have: 0}
	}
	if len(extWin) == 0 {
		return Estimate{}, &models.InsufficientDataError{Signal: "external", Need: 1, Have: 0}
	}

	// Only an explicit zero leaves the search unbounded.
	maxLag := min(len(refWin), len(extWin)) - 1
	if p.MaxSearchSec > 0 {
		maxLag = max(1, audio.SecondsToSamples(p.MaxSearchSec, sr))
	}
	if need := len(refWin) + 2*maxLag; len(extWin) > need {
		extWin = extWin[:need]
	}
	refWin = gate(refWin, p)
	extWin = gate(extWin, p)
	if err := audible("reference", refWin); err != nil {
		return Estimate{}, err
	}
	if err := audible("external", extWin); err != nil {
		return Estimate{}, err
	}

	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}
	corr := dsp.CrossCorrelate(audio.Float64s(refWin), audio.Float64s(extWin), maxLag)
	best := corr.Best()
	if best < 0 {
		return Estimate{}, &models.InsufficientDataError{Signal: "external", Need: 1, Have: 0}
	}

	step := 1 / float64(sr)
	base := p.SearchStartSec - p.RefStartSec
	curve := &Curve{
		StartSec: float64(corr.MinLag)*step + base,
		StepSec:  step,
		Scores:   make([]float32, len(corr.Scores)),
	}
	for i, s := range corr.Scores {
		curve.Scores[i] = float32(s)
	}
	return Estimate{
		Strategy:         models.AnchorCorrelation,
		OffsetSec:        float64(corr.Lag(best))*step + base,
		PeakScore:        corr.Scores[best],
		Curve:            curve,
		Selected:         best,
		ReferenceSamples: len(refWin),
		ExternalSamples:  len(extWin),
	}, nil
}
