// Package estimate finds the time offset between a reference and an external
// capture. Offsets follow one convention everywhere: offset_sec is the time
// at which shared content occurs in the external minus the time it occurs in
// the reference, so a positive value means the external lags.
package estimate

import (
	"context"
	"fmt"

	"github.com/cisco7507/align-audio/internal/audio"
	"github.com/cisco7507/align-audio/internal/models"
)

// Curve is a score-vs-offset series sampled at a fixed step.
type Curve struct {
	StartSec float64   `json:"start_sec"`
	StepSec  float64   `json:"step_sec"`
	Scores   []float32 `json:"scores"`
}

// OffsetAt returns the offset of Scores[i].
func (c Curve) OffsetAt(i int) float64 {
	return c.StartSec + float64(i)*c.StepSec
}

// Candidate is one evaluated content window.
type Candidate struct {
	TimeSec    float64 `json:"time_sec"`
	Similarity float64 `json:"similarity"`
	Selected   bool    `json:"selected"`
}

// Estimate is the outcome of one estimation pass.
type Estimate struct {
	Strategy  models.AnchorMode
	OffsetSec float64
	// PeakScore is the correlation score or content similarity at the chosen offset.
	PeakScore float64

	Curve      *Curve
	Candidates []Candidate
	Selected   int

	ReferenceSamples int
	ExternalSamples  int
}

// AnchorTimeSec is where the matched content starts in the external.
func (e Estimate) AnchorTimeSec(p models.AlignmentParameters) float64 {
	return e.OffsetSec + p.RefStartSec
}

// Estimator is one offset-finding strategy.
type Estimator interface {
	Estimate(ctx context.Context, ref, ext []float32, p models.AlignmentParameters) (Estimate, error)
}

// For returns the strategy selected by p.AnchorMode.
func For(p models.AlignmentParameters) (Estimator, error) {
	switch p.AnchorMode {
	case models.AnchorCorrelation:
		return Correlation{}, nil
	case models.AnchorContent:
		return Content{}, nil
	default:
		return nil, &models.ValidationError{Field: "anchor_mode", Reason: fmt.Sprintf("unsupported value %q", p.AnchorMode)}
	}
}

// Run estimates with the strategy selected by p.
func Run(ctx context.Context, ref, ext []float32, p models.AlignmentParameters) (Estimate, error) {
	est, err := For(p)
	if err != nil {
		return Estimate{}, err
	}
	return est.Estimate(ctx, ref, ext, p)
}

func gate(x []float32, p models.AlignmentParameters) []float32 {
	if p.GateThresholdDB == nil {
		return x
	}
	return audio.Gate(x, *p.GateThresholdDB)
}

// audible fails when gating (or the source itself) left x entirely silent.
func audible(signal string, x []float32) error {
	for _, v := range x {
		if v != 0 {
			return nil
		}
	}
	return &models.InsufficientDataError{Signal: signal, Need: 1, Have: 0}
}
