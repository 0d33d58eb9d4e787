// Package confidence turns an estimator's diagnostic output into a [0,1]
// score and a coarse label.
package confidence

import (
	"math"

	"github.com/cisco7507/align-audio/internal/estimate"
	"github.com/cisco7507/align-audio/internal/models"
)

// Label thresholds. A score below LowBelow is LOW, below MediumBelow is
// MEDIUM, anything else is HIGH.
const (
	LowBelow    = 0.5
	MediumBelow = 0.85
)

// Label is the coarse trust category reported with an offset.
type Label string

const (
	Low    Label = "LOW"
	Medium Label = "MEDIUM"
	High   Label = "HIGH"
)

// Correlation tuning: a peak that clears every other lobe by fullMargin (as a
// fraction of its own height) earns full marks.
const fullMargin = 0.5

// Content tuning: windows within rivalSlack of the threshold, at least one
// template length away from the anchor, count as rivals.
const rivalSlack = 0.05

// Result is a numeric score with its label.
type Result struct {
	Value float64 `json:"value"`
	Label Label   `json:"label"`
}

// LabelFor maps a value onto the policy thresholds.
func LabelFor(v float64) Label {
	switch {
	case v < LowBelow:
		return Low
	case v < MediumBelow:
		return Medium
	default:
		return High
	}
}

// Score dispatches on the estimate's strategy.
func Score(est estimate.Estimate, p models.AlignmentParameters) Result {
	var v float64
	switch est.Strategy {
	case models.AnchorContent:
		v = ContentScore(est.Candidates, est.Selected, p.MinSimilarity, p.TemplateSec)
	default:
		if est.Curve != nil {
			v = CorrelationScore(est.Curve.Scores, est.Selected)
		}
	}
	v = clamp01(v)
	return Result{Value: v, Label: LabelFor(v)}
}

// CorrelationScore rewards a high peak that stands clear of the second-highest
// lobe. The main lobe is everything reachable from the peak by walking downhill.
func CorrelationScore(scores []float32, peak int) float64 {
	if peak < 0 || peak >= len(scores) {
		return 0
	}
	p := float64(scores[peak])
	if p <= 0 {
		return 0
	}
	left := peak
	for left > 0 && scores[left-1] <= scores[left] {
		left--
	}
	right := peak
	for right < len(scores)-1 && scores[right+1] <= scores[right] {
		right++
	}
	second := 0.0
	for i, s := range scores {
		if i >= left && i <= right {
			continue
		}
		second = math.Max(second, float64(s))
	}
	margin := (p - second) / p
	return clamp01(p) * math.Min(1, margin/fullMargin)
}

// ContentScore scales the selected similarity's headroom above the threshold
// and divides by one plus the number of distant near-threshold rivals.
func ContentScore(candidates []estimate.Candidate, selected int, minSimilarity, templateSec float64) float64 {
	if selected < 0 || selected >= len(candidates) {
		return 0
	}
	anchor := candidates[selected]
	base := 1.0
	if minSimilarity < 1 {
		base = 0.5 + 0.5*(anchor.Similarity-minSimilarity)/(1-minSimilarity)
	}
	rivals := 0
	for i, c := range candidates {
		if i == selected {
			continue
		}
		if math.Abs(c.TimeSec-anchor.TimeSec) >= templateSec && c.Similarity >= minSimilarity-rivalSlack {
			rivals++
		}
	}
	return clamp01(base / float64(1+rivals))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
