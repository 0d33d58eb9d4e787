package render

import (
	"fmt"
	"image"
	"math"

	"github.com/cisco7507/align-audio/internal/estimate"
)

// Size is a figure size in pixels.
type Size struct {
	W, H int
}

// Figure sizes, in inches at 120 dpi.
var (
	SizeWaveform = Size{W: 1440, H: 480} // 12x4
	SizeCurve    = Size{W: 1200, H: 360} // 10x3
)

// ZoomHalfWidthSec is the span shown either side of the anchor in Zoom.
const ZoomHalfWidthSec = 2.0

// ResidualFrameSec is the frame length used by ResidualEnergy.
const ResidualFrameSec = 0.1

// WaveformOverlay plots both raw signals on their own timelines.
func WaveformOverlay(ref, ext []float32, sampleRate int) image.Image {
	f := NewFigure(SizeWaveform.W, SizeWaveform.H, "Waveform overlay (raw timelines)", 0)
	dur := math.Max(float64(len(ref)), float64(len(ext))) / float64(sampleRate)
	peak := math.Max(peakAbs(ref), peakAbs(ext))
	f.SetRange(0, dur, -peak, peak)
	step := 1 / float64(sampleRate)
	f.Series(0, step, ref, colorReference)
	f.Series(0, step, ext, colorExternal)
	f.Axes("Time (s)", "Amplitude")
	f.Legend(LegendEntry{"reference (raw)", colorReference}, LegendEntry{"external (raw)", colorExternal})
	return f.Image()
}

// SimilarityCurve plots correlation score against offset and marks the chosen offset.
func SimilarityCurve(curve estimate.Curve, offsetSec float64) image.Image {
	f := NewFigure(SizeCurve.W, SizeCurve.H, "Similarity vs. offset (correlation)", 0)
	end := curve.OffsetAt(max(0, len(curve.Scores)-1))
	lo, hi := float32Range(curve.Scores)
	f.SetRange(curve.StartSec, end, math.Min(lo, 0), math.Max(hi, 1e-3))
	f.Series(curve.StartSec, curve.StepSec, curve.Scores, colorReference)
	f.VLine(offsetSec, colorAccent, true)
	f.Axes("Offset (s)  [positive = external lags reference]", "Normalized similarity")
	f.Legend(LegendEntry{fmt.Sprintf("chosen offset %.3fs", offsetSec), colorAccent})
	return f.Image()
}

// CandidateCurve plots template similarity against external time with the threshold.
func CandidateCurve(candidates []estimate.Candidate, minSimilarity float64) image.Image {
	f := NewFigure(SizeCurve.W, SizeCurve.H, "Template similarity vs. external time (content)", 0)
	xs := make([]float64, len(candidates))
	ys := make([]float64, len(candidates))
	for i, c := range candidates {
		xs[i], ys[i] = c.TimeSec, c.Similarity
	}
	x0, x1 := candidateSpan(candidates)
	y0, y1 := similaritySpan(ys, minSimilarity)
	f.SetRange(x0, x1, y0, y1)
	f.Polyline(xs, ys, colorReference)
	f.HLine(minSimilarity, colorAccent, true)
	for _, c := range candidates {
		if c.Selected {
			f.VLine(c.TimeSec, colorAccept, true)
			f.Marker(c.TimeSec, c.Similarity, 3, colorAccept)
		}
	}
	f.Axes("External time (s)", "Cosine similarity (mean MFCC)")
	f.Legend(
		LegendEntry{fmt.Sprintf("min similarity %.2f", minSimilarity), colorAccent},
		LegendEntry{"selected anchor", colorAccept},
	)
	return f.Image()
}

// CandidateMap shows every evaluated window coloured by how it relates to the threshold.
func CandidateMap(candidates []estimate.Candidate, minSimilarity float64) image.Image {
	f := NewFigure(SizeCurve.W, SizeCurve.H, "Candidate anchors", 0)
	ys := make([]float64, len(candidates))
	for i, c := range candidates {
		ys[i] = c.Similarity
	}
	x0, x1 := candidateSpan(candidates)
	y0, y1 := similaritySpan(ys, minSimilarity)
	f.SetRange(x0, x1, y0, y1)
	f.HLine(minSimilarity, colorAccent, true)
	for _, c := range candidates {
		switch {
		case c.Selected:
			continue
		case c.Similarity >= minSimilarity:
			f.Marker(c.TimeSec, c.Similarity, 2, colorReference)
		case c.Similarity >= minSimilarity-0.05:
			f.Marker(c.TimeSec, c.Similarity, 2, colorRival)
		default:
			f.Marker(c.TimeSec, c.Similarity, 1, colorReject)
		}
	}
	// drawn last so it sits on top.
	for _, c := range candidates {
		if c.Selected {
			f.Marker(c.TimeSec, c.Similarity, 4, colorAccept)
		}
	}
	f.Axes("External time (s)", "Similarity")
	f.Legend(
		LegendEntry{"selected", colorAccept},
		LegendEntry{"above threshold", colorReference},
		LegendEntry{"near threshold", colorRival},
		LegendEntry{"rejected", colorReject},
	)
	return f.Image()
}

// Zoom shows both aligned signals within ZoomHalfWidthSec of centerSec.
func Zoom(ref, ext []float32, sampleRate int, centerSec float64) image.Image {
	title := fmt.Sprintf("Aligned zoom around anchor (%.2fs ±%.0fs)", centerSec, ZoomHalfWidthSec)
	f := NewFigure(SizeCurve.W, SizeCurve.H, title, 0)
	t0 := math.Max(0, centerSec-ZoomHalfWidthSec)
	t1 := centerSec + ZoomHalfWidthSec
	i0 := int(t0 * float64(sampleRate))
	i1 := int(math.Ceil(t1 * float64(sampleRate)))
	r := clip(ref, i0, i1)
	e := clip(ext, i0, i1)
	peak := math.Max(peakAbs(r), peakAbs(e))
	f.SetRange(t0, t1, -peak, peak)
	start := float64(i0) / float64(sampleRate)
	step := 1 / float64(sampleRate)
	f.Series(start, step, r, colorReference)
	f.Series(start, step, e, colorExternal)
	f.VLine(centerSec, colorAccent, true)
	f.Axes("Aligned time (s)", "Amplitude")
	f.Legend(LegendEntry{"reference", colorReference}, LegendEntry{"external (aligned)", colorExternal})
	return f.Image()
}

// ResidualEnergy plots the RMS level of ref−ext per frame next to the reference level.
// Both inputs are expected on the same (aligned) timeline.
func ResidualEnergy(ref, ext []float32, sampleRate int) image.Image {
	f := NewFigure(SizeCurve.W, SizeCurve.H, "Residual energy after alignment", 0)
	residual, level := ResidualFrames(ref, ext, sampleRate)
	lo, hi := float32Range(level)
	rlo, rhi := float32Range(residual)
	lo, hi = math.Min(lo, rlo), math.Max(hi, rhi)
	if len(level) == 0 {
		lo, hi = -120, 0
	}
	f.SetRange(0, float64(len(level))*ResidualFrameSec, lo-3, hi+3)
	f.Series(ResidualFrameSec/2, ResidualFrameSec, level, colorReference)
	f.Series(ResidualFrameSec/2, ResidualFrameSec, residual, colorAccent)
	f.Axes("Aligned time (s)", "RMS (dBFS)")
	f.Legend(LegendEntry{"reference level", colorReference}, LegendEntry{"residual (ref - ext)", colorAccent})
	return f.Image()
}

// ResidualFrames returns per-frame dBFS levels of ref−ext and of ref over the
// overlapping part of the two signals.
func ResidualFrames(ref, ext []float32, sampleRate int) (residual, level []float32) {
	n := min(len(ref), len(ext))
	frame := max(1, int(ResidualFrameSec*float64(sampleRate)))
	for start := 0; start+frame <= n; start += frame {
		var diff, own float64
		for i := start; i < start+frame; i++ {
			d := float64(ref[i]) - float64(ext[i])
			diff += d * d
			own += float64(ref[i]) * float64(ref[i])
		}
		residual = append(residual, float32(toDBFS(math.Sqrt(diff/float64(frame)))))
		level = append(level, float32(toDBFS(math.Sqrt(own/float64(frame)))))
	}
	return residual, level
}

func toDBFS(rms float64) float64 {
	return math.Max(-120, 20*math.Log10(rms+1e-12))
}

func peakAbs(x []float32) float64 {
	peak := 1e-3
	for _, v := range x {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	return peak
}

func float32Range(x []float32) (lo, hi float64) {
	if len(x) == 0 {
		return 0, 1
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range x {
		lo = math.Min(lo, float64(v))
		hi = math.Max(hi, float64(v))
	}
	return lo, hi
}

func candidateSpan(candidates []estimate.Candidate) (float64, float64) {
	if len(candidates) == 0 {
		return 0, 1
	}
	x0, x1 := candidates[0].TimeSec, candidates[len(candidates)-1].TimeSec
	if x1-x0 < 1 {
		x1 = x0 + 1
	}
	return x0, x1
}

func similaritySpan(ys []float64, threshold float64) (float64, float64) {
	lo, hi := threshold, threshold
	for _, y := range ys {
		lo = math.Min(lo, y)
		hi = math.Max(hi, y)
	}
	return lo - 0.05, math.Min(1.05, hi+0.05)
}

func clip(x []float32, i0, i1 int) []float32 {
	i0 = min(max(i0, 0), len(x))
	i1 = min(max(i1, i0), len(x))
	return x[i0:i1]
}
