// Package dsp holds the numeric kernels behind offset estimation and the
// spectrogram views. Transforms use gonum's FFT plans.
package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// TieTolerance is how close two correlation scores must be to count as the same peak.
const TieTolerance = 1e-6

// Correlation is a normalized cross-correlation restricted to a lag range.
// Scores[i] belongs to lag MinLag+i (in samples). A positive lag means the
// content of a shows up later in b.
type Correlation struct {
	MinLag int
	Scores []float64
}

// Lag returns the lag of Scores[i].
func (c Correlation) Lag(i int) int { return c.MinLag + i }

// Best returns the index of the global maximum. Scores within TieTolerance of
// the maximum are treated as equal and the one with the smallest |lag| wins.
func (c Correlation) Best() int {
	if len(c.Scores) == 0 {
		return -1
	}
	peak := floats.Max(c.Scores)
	best := -1
	for i, s := range c.Scores {
		if s < peak-TieTolerance {
			continue
		}
		if best < 0 || absInt(c.Lag(i)) < absInt(c.Lag(best)) {
			best = i
		}
	}
	return best
}

// CrossCorrelate computes score(k) = Σ a[n]·b[n+k] / √(E_a · E_b(k)) for
// |k| ≤ maxLag, where both inputs are zero-meaned first and E_b(k) is the
// energy of the part of b overlapping a at lag k. A perfect copy scores 1.
// maxLag ≤ 0 means every lag with any overlap.
func CrossCorrelate(a, b []float64, maxLag int) Correlation {
	na, nb := len(a), len(b)
	if na == 0 || nb == 0 {
		return Correlation{}
	}
	a0 := zeroMean(a)
	b0 := zeroMean(b)

	minLag := -(na - 1)
	hiLag := nb - 1
	if maxLag > 0 {
		if -maxLag > minLag {
			minLag = -maxLag
		}
		if maxLag < hiLag {
			hiLag = maxLag
		}
	}
	if minLag > hiLag {
		return Correlation{}
	}

	m := nextPow2(na + nb - 1)
	fft := fourier.NewFFT(m)
	pa := make([]float64, m)
	pb := make([]float64, m)
	copy(pa, a0)
	copy(pb, b0)
	ca := fft.Coefficients(nil, pa)
	cb := fft.Coefficients(nil, pb)
	for i := range ca {
		ca[i] = cmplx.Conj(ca[i]) * cb[i]
	}
	raw := fft.Sequence(nil, ca)
	// gonum leaves the inverse transform unscaled.
	floats.Scale(1/float64(m), raw)

	ea := floats.Dot(a0, a0)
	prefix := make([]float64, nb+1)
	for i, v := range b0 {
		prefix[i+1] = prefix[i] + v*v
	}

	scores := make([]float64, hiLag-minLag+1)
	for k := minLag; k <= hiLag; k++ {
		idx := k
		if idx < 0 {
			idx += m
		}
		lo := k
		if lo < 0 {
			lo = 0
		}
		hi := na + k
		if hi > nb {
			hi = nb
		}
		eb := prefix[hi] - prefix[lo]
		den := math.Sqrt(ea * eb)
		if den <= 1e-12 {
			continue
		}
		s := raw[idx] / den
		// rounding can push a perfect match fractionally past 1.
		scores[k-minLag] = math.Max(-1, math.Min(1, s))
	}
	return Correlation{MinLag: minLag, Scores: scores}
}

func zeroMean(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	mean := floats.Sum(out) / float64(len(out))
	floats.AddConst(-mean, out)
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
