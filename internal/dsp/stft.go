package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Hann returns a periodic Hann window of length n, the variant used for
// spectral analysis.
func Hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// PowerSTFT returns |X|² per frame, each frame holding nfft/2+1 bins. With
// center set the signal is zero padded by nfft/2 on both sides so frame t is
// centred on sample t*hop.
func PowerSTFT(x []float32, nfft, hop int, center bool) [][]float64 {
	var out [][]float64
	EachFrame(x, nfft, hop, center, func(_ int, power []float64) {
		row := make([]float64, len(power))
		copy(row, power)
		out = append(out, row)
	})
	return out
}

// FrameCount is the number of frames EachFrame will visit.
func FrameCount(n, nfft, hop int, center bool) int {
	if nfft <= 0 || hop <= 0 {
		return 0
	}
	total := n
	if center {
		total += 2 * (nfft / 2)
		if total < nfft {
			total = nfft
		}
	}
	if total < nfft {
		return 0
	}
	return 1 + (total-nfft)/hop
}

// EachFrame streams the power spectrum of every frame to fn. The slice passed
// to fn is reused between calls.
func EachFrame(x []float32, nfft, hop int, center bool, fn func(t int, power []float64)) int {
	frames := FrameCount(len(x), nfft, hop, center)
	if frames == 0 {
		return 0
	}
	pad := 0
	if center {
		pad = nfft / 2
	}
	win := Hann(nfft)
	fft := fourier.NewFFT(nfft)
	buf := make([]float64, nfft)
	coeff := make([]complex128, nfft/2+1)
	power := make([]float64, nfft/2+1)
	for t := 0; t < frames; t++ {
		start := t*hop - pad
		for k := 0; k < nfft; k++ {
			i := start + k
			if i >= 0 && i < len(x) {
				buf[k] = float64(x[i]) * win[k]
			} else {
				buf[k] = 0
			}
		}
		coeff = fft.Coefficients(coeff, buf)
		for f, c := range coeff {
			m := cmplx.Abs(c)
			power[f] = m * m
		}
		fn(t, power)
	}
	return frames
}

// PowerToDB converts power values to decibels relative to 1.0, flooring at
// amin and clipping everything more than topDB below the loudest value.
// A non-positive topDB disables clipping. The matrix is modified in place.
func PowerToDB(power [][]float64, amin, topDB float64) [][]float64 {
	peak := math.Inf(-1)
	for _, row := range power {
		for i, v := range row {
			db := 10 * math.Log10(math.Max(amin, v))
			row[i] = db
			if db > peak {
				peak = db
			}
		}
	}
	if topDB > 0 {
		floor := peak - topDB
		for _, row := range power {
			for i, v := range row {
				if v < floor {
					row[i] = floor
				}
			}
		}
	}
	return power
}
