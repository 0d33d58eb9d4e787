package dsp

import (
	"math"
	"sync"
)

// MFCC analysis settings for content matching.
const (
	MFCCFFTSize = 2048
	MFCCHop     = 512
	MelBands    = 128
	MFCCCoeffs  = 20
)

// melFilter is one triangular filter stored as its non-zero span.
type melFilter struct {
	first   int
	weights []float64
}

type melKey struct{ sampleRate, nfft, bands int }

var melCache sync.Map // melKey -> []melFilter

// MeanMFCC returns the per-coefficient mean of the MFCC frames of x.
func MeanMFCC(x []float32, sampleRate int) []float64 {
	mean := make([]float64, MFCCCoeffs)
	if len(x) == 0 {
		return mean
	}
	power := PowerSTFT(x, MFCCFFTSize, MFCCHop, true)
	filters := melFilterbank(sampleRate, MFCCFFTSize, MelBands)

	mel := make([][]float64, len(power))
	for t, row := range power {
		bands := make([]float64, len(filters))
		for m, f := range filters {
			var acc float64
			for j, w := range f.weights {
				acc += w * row[f.first+j]
			}
			bands[m] = acc
		}
		mel[t] = bands
	}
	PowerToDB(mel, 1e-10, 80)

	coeffs := make([]float64, MFCCCoeffs)
	for _, bands := range mel {
		DCT2Ortho(coeffs, bands)
		for k, c := range coeffs {
			mean[k] += c
		}
	}
	for k := range mean {
		mean[k] /= float64(len(mel))
	}
	return mean
}

// DCT2Ortho writes the first len(dst) orthonormal DCT-II coefficients of src into dst.
func DCT2Ortho(dst, src []float64) {
	n := float64(len(src))
	for k := range dst {
		var acc float64
		for i, v := range src {
			acc += v * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*n))
		}
		if k == 0 {
			dst[k] = acc * math.Sqrt(1/n)
		} else {
			dst[k] = acc * math.Sqrt(2/n)
		}
	}
}

// melFilterbank builds Slaney-normalized triangular filters between 0 Hz and Nyquist.
func melFilterbank(sampleRate, nfft, bands int) []melFilter {
	key := melKey{sampleRate, nfft, bands}
	if v, ok := melCache.Load(key); ok {
		return v.([]melFilter)
	}

	bins := nfft/2 + 1
	fftFreqs := make([]float64, bins)
	for i := range fftFreqs {
		fftFreqs[i] = float64(i) * float64(sampleRate) / float64(nfft)
	}
	maxMel := hzToMel(float64(sampleRate) / 2)
	melFreqs := make([]float64, bands+2)
	for i := range melFreqs {
		melFreqs[i] = melToHz(maxMel * float64(i) / float64(bands+1))
	}

	filters := make([]melFilter, bands)
	for m := 0; m < bands; m++ {
		lo, center, hi := melFreqs[m], melFreqs[m+1], melFreqs[m+2]
		enorm := 2 / (hi - lo)
		f := melFilter{first: -1}
		for i, hz := range fftFreqs {
			lower := (hz - lo) / (center - lo)
			upper := (hi - hz) / (hi - center)
			w := math.Max(0, math.Min(lower, upper))
			if w == 0 {
				if f.first >= 0 {
					break
				}
				continue
			}
			if f.first < 0 {
				f.first = i
			}
			f.weights = append(f.weights, w*enorm)
		}
		if f.first < 0 {
			f.first = 0
		}
		filters[m] = f
	}
	melCache.Store(key, filters)
	return filters
}

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSp      = 200.0 / 3
	melMinLogHz = 1000.0
)

var (
	melMinLogMel = melMinLogHz / melFSp
	melLogStep   = math.Log(6.4) / 27
)

func hzToMel(hz float64) float64 {
	if hz < melMinLogHz {
		return hz / melFSp
	}
	return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
}

func melToHz(mel float64) float64 {
	if mel < melMinLogMel {
		return mel * melFSp
	}
	return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
}
