package dsp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noise(n int, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = r.NormFloat64()
	}
	return out
}

func TestCrossCorrelateFindsShift(t *testing.T) {
	src := noise(4000, 1)
	a := src[1000:2000]
	// b starts 1000-137 samples into the source, so a's content appears at lag +137.
	b := src[863:2500]

	corr := CrossCorrelate(a, b, 300)
	require.NotEmpty(t, corr.Scores)
	assert.Equal(t, -300, corr.MinLag)
	assert.Len(t, corr.Scores, 601)

	best := corr.Best()
	assert.Equal(t, 137, corr.Lag(best))
	assert.InDelta(t, 1.0, corr.Scores[best], 1e-3)
}

func TestCrossCorrelateSelf(t *testing.T) {
	x := noise(2048, 2)
	corr := CrossCorrelate(x, x, 0)
	best := corr.Best()
	assert.Equal(t, 0, corr.Lag(best))
	assert.InDelta(t, 1.0, corr.Scores[best], 1e-9)
	for _, s := range corr.Scores {
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestCrossCorrelateEmpty(t *testing.T) {
	assert.Empty(t, CrossCorrelate(nil, []float64{1}, 0).Scores)
	assert.Equal(t, -1, Correlation{}.Best())
}

func TestBestPrefersSmallestLagOnTie(t *testing.T) {
	c := Correlation{MinLag: -2, Scores: []float64{0.9, 0.2, 0.3, 0.9 - 1e-8, 0.9}}
	assert.Equal(t, 1, c.Lag(c.Best()))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-3, 0}), 1e-12)
	assert.Zero(t, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.Zero(t, CosineSimilarity([]float64{1}, []float64{1, 2}))
}

func TestDCT2OrthoPreservesEnergy(t *testing.T) {
	src := noise(32, 3)
	dst := make([]float64, len(src))
	DCT2Ortho(dst, src)
	var e1, e2 float64
	for i := range src {
		e1 += src[i] * src[i]
		e2 += dst[i] * dst[i]
	}
	assert.InDelta(t, e1, e2, 1e-9)

	constant := []float64{2, 2, 2, 2}
	out := make([]float64, 3)
	DCT2Ortho(out, constant)
	assert.InDelta(t, 4.0, out[0], 1e-12)
	assert.InDelta(t, 0.0, out[1], 1e-12)
	assert.InDelta(t, 0.0, out[2], 1e-12)
}

func TestPowerSTFTTonePeak(t *testing.T) {
	const sr, freq, nfft = 8000, 1000.0, 512
	x := make([]float32, sr)
	for i := range x {
		x[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / sr))
	}
	power := PowerSTFT(x, nfft, 128, true)
	assert.Len(t, power, 1+len(x)/128)

	row := power[len(power)/2]
	require.Len(t, row, nfft/2+1)
	peak := 0
	for i, v := range row {
		if v > row[peak] {
			peak = i
		}
	}
	assert.Equal(t, int(freq*nfft/sr), peak)
}

func TestPowerToDBClipsToTopDB(t *testing.T) {
	power := [][]float64{{1, 1e-12}, {0.1, 0}}
	PowerToDB(power, 1e-10, 80)
	assert.InDelta(t, 0, power[0][0], 1e-12)
	assert.InDelta(t, -80, power[0][1], 1e-12)
	assert.InDelta(t, -10, power[1][0], 1e-12)
	assert.InDelta(t, -80, power[1][1], 1e-12)
}

func TestMeanMFCCDiscriminates(t *testing.T) {
	const sr = 8000
	tone := func(freq float64) []float32 {
		x := make([]float32, sr)
		for i := range x {
			x[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/sr))
		}
		return x
	}
	a := MeanMFCC(tone(440), sr)
	require.Len(t, a, MFCCCoeffs)
	assert.InDelta(t, 1.0, CosineSimilarity(a, MeanMFCC(tone(440), sr)), 1e-12)

	var white []float32
	for _, v := range noise(sr, 4) {
		white = append(white, float32(0.3*v))
	}
	assert.Less(t, CosineSimilarity(a, MeanMFCC(white, sr)), 0.99)
}
