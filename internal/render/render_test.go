package render

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisco7507/align-audio/internal/estimate"
)

const sr = 8000

func sine(freq, seconds float64) []float32 {
	out := make([]float32, int(seconds*sr))
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/sr))
	}
	return out
}

func countNonWhite(img image.Image, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			if cr != 0xffff || cg != 0xffff || cb != 0xffff {
				n++
			}
		}
	}
	return n
}

func TestPlotSizes(t *testing.T) {
	ref := sine(220, 3)
	ext := sine(330, 2)
	curve := estimate.Curve{StartSec: -1, StepSec: 1.0 / sr, Scores: make([]float32, 2*sr+1)}
	curve.Scores[sr] = 1
	candidates := []estimate.Candidate{
		{TimeSec: 0, Similarity: 0.4},
		{TimeSec: 0.1, Similarity: 0.8, Selected: true},
		{TimeSec: 0.2, Similarity: 0.75},
	}

	cases := []struct {
		name string
		img  image.Image
		size Size
	}{
		{"waveform", WaveformOverlay(ref, ext, sr), SizeWaveform},
		{"similarity", SimilarityCurve(curve, 0), SizeCurve},
		{"candidates", CandidateCurve(candidates, 0.78), SizeCurve},
		{"candidate map", CandidateMap(candidates, 0.78), SizeCurve},
		{"zoom", Zoom(ref, ref, sr, 1), SizeCurve},
		{"residual", ResidualEnergy(ref, ref, sr), SizeCurve},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.img.Bounds()
			assert.Equal(t, tc.size.W, b.Dx())
			assert.Equal(t, tc.size.H, b.Dy())
			plot := image.Rect(marginLeft, marginTop, b.Dx()-marginRight, b.Dy()-marginBottom)
			assert.Greater(t, countNonWhite(tc.img, plot), 100, "plot area should contain ink")
		})
	}
}

func TestPlotsTolerateEmptyInput(t *testing.T) {
	assert.NotNil(t, WaveformOverlay(nil, nil, sr))
	assert.NotNil(t, SimilarityCurve(estimate.Curve{}, 0))
	assert.NotNil(t, CandidateCurve(nil, 0.5))
	assert.NotNil(t, ResidualEnergy(nil, nil, sr))
	assert.NotNil(t, Spectrogram(Transform{}, Views[ViewDefault].Size, "empty"))
}

func TestResidualFrames(t *testing.T) {
	x := sine(440, 1)
	residual, level := ResidualFrames(x, x, sr)
	require.Len(t, residual, 10)
	for i := range residual {
		assert.Equal(t, float32(-120), residual[i])
		assert.InDelta(t, 20*math.Log10(0.5/math.Sqrt2), float64(level[i]), 0.1)
	}
}

func TestComputeTransformFindsTone(t *testing.T) {
	tr := ComputeTransform(sine(1000, 2), sr, 1024, 256, 40)
	assert.Equal(t, 40, tr.Cols)
	assert.Equal(t, TransformRows, tr.Rows)
	require.Len(t, tr.DB, tr.Cols*tr.Rows)

	col := tr.Cols / 2
	best := 0
	for r := 0; r < tr.Rows; r++ {
		if tr.At(r, col) > tr.At(best, col) {
			best = r
		}
		assert.LessOrEqual(t, tr.At(r, col), float32(0))
		assert.GreaterOrEqual(t, tr.At(r, col), float32(-TopDB))
	}
	lo := tr.MinHz * math.Pow(tr.MaxHz/tr.MinHz, float64(best)/float64(tr.Rows))
	hi := tr.MinHz * math.Pow(tr.MaxHz/tr.MinHz, float64(best+1)/float64(tr.Rows))
	binHz := float64(sr) / 1024
	assert.True(t, lo-binHz <= 1000 && 1000 <= hi+binHz, "peak row %d covers %.0f-%.0f Hz", best, lo, hi)
}

func TestTransformRoundTripAndSpectrogram(t *testing.T) {
	tr := ComputeTransform(sine(500, 1), sr, 512, 128, CachedTransformCols)
	path := filepath.Join(t.TempDir(), "stft_reference.gob")
	require.NoError(t, SaveTransform(path, tr))

	loaded, err := LoadTransform(path)
	require.NoError(t, err)
	assert.Equal(t, tr, loaded)

	for view, preset := range Views {
		img := Spectrogram(loaded, preset.Size, "Spectrogram (reference, "+string(view)+")")
		assert.Equal(t, preset.Size.W, img.Bounds().Dx())
		assert.Equal(t, preset.Size.H, img.Bounds().Dy())
	}
}

func TestLoadTransformMissing(t *testing.T) {
	_, err := LoadTransform(filepath.Join(t.TempDir(), "missing.gob"))
	assert.Error(t, err)
}

func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "waveform.png")
	require.NoError(t, SavePNG(path, WaveformOverlay(sine(100, 1), sine(100, 1), sr)))

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestParseView(t *testing.T) {
	v, ok := ParseView("")
	assert.True(t, ok)
	assert.Equal(t, ViewDefault, v)
	v, ok = ParseView("highRes")
	assert.True(t, ok)
	assert.Equal(t, ViewHighRes, v)
	_, ok = ParseView("huge")
	assert.False(t, ok)
}

func TestNiceTicks(t *testing.T) {
	assert.Equal(t, []float64{0, 2, 4, 6, 8, 10}, niceTicks(0, 10, 5))
	assert.Nil(t, niceTicks(1, 1, 5))
}

func TestMagmaEnds(t *testing.T) {
	assert.Equal(t, magmaStops[0], magma(-1))
	assert.Equal(t, magmaStops[len(magmaStops)-1], magma(2))
}

func TestForViewBoundsWindow(t *testing.T) {
	x := sine(200, 40)
	tr := ForView(x, sr, ViewDefault)
	assert.InDelta(t, Views[ViewDefault].MaxSec, tr.DurationSec, 1e-9)
	assert.LessOrEqual(t, tr.Cols, Views[ViewDefault].Size.W)

	cached := ForCache(x, sr)
	assert.InDelta(t, 40, cached.DurationSec, 1e-9)
	assert.LessOrEqual(t, cached.Cols, CachedTransformCols)
	assert.Equal(t, Views[ViewLong].NFFT, cached.NFFT)
}
