package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/cisco7507/align-audio/internal/dsp"
)

// View names one spectrogram preset.
type View string

const (
	ViewDefault View = "default"
	ViewLong    View = "long"
	ViewHighRes View = "highRes"
)

// ViewSpec is the transform window and figure size of a view.
type ViewSpec struct {
	NFFT   int
	Hop    int
	MaxSec float64
	Size   Size
}

// Views is the preset table. Recomputed views read at most the first five minutes.
var Views = map[View]ViewSpec{
	ViewDefault: {NFFT: 2048, Hop: 512, MaxSec: 30, Size: Size{W: 960, H: 360}},
	ViewLong:    {NFFT: 2048, Hop: 512, MaxSec: 300, Size: Size{W: 1200, H: 360}},
	ViewHighRes: {NFFT: 4096, Hop: 256, MaxSec: 300, Size: Size{W: 1920, H: 640}},
}

// ParseView accepts the view names used in URLs.
func ParseView(s string) (View, bool) {
	v := View(s)
	if s == "" {
		v = ViewDefault
	}
	_, ok := Views[v]
	return v, ok
}

// TopDB is the dynamic range kept in a Transform.
const TopDB = 80.0

// TransformRows is the number of log-spaced frequency rows in a Transform.
const TransformRows = 256

// CachedTransformCols bounds the time resolution of the transform cached per job.
const CachedTransformCols = 1920

// Transform is a spectrogram reduced to a log-frequency grid: DB holds
// Rows×Cols values in dB relative to the loudest cell (0 down to -TopDB),
// row 0 being the lowest frequency band.
type Transform struct {
	SampleRate  int
	NFFT        int
	Hop         int
	DurationSec float64
	MinHz       float64
	MaxHz       float64
	Cols        int
	Rows        int
	DB          []float32
}

// At returns the value at row r, column c.
func (t Transform) At(r, c int) float32 {
	return t.DB[r*t.Cols+c]
}

// ComputeTransform runs an STFT over x and max-pools it into at most maxCols
// time columns and TransformRows log-frequency rows.
func ComputeTransform(x []float32, sampleRate, nfft, hop, maxCols int) Transform {
	frames := dsp.FrameCount(len(x), nfft, hop, true)
	cols := min(frames, max(1, maxCols))
	rows := TransformRows
	minHz := math.Max(20, float64(sampleRate)/float64(nfft))
	maxHz := float64(sampleRate) / 2

	binLo := make([]int, rows)
	binHi := make([]int, rows)
	ratio := maxHz / minHz
	bins := nfft / 2
	for r := 0; r < rows; r++ {
		f0 := minHz * math.Pow(ratio, float64(r)/float64(rows))
		f1 := minHz * math.Pow(ratio, float64(r+1)/float64(rows))
		lo := min(bins, int(math.Round(f0*float64(nfft)/float64(sampleRate))))
		hi := min(bins, int(math.Round(f1*float64(nfft)/float64(sampleRate)))-1)
		binLo[r], binHi[r] = lo, max(lo, hi)
	}

	power := make([]float64, rows*cols)
	dsp.EachFrame(x, nfft, hop, true, func(t int, frame []float64) {
		c := t * cols / frames
		for r := 0; r < rows; r++ {
			for b := binLo[r]; b <= binHi[r]; b++ {
				if frame[b] > power[r*cols+c] {
					power[r*cols+c] = frame[b]
				}
			}
		}
	})

	peak := 0.0
	for _, p := range power {
		peak = math.Max(peak, p)
	}
	db := make([]float32, len(power))
	for i, p := range power {
		v := -TopDB
		if peak > 0 && p > 0 {
			v = math.Max(-TopDB, 10*math.Log10(p/peak))
		}
		db[i] = float32(v)
	}
	return Transform{
		SampleRate:  sampleRate,
		NFFT:        nfft,
		Hop:         hop,
		DurationSec: float64(len(x)) / float64(sampleRate),
		MinHz:       minHz,
		MaxHz:       maxHz,
		Cols:        cols,
		Rows:        rows,
		DB:          db,
	}
}

const colorBarWidth = 84

// Spectrogram draws t as a magma heatmap on a log-frequency axis with a dB colour bar.
func Spectrogram(t Transform, size Size, title string) image.Image {
	f := NewFigure(size.W, size.H, title, colorBarWidth)
	f.SetRange(0, math.Max(t.DurationSec, 1e-3), 0, 1)

	if t.Cols > 0 && t.Rows > 0 && len(t.DB) == t.Cols*t.Rows {
		heat := image.NewRGBA(image.Rect(0, 0, t.Cols, t.Rows))
		for r := 0; r < t.Rows; r++ {
			for c := 0; c < t.Cols; c++ {
				heat.Set(c, t.Rows-1-r, magma((float64(t.At(r, c))+TopDB)/TopDB))
			}
		}
		scaleInto(f.img, f.plot, heat)
	}

	for _, v := range niceTicks(f.x0, f.x1, 8) {
		label := formatTick(v)
		f.text(f.px(v)-textWidth(label)/2, f.plot.Max.Y+14, label, colorText)
	}
	for _, hz := range []float64{32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384} {
		if hz < t.MinHz || hz > t.MaxHz {
			continue
		}
		pos := math.Log(hz/t.MinHz) / math.Log(t.MaxHz/t.MinHz)
		y := f.plot.Max.Y - 1 - int(math.Round(pos*float64(f.plot.Dy()-1)))
		label := formatHz(hz)
		f.text(f.plot.Min.X-6-textWidth(label), y+4, label, colorText)
	}
	f.frame(f.plot, colorAxis)
	f.text(f.plot.Min.X+(f.plot.Dx()-textWidth("Time (s)"))/2, f.plot.Max.Y+32, "Time (s)", colorText)
	f.text(4, f.plot.Min.Y-6, "Hz", colorText)
	f.colorBar()
	return f.Image()
}

func (f *Figure) colorBar() {
	bar := image.Rect(f.plot.Max.X+14, f.plot.Min.Y, f.plot.Max.X+28, f.plot.Max.Y)
	for y := bar.Min.Y; y < bar.Max.Y; y++ {
		v := 1 - float64(y-bar.Min.Y)/float64(bar.Dy()-1)
		draw.Draw(f.img, image.Rect(bar.Min.X, y, bar.Max.X, y+1), image.NewUniform(magma(v)), image.Point{}, draw.Src)
	}
	f.frame(bar, colorAxis)
	for db := 0.0; db >= -TopDB; db -= 20 {
		y := bar.Min.Y + int(math.Round(-db/TopDB*float64(bar.Dy()-1)))
		f.text(bar.Max.X+4, y+4, fmt.Sprintf("%+.0f dB", db), colorText)
	}
}

// scaleInto fits src into r of dst. Large sources are downsampled with a
// Lanczos filter, which keeps narrow peaks visible; small ones are interpolated.
func scaleInto(dst *image.RGBA, r image.Rectangle, src image.Image) {
	sb := src.Bounds()
	if sb.Dx()*sb.Dy() > r.Dx()*r.Dy() {
		small := imaging.Resize(src, r.Dx(), r.Dy(), imaging.Lanczos)
		draw.Draw(dst, r, small, image.Point{}, draw.Src)
		return
	}
	draw.CatmullRom.Scale(dst, r, src, sb, draw.Src, nil)
}

func formatHz(hz float64) string {
	if hz >= 1000 {
		return fmt.Sprintf("%gk", hz/1000)
	}
	return fmt.Sprintf("%g", hz)
}

// magma control points, evenly spaced over [0,1].
var magmaStops = []color.NRGBA{
	{0, 0, 4, 255},
	{28, 16, 68, 255},
	{79, 18, 123, 255},
	{129, 37, 129, 255},
	{181, 54, 122, 255},
	{229, 80, 100, 255},
	{251, 135, 97, 255},
	{254, 194, 135, 255},
	{252, 253, 191, 255},
}

func magma(v float64) color.NRGBA {
	v = math.Max(0, math.Min(1, v))
	pos := v * float64(len(magmaStops)-1)
	i := int(pos)
	if i >= len(magmaStops)-1 {
		return magmaStops[len(magmaStops)-1]
	}
	frac := pos - float64(i)
	a, b := magmaStops[i], magmaStops[i+1]
	lerp := func(x, y uint8) uint8 { return uint8(math.Round(float64(x) + frac*(float64(y)-float64(x)))) }
	return color.NRGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 255}
}

// ForView computes the transform drawn by view over the first MaxSec of x.
func ForView(x []float32, sampleRate int, v View) Transform {
	preset, ok := Views[v]
	if !ok {
		preset = Views[ViewDefault]
	}
	return ComputeTransform(head(x, preset.MaxSec, sampleRate), sampleRate, preset.NFFT, preset.Hop, preset.Size.W)
}

// ForCache computes the transform kept with a job so any view can be redrawn
// after its audio is purged. It covers the long view's window.
func ForCache(x []float32, sampleRate int) Transform {
	preset := Views[ViewLong]
	return ComputeTransform(head(x, preset.MaxSec, sampleRate), sampleRate, preset.NFFT, preset.Hop, CachedTransformCols)
}

func head(x []float32, sec float64, sampleRate int) []float32 {
	return x[:min(len(x), int(sec*float64(sampleRate)))]
}

// SpectrogramTitle labels a track's spectrogram; the default view carries no suffix.
func SpectrogramTitle(track string, view View) string {
	if view == ViewDefault || view == "" {
		return fmt.Sprintf("Spectrogram (%s)", track)
	}
	return fmt.Sprintf("Spectrogram (%s, %s)", track, view)
}
