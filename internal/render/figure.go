// Package render draws the diagnostic plots attached to an alignment job.
// Every plot is a pure function returning an image; writing files is left to
// SavePNG so callers decide where artifacts live.
package render

import (
	"image"
	"image/color"
	"math"
	"strconv"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorReference = color.NRGBA{31, 119, 180, 190}
	colorExternal  = color.NRGBA{255, 127, 14, 190}
	colorAccent    = color.NRGBA{214, 39, 40, 255}
	colorAccept    = color.NRGBA{44, 160, 44, 255}
	colorRival     = color.NRGBA{255, 127, 14, 255}
	colorReject    = color.NRGBA{150, 150, 150, 255}
	colorAxis      = color.NRGBA{40, 40, 40, 255}
	colorGrid      = color.NRGBA{0, 0, 0, 28}
	colorText      = color.NRGBA{20, 20, 20, 255}
)

const (
	marginLeft   = 64
	marginRight  = 20
	marginTop    = 30
	marginBottom = 42
)

// Figure is a white canvas with one plot area mapped to data coordinates.
type Figure struct {
	img            *image.RGBA
	plot           image.Rectangle
	x0, x1, y0, y1 float64
}

// NewFigure allocates a w×h canvas; extraRight reserves space beside the plot (colour bars).
func NewFigure(w, h int, title string, extraRight int) *Figure {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	f := &Figure{
		img:  img,
		plot: image.Rect(marginLeft, marginTop, w-marginRight-extraRight, h-marginBottom),
		x1:   1,
		y1:   1,
	}
	f.text((w-textWidth(title))/2, 19, title, colorText)
	return f
}

// Image returns the finished canvas.
func (f *Figure) Image() image.Image { return f.img }

// SetRange maps data coordinates onto the plot area.
func (f *Figure) SetRange(x0, x1, y0, y1 float64) {
	if !(x1 > x0) {
		x1 = x0 + 1
	}
	if !(y1 > y0) {
		y1 = y0 + 1
	}
	f.x0, f.x1, f.y0, f.y1 = x0, x1, y0, y1
}

func (f *Figure) px(x float64) int {
	return f.plot.Min.X + int(math.Round((x-f.x0)/(f.x1-f.x0)*float64(f.plot.Dx()-1)))
}

func (f *Figure) py(y float64) int {
	return f.plot.Max.Y - 1 - int(math.Round((y-f.y0)/(f.y1-f.y0)*float64(f.plot.Dy()-1)))
}

// xAt is the data x at the left edge of plot column c.
func (f *Figure) xAt(c int) float64 {
	return f.x0 + float64(c)/float64(f.plot.Dx())*(f.x1-f.x0)
}

func (f *Figure) dot(x, y int, c color.Color) {
	if !image.Pt(x, y).In(f.plot) {
		return
	}
	draw.Draw(f.img, image.Rect(x, y, x+1, y+1), image.NewUniform(c), image.Point{}, draw.Over)
}

func (f *Figure) pixelLine(x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		f.dot(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// Polyline joins consecutive points.
func (f *Figure) Polyline(xs, ys []float64, c color.Color) {
	for i := 1; i < len(xs) && i < len(ys); i++ {
		f.pixelLine(f.px(xs[i-1]), f.py(ys[i-1]), f.px(xs[i]), f.py(ys[i]), c)
	}
}

// Series draws a uniformly sampled series as a per-column min/max envelope,
// which keeps million-point curves legible and cheap.
func (f *Figure) Series(start, step float64, values []float32, c color.Color) {
	if len(values) == 0 || step <= 0 {
		return
	}
	prevTop, prevBot := -1, -1
	for col := 0; col < f.plot.Dx(); col++ {
		i0 := max(0, int(math.Ceil((f.xAt(col)-start)/step)))
		i1 := min(len(values), int(math.Ceil((f.xAt(col+1)-start)/step)))
		if i1 <= i0 {
			// fewer samples than columns: hold the next sample.
			if i0 >= len(values) || f.xAt(col+1) < start {
				continue
			}
			i1 = i0 + 1
		}
		lo, hi := values[i0], values[i0]
		for _, v := range values[i0:i1] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		top, bot := f.py(float64(hi)), f.py(float64(lo))
		drawTop, drawBot := top, bot
		if prevTop >= 0 {
			if prevBot < top {
				drawTop = prevBot
			}
			if prevTop > bot {
				drawBot = prevTop
			}
		}
		x := f.plot.Min.X + col
		for y := drawTop; y <= drawBot; y++ {
			f.dot(x, y, c)
		}
		prevTop, prevBot = top, bot
	}
}

// VLine draws a vertical line at data x; dashed lines alternate 4px on/off.
func (f *Figure) VLine(x float64, c color.Color, dashed bool) {
	px := f.px(x)
	for y := f.plot.Min.Y; y < f.plot.Max.Y; y++ {
		if dashed && (y/4)%2 == 1 {
			continue
		}
		f.dot(px, y, c)
	}
}

// HLine draws a horizontal line at data y.
func (f *Figure) HLine(y float64, c color.Color, dashed bool) {
	py := f.py(y)
	for x := f.plot.Min.X; x < f.plot.Max.X; x++ {
		if dashed && (x/4)%2 == 1 {
			continue
		}
		f.dot(x, py, c)
	}
}

// Marker draws a filled square of half-width r centred on a data point.
func (f *Figure) Marker(x, y float64, r int, c color.Color) {
	cx, cy := f.px(x), f.py(y)
	for yy := cy - r; yy <= cy+r; yy++ {
		for xx := cx - r; xx <= cx+r; xx++ {
			f.dot(xx, yy, c)
		}
	}
}

// Axes draws the frame, grid, tick labels and axis titles.
func (f *Figure) Axes(xLabel, yLabel string) {
	for _, v := range niceTicks(f.x0, f.x1, 8) {
		x := f.px(v)
		for y := f.plot.Min.Y; y < f.plot.Max.Y; y++ {
			f.dot(x, y, colorGrid)
		}
		label := formatTick(v)
		f.text(x-textWidth(label)/2, f.plot.Max.Y+14, label, colorText)
	}
	for _, v := range niceTicks(f.y0, f.y1, 5) {
		y := f.py(v)
		for x := f.plot.Min.X; x < f.plot.Max.X; x++ {
			f.dot(x, y, colorGrid)
		}
		label := formatTick(v)
		f.text(f.plot.Min.X-6-textWidth(label), y+4, label, colorText)
	}
	f.frame(f.plot, colorAxis)
	f.text(f.plot.Min.X+(f.plot.Dx()-textWidth(xLabel))/2, f.plot.Max.Y+32, xLabel, colorText)
	f.text(4, f.plot.Min.Y-6, yLabel, colorText)
}

func (f *Figure) frame(r image.Rectangle, c color.Color) {
	for x := r.Min.X - 1; x <= r.Max.X; x++ {
		f.img.Set(x, r.Min.Y-1, c)
		f.img.Set(x, r.Max.Y, c)
	}
	for y := r.Min.Y - 1; y <= r.Max.Y; y++ {
		f.img.Set(r.Min.X-1, y, c)
		f.img.Set(r.Max.X, y, c)
	}
}

// LegendEntry names one colour in the plot.
type LegendEntry struct {
	Label string
	Color color.Color
}

// Legend stacks entries in the top-right corner of the plot.
func (f *Figure) Legend(entries ...LegendEntry) {
	width := 0
	for _, e := range entries {
		width = max(width, textWidth(e.Label))
	}
	x := f.plot.Max.X - width - 30
	y := f.plot.Min.Y + 6
	box := image.Rect(x-6, y-2, f.plot.Max.X-4, y+len(entries)*16+2)
	draw.Draw(f.img, box, image.NewUniform(color.NRGBA{255, 255, 255, 220}), image.Point{}, draw.Over)
	for i, e := range entries {
		row := y + i*16
		draw.Draw(f.img, image.Rect(x, row+4, x+14, row+8), image.NewUniform(e.Color), image.Point{}, draw.Over)
		f.text(x+20, row+11, e.Label, colorText)
	}
}

func (f *Figure) text(x, y int, s string, c color.Color) {
	d := font.Drawer{
		Dst:  f.img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Round()
}

// niceTicks picks about n round values covering [lo, hi].
func niceTicks(lo, hi float64, n int) []float64 {
	if !(hi > lo) || n < 1 {
		return nil
	}
	raw := (hi - lo) / float64(n)
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	step := mag
	for _, m := range []float64{1, 2, 5, 10} {
		step = m * mag
		if step >= raw {
			break
		}
	}
	var ticks []float64
	for v := math.Ceil(lo/step) * step; v <= hi+step*1e-9; v += step {
		if math.Abs(v) < step*1e-9 {
			v = 0
		}
		ticks = append(ticks, v)
	}
	return ticks
}

func formatTick(v float64) string {
	return strconv.FormatFloat(v, 'g', 4, 64)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
