// Package imaging provides the raster math the detectors are built on:
// grayscale conversion, histograms, convolution filters, frequency
// analysis, and similarity metrics. Everything operates on float64 planes
// so detectors compose metrics without precision surprises; conversion
// from decoded frames happens once per call site.
package imaging

import (
	"math"

	"github.com/visus-project/visus/internal/models"
)

// GrayImage is a single-channel float64 plane.
type GrayImage struct {
	W, H int
	Pix  []float64
}

// NewGrayImage allocates a zeroed plane.
func NewGrayImage(w, h int) *GrayImage {
	return &GrayImage{W: w, H: h, Pix: make([]float64, w*h)}
}

// At returns the value at (x, y).
func (g *GrayImage) At(x, y int) float64 {
	return g.Pix[y*g.W+x]
}

// Set writes the value at (x, y).
func (g *GrayImage) Set(x, y int, v float64) {
	g.Pix[y*g.W+x] = v
}

// ToGray converts a frame to a float64 luminance plane using the BT.601
// integer weights. Grayscale frames copy through unchanged.
func ToGray(f *models.Frame) *GrayImage {
	g := NewGrayImage(f.Width, f.Height)
	if f.Channels == models.ChannelsGray {
		for i, v := range f.Pix {
			g.Pix[i] = float64(v)
		}
		return g
	}
	// Interleaved BGR.
	for i := 0; i < f.Width*f.Height; i++ {
		b := int(f.Pix[i*3])
		gr := int(f.Pix[i*3+1])
		r := int(f.Pix[i*3+2])
		g.Pix[i] = float64(r*299+gr*587+b*114) / 1000
	}
	return g
}

// Mean returns the average value.
func (g *GrayImage) Mean() float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range g.Pix {
		sum += v
	}
	return sum / float64(len(g.Pix))
}

// MeanStd returns the mean and population standard deviation.
func (g *GrayImage) MeanStd() (mean, std float64) {
	n := len(g.Pix)
	if n == 0 {
		return 0, 0
	}
	mean = g.Mean()
	var sq float64
	for _, v := range g.Pix {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(n))
}

// MinMax returns the extreme values.
func (g *GrayImage) MinMax() (min, max float64) {
	if len(g.Pix) == 0 {
		return 0, 0
	}
	min, max = g.Pix[0], g.Pix[0]
	for _, v := range g.Pix[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Percentile returns the p-th percentile (0-100) using a 256-bin
// histogram, which is exact for 8-bit sourced planes.
func (g *GrayImage) Percentile(p float64) float64 {
	n := len(g.Pix)
	if n == 0 {
		return 0
	}
	hist := Histogram256(g)
	target := p / 100 * float64(n)
	var cum float64
	for i := 0; i < 256; i++ {
		cum += hist[i]
		if cum >= target {
			return float64(i)
		}
	}
	return 255
}

// Halve returns the plane downscaled by two, averaging 2x2 blocks.
// Planes smaller than 2x2 are returned unchanged.
func Halve(g *GrayImage) *GrayImage {
	w, h := g.W/2, g.H/2
	if w < 1 || h < 1 {
		return g
	}
	out := NewGrayImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := g.At(2*x, 2*y) + g.At(2*x+1, 2*y) + g.At(2*x, 2*y+1) + g.At(2*x+1, 2*y+1)
			out.Set(x, y, s/4)
		}
	}
	return out
}

// RegionMean returns the mean over the half-open rectangle
// [x0,x1)x[y0,y1), clamped to the plane. Empty regions return 0.
func RegionMean(g *GrayImage, x0, y0, x1, y1 int) float64 {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > g.W {
		x1 = g.W
	}
	if y1 > g.H {
		y1 = g.H
	}
	if x0 >= x1 || y0 >= y1 {
		return 0
	}
	var sum float64
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			sum += g.At(x, y)
		}
	}
	return sum / float64((x1-x0)*(y1-y0))
}

// Clamp01 clamps v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampByte clamps v to the 8-bit range.
func clampByte(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// medianFloat returns the median of values, sorting a scratch copy.
func medianFloat(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	buf := make([]float64, n)
	copy(buf, values)
	// Insertion-free selection via sort; planes are small enough.
	quickSelectSort(buf)
	if n%2 == 1 {
		return buf[n/2]
	}
	return (buf[n/2-1] + buf[n/2]) / 2
}

func quickSelectSort(buf []float64) {
	// Heapsort keeps this allocation-free and O(n log n) worst case.
	n := len(buf)
	for i := n/2 - 1; i >= 0; i-- {
		siftDown(buf, i, n)
	}
	for i := n - 1; i > 0; i-- {
		buf[0], buf[i] = buf[i], buf[0]
		siftDown(buf, 0, i)
	}
}

func siftDown(buf []float64, root, end int) {
	for {
		child := 2*root + 1
		if child >= end {
			return
		}
		if child+1 < end && buf[child+1] > buf[child] {
			child++
		}
		if buf[root] >= buf[child] {
			return
		}
		buf[root], buf[child] = buf[child], buf[root]
		root = child
	}
}
