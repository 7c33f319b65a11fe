// Package testutil generates synthetic frames with known defects so
// detector tests can assert on scores without binary fixtures.
package testutil

import (
	"math"
	"math/rand"

	"github.com/visus-project/visus/internal/models"
)

// SolidFrame returns a WxH BGR frame filled with one color.
func SolidFrame(w, h int, b, g, r uint8) *models.Frame {
	f := models.NewFrame(w, h, models.ChannelsBGR)
	for i := 0; i < w*h; i++ {
		f.Pix[i*3] = b
		f.Pix[i*3+1] = g
		f.Pix[i*3+2] = r
	}
	return f
}

// SolidGrayFrame returns a WxH grayscale frame with one value.
func SolidGrayFrame(w, h int, v uint8) *models.Frame {
	f := models.NewFrame(w, h, models.ChannelsGray)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

// GradientFrame returns a BGR frame with a left-to-right luminance ramp,
// a well-behaved image with full dynamic range and plenty of gradient
// energy.
func GradientFrame(w, h int) *models.Frame {
	f := models.NewFrame(w, h, models.ChannelsBGR)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / max(w-1, 1))
			f.Set(x, y, 0, v)
			f.Set(x, y, 1, v)
			f.Set(x, y, 2, v)
		}
	}
	return f
}

// CheckerboardFrame returns a BGR frame of alternating cells, rich in
// edges and texture.
func CheckerboardFrame(w, h, cell int, dark, light uint8) *models.Frame {
	if cell < 1 {
		cell = 1
	}
	f := models.NewFrame(w, h, models.ChannelsBGR)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := dark
			if ((x/cell)+(y/cell))%2 == 0 {
				v = light
			}
			f.Set(x, y, 0, v)
			f.Set(x, y, 1, v)
			f.Set(x, y, 2, v)
		}
	}
	return f
}

// TextureFrame returns a deterministic pseudo-random texture, useful as
// a "normal scene" stand-in.
func TextureFrame(w, h int, seed int64) *models.Frame {
	rng := rand.New(rand.NewSource(seed))
	f := models.NewFrame(w, h, models.ChannelsBGR)
	for i := 0; i < w*h; i++ {
		v := uint8(64 + rng.Intn(128))
		f.Pix[i*3] = v
		f.Pix[i*3+1] = uint8(64 + rng.Intn(128))
		f.Pix[i*3+2] = uint8(64 + rng.Intn(128))
	}
	return f
}

// StripedFrame returns a BGR frame with a sinusoidal stripe pattern of
// the given period in pixels. Horizontal stripes vary along y.
func StripedFrame(w, h, period int, amplitude float64, horizontal bool) *models.Frame {
	if period < 2 {
		period = 2
	}
	f := models.NewFrame(w, h, models.ChannelsBGR)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			phase := float64(x)
			if horizontal {
				phase = float64(y)
			}
			v := 128 + amplitude*math.Sin(2*math.Pi*phase/float64(period))
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			b := uint8(v)
			f.Set(x, y, 0, b)
			f.Set(x, y, 1, b)
			f.Set(x, y, 2, b)
		}
	}
	return f
}

// AddGaussianNoise returns a copy of the frame with zero-mean Gaussian
// noise of the given sigma added to every channel, deterministic for a
// seed.
func AddGaussianNoise(f *models.Frame, sigma float64, seed int64) *models.Frame {
	rng := rand.New(rand.NewSource(seed))
	out := models.NewFrame(f.Width, f.Height, f.Channels)
	out.Timestamp = f.Timestamp
	out.Index = f.Index
	for i, v := range f.Pix {
		n := float64(v) + rng.NormFloat64()*sigma
		if n < 0 {
			n = 0
		}
		if n > 255 {
			n = 255
		}
		out.Pix[i] = uint8(n)
	}
	return out
}

// AddSaltPepper returns a copy with the given fraction of pixels forced
// to extremes, half salt and half pepper.
func AddSaltPepper(f *models.Frame, fraction float64, seed int64) *models.Frame {
	rng := rand.New(rand.NewSource(seed))
	out := models.NewFrame(f.Width, f.Height, f.Channels)
	copy(out.Pix, f.Pix)
	out.Timestamp = f.Timestamp
	out.Index = f.Index
	n := f.PixelCount()
	hits := int(float64(n) * fraction)
	for i := 0; i < hits; i++ {
		p := rng.Intn(n)
		v := uint8(0)
		if i%2 == 0 {
			v = 255
		}
		for c := 0; c < f.Channels; c++ {
			out.Pix[p*f.Channels+c] = v
		}
	}
	return out
}

// BoxBlur returns a copy softened by the given number of 3x3 box blur
// passes with clamped borders, so repeated passes approach a wide
// Gaussian over the whole frame.
func BoxBlur(f *models.Frame, passes int) *models.Frame {
	cur := f
	for p := 0; p < passes; p++ {
		next := models.NewFrame(cur.Width, cur.Height, cur.Channels)
		next.Timestamp = cur.Timestamp
		next.Index = cur.Index
		for y := 0; y < cur.Height; y++ {
			for x := 0; x < cur.Width; x++ {
				for c := 0; c < cur.Channels; c++ {
					var sum int
					for dy := -1; dy <= 1; dy++ {
						for dx := -1; dx <= 1; dx++ {
							sx := clampInt(x+dx, 0, cur.Width-1)
							sy := clampInt(y+dy, 0, cur.Height-1)
							sum += int(cur.At(sx, sy, c))
						}
					}
					next.Set(x, y, c, uint8(sum/9))
				}
			}
		}
		cur = next
	}
	return cur
}

// ShiftFrame returns a copy translated by (dx, dy) with clamped borders,
// simulating camera motion between two frames.
func ShiftFrame(f *models.Frame, dx, dy int) *models.Frame {
	out := models.NewFrame(f.Width, f.Height, f.Channels)
	out.Timestamp = f.Timestamp
	out.Index = f.Index
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			sx := clampInt(x-dx, 0, f.Width-1)
			sy := clampInt(y-dy, 0, f.Height-1)
			for c := 0; c < f.Channels; c++ {
				out.Set(x, y, c, f.At(sx, sy, c))
			}
		}
	}
	return out
}

// PaintRect fills a rectangle with one color, for occlusion-style
// fixtures. Bounds are clamped to the frame.
func PaintRect(f *models.Frame, x0, y0, x1, y1 int, b, g, r uint8) {
	x0 = clampInt(x0, 0, f.Width)
	x1 = clampInt(x1, 0, f.Width)
	y0 = clampInt(y0, 0, f.Height)
	y1 = clampInt(y1, 0, f.Height)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			f.Set(x, y, 0, b)
			if f.Channels == models.ChannelsBGR {
				f.Set(x, y, 1, g)
				f.Set(x, y, 2, r)
			}
		}
	}
}

// WithTimestamp returns the same frame with timestamp and index set,
// for building sampled sequences.
func WithTimestamp(f *models.Frame, ts float64, index int64) *models.Frame {
	f.Timestamp = ts
	f.Index = index
	return f
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
