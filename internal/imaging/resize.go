package imaging

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/visus-project/visus/internal/models"
)

// FastLevelLongestSide is the working resolution for fast-level passes.
const FastLevelLongestSide = 480

// Downsample scales the frame so its longest side is at most longest,
// preserving aspect ratio, timestamp, and index. Frames already within
// bounds are returned unchanged.
func Downsample(f *models.Frame, longest int) *models.Frame {
	if longest <= 0 {
		return f
	}
	side := f.Width
	if f.Height > side {
		side = f.Height
	}
	if side <= longest {
		return f
	}
	scale := float64(longest) / float64(side)
	w := int(float64(f.Width) * scale)
	h := int(float64(f.Height) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	src := frameToImage(f)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := models.NewFrame(w, h, f.Channels)
	out.Timestamp = f.Timestamp
	out.Index = f.Index
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := dst.At(x, y).RGBA()
			if f.Channels == models.ChannelsGray {
				lum := (int(r>>8)*299 + int(g>>8)*587 + int(b>>8)*114) / 1000
				out.Set(x, y, 0, uint8(lum))
				continue
			}
			out.Set(x, y, 0, uint8(b>>8))
			out.Set(x, y, 1, uint8(g>>8))
			out.Set(x, y, 2, uint8(r>>8))
		}
	}
	return out
}

// FrameFromImage converts a decoded image to an interleaved BGR frame.
func FrameFromImage(img image.Image) *models.Frame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := models.NewFrame(w, h, models.ChannelsBGR)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out.Set(x, y, 0, uint8(b>>8))
			out.Set(x, y, 1, uint8(g>>8))
			out.Set(x, y, 2, uint8(r>>8))
		}
	}
	return out
}

// frameToImage exposes a frame through the image.Image interface for the
// x/image scalers.
func frameToImage(f *models.Frame) image.Image {
	return &frameImage{f: f}
}

type frameImage struct {
	f *models.Frame
}

func (fi *frameImage) ColorModel() color.Model {
	return color.RGBAModel
}

func (fi *frameImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, fi.f.Width, fi.f.Height)
}

func (fi *frameImage) At(x, y int) color.Color {
	if fi.f.Channels == models.ChannelsGray {
		v := fi.f.At(x, y, 0)
		return color.RGBA{R: v, G: v, B: v, A: 255}
	}
	return color.RGBA{
		R: fi.f.At(x, y, 2),
		G: fi.f.At(x, y, 1),
		B: fi.f.At(x, y, 0),
		A: 255,
	}
}
