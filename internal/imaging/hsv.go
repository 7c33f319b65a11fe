package imaging

import "github.com/visus-project/visus/internal/models"

// HSVRange bounds an inclusive HSV region using the OpenCV conventions:
// hue in [0, 179], saturation and value in [0, 255].
type HSVRange struct {
	HMin, HMax uint8
	SMin, SMax uint8
	VMin, VMax uint8
}

// Canonical solid-color screen ranges.
var (
	BlueScreenRange  = HSVRange{HMin: 100, HMax: 130, SMin: 100, SMax: 255, VMin: 100, VMax: 255}
	GreenScreenRange = HSVRange{HMin: 35, HMax: 85, SMin: 100, SMax: 255, VMin: 100, VMax: 255}
)

// BGRToHSV converts one pixel to HSV with hue in [0, 179].
func BGRToHSV(b, g, r uint8) (h, s, v uint8) {
	bf, gf, rf := float64(b), float64(g), float64(r)
	max := bf
	if gf > max {
		max = gf
	}
	if rf > max {
		max = rf
	}
	min := bf
	if gf < min {
		min = gf
	}
	if rf < min {
		min = rf
	}
	v = uint8(max)
	delta := max - min
	if max > 0 {
		s = uint8(delta / max * 255)
	}
	if delta == 0 {
		return 0, s, v
	}
	var hue float64
	switch max {
	case rf:
		hue = 60 * (gf - bf) / delta
	case gf:
		hue = 120 + 60*(bf-rf)/delta
	default:
		hue = 240 + 60*(rf-gf)/delta
	}
	if hue < 0 {
		hue += 360
	}
	return uint8(hue / 2), s, v
}

// contains reports whether the HSV triple falls inside the range.
func (r HSVRange) contains(h, s, v uint8) bool {
	return h >= r.HMin && h <= r.HMax &&
		s >= r.SMin && s <= r.SMax &&
		v >= r.VMin && v <= r.VMax
}

// InRangeRatio returns the fraction of pixels inside the HSV range.
// Grayscale frames have zero saturation and never match colored ranges.
func InRangeRatio(f *models.Frame, rng HSVRange) float64 {
	n := f.Width * f.Height
	if n == 0 || f.Channels != models.ChannelsBGR {
		return 0
	}
	var count int
	for i := 0; i < n; i++ {
		h, s, v := BGRToHSV(f.Pix[i*3], f.Pix[i*3+1], f.Pix[i*3+2])
		if rng.contains(h, s, v) {
			count++
		}
	}
	return float64(count) / float64(n)
}

// SaturationMean returns the average HSV saturation of a frame, 0 for
// grayscale input.
func SaturationMean(f *models.Frame) float64 {
	n := f.Width * f.Height
	if n == 0 || f.Channels != models.ChannelsBGR {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		_, s, _ := BGRToHSV(f.Pix[i*3], f.Pix[i*3+1], f.Pix[i*3+2])
		sum += float64(s)
	}
	return sum / float64(n)
}

// ChannelMeans returns the per-channel means of a BGR frame. Grayscale
// frames report the luminance mean on all three channels.
func ChannelMeans(f *models.Frame) (b, g, r float64) {
	n := f.Width * f.Height
	if n == 0 {
		return 0, 0, 0
	}
	if f.Channels == models.ChannelsGray {
		var sum float64
		for _, v := range f.Pix {
			sum += float64(v)
		}
		m := sum / float64(n)
		return m, m, m
	}
	var sb, sg, sr float64
	for i := 0; i < n; i++ {
		sb += float64(f.Pix[i*3])
		sg += float64(f.Pix[i*3+1])
		sr += float64(f.Pix[i*3+2])
	}
	return sb / float64(n), sg / float64(n), sr / float64(n)
}
