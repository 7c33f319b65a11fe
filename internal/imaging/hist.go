package imaging

import (
	"math"

	"github.com/visus-project/visus/internal/models"
)

// Histogram256 counts values into 256 integer bins. Values are clamped
// into [0, 255] before binning.
func Histogram256(g *GrayImage) [256]float64 {
	var hist [256]float64
	for _, v := range g.Pix {
		hist[int(clampByte(v))]++
	}
	return hist
}

// NormalizeHist scales bins to sum 1. An empty histogram stays zero.
func NormalizeHist(hist []float64) []float64 {
	var sum float64
	for _, v := range hist {
		sum += v
	}
	out := make([]float64, len(hist))
	if sum == 0 {
		return out
	}
	for i, v := range hist {
		out[i] = v / sum
	}
	return out
}

// BhattacharyyaDistance returns the Hellinger form of the Bhattacharyya
// distance between two histograms, 0 for identical distributions, 1 for
// disjoint. Inputs are normalized internally.
func BhattacharyyaDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	pa := NormalizeHist(a)
	pb := NormalizeHist(b)
	var bc float64
	for i := range pa {
		bc += math.Sqrt(pa[i] * pb[i])
	}
	if bc > 1 {
		bc = 1
	}
	return math.Sqrt(1 - bc)
}

// HistCorrelation returns the Pearson correlation between two histograms
// in [-1, 1].
func HistCorrelation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	n := float64(len(a))
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= n
	mb /= n
	var num, da, db float64
	for i := range a {
		xa := a[i] - ma
		xb := b[i] - mb
		num += xa * xb
		da += xa * xa
		db += xb * xb
	}
	den := math.Sqrt(da * db)
	if den == 0 {
		// Flat histograms compare equal.
		if da == db {
			return 1
		}
		return 0
	}
	return num / den
}

// Entropy returns the Shannon entropy in bits of a normalized histogram.
func Entropy(hist []float64) float64 {
	p := NormalizeHist(hist)
	var e float64
	for _, v := range p {
		if v > 0 {
			e -= v * math.Log2(v)
		}
	}
	return e
}

// HSV bin counts for the coarse scene-comparison histogram.
const (
	HSVHueBins = 8
	HSVSatBins = 4
	HSVValBins = 4
)

// HSVHistogram builds the coarse 3-D HSV histogram (8x4x4 bins,
// flattened) used for scene comparison. Grayscale frames land in the
// zero-saturation bins.
func HSVHistogram(f *models.Frame) []float64 {
	hist := make([]float64, HSVHueBins*HSVSatBins*HSVValBins)
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		var h, s, v uint8
		if f.Channels == models.ChannelsBGR {
			h, s, v = BGRToHSV(f.Pix[i*3], f.Pix[i*3+1], f.Pix[i*3+2])
		} else {
			h, s, v = 0, 0, f.Pix[i]
		}
		hb := int(h) * HSVHueBins / 180
		if hb >= HSVHueBins {
			hb = HSVHueBins - 1
		}
		sb := int(s) * HSVSatBins / 256
		vb := int(v) * HSVValBins / 256
		hist[(hb*HSVSatBins+sb)*HSVValBins+vb]++
	}
	return hist
}

// HistogramSimilarity converts a correlation to [0, 1].
func HistogramSimilarity(a, b []float64) float64 {
	return (HistCorrelation(a, b) + 1) / 2
}
