package imaging

import "math"

// LaplacianPlane convolves with the 4-neighbour Laplacian kernel and
// returns the interior response plane ((W-2)x(H-2)). Images narrower than
// the kernel produce an empty plane.
func LaplacianPlane(g *GrayImage) *GrayImage {
	if g.W < 3 || g.H < 3 {
		return NewGrayImage(0, 0)
	}
	out := NewGrayImage(g.W-2, g.H-2)
	for y := 1; y < g.H-1; y++ {
		for x := 1; x < g.W-1; x++ {
			v := g.At(x, y-1) + g.At(x-1, y) + g.At(x+1, y) + g.At(x, y+1) - 4*g.At(x, y)
			out.Set(x-1, y-1, v)
		}
	}
	return out
}

// LaplacianVariance is the classic sharpness metric: the variance of the
// Laplacian response.
func LaplacianVariance(g *GrayImage) float64 {
	_, std := LaplacianPlane(g).MeanStd()
	return std * std
}

// LaplacianNoiseSigma estimates the noise standard deviation from the
// median absolute Laplacian response (MAD / 0.6745).
func LaplacianNoiseSigma(g *GrayImage) float64 {
	lap := LaplacianPlane(g)
	if len(lap.Pix) == 0 {
		return 0
	}
	abs := make([]float64, len(lap.Pix))
	for i, v := range lap.Pix {
		abs[i] = math.Abs(v)
	}
	return medianFloat(abs) / 0.6745
}

// SobelPlanes returns the interior horizontal and vertical 3x3 Sobel
// responses.
func SobelPlanes(g *GrayImage) (gx, gy *GrayImage) {
	if g.W < 3 || g.H < 3 {
		return NewGrayImage(0, 0), NewGrayImage(0, 0)
	}
	gx = NewGrayImage(g.W-2, g.H-2)
	gy = NewGrayImage(g.W-2, g.H-2)
	for y := 1; y < g.H-1; y++ {
		for x := 1; x < g.W-1; x++ {
			vx := -g.At(x-1, y-1) + g.At(x+1, y-1) +
				-2*g.At(x-1, y) + 2*g.At(x+1, y) +
				-g.At(x-1, y+1) + g.At(x+1, y+1)
			vy := -g.At(x-1, y-1) - 2*g.At(x, y-1) - g.At(x+1, y-1) +
				g.At(x-1, y+1) + 2*g.At(x, y+1) + g.At(x+1, y+1)
			gx.Set(x-1, y-1, vx)
			gy.Set(x-1, y-1, vy)
		}
	}
	return gx, gy
}

// SobelMagnitude returns the interior gradient magnitude plane.
func SobelMagnitude(g *GrayImage) *GrayImage {
	gx, gy := SobelPlanes(g)
	out := NewGrayImage(gx.W, gx.H)
	for i := range out.Pix {
		out.Pix[i] = math.Hypot(gx.Pix[i], gy.Pix[i])
	}
	return out
}

// GradientMean is the mean Sobel magnitude.
func GradientMean(g *GrayImage) float64 {
	return SobelMagnitude(g).Mean()
}

// Tenengrad is the mean squared gradient energy.
func Tenengrad(g *GrayImage) float64 {
	gx, gy := SobelPlanes(g)
	if len(gx.Pix) == 0 {
		return 0
	}
	var sum float64
	for i := range gx.Pix {
		sum += gx.Pix[i]*gx.Pix[i] + gy.Pix[i]*gy.Pix[i]
	}
	return sum / float64(len(gx.Pix))
}

// BrennerGradient is the mean squared 2-pixel horizontal difference.
func BrennerGradient(g *GrayImage) float64 {
	if g.W < 3 {
		return 0
	}
	var sum float64
	var count int
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W-2; x++ {
			d := g.At(x+2, y) - g.At(x, y)
			sum += d * d
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// DefaultEdgeMagnitude is the Sobel magnitude above which a pixel counts
// as an edge for density purposes.
const DefaultEdgeMagnitude = 100

// EdgeDensity is the fraction of interior pixels whose Sobel magnitude
// exceeds the threshold.
func EdgeDensity(g *GrayImage, threshold float64) float64 {
	mag := SobelMagnitude(g)
	if len(mag.Pix) == 0 {
		return 0
	}
	var count int
	for _, v := range mag.Pix {
		if v > threshold {
			count++
		}
	}
	return float64(count) / float64(len(mag.Pix))
}

// Median3x3 applies a 3x3 median filter to the interior and copies the
// one-pixel border through unchanged.
func Median3x3(g *GrayImage) *GrayImage {
	out := NewGrayImage(g.W, g.H)
	copy(out.Pix, g.Pix)
	if g.W < 3 || g.H < 3 {
		return out
	}
	var window [9]float64
	for y := 1; y < g.H-1; y++ {
		for x := 1; x < g.W-1; x++ {
			k := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window[k] = g.At(x+dx, y+dy)
					k++
				}
			}
			out.Set(x, y, median9(window))
		}
	}
	return out
}

// median9 sorts a fixed window by insertion, cheap at this size.
func median9(w [9]float64) float64 {
	for i := 1; i < 9; i++ {
		v := w[i]
		j := i - 1
		for j >= 0 && w[j] > v {
			w[j+1] = w[j]
			j--
		}
		w[j+1] = v
	}
	return w[4]
}

// MedianResidualStd is the standard deviation of the residual after a
// 3x3 median filter, a texture-insensitive noise estimate.
func MedianResidualStd(g *GrayImage) float64 {
	filtered := Median3x3(g)
	diff := NewGrayImage(g.W, g.H)
	for i := range g.Pix {
		diff.Pix[i] = g.Pix[i] - filtered.Pix[i]
	}
	_, std := diff.MeanStd()
	return std
}

// integralImage builds summed-area tables of values and squared values
// with a one-row/column zero border.
func integralImage(g *GrayImage) (sum, sqSum []float64) {
	w, h := g.W+1, g.H+1
	sum = make([]float64, w*h)
	sqSum = make([]float64, w*h)
	for y := 1; y < h; y++ {
		var rowSum, rowSq float64
		for x := 1; x < w; x++ {
			v := g.At(x-1, y-1)
			rowSum += v
			rowSq += v * v
			sum[y*w+x] = sum[(y-1)*w+x] + rowSum
			sqSum[y*w+x] = sqSum[(y-1)*w+x] + rowSq
		}
	}
	return sum, sqSum
}

// LocalStd computes the per-pixel standard deviation over a kxk window
// clamped at the borders.
func LocalStd(g *GrayImage, k int) *GrayImage {
	out := NewGrayImage(g.W, g.H)
	if g.W == 0 || g.H == 0 {
		return out
	}
	if k < 1 {
		k = 1
	}
	r := k / 2
	sum, sqSum := integralImage(g)
	iw := g.W + 1
	for y := 0; y < g.H; y++ {
		y0 := y - r
		if y0 < 0 {
			y0 = 0
		}
		y1 := y + r + 1
		if y1 > g.H {
			y1 = g.H
		}
		for x := 0; x < g.W; x++ {
			x0 := x - r
			if x0 < 0 {
				x0 = 0
			}
			x1 := x + r + 1
			if x1 > g.W {
				x1 = g.W
			}
			area := float64((x1 - x0) * (y1 - y0))
			s := sum[y1*iw+x1] - sum[y0*iw+x1] - sum[y1*iw+x0] + sum[y0*iw+x0]
			sq := sqSum[y1*iw+x1] - sqSum[y0*iw+x1] - sqSum[y1*iw+x0] + sqSum[y0*iw+x0]
			mean := s / area
			variance := sq/area - mean*mean
			if variance < 0 {
				variance = 0
			}
			out.Set(x, y, math.Sqrt(variance))
		}
	}
	return out
}

// TextureComplexity is the median local variance over a 5x5 window, used
// to discount detail-rich frames in the noise estimate.
func TextureComplexity(g *GrayImage) float64 {
	std := LocalStd(g, 5)
	if len(std.Pix) == 0 {
		return 0
	}
	variances := make([]float64, len(std.Pix))
	for i, v := range std.Pix {
		variances[i] = v * v
	}
	return medianFloat(variances)
}

// LowTextureRatio is the fraction of pixels whose local (kxk) standard
// deviation falls below the threshold.
func LowTextureRatio(g *GrayImage, k int, threshold float64) float64 {
	std := LocalStd(g, k)
	if len(std.Pix) == 0 {
		return 0
	}
	var count int
	for _, v := range std.Pix {
		if v < threshold {
			count++
		}
	}
	return float64(count) / float64(len(std.Pix))
}

// BlockUniformRatio splits the plane into blockxblock tiles and returns
// the fraction whose standard deviation is below the threshold. Partial
// edge tiles are ignored, matching a floor division of the geometry.
func BlockUniformRatio(g *GrayImage, block int, stdThreshold float64) float64 {
	if block < 1 {
		return 0
	}
	bw := g.W / block
	bh := g.H / block
	if bw == 0 || bh == 0 {
		return 0
	}
	var uniform int
	values := make([]float64, block*block)
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			k := 0
			for y := by * block; y < (by+1)*block; y++ {
				for x := bx * block; x < (bx+1)*block; x++ {
					values[k] = g.At(x, y)
					k++
				}
			}
			if stdOf(values) < stdThreshold {
				uniform++
			}
		}
	}
	return float64(uniform) / float64(bw*bh)
}

func stdOf(values []float64) float64 {
	n := float64(len(values))
	if n == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= n
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / n)
}
