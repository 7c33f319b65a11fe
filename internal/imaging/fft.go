package imaging

import "math"

// FFT computes the in-place radix-2 Cooley-Tukey transform. The input
// length must be a power of two; PadPow2 prepares arbitrary signals.
func FFT(x []complex128) {
	n := len(x)
	if n <= 1 {
		return
	}
	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wl := complex(math.Cos(angle), math.Sin(angle))
		for i := 0; i < n; i += length {
			w := complex(1, 0)
			for j := 0; j < length/2; j++ {
				u := x[i+j]
				v := x[i+j+length/2] * w
				x[i+j] = u + v
				x[i+j+length/2] = u - v
				w *= wl
			}
		}
	}
}

// PadPow2 copies the signal into a zero-padded power-of-two complex
// buffer, removing the mean first so the DC bin does not drown the
// spectrum.
func PadPow2(signal []float64) []complex128 {
	n := 1
	for n < len(signal) {
		n <<= 1
	}
	var mean float64
	if len(signal) > 0 {
		for _, v := range signal {
			mean += v
		}
		mean /= float64(len(signal))
	}
	out := make([]complex128, n)
	for i, v := range signal {
		out[i] = complex(v-mean, 0)
	}
	return out
}

// SpectrumPeakFraction runs an FFT over the signal and returns the
// largest single-bin share of the spectral magnitude together with the
// winning bin index. Bins up to lowCut (a fraction of the usable band)
// are excluded so slow gradients do not register as periodic structure.
// Signals too short to analyze return 0.
func SpectrumPeakFraction(signal []float64, lowCutFraction float64) (fraction float64, peakBin int) {
	if len(signal) < 8 {
		return 0, 0
	}
	buf := PadPow2(signal)
	FFT(buf)
	half := len(buf) / 2
	lowCut := int(float64(half) * lowCutFraction)
	if lowCut < 1 {
		lowCut = 1
	}
	var total, peak float64
	peakBin = lowCut
	for i := lowCut; i < half; i++ {
		mag := math.Hypot(real(buf[i]), imag(buf[i]))
		total += mag
		if mag > peak {
			peak = mag
			peakBin = i
		}
	}
	if total == 0 {
		return 0, 0
	}
	return peak / total, peakBin
}

// RowMeans projects the plane onto the vertical axis: one mean per row.
func RowMeans(g *GrayImage) []float64 {
	out := make([]float64, g.H)
	if g.W == 0 {
		return out
	}
	for y := 0; y < g.H; y++ {
		var sum float64
		for x := 0; x < g.W; x++ {
			sum += g.At(x, y)
		}
		out[y] = sum / float64(g.W)
	}
	return out
}

// ColMeans projects the plane onto the horizontal axis: one mean per
// column.
func ColMeans(g *GrayImage) []float64 {
	out := make([]float64, g.W)
	if g.H == 0 {
		return out
	}
	for x := 0; x < g.W; x++ {
		var sum float64
		for y := 0; y < g.H; y++ {
			sum += g.At(x, y)
		}
		out[x] = sum / float64(g.H)
	}
	return out
}

// AutocorrelationPeriod estimates the dominant period of a signal from
// the first autocorrelation peak, in samples. Returns 0 when no peak
// exists.
func AutocorrelationPeriod(signal []float64) float64 {
	n := len(signal)
	if n < 4 {
		return 0
	}
	var mean float64
	for _, v := range signal {
		mean += v
	}
	mean /= float64(n)
	centered := make([]float64, n)
	for i, v := range signal {
		centered[i] = v - mean
	}
	auto := make([]float64, n)
	for lag := 0; lag < n; lag++ {
		var sum float64
		for i := 0; i+lag < n; i++ {
			sum += centered[i] * centered[i+lag]
		}
		auto[lag] = sum
	}
	for i := 1; i < n-1; i++ {
		if auto[i] > auto[i-1] && auto[i] > auto[i+1] {
			return float64(i)
		}
	}
	return 0
}
