package imaging

import "math"

// SSIM stabilization constants for 8-bit dynamic range.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// SSIM computes the global structural similarity between two planes of
// identical geometry. Identical planes score 1; mismatched geometry
// scores 0.
func SSIM(a, b *GrayImage) float64 {
	if a.W != b.W || a.H != b.H || len(a.Pix) == 0 {
		return 0
	}
	n := float64(len(a.Pix))
	var meanA, meanB float64
	for i := range a.Pix {
		meanA += a.Pix[i]
		meanB += b.Pix[i]
	}
	meanA /= n
	meanB /= n
	var varA, varB, cov float64
	for i := range a.Pix {
		da := a.Pix[i] - meanA
		db := b.Pix[i] - meanB
		varA += da * da
		varB += db * db
		cov += da * db
	}
	varA /= n
	varB /= n
	cov /= n
	num := (2*meanA*meanB + ssimC1) * (2*cov + ssimC2)
	den := (meanA*meanA + meanB*meanB + ssimC1) * (varA + varB + ssimC2)
	if den == 0 {
		return 0
	}
	return num / den
}

// MAD is the mean absolute difference between two planes, or +Inf on
// geometry mismatch so freeze comparisons fail closed.
func MAD(a, b *GrayImage) float64 {
	if a.W != b.W || a.H != b.H || len(a.Pix) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a.Pix {
		sum += math.Abs(a.Pix[i] - b.Pix[i])
	}
	return sum / float64(len(a.Pix))
}

// EstimateShift estimates the dominant translation from a to b by
// exhaustive block matching within maxShift pixels, on the full plane.
// It is a cheap global-motion proxy for optical flow: the returned
// vector minimizes the mean absolute difference of the overlapping
// region. Call it on decimated planes to bound the cost.
func EstimateShift(a, b *GrayImage, maxShift int) (dx, dy int) {
	dx, dy, _, _ = EstimateShiftCost(a, b, maxShift)
	return dx, dy
}

// EstimateShiftCost is EstimateShift returning the matching costs as
// well: the cost at the best shift and at zero shift. The gap between
// them tells whether the estimate means anything. A true global
// translation matches far better shifted than unshifted; uncorrelated
// planes match equally badly everywhere, leaving best close to zero
// cost.
func EstimateShiftCost(a, b *GrayImage, maxShift int) (dx, dy int, best, zero float64) {
	if a.W != b.W || a.H != b.H || a.W <= 2*maxShift || a.H <= 2*maxShift {
		return 0, 0, math.Inf(1), math.Inf(1)
	}
	best = math.Inf(1)
	zero = math.Inf(1)
	for sy := -maxShift; sy <= maxShift; sy++ {
		for sx := -maxShift; sx <= maxShift; sx++ {
			var sum float64
			var count int
			for y := maxShift; y < a.H-maxShift; y += 2 {
				for x := maxShift; x < a.W-maxShift; x += 2 {
					sum += math.Abs(a.At(x, y) - b.At(x+sx, y+sy))
					count++
				}
			}
			if count == 0 {
				continue
			}
			sad := sum / float64(count)
			if sx == 0 && sy == 0 {
				zero = sad
			}
			if sad < best {
				best = sad
				dx, dy = sx, sy
			}
		}
	}
	return dx, dy, best, zero
}
