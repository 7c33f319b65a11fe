package detect

import (
	"fmt"
	"image"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

var baselineDescriptor = Descriptor{
	Name:          "baseline_compare",
	DisplayName:   "Baseline Compare",
	Description:   "Compares frames against a reference image to catch moved cameras and changed scenes. Opt-in: requires the baseline_path option.",
	Priority:      70,
	Levels:        standardUp,
	ThresholdKeys: []string{"baseline_similarity"},
	Default:       false,
}

func init() {
	Register(baselineDescriptor, func(cfg Settings) (Detector, error) {
		path := cfg.Option("baseline_path")
		if path == "" {
			return nil, fmt.Errorf("%w: baseline_compare requires the baseline_path option", models.ErrDetectorConstruction)
		}
		ref, err := loadBaseline(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrDetectorConstruction, err)
		}
		return &baselineDetector{cfg: cfg, ref: ref, refHist: imaging.Histogram256(ref)}, nil
	})
}

type baselineDetector struct {
	cfg     Settings
	ref     *imaging.GrayImage
	refHist [256]float64
}

func (d *baselineDetector) Descriptor() Descriptor { return baselineDescriptor }

func loadBaseline(path string) (*imaging.GrayImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open baseline image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode baseline image: %w", err)
	}
	return imaging.ToGray(imaging.FrameFromImage(img)), nil
}

// Blend weights for the similarity components.
const (
	baselineSSIMWeight   = 0.5
	baselineHistWeight   = 0.3
	baselineRegionWeight = 0.2
)

func (d *baselineDetector) Detect(frame *models.Frame) (models.Finding, error) {
	threshold := d.cfg.Threshold("baseline_similarity", 0.7)

	gray := imaging.ToGray(frame)
	if gray.W != d.ref.W || gray.H != d.ref.H {
		gray = resampleGray(gray, d.ref.W, d.ref.H)
	}

	ssim := imaging.SSIM(gray, d.ref)
	hist := imaging.Histogram256(gray)
	histSim := imaging.HistogramSimilarity(hist[:], d.refHist[:])

	// 3x3 grid of per-region mean deltas localizes the change.
	var maxDelta, sumDelta float64
	for gy := 0; gy < 3; gy++ {
		for gx := 0; gx < 3; gx++ {
			x0, x1 := gx*d.ref.W/3, (gx+1)*d.ref.W/3
			y0, y1 := gy*d.ref.H/3, (gy+1)*d.ref.H/3
			delta := imaging.RegionMean(gray, x0, y0, x1, y1) - imaging.RegionMean(d.ref, x0, y0, x1, y1)
			if delta < 0 {
				delta = -delta
			}
			sumDelta += delta
			if delta > maxDelta {
				maxDelta = delta
			}
		}
	}
	regionSim := 1 - maxDelta/255

	similarity := clamp01(ssim*baselineSSIMWeight + histSim*baselineHistWeight + regionSim*baselineRegionWeight)

	evidence := map[string]float64{
		"ssim":             ssim,
		"hist_correlation": histSim,
		"region_delta_max": maxDelta,
	}
	if d.cfg.Level == models.LevelDeep {
		evidence["region_delta_mean"] = sumDelta / 9
	}

	abnormal := similarity < threshold
	finding := models.Finding{
		Detector:   "baseline_compare",
		IssueType:  "baseline_mismatch",
		IsAbnormal: abnormal,
		Score:      similarity,
		Threshold:  threshold,
		Confidence: confidenceLowMetric(similarity, threshold),
		Severity:   severityWhenLow(similarity, threshold),
		Evidence:   evidence,
	}
	if abnormal {
		finding.Explanation = fmt.Sprintf("similarity %.2f to the baseline is below %.2f", similarity, threshold)
		finding.Causes = []string{
			"camera moved or rotated",
			"scene changed since the baseline was captured",
			"tampering with the field of view",
		}
		finding.Suggestions = []string{
			"verify the camera mount",
			"recapture the baseline if the change is intended",
		}
	} else {
		finding.Explanation = fmt.Sprintf("similarity %.2f matches the baseline", similarity)
	}
	return finding, nil
}

// resampleGray nearest-neighbor resizes a plane, only used to align a
// frame with a differently sized baseline.
func resampleGray(g *imaging.GrayImage, w, h int) *imaging.GrayImage {
	out := imaging.NewGrayImage(w, h)
	for y := 0; y < h; y++ {
		sy := y * g.H / h
		for x := 0; x < w; x++ {
			sx := x * g.W / w
			out.Set(x, y, g.At(sx, sy))
		}
	}
	return out
}

var _ Detector = (*baselineDetector)(nil)
