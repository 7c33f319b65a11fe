package detect

import (
	"fmt"

	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

var contrastDescriptor = Descriptor{
	Name:          "contrast",
	DisplayName:   "Contrast",
	Description:   "Checks the luminance spread; hazy or flattened frames have a low standard deviation.",
	Priority:      60,
	Levels:        allLevels,
	ThresholdKeys: []string{"contrast_min"},
	Default:       true,
}

func init() {
	Register(contrastDescriptor, func(cfg Settings) (Detector, error) {
		return &contrastDetector{cfg: cfg}, nil
	})
}

type contrastDetector struct {
	cfg Settings
}

func (d *contrastDetector) Descriptor() Descriptor { return contrastDescriptor }

func (d *contrastDetector) Detect(frame *models.Frame) (models.Finding, error) {
	gray := imaging.ToGray(frame)
	threshold := d.cfg.Threshold("contrast_min", 30)

	mean, std := gray.MeanStd()
	lo, hi := gray.MinMax()
	evidence := map[string]float64{
		"dynamic_range": hi - lo,
		"min":           lo,
		"max":           hi,
	}
	if d.cfg.Level != models.LevelFast {
		evidence["local_contrast"] = imaging.LocalStd(gray, 31).Mean()
	}
	if d.cfg.Level == models.LevelDeep {
		if mean > 0 {
			evidence["rms_contrast"] = std / mean
		}
		if hi+lo > 0 {
			evidence["michelson"] = (hi - lo) / (hi + lo)
		}
		evidence["weber"] = weberContrast(gray)
	}

	// On an overexposed flat frame the missing spread is a symptom of
	// the exposure fault, so brightness reports it instead.
	if washedOut(mean, std) {
		finding := models.Finding{
			Detector:    "contrast",
			IssueType:   "low_contrast",
			Score:       std,
			Threshold:   threshold,
			Confidence:  0.5,
			Severity:    models.SeverityNormal,
			Evidence:    evidence,
			Explanation: "contrast is not graded on a washed-out frame",
		}
		return finding, nil
	}

	abnormal := std < threshold
	finding := models.Finding{
		Detector:   "contrast",
		IssueType:  "low_contrast",
		IsAbnormal: abnormal,
		Score:      std,
		Threshold:  threshold,
		Confidence: confidenceLowMetric(std, threshold),
		Severity:   severityWhenLow(std, threshold),
		Evidence:   evidence,
	}
	if abnormal {
		finding.Explanation = fmt.Sprintf("luminance spread %.1f is below the contrast minimum %.1f", std, threshold)
		finding.Causes = []string{
			"haze, fog, or a dirty dome",
			"backlight compression flattening the image",
			"wrong gamma or tone-mapping settings",
		}
		finding.Suggestions = []string{
			"clean the lens housing",
			"adjust exposure and gamma",
			"disable aggressive wide dynamic range modes",
		}
	} else {
		finding.Explanation = fmt.Sprintf("luminance spread %.1f is within the normal range", std)
	}
	return finding, nil
}

// weberContrast averages |v-median|/median over the plane; near-zero
// medians short to 0 to avoid blowups on black frames.
func weberContrast(g *imaging.GrayImage) float64 {
	med := g.Percentile(50)
	if med < 1 {
		return 0
	}
	var sum float64
	for _, v := range g.Pix {
		d := v - med
		if d < 0 {
			d = -d
		}
		sum += d / med
	}
	if len(g.Pix) == 0 {
		return 0
	}
	return sum / float64(len(g.Pix))
}

var _ Detector = (*contrastDetector)(nil)
