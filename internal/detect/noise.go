package detect

import (
	"fmt"

	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

var noiseDescriptor = Descriptor{
	Name:          "noise",
	DisplayName:   "Noise",
	Description:   "Estimates sensor and transmission noise, separating gaussian grain, salt-and-pepper, and analog snow.",
	Priority:      55,
	Levels:        standardUp,
	ThresholdKeys: []string{"noise_threshold"},
	Default:       true,
}

func init() {
	Register(noiseDescriptor, func(cfg Settings) (Detector, error) {
		return &noiseDetector{cfg: cfg}, nil
	})
}

type noiseDetector struct {
	cfg Settings
}

func (d *noiseDetector) Descriptor() Descriptor { return noiseDescriptor }

// snowRange matches bright low-saturation speckle typical of analog
// interference.
var snowRange = imaging.HSVRange{HMin: 0, HMax: 179, SMin: 0, SMax: 29, VMin: 241, VMax: 255}

func (d *noiseDetector) Detect(frame *models.Frame) (models.Finding, error) {
	gray := imaging.ToGray(frame)
	threshold := d.cfg.Threshold("noise_threshold", 30)

	sigma := imaging.LaplacianNoiseSigma(gray)
	texture := imaging.TextureComplexity(gray)
	_, grayStd := gray.MeanStd()

	// High-frequency texture inflates Laplacian noise estimates, so
	// discount busy scenes before comparing against the threshold.
	textureFactor := 1.0
	if texture > 1 {
		textureFactor = 50 / texture
		if textureFactor > 1 {
			textureFactor = 1
		}
	}
	adjusted := sigma * textureFactor
	if grayStd > 40 {
		scale := 40 / grayStd
		if scale > 1 {
			scale = 1
		}
		adjusted *= 0.7 + 0.3*scale
	}

	evidence := map[string]float64{
		"noise_sigma":        sigma,
		"texture_complexity": texture,
		"gray_std":           grayStd,
	}

	score := adjusted
	issue := "noise"
	if d.cfg.Level != models.LevelFast {
		residStd := imaging.MedianResidualStd(gray)
		evidence["residual_std"] = residStd
		switch d.cfg.Level {
		case models.LevelDeep:
			score = (residStd + sigma) / 2
			saltPepper := saltPepperRatio(gray)
			snow := imaging.InRangeRatio(frame, snowRange)
			evidence["salt_pepper_ratio"] = saltPepper
			evidence["snow_ratio"] = snow
			switch {
			case snow > 0.02:
				issue = "snow_noise"
			case saltPepper > 0.01:
				issue = "salt_pepper"
			}
			if r := max(saltPepper, snow); r > 0.01 && r*1000 > score {
				score = r * 1000
			}
		default:
			score = residStd*0.6 + adjusted*0.4
		}
	}

	abnormal := score > threshold
	finding := models.Finding{
		Detector:   "noise",
		IssueType:  issue,
		IsAbnormal: abnormal,
		Score:      score,
		Threshold:  threshold,
		Confidence: confidenceHighMetric(score, threshold),
		Severity:   severityWhenHigh(score, threshold),
		Evidence:   evidence,
	}
	if abnormal {
		finding.Explanation = fmt.Sprintf("noise level %.1f exceeds the threshold %.1f", score, threshold)
		finding.Causes = []string{
			"high sensor gain in low light",
			"electrical interference on the signal path",
			"failing image sensor",
		}
		finding.Suggestions = []string{
			"increase scene lighting or reduce gain",
			"check cable shielding and grounding",
		}
		switch issue {
		case "salt_pepper":
			finding.Causes = append([]string{"transmission bit errors"}, finding.Causes...)
		case "snow_noise":
			finding.Causes = append([]string{"weak analog signal"}, finding.Causes...)
		}
	} else {
		finding.Explanation = fmt.Sprintf("noise level %.1f is within the normal range", score)
	}
	return finding, nil
}

// saltPepperRatio counts pixels at the extreme ends of the range.
func saltPepperRatio(g *imaging.GrayImage) float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	var hits int
	for _, v := range g.Pix {
		if v > 250 || v < 5 {
			hits++
		}
	}
	return float64(hits) / float64(len(g.Pix))
}

var _ Detector = (*noiseDetector)(nil)
