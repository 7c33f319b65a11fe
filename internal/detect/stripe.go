package detect

import (
	"fmt"
	"math"

	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

var stripeDescriptor = Descriptor{
	Name:          "stripe",
	DisplayName:   "Stripe Interference",
	Description:   "Finds periodic banding via FFT peaks in row and column mean projections.",
	Priority:      65,
	Levels:        standardUp,
	ThresholdKeys: []string{"stripe_threshold"},
	Default:       true,
}

func init() {
	Register(stripeDescriptor, func(cfg Settings) (Detector, error) {
		return &stripeDetector{cfg: cfg}, nil
	})
}

type stripeDetector struct {
	cfg Settings
}

func (d *stripeDetector) Descriptor() Descriptor { return stripeDescriptor }

// lowCutFraction drops the lowest spectrum bins so smooth luminance
// gradients do not register as banding. A linear ramp concentrates its
// energy in the first two bins; cutting a tenth of the band removes it
// while keeping any stripe pattern narrower than a third of the frame.
const lowCutFraction = 0.1

func (d *stripeDetector) Detect(frame *models.Frame) (models.Finding, error) {
	gray := imaging.ToGray(frame)
	threshold := d.cfg.Threshold("stripe_threshold", 0.3)

	// A peak in the row-mean spectrum is intensity varying down the
	// frame, i.e. horizontal bands; column means catch vertical bands.
	rows := imaging.RowMeans(gray)
	cols := imaging.ColMeans(gray)
	rowScore, rowBin := imaging.SpectrumPeakFraction(rows, lowCutFraction)
	colScore, colBin := imaging.SpectrumPeakFraction(cols, lowCutFraction)

	strength := rowScore
	if colScore > strength {
		strength = colScore
	}

	direction := "none"
	abnormal := strength > threshold
	if abnormal {
		switch {
		case rowScore > 1.5*colScore:
			direction = "horizontal"
		case colScore > 1.5*rowScore:
			direction = "vertical"
		default:
			direction = "both"
		}
	}

	evidence := map[string]float64{
		"horizontal_score": rowScore,
		"vertical_score":   colScore,
	}
	if d.cfg.Level == models.LevelDeep {
		signal, bin := rows, rowBin
		if colScore > rowScore {
			signal, bin = cols, colBin
		}
		if period := imaging.AutocorrelationPeriod(signal); period > 0 {
			evidence["stripe_period"] = period
		}
		evidence["peak_bin"] = float64(bin)
	}

	confidence := 0.0
	if threshold > 0 {
		confidence = clamp01(math.Abs(strength-threshold) / threshold)
	}
	finding := models.Finding{
		Detector:   "stripe",
		IssueType:  "stripe",
		IsAbnormal: abnormal,
		Score:      strength,
		Threshold:  threshold,
		Confidence: confidence,
		Severity:   severityWhenHigh(strength, threshold),
		Evidence:   evidence,
	}
	if abnormal {
		finding.Explanation = fmt.Sprintf("%s banding strength %.2f exceeds the threshold %.2f", direction, strength, threshold)
		finding.Causes = []string{
			"electromagnetic interference on the video path",
			"power supply ripple",
			"rolling shutter against flickering lights",
		}
		finding.Suggestions = []string{
			"separate video cables from power lines",
			"check the camera power supply",
			"match shutter frequency to lighting",
		}
	} else {
		finding.Explanation = fmt.Sprintf("banding strength %.2f is within the normal range", strength)
	}
	return finding, nil
}

var _ Detector = (*stripeDetector)(nil)
