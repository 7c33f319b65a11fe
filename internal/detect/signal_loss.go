package detect

import (
	"fmt"

	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

var signalLossDescriptor = Descriptor{
	Name:          "signal_loss",
	DisplayName:   "Signal Loss",
	Description:   "Detects black, white, and solid-color frames left behind by a dead or disconnected source.",
	Priority:      10,
	Levels:        allLevels,
	Suppresses:    []string{"brightness", "blur", "contrast", "occlusion", "noise"},
	ThresholdKeys: []string{"black_screen_threshold"},
	Default:       true,
}

func init() {
	Register(signalLossDescriptor, func(cfg Settings) (Detector, error) {
		return &signalLossDetector{cfg: cfg}, nil
	})
}

type signalLossDetector struct {
	cfg Settings
}

func (d *signalLossDetector) Descriptor() Descriptor { return signalLossDescriptor }

// whiteMeanFloor is the mean luminance above which a flat frame is a
// white screen rather than a fill color.
const whiteMeanFloor = 250

func (d *signalLossDetector) Detect(frame *models.Frame) (models.Finding, error) {
	gray := imaging.ToGray(frame)
	blackThr := d.cfg.Threshold("black_screen_threshold", 10)

	mean, std := gray.MeanStd()
	lo, hi := gray.MinMax()
	evidence := map[string]float64{
		"mean": mean,
		"std":  std,
		"min":  lo,
		"max":  hi,
	}
	if d.cfg.Level == models.LevelDeep {
		evidence["edge_ratio"] = imaging.EdgeDensity(gray, imaging.DefaultEdgeMagnitude)
		b, g, r := imaging.ChannelMeans(frame)
		evidence["b_mean"] = b
		evidence["g_mean"] = g
		evidence["r_mean"] = r
	}

	finding := models.Finding{
		Detector: "signal_loss",
		Evidence: evidence,
	}

	switch {
	case mean < blackThr:
		finding.IssueType = "black_screen"
		finding.IsAbnormal = true
		finding.Score = mean
		finding.Threshold = blackThr
		finding.Confidence = clamp01((blackThr - mean) / blackThr)
		if mean < 3 {
			finding.Severity = models.SeverityError
		} else {
			finding.Severity = models.SeverityWarning
		}
		finding.Explanation = fmt.Sprintf("mean luminance %.1f indicates a black screen", mean)
		finding.Causes = []string{
			"camera power or network loss",
			"video cable disconnected",
			"lens cap or full obstruction",
		}
		finding.Suggestions = []string{
			"check camera power and cabling",
			"verify the encoder input",
		}
	case mean > whiteMeanFloor && std < flatStdCeil:
		finding.IssueType = "white_screen"
		finding.IsAbnormal = true
		finding.Score = 255 - mean
		finding.Threshold = 255 - whiteMeanFloor
		finding.Confidence = clamp01((mean - whiteMeanFloor) / (255 - whiteMeanFloor))
		finding.Severity = models.SeverityWarning
		finding.Explanation = fmt.Sprintf("mean luminance %.1f with no texture indicates a white screen", mean)
		finding.Causes = []string{
			"sensor overload from direct light",
			"signal clamp failure in the capture chain",
		}
		finding.Suggestions = []string{
			"shield the camera from direct light",
			"check AGC and iris settings",
		}
	// Flat bright frames short of the white floor are an exposure
	// fault, not a fill color; brightness owns those.
	case std < flatStdCeil && mean <= washedOutMeanFloor:
		finding.IssueType = "solid_color"
		finding.IsAbnormal = true
		finding.Score = std
		finding.Threshold = flatStdCeil
		finding.Confidence = clamp01((flatStdCeil - std) / flatStdCeil)
		finding.Severity = models.SeverityWarning
		finding.Explanation = fmt.Sprintf("luminance spread %.2f indicates a solid color frame", std)
		finding.Causes = []string{
			"decoder emitting a fill color",
			"source switched to an idle card",
		}
		finding.Suggestions = []string{
			"verify the upstream signal",
			"restart the decoder",
		}
	default:
		finding.IssueType = "signal_loss"
		finding.Score = mean
		finding.Threshold = blackThr
		finding.Confidence = clamp01(mean / 128)
		finding.Severity = models.SeverityNormal
		finding.Explanation = "signal present with normal variation"
	}
	return finding, nil
}

var _ Detector = (*signalLossDetector)(nil)
