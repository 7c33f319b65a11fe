package detect

import (
	"fmt"

	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

var colorDescriptor = Descriptor{
	Name:          "color",
	DisplayName:   "Color",
	Description:   "Detects channel casts, desaturated output, and decoder blue/green screens.",
	Priority:      20,
	Levels:        allLevels,
	Suppresses:    []string{"contrast"},
	ThresholdKeys: []string{"saturation_min", "color_cast_threshold"},
	Default:       true,
}

func init() {
	Register(colorDescriptor, func(cfg Settings) (Detector, error) {
		return &colorDetector{cfg: cfg}, nil
	})
}

type colorDetector struct {
	cfg Settings
}

func (d *colorDetector) Descriptor() Descriptor { return colorDescriptor }

// solidScreenRatio is the frame fraction of blue or green pixels that
// marks a decoder failure screen.
const solidScreenRatio = 0.5

func (d *colorDetector) Detect(frame *models.Frame) (models.Finding, error) {
	satMin := d.cfg.Threshold("saturation_min", 10)
	castThr := d.cfg.Threshold("color_cast_threshold", 30)

	sat := imaging.SaturationMean(frame)
	bMean, gMean, rMean := imaging.ChannelMeans(frame)
	avg := (bMean + gMean + rMean) / 3
	maxDev := 0.0
	for _, ch := range []float64{bMean, gMean, rMean} {
		dev := ch - avg
		if dev < 0 {
			dev = -dev
		}
		if dev > maxDev {
			maxDev = dev
		}
	}
	blueRatio := imaging.InRangeRatio(frame, imaging.BlueScreenRange)
	greenRatio := imaging.InRangeRatio(frame, imaging.GreenScreenRange)

	evidence := map[string]float64{
		"saturation_mean": sat,
		"b_mean":          bMean,
		"g_mean":          gMean,
		"r_mean":          rMean,
		"max_channel_dev": maxDev,
		"blue_ratio":      blueRatio,
		"green_ratio":     greenRatio,
	}

	finding := models.Finding{
		Detector: "color",
		Evidence: evidence,
	}

	// Decoder failure screens dominate the other color checks.
	if blueRatio > solidScreenRatio || greenRatio > solidScreenRatio {
		issue, ratio := "blue_screen", blueRatio
		if greenRatio > blueRatio {
			issue, ratio = "green_screen", greenRatio
		}
		finding.IssueType = issue
		finding.IsAbnormal = true
		finding.Score = ratio
		finding.Threshold = solidScreenRatio
		finding.Confidence = clamp01(ratio / 0.8)
		finding.Severity = models.SeverityError
		finding.Explanation = fmt.Sprintf("%.0f%% of the frame is a uniform %s field", ratio*100, issueColorName(issue))
		finding.Causes = []string{
			"decoder lost the video signal",
			"source switched to a test pattern",
			"capture card input mismatch",
		}
		finding.Suggestions = []string{
			"verify the upstream signal",
			"restart the decoder or capture pipeline",
		}
		return finding, nil
	}

	if sat < satMin {
		// Chroma vanishes on an overexposed frame, so the missing
		// saturation is the exposure fault, not a chroma loss.
		if mean, std := imaging.ToGray(frame).MeanStd(); washedOut(mean, std) {
			finding.IssueType = "color"
			finding.Score = sat
			finding.Threshold = satMin
			finding.Confidence = 0.5
			finding.Severity = models.SeverityNormal
			finding.Explanation = "saturation is not graded on a washed-out frame"
			return finding, nil
		}
		finding.IssueType = "low_saturation"
		finding.IsAbnormal = true
		finding.Score = sat
		finding.Threshold = satMin
		finding.Confidence = clamp01((satMin - sat) / satMin)
		switch {
		case sat < 3:
			finding.Severity = models.SeverityError
		case sat < satMin*0.5:
			finding.Severity = models.SeverityWarning
		default:
			finding.Severity = models.SeverityInfo
		}
		finding.Explanation = fmt.Sprintf("mean saturation %.1f is below the minimum %.1f", sat, satMin)
		finding.Causes = []string{
			"chroma channel lost or attenuated",
			"camera switched to night or infrared mode",
			"cabling or connector degradation",
		}
		finding.Suggestions = []string{
			"check day/night mode scheduling",
			"inspect the video cabling",
		}
		return finding, nil
	}

	if maxDev > castThr {
		finding.IssueType = "color_cast"
		finding.IsAbnormal = true
		finding.Score = maxDev
		finding.Threshold = castThr
		finding.Confidence = clamp01(maxDev / (2 * castThr))
		if maxDev > 2*castThr {
			finding.Severity = models.SeverityWarning
		} else {
			finding.Severity = models.SeverityInfo
		}
		finding.Explanation = fmt.Sprintf("channel deviation %.1f exceeds the cast threshold %.1f", maxDev, castThr)
		finding.Causes = []string{
			"white balance drift",
			"aging sensor or IR-cut filter stuck",
			"tinted lighting in the scene",
		}
		finding.Suggestions = []string{
			"re-run white balance calibration",
			"check the IR-cut filter switchover",
		}
		return finding, nil
	}

	finding.IssueType = "color"
	finding.Score = maxDev
	finding.Threshold = castThr
	finding.Severity = models.SeverityNormal
	satMargin := 1.0
	if satMin > 0 {
		satMargin = clamp01((sat - satMin) / satMin)
	}
	castMargin := 1.0
	if castThr > 0 {
		castMargin = clamp01((castThr - maxDev) / castThr)
	}
	if satMargin < castMargin {
		finding.Confidence = satMargin
	} else {
		finding.Confidence = castMargin
	}
	finding.Explanation = "color balance and saturation are within normal ranges"
	return finding, nil
}

func issueColorName(issue string) string {
	if issue == "green_screen" {
		return "green"
	}
	return "blue"
}

var _ Detector = (*colorDetector)(nil)
