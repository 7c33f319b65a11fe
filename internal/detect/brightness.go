package detect

import (
	"fmt"

	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

var brightnessDescriptor = Descriptor{
	Name:          "brightness",
	DisplayName:   "Brightness",
	Description:   "Checks the mean luminance against exposure bounds.",
	Priority:      30,
	Levels:        allLevels,
	ThresholdKeys: []string{"brightness_min", "brightness_max"},
	Default:       true,
}

func init() {
	Register(brightnessDescriptor, func(cfg Settings) (Detector, error) {
		return &brightnessDetector{cfg: cfg}, nil
	})
}

type brightnessDetector struct {
	cfg Settings
}

func (d *brightnessDetector) Descriptor() Descriptor { return brightnessDescriptor }

func (d *brightnessDetector) Detect(frame *models.Frame) (models.Finding, error) {
	gray := imaging.ToGray(frame)
	minThr := d.cfg.Threshold("brightness_min", 20)
	maxThr := d.cfg.Threshold("brightness_max", 235)

	mean, std := gray.MeanStd()
	evidence := map[string]float64{
		"mean": mean,
		"std":  std,
		"p5":   gray.Percentile(5),
		"p95":  gray.Percentile(95),
	}
	if d.cfg.Level == models.LevelDeep {
		hist := imaging.Histogram256(gray)
		n := float64(gray.W * gray.H)
		var dark, bright float64
		for i := 0; i < 30; i++ {
			dark += hist[i]
		}
		for i := 225; i < 256; i++ {
			bright += hist[i]
		}
		if n > 0 {
			evidence["dark_ratio"] = dark / n
			evidence["bright_ratio"] = bright / n
		}
		evidence["entropy"] = imaging.Entropy(hist[:])
	}

	finding := models.Finding{
		Detector:  "brightness",
		Score:     mean,
		Threshold: minThr,
		Evidence:  evidence,
	}

	switch {
	case mean < minThr:
		finding.IssueType = "under_bright"
		finding.IsAbnormal = true
		finding.Threshold = minThr
		finding.Confidence = clamp01((minThr - mean) / minThr)
		switch {
		case mean < 5:
			finding.Severity = models.SeverityError
		case mean < minThr*0.5:
			finding.Severity = models.SeverityWarning
		default:
			finding.Severity = models.SeverityInfo
		}
		finding.Explanation = fmt.Sprintf("mean luminance %.1f is below the minimum %.1f", mean, minThr)
		finding.Causes = []string{
			"underexposure or closed iris",
			"scene lighting failure",
			"auto-exposure stuck at a dark reference",
		}
		finding.Suggestions = []string{
			"increase exposure or gain",
			"check scene lighting",
			"reset auto-exposure region",
		}
	case mean > maxThr:
		finding.IssueType = "over_bright"
		finding.IsAbnormal = true
		finding.Threshold = maxThr
		finding.Confidence = clamp01((mean - maxThr) / (255 - maxThr))
		switch {
		case mean > 250:
			finding.Severity = models.SeverityError
		case mean > maxThr+(255-maxThr)*0.5:
			finding.Severity = models.SeverityWarning
		default:
			finding.Severity = models.SeverityInfo
		}
		finding.Explanation = fmt.Sprintf("mean luminance %.1f is above the maximum %.1f", mean, maxThr)
		finding.Causes = []string{
			"overexposure or open iris",
			"strong light source facing the camera",
			"gain stuck at maximum",
		}
		finding.Suggestions = []string{
			"reduce exposure or gain",
			"reposition the camera away from direct light",
		}
	default:
		finding.IssueType = "brightness"
		finding.Severity = models.SeverityNormal
		halfRange := (maxThr - minThr) / 2
		dist := mean - minThr
		if maxThr-mean < dist {
			dist = maxThr - mean
		}
		if halfRange > 0 {
			finding.Confidence = clamp01(dist / halfRange)
		}
		finding.Explanation = fmt.Sprintf("mean luminance %.1f is within [%.0f, %.0f]", mean, minThr, maxThr)
	}
	return finding, nil
}

var _ Detector = (*brightnessDetector)(nil)
