// Package detect implements the per-frame quality detectors. Each
// detector measures one defect family (blur, noise, stripes, ...) and
// reports a single finding with a score, a threshold and evidence
// values. Detectors are pure functions of the frame plus their resolved
// settings and are safe for concurrent use.
package detect

import (
	"math"
	"sort"

	"github.com/visus-project/visus/internal/models"
)

// Detector analyzes one frame and reports at most one finding.
type Detector interface {
	// Descriptor returns the static metadata for this detector.
	Descriptor() Descriptor

	// Detect measures the frame. A returned error means the detector
	// could not run at all; a healthy frame yields a finding with
	// IsAbnormal=false.
	Detect(frame *models.Frame) (models.Finding, error)
}

// Descriptor is the static metadata of a registered detector.
type Descriptor struct {
	// Name is the stable identifier used in configuration and results
	// (e.g. "blur").
	Name string `json:"name"`

	// DisplayName is a human-readable name (e.g. "Blur / Sharpness").
	DisplayName string `json:"display_name"`

	// Description summarizes what the detector measures.
	Description string `json:"description"`

	// Priority orders findings and drives primary-issue selection.
	// Lower values are more fundamental defects.
	Priority int `json:"priority"`

	// Levels lists the detection levels this detector runs at.
	Levels []models.DetectionLevel `json:"levels"`

	// Suppresses names detectors whose abnormal findings are dropped
	// when this detector also fires.
	Suppresses []string `json:"suppresses,omitempty"`

	// ThresholdKeys lists the threshold names the detector reads from
	// its settings.
	ThresholdKeys []string `json:"threshold_keys"`

	// Default reports whether the detector is part of the default set.
	// Opt-in detectors (baseline_compare) only run when requested.
	Default bool `json:"default"`
}

// SupportsLevel reports whether the detector runs at the given level.
func (d Descriptor) SupportsLevel(level models.DetectionLevel) bool {
	for _, l := range d.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// Settings carries the resolved per-detector configuration for one run:
// the detection level plus thresholds after profile and custom-override
// merging.
type Settings struct {
	Level      models.DetectionLevel
	Thresholds map[string]float64

	// Options holds non-numeric per-detector options, such as the
	// reference image path for baseline comparison.
	Options map[string]string
}

// Threshold returns the named threshold, or def when unset.
func (s Settings) Threshold(name string, def float64) float64 {
	if v, ok := s.Thresholds[name]; ok {
		return v
	}
	return def
}

// Option returns the named option string, or "" when unset.
func (s Settings) Option(name string) string {
	return s.Options[name]
}

// Factory builds a detector from resolved settings.
type Factory func(cfg Settings) (Detector, error)

var (
	allLevels  = []models.DetectionLevel{models.LevelFast, models.LevelStandard, models.LevelDeep}
	standardUp = []models.DetectionLevel{models.LevelStandard, models.LevelDeep}
)

// Luminance bounds shared by the flat-frame classifiers. A frame that
// is both flat and bright is an exposure fault: brightness owns it,
// and the texture and chroma detectors stand down so the exposure
// finding is not outranked by their degenerate scores.
const (
	flatStdCeil        = 3.0
	washedOutMeanFloor = 235.0
)

// washedOut reports whether the luminance statistics describe an
// overexposed flat frame.
func washedOut(mean, std float64) bool {
	return std < flatStdCeil && mean > washedOutMeanFloor
}

// sortFindings orders findings deterministically: detector priority
// ascending, then detector name.
func sortFindings(findings []models.Finding, priority func(name string) int) {
	sort.SliceStable(findings, func(i, j int) bool {
		pi, pj := priority(findings[i].Detector), priority(findings[j].Detector)
		if pi != pj {
			return pi < pj
		}
		return findings[i].Detector < findings[j].Detector
	})
}

// severityWhenLow grades metrics where larger values are healthier
// (sharpness, contrast, saturation). The bands follow the score's
// distance below the threshold.
func severityWhenLow(score, threshold float64) models.Severity {
	switch {
	case score >= threshold:
		return models.SeverityNormal
	case score >= threshold*0.7:
		return models.SeverityInfo
	case score >= threshold*0.4:
		return models.SeverityWarning
	default:
		return models.SeverityError
	}
}

// severityWhenHigh grades metrics where smaller values are healthier
// (noise, stripe strength).
func severityWhenHigh(score, threshold float64) models.Severity {
	switch {
	case score <= threshold:
		return models.SeverityNormal
	case score <= threshold*1.5:
		return models.SeverityInfo
	case score <= threshold*2.5:
		return models.SeverityWarning
	default:
		return models.SeverityError
	}
}

// confidenceLowMetric scores the distance from the threshold for a
// larger-is-healthier metric, capped at 1. Symmetric: a clearly sharp
// frame and a clearly blurred one are both high-confidence verdicts.
func confidenceLowMetric(score, threshold float64) float64 {
	if threshold <= 0 {
		return 0.5
	}
	return clamp01(math.Abs(score-threshold) / threshold)
}

// confidenceHighMetric is the counterpart for smaller-is-healthier
// metrics.
func confidenceHighMetric(score, threshold float64) float64 {
	d := threshold
	if d < 1 {
		d = 1
	}
	return clamp01(math.Abs(score-threshold) / d)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
