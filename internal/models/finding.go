package models

import "fmt"

// Severity grades a finding. The order matters: verdict severity is the
// maximum across surviving abnormal findings.
type Severity string

const (
	SeverityNormal  Severity = "normal"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

var severityRank = map[Severity]int{
	SeverityNormal:  0,
	SeverityInfo:    1,
	SeverityWarning: 2,
	SeverityError:   3,
}

// Rank returns the ordering weight of the severity. Unknown values rank
// below normal so a corrupted record never dominates a rollup.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// DetectionLevel selects the compute budget: fast gates detectors down to
// the cheap set and may downsample, standard is the default feature set at
// native resolution, deep enables the extra feature blends.
type DetectionLevel string

const (
	LevelFast     DetectionLevel = "fast"
	LevelStandard DetectionLevel = "standard"
	LevelDeep     DetectionLevel = "deep"
)

// ParseLevel validates and normalizes a detection level string.
func ParseLevel(s string) (DetectionLevel, error) {
	switch DetectionLevel(s) {
	case LevelFast, LevelStandard, LevelDeep:
		return DetectionLevel(s), nil
	case "":
		return LevelStandard, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}

// Finding is the output of one detector on one frame. Detectors emit a
// Finding even when the frame is normal so callers can chart scores over
// time; IsAbnormal carries the decision.
type Finding struct {
	// Detector is the stable registry name that produced this finding.
	Detector string `json:"detector"`

	// IssueType is the concrete issue, which may be a sub-kind of the
	// detector's category (over_bright vs under_bright, black_screen vs
	// solid_color).
	IssueType string `json:"issue_type"`

	IsAbnormal bool `json:"is_abnormal"`

	// Score is in the detector's native scale; Threshold is the decision
	// boundary that was applied. The comparison direction is detector
	// specific.
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`

	// Confidence normalizes the distance between score and threshold
	// into [0, 1].
	Confidence float64 `json:"confidence"`

	Severity    Severity `json:"severity"`
	Explanation string   `json:"explanation"`

	Causes      []string `json:"possible_causes,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`

	// Evidence holds diagnostic numbers for UI overlays, keyed by
	// detector-specific names.
	Evidence map[string]float64 `json:"evidence,omitempty"`
}

// ImageVerdict is the rollup for one frame.
type ImageVerdict struct {
	// Findings are ordered by detector priority ascending, then name, so
	// repeated runs produce identical output regardless of completion
	// order.
	Findings []Finding `json:"findings"`

	IsAbnormal bool `json:"is_abnormal"`

	// PrimaryIssue is the issue type of the winning abnormal finding,
	// empty when the frame is normal.
	PrimaryIssue string `json:"primary_issue,omitempty"`

	// Severity is the maximum across surviving abnormal findings.
	Severity Severity `json:"severity"`

	// Suppressed lists detector names whose abnormal findings were
	// silenced by a dominating detector, sorted.
	Suppressed []string `json:"suppressed"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// Timestamp and FrameIndex locate the frame inside a video source.
	Timestamp  float64 `json:"timestamp,omitempty"`
	FrameIndex int64   `json:"frame_index,omitempty"`

	ElapsedMS float64 `json:"elapsed_ms"`
}

// FindingFor returns the finding emitted by the named detector, or nil.
func (v *ImageVerdict) FindingFor(detector string) *Finding {
	for i := range v.Findings {
		if v.Findings[i].Detector == detector {
			return &v.Findings[i]
		}
	}
	return nil
}

// AbnormalIssues returns the issue types of unsuppressed abnormal findings
// in verdict order.
func (v *ImageVerdict) AbnormalIssues() []string {
	var out []string
	for i := range v.Findings {
		if v.Findings[i].IsAbnormal {
			out = append(out, v.Findings[i].IssueType)
		}
	}
	return out
}
