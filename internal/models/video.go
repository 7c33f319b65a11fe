package models

import "sort"

// VideoMetadata describes the probed source and how much of it was sampled.
type VideoMetadata struct {
	Path          string  `json:"path,omitempty"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FPS           float64 `json:"fps"`
	Duration      float64 `json:"duration"`
	TotalFrames   int64   `json:"total_frames"`
	SampledFrames int     `json:"sampled_frames"`
	Codec         string  `json:"codec,omitempty"`
}

// TimeSegment is a contiguous span during which an issue was active.
type TimeSegment struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	StartFrame int64   `json:"start_frame"`
	EndFrame   int64   `json:"end_frame"`
}

// Duration returns the segment length in seconds.
func (s TimeSegment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// VideoIssue aggregates every occurrence of one issue type across the
// sampled stream. Segments are non-overlapping and ordered by start time.
type VideoIssue struct {
	Detector         string             `json:"detector"`
	IssueType        string             `json:"issue_type"`
	Severity         Severity           `json:"severity"`
	Segments         []TimeSegment      `json:"segments"`
	AbnormalDuration float64            `json:"abnormal_duration"`
	Explanation      string             `json:"explanation"`
	Summary          map[string]float64 `json:"summary,omitempty"`
}

// VideoVerdict is the rollup for one video source.
type VideoVerdict struct {
	Metadata   VideoMetadata `json:"metadata"`
	Issues     []VideoIssue  `json:"issues"`
	IsAbnormal bool          `json:"is_abnormal"`

	// OverallScore is 1 - abnormal_duration/duration, clamped to [0, 1].
	OverallScore float64  `json:"overall_score"`
	Severity     Severity `json:"severity"`

	// FrameVerdicts carries the per-sampled-frame results when the caller
	// asked for them; omitted by default to keep responses small.
	FrameVerdicts []ImageVerdict `json:"frame_verdicts,omitempty"`

	// Error notes a decoder failure mid-stream that left this verdict
	// partial.
	Error string `json:"error,omitempty"`

	ElapsedMS float64 `json:"elapsed_ms"`
}

// SortIssues orders issues by first segment start time, then issue type,
// giving deterministic output independent of detector completion order.
func (v *VideoVerdict) SortIssues() {
	sort.SliceStable(v.Issues, func(i, j int) bool {
		a, b := v.Issues[i], v.Issues[j]
		as, bs := issueStart(a), issueStart(b)
		if as != bs {
			return as < bs
		}
		return a.IssueType < b.IssueType
	})
}

func issueStart(i VideoIssue) float64 {
	if len(i.Segments) == 0 {
		return 0
	}
	return i.Segments[0].StartTime
}
