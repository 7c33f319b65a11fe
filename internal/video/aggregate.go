package video

import (
	"fmt"
	"sort"

	"github.com/visus-project/visus/internal/models"
)

// frameIssueState tracks one (detector, issue_type) series while
// walking the ordered frame verdicts.
type frameIssueState struct {
	detector  string
	issueType string
	severity  models.Severity

	segments []models.TimeSegment
	open     bool
	openSeg  models.TimeSegment

	frames     int
	scoreSum   float64
	confidence float64
	example    string
}

// MergeFrameVerdicts folds the per-sample image verdicts into
// time-located issues. Each sample covers the span up to the next
// sample (the trailing sample covers one mean step), so an isolated
// abnormal sample still represents real air time; runs of consecutive
// abnormal samples for the same issue merge into one segment, and
// segments shorter than minEventDuration are dropped.
func MergeFrameVerdicts(verdicts []models.ImageVerdict, minEventDuration float64) []models.VideoIssue {
	if len(verdicts) == 0 {
		return nil
	}
	ordered := append([]models.ImageVerdict(nil), verdicts...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	spans := sampleSpans(ordered)
	states := make(map[string]*frameIssueState)
	order := []string{}

	for i := range ordered {
		v := &ordered[i]
		active := make(map[string]bool)
		for fi := range v.Findings {
			f := &v.Findings[fi]
			if !f.IsAbnormal {
				continue
			}
			key := f.Detector + "/" + f.IssueType
			active[key] = true
			st, ok := states[key]
			if !ok {
				st = &frameIssueState{detector: f.Detector, issueType: f.IssueType, severity: f.Severity}
				states[key] = st
				order = append(order, key)
			}
			st.observe(f, v, spans[i])
		}
		// Close runs for issues absent from this sample.
		for key, st := range states {
			if !active[key] {
				st.closeRun(minEventDuration)
			}
		}
	}
	for _, st := range states {
		st.closeRun(minEventDuration)
	}

	issues := make([]models.VideoIssue, 0, len(order))
	for _, key := range order {
		if issue, ok := states[key].issue(); ok {
			issues = append(issues, issue)
		}
	}
	return issues
}

// sampleSpans returns each sample's coverage in seconds: the gap to the
// next sample, with the trailing sample assigned the mean gap (or the
// default interval when only one sample exists).
func sampleSpans(ordered []models.ImageVerdict) []float64 {
	spans := make([]float64, len(ordered))
	if len(ordered) == 1 {
		spans[0] = DefaultSampleInterval
		return spans
	}
	var sum float64
	for i := 0; i < len(ordered)-1; i++ {
		spans[i] = ordered[i+1].Timestamp - ordered[i].Timestamp
		if spans[i] < 0 {
			spans[i] = 0
		}
		sum += spans[i]
	}
	spans[len(ordered)-1] = sum / float64(len(ordered)-1)
	return spans
}

func (st *frameIssueState) observe(f *models.Finding, v *models.ImageVerdict, span float64) {
	st.frames++
	st.scoreSum += f.Score
	if f.Confidence > st.confidence {
		st.confidence = f.Confidence
		st.example = f.Explanation
	}
	st.severity = models.MaxSeverity(st.severity, f.Severity)

	end := v.Timestamp + span
	if st.open {
		st.openSeg.EndTime = end
		st.openSeg.EndFrame = v.FrameIndex
	} else {
		st.open = true
		st.openSeg = models.TimeSegment{
			StartTime:  v.Timestamp,
			EndTime:    end,
			StartFrame: v.FrameIndex,
			EndFrame:   v.FrameIndex,
		}
	}
}

func (st *frameIssueState) closeRun(minEventDuration float64) {
	if !st.open {
		return
	}
	st.open = false
	if st.openSeg.Duration() >= minEventDuration {
		st.segments = append(st.segments, st.openSeg)
	}
}

func (st *frameIssueState) issue() (models.VideoIssue, bool) {
	if len(st.segments) == 0 {
		return models.VideoIssue{}, false
	}
	var total float64
	for _, seg := range st.segments {
		total += seg.Duration()
	}
	explanation := st.example
	if explanation == "" {
		explanation = fmt.Sprintf("%s present for %.1fs", st.issueType, total)
	}
	return models.VideoIssue{
		Detector:         st.detector,
		IssueType:        st.issueType,
		Severity:         st.severity,
		Segments:         st.segments,
		AbnormalDuration: total,
		Explanation:      explanation,
		Summary: map[string]float64{
			"frames":         float64(st.frames),
			"mean_score":     st.scoreSum / float64(st.frames),
			"max_confidence": st.confidence,
		},
	}, true
}

// abnormalUnion returns the total duration covered by at least one
// segment of an issue at warning severity or above. Overlapping
// segments are merged first so double-flagged spans count once.
func abnormalUnion(issues []models.VideoIssue) float64 {
	type interval struct{ start, end float64 }
	var intervals []interval
	for _, issue := range issues {
		if issue.Severity.Rank() < models.SeverityWarning.Rank() {
			continue
		}
		for _, seg := range issue.Segments {
			if seg.EndTime > seg.StartTime {
				intervals = append(intervals, interval{seg.StartTime, seg.EndTime})
			}
		}
	}
	if len(intervals) == 0 {
		return 0
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].start < intervals[j].start })

	var total float64
	cur := intervals[0]
	for _, iv := range intervals[1:] {
		if iv.start <= cur.end {
			if iv.end > cur.end {
				cur.end = iv.end
			}
			continue
		}
		total += cur.end - cur.start
		cur = iv
	}
	total += cur.end - cur.start
	return total
}
