package video

import (
	"fmt"
	"math"
	"sort"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

// Descriptor is the static metadata of a temporal detector.
type Descriptor struct {
	Name          string   `json:"name"`
	DisplayName   string   `json:"display_name"`
	Description   string   `json:"description"`
	Priority      int      `json:"priority"`
	ThresholdKeys []string `json:"threshold_keys"`
}

// TemporalDetector consumes the sampled frames in order and reports
// issue segments once the stream ends. Implementations keep only
// reduced state (decimated planes, pair metrics), never whole frames.
// Observe is called from a single goroutine.
type TemporalDetector interface {
	Descriptor() Descriptor
	Observe(frame *models.Frame)
	Finish() []models.VideoIssue
}

// Temporal detector priorities; lower dominates result ordering.
const (
	priorityFreeze      = 10
	priorityShake       = 20
	prioritySceneChange = 30
)

// Analysis plane decimation bounds. Freeze comparisons tolerate more
// decimation than shift estimation.
const (
	freezePlaneLongest = 320
	shakePlaneLongest  = 240
	scenePlaneLongest  = 320

	shakeMaxShift = 8

	// shakeMatchRatio gates shift estimates: the best match must beat
	// the unshifted match by this factor before a pair counts as
	// motion. Uncorrelated content matches equally badly at every
	// shift and is rejected here.
	shakeMatchRatio = 0.7

	// sceneEdgeThreshold is the Sobel magnitude bound for edge density.
	sceneEdgeThreshold = 100

	// freezeSevereRatio escalates freeze severity when the stream spent
	// at least this fraction of the observed span frozen.
	freezeSevereRatio = 0.8
)

// TemporalDescriptors lists the temporal detectors ordered by priority.
func TemporalDescriptors() []Descriptor {
	ds := []Descriptor{
		(&freezeDetector{}).Descriptor(),
		(&shakeDetector{}).Descriptor(),
		(&sceneChangeDetector{}).Descriptor(),
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Priority < ds[j].Priority })
	return ds
}

// NewTemporalSet constructs every temporal detector with thresholds
// resolved from cfg.
func NewTemporalSet(cfg detect.Settings) []TemporalDetector {
	return []TemporalDetector{
		newFreezeDetector(cfg),
		newShakeDetector(cfg),
		newSceneChangeDetector(cfg),
	}
}

// pairSpan is the time and index range between two consecutive samples.
type pairSpan struct {
	startTS, endTS    float64
	startIdx, endIdx  int64
	metric, auxMetric float64
	flagged           bool
}

// segmentFromRun builds a TimeSegment covering pairs[from..to].
func segmentFromRun(pairs []pairSpan, from, to int) models.TimeSegment {
	return models.TimeSegment{
		StartTime:  pairs[from].startTS,
		EndTime:    pairs[to].endTS,
		StartFrame: pairs[from].startIdx,
		EndFrame:   pairs[to].endIdx,
	}
}

// coalesceFlagged merges runs of consecutive flagged pairs into
// segments and drops those shorter than minDuration.
func coalesceFlagged(pairs []pairSpan, minDuration float64) []models.TimeSegment {
	var segments []models.TimeSegment
	runStart := -1
	for i := range pairs {
		if pairs[i].flagged {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 {
			seg := segmentFromRun(pairs, runStart, i-1)
			if seg.Duration() >= minDuration {
				segments = append(segments, seg)
			}
			runStart = -1
		}
	}
	if runStart >= 0 {
		seg := segmentFromRun(pairs, runStart, len(pairs)-1)
		if seg.Duration() >= minDuration {
			segments = append(segments, seg)
		}
	}
	return segments
}

func decimatePlane(g *imaging.GrayImage, longest int) *imaging.GrayImage {
	for g.W > longest && g.H > 1 || g.H > longest && g.W > 1 {
		g = imaging.Halve(g)
	}
	return g
}

// freezeDetector flags spans where consecutive samples are nearly
// identical: SSIM above freeze_similarity and mean absolute difference
// below freeze_mad_max at the same time, held for at least
// freeze_min_duration.
type freezeDetector struct {
	simThr, madMax, minDur float64

	prev    *imaging.GrayImage
	prevTS  float64
	prevIdx int64
	seen    int
	pairs   []pairSpan
}

func newFreezeDetector(cfg detect.Settings) *freezeDetector {
	return &freezeDetector{
		simThr: cfg.Threshold("freeze_similarity", 0.98),
		madMax: cfg.Threshold("freeze_mad_max", 2.0),
		minDur: cfg.Threshold("freeze_min_duration", 1.0),
	}
}

func (d *freezeDetector) Descriptor() Descriptor {
	return Descriptor{
		Name:          "freeze",
		DisplayName:   "Frozen Picture",
		Description:   "Detects spans where the picture stops updating.",
		Priority:      priorityFreeze,
		ThresholdKeys: []string{"freeze_similarity", "freeze_mad_max", "freeze_min_duration"},
	}
}

func (d *freezeDetector) Observe(frame *models.Frame) {
	gray := decimatePlane(imaging.ToGray(frame), freezePlaneLongest)
	d.seen++
	if d.prev != nil {
		ssim := imaging.SSIM(d.prev, gray)
		mad := imaging.MAD(d.prev, gray)
		d.pairs = append(d.pairs, pairSpan{
			startTS:   d.prevTS,
			endTS:     frame.Timestamp,
			startIdx:  d.prevIdx,
			endIdx:    frame.Index,
			metric:    ssim,
			auxMetric: mad,
			flagged:   ssim > d.simThr && mad < d.madMax,
		})
	}
	d.prev = gray
	d.prevTS = frame.Timestamp
	d.prevIdx = frame.Index
}

func (d *freezeDetector) Finish() []models.VideoIssue {
	segments := coalesceFlagged(d.pairs, d.minDur)
	if len(segments) == 0 {
		return nil
	}

	var frozen float64
	for _, seg := range segments {
		frozen += seg.Duration()
	}
	span := d.pairs[len(d.pairs)-1].endTS - d.pairs[0].startTS

	severity := models.SeverityWarning
	if span > 0 && frozen/span >= freezeSevereRatio {
		severity = models.SeverityError
	}

	var meanSSIM, meanMAD float64
	for _, p := range d.pairs {
		meanSSIM += p.metric
		meanMAD += p.auxMetric
	}
	meanSSIM /= float64(len(d.pairs))
	meanMAD /= float64(len(d.pairs))

	return []models.VideoIssue{{
		Detector:         "freeze",
		IssueType:        "freeze",
		Severity:         severity,
		Segments:         segments,
		AbnormalDuration: frozen,
		Explanation: fmt.Sprintf("picture frozen for %.1fs across %d segment(s)",
			frozen, len(segments)),
		Summary: map[string]float64{
			"mean_ssim":     meanSSIM,
			"mean_mad":      meanMAD,
			"frozen_ratio":  safeRatio(frozen, span),
			"segment_count": float64(len(segments)),
		},
	}}
}

// shakeDetector estimates global translation between consecutive
// samples as an optical-flow proxy and flags windows where camera
// motion energy stays high.
type shakeDetector struct {
	varThr  float64
	window  int
	minHits int
	minDur  float64

	prev    *imaging.GrayImage
	scale   float64
	prevTS  float64
	prevIdx int64
	pairs   []pairSpan
}

func newShakeDetector(cfg detect.Settings) *shakeDetector {
	return &shakeDetector{
		varThr:  cfg.Threshold("shake_variance", 10.0),
		window:  int(cfg.Threshold("shake_window", 5)),
		minHits: int(cfg.Threshold("shake_min_hits", 3)),
		minDur:  cfg.Threshold("min_event_duration", 0.5),
	}
}

func (d *shakeDetector) Descriptor() Descriptor {
	return Descriptor{
		Name:          "shake",
		DisplayName:   "Camera Shake",
		Description:   "Detects sustained global motion jitter between samples.",
		Priority:      priorityShake,
		ThresholdKeys: []string{"shake_variance", "shake_window", "shake_min_hits", "min_event_duration"},
	}
}

func (d *shakeDetector) Observe(frame *models.Frame) {
	gray := decimatePlane(imaging.ToGray(frame), shakePlaneLongest)
	if d.prev != nil && d.prev.W == gray.W && d.prev.H == gray.H {
		dx, dy, best, zero := imaging.EstimateShiftCost(d.prev, gray, shakeMaxShift)
		// Shift is measured on the decimated plane; scale the energy
		// back to source pixels. Pairs without a clear directional
		// match carry no energy.
		var energy float64
		if best < shakeMatchRatio*zero {
			energy = float64(dx*dx+dy*dy) * d.scale * d.scale
		}
		d.pairs = append(d.pairs, pairSpan{
			startTS:  d.prevTS,
			endTS:    frame.Timestamp,
			startIdx: d.prevIdx,
			endIdx:   frame.Index,
			metric:   energy,
		})
	}
	d.scale = float64(frame.Width) / float64(gray.W)
	d.prev = gray
	d.prevTS = frame.Timestamp
	d.prevIdx = frame.Index
}

func (d *shakeDetector) Finish() []models.VideoIssue {
	if len(d.pairs) < d.window {
		return nil
	}

	// Mark every pair belonging to a window with enough energetic hits.
	flagged := make([]bool, len(d.pairs))
	for i := 0; i+d.window <= len(d.pairs); i++ {
		hits := 0
		for j := i; j < i+d.window; j++ {
			if d.pairs[j].metric > d.varThr {
				hits++
			}
		}
		if hits >= d.minHits {
			for j := i; j < i+d.window; j++ {
				flagged[j] = true
			}
		}
	}
	for i := range d.pairs {
		d.pairs[i].flagged = flagged[i]
	}

	segments := coalesceFlagged(d.pairs, d.minDur)
	if len(segments) == 0 {
		return nil
	}

	var total, maxEnergy, meanEnergy float64
	for _, seg := range segments {
		total += seg.Duration()
	}
	for _, p := range d.pairs {
		meanEnergy += p.metric
		maxEnergy = math.Max(maxEnergy, p.metric)
	}
	meanEnergy /= float64(len(d.pairs))

	return []models.VideoIssue{{
		Detector:         "shake",
		IssueType:        "shake",
		Severity:         models.SeverityWarning,
		Segments:         segments,
		AbnormalDuration: total,
		Explanation: fmt.Sprintf("camera shake for %.1fs across %d segment(s)",
			total, len(segments)),
		Summary: map[string]float64{
			"mean_motion_energy": meanEnergy,
			"max_motion_energy":  maxEnergy,
			"segment_count":      float64(len(segments)),
		},
	}}
}

// sceneChangeDetector reports cut points: samples whose coarse HSV
// histogram departs from the previous sample, confirmed or amplified by
// an edge-density jump. Cuts are information, not defects.
type sceneChangeDetector struct {
	histThr float64
	minGap  float64

	prevHist []float64
	prevEdge float64
	havePrev bool

	cuts      []models.TimeSegment
	distances []float64
}

func newSceneChangeDetector(cfg detect.Settings) *sceneChangeDetector {
	return &sceneChangeDetector{
		histThr: cfg.Threshold("scene_hist_threshold", 0.4),
		minGap:  cfg.Threshold("scene_min_gap", 1.0),
	}
}

func (d *sceneChangeDetector) Descriptor() Descriptor {
	return Descriptor{
		Name:          "scene_change",
		DisplayName:   "Scene Change",
		Description:   "Reports cut points between distinct scenes.",
		Priority:      prioritySceneChange,
		ThresholdKeys: []string{"scene_hist_threshold", "scene_min_gap"},
	}
}

func (d *sceneChangeDetector) Observe(frame *models.Frame) {
	plane := frame
	if longestSide(frame) > scenePlaneLongest {
		plane = imaging.Downsample(frame, scenePlaneLongest)
	}
	hist := imaging.HSVHistogram(plane)
	edge := imaging.EdgeDensity(imaging.ToGray(plane), sceneEdgeThreshold)

	if d.havePrev {
		dist := imaging.BhattacharyyaDistance(hist, d.prevHist)
		edgeJump := math.Abs(edge - d.prevEdge)
		cut := dist > d.histThr || (dist > 0.6*d.histThr && edgeJump > 0.15)
		if cut {
			d.distances = append(d.distances, dist)
			last := len(d.cuts) - 1
			if last >= 0 && frame.Timestamp-d.cuts[last].EndTime < d.minGap {
				// Within the merge gap: extend the previous cut event.
				d.cuts[last].EndTime = frame.Timestamp
				d.cuts[last].EndFrame = frame.Index
			} else {
				d.cuts = append(d.cuts, models.TimeSegment{
					StartTime:  frame.Timestamp,
					EndTime:    frame.Timestamp,
					StartFrame: frame.Index,
					EndFrame:   frame.Index,
				})
			}
		}
	}

	d.prevHist = hist
	d.prevEdge = edge
	d.havePrev = true
}

func (d *sceneChangeDetector) Finish() []models.VideoIssue {
	if len(d.cuts) == 0 {
		return nil
	}
	var meanDist float64
	for _, v := range d.distances {
		meanDist += v
	}
	meanDist /= float64(len(d.distances))

	return []models.VideoIssue{{
		Detector:    "scene_change",
		IssueType:   "scene_change",
		Severity:    models.SeverityInfo,
		Segments:    d.cuts,
		Explanation: fmt.Sprintf("%d scene change(s) detected", len(d.cuts)),
		Summary: map[string]float64{
			"count":         float64(len(d.cuts)),
			"raw_cuts":      float64(len(d.distances)),
			"mean_distance": meanDist,
		},
	}}
}

func longestSide(f *models.Frame) int {
	if f.Width > f.Height {
		return f.Width
	}
	return f.Height
}

func safeRatio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}
