// Package pipeline fans a frame out to the active detectors and folds
// their findings into one verdict: parallel dispatch, panic and timeout
// absorption, priority suppression, and primary-issue selection.
package pipeline

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/models"
)

// DefaultDetectorTimeout is the soft deadline for a single detector on
// a single frame. A detector exceeding it yields a synthetic finding
// instead of blocking the verdict.
const DefaultDetectorTimeout = 2 * time.Second

// Config holds pipeline tuning knobs.
type Config struct {
	// DetectorTimeout is the per-detector soft deadline.
	// Default: 2 seconds.
	DetectorTimeout time.Duration

	// Logger receives per-detector failure logs.
	// Default: slog.Default().
	Logger *slog.Logger
}

// Pipeline evaluates a fixed set of constructed detectors. It is safe
// for concurrent use; detectors are stateless across frames.
type Pipeline struct {
	detectors []detect.Detector
	descs     []detect.Descriptor
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a pipeline over the given detectors.
func New(detectors []detect.Detector, cfg Config) *Pipeline {
	if cfg.DetectorTimeout <= 0 {
		cfg.DetectorTimeout = DefaultDetectorTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	descs := make([]detect.Descriptor, len(detectors))
	for i, d := range detectors {
		descs[i] = d.Descriptor()
	}
	return &Pipeline{
		detectors: detectors,
		descs:     descs,
		timeout:   cfg.DetectorTimeout,
		logger:    cfg.Logger,
	}
}

// Detectors returns the descriptors of the active set in construction
// order.
func (p *Pipeline) Detectors() []detect.Descriptor {
	return append([]detect.Descriptor(nil), p.descs...)
}

type detectorResult struct {
	idx     int
	finding models.Finding
	err     error
}

// Analyze runs every detector against the frame and returns the folded
// verdict. Detector panics, errors, and timeouts are absorbed into
// synthetic informational findings; Analyze itself never fails.
func (p *Pipeline) Analyze(ctx context.Context, frame *models.Frame) *models.ImageVerdict {
	started := time.Now()

	results := make(chan detectorResult, len(p.detectors))
	for i := range p.detectors {
		go p.runDetector(i, frame, results)
	}

	findings := make([]models.Finding, len(p.detectors))
	received := make([]bool, len(p.detectors))
	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()

	pending := len(p.detectors)
collect:
	for pending > 0 {
		select {
		case res := <-results:
			pending--
			received[res.idx] = true
			if res.err != nil {
				findings[res.idx] = p.failureFinding(p.descs[res.idx].Name, res.err)
				continue
			}
			findings[res.idx] = res.finding
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}
	for i, ok := range received {
		if !ok {
			findings[i] = p.timeoutFinding(p.descs[i].Name)
		}
	}

	verdict := p.fold(findings)
	verdict.Width = frame.Width
	verdict.Height = frame.Height
	verdict.Timestamp = frame.Timestamp
	verdict.FrameIndex = frame.Index
	verdict.ElapsedMS = float64(time.Since(started).Microseconds()) / 1000
	return verdict
}

func (p *Pipeline) runDetector(idx int, frame *models.Frame, results chan<- detectorResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("detector panic recovered",
				slog.String("detector", p.descs[idx].Name),
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			results <- detectorResult{idx: idx, err: models.Errorf(models.KindDetectorFailure, "panic: %v", r)}
		}
	}()
	finding, err := p.detectors[idx].Detect(frame)
	results <- detectorResult{idx: idx, finding: finding, err: err}
}

// fold applies suppression and rolls surviving findings into a verdict.
func (p *Pipeline) fold(findings []models.Finding) *models.ImageVerdict {
	kept, suppressed := p.applySuppression(findings)

	priority := p.priorityFn()
	sort.SliceStable(kept, func(i, j int) bool {
		pi, pj := priority(kept[i].Detector), priority(kept[j].Detector)
		if pi != pj {
			return pi < pj
		}
		return kept[i].Detector < kept[j].Detector
	})

	verdict := &models.ImageVerdict{
		Findings:   kept,
		Severity:   models.SeverityNormal,
		Suppressed: suppressed,
	}
	var primary *models.Finding
	for i := range kept {
		f := &kept[i]
		if !f.IsAbnormal {
			continue
		}
		verdict.IsAbnormal = true
		verdict.Severity = models.MaxSeverity(verdict.Severity, f.Severity)
		if primary == nil || primaryLess(priority, f, primary) {
			primary = f
		}
	}
	if primary != nil {
		verdict.PrimaryIssue = primary.IssueType
	}
	return verdict
}

// primaryLess reports whether a beats the current primary candidate b:
// lower priority first, then higher confidence, then higher
// threshold-relative score, then detector name.
func primaryLess(priority func(string) int, a, b *models.Finding) bool {
	pa, pb := priority(a.Detector), priority(b.Detector)
	if pa != pb {
		return pa < pb
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	ra, rb := thresholdRatio(a), thresholdRatio(b)
	if ra != rb {
		return ra > rb
	}
	return a.Detector < b.Detector
}

func thresholdRatio(f *models.Finding) float64 {
	if f.Threshold > 0 {
		return f.Score / f.Threshold
	}
	return f.Score
}

// applySuppression drops abnormal findings named by a surviving
// abnormal suppressor. Evaluation iterates to a fixed point, so a
// suppressor that is itself suppressed releases its targets. The edges
// form a DAG along ascending priorities, which guarantees convergence.
func (p *Pipeline) applySuppression(findings []models.Finding) ([]models.Finding, []string) {
	abnormal := make(map[string]bool, len(findings))
	for _, f := range findings {
		if f.IsAbnormal {
			abnormal[f.Detector] = true
		}
	}
	edges := make(map[string][]string, len(p.descs))
	for _, d := range p.descs {
		if len(d.Suppresses) > 0 {
			edges[d.Name] = d.Suppresses
		}
	}

	suppressed := make(map[string]bool)
	for {
		next := make(map[string]bool)
		for name := range abnormal {
			if suppressed[name] {
				continue
			}
			for _, target := range edges[name] {
				if abnormal[target] {
					next[target] = true
				}
			}
		}
		if mapsEqual(suppressed, next) {
			break
		}
		suppressed = next
	}

	kept := make([]models.Finding, 0, len(findings))
	for _, f := range findings {
		if f.IsAbnormal && suppressed[f.Detector] {
			continue
		}
		kept = append(kept, f)
	}
	names := make([]string, 0, len(suppressed))
	for name := range suppressed {
		names = append(names, name)
	}
	sort.Strings(names)
	return kept, names
}

func mapsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func (p *Pipeline) priorityFn() func(string) int {
	byName := make(map[string]int, len(p.descs))
	for _, d := range p.descs {
		byName[d.Name] = d.Priority
	}
	return func(name string) int {
		if pr, ok := byName[name]; ok {
			return pr
		}
		return 1 << 30
	}
}

func (p *Pipeline) failureFinding(name string, err error) models.Finding {
	p.logger.Warn("detector failed", slog.String("detector", name), slog.Any("error", err))
	return models.Finding{
		Detector:    name,
		IssueType:   "detector_error",
		IsAbnormal:  false,
		Severity:    models.SeverityInfo,
		Explanation: "detector failed: " + err.Error(),
	}
}

func (p *Pipeline) timeoutFinding(name string) models.Finding {
	p.logger.Warn("detector timed out", slog.String("detector", name), slog.Duration("timeout", p.timeout))
	return models.Finding{
		Detector:    name,
		IssueType:   "detector_timeout",
		IsAbnormal:  false,
		Severity:    models.SeverityInfo,
		Explanation: "detector timed out after " + p.timeout.String(),
	}
}
