// Package video diagnoses decoded frame sequences: it samples the
// stream, fans sampled frames through the image pipeline, runs the
// temporal detectors (freeze, scene change, shake) over the ordered
// samples, and merges everything into a single VideoVerdict with
// time-located issue segments.
package video

import (
	"fmt"
	"math"

	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

// Strategy selects how frames are picked from the decoded stream.
type Strategy string

const (
	// StrategyInterval keeps one frame per fixed time step.
	StrategyInterval Strategy = "interval"

	// StrategyScene keeps frames whose histogram departs from the last
	// kept frame, so cuts and large content changes are always sampled.
	StrategyScene Strategy = "scene"

	// StrategyHybrid keeps the union of both.
	StrategyHybrid Strategy = "hybrid"
)

// ParseStrategy validates a sampling strategy name. Empty selects
// interval.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyInterval, StrategyScene, StrategyHybrid:
		return Strategy(s), nil
	case "":
		return StrategyInterval, nil
	default:
		return "", fmt.Errorf("%w: %q", models.ErrInvalidStrategy, s)
	}
}

// Sampling defaults.
const (
	DefaultSampleInterval = 1.0
	DefaultMaxFrames      = 300
	DefaultFPS            = 25.0

	// sceneHistBins is the decimated gray histogram resolution used for
	// the sampling decision. Coarser than the detector histograms on
	// purpose: the sampler only needs to notice cuts, not grade them.
	sceneHistBins = 64

	// scenePixelStep decimates the pixel walk for the sampling
	// histogram.
	scenePixelStep = 4
)

// Sampler makes the per-frame keep/skip decision while the source is
// being decoded. It never seeks: decisions use only the current frame
// and state from previously kept frames, so one forward pass suffices
// for files and live streams alike.
type Sampler struct {
	strategy Strategy
	step     int64
	sceneThr float64
	maxTaken int

	taken    int
	lastHist []float64
}

// NewSampler builds a sampler. Zero interval, fps, and maxFrames fall
// back to defaults; step is max(1, round(fps*interval)).
func NewSampler(strategy Strategy, fps, interval float64, sceneThreshold float64, maxFrames int) *Sampler {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	step := int64(math.Round(fps * interval))
	if step < 1 {
		step = 1
	}
	return &Sampler{
		strategy: strategy,
		step:     step,
		sceneThr: sceneThreshold,
		maxTaken: maxFrames,
	}
}

// Step returns the frame-index stride of the interval component.
func (s *Sampler) Step() int64 {
	return s.step
}

// Taken returns how many frames have been kept so far.
func (s *Sampler) Taken() int {
	return s.taken
}

// Exhausted reports whether the sample budget is spent. Callers may
// stop decoding once this returns true.
func (s *Sampler) Exhausted() bool {
	return s.taken >= s.maxTaken
}

// Take decides whether to keep the frame. The first frame is always
// kept. Scene comparisons are made against the last kept frame, not the
// previous decoded one, so slow drift eventually triggers a sample too.
func (s *Sampler) Take(frame *models.Frame) bool {
	if s.Exhausted() {
		return false
	}

	intervalHit := frame.Index%s.step == 0
	first := s.taken == 0

	var sceneHit bool
	var hist []float64
	if s.strategy == StrategyScene || s.strategy == StrategyHybrid {
		hist = decimatedGrayHist(frame)
		sceneHit = first || imaging.BhattacharyyaDistance(hist, s.lastHist) > s.sceneThr
	}

	var take bool
	switch s.strategy {
	case StrategyScene:
		take = sceneHit
	case StrategyHybrid:
		take = intervalHit || sceneHit
	default:
		take = first || intervalHit
	}
	if !take {
		return false
	}

	s.taken++
	if hist != nil {
		s.lastHist = hist
	}
	return true
}

// decimatedGrayHist bins BT.601 luma of every scenePixelStep-th pixel.
func decimatedGrayHist(f *models.Frame) []float64 {
	hist := make([]float64, sceneHistBins)
	for y := 0; y < f.Height; y += scenePixelStep {
		for x := 0; x < f.Width; x += scenePixelStep {
			var luma int
			if f.Channels == models.ChannelsBGR {
				i := (y*f.Width + x) * 3
				luma = (int(f.Pix[i+2])*299 + int(f.Pix[i+1])*587 + int(f.Pix[i])*114) / 1000
			} else {
				luma = int(f.Pix[y*f.Width+x])
			}
			hist[luma*sceneHistBins/256]++
		}
	}
	return hist
}
