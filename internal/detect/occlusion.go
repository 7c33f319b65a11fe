package detect

import (
	"fmt"

	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

var occlusionDescriptor = Descriptor{
	Name:          "occlusion",
	DisplayName:   "Occlusion",
	Description:   "Detects a blocked or covered lens from large textureless regions with missing edges.",
	Priority:      25,
	Levels:        standardUp,
	Suppresses:    []string{"blur"},
	ThresholdKeys: []string{"occlusion_threshold"},
	Default:       true,
}

func init() {
	Register(occlusionDescriptor, func(cfg Settings) (Detector, error) {
		return &occlusionDetector{cfg: cfg}, nil
	})
}

type occlusionDetector struct {
	cfg Settings
}

func (d *occlusionDetector) Descriptor() Descriptor { return occlusionDescriptor }

// textureWindow sizes the local-texture neighborhood from the frame so
// the low-texture ratio measures comparable regions across
// resolutions. 31 px is the floor; the window stays odd so it centers
// on a pixel.
func textureWindow(w, h int) int {
	n := w
	if h < n {
		n = h
	}
	n /= 10
	if n < 31 {
		return 31
	}
	if n%2 == 0 {
		n++
	}
	return n
}

func (d *occlusionDetector) Detect(frame *models.Frame) (models.Finding, error) {
	gray := imaging.ToGray(frame)
	threshold := d.cfg.Threshold("occlusion_threshold", 0.3)
	window := textureWindow(gray.W, gray.H)

	lowTexture := imaging.LowTextureRatio(gray, window, 5)
	edgeDensity := imaging.EdgeDensity(gray, imaging.DefaultEdgeMagnitude)
	uniform := imaging.BlockUniformRatio(gray, 8, 3)

	edgeTerm := 1 - edgeDensity*10
	if edgeTerm < 0 {
		edgeTerm = 0
	}
	score := clamp01(lowTexture*0.4 + edgeTerm*0.3 + uniform*0.3)

	evidence := map[string]float64{
		"low_texture_ratio": lowTexture,
		"edge_density":      edgeDensity,
		"uniform_ratio":     uniform,
		"texture_window":    float64(window),
	}
	if d.cfg.Level == models.LevelDeep {
		evidence["local_std_mean"] = imaging.LocalStd(gray, window).Mean()
	}

	// A washed-out frame is uniformly textureless because of exposure,
	// not a covered lens.
	if mean, std := gray.MeanStd(); washedOut(mean, std) {
		return models.Finding{
			Detector:    "occlusion",
			IssueType:   "occlusion",
			Score:       score,
			Threshold:   threshold,
			Confidence:  0.5,
			Severity:    models.SeverityNormal,
			Evidence:    evidence,
			Explanation: "occlusion is not graded on a washed-out frame",
		}, nil
	}

	abnormal := score > threshold
	confidence := 0.0
	if abnormal {
		if threshold < 1 {
			confidence = clamp01((score - threshold) / (1 - threshold))
		}
	} else if threshold > 0 {
		confidence = clamp01((threshold - score) / threshold)
	}

	finding := models.Finding{
		Detector:   "occlusion",
		IssueType:  "occlusion",
		IsAbnormal: abnormal,
		Score:      score,
		Threshold:  threshold,
		Confidence: confidence,
		Severity:   severityWhenHigh(score, threshold),
		Evidence:   evidence,
	}
	if abnormal {
		finding.Explanation = fmt.Sprintf("occlusion score %.2f exceeds the threshold %.2f", score, threshold)
		finding.Causes = []string{
			"object covering the lens",
			"paint, tape, or spray on the housing",
			"condensation inside the dome",
		}
		finding.Suggestions = []string{
			"inspect the camera physically",
			"clean the lens housing",
		}
	} else {
		finding.Explanation = fmt.Sprintf("occlusion score %.2f is within the normal range", score)
	}
	return finding, nil
}

var _ Detector = (*occlusionDetector)(nil)
