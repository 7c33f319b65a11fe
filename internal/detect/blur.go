package detect

import (
	"fmt"

	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
)

var blurDescriptor = Descriptor{
	Name:          "blur",
	DisplayName:   "Blur",
	Description:   "Measures sharpness from Laplacian and gradient energy; low scores mean a defocused or smeared image.",
	Priority:      50,
	Levels:        allLevels,
	Suppresses:    []string{"noise"},
	ThresholdKeys: []string{"blur_threshold"},
	Default:       true,
}

func init() {
	Register(blurDescriptor, func(cfg Settings) (Detector, error) {
		return &blurDetector{cfg: cfg}, nil
	})
}

type blurDetector struct {
	cfg Settings
}

func (d *blurDetector) Descriptor() Descriptor { return blurDescriptor }

func (d *blurDetector) Detect(frame *models.Frame) (models.Finding, error) {
	gray := imaging.ToGray(frame)
	threshold := d.cfg.Threshold("blur_threshold", 100)

	lapVar := imaging.LaplacianVariance(gray)
	evidence := map[string]float64{"laplacian_variance": lapVar}
	score := lapVar

	switch d.cfg.Level {
	case models.LevelStandard:
		gradMean := imaging.GradientMean(gray)
		evidence["gradient_mean"] = gradMean
		score = lapVar*0.6 + gradMean*0.4
	case models.LevelDeep:
		// Multi-scale Laplacian resists false positives on large flat
		// regions, then blend in independent sharpness measures.
		half := imaging.Halve(gray)
		quarter := imaging.Halve(half)
		msLap := (lapVar + imaging.LaplacianVariance(half) + imaging.LaplacianVariance(quarter)) / 3
		brenner := imaging.BrennerGradient(gray)
		tenengrad := imaging.Tenengrad(gray)
		edges := imaging.EdgeDensity(gray, imaging.DefaultEdgeMagnitude)
		evidence["multiscale_laplacian"] = msLap
		evidence["brenner"] = brenner
		evidence["tenengrad"] = tenengrad
		evidence["edge_density"] = edges
		score = msLap*0.4 + brenner*0.2 + tenengrad*0.2 + edges*1000*0.2
	}

	// An overexposed flat frame has no texture left to grade.
	if mean, std := gray.MeanStd(); washedOut(mean, std) {
		return models.Finding{
			Detector:    "blur",
			IssueType:   "blur",
			Score:       score,
			Threshold:   threshold,
			Confidence:  0.5,
			Severity:    models.SeverityNormal,
			Evidence:    evidence,
			Explanation: "sharpness is not graded on a washed-out frame",
		}, nil
	}

	abnormal := score < threshold
	finding := models.Finding{
		Detector:   "blur",
		IssueType:  "blur",
		IsAbnormal: abnormal,
		Score:      score,
		Threshold:  threshold,
		Confidence: confidenceLowMetric(score, threshold),
		Severity:   severityWhenLow(score, threshold),
		Evidence:   evidence,
	}
	if abnormal {
		finding.Explanation = fmt.Sprintf("sharpness %.1f is below the blur threshold %.1f", score, threshold)
		finding.Causes = []string{
			"lens out of focus",
			"camera or subject motion during exposure",
			"heavy compression or upscaling",
		}
		finding.Suggestions = []string{
			"refocus or clean the lens",
			"stabilize the camera mount",
			"check encoder bitrate and source resolution",
		}
	} else {
		finding.Explanation = fmt.Sprintf("sharpness %.1f is within the normal range", score)
	}
	return finding, nil
}

var _ Detector = (*blurDetector)(nil)
