package pipeline

import (
	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/models"
)

// Build resolves the active detector set from the registry and
// constructs a pipeline. names may be empty for the default set;
// settingsFor supplies the resolved settings for each detector, letting
// the caller merge profiles and custom thresholds.
func Build(reg *detect.Registry, names []string, level models.DetectionLevel, settingsFor func(name string) detect.Settings, cfg Config) (*Pipeline, error) {
	descs, err := reg.Select(names, level)
	if err != nil {
		return nil, err
	}
	detectors := make([]detect.Detector, 0, len(descs))
	for _, d := range descs {
		det, err := reg.New(d.Name, settingsFor(d.Name))
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, det)
	}
	return New(detectors, cfg), nil
}
