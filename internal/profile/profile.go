// Package profile resolves named threshold vectors. Three presets ship
// built in (strict, normal, loose); a profiles.yaml file can override
// them or add new names, and the store hot-reloads that file so running
// services pick up tuning changes without a restart.
package profile

import (
	"math"
	"sort"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/models"
)

// Thresholds maps a threshold key (blur_threshold, freeze_similarity,
// ...) to its numeric value.
type Thresholds map[string]float64

// Clone returns an independent copy.
func (t Thresholds) Clone() Thresholds {
	out := make(Thresholds, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// merge overlays src onto t, returning t.
func (t Thresholds) merge(src Thresholds) Thresholds {
	for k, v := range src {
		t[k] = v
	}
	return t
}

// Profile is one named threshold vector. Image keys feed the per-frame
// detectors, video keys feed the temporal detectors and the aggregator.
type Profile struct {
	Name  string     `json:"name" yaml:"name"`
	Image Thresholds `json:"image" yaml:"image"`
	Video Thresholds `json:"video" yaml:"video"`
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	return Profile{Name: p.Name, Image: p.Image.Clone(), Video: p.Video.Clone()}
}

// Merged returns image and video thresholds as one flat vector. Key
// namespaces do not overlap, so the union is lossless.
func (p Profile) Merged() Thresholds {
	out := make(Thresholds, len(p.Image)+len(p.Video))
	out.merge(p.Image)
	out.merge(p.Video)
	return out
}

// Built-in profile names.
const (
	Strict = "strict"
	Normal = "normal"
	Loose  = "loose"
)

// DefaultName is the profile applied when a request names none.
const DefaultName = Normal

// builtins returns the shipped profiles. Strict trips earliest, loose
// tolerates the most degradation.
func builtins() map[string]Profile {
	return map[string]Profile{
		Strict: {
			Name: Strict,
			Image: Thresholds{
				"blur_threshold":         50,
				"brightness_min":         30,
				"brightness_max":         220,
				"contrast_min":           40,
				"saturation_min":         15,
				"color_cast_threshold":   20,
				"noise_threshold":        10,
				"stripe_threshold":       0.2,
				"black_screen_threshold": 15,
				"occlusion_threshold":    0.2,
				"baseline_similarity":    0.8,
			},
			Video: Thresholds{
				"freeze_similarity":    0.95,
				"freeze_min_duration":  0.5,
				"freeze_mad_max":       2.0,
				"scene_hist_threshold": 0.3,
				"scene_min_gap":        1.0,
				"shake_variance":       5.0,
				"shake_window":         5,
				"shake_min_hits":       3,
				"min_event_duration":   0.5,
			},
		},
		Normal: {
			Name: Normal,
			Image: Thresholds{
				"blur_threshold":         100,
				"brightness_min":         20,
				"brightness_max":         235,
				"contrast_min":           30,
				"saturation_min":         10,
				"color_cast_threshold":   30,
				"noise_threshold":        30,
				"stripe_threshold":       0.3,
				"black_screen_threshold": 10,
				"occlusion_threshold":    0.3,
				"baseline_similarity":    0.7,
			},
			Video: Thresholds{
				"freeze_similarity":    0.98,
				"freeze_min_duration":  1.0,
				"freeze_mad_max":       2.0,
				"scene_hist_threshold": 0.4,
				"scene_min_gap":        1.0,
				"shake_variance":       10.0,
				"shake_window":         5,
				"shake_min_hits":       3,
				"min_event_duration":   0.5,
			},
		},
		Loose: {
			Name: Loose,
			Image: Thresholds{
				"blur_threshold":       150,
				"brightness_min":       10,
				"brightness_max":       245,
				"contrast_min":         20,
				"saturation_min":       5,
				"color_cast_threshold": 40,
				// The published loose vector sits below normal here;
				// kept as published rather than smoothed.
				"noise_threshold":        25,
				"stripe_threshold":       0.4,
				"black_screen_threshold": 5,
				"occlusion_threshold":    0.4,
				"baseline_similarity":    0.6,
			},
			Video: Thresholds{
				"freeze_similarity":    0.99,
				"freeze_min_duration":  2.0,
				"freeze_mad_max":       2.0,
				"scene_hist_threshold": 0.5,
				"scene_min_gap":        1.0,
				"shake_variance":       20.0,
				"shake_window":         5,
				"shake_min_hits":       3,
				"min_event_duration":   0.5,
			},
		},
	}
}

// Resolved is the outcome of profile lookup plus custom overrides for
// one run. It hands the pipeline builder its per-detector settings and
// the video layer its temporal thresholds.
type Resolved struct {
	Profile    string
	Level      models.DetectionLevel
	Thresholds Thresholds
	Options    map[string]string
}

// Settings returns the resolved settings for any detector. Detectors
// read only their own keys, so sharing the flat vector is safe.
func (r Resolved) Settings(string) detect.Settings {
	return detect.Settings{
		Level:      r.Level,
		Thresholds: r.Thresholds,
		Options:    r.Options,
	}
}

// Threshold returns the named value, or def when the vector lacks it.
func (r Resolved) Threshold(name string, def float64) float64 {
	if v, ok := r.Thresholds[name]; ok {
		return v
	}
	return def
}

// ValidateOverrides rejects custom threshold values that can never be
// meaningful: NaN, infinities, and negatives.
func ValidateOverrides(custom map[string]float64) error {
	keys := make([]string, 0, len(custom))
	for k := range custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := custom[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Errorf(models.KindConfig, "threshold %q is not a finite number", k)
		}
		if v < 0 {
			return models.Errorf(models.KindConfig, "threshold %q must be non-negative, got %v", k, v)
		}
	}
	return nil
}
