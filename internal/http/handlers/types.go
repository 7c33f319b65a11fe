// Package handlers provides the HTTP API handlers for visus.
package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/service"
)

// DiagnoseParams are the detection options shared by the image, batch,
// and video endpoints.
type DiagnoseParams struct {
	Profile          string             `json:"profile,omitempty" doc:"Threshold profile: strict, normal, loose, or a custom profile name" maxLength:"64"`
	Level            string             `json:"level,omitempty" doc:"Detection level" enum:"fast,standard,deep"`
	Detectors        []string           `json:"detectors,omitempty" doc:"Restrict the detector set to these names"`
	CustomThresholds map[string]float64 `json:"custom_thresholds,omitempty" doc:"Per-key threshold overrides merged over the profile"`
	DetectorOptions  map[string]string  `json:"detector_options,omitempty" doc:"Per-detector string options, e.g. baseline_path"`
}

// ToOptions converts the request parameters to service options.
func (p DiagnoseParams) ToOptions() (service.DiagnoseOptions, error) {
	level, err := models.ParseLevel(p.Level)
	if err != nil {
		return service.DiagnoseOptions{}, err
	}
	return service.DiagnoseOptions{
		Profile:          p.Profile,
		Level:            level,
		Detectors:        p.Detectors,
		CustomThresholds: p.CustomThresholds,
		DetectorOptions:  p.DetectorOptions,
	}, nil
}

// serviceError maps a service-layer error to the matching huma status
// error using the error kind, falling back to 500 for plain errors.
func serviceError(err error) error {
	var humaErr huma.StatusError
	if errors.As(err, &humaErr) {
		return err
	}
	msg := err.Error()
	switch models.KindOf(err) {
	case models.KindInput, models.KindUnsupportedFormat:
		return huma.Error400BadRequest(msg)
	case models.KindConfig:
		return huma.Error422UnprocessableEntity(msg)
	case models.KindNotFound:
		return huma.Error404NotFound(msg)
	case models.KindConflict:
		return huma.Error409Conflict(msg)
	case models.KindResourceExhausted:
		return huma.Error429TooManyRequests(msg)
	case models.KindTimeout:
		return huma.Error504GatewayTimeout(msg)
	case models.KindSourceUnavailable, models.KindConnectionLost:
		return huma.Error502BadGateway(msg)
	case models.KindEmptySource:
		return huma.Error422UnprocessableEntity(msg)
	default:
		return huma.Error500InternalServerError(msg)
	}
}

// ValidateCronRequest is the request body for validating cron expressions.
type ValidateCronRequest struct {
	Expression string `json:"expression" doc:"5-field cron expression to validate" minLength:"1" maxLength:"100"`
}

// ValidateCronResponse is the response for cron validation.
type ValidateCronResponse struct {
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
	NextRun string `json:"next_run,omitempty"`
}
