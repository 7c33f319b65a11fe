package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/profile"
	"github.com/visus-project/visus/internal/video"
)

// DetectorHandler exposes the registered detectors and profiles.
type DetectorHandler struct {
	registry *detect.Registry
	profiles *profile.Store
}

// NewDetectorHandler creates a new detector handler.
func NewDetectorHandler(registry *detect.Registry, profiles *profile.Store) *DetectorHandler {
	return &DetectorHandler{registry: registry, profiles: profiles}
}

// ListDetectorsInput is the input for listing image detectors.
type ListDetectorsInput struct{}

// ListDetectorsOutput is the output for listing image detectors.
type ListDetectorsOutput struct {
	Body struct {
		Detectors []detect.Descriptor `json:"detectors"`
	}
}

// ListVideoDetectorsInput is the input for listing video detectors.
type ListVideoDetectorsInput struct{}

// ListVideoDetectorsOutput is the output for listing video detectors.
type ListVideoDetectorsOutput struct {
	Body struct {
		Detectors []video.Descriptor `json:"detectors"`
	}
}

// ListProfilesInput is the input for listing profiles.
type ListProfilesInput struct{}

// ListProfilesOutput is the output for listing profiles.
type ListProfilesOutput struct {
	Body struct {
		Profiles []string `json:"profiles"`
	}
}

// Register registers the detector routes with the API.
func (h *DetectorHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listDetectors",
		Method:      "GET",
		Path:        "/api/v1/detectors",
		Summary:     "List image detectors",
		Description: "Returns every registered image detector ordered by priority",
		Tags:        []string{"Detectors"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "listVideoDetectors",
		Method:      "GET",
		Path:        "/api/v1/detectors/video",
		Summary:     "List video detectors",
		Description: "Returns the temporal detectors applied to sampled video streams",
		Tags:        []string{"Detectors"},
	}, h.ListVideo)

	huma.Register(api, huma.Operation{
		OperationID: "listProfiles",
		Method:      "GET",
		Path:        "/api/v1/profiles",
		Summary:     "List threshold profiles",
		Description: "Returns the available threshold profile names",
		Tags:        []string{"Detectors"},
	}, h.ListProfiles)
}

// List returns the registered image detectors.
func (h *DetectorHandler) List(_ context.Context, _ *ListDetectorsInput) (*ListDetectorsOutput, error) {
	resp := &ListDetectorsOutput{}
	resp.Body.Detectors = h.registry.Descriptors()
	return resp, nil
}

// ListVideo returns the temporal video detectors.
func (h *DetectorHandler) ListVideo(_ context.Context, _ *ListVideoDetectorsInput) (*ListVideoDetectorsOutput, error) {
	resp := &ListVideoDetectorsOutput{}
	resp.Body.Detectors = video.TemporalDescriptors()
	return resp, nil
}

// ListProfiles returns the available profile names.
func (h *DetectorHandler) ListProfiles(_ context.Context, _ *ListProfilesInput) (*ListProfilesOutput, error) {
	resp := &ListProfilesOutput{}
	resp.Body.Profiles = h.profiles.Names()
	return resp, nil
}
