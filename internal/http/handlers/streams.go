package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/stream"
)

// StreamHandler handles live stream monitoring endpoints.
type StreamHandler struct {
	manager *stream.Manager
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(manager *stream.Manager) *StreamHandler {
	return &StreamHandler{manager: manager}
}

// StartStreamRequest is the request body for starting a stream monitor.
type StartStreamRequest struct {
	URL                  string   `json:"url" doc:"Stream URL (rtsp:// or rtmp://)" minLength:"1" maxLength:"2048"`
	Kind                 string   `json:"kind,omitempty" doc:"Stream protocol; inferred from the URL scheme when omitted" enum:"rtsp,rtmp"`
	SampleInterval       float64  `json:"sample_interval,omitempty" doc:"Seconds between sampled frames" minimum:"0.1"`
	DetectionInterval    float64  `json:"detection_interval,omitempty" doc:"Seconds between detection rounds" minimum:"1"`
	DetectionWindow      int      `json:"detection_window,omitempty" doc:"Recent frames per detection round; 1 disables temporal detectors" minimum:"1"`
	Profile              string   `json:"profile,omitempty" doc:"Threshold profile" maxLength:"64"`
	Level                string   `json:"level,omitempty" doc:"Detection level" enum:"fast,standard,deep"`
	Detectors            []string `json:"detectors,omitempty" doc:"Restrict the image detector set"`
	MaxConsecutiveErrors int      `json:"max_consecutive_errors,omitempty" doc:"Consecutive reconnect failures before terminal error" minimum:"1"`
	GraceSeconds         float64  `json:"grace_seconds,omitempty" doc:"Stop drain budget in seconds" minimum:"0"`
}

// StartStreamInput is the input for starting a stream monitor.
type StartStreamInput struct {
	Body StartStreamRequest
}

// StreamOutput carries one stream descriptor.
type StreamOutput struct {
	Body models.StreamDescriptor
}

// StreamIDInput identifies a stream by path parameter.
type StreamIDInput struct {
	ID string `path:"id" doc:"Stream ID"`
}

// ListStreamsInput is the input for listing streams.
type ListStreamsInput struct{}

// ListStreamsOutput is the output for listing streams.
type ListStreamsOutput struct {
	Body struct {
		Streams []models.StreamDescriptor `json:"streams"`
	}
}

// StreamResultsInput is the input for fetching recent results.
type StreamResultsInput struct {
	ID    string `path:"id" doc:"Stream ID"`
	Limit int    `query:"limit" default:"50" minimum:"1" maximum:"256" doc:"Maximum results to return"`
	Since int64  `query:"since" doc:"Only results completed after this Unix timestamp (seconds)"`
}

// StreamResultsOutput is the output for fetching recent results.
type StreamResultsOutput struct {
	Body struct {
		Results []models.StreamResult `json:"results"`
	}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startStream",
		Method:      "POST",
		Path:        "/api/v1/streams",
		Summary:     "Start monitoring a stream",
		Description: "Connects to a live RTSP/RTMP source and runs periodic detection rounds",
		Tags:        []string{"Streams"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/v1/streams",
		Summary:     "List streams",
		Description: "Returns every stream worker including stopped ones",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Get stream status",
		Description: "Returns the status and counters for one stream",
		Tags:        []string{"Streams"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamResults",
		Method:      "GET",
		Path:        "/api/v1/streams/{id}/results",
		Summary:     "Get recent detection results",
		Description: "Returns recent detection results ordered by completion time",
		Tags:        []string{"Streams"},
	}, h.Results)

	huma.Register(api, huma.Operation{
		OperationID: "stopStream",
		Method:      "DELETE",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Stop monitoring a stream",
		Description: "Stops the worker; the stream stays queryable until the service restarts",
		Tags:        []string{"Streams"},
	}, h.Stop)
}

// Start launches a stream worker.
func (h *StreamHandler) Start(_ context.Context, input *StartStreamInput) (*StreamOutput, error) {
	kind := models.StreamKind(input.Body.Kind)
	if input.Body.Kind != "" {
		parsed, err := models.ParseStreamKind(input.Body.Kind)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		kind = parsed
	}

	level, err := models.ParseLevel(input.Body.Level)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	cfg := models.StreamConfig{
		SampleInterval:       input.Body.SampleInterval,
		DetectionInterval:    input.Body.DetectionInterval,
		DetectionWindow:      input.Body.DetectionWindow,
		Profile:              input.Body.Profile,
		Level:                level,
		Detectors:            input.Body.Detectors,
		MaxConsecutiveErrors: input.Body.MaxConsecutiveErrors,
		GraceSeconds:         input.Body.GraceSeconds,
	}

	desc, err := h.manager.Start(input.Body.URL, kind, cfg)
	if err != nil {
		return nil, serviceError(err)
	}
	return &StreamOutput{Body: desc}, nil
}

// List returns every stream worker.
func (h *StreamHandler) List(_ context.Context, _ *ListStreamsInput) (*ListStreamsOutput, error) {
	resp := &ListStreamsOutput{}
	resp.Body.Streams = h.manager.List()
	return resp, nil
}

// Get returns one stream's status.
func (h *StreamHandler) Get(_ context.Context, input *StreamIDInput) (*StreamOutput, error) {
	desc, err := h.manager.Get(input.ID)
	if err != nil {
		return nil, serviceError(err)
	}
	return &StreamOutput{Body: desc}, nil
}

// Results returns recent detection results for one stream.
func (h *StreamHandler) Results(_ context.Context, input *StreamResultsInput) (*StreamResultsOutput, error) {
	var since time.Time
	if input.Since > 0 {
		since = time.Unix(input.Since, 0)
	}

	results, err := h.manager.Results(input.ID, input.Limit, since)
	if err != nil {
		return nil, serviceError(err)
	}

	resp := &StreamResultsOutput{}
	resp.Body.Results = results
	return resp, nil
}

// Stop shuts one stream worker down.
func (h *StreamHandler) Stop(_ context.Context, input *StreamIDInput) (*StreamOutput, error) {
	desc, err := h.manager.Stop(input.ID)
	if err != nil {
		return nil, serviceError(err)
	}
	return &StreamOutput{Body: desc}, nil
}
