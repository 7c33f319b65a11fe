package handlers

import (
	"context"
	"io"
	"mime/multipart"

	"github.com/danielgtaylor/huma/v2"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/service"
)

// DiagnoseHandler handles image, batch, and video diagnosis endpoints.
type DiagnoseHandler struct {
	diagnosis *service.DiagnosisService
	video     *service.VideoService
}

// NewDiagnoseHandler creates a new diagnosis handler.
func NewDiagnoseHandler(diagnosis *service.DiagnosisService, video *service.VideoService) *DiagnoseHandler {
	return &DiagnoseHandler{diagnosis: diagnosis, video: video}
}

// DiagnoseImageRequest names one image by URL or server-local path.
type DiagnoseImageRequest struct {
	URL  string `json:"url,omitempty" doc:"Remote image URL (http or https)" maxLength:"2048"`
	Path string `json:"path,omitempty" doc:"Server-local image path" maxLength:"4096"`
	DiagnoseParams
}

// DiagnoseImageInput is the input for the JSON image endpoint.
type DiagnoseImageInput struct {
	Body DiagnoseImageRequest
}

// DiagnoseImageOutput is the output for image diagnosis.
type DiagnoseImageOutput struct {
	Body models.ImageVerdict
}

// UploadImageInput is the input for the multipart upload endpoint. The
// form carries the image under "file"; detection options arrive as
// plain form values.
type UploadImageInput struct {
	RawBody multipart.Form
}

// DiagnoseBatchRequest diagnoses a list of paths or URLs.
type DiagnoseBatchRequest struct {
	Inputs     []string `json:"inputs" doc:"Image paths or URLs" minItems:"1" maxItems:"10000"`
	OutputPath string   `json:"output_path,omitempty" doc:"Optional server-local path for the batch report" maxLength:"4096"`
	DiagnoseParams
}

// DiagnoseBatchInput is the input for batch diagnosis.
type DiagnoseBatchInput struct {
	Body DiagnoseBatchRequest
}

// DiagnoseBatchOutput is the output for batch diagnosis.
type DiagnoseBatchOutput struct {
	Body service.BatchResult
}

// DiagnoseVideoRequest diagnoses one video file or URL.
type DiagnoseVideoRequest struct {
	Source         string  `json:"source" doc:"Video path or URL" minLength:"1" maxLength:"4096"`
	SampleStrategy string  `json:"sample_strategy,omitempty" doc:"Frame sampling strategy" enum:"interval,scene,hybrid"`
	SampleInterval float64 `json:"sample_interval,omitempty" doc:"Seconds between samples" minimum:"0.1"`
	MaxFrames      int     `json:"max_frames,omitempty" doc:"Cap on sampled frames" minimum:"1" maximum:"10000"`
	IncludeFrames  bool    `json:"include_frames,omitempty" doc:"Attach every per-sample image verdict"`
	DiagnoseParams
}

// DiagnoseVideoInput is the input for video diagnosis.
type DiagnoseVideoInput struct {
	Body DiagnoseVideoRequest
}

// DiagnoseVideoOutput is the output for video diagnosis.
type DiagnoseVideoOutput struct {
	Body models.VideoVerdict
}

// Register registers the diagnosis routes with the API.
func (h *DiagnoseHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "diagnoseImage",
		Method:      "POST",
		Path:        "/api/v1/diagnose/image",
		Summary:     "Diagnose an image",
		Description: "Runs the image detector pipeline on a URL or server-local path",
		Tags:        []string{"Diagnosis"},
	}, h.DiagnoseImage)

	huma.Register(api, huma.Operation{
		OperationID: "uploadImage",
		Method:      "POST",
		Path:        "/api/v1/diagnose/image/upload",
		Summary:     "Diagnose an uploaded image",
		Description: "Runs the image detector pipeline on a multipart file upload",
		Tags:        []string{"Diagnosis"},
		RequestBody: &huma.RequestBody{Content: map[string]*huma.MediaType{"multipart/form-data": {}}},
	}, h.UploadImage)

	huma.Register(api, huma.Operation{
		OperationID: "diagnoseBatch",
		Method:      "POST",
		Path:        "/api/v1/diagnose/batch",
		Summary:     "Diagnose a batch of images",
		Description: "Runs the image detector pipeline on every input and returns per-item verdicts with a summary",
		Tags:        []string{"Diagnosis"},
	}, h.DiagnoseBatch)

	huma.Register(api, huma.Operation{
		OperationID: "diagnoseVideo",
		Method:      "POST",
		Path:        "/api/v1/diagnose/video",
		Summary:     "Diagnose a video",
		Description: "Samples the video, runs per-frame and temporal detectors, and returns time-segmented issues",
		Tags:        []string{"Diagnosis"},
	}, h.DiagnoseVideo)
}

// DiagnoseImage diagnoses an image named by URL or path.
func (h *DiagnoseHandler) DiagnoseImage(ctx context.Context, input *DiagnoseImageInput) (*DiagnoseImageOutput, error) {
	if input.Body.URL == "" && input.Body.Path == "" {
		return nil, huma.Error400BadRequest("either url or path is required")
	}
	if input.Body.URL != "" && input.Body.Path != "" {
		return nil, huma.Error400BadRequest("url and path are mutually exclusive")
	}

	opts, err := input.Body.ToOptions()
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	verdict, err := h.diagnosis.DiagnoseImage(ctx, service.ImageRequest{
		Input:   service.ImageInput{Path: input.Body.Path, URL: input.Body.URL},
		Options: opts,
	})
	if err != nil {
		return nil, serviceError(err)
	}
	return &DiagnoseImageOutput{Body: *verdict}, nil
}

// UploadImage diagnoses a multipart file upload.
func (h *DiagnoseHandler) UploadImage(ctx context.Context, input *UploadImageInput) (*DiagnoseImageOutput, error) {
	files := input.RawBody.File["file"]
	if len(files) == 0 {
		return nil, huma.Error400BadRequest("no file provided")
	}

	file, err := files[0].Open()
	if err != nil {
		return nil, huma.Error400BadRequest("failed to open uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, huma.Error400BadRequest("failed to read uploaded file")
	}

	opts, err := formOptions(input.RawBody.Value)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	verdict, err := h.diagnosis.DiagnoseImage(ctx, service.ImageRequest{
		Input:   service.ImageInput{Data: data},
		Options: opts,
	})
	if err != nil {
		return nil, serviceError(err)
	}
	return &DiagnoseImageOutput{Body: *verdict}, nil
}

// DiagnoseBatch diagnoses every input with one shared configuration.
func (h *DiagnoseHandler) DiagnoseBatch(ctx context.Context, input *DiagnoseBatchInput) (*DiagnoseBatchOutput, error) {
	opts, err := input.Body.ToOptions()
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	result, err := h.diagnosis.DiagnoseBatch(ctx, service.BatchRequest{
		Inputs:     input.Body.Inputs,
		Options:    opts,
		OutputPath: input.Body.OutputPath,
	})
	if err != nil {
		return nil, serviceError(err)
	}
	return &DiagnoseBatchOutput{Body: *result}, nil
}

// DiagnoseVideo diagnoses a video source.
func (h *DiagnoseHandler) DiagnoseVideo(ctx context.Context, input *DiagnoseVideoInput) (*DiagnoseVideoOutput, error) {
	opts, err := input.Body.ToOptions()
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	verdict, err := h.video.Diagnose(ctx, service.VideoRequest{
		Source:         input.Body.Source,
		Options:        opts,
		Strategy:       input.Body.SampleStrategy,
		SampleInterval: input.Body.SampleInterval,
		MaxFrames:      input.Body.MaxFrames,
		IncludeFrames:  input.Body.IncludeFrames,
	})
	if err != nil {
		return nil, serviceError(err)
	}
	return &DiagnoseVideoOutput{Body: *verdict}, nil
}

// formOptions reads detection options from multipart form values.
func formOptions(values map[string][]string) (service.DiagnoseOptions, error) {
	first := func(key string) string {
		if vs := values[key]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	level, err := models.ParseLevel(first("level"))
	if err != nil {
		return service.DiagnoseOptions{}, err
	}

	opts := service.DiagnoseOptions{
		Profile: first("profile"),
		Level:   level,
	}
	if ds := values["detectors"]; len(ds) > 0 {
		opts.Detectors = ds
	}
	return opts, nil
}
