package handlers

import (
	"context"
	"runtime"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/visus-project/visus/internal/ffmpeg"
	"github.com/visus-project/visus/internal/version"
)

// SystemHandler handles system and version information endpoints.
type SystemHandler struct {
	detector *ffmpeg.BinaryDetector
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(detector *ffmpeg.BinaryDetector) *SystemHandler {
	return &SystemHandler{detector: detector}
}

// HostInfo describes the host the service runs on.
type HostInfo struct {
	Hostname      string `json:"hostname,omitempty"`
	OS            string `json:"os"`
	Platform      string `json:"platform,omitempty"`
	KernelVersion string `json:"kernel_version,omitempty"`
	Arch          string `json:"arch"`
	UptimeSeconds uint64 `json:"uptime_seconds,omitempty"`
}

// CPUDetail describes the host CPU.
type CPUDetail struct {
	LogicalCores  int     `json:"logical_cores"`
	PhysicalCores int     `json:"physical_cores,omitempty"`
	ModelName     string  `json:"model_name,omitempty"`
	MHz           float64 `json:"mhz,omitempty"`
}

// FFmpegInfo describes the detected decoder toolchain.
type FFmpegInfo struct {
	Available   bool   `json:"available"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
	FFprobePath string `json:"ffprobe_path,omitempty"`
	Version     string `json:"version,omitempty"`
}

// SystemInfoResponse is the system info payload.
type SystemInfoResponse struct {
	Version   string     `json:"version"`
	GoVersion string     `json:"go_version"`
	Host      HostInfo   `json:"host"`
	CPU       CPUDetail  `json:"cpu"`
	FFmpeg    FFmpegInfo `json:"ffmpeg"`
}

// SystemInfoInput is the input for the system info endpoint.
type SystemInfoInput struct{}

// SystemInfoOutput is the output for the system info endpoint.
type SystemInfoOutput struct {
	Body SystemInfoResponse
}

// VersionInput is the input for the version endpoint.
type VersionInput struct{}

// VersionOutput is the output for the version endpoint.
type VersionOutput struct {
	Body version.Info
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSystemInfo",
		Method:      "GET",
		Path:        "/api/v1/system/info",
		Summary:     "System information",
		Description: "Returns host, CPU, and ffmpeg toolchain information",
		Tags:        []string{"System"},
	}, h.GetSystemInfo)

	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      "GET",
		Path:        "/api/v1/version",
		Summary:     "Version information",
		Description: "Returns the build version, commit, and platform",
		Tags:        []string{"System"},
	}, h.GetVersion)
}

// GetSystemInfo returns host and toolchain information.
func (h *SystemHandler) GetSystemInfo(ctx context.Context, _ *SystemInfoInput) (*SystemInfoOutput, error) {
	resp := SystemInfoResponse{
		Version:   version.Version,
		GoVersion: version.GoVersion,
		Host: HostInfo{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		CPU: CPUDetail{LogicalCores: runtime.NumCPU()},
	}

	if info, err := host.InfoWithContext(ctx); err == nil && info != nil {
		resp.Host.Hostname = info.Hostname
		resp.Host.Platform = info.Platform
		resp.Host.KernelVersion = info.KernelVersion
		resp.Host.UptimeSeconds = info.Uptime
	}

	if counts, err := cpu.CountsWithContext(ctx, false); err == nil {
		resp.CPU.PhysicalCores = counts
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		resp.CPU.ModelName = infos[0].ModelName
		resp.CPU.MHz = infos[0].Mhz
	}

	resp.FFmpeg = h.getFFmpegInfo(ctx)

	return &SystemInfoOutput{Body: resp}, nil
}

// GetVersion returns the build version information.
func (h *SystemHandler) GetVersion(_ context.Context, _ *VersionInput) (*VersionOutput, error) {
	return &VersionOutput{Body: version.GetInfo()}, nil
}

func (h *SystemHandler) getFFmpegInfo(ctx context.Context) FFmpegInfo {
	if h.detector == nil {
		return FFmpegInfo{}
	}
	info, err := h.detector.Detect(ctx)
	if err != nil || info == nil {
		return FFmpegInfo{}
	}
	return FFmpegInfo{
		Available:   true,
		FFmpegPath:  info.FFmpegPath,
		FFprobePath: info.FFprobePath,
		Version:     info.Version,
	}
}
