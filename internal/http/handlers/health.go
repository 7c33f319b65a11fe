package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/visus-project/visus/internal/scheduler"
	"github.com/visus-project/visus/internal/stream"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	scheduler *scheduler.Scheduler
	streams   *stream.Manager
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithScheduler includes scheduler state in the health report.
func (h *HealthHandler) WithScheduler(s *scheduler.Scheduler) *HealthHandler {
	h.scheduler = s
	return h
}

// WithStreamManager includes active stream counts in the health report.
func (h *HealthHandler) WithStreamManager(m *stream.Manager) *HealthHandler {
	h.streams = m
	return h
}

// CPUInfo reports load averages relative to the core count.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo reports system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
}

// SchedulerHealth reports the scheduler component state.
type SchedulerHealth struct {
	Status     string `json:"status"`
	Workers    int    `json:"workers,omitempty"`
	ActiveRuns int    `json:"active_runs"`
}

// StreamsHealth reports live stream worker counts.
type StreamsHealth struct {
	Active int `json:"active"`
	Total  int `json:"total"`
}

// HealthComponents groups per-subsystem health.
type HealthComponents struct {
	Scheduler SchedulerHealth `json:"scheduler"`
	Streams   StreamsHealth   `json:"streams"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status        string           `json:"status"`
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	Uptime        string           `json:"uptime"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	CPUInfo       CPUInfo          `json:"cpu"`
	Memory        MemoryInfo       `json:"memory"`
	Components    HealthComponents `json:"components"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(_ context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       h.getCPUInfo(),
		Memory:        h.getMemoryInfo(),
	}

	resp.Components.Scheduler = h.getSchedulerHealth()
	resp.Components.Streams = h.getStreamsHealth()

	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(info.Cores)) * 100
		}
	}

	return info
}

func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			info.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
		}
	}

	return info
}

func (h *HealthHandler) getSchedulerHealth() SchedulerHealth {
	if h.scheduler == nil {
		return SchedulerHealth{Status: "disabled"}
	}
	status := h.scheduler.GetStatus()
	health := SchedulerHealth{
		Status:     "ok",
		Workers:    status.Workers,
		ActiveRuns: status.ActiveRuns,
	}
	if !status.Running {
		health.Status = "stopped"
	}
	return health
}

func (h *HealthHandler) getStreamsHealth() StreamsHealth {
	if h.streams == nil {
		return StreamsHealth{}
	}
	descriptors := h.streams.List()
	health := StreamsHealth{Total: len(descriptors)}
	for _, d := range descriptors {
		if !d.Status.Terminal() {
			health.Active++
		}
	}
	return health
}
