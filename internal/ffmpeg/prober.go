package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/urlutil"
)

// DefaultProbeTimeout bounds how long a single ffprobe invocation may run.
const DefaultProbeTimeout = 30 * time.Second

// ProbeResult is the raw result from ffprobe.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container-level information.
type ProbeFormat struct {
	Filename   string            `json:"filename"`
	NumStreams int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration,omitempty"`
	Size       string            `json:"size,omitempty"`
	BitRate    string            `json:"bit_rate,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// ProbeStream contains per-stream information.
type ProbeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
	PixFmt       string            `json:"pix_fmt,omitempty"`
	RFrameRate   string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate string            `json:"avg_frame_rate,omitempty"`
	Duration     string            `json:"duration,omitempty"`
	NbFrames     string            `json:"nb_frames,omitempty"`
	BitRate      string            `json:"bit_rate,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Disposition  ProbeDisposition  `json:"disposition,omitempty"`
}

// ProbeDisposition carries the track flags visus cares about.
type ProbeDisposition struct {
	Default int `json:"default"`
}

// Framerate returns the stream framerate, preferring the average rate.
func (s *ProbeStream) Framerate() float64 {
	if s.AvgFrameRate != "" {
		if fr := parseFramerate(s.AvgFrameRate); fr > 0 {
			return fr
		}
	}
	if s.RFrameRate != "" {
		return parseFramerate(s.RFrameRate)
	}
	return 0
}

// GetVideoStream returns the default video stream, falling back to the
// first one. Returns nil when the source carries no video.
func (r *ProbeResult) GetVideoStream() *ProbeStream {
	var first *ProbeStream
	for i := range r.Streams {
		s := &r.Streams[i]
		if s.CodecType != "video" {
			continue
		}
		if s.Disposition.Default == 1 {
			return s
		}
		if first == nil {
			first = s
		}
	}
	return first
}

// Duration returns the container duration in seconds, 0 when unknown.
func (r *ProbeResult) Duration() float64 {
	if r.Format.Duration == "" {
		return 0
	}
	dur, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return dur
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new source prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     DefaultProbeTimeout,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe probes a file path or URL and returns the raw result.
func (p *Prober) Probe(ctx context.Context, input string) (*ProbeResult, error) {
	if p.ffprobePath == "" {
		return nil, models.NewError(models.KindConfig, "ffprobe binary not available")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}
	args = append(args, networkInputArgs(input)...)
	args = append(args, input)

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, models.Errorf(models.KindTimeout, "probe timeout after %v", p.timeout)
		}
		return nil, models.WrapError(models.KindSourceUnavailable,
			fmt.Sprintf("probing %s", urlutil.Redact(input)), err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, models.WrapError(models.KindUnsupportedFormat, "parsing ffprobe output", err)
	}

	return &result, nil
}

// ProbeVideo probes the input and reduces the result to the video metadata
// the analysis pipelines consume.
func (p *Prober) ProbeVideo(ctx context.Context, input string) (models.VideoMetadata, error) {
	result, err := p.Probe(ctx, input)
	if err != nil {
		return models.VideoMetadata{}, err
	}
	return videoMetadata(result, input)
}

// videoMetadata maps a probe result onto models.VideoMetadata.
func videoMetadata(result *ProbeResult, input string) (models.VideoMetadata, error) {
	stream := result.GetVideoStream()
	if stream == nil {
		return models.VideoMetadata{}, models.Errorf(models.KindUnsupportedFormat,
			"no video stream in %s", urlutil.Redact(input))
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return models.VideoMetadata{}, models.Errorf(models.KindUnsupportedFormat,
			"video stream reports no geometry in %s", urlutil.Redact(input))
	}

	meta := models.VideoMetadata{
		Path:   input,
		Width:  stream.Width,
		Height: stream.Height,
		FPS:    stream.Framerate(),
		Codec:  stream.CodecName,
	}

	// Stream duration is more precise than the container's when present.
	if stream.Duration != "" {
		if dur, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
			meta.Duration = dur
		}
	}
	if meta.Duration == 0 {
		meta.Duration = result.Duration()
	}

	if stream.NbFrames != "" {
		if n, err := strconv.ParseInt(stream.NbFrames, 10, 64); err == nil {
			meta.TotalFrames = n
		}
	}
	if meta.TotalFrames == 0 && meta.Duration > 0 && meta.FPS > 0 {
		meta.TotalFrames = int64(math.Round(meta.Duration * meta.FPS))
	}

	return meta, nil
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}
