package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/urlutil"
)

const (
	// decodePixFmt is the pixel format requested from the decode pipe.
	// Interleaved BGR matches the frame layout detectors expect.
	decodePixFmt   = "bgr24"
	decodeChannels = 3

	// stderrTailSize bounds how much decoder stderr is retained for error
	// messages.
	stderrTailSize = 4096

	// fallbackFPS stands in when the probe could not report a framerate,
	// so timestamps stay monotonic.
	fallbackFPS = 25.0
)

// Opener probes inputs and opens rawvideo readers over them.
type Opener struct {
	detector     *BinaryDetector
	probeTimeout time.Duration
}

// NewOpener creates an Opener backed by the given binary detector.
func NewOpener(detector *BinaryDetector) *Opener {
	return &Opener{
		detector:     detector,
		probeTimeout: DefaultProbeTimeout,
	}
}

// WithProbeTimeout sets the per-open probe timeout.
func (o *Opener) WithProbeTimeout(timeout time.Duration) *Opener {
	o.probeTimeout = timeout
	return o
}

// Open probes the input and starts a decode pipe for it. The input may be a
// local path, a file:// or http(s):// URL, or an rtsp/rtmp stream URL.
func (o *Opener) Open(ctx context.Context, input string) (*Reader, error) {
	if input == "" {
		return nil, models.NewError(models.KindInput, "source is required")
	}
	if urlutil.IsFileURL(input) {
		path, err := urlutil.FilePathFromURL(input)
		if err != nil {
			return nil, models.WrapError(models.KindInput, "invalid file URL", err)
		}
		input = path
	}
	if !urlutil.IsNetworkInput(input) {
		if _, err := os.Stat(input); err != nil {
			return nil, models.WrapError(models.KindSourceUnavailable,
				fmt.Sprintf("source %s", input), err)
		}
	}

	info, err := o.detector.Detect(ctx)
	if err != nil {
		return nil, models.WrapError(models.KindConfig, "ffmpeg not available", err)
	}
	if !info.HasProber() {
		return nil, models.NewError(models.KindConfig, "ffprobe binary not available")
	}

	meta, err := NewProber(info.FFprobePath).WithTimeout(o.probeTimeout).ProbeVideo(ctx, input)
	if err != nil {
		return nil, err
	}

	return OpenReader(ctx, info.FFmpegPath, input, meta)
}

// Reader decodes a source into raw BGR frames via an ffmpeg pipe. It is
// not safe for concurrent Next calls; Close may race a blocked Next and
// unblocks it.
type Reader struct {
	meta   models.VideoMetadata
	input  string
	fps    float64
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	index  int64

	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
}

// OpenReader starts a decode pipe for an already probed input. The process
// lives until Close or until ctx is cancelled.
func OpenReader(ctx context.Context, ffmpegPath, input string, meta models.VideoMetadata) (*Reader, error) {
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, models.Errorf(models.KindUnsupportedFormat,
			"cannot decode %s without geometry", urlutil.Redact(input))
	}

	r := &Reader{
		meta:   meta,
		input:  input,
		fps:    meta.FPS,
		stderr: &tailBuffer{max: stderrTailSize},
	}
	if r.fps <= 0 {
		r.fps = fallbackFPS
	}

	r.cmd = exec.CommandContext(ctx, ffmpegPath, buildDecodeArgs(input)...)
	r.cmd.Stderr = r.stderr

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return nil, models.WrapError(models.KindInternal, "creating stdout pipe", err)
	}
	r.stdout = stdout

	if err := r.cmd.Start(); err != nil {
		return nil, models.WrapError(models.KindInternal, "starting ffmpeg", err)
	}

	return r, nil
}

// buildDecodeArgs assembles the ffmpeg invocation for a rawvideo pipe.
func buildDecodeArgs(input string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
	}
	args = append(args, networkInputArgs(input)...)
	args = append(args,
		"-i", input,
		"-f", "rawvideo",
		"-pix_fmt", decodePixFmt,
		"-an", "-sn",
		"pipe:1",
	)
	return args
}

// networkInputArgs returns transport options for networked inputs.
func networkInputArgs(input string) []string {
	switch urlutil.GetScheme(input) {
	case urlutil.SchemeRTSP:
		return []string{"-rtsp_transport", "tcp"}
	case urlutil.SchemeHTTP, urlutil.SchemeHTTPS:
		return []string{
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		}
	}
	return nil
}

// Metadata returns the probed source metadata.
func (r *Reader) Metadata() models.VideoMetadata {
	return r.meta
}

// Next returns the next decoded frame. It returns io.EOF when the source
// ends cleanly and a kinded error when the decoder fails.
func (r *Reader) Next(ctx context.Context) (*models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame := models.NewFrame(r.meta.Width, r.meta.Height, decodeChannels)
	if _, err := io.ReadFull(r.stdout, frame.Pix); err != nil {
		return nil, r.finish(ctx, err)
	}

	frame.Index = r.index
	frame.Timestamp = float64(r.index) / r.fps
	r.index++
	return frame, nil
}

// finish classifies the end of the pipe after a read error.
func (r *Reader) finish(ctx context.Context, readErr error) error {
	waitErr := r.wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if errors.Is(readErr, io.EOF) && waitErr == nil {
		return io.EOF
	}

	cause := waitErr
	if cause == nil {
		cause = readErr
	}
	if detail := r.stderr.String(); detail != "" {
		cause = fmt.Errorf("%w: %s", cause, detail)
	}

	source := urlutil.Redact(r.input)
	network := urlutil.IsNetworkInput(r.input)
	switch {
	case r.index == 0 && network:
		return models.WrapError(models.KindSourceUnavailable,
			fmt.Sprintf("no frames from %s", source), cause)
	case r.index == 0:
		return models.WrapError(models.KindUnsupportedFormat,
			fmt.Sprintf("decoder produced no frames from %s", source), cause)
	case network:
		return models.WrapError(models.KindConnectionLost,
			fmt.Sprintf("lost %s after %d frames", source, r.index), cause)
	default:
		return models.WrapError(models.KindUnsupportedFormat,
			fmt.Sprintf("decode failed after %d frames of %s", r.index, source), cause)
	}
}

// wait reaps the process exactly once.
func (r *Reader) wait() error {
	r.waitOnce.Do(func() {
		r.waitErr = r.cmd.Wait()
	})
	return r.waitErr
}

// Close kills the decode process if it is still running and reaps it.
// Safe to call more than once and concurrently with a blocked Next.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		if r.cmd.Process != nil {
			_ = r.cmd.Process.Kill()
		}
		_ = r.wait()
	})
	return nil
}

// tailBuffer is an io.Writer that retains only the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		keep := t.buf[len(t.buf)-t.max:]
		t.buf = append(t.buf[:0], keep...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
