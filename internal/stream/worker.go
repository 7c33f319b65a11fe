package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/visus-project/visus/internal/ffmpeg"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/pipeline"
	"github.com/visus-project/visus/internal/urlutil"
	"github.com/visus-project/visus/internal/video"
)

const (
	// DefaultBackoffBase is the initial reconnect delay; it doubles per
	// consecutive failure up to the configured cap.
	DefaultBackoffBase = 1 * time.Second

	// fpsAlpha weights the newest inter-frame rate in the fps moving
	// average.
	fpsAlpha = 0.3

	// jitterFraction spreads reconnect delays by up to this fraction in
	// either direction so workers do not thunder in lockstep.
	jitterFraction = 0.25
)

// Source yields decoded frames from a live connection. ffmpeg.Reader
// satisfies it.
type Source interface {
	Metadata() models.VideoMetadata
	Next(ctx context.Context) (*models.Frame, error)
	Close() error
}

// Dialer opens a Source for a stream URL. Workers re-dial through it on
// every reconnect, so implementations must be safe for repeated calls.
type Dialer interface {
	Dial(ctx context.Context, url string) (Source, error)
}

// OpenerDialer adapts an ffmpeg.Opener into a Dialer.
type OpenerDialer struct {
	Opener *ffmpeg.Opener
}

// Dial probes the URL and opens a decode pipe over it.
func (d OpenerDialer) Dial(ctx context.Context, url string) (Source, error) {
	r, err := d.Opener.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// workerDeps carries the collaborators a worker needs.
type workerDeps struct {
	dialer   Dialer
	image    *pipeline.Pipeline
	analyzer *video.Analyzer
	logger   *slog.Logger
}

// Worker ingests one live source: a single reader goroutine samples
// frames into a ring, a ticker goroutine runs detection rounds over the
// ring, and accessors serve copied snapshots to concurrent callers.
type Worker struct {
	id   string
	url  string
	kind models.StreamKind
	cfg  models.StreamConfig

	dialer   Dialer
	image    *pipeline.Pipeline
	analyzer *video.Analyzer
	logger   *slog.Logger

	samples *Ring[*models.Frame]
	results *Ring[models.StreamResult]

	// backoffBase is the first reconnect delay; tests shrink it.
	backoffBase time.Duration
	rng         *rand.Rand

	mu        sync.RWMutex
	status    models.StreamStatus
	stats     models.StreamStats
	lastError string
	startedAt time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// newWorker builds a worker; the manager starts it.
func newWorker(id, url string, kind models.StreamKind, cfg models.StreamConfig, deps workerDeps) *Worker {
	if deps.logger == nil {
		deps.logger = slog.Default()
	}
	return &Worker{
		id:          id,
		url:         url,
		kind:        kind,
		cfg:         cfg,
		dialer:      deps.dialer,
		image:       deps.image,
		analyzer:    deps.analyzer,
		logger:      deps.logger,
		samples:     NewRing[*models.Frame](cfg.SampleRingSize),
		results:     NewRing[models.StreamResult](cfg.ResultsRingSize),
		backoffBase: DefaultBackoffBase,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		status:      models.StreamStarting,
		startedAt:   time.Now(),
		done:        make(chan struct{}),
	}
}

// start launches the reader and detection goroutines. The worker runs
// until Stop or a terminal error; parent outlives any single request.
func (w *Worker) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	go w.run(ctx)
	go w.detectLoop(ctx)
}

// ID returns the assigned stream id.
func (w *Worker) ID() string {
	return w.id
}

// Descriptor returns a point-in-time snapshot of the worker state. The
// URL is credential-redacted.
func (w *Worker) Descriptor() models.StreamDescriptor {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return models.StreamDescriptor{
		ID:        w.id,
		URL:       urlutil.Redact(w.url),
		Kind:      w.kind,
		Status:    w.status,
		Config:    w.cfg,
		Stats:     w.stats,
		StartedAt: w.startedAt,
		LastError: w.lastError,
	}
}

// Status returns the current lifecycle state.
func (w *Worker) Status() models.StreamStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Results returns up to limit of the newest results, oldest first,
// keeping only entries completed after since when since is non-zero.
func (w *Worker) Results(limit int, since time.Time) []models.StreamResult {
	all := w.results.Snapshot()
	if !since.IsZero() {
		filtered := all[:0]
		for _, r := range all {
			if r.CompletedAt.After(since) {
				filtered = append(filtered, r)
			}
		}
		all = filtered
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// Stop requests shutdown and waits up to the configured grace period
// for the reader to drain. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.setStatus(models.StreamStopping)
		w.cancel()

		grace := time.Duration(w.cfg.GraceSeconds * float64(time.Second))
		select {
		case <-w.done:
		case <-time.After(grace):
			w.logger.Warn("stream stop grace elapsed",
				slog.String("stream_id", w.id))
		}
		w.setStatus(models.StreamStopped)
	})
}

// Done is closed once the reader loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// run is the connect/read/reconnect loop.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	backoff := w.backoffBase
	consecutive := 0

	for {
		if ctx.Err() != nil {
			w.setStatus(models.StreamStopped)
			return
		}

		src, err := w.dialer.Dial(ctx, w.url)
		if err != nil {
			if ctx.Err() != nil {
				w.setStatus(models.StreamStopped)
				return
			}
			consecutive++
			w.recordError(err)
			w.logger.Warn("stream connect failed",
				slog.String("stream_id", w.id),
				slog.String("url", urlutil.Redact(w.url)),
				slog.Int("consecutive", consecutive),
				slog.Any("error", err))
			if consecutive >= w.cfg.MaxConsecutiveErrors {
				w.logger.Error("stream giving up",
					slog.String("stream_id", w.id),
					slog.Int("attempts", consecutive))
				w.setStatus(models.StreamError)
				return
			}
			w.setStatus(models.StreamDegraded)
			if !w.sleep(ctx, w.jittered(backoff)) {
				w.setStatus(models.StreamStopped)
				return
			}
			backoff = w.nextBackoff(backoff)
			w.incReconnect()
			continue
		}

		frames, readErr := w.readLoop(ctx, src)
		_ = src.Close()

		if ctx.Err() != nil {
			w.setStatus(models.StreamStopped)
			return
		}

		// A session that produced frames resets the failure streak.
		if frames > 0 {
			consecutive = 0
			backoff = w.backoffBase
		}
		consecutive++
		w.recordError(readErr)
		w.logger.Warn("stream disconnected",
			slog.String("stream_id", w.id),
			slog.Int64("session_frames", frames),
			slog.Int("consecutive", consecutive),
			slog.Any("error", readErr))

		if consecutive >= w.cfg.MaxConsecutiveErrors {
			w.logger.Error("stream giving up",
				slog.String("stream_id", w.id),
				slog.Int("attempts", consecutive))
			w.setStatus(models.StreamError)
			return
		}
		w.setStatus(models.StreamDegraded)
		if !w.sleep(ctx, w.jittered(backoff)) {
			w.setStatus(models.StreamStopped)
			return
		}
		backoff = w.nextBackoff(backoff)
		w.incReconnect()
	}
}

// readLoop drains one connection, pacing frames into the sample ring.
// Returns the number of frames the session produced and the error that
// ended it. A clean EOF on a live source still means the connection is
// gone.
func (w *Worker) readLoop(ctx context.Context, src Source) (int64, error) {
	var (
		frames      int64
		lastArrival time.Time
		lastSample  time.Time
	)

	for {
		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = models.NewError(models.KindConnectionLost, "source ended")
			}
			return frames, err
		}

		now := time.Now()
		frames++
		w.noteFrame(now, lastArrival)
		if frames == 1 {
			w.setStatus(models.StreamRunning)
		}

		if lastSample.IsZero() || now.Sub(lastSample).Seconds() >= w.cfg.SampleInterval {
			w.samples.Push(frame)
			lastSample = now
		}
		lastArrival = now
	}
}

// detectLoop triggers a detection round every detection interval.
func (w *Worker) detectLoop(ctx context.Context) {
	interval := time.Duration(w.cfg.DetectionInterval * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		w.runDetection(ctx)
	}
}

// runDetection snapshots the newest window of sampled frames and runs
// the image pipeline (window 1) or the video pipeline (larger windows),
// appending the outcome to the results ring.
func (w *Worker) runDetection(ctx context.Context) {
	frames := w.samples.Last(w.cfg.DetectionWindow)
	if len(frames) == 0 {
		return
	}

	var result models.StreamResult
	if w.cfg.DetectionWindow <= 1 || len(frames) == 1 {
		latest := frames[len(frames)-1]
		result.Image = w.image.Analyze(ctx, latest)
		w.noteDetection(1)
	} else {
		verdict, err := w.analyzer.Analyze(ctx, newWindowSource(frames, w.cfg.SampleInterval))
		if err != nil {
			w.logger.Warn("stream detection round failed",
				slog.String("stream_id", w.id),
				slog.Any("error", err))
			return
		}
		result.Video = verdict
		w.noteDetection(int64(len(frames)))
	}

	result.CompletedAt = time.Now()
	w.results.Push(result)
}

// setStatus applies a lifecycle transition; terminal states stick.
func (w *Worker) setStatus(s models.StreamStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.Terminal() {
		return
	}
	w.status = s
}

func (w *Worker) recordError(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.ConnectionErrors++
	w.lastError = err.Error()
}

func (w *Worker) incReconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.ReconnectCount++
}

func (w *Worker) noteFrame(now, prev time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.FramesReceived++
	t := now
	w.stats.LastFrameTime = &t
	if prev.IsZero() {
		return
	}
	if dt := now.Sub(prev).Seconds(); dt > 0 {
		inst := 1.0 / dt
		if w.stats.FPS == 0 {
			w.stats.FPS = inst
		} else {
			w.stats.FPS = fpsAlpha*inst + (1-fpsAlpha)*w.stats.FPS
		}
	}
}

func (w *Worker) noteDetection(frames int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.FramesDetected += frames
	t := time.Now()
	w.stats.LastDetectionTime = &t
}

// jittered spreads d by ±jitterFraction.
func (w *Worker) jittered(d time.Duration) time.Duration {
	f := 1 + jitterFraction*(2*w.rng.Float64()-1)
	return time.Duration(float64(d) * f)
}

// nextBackoff doubles the delay up to the configured cap.
func (w *Worker) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	capD := time.Duration(w.cfg.ReconnectBackoffCap * float64(time.Second))
	if capD > 0 && next > capD {
		next = capD
	}
	return next
}

// sleep waits for d or cancellation; returns false when cancelled.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// windowSource adapts a snapshot of ring frames into a video.Source so
// detection rounds reuse the video pipeline unchanged.
type windowSource struct {
	frames []*models.Frame
	meta   models.VideoMetadata
	idx    int
}

func newWindowSource(frames []*models.Frame, sampleInterval float64) *windowSource {
	first := frames[0]
	last := frames[len(frames)-1]
	if sampleInterval <= 0 {
		sampleInterval = models.DefaultSampleInterval
	}
	// Decoder timestamps restart after a reconnect, so a window spanning
	// sessions can be non-monotonic.
	duration := last.Timestamp - first.Timestamp + sampleInterval
	if duration <= 0 {
		duration = float64(len(frames)) * sampleInterval
	}
	return &windowSource{
		frames: frames,
		meta: models.VideoMetadata{
			Width:  first.Width,
			Height: first.Height,
			// The window is already paced at the sample interval; unity
			// step keeps every frame.
			FPS:         1 / sampleInterval,
			Duration:    duration,
			TotalFrames: int64(len(frames)),
		},
	}
}

func (s *windowSource) Metadata() models.VideoMetadata {
	return s.meta
}

func (s *windowSource) Next(ctx context.Context) (*models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.idx >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.idx]
	s.idx++
	return f, nil
}

func (s *windowSource) Close() error {
	return nil
}
