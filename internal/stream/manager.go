package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/ffmpeg"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/pipeline"
	"github.com/visus-project/visus/internal/profile"
	"github.com/visus-project/visus/internal/urlutil"
	"github.com/visus-project/visus/internal/video"
)

// DefaultMaxStreams bounds concurrently active workers per manager.
const DefaultMaxStreams = 16

// detectionWorkers is the image-pipeline parallelism inside one
// detection round. Rounds are small (at most the detection window), so
// two workers keep latency low without starving batch traffic.
const detectionWorkers = 2

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	// Registry supplies the detectors. Default: detect.Default().
	Registry *detect.Registry

	// Profiles resolves threshold profiles. Required.
	Profiles *profile.Store

	// Dialer opens live sources. Default: OpenerDialer over a fresh
	// ffmpeg.Opener.
	Dialer Dialer

	// MaxStreams caps active (non-terminal) workers. Default 16.
	MaxStreams int

	Logger *slog.Logger
}

// Manager owns the live stream workers. Start launches them on a
// manager-scoped context so request cancellation never tears down a
// running stream; stopped workers stay queryable until Close.
type Manager struct {
	registry   *detect.Registry
	profiles   *profile.Store
	dialer     Dialer
	maxStreams int
	logger     *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	workers map[string]*Worker
}

// NewManager builds a Manager from cfg, applying defaults.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Registry == nil {
		cfg.Registry = detect.Default()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = OpenerDialer{Opener: ffmpeg.NewOpener(ffmpeg.NewBinaryDetector())}
	}
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = DefaultMaxStreams
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:   cfg.Registry,
		profiles:   cfg.Profiles,
		dialer:     cfg.Dialer,
		maxStreams: cfg.MaxStreams,
		logger:     cfg.Logger,
		baseCtx:    ctx,
		cancel:     cancel,
		workers:    make(map[string]*Worker),
	}
}

// Start validates the request, builds the detection pipelines for the
// configured profile, and launches a worker. The returned descriptor
// carries the assigned stream id.
func (m *Manager) Start(url string, kind models.StreamKind, cfg models.StreamConfig) (models.StreamDescriptor, error) {
	if err := urlutil.ValidateStreamURL(url); err != nil {
		return models.StreamDescriptor{}, models.WrapError(models.KindInput, "invalid stream URL", err)
	}
	if kind == "" {
		kind = inferKind(url)
	}
	if err := cfg.Normalize(); err != nil {
		return models.StreamDescriptor{}, models.WrapError(models.KindInput, "invalid stream config", err)
	}

	resolved, err := m.profiles.Resolve(cfg.Profile, cfg.Level, nil, nil)
	if err != nil {
		return models.StreamDescriptor{}, err
	}
	img, err := pipeline.Build(m.registry, cfg.Detectors, cfg.Level, resolved.Settings, pipeline.Config{Logger: m.logger})
	if err != nil {
		return models.StreamDescriptor{}, err
	}
	analyzer := video.NewAnalyzer(img, resolved.Settings("video"), video.Options{
		Strategy:       video.StrategyInterval,
		SampleInterval: cfg.SampleInterval,
		MaxFrames:      cfg.DetectionWindow,
		Workers:        detectionWorkers,
		Logger:         m.logger,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeLocked() >= m.maxStreams {
		return models.StreamDescriptor{}, models.WrapError(models.KindConflict,
			fmt.Sprintf("%d streams active", m.maxStreams), models.ErrStreamLimit)
	}

	id := uuid.New().String()
	w := newWorker(id, url, kind, cfg, workerDeps{
		dialer:   m.dialer,
		image:    img,
		analyzer: analyzer,
		logger:   m.logger.With(slog.String("stream_id", id)),
	})
	m.workers[id] = w
	w.start(m.baseCtx)

	m.logger.Info("stream started",
		slog.String("stream_id", id),
		slog.String("url", urlutil.Redact(url)),
		slog.String("kind", string(kind)),
		slog.String("profile", cfg.Profile))
	return w.Descriptor(), nil
}

// Stop shuts one worker down, waiting up to its grace period. The
// worker remains queryable afterwards.
func (m *Manager) Stop(id string) (models.StreamDescriptor, error) {
	w, err := m.worker(id)
	if err != nil {
		return models.StreamDescriptor{}, err
	}
	w.Stop()
	m.logger.Info("stream stopped", slog.String("stream_id", id))
	return w.Descriptor(), nil
}

// Get returns the descriptor for one stream.
func (m *Manager) Get(id string) (models.StreamDescriptor, error) {
	w, err := m.worker(id)
	if err != nil {
		return models.StreamDescriptor{}, err
	}
	return w.Descriptor(), nil
}

// Results returns up to limit of the newest detection results for one
// stream, oldest first. A zero since returns everything retained.
func (m *Manager) Results(id string, limit int, since time.Time) ([]models.StreamResult, error) {
	w, err := m.worker(id)
	if err != nil {
		return nil, err
	}
	return w.Results(limit, since), nil
}

// List returns descriptors for all workers, running and finished,
// ordered by start time.
func (m *Manager) List() []models.StreamDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.StreamDescriptor, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close stops every worker and releases the manager context.
func (m *Manager) Close() {
	m.mu.RLock()
	ws := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		ws = append(ws, w)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, w := range ws {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
	m.cancel()
}

func (m *Manager) worker(id string) (*Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, models.Errorf(models.KindNotFound, "stream %s not found", id)
	}
	return w, nil
}

// activeLocked counts workers still making progress. Terminal workers
// do not occupy a slot.
func (m *Manager) activeLocked() int {
	n := 0
	for _, w := range m.workers {
		if !w.Status().Terminal() {
			n++
		}
	}
	return n
}

func inferKind(url string) models.StreamKind {
	switch urlutil.GetScheme(url) {
	case urlutil.SchemeRTMP, urlutil.SchemeRTMPS:
		return models.StreamRTMP
	default:
		return models.StreamRTSP
	}
}
