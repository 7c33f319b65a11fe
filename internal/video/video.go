package video

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/pipeline"
)

// Source yields decoded frames in presentation order. Next returns
// io.EOF once the stream ends cleanly; any other error marks the
// remaining verdict partial.
type Source interface {
	// Metadata describes the probed source. FPS and Duration may be
	// zero for live or unprobeable inputs.
	Metadata() models.VideoMetadata

	Next(ctx context.Context) (*models.Frame, error)

	Close() error
}

// Options tunes one analysis run.
type Options struct {
	Strategy       Strategy
	SampleInterval float64
	MaxFrames      int

	// Workers is the image-pipeline parallelism; default NumCPU capped
	// at 8.
	Workers int

	// IncludeFrames attaches every per-sample image verdict to the
	// result.
	IncludeFrames bool

	// MaxFrameBytes bounds the buffer memory as capacity*MaxFrameBytes;
	// default is one 1080p BGR frame.
	MaxFrameBytes int

	Logger *slog.Logger
}

// DefaultMaxFrameBytes is the per-frame memory budget backing the
// buffer ceiling: one 1920x1080 3-channel frame.
const DefaultMaxFrameBytes = 1920 * 1080 * 3

func (o *Options) normalize() {
	if o.Strategy == "" {
		o.Strategy = StrategyInterval
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = DefaultSampleInterval
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = DefaultMaxFrames
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.Workers > 8 {
		o.Workers = 8
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Analyzer runs the full video diagnosis: sampling, per-frame image
// analysis on a worker pool, temporal detection, and aggregation.
// It is safe for concurrent use; per-run state lives on the stack.
type Analyzer struct {
	image    *pipeline.Pipeline
	settings detect.Settings
	opts     Options
}

// NewAnalyzer builds an analyzer around a constructed image pipeline.
// settings supplies the temporal thresholds (freeze_similarity,
// scene_hist_threshold, ...) resolved from the active profile.
func NewAnalyzer(image *pipeline.Pipeline, settings detect.Settings, opts Options) *Analyzer {
	opts.normalize()
	return &Analyzer{image: image, settings: settings, opts: opts}
}

// Analyze decodes src to completion and returns the verdict. A decoder
// failure mid-stream yields a partial verdict with Error set; a source
// that produces no frames at all is an error.
func (a *Analyzer) Analyze(ctx context.Context, src Source) (*models.VideoVerdict, error) {
	started := time.Now()
	meta := src.Metadata()

	sceneThr := a.settings.Threshold("scene_hist_threshold", 0.4)
	sampler := NewSampler(a.opts.Strategy, meta.FPS, a.opts.SampleInterval, sceneThr, a.opts.MaxFrames)
	temporal := NewTemporalSet(a.settings)
	buffer := NewFrameBuffer(BufferCapacity(a.opts.Workers), a.opts.MaxFrameBytes)

	var (
		mu        sync.Mutex
		verdicts  []models.ImageVerdict
		decodeErr error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer buffer.Close()
		err := a.produce(gctx, src, sampler, temporal, buffer)
		if err != nil {
			mu.Lock()
			decodeErr = err
			mu.Unlock()
			a.opts.Logger.Warn("video decode ended early",
				slog.Any("error", err),
				slog.Int("sampled", sampler.Taken()))
		}
		return nil
	})

	for i := 0; i < a.opts.Workers; i++ {
		g.Go(func() error {
			for {
				frame, err := buffer.Pop(gctx)
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				v := a.image.Analyze(gctx, frame)
				mu.Lock()
				verdicts = append(verdicts, *v)
				mu.Unlock()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(verdicts) == 0 {
		if decodeErr != nil {
			return nil, decodeErr
		}
		return nil, models.NewError(models.KindEmptySource, "source produced no frames")
	}

	sort.SliceStable(verdicts, func(i, j int) bool {
		return verdicts[i].Timestamp < verdicts[j].Timestamp
	})

	minEvent := a.settings.Threshold("min_event_duration", 0.5)
	issues := MergeFrameVerdicts(verdicts, minEvent)
	for _, det := range temporal {
		issues = append(issues, det.Finish()...)
	}

	verdict := &models.VideoVerdict{
		Metadata: meta,
		Issues:   issues,
		Severity: models.SeverityNormal,
	}
	verdict.Metadata.SampledFrames = len(verdicts)
	if verdict.Metadata.Duration == 0 && len(verdicts) > 0 {
		verdict.Metadata.Duration = verdicts[len(verdicts)-1].Timestamp
	}

	for _, issue := range issues {
		verdict.Severity = models.MaxSeverity(verdict.Severity, issue.Severity)
		if issue.Severity.Rank() >= models.SeverityWarning.Rank() {
			verdict.IsAbnormal = true
		}
	}

	abnormal := abnormalUnion(issues)
	if verdict.Metadata.Duration > 0 {
		score := 1 - abnormal/verdict.Metadata.Duration
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		verdict.OverallScore = score
	} else {
		verdict.OverallScore = 1
	}

	if decodeErr != nil {
		// A partial verdict from a truncated decode is at least a
		// warning even when every sampled frame looked healthy.
		verdict.Error = decodeErr.Error()
		verdict.Severity = models.MaxSeverity(verdict.Severity, models.SeverityWarning)
		verdict.IsAbnormal = true
	}
	if a.opts.IncludeFrames {
		verdict.FrameVerdicts = verdicts
	}
	verdict.SortIssues()
	verdict.ElapsedMS = float64(time.Since(started).Microseconds()) / 1000
	return verdict, nil
}

// produce drives the decode loop: sample, feed the temporal detectors
// in order, and push sampled frames to the worker buffer. The last
// decoded frame is force-sampled when the budget allows, so short
// sources always contribute their first and last frames.
func (a *Analyzer) produce(ctx context.Context, src Source, sampler *Sampler, temporal []TemporalDetector, buffer *FrameBuffer) error {
	var last *models.Frame
	lastTaken := false

	for !sampler.Exhausted() {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		take := sampler.Take(frame)
		if take {
			for _, det := range temporal {
				det.Observe(frame)
			}
			if err := buffer.Push(ctx, frame); err != nil {
				return err
			}
		}
		last, lastTaken = frame, take
	}

	if last != nil && !lastTaken && !sampler.Exhausted() {
		for _, det := range temporal {
			det.Observe(last)
		}
		if err := buffer.Push(ctx, last); err != nil {
			return err
		}
	}
	return nil
}
