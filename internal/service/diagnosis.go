package service

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/pipeline"
	"github.com/visus-project/visus/internal/profile"
	"github.com/visus-project/visus/internal/urlutil"
)

// DiagnoseOptions selects the detection configuration shared by image
// and batch requests.
type DiagnoseOptions struct {
	// Profile names a threshold vector; empty means "normal".
	Profile string

	// Level selects the detector tier; empty means standard.
	Level models.DetectionLevel

	// Detectors restricts the active set; empty means the level default.
	Detectors []string

	// CustomThresholds merge over the resolved profile vector.
	CustomThresholds map[string]float64

	// DetectorOptions carries per-detector string settings such as
	// baseline_path.
	DetectorOptions map[string]string
}

// ImageRequest is one still-image diagnosis.
type ImageRequest struct {
	Input   ImageInput
	Options DiagnoseOptions
}

// BatchRequest diagnoses a list of paths or URLs with one shared
// configuration.
type BatchRequest struct {
	Inputs  []string
	Options DiagnoseOptions

	// OutputPath optionally writes the batch result to a JSON file.
	OutputPath string
}

// BatchItem is the outcome for one batch input. Verdict and Error are
// mutually exclusive.
type BatchItem struct {
	Input   string               `json:"input"`
	Verdict *models.ImageVerdict `json:"verdict,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// BatchSummary tallies a batch run.
type BatchSummary struct {
	Total    int `json:"total"`
	Normal   int `json:"normal"`
	Abnormal int `json:"abnormal"`
	Errors   int `json:"errors"`

	// ByIssue counts primary issues across abnormal verdicts.
	ByIssue map[string]int `json:"by_issue,omitempty"`

	ElapsedMS float64 `json:"elapsed_ms"`
}

// BatchResult is the full outcome of one batch diagnosis.
type BatchResult struct {
	Items   []BatchItem  `json:"items"`
	Summary BatchSummary `json:"summary"`
}

// DiagnosisService runs still-image diagnosis over decoded inputs.
type DiagnosisService struct {
	registry *detect.Registry
	profiles *profile.Store
	resolver *InputResolver
	logger   *slog.Logger

	// workers bounds batch parallelism.
	workers int
}

// NewDiagnosisService wires the registry and profile store.
func NewDiagnosisService(registry *detect.Registry, profiles *profile.Store) *DiagnosisService {
	return &DiagnosisService{
		registry: registry,
		profiles: profiles,
		resolver: NewInputResolver(),
		logger:   slog.Default(),
		workers:  runtime.NumCPU(),
	}
}

// WithLogger sets a custom logger.
func (s *DiagnosisService) WithLogger(logger *slog.Logger) *DiagnosisService {
	s.logger = logger
	return s
}

// WithResolver sets a custom input resolver.
func (s *DiagnosisService) WithResolver(resolver *InputResolver) *DiagnosisService {
	s.resolver = resolver
	return s
}

// WithWorkers bounds batch parallelism.
func (s *DiagnosisService) WithWorkers(n int) *DiagnosisService {
	if n > 0 {
		s.workers = n
	}
	return s
}

// pipelineBuild constructs the active detector set from a resolved
// profile.
func pipelineBuild(reg *detect.Registry, names []string, resolved profile.Resolved, logger *slog.Logger) (*pipeline.Pipeline, error) {
	return pipeline.Build(reg, names, resolved.Level, resolved.Settings,
		pipeline.Config{Logger: logger})
}

// buildPipeline resolves the profile and constructs the active detector
// set for one request.
func (s *DiagnosisService) buildPipeline(opts DiagnoseOptions) (*pipeline.Pipeline, profile.Resolved, error) {
	resolved, err := s.profiles.Resolve(opts.Profile, opts.Level, opts.CustomThresholds, opts.DetectorOptions)
	if err != nil {
		return nil, profile.Resolved{}, err
	}
	p, err := pipelineBuild(s.registry, opts.Detectors, resolved, s.logger)
	if err != nil {
		return nil, profile.Resolved{}, err
	}
	return p, resolved, nil
}

// DiagnoseImage decodes one input and runs the image pipeline on it.
// The fast level analyzes a downsampled working copy; the reported
// dimensions are always the source dimensions.
func (s *DiagnosisService) DiagnoseImage(ctx context.Context, req ImageRequest) (*models.ImageVerdict, error) {
	p, resolved, err := s.buildPipeline(req.Options)
	if err != nil {
		return nil, err
	}

	frame, err := s.resolver.Resolve(ctx, req.Input)
	if err != nil {
		return nil, err
	}

	width, height := frame.Width, frame.Height
	if resolved.Level == models.LevelFast {
		frame = imaging.Downsample(frame, imaging.FastLevelLongestSide)
	}

	verdict := p.Analyze(ctx, frame)
	verdict.Width = width
	verdict.Height = height

	s.logger.Debug("image diagnosed",
		slog.String("input", req.Input.describe()),
		slog.Bool("abnormal", verdict.IsAbnormal),
		slog.String("primary_issue", verdict.PrimaryIssue))
	return verdict, nil
}

// DiagnoseBatch diagnoses every input concurrently with one shared
// pipeline. Per-item failures are absorbed into the item; the call only
// fails when the request itself is unusable.
func (s *DiagnosisService) DiagnoseBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Inputs) == 0 {
		return nil, models.NewError(models.KindInput, "batch requires at least one input")
	}
	p, resolved, err := s.buildPipeline(req.Options)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	items := make([]BatchItem, len(req.Inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, input := range req.Inputs {
		idx, input := i, input
		g.Go(func() error {
			items[idx] = s.diagnoseBatchItem(gctx, p, resolved, input)
			return nil
		})
	}
	// Workers never return errors; Wait orders item writes before reads.
	_ = g.Wait()

	result := &BatchResult{Items: items, Summary: summarize(items)}
	result.Summary.ElapsedMS = float64(time.Since(started).Microseconds()) / 1000

	if req.OutputPath != "" {
		if err := WriteJSONFile(req.OutputPath, result); err != nil {
			return nil, models.WrapError(models.KindInput,
				"writing batch output "+req.OutputPath, err)
		}
	}

	s.logger.Info("batch diagnosed",
		slog.Int("total", result.Summary.Total),
		slog.Int("abnormal", result.Summary.Abnormal),
		slog.Int("errors", result.Summary.Errors))
	return result, nil
}

func (s *DiagnosisService) diagnoseBatchItem(ctx context.Context, p *pipeline.Pipeline, resolved profile.Resolved, input string) BatchItem {
	item := BatchItem{Input: input}

	in := ImageInput{Path: input}
	if urlutil.IsRemoteURL(input) || urlutil.IsFileURL(input) {
		in = ImageInput{URL: input}
	}
	frame, err := s.resolver.Resolve(ctx, in)
	if err != nil {
		item.Error = err.Error()
		return item
	}

	width, height := frame.Width, frame.Height
	if resolved.Level == models.LevelFast {
		frame = imaging.Downsample(frame, imaging.FastLevelLongestSide)
	}
	verdict := p.Analyze(ctx, frame)
	verdict.Width = width
	verdict.Height = height
	item.Verdict = verdict
	return item
}

func summarize(items []BatchItem) BatchSummary {
	sum := BatchSummary{Total: len(items)}
	for _, item := range items {
		switch {
		case item.Error != "":
			sum.Errors++
		case item.Verdict.IsAbnormal:
			sum.Abnormal++
			if sum.ByIssue == nil {
				sum.ByIssue = make(map[string]int)
			}
			sum.ByIssue[item.Verdict.PrimaryIssue]++
		default:
			sum.Normal++
		}
	}
	return sum
}
