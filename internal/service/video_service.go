package service

import (
	"context"
	"log/slog"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/ffmpeg"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/profile"
	"github.com/visus-project/visus/internal/video"
)

// VideoRequest is one video file or URL diagnosis.
type VideoRequest struct {
	// Source is a local path, file:// URL, or http(s) URL.
	Source string

	Options DiagnoseOptions

	// Strategy is interval, scene, or hybrid; empty means interval.
	Strategy string

	// SampleInterval is the sampling step in seconds.
	SampleInterval float64

	// MaxFrames caps the number of sampled frames.
	MaxFrames int

	// IncludeFrames attaches every per-sample image verdict.
	IncludeFrames bool

	// Workers overrides the per-run image pipeline parallelism.
	Workers int
}

// VideoService runs full-video diagnosis through the ffmpeg decode
// pipe.
type VideoService struct {
	opener   *ffmpeg.Opener
	registry *detect.Registry
	profiles *profile.Store
	logger   *slog.Logger
}

// NewVideoService wires the decoder, registry, and profile store.
func NewVideoService(opener *ffmpeg.Opener, registry *detect.Registry, profiles *profile.Store) *VideoService {
	return &VideoService{
		opener:   opener,
		registry: registry,
		profiles: profiles,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *VideoService) WithLogger(logger *slog.Logger) *VideoService {
	s.logger = logger
	return s
}

// Diagnose decodes the source to completion and returns the aggregated
// verdict. Decoder failures mid-stream yield a partial verdict; a
// source with no decodable frames is an error.
func (s *VideoService) Diagnose(ctx context.Context, req VideoRequest) (*models.VideoVerdict, error) {
	strategy, err := video.ParseStrategy(req.Strategy)
	if err != nil {
		return nil, models.WrapError(models.KindInput, "sample strategy", err)
	}

	analyzer, err := s.buildAnalyzer(req, strategy)
	if err != nil {
		return nil, err
	}

	src, err := s.opener.Open(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	verdict, err := analyzer.Analyze(ctx, src)
	if err != nil {
		return nil, err
	}

	s.logger.Info("video diagnosed",
		slog.String("source", req.Source),
		slog.Int("sampled", verdict.Metadata.SampledFrames),
		slog.Int("issues", len(verdict.Issues)),
		slog.Float64("overall_score", verdict.OverallScore))
	return verdict, nil
}

// DiagnoseSource runs the analyzer over an already-open frame source.
// The caller keeps ownership of src.
func (s *VideoService) DiagnoseSource(ctx context.Context, src video.Source, req VideoRequest) (*models.VideoVerdict, error) {
	strategy, err := video.ParseStrategy(req.Strategy)
	if err != nil {
		return nil, models.WrapError(models.KindInput, "sample strategy", err)
	}
	analyzer, err := s.buildAnalyzer(req, strategy)
	if err != nil {
		return nil, err
	}
	return analyzer.Analyze(ctx, src)
}

func (s *VideoService) buildAnalyzer(req VideoRequest, strategy video.Strategy) (*video.Analyzer, error) {
	resolved, err := s.profiles.Resolve(req.Options.Profile, req.Options.Level,
		req.Options.CustomThresholds, req.Options.DetectorOptions)
	if err != nil {
		return nil, err
	}
	img, err := pipelineBuild(s.registry, req.Options.Detectors, resolved, s.logger)
	if err != nil {
		return nil, err
	}
	return video.NewAnalyzer(img, resolved.Settings("video"), video.Options{
		Strategy:       strategy,
		SampleInterval: req.SampleInterval,
		MaxFrames:      req.MaxFrames,
		Workers:        req.Workers,
		IncludeFrames:  req.IncludeFrames,
		Logger:         s.logger,
	}), nil
}
