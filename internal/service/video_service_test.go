package service

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/ffmpeg"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/profile"
	"github.com/visus-project/visus/internal/testutil"
)

// fakeFrameSource replays canned frames through the analyzer without an
// ffmpeg process behind it.
type fakeFrameSource struct {
	meta   models.VideoMetadata
	frames []*models.Frame
	pos    int
	closed bool
}

func (s *fakeFrameSource) Metadata() models.VideoMetadata { return s.meta }

func (s *fakeFrameSource) Next(ctx context.Context) (*models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *fakeFrameSource) Close() error {
	s.closed = true
	return nil
}

// cannedSource builds a 2 fps source of the given length with the frame
// content chosen per index. Frame headers are copied so repeated content
// still carries per-sample timestamps.
func cannedSource(seconds float64, frameAt func(idx int64) *models.Frame) *fakeFrameSource {
	const fps = 2.0
	total := int64(seconds * fps)
	src := &fakeFrameSource{
		meta: models.VideoMetadata{
			Width:       128,
			Height:      96,
			FPS:         fps,
			Duration:    seconds,
			TotalFrames: total,
		},
	}
	for i := int64(0); i < total; i++ {
		f := *frameAt(i)
		src.frames = append(src.frames, testutil.WithTimestamp(&f, float64(i)/fps, i))
	}
	return src
}

func newVideoService() *VideoService {
	return NewVideoService(
		ffmpeg.NewOpener(ffmpeg.NewBinaryDetector()),
		detect.Default(),
		profile.NewStore(quietLogger()),
	).WithLogger(quietLogger())
}

func TestVideoServiceDiagnoseSourceHealthy(t *testing.T) {
	s := newVideoService()
	src := cannedSource(10, func(idx int64) *models.Frame {
		return testutil.TextureFrame(128, 96, idx)
	})

	verdict, err := s.DiagnoseSource(context.Background(), src, VideoRequest{
		Options:        DiagnoseOptions{Level: models.LevelFast},
		SampleInterval: 0.5,
	})
	require.NoError(t, err)

	assert.False(t, verdict.IsAbnormal)
	assert.Equal(t, models.SeverityNormal, verdict.Severity)
	assert.Equal(t, 1.0, verdict.OverallScore)
	assert.Equal(t, 20, verdict.Metadata.SampledFrames)
	assert.Equal(t, 128, verdict.Metadata.Width)
	assert.False(t, src.closed, "caller keeps ownership of the source")
}

func TestVideoServiceDiagnoseSourceFreeze(t *testing.T) {
	s := newVideoService()
	frozen := testutil.TextureFrame(128, 96, 42)
	src := cannedSource(10, func(idx int64) *models.Frame {
		return frozen
	})

	verdict, err := s.DiagnoseSource(context.Background(), src, VideoRequest{
		Options:        DiagnoseOptions{Level: models.LevelFast},
		SampleInterval: 0.5,
	})
	require.NoError(t, err)

	assert.True(t, verdict.IsAbnormal)
	var freeze *models.VideoIssue
	for i := range verdict.Issues {
		if verdict.Issues[i].IssueType == "freeze" {
			freeze = &verdict.Issues[i]
		}
	}
	require.NotNil(t, freeze, "expected a freeze issue")
	assert.Greater(t, freeze.AbnormalDuration, 1.0)
	assert.Less(t, verdict.OverallScore, 1.0)
}

func TestVideoServiceIncludeFrames(t *testing.T) {
	s := newVideoService()
	src := cannedSource(3, func(idx int64) *models.Frame {
		return testutil.TextureFrame(64, 48, idx)
	})

	verdict, err := s.DiagnoseSource(context.Background(), src, VideoRequest{
		Options:        DiagnoseOptions{Level: models.LevelFast},
		SampleInterval: 0.5,
		IncludeFrames:  true,
	})
	require.NoError(t, err)
	assert.Len(t, verdict.FrameVerdicts, verdict.Metadata.SampledFrames)
}

func TestVideoServiceEmptySource(t *testing.T) {
	s := newVideoService()
	src := &fakeFrameSource{meta: models.VideoMetadata{FPS: 2}}

	_, err := s.DiagnoseSource(context.Background(), src, VideoRequest{})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindEmptySource))
}

func TestVideoServiceBadStrategy(t *testing.T) {
	s := newVideoService()

	_, err := s.Diagnose(context.Background(), VideoRequest{
		Source:   "clip.mp4",
		Strategy: "sideways",
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInput))
}

func TestVideoServiceUnknownProfile(t *testing.T) {
	s := newVideoService()
	src := cannedSource(1, func(idx int64) *models.Frame {
		return testutil.TextureFrame(64, 48, idx)
	})

	_, err := s.DiagnoseSource(context.Background(), src, VideoRequest{
		Options: DiagnoseOptions{Profile: "imaginary"},
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfig))
}

func TestVideoServiceUnknownDetector(t *testing.T) {
	s := newVideoService()
	src := cannedSource(1, func(idx int64) *models.Frame {
		return testutil.TextureFrame(64, 48, idx)
	})

	_, err := s.DiagnoseSource(context.Background(), src, VideoRequest{
		Options: DiagnoseOptions{Detectors: []string{"telepathy"}},
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}
