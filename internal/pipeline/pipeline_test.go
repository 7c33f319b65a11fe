package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/testutil"
)

// fakeDetector returns a canned finding, optionally after a delay, an
// error, or a panic.
type fakeDetector struct {
	desc    detect.Descriptor
	finding models.Finding
	err     error
	delay   time.Duration
	panics  bool
}

func (f *fakeDetector) Descriptor() detect.Descriptor { return f.desc }

func (f *fakeDetector) Detect(*models.Frame) (models.Finding, error) {
	if f.panics {
		panic("synthetic detector crash")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.finding, f.err
}

func fake(name string, priority int, abnormal bool, suppresses ...string) *fakeDetector {
	severity := models.SeverityNormal
	if abnormal {
		severity = models.SeverityWarning
	}
	return &fakeDetector{
		desc: detect.Descriptor{Name: name, Priority: priority, Suppresses: suppresses},
		finding: models.Finding{
			Detector:   name,
			IssueType:  name,
			IsAbnormal: abnormal,
			Severity:   severity,
			Score:      1,
			Threshold:  1,
			Confidence: 0.5,
		},
	}
}

func defaultPipeline(t *testing.T, level models.DetectionLevel) *Pipeline {
	t.Helper()
	p, err := Build(detect.Default(), nil, level, func(string) detect.Settings {
		return detect.Settings{Level: level}
	}, Config{})
	require.NoError(t, err)
	return p
}

func TestAnalyze_BlackFrameSuppression(t *testing.T) {
	p := defaultPipeline(t, models.LevelStandard)

	verdict := p.Analyze(context.Background(), testutil.SolidGrayFrame(96, 96, 0))

	require.True(t, verdict.IsAbnormal)
	assert.Equal(t, "black_screen", verdict.PrimaryIssue)
	assert.Equal(t, models.SeverityError, verdict.Severity)

	loss := verdict.FindingFor("signal_loss")
	require.NotNil(t, loss)
	assert.True(t, loss.IsAbnormal)

	for _, name := range []string{"brightness", "blur", "contrast", "occlusion"} {
		assert.Contains(t, verdict.Suppressed, name)
		assert.Nil(t, verdict.FindingFor(name), "suppressed finding %s must be removed", name)
	}
}

func TestAnalyze_OverBrightPrimary(t *testing.T) {
	p := defaultPipeline(t, models.LevelStandard)

	// Bright colored texture: hot exposure without tripping the
	// uniformity checks.
	frame := testutil.AddGaussianNoise(testutil.SolidFrame(96, 96, 245, 245, 245), 12, 21)
	verdict := p.Analyze(context.Background(), frame)

	require.True(t, verdict.IsAbnormal)
	assert.Equal(t, "over_bright", verdict.PrimaryIssue)
	bright := verdict.FindingFor("brightness")
	require.NotNil(t, bright)
	assert.True(t, bright.IsAbnormal)
	assert.Empty(t, verdict.Suppressed)
}

func TestAnalyze_WashedOutSolidFrame(t *testing.T) {
	p := defaultPipeline(t, models.LevelStandard)

	// A solid near-white frame is an exposure fault. The flat-frame and
	// texture detectors stand down so the brightness finding is the one
	// that surfaces, at warning rather than error.
	verdict := p.Analyze(context.Background(), testutil.SolidFrame(320, 240, 250, 250, 250))

	require.True(t, verdict.IsAbnormal)
	assert.Equal(t, "over_bright", verdict.PrimaryIssue)
	assert.Equal(t, models.SeverityWarning, verdict.Severity)

	bright := verdict.FindingFor("brightness")
	require.NotNil(t, bright)
	assert.True(t, bright.IsAbnormal)
	assert.NotContains(t, verdict.Suppressed, "brightness")

	loss := verdict.FindingFor("signal_loss")
	require.NotNil(t, loss)
	assert.False(t, loss.IsAbnormal, "a washed-out frame is not a fill color")
	for _, name := range []string{"color", "occlusion", "blur", "contrast"} {
		f := verdict.FindingFor(name)
		require.NotNil(t, f, name)
		assert.False(t, f.IsAbnormal, "%s must stand down on a washed-out frame", name)
	}
}

func TestAnalyze_HealthyFrame(t *testing.T) {
	p := defaultPipeline(t, models.LevelFast)

	verdict := p.Analyze(context.Background(), testutil.TextureFrame(96, 96, 2))

	assert.False(t, verdict.IsAbnormal)
	assert.Empty(t, verdict.PrimaryIssue)
	assert.Equal(t, models.SeverityNormal, verdict.Severity)
	assert.Empty(t, verdict.Suppressed)
	assert.Len(t, verdict.Findings, 5, "fast level runs the cheap detector set")
}

func TestAnalyze_PanicBecomesFinding(t *testing.T) {
	p := New([]detect.Detector{
		fake("steady", 10, false),
		&fakeDetector{desc: detect.Descriptor{Name: "crashy", Priority: 20}, panics: true},
	}, Config{})

	verdict := p.Analyze(context.Background(), testutil.SolidGrayFrame(8, 8, 128))

	require.Len(t, verdict.Findings, 2)
	crashed := verdict.FindingFor("crashy")
	require.NotNil(t, crashed)
	assert.Equal(t, "detector_error", crashed.IssueType)
	assert.False(t, crashed.IsAbnormal)
	assert.Equal(t, models.SeverityInfo, crashed.Severity)
	assert.False(t, verdict.IsAbnormal)
}

func TestAnalyze_SlowDetectorTimesOut(t *testing.T) {
	slow := &fakeDetector{
		desc:    detect.Descriptor{Name: "sluggish", Priority: 30},
		finding: models.Finding{Detector: "sluggish", IsAbnormal: true, Severity: models.SeverityError},
		delay:   200 * time.Millisecond,
	}
	p := New([]detect.Detector{fake("steady", 10, false), slow}, Config{DetectorTimeout: 20 * time.Millisecond})

	verdict := p.Analyze(context.Background(), testutil.SolidGrayFrame(8, 8, 128))

	timedOut := verdict.FindingFor("sluggish")
	require.NotNil(t, timedOut)
	assert.Equal(t, "detector_timeout", timedOut.IssueType)
	assert.False(t, timedOut.IsAbnormal, "a timed-out detector must not raise the verdict")
	assert.False(t, verdict.IsAbnormal)
}

func TestAnalyze_ContextCancellation(t *testing.T) {
	slow := &fakeDetector{
		desc:  detect.Descriptor{Name: "sluggish", Priority: 30},
		delay: time.Second,
	}
	p := New([]detect.Detector{slow}, Config{DetectorTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	verdict := p.Analyze(ctx, testutil.SolidGrayFrame(8, 8, 128))
	assert.Less(t, time.Since(start), time.Second)
	require.NotNil(t, verdict.FindingFor("sluggish"))
	assert.Equal(t, "detector_timeout", verdict.FindingFor("sluggish").IssueType)
}

func TestAnalyze_SuppressionChainRelease(t *testing.T) {
	// When a suppressor is itself suppressed, its own targets come
	// back. a silences b, which would have silenced c.
	p := New([]detect.Detector{
		fake("a", 1, true, "b"),
		fake("b", 2, true, "c"),
		fake("c", 3, true),
	}, Config{})

	verdict := p.Analyze(context.Background(), testutil.SolidGrayFrame(8, 8, 128))

	assert.Equal(t, []string{"b"}, verdict.Suppressed)
	assert.Nil(t, verdict.FindingFor("b"))
	require.NotNil(t, verdict.FindingFor("c"))
	assert.True(t, verdict.FindingFor("c").IsAbnormal)
}

func TestAnalyze_SuppressionStopsWithoutSuppressor(t *testing.T) {
	p := New([]detect.Detector{
		fake("a", 1, false, "b"),
		fake("b", 2, true, "c"),
		fake("c", 3, true),
	}, Config{})

	verdict := p.Analyze(context.Background(), testutil.SolidGrayFrame(8, 8, 128))

	assert.Equal(t, []string{"c"}, verdict.Suppressed)
	require.NotNil(t, verdict.FindingFor("b"))
	assert.Nil(t, verdict.FindingFor("c"))
}

func TestAnalyze_PrimaryTieBreaks(t *testing.T) {
	lowConf := fake("zeta", 10, true)
	lowConf.finding.Confidence = 0.3
	highConf := fake("alpha", 10, true)
	highConf.finding.Confidence = 0.9
	highConf.finding.IssueType = "alpha_issue"

	p := New([]detect.Detector{lowConf, highConf}, Config{})
	verdict := p.Analyze(context.Background(), testutil.SolidGrayFrame(8, 8, 128))
	assert.Equal(t, "alpha_issue", verdict.PrimaryIssue, "same priority resolves by confidence")

	// Equal confidence falls through to the detector name.
	lowConf.finding.Confidence = 0.9
	verdict = p.Analyze(context.Background(), testutil.SolidGrayFrame(8, 8, 128))
	assert.Equal(t, "alpha_issue", verdict.PrimaryIssue)
}

func TestAnalyze_Deterministic(t *testing.T) {
	p := defaultPipeline(t, models.LevelStandard)
	frame := testutil.TextureFrame(96, 96, 17)

	a := p.Analyze(context.Background(), frame)
	b := p.Analyze(context.Background(), frame)

	a.ElapsedMS, b.ElapsedMS = 0, 0
	assert.Equal(t, a, b, "repeated analysis of one frame must be identical")
}

func TestAnalyze_FindingOrder(t *testing.T) {
	p := defaultPipeline(t, models.LevelStandard)

	verdict := p.Analyze(context.Background(), testutil.TextureFrame(64, 64, 4))

	var names []string
	for _, f := range verdict.Findings {
		names = append(names, f.Detector)
	}
	assert.Equal(t, []string{
		"signal_loss", "color", "occlusion", "brightness",
		"blur", "noise", "contrast", "stripe",
	}, names)
}
