package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/testutil"
)

func TestBlurDetector(t *testing.T) {
	sharp := testutil.TextureFrame(128, 128, 1)

	tests := []struct {
		name  string
		level models.DetectionLevel
		soft  *models.Frame
	}{
		{"fast", models.LevelFast, testutil.BoxBlur(sharp, 5)},
		{"standard", models.LevelStandard, testutil.BoxBlur(sharp, 5)},
		// The deep blend checks coarser scales too, so only an image
		// with no structure at any scale reads as blurred.
		{"deep", models.LevelDeep, testutil.GradientFrame(128, 128)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := New("blur", Settings{Level: tt.level})
			require.NoError(t, err)

			got, err := det.Detect(sharp)
			require.NoError(t, err)
			assert.False(t, got.IsAbnormal, "sharp texture should pass: score %.1f", got.Score)
			assert.Equal(t, models.SeverityNormal, got.Severity)

			got, err = det.Detect(tt.soft)
			require.NoError(t, err)
			assert.True(t, got.IsAbnormal, "soft frame should fail: score %.1f", got.Score)
			assert.Equal(t, "blur", got.IssueType)
			assert.NotEmpty(t, got.Causes)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestBlurDetector_ScoreDropsWithBlur(t *testing.T) {
	det, err := New("blur", Settings{Level: models.LevelStandard})
	require.NoError(t, err)

	frame := testutil.TextureFrame(96, 96, 7)
	prev, err := det.Detect(frame)
	require.NoError(t, err)
	for _, passes := range []int{1, 3, 6} {
		got, err := det.Detect(testutil.BoxBlur(frame, passes))
		require.NoError(t, err)
		assert.Less(t, got.Score, prev.Score, "score should fall with %d blur passes", passes)
		prev = got
	}
}

func TestBlurDetector_WashedOutStandsDown(t *testing.T) {
	// A solid near-white frame has no texture, but the fault is
	// exposure, not focus.
	det, err := New("blur", Settings{Level: models.LevelStandard})
	require.NoError(t, err)

	got, err := det.Detect(testutil.SolidGrayFrame(64, 64, 250))
	require.NoError(t, err)
	assert.False(t, got.IsAbnormal)
	assert.Equal(t, models.SeverityNormal, got.Severity)

	// The same flatness at mid luminance still reads as blur.
	got, err = det.Detect(testutil.SolidGrayFrame(64, 64, 128))
	require.NoError(t, err)
	assert.True(t, got.IsAbnormal)
}

func TestBlurDetector_CustomThreshold(t *testing.T) {
	det, err := New("blur", Settings{
		Level:      models.LevelFast,
		Thresholds: map[string]float64{"blur_threshold": 1},
	})
	require.NoError(t, err)

	got, err := det.Detect(testutil.BoxBlur(testutil.TextureFrame(64, 64, 2), 6))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Threshold)
}

func TestBlurDetector_DeepEvidence(t *testing.T) {
	det, err := New("blur", Settings{Level: models.LevelDeep})
	require.NoError(t, err)

	got, err := det.Detect(testutil.CheckerboardFrame(64, 64, 8, 30, 220))
	require.NoError(t, err)
	for _, key := range []string{"laplacian_variance", "multiscale_laplacian", "brenner", "tenengrad", "edge_density"} {
		assert.Contains(t, got.Evidence, key)
	}
}
