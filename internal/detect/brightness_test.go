package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/testutil"
)

func TestBrightnessDetector(t *testing.T) {
	tests := []struct {
		name         string
		frame        *models.Frame
		wantIssue    string
		wantAbnormal bool
		wantSeverity models.Severity
		wantThr      float64
	}{
		{
			name:         "near black",
			frame:        testutil.SolidGrayFrame(64, 64, 2),
			wantIssue:    "under_bright",
			wantAbnormal: true,
			wantSeverity: models.SeverityError,
			wantThr:      20,
		},
		{
			name:         "dim but visible",
			frame:        testutil.SolidGrayFrame(64, 64, 15),
			wantIssue:    "under_bright",
			wantAbnormal: true,
			wantSeverity: models.SeverityInfo,
			wantThr:      20,
		},
		{
			name:         "blown out",
			frame:        testutil.SolidGrayFrame(64, 64, 252),
			wantIssue:    "over_bright",
			wantAbnormal: true,
			wantSeverity: models.SeverityError,
			wantThr:      235,
		},
		{
			name:         "slightly hot",
			frame:        testutil.SolidGrayFrame(64, 64, 240),
			wantIssue:    "over_bright",
			wantAbnormal: true,
			wantSeverity: models.SeverityInfo,
			wantThr:      235,
		},
		{
			name:         "well exposed",
			frame:        testutil.CheckerboardFrame(64, 64, 8, 40, 200),
			wantIssue:    "brightness",
			wantAbnormal: false,
			wantSeverity: models.SeverityNormal,
			wantThr:      20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := New("brightness", Settings{Level: models.LevelStandard})
			require.NoError(t, err)

			got, err := det.Detect(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIssue, got.IssueType)
			assert.Equal(t, tt.wantAbnormal, got.IsAbnormal)
			assert.Equal(t, tt.wantSeverity, got.Severity)
			assert.Equal(t, tt.wantThr, got.Threshold)
			assert.Contains(t, got.Evidence, "mean")
			assert.Contains(t, got.Evidence, "p95")
		})
	}
}

func TestBrightnessDetector_DeepEvidence(t *testing.T) {
	det, err := New("brightness", Settings{Level: models.LevelDeep})
	require.NoError(t, err)

	got, err := det.Detect(testutil.SolidGrayFrame(32, 32, 2))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Evidence["dark_ratio"], 1e-9)
	assert.InDelta(t, 0.0, got.Evidence["bright_ratio"], 1e-9)
	assert.Contains(t, got.Evidence, "entropy")
}

func TestBrightnessDetector_CustomBounds(t *testing.T) {
	det, err := New("brightness", Settings{
		Level:      models.LevelStandard,
		Thresholds: map[string]float64{"brightness_min": 60, "brightness_max": 200},
	})
	require.NoError(t, err)

	got, err := det.Detect(testutil.SolidGrayFrame(32, 32, 50))
	require.NoError(t, err)
	assert.True(t, got.IsAbnormal)
	assert.Equal(t, "under_bright", got.IssueType)
	assert.Equal(t, 60.0, got.Threshold)
}
