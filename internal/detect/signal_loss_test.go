package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/testutil"
)

func TestSignalLossDetector(t *testing.T) {
	tests := []struct {
		name         string
		frame        *models.Frame
		wantIssue    string
		wantAbnormal bool
		wantSeverity models.Severity
	}{
		{
			name:         "pitch black",
			frame:        testutil.SolidGrayFrame(64, 64, 0),
			wantIssue:    "black_screen",
			wantAbnormal: true,
			wantSeverity: models.SeverityError,
		},
		{
			name:         "almost black",
			frame:        testutil.SolidGrayFrame(64, 64, 8),
			wantIssue:    "black_screen",
			wantAbnormal: true,
			wantSeverity: models.SeverityWarning,
		},
		{
			name:         "white out",
			frame:        testutil.SolidGrayFrame(64, 64, 255),
			wantIssue:    "white_screen",
			wantAbnormal: true,
			wantSeverity: models.SeverityWarning,
		},
		{
			name:         "frozen fill color",
			frame:        testutil.SolidGrayFrame(64, 64, 128),
			wantIssue:    "solid_color",
			wantAbnormal: true,
			wantSeverity: models.SeverityWarning,
		},
		{
			// Flat and bright but short of the white floor: an
			// exposure fault for brightness, not a loss state.
			name:         "washed out flat",
			frame:        testutil.SolidGrayFrame(64, 64, 245),
			wantIssue:    "signal_loss",
			wantAbnormal: false,
			wantSeverity: models.SeverityNormal,
		},
		{
			name:         "live scene",
			frame:        testutil.TextureFrame(64, 64, 9),
			wantIssue:    "signal_loss",
			wantAbnormal: false,
			wantSeverity: models.SeverityNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := New("signal_loss", Settings{Level: models.LevelStandard})
			require.NoError(t, err)

			got, err := det.Detect(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIssue, got.IssueType)
			assert.Equal(t, tt.wantAbnormal, got.IsAbnormal)
			assert.Equal(t, tt.wantSeverity, got.Severity)
		})
	}
}

func TestSignalLossDetector_BlackBeatsSolid(t *testing.T) {
	// A black frame is also a solid frame; the black classification must
	// win because it names the likelier fault.
	det, err := New("signal_loss", Settings{Level: models.LevelStandard})
	require.NoError(t, err)

	got, err := det.Detect(testutil.SolidGrayFrame(32, 32, 4))
	require.NoError(t, err)
	assert.Equal(t, "black_screen", got.IssueType)
}

func TestSignalLossDetector_StricterProfileThreshold(t *testing.T) {
	det, err := New("signal_loss", Settings{
		Level:      models.LevelStandard,
		Thresholds: map[string]float64{"black_screen_threshold": 15},
	})
	require.NoError(t, err)

	got, err := det.Detect(testutil.SolidGrayFrame(32, 32, 12))
	require.NoError(t, err)
	assert.True(t, got.IsAbnormal)
	assert.Equal(t, "black_screen", got.IssueType)
	assert.Equal(t, 15.0, got.Threshold)
}

func TestSignalLossDetector_DeepEvidence(t *testing.T) {
	det, err := New("signal_loss", Settings{Level: models.LevelDeep})
	require.NoError(t, err)

	got, err := det.Detect(testutil.SolidFrame(32, 32, 40, 40, 200))
	require.NoError(t, err)
	assert.Contains(t, got.Evidence, "edge_ratio")
	assert.InDelta(t, 40.0, got.Evidence["b_mean"], 0.5)
	assert.InDelta(t, 200.0, got.Evidence["r_mean"], 0.5)
}
