package detect

import (
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/testutil"
)

// writeBaselinePNG renders the same left-to-right ramp GradientFrame
// produces and stores it as a PNG reference.
func writeBaselinePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = uint8(x * 255 / (w - 1))
		}
	}
	path := filepath.Join(t.TempDir(), "baseline.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestBaselineDetector(t *testing.T) {
	path := writeBaselinePNG(t, 64, 64)
	det, err := New("baseline_compare", Settings{
		Level:   models.LevelStandard,
		Options: map[string]string{"baseline_path": path},
	})
	require.NoError(t, err)

	t.Run("matching frame passes", func(t *testing.T) {
		got, err := det.Detect(testutil.GradientFrame(64, 64))
		require.NoError(t, err)
		assert.False(t, got.IsAbnormal, "similarity %.3f", got.Score)
		assert.Greater(t, got.Score, 0.9)
	})

	t.Run("changed scene fails", func(t *testing.T) {
		got, err := det.Detect(testutil.SolidGrayFrame(64, 64, 0))
		require.NoError(t, err)
		assert.True(t, got.IsAbnormal, "similarity %.3f", got.Score)
		assert.Equal(t, "baseline_mismatch", got.IssueType)
	})

	t.Run("different resolution still compares", func(t *testing.T) {
		got, err := det.Detect(testutil.GradientFrame(128, 96))
		require.NoError(t, err)
		assert.False(t, got.IsAbnormal, "similarity %.3f", got.Score)
	})
}

func TestBaselineDetector_Construction(t *testing.T) {
	t.Run("missing option", func(t *testing.T) {
		_, err := New("baseline_compare", Settings{Level: models.LevelStandard})
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrDetectorConstruction))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := New("baseline_compare", Settings{
			Level:   models.LevelStandard,
			Options: map[string]string{"baseline_path": filepath.Join(t.TempDir(), "gone.png")},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrDetectorConstruction))
	})
}
