package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/profile"
)

// endlessDialer hands every worker its own endless source.
type endlessDialer struct{}

func (endlessDialer) Dial(ctx context.Context, url string) (Source, error) {
	return &endlessSource{}, nil
}

func newTestManager(t *testing.T, d Dialer, maxStreams int) *Manager {
	t.Helper()
	m := NewManager(ManagerConfig{
		Registry:   detect.NewRegistry(),
		Profiles:   profile.NewStore(quietLogger()),
		Dialer:     d,
		MaxStreams: maxStreams,
		Logger:     quietLogger(),
	})
	t.Cleanup(m.Close)
	return m
}

func TestManagerStartAssignsID(t *testing.T) {
	m := newTestManager(t, endlessDialer{}, 4)

	desc, err := m.Start("rtsp://camera.local/stream", "", models.StreamConfig{})
	require.NoError(t, err)
	assert.NotEmpty(t, desc.ID)
	assert.Equal(t, models.StreamRTSP, desc.Kind)
	assert.False(t, desc.Status.Terminal())
	// Zero config fields were normalized.
	assert.Equal(t, models.DefaultSampleInterval, desc.Config.SampleInterval)
	assert.Equal(t, models.DefaultDetectionWindow, desc.Config.DetectionWindow)
	assert.Equal(t, "normal", desc.Config.Profile)
	assert.Equal(t, models.LevelStandard, desc.Config.Level)

	got, err := m.Get(desc.ID)
	require.NoError(t, err)
	assert.Equal(t, desc.ID, got.ID)
}

func TestManagerInfersKindFromScheme(t *testing.T) {
	m := newTestManager(t, endlessDialer{}, 4)

	desc, err := m.Start("rtmp://live.example.com/app/key", "", models.StreamConfig{})
	require.NoError(t, err)
	assert.Equal(t, models.StreamRTMP, desc.Kind)
}

func TestManagerRejectsInvalidURL(t *testing.T) {
	m := newTestManager(t, endlessDialer{}, 4)

	_, err := m.Start("http://example.com/clip.mp4", "", models.StreamConfig{})
	require.Error(t, err)
	assert.Equal(t, models.KindInput, models.KindOf(err))

	_, err = m.Start("", "", models.StreamConfig{})
	require.Error(t, err)
	assert.Equal(t, models.KindInput, models.KindOf(err))
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	m := newTestManager(t, endlessDialer{}, 4)

	cfg := models.StreamConfig{SampleInterval: 0.01}
	_, err := m.Start("rtsp://camera.local/stream", "", cfg)
	require.Error(t, err)
	assert.Equal(t, models.KindInput, models.KindOf(err))
}

func TestManagerUnknownProfile(t *testing.T) {
	m := newTestManager(t, endlessDialer{}, 4)

	cfg := models.StreamConfig{Profile: "bogus"}
	_, err := m.Start("rtsp://camera.local/stream", "", cfg)
	require.Error(t, err)
	assert.Equal(t, models.KindConfig, models.KindOf(err))
}

func TestManagerUnknownDetector(t *testing.T) {
	m := NewManager(ManagerConfig{
		Registry:   detect.Default(),
		Profiles:   profile.NewStore(quietLogger()),
		Dialer:     endlessDialer{},
		MaxStreams: 4,
		Logger:     quietLogger(),
	})
	t.Cleanup(m.Close)

	cfg := models.StreamConfig{Detectors: []string{"nope"}}
	_, err := m.Start("rtsp://camera.local/stream", "", cfg)
	require.Error(t, err)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
	assert.ErrorIs(t, err, models.ErrUnknownDetector)
}

func TestManagerStreamLimit(t *testing.T) {
	m := newTestManager(t, endlessDialer{}, 2)

	first, err := m.Start("rtsp://cam1.local/stream", "", models.StreamConfig{})
	require.NoError(t, err)
	_, err = m.Start("rtsp://cam2.local/stream", "", models.StreamConfig{})
	require.NoError(t, err)

	_, err = m.Start("rtsp://cam3.local/stream", "", models.StreamConfig{})
	require.Error(t, err)
	assert.Equal(t, models.KindConflict, models.KindOf(err))

	// A stopped worker frees its slot.
	_, err = m.Stop(first.ID)
	require.NoError(t, err)
	_, err = m.Start("rtsp://cam3.local/stream", "", models.StreamConfig{})
	require.NoError(t, err)
}

func TestManagerUnknownStream(t *testing.T) {
	m := newTestManager(t, endlessDialer{}, 4)

	_, err := m.Get("missing")
	assert.Equal(t, models.KindNotFound, models.KindOf(err))

	_, err = m.Stop("missing")
	assert.Equal(t, models.KindNotFound, models.KindOf(err))

	_, err = m.Results("missing", 0, time.Time{})
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}

func TestManagerStopKeepsStreamQueryable(t *testing.T) {
	m := newTestManager(t, endlessDialer{}, 4)

	desc, err := m.Start("rtsp://camera.local/stream", "", models.StreamConfig{})
	require.NoError(t, err)

	stopped, err := m.Stop(desc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStopped, stopped.Status)

	got, err := m.Get(desc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStopped, got.Status)

	results, err := m.Results(desc.ID, 0, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, results)

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, desc.ID, list[0].ID)
}

func TestManagerListOrderedByStart(t *testing.T) {
	m := newTestManager(t, endlessDialer{}, 8)

	for i := 0; i < 3; i++ {
		_, err := m.Start("rtsp://camera.local/stream", "", models.StreamConfig{})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	list := m.List()
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].StartedAt.Before(list[i-1].StartedAt))
	}
}

func TestManagerClose(t *testing.T) {
	m := NewManager(ManagerConfig{
		Registry:   detect.NewRegistry(),
		Profiles:   profile.NewStore(quietLogger()),
		Dialer:     endlessDialer{},
		MaxStreams: 4,
		Logger:     quietLogger(),
	})

	a, err := m.Start("rtsp://cam1.local/stream", "", models.StreamConfig{})
	require.NoError(t, err)
	b, err := m.Start("rtsp://cam2.local/stream", "", models.StreamConfig{})
	require.NoError(t, err)

	m.Close()

	for _, id := range []string{a.ID, b.ID} {
		desc, err := m.Get(id)
		require.NoError(t, err)
		assert.True(t, desc.Status.Terminal())
	}
}

func TestManagerDefaultRegistryRunsRealDetectors(t *testing.T) {
	m := NewManager(ManagerConfig{
		Profiles:   profile.NewStore(quietLogger()),
		Dialer:     endlessDialer{},
		MaxStreams: 2,
		Logger:     quietLogger(),
	})
	t.Cleanup(m.Close)

	desc, err := m.Start("rtsp://camera.local/stream", "", models.StreamConfig{})
	require.NoError(t, err)
	assert.NotEmpty(t, desc.ID)
}

func TestManagerResultsAfterDetection(t *testing.T) {
	m := newTestManager(t, endlessDialer{}, 2)

	cfg := models.StreamConfig{SampleInterval: 0.1, DetectionInterval: 1, DetectionWindow: 1}
	desc, err := m.Start("rtsp://camera.local/stream", "", cfg)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		results, err := m.Results(desc.ID, 0, time.Time{})
		return err == nil && len(results) > 0
	}, 10*time.Second, 50*time.Millisecond)

	results, err := m.Results(desc.ID, 1, time.Time{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotNil(t, results[0].Image)
}
