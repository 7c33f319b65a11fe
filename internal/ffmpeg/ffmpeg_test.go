package ffmpeg

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visus-project/visus/internal/models"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoFFprobe skips the test if ffprobe is not installed.
func skipIfNoFFprobe(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
}

func TestBinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	ctx := context.Background()
	detector := NewBinaryDetector()

	info, err := detector.Detect(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.FFprobePath)
	assert.True(t, info.HasProber())
	assert.NotEmpty(t, info.Version)
	assert.Greater(t, info.MajorVersion, 0)
}

func TestBinaryDetector_Caching(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	detector := NewBinaryDetector().WithCacheTTL(1 * time.Hour)

	info1, err := detector.Detect(ctx)
	require.NoError(t, err)

	// Second detection should return the cached result
	info2, err := detector.Detect(ctx)
	require.NoError(t, err)

	assert.Equal(t, info1.FFmpegPath, info2.FFmpegPath)
	assert.Equal(t, info1.Version, info2.Version)
}

func TestBinaryDetector_Clear(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	detector := NewBinaryDetector().WithCacheTTL(1 * time.Hour)

	_, err := detector.Detect(ctx)
	require.NoError(t, err)

	detector.Clear()

	info, err := detector.Detect(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info.FFmpegPath)
}

func TestParseVersionOutput(t *testing.T) {
	output := []byte(`ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers
built with gcc 13 (GCC)
configuration: --prefix=/usr --enable-gpl
`)

	info, err := parseVersionOutput(output)
	require.NoError(t, err)
	assert.Equal(t, "6.1.1", info.Full)
	assert.Equal(t, 6, info.Major)
	assert.Equal(t, 1, info.Minor)
	assert.Equal(t, "gcc 13 (GCC)", info.BuildDate)
	assert.Equal(t, "--prefix=/usr --enable-gpl", info.Configuration)
}

func TestParseVersionOutput_GitBuild(t *testing.T) {
	output := []byte("ffmpeg version n7.0-2-gabcdef Copyright (c) 2000-2024\n")

	info, err := parseVersionOutput(output)
	require.NoError(t, err)
	assert.Equal(t, "n7.0-2-gabcdef", info.Full)
	assert.Equal(t, 7, info.Major)
	assert.Equal(t, 0, info.Minor)
}

func TestParseVersionOutput_Garbage(t *testing.T) {
	_, err := parseVersionOutput([]byte("not ffmpeg output"))
	assert.Error(t, err)
}

func TestParseDecodersOutput(t *testing.T) {
	output := []byte(`Decoders:
 V..... = Video
 A..... = Audio
 ------
 V....D h264                 H.264 / AVC / MPEG-4 AVC
 V....D hevc                 H.265 / HEVC
 A....D aac                  AAC (Advanced Audio Coding)
`)

	decoders := parseDecodersOutput(output)
	assert.Contains(t, decoders, "h264")
	assert.Contains(t, decoders, "hevc")
	assert.Contains(t, decoders, "aac")
}

func TestBinaryInfo_HasDecoder(t *testing.T) {
	info := &BinaryInfo{Decoders: []string{"h264", "hevc"}}

	assert.True(t, info.HasDecoder("h264"))
	assert.False(t, info.HasDecoder("av1"))
}

func TestBinaryInfo_SupportsMinVersion(t *testing.T) {
	info := &BinaryInfo{MajorVersion: 6, MinorVersion: 1}

	assert.True(t, info.SupportsMinVersion(5, 0))
	assert.True(t, info.SupportsMinVersion(6, 0))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func TestBinaryInfo_JSON(t *testing.T) {
	info := &BinaryInfo{FFmpegPath: "/usr/bin/ffmpeg", Version: "6.1.1"}

	out := info.JSON()
	assert.Contains(t, out, `"ffmpeg_path": "/usr/bin/ffmpeg"`)
	assert.Contains(t, out, `"version": "6.1.1"`)
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"30/1", 30.0},
		{"25/1", 25.0},
		{"30000/1001", 29.97002997002997},
		{"24000/1001", 23.976023976023978},
		{"60", 60.0},
		{"invalid", 0},
		{"0/0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseFramerate(tt.input)
			if tt.expected == 0 {
				assert.Equal(t, float64(0), result)
			} else {
				assert.InDelta(t, tt.expected, result, 0.001)
			}
		})
	}
}

func TestProbeStream_Framerate(t *testing.T) {
	stream := &ProbeStream{
		AvgFrameRate: "30000/1001",
		RFrameRate:   "30/1",
	}
	assert.InDelta(t, 29.97, stream.Framerate(), 0.01)

	// Live sources often report avg_frame_rate as 0/0; the real rate
	// then comes from r_frame_rate.
	liveStream := &ProbeStream{
		AvgFrameRate: "0/0",
		RFrameRate:   "25/1",
	}
	assert.InDelta(t, 25.0, liveStream.Framerate(), 0.01)
}

func TestProbeResult_GetVideoStream(t *testing.T) {
	result := &ProbeResult{
		Streams: []ProbeStream{
			{Index: 0, CodecType: "audio", CodecName: "aac"},
			{Index: 1, CodecType: "video", CodecName: "h264"},
			{Index: 2, CodecType: "video", CodecName: "mjpeg"},
		},
	}

	video := result.GetVideoStream()
	require.NotNil(t, video)
	assert.Equal(t, "h264", video.CodecName)
	assert.Equal(t, 1, video.Index)
}

func TestProbeResult_GetVideoStream_PrefersDefault(t *testing.T) {
	result := &ProbeResult{
		Streams: []ProbeStream{
			{Index: 0, CodecType: "video", CodecName: "mjpeg"},
			{Index: 1, CodecType: "video", CodecName: "h264", Disposition: ProbeDisposition{Default: 1}},
		},
	}

	video := result.GetVideoStream()
	require.NotNil(t, video)
	assert.Equal(t, "h264", video.CodecName)
}

func TestProbeResult_GetVideoStream_NoVideo(t *testing.T) {
	result := &ProbeResult{
		Streams: []ProbeStream{
			{Index: 0, CodecType: "audio", CodecName: "mp3"},
		},
	}

	assert.Nil(t, result.GetVideoStream())
}

func TestProbeResult_Duration(t *testing.T) {
	result := &ProbeResult{Format: ProbeFormat{Duration: "123.456"}}
	assert.InDelta(t, 123.456, result.Duration(), 0.001)

	emptyResult := &ProbeResult{}
	assert.Equal(t, float64(0), emptyResult.Duration())
}

func TestVideoMetadata_Mapping(t *testing.T) {
	result := &ProbeResult{
		Format: ProbeFormat{Duration: "10.5"},
		Streams: []ProbeStream{
			{
				Index:        0,
				CodecType:    "video",
				CodecName:    "h264",
				Width:        1920,
				Height:       1080,
				AvgFrameRate: "25/1",
				NbFrames:     "262",
			},
		},
	}

	meta, err := videoMetadata(result, "/data/clip.mp4")
	require.NoError(t, err)

	assert.Equal(t, "/data/clip.mp4", meta.Path)
	assert.Equal(t, 1920, meta.Width)
	assert.Equal(t, 1080, meta.Height)
	assert.InDelta(t, 25.0, meta.FPS, 0.001)
	assert.InDelta(t, 10.5, meta.Duration, 0.001)
	assert.Equal(t, int64(262), meta.TotalFrames)
	assert.Equal(t, "h264", meta.Codec)
}

func TestVideoMetadata_DerivesTotalFrames(t *testing.T) {
	result := &ProbeResult{
		Format: ProbeFormat{Duration: "4.0"},
		Streams: []ProbeStream{
			{CodecType: "video", CodecName: "h264", Width: 640, Height: 360, AvgFrameRate: "30/1"},
		},
	}

	meta, err := videoMetadata(result, "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(120), meta.TotalFrames)
}

func TestVideoMetadata_PrefersStreamDuration(t *testing.T) {
	result := &ProbeResult{
		Format: ProbeFormat{Duration: "10.0"},
		Streams: []ProbeStream{
			{CodecType: "video", CodecName: "h264", Width: 640, Height: 360, AvgFrameRate: "25/1", Duration: "9.96"},
		},
	}

	meta, err := videoMetadata(result, "clip.mp4")
	require.NoError(t, err)
	assert.InDelta(t, 9.96, meta.Duration, 0.001)
}

func TestVideoMetadata_NoVideoStream(t *testing.T) {
	result := &ProbeResult{
		Streams: []ProbeStream{{CodecType: "audio", CodecName: "mp3"}},
	}

	_, err := videoMetadata(result, "song.mp3")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUnsupportedFormat))
}

func TestVideoMetadata_NoGeometry(t *testing.T) {
	result := &ProbeResult{
		Streams: []ProbeStream{{CodecType: "video", CodecName: "h264"}},
	}

	_, err := videoMetadata(result, "clip.mp4")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUnsupportedFormat))
}

func TestProber_RequiresBinary(t *testing.T) {
	prober := NewProber("")
	_, err := prober.Probe(context.Background(), "clip.mp4")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfig))
}

func TestBuildDecodeArgs_LocalFile(t *testing.T) {
	args := buildDecodeArgs("/data/clip.mp4")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i /data/clip.mp4")
	assert.Contains(t, joined, "-f rawvideo")
	assert.Contains(t, joined, "-pix_fmt bgr24")
	assert.Contains(t, joined, "-nostdin")
	assert.NotContains(t, joined, "-rtsp_transport")
	assert.NotContains(t, joined, "-reconnect")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestBuildDecodeArgs_RTSP(t *testing.T) {
	args := buildDecodeArgs("rtsp://camera.local:554/stream")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-rtsp_transport tcp")
	// Transport options must precede the input they apply to
	assert.Less(t,
		strings.Index(joined, "-rtsp_transport"),
		strings.Index(joined, "-i "))
}

func TestBuildDecodeArgs_HTTP(t *testing.T) {
	args := buildDecodeArgs("https://example.com/clip.mp4")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-reconnect 1")
	assert.Contains(t, joined, "-reconnect_streamed 1")
	assert.NotContains(t, joined, "-rtsp_transport")
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}

	_, err := tb.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = tb.Write([]byte("world"))
	require.NoError(t, err)

	// Only the last 8 bytes survive
	assert.Equal(t, "lo world", tb.String())
}

func TestTailBuffer_TrimsWhitespace(t *testing.T) {
	tb := &tailBuffer{max: 64}
	_, _ = tb.Write([]byte("error line\n"))
	assert.Equal(t, "error line", tb.String())
}

func TestOpener_RejectsEmptyInput(t *testing.T) {
	opener := NewOpener(NewBinaryDetector())
	_, err := opener.Open(context.Background(), "")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInput))
}

func TestOpener_MissingLocalFile(t *testing.T) {
	opener := NewOpener(NewBinaryDetector())
	_, err := opener.Open(context.Background(), "/nonexistent/path/clip.mp4")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindSourceUnavailable))
}

func TestOpenReader_RejectsMissingGeometry(t *testing.T) {
	_, err := OpenReader(context.Background(), "ffmpeg", "clip.mp4", models.VideoMetadata{})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUnsupportedFormat))
}

// makeTestClip renders a short synthetic clip with ffmpeg.
func makeTestClip(t *testing.T, ffmpegPath string) string {
	t.Helper()

	path := t.TempDir() + "/clip.mp4"
	cmd := exec.Command(ffmpegPath,
		"-f", "lavfi",
		"-i", "testsrc=duration=2:size=320x240:rate=10",
		"-pix_fmt", "yuv420p",
		"-y", path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not create test clip: %v: %s", err, out)
	}
	return path
}

func TestIntegration_ProbeVideo(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	clip := makeTestClip(t, ffmpegPath)

	detector := NewBinaryDetector()
	info, err := detector.Detect(context.Background())
	require.NoError(t, err)

	meta, err := NewProber(info.FFprobePath).ProbeVideo(context.Background(), clip)
	require.NoError(t, err)

	assert.Equal(t, 320, meta.Width)
	assert.Equal(t, 240, meta.Height)
	assert.InDelta(t, 10.0, meta.FPS, 0.5)
	assert.InDelta(t, 2.0, meta.Duration, 0.5)
}

func TestIntegration_ReaderDecodesFrames(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	clip := makeTestClip(t, ffmpegPath)

	opener := NewOpener(NewBinaryDetector())
	reader, err := opener.Open(context.Background(), clip)
	require.NoError(t, err)
	defer reader.Close()

	ctx := context.Background()
	var frames int
	var lastTS float64
	for {
		frame, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		assert.Equal(t, 320, frame.Width)
		assert.Equal(t, 240, frame.Height)
		assert.Equal(t, 3, frame.Channels)
		assert.Len(t, frame.Pix, 320*240*3)
		if frames > 0 {
			assert.Greater(t, frame.Timestamp, lastTS)
		}
		lastTS = frame.Timestamp
		frames++
	}

	// 2 seconds at 10 fps
	assert.InDelta(t, 20, frames, 3)
}

func TestIntegration_ReaderCloseMidStream(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	clip := makeTestClip(t, ffmpegPath)

	opener := NewOpener(NewBinaryDetector())
	reader, err := opener.Open(context.Background(), clip)
	require.NoError(t, err)

	_, err = reader.Next(context.Background())
	require.NoError(t, err)

	require.NoError(t, reader.Close())
	require.NoError(t, reader.Close())
}
