package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/ffmpeg"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/profile"
	"github.com/visus-project/visus/internal/stream"
)

var streamCmd = &cobra.Command{
	Use:   "stream <url>",
	Short: "Monitor a live stream",
	Long: `Connect to an RTSP/RTMP source and print detection results as JSON
lines on stdout until interrupted or --duration elapses.

Exit codes: 0 stopped cleanly; 4 the stream ended in an error state.`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.Flags().String("profile", "", "threshold profile (strict, normal, loose, or custom)")
	streamCmd.Flags().String("level", "", "detection level (fast, standard, deep)")
	streamCmd.Flags().Float64("interval", 0, "seconds between sampled frames")
	streamCmd.Flags().Float64("detection-interval", 0, "seconds between detection rounds")
	streamCmd.Flags().Int("window", 0, "recent frames per detection round (1 disables temporal detectors)")
	streamCmd.Flags().Duration("duration", 0, "stop after this long (0 = until interrupted)")
}

func runStream(cmd *cobra.Command, args []string) error {
	url := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	levelStr, _ := cmd.Flags().GetString("level")
	level, err := models.ParseLevel(levelStr)
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	profileName, _ := cmd.Flags().GetString("profile")
	interval, _ := cmd.Flags().GetFloat64("interval")
	detectionInterval, _ := cmd.Flags().GetFloat64("detection-interval")
	window, _ := cmd.Flags().GetInt("window")
	duration, _ := cmd.Flags().GetDuration("duration")

	if cfg.FFmpeg.BinaryPath != "" {
		os.Setenv("VISUS_FFMPEG_BINARY", cfg.FFmpeg.BinaryPath)
	}
	if cfg.FFmpeg.ProbePath != "" {
		os.Setenv("VISUS_FFPROBE_BINARY", cfg.FFmpeg.ProbePath)
	}

	profiles := profile.NewStore(slog.Default())
	if path := cfg.Storage.ProfilesFile(); path != "" {
		_ = profiles.LoadFile(path)
	}

	opener := ffmpeg.NewOpener(ffmpeg.NewBinaryDetector()).
		WithProbeTimeout(cfg.FFmpeg.ProbeTimeout)

	manager := stream.NewManager(stream.ManagerConfig{
		Registry:   detect.Default(),
		Profiles:   profiles,
		Dialer:     stream.OpenerDialer{Opener: opener},
		MaxStreams: 1,
		Logger:     slog.Default(),
	})
	defer manager.Close()

	desc, err := manager.Start(url, "", models.StreamConfig{
		SampleInterval:    interval,
		DetectionInterval: detectionInterval,
		DetectionWindow:   window,
		Profile:           profileName,
		Level:             level,
	})
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	fmt.Fprintln(os.Stderr, "monitoring", desc.URL, "as stream", desc.ID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var deadline <-chan time.Time
	if duration > 0 {
		deadline = time.After(duration)
	}

	enc := json.NewEncoder(os.Stdout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastSeen := time.Time{}
	done := false
	for !done {
		select {
		case <-sigChan:
			done = true
		case <-deadline:
			done = true
		case <-ticker.C:
			results, err := manager.Results(desc.ID, 0, lastSeen)
			if err != nil {
				return exitErr(exitUnexpected, err)
			}
			for _, r := range results {
				if err := enc.Encode(r); err != nil {
					return exitErr(exitUnexpected, err)
				}
				if r.CompletedAt.After(lastSeen) {
					lastSeen = r.CompletedAt
				}
			}

			current, err := manager.Get(desc.ID)
			if err != nil {
				return exitErr(exitUnexpected, err)
			}
			if current.Status.Terminal() {
				done = true
			}
		}
	}

	final, err := manager.Stop(desc.ID)
	if err != nil {
		return exitErr(exitUnexpected, err)
	}
	if final.Status == models.StreamError {
		return exitErr(exitAllFailed, fmt.Errorf("stream ended in error: %s", final.LastError))
	}
	return nil
}
