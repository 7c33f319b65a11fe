package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/ffmpeg"
	"github.com/visus-project/visus/internal/profile"
	"github.com/visus-project/visus/internal/service"
)

var videoCmd = &cobra.Command{
	Use:   "video <path|url>",
	Short: "Diagnose a video",
	Long: `Sample a video, run the per-frame and temporal detectors, and print
the verdict as JSON on stdout.

Requires ffmpeg and ffprobe on PATH (or VISUS_FFMPEG_BINARY /
VISUS_FFPROBE_BINARY).

Exit codes: 0 verdict produced; 3 input not found; 4 diagnosis failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runVideo,
}

func init() {
	rootCmd.AddCommand(videoCmd)
	addDiagnoseFlags(videoCmd.Flags())

	videoCmd.Flags().String("strategy", "", "sampling strategy (interval, scene, hybrid)")
	videoCmd.Flags().Float64("interval", 0, "seconds between sampled frames")
	videoCmd.Flags().Int("max-frames", 0, "cap on sampled frames")
	videoCmd.Flags().Bool("frames", false, "include per-frame verdicts in the output")
}

func runVideo(cmd *cobra.Command, args []string) error {
	source := args[0]

	opts, err := diagnoseOptionsFromFlags(cmd.Flags())
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	if !isRemote(source) {
		if _, err := os.Stat(source); err != nil {
			return exitErr(exitNotFound, fmt.Errorf("input not found: %s", source))
		}
	}

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

	videoSvc := service.NewVideoService(opener, detect.Default(), profiles)

	strategy, _ := cmd.Flags().GetString("strategy")
	interval, _ := cmd.Flags().GetFloat64("interval")
	maxFrames, _ := cmd.Flags().GetInt("max-frames")
	includeFrames, _ := cmd.Flags().GetBool("frames")

	if strategy == "" {
		strategy = cfg.Video.SampleStrategy
	}
	if interval <= 0 {
		interval = cfg.Video.SampleInterval.Seconds()
	}
	if maxFrames <= 0 {
		maxFrames = cfg.Video.MaxFrames
	}

	verdict, err := videoSvc.Diagnose(cmd.Context(), service.VideoRequest{
		Source:         source,
		Options:        opts,
		Strategy:       strategy,
		SampleInterval: interval,
		MaxFrames:      maxFrames,
		IncludeFrames:  includeFrames,
		Workers:        cfg.Video.Workers,
	})
	if err != nil {
		return exitErr(exitAllFailed, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(verdict); err != nil {
		return exitErr(exitUnexpected, err)
	}
	return nil
}
