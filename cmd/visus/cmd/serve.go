package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/ffmpeg"
	internalhttp "github.com/visus-project/visus/internal/http"
	"github.com/visus-project/visus/internal/http/handlers"
	"github.com/visus-project/visus/internal/httpclient"
	"github.com/visus-project/visus/internal/observability"
	"github.com/visus-project/visus/internal/profile"
	"github.com/visus-project/visus/internal/scheduler"
	"github.com/visus-project/visus/internal/service"
	"github.com/visus-project/visus/internal/store"
	"github.com/visus-project/visus/internal/stream"
	"github.com/visus-project/visus/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the visus server",
	Long: `Start the visus HTTP server and API.

The server provides:
- REST API for image, batch, and video diagnosis
- Live RTSP/RTMP stream monitoring
- Cron-scheduled batch tasks with execution history
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("data-dir", "./data", "Data directory for tasks and executions")
	serveCmd.Flags().Bool("scheduler", true, "Enable the cron scheduler")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	// CLI flags override config/env only when explicitly set.
	if f := cmd.Flags(); f.Changed("host") {
		cfg.Server.Host, _ = f.GetString("host")
	}
	if f := cmd.Flags(); f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if f := cmd.Flags(); f.Changed("data-dir") {
		cfg.Storage.DataDir, _ = f.GetString("data-dir")
	}
	if f := cmd.Flags(); f.Changed("scheduler") {
		cfg.Scheduler.Enabled, _ = f.GetBool("scheduler")
	}

	logger := slog.Default()

	// ffmpeg discovery honors explicit paths via the env vars the
	// detector already reads.
	if cfg.FFmpeg.BinaryPath != "" {
		os.Setenv("VISUS_FFMPEG_BINARY", cfg.FFmpeg.BinaryPath)
	}
	if cfg.FFmpeg.ProbePath != "" {
		os.Setenv("VISUS_FFPROBE_BINARY", cfg.FFmpeg.ProbePath)
	}

	registry := detect.Default()

	profiles := profile.NewStore(observability.WithComponent(logger, "profiles"))
	if path := cfg.Storage.ProfilesFile(); path != "" {
		if err := profiles.LoadFile(path); err != nil {
			logger.Warn("profiles file not loaded, using builtins",
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else if cfg.Storage.WatchProfiles {
			if err := profiles.Watch(); err != nil {
				logger.Warn("profile hot reload unavailable",
					slog.String("error", err.Error()))
			}
		}
	}
	defer profiles.Close()

	fetchCfg := httpclient.DefaultConfig()
	fetchCfg.Timeout = cfg.Fetch.Timeout
	fetchCfg.RetryAttempts = cfg.Fetch.RetryAttempts
	fetchCfg.RetryDelay = cfg.Fetch.RetryDelay
	fetchCfg.CircuitThreshold = cfg.Fetch.CircuitThreshold
	fetchCfg.CircuitTimeout = cfg.Fetch.CircuitTimeout
	if cfg.Fetch.UserAgent != "" {
		fetchCfg.UserAgent = cfg.Fetch.UserAgent
	}
	fetchCfg.Logger = observability.WithComponent(logger, "fetch")

	resolver := service.NewInputResolver().
		WithFetcher(fetchCfg).
		WithMaxBytes(cfg.Detection.MaxInputBytes.Bytes())

	diagnosis := service.NewDiagnosisService(registry, profiles).
		WithLogger(logger).
		WithResolver(resolver).
		WithWorkers(cfg.Detection.BatchWorkers)

	detector := ffmpeg.NewBinaryDetector()
	opener := ffmpeg.NewOpener(detector).
		WithProbeTimeout(cfg.FFmpeg.ProbeTimeout)

	videoSvc := service.NewVideoService(opener, registry, profiles).
		WithLogger(logger)

	st, err := store.New(cfg.Storage.DataDir, observability.WithComponent(logger, "store"))
	if err != nil {
		return exitErr(exitUnexpected, err)
	}

	runner := service.NewTaskRunner(diagnosis, videoSvc).
		WithLogger(logger)

	sched := scheduler.NewScheduler(st, runner).
		WithLogger(observability.WithComponent(logger, "scheduler")).
		WithConfig(scheduler.Config{
			TickInterval: cfg.Scheduler.TickInterval,
			Workers:      cfg.Scheduler.Workers,
			JobTimeout:   cfg.Scheduler.JobTimeout,
		})

	tasks := service.NewTaskService(st, sched).WithLogger(logger)

	streams := stream.NewManager(stream.ManagerConfig{
		Registry:   registry,
		Profiles:   profiles,
		Dialer:     stream.OpenerDialer{Opener: opener},
		MaxStreams: cfg.Stream.MaxStreams,
		Logger:     observability.WithComponent(logger, "stream"),
	})
	defer streams.Close()

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithStreamManager(streams)
	if cfg.Scheduler.Enabled {
		healthHandler = healthHandler.WithScheduler(sched)
	}
	healthHandler.Register(server.API())

	handlers.NewSystemHandler(detector).Register(server.API())
	handlers.NewDetectorHandler(registry, profiles).Register(server.API())
	handlers.NewDiagnoseHandler(diagnosis, videoSvc).Register(server.API())
	handlers.NewStreamHandler(streams).Register(server.API())
	handlers.NewTaskHandler(tasks).Register(server.API())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return exitErr(exitUnexpected, err)
		}
		defer sched.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting visus server",
		slog.String("address", cfg.Server.Address()),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.Bool("scheduler", cfg.Scheduler.Enabled),
		slog.String("version", version.Version),
	)

	if err := server.ListenAndServe(ctx); err != nil {
		return exitErr(exitUnexpected, err)
	}
	return nil
}
