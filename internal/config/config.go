// Package config provides configuration management for visus using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 5 * time.Minute
	defaultShutdownTimeout = 10 * time.Second

	defaultMaxInputBytes   = 64 * 1024 * 1024 // 64MB
	defaultDetectorTimeout = 2 * time.Second

	defaultSampleInterval = time.Second
	defaultMaxFrames      = 300

	defaultMaxStreams = 16

	defaultTickInterval = 30 * time.Second
	defaultJobTimeout   = time.Hour

	defaultProbeTimeout = 30 * time.Second

	defaultFetchTimeout     = 60 * time.Second
	defaultRetryAttempts    = 3
	defaultRetryDelay       = time.Second
	defaultCircuitThreshold = 5
	defaultCircuitTimeout   = 30 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Detection DetectionConfig `mapstructure:"detection"`
	Video     VideoConfig     `mapstructure:"video"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// StorageConfig holds file storage configuration. Task and execution
// records live under DataDir; reports go wherever each task points.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`

	// ProfilesPath overrides the profiles.yaml location
	// (empty = {data_dir}/profiles.yaml).
	ProfilesPath string `mapstructure:"profiles_path"`

	// WatchProfiles hot-reloads profiles.yaml on change.
	WatchProfiles bool `mapstructure:"watch_profiles"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`

	// RequestLogging logs every HTTP request; when off, only >= 400
	// responses are logged.
	RequestLogging bool `mapstructure:"request_logging"`
}

// DetectionConfig holds still-image diagnosis configuration.
type DetectionConfig struct {
	DefaultProfile string `mapstructure:"default_profile"` // normal, strict, loose, ...
	DefaultLevel   string `mapstructure:"default_level"`   // fast, standard, deep

	// MaxInputBytes caps decoded input size.
	// Supports human-readable values like "64MB" or raw byte counts.
	MaxInputBytes ByteSize `mapstructure:"max_input_bytes"`

	// BatchWorkers bounds batch parallelism (0 = NumCPU).
	BatchWorkers int `mapstructure:"batch_workers"`

	// DetectorTimeout is the per-detector soft deadline.
	DetectorTimeout time.Duration `mapstructure:"detector_timeout"`
}

// VideoConfig holds video diagnosis configuration.
type VideoConfig struct {
	SampleStrategy string        `mapstructure:"sample_strategy"` // interval, scene, hybrid
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	MaxFrames      int           `mapstructure:"max_frames"`
	Workers        int           `mapstructure:"workers"` // 0 = NumCPU capped at 8
}

// StreamConfig holds live stream monitoring configuration.
type StreamConfig struct {
	MaxStreams int `mapstructure:"max_streams"`
}

// SchedulerConfig holds task scheduler configuration.
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Workers      int           `mapstructure:"workers"` // 0 = max(2, NumCPU)
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath   string        `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath    string        `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// FetchConfig holds the HTTP client configuration for remote inputs.
type FetchConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	CircuitThreshold int           `mapstructure:"circuit_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout"`
	UserAgent        string        `mapstructure:"user_agent"` // empty = client default
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VISUS_ and use underscores for nesting.
// Example: VISUS_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("visus")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/visus")
		v.AddConfigPath("$HOME/.visus")
	}

	// Environment variable settings
	v.SetEnvPrefix("VISUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.write_timeout", defaultWriteTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.profiles_path", "")
	v.SetDefault("storage.watch_profiles", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.request_logging", false)

	// Detection defaults
	v.SetDefault("detection.default_profile", "normal")
	v.SetDefault("detection.default_level", "standard")
	v.SetDefault("detection.max_input_bytes", defaultMaxInputBytes)
	v.SetDefault("detection.batch_workers", 0)
	v.SetDefault("detection.detector_timeout", defaultDetectorTimeout)

	// Video defaults
	v.SetDefault("video.sample_strategy", "interval")
	v.SetDefault("video.sample_interval", defaultSampleInterval)
	v.SetDefault("video.max_frames", defaultMaxFrames)
	v.SetDefault("video.workers", 0)

	// Stream defaults
	v.SetDefault("stream.max_streams", defaultMaxStreams)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_interval", defaultTickInterval)
	v.SetDefault("scheduler.workers", 0)
	v.SetDefault("scheduler.job_timeout", defaultJobTimeout)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)

	// Fetch defaults
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.retry_attempts", defaultRetryAttempts)
	v.SetDefault("fetch.retry_delay", defaultRetryDelay)
	v.SetDefault("fetch.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("fetch.circuit_timeout", defaultCircuitTimeout)
	v.SetDefault("fetch.user_agent", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Storage validation
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Detection validation
	validDetectionLevels := map[string]bool{"fast": true, "standard": true, "deep": true}
	if !validDetectionLevels[c.Detection.DefaultLevel] {
		return fmt.Errorf("detection.default_level must be one of: fast, standard, deep")
	}
	if c.Detection.MaxInputBytes < 1 {
		return fmt.Errorf("detection.max_input_bytes must be at least 1")
	}

	// Video validation
	validStrategies := map[string]bool{"interval": true, "scene": true, "hybrid": true}
	if !validStrategies[c.Video.SampleStrategy] {
		return fmt.Errorf("video.sample_strategy must be one of: interval, scene, hybrid")
	}
	if c.Video.SampleInterval <= 0 {
		return fmt.Errorf("video.sample_interval must be positive")
	}
	if c.Video.MaxFrames < 1 {
		return fmt.Errorf("video.max_frames must be at least 1")
	}

	// Stream validation
	const maxStreamCap = 256
	if c.Stream.MaxStreams < 1 || c.Stream.MaxStreams > maxStreamCap {
		return fmt.Errorf("stream.max_streams must be between 1 and %d", maxStreamCap)
	}

	// Scheduler validation
	if c.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("scheduler.tick_interval must be at least 1s")
	}
	if c.Scheduler.JobTimeout < time.Minute {
		return fmt.Errorf("scheduler.job_timeout must be at least 1m")
	}

	// Fetch validation
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProfilesFile returns the effective profiles.yaml path.
// If ProfilesPath is set, returns it directly; otherwise returns
// {DataDir}/profiles.yaml.
func (c *StorageConfig) ProfilesFile() string {
	if c.ProfilesPath != "" {
		return c.ProfilesPath
	}
	return fmt.Sprintf("%s/profiles.yaml", c.DataDir)
}
