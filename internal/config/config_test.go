package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8080},
		Storage: StorageConfig{DataDir: "./data"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Detection: DetectionConfig{
			DefaultProfile: "normal",
			DefaultLevel:   "standard",
			MaxInputBytes:  defaultMaxInputBytes,
		},
		Video: VideoConfig{
			SampleStrategy: "interval",
			SampleInterval: time.Second,
			MaxFrames:      300,
		},
		Stream: StreamConfig{MaxStreams: 16},
		Scheduler: SchedulerConfig{
			TickInterval: 30 * time.Second,
			JobTimeout:   time.Hour,
		},
		Fetch: FetchConfig{Timeout: 60 * time.Second},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)

	// Storage defaults
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.True(t, cfg.Storage.WatchProfiles)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Logging.RequestLogging)

	// Detection defaults
	assert.Equal(t, "normal", cfg.Detection.DefaultProfile)
	assert.Equal(t, "standard", cfg.Detection.DefaultLevel)
	assert.Equal(t, int64(64*1024*1024), cfg.Detection.MaxInputBytes.Bytes())
	assert.Equal(t, 2*time.Second, cfg.Detection.DetectorTimeout)

	// Video defaults
	assert.Equal(t, "interval", cfg.Video.SampleStrategy)
	assert.Equal(t, time.Second, cfg.Video.SampleInterval)
	assert.Equal(t, 300, cfg.Video.MaxFrames)

	// Stream defaults
	assert.Equal(t, 16, cfg.Stream.MaxStreams)

	// Scheduler defaults
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, time.Hour, cfg.Scheduler.JobTimeout)

	// FFmpeg defaults
	assert.Empty(t, cfg.FFmpeg.BinaryPath)
	assert.Equal(t, 30*time.Second, cfg.FFmpeg.ProbeTimeout)

	// Fetch defaults
	assert.Equal(t, 60*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 3, cfg.Fetch.RetryAttempts)
}

func TestLoad_FromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "visus.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: 60s

storage:
  data_dir: "/var/lib/visus"
  profiles_path: "/etc/visus/profiles.yaml"

logging:
  level: "debug"
  format: "text"

detection:
  default_profile: "strict"
  default_level: "deep"
  batch_workers: 4

video:
  sample_strategy: "hybrid"
  sample_interval: 500ms
  max_frames: 100

stream:
  max_streams: 4

scheduler:
  enabled: false
  tick_interval: 10s
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check file values were loaded
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/var/lib/visus", cfg.Storage.DataDir)
	assert.Equal(t, "/etc/visus/profiles.yaml", cfg.Storage.ProfilesPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "strict", cfg.Detection.DefaultProfile)
	assert.Equal(t, "deep", cfg.Detection.DefaultLevel)
	assert.Equal(t, 4, cfg.Detection.BatchWorkers)
	assert.Equal(t, "hybrid", cfg.Video.SampleStrategy)
	assert.Equal(t, 500*time.Millisecond, cfg.Video.SampleInterval)
	assert.Equal(t, 100, cfg.Video.MaxFrames)
	assert.Equal(t, 4, cfg.Stream.MaxStreams)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.TickInterval)
}

func TestLoad_EnvOverride(t *testing.T) {
	// Set environment variables
	t.Setenv("VISUS_SERVER_PORT", "3000")
	t.Setenv("VISUS_STORAGE_DATA_DIR", "/srv/visus")
	t.Setenv("VISUS_LOGGING_LEVEL", "warn")
	t.Setenv("VISUS_DETECTION_DEFAULT_LEVEL", "fast")
	t.Setenv("VISUS_STREAM_MAX_STREAMS", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check env overrides
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/srv/visus", cfg.Storage.DataDir)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "fast", cfg.Detection.DefaultLevel)
	assert.Equal(t, 2, cfg.Stream.MaxStreams)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "visus.yaml")

	configContent := `
server:
  port: 8080
storage:
  data_dir: "/var/lib/visus"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	// Set env var to override file
	t.Setenv("VISUS_SERVER_PORT", "9000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Env should override file
	assert.Equal(t, 9000, cfg.Server.Port)
	// File value should be preserved
	assert.Equal(t, "/var/lib/visus", cfg.Storage.DataDir)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validTestConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Server.Port = tt.port
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestValidate_EmptyDataDir(t *testing.T) {
	cfg := validTestConfig()
	cfg.Storage.DataDir = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "storage.data_dir")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "invalid"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_WarningLevelAlias(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "warning"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_TraceLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "trace"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_DetectionConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"invalid level", func(c *Config) { c.Detection.DefaultLevel = "thorough" }, "default_level"},
		{"zero max input bytes", func(c *Config) { c.Detection.MaxInputBytes = 0 }, "max_input_bytes"},
		{"negative max input bytes", func(c *Config) { c.Detection.MaxInputBytes = -1 }, "max_input_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_VideoConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"invalid strategy", func(c *Config) { c.Video.SampleStrategy = "sideways" }, "sample_strategy"},
		{"zero sample interval", func(c *Config) { c.Video.SampleInterval = 0 }, "sample_interval"},
		{"zero max frames", func(c *Config) { c.Video.MaxFrames = 0 }, "max_frames"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_StreamConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"zero max streams", func(c *Config) { c.Stream.MaxStreams = 0 }, "max_streams"},
		{"negative max streams", func(c *Config) { c.Stream.MaxStreams = -1 }, "max_streams"},
		{"too high max streams", func(c *Config) { c.Stream.MaxStreams = 257 }, "max_streams"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_SchedulerConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"tick too small", func(c *Config) { c.Scheduler.TickInterval = 100 * time.Millisecond }, "tick_interval"},
		{"job timeout too small", func(c *Config) { c.Scheduler.JobTimeout = 30 * time.Second }, "job_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_FetchConfig(t *testing.T) {
	cfg := validTestConfig()
	cfg.Fetch.Timeout = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fetch.timeout")
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"localhost", "127.0.0.1", 8080, "127.0.0.1:8080"},
		{"all interfaces", "0.0.0.0", 3000, "0.0.0.0:3000"},
		{"hostname", "example.com", 443, "example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestStorageConfig_ProfilesFile(t *testing.T) {
	cfg := &StorageConfig{DataDir: "/var/lib/visus"}
	assert.Equal(t, "/var/lib/visus/profiles.yaml", cfg.ProfilesFile())

	cfg.ProfilesPath = "/etc/visus/profiles.yaml"
	assert.Equal(t, "/etc/visus/profiles.yaml", cfg.ProfilesFile())
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	// Create an invalid YAML file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "visus.yaml")

	invalidContent := `
server:
  port: "not a number"
  invalid yaml structure
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	// Specifying a non-existent file should fail
	_, err := Load("/nonexistent/path/visus.yaml")
	assert.Error(t, err)
}

func TestConfig_AllLevels(t *testing.T) {
	levels := []string{"fast", "standard", "deep"}

	for _, level := range levels {
		t.Run(level, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Detection.DefaultLevel = level
			err := cfg.Validate()
			assert.NoError(t, err)
		})
	}
}
