// Package cmd implements the CLI commands for visus.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/visus-project/visus/internal/config"
	"github.com/visus-project/visus/internal/observability"
	"github.com/visus-project/visus/internal/version"
)

// Process exit codes. One-shot commands (detect, video, task run)
// distinguish between argument problems, missing inputs, and diagnosis
// failures so scripts can branch on the result.
const (
	exitOK         = 0
	exitUnexpected = 1
	exitBadArgs    = 2
	exitNotFound   = 3
	exitAllFailed  = 4
	exitPartial    = 5
)

// exitError carries a specific process exit code out of a RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitErr(code int, err error) error {
	return &exitError{code: code, err: err}
}

func exitCode(code int) error {
	return &exitError{code: code}
}

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "visus",
	Short:   "Image and video quality diagnosis service",
	Version: version.Short(),
	Long: `visus diagnoses image and video quality problems: blur, noise, block
artifacts, exposure faults, color casts, occlusion, freeze, shake, and
more.

It runs as a one-shot CLI over files, as a live RTSP/RTMP stream
monitor, or as an HTTP service with cron-scheduled batch tasks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(os.Stderr, "Error:", ee.err)
			}
			return ee.code
		}
		// Flag and argument validation errors surface here unwrapped.
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitBadArgs
	}
	return exitOK
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set PersistentPreRunE here to avoid initialization cycle
	// (initLogging references rootCmd.PersistentFlags)
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Global flags
	// Note: these flags are NOT bound to viper. Instead, we check if they
	// were explicitly set using Changed() and only then override the
	// config/env values. This preserves the correct priority:
	// CLI flag > env var > config > default
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./visus.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Set default configuration values before reading config file
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/visus")
		viper.AddConfigPath("$HOME/.visus")
		viper.SetConfigType("yaml")
		viper.SetConfigName("visus")
	}

	viper.SetEnvPrefix("VISUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the slog logger based on configuration.
// Uses the observability package so stream URLs with embedded
// credentials are redacted before they reach any handler.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (VISUS_LOGGING_LEVEL, VISUS_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	// Override with CLI flags only if explicitly set by the user. We
	// don't bind these flags to viper because viper's flag layer would
	// always override env/config, even at the flag's default value.
	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:          strings.ToLower(level),
		Format:         strings.ToLower(format),
		AddSource:      viper.GetBool("logging.add_source"),
		TimeFormat:     viper.GetString("logging.time_format"),
		RequestLogging: viper.GetBool("logging.request_logging"),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)
	observability.SetRequestLogging(logCfg.RequestLogging)

	return nil
}

// loadConfig builds the full validated configuration for a command.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
