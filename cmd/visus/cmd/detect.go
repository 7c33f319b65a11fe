package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/visus-project/visus/internal/detect"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/profile"
	"github.com/visus-project/visus/internal/service"
)

var detectCmd = &cobra.Command{
	Use:   "detect <path|url>...",
	Short: "Diagnose images",
	Long: `Run the image detector pipeline on one or more images.

Each argument is a local file path or an http(s) URL. Results are
printed as a JSON array on stdout, one verdict per input.

Exit codes: 0 all normal or abnormal verdicts produced; 3 no input
could be found; 4 every input failed; 5 some inputs failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	addDiagnoseFlags(detectCmd.Flags())
}

// addDiagnoseFlags registers the detection option flags shared by the
// detect and video commands.
func addDiagnoseFlags(f *pflag.FlagSet) {
	f.String("profile", "", "threshold profile (strict, normal, loose, or custom)")
	f.String("level", "", "detection level (fast, standard, deep)")
	f.StringSlice("detectors", nil, "restrict the detector set to these names")
	f.StringSlice("threshold", nil, "threshold override as key=value (repeatable)")
}

// diagnoseOptionsFromFlags converts the shared detection flags into
// service options.
func diagnoseOptionsFromFlags(f *pflag.FlagSet) (service.DiagnoseOptions, error) {
	profileName, _ := f.GetString("profile")
	levelStr, _ := f.GetString("level")
	detectors, _ := f.GetStringSlice("detectors")
	overrides, _ := f.GetStringSlice("threshold")

	level, err := models.ParseLevel(levelStr)
	if err != nil {
		return service.DiagnoseOptions{}, err
	}

	opts := service.DiagnoseOptions{
		Profile:   profileName,
		Level:     level,
		Detectors: detectors,
	}

	for _, kv := range overrides {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return service.DiagnoseOptions{}, fmt.Errorf("invalid threshold override %q, want key=value", kv)
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return service.DiagnoseOptions{}, fmt.Errorf("invalid threshold value %q: %w", kv, err)
		}
		if opts.CustomThresholds == nil {
			opts.CustomThresholds = make(map[string]float64)
		}
		opts.CustomThresholds[key] = v
	}

	return opts, nil
}

// detectResult is the per-input line item printed by the detect command.
type detectResult struct {
	Input   string               `json:"input"`
	Verdict *models.ImageVerdict `json:"verdict,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func isRemote(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

func runDetect(cmd *cobra.Command, args []string) error {
	opts, err := diagnoseOptionsFromFlags(cmd.Flags())
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	profiles := profile.NewStore(slog.Default())
	if path := cfg.Storage.ProfilesFile(); path != "" {
		// Missing profiles file just means builtins.
		_ = profiles.LoadFile(path)
	}

	diagnosis := service.NewDiagnosisService(detect.Default(), profiles).
		WithResolver(service.NewInputResolver().
			WithMaxBytes(cfg.Detection.MaxInputBytes.Bytes()))

	results := make([]detectResult, 0, len(args))
	notFound, failed := 0, 0

	for _, input := range args {
		res := detectResult{Input: input}

		if !isRemote(input) {
			if _, err := os.Stat(input); err != nil {
				res.Error = fmt.Sprintf("input not found: %s", input)
				notFound++
				failed++
				results = append(results, res)
				continue
			}
		}

		req := service.ImageRequest{Options: opts}
		if isRemote(input) {
			req.Input = service.ImageInput{URL: input}
		} else {
			req.Input = service.ImageInput{Path: input}
		}

		verdict, err := diagnosis.DiagnoseImage(cmd.Context(), req)
		if err != nil {
			res.Error = err.Error()
			failed++
		} else {
			res.Verdict = verdict
		}
		results = append(results, res)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return exitErr(exitUnexpected, err)
	}

	switch {
	case notFound == len(args):
		return exitCode(exitNotFound)
	case failed == len(args):
		return exitCode(exitAllFailed)
	case failed > 0:
		return exitCode(exitPartial)
	}
	return nil
}
