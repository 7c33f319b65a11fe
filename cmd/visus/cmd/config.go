package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/visus-project/visus/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing visus configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

With no config file or environment overrides this shows the defaults.
You can redirect the output to create a configuration template:

  visus config dump > visus.yaml

Configuration can be set via:
  - Config file (visus.yaml, /etc/visus/visus.yaml, ~/.visus/visus.yaml)
  - Environment variables (VISUS_SERVER_PORT, VISUS_STORAGE_DATA_DIR, ...)
  - Command-line flags (for some options)

Environment variables use the VISUS_ prefix and underscores for nesting.
Example: server.port -> VISUS_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map, formatting durations and
// byte sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(fieldType.Name)
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = config.Duration(v).String()
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return exitErr(exitUnexpected, fmt.Errorf("marshaling config: %w", err))
	}

	fmt.Println("# visus Configuration File")
	fmt.Println("# ========================")
	fmt.Println("#")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Size format: 64MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   VISUS_SERVER_HOST, VISUS_SERVER_PORT")
	fmt.Println("#   VISUS_STORAGE_DATA_DIR, VISUS_STORAGE_PROFILES_PATH")
	fmt.Println("#   VISUS_LOGGING_LEVEL, VISUS_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
