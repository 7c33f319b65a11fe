package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size value that supports human-readable parsing.
// It extends standard integer sizes with support for units like KB, MB, GB.
//
// Examples:
//   - "5MB" = 5 * 1024 * 1024 bytes
//   - "1.5 GB" = 1.5 * 1024^3 bytes
//   - "500KB" = 500 * 1024 bytes
//   - "5242880" = 5242880 bytes (raw number still works)
//
// This type implements encoding.TextUnmarshaler for Viper/YAML support
// and json.Unmarshaler for JSON configuration files.
type ByteSize int64

// Size constants using binary (1024) base.
const (
	sizeB  ByteSize = 1
	sizeKB ByteSize = 1024
	sizeMB ByteSize = 1024 * sizeKB
	sizeGB ByteSize = 1024 * sizeMB
	sizeTB ByteSize = 1024 * sizeGB
)

var sizeUnits = map[string]ByteSize{
	"b": sizeB, "byte": sizeB, "bytes": sizeB,
	"k": sizeKB, "kb": sizeKB, "kib": sizeKB,
	"m": sizeMB, "mb": sizeMB, "mib": sizeMB,
	"g": sizeGB, "gb": sizeGB, "gib": sizeGB,
	"t": sizeTB, "tb": sizeTB, "tib": sizeTB,
}

// sizePattern matches a number (int or float) followed by an optional unit.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// ParseByteSize parses a human-readable byte size string.
// A bare number is taken as bytes; units are binary (1024-based) and
// case-insensitive.
func ParseByteSize(s string) (ByteSize, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", matches[1], err)
	}

	multiplier := sizeB
	if unit := strings.ToLower(matches[2]); unit != "" {
		var ok bool
		multiplier, ok = sizeUnits[unit]
		if !ok {
			return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
		}
	}

	return ByteSize(value * float64(multiplier)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Try as a number (bytes) for backwards compatibility
		var bytes int64
		if err := json.Unmarshal(data, &bytes); err != nil {
			return err
		}
		*b = ByteSize(bytes)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
// Outputs in the most human-readable format possible.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bytes returns the size in bytes as int64.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// Int64 returns the size as int64 (alias for Bytes).
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String returns a human-readable string representation using the largest
// unit that yields a value >= 1.
func (b ByteSize) String() string {
	if b == 0 {
		return "0B"
	}

	negative := b < 0
	if negative {
		b = -b
	}

	var result string
	switch {
	case b >= sizeTB:
		result = formatSizeFloat(float64(b)/float64(sizeTB), "TB")
	case b >= sizeGB:
		result = formatSizeFloat(float64(b)/float64(sizeGB), "GB")
	case b >= sizeMB:
		result = formatSizeFloat(float64(b)/float64(sizeMB), "MB")
	case b >= sizeKB:
		result = formatSizeFloat(float64(b)/float64(sizeKB), "KB")
	default:
		result = fmt.Sprintf("%dB", int64(b))
	}

	if negative {
		return "-" + result
	}
	return result
}

func formatSizeFloat(value float64, unit string) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%s", int64(value), unit)
	}
	formatted := strings.TrimRight(fmt.Sprintf("%.2f", value), "0")
	formatted = strings.TrimRight(formatted, ".")
	return formatted + unit
}
