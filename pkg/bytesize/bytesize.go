// Package bytesize parses and formats byte sizes used for mirror log limits.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Common byte size units.
const (
	B  int64 = 1
	KB int64 = 1024
	MB int64 = 1024 * KB
	GB int64 = 1024 * MB
)

// sizePattern matches "100MB", "1.5 GB" and bare byte counts like "1024".
var sizePattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([a-zA-Z]*)\s*$`)

// Parse converts a size string into bytes. Units are B, KB, MB and GB
// (case-insensitive, K/M/G and Ki/Mi/Gi accepted). No unit means bytes.
func Parse(s string) (int64, error) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %q", m[1])
	}

	var mult int64
	switch strings.ToUpper(m[2]) {
	case "", "B":
		mult = B
	case "KB", "K", "KI":
		mult = KB
	case "MB", "M", "MI":
		mult = MB
	case "GB", "G", "GI":
		mult = GB
	default:
		return 0, fmt.Errorf("unknown unit: %q", m[2])
	}

	return int64(value * float64(mult)), nil
}

// Format renders a byte count with the largest unit that fits.
func Format(n int64) string {
	switch {
	case n >= GB:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(GB))
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(MB))
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/float64(KB))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// Size is a byte count that accepts either a plain number or a unit string,
// both in YAML documents and as a command-line flag value.
type Size int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var i int64
	if err := unmarshal(&i); err == nil {
		*s = Size(i)
		return nil
	}

	var str string
	if err := unmarshal(&str); err != nil {
		return fmt.Errorf("size must be a number or string with units (e.g., 64KB, 10MB)")
	}
	n, err := Parse(str)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", str, err)
	}
	*s = Size(n)
	return nil
}

// Set implements pflag.Value.
func (s *Size) Set(v string) error {
	n, err := Parse(v)
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

// Type implements pflag.Value.
func (s *Size) Type() string {
	return "size"
}

// Bytes returns the size in bytes.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String implements fmt.Stringer and pflag.Value.
func (s Size) String() string {
	return strconv.FormatInt(int64(s), 10)
}
