package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadOptions defines options for loading configuration from environment variables.
type LoadOptions struct {
	Prefix string // Prefix to prepend to environment variable names (default: "AUTHKIT_")
}

// Load populates a struct from a .env file and environment variables using reflection.
//
// The function uses struct field tags to determine environment variable names:
//   - `env:"VAR_NAME"`: Maps the field to the specified environment variable
//   - `env:"VAR_NAME,default:value"`: Provides a default value if the env var is
//     not set and the field is still at its zero value
//   - `env:"VAR_NAME,alias:LEGACY_NAME"`: Falls back to a legacy variable name when
//     the primary one is unset
//
// Environment variable names are automatically prefixed with the value specified
// in LoadOptions.Prefix (defaults to "AUTHKIT_"). Alias names are looked up as-is,
// without the prefix, so legacy deployments keep working unchanged.
//
// Example:
//
//	type Config struct {
//	    ClientID string `env:"CLIENT_ID,alias:BOOKS_CLIENT_ID"`
//	    Timeout  time.Duration `env:"HTTP_TIMEOUT,default:15s"`
//	}
//
//	var cfg Config
//	err := config.Load(&cfg, config.LoadOptions{Prefix: "AUTHKIT_"})
func Load(cfg interface{}, opts ...LoadOptions) error {
	options := LoadOptions{Prefix: "AUTHKIT_"} // Default
	if len(opts) > 0 {
		options = opts[0]
	}
	// Silently try to load a .env file, ignore if not found
	_ = godotenv.Load()

	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		envTag := field.Tag.Get("env")
		if envTag == "" {
			continue
		}

		parts := strings.Split(envTag, ",")
		envName := parts[0]
		defaultValue := ""
		aliasName := ""

		for _, part := range parts[1:] {
			switch {
			case strings.HasPrefix(part, "default:"):
				defaultValue = strings.TrimPrefix(part, "default:")
			case strings.HasPrefix(part, "alias:"):
				aliasName = strings.TrimPrefix(part, "alias:")
			}
		}

		// Apply prefix to the primary environment variable name
		value := os.Getenv(options.Prefix + envName)
		if value == "" && aliasName != "" {
			value = os.Getenv(aliasName)
		}
		if value == "" {
			// Tag defaults only fill fields the caller left at their zero
			// value; a pre-populated field wins over a default.
			if !v.Field(i).IsZero() {
				continue
			}
			value = defaultValue
		}

		if value != "" {
			if err := setFieldValue(v.Field(i), value); err != nil {
				return err
			}
		}
	}

	return nil
}

// setFieldValue sets the value of a struct field using reflection and type conversion.
//
// Supported types:
//   - string: Direct assignment
//   - int, int64: Parsed using strconv.ParseInt with base 10
//   - bool: Parsed using strconv.ParseBool (supports "true", "false", "1", "0", etc.)
//   - time.Duration: Parsed using time.ParseDuration
//   - []string: Split on commas, entries trimmed
func setFieldValue(field reflect.Value, value string) error {
	// Check for time.Duration first
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			raw := strings.Split(value, ",")
			out := make([]string, 0, len(raw))
			for _, item := range raw {
				if trimmed := strings.TrimSpace(item); trimmed != "" {
					out = append(out, trimmed)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	default:
		// Skip unsupported field types silently
		return nil
	}
	return nil
}
