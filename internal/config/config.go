package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/markcam/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every `env` tag when reading the environment.
const EnvPrefix = "MARKCAM_"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig fills opts with precedence CLI flags > environment > TOML file.
// opts must be a pointer to a struct; its `Config` field names the TOML file.
// If cmd is provided, flags explicitly set on the command line are left untouched.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changed := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changed[f.Name] = true
			}
		})
	}

	// each visits every field not set on the command line.
	each := func(fn func(field reflect.Value, sf reflect.StructField)) {
		for i := 0; i < v.NumField(); i++ {
			sf := t.Field(i)
			if changed[fieldNameToFlag(sf.Name)] {
				continue
			}
			fn(v.Field(i), sf)
		}
	}

	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String && f.String() != "" {
		data, err := os.ReadFile(f.String())
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("failed to read config file: %w", err)
		default:
			var doc map[string]any
			if err := toml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse TOML config: %w", err)
			}
			each(func(field reflect.Value, sf reflect.StructField) {
				if path := sf.Tag.Get("toml"); path != "" {
					if value := getNestedValue(doc, path); value != nil {
						setFieldValue(field, value)
					}
				}
			})
		}
	}

	each(func(field reflect.Value, sf reflect.StructField) {
		if key := sf.Tag.Get("env"); key != "" {
			if value, ok := os.LookupEnv(EnvPrefix + key); ok && value != "" {
				setFieldValueFromString(field, value)
			}
		}
	})

	return nil
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "Port" -> "port".
func fieldNameToFlag(fieldName string) string {
	var result []rune
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '-')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue retrieves a value from nested maps using dot notation.
func getNestedValue(data map[string]any, path string) any {
	current := data
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current[parts[len(parts)-1]]
}

// setFieldValue assigns a decoded TOML value to field. Durations accept
// strings like "90s"; numeric fields accept TOML integers and floats.
func setFieldValue(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}

	if field.Type() == durationType {
		switch d := value.(type) {
		case string:
			if parsed, err := time.ParseDuration(d); err == nil {
				field.SetInt(int64(parsed))
			}
		case int64:
			field.SetInt(d * int64(time.Millisecond))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		switch n := value.(type) {
		case int64:
			field.SetInt(n)
		case int:
			field.SetInt(int64(n))
		}
	case reflect.Float64:
		switch n := value.(type) {
		case float64:
			field.SetFloat(n)
		case int64:
			field.SetFloat(float64(n))
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		if arr, ok := value.([]any); ok {
			slice := make([]string, 0, len(arr))
			for _, item := range arr {
				if s, ok := item.(string); ok {
					slice = append(slice, s)
				}
			}
			field.Set(reflect.ValueOf(slice))
		}
	}
}

// setFieldValueFromString parses an environment value into field.
// Slices are comma separated.
func setFieldValueFromString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}

	if field.Type() == durationType {
		if d, err := time.ParseDuration(value); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			field.SetFloat(f)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
}

// LoadLoggingConfig reads the [logging] table of a TOML config file.
// level and format are global, any other key sets a per-module level.
// Returns defaults if the file is missing or unparsable.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
	if configPath == "" {
		return cfg
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var raw struct {
		Logging map[string]string `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg
	}

	for key, value := range raw.Logging {
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}
	return cfg
}
