package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadDatabase reads only the database and upload settings. The CLI uses it
// so that server-only settings cannot stop a one-off import.
func LoadDatabase() (DatabaseConfig, UploadConfig, error) {
	var db DatabaseConfig
	var up UploadConfig
	if err := loadStruct(reflect.ValueOf(&db).Elem()); err != nil {
		return db, up, fmt.Errorf("config load: %w", err)
	}
	if err := loadStruct(reflect.ValueOf(&up).Elem()); err != nil {
		return db, up, fmt.Errorf("config load: %w", err)
	}

	var errs []string
	errs = validateDatabase(db, errs)
	errs = validateUpload(up, errs)
	if len(errs) > 0 {
		return db, up, fmt.Errorf("config validation: %w", joinErrors(errs))
	}
	return db, up, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value, field.Tag.Get("unit")); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type. Integer
// fields tagged unit:"bytes" accept human-readable sizes.
func setField(field reflect.Value, value, unit string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		switch {
		case field.Type() == reflect.TypeOf(time.Duration(0)):
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))

		case unit == "bytes":
			n, err := humanize.ParseBytes(value)
			if err != nil {
				return fmt.Errorf("invalid size: %w", err)
			}
			if n > uint64(1<<62) {
				return fmt.Errorf("invalid size: %s is too large", value)
			}
			field.SetInt(int64(n))

		default:
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		// Split comma-separated values, trim whitespace
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	errs = validateDatabase(c.Database, errs)
	errs = validateUpload(c.Upload, errs)

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < c.Upload.Timeout {
		errs = append(errs, fmt.Sprintf("SERVER_WRITE_TIMEOUT (%s) must not be shorter than UPLOAD_TIMEOUT (%s)",
			c.Server.WriteTimeout, c.Upload.Timeout))
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.UploadLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func validateDatabase(db DatabaseConfig, errs []string) []string {
	switch {
	case db.URL == "":
		errs = append(errs, "DATABASE_URL is required")
	case !strings.HasPrefix(db.URL, "postgres://") &&
		!strings.HasPrefix(db.URL, "postgresql://") &&
		!strings.HasPrefix(db.URL, "sqlite:"):
		errs = append(errs, "DATABASE_URL must start with postgres://, postgresql:// or sqlite:")
	}
	if db.MaxConns < db.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			db.MaxConns, db.MinConns))
	}
	if db.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if db.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	return errs
}

func validateUpload(up UploadConfig, errs []string) []string {
	if strings.TrimSpace(up.Dir) == "" {
		errs = append(errs, "UPLOAD_DIR must not be empty")
	}
	if up.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if up.MaxConcurrent <= 0 {
		errs = append(errs, "UPLOAD_MAX_CONCURRENT must be positive")
	}
	if up.MaxWaitTime <= 0 {
		errs = append(errs, "UPLOAD_MAX_WAIT_TIME must be positive")
	}
	if up.Timeout <= 0 {
		errs = append(errs, "UPLOAD_TIMEOUT must be positive")
	}
	if up.Retention <= 0 {
		errs = append(errs, "UPLOAD_RETENTION must be positive")
	}
	if up.SweepInterval <= 0 {
		errs = append(errs, "UPLOAD_SWEEP_INTERVAL must be positive")
	}
	return errs
}

func joinErrors(errs []string) error {
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
}

// String returns a safe string representation of the config for logging.
// The database URL is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], Schema: %q, MaxConns: %d}, ",
		c.Database.Schema, c.Database.MaxConns)
	fmt.Fprintf(&b, "Upload: {Dir: %q, MaxFileSize: %s, MaxConcurrent: %d}, ",
		c.Upload.Dir, humanize.Bytes(uint64(max(c.Upload.MaxFileSize, 0))), c.Upload.MaxConcurrent)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
