package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pinboard/filetx/helpers"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// S3Config holds S3 configuration.
type S3Config struct {
	Endpoint      string `toml:"endpoint"`
	DisableTLS    bool   `toml:"disable_tls"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	PublicBaseURL string `toml:"public_base_url"` // CDN or bucket website URL used for public links (default: endpoint/bucket)
	Debug         bool   `toml:"debug"`           // Enable detailed S3 request/response tracing
}

// GetDebug returns the debug flag
func (s *S3Config) GetDebug() bool {
	return s.Debug
}

// FilesConfig holds defaults for the file service.
type FilesConfig struct {
	UploadExpiry    string `toml:"upload_expiry"`     // Lifetime of upload policies (default: "15m")
	MaxUploadSize   string `toml:"max_upload_size"`   // Upper bound of content-length-range (default: "10mb")
	SignedURLExpiry string `toml:"signed_url_expiry"` // Lifetime of signed read URLs (default: "1h")
	MaxConcurrency  int    `toml:"max_concurrency"`   // Store calls in flight per bulk operation (default: 4)
}

// GetUploadExpiry parses the upload policy lifetime
func (f *FilesConfig) GetUploadExpiry() (time.Duration, error) {
	if f.UploadExpiry == "" {
		return 15 * time.Minute, nil
	}
	return helpers.ParseDuration(f.UploadExpiry)
}

// GetMaxUploadSize parses the maximum upload size
func (f *FilesConfig) GetMaxUploadSize() (int64, error) {
	if f.MaxUploadSize == "" {
		return 10 * 1024 * 1024, nil
	}
	return helpers.ParseSize(f.MaxUploadSize)
}

// GetSignedURLExpiry parses the signed read URL lifetime
func (f *FilesConfig) GetSignedURLExpiry() (time.Duration, error) {
	if f.SignedURLExpiry == "" {
		return time.Hour, nil
	}
	return helpers.ParseDuration(f.SignedURLExpiry)
}

// GetMaxConcurrency returns the bulk dispatch width
func (f *FilesConfig) GetMaxConcurrency() int {
	if f.MaxConcurrency <= 0 {
		return 4
	}
	return f.MaxConcurrency
}

// RetryConfig holds retry settings for storage calls.
type RetryConfig struct {
	InitialInterval string `toml:"initial_interval"` // default: "200ms"
	MaxInterval     string `toml:"max_interval"`     // default: "5s"
	MaxRetries      int    `toml:"max_retries"`      // default: 3, 0 disables retries
}

// GetInitialInterval parses the first backoff delay
func (r *RetryConfig) GetInitialInterval() (time.Duration, error) {
	if r.InitialInterval == "" {
		return 200 * time.Millisecond, nil
	}
	return helpers.ParseDuration(r.InitialInterval)
}

// GetMaxInterval parses the backoff cap
func (r *RetryConfig) GetMaxInterval() (time.Duration, error) {
	if r.MaxInterval == "" {
		return 5 * time.Second, nil
	}
	return helpers.ParseDuration(r.MaxInterval)
}

// Config holds all configuration for filetx.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	S3      S3Config      `toml:"s3"`
	Files   FilesConfig   `toml:"files"`
	Retry   RetryConfig   `toml:"retry"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",  // Default to stderr
			Format: "console", // Default to console format
			Level:  "info",    // Default to info level
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Files: FilesConfig{
			UploadExpiry:    "15m",
			MaxUploadSize:   "10mb",
			SignedURLExpiry: "1h",
			MaxConcurrency:  4,
		},
		Retry: RetryConfig{
			InitialInterval: "200ms",
			MaxInterval:     "5s",
			MaxRetries:      3,
		},
	}
}

// Validate checks that the configuration can be used to build a file service.
func (c *Config) Validate() error {
	var errs []error

	if c.S3.Endpoint == "" {
		errs = append(errs, errors.New("s3.endpoint is required"))
	}
	if c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3.bucket is required"))
	}
	if _, err := c.Files.GetUploadExpiry(); err != nil {
		errs = append(errs, fmt.Errorf("files.upload_expiry: %w", err))
	}
	if _, err := c.Files.GetMaxUploadSize(); err != nil {
		errs = append(errs, fmt.Errorf("files.max_upload_size: %w", err))
	}
	if _, err := c.Files.GetSignedURLExpiry(); err != nil {
		errs = append(errs, fmt.Errorf("files.signed_url_expiry: %w", err))
	}
	if _, err := c.Retry.GetInitialInterval(); err != nil {
		errs = append(errs, fmt.Errorf("retry.initial_interval: %w", err))
	}
	if _, err := c.Retry.GetMaxInterval(); err != nil {
		errs = append(errs, fmt.Errorf("retry.max_interval: %w", err))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}

	return errors.Join(errs...)
}

// LoadConfigFromFile decodes the TOML file at configPath into cfg. Keys not
// present in the file keep the values already in cfg, so callers usually
// start from NewDefaultConfig.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return enhanceConfigError(err)
	}

	// Warn about unknown keys (might be typos or deprecated settings)
	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "has already been defined") {
		return fmt.Errorf("%w\n\nHINT: You have a duplicate configuration key in your TOML file", err)
	}

	if strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: In TOML, boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	if strings.Contains(errMsg, "expected") || strings.Contains(errMsg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Please check:\n"+
			"  - All strings are properly quoted\n"+
			"  - Section headers use [section] format\n"+
			"  - Durations and sizes are quoted strings (\"15m\", \"10mb\")", err)
	}

	return err
}

// trimStringFields trims whitespace from every string reachable from v.
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			trimStringFields(v.Field(i))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
