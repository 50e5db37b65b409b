// Package config loads service settings.
//
// Precedence, lowest first: built-in defaults, the YAML file named by the
// -config flag or CONFIG_FILE, a .env file in the working directory, and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Model      ModelConfig      `yaml:"model"`
	Moderation ModerationConfig `yaml:"moderation"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Mode            string        `yaml:"mode"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
}

type ModelConfig struct {
	Path         string `yaml:"path"`
	MetadataPath string `yaml:"metadata_path"`
	LibraryPath  string `yaml:"library_path"`
}

type ModerationConfig struct {
	// MaxImages caps images per request; 0 disables the cap.
	MaxImages      int   `yaml:"max_images"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// MaxPixels bounds the decoded size of a single image.
	MaxPixels      int64 `yaml:"max_pixels"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Mode:            "debug",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSAllowOrigin: "*",
		},
		Model: ModelConfig{
			Path:         "models/model.onnx",
			MetadataPath: "models/model_metadata.json",
		},
		Moderation: ModerationConfig{
			MaxImages:      32,
			MaxUploadBytes: 32 << 20,
			MaxPixels:      89_478_485,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration. An empty path falls back to CONFIG_FILE.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	parse := func(key string, set func(string) error) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str("PORT", &c.Server.Port)
	str("GIN_MODE", &c.Server.Mode)
	str("CORS_ALLOW_ORIGIN", &c.Server.CORSAllowOrigin)
	parse("READ_TIMEOUT", durationSetter(&c.Server.ReadTimeout))
	parse("WRITE_TIMEOUT", durationSetter(&c.Server.WriteTimeout))
	parse("SHUTDOWN_TIMEOUT", durationSetter(&c.Server.ShutdownTimeout))

	str("MODEL_PATH", &c.Model.Path)
	str("MODEL_METADATA_PATH", &c.Model.MetadataPath)
	str("ONNXRUNTIME_LIB", &c.Model.LibraryPath)

	parse("MAX_IMAGES", func(v string) error {
		n, err := strconv.Atoi(v)
		c.Moderation.MaxImages = n
		return err
	})
	parse("MAX_UPLOAD_BYTES", func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		c.Moderation.MaxUploadBytes = n
		return err
	})
	parse("MAX_PIXELS", func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		c.Moderation.MaxPixels = n
		return err
	})

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	parse("METRICS_ENABLED", func(v string) error {
		b, err := strconv.ParseBool(v)
		c.Metrics.Enabled = b
		return err
	})
	str("METRICS_PATH", &c.Metrics.Path)

	return errors.Join(errs...)
}

func durationSetter(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := strconv.ParseUint(c.Server.Port, 10, 16); err != nil {
		errs = append(errs, fmt.Errorf("server.port %q is not a valid port", c.Server.Port))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Model.Path == "" || c.Model.MetadataPath == "" {
		errs = append(errs, errors.New("model.path and model.metadata_path are required"))
	}
	if c.Moderation.MaxImages < 0 {
		errs = append(errs, errors.New("moderation.max_images must not be negative"))
	}
	if c.Moderation.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("moderation.max_upload_bytes must be positive"))
	}
	if c.Moderation.MaxPixels <= 0 {
		errs = append(errs, errors.New("moderation.max_pixels must be positive"))
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string { return ":" + c.Server.Port }
